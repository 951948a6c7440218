package turn

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/parallax-ai/chat-platform/internal/apperr"
	"github.com/parallax-ai/chat-platform/internal/model"
)

const maxTextPartLength = 100000 // ~100KB

// ValidateTurnRequest type-checks a turn request body. Failures map to the
// bad_request error code; no further processing happens after a failure.
func ValidateTurnRequest(req *model.TurnRequest) error {
	err := validation.ValidateStruct(req,
		validation.Field(&req.ChatID, validation.Required, is.UUID),
		validation.Field(&req.SelectedChatModel, validation.Required),
		validation.Field(&req.SelectedVisibilityType,
			validation.Required,
			validation.In(model.VisibilityPrivate, model.VisibilityPublic)),
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeBadRequest, "invalid request body", err)
	}

	msg := &req.Message
	err = validation.ValidateStruct(msg,
		validation.Field(&msg.ID, validation.Required, is.UUID),
		validation.Field(&msg.Role, validation.Required, validation.In(model.RoleUser)),
		validation.Field(&msg.Parts, validation.Required, validation.Length(1, 0)),
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeBadRequest, "invalid message", err)
	}

	for _, part := range msg.Parts {
		switch part.Type {
		case model.PartTypeText:
			if part.Text == "" {
				return apperr.New(apperr.CodeBadRequest, "text part cannot be empty")
			}
			if len(part.Text) > maxTextPartLength {
				return apperr.New(apperr.CodeBadRequest, "text part exceeds maximum length")
			}
		case model.PartTypeAttachment:
			if part.URL == "" {
				return apperr.New(apperr.CodeBadRequest, "attachment part requires a URL")
			}
		default:
			return apperr.New(apperr.CodeBadRequest, "unsupported message part type")
		}
	}

	return nil
}
