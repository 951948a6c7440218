package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/parallax-ai/chat-platform/internal/apperr"
	"github.com/parallax-ai/chat-platform/internal/middleware"
	"github.com/parallax-ai/chat-platform/internal/model"
	"github.com/parallax-ai/chat-platform/internal/stream"
	"github.com/parallax-ai/chat-platform/internal/turn"
	"github.com/parallax-ai/chat-platform/pkg/logger"
	"github.com/parallax-ai/chat-platform/pkg/metrics"
)

const (
	defaultChatListLimit = 20
	maxChatListLimit     = 100
)

// ChatHandler serves the chat API.
type ChatHandler struct {
	service *turn.Service
	logger  *logger.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(service *turn.Service, log *logger.Logger) *ChatHandler {
	return &ChatHandler{service: service, logger: log}
}

// Turn handles POST /api/v1/chat: it runs one chat turn and streams the
// result as server-sent events. Failures before streaming begins produce
// a structured JSON error instead of an event stream.
func (h *ChatHandler) Turn(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}

	var req model.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperr.Wrap(apperr.CodeBadRequest, "invalid request body", err))
		return
	}
	if err := turn.ValidateTurnRequest(&req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	// The SSE writer is created on the first event so the response stays
	// uncommitted while the turn can still fail with a structured error.
	var sse *stream.SSEWriter
	sink := func(event *model.StreamEvent) error {
		if sse == nil {
			var err error
			sse, err = stream.NewSSEWriter(w)
			if err != nil {
				return err
			}
			metrics.IncrementSSEConnections()
		}
		return sse.Send(event)
	}
	defer func() {
		if sse != nil {
			metrics.DecrementSSEConnections()
		}
	}()

	hints := turn.HintsFromRequest(r)
	if err := h.service.Run(r.Context(), caller, &req, hints, sink); err != nil {
		writeError(w, h.logger, err)
	}
}

// Delete handles DELETE /api/v1/chat/{chatID}.
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	chatID := chi.URLParam(r, "chatID")
	if err := is.UUID.Validate(chatID); err != nil {
		writeError(w, h.logger, apperr.New(apperr.CodeBadRequest, "invalid chat id"))
		return
	}

	deleted, err := h.service.DeleteChat(r.Context(), caller, chatID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

// List handles GET /api/v1/chats.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}

	limit := defaultChatListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.logger, apperr.New(apperr.CodeBadRequest, "invalid limit"))
			return
		}
		limit = min(n, maxChatListLimit)
	}

	// Fetch one extra row to detect a further page.
	chats, err := h.service.ListChats(r.Context(), caller, limit+1)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	hasMore := len(chats) > limit
	if hasMore {
		chats = chats[:limit]
	}
	writeJSON(w, http.StatusOK, model.ListChatsResponse{Chats: chats, HasMore: hasMore})
}

// Messages handles GET /api/v1/chat/{chatID}/messages.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	chatID := chi.URLParam(r, "chatID")
	if err := is.UUID.Validate(chatID); err != nil {
		writeError(w, h.logger, apperr.New(apperr.CodeBadRequest, "invalid chat id"))
		return
	}

	messages, err := h.service.ChatMessages(r.Context(), caller, chatID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListMessagesResponse{Messages: messages})
}

func callerFrom(w http.ResponseWriter, r *http.Request, log *logger.Logger) (turn.Caller, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, log, apperr.New(apperr.CodeUnauthorized, "authentication required"))
		return turn.Caller{}, false
	}
	return turn.Caller{UserID: userID, UserType: middleware.GetUserType(r.Context())}, true
}
