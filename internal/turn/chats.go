package turn

import (
	"context"
	"errors"

	"github.com/parallax-ai/chat-platform/internal/apperr"
	"github.com/parallax-ai/chat-platform/internal/model"
	"github.com/parallax-ai/chat-platform/internal/store"
	"github.com/parallax-ai/chat-platform/internal/stream"
	"github.com/parallax-ai/chat-platform/pkg/metrics"
)

// DeleteChat removes a chat and everything under it. Only the owner may
// delete; the removed record is returned for the response body.
func (s *Service) DeleteChat(ctx context.Context, caller Caller, chatID string) (*model.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "chat not found")
		}
		return nil, apperr.Wrap(apperr.CodeOffline, "failed to load chat", err)
	}
	if chat.UserID != caller.UserID {
		return nil, apperr.New(apperr.CodeForbidden, "chat belongs to another user")
	}
	deleted, err := s.store.DeleteChat(ctx, chatID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeOffline, "failed to delete chat", err)
	}
	return deleted, nil
}

// ListChats returns the caller's chats, newest first.
func (s *Service) ListChats(ctx context.Context, caller Caller, limit int) ([]model.Chat, error) {
	chats, err := s.store.ListChatsByUser(ctx, caller.UserID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeOffline, "failed to list chats", err)
	}
	return chats, nil
}

// ChatMessages returns a chat's message history. Private chats are
// readable only by their owner; public chats by any authenticated user.
func (s *Service) ChatMessages(ctx context.Context, caller Caller, chatID string) ([]model.Message, error) {
	chat, err := s.readableChat(ctx, caller, chatID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.GetMessages(ctx, chat.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeOffline, "failed to load messages", err)
	}
	return messages, nil
}

// Resume replays a turn's recorded event stream to sink, skipping events
// at or below afterSeq, and follows the live tail until the terminal
// event. Without a configured stream log there is nothing to replay.
func (s *Service) Resume(ctx context.Context, caller Caller, chatID, streamID string, afterSeq int64, sink stream.Sink) error {
	if s.streamLog == nil {
		return apperr.New(apperr.CodeNotFound, "stream resumption is not available")
	}

	handle, err := s.store.GetStreamHandle(ctx, streamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.CodeNotFound, "stream not found")
		}
		return apperr.Wrap(apperr.CodeOffline, "failed to load stream handle", err)
	}
	if handle.ChatID != chatID {
		return apperr.New(apperr.CodeNotFound, "stream not found")
	}
	if _, err := s.readableChat(ctx, caller, chatID); err != nil {
		return err
	}

	metrics.StreamResumesTotal.Inc()
	if err := s.streamLog.Replay(ctx, streamID, afterSeq, sink); err != nil {
		return apperr.Wrap(apperr.CodeOffline, "failed to replay stream", err)
	}
	return nil
}

func (s *Service) readableChat(ctx context.Context, caller Caller, chatID string) (*model.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "chat not found")
		}
		return nil, apperr.Wrap(apperr.CodeOffline, "failed to load chat", err)
	}
	if chat.Visibility != model.VisibilityPublic && chat.UserID != caller.UserID {
		return nil, apperr.New(apperr.CodeForbidden, "chat belongs to another user")
	}
	return chat, nil
}
