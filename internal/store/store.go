// Package store provides persistence for chats, messages, stream handles,
// and documents.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/parallax-ai/chat-platform/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ChatStore is the persistence contract used by the turn pipeline.
// Message writes are append-only and idempotent per message id; chat
// metadata updates are last-write-wins.
type ChatStore interface {
	// Chats
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	SaveChat(ctx context.Context, chat *model.Chat) error
	DeleteChat(ctx context.Context, id string) (*model.Chat, error)
	ListChatsByUser(ctx context.Context, userID string, limit int) ([]model.Chat, error)
	UpdateChatLastContext(ctx context.Context, chatID string, usage *model.AppUsage) error

	// Messages
	GetMessages(ctx context.Context, chatID string) ([]model.Message, error)
	AppendMessages(ctx context.Context, messages []model.Message) error
	CountMessagesByUserSince(ctx context.Context, userID string, since time.Time) (int, error)

	// Stream handles
	CreateStreamHandle(ctx context.Context, handle *model.StreamHandle) error
	GetStreamHandle(ctx context.Context, id string) (*model.StreamHandle, error)

	// Documents (artifacts produced by the model's tools)
	SaveDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
}
