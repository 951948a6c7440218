// Package model defines data structures for the chat platform.
package model

import (
	"time"
)

// Visibility controls who can read a chat.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is a recognized visibility value.
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

// Chat represents a conversation thread owned by a user.
type Chat struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Title       string      `json:"title"`
	Visibility  Visibility  `json:"visibility"`
	LastContext *AppUsage   `json:"last_context,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// StreamHandle correlates a chat to an in-flight or resumable turn output.
// One is created per turn before model invocation; a new turn on the same
// chat supersedes the previous handle.
type StreamHandle struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ListChatsResponse is the response for listing chats.
type ListChatsResponse struct {
	Chats   []Chat `json:"chats"`
	HasMore bool   `json:"has_more"`
}
