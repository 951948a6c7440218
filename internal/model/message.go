package model

import (
	"encoding/json"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates message part variants.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeToolCall   PartType = "tool-call"
	PartTypeToolResult PartType = "tool-result"
	PartTypeAttachment PartType = "attachment"
)

// MessagePart is one element of a message's ordered content sequence.
// Exactly the fields for its Type are populated.
type MessagePart struct {
	Type PartType `json:"type"`

	// Text part
	Text string `json:"text,omitempty"`

	// Tool call / tool result parts
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`

	// Attachment part
	URL       string `json:"url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) MessagePart {
	return MessagePart{Type: PartTypeText, Text: text}
}

// Message represents a persisted chat message. Messages are immutable once
// written; order within a chat is creation order.
type Message struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chat_id"`
	Role      Role          `json:"role"`
	Parts     []MessagePart `json:"parts"`
	CreatedAt time.Time     `json:"created_at"`
}

// PlainText concatenates the message's text parts.
func (m *Message) PlainText() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			out += p.Text
		}
	}
	return out
}

// IncomingMessage is the client-supplied message in a turn request.
type IncomingMessage struct {
	ID    string        `json:"id"`
	Role  Role          `json:"role"`
	Parts []MessagePart `json:"parts"`
}

// TurnRequest is the body of POST /api/v1/chat.
type TurnRequest struct {
	ChatID                 string          `json:"chatId"`
	Message                IncomingMessage `json:"message"`
	SelectedChatModel      string          `json:"selectedChatModel"`
	SelectedVisibilityType Visibility      `json:"selectedVisibilityType"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}
