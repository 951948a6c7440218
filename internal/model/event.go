package model

import (
	"encoding/json"
)

// EventType discriminates stream event records.
type EventType string

const (
	EventTypeStart      EventType = "start"
	EventTypeTextDelta  EventType = "text-delta"
	EventTypeToolCall   EventType = "tool-call"
	EventTypeToolResult EventType = "tool-result"
	EventTypeData       EventType = "data"
	EventTypeUsage      EventType = "data-usage"
	EventTypeError      EventType = "error"
	EventTypeFinish     EventType = "finish"
)

// StreamEvent is one record of a turn's output stream. Events are assigned
// a per-turn monotonically increasing sequence number so a re-attaching
// client can request the suffix after the last sequence it observed.
type StreamEvent struct {
	Seq  int64     `json:"seq"`
	Type EventType `json:"type"`

	// start
	ChatID    string `json:"chat_id,omitempty"`
	StreamID  string `json:"stream_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	// text-delta
	Delta string `json:"delta,omitempty"`

	// tool-call / tool-result
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`

	// data / data-usage / error
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Terminal reports whether the event ends the turn's stream.
func (e *StreamEvent) Terminal() bool {
	return e.Type == EventTypeFinish || e.Type == EventTypeError
}
