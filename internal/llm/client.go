// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"encoding/json"
)

// ToolDefinition declares a tool the model may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema for the tool input
}

// ToolCall is a tool invocation emitted by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ChatMessage represents a chat message in provider-neutral form.
type ChatMessage struct {
	Role       string     `json:"role"` // user | assistant | tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool result messages only
}

// Usage holds raw token counts reported by the backend.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	TotalTokens       int
	ReasoningTokens   int
	CachedInputTokens int
}

// Request is a generation request for one model step.
type Request struct {
	Model       string
	System      string
	Messages    []ChatMessage
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float32
}

// Response is a non-streaming completion result.
type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// StreamEventType discriminates streaming events.
type StreamEventType string

const (
	StreamEventTextDelta StreamEventType = "text_delta"
	StreamEventToolCall  StreamEventType = "tool_call"
)

// StreamEvent is one incremental output from a streaming generation.
type StreamEvent struct {
	Type      StreamEventType
	TextDelta string
	ToolCall  *ToolCall
}

// StreamCallback receives incremental output. Returning an error aborts
// the stream.
type StreamCallback func(StreamEvent) error

// StreamResult is the aggregate outcome of one streamed generation step.
type StreamResult struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // "stop", "tool_calls", "length", ...
	Usage        Usage
	Model        string
	LatencyMs    int64
}

// FinishReasonToolCalls is the normalized finish reason when the model
// stopped to invoke tools.
const FinishReasonToolCalls = "tool_calls"

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a non-streaming completion request.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a streaming completion request, invoking the callback
	// for each incremental event, and returns the aggregate result.
	Stream(ctx context.Context, req *Request, callback StreamCallback) (*StreamResult, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	default:
		return NewOpenAIClient(apiKey)
	}
}
