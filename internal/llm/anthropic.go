package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
	}
}

func (c *AnthropicClient) buildParams(req *Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := anthropic.MessageParamRole(msg.Role)
		if msg.Role == "tool" {
			// Anthropic carries tool results as user-role content blocks.
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.F(anthropic.MessageParamRoleUser),
				Content: anthropic.F([]anthropic.ContentBlockParamUnion{
					anthropic.ToolResultBlockParam{
						Type:      anthropic.F(anthropic.ToolResultBlockParamTypeToolResult),
						ToolUseID: anthropic.F(msg.ToolCallID),
						Content: anthropic.F([]anthropic.ToolResultBlockParamContentUnion{
							anthropic.TextBlockParam{
								Type: anthropic.F(anthropic.TextBlockParamTypeText),
								Text: anthropic.F(msg.Content),
							},
						}),
					},
				}),
			})
			continue
		}

		blocks := []anthropic.ContentBlockParamUnion{}
		if msg.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(msg.Content),
			})
		}
		for _, tc := range msg.ToolCalls {
			var input any
			_ = json.Unmarshal(tc.Arguments, &input)
			blocks = append(blocks, anthropic.ToolUseBlockParam{
				Type:  anthropic.F(anthropic.ToolUseBlockParamTypeToolUse),
				ID:    anthropic.F(tc.ID),
				Name:  anthropic.F(tc.Name),
				Input: anthropic.F(input),
			})
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.F(role),
			Content: anthropic.F(blocks),
		})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(messages),
	}

	if req.System != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{
			{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(req.System),
			},
		})
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolParam, len(req.Tools))
		for i, tool := range req.Tools {
			var schema any
			_ = json.Unmarshal(tool.Parameters, &schema)
			tools[i] = anthropic.ToolParam{
				Name:        anthropic.F(tool.Name),
				Description: anthropic.F(tool.Description),
				InputSchema: anthropic.F(schema),
			}
		}
		params.Tools = anthropic.F(tools)
	}

	return params
}

// Complete sends a non-streaming completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}

	return &Response{
		Content:      content,
		FinishReason: string(resp.StopReason),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// Stream sends a streaming completion request.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request, callback StreamCallback) (*StreamResult, error) {
	start := time.Now()

	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(req))

	result := &StreamResult{Model: req.Model}
	var current *toolCallAccumulator

	flushToolCall := func() error {
		if current == nil {
			return nil
		}
		args := current.args
		if len(args) == 0 {
			args = []byte("{}")
		}
		call := ToolCall{ID: current.id, Name: current.name, Arguments: json.RawMessage(args)}
		result.ToolCalls = append(result.ToolCalls, call)
		current = nil
		return callback(StreamEvent{Type: StreamEventToolCall, ToolCall: &call})
	}

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case anthropic.MessageStreamEventTypeMessageStart:
			result.Usage.InputTokens = int(event.Message.Usage.InputTokens)

		case anthropic.MessageStreamEventTypeContentBlockStart:
			if event.ContentBlock.Type == anthropic.ContentBlockTypeToolUse {
				current = &toolCallAccumulator{
					id:   event.ContentBlock.ID,
					name: event.ContentBlock.Name,
				}
			}

		case anthropic.MessageStreamEventTypeContentBlockDelta:
			switch event.Delta.Type {
			case "text_delta":
				result.Content += event.Delta.Text
				if err := callback(StreamEvent{
					Type:      StreamEventTextDelta,
					TextDelta: event.Delta.Text,
				}); err != nil {
					return nil, err
				}
			case "input_json_delta":
				if current != nil {
					current.args = append(current.args, event.Delta.PartialJSON...)
				}
			}

		case anthropic.MessageStreamEventTypeContentBlockStop:
			if err := flushToolCall(); err != nil {
				return nil, err
			}

		case anthropic.MessageStreamEventTypeMessageDelta:
			result.FinishReason = string(event.Delta.StopReason)
			result.Usage.OutputTokens = int(event.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	if result.FinishReason == string(anthropic.MessageStopReasonToolUse) {
		result.FinishReason = FinishReasonToolCalls
	}
	result.Usage.TotalTokens = result.Usage.InputTokens + result.Usage.OutputTokens
	result.LatencyMs = time.Since(start).Milliseconds()

	return result, nil
}
