package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is the OpenAI LLM client.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	return &OpenAIClient{
		client: openai.NewClient(apiKey),
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Models returns available models.
func (c *OpenAIClient) Models() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	}
}

func (c *OpenAIClient) buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = "gpt-4o"
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		messages = append(messages, m)
	}

	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	for _, tool := range req.Tools {
		var params any
		if len(tool.Parameters) > 0 {
			_ = json.Unmarshal(tool.Parameters, &params)
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	return out
}

// Complete sends a non-streaming completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in completion response")
	}

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// toolCallAccumulator assembles a tool call from streamed argument deltas.
type toolCallAccumulator struct {
	id   string
	name string
	args []byte
}

// Stream sends a streaming completion request.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request, callback StreamCallback) (*StreamResult, error) {
	start := time.Now()

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	result := &StreamResult{Model: req.Model}
	pending := make(map[int]*toolCallAccumulator)
	var pendingOrder []int

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		// The usage-bearing final chunk has no choices.
		if resp.Usage != nil {
			result.Usage = Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			result.Content += choice.Delta.Content
			if err := callback(StreamEvent{
				Type:      StreamEventTextDelta,
				TextDelta: choice.Delta.Content,
			}); err != nil {
				return nil, err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := pending[idx]
			if !ok {
				acc = &toolCallAccumulator{}
				pending[idx] = acc
				pendingOrder = append(pendingOrder, idx)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args = append(acc.args, tc.Function.Arguments...)
		}

		if choice.FinishReason != "" {
			result.FinishReason = string(choice.FinishReason)
		}
	}

	// Tool calls are complete only once the stream ends; emit them in the
	// order the model started them.
	for _, idx := range pendingOrder {
		acc := pending[idx]
		call := ToolCall{ID: acc.id, Name: acc.name, Arguments: json.RawMessage(acc.args)}
		result.ToolCalls = append(result.ToolCalls, call)
		if err := callback(StreamEvent{Type: StreamEventToolCall, ToolCall: &call}); err != nil {
			return nil, err
		}
	}

	if result.FinishReason == string(openai.FinishReasonToolCalls) {
		result.FinishReason = FinishReasonToolCalls
	}
	result.LatencyMs = time.Since(start).Milliseconds()

	return result, nil
}
