package turn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-ai/chat-platform/internal/apperr"
	"github.com/parallax-ai/chat-platform/internal/llm"
	"github.com/parallax-ai/chat-platform/internal/model"
	"github.com/parallax-ai/chat-platform/internal/store"
	"github.com/parallax-ai/chat-platform/internal/tools"
	"github.com/parallax-ai/chat-platform/internal/usage"
	"github.com/parallax-ai/chat-platform/pkg/logger"
)

// scriptedStep is one Stream call's behavior: deltas are delivered to the
// callback, then err or result is returned.
type scriptedStep struct {
	deltas []string
	result llm.StreamResult
	err    error
}

type scriptedClient struct {
	steps        []scriptedStep
	completeResp string
	completeErr  error

	calls    int
	requests []llm.Request
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if c.completeErr != nil {
		return nil, c.completeErr
	}
	return &llm.Response{Content: c.completeResp, FinishReason: "stop"}, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req *llm.Request, cb llm.StreamCallback) (*llm.StreamResult, error) {
	c.requests = append(c.requests, *req)
	if c.calls >= len(c.steps) {
		return nil, errors.New("unexpected stream call")
	}
	step := c.steps[c.calls]
	c.calls++

	for _, d := range step.deltas {
		if err := cb(llm.StreamEvent{Type: llm.StreamEventTextDelta, TextDelta: d}); err != nil {
			return nil, err
		}
	}
	if step.err != nil {
		return nil, step.err
	}
	result := step.result
	return &result, nil
}

func (c *scriptedClient) Name() string     { return "scripted" }
func (c *scriptedClient) Models() []string { return []string{"gpt-4o"} }

// echoTool returns its input, or fails when told to.
type echoTool struct {
	fail bool
}

func (e *echoTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "echo",
		Description: "Echoes the input.",
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}
}

func (e *echoTool) Execute(ctx context.Context, inv tools.Invocation) (any, error) {
	if e.fail {
		return nil, errors.New("echo exploded")
	}
	return map[string]string{"echoed": string(inv.Input)}, nil
}

// memoryStreamLog records published events per stream, in order.
type memoryStreamLog struct {
	events map[string][]model.StreamEvent
}

func newMemoryStreamLog() *memoryStreamLog {
	return &memoryStreamLog{events: make(map[string][]model.StreamEvent)}
}

func (l *memoryStreamLog) PublishEvent(ctx context.Context, streamID string, event *model.StreamEvent) error {
	l.events[streamID] = append(l.events[streamID], *event)
	return nil
}

func (l *memoryStreamLog) Replay(ctx context.Context, streamID string, afterSeq int64, handler func(*model.StreamEvent) error) error {
	for i := range l.events[streamID] {
		ev := l.events[streamID][i]
		if ev.Seq <= afterSeq {
			continue
		}
		if err := handler(&ev); err != nil {
			return err
		}
		if ev.Terminal() {
			return nil
		}
	}
	return nil
}

func newTestService(client llm.Client, st store.ChatStore, streamLog StreamLog, toolset ...tools.Tool) *Service {
	return NewService(
		st,
		client,
		tools.NewRegistry(toolset...),
		streamLog,
		usage.NewReconciler(nil),
		Config{
			DefaultModel: "gpt-4o",
			Timeout:      5 * time.Second,
			Entitlements: Entitlements{"guest": 3, "regular": 100},
		},
		logger.NewNop(),
	)
}

func newTurnRequest(text string) *model.TurnRequest {
	return &model.TurnRequest{
		ChatID: uuid.NewString(),
		Message: model.IncomingMessage{
			ID:    uuid.NewString(),
			Role:  model.RoleUser,
			Parts: []model.MessagePart{model.TextPart(text)},
		},
		SelectedChatModel:      "gpt-4o",
		SelectedVisibilityType: model.VisibilityPrivate,
	}
}

func collectSink(events *[]model.StreamEvent) func(*model.StreamEvent) error {
	return func(ev *model.StreamEvent) error {
		*events = append(*events, *ev)
		return nil
	}
}

func eventTypes(events []model.StreamEvent) []model.EventType {
	out := make([]model.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestRunStreamsAndPersists(t *testing.T) {
	client := &scriptedClient{
		completeResp: "Weather chat",
		steps: []scriptedStep{{
			deltas: []string{"Hel", "lo!"},
			result: llm.StreamResult{
				Content:      "Hello!",
				FinishReason: "stop",
				Usage:        llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			},
		}},
	}
	st := store.NewMemoryStore()
	svc := newTestService(client, st, nil)

	var events []model.StreamEvent
	caller := Caller{UserID: "user-1", UserType: "regular"}
	req := newTurnRequest("Hello there")

	err := svc.Run(context.Background(), caller, req, Hints{}, collectSink(&events))
	require.NoError(t, err)

	require.Equal(t, []model.EventType{
		model.EventTypeStart,
		model.EventTypeTextDelta,
		model.EventTypeTextDelta,
		model.EventTypeUsage,
		model.EventTypeFinish,
	}, eventTypes(events))

	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq, "sequence numbers are dense from 1")
	}
	assert.Equal(t, "Hel", events[1].Delta)
	assert.Equal(t, "lo!", events[2].Delta)

	chat, err := st.GetChat(context.Background(), req.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", chat.UserID)
	assert.Equal(t, "Weather chat", chat.Title)
	require.NotNil(t, chat.LastContext)
	assert.Equal(t, 10, chat.LastContext.InputTokens)
	assert.Equal(t, 5, chat.LastContext.OutputTokens)

	messages, err := st.GetMessages(context.Background(), req.ChatID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hello!", messages[1].PlainText())
	assert.Equal(t, events[0].MessageID, messages[1].ID)
}

func TestRunTitleFallsBackToMessageText(t *testing.T) {
	client := &scriptedClient{
		completeErr: errors.New("backend busy"),
		steps: []scriptedStep{{
			result: llm.StreamResult{Content: "ok", FinishReason: "stop"},
		}},
	}
	st := store.NewMemoryStore()
	svc := newTestService(client, st, nil)

	req := newTurnRequest("What is the capital of France?")
	err := svc.Run(context.Background(), Caller{UserID: "u", UserType: "regular"}, req, Hints{}, nil)
	require.NoError(t, err)

	chat, err := st.GetChat(context.Background(), req.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "What is the capital of France?", chat.Title)
}

func TestRunMidStreamFailureEmitsTerminalError(t *testing.T) {
	client := &scriptedClient{
		completeResp: "title",
		steps: []scriptedStep{{
			deltas: []string{"partial "},
			err:    errors.New("connection reset"),
		}},
	}
	st := store.NewMemoryStore()
	svc := newTestService(client, st, nil)

	var events []model.StreamEvent
	req := newTurnRequest("hi")
	err := svc.Run(context.Background(), Caller{UserID: "u", UserType: "regular"}, req, Hints{}, collectSink(&events))
	require.NoError(t, err, "failures after streaming begins are reported in-stream")

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.EventTypeError, last.Type)
	assert.Equal(t, genericStreamError, last.Message)

	// The partial assistant output is discarded: only the user message is kept.
	messages, err := st.GetMessages(context.Background(), req.ChatID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleUser, messages[0].Role)
}

func TestRunRejectsUnknownModel(t *testing.T) {
	client := &scriptedClient{completeResp: "title"}
	st := store.NewMemoryStore()
	svc := newTestService(client, st, nil)

	var events []model.StreamEvent
	req := newTurnRequest("hi")
	req.SelectedChatModel = "gpt-99-imaginary"

	err := svc.Run(context.Background(), Caller{UserID: "u", UserType: "regular"}, req, Hints{}, collectSink(&events))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeBadRequest, apperr.From(err).Code)
	assert.Zero(t, client.calls, "no backend call is made for an unrecognized model")
	assert.Empty(t, events, "no stream is started")

	messages, err := st.GetMessages(context.Background(), req.ChatID)
	require.NoError(t, err)
	assert.Empty(t, messages, "nothing is persisted")
}

func TestRunEmptyCompletionPersistsNoAssistantMessage(t *testing.T) {
	client := &scriptedClient{
		completeResp: "title",
		steps: []scriptedStep{{
			result: llm.StreamResult{FinishReason: "stop"},
		}},
	}
	st := store.NewMemoryStore()
	svc := newTestService(client, st, nil)

	var events []model.StreamEvent
	req := newTurnRequest("hi")
	err := svc.Run(context.Background(), Caller{UserID: "u", UserType: "regular"}, req, Hints{}, collectSink(&events))
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, model.EventTypeFinish, events[len(events)-1].Type)

	// Only the user message survives: no empty assistant row.
	messages, err := st.GetMessages(context.Background(), req.ChatID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleUser, messages[0].Role)
}

func TestRunBackendDownBeforeOutput(t *testing.T) {
	client := &scriptedClient{
		completeResp: "title",
		steps:        []scriptedStep{{err: errors.New("dial tcp: refused")}},
	}
	st := store.NewMemoryStore()
	svc := newTestService(client, st, nil)

	var events []model.StreamEvent
	req := newTurnRequest("hi")
	err := svc.Run(context.Background(), Caller{UserID: "u", UserType: "regular"}, req, Hints{}, collectSink(&events))

	require.Error(t, err)
	assert.Equal(t, apperr.CodeOffline, apperr.From(err).Code)
	assert.Empty(t, events, "no stream is started for a setup-time failure")
}

func TestRunEnforcesDailyEntitlement(t *testing.T) {
	st := store.NewMemoryStore()
	chatID := uuid.NewString()
	require.NoError(t, st.SaveChat(context.Background(), &model.Chat{
		ID: chatID, UserID: "guest-1", Title: "t", Visibility: model.VisibilityPrivate,
	}))
	var past []model.Message
	for i := 0; i < 3; i++ {
		past = append(past, model.Message{
			ID: uuid.NewString(), ChatID: chatID, Role: model.RoleUser,
			Parts: []model.MessagePart{model.TextPart("x")}, CreatedAt: time.Now(),
		})
	}
	require.NoError(t, st.AppendMessages(context.Background(), past))

	client := &scriptedClient{completeResp: "title"}
	svc := newTestService(client, st, nil)

	req := newTurnRequest("one more")
	req.ChatID = chatID
	err := svc.Run(context.Background(), Caller{UserID: "guest-1", UserType: "guest"}, req, Hints{}, nil)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeRateLimit, apperr.From(err).Code)
	assert.Zero(t, client.calls, "no generation is attempted over the cap")

	messages, _ := st.GetMessages(context.Background(), chatID)
	assert.Len(t, messages, 3, "the rejected message is not persisted")
}

func TestRunForbiddenForForeignChat(t *testing.T) {
	st := store.NewMemoryStore()
	chatID := uuid.NewString()
	require.NoError(t, st.SaveChat(context.Background(), &model.Chat{
		ID: chatID, UserID: "owner", Title: "t", Visibility: model.VisibilityPrivate,
	}))

	client := &scriptedClient{completeResp: "title"}
	svc := newTestService(client, st, nil)

	req := newTurnRequest("hi")
	req.ChatID = chatID
	err := svc.Run(context.Background(), Caller{UserID: "intruder", UserType: "regular"}, req, Hints{}, nil)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeForbidden, apperr.From(err).Code)
	assert.Zero(t, client.calls)
}

func TestRunConflictOnConcurrentTurn(t *testing.T) {
	st := store.NewMemoryStore()
	client := &scriptedClient{completeResp: "title"}
	svc := newTestService(client, st, nil)

	req := newTurnRequest("hi")
	require.True(t, svc.leases.Acquire(req.ChatID, "other-stream"))
	defer svc.leases.Release(req.ChatID, "other-stream")

	err := svc.Run(context.Background(), Caller{UserID: "u", UserType: "regular"}, req, Hints{}, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.From(err).Code)
}

func TestRunToolLoop(t *testing.T) {
	callArgs := json.RawMessage(`{"q":"ping"}`)
	client := &scriptedClient{
		completeResp: "title",
		steps: []scriptedStep{
			{
				result: llm.StreamResult{
					FinishReason: llm.FinishReasonToolCalls,
					ToolCalls:    []llm.ToolCall{{ID: "call-1", Name: "echo", Arguments: callArgs}},
					Usage:        llm.Usage{InputTokens: 8, OutputTokens: 2},
				},
			},
			{
				deltas: []string{"Done"},
				result: llm.StreamResult{
					Content:      "Done",
					FinishReason: "stop",
					Usage:        llm.Usage{InputTokens: 20, OutputTokens: 3},
				},
			},
		},
	}
	st := store.NewMemoryStore()
	svc := newTestService(client, st, nil, &echoTool{})

	var events []model.StreamEvent
	req := newTurnRequest("use the tool")
	err := svc.Run(context.Background(), Caller{UserID: "u", UserType: "regular"}, req, Hints{}, collectSink(&events))
	require.NoError(t, err)

	require.Equal(t, []model.EventType{
		model.EventTypeStart,
		model.EventTypeToolCall,
		model.EventTypeToolResult,
		model.EventTypeTextDelta,
		model.EventTypeUsage,
		model.EventTypeFinish,
	}, eventTypes(events))
	assert.Equal(t, "echo", events[1].ToolName)
	assert.JSONEq(t, `{"echoed":"{\"q\":\"ping\"}"}`, string(events[2].Output))

	// The model's second step sees the tool exchange.
	require.Len(t, client.requests, 2)
	second := client.requests[1].Messages
	require.GreaterOrEqual(t, len(second), 3)
	assert.Equal(t, "assistant", second[len(second)-2].Role)
	require.Len(t, second[len(second)-2].ToolCalls, 1)
	assert.Equal(t, "tool", second[len(second)-1].Role)
	assert.Equal(t, "call-1", second[len(second)-1].ToolCallID)

	// One assistant message holds the full ordered part sequence.
	messages, err := st.GetMessages(context.Background(), req.ChatID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	parts := messages[1].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, model.PartTypeToolCall, parts[0].Type)
	assert.Equal(t, model.PartTypeToolResult, parts[1].Type)
	assert.Equal(t, model.PartTypeText, parts[2].Type)
	assert.Equal(t, "Done", parts[2].Text)

	// Usage accumulates across steps.
	chat, _ := st.GetChat(context.Background(), req.ChatID)
	require.NotNil(t, chat.LastContext)
	assert.Equal(t, 28, chat.LastContext.InputTokens)
	assert.Equal(t, 5, chat.LastContext.OutputTokens)
}

func TestRunToolFailureFeedsErrorBack(t *testing.T) {
	client := &scriptedClient{
		completeResp: "title",
		steps: []scriptedStep{
			{
				result: llm.StreamResult{
					FinishReason: llm.FinishReasonToolCalls,
					ToolCalls:    []llm.ToolCall{{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{}`)}},
				},
			},
			{
				result: llm.StreamResult{Content: "Sorry about that.", FinishReason: "stop"},
			},
		},
	}
	svc := newTestService(client, store.NewMemoryStore(), nil, &echoTool{fail: true})

	var events []model.StreamEvent
	err := svc.Run(context.Background(), Caller{UserID: "u", UserType: "regular"}, newTurnRequest("go"), Hints{}, collectSink(&events))
	require.NoError(t, err, "a failing tool does not abort the turn")

	require.Len(t, client.requests, 2)
	last := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Contains(t, last.Content, "echo exploded")
	assert.Equal(t, model.EventTypeFinish, events[len(events)-1].Type)
}

func TestRunUnknownToolIsFatal(t *testing.T) {
	client := &scriptedClient{
		completeResp: "title",
		steps: []scriptedStep{{
			result: llm.StreamResult{
				FinishReason: llm.FinishReasonToolCalls,
				ToolCalls:    []llm.ToolCall{{ID: "c1", Name: "no_such_tool", Arguments: json.RawMessage(`{}`)}},
			},
		}},
	}
	st := store.NewMemoryStore()
	svc := newTestService(client, st, nil)

	var events []model.StreamEvent
	req := newTurnRequest("go")
	err := svc.Run(context.Background(), Caller{UserID: "u", UserType: "regular"}, req, Hints{}, collectSink(&events))
	require.NoError(t, err)

	assert.Equal(t, model.EventTypeError, events[len(events)-1].Type)
	messages, _ := st.GetMessages(context.Background(), req.ChatID)
	assert.Len(t, messages, 1, "no assistant message is persisted")
}

func TestRunStopsAtStepCeiling(t *testing.T) {
	loopStep := scriptedStep{
		result: llm.StreamResult{
			FinishReason: llm.FinishReasonToolCalls,
			ToolCalls:    []llm.ToolCall{{ID: "c", Name: "echo", Arguments: json.RawMessage(`{}`)}},
		},
	}
	client := &scriptedClient{
		completeResp: "title",
		// More scripted steps than the ceiling allows; the extras must
		// never be consumed.
		steps: []scriptedStep{loopStep, loopStep, loopStep, loopStep, loopStep, loopStep, loopStep},
	}
	st := store.NewMemoryStore()
	svc := newTestService(client, st, nil, &echoTool{})

	var events []model.StreamEvent
	req := newTurnRequest("loop forever")
	err := svc.Run(context.Background(), Caller{UserID: "u", UserType: "regular"}, req, Hints{}, collectSink(&events))
	require.NoError(t, err)

	assert.Equal(t, MaxSteps, client.calls)
	assert.Equal(t, model.EventTypeFinish, events[len(events)-1].Type)

	messages, _ := st.GetMessages(context.Background(), req.ChatID)
	require.Len(t, messages, 2, "the turn still completes and persists")
}

func TestResumeReplaysSuffix(t *testing.T) {
	client := &scriptedClient{
		completeResp: "title",
		steps: []scriptedStep{{
			deltas: []string{"a", "b", "c"},
			result: llm.StreamResult{Content: "abc", FinishReason: "stop"},
		}},
	}
	st := store.NewMemoryStore()
	streamLog := newMemoryStreamLog()
	svc := newTestService(client, st, streamLog)

	var live []model.StreamEvent
	req := newTurnRequest("hi")
	caller := Caller{UserID: "u", UserType: "regular"}
	require.NoError(t, svc.Run(context.Background(), caller, req, Hints{}, collectSink(&live)))

	require.Len(t, streamLog.events, 1)
	var streamID string
	for id := range streamLog.events {
		streamID = id
	}

	// A client that saw events 1..2 gets exactly the remainder.
	var replayed []model.StreamEvent
	err := svc.Resume(context.Background(), caller, req.ChatID, streamID, 2, collectSink(&replayed))
	require.NoError(t, err)

	require.Equal(t, len(live)-2, len(replayed))
	assert.Equal(t, live[2:], replayed)
	assert.Equal(t, model.EventTypeFinish, replayed[len(replayed)-1].Type)

	// Replaying from zero is a full, idempotent re-delivery.
	var full []model.StreamEvent
	require.NoError(t, svc.Resume(context.Background(), caller, req.ChatID, streamID, 0, collectSink(&full)))
	assert.Equal(t, live, full)
}

func TestResumeChecksOwnershipAndHandle(t *testing.T) {
	client := &scriptedClient{
		completeResp: "title",
		steps: []scriptedStep{{
			result: llm.StreamResult{Content: "x", FinishReason: "stop"},
		}},
	}
	st := store.NewMemoryStore()
	streamLog := newMemoryStreamLog()
	svc := newTestService(client, st, streamLog)

	req := newTurnRequest("hi")
	owner := Caller{UserID: "owner", UserType: "regular"}
	require.NoError(t, svc.Run(context.Background(), owner, req, Hints{}, nil))

	var streamID string
	for id := range streamLog.events {
		streamID = id
	}

	err := svc.Resume(context.Background(), Caller{UserID: "intruder", UserType: "regular"},
		req.ChatID, streamID, 0, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeForbidden, apperr.From(err).Code)

	err = svc.Resume(context.Background(), owner, uuid.NewString(), streamID, 0, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)

	err = svc.Resume(context.Background(), owner, req.ChatID, uuid.NewString(), 0, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)
}

func TestResumeWithoutStreamLog(t *testing.T) {
	svc := newTestService(&scriptedClient{}, store.NewMemoryStore(), nil)
	err := svc.Resume(context.Background(), Caller{UserID: "u"}, uuid.NewString(), uuid.NewString(), 0, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)
}

func TestRunContinuesAfterClientDisconnect(t *testing.T) {
	client := &scriptedClient{
		completeResp: "title",
		steps: []scriptedStep{{
			deltas: []string{"a", "b", "c"},
			result: llm.StreamResult{Content: "abc", FinishReason: "stop"},
		}},
	}
	st := store.NewMemoryStore()
	svc := newTestService(client, st, nil)

	// The sink fails after the first delivery, as a dropped connection would.
	delivered := 0
	sink := func(ev *model.StreamEvent) error {
		delivered++
		if delivered > 1 {
			return errors.New("broken pipe")
		}
		return nil
	}

	req := newTurnRequest("hi")
	err := svc.Run(context.Background(), Caller{UserID: "u", UserType: "regular"}, req, Hints{}, sink)
	require.NoError(t, err)

	messages, err := st.GetMessages(context.Background(), req.ChatID)
	require.NoError(t, err)
	require.Len(t, messages, 2, "generation and persistence outlive the client")

	chat, _ := st.GetChat(context.Background(), req.ChatID)
	assert.NotNil(t, chat.LastContext, "usage is still recorded")
}
