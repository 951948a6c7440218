// Package turn orchestrates a single chat turn: gate, context assembly,
// bounded model generation with tools, streaming, and persistence.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parallax-ai/chat-platform/internal/apperr"
	"github.com/parallax-ai/chat-platform/internal/llm"
	"github.com/parallax-ai/chat-platform/internal/model"
	"github.com/parallax-ai/chat-platform/internal/store"
	"github.com/parallax-ai/chat-platform/internal/stream"
	"github.com/parallax-ai/chat-platform/internal/tools"
	"github.com/parallax-ai/chat-platform/internal/usage"
	"github.com/parallax-ai/chat-platform/pkg/logger"
	"github.com/parallax-ai/chat-platform/pkg/metrics"
)

// MaxSteps bounds sequential reasoning/tool-invocation steps per turn.
// This is a step-count ceiling, not a token ceiling: it guarantees
// termination even if the model attempts unbounded tool chaining.
const MaxSteps = 5

const entitlementWindow = 24 * time.Hour

// genericStreamError is the single error message surfaced mid-stream.
// Details stay in the logs; the stream contract only promises a terminal
// error event.
const genericStreamError = "Oops, something went wrong."

// Caller is the resolved request identity.
type Caller struct {
	UserID   string
	UserType string
}

// Entitlements maps a user type to its daily turn cap. A zero or missing
// cap means unlimited.
type Entitlements map[string]int

// CapFor returns the daily cap for the user type.
func (e Entitlements) CapFor(userType string) int {
	return e[userType]
}

// StreamLog is the durable per-turn event log backing stream resumption.
// It is optional: a nil StreamLog degrades turns to live-only streams.
type StreamLog interface {
	PublishEvent(ctx context.Context, streamID string, event *model.StreamEvent) error
	Replay(ctx context.Context, streamID string, afterSeq int64, handler func(*model.StreamEvent) error) error
}

// Config holds turn service settings.
type Config struct {
	DefaultModel string
	Timeout      time.Duration
	Entitlements Entitlements
}

// Service runs chat turns.
type Service struct {
	store      store.ChatStore
	llm        llm.Client
	tools      *tools.Registry
	streamLog  StreamLog
	reconciler *usage.Reconciler
	leases     *leaseRegistry
	cfg        Config
	logger     *logger.Logger
}

// NewService creates a turn service. streamLog may be nil to disable
// stream resumption.
func NewService(
	st store.ChatStore,
	llmClient llm.Client,
	registry *tools.Registry,
	streamLog StreamLog,
	reconciler *usage.Reconciler,
	cfg Config,
	log *logger.Logger,
) *Service {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	return &Service{
		store:      st,
		llm:        llmClient,
		tools:      registry,
		streamLog:  streamLog,
		reconciler: reconciler,
		leases:     newLeaseRegistry(),
		cfg:        cfg,
		logger:     log,
	}
}

// Run executes one turn. Events are delivered through sink; pre-stream
// failures are returned as errors so the handler can respond with a
// structured error body, while failures after streaming has begun emit a
// terminal error event and return nil.
//
// State machine: validating (done by the handler) → authorizing →
// loading-context → generating (0..MaxSteps) → completing | failing.
func (s *Service) Run(ctx context.Context, caller Caller, req *model.TurnRequest, hints Hints, sink stream.Sink) error {
	start := time.Now()

	// validating: the model id must be one the backend serves. The client
	// picked it; silently substituting another model is not acceptable.
	modelID := req.SelectedChatModel
	if !s.knownModel(modelID) {
		return apperr.New(apperr.CodeBadRequest, "unrecognized model: "+modelID)
	}

	// authorizing: daily entitlement, then ownership.
	count, err := s.store.CountMessagesByUserSince(ctx, caller.UserID, start.Add(-entitlementWindow))
	if err != nil {
		return apperr.Wrap(apperr.CodeOffline, "failed to check entitlement", err)
	}
	if cap := s.cfg.Entitlements.CapFor(caller.UserType); cap > 0 && count >= cap {
		metrics.RateLimitRejections.WithLabelValues(caller.UserType).Inc()
		return apperr.New(apperr.CodeRateLimit, "daily message limit reached")
	}

	// loading-context: fetch or create the chat. Ownership is checked
	// before any message history is read.
	var history []model.Message
	chat, err := s.store.GetChat(ctx, req.ChatID)
	switch {
	case err == nil:
		if chat.UserID != caller.UserID {
			return apperr.New(apperr.CodeForbidden, "chat belongs to another user")
		}
		history, err = s.store.GetMessages(ctx, req.ChatID)
		if err != nil {
			return apperr.Wrap(apperr.CodeOffline, "failed to load messages", err)
		}
	case errors.Is(err, store.ErrNotFound):
		chat = &model.Chat{
			ID:         req.ChatID,
			UserID:     caller.UserID,
			Title:      s.deriveTitle(ctx, &req.Message),
			Visibility: req.SelectedVisibilityType,
			CreatedAt:  start,
		}
		if err := s.store.SaveChat(ctx, chat); err != nil {
			return apperr.Wrap(apperr.CodeOffline, "failed to create chat", err)
		}
	default:
		return apperr.Wrap(apperr.CodeOffline, "failed to load chat", err)
	}

	streamID := uuid.Must(uuid.NewV7()).String()
	if !s.leases.Acquire(chat.ID, streamID) {
		return apperr.New(apperr.CodeConflict, "another turn is in progress on this chat")
	}
	defer s.leases.Release(chat.ID, streamID)

	// The user's message is durable before generation starts; on any later
	// failure it remains the last persisted entry.
	userMsg := model.Message{
		ID:        req.Message.ID,
		ChatID:    chat.ID,
		Role:      model.RoleUser,
		Parts:     req.Message.Parts,
		CreatedAt: time.Now(),
	}
	if err := s.store.AppendMessages(ctx, []model.Message{userMsg}); err != nil {
		return apperr.Wrap(apperr.CodeOffline, "failed to save message", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	if err := s.store.CreateStreamHandle(ctx, &model.StreamHandle{
		ID:        streamID,
		ChatID:    chat.ID,
		CreatedAt: time.Now(),
	}); err != nil {
		return apperr.Wrap(apperr.CodeOffline, "failed to create stream handle", err)
	}

	// generating: the request context is detached so a client disconnect
	// does not abort generation; persistence and usage accounting still
	// complete, bounded by the turn timeout.
	genCtx := context.WithoutCancel(ctx)
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(genCtx, s.cfg.Timeout)
		defer cancel()
	}

	var recorder stream.Recorder
	if s.streamLog != nil {
		recorder = s.streamLog
	}
	emitter := stream.NewEmitter(streamID, recorder, sink, s.logger)

	assistantID := uuid.Must(uuid.NewV7()).String()

	// The start event is deferred until the backend produces output, so a
	// setup-time backend failure can still surface as a structured offline
	// error instead of a broken stream.
	started := false
	ensureStarted := func() {
		if !started {
			started = true
			emitter.Emit(genCtx, &model.StreamEvent{
				Type:      model.EventTypeStart,
				ChatID:    chat.ID,
				StreamID:  streamID,
				MessageID: assistantID,
			})
		}
	}

	convo := historyToLLM(history)
	convo = append(convo, llm.ChatMessage{Role: "user", Content: userMsg.PlainText()})

	var (
		parts      []model.MessagePart
		totalUsage llm.Usage
		steps      int
	)

	fail := func(cause error) error {
		s.logger.Errorw("turn failed",
			"chat_id", chat.ID, "stream_id", streamID, "steps", steps, "error", cause)
		metrics.RecordTurn(modelID, "failing", time.Since(start).Seconds(), steps,
			totalUsage.InputTokens, totalUsage.OutputTokens)
		if !started {
			return apperr.Wrap(apperr.CodeOffline, "model backend is unavailable", cause)
		}
		ensureStarted()
		emitter.Emit(genCtx, &model.StreamEvent{
			Type:    model.EventTypeError,
			Message: genericStreamError,
		})
		return nil
	}

	for steps < MaxSteps {
		steps++

		result, err := s.llm.Stream(genCtx, &llm.Request{
			Model:    modelID,
			System:   systemPrompt(hints),
			Messages: convo,
			Tools:    s.tools.Definitions(),
		}, func(ev llm.StreamEvent) error {
			if ev.Type == llm.StreamEventTextDelta {
				ensureStarted()
				emitter.Emit(genCtx, &model.StreamEvent{
					Type:  model.EventTypeTextDelta,
					Delta: ev.TextDelta,
				})
			}
			return nil
		})
		if err != nil {
			return fail(err)
		}
		ensureStarted()

		totalUsage.InputTokens += result.Usage.InputTokens
		totalUsage.OutputTokens += result.Usage.OutputTokens
		totalUsage.TotalTokens += result.Usage.TotalTokens
		totalUsage.ReasoningTokens += result.Usage.ReasoningTokens
		totalUsage.CachedInputTokens += result.Usage.CachedInputTokens

		if result.Content != "" {
			parts = append(parts, model.TextPart(result.Content))
		}

		if result.FinishReason != llm.FinishReasonToolCalls || len(result.ToolCalls) == 0 {
			break
		}

		convo = append(convo, llm.ChatMessage{
			Role:      "assistant",
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		// Tool execution is strictly sequential: each call suspends
		// generation until its result is in the model's context.
		for _, call := range result.ToolCalls {
			emitter.Emit(genCtx, &model.StreamEvent{
				Type:       model.EventTypeToolCall,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Input:      call.Arguments,
			})

			output, err := s.tools.Execute(genCtx, call.Name, tools.Invocation{
				CallID: call.ID,
				Input:  call.Arguments,
				UserID: caller.UserID,
				Stream: emitter,
			})
			var unknown *tools.ErrUnknownTool
			if errors.As(err, &unknown) {
				return fail(unknown)
			}
			if err != nil {
				metrics.ToolCallsTotal.WithLabelValues(call.Name, "error").Inc()
				output, _ = json.Marshal(map[string]string{"error": err.Error()})
			} else {
				metrics.ToolCallsTotal.WithLabelValues(call.Name, "ok").Inc()
			}

			emitter.Emit(genCtx, &model.StreamEvent{
				Type:       model.EventTypeToolResult,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Output:     output,
			})

			parts = append(parts,
				model.MessagePart{
					Type:       model.PartTypeToolCall,
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Input:      call.Arguments,
				},
				model.MessagePart{
					Type:       model.PartTypeToolResult,
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Output:     output,
				},
			)

			convo = append(convo, llm.ChatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    string(output),
			})
		}
	}

	// completing: all produced parts are written as one assistant message,
	// or none at all. A turn that produced no parts persists nothing.
	if len(parts) > 0 {
		assistantMsg := model.Message{
			ID:        assistantID,
			ChatID:    chat.ID,
			Role:      model.RoleAssistant,
			Parts:     parts,
			CreatedAt: time.Now(),
		}
		if err := s.store.AppendMessages(genCtx, []model.Message{assistantMsg}); err != nil {
			return fail(fmt.Errorf("failed to persist assistant message: %w", err))
		}
		metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()
	}

	summary := s.reconciler.Reconcile(genCtx, modelID, totalUsage)
	if err := s.store.UpdateChatLastContext(genCtx, chat.ID, summary); err != nil {
		s.logger.Warnw("failed to update chat usage context",
			"chat_id", chat.ID, "error", err)
	}

	usageData, _ := json.Marshal(summary)
	emitter.Emit(genCtx, &model.StreamEvent{Type: model.EventTypeUsage, Data: usageData})
	emitter.Emit(genCtx, &model.StreamEvent{Type: model.EventTypeFinish})

	metrics.RecordTurn(modelID, "completing", time.Since(start).Seconds(), steps,
		totalUsage.InputTokens, totalUsage.OutputTokens)
	s.logger.Infow("turn completed",
		"chat_id", chat.ID, "stream_id", streamID, "steps", steps,
		"input_tokens", totalUsage.InputTokens, "output_tokens", totalUsage.OutputTokens)

	return nil
}

// knownModel reports whether the backend serves the requested model.
func (s *Service) knownModel(requested string) bool {
	for _, m := range s.llm.Models() {
		if m == requested {
			return true
		}
	}
	return false
}

// deriveTitle produces the chat title from the first user message. The
// model call is best-effort; on failure the message text is truncated.
func (s *Service) deriveTitle(ctx context.Context, msg *model.IncomingMessage) string {
	var text string
	for _, p := range msg.Parts {
		if p.Type == model.PartTypeText {
			text += p.Text
		}
	}
	fallback := truncate(strings.TrimSpace(text), 80)

	resp, err := s.llm.Complete(ctx, &llm.Request{
		Model:  s.cfg.DefaultModel,
		System: titlePrompt,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: text},
		},
		MaxTokens: 64,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		return fallback
	}
	return truncate(strings.TrimSpace(resp.Content), 80)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// historyToLLM converts persisted messages to the backend wire form,
// reconstructing tool call/result turns from message parts.
func historyToLLM(history []model.Message) []llm.ChatMessage {
	var out []llm.ChatMessage
	for i := range history {
		msg := &history[i]
		switch msg.Role {
		case model.RoleUser:
			out = append(out, llm.ChatMessage{Role: "user", Content: msg.PlainText()})
		case model.RoleAssistant:
			assistant := llm.ChatMessage{Role: "assistant", Content: msg.PlainText()}
			var results []llm.ChatMessage
			for _, p := range msg.Parts {
				switch p.Type {
				case model.PartTypeToolCall:
					assistant.ToolCalls = append(assistant.ToolCalls, llm.ToolCall{
						ID:        p.ToolCallID,
						Name:      p.ToolName,
						Arguments: p.Input,
					})
				case model.PartTypeToolResult:
					results = append(results, llm.ChatMessage{
						Role:       "tool",
						ToolCallID: p.ToolCallID,
						Content:    string(p.Output),
					})
				}
			}
			out = append(out, assistant)
			out = append(out, results...)
		}
	}
	return out
}
