// Package tools implements the fixed set of tools the model may invoke
// during a turn.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parallax-ai/chat-platform/internal/llm"
	"github.com/parallax-ai/chat-platform/internal/model"
)

// DataStream receives tool side-effect events so the client observes tool
// activity in real time, interleaved with generated text.
type DataStream interface {
	Emit(ctx context.Context, event *model.StreamEvent)
}

// Invocation carries one tool call and its execution context.
type Invocation struct {
	CallID string
	Input  json.RawMessage
	UserID string
	Stream DataStream
}

// Tool is a named capability with a declared input schema.
type Tool interface {
	Definition() llm.ToolDefinition
	Execute(ctx context.Context, inv Invocation) (any, error)
}

// ErrUnknownTool is returned when the model requests a tool outside the
// registry. The orchestrator treats this as a fatal turn error rather than
// silently ignoring the call.
type ErrUnknownTool struct {
	Name string
}

func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// Registry is a closed dispatch table: the tool set is fixed at
// construction and never mutated afterwards.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a registry from the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Definition().Name
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r
}

// Definitions returns the tool definitions in registration order, for
// advertising to the model backend.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute runs the named tool. Unknown names return *ErrUnknownTool; tool
// execution failures are returned to the caller, which feeds them back to
// the model as error results.
func (r *Registry) Execute(ctx context.Context, name string, inv Invocation) (json.RawMessage, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, &ErrUnknownTool{Name: name}
	}

	result, err := tool.Execute(ctx, inv)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s result: %w", name, err)
	}
	return out, nil
}
