package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-ai/chat-platform/internal/llm"
	"github.com/parallax-ai/chat-platform/internal/model"
)

type staticTool struct {
	name   string
	result any
	err    error
}

func (s *staticTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: s.name, Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (s *staticTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	return s.result, s.err
}

// eventCollector implements DataStream for tests.
type eventCollector struct {
	events []model.StreamEvent
}

func (c *eventCollector) Emit(ctx context.Context, event *model.StreamEvent) {
	c.events = append(c.events, *event)
}

func TestRegistryDefinitionsKeepOrder(t *testing.T) {
	r := NewRegistry(
		&staticTool{name: "bravo"},
		&staticTool{name: "alpha"},
		&staticTool{name: "charlie"},
	)

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "bravo", defs[0].Name)
	assert.Equal(t, "alpha", defs[1].Name)
	assert.Equal(t, "charlie", defs[2].Name)
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry(&staticTool{name: "ok", result: map[string]int{"n": 7}})

	out, err := r.Execute(context.Background(), "ok", Invocation{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":7}`, string(out))
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(context.Background(), "ghost", Invocation{})
	var unknown *ErrUnknownTool
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.Name)
}

func TestRegistryExecutePropagatesToolError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(&staticTool{name: "bad", err: boom})

	_, err := r.Execute(context.Background(), "bad", Invocation{})
	require.ErrorIs(t, err, boom)
	var unknown *ErrUnknownTool
	assert.False(t, errors.As(err, &unknown))
}

func TestWeatherTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "59.91", r.URL.Query().Get("latitude"))
		assert.Equal(t, "10.75", r.URL.Query().Get("longitude"))
		assert.Equal(t, "temperature_2m", r.URL.Query().Get("current"))
		w.Write([]byte(`{"current":{"temperature_2m":12.3}}`))
	}))
	defer srv.Close()

	tool := NewWeatherToolWithBase(srv.URL)
	out, err := tool.Execute(context.Background(), Invocation{
		Input: json.RawMessage(`{"latitude":59.91,"longitude":10.75}`),
	})
	require.NoError(t, err)

	payload, ok := out.(map[string]any)
	require.True(t, ok)
	current := payload["current"].(map[string]any)
	assert.Equal(t, 12.3, current["temperature_2m"])
}

func TestWeatherToolUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tool := NewWeatherToolWithBase(srv.URL)
	_, err := tool.Execute(context.Background(), Invocation{
		Input: json.RawMessage(`{"latitude":1,"longitude":2}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
