// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnDuration tracks full chat turn duration by terminal state.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Chat turn duration from validation to terminal state",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "state"},
	)

	// TurnSteps tracks generation steps consumed per turn.
	TurnSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_turn_steps",
			Help:    "Generation steps consumed per turn",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// ToolCallsTotal tracks tool invocations by the model.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_tool_calls_total",
			Help: "Tool invocations requested by the model",
		},
		[]string{"tool", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// StreamResumesTotal tracks stream re-attachments.
	StreamResumesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_stream_resumes_total",
			Help: "Stream handle re-attachments",
		},
	)

	// MessagesTotal tracks messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Messages persisted",
		},
		[]string{"role"},
	)

	// RateLimitRejections tracks entitlement gate rejections.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_rejections_total",
			Help: "Turns rejected by the daily entitlement gate",
		},
		[]string{"user_type"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records metrics for a completed or failed turn.
func RecordTurn(model, state string, duration float64, steps, tokensIn, tokensOut int) {
	TurnDuration.WithLabelValues(model, state).Observe(duration)
	TurnSteps.Observe(float64(steps))
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
