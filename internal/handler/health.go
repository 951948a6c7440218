package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/parallax-ai/chat-platform/internal/nats"
)

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db   Pinger
	nats *nats.Client
}

// NewHealthHandler creates a health handler. nc may be nil when stream
// resumption is disabled.
func NewHealthHandler(db Pinger, nc *nats.Client) *HealthHandler {
	return &HealthHandler{db: db, nats: nc}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready. The database is required; NATS is optional
// and only degrades stream resumption, so it never fails readiness.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]string{"database": "ok"}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		components["database"] = "down"
		status = http.StatusServiceUnavailable
	}

	switch {
	case h.nats == nil:
		components["nats"] = "disabled"
	case h.nats.IsConnected():
		components["nats"] = "ok"
	default:
		components["nats"] = "down"
	}

	body := map[string]any{"components": components}
	if status == http.StatusOK {
		body["status"] = "ready"
	} else {
		body["status"] = "not ready"
	}
	writeJSON(w, status, body)
}
