package handler

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/parallax-ai/chat-platform/internal/apperr"
	"github.com/parallax-ai/chat-platform/internal/model"
	"github.com/parallax-ai/chat-platform/internal/stream"
	"github.com/parallax-ai/chat-platform/internal/turn"
	"github.com/parallax-ai/chat-platform/pkg/logger"
	"github.com/parallax-ai/chat-platform/pkg/metrics"
)

const keepAliveInterval = 15 * time.Second

// StreamHandler serves stream re-attachment.
type StreamHandler struct {
	service *turn.Service
	logger  *logger.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(service *turn.Service, log *logger.Logger) *StreamHandler {
	return &StreamHandler{service: service, logger: log}
}

// Resume handles GET /api/v1/chat/{chatID}/stream. It replays the
// recorded events of the identified turn after the client's last seen
// sequence number, then follows the live tail to the terminal event.
func (h *StreamHandler) Resume(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}

	chatID := chi.URLParam(r, "chatID")
	if err := is.UUID.Validate(chatID); err != nil {
		writeError(w, h.logger, apperr.New(apperr.CodeBadRequest, "invalid chat id"))
		return
	}
	streamID := r.URL.Query().Get("streamId")
	if err := is.UUID.Validate(streamID); err != nil {
		writeError(w, h.logger, apperr.New(apperr.CodeBadRequest, "invalid stream id"))
		return
	}

	var afterSeq int64
	if raw := r.URL.Query().Get("afterSeq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, h.logger, apperr.New(apperr.CodeBadRequest, "invalid afterSeq"))
			return
		}
		afterSeq = n
	}

	// Events and keepalives share the connection, so writes are serialized.
	var (
		mu  sync.Mutex
		sse *stream.SSEWriter
	)
	sink := func(event *model.StreamEvent) error {
		mu.Lock()
		defer mu.Unlock()
		if sse == nil {
			var err error
			sse, err = stream.NewSSEWriter(w)
			if err != nil {
				return err
			}
			metrics.IncrementSSEConnections()
			go h.keepAlive(r.Context(), &mu, sse)
		}
		return sse.Send(event)
	}
	defer func() {
		mu.Lock()
		if sse != nil {
			metrics.DecrementSSEConnections()
		}
		mu.Unlock()
	}()

	if err := h.service.Resume(r.Context(), caller, chatID, streamID, afterSeq, sink); err != nil {
		mu.Lock()
		committed := sse != nil
		mu.Unlock()
		if !committed {
			writeError(w, h.logger, err)
			return
		}
		h.logger.Warnw("stream replay interrupted",
			"chat_id", chatID, "stream_id", streamID, "error", err)
	}
}

func (h *StreamHandler) keepAlive(ctx context.Context, mu *sync.Mutex, sse *stream.SSEWriter) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mu.Lock()
			err := sse.KeepAlive()
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
