package stream

import (
	"context"
	"sync"

	"github.com/parallax-ai/chat-platform/internal/model"
	"github.com/parallax-ai/chat-platform/pkg/logger"
)

// Recorder appends stream events to a durable per-turn log so disconnected
// clients can re-attach. Implemented by the NATS stream manager.
type Recorder interface {
	PublishEvent(ctx context.Context, streamID string, event *model.StreamEvent) error
}

// Sink receives events for live delivery to the attached client.
type Sink func(*model.StreamEvent) error

// Emitter sequences a single turn's output events, delivers them to the
// attached client, and records them for resumption. When no recorder is
// configured the turn degrades to a live-only stream; that is a deliberate
// fallback, not a failure.
type Emitter struct {
	streamID string
	recorder Recorder
	sink     Sink
	logger   *logger.Logger

	mu       sync.Mutex
	seq      int64
	detached bool
}

// NewEmitter creates an emitter for one turn. recorder may be nil.
func NewEmitter(streamID string, recorder Recorder, sink Sink, log *logger.Logger) *Emitter {
	return &Emitter{
		streamID: streamID,
		recorder: recorder,
		sink:     sink,
		logger:   log,
	}
}

// Emit assigns the next sequence number, records the event, and delivers it
// to the client. A failed client write detaches the sink but does not stop
// the turn: generation continues so persistence and usage accounting still
// happen, and the recorded log serves any re-attaching client.
func (e *Emitter) Emit(ctx context.Context, event *model.StreamEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	event.Seq = e.seq

	if e.recorder != nil {
		if err := e.recorder.PublishEvent(ctx, e.streamID, event); err != nil {
			e.logger.Warnw("failed to record stream event",
				"stream_id", e.streamID, "seq", event.Seq, "error", err)
		}
	}

	if e.detached || e.sink == nil {
		return
	}
	if err := e.sink(event); err != nil {
		e.logger.Infow("client detached from stream",
			"stream_id", e.streamID, "seq", event.Seq)
		e.detached = true
	}
}

// Seq returns the last assigned sequence number.
func (e *Emitter) Seq() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}
