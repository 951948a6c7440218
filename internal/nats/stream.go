package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/parallax-ai/chat-platform/internal/model"
)

const (
	// StreamName is the name of the turn event log stream.
	StreamName = "TURNS"

	// SubjectPrefix is the prefix for all turn subjects.
	SubjectPrefix = "turn"
)

// StreamManager is the durable backing store for stream resumption. Every
// event of a turn's output stream is appended under the turn's stream
// handle subject; a re-attaching client replays the log and then follows
// live deliveries from the same consumer.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the turn event stream exists. Turn logs only need
// to outlive the turn and a reconnect window, so retention is short.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Per-turn output event logs for stream resumption",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// TurnSubject returns the subject for a turn's event log.
func TurnSubject(streamID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, streamID)
}

// PublishEvent appends one stream event to the turn's log.
func (m *StreamManager) PublishEvent(ctx context.Context, streamID string, event *model.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, TurnSubject(streamID), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// replayIdleTimeout bounds how long a follow waits for the next event. A
// log with no terminal event (the producing process died mid-turn) would
// otherwise hold the replay open until the client disconnects.
const replayIdleTimeout = 2 * time.Minute

// errStreamIdle marks a follow that saw no new event within the idle window.
var errStreamIdle = errors.New("stream idle")

// Replay delivers the turn's events with sequence greater than afterSeq to
// the handler, in order, then keeps following live deliveries until a
// terminal event arrives, the context is cancelled, or the log goes idle.
// Events at or below afterSeq are skipped so re-attachment never duplicates
// delivered output.
func (m *StreamManager) Replay(ctx context.Context, streamID string, afterSeq int64, handler func(*model.StreamEvent) error) error {
	js := m.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     TurnSubject(streamID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	iter, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("failed to open message iterator: %w", err)
	}
	defer iter.Stop()

	stop := context.AfterFunc(ctx, iter.Stop)
	defer stop()

	idle := time.AfterFunc(replayIdleTimeout, iter.Stop)
	defer idle.Stop()

	next := func() ([]byte, error) {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return nil, errStreamIdle
			}
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		idle.Reset(replayIdleTimeout)
		return msg.Data(), nil
	}

	return replayEvents(next, afterSeq, handler)
}

// replayEvents drains events from next until a terminal event, the idle
// sentinel, or a handler error. Undecodable payloads are skipped.
func replayEvents(next func() ([]byte, error), afterSeq int64, handler func(*model.StreamEvent) error) error {
	for {
		data, err := next()
		if errors.Is(err, errStreamIdle) {
			return nil
		}
		if err != nil {
			return err
		}

		var event model.StreamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		if event.Seq <= afterSeq {
			continue
		}

		if err := handler(&event); err != nil {
			return err
		}
		if event.Terminal() {
			return nil
		}
	}
}
