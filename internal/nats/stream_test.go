package nats

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-ai/chat-platform/internal/model"
)

func encodeEvents(t *testing.T, events ...model.StreamEvent) [][]byte {
	t.Helper()
	out := make([][]byte, len(events))
	for i := range events {
		data, err := json.Marshal(events[i])
		require.NoError(t, err)
		out[i] = data
	}
	return out
}

// queueNext feeds the given payloads in order, then reports idle.
func queueNext(payloads [][]byte) func() ([]byte, error) {
	i := 0
	return func() ([]byte, error) {
		if i >= len(payloads) {
			return nil, errStreamIdle
		}
		data := payloads[i]
		i++
		return data, nil
	}
}

func TestReplayEventsStopsAtTerminal(t *testing.T) {
	payloads := encodeEvents(t,
		model.StreamEvent{Seq: 1, Type: model.EventTypeStart},
		model.StreamEvent{Seq: 2, Type: model.EventTypeTextDelta, Delta: "hi"},
		model.StreamEvent{Seq: 3, Type: model.EventTypeFinish},
		model.StreamEvent{Seq: 4, Type: model.EventTypeTextDelta, Delta: "late"},
	)

	var seen []int64
	err := replayEvents(queueNext(payloads), 0, func(ev *model.StreamEvent) error {
		seen = append(seen, ev.Seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, seen, "delivery ends at the terminal event")
}

func TestReplayEventsSkipsDeliveredPrefix(t *testing.T) {
	payloads := encodeEvents(t,
		model.StreamEvent{Seq: 1, Type: model.EventTypeStart},
		model.StreamEvent{Seq: 2, Type: model.EventTypeTextDelta, Delta: "a"},
		model.StreamEvent{Seq: 3, Type: model.EventTypeTextDelta, Delta: "b"},
		model.StreamEvent{Seq: 4, Type: model.EventTypeFinish},
	)

	var seen []int64
	err := replayEvents(queueNext(payloads), 2, func(ev *model.StreamEvent) error {
		seen = append(seen, ev.Seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, seen)
}

func TestReplayEventsIdleLogEndsCleanly(t *testing.T) {
	// A log whose producer died mid-turn has no terminal event. The follow
	// ends without error once the iterator reports idle.
	payloads := encodeEvents(t,
		model.StreamEvent{Seq: 1, Type: model.EventTypeStart},
		model.StreamEvent{Seq: 2, Type: model.EventTypeTextDelta, Delta: "partial"},
	)

	var seen []int64
	err := replayEvents(queueNext(payloads), 0, func(ev *model.StreamEvent) error {
		seen = append(seen, ev.Seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, seen)
}

func TestReplayEventsPropagatesHandlerError(t *testing.T) {
	payloads := encodeEvents(t,
		model.StreamEvent{Seq: 1, Type: model.EventTypeStart},
	)

	sinkErr := errors.New("client gone")
	err := replayEvents(queueNext(payloads), 0, func(*model.StreamEvent) error {
		return sinkErr
	})
	assert.ErrorIs(t, err, sinkErr)
}

func TestReplayEventsSkipsUndecodablePayloads(t *testing.T) {
	payloads := encodeEvents(t,
		model.StreamEvent{Seq: 1, Type: model.EventTypeStart},
		model.StreamEvent{Seq: 2, Type: model.EventTypeFinish},
	)
	payloads = append([][]byte{[]byte("not json")}, payloads...)

	var seen []int64
	err := replayEvents(queueNext(payloads), 0, func(ev *model.StreamEvent) error {
		seen = append(seen, ev.Seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, seen)
}

func TestTurnSubject(t *testing.T) {
	assert.Equal(t, "turn.abc-123", TurnSubject("abc-123"))
}
