package stream

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-ai/chat-platform/internal/model"
)

func TestSSEWriterFramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(&model.StreamEvent{Seq: 1, Type: model.EventTypeTextDelta, Delta: "hi"}))
	require.NoError(t, w.KeepAlive())
	require.NoError(t, w.Send(&model.StreamEvent{Seq: 2, Type: model.EventTypeFinish}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.Contains(t, body, `data: {"seq":1,"type":"text-delta","delta":"hi"}`+"\n\n")
	assert.Contains(t, body, ": keepalive\n\n")
	assert.Contains(t, body, `data: {"seq":2,"type":"finish"}`+"\n\n")
	assert.True(t, rec.Flushed)
}

// nonFlusher hides the recorder's Flush method.
type nonFlusher struct {
	rec *httptest.ResponseRecorder
}

func (n nonFlusher) Header() http.Header         { return n.rec.Header() }
func (n nonFlusher) Write(b []byte) (int, error) { return n.rec.Write(b) }
func (n nonFlusher) WriteHeader(statusCode int)  { n.rec.WriteHeader(statusCode) }

func TestSSEWriterRequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(nonFlusher{httptest.NewRecorder()})
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}
