package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	h := NewHealthHandler(&fakePinger{}, nil)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestReadyWithoutNATS(t *testing.T) {
	h := NewHealthHandler(&fakePinger{}, nil)
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code, "a missing NATS connection does not fail readiness")
	assert.Contains(t, rec.Body.String(), `"nats":"disabled"`)
}

func TestReadyDatabaseDown(t *testing.T) {
	h := NewHealthHandler(&fakePinger{err: errors.New("no route to host")}, nil)
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"down"`)
}
