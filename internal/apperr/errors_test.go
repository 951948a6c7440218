package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeBadRequest, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeRateLimit, http.StatusTooManyRequests},
		{CodeOffline, http.StatusServiceUnavailable},
		{Code("something-else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, New(tt.code, "x").Status(), string(tt.code))
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("pg: connection refused")
	err := Wrap(CodeOffline, "failed to load chat", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "offline")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestFrom(t *testing.T) {
	original := New(CodeForbidden, "nope")
	assert.Same(t, original, From(original))

	wrapped := fmt.Errorf("handler: %w", original)
	assert.Same(t, original, From(wrapped))

	unknown := From(errors.New("disk on fire"))
	require.NotNil(t, unknown)
	assert.Equal(t, CodeOffline, unknown.Code)
	assert.Equal(t, http.StatusServiceUnavailable, unknown.Status())
}
