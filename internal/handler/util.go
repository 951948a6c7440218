// Package handler implements the HTTP API surface.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/parallax-ai/chat-platform/internal/apperr"
	"github.com/parallax-ai/chat-platform/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Global().Warnw("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	appErr := apperr.From(err)
	if appErr.Status() >= http.StatusInternalServerError {
		log.Errorw("request failed", "code", appErr.Code, "error", err)
	} else {
		log.Infow("request rejected", "code", appErr.Code, "message", appErr.Message)
	}
	writeJSON(w, appErr.Status(), appErr)
}
