package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gyaneshwarpardhi/karmachain/internal/engine"
	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps engine and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, karma.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, karma.ErrInvalidEvidence), errors.Is(err, karma.ErrInvalidDebtOp):
		return http.StatusUnprocessableEntity
	case errors.Is(err, karma.ErrAlreadyCompleted), errors.Is(err, karma.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, karma.ErrPlanExpired):
		return http.StatusGone
	case karma.IsPersistence(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
