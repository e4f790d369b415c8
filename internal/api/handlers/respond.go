package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/models"
	"github.com/markdave123-py/papertrail/internal/services"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("HTTP: request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func statusFor(err error) int {
	var (
		te *models.TransitionError
		pe *models.PrerequisiteError
	)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &te), errors.As(err, &pe), errors.Is(err, core.ErrJobNotTerminal):
		return http.StatusConflict
	case errors.Is(err, core.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrInvalidStep):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
