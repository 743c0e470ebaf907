package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/p-arndt/texcompile/internal/sandbox"
	"github.com/p-arndt/texcompile/internal/session"
)

// apiError is the {"error": "<message>"} shape spec.md §6 specifies for
// all error responses.
type apiError struct {
	Error string `json:"error"`
}

// writeAPIError classifies err via errors.Is against the session/sandbox
// sentinels and writes the matching status, following the teacher's
// writeAPIError switch-on-errors.Is pattern in internal/api/errors.go.
func writeAPIError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidState):
		status = http.StatusForbidden
	case errors.Is(err, session.ErrInvalidRequest), errors.Is(err, sandbox.ErrEscapeAttempt):
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Error: err.Error()})
}

func writeValidationError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(apiError{Error: message})
}
