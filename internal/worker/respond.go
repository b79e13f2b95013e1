package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/hemoscan/internal/auth"
	"github.com/thebtf/hemoscan/internal/batch"
)

// archiveTimeout bounds the history write after a batch completes.
const archiveTimeout = 10 * time.Second

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps domain sentinel errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrBiometricNotRecognized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrEmailInUse):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrNoActiveRegistration),
		errors.Is(err, auth.ErrEnrollmentFailed),
		errors.Is(err, batch.ErrEmptySelection),
		errors.Is(err, batch.ErrInvalidSampleType),
		errors.Is(err, batch.ErrLowQualityUnconfirmed):
		return http.StatusBadRequest
	case errors.Is(err, batch.ErrJobNotCompleted),
		errors.Is(err, batch.ErrJobAlreadyRan),
		errors.Is(err, batch.ErrJobCancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a request body into v, rejecting malformed payloads.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// parseLimit reads an optional limit query parameter, returning 0 when the
// caller wants the default.
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
