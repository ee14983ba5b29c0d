package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bookrag/bookrag/internal/apperr"
	"github.com/bookrag/bookrag/internal/llm"
)

// errStreamingUnsupported is returned when the ResponseWriter behind an
// SSE endpoint cannot flush (e.g. a misconfigured reverse proxy buffer).
var errStreamingUnsupported = errors.New("httpapi: response writer does not support streaming")

// errorBody is the JSON shape for every non-2xx REST response, per
// spec.md §7: "{error, message}".
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: http.StatusText(status), Message: err.Error()})
}

// statusForError classifies err per spec.md §7's taxonomy: validation
// errors (missing fields, unknown book) are 400, upstream/provider errors
// are 500 (429 when rate-limited), anything else defaults to 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, apperr.ErrMissingQuestion),
		errors.Is(err, apperr.ErrMissingMessages),
		errors.Is(err, apperr.ErrNoBookSelected),
		errors.Is(err, apperr.ErrBookNotIndexed),
		errors.Is(err, apperr.ErrInvalidJSON):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		var provErr *llm.ProviderError
		if errors.As(err, &provErr) && provErr.RateLimited {
			return http.StatusTooManyRequests
		}
		return http.StatusInternalServerError
	}
}

func writeClassifiedError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}
