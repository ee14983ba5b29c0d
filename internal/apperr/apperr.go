// Package apperr collects the sentinel errors shared across bookrag's
// HTTP surface, mirroring the per-subsystem style already used by
// internal/cache.ErrNotFound and internal/retrieval's dimension-mismatch
// handling: small, comparable errors callers can test with errors.Is,
// rather than a shared error-handling framework.
package apperr

import "errors"

var (
	// ErrMissingQuestion is returned when /api/ask or /api/stream/ask is
	// called without a non-empty "question" field.
	ErrMissingQuestion = errors.New("apperr: question is required")

	// ErrMissingMessages is returned when /api/chat or /api/stream/chat is
	// called without at least one message.
	ErrMissingMessages = errors.New("apperr: messages is required")

	// ErrNoBookSelected is returned when a request needs a book index but
	// no BOOK_PATH is configured and no book was otherwise selected.
	ErrNoBookSelected = errors.New("apperr: no book selected")

	// ErrBookNotIndexed is returned when the selected book has no
	// {stem}_index.json on disk yet.
	ErrBookNotIndexed = errors.New("apperr: book has not been indexed")

	// ErrInvalidJSON is returned when a request body fails to parse.
	ErrInvalidJSON = errors.New("apperr: invalid request body")

	// ErrUpstream wraps a failure from the configured LLM/embedding
	// provider; in streaming paths it becomes an `error` SSE/WS event, in
	// non-streaming paths an HTTP 500.
	ErrUpstream = errors.New("apperr: upstream provider error")

	// ErrRateLimited marks an upstream failure as rate-limiting, per
	// spec.md §7's "a 429 is annotated as rate-limiting".
	ErrRateLimited = errors.New("apperr: upstream rate limited")
)
