// Package broker drives the streaming response state machine shared by
// the HTTP SSE endpoints, the WebSocket endpoint, and the MCP
// Streamable-HTTP back-channel: cache lookup, retrieval, upstream
// completion with thought-filtering, and cache population on success.
// The SSE writer here is generalized from the teacher's progress-event
// writer to the sources/cached/content/error/done vocabulary.
package broker

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SourceRef is one retrieved chunk surfaced to the client. Untruncated,
// per DESIGN.md's resolution of the sync/streaming sources-shape
// ambiguity.
type SourceRef struct {
	ID    uint32  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// cachedSemanticPayload is the "cached" event body for a semantic-tier
// hit. Similarity is expressed as a percentage (0-100), matching
// spec.md §8 scenario S2's `similarity:97.0` for a 0.97 cosine score.
type cachedSemanticPayload struct {
	OriginalQuestion string  `json:"original_question"`
	Similarity       float64 `json:"similarity"`
}

// Writer is implemented by both the SSE and WebSocket egress adapters
// and is the only thing the broker's Engine depends on.
type Writer interface {
	WriteSources(sources []SourceRef) error
	WriteCachedExact() error
	WriteCachedSemantic(matchedQuestion string, similarityPct float64) error
	WriteContent(text string) error
	WriteError(msg string) error
	WriteDone() error
	Close() error
}

// SSEWriter wraps an http.ResponseWriter for the bookrag streaming
// endpoints (/api/stream/ask, /api/stream/chat, /api/stream/continue)
// and the MCP SSE back-channel.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares w for SSE output. Returns nil if w cannot flush.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}
}

// WriteSources emits the sources event as a bare JSON array, per
// spec.md §4.5/§6.
func (s *SSEWriter) WriteSources(sources []SourceRef) error {
	if sources == nil {
		sources = []SourceRef{}
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("broker: marshal sources event: %w", err)
	}
	return s.writeEvent("sources", string(data))
}

// WriteCachedExact emits `event: cached\ndata: true\n\n`.
func (s *SSEWriter) WriteCachedExact() error {
	return s.writeEvent("cached", "true")
}

// WriteCachedSemantic emits the cached event's semantic-hit provenance
// payload, per spec.md §8 scenario S2.
func (s *SSEWriter) WriteCachedSemantic(matchedQuestion string, similarityPct float64) error {
	data, err := json.Marshal(cachedSemanticPayload{OriginalQuestion: matchedQuestion, Similarity: similarityPct})
	if err != nil {
		return fmt.Errorf("broker: marshal cached event: %w", err)
	}
	return s.writeEvent("cached", string(data))
}

// WriteContent emits one raw (unescaped) text fragment.
func (s *SSEWriter) WriteContent(text string) error {
	return s.writeEvent("content", text)
}

// WriteError emits a terminal error message. Per spec.md §5/§7 this is
// always the last event before close.
func (s *SSEWriter) WriteError(msg string) error {
	return s.writeEvent("error", msg)
}

// WriteDone emits the empty-payload terminal event.
func (s *SSEWriter) WriteDone() error {
	return s.writeEvent("done", "")
}

// WriteHeartbeat emits a comment line, per spec.md §4.5. Callers of
// one-shot streams (the /api/stream/* endpoints) must never call this;
// only long-lived channels (the MCP SSE back-channel) do.
func (s *SSEWriter) WriteHeartbeat(unixTS int64) error {
	if _, err := fmt.Fprintf(s.w, ": heartbeat %d\n\n", unixTS); err != nil {
		return fmt.Errorf("broker: write heartbeat: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// writeEvent writes one SSE event. Multi-line payloads are split across
// repeated `data: ` lines per the SSE wire convention; single-line
// payloads (the common case) produce exactly the framing spec.md §8's
// S1 scenario shows.
func (s *SSEWriter) writeEvent(name, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteString("\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return fmt.Errorf("broker: write %s event: %w", name, err)
	}
	s.flusher.Flush()
	return nil
}

// Close is a no-op for SSE; the handler's return closes the response.
func (s *SSEWriter) Close() error { return nil }
