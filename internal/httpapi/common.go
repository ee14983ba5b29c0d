package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bookrag/bookrag/internal/apperr"
	"github.com/bookrag/bookrag/internal/broker"
	"github.com/bookrag/bookrag/internal/retrieval"
	"github.com/bookrag/bookrag/internal/types"
)

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidJSON, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// bookStem resolves the single configured book's stem from cfg.BookPath,
// per spec.md §6: the REST/WS surface operates against one configured
// book (unlike MCP's per-session selection across a books directory).
func (s *Server) bookStem() (string, error) {
	if s.cfg.BookPath == "" {
		return "", apperr.ErrNoBookSelected
	}
	base := filepath.Base(s.cfg.BookPath)
	return strings.TrimSuffix(base, filepath.Ext(base)), nil
}

// embed computes an embedding for text, returning nil (not an error) when
// no embedder is configured — retrieval and the cache's semantic tier
// both degrade gracefully to keyword-only/exact-only behavior.
func (s *Server) embed(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.WithError(err).Warn("httpapi: query embedding failed, degrading to keyword-only")
		return nil
	}
	return vec
}

func toBrokerSources(results []retrieval.Result) []broker.SourceRef {
	out := make([]broker.SourceRef, len(results))
	for i, r := range results {
		out[i] = broker.SourceRef{ID: r.Chunk.ID, Text: r.Chunk.Text, Score: r.Score}
	}
	return out
}

// newChatID generates a random 128-bit hex identifier for a freshly
// started /api/chat conversation, mirroring internal/mcp's session-id
// scheme (16 random bytes, hex-encoded) rather than inventing a second
// id format.
func newChatID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("httpapi: generate chat id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func lastUserMessage(messages []types.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
