package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bookrag/bookrag/internal/retrieval"
	"github.com/bookrag/bookrag/internal/types"
)

// DefaultTTL is the exact-tier default, per spec.md §4.4.
const DefaultTTL = time.Hour

// DefaultSemanticThreshold is the cosine-similarity bar a semantic hit
// must clear. Kept configurable (see ResponseCache.SemanticThreshold)
// rather than hard-coded, per the open-question resolution in DESIGN.md.
const DefaultSemanticThreshold = 0.96

// semanticIndexMaxEntries bounds the FIFO semantic index.
const semanticIndexMaxEntries = 100

const semanticIndexKey = "__semantic_index__"

// ExactKey builds the exact-tier fingerprint key:
// md5(kind || ":" || question || ":" || topK).
func ExactKey(kind, question string, topK int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%d", kind, question, topK)))
	return hex.EncodeToString(sum[:])
}

// Match describes a semantic-tier hit's provenance.
type Match struct {
	MatchedQuestion string
	Similarity      float64
}

// ResponseCache implements bookrag's two-tier response cache on top of a
// byte-oriented Cache backend (memory or Redis).
type ResponseCache struct {
	backend           Cache
	ttl               time.Duration
	SemanticThreshold float64
	semanticIndexMu   sync.Mutex
}

// NewResponseCache wraps backend with the exact+semantic response tiers.
func NewResponseCache(backend Cache) *ResponseCache {
	return &ResponseCache{
		backend:           backend,
		ttl:               DefaultTTL,
		SemanticThreshold: DefaultSemanticThreshold,
	}
}

// Stats passes through the backend's hit/miss/eviction counters, for the
// cache-stats HTTP endpoint.
func (r *ResponseCache) Stats() Stats {
	return r.backend.Stats()
}

// Get performs an exact-tier lookup for (kind, question, topK).
func (r *ResponseCache) Get(ctx context.Context, kind, question string, topK int) (*types.CacheEntry, bool) {
	key := ExactKey(kind, question, topK)
	return r.getByKey(ctx, key)
}

func (r *ResponseCache) getByKey(ctx context.Context, key string) (*types.CacheEntry, bool) {
	raw, err := r.backend.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var entry types.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

// Set writes the exact-tier entry for (kind, question, topK) and appends
// the query embedding (if non-empty) to the semantic index. Writes only
// happen at stream completion, never on error, per spec.md §4.4/§4.5.
func (r *ResponseCache) Set(ctx context.Context, kind, question string, topK int, entry types.CacheEntry, queryEmbedding []float32) error {
	key := ExactKey(kind, question, topK)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	if err := r.backend.Set(ctx, key, data, r.ttl); err != nil {
		return fmt.Errorf("cache: set entry: %w", err)
	}

	if len(queryEmbedding) > 0 {
		r.addToSemanticIndex(ctx, key, queryEmbedding, question)
	}
	return nil
}

// SemanticLookup searches the bounded semantic index for the nearest
// cached question to queryEmbedding. A hit above SemanticThreshold falls
// through to an exact lookup by the winning cache key; a semantic hit
// whose exact key has since expired is treated as a miss (not an error).
func (r *ResponseCache) SemanticLookup(ctx context.Context, queryEmbedding []float32) (*types.CacheEntry, *Match, bool) {
	if len(queryEmbedding) == 0 {
		return nil, nil, false
	}

	entries := r.loadSemanticIndex(ctx)

	var bestKey, bestQuestion string
	bestScore := -2.0
	for _, e := range entries {
		if len(e.Embedding) != len(queryEmbedding) {
			continue
		}
		score := retrieval.CosineSimilarity(queryEmbedding, e.Embedding)
		if score > bestScore {
			bestScore = score
			bestKey = e.CacheKey
			bestQuestion = e.Question
		}
	}

	if bestKey == "" || bestScore <= r.SemanticThreshold {
		return nil, nil, false
	}

	entry, ok := r.getByKey(ctx, bestKey)
	if !ok {
		return nil, nil, false
	}
	return entry, &Match{MatchedQuestion: bestQuestion, Similarity: bestScore}, true
}

// addToSemanticIndex performs the read-modify-write FIFO update. A lost
// update under concurrent writers drops at most one association, which
// degrades to a miss — acceptable per spec.md §5.
func (r *ResponseCache) addToSemanticIndex(ctx context.Context, cacheKey string, embedding []float32, question string) {
	r.semanticIndexMu.Lock()
	defer r.semanticIndexMu.Unlock()

	entries := r.loadSemanticIndex(ctx)
	entries = append(entries, types.SemanticIndexEntry{
		CacheKey:  cacheKey,
		Embedding: embedding,
		Question:  question,
	})
	if len(entries) > semanticIndexMaxEntries {
		entries = entries[len(entries)-semanticIndexMaxEntries:]
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	_ = r.backend.Set(ctx, semanticIndexKey, data, 2*r.ttl)
}

func (r *ResponseCache) loadSemanticIndex(ctx context.Context) []types.SemanticIndexEntry {
	raw, err := r.backend.Get(ctx, semanticIndexKey)
	if err != nil {
		return nil
	}
	var entries []types.SemanticIndexEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	return entries
}
