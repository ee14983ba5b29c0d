package cache

import (
	"context"
	"testing"
	"time"

	"github.com/bookrag/bookrag/internal/types"
)

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache(Config{MaxSize: 100, DefaultTTL: time.Hour})
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	if err := c.Set(ctx, "key1", []byte("value1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("expected 'value1', got %q", val)
	}

	if _, err := c.Get(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(DefaultConfig())
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, err := c.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("expected expired key to be ErrNotFound, got %v", err)
	}
}

func TestMemoryCache_Eviction(t *testing.T) {
	c := NewMemoryCache(Config{MaxSize: 2, DefaultTTL: time.Hour})
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)
	_ = c.Set(ctx, "c", []byte("3"), 0)

	if _, err := c.Get(ctx, "a"); err != ErrNotFound {
		t.Errorf("expected oldest key 'a' to be evicted")
	}
	if _, err := c.Get(ctx, "c"); err != nil {
		t.Errorf("expected 'c' present, got %v", err)
	}
}

func TestExactKey_Deterministic(t *testing.T) {
	k1 := ExactKey("stream_ask", "Who is Sun Wukong?", 8)
	k2 := ExactKey("stream_ask", "Who is Sun Wukong?", 8)
	if k1 != k2 {
		t.Errorf("expected deterministic key, got %q vs %q", k1, k2)
	}
	if len(k1) != 32 {
		t.Errorf("expected 32 hex chars (md5), got %d", len(k1))
	}
}

func TestResponseCache_ExactHit(t *testing.T) {
	backend := NewMemoryCache(DefaultConfig())
	defer func() { _ = backend.Close() }()
	rc := NewResponseCache(backend)

	ctx := context.Background()
	entry := cacheEntryFixture()
	if err := rc.Set(ctx, "stream_ask", "Who is Sun Wukong?", 8, entry, nil); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := rc.Get(ctx, "stream_ask", "Who is Sun Wukong?", 8)
	if !ok {
		t.Fatal("expected exact cache hit")
	}
	if got.Answer != entry.Answer {
		t.Errorf("answer mismatch: got %q want %q", got.Answer, entry.Answer)
	}
}

func TestResponseCache_SemanticHit(t *testing.T) {
	backend := NewMemoryCache(DefaultConfig())
	defer func() { _ = backend.Close() }()
	rc := NewResponseCache(backend)

	ctx := context.Background()
	entry := cacheEntryFixture()
	e1 := []float32{1, 0, 0}
	if err := rc.Set(ctx, "stream_ask", "孙悟空是谁？", 8, entry, e1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// e2 is nearly identical to e1 -> cosine similarity > 0.96.
	e2 := []float32{0.999, 0.001, 0}
	got, match, ok := rc.SemanticLookup(ctx, e2)
	if !ok {
		t.Fatal("expected semantic hit")
	}
	if got.Answer != entry.Answer {
		t.Errorf("answer mismatch on semantic hit")
	}
	if match.MatchedQuestion != "孙悟空是谁？" {
		t.Errorf("expected matched question, got %q", match.MatchedQuestion)
	}
}

func TestResponseCache_SemanticMissBelowThreshold(t *testing.T) {
	backend := NewMemoryCache(DefaultConfig())
	defer func() { _ = backend.Close() }()
	rc := NewResponseCache(backend)

	ctx := context.Background()
	e1 := []float32{1, 0, 0}
	_ = rc.Set(ctx, "stream_ask", "q1", 8, cacheEntryFixture(), e1)

	e2 := []float32{0, 1, 0} // orthogonal, cosine 0
	if _, _, ok := rc.SemanticLookup(ctx, e2); ok {
		t.Error("expected miss below similarity threshold")
	}
}

func cacheEntryFixture() types.CacheEntry {
	return types.CacheEntry{
		Sources: []types.ScoredChunk{{ID: 0, Text: "Sun Wukong is the Monkey King.", Score: 91.2}},
		Answer:  "Sun Wukong is the Monkey King, a central figure in Journey to the West.",
	}
}
