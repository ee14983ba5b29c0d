package broker

import (
	"context"
	"fmt"

	"github.com/bookrag/bookrag/internal/cache"
	"github.com/bookrag/bookrag/internal/llm"
	"github.com/bookrag/bookrag/internal/types"
)

// Request is one turn handed to the Engine: either a ready-to-send
// message sequence (rag/chat/continue already assembled by
// internal/prompt) or nothing at all if the caller only wants a
// non-streaming Answer back.
type Request struct {
	// Kind is the cache fingerprint namespace, e.g. "stream_ask", "ask",
	// "stream_chat", "chat", "stream_continue", "continue"; the WebSocket
	// handlers use "ws_ask", "ws_chat" and "ws_continue".
	Kind string
	// CacheQuestion is the canonical text hashed into the exact-tier key
	// and compared in the semantic tier (the user's question for rag,
	// the last user message for chat, the partial prompt for continue).
	CacheQuestion string
	TopK          int
	// Messages is the fully assembled prompt for the upstream call.
	Messages []types.ChatMessage
	// Sources are the retrieved passages to report on a cache miss (rag
	// only; empty for chat/continue).
	Sources []SourceRef
	// QueryEmbedding, if non-empty, is consulted for a semantic-tier hit
	// and recorded alongside a fresh cache write.
	QueryEmbedding []float32
}

// Result is the outcome of a non-streaming Run.
type Result struct {
	Sources []SourceRef
	Answer  string
	Cached  bool
	Tier    string // "exact", "semantic", or "miss"
}

// Engine binds the response cache to an upstream Completer and drives
// both the non-streaming (Run) and streaming (RunStream) request
// lifecycles described in spec.md §4.5.
type Engine struct {
	Cache     *cache.ResponseCache
	Completer llm.Completer

	// OnCacheResult, if set, is called once per Run/RunStream invocation
	// with the tier that resolved the request ("exact", "semantic", or
	// "miss"), for metrics instrumentation.
	OnCacheResult func(tier string)
	// OnStreamToken, if set, is called once per forwarded (non-thought)
	// content token during RunStream, for metrics instrumentation.
	OnStreamToken func(kind string)
}

func (e *Engine) recordCacheResult(tier string) {
	if e.OnCacheResult != nil {
		e.OnCacheResult(tier)
	}
}

// lookup performs the exact-then-semantic cache check shared by Run and
// RunStream.
func (e *Engine) lookup(ctx context.Context, req Request) (*types.CacheEntry, string, *cache.Match) {
	if entry, ok := e.Cache.Get(ctx, req.Kind, req.CacheQuestion, req.TopK); ok {
		return entry, "exact", nil
	}
	if entry, match, ok := e.Cache.SemanticLookup(ctx, req.QueryEmbedding); ok {
		return entry, "semantic", match
	}
	return nil, "miss", nil
}

func toSourceRefs(sources []types.ScoredChunk) []SourceRef {
	out := make([]SourceRef, len(sources))
	for i, s := range sources {
		out[i] = SourceRef{ID: s.ID, Text: s.Text, Score: s.Score}
	}
	return out
}

func toScoredChunks(sources []SourceRef) []types.ScoredChunk {
	out := make([]types.ScoredChunk, len(sources))
	for i, s := range sources {
		out[i] = types.ScoredChunk{ID: s.ID, Text: s.Text, Score: s.Score}
	}
	return out
}

// Run executes a non-streaming turn: cache check, and on a miss, a
// single-shot upstream completion followed by a cache write. Cache
// purity (spec.md §8 invariant 4) follows directly from always
// returning the stored/produced sources+answer pair unchanged.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if entry, tier, match := e.lookup(ctx, req); tier != "miss" {
		e.recordCacheResult(tier)
		sources := toSourceRefs(entry.Sources)
		_ = match
		return &Result{Sources: sources, Answer: entry.Answer, Cached: true, Tier: tier}, nil
	}
	e.recordCacheResult("miss")

	answer, err := e.Completer.Complete(ctx, req.Messages)
	if err != nil {
		return nil, fmt.Errorf("broker: upstream completion failed: %w", err)
	}

	entry := types.CacheEntry{Sources: toScoredChunks(req.Sources), Answer: answer}
	if err := e.Cache.Set(ctx, req.Kind, req.CacheQuestion, req.TopK, entry, req.QueryEmbedding); err != nil {
		// Cache-write failure degrades to a no-op per spec.md §7; never
		// surfaced to the client.
	}

	return &Result{Sources: req.Sources, Answer: answer, Cached: false, Tier: "miss"}, nil
}

// RunStream drives the full per-request state machine of spec.md §4.5
// over w: cache check, sources/cached/content/done|error emission,
// upstream streaming with thought-filtering, and a cache write on clean
// completion only. Cancelling ctx (client disconnect) stops the upstream
// call and suppresses the cache write, never emitting `error`.
func (e *Engine) RunStream(ctx context.Context, req Request, w Writer) error {
	if entry, tier, match := e.lookup(ctx, req); tier != "miss" {
		e.recordCacheResult(tier)
		sources := entry.Sources
		if err := w.WriteSources(toSourceRefs(sources)); err != nil {
			return err
		}
		if tier == "exact" {
			if err := w.WriteCachedExact(); err != nil {
				return err
			}
		} else {
			if err := w.WriteCachedSemantic(match.MatchedQuestion, match.Similarity*100); err != nil {
				return err
			}
		}
		if err := w.WriteContent(entry.Answer); err != nil {
			return err
		}
		return w.WriteDone()
	}
	e.recordCacheResult("miss")

	if err := w.WriteSources(req.Sources); err != nil {
		return err
	}

	events, err := e.Completer.Stream(ctx, req.Messages)
	if err != nil {
		_ = w.WriteError(err.Error())
		return err
	}

	var accumulated []byte
	for ev := range events {
		select {
		case <-ctx.Done():
			// Client disconnect: stop forwarding, suppress the cache
			// write, and emit nothing further (not even `error`).
			return ctx.Err()
		default:
		}

		if ev.Err != nil {
			return w.WriteError(ev.Err.Error())
		}
		if ev.Done {
			break
		}
		if ev.IsThought {
			continue
		}
		if ev.Text == "" {
			continue
		}
		if err := w.WriteContent(ev.Text); err != nil {
			return err
		}
		accumulated = append(accumulated, ev.Text...)
		if e.OnStreamToken != nil {
			e.OnStreamToken(req.Kind)
		}
	}

	entry := types.CacheEntry{Sources: toScoredChunks(req.Sources), Answer: string(accumulated)}
	if err := e.Cache.Set(ctx, req.Kind, req.CacheQuestion, req.TopK, entry, req.QueryEmbedding); err != nil {
		// Degraded no-op, per spec.md §4.4/§7.
	}

	return w.WriteDone()
}
