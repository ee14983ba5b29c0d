package conv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bookrag/bookrag/internal/types"
	"github.com/redis/go-redis/v9"
)

// persisted is the JSON shape written to Redis for one chat_id.
type persisted struct {
	Messages []types.ChatMessage `json:"messages"`
	Summary  *types.Summary      `json:"summary,omitempty"`
}

// RedisStore is a durable counterpart to Store, keeping the same
// semantics (hard cap, compaction, shared TTL) but backing history and
// summary to Redis so conversations survive a server restart. Selected
// when REDIS_HOST is configured; falls back to Store otherwise.
type RedisStore struct {
	cfg    Config
	client *redis.Client
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client *redis.Client, cfg Config) *RedisStore {
	if cfg.MaxHistoryLength <= 0 {
		cfg = DefaultConfig()
	}
	return &RedisStore{cfg: cfg, client: client}
}

func (s *RedisStore) key(chatID string) string {
	return "bookrag:chat:" + chatID
}

func (s *RedisStore) load(ctx context.Context, chatID string) (persisted, error) {
	raw, err := s.client.Get(ctx, s.key(chatID)).Bytes()
	if err == redis.Nil {
		return persisted{}, nil
	}
	if err != nil {
		return persisted{}, fmt.Errorf("conv: redis get: %w", err)
	}
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return persisted{}, fmt.Errorf("conv: unmarshal chat state: %w", err)
	}
	return p, nil
}

func (s *RedisStore) save(ctx context.Context, chatID string, p persisted) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("conv: marshal chat state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(chatID), data, s.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("conv: redis set: %w", err)
	}
	return nil
}

// GetContext mirrors Store.GetContext against the Redis-backed state.
func (s *RedisStore) GetContext(ctx context.Context, chatID string) (types.ChatContext, error) {
	p, err := s.load(ctx, chatID)
	if err != nil {
		return types.ChatContext{}, err
	}

	totalRounds := len(p.Messages) / 2
	if p.Summary != nil {
		totalRounds += p.Summary.RoundsSummarized
	}
	return types.ChatContext{Summary: p.Summary, Messages: p.Messages, TotalRounds: totalRounds}, nil
}

// Append mirrors Store.Append. Callers must serialize writes per chat_id
// themselves (e.g. via a per-process keyed mutex) since Redis alone does
// not guarantee read-modify-write atomicity here.
func (s *RedisStore) Append(ctx context.Context, chatID string, msg types.ChatMessage) error {
	p, err := s.load(ctx, chatID)
	if err != nil {
		return err
	}

	p.Messages = append(p.Messages, msg)
	hardCap := 2 * s.cfg.MaxHistoryLength
	if len(p.Messages) > hardCap {
		p.Messages = p.Messages[len(p.Messages)-hardCap:]
	}
	return s.save(ctx, chatID, p)
}

// NeedsSummarization mirrors Store.NeedsSummarization.
func (s *RedisStore) NeedsSummarization(ctx context.Context, chatID string) (bool, error) {
	p, err := s.load(ctx, chatID)
	if err != nil {
		return false, err
	}
	return len(p.Messages) >= s.cfg.SummarizeThreshold, nil
}

// Compact mirrors Store.Compact.
func (s *RedisStore) Compact(ctx context.Context, chatID string, summarizer Summarizer) error {
	p, err := s.load(ctx, chatID)
	if err != nil {
		return err
	}

	keep := s.cfg.KeepRecentMessages
	if len(p.Messages) <= keep {
		return nil
	}

	toFold := p.Messages[:len(p.Messages)-keep]
	existing := ""
	if p.Summary != nil {
		existing = p.Summary.Text
	}

	newText, err := summarizer.Summarize(existing, toFold)
	if err != nil {
		return err
	}

	rounds := len(toFold) / 2
	if p.Summary != nil {
		rounds += p.Summary.RoundsSummarized
	}

	now := time.Now()
	createdAt := now
	if p.Summary != nil {
		createdAt = p.Summary.CreatedAt
	}

	p.Summary = &types.Summary{Text: newText, RoundsSummarized: rounds, CreatedAt: createdAt, UpdatedAt: now}
	p.Messages = append([]types.ChatMessage(nil), p.Messages[len(p.Messages)-keep:]...)
	return s.save(ctx, chatID, p)
}
