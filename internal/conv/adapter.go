package conv

import (
	"context"

	"github.com/bookrag/bookrag/internal/types"
)

// ConvStore is the ctx-aware interface internal/httpapi programs against,
// satisfied by both the in-memory Store (via StoreAdapter) and RedisStore
// directly, so the HTTP layer is indifferent to which backend is active —
// the same pattern internal/cache uses to keep Redis optional.
type ConvStore interface {
	GetContext(ctx context.Context, chatID string) (types.ChatContext, error)
	Append(ctx context.Context, chatID string, msg types.ChatMessage) error
	NeedsSummarization(ctx context.Context, chatID string) (bool, error)
	Compact(ctx context.Context, chatID string, summarizer Summarizer) error
}

// StoreAdapter lifts the in-memory Store's synchronous methods to the
// ctx-aware ConvStore interface; ctx is otherwise unused since Store never
// performs I/O.
type StoreAdapter struct {
	*Store
}

func (a StoreAdapter) GetContext(_ context.Context, chatID string) (types.ChatContext, error) {
	return a.Store.GetContext(chatID), nil
}

func (a StoreAdapter) Append(_ context.Context, chatID string, msg types.ChatMessage) error {
	a.Store.Append(chatID, msg)
	return nil
}

func (a StoreAdapter) NeedsSummarization(_ context.Context, chatID string) (bool, error) {
	return a.Store.NeedsSummarization(chatID), nil
}

func (a StoreAdapter) Compact(_ context.Context, chatID string, s Summarizer) error {
	return a.Store.Compact(chatID, s)
}
