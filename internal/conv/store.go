// Package conv implements bookrag's conversation store: sliding-window
// chat history with a hard cap, and AI-delegated summarization
// (compaction) triggered once history grows past a threshold.
package conv

import (
	"sync"
	"time"

	"github.com/bookrag/bookrag/internal/types"
)

// DefaultTTL is the shared TTL for a chat_id's history and summary slots.
const DefaultTTL = time.Hour

// Config controls history sizing.
type Config struct {
	MaxHistoryLength   int // default 40 messages (20 rounds)
	SummarizeThreshold int // default 16 messages (8 rounds)
	KeepRecentMessages int // default 8 messages (4 rounds)
	TTL                time.Duration
}

// DefaultConfig returns spec.md §4.3's defaults.
func DefaultConfig() Config {
	return Config{
		MaxHistoryLength:   40,
		SummarizeThreshold: 16,
		KeepRecentMessages: 8,
		TTL:                DefaultTTL,
	}
}

type chatState struct {
	mu       sync.Mutex
	messages []types.ChatMessage
	summary  *types.Summary
	expires  time.Time
}

// Store holds per-chat_id history and summary, keyed with a shared TTL.
// Writes for a single chat_id are serialized via a per-key mutex — see
// DESIGN.md's resolution of the spec's open question on interleaving.
type Store struct {
	cfg Config

	mu    sync.RWMutex
	chats map[string]*chatState
}

// NewStore creates an in-memory conversation store.
func NewStore(cfg Config) *Store {
	if cfg.MaxHistoryLength <= 0 {
		cfg = DefaultConfig()
	}
	return &Store{cfg: cfg, chats: make(map[string]*chatState)}
}

func (s *Store) state(chatID string) *chatState {
	s.mu.RLock()
	st, ok := s.chats[chatID]
	s.mu.RUnlock()
	if ok {
		st.mu.Lock()
		live := s.cfg.TTL <= 0 || time.Now().Before(st.expires)
		st.mu.Unlock()
		if live {
			return st
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.chats[chatID]; ok && cur != st {
		return cur
	}
	st = &chatState{expires: time.Now().Add(s.cfg.TTL)}
	s.chats[chatID] = st
	return st
}

// GetContext returns {summary, messages, total_rounds} for chatID.
func (s *Store) GetContext(chatID string) types.ChatContext {
	st := s.state(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()

	totalRounds := len(st.messages) / 2
	if st.summary != nil {
		totalRounds += st.summary.RoundsSummarized
	}

	msgs := make([]types.ChatMessage, len(st.messages))
	copy(msgs, st.messages)

	return types.ChatContext{
		Summary:     st.summary,
		Messages:    msgs,
		TotalRounds: totalRounds,
	}
}

// Append pushes msg onto chatID's history, dropping the oldest messages
// once the hard cap (2·MaxHistoryLength) is exceeded.
func (s *Store) Append(chatID string, msg types.ChatMessage) {
	st := s.state(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.messages = append(st.messages, msg)
	hardCap := 2 * s.cfg.MaxHistoryLength
	if len(st.messages) > hardCap {
		st.messages = st.messages[len(st.messages)-hardCap:]
	}
	st.expires = time.Now().Add(s.cfg.TTL)
}

// NeedsSummarization reports whether chatID's history has grown past
// SummarizeThreshold messages (already expressed in message units, e.g.
// the default 16 messages = 8 rounds) and must be compacted before the
// next turn uses it.
func (s *Store) NeedsSummarization(chatID string) bool {
	st := s.state(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.messages) >= s.cfg.SummarizeThreshold
}

// Summarizer delegates history compaction to the LLM. Implementations
// receive the existing summary text (if any) and the messages to fold
// into it, and return the new summary text.
type Summarizer interface {
	Summarize(existing string, messages []types.ChatMessage) (string, error)
}

// Compact runs the compaction algorithm for chatID: the summarizer folds
// all but the last KeepRecentMessages messages into the summary, and
// history is truncated to that tail. Invariant maintained:
// summary.rounds_summarized + |history|/2 == total_rounds (before == after).
func (s *Store) Compact(chatID string, summarizer Summarizer) error {
	st := s.state(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()

	keep := s.cfg.KeepRecentMessages
	if len(st.messages) <= keep {
		return nil
	}

	toFold := st.messages[:len(st.messages)-keep]
	existing := ""
	if st.summary != nil {
		existing = st.summary.Text
	}

	newText, err := summarizer.Summarize(existing, toFold)
	if err != nil {
		return err
	}

	roundsFolded := len(toFold) / 2
	rounds := roundsFolded
	if st.summary != nil {
		rounds += st.summary.RoundsSummarized
	}

	now := time.Now()
	createdAt := now
	if st.summary != nil {
		createdAt = st.summary.CreatedAt
	}

	st.summary = &types.Summary{
		Text:             newText,
		RoundsSummarized: rounds,
		CreatedAt:        createdAt,
		UpdatedAt:        now,
	}
	st.messages = append([]types.ChatMessage(nil), st.messages[len(st.messages)-keep:]...)
	return nil
}
