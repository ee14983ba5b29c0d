package conv

import (
	"fmt"
	"testing"

	"github.com/bookrag/bookrag/internal/types"
)

type stubSummarizer struct{}

func (stubSummarizer) Summarize(existing string, messages []types.ChatMessage) (string, error) {
	return fmt.Sprintf("%s + summary of %d messages", existing, len(messages)), nil
}

func populateRounds(s *Store, chatID string, rounds int) {
	for i := 0; i < rounds; i++ {
		s.Append(chatID, types.ChatMessage{Role: types.RoleUser, Content: "q"})
		s.Append(chatID, types.ChatMessage{Role: types.RoleAssistant, Content: "a"})
	}
}

func TestStore_AppendAndGetContext(t *testing.T) {
	s := NewStore(DefaultConfig())
	populateRounds(s, "c1", 3)

	ctx := s.GetContext("c1")
	if len(ctx.Messages) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(ctx.Messages))
	}
	if ctx.TotalRounds != 3 {
		t.Errorf("expected 3 total rounds, got %d", ctx.TotalRounds)
	}
}

func TestStore_HardCapTruncates(t *testing.T) {
	cfg := DefaultConfig()
	s := NewStore(cfg)
	populateRounds(s, "c1", cfg.MaxHistoryLength) // 2x the hard cap in messages

	ctx := s.GetContext("c1")
	if len(ctx.Messages) != cfg.MaxHistoryLength {
		t.Fatalf("expected hard cap %d, got %d", cfg.MaxHistoryLength, len(ctx.Messages))
	}
}

func TestStore_CompactionScenarioS6(t *testing.T) {
	s := NewStore(DefaultConfig())
	populateRounds(s, "c1", 9) // 18 messages, 9 rounds

	if !s.NeedsSummarization("c1") {
		t.Fatal("expected needs_summarization to be true at 18 messages")
	}

	if err := s.Compact("c1", stubSummarizer{}); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	ctx := s.GetContext("c1")
	if len(ctx.Messages) != 8 {
		t.Errorf("expected 8 messages after compaction, got %d", len(ctx.Messages))
	}
	if ctx.Summary == nil || ctx.Summary.RoundsSummarized != 5 {
		t.Errorf("expected rounds_summarized 5, got %+v", ctx.Summary)
	}
	if ctx.TotalRounds != 9 {
		t.Errorf("expected total_rounds to remain 9, got %d", ctx.TotalRounds)
	}
}

func TestStore_NeedsSummarizationFalseBelowThreshold(t *testing.T) {
	s := NewStore(DefaultConfig())
	populateRounds(s, "c1", 4) // 8 messages
	if s.NeedsSummarization("c1") {
		t.Error("expected needs_summarization false at 8 messages")
	}
}
