package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/bookrag/bookrag/internal/llm"
	"github.com/bookrag/bookrag/internal/types"
)

// SummarizeSystemPrompt instructs the completer to fold older turns into
// a running summary, per spec.md §4.3's "AI-delegated summarization".
const SummarizeSystemPrompt = "Summarize the following conversation turns concisely, " +
	"preserving names, facts, and decisions a later turn might need. If a prior summary " +
	"is given, merge it with the new turns rather than replacing it."

// LLMSummarizer implements conv.Summarizer by delegating compaction to a
// completer, matching spec.md §4.3's explicit statement that
// summarization is "entirely LLM-delegated", not a local heuristic.
type LLMSummarizer struct {
	Completer llm.Completer
}

// Summarize folds existing (if any) and messages into a new summary text
// via a single-shot completion.
func (s *LLMSummarizer) Summarize(existing string, messages []types.ChatMessage) (string, error) {
	var body strings.Builder
	if existing != "" {
		body.WriteString("Prior summary:\n")
		body.WriteString(existing)
		body.WriteString("\n\nNew turns:\n")
	}
	for _, m := range messages {
		fmt.Fprintf(&body, "%s: %s\n", m.Role, m.Content)
	}

	req := []types.ChatMessage{
		{Role: types.RoleSystem, Content: SummarizeSystemPrompt},
		{Role: types.RoleUser, Content: body.String()},
	}

	text, err := s.Completer.Complete(context.Background(), req)
	if err != nil {
		return "", fmt.Errorf("prompt: summarize: %w", err)
	}
	return text, nil
}
