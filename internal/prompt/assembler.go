// Package prompt assembles the system+user messages sent upstream for
// each of the streaming broker's ingress kinds (rag, chat, continue).
package prompt

import (
	"strings"

	"github.com/bookrag/bookrag/internal/retrieval"
	"github.com/bookrag/bookrag/internal/types"
)

// Config holds the mode-specific system prompt templates.
type Config struct {
	RAGSystemPrompt      string
	ContinueSystemPrompt string
}

// DefaultConfig returns baseline system prompts for all three modes.
func DefaultConfig() Config {
	return Config{
		RAGSystemPrompt: "You are a helpful assistant answering questions about a book using " +
			"only the context passages provided below. If the answer is not in the context, say so.",
		ContinueSystemPrompt: "You are a creative writing assistant. Continue the story below, " +
			"preserving its tone, voice, and characters.",
	}
}

// Assembler builds ChatMessage sequences for upstream completion calls.
type Assembler struct {
	cfg Config
}

// NewAssembler creates an Assembler with the given mode templates.
func NewAssembler(cfg Config) *Assembler {
	return &Assembler{cfg: cfg}
}

// AssembleRAG builds messages for a rag_stream turn: system prompt, the
// retrieved passages as context, then the question.
func (a *Assembler) AssembleRAG(question string, results []retrieval.Result) []types.ChatMessage {
	var ctx strings.Builder
	for i, r := range results {
		if i > 0 {
			ctx.WriteString("\n\n")
		}
		ctx.WriteString(r.Chunk.Text)
	}

	user := question
	if ctx.Len() > 0 {
		user = "Context:\n" + ctx.String() + "\n\nQuestion: " + question
	}

	return []types.ChatMessage{
		{Role: types.RoleSystem, Content: a.cfg.RAGSystemPrompt},
		{Role: types.RoleUser, Content: user},
	}
}

// AssembleChat builds messages for a chat_stream turn: the persisted
// context (summary folded into a leading system note, then messages),
// followed by the new messages supplied by the caller.
func (a *Assembler) AssembleChat(persisted types.ChatContext, newMessages []types.ChatMessage) []types.ChatMessage {
	var out []types.ChatMessage

	if persisted.Summary != nil && persisted.Summary.Text != "" {
		out = append(out, types.ChatMessage{
			Role:    types.RoleSystem,
			Content: "Summary of earlier conversation: " + persisted.Summary.Text,
		})
	}
	out = append(out, persisted.Messages...)
	out = append(out, newMessages...)
	return out
}

// AssembleContinue builds messages for a continue_stream turn: the
// style-preservation system prompt followed by the partial story.
func (a *Assembler) AssembleContinue(partial string) []types.ChatMessage {
	return []types.ChatMessage{
		{Role: types.RoleSystem, Content: a.cfg.ContinueSystemPrompt},
		{Role: types.RoleUser, Content: partial},
	}
}
