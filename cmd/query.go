package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bookrag/bookrag/internal/llm"
	"github.com/bookrag/bookrag/internal/prompt"
	"github.com/bookrag/bookrag/internal/retrieval"
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a one-shot question against an indexed book from the CLI",
	Long: `Runs a single non-streaming retrieval+completion turn against a book's
on-disk index, printing the retrieved sources and the answer. Useful for
testing retrieval tuning without starting the HTTP server.

Example:
  bookrag query "Who is the narrator?" --book moby-dick`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().String("book", "", "book stem to query (defaults to BOOK_PATH's stem)")
	queryCmd.Flags().Int("top-k", 5, "number of chunks to retrieve")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cobraCmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	stem, _ := cobraCmd.Flags().GetString("book")
	if stem == "" && cfg.BookPath != "" {
		base := filepath.Base(cfg.BookPath)
		stem = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if stem == "" {
		return fmt.Errorf("query: no --book given and BOOK_PATH is not configured")
	}
	topK, _ := cobraCmd.Flags().GetInt("top-k")

	ctx := context.Background()
	gemini := llm.NewGeminiClient(llm.GeminiConfig{
		APIKey:    cfg.GeminiAPIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	embedder, err := newEmbedder(gemini)
	if err != nil {
		return err
	}

	store := retrieval.NewIndexStore(cfg.Retriever.BooksDir)
	idx, err := store.Load(stem)
	if err != nil {
		return fmt.Errorf("query: load index for %q: %w", stem, err)
	}

	queryEmbedding, err := embedder.Embed(ctx, question)
	if err != nil {
		log.WithError(err).Warn("query: embedding failed, falling back to keyword-only search")
	}

	results := retrieval.Search(idx, question, queryEmbedding, topK, 0.5)
	fmt.Println("Sources:")
	for _, r := range results {
		fmt.Printf("  [%d] score=%.4f method=%s\n      %s\n", r.Chunk.ID, r.Score, r.Method, truncateLine(r.Chunk.Text, 160))
	}

	assembler := prompt.NewAssembler(prompt.DefaultConfig())
	messages := assembler.AssembleRAG(question, results)

	answer, err := gemini.Complete(ctx, messages)
	if err != nil {
		return fmt.Errorf("query: completion failed: %w", err)
	}

	fmt.Println("\nAnswer:")
	fmt.Println(answer)
	return nil
}

func truncateLine(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return strings.ReplaceAll(s, "\n", " ")
	}
	return strings.ReplaceAll(string(r[:n]), "\n", " ") + "..."
}
