package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bookrag/bookrag/internal/chunker"
	"github.com/bookrag/bookrag/internal/epub"
	"github.com/bookrag/bookrag/internal/indexer"
	"github.com/bookrag/bookrag/internal/llm"
	"github.com/bookrag/bookrag/internal/retrieval"
)

var indexCmd = &cobra.Command{
	Use:   "index [book-file...]",
	Short: "Build or refresh a book's on-disk retrieval index",
	Long: `Extracts text from one or more book files, splits it into overlapping
chunks, embeds each chunk concurrently, and writes {stem}_index.json into
retriever.books_dir.

Example:
  bookrag index ./books/moby-dick.txt --legacy-chunking=false`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().Bool("legacy-chunking", false, "use the previous generation's smaller chunk size/overlap")
	indexCmd.Flags().Int("workers", 0, "embedding worker count (0 = NumCPU)")
	indexCmd.Flags().Bool("progress", true, "show a progress bar while embedding")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cobraCmd *cobra.Command, args []string) error {
	legacy, _ := cobraCmd.Flags().GetBool("legacy-chunking")
	workers, _ := cobraCmd.Flags().GetInt("workers")
	showProgress, _ := cobraCmd.Flags().GetBool("progress")

	if err := os.MkdirAll(cfg.Retriever.BooksDir, 0o755); err != nil {
		return fmt.Errorf("index: create books dir: %w", err)
	}

	gemini := llm.NewGeminiClient(llm.GeminiConfig{
		APIKey:    cfg.GeminiAPIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	embedder, err := newEmbedder(gemini)
	if err != nil {
		return err
	}

	registry := epub.NewRegistry(map[string]epub.Extractor{
		".txt": epub.PlainTextExtractor{},
		".md":  epub.PlainTextExtractor{},
	})
	store := retrieval.NewIndexStore(cfg.Retriever.BooksDir)

	idxCfg := indexer.DefaultConfig()
	idxCfg.ShowProgress = showProgress
	if workers > 0 {
		idxCfg.Workers = workers
	}

	chunkCfg := chunker.DefaultConfig()
	if legacy {
		chunkCfg = chunker.LegacyConfig()
	}

	ctx := context.Background()
	for _, bookPath := range args {
		stem := strings.TrimSuffix(filepath.Base(bookPath), filepath.Ext(bookPath))

		ix := indexer.NewIndexer(embedder, registry.For(bookPath), store, idxCfg)
		stats, err := ix.IndexBook(ctx, bookPath, stem, chunkCfg)
		if err != nil {
			return fmt.Errorf("index: %s: %w", bookPath, err)
		}

		log.WithFields(map[string]interface{}{
			"book":     stem,
			"chunks":   stats.TotalChunks,
			"embedded": stats.EmbeddedChunks,
			"failed":   stats.FailedChunks,
			"duration": stats.Duration(),
		}).Info("bookrag: indexed book")
	}
	return nil
}
