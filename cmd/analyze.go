package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bookrag/bookrag/internal/retrieval"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [book-stem...]",
	Short: "Report statistics for one or more indexed books",
	Long: `Reads each book's {stem}_index.json and reports its chunk count,
embedding dimension, and average chunk length — useful for sanity-checking
an index right after running "bookrag index".

Example:
  bookrag analyze moby-dick`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cobraCmd *cobra.Command, args []string) error {
	store := retrieval.NewIndexStore(cfg.Retriever.BooksDir)

	for _, arg := range args {
		stem := strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))

		idx, err := store.Load(stem)
		if err != nil {
			fmt.Printf("%s: %v\n", stem, err)
			continue
		}

		var totalLen uint64
		for _, c := range idx.Chunks {
			totalLen += uint64(c.Length)
		}
		avgLen := float64(0)
		if len(idx.Chunks) > 0 {
			avgLen = float64(totalLen) / float64(len(idx.Chunks))
		}

		fmt.Printf("%s:\n", stem)
		fmt.Printf("  chunks:      %d\n", len(idx.Chunks))
		fmt.Printf("  dimension:   %d\n", idx.Dimension())
		fmt.Printf("  avg length:  %.1f chars\n", avgLen)
	}
	return nil
}
