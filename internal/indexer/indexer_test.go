package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bookrag/bookrag/internal/chunker"
	"github.com/bookrag/bookrag/internal/epub"
	"github.com/bookrag/bookrag/internal/retrieval"
)

type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = float32(len(text)%7) / 7.0
	}
	return v, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (f fakeEmbedder) Dimension() int { return f.dim }

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embed failed")
}
func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) { return nil, nil }
func (failingEmbedder) Dimension() int                                           { return 8 }

func writeBook(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestIndexer_IndexBook_Succeeds(t *testing.T) {
	dir := t.TempDir()
	bookPath := writeBook(t, dir, "book.txt", "Paragraph one has some words.\n\nParagraph two has more words still.\n")

	store := retrieval.NewIndexStore(dir)
	idx := NewIndexer(fakeEmbedder{dim: 8}, epub.PlainTextExtractor{}, store, Config{Workers: 2, ShowProgress: false})

	stats, err := idx.IndexBook(context.Background(), bookPath, "book", chunker.DefaultConfig())
	if err != nil {
		t.Fatalf("IndexBook: %v", err)
	}
	if stats.EmbeddedChunks != stats.TotalChunks {
		t.Errorf("expected all %d chunks embedded, got %d", stats.TotalChunks, stats.EmbeddedChunks)
	}

	loaded, err := store.Load("book")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Chunks) != len(loaded.Embeddings) {
		t.Error("chunks/embeddings length mismatch after persist")
	}
}

func TestIndexer_IndexBook_PropagatesEmbedFailure(t *testing.T) {
	dir := t.TempDir()
	bookPath := writeBook(t, dir, "book.txt", "Some text to chunk and fail on.\n")

	store := retrieval.NewIndexStore(dir)
	idx := NewIndexer(failingEmbedder{}, epub.PlainTextExtractor{}, store, Config{Workers: 2, ShowProgress: false})

	_, err := idx.IndexBook(context.Background(), bookPath, "book", chunker.DefaultConfig())
	if err == nil {
		t.Fatal("expected error from failing embedder")
	}
}

func TestIndexer_IndexBook_EmptyTextErrors(t *testing.T) {
	dir := t.TempDir()
	bookPath := writeBook(t, dir, "empty.txt", "")

	store := retrieval.NewIndexStore(dir)
	idx := NewIndexer(fakeEmbedder{dim: 8}, epub.PlainTextExtractor{}, store, Config{Workers: 1, ShowProgress: false})

	_, err := idx.IndexBook(context.Background(), bookPath, "empty", chunker.DefaultConfig())
	if err == nil {
		t.Fatal("expected error for empty book")
	}
}
