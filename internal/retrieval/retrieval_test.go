package retrieval

import (
	"context"
	"testing"

	"github.com/bookrag/bookrag/internal/types"
)

func TestCosineSimilarity_Bounds(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{4, 3, 2, 1}
	sim := CosineSimilarity(a, b)
	if sim < -1 || sim > 1 {
		t.Errorf("cosine similarity %f out of bounds", sim)
	}

	same := CosineSimilarity(a, a)
	if same < 0.999 {
		t.Errorf("expected cosine(a,a) ~= 1, got %f", same)
	}
}

func TestCosineSimilarity_MismatchedDims(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{1, 2}
	if sim := CosineSimilarity(a, b); sim != 0 {
		t.Errorf("expected 0 for mismatched dims, got %f", sim)
	}
}

func TestCosineSimilarity_Empty(t *testing.T) {
	if sim := CosineSimilarity(nil, nil); sim != 0 {
		t.Errorf("expected 0 for empty vectors, got %f", sim)
	}
}

func TestSearch_KeywordOnlyWhenNoEmbedding(t *testing.T) {
	idx := &types.BookIndex{
		Chunks: []types.Chunk{
			types.NewChunk(0, "the monkey king battles heaven"),
			types.NewChunk(1, "a quiet walk in the garden"),
		},
		Embeddings: [][]float32{{1, 0}, {0, 1}},
	}

	results := Search(idx, "monkey king", nil, 2, 0.7)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Chunk.ID != 0 {
		t.Errorf("expected chunk 0 to rank first, got %d", results[0].Chunk.ID)
	}
	if results[0].VectorScore != 0 {
		t.Errorf("expected vector score 0 with no query embedding")
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := &types.BookIndex{}
	results := Search(idx, "anything", nil, 5, 0.5)
	if results != nil {
		t.Errorf("expected nil results for empty index, got %v", results)
	}
}

func TestSearch_TopKLimitsAndOrders(t *testing.T) {
	idx := &types.BookIndex{
		Chunks: []types.Chunk{
			types.NewChunk(0, "apple apple apple"),
			types.NewChunk(1, "apple"),
			types.NewChunk(2, "banana"),
		},
	}
	results := Search(idx, "apple", nil, 2, 1.0)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not sorted descending: %v", results)
	}
}

func TestSearch_DimensionMismatchDegradesToKeyword(t *testing.T) {
	idx := &types.BookIndex{
		Chunks:     []types.Chunk{types.NewChunk(0, "hello world")},
		Embeddings: [][]float32{{1, 2, 3}},
	}
	results := Search(idx, "hello", []float32{1, 2}, 1, 0.5)
	if len(results) != 1 {
		t.Fatalf("expected 1 result")
	}
	if results[0].VectorScore != 0 {
		t.Errorf("expected vector score 0 on dimension mismatch")
	}
}

func TestFileSearcher_DelegatesToSearch(t *testing.T) {
	dir := t.TempDir()
	store := NewIndexStore(dir)
	idx := &types.BookIndex{
		Chunks:     []types.Chunk{types.NewChunk(0, "hello world")},
		Embeddings: [][]float32{{1, 2, 3}},
	}
	if err := store.Write("book", idx); err != nil {
		t.Fatalf("write index: %v", err)
	}

	fs := &FileSearcher{Store: store}
	results, err := fs.Search(context.Background(), "book", "hello", []float32{1, 2, 3}, 1, 0.5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	if _, err := fs.Search(context.Background(), "missing", "hello", nil, 1, 0.5); err == nil {
		t.Errorf("expected error loading missing book index")
	}
}

func TestExtractKeywords_SlidingWindow(t *testing.T) {
	kws := extractKeywords("cat")
	found := map[string]bool{}
	for _, k := range kws {
		found[k] = true
	}
	if !found["cat"] || !found["ca"] || !found["at"] {
		t.Errorf("expected sliding windows of 'cat', got %v", kws)
	}
}
