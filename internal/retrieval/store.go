package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bookrag/bookrag/internal/types"
)

// Searcher is the book-index backend Search abstraction RETRIEVER_BACKEND
// selects between: the default on-disk FileSearcher, or QdrantSearcher when
// the deployment centralizes vectors in an external Qdrant collection.
// book is always the book's stem (filename without extension).
type Searcher interface {
	Search(ctx context.Context, book, query string, queryEmbedding []float32, topK int, keywordWeight float64) ([]Result, error)
}

// FileSearcher is the default Searcher, backing onto an IndexStore's
// on-disk {stem}_index.json files and bookrag's own hybrid lexical+vector
// fusion (Search, in retrieval.go).
type FileSearcher struct {
	Store *IndexStore
}

// Search loads book's index (lazily, cached by the underlying IndexStore)
// and runs the hybrid fused search over it.
func (f *FileSearcher) Search(_ context.Context, book, query string, queryEmbedding []float32, topK int, keywordWeight float64) ([]Result, error) {
	idx, err := f.Store.Load(book)
	if err != nil {
		return nil, err
	}
	return Search(idx, query, queryEmbedding, topK, keywordWeight), nil
}

// IndexStore loads and caches per-book BookIndex values from on-disk
// {stem}_index.json files. A book is loaded lazily on first reference and
// owned by the store for the process lifetime — read-only after load.
type IndexStore struct {
	dir string

	mu      sync.RWMutex
	indexes map[string]*types.BookIndex
}

// NewIndexStore creates a store rooted at dir (the books directory).
func NewIndexStore(dir string) *IndexStore {
	return &IndexStore{dir: dir, indexes: make(map[string]*types.BookIndex)}
}

// Load returns the BookIndex for the given book stem, reading
// {stem}_index.json on first reference and caching it thereafter.
func (s *IndexStore) Load(stem string) (*types.BookIndex, error) {
	s.mu.RLock()
	if idx, ok := s.indexes[stem]; ok {
		s.mu.RUnlock()
		return idx, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.indexes[stem]; ok {
		return idx, nil
	}

	path := filepath.Join(s.dir, stem+"_index.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("retrieval: read index for %q: %w", stem, err)
	}

	var idx types.BookIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("retrieval: parse index for %q: %w", stem, err)
	}
	if len(idx.Chunks) != len(idx.Embeddings) {
		return nil, fmt.Errorf("retrieval: index for %q has %d chunks but %d embeddings", stem, len(idx.Chunks), len(idx.Embeddings))
	}

	s.indexes[stem] = &idx
	return &idx, nil
}

// HasIndex reports whether an index file exists for stem without loading
// or parsing it.
func (s *IndexStore) HasIndex(stem string) bool {
	path := filepath.Join(s.dir, stem+"_index.json")
	_, err := os.Stat(path)
	return err == nil
}

// Write atomically persists idx as {stem}_index.json (write-then-rename),
// and caches it.
func (s *IndexStore) Write(stem string, idx *types.BookIndex) error {
	if len(idx.Chunks) != len(idx.Embeddings) {
		return fmt.Errorf("retrieval: cannot write index for %q: %d chunks vs %d embeddings", stem, len(idx.Chunks), len(idx.Embeddings))
	}

	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("retrieval: marshal index for %q: %w", stem, err)
	}

	path := filepath.Join(s.dir, stem+"_index.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("retrieval: write temp index for %q: %w", stem, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("retrieval: rename temp index for %q: %w", stem, err)
	}

	s.mu.Lock()
	s.indexes[stem] = idx
	s.mu.Unlock()
	return nil
}
