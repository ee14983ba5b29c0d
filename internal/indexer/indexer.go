// Package indexer turns a book file into a persisted BookIndex: chunk the
// extracted text, embed the chunks concurrently, and write the result
// atomically. The fan-out/fan-in worker-pool shape is grounded on the
// teacher's ingestion pipeline, retargeted from Pinecone vector upload to
// local chunk embedding.
package indexer

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/bookrag/bookrag/internal/chunker"
	"github.com/bookrag/bookrag/internal/epub"
	"github.com/bookrag/bookrag/internal/llm"
	"github.com/bookrag/bookrag/internal/retrieval"
	"github.com/bookrag/bookrag/internal/types"
)

// Config controls the embedding fan-out.
type Config struct {
	Workers      int
	BatchSize    int
	ShowProgress bool
}

// DefaultConfig mirrors the teacher's ingestion pipeline defaults, scaled
// to CPU count.
func DefaultConfig() Config {
	return Config{
		Workers:      runtime.NumCPU(),
		BatchSize:    16,
		ShowProgress: true,
	}
}

// Stats tracks indexing progress and throughput.
type Stats struct {
	TotalChunks    int
	EmbeddedChunks int
	FailedChunks   int
	StartTime      time.Time
	EndTime        time.Time
}

// Duration returns elapsed processing time.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Indexer builds and persists a BookIndex for one book file.
type Indexer struct {
	cfg       Config
	embedder  llm.Embedder
	extractor epub.Extractor
	store     *retrieval.IndexStore
}

// NewIndexer constructs an Indexer from an embedder, a text extractor, and
// the on-disk store that will receive the finished index.
func NewIndexer(embedder llm.Embedder, extractor epub.Extractor, store *retrieval.IndexStore, cfg Config) *Indexer {
	if cfg.Workers <= 0 {
		cfg = DefaultConfig()
	}
	return &Indexer{cfg: cfg, embedder: embedder, extractor: extractor, store: store}
}

type chunkJob struct {
	idx   int
	chunk types.Chunk
}

type chunkResult struct {
	idx       int
	embedding []float32
	err       error
}

// IndexBook extracts, chunks, and embeds bookPath, writing the resulting
// BookIndex under stem. It returns the final Stats for CLI reporting.
func (idx *Indexer) IndexBook(ctx context.Context, bookPath, stem string, chunkCfg chunker.Config) (*Stats, error) {
	text, _, err := idx.extractor.Extract(bookPath)
	if err != nil {
		return nil, fmt.Errorf("indexer: extract %s: %w", bookPath, err)
	}

	normalized := chunker.Normalize(text)
	chunks := chunker.Chunk(normalized, chunkCfg)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("indexer: %s produced no chunks", bookPath)
	}

	stats := &Stats{TotalChunks: len(chunks), StartTime: time.Now()}
	embeddings := make([][]float32, len(chunks))

	var bar *progressbar.ProgressBar
	if idx.cfg.ShowProgress {
		bar = progressbar.Default(int64(len(chunks)), fmt.Sprintf("embedding %s", stem))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan chunkJob, idx.cfg.ChannelBufferOrDefault())
	results := make(chan chunkResult, idx.cfg.ChannelBufferOrDefault())

	var wg sync.WaitGroup
	for w := 0; w < idx.cfg.Workers; w++ {
		wg.Add(1)
		go idx.worker(ctx, &wg, jobs, results)
	}

	go func() {
		defer close(jobs)
		for i, c := range chunks {
			select {
			case jobs <- chunkJob{idx: i, chunk: c}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for res := range results {
		if res.err != nil {
			stats.FailedChunks++
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		embeddings[res.idx] = res.embedding
		stats.EmbeddedChunks++
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	stats.EndTime = time.Now()

	if firstErr != nil {
		return stats, fmt.Errorf("indexer: embedding failed: %w", firstErr)
	}

	if err := idx.store.Write(stem, &types.BookIndex{Chunks: chunks, Embeddings: embeddings}); err != nil {
		return stats, fmt.Errorf("indexer: write index: %w", err)
	}
	return stats, nil
}

// ChannelBufferOrDefault mirrors the teacher's 1000-item channel buffer,
// scaled down for per-book chunk counts.
func (c Config) ChannelBufferOrDefault() int {
	if c.BatchSize > 0 {
		return c.BatchSize * 4
	}
	return 64
}

func (idx *Indexer) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan chunkJob, results chan<- chunkResult) {
	defer wg.Done()
	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		vec, err := idx.embedder.Embed(ctx, job.chunk.Text)
		select {
		case results <- chunkResult{idx: job.idx, embedding: vec, err: err}:
		case <-ctx.Done():
			return
		}
	}
}
