// Package httpapi implements bookrag's REST+WebSocket HTTP surface
// (spec.md §6): one-shot and streaming ask/chat/continue endpoints, plus
// cache/vector/health introspection. It is a thin binding layer over
// internal/broker, internal/cache, internal/conv, internal/retrieval, and
// internal/prompt — the request lifecycle itself lives in those packages.
package httpapi

import (
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bookrag/bookrag/internal/broker"
	"github.com/bookrag/bookrag/internal/cache"
	"github.com/bookrag/bookrag/internal/config"
	"github.com/bookrag/bookrag/internal/conv"
	"github.com/bookrag/bookrag/internal/llm"
	"github.com/bookrag/bookrag/internal/metrics"
	"github.com/bookrag/bookrag/internal/prompt"
	"github.com/bookrag/bookrag/internal/retrieval"
	"github.com/bookrag/bookrag/internal/telemetry"
)

// Server binds the REST+WS handlers to their collaborators. One Server
// is built per process in cmd/serve.go.
type Server struct {
	cfg        config.Config
	log        *logrus.Logger
	indexStore *retrieval.IndexStore
	searcher   retrieval.Searcher
	embedder   llm.Embedder
	completer  llm.Completer
	assembler  *prompt.Assembler
	convStore  conv.ConvStore
	engine     *broker.Engine
	respCache  *cache.ResponseCache
	metrics    *metrics.Metrics
	tracer     *telemetry.Provider

	// chatLocks serializes the read-summarize-compact-append sequence
	// per chat_id, mirroring the per-key locking conv.Store already uses
	// internally — needed here too since RedisStore does not serialize
	// its own read-modify-write cycle (see conv.RedisStore's doc comment).
	chatLocksMu sync.Mutex
	chatLocks   map[string]*sync.Mutex
}

// NewServer wires a Server from its collaborators.
func NewServer(
	cfg config.Config,
	log *logrus.Logger,
	indexStore *retrieval.IndexStore,
	searcher retrieval.Searcher,
	embedder llm.Embedder,
	completer llm.Completer,
	assembler *prompt.Assembler,
	convStore conv.ConvStore,
	respCache *cache.ResponseCache,
	m *metrics.Metrics,
	tracer *telemetry.Provider,
) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		indexStore: indexStore,
		searcher:   searcher,
		embedder:   embedder,
		completer:  completer,
		assembler:  assembler,
		convStore:  convStore,
		respCache:  respCache,
		metrics:    m,
		tracer:     tracer,
		chatLocks:  make(map[string]*sync.Mutex),
	}
	s.engine = &broker.Engine{
		Cache:     respCache,
		Completer: completer,
		OnCacheResult: func(tier string) {
			m.RecordCacheResult(tier)
		},
		OnStreamToken: func(kind string) {
			m.RecordStreamToken(kind)
		},
	}
	return s
}

// chatLock returns the per-chat_id mutex, creating it on first use.
func (s *Server) chatLock(chatID string) *sync.Mutex {
	s.chatLocksMu.Lock()
	defer s.chatLocksMu.Unlock()
	mu, ok := s.chatLocks[chatID]
	if !ok {
		mu = &sync.Mutex{}
		s.chatLocks[chatID] = mu
	}
	return mu
}

// Routes builds the full mux: REST endpoints, streaming endpoints, the
// WebSocket endpoint, and Prometheus's /metrics.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/ask", s.metrics.Middleware("ask", s.handleAsk))
	mux.HandleFunc("/api/chat", s.metrics.Middleware("chat", s.handleChat))
	mux.HandleFunc("/api/continue", s.metrics.Middleware("continue", s.handleContinue))
	mux.HandleFunc("/api/stream/ask", s.metrics.Middleware("stream_ask", s.handleStreamAsk))
	mux.HandleFunc("/api/stream/chat", s.metrics.Middleware("stream_chat", s.handleStreamChat))
	mux.HandleFunc("/api/stream/continue", s.metrics.Middleware("stream_continue", s.handleStreamContinue))
	mux.HandleFunc("/api/cache/stats", s.metrics.Middleware("cache_stats", s.handleCacheStats))
	mux.HandleFunc("/api/vectors/stats", s.metrics.Middleware("vectors_stats", s.handleVectorStats))
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", s.metrics.Handler())

	return mux
}
