package httpapi

import (
	"net/http"
	"time"
)

type cacheStatsResponse struct {
	Connected   bool    `json:"connected"`
	CachedItems int64   `json:"cached_items"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
}

// handleCacheStats implements GET /api/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.respCache.Stats()
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		Connected:   true,
		CachedItems: stats.Size,
		Hits:        stats.Hits,
		Misses:      stats.Misses,
		HitRate:     stats.HitRate(),
	})
}

type vectorStatsResponse struct {
	Initialized bool   `json:"initialized"`
	Book        string `json:"book,omitempty"`
	VectorCount int    `json:"vector_count"`
	Dimension   int    `json:"dimension"`
}

// handleVectorStats implements GET /api/vectors/stats: reports the
// configured book's index size, if one is indexed.
func (s *Server) handleVectorStats(w http.ResponseWriter, r *http.Request) {
	stem, err := s.bookStem()
	if err != nil {
		writeJSON(w, http.StatusOK, vectorStatsResponse{Initialized: false})
		return
	}
	idx, err := s.indexStore.Load(stem)
	if err != nil {
		writeJSON(w, http.StatusOK, vectorStatsResponse{Initialized: false, Book: stem})
		return
	}
	writeJSON(w, http.StatusOK, vectorStatsResponse{
		Initialized: true,
		Book:        stem,
		VectorCount: len(idx.Chunks),
		Dimension:   idx.Dimension(),
	})
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// handleHealth implements GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now().Unix()})
}
