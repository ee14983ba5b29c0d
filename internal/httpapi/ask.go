package httpapi

import (
	"fmt"
	"net/http"

	"github.com/bookrag/bookrag/internal/apperr"
	"github.com/bookrag/bookrag/internal/broker"
)

const defaultTopK = 5

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

type askResponse struct {
	Success  bool               `json:"success"`
	Question string             `json:"question"`
	Answer   string             `json:"answer"`
	Sources  []broker.SourceRef `json:"sources"`
	Cached   bool               `json:"cached"`
}

// buildAskRequest resolves retrieval + prompt assembly shared by
// /api/ask and /api/stream/ask.
func (s *Server) buildAskRequest(w http.ResponseWriter, r *http.Request, kind string) (*broker.Request, bool) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeClassifiedError(w, err)
		return nil, false
	}
	if req.Question == "" {
		writeClassifiedError(w, apperr.ErrMissingQuestion)
		return nil, false
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	stem, err := s.bookStem()
	if err != nil {
		writeClassifiedError(w, err)
		return nil, false
	}

	ctx := r.Context()
	queryEmbedding := s.embed(ctx, req.Question)

	results, err := s.searcher.Search(ctx, stem, req.Question, queryEmbedding, topK, 0.5)
	if err != nil {
		writeClassifiedError(w, fmt.Errorf("%w: %v", apperr.ErrBookNotIndexed, err))
		return nil, false
	}
	sources := toBrokerSources(results)
	messages := s.assembler.AssembleRAG(req.Question, results)

	return &broker.Request{
		Kind:           kind,
		CacheQuestion:  req.Question,
		TopK:           topK,
		Messages:       messages,
		Sources:        sources,
		QueryEmbedding: queryEmbedding,
	}, true
}

// handleAsk implements POST /api/ask: a one-shot RAG turn over the
// configured book.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.buildAskRequest(w, r, "ask")
	if !ok {
		return
	}

	result, err := s.engine.Run(r.Context(), *req)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Success:  true,
		Question: req.CacheQuestion,
		Answer:   result.Answer,
		Sources:  result.Sources,
		Cached:   result.Cached,
	})
}

// handleStreamAsk implements POST /api/stream/ask: the SSE variant of
// handleAsk, driven by broker.Engine.RunStream.
func (s *Server) handleStreamAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.buildAskRequest(w, r, "stream_ask")
	if !ok {
		return
	}

	sw := broker.NewSSEWriter(w)
	if sw == nil {
		writeError(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}

	_ = s.engine.RunStream(r.Context(), *req, sw)
}
