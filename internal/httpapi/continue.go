package httpapi

import (
	"net/http"

	"github.com/bookrag/bookrag/internal/broker"
)

type continueRequest struct {
	Prompt string `json:"prompt"`
}

type continueResponse struct {
	Success bool   `json:"success"`
	Story   string `json:"story"`
	Cached  bool   `json:"cached"`
}

func (s *Server) buildContinueRequest(w http.ResponseWriter, r *http.Request, kind string) (*broker.Request, bool) {
	var req continueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeClassifiedError(w, err)
		return nil, false
	}

	messages := s.assembler.AssembleContinue(req.Prompt)
	queryEmbedding := s.embed(r.Context(), req.Prompt)

	return &broker.Request{
		Kind:           kind,
		CacheQuestion:  req.Prompt,
		Messages:       messages,
		QueryEmbedding: queryEmbedding,
	}, true
}

// handleContinue implements POST /api/continue: a one-shot story
// continuation turn, with no retrieval and no persisted history.
func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	req, ok := s.buildContinueRequest(w, r, "continue")
	if !ok {
		return
	}

	result, err := s.engine.Run(r.Context(), *req)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, continueResponse{Success: true, Story: result.Answer, Cached: result.Cached})
}

// handleStreamContinue implements POST /api/stream/continue: the SSE
// variant of handleContinue.
func (s *Server) handleStreamContinue(w http.ResponseWriter, r *http.Request) {
	req, ok := s.buildContinueRequest(w, r, "stream_continue")
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
