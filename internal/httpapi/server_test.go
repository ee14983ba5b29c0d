package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/bookrag/bookrag/internal/cache"
	"github.com/bookrag/bookrag/internal/config"
	"github.com/bookrag/bookrag/internal/conv"
	"github.com/bookrag/bookrag/internal/llm"
	"github.com/bookrag/bookrag/internal/metrics"
	"github.com/bookrag/bookrag/internal/prompt"
	"github.com/bookrag/bookrag/internal/retrieval"
	"github.com/bookrag/bookrag/internal/types"
)

func decodeResponseBody(rec *httptest.ResponseRecorder, v interface{}) error {
	return json.Unmarshal(rec.Body.Bytes(), v)
}

func newTestServer(t *testing.T, stem string, chunks []types.Chunk) (*Server, *stubCompleterImpl) {
	t.Helper()

	dir := t.TempDir()
	store := retrieval.NewIndexStore(dir)
	if stem != "" {
		idx := &types.BookIndex{Chunks: chunks, Embeddings: make([][]float32, len(chunks))}
		if err := store.Write(stem, idx); err != nil {
			t.Fatalf("write index: %v", err)
		}
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.DefaultConfig()
	if stem != "" {
		cfg.BookPath = stem + ".txt"
	}

	completer := &stubCompleterImpl{answer: "42"}
	respCache := cache.NewResponseCache(cache.NewMemoryCache(cache.DefaultConfig()))
	convStore := conv.StoreAdapter{Store: conv.NewStore(conv.DefaultConfig())}
	assembler := prompt.NewAssembler(prompt.DefaultConfig())

	srv := NewServer(cfg, log, store, &retrieval.FileSearcher{Store: store}, nil, completer, assembler, convStore, respCache, metrics.New(), nil)
	return srv, completer
}

// stubCompleterImpl implements llm.Completer with a fixed answer.
type stubCompleterImpl struct {
	answer string
	err    error
}

func (c *stubCompleterImpl) Complete(_ context.Context, _ []types.ChatMessage) (string, error) {
	return c.answer, c.err
}

func (c *stubCompleterImpl) Stream(_ context.Context, _ []types.ChatMessage) (<-chan llm.Event, error) {
	if c.err != nil {
		return nil, c.err
	}
	ch := make(chan llm.Event, 2)
	ch <- llm.Event{Text: c.answer}
	ch <- llm.Event{Done: true}
	close(ch)
	return ch, nil
}

func TestHandleAsk_NoBookConfigured(t *testing.T) {
	srv, _ := newTestServer(t, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"what happens?"}`))
	rec := httptest.NewRecorder()
	srv.handleAsk(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 with no book configured, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleAsk_MissingQuestion(t *testing.T) {
	srv, _ := newTestServer(t, "journey", []types.Chunk{types.NewChunk(0, "the road was long")})

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":""}`))
	rec := httptest.NewRecorder()
	srv.handleAsk(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing question, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleAsk_Success(t *testing.T) {
	srv, completer := newTestServer(t, "journey", []types.Chunk{types.NewChunk(0, "the travelers reached the bridge at dawn")})
	completer.answer = "they crossed the bridge"

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"what did the travelers do?"}`))
	rec := httptest.NewRecorder()
	srv.handleAsk(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "they crossed the bridge") {
		t.Errorf("expected answer in body, got %s", rec.Body.String())
	}
}

func TestHandleAsk_CachesSecondCall(t *testing.T) {
	srv, completer := newTestServer(t, "journey", []types.Chunk{types.NewChunk(0, "the travelers reached the bridge at dawn")})
	completer.answer = "first answer"

	body := `{"question":"what happened at the bridge?"}`
	req1 := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
	rec1 := httptest.NewRecorder()
	srv.handleAsk(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first call: expected 200, got %d", rec1.Code)
	}

	// Change the stub's answer; a cache hit must still return the first
	// answer, proving the exact tier served the second call.
	completer.answer = "second answer"
	req2 := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
	rec2 := httptest.NewRecorder()
	srv.handleAsk(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("second call: expected 200, got %d", rec2.Code)
	}
	if !strings.Contains(rec2.Body.String(), "first answer") {
		t.Errorf("expected cached first answer, got %s", rec2.Body.String())
	}
	if !strings.Contains(rec2.Body.String(), `"cached":true`) {
		t.Errorf("expected cached:true, got %s", rec2.Body.String())
	}
}

func TestHandleChat_AssignsChatIDAndPersistsHistory(t *testing.T) {
	srv, completer := newTestServer(t, "", nil)
	completer.answer = "nice to meet you"

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(
		`{"messages":[{"role":"user","content":"hello there"}]}`))
	rec := httptest.NewRecorder()
	srv.handleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := decodeResponseBody(rec, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ChatID == "" {
		t.Fatal("expected a generated chat_id")
	}

	ctx := req.Context()
	history, err := srv.convStore.GetContext(ctx, resp.ChatID)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("expected 2 persisted messages (user+assistant), got %d", len(history.Messages))
	}
	if history.Messages[1].Role != types.RoleAssistant || history.Messages[1].Content != "nice to meet you" {
		t.Errorf("unexpected assistant message: %+v", history.Messages[1])
	}
}

func TestHandleChat_MissingMessages(t *testing.T) {
	srv, _ := newTestServer(t, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	srv.handleChat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty messages, got %d", rec.Code)
	}
}

func TestHandleContinue_Success(t *testing.T) {
	srv, completer := newTestServer(t, "", nil)
	completer.answer = "...and the sun rose over the valley."

	req := httptest.NewRequest(http.MethodPost, "/api/continue", strings.NewReader(`{"prompt":"the night was quiet"}`))
	rec := httptest.NewRecorder()
	srv.handleContinue(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "sun rose") {
		t.Errorf("expected story in body, got %s", rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("expected status ok, got %s", rec.Body.String())
	}
}

func TestHandleVectorStats_NotInitialized(t *testing.T) {
	srv, _ := newTestServer(t, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/vectors/stats", nil)
	rec := httptest.NewRecorder()
	srv.handleVectorStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"initialized":false`) {
		t.Errorf("expected initialized:false, got %s", rec.Body.String())
	}
}

func TestHandleVectorStats_Initialized(t *testing.T) {
	srv, _ := newTestServer(t, "journey", []types.Chunk{
		types.NewChunk(0, "the road was long"),
		types.NewChunk(1, "the bridge was old"),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/vectors/stats", nil)
	rec := httptest.NewRecorder()
	srv.handleVectorStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"vector_count":2`) {
		t.Errorf("expected vector_count:2, got %s", rec.Body.String())
	}
}

func TestHandleAsk_UpstreamErrorIsClassified(t *testing.T) {
	srv, completer := newTestServer(t, "journey", []types.Chunk{types.NewChunk(0, "the road was long")})
	completer.err = errors.New("boom")

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"what happened?"}`))
	rec := httptest.NewRecorder()
	srv.handleAsk(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for upstream error, got %d body=%s", rec.Code, rec.Body.String())
	}
}
