package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/bookrag/bookrag/internal/config"
	"github.com/bookrag/bookrag/internal/retrieval"
	"github.com/bookrag/bookrag/internal/telemetry"
	"github.com/bookrag/bookrag/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	booksDir := filepath.Join(dir, "books")
	if err := os.MkdirAll(booksDir, 0o755); err != nil {
		t.Fatalf("mkdir books dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(booksDir, "journey.txt"), []byte("placeholder"), 0o644); err != nil {
		t.Fatalf("write book: %v", err)
	}

	store := retrieval.NewIndexStore(booksDir)
	idx := &types.BookIndex{
		Chunks: []types.Chunk{
			types.NewChunk(0, "The journey began at dawn, when the road was still quiet."),
			types.NewChunk(1, "By midday the travelers reached the old stone bridge."),
		},
		Embeddings: [][]float32{{0.1, 0.2, 0.3}, {0.2, 0.1, 0.4}},
	}
	if err := store.Write("journey", idx); err != nil {
		t.Fatalf("write index: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Retriever.BooksDir = booksDir

	log := logrus.New()
	log.SetOutput(io.Discard)

	tracer, err := telemetry.Init(context.Background(), telemetry.Config{Enabled: false})
	if err != nil {
		t.Fatalf("telemetry init: %v", err)
	}

	return NewServer(cfg, log, store, &retrieval.FileSearcher{Store: store}, nil, nil, tracer,
		filepath.Join(dir, ".mcp_sessions.json"), filepath.Join(dir, ".mcp_tasks.json"))
}

func doRPC(t *testing.T, srv *Server, sessionID string, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var resp Response
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func TestDispatch_UnknownMethod(t *testing.T) {
	srv := newTestServer(t)
	_, resp := doRPC(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"nope"}`)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected -32601, got %+v", resp.Error)
	}
}

func TestDispatch_Ping(t *testing.T) {
	srv := newTestServer(t)
	rec, resp := doRPC(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestDispatch_BatchOmitsNotificationsAndOrdersResponses(t *testing.T) {
	srv := newTestServer(t)
	body := `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"ping"}
	]`
	rec, _ := doRPC(t, srv, "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var responses []Response
	if err := json.Unmarshal(rec.Body.Bytes(), &responses); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses (notification omitted), got %d", len(responses))
	}
	if string(responses[0].ID) != "1" || string(responses[1].ID) != "2" {
		t.Errorf("expected responses ordered 1,2, got %s,%s", responses[0].ID, responses[1].ID)
	}
}

func TestDispatch_EmptyBatchReturns202(t *testing.T) {
	srv := newTestServer(t)
	rec, _ := doRPC(t, srv, "", `[{"jsonrpc":"2.0","method":"notifications/initialized"}]`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
}

func TestHandlePost_RejectsMissingEventStreamAccept(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for Accept missing text/event-stream, got %d", rec.Code)
	}
}
