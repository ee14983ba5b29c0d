package mcp

import (
	"net/http"
	"testing"
)

// TestInitializeSelectSearch covers initialize -> select_book -> search_book
// end to end against the Streamable-HTTP transport.
func TestInitializeSelectSearch(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := doRPC(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"test-client"}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	sessionID := rec.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize: expected Mcp-Session-Id response header")
	}
	if resp.Error != nil {
		t.Fatalf("initialize: unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("initialize: expected object result, got %T", resp.Result)
	}
	if result["protocolVersion"] != protocolVersion {
		t.Errorf("expected protocolVersion %q, got %v", protocolVersion, result["protocolVersion"])
	}
	if _, ok := result["serverInfo"]; !ok {
		t.Error("expected serverInfo in initialize result")
	}
	caps, ok := result["capabilities"].(map[string]interface{})
	if !ok {
		t.Fatal("expected capabilities object in initialize result")
	}
	if _, ok := caps["tools"]; !ok {
		t.Error("expected capabilities.tools in initialize result")
	}
	if result["instructions"] == "" {
		t.Error("expected non-empty instructions")
	}

	_, resp = doRPC(t, srv, sessionID, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"select_book","arguments":{"book":"journey.txt"}}}`)
	if resp.Error != nil {
		t.Fatalf("select_book: unexpected error: %+v", resp.Error)
	}

	_, resp = doRPC(t, srv, sessionID, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"search_book","arguments":{"query":"what happens next","top_k":3}}}`)
	if resp.Error != nil {
		t.Fatalf("search_book: unexpected error: %+v", resp.Error)
	}
	if resp.Result == nil {
		t.Fatal("search_book: expected a result")
	}
}

// TestSearchBookRequiresSelection exercises search_book's precondition
// that a book must be selected first.
func TestSearchBookRequiresSelection(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := doRPC(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`)
	if resp.Error != nil {
		t.Fatalf("initialize: unexpected error: %+v", resp.Error)
	}
	sessionID := rec.Header().Get("Mcp-Session-Id")

	_, resp = doRPC(t, srv, sessionID, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search_book","arguments":{"query":"hi"}}}`)
	if resp.Error == nil {
		t.Fatal("expected error for search_book with no book selected")
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Errorf("expected -32602 invalid params, got %d", resp.Error.Code)
	}
}

// TestSessionRecoveryAfterRestart simulates a server restart: a fresh
// Server/SessionStore backed by the same (now-empty) file is given a
// session id it has never seen, and must silently recreate an empty
// session rather than reject the request.
func TestSessionRecoveryAfterRestart(t *testing.T) {
	srv := newTestServer(t)

	unknownID := "deadbeefdeadbeefdeadbeefdeadbeef"
	rec, resp := doRPC(t, srv, unknownID, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_books","arguments":{}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown-but-tolerated session, got %d body=%s", rec.Code, rec.Body.String())
	}
	if resp.Error != nil {
		t.Fatalf("expected no error recreating unknown session, got %+v", resp.Error)
	}
	if got := rec.Header().Get("Mcp-Session-Id"); got != unknownID {
		t.Errorf("expected server to echo back the presented session id %q, got %q", unknownID, got)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object result, got %T", resp.Result)
	}
	content, ok := result["content"].([]interface{})
	if !ok || len(content) == 0 {
		t.Fatalf("expected non-empty content in list_books result, got %+v", result)
	}
}
