package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bookrag/bookrag/internal/config"
	"github.com/bookrag/bookrag/internal/llm"
	"github.com/bookrag/bookrag/internal/metrics"
	"github.com/bookrag/bookrag/internal/retrieval"
	"github.com/bookrag/bookrag/internal/telemetry"
	"github.com/bookrag/bookrag/internal/types"
)

const (
	heartbeatInterval = 15 * time.Second
	protocolVersion   = "2025-03-26"
)

// Server implements spec.md §4.6's MCP JSON-RPC endpoint: method dispatch,
// session lifecycle, tool/resource/prompt registries, task bookkeeping,
// and the Streamable-HTTP transport with an SSE back-channel. Grounded
// directly on cmd/mcp.go's server-wrapper shape, generalized from
// GoVectorSync's dedup tools to bookrag's book tools.
type Server struct {
	cfg        config.Config
	log        *logrus.Logger
	indexStore *retrieval.IndexStore
	searcher   retrieval.Searcher
	embedder   llm.Embedder
	metrics    *metrics.Metrics
	tracer     *telemetry.Provider

	sessions *SessionStore
	tasks    *TaskStore
	tools    *ToolManager

	debug bool

	channelsMu sync.Mutex
	channels   map[string]*sseChannel
}

// NewServer wires a Server from its collaborators. sessionsPath/tasksPath
// are the on-disk persistence files (see DefaultSessionsPath/DefaultTasksPath).
// tracer must be non-nil; pass the Provider returned by telemetry.Init even
// when tracing is disabled (it is then a no-op tracer).
func NewServer(cfg config.Config, log *logrus.Logger, indexStore *retrieval.IndexStore, searcher retrieval.Searcher, embedder llm.Embedder, m *metrics.Metrics, tracer *telemetry.Provider, sessionsPath, tasksPath string) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		indexStore: indexStore,
		searcher:   searcher,
		embedder:   embedder,
		metrics:    m,
		tracer:     tracer,
		sessions:   NewSessionStore(sessionsPath),
		tasks:      NewTaskStore(tasksPath),
		tools:      NewToolManager(),
		channels:   make(map[string]*sseChannel),
	}
	RegisterCoreTools(s.tools, s)
	return s
}

// SetDebug controls whether error messages retain full detail (paths,
// wrapped causes) instead of being simplified, per spec.md §7.
func (s *Server) SetDebug(debug bool) { s.debug = debug }

// Tools exposes the tool registry for federation wiring from cmd/mcp.go.
func (s *Server) Tools() *ToolManager { return s.tools }

// ServeHTTP implements the /mcp endpoint for POST, GET (SSE back-channel
// open), and DELETE (session termination).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("Mcp-Session-Id")
	if id == "" {
		http.Error(w, "Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}
	if err := s.sessions.Remove(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Mcp-Session-Id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleGet opens the SSE back-channel for a session, per spec.md §4.6.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "Accept must include text/event-stream", http.StatusBadRequest)
		return
	}
	id := r.Header.Get("Mcp-Session-Id")
	if id == "" {
		http.Error(w, "Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}
	sess := s.sessions.Get(id)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Mcp-Session-Id", sess.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.openChannel(sess.ID, w, flusher)
	defer s.closeChannel(sess.ID)

	ctx := r.Context()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ch.heartbeat(); err != nil {
				return
			}
		case msg, ok := <-ch.outbox:
			if !ok {
				return
			}
			if err := ch.writeMessage(msg); err != nil {
				return
			}
		}
	}
}

// handlePost dispatches a single request or a batch array. Per spec.md
// §4.6/§6, the request Accept header must include both application/json
// and text/event-stream.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, "application/json") || !strings.Contains(accept, "text/event-stream") {
		http.Error(w, "Accept must include application/json and text/event-stream", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeHTTPError(w, "", http.StatusBadRequest, "failed to read request body")
		return
	}

	sessID := r.Header.Get("Mcp-Session-Id")
	var sess *types.Session
	if sessID != "" {
		sess = s.sessions.Get(sessID)
	}

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var reqs []Request
		if err := json.Unmarshal(body, &reqs); err != nil {
			s.writeRPCParseError(w, sess)
			return
		}
		s.handleBatch(w, r.Context(), sess, reqs)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeRPCParseError(w, sess)
		return
	}
	s.handleSingle(w, r.Context(), sess, req)
}

func (s *Server) writeRPCParseError(w http.ResponseWriter, sess *types.Session) {
	resp := newErrorResponse(nil, CodeParseError, "parse error", nil)
	s.writeSessionHeader(w, sess)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, sessID string, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) writeSessionHeader(w http.ResponseWriter, sess *types.Session) {
	if sess != nil {
		w.Header().Set("Mcp-Session-Id", sess.ID)
	}
}

func (s *Server) handleSingle(w http.ResponseWriter, ctx context.Context, sess *types.Session, req Request) {
	resp, newSess := s.dispatch(ctx, sess, req)
	if newSess != nil {
		sess = newSess
	}
	s.writeSessionHeader(w, sess)

	if req.IsNotification() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	if resp.Error != nil {
		status = httpStatusForRPCError(resp.Error.Code)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleBatch produces an ordered array of responses, omitting
// notifications; an empty result returns HTTP 202 with no body, per
// spec.md §4.6.
func (s *Server) handleBatch(w http.ResponseWriter, ctx context.Context, sess *types.Session, reqs []Request) {
	var responses []Response
	for _, req := range reqs {
		resp, newSess := s.dispatch(ctx, sess, req)
		if newSess != nil {
			sess = newSess
		}
		if req.IsNotification() {
			continue
		}
		responses = append(responses, resp)
	}

	s.writeSessionHeader(w, sess)
	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(responses)
}

func httpStatusForRPCError(code int) int {
	switch code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		return http.StatusBadRequest
	case CodeMethodNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// dispatch routes one JSON-RPC request to its method handler. It may
// return a freshly created session (on `initialize`) for the caller to
// thread back onto subsequent dispatches within the same batch.
func (s *Server) dispatch(ctx context.Context, sess *types.Session, req Request) (Response, *types.Session) {
	if req.JSONRPC != "2.0" && req.JSONRPC != "" {
		return newErrorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"", nil), nil
	}

	if notificationMethods[req.Method] {
		s.handleNotification(req)
		return Response{}, nil
	}

	tctx, span := s.tracer.StartMCPMethod(ctx, req.Method)
	defer span.End()

	result, newSess, err := s.callMethod(tctx, sess, req)
	code := "ok"
	if err != nil {
		code = "error"
		telemetry.RecordError(span, err)
	}
	if s.metrics != nil {
		s.metrics.RecordMCPRequest(req.Method, code)
	}

	if err != nil {
		if rerr, ok := err.(*rpcError); ok {
			return newErrorResponse(req.ID, rerr.Code, s.simplifyMessage(rerr.Message), nil), newSess
		}
		return newErrorResponse(req.ID, CodeInternalError, s.simplifyMessage(err.Error()), nil), newSess
	}
	return newResponse(req.ID, result), newSess
}

// simplifyMessage strips filesystem paths unless the server runs with a
// debug flag, per spec.md §7's "error messages are simplified" rule.
func (s *Server) simplifyMessage(msg string) string {
	if s.debug {
		return msg
	}
	if idx := strings.Index(msg, "/"); idx >= 0 {
		if colon := strings.LastIndex(msg[:idx], ": "); colon >= 0 {
			return msg[:colon]
		}
	}
	return msg
}

func (s *Server) handleNotification(req Request) {
	switch req.Method {
	case "notifications/cancelled":
		var params struct {
			RequestID string `json:"requestId"`
		}
		_ = json.Unmarshal(req.Params, &params)
		if params.RequestID != "" {
			_ = s.tasks.UpdateStatus(params.RequestID, types.TaskCancelled, nil)
		}
	case "notifications/initialized":
		// No server-side action required.
	}
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (s *Server) callMethod(ctx context.Context, sess *types.Session, req Request) (interface{}, *types.Session, error) {
	switch req.Method {
	case "initialize":
		return s.methodInitialize(req)
	case "ping":
		return map[string]interface{}{}, nil, nil
	case "tools/list":
		return map[string]interface{}{"tools": s.tools.List()}, nil, nil
	case "tools/call":
		return s.methodToolsCall(ctx, sess, req)
	case "resources/list":
		return s.methodResourcesList(sess)
	case "resources/read":
		return s.methodResourcesRead(sess, req)
	case "resources/templates/list":
		return map[string]interface{}{"resourceTemplates": []interface{}{}}, nil, nil
	case "prompts/list":
		return map[string]interface{}{"prompts": corePrompts()}, nil, nil
	case "prompts/get":
		return s.methodPromptsGet(req)
	case "completion/complete":
		return map[string]interface{}{"completion": map[string]interface{}{"values": []string{}, "total": 0, "hasMore": false}}, nil, nil
	case "tasks/list":
		return map[string]interface{}{"tasks": s.tasks.List()}, nil, nil
	case "tasks/get":
		return s.methodTasksGet(req)
	case "tasks/cancel":
		return s.methodTasksCancel(req)
	case "tasks/result":
		return s.methodTasksResult(req)
	case "logging/setLevel":
		return s.methodLoggingSetLevel(sess, req)
	default:
		return nil, nil, errMethodNotFound(fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (s *Server) methodInitialize(req Request) (interface{}, *types.Session, error) {
	var params struct {
		ProtocolVersion string                 `json:"protocolVersion"`
		ClientInfo      map[string]interface{} `json:"clientInfo"`
	}
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, nil, errInvalidParams("initialize: invalid params")
	}

	sess, err := s.sessions.Create(params.ClientInfo, params.ProtocolVersion)
	if err != nil {
		return nil, nil, errInternal(err.Error())
	}

	result := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"serverInfo":      map[string]interface{}{"name": "bookrag", "version": "0.1.0"},
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{"listChanged": false},
			"resources": map[string]interface{}{"listChanged": false},
			"prompts":   map[string]interface{}{"listChanged": false},
		},
		"instructions": "Use select_book then search_book to answer questions grounded in a specific book.",
	}
	return result, sess, nil
}

func (s *Server) methodToolsCall(ctx context.Context, sess *types.Session, req Request) (interface{}, *types.Session, error) {
	if sess == nil {
		return nil, nil, errInvalidParams("tools/call requires Mcp-Session-Id")
	}
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := decodeParams(req.Params, &params); err != nil || params.Name == "" {
		return nil, nil, errInvalidParams("tools/call: \"name\" is required")
	}

	result, err := s.tools.Call(ctx, sess, params.Name, params.Arguments)
	if err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

func (s *Server) methodResourcesList(sess *types.Session) (interface{}, *types.Session, error) {
	resources := []map[string]interface{}{
		{"uri": "book://library/list", "name": "Book library", "mimeType": "application/json"},
	}
	if sess != nil && sess.SelectedBook != "" {
		resources = append(resources,
			map[string]interface{}{"uri": "book://current/metadata", "name": "Current book metadata", "mimeType": "application/json"},
			map[string]interface{}{"uri": "book://current/toc", "name": "Current book table of contents", "mimeType": "application/json"},
		)
	}
	return map[string]interface{}{"resources": resources}, nil, nil
}

func (s *Server) methodResourcesRead(sess *types.Session, req Request) (interface{}, *types.Session, error) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := decodeParams(req.Params, &params); err != nil || params.URI == "" {
		return nil, nil, errInvalidParams("resources/read: \"uri\" is required")
	}

	switch params.URI {
	case "book://library/list":
		books, err := scanBooks(s.cfg.Retriever.BooksDir, s.indexStore)
		if err != nil {
			return nil, nil, errInternal(err.Error())
		}
		data, _ := json.Marshal(books)
		return resourceContents(params.URI, "application/json", string(data)), nil, nil

	case "book://current/metadata":
		if sess == nil || sess.SelectedBook == "" {
			return nil, nil, errInvalidParams("resources/read: no book selected")
		}
		stem := stemOf(sess.SelectedBook)
		idx, err := s.indexStore.Load(stem)
		if err != nil {
			return nil, nil, errInvalidParams(err.Error())
		}
		data, _ := json.Marshal(map[string]interface{}{"book": sess.SelectedBook, "chunk_count": len(idx.Chunks)})
		return resourceContents(params.URI, "application/json", string(data)), nil, nil

	case "book://current/toc":
		if sess == nil || sess.SelectedBook == "" {
			return nil, nil, errInvalidParams("resources/read: no book selected")
		}
		stem := stemOf(sess.SelectedBook)
		idx, err := s.indexStore.Load(stem)
		if err != nil {
			return nil, nil, errInvalidParams(err.Error())
		}
		ids := make([]uint32, len(idx.Chunks))
		for i, c := range idx.Chunks {
			ids[i] = c.ID
		}
		data, _ := json.Marshal(map[string]interface{}{"chunk_ids": ids})
		return resourceContents(params.URI, "application/json", string(data)), nil, nil

	default:
		return nil, nil, errInvalidParams(fmt.Sprintf("resources/read: unknown uri %q", params.URI))
	}
}

func resourceContents(uri, mimeType, text string) map[string]interface{} {
	return map[string]interface{}{
		"contents": []map[string]interface{}{{"uri": uri, "mimeType": mimeType, "text": text}},
	}
}

func corePrompts() []map[string]interface{} {
	return []map[string]interface{}{
		{"name": "ask-about-book", "description": "Answer a question grounded in the selected book's content"},
	}
}

func (s *Server) methodPromptsGet(req Request) (interface{}, *types.Session, error) {
	var params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, nil, errInvalidParams("prompts/get: invalid params")
	}
	if params.Name != "ask-about-book" {
		return nil, nil, errInvalidParams(fmt.Sprintf("prompts/get: unknown prompt %q", params.Name))
	}

	question := params.Arguments["question"]
	return map[string]interface{}{
		"description": "Answer a question grounded in the selected book's content",
		"messages": []map[string]interface{}{
			{"role": "user", "content": map[string]interface{}{"type": "text", "text": fmt.Sprintf("Use search_book to find context, then answer: %s", question)}},
		},
	}, nil, nil
}

func (s *Server) methodTasksGet(req Request) (interface{}, *types.Session, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := decodeParams(req.Params, &params); err != nil || params.ID == "" {
		return nil, nil, errInvalidParams("tasks/get: \"id\" is required")
	}
	task := s.tasks.Get(params.ID)
	if task == nil {
		return nil, nil, errInvalidParams(fmt.Sprintf("tasks/get: unknown task %q", params.ID))
	}
	return task, nil, nil
}

func (s *Server) methodTasksCancel(req Request) (interface{}, *types.Session, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := decodeParams(req.Params, &params); err != nil || params.ID == "" {
		return nil, nil, errInvalidParams("tasks/cancel: \"id\" is required")
	}
	if err := s.tasks.UpdateStatus(params.ID, types.TaskCancelled, nil); err != nil {
		return nil, nil, errInvalidParams(err.Error())
	}
	return map[string]interface{}{}, nil, nil
}

func (s *Server) methodTasksResult(req Request) (interface{}, *types.Session, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := decodeParams(req.Params, &params); err != nil || params.ID == "" {
		return nil, nil, errInvalidParams("tasks/result: \"id\" is required")
	}
	task := s.tasks.Get(params.ID)
	if task == nil {
		return nil, nil, errInvalidParams(fmt.Sprintf("tasks/result: unknown task %q", params.ID))
	}
	return map[string]interface{}{"result": task.Result, "status": task.Status}, nil, nil
}

func (s *Server) methodLoggingSetLevel(sess *types.Session, req Request) (interface{}, *types.Session, error) {
	if sess == nil {
		return nil, nil, errInvalidParams("logging/setLevel requires Mcp-Session-Id")
	}
	var params struct {
		Level string `json:"level"`
	}
	if err := decodeParams(req.Params, &params); err != nil || params.Level == "" {
		return nil, nil, errInvalidParams("logging/setLevel: \"level\" is required")
	}
	sess.LogLevel = params.Level
	if err := s.sessions.Put(sess); err != nil {
		return nil, nil, errInternal(err.Error())
	}
	return map[string]interface{}{}, nil, nil
}
