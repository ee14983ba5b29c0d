package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/bookrag/bookrag/internal/broker"
	"github.com/bookrag/bookrag/internal/types"
)

const wsHeartbeatInterval = 20 * time.Second

// handleWebSocket implements spec.md §6's WebSocket endpoint: one
// connection carries a sequence of ask/chat/continue frames, each
// driving broker.Engine.RunStream over the same Writer the SSE
// endpoints use, until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := broker.Upgrade(w, r)
	if err != nil {
		s.log.WithError(err).Debug("httpapi: ws upgrade failed")
		return
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go conn.Heartbeat(wsHeartbeatInterval, stop)

	for {
		frame, err := conn.ReadInbound()
		if err != nil {
			return
		}
		s.handleWSFrame(r.Context(), conn, frame)
	}
}

func (s *Server) handleWSFrame(ctx context.Context, conn *broker.WSWriter, frame broker.InboundFrame) {
	switch frame.Action {
	case "ask":
		s.wsAsk(ctx, conn, frame)
	case "chat":
		s.wsChat(ctx, conn, frame)
	case "continue":
		s.wsContinue(ctx, conn, frame)
	default:
		_ = conn.WriteError("unknown action: " + frame.Action)
	}
}

func (s *Server) wsAsk(ctx context.Context, conn *broker.WSWriter, frame broker.InboundFrame) {
	if frame.Question == "" {
		_ = conn.WriteError("question is required")
		return
	}
	topK := frame.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	stem, err := s.bookStem()
	if err != nil {
		_ = conn.WriteError(err.Error())
		return
	}

	queryEmbedding := s.embed(ctx, frame.Question)
	results, err := s.searcher.Search(ctx, stem, frame.Question, queryEmbedding, topK, 0.5)
	if err != nil {
		_ = conn.WriteError(err.Error())
		return
	}
	messages := s.assembler.AssembleRAG(frame.Question, results)

	req := broker.Request{
		Kind:           "ws_ask",
		CacheQuestion:  frame.Question,
		TopK:           topK,
		Messages:       messages,
		Sources:        toBrokerSources(results),
		QueryEmbedding: queryEmbedding,
	}
	_ = s.engine.RunStream(ctx, req, conn)
}

func (s *Server) wsChat(ctx context.Context, conn *broker.WSWriter, frame broker.InboundFrame) {
	if frame.Question == "" {
		_ = conn.WriteError("question is required")
		return
	}
	chatID := frame.ChatID
	if chatID == "" {
		id, err := newChatID()
		if err != nil {
			_ = conn.WriteError(err.Error())
			return
		}
		chatID = id
	}

	userMsg := types.ChatMessage{Role: types.RoleUser, Content: frame.Question}

	lock := s.chatLock(chatID)
	lock.Lock()
	messages, err := s.resolveChatTurn(ctx, chatID, []types.ChatMessage{userMsg})
	if err != nil {
		lock.Unlock()
		_ = conn.WriteError(err.Error())
		return
	}
	if appendErr := s.convStore.Append(ctx, chatID, userMsg); appendErr != nil {
		s.log.WithError(appendErr).Warn("httpapi: ws append user message failed")
	}
	lock.Unlock()

	queryEmbedding := s.embed(ctx, frame.Question)
	req := broker.Request{
		Kind:           "ws_chat",
		CacheQuestion:  frame.Question,
		Messages:       messages,
		QueryEmbedding: queryEmbedding,
	}

	var answer []byte
	collector := &answerCollectingWriter{Writer: conn, out: &answer}
	if err := s.engine.RunStream(ctx, req, collector); err != nil {
		return
	}

	lock.Lock()
	defer lock.Unlock()
	if err := s.convStore.Append(ctx, chatID, types.ChatMessage{Role: types.RoleAssistant, Content: string(answer)}); err != nil {
		s.log.WithError(err).Warn("httpapi: ws append assistant reply failed")
	}
}

func (s *Server) wsContinue(ctx context.Context, conn *broker.WSWriter, frame broker.InboundFrame) {
	messages := s.assembler.AssembleContinue(frame.Prompt)
	queryEmbedding := s.embed(ctx, frame.Prompt)

	req := broker.Request{
		Kind:           "ws_continue",
		CacheQuestion:  frame.Prompt,
		Messages:       messages,
		QueryEmbedding: queryEmbedding,
	}
	_ = s.engine.RunStream(ctx, req, conn)
}
