package httpapi

import (
	"context"
	"net/http"

	"github.com/bookrag/bookrag/internal/apperr"
	"github.com/bookrag/bookrag/internal/broker"
	"github.com/bookrag/bookrag/internal/prompt"
	"github.com/bookrag/bookrag/internal/types"
)

type chatRequest struct {
	ChatID   string              `json:"chat_id,omitempty"`
	Messages []types.ChatMessage `json:"messages"`
}

type chatResponse struct {
	Success bool   `json:"success"`
	ChatID  string `json:"chat_id"`
	Answer  string `json:"answer"`
	Cached  bool   `json:"cached"`
}

// resolveChatTurn loads chatID's persisted context, compacting it first
// if it has grown past the summarization threshold (per spec.md §4.3,
// summarization must run before the next turn's history is assembled),
// then returns the messages to send upstream.
func (s *Server) resolveChatTurn(ctx context.Context, chatID string, newMessages []types.ChatMessage) ([]types.ChatMessage, error) {
	needs, err := s.convStore.NeedsSummarization(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if needs {
		summarizer := &prompt.LLMSummarizer{Completer: s.completer}
		if err := s.convStore.Compact(ctx, chatID, summarizer); err != nil {
			s.log.WithError(err).Warn("httpapi: chat compaction failed, continuing with uncompacted history")
		}
	}

	persisted, err := s.convStore.GetContext(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return s.assembler.AssembleChat(persisted, newMessages), nil
}

func (s *Server) buildChatRequest(w http.ResponseWriter, r *http.Request, kind string) (*broker.Request, string, bool) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeClassifiedError(w, err)
		return nil, "", false
	}
	if len(req.Messages) == 0 {
		writeClassifiedError(w, apperr.ErrMissingMessages)
		return nil, "", false
	}

	chatID := req.ChatID
	if chatID == "" {
		id, err := newChatID()
		if err != nil {
			writeClassifiedError(w, err)
			return nil, "", false
		}
		chatID = id
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	ctx := r.Context()
	messages, err := s.resolveChatTurn(ctx, chatID, req.Messages)
	if err != nil {
		writeClassifiedError(w, err)
		return nil, "", false
	}

	question := lastUserMessage(req.Messages)
	queryEmbedding := s.embed(ctx, question)

	for _, m := range req.Messages {
		if err := s.convStore.Append(ctx, chatID, m); err != nil {
			s.log.WithError(err).Warn("httpapi: append chat message failed")
		}
	}

	return &broker.Request{
		Kind:           kind,
		CacheQuestion:  question,
		Messages:       messages,
		QueryEmbedding: queryEmbedding,
	}, chatID, true
}

// handleChat implements POST /api/chat: a one-shot chat turn against a
// persisted chat_id's sliding-window history.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, chatID, ok := s.buildChatRequest(w, r, "chat")
	if !ok {
		return
	}

	ctx := r.Context()
	result, err := s.engine.Run(ctx, *req)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	appendErr := s.convStore.Append(ctx, chatID, types.ChatMessage{Role: types.RoleAssistant, Content: result.Answer})
	lock.Unlock()
	if appendErr != nil {
		s.log.WithError(appendErr).Warn("httpapi: append assistant reply failed")
	}

	writeJSON(w, http.StatusOK, chatResponse{Success: true, ChatID: chatID, Answer: result.Answer, Cached: result.Cached})
}

// handleStreamChat implements POST /api/stream/chat: the SSE variant of
// handleChat.
func (s *Server) handleStreamChat(w http.ResponseWriter, r *http.Request) {
	req, chatID, ok := s.buildChatRequest(w, r, "stream_chat")
	if !ok {
		return
	}

	sw := broker.NewSSEWriter(w)
	if sw == nil {
		writeError(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}

	var answer []byte
	collector := &answerCollectingWriter{Writer: sw, out: &answer}

	ctx := r.Context()
	if err := s.engine.RunStream(ctx, *req, collector); err != nil {
		return
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()
	if err := s.convStore.Append(ctx, chatID, types.ChatMessage{Role: types.RoleAssistant, Content: string(answer)}); err != nil {
		s.log.WithError(err).Warn("httpapi: append streamed assistant reply failed")
	}
}

// answerCollectingWriter wraps a broker.Writer to accumulate the
// forwarded content fragments, so the streaming chat handler can persist
// the assistant's full reply once RunStream completes.
type answerCollectingWriter struct {
	broker.Writer
	out *[]byte
}

func (a *answerCollectingWriter) WriteContent(text string) error {
	*a.out = append(*a.out, text...)
	return a.Writer.WriteContent(text)
}
