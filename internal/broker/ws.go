package broker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrame is the flat `{type, ...}` object spec.md §4.5/§6 specifies for
// WebSocket text frames.
type wsFrame struct {
	Type             string      `json:"type"`
	Sources          []SourceRef `json:"sources,omitempty"`
	Cached           bool        `json:"cached,omitempty"`
	OriginalQuestion string      `json:"original_question,omitempty"`
	Similarity       float64     `json:"similarity,omitempty"`
	Text             string      `json:"text,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// WSWriter adapts a gorilla/websocket connection to the Writer
// interface. Writes are serialized because gorilla/websocket connections
// are not safe for concurrent writers.
type WSWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Upgrade promotes an HTTP connection to a WebSocket and returns a
// ready-to-use WSWriter.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSWriter, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: ws upgrade: %w", err)
	}
	return &WSWriter{conn: conn}, nil
}

func (w *WSWriter) writeFrame(f wsFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(f)
}

// WriteSources implements Writer.
func (w *WSWriter) WriteSources(sources []SourceRef) error {
	if sources == nil {
		sources = []SourceRef{}
	}
	return w.writeFrame(wsFrame{Type: "sources", Sources: sources})
}

// WriteCachedExact implements Writer.
func (w *WSWriter) WriteCachedExact() error {
	return w.writeFrame(wsFrame{Type: "cached", Cached: true})
}

// WriteCachedSemantic implements Writer.
func (w *WSWriter) WriteCachedSemantic(matchedQuestion string, similarityPct float64) error {
	return w.writeFrame(wsFrame{Type: "cached", Cached: true, OriginalQuestion: matchedQuestion, Similarity: similarityPct})
}

// WriteContent implements Writer.
func (w *WSWriter) WriteContent(text string) error {
	return w.writeFrame(wsFrame{Type: "content", Text: text})
}

// WriteError implements Writer.
func (w *WSWriter) WriteError(msg string) error {
	return w.writeFrame(wsFrame{Type: "error", Error: msg})
}

// WriteDone implements Writer.
func (w *WSWriter) WriteDone() error {
	return w.writeFrame(wsFrame{Type: "done"})
}

// Close closes the underlying connection.
func (w *WSWriter) Close() error {
	return w.conn.Close()
}

// InboundFrame is an inbound client frame on an already-open WS
// connection: a new question submitted without reopening the socket.
type InboundFrame struct {
	Action   string `json:"action"` // "ask", "chat", "continue"
	Question string `json:"question,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// ReadInbound blocks for the next inbound client frame and decodes it.
func (w *WSWriter) ReadInbound() (InboundFrame, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return InboundFrame{}, fmt.Errorf("broker: ws read: %w", err)
	}
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return InboundFrame{}, fmt.Errorf("broker: ws decode: %w", err)
	}
	return frame, nil
}

// Heartbeat sends periodic WS ping frames until stop fires, keeping
// proxies from idling out the connection.
func (w *WSWriter) Heartbeat(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			w.mu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
