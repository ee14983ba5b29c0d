package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// sseChannel is one session's MCP SSE back-channel connection. Go's
// net/http server switches a chunked HTTP/1.1 response automatically once
// no Content-Length is set and Flush is called, which satisfies spec.md
// §4.5's "MUST send Transfer-Encoding: chunked" requirement without a
// hand-rolled chunk framer.
type sseChannel struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	outbox  chan Response
}

func (s *Server) openChannel(sessionID string, w http.ResponseWriter, flusher http.Flusher) *sseChannel {
	ch := &sseChannel{w: w, flusher: flusher, outbox: make(chan Response, 16)}

	s.channelsMu.Lock()
	s.channels[sessionID] = ch
	s.channelsMu.Unlock()
	return ch
}

func (s *Server) closeChannel(sessionID string) {
	s.channelsMu.Lock()
	delete(s.channels, sessionID)
	s.channelsMu.Unlock()
}

// Push delivers an async JSON-RPC response (e.g. a deferred task result
// or a notification) to sessionID's open SSE back-channel, if any.
func (s *Server) Push(sessionID string, resp Response) bool {
	s.channelsMu.Lock()
	ch, ok := s.channels[sessionID]
	s.channelsMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch.outbox <- resp:
		return true
	default:
		return false
	}
}

func (c *sseChannel) writeMessage(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("mcp: marshal sse message: %w", err)
	}
	return c.write("message", string(data))
}

func (c *sseChannel) heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, ": heartbeat %d\n\n", time.Now().Unix()); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *sseChannel) write(event, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.w, "event: "+event+"\ndata: "+data+"\n\n"); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}
