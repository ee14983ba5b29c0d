package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpsdk "github.com/mark3labs/mcp-go/mcp"

	"github.com/bookrag/bookrag/internal/retrieval"
	"github.com/bookrag/bookrag/internal/types"
)

// ToolDescriptor is the `tools/list` entry shape.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolHandler executes a tool call against the calling session's state.
type ToolHandler func(ctx context.Context, sess *types.Session, args map[string]interface{}) (interface{}, error)

// Tool pairs a descriptor with its handler, modeled on cmd/mcp.go's
// mcp.NewTool + s.AddTool registration idiom.
type Tool struct {
	Descriptor ToolDescriptor
	Handle     ToolHandler
}

// ToolManager is the registry backing tools/list and tools/call. It also
// supports federating tools/call to an external MCP server configured at
// startup, via mcp-go's client package.
type ToolManager struct {
	mu    sync.RWMutex
	tools map[string]Tool

	federate *mcpclient.Client
}

// NewToolManager builds an empty registry.
func NewToolManager() *ToolManager {
	return &ToolManager{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (m *ToolManager) Register(t Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[t.Descriptor.Name] = t
}

// SetFederate configures an external MCP server to proxy unknown
// tools/call invocations to, connected via mcp-go's Streamable-HTTP
// client. A nil client disables federation.
func (m *ToolManager) SetFederate(c *mcpclient.Client) {
	m.mu.Lock()
	m.federate = c
	m.mu.Unlock()
}

// List returns all registered tool descriptors, sorted by name.
func (m *ToolManager) List() []ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, t.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call dispatches name with args against sess, falling back to the
// federated external MCP server (if configured) for unknown names.
func (m *ToolManager) Call(ctx context.Context, sess *types.Session, name string, args map[string]interface{}) (interface{}, error) {
	m.mu.RLock()
	t, ok := m.tools[name]
	federate := m.federate
	m.mu.RUnlock()

	if ok {
		return t.Handle(ctx, sess, args)
	}
	if federate == nil {
		return nil, errMethodNotFound(fmt.Sprintf("unknown tool %q", name))
	}

	callReq := mcpsdk.CallToolRequest{}
	callReq.Params.Name = name
	callReq.Params.Arguments = args

	result, err := federate.CallTool(ctx, callReq)
	if err != nil {
		return nil, errInternal(fmt.Sprintf("federated tool %q failed: %v", name, err))
	}

	var text strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpsdk.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}
	return map[string]interface{}{"content": []map[string]interface{}{{"type": "text", "text": text.String()}}}, nil
}

func textResult(v interface{}) map[string]interface{} {
	data, _ := json.MarshalIndent(v, "", "  ")
	return map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": string(data)}},
	}
}

// bookEntry is one row of list_books' scan result.
type bookEntry struct {
	File     string `json:"file"`
	Title    string `json:"title"`
	Format   string `json:"format"`
	HasIndex bool   `json:"hasIndex"`
}

var bookFormats = map[string]string{
	".epub": "epub",
	".txt":  "text",
	".md":   "markdown",
	".pdf":  "pdf",
}

func scanBooks(booksDir string, store *retrieval.IndexStore) ([]bookEntry, error) {
	entries, err := os.ReadDir(booksDir)
	if err != nil {
		return nil, fmt.Errorf("mcp: scan books dir %q: %w", booksDir, err)
	}

	var books []bookEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		format, ok := bookFormats[ext]
		if !ok {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		books = append(books, bookEntry{
			File:     e.Name(),
			Title:    stem,
			Format:   format,
			HasIndex: store.HasIndex(stem),
		})
	}
	sort.Slice(books, func(i, j int) bool { return books[i].File < books[j].File })
	return books, nil
}

func stemOf(file string) string {
	return strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
}

// RegisterCoreTools wires list_books, select_book, get_book_info,
// search_book, and server_status against the given server state.
func RegisterCoreTools(m *ToolManager, s *Server) {
	m.Register(Tool{
		Descriptor: ToolDescriptor{
			Name:        "list_books",
			Description: "Scan the books directory and list available books with their index status.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		Handle: func(ctx context.Context, sess *types.Session, args map[string]interface{}) (interface{}, error) {
			books, err := scanBooks(s.cfg.Retriever.BooksDir, s.indexStore)
			if err != nil {
				return nil, errInternal(err.Error())
			}
			return textResult(map[string]interface{}{"books": books}), nil
		},
	})

	m.Register(Tool{
		Descriptor: ToolDescriptor{
			Name:        "select_book",
			Description: "Validate and select a book by filename, persisting the choice on the session.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"book":{"type":"string"}},"required":["book"]}`),
		},
		Handle: func(ctx context.Context, sess *types.Session, args map[string]interface{}) (interface{}, error) {
			book, _ := args["book"].(string)
			if book == "" {
				return nil, errInvalidParams("select_book: \"book\" is required")
			}

			books, err := scanBooks(s.cfg.Retriever.BooksDir, s.indexStore)
			if err != nil {
				return nil, errInternal(err.Error())
			}
			found := false
			for _, b := range books {
				if b.File == book {
					found = true
					break
				}
			}
			if !found {
				return nil, errInvalidParams(fmt.Sprintf("select_book: unknown book %q", book))
			}

			sess.SelectedBook = book
			if err := s.sessions.Put(sess); err != nil {
				return nil, errInternal(err.Error())
			}
			return textResult(map[string]interface{}{"success": true, "selected_book": book}), nil
		},
	})

	m.Register(Tool{
		Descriptor: ToolDescriptor{
			Name:        "get_book_info",
			Description: "Return metadata for the selected book, auto-selecting the first indexed book if none is selected.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		Handle: func(ctx context.Context, sess *types.Session, args map[string]interface{}) (interface{}, error) {
			book := sess.SelectedBook
			if book == "" {
				books, err := scanBooks(s.cfg.Retriever.BooksDir, s.indexStore)
				if err != nil {
					return nil, errInternal(err.Error())
				}
				for _, b := range books {
					if b.HasIndex {
						book = b.File
						break
					}
				}
				if book == "" {
					return nil, errInvalidParams("get_book_info: no indexed book available")
				}
				sess.SelectedBook = book
				_ = s.sessions.Put(sess)
			}

			stem := stemOf(book)
			idx, err := s.indexStore.Load(stem)
			if err != nil {
				return nil, errInvalidParams(fmt.Sprintf("get_book_info: %v", err))
			}
			return textResult(map[string]interface{}{
				"book":        book,
				"chunk_count": len(idx.Chunks),
				"dimension":   idx.Dimension(),
			}), nil
		},
	})

	m.Register(Tool{
		Descriptor: ToolDescriptor{
			Name:        "search_book",
			Description: "Search the selected book's index with bookrag's hybrid lexical+vector retrieval.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"top_k":{"type":"integer"}},"required":["query"]}`),
		},
		Handle: func(ctx context.Context, sess *types.Session, args map[string]interface{}) (interface{}, error) {
			if sess.SelectedBook == "" {
				return nil, errInvalidParams("search_book: no book selected; call select_book first")
			}
			query, _ := args["query"].(string)
			if query == "" {
				return nil, errInvalidParams("search_book: \"query\" is required")
			}
			topK := 8
			if v, ok := args["top_k"].(float64); ok && v > 0 {
				topK = int(v)
			}

			stem := stemOf(sess.SelectedBook)

			var queryEmbedding []float32
			if s.embedder != nil {
				queryEmbedding, _ = s.embedder.Embed(ctx, query)
			}
			results, err := s.searcher.Search(ctx, stem, query, queryEmbedding, topK, 0.5)
			if err != nil {
				return nil, errInvalidParams(fmt.Sprintf("search_book: %v", err))
			}

			out := make([]map[string]interface{}, len(results))
			for i, r := range results {
				out[i] = map[string]interface{}{
					"id":    r.Chunk.ID,
					"text":  r.Chunk.Text,
					"score": r.Score,
				}
			}
			return textResult(map[string]interface{}{"results": out}), nil
		},
	})

	m.Register(Tool{
		Descriptor: ToolDescriptor{
			Name:        "server_status",
			Description: "Return a health snapshot of the MCP server.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		Handle: func(ctx context.Context, sess *types.Session, args map[string]interface{}) (interface{}, error) {
			books, _ := scanBooks(s.cfg.Retriever.BooksDir, s.indexStore)
			return textResult(map[string]interface{}{
				"status":     "ok",
				"books":      len(books),
				"embedding":  s.embedder != nil,
			}), nil
		},
	})
}
