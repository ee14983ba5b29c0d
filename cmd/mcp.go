package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bookrag/bookrag/internal/llm"
	"github.com/bookrag/bookrag/internal/mcp"
	"github.com/bookrag/bookrag/internal/metrics"
	"github.com/bookrag/bookrag/internal/retrieval"
	"github.com/bookrag/bookrag/internal/telemetry"
)

var mcpDebug bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start bookrag as a Model-Context-Protocol server",
	Long: `Starts bookrag's MCP JSON-RPC endpoint, exposing book search and
selection as tools for AI assistants (Claude, Cursor, and others).

Transports:
  http  (default) - Streamable-HTTP, bound to mcp_server.host:mcp_server.port
  stdio           - line-delimited JSON-RPC over stdin/stdout, for desktop clients`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpDebug, "debug", false, "keep full error detail instead of simplifying messages")
	rootCmd.AddCommand(mcpCmd)
}

func newMCPServer(ctx context.Context) (*mcp.Server, error) {
	tracer, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRate:  cfg.Telemetry.Sample,
		ServiceName: "bookrag-mcp",
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: init telemetry: %w", err)
	}

	gemini := llm.NewGeminiClient(llm.GeminiConfig{
		APIKey:    cfg.GeminiAPIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	embedder, err := newEmbedder(gemini)
	if err != nil {
		return nil, err
	}

	indexStore := retrieval.NewIndexStore(cfg.Retriever.BooksDir)
	searcher, err := newSearcher(ctx, indexStore)
	if err != nil {
		return nil, err
	}
	m := metrics.New()

	srv := mcp.NewServer(cfg, log, indexStore, searcher, embedder, m, tracer,
		mcp.DefaultSessionsPath(cfg.Retriever.BooksDir), mcp.DefaultTasksPath(cfg.Retriever.BooksDir))
	srv.SetDebug(mcpDebug)
	return srv, nil
}

func runMCP(cobraCmd *cobra.Command, args []string) error {
	ctx := cobraCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	srv, err := newMCPServer(ctx)
	if err != nil {
		return err
	}

	switch cfg.MCPServer.Transport {
	case "stdio":
		return serveMCPStdio(srv)
	default:
		return serveMCPHTTP(srv)
	}
}

func serveMCPHTTP(srv *mcp.Server) error {
	addr := fmt.Sprintf("%s:%d", cfg.MCPServer.Host, cfg.MCPServer.Port)
	log.WithField("addr", addr).Info("bookrag: serving MCP over Streamable-HTTP")
	return http.ListenAndServe(addr, srv)
}

// serveMCPStdio adapts the HTTP-shaped Server.ServeHTTP to line-delimited
// JSON-RPC over stdio, the transport most desktop MCP clients use: each
// line of stdin is one JSON-RPC request/notification, dispatched through
// an in-memory HTTP round trip so the same handler serves both
// transports without duplicating method dispatch.
func serveMCPStdio(srv *mcp.Server) error {
	log.Info("bookrag: serving MCP over stdio")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(line))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Body.Len() > 0 {
			fmt.Fprintln(os.Stdout, strings.TrimSpace(rec.Body.String()))
		}
	}
	return scanner.Err()
}
