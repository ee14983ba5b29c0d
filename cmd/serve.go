package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bookrag/bookrag/internal/cache"
	"github.com/bookrag/bookrag/internal/conv"
	"github.com/bookrag/bookrag/internal/httpapi"
	"github.com/bookrag/bookrag/internal/llm"
	"github.com/bookrag/bookrag/internal/metrics"
	"github.com/bookrag/bookrag/internal/prompt"
	"github.com/bookrag/bookrag/internal/retrieval"
	"github.com/bookrag/bookrag/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST and WebSocket question-answering server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// newEmbedder selects the embedding provider per cfg.Embedding.Provider,
// falling back to the Gemini client for any provider other than
// "openai" — bookrag ships no other embedding backend.
func newEmbedder(gemini *llm.GeminiClient) (llm.Embedder, error) {
	if cfg.Embedding.Provider == "openai" {
		embedder, err := llm.NewOpenAIEmbedder(llm.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.Embedding.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("serve: openai embedder: %w", err)
		}
		return embedder, nil
	}
	return gemini, nil
}

// newSearcher selects the retrieval backend per cfg.Retriever.Backend:
// the default on-disk FileSearcher, or a QdrantStore-backed searcher when
// the deployment centralizes vectors in an external Qdrant collection.
func newSearcher(ctx context.Context, indexStore *retrieval.IndexStore) (retrieval.Searcher, error) {
	if cfg.Retriever.Backend != "qdrant" {
		return &retrieval.FileSearcher{Store: indexStore}, nil
	}
	store, err := retrieval.NewQdrantStore(ctx, retrieval.QdrantConfig{
		Host:       cfg.Retriever.QdrantHost,
		GRPCPort:   cfg.Retriever.QdrantPort,
		Collection: cfg.Retriever.QdrantCollection,
		APIKey:     cfg.Retriever.QdrantAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("serve: connect qdrant: %w", err)
	}
	return &retrieval.QdrantSearcher{Store: store}, nil
}

// newResponseCacheBackend picks Redis when REDIS_HOST is configured,
// otherwise the in-memory LRU cache.
func newResponseCacheBackend(ctx context.Context) (cache.Cache, error) {
	if cfg.Redis.Host != "" {
		backend, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Host:       cfg.Redis.Host,
			Port:       cfg.Redis.Port,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			KeyPrefix:  "bookrag:",
			DefaultTTL: time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("serve: connect redis cache: %w", err)
		}
		return backend, nil
	}

	memCfg := cache.DefaultConfig()
	memCfg.DefaultTTL = time.Duration(cfg.Cache.TTLSeconds) * time.Second
	return cache.NewMemoryCache(memCfg), nil
}

// newConvStore picks a Redis-backed conversation store when REDIS_HOST is
// configured, otherwise the in-memory Store.
func newConvStore() conv.ConvStore {
	convCfg := conv.Config{
		MaxHistoryLength:   cfg.Conv.MaxHistoryLength,
		SummarizeThreshold: cfg.Conv.SummarizeThreshold,
		KeepRecentMessages: cfg.Conv.KeepRecentMessages,
		TTL:                conv.DefaultTTL,
	}

	if cfg.Redis.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return conv.NewRedisStore(client, convCfg)
	}
	return conv.StoreAdapter{Store: conv.NewStore(convCfg)}
}

func runServe(cobraCmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRate:  cfg.Telemetry.Sample,
		ServiceName: "bookrag",
	})
	if err != nil {
		return fmt.Errorf("serve: init telemetry: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	gemini := llm.NewGeminiClient(llm.GeminiConfig{
		APIKey:    cfg.GeminiAPIKey,
		Dimension: cfg.Embedding.Dimension,
	})

	embedder, err := newEmbedder(gemini)
	if err != nil {
		return err
	}

	cacheBackend, err := newResponseCacheBackend(ctx)
	if err != nil {
		return err
	}
	respCache := cache.NewResponseCache(cacheBackend)
	respCache.SemanticThreshold = cfg.Cache.SemanticThreshold

	indexStore := retrieval.NewIndexStore(cfg.Retriever.BooksDir)
	searcher, err := newSearcher(ctx, indexStore)
	if err != nil {
		return err
	}
	assembler := prompt.NewAssembler(prompt.DefaultConfig())
	convStore := newConvStore()
	m := metrics.New()

	srv := httpapi.NewServer(cfg, log, indexStore, searcher, embedder, gemini, assembler, convStore, respCache, m, tracer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Routes()}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("bookrag: serving REST+WS API")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("bookrag: shutting down")
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
