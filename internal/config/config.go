// Package config loads and validates bookrag's configuration: CLI flags,
// environment variables (BOOKRAG_-prefixed plus the named spec.md §6
// variables bound without a prefix), a .env file, and a config file,
// in that precedence order (flags > env > .env > file > defaults).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig configures the HTTP/WS server.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MCPServerConfig configures the MCP JSON-RPC server.
type MCPServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Transport string `mapstructure:"transport"` // "stdio" or "http"
}

// WSServerConfig configures the WebSocket server.
type WSServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// RetrieverConfig selects and configures the book-index backend.
type RetrieverConfig struct {
	Backend          string `mapstructure:"backend"` // "file" or "qdrant"
	BooksDir         string `mapstructure:"books_dir"`
	QdrantHost       string `mapstructure:"qdrant_host"`
	QdrantPort       int    `mapstructure:"qdrant_port"`
	QdrantCollection string `mapstructure:"qdrant_collection"`
	QdrantAPIKey     string `mapstructure:"qdrant_api_key"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"` // "gemini" or "openai"
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// RedisConfig configures the optional Redis-backed cache/conversation
// store. REDIS_HOST/REDIS_PORT/REDIS_PASSWORD/REDIS_DB are spec.md
// §6's named environment variables.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig configures the response cache tiers.
type CacheConfig struct {
	TTLSeconds        int     `mapstructure:"ttl_seconds"`
	SemanticThreshold float64 `mapstructure:"semantic_threshold"`
}

// ConvConfig configures the conversation store.
type ConvConfig struct {
	MaxHistoryLength   int `mapstructure:"max_history_length"`
	SummarizeThreshold int `mapstructure:"summarize_threshold"`
	KeepRecentMessages int `mapstructure:"keep_recent_messages"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Exporter string  `mapstructure:"exporter"`
	Endpoint string  `mapstructure:"endpoint"`
	Sample   float64 `mapstructure:"sample_rate"`
}

// Config is the fully resolved bookrag configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MCPServer MCPServerConfig `mapstructure:"mcp_server"`
	WSServer  WSServerConfig  `mapstructure:"ws_server"`
	Retriever RetrieverConfig `mapstructure:"retriever"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Conv      ConvConfig      `mapstructure:"conv"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	AIProvider     string `mapstructure:"ai_provider"`
	GeminiAPIKey   string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey   string `mapstructure:"openai_api_key"`
	BookPath       string `mapstructure:"book_path"`
	BookCache      string `mapstructure:"book_cache"`
	LogLevel       string `mapstructure:"log_level"`
}

// DefaultConfig returns bookrag's built-in defaults.
func DefaultConfig() Config {
	return Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
		MCPServer: MCPServerConfig{Host: "0.0.0.0", Port: 8081, Transport: "http"},
		WSServer:  WSServerConfig{Host: "0.0.0.0", Port: 8082},
		Retriever: RetrieverConfig{Backend: "file", BooksDir: "./books", QdrantPort: 6334, QdrantCollection: "bookrag"},
		Embedding: EmbeddingConfig{Provider: "gemini", Model: "embedding-001", Dimension: 768},
		Redis:     RedisConfig{Host: "", Port: 6379, DB: 0},
		Cache:     CacheConfig{TTLSeconds: 3600, SemanticThreshold: 0.96},
		Conv:      ConvConfig{MaxHistoryLength: 40, SummarizeThreshold: 16, KeepRecentMessages: 8},
		Telemetry: TelemetryConfig{Enabled: false, Exporter: "otlp", Endpoint: "localhost:4317", Sample: 1.0},
		AIProvider: "gemini",
		LogLevel:   "info",
	}
}

// namedEnvVars are the environment variables spec.md §6 enumerates by
// name; they are bound without the BOOKRAG_ prefix so existing
// deployments' env files keep working unmodified.
var namedEnvVars = map[string]string{
	"gemini_api_key":              "GEMINI_API_KEY",
	"openai_api_key":              "OPENAI_API_KEY",
	"ai_provider":                 "AI_PROVIDER",
	"redis.host":                  "REDIS_HOST",
	"redis.port":                  "REDIS_PORT",
	"redis.password":              "REDIS_PASSWORD",
	"redis.db":                    "REDIS_DB",
	"retriever.backend":           "RETRIEVER_BACKEND",
	"retriever.books_dir":         "BOOKS_DIR",
	"retriever.qdrant_host":       "QDRANT_HOST",
	"retriever.qdrant_port":       "QDRANT_PORT",
	"retriever.qdrant_collection": "QDRANT_COLLECTION",
	"retriever.qdrant_api_key":    "QDRANT_API_KEY",
	"book_path":                   "BOOK_PATH",
	"book_cache":                  "BOOK_CACHE",
	"log_level":                   "LOG_LEVEL",
	"server.host":                 "WEB_SERVER_HOST",
	"server.port":                 "WEB_SERVER_PORT",
	"mcp_server.host":             "MCP_SERVER_HOST",
	"mcp_server.port":             "MCP_SERVER_PORT",
	"ws_server.host":              "WS_SERVER_HOST",
	"ws_server.port":              "WS_SERVER_PORT",
}

// Load reads a .env file (if present), binds the named environment
// variables plus the BOOKRAG_ prefix, merges an optional config file,
// and returns the resolved Config (flags, if bound to v beforehand, take
// precedence through Viper's normal override order).
func Load(v *viper.Viper) (Config, error) {
	_ = godotenv.Load() // .env is optional; process env already wins if set

	v.SetEnvPrefix("BOOKRAG")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, env := range namedEnvVars {
		_ = v.BindEnv(key, env)
	}

	def := DefaultConfig()
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("mcp_server.host", def.MCPServer.Host)
	v.SetDefault("mcp_server.port", def.MCPServer.Port)
	v.SetDefault("mcp_server.transport", def.MCPServer.Transport)
	v.SetDefault("ws_server.host", def.WSServer.Host)
	v.SetDefault("ws_server.port", def.WSServer.Port)
	v.SetDefault("retriever.backend", def.Retriever.Backend)
	v.SetDefault("retriever.books_dir", def.Retriever.BooksDir)
	v.SetDefault("retriever.qdrant_port", def.Retriever.QdrantPort)
	v.SetDefault("retriever.qdrant_collection", def.Retriever.QdrantCollection)
	v.SetDefault("embedding.provider", def.Embedding.Provider)
	v.SetDefault("embedding.model", def.Embedding.Model)
	v.SetDefault("embedding.dimension", def.Embedding.Dimension)
	v.SetDefault("redis.port", def.Redis.Port)
	v.SetDefault("cache.ttl_seconds", def.Cache.TTLSeconds)
	v.SetDefault("cache.semantic_threshold", def.Cache.SemanticThreshold)
	v.SetDefault("conv.max_history_length", def.Conv.MaxHistoryLength)
	v.SetDefault("conv.summarize_threshold", def.Conv.SummarizeThreshold)
	v.SetDefault("conv.keep_recent_messages", def.Conv.KeepRecentMessages)
	v.SetDefault("ai_provider", def.AIProvider)
	v.SetDefault("log_level", def.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg = interpolateEnv(cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var interpRe = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// interpolateEnv resolves ${VAR} / ${VAR:-default} references in the
// string-valued fields most likely to carry them (API keys, paths).
func interpolateEnv(cfg Config) Config {
	resolve := func(s string) string {
		return interpRe.ReplaceAllStringFunc(s, func(m string) string {
			groups := interpRe.FindStringSubmatch(m)
			name, def := groups[1], groups[2]
			if v, ok := os.LookupEnv(name); ok {
				return v
			}
			return def
		})
	}

	cfg.GeminiAPIKey = resolve(cfg.GeminiAPIKey)
	cfg.OpenAIAPIKey = resolve(cfg.OpenAIAPIKey)
	cfg.BookPath = resolve(cfg.BookPath)
	cfg.BookCache = resolve(cfg.BookCache)
	cfg.Retriever.BooksDir = resolve(cfg.Retriever.BooksDir)
	return cfg
}

// Validate accumulates and returns configuration errors, if any.
func Validate(cfg Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.MCPServer.Port < 1 || cfg.MCPServer.Port > 65535 {
		errs = append(errs, fmt.Sprintf("mcp_server.port %d out of range", cfg.MCPServer.Port))
	}
	if cfg.WSServer.Port < 1 || cfg.WSServer.Port > 65535 {
		errs = append(errs, fmt.Sprintf("ws_server.port %d out of range", cfg.WSServer.Port))
	}
	if cfg.Retriever.Backend != "file" && cfg.Retriever.Backend != "qdrant" {
		errs = append(errs, fmt.Sprintf("retriever.backend %q must be file or qdrant", cfg.Retriever.Backend))
	}
	if cfg.Retriever.Backend == "qdrant" && cfg.Retriever.QdrantHost == "" {
		errs = append(errs, "retriever.qdrant_host is required when retriever.backend is qdrant")
	}
	if cfg.Cache.SemanticThreshold <= 0 || cfg.Cache.SemanticThreshold > 1 {
		errs = append(errs, fmt.Sprintf("cache.semantic_threshold %f must be in (0,1]", cfg.Cache.SemanticThreshold))
	}
	if cfg.Conv.KeepRecentMessages*2 > cfg.Conv.SummarizeThreshold*2 {
		errs = append(errs, "conv.keep_recent_messages must not exceed conv.summarize_threshold")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
