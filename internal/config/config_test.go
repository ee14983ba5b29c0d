package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_DefaultsApplyWithoutEnv(t *testing.T) {
	v := viper.New()
	v.SetConfigName("nonexistent-config-file")
	v.AddConfigPath(t.TempDir())

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Conv.SummarizeThreshold != 16 {
		t.Errorf("expected default summarize_threshold 16, got %d", cfg.Conv.SummarizeThreshold)
	}
}

func TestLoad_NamedEnvVarOverridesDefault(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key-123")
	t.Setenv("REDIS_HOST", "redis.internal")

	v := viper.New()
	v.SetConfigName("nonexistent-config-file")
	v.AddConfigPath(t.TempDir())

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GeminiAPIKey != "test-key-123" {
		t.Errorf("expected GeminiAPIKey from GEMINI_API_KEY, got %q", cfg.GeminiAPIKey)
	}
	if cfg.Redis.Host != "redis.internal" {
		t.Errorf("expected Redis.Host from REDIS_HOST, got %q", cfg.Redis.Host)
	}
}

func TestLoad_PrefixedEnvVarOverridesNested(t *testing.T) {
	t.Setenv("BOOKRAG_SERVER_PORT", "9999")

	v := viper.New()
	v.SetConfigName("nonexistent-config-file")
	v.AddConfigPath(t.TempDir())

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected BOOKRAG_SERVER_PORT to set server.port, got %d", cfg.Server.Port)
	}
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retriever.Backend = "pinecone"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown retriever backend")
	}
}

func TestValidate_RejectsQdrantBackendWithoutHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retriever.Backend = "qdrant"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for qdrant backend with no qdrant_host configured")
	}
	cfg.Retriever.QdrantHost = "localhost"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected qdrant backend with host to validate, got %v", err)
	}
}

func TestInterpolateEnv_ResolvesVarAndDefault(t *testing.T) {
	os.Setenv("BOOKRAG_TEST_VAR", "resolved")
	defer os.Unsetenv("BOOKRAG_TEST_VAR")

	cfg := Config{GeminiAPIKey: "${BOOKRAG_TEST_VAR}", BookPath: "${MISSING_VAR:-./default.epub}"}
	out := interpolateEnv(cfg)

	if out.GeminiAPIKey != "resolved" {
		t.Errorf("expected resolved env var, got %q", out.GeminiAPIKey)
	}
	if out.BookPath != "./default.epub" {
		t.Errorf("expected fallback default, got %q", out.BookPath)
	}
}
