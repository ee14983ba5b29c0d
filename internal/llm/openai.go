package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors for the OpenAI-compatible embedding provider, mirroring
// the teacher's embedding client taxonomy.
var (
	ErrEmptyInput      = errors.New("llm: empty input")
	ErrInvalidAPIKey   = errors.New("llm: invalid API key")
	ErrRateLimited     = errors.New("llm: rate limited")
	ErrContextTooLong  = errors.New("llm: context length exceeded")
)

// openaiModelDimensions mirrors the teacher's per-model dimension table.
var openaiModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures the OpenAI-compatible embedding client, selected
// via EMBEDDING_PROVIDER=openai / OPENAI_API_KEY per spec.md §6.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultOpenAIConfig returns the teacher's client defaults.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:      "text-embedding-3-small",
		BaseURL:    "https://api.openai.com/v1",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// OpenAIEmbedder implements Embedder against the OpenAI embeddings API.
// It is an Embedder only: bookrag's upstream chat completions always go
// through GeminiClient, per spec.md §6.
type OpenAIEmbedder struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	dimension  int
}

// NewOpenAIEmbedder builds an embedder from cfg, defaulting unset fields.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: openai API key is required")
	}

	defaults := DefaultOpenAIConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}

	dimension, ok := openaiModelDimensions[cfg.Model]
	if !ok {
		dimension = 1536
	}

	return &OpenAIEmbedder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		dimension:  dimension,
	}, nil
}

type openaiEmbeddingRequest struct {
	Input interface{} `json:"input"`
	Model string      `json:"model"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Embed computes one embedding vector for text.
func (c *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("llm: no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch computes embeddings for multiple texts in one request,
// retrying transient failures with the teacher's quadratic backoff.
func (c *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	validTexts := make([]string, 0, len(texts))
	validIndices := make([]int, 0, len(texts))
	for i, t := range texts {
		if t != "" {
			validTexts = append(validTexts, t)
			validIndices = append(validIndices, i)
		}
	}
	if len(validTexts) == 0 {
		return nil, ErrEmptyInput
	}

	reqBody, err := json.Marshal(openaiEmbeddingRequest{Input: validTexts, Model: c.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal embed request: %w", err)
	}

	var resp *openaiEmbeddingResponse
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt*attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, lastErr = c.doRequest(ctx, reqBody)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, ErrInvalidAPIKey) || errors.Is(lastErr, ErrContextTooLong) {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	results := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < len(validIndices) {
			results[validIndices[d.Index]] = d.Embedding
		}
	}
	for i, t := range texts {
		if t == "" {
			results[i] = make([]float32, c.dimension)
		}
	}
	return results, nil
}

func (c *OpenAIEmbedder) doRequest(ctx context.Context, body []byte) (*openaiEmbeddingResponse, error) {
	url := c.cfg.BaseURL + "/embeddings"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: embed request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openaiErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, ErrInvalidAPIKey
			case http.StatusTooManyRequests:
				return nil, ErrRateLimited
			case http.StatusBadRequest:
				if errResp.Error.Code == "context_length_exceeded" {
					return nil, ErrContextTooLong
				}
			}
			return nil, fmt.Errorf("llm: openai error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("llm: openai error: status %d", resp.StatusCode)
	}

	var parsed openaiEmbeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("llm: decode embed response: %w", err)
	}
	return &parsed, nil
}

// Dimension returns the embedding width for the configured model.
func (c *OpenAIEmbedder) Dimension() int {
	return c.dimension
}
