package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bookrag/bookrag/internal/types"
)

// GeminiConfig configures the Gemini-compatible HTTP client. Grounded on
// the teacher's embedding client retry/backoff shape, with the wire
// format from spec.md §6 (candidates[].content.parts[].text/thought,
// embedding.values / embeddings[].values).
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Dimension  int
}

// DefaultGeminiConfig returns sensible client defaults.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:      "gemini-1.5-flash",
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		Dimension:  768,
	}
}

// GeminiClient implements Completer and Embedder against the upstream
// contract described in spec.md §6.
type GeminiClient struct {
	cfg  GeminiConfig
	http *http.Client
}

// NewGeminiClient builds a client from cfg.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGeminiConfig().Timeout
	}
	return &GeminiClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type part struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type candidate struct {
	Content content `json:"content"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
}

func toContents(messages []types.ChatMessage) []content {
	out := make([]content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		switch m.Role {
		case types.RoleAssistant:
			role = "model"
		case types.RoleSystem:
			role = "user"
		}
		out = append(out, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	return out
}

// Complete runs a single-shot (non-streaming) completion.
func (c *GeminiClient) Complete(ctx context.Context, messages []types.ChatMessage) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)

	body, err := json.Marshal(generateRequest{Contents: toContents(messages)})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}

	var sb strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, p := range parsed.Candidates[0].Content.Parts {
			if !p.Thought {
				sb.WriteString(p.Text)
			}
		}
	}
	return sb.String(), nil
}

// Stream runs a streaming completion, parsing upstream `data: {...}` SSE
// lines and discarding thought parts (spec.md §4.5 thought filtering).
func (c *GeminiClient) Stream(ctx context.Context, messages []types.ChatMessage) (<-chan Event, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)

	body, err := json.Marshal(generateRequest{Contents: toContents(messages)})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, c.statusError("stream", resp.StatusCode)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")

			var parsed generateResponse
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				continue
			}
			if len(parsed.Candidates) == 0 {
				continue
			}
			for _, p := range parsed.Candidates[0].Content.Parts {
				if p.Thought {
					continue
				}
				select {
				case events <- Event{Text: p.Text}:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case events <- Event{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		events <- Event{Done: true}
	}()

	return events, nil
}

type embeddingValues struct {
	Values []float32 `json:"values"`
}

type embedRequest struct {
	Content content `json:"content"`
}

type embedResponse struct {
	Embedding embeddingValues `json:"embedding"`
}

type embedBatchRequest struct {
	Requests []embedRequest `json:"requests"`
}

type embedBatchResponse struct {
	Embeddings []embeddingValues `json:"embeddings"`
}

// Embed computes one embedding vector for text.
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	url := fmt.Sprintf("%s/models/embedding-001:embedContent?key=%s", c.cfg.BaseURL, c.cfg.APIKey)

	body, err := json.Marshal(embedRequest{Content: content{Parts: []part{{Text: text}}}})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal embed request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("llm: decode embed response: %w", err)
	}
	return parsed.Embedding.Values, nil
}

// EmbedBatch computes embeddings for multiple texts in one request.
func (c *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/models/embedding-001:batchEmbedContents?key=%s", c.cfg.BaseURL, c.cfg.APIKey)

	reqs := make([]embedRequest, len(texts))
	for i, t := range texts {
		reqs[i] = embedRequest{Content: content{Parts: []part{{Text: t}}}}
	}

	body, err := json.Marshal(embedBatchRequest{Requests: reqs})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal batch embed request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed embedBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("llm: decode batch embed response: %w", err)
	}

	out := make([][]float32, len(parsed.Embeddings))
	for i, e := range parsed.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Dimension returns the configured embedding width.
func (c *GeminiClient) Dimension() int {
	if c.cfg.Dimension > 0 {
		return c.cfg.Dimension
	}
	return DefaultGeminiConfig().Dimension
}

func (c *GeminiClient) doWithRetry(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("llm: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = c.statusError("request", resp.StatusCode)
			select {
			case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, c.statusError("request", resp.StatusCode)
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *GeminiClient) statusError(op string, status int) error {
	return &ProviderError{
		Op:          "llm." + op,
		StatusCode:  status,
		RateLimited: status == http.StatusTooManyRequests,
		Err:         fmt.Errorf("upstream returned status %d", status),
	}
}
