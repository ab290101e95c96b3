package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	noteerrors "github.com/notelink/notelink/internal/errors"
)

// Default OpenAI-compatible settings.
const (
	DefaultOpenAIEndpoint = "https://api.openai.com/v1"

	// text-embedding-3-small dimension; overridden when the config pins one.
	defaultOpenAIDimensions = 1536
	defaultOpenAIMaxTokens  = 8191
)

// OpenAIConfig configures an OpenAI-compatible backend.
type OpenAIConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Dimensions int
	MaxTokens  int
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// OpenAIBackend generates embeddings using an OpenAI-compatible HTTP API.
type OpenAIBackend struct {
	client    *http.Client
	transport *http.Transport
	config    OpenAIConfig
	dims      int
	maxTokens int

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Backend = (*OpenAIBackend)(nil)

// NewOpenAIBackend creates an OpenAI-compatible backend. No startup probe is
// made; the first embed call surfaces auth or model problems.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.Model == "" {
		return nil, noteerrors.New(noteerrors.ErrCodeModelInvalid, "openai model name is required", nil)
	}
	if cfg.APIKey == "" {
		return nil, noteerrors.New(noteerrors.ErrCodeConfigInvalid, "openai api key is required", nil)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOpenAIEndpoint
	}
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultOpenAIDimensions
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultOpenAIMaxTokens
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		IdleConnTimeout:     10 * time.Second,
	}

	return &OpenAIBackend{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Embed generates the embedding for a single text.
func (b *OpenAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (b *OpenAIBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, fmt.Errorf("backend is closed")
	}
	b.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, b.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += b.config.BatchSize {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		end := min(start+b.config.BatchSize, len(nonEmpty))
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := b.doEmbedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

func (b *OpenAIBackend) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < b.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
		embeddings, err := b.doEmbed(reqCtx, texts)
		cancel()

		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		if !noteerrors.IsRetryable(err) {
			return nil, err
		}
	}

	return nil, noteerrors.EmbedError(
		fmt.Sprintf("openai embed failed after %d attempts", b.config.MaxRetries), lastErr)
}

func (b *OpenAIBackend) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openAIEmbedRequest{Model: b.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.Endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.config.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, noteerrors.New(noteerrors.ErrCodeBackendTimeout, "openai request timed out", err)
		}
		return nil, noteerrors.ConnectivityError("openai request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		ne := noteerrors.New(noteerrors.ErrCodeBackendStatus,
			fmt.Sprintf("openai embed returned status %d: %s", resp.StatusCode, string(respBody)), nil)
		// Retry server errors and rate limits only.
		ne.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, ne
	}

	var result openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, noteerrors.ConnectivityError("failed to decode openai response", err)
	}
	if len(result.Data) != len(texts) {
		return nil, noteerrors.EmbedError(
			fmt.Sprintf("openai returned %d embeddings for %d inputs", len(result.Data), len(texts)), nil)
	}

	// The API is allowed to reorder; index is authoritative.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, noteerrors.EmbedError(fmt.Sprintf("openai returned out-of-range index %d", d.Index), nil)
		}
		embeddings[d.Index] = normalizeVector(d.Embedding)
	}
	return embeddings, nil
}

// CountTokens approximates token count from character length.
func (b *OpenAIBackend) CountTokens(text string) int {
	return ApproxTokens(text)
}

// VectorSize returns the embedding dimension.
func (b *OpenAIBackend) VectorSize() int {
	return b.dims
}

// MaxTokens returns the per-input token budget.
func (b *OpenAIBackend) MaxTokens() int {
	return b.maxTokens
}

// ModelName returns the model identifier.
func (b *OpenAIBackend) ModelName() string {
	return b.config.Model
}

// Close releases resources.
func (b *OpenAIBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.transport.CloseIdleConnections()
	return nil
}
