package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	noteerrors "github.com/notelink/notelink/internal/errors"
)

// Default Ollama settings.
const (
	DefaultOllamaHost = "http://localhost:11434"
	ollamaPoolSize    = 4
)

// OllamaConfig configures an Ollama backend.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int
	MaxTokens  int
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int

	// SkipHealthCheck bypasses the startup model check (tests only).
	SkipHealthCheck bool
}

// ollamaEmbedRequest is the /api/embed request payload.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// ollamaEmbedResponse is the /api/embed response payload.
type ollamaEmbedResponse struct {
	Embeddings      [][]float64 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

// ollamaTagsResponse is the /api/tags response payload.
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaBackend generates embeddings using Ollama's HTTP API.
type OllamaBackend struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	dims      int
	maxTokens int

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Backend = (*OllamaBackend)(nil)

// NewOllamaBackend creates an Ollama backend and verifies the model exists
// on the server. Embedding dimension is auto-detected from a probe request
// when the config does not pin it.
func NewOllamaBackend(ctx context.Context, cfg OllamaConfig) (*OllamaBackend, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		return nil, noteerrors.New(noteerrors.ErrCodeModelInvalid, "ollama model name is required", nil)
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
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultRemoteMaxTokens
	}

	// Short idle timeout keeps connections from lingering after shutdown.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		IdleConnTimeout:     10 * time.Second,
	}

	// No client-level timeout; each request carries its own context deadline.
	b := &OllamaBackend{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
		maxTokens: cfg.MaxTokens,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		if err := b.checkModel(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}

		if b.dims == 0 {
			dims, err := b.detectDimensions(checkCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, noteerrors.ModelLoadError("failed to detect embedding dimensions", err)
			}
			b.dims = dims
		}
	}

	if b.dims == 0 {
		return nil, noteerrors.New(noteerrors.ErrCodeModelInvalid,
			"embedding dimensions unknown and health check skipped", nil)
	}

	return b, nil
}

// checkModel verifies the configured model is present on the server.
func (b *OllamaBackend) checkModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.config.Host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return noteerrors.ConnectivityError("failed to connect to Ollama", err).
			WithDetail("host", b.config.Host)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return noteerrors.New(noteerrors.ErrCodeBackendStatus,
			fmt.Sprintf("ollama tags returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return noteerrors.ConnectivityError("failed to decode Ollama response", err)
	}

	want := strings.ToLower(b.config.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return nil
		}
	}

	return noteerrors.New(noteerrors.ErrCodeModelInvalid,
		fmt.Sprintf("model %q not found on Ollama server", b.config.Model), nil).
		WithDetail("host", b.config.Host)
}

// detectDimensions probes the model with a tiny input.
func (b *OllamaBackend) detectDimensions(ctx context.Context) (int, error) {
	embeddings, err := b.doEmbed(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(embeddings[0]), nil
}

// Embed generates the embedding for a single text.
func (b *OllamaBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, fmt.Errorf("backend is closed")
	}
	b.mu.RUnlock()

	if strings.TrimSpace(text) == "" {
		return make([]float32, b.dims), nil
	}

	embeddings, err := b.doEmbedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, noteerrors.EmbedError("no embedding returned", nil)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts using the batch API.
// Blank texts get zero vectors without a network round trip.
func (b *OllamaBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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
		if len(embeddings) != len(batch) {
			return nil, noteerrors.EmbedError(
				fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(embeddings), len(batch)), nil)
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

// doEmbedWithRetry retries transient failures with exponential backoff.
// Model and input errors are not retried.
func (b *OllamaBackend) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
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

		slog.Debug("ollama embed attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))
	}

	return nil, noteerrors.EmbedError(
		fmt.Sprintf("ollama embed failed after %d attempts", b.config.MaxRetries), lastErr)
}

// doEmbed performs one /api/embed request.
func (b *OllamaBackend) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: b.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, noteerrors.New(noteerrors.ErrCodeBackendTimeout, "ollama request timed out", err)
		}
		return nil, noteerrors.ConnectivityError("ollama request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		ne := noteerrors.New(noteerrors.ErrCodeBackendStatus,
			fmt.Sprintf("ollama embed returned status %d: %s", resp.StatusCode, string(respBody)), nil)
		// Server errors are worth retrying; 4xx means a bad request.
		ne.Retryable = resp.StatusCode >= 500
		return nil, ne
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, noteerrors.ConnectivityError("failed to decode Ollama response", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embedding := make([]float32, len(emb))
		for j, v := range emb {
			embedding[j] = float32(v)
		}
		embeddings[i] = normalizeVector(embedding)
	}
	return embeddings, nil
}

// CountTokens approximates token count; Ollama exposes no tokenizer endpoint.
func (b *OllamaBackend) CountTokens(text string) int {
	return ApproxTokens(text)
}

// VectorSize returns the embedding dimension.
func (b *OllamaBackend) VectorSize() int {
	return b.dims
}

// MaxTokens returns the per-input token budget.
func (b *OllamaBackend) MaxTokens() int {
	return b.maxTokens
}

// ModelName returns the model identifier.
func (b *OllamaBackend) ModelName() string {
	return b.config.Model
}

// Close releases resources.
func (b *OllamaBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.transport.CloseIdleConnections()
	return nil
}
