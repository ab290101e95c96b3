package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/viterin/vek/vek32"
)

// LocalBackend generates embeddings in-process using feature hashing.
// Works without external dependencies (no network, no model download) and is
// fully deterministic: the same text always maps to the same vector.
type LocalBackend struct {
	model       string
	dims        int
	maxTokens   int
	accelerated bool

	mu     sync.RWMutex
	closed bool
}

// proseStopWords contains common English function words to filter out.
var proseStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "of": true, "to": true, "in": true, "on": true,
	"at": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "it": true, "this": true, "that": true, "with": true,
	"as": true, "for": true, "by": true, "from": true, "not": true,
}

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// tokenRegex matches alphanumeric sequences
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewLocalBackend creates a local hash backend. When accelerated is true the
// SIMD path is probed first; if the probe fails NewLocalBackend returns an
// error so the caller can retry unaccelerated.
func NewLocalBackend(model string, dims, maxTokens int, accelerated bool) (*LocalBackend, error) {
	if dims <= 0 {
		dims = LocalDimensions
	}
	if maxTokens <= 0 {
		maxTokens = LocalMaxTokens
	}

	b := &LocalBackend{
		model:       model,
		dims:        dims,
		maxTokens:   maxTokens,
		accelerated: accelerated,
	}

	if accelerated {
		if err := probeSIMD(dims); err != nil {
			return nil, fmt.Errorf("accelerated path unavailable: %w", err)
		}
	}

	return b, nil
}

// probeSIMD exercises the vectorized kernel once so a broken acceleration
// setup surfaces at load time, not mid-index.
func probeSIMD(dims int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simd probe panicked: %v", r)
		}
	}()

	probe := make([]float32, dims)
	for i := range probe {
		probe[i] = 1
	}
	got := vek32.Dot(probe, probe)
	if math.Abs(float64(got)-float64(dims)) > 0.5 {
		return fmt.Errorf("simd probe returned %v, want %d", got, dims)
	}
	return nil
}

// Accelerated reports whether the SIMD path is active.
func (b *LocalBackend) Accelerated() bool {
	return b.accelerated
}

// Embed generates the embedding for a single text.
func (b *LocalBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, fmt.Errorf("backend is closed")
	}
	b.mu.RUnlock()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, b.dims), nil
	}

	vector := b.generateVector(trimmed)
	return b.normalize(vector), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (b *LocalBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := b.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// generateVector creates a hash-based vector from text.
func (b *LocalBackend) generateVector(text string) []float32 {
	vector := make([]float32, b.dims)

	tokens := filterStopWords(tokenize(text))
	for _, token := range tokens {
		vector[hashToIndex(token, b.dims)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, b.dims)] += ngramWeight
	}

	return vector
}

// normalize scales the vector to unit length, using the SIMD kernel for the
// magnitude when acceleration is active.
func (b *LocalBackend) normalize(v []float32) []float32 {
	if !b.accelerated {
		return normalizeVector(v)
	}

	magnitude := math.Sqrt(float64(vek32.Dot(v, v)))
	if magnitude == 0 {
		return v
	}
	return vek32.DivNumber(v, float32(magnitude))
}

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if lower != "" {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

// filterStopWords removes common function words.
func filterStopWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !proseStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// normalizeForNgrams prepares text for n-gram extraction.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-character sliding windows.
func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to a vector index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// CountTokens counts whitespace-delimited words. The local model has no real
// tokenizer, so a word is the unit of budget.
func (b *LocalBackend) CountTokens(text string) int {
	return len(strings.Fields(text))
}

// VectorSize returns the embedding dimension.
func (b *LocalBackend) VectorSize() int {
	return b.dims
}

// MaxTokens returns the per-input token budget.
func (b *LocalBackend) MaxTokens() int {
	return b.maxTokens
}

// ModelName returns the model identifier.
func (b *LocalBackend) ModelName() string {
	return b.model
}

// Close releases resources.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Verify interface implementation at compile time
var _ Backend = (*LocalBackend)(nil)
