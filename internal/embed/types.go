// Package embed turns note text into fixed-length vectors.
//
// A Provider owns one backend at a time (local in-process inference or a
// remote HTTP API) and serializes all embedding requests through a single
// FIFO: neither a local inference context nor a rate-limited remote server
// benefits from parallel fan-out, and neither is assumed reentrant-safe.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout bounds a single remote embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry count for transient remote failures.
	DefaultMaxRetries = 3

	// LocalDimensions is the vector size of the local hash backend.
	LocalDimensions = 256

	// LocalMaxTokens is the per-chunk token budget of the local backend.
	LocalMaxTokens = 512

	// DefaultRemoteMaxTokens is assumed for remote models that do not
	// report a context size.
	DefaultRemoteMaxTokens = 2048
)

// charsPerToken is the conservative character-per-token ratio used when no
// exact tokenizer is available. Real ratios run near 4 chars/token for
// English prose; 3 biases the estimate upward so remote payload limits are
// never exceeded.
const charsPerToken = 3

// State is the provider lifecycle state.
type State int32

const (
	// StateUnloaded means no model is loaded.
	StateUnloaded State = iota
	// StateLoading means a model load is in progress.
	StateLoading
	// StateReady means the provider can accept embedding requests.
	StateReady
	// StateBusy means a request is currently executing.
	StateBusy
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// ModelInfo describes a loaded model.
type ModelInfo struct {
	Model      string
	VectorSize int
	MaxTokens  int
}

// LoadResult reports which load path succeeded.
type LoadResult struct {
	Info ModelInfo
	// Accelerated is true when the SIMD local path is active.
	Accelerated bool
	// Fallback is true when the unaccelerated path was used after the
	// accelerated one failed to load.
	Fallback bool
}

// Backend generates vector embeddings for one loaded model.
type Backend interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// CountTokens reports the token cost of text under this backend's
	// tokenizer (or its conservative approximation).
	CountTokens(text string) int

	// VectorSize returns the embedding dimension.
	VectorSize() int

	// MaxTokens returns the model's per-input token budget.
	MaxTokens() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// ApproxTokens estimates token count from character length, biased to
// overestimate so payload limits are never violated.
func ApproxTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// TruncateToTokens trims text so its estimated token count fits the budget.
// Used for over-budget unsplittable chunks (a single huge word): the chunk is
// embedded truncated rather than rejected.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 || ApproxTokens(text) <= maxTokens {
		return text
	}
	limit := maxTokens * charsPerToken
	if limit >= len(text) {
		return text
	}
	return text[:limit]
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
