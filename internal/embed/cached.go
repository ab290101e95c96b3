package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of cached embeddings.
// At 256 dims a full cache costs roughly 8 MB.
const DefaultCacheSize = 8192

// CachedBackend wraps a Backend with an LRU embedding cache keyed by
// model and content hash. Re-indexing a mostly unchanged vault hits the
// cache for every chunk whose text survived the edit.
type CachedBackend struct {
	inner Backend
	cache *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedBackend wraps inner with an LRU cache of the given size.
func NewCachedBackend(inner Backend, size int) (*CachedBackend, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedBackend{inner: inner, cache: cache}, nil
}

// cacheKey hashes model name and text so cached vectors never cross models.
func (c *CachedBackend) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(c.inner.ModelName()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Embed returns the cached embedding or delegates to the inner backend.
func (c *CachedBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if emb, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return emb, nil
	}
	c.misses.Add(1)

	emb, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, emb)
	return emb, nil
}

// EmbedBatch serves cached entries and forwards only the misses.
func (c *CachedBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if emb, ok := c.cache.Get(c.cacheKey(text)); ok {
			c.hits.Add(1)
			results[i] = emb
		} else {
			c.misses.Add(1)
			missTexts = append(missTexts, text)
			missIdx = append(missIdx, i)
		}
	}

	if len(missTexts) > 0 {
		embeddings, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(embeddings) != len(missTexts) {
			return nil, fmt.Errorf("backend returned %d embeddings for %d inputs", len(embeddings), len(missTexts))
		}
		for i, emb := range embeddings {
			results[missIdx[i]] = emb
			c.cache.Add(c.cacheKey(missTexts[i]), emb)
		}
	}

	return results, nil
}

// Stats returns cache hit and miss counts.
func (c *CachedBackend) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// CountTokens delegates to the inner backend.
func (c *CachedBackend) CountTokens(text string) int {
	return c.inner.CountTokens(text)
}

// VectorSize delegates to the inner backend.
func (c *CachedBackend) VectorSize() int {
	return c.inner.VectorSize()
}

// MaxTokens delegates to the inner backend.
func (c *CachedBackend) MaxTokens() int {
	return c.inner.MaxTokens()
}

// ModelName delegates to the inner backend.
func (c *CachedBackend) ModelName() string {
	return c.inner.ModelName()
}

// Close purges the cache and closes the inner backend.
func (c *CachedBackend) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

// Verify interface implementation at compile time
var _ Backend = (*CachedBackend)(nil)
