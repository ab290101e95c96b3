package indexer

import (
	"context"
	"fmt"
	"sort"

	"github.com/notelink/notelink/internal/embed"
	"github.com/notelink/notelink/internal/splitter"
	"github.com/notelink/notelink/internal/store"
	"github.com/notelink/notelink/internal/vault"
)

// Default retrieval settings.
const (
	DefaultMaxResults = 10
	DefaultMinScore   = 0.35
)

// RelatedNote is one suggestion, collapsed to note granularity.
type RelatedNote struct {
	Path  string
	Title string
	// Score is the best chunk's cosine similarity.
	Score float32
	// Snippet is the content of the best-matching chunk.
	Snippet string
}

// QueryOptions bound a retrieval call.
type QueryOptions struct {
	MaxResults   int
	MinScore     float32
	ExcludePaths []string
}

func (o QueryOptions) withDefaults() QueryOptions {
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	return o
}

// Searcher answers related-note and free-text queries against the store.
type Searcher struct {
	store    *store.VectorChunkStore
	provider *embed.Provider
	source   vault.Source
}

// NewSearcher creates a searcher over the given store and provider.
func NewSearcher(st *store.VectorChunkStore, provider *embed.Provider, source vault.Source) *Searcher {
	return &Searcher{store: st, provider: provider, source: source}
}

// Related returns notes semantically close to the given note. Each chunk of
// the note runs as its own query; hits collapse to one entry per note
// keeping the best-scoring chunk, and the source note never appears in its
// own results.
func (s *Searcher) Related(ctx context.Context, path string, opts QueryOptions) ([]RelatedNote, error) {
	opts = opts.withDefaults()

	doc, err := s.source.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read note %s: %w", path, err)
	}

	maxTokens := s.provider.MaxTokens()
	texts := splitter.Split(doc.Content, maxTokens, s.provider.CountTokens)
	if len(texts) == 0 {
		return []RelatedNote{}, nil
	}
	for i, text := range texts {
		texts[i] = embed.TruncateToTokens(text, maxTokens)
	}

	embeddings, err := s.provider.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	exclude := append([]string{path}, opts.ExcludePaths...)
	best := make(map[string]*RelatedNote)

	for _, emb := range embeddings {
		// Over-fetch per chunk; note-level dedupe shrinks the set.
		results, err := s.store.SearchSimilar(ctx, emb, opts.MaxResults*2, opts.MinScore, exclude)
		if err != nil {
			return nil, err
		}
		mergeResults(best, results)
	}

	return rank(best, opts.MaxResults), nil
}

// Search returns notes matching a free-text query.
func (s *Searcher) Search(ctx context.Context, query string, opts QueryOptions) ([]RelatedNote, error) {
	opts = opts.withDefaults()

	emb, err := s.provider.EmbedText(ctx, embed.TruncateToTokens(query, s.provider.MaxTokens()))
	if err != nil {
		return nil, err
	}

	results, err := s.store.SearchSimilar(ctx, emb, opts.MaxResults*2, opts.MinScore, opts.ExcludePaths)
	if err != nil {
		return nil, err
	}

	best := make(map[string]*RelatedNote)
	mergeResults(best, results)
	return rank(best, opts.MaxResults), nil
}

// mergeResults folds chunk hits into per-note best entries.
func mergeResults(best map[string]*RelatedNote, results []*store.SearchResult) {
	for _, r := range results {
		existing, ok := best[r.Chunk.Path]
		if !ok || r.Score > existing.Score {
			best[r.Chunk.Path] = &RelatedNote{
				Path:    r.Chunk.Path,
				Title:   r.Chunk.Title,
				Score:   r.Score,
				Snippet: r.Chunk.Content,
			}
		}
	}
}

// rank orders notes by score descending, ties broken by path for stable
// output, and cuts to the limit.
func rank(best map[string]*RelatedNote, limit int) []RelatedNote {
	out := make([]RelatedNote, 0, len(best))
	for _, n := range best {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
