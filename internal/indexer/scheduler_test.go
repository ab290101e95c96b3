package indexer

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notelink/notelink/internal/blob"
	"github.com/notelink/notelink/internal/changeq"
	"github.com/notelink/notelink/internal/embed"
	"github.com/notelink/notelink/internal/store"
	"github.com/notelink/notelink/internal/vault"
)

// fakeSource is an in-memory vault.
type fakeSource struct {
	mu   sync.Mutex
	docs map[string]string
}

func newFakeSource(docs map[string]string) *fakeSource {
	if docs == nil {
		docs = make(map[string]string)
	}
	return &fakeSource{docs: docs}
}

func (f *fakeSource) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var paths []string
	for p := range f.docs {
		paths = append(paths, p)
	}
	return paths, nil
}

func (f *fakeSource) Read(ctx context.Context, path string) (*vault.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.docs[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &vault.Document{
		Path:    path,
		Title:   vault.ExtractTitle(path, content),
		Content: content,
		Links:   vault.ExtractLinks(content),
	}, nil
}

func (f *fakeSource) Subscribe(fn func(vault.Event)) func() {
	return func() {}
}

func (f *fakeSource) set(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[path] = content
}

func (f *fakeSource) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, path)
}

type pipeline struct {
	source    *fakeSource
	queue     *changeq.Queue
	store     *store.VectorChunkStore
	provider  *embed.Provider
	scheduler *Scheduler
	searcher  *Searcher
}

func newPipeline(t *testing.T, docs map[string]string) *pipeline {
	t.Helper()
	dir := t.TempDir()

	source := newFakeSource(docs)
	blobs, err := blob.NewFSStore(dir)
	require.NoError(t, err)
	queue := changeq.New(source, blobs, "hashes.gob")

	meta, err := store.NewMetadataStore(dir + "/chunks.db")
	require.NoError(t, err)
	st, err := store.New(store.Config{Dimensions: embed.LocalDimensions}, meta, blobs, "vectors.snap")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	provider := embed.NewProvider()
	t.Cleanup(provider.Close)
	_, err = provider.LoadModel(context.Background(), embed.Spec{
		Provider:     embed.ProviderLocal,
		Model:        "notelink-hash-v1",
		Acceleration: embed.AccelNone,
	})
	require.NoError(t, err)

	return &pipeline{
		source:    source,
		queue:     queue,
		store:     st,
		provider:  provider,
		scheduler: NewScheduler(queue, st, provider, source, nil, time.Second, 8),
		searcher:  NewSearcher(st, provider, source),
	}
}

func TestScheduler_IndexesNewNotes(t *testing.T) {
	p := newPipeline(t, map[string]string{
		"garden.md": "# Garden\nTomatoes need staking by June.",
		"taxes.md":  "# Taxes\nQuarterly estimates are due in April.",
	})
	ctx := context.Background()

	require.NoError(t, p.queue.Initialize(ctx))
	require.Equal(t, 2, p.queue.Len())

	n := p.scheduler.ProcessBatch(ctx)
	assert.Equal(t, 2, n)
	assert.Zero(t, p.queue.Len())

	chunks, err := p.store.GetByPath(ctx, "garden.md")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "Garden", chunks[0].Title)

	// Hashes committed: re-observing the same content queues nothing.
	p.queue.OnEvent(ctx, vault.Event{Path: "garden.md", Type: vault.EventModify, Time: time.Now()})
	assert.Zero(t, p.queue.Len())
}

func TestScheduler_DeleteRemovesChunks(t *testing.T) {
	p := newPipeline(t, map[string]string{"gone.md": "# Gone\nshort lived"})
	ctx := context.Background()

	require.NoError(t, p.queue.Initialize(ctx))
	p.scheduler.ProcessBatch(ctx)
	require.Equal(t, 1, p.store.Count())

	p.source.remove("gone.md")
	p.queue.OnEvent(ctx, vault.Event{Path: "gone.md", Type: vault.EventDelete, Time: time.Now()})
	p.scheduler.ProcessBatch(ctx)

	assert.Zero(t, p.store.Count())
	assert.Zero(t, p.queue.KnownCount())
}

func TestScheduler_ModifyReplacesChunks(t *testing.T) {
	p := newPipeline(t, map[string]string{"note.md": "# Note\noriginal text"})
	ctx := context.Background()

	require.NoError(t, p.queue.Initialize(ctx))
	p.scheduler.ProcessBatch(ctx)

	p.source.set("note.md", "# Note\ncompletely different body now")
	p.queue.OnEvent(ctx, vault.Event{Path: "note.md", Type: vault.EventModify, Time: time.Now()})
	require.Equal(t, 1, p.queue.Len())
	p.scheduler.ProcessBatch(ctx)

	chunks, err := p.store.GetByPath(ctx, "note.md")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Content, "different body")
}

func TestScheduler_FailedEntryStaysUncommitted(t *testing.T) {
	p := newPipeline(t, map[string]string{"a.md": "# A\nbody"})
	ctx := context.Background()

	require.NoError(t, p.queue.Initialize(ctx))

	// Unload the model so embedding fails.
	p.provider.Unload()
	n := p.scheduler.ProcessBatch(ctx)
	assert.Zero(t, n)
	assert.Zero(t, p.queue.KnownCount())

	// After the model returns, the note indexes on the next detection.
	_, err := p.provider.LoadModel(ctx, embed.Spec{
		Provider: embed.ProviderLocal, Model: "notelink-hash-v1", Acceleration: embed.AccelNone,
	})
	require.NoError(t, err)
	require.NoError(t, p.queue.Initialize(ctx))
	assert.Equal(t, 1, p.scheduler.ProcessBatch(ctx))
}

func TestScheduler_Drain(t *testing.T) {
	docs := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		docs[name+".md"] = "# " + name + "\ncontent for " + name
	}
	p := newPipeline(t, docs)
	ctx := context.Background()

	require.NoError(t, p.queue.Initialize(ctx))
	total, err := p.scheduler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Zero(t, p.queue.Len())

	status, err := p.scheduler.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, status.Notes)
	assert.Equal(t, embed.StateReady, status.ProviderState)
	assert.Equal(t, "notelink-hash-v1", status.Model)
}

func TestSearcher_RelatedExcludesSelf(t *testing.T) {
	p := newPipeline(t, map[string]string{
		"planting.md": "# Planting\ntomato seedlings compost soil watering schedule",
		"harvest.md":  "# Harvest\ntomato ripening picking compost garden yield",
		"taxes.md":    "# Taxes\nincome deduction filing deadline accountant forms",
	})
	ctx := context.Background()

	require.NoError(t, p.queue.Initialize(ctx))
	p.scheduler.ProcessBatch(ctx)

	related, err := p.searcher.Related(ctx, "planting.md", QueryOptions{MaxResults: 5, MinScore: -1})
	require.NoError(t, err)
	require.NotEmpty(t, related)

	for _, r := range related {
		assert.NotEqual(t, "planting.md", r.Path)
	}
	// The overlapping garden note outranks the tax note.
	assert.Equal(t, "harvest.md", related[0].Path)
}

func TestSearcher_RelatedHonorsExcludePaths(t *testing.T) {
	p := newPipeline(t, map[string]string{
		"a.md":         "shared words overlap here",
		"archive/b.md": "shared words overlap here",
		"c.md":         "shared words overlap here too",
	})
	ctx := context.Background()

	require.NoError(t, p.queue.Initialize(ctx))
	p.scheduler.ProcessBatch(ctx)

	related, err := p.searcher.Related(ctx, "a.md", QueryOptions{
		MaxResults: 5, MinScore: -1, ExcludePaths: []string{"archive"},
	})
	require.NoError(t, err)

	for _, r := range related {
		assert.NotEqual(t, "archive/b.md", r.Path)
	}
}

func TestSearcher_Search(t *testing.T) {
	p := newPipeline(t, map[string]string{
		"garden.md": "# Garden\ntomato seedlings and compost rotation",
		"taxes.md":  "# Taxes\nquarterly filing and deductions",
	})
	ctx := context.Background()

	require.NoError(t, p.queue.Initialize(ctx))
	p.scheduler.ProcessBatch(ctx)

	results, err := p.searcher.Search(ctx, "tomato compost", QueryOptions{MaxResults: 1, MinScore: -1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "garden.md", results[0].Path)
}
