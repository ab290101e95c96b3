package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetadata(t *testing.T) *MetadataStore {
	t.Helper()
	m, err := NewMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMetadata_UpsertAndGet(t *testing.T) {
	m := newTestMetadata(t)
	ctx := context.Background()

	chunks := []*Chunk{
		{Path: "a.md", Title: "A", Content: "first", ChunkIndex: 0, TotalChunks: 2, LastUpdated: time.Now()},
		{Path: "a.md", Title: "A", Content: "second", ChunkIndex: 1, TotalChunks: 2, LastUpdated: time.Now()},
	}
	require.NoError(t, m.UpsertChunks(ctx, chunks, [][]float32{{1, 2}, {3, 4}}, "model"))

	got, err := m.GetByPath(ctx, "a.md")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "second", got[1].Content)

	one, err := m.Get(ctx, "a.md#1")
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, 1, one.ChunkIndex)

	missing, err := m.Get(ctx, "a.md#9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMetadata_UpsertOverwrites(t *testing.T) {
	m := newTestMetadata(t)
	ctx := context.Background()

	c := &Chunk{Path: "a.md", Title: "A", Content: "old", ChunkIndex: 0, TotalChunks: 1, LastUpdated: time.Now()}
	require.NoError(t, m.UpsertChunks(ctx, []*Chunk{c}, [][]float32{{1}}, "model"))

	c.Content = "new"
	require.NoError(t, m.UpsertChunks(ctx, []*Chunk{c}, [][]float32{{2}}, "model"))

	got, err := m.Get(ctx, "a.md#0")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Content)

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetadata_ForEachEmbedding(t *testing.T) {
	m := newTestMetadata(t)
	ctx := context.Background()

	chunks := []*Chunk{
		{Path: "a.md", Content: "x", ChunkIndex: 0, TotalChunks: 1, LastUpdated: time.Now()},
		{Path: "b.md", Content: "y", ChunkIndex: 0, TotalChunks: 1, LastUpdated: time.Now()},
	}
	require.NoError(t, m.UpsertChunks(ctx, chunks, [][]float32{{0.5, -1.25}, {2, 3}}, "model"))

	seen := map[string][]float32{}
	require.NoError(t, m.ForEachEmbedding(ctx, func(id string, vec []float32) error {
		seen[id] = vec
		return nil
	}))

	require.Len(t, seen, 2)
	assert.Equal(t, []float32{0.5, -1.25}, seen["a.md#0"])
	assert.Equal(t, []float32{2, 3}, seen["b.md#0"])
}

func TestMetadata_NoteCount(t *testing.T) {
	m := newTestMetadata(t)
	ctx := context.Background()

	chunks := []*Chunk{
		{Path: "a.md", Content: "1", ChunkIndex: 0, TotalChunks: 2, LastUpdated: time.Now()},
		{Path: "a.md", Content: "2", ChunkIndex: 1, TotalChunks: 2, LastUpdated: time.Now()},
		{Path: "b.md", Content: "3", ChunkIndex: 0, TotalChunks: 1, LastUpdated: time.Now()},
	}
	require.NoError(t, m.UpsertChunks(ctx, chunks, [][]float32{{1}, {2}, {3}}, "model"))

	notes, err := m.NoteCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, notes)

	n, err := m.DeleteByPath(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1.5, -2.75, 3.14159}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Empty(t, decodeVector(encodeVector(nil)))
}
