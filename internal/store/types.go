// Package store persists note chunks and their embeddings and answers
// filtered similarity queries.
//
// Two layers back one logical store: an in-memory HNSW graph for approximate
// nearest-neighbor search, and a SQLite database holding chunk metadata and
// raw embeddings. The graph is snapshotted to disk between runs; when the
// snapshot is missing or unreadable it is rebuilt from SQLite, and only when
// both are gone does the store start empty.
package store

import (
	"fmt"
	"time"
)

// Chunk is one indexed fragment of a note.
type Chunk struct {
	// Path is the vault-relative path of the owning note.
	Path string
	// Title is the owning note's title.
	Title string
	// Content is the chunk text.
	Content string
	// ChunkIndex is this chunk's position within the note, starting at 0.
	ChunkIndex int
	// TotalChunks is how many chunks the note produced.
	TotalChunks int
	// LastUpdated is when the chunk was last written.
	LastUpdated time.Time
}

// ID returns the chunk's unique store key.
func (c *Chunk) ID() string {
	return ChunkID(c.Path, c.ChunkIndex)
}

// ChunkID builds the store key for a chunk of a note.
func ChunkID(path string, index int) string {
	return fmt.Sprintf("%s#%d", path, index)
}

// SearchResult is one similarity hit.
type SearchResult struct {
	Chunk *Chunk
	// Score is the cosine similarity to the query, in [-1, 1].
	Score float32
}

// ErrDimensionMismatch reports a vector whose length does not match the
// store's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Config configures a vector chunk store.
type Config struct {
	// Dimensions is the embedding dimension; all vectors must match.
	Dimensions int
	// M is the HNSW graph connectivity parameter.
	M int
	// EfSearch is the HNSW search expansion factor.
	EfSearch int
}
