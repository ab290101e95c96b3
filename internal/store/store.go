package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/notelink/notelink/internal/blob"
)

// Default HNSW parameters.
const (
	defaultM        = 16
	defaultEfSearch = 20
)

// snapshot is the gob-encoded persistent form of the search graph.
type snapshot struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
	Graph      []byte
}

// VectorChunkStore is the chunk index: an HNSW graph for similarity search
// over a SQLite metadata store. All mutating operations mark the store dirty;
// Save persists the graph only when something changed since the last save.
type VectorChunkStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	// String chunk IDs map to internal uint64 graph keys. Deletion is
	// lazy: the node stays in the graph, only the mappings go away.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	meta         *MetadataStore
	blobs        blob.Store
	snapshotName string

	dirty  bool
	closed bool
}

// New creates a store and loads prior state. Load order: graph snapshot from
// the blob store, else rebuild from SQLite embeddings, else start empty. A
// damaged snapshot never fails construction, it degrades to the next source.
func New(cfg Config, meta *MetadataStore, blobs blob.Store, snapshotName string) (*VectorChunkStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("store dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = defaultM
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = defaultEfSearch
	}

	s := &VectorChunkStore{
		config:       cfg,
		idMap:        make(map[string]uint64),
		keyMap:       make(map[uint64]string),
		meta:         meta,
		blobs:        blobs,
		snapshotName: snapshotName,
	}
	s.graph = s.newGraph()

	if err := s.load(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *VectorChunkStore) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = s.config.M
	g.EfSearch = s.config.EfSearch
	g.Ml = 0.25
	return g
}

// load restores the graph, degrading through rebuild to a fresh store.
func (s *VectorChunkStore) load(ctx context.Context) error {
	data, err := s.blobs.Read(s.snapshotName)
	if err == nil {
		if loadErr := s.importSnapshot(data); loadErr == nil {
			slog.Debug("vector snapshot loaded",
				slog.String("name", s.snapshotName),
				slog.Int("chunks", len(s.idMap)))
			return nil
		} else {
			slog.Warn("vector snapshot unreadable, rebuilding from metadata",
				slog.String("name", s.snapshotName),
				slog.String("error", loadErr.Error()))
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("vector snapshot read failed, rebuilding from metadata",
			slog.String("name", s.snapshotName),
			slog.String("error", err.Error()))
	}

	if rebuildErr := s.rebuild(ctx); rebuildErr != nil {
		slog.Warn("graph rebuild failed, starting with empty index",
			slog.String("error", rebuildErr.Error()))
		s.reset()
	}
	return nil
}

func (s *VectorChunkStore) importSnapshot(data []byte) error {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: snap.Dimensions}
	}

	graph := s.newGraph()
	// Import requires an io.ByteReader.
	if err := graph.Import(bufio.NewReader(bytes.NewReader(snap.Graph))); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	s.graph = graph
	s.idMap = snap.IDMap
	s.nextKey = snap.NextKey
	s.keyMap = make(map[uint64]string, len(snap.IDMap))
	for id, key := range snap.IDMap {
		s.keyMap[key] = id
	}
	s.dirty = false
	return nil
}

// rebuild repopulates the graph from SQLite embeddings.
func (s *VectorChunkStore) rebuild(ctx context.Context) error {
	s.reset()

	count := 0
	err := s.meta.ForEachEmbedding(ctx, func(id string, vec []float32) error {
		if len(vec) != s.config.Dimensions {
			slog.Warn("skipping stored chunk with wrong dimension",
				slog.String("id", id), slog.Int("got", len(vec)))
			return nil
		}
		s.addVectorLocked(id, vec)
		count++
		return nil
	})
	if err != nil {
		return err
	}

	if count > 0 {
		slog.Info("vector index rebuilt from metadata", slog.Int("chunks", count))
		s.dirty = true
	}
	return nil
}

func (s *VectorChunkStore) reset() {
	s.graph = s.newGraph()
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.nextKey = 0
}

// addVectorLocked inserts one vector, lazily deleting any prior entry.
// The vector is normalized so cosine distance behaves on raw inputs too.
func (s *VectorChunkStore) addVectorLocked(id string, vec []float32) {
	if oldKey, exists := s.idMap[id]; exists {
		delete(s.keyMap, oldKey)
		delete(s.idMap, id)
	}

	key := s.nextKey
	s.nextKey++

	v := make([]float32, len(vec))
	copy(v, vec)
	normalizeInPlace(v)

	s.graph.Add(hnsw.MakeNode(key, v))
	s.idMap[id] = key
	s.keyMap[key] = id
}

// ReplaceForPath atomically swaps a note's chunks: all previous chunks for
// the path are removed, then the new set is inserted. SQLite is written
// first so a crash between the two writes loses only the rebuildable graph.
func (s *VectorChunkStore) ReplaceForPath(ctx context.Context, path string, chunks []*Chunk, embeddings [][]float32, model string) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunks and embeddings length mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	for _, e := range embeddings {
		if len(e) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(e)}
		}
	}
	for i := range chunks {
		if chunks[i].LastUpdated.IsZero() {
			chunks[i].LastUpdated = time.Now().UTC()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if _, err := s.meta.DeleteByPath(ctx, path); err != nil {
		return err
	}
	if err := s.meta.UpsertChunks(ctx, chunks, embeddings, model); err != nil {
		return err
	}

	s.deletePathLocked(path)
	for i, c := range chunks {
		s.addVectorLocked(c.ID(), embeddings[i])
	}
	s.dirty = true
	return nil
}

// RemoveByPath removes every chunk of a note and returns how many existed.
// Removing an unknown path is a no-op returning zero.
func (s *VectorChunkStore) RemoveByPath(ctx context.Context, path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	n, err := s.meta.DeleteByPath(ctx, path)
	if err != nil {
		return 0, err
	}
	removed := s.deletePathLocked(path)
	if n < removed {
		n = removed
	}
	if n > 0 {
		s.dirty = true
	}
	return n, nil
}

func (s *VectorChunkStore) deletePathLocked(path string) int {
	removed := 0
	for id, key := range s.idMap {
		if idPath(id) == path {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			removed++
		}
	}
	return removed
}

// GetByPath returns a note's chunks in order, empty when none exist.
func (s *VectorChunkStore) GetByPath(ctx context.Context, path string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	return s.meta.GetByPath(ctx, path)
}

// SearchSimilar returns up to limit chunks by cosine similarity, skipping
// excluded paths and scores below minScore. Exclusion filters after
// retrieval, so the search window doubles until enough survivors remain or
// the index is exhausted.
func (s *VectorChunkStore) SearchSimilar(ctx context.Context, query []float32, limit int, minScore float32, excludePaths []string) ([]*SearchResult, error) {
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if limit <= 0 {
		return []*SearchResult{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(s.idMap) == 0 {
		return []*SearchResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	total := s.graph.Len()
	window := limit * 2

	for {
		if window > total {
			window = total
		}

		nodes := s.graph.Search(normalized, window)
		results := make([]*SearchResult, 0, limit)

		for _, node := range nodes {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			id, live := s.keyMap[node.Key]
			if !live {
				// lazily deleted node
				continue
			}
			if excluded(idPath(id), excludePaths) {
				continue
			}

			score := 1.0 - s.graph.Distance(normalized, node.Value)
			if score < minScore {
				continue
			}

			chunk, err := s.meta.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if chunk == nil {
				continue
			}

			results = append(results, &SearchResult{Chunk: chunk, Score: score})
			if len(results) == limit {
				return results, nil
			}
		}

		// Exhausted the graph without filling the limit.
		if window >= total {
			return results, nil
		}
		window *= 2
	}
}

// Count returns the number of live chunks.
func (s *VectorChunkStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// NoteCount returns the number of distinct indexed notes.
func (s *VectorChunkStore) NoteCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}
	return s.meta.NoteCount(ctx)
}

// Dirty reports whether in-memory state has diverged from the snapshot.
func (s *VectorChunkStore) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Save writes the graph snapshot when dirty. A clean store returns
// immediately without touching disk.
func (s *VectorChunkStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if !s.dirty {
		return nil
	}

	var graphBuf bytes.Buffer
	if err := s.graph.Export(&graphBuf); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}

	var buf bytes.Buffer
	snap := snapshot{
		IDMap:      s.idMap,
		NextKey:    s.nextKey,
		Dimensions: s.config.Dimensions,
		Graph:      graphBuf.Bytes(),
	}
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := s.blobs.Write(s.snapshotName, buf.Bytes()); err != nil {
		return err
	}
	s.dirty = false

	slog.Debug("vector snapshot saved",
		slog.String("name", s.snapshotName),
		slog.Int("chunks", len(s.idMap)))
	return nil
}

// Close saves pending state and closes the metadata store.
func (s *VectorChunkStore) Close() error {
	if err := s.Save(); err != nil {
		slog.Warn("failed to save vector snapshot on close", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return s.meta.Close()
}

// idPath extracts the note path from a chunk store key.
func idPath(id string) string {
	if i := strings.LastIndex(id, "#"); i >= 0 {
		return id[:i]
	}
	return id
}

// excluded reports whether path matches any exclusion, exactly or as a
// folder prefix.
func excluded(path string, excludePaths []string) bool {
	for _, ex := range excludePaths {
		ex = strings.TrimSuffix(ex, "/")
		if ex == "" {
			continue
		}
		if path == ex || strings.HasPrefix(path, ex+"/") {
			return true
		}
	}
	return false
}

// normalizeInPlace scales a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
