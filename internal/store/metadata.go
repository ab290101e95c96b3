package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	noteerrors "github.com/notelink/notelink/internal/errors"
)

// MetadataStore persists chunk metadata and raw embeddings in SQLite.
// It is the durable source of truth: the HNSW graph can always be rebuilt
// from its rows.
type MetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	path         TEXT NOT NULL,
	title        TEXT NOT NULL,
	content      TEXT NOT NULL,
	chunk_index  INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL,
	last_updated INTEGER NOT NULL,
	embedding    BLOB NOT NULL,
	model        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);
`

// NewMetadataStore opens (or creates) the chunk database at path.
// An empty path creates an in-memory database for testing.
func NewMetadataStore(path string) (*MetadataStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage,
				fmt.Sprintf("failed to create directory %s", filepath.Dir(path)), err)
		}
		if err := validateIntegrity(path); err != nil {
			slog.Warn("chunk database corrupted, clearing",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage,
					"chunk database corrupted and cannot be removed", removeErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		// WAL mode for concurrent readers; busy_timeout rides out writer contention.
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage, "failed to open chunk database", err)
	}

	// Single writer prevents lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage, "failed to apply pragma", err)
		}
	}

	if _, err := db.Exec(metadataSchema); err != nil {
		_ = db.Close()
		return nil, noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage, "failed to create schema", err)
	}

	return &MetadataStore{db: db, path: path}, nil
}

// validateIntegrity checks an existing database before opening it for real.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// UpsertChunks writes chunks and their embeddings in one transaction.
func (m *MetadataStore) UpsertChunks(ctx context.Context, chunks []*Chunk, embeddings [][]float32, model string) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunks and embeddings length mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("metadata store is closed")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, path, title, content, chunk_index, total_chunks, last_updated, embedding, model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			total_chunks = excluded.total_chunks,
			last_updated = excluded.last_updated,
			embedding = excluded.embedding,
			model = excluded.model`)
	if err != nil {
		return noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage, "failed to prepare upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, c := range chunks {
		_, err := stmt.ExecContext(ctx, c.ID(), c.Path, c.Title, c.Content,
			c.ChunkIndex, c.TotalChunks, c.LastUpdated.Unix(), encodeVector(embeddings[i]), model)
		if err != nil {
			return noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage,
				fmt.Sprintf("failed to upsert chunk %s", c.ID()), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage, "failed to commit upsert", err)
	}
	return nil
}

// DeleteByPath removes every chunk of a note and returns how many existed.
func (m *MetadataStore) DeleteByPath(ctx context.Context, path string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("metadata store is closed")
	}

	res, err := m.db.ExecContext(ctx, "DELETE FROM chunks WHERE path = ?", path)
	if err != nil {
		return 0, noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage,
			fmt.Sprintf("failed to delete chunks for %s", path), err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetByPath returns a note's chunks ordered by chunk index.
func (m *MetadataStore) GetByPath(ctx context.Context, path string) ([]*Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT path, title, content, chunk_index, total_chunks, last_updated
		FROM chunks WHERE path = ? ORDER BY chunk_index`, path)
	if err != nil {
		return nil, noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage,
			fmt.Sprintf("failed to query chunks for %s", path), err)
	}
	defer func() { _ = rows.Close() }()

	return scanChunks(rows)
}

// Get returns one chunk by store key, or nil when absent.
func (m *MetadataStore) Get(ctx context.Context, id string) (*Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	row := m.db.QueryRowContext(ctx, `
		SELECT path, title, content, chunk_index, total_chunks, last_updated
		FROM chunks WHERE id = ?`, id)

	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage,
			fmt.Sprintf("failed to load chunk %s", id), err)
	}
	return c, nil
}

// Count returns the total chunk count.
func (m *MetadataStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, fmt.Errorf("metadata store is closed")
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage, "failed to count chunks", err)
	}
	return n, nil
}

// NoteCount returns the number of distinct indexed notes.
func (m *MetadataStore) NoteCount(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, fmt.Errorf("metadata store is closed")
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT path) FROM chunks").Scan(&n); err != nil {
		return 0, noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage, "failed to count notes", err)
	}
	return n, nil
}

// ForEachEmbedding streams every stored chunk id and embedding. Used to
// rebuild the search graph when the snapshot is unusable.
func (m *MetadataStore) ForEachEmbedding(ctx context.Context, fn func(id string, vec []float32) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("metadata store is closed")
	}

	rows, err := m.db.QueryContext(ctx, "SELECT id, embedding FROM chunks")
	if err != nil {
		return noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage, "failed to query embeddings", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return noteerrors.StorageError(noteerrors.ErrCodeMetadataStorage, "failed to scan embedding row", err)
		}
		if err := fn(id, decodeVector(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close closes the database.
func (m *MetadataStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var updated int64
	if err := row.Scan(&c.Path, &c.Title, &c.Content, &c.ChunkIndex, &c.TotalChunks, &updated); err != nil {
		return nil, err
	}
	c.LastUpdated = time.Unix(updated, 0).UTC()
	return &c, nil
}

func scanChunks(rows *sql.Rows) ([]*Chunk, error) {
	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks little-endian bytes into a float32 slice.
func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
