// Package changeq tracks which notes need (re)indexing.
//
// A content-hash map of every indexed note backs a FIFO queue of pending
// changes. Events whose content hash matches the stored hash are dropped,
// so touch-without-edit saves never trigger re-embedding. Hashes are
// committed only after the caller reports the change as processed, which
// makes indexing at-least-once across crashes.
package changeq

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/notelink/notelink/internal/blob"
	noteerrors "github.com/notelink/notelink/internal/errors"
	"github.com/notelink/notelink/internal/vault"
)

// ChangeKind classifies a pending change.
type ChangeKind int

const (
	// ChangeNew means the note has never been indexed.
	ChangeNew ChangeKind = iota
	// ChangeModified means the note's content hash changed.
	ChangeModified
	// ChangeDeleted means the note is gone and must leave the index.
	ChangeDeleted
)

// String returns a human-readable kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "new"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Entry is one pending change.
type Entry struct {
	Path string
	Kind ChangeKind
	// Hash is the content hash to commit once the change is processed.
	// Empty for deletions.
	Hash string
}

// Queue is the change queue plus the committed hash map.
//
// At most one entry per path is pending at a time; a newer change for an
// already-queued path overwrites the queued entry in place, keeping its FIFO
// position.
type Queue struct {
	source vault.Source
	blobs  blob.Store
	name   string

	mu      sync.Mutex
	hashes  map[string]string
	order   []string
	pending map[string]*Entry
}

// New creates a queue over a vault source, persisting the hash map as the
// named blob.
func New(source vault.Source, blobs blob.Store, name string) *Queue {
	return &Queue{
		source:  source,
		blobs:   blobs,
		name:    name,
		hashes:  make(map[string]string),
		pending: make(map[string]*Entry),
	}
}

// HashContent returns the content hash used for change detection.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// LoadHashes restores the committed hash map from the blob store. A missing
// blob means a first run; an unreadable one degrades to a full re-index.
func (q *Queue) LoadHashes() error {
	data, err := q.blobs.Read(q.name)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return noteerrors.StorageError(noteerrors.ErrCodeHashMapRead, "failed to read hash map", err)
	}

	var hashes map[string]string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&hashes); err != nil {
		slog.Warn("hash map unreadable, all notes will re-index",
			slog.String("error", err.Error()))
		return nil
	}

	q.mu.Lock()
	q.hashes = hashes
	q.mu.Unlock()
	return nil
}

// SaveHashes persists the committed hash map.
func (q *Queue) SaveHashes() error {
	q.mu.Lock()
	hashes := make(map[string]string, len(q.hashes))
	for k, v := range q.hashes {
		hashes[k] = v
	}
	q.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(hashes); err != nil {
		return noteerrors.StorageError(noteerrors.ErrCodeHashMapWrite, "failed to encode hash map", err)
	}
	if err := q.blobs.Write(q.name, buf.Bytes()); err != nil {
		return noteerrors.StorageError(noteerrors.ErrCodeHashMapWrite, "failed to write hash map", err)
	}
	return nil
}

// Initialize diffs the vault against the committed hash map and queues every
// difference: unknown notes as new, changed hashes as modified, and notes
// that vanished while the engine was down as deleted. Hashing runs with
// bounded parallelism.
func (q *Queue) Initialize(ctx context.Context) error {
	paths, err := q.source.List(ctx)
	if err != nil {
		return fmt.Errorf("list vault: %w", err)
	}

	current := make([]string, len(paths))
	copy(current, paths)

	type hashed struct {
		path string
		hash string
	}
	results := make([]hashed, len(current))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range current {
		g.Go(func() error {
			doc, err := q.source.Read(gctx, path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			results[i] = hashed{path: path, hash: HashContent(doc.Content)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	live := make(map[string]struct{}, len(current))
	for _, r := range results {
		live[r.path] = struct{}{}
		stored, known := q.hashes[r.path]
		switch {
		case !known:
			q.enqueueLocked(&Entry{Path: r.path, Kind: ChangeNew, Hash: r.hash})
		case stored != r.hash:
			q.enqueueLocked(&Entry{Path: r.path, Kind: ChangeModified, Hash: r.hash})
		}
	}

	for path := range q.hashes {
		if _, ok := live[path]; !ok {
			q.enqueueLocked(&Entry{Path: path, Kind: ChangeDeleted})
		}
	}

	slog.Info("change queue initialized",
		slog.Int("notes", len(current)),
		slog.Int("pending", len(q.order)))
	return nil
}

// OnEvent folds one vault event into the queue. Modify events whose content
// hash matches the committed hash are dropped.
func (q *Queue) OnEvent(ctx context.Context, ev vault.Event) {
	switch ev.Type {
	case vault.EventDelete:
		q.mu.Lock()
		_, known := q.hashes[ev.Path]
		_, queued := q.pending[ev.Path]
		if known || queued {
			q.enqueueLocked(&Entry{Path: ev.Path, Kind: ChangeDeleted})
		}
		q.mu.Unlock()
		return

	case vault.EventCreate, vault.EventModify:
		doc, err := q.source.Read(ctx, ev.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Deleted between event and read
				q.OnEvent(ctx, vault.Event{Path: ev.Path, Type: vault.EventDelete, Time: ev.Time})
				return
			}
			slog.Warn("failed to read changed note",
				slog.String("path", ev.Path),
				slog.String("error", err.Error()))
			return
		}

		hash := HashContent(doc.Content)

		q.mu.Lock()
		defer q.mu.Unlock()

		stored, known := q.hashes[ev.Path]
		if known && stored == hash {
			// Content identical to what is already indexed; drop any
			// stale pending entry too.
			q.dequeueLocked(ev.Path)
			return
		}

		kind := ChangeNew
		if known {
			kind = ChangeModified
		}
		q.enqueueLocked(&Entry{Path: ev.Path, Kind: kind, Hash: hash})
	}
}

// enqueueLocked adds or overwrites the pending entry for a path.
func (q *Queue) enqueueLocked(e *Entry) {
	if existing, ok := q.pending[e.Path]; ok {
		*existing = *e
		return
	}
	q.pending[e.Path] = e
	q.order = append(q.order, e.Path)
}

func (q *Queue) dequeueLocked(path string) {
	if _, ok := q.pending[path]; !ok {
		return
	}
	delete(q.pending, path)
	for i, p := range q.order {
		if p == path {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// Poll removes and returns up to maxCount entries in FIFO order.
func (q *Queue) Poll(maxCount int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if maxCount <= 0 || len(q.order) == 0 {
		return nil
	}
	n := min(maxCount, len(q.order))

	out := make([]Entry, 0, n)
	for _, path := range q.order[:n] {
		out = append(out, *q.pending[path])
		delete(q.pending, path)
	}
	q.order = append(q.order[:0], q.order[n:]...)
	return out
}

// MarkProcessed commits a processed entry into the hash map. For deletions
// of unknown paths this is a no-op.
func (q *Queue) MarkProcessed(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.Kind == ChangeDeleted {
		delete(q.hashes, e.Path)
		return
	}
	q.hashes[e.Path] = e.Hash
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// KnownCount returns the number of committed note hashes.
func (q *Queue) KnownCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.hashes)
}
