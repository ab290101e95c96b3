package changeq

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notelink/notelink/internal/blob"
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
	return &vault.Document{Path: path, Content: content}, nil
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

func newTestQueue(t *testing.T, src *fakeSource) *Queue {
	t.Helper()
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return New(src, blobs, "hashes.gob")
}

func event(path string, typ vault.EventType) vault.Event {
	return vault.Event{Path: path, Type: typ, Time: time.Now()}
}

func entryMap(entries []Entry) map[string]ChangeKind {
	m := make(map[string]ChangeKind, len(entries))
	for _, e := range entries {
		m[e.Path] = e.Kind
	}
	return m
}

func TestInitialize_DetectsOnlyDifferences(t *testing.T) {
	// Given: A is indexed unchanged, B is brand new
	src := newFakeSource(map[string]string{
		"a.md": "alpha content",
		"b.md": "beta content",
	})
	q := newTestQueue(t, src)
	q.hashes["a.md"] = HashContent("alpha content")

	// When: initializing
	require.NoError(t, q.Initialize(context.Background()))

	// Then: exactly one pending entry, B as new
	entries := q.Poll(10)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.md", entries[0].Path)
	assert.Equal(t, ChangeNew, entries[0].Kind)
}

func TestInitialize_DetectsModifiedAndDeleted(t *testing.T) {
	src := newFakeSource(map[string]string{
		"changed.md": "version two",
	})
	q := newTestQueue(t, src)
	q.hashes["changed.md"] = HashContent("version one")
	q.hashes["vanished.md"] = HashContent("anything")

	require.NoError(t, q.Initialize(context.Background()))

	kinds := entryMap(q.Poll(10))
	assert.Equal(t, map[string]ChangeKind{
		"changed.md":  ChangeModified,
		"vanished.md": ChangeDeleted,
	}, kinds)
}

func TestOnEvent_UnchangedContentIsDropped(t *testing.T) {
	src := newFakeSource(map[string]string{"a.md": "same"})
	q := newTestQueue(t, src)
	q.hashes["a.md"] = HashContent("same")

	// Touch without edit
	q.OnEvent(context.Background(), event("a.md", vault.EventModify))

	assert.Zero(t, q.Len())
}

func TestOnEvent_LatestWinsPerPath(t *testing.T) {
	src := newFakeSource(map[string]string{"a.md": "v1"})
	q := newTestQueue(t, src)

	q.OnEvent(context.Background(), event("a.md", vault.EventCreate))
	src.set("a.md", "v2")
	q.OnEvent(context.Background(), event("a.md", vault.EventModify))

	entries := q.Poll(10)
	require.Len(t, entries, 1)
	assert.Equal(t, HashContent("v2"), entries[0].Hash)
}

func TestOnEvent_DeleteOfUnknownPathIgnored(t *testing.T) {
	q := newTestQueue(t, newFakeSource(nil))

	q.OnEvent(context.Background(), event("ghost.md", vault.EventDelete))

	assert.Zero(t, q.Len())
}

func TestOnEvent_CreateThenVanishBecomesNothing(t *testing.T) {
	// File created then removed before we could read it, never indexed
	src := newFakeSource(nil)
	q := newTestQueue(t, src)

	q.OnEvent(context.Background(), event("flash.md", vault.EventCreate))

	assert.Zero(t, q.Len())
}

func TestPoll_FIFOAndBounded(t *testing.T) {
	src := newFakeSource(map[string]string{
		"1.md": "one", "2.md": "two", "3.md": "three",
	})
	q := newTestQueue(t, src)

	q.OnEvent(context.Background(), event("1.md", vault.EventCreate))
	q.OnEvent(context.Background(), event("2.md", vault.EventCreate))
	q.OnEvent(context.Background(), event("3.md", vault.EventCreate))

	first := q.Poll(2)
	require.Len(t, first, 2)
	assert.Equal(t, "1.md", first[0].Path)
	assert.Equal(t, "2.md", first[1].Path)

	rest := q.Poll(2)
	require.Len(t, rest, 1)
	assert.Equal(t, "3.md", rest[0].Path)
	assert.Zero(t, q.Len())
}

func TestMarkProcessed_CommitsHash(t *testing.T) {
	src := newFakeSource(map[string]string{"a.md": "body"})
	q := newTestQueue(t, src)

	q.OnEvent(context.Background(), event("a.md", vault.EventCreate))
	entries := q.Poll(1)
	require.Len(t, entries, 1)

	// Until committed, the same event queues again (at-least-once).
	q.OnEvent(context.Background(), event("a.md", vault.EventModify))
	assert.Equal(t, 1, q.Len())
	q.Poll(1)

	q.MarkProcessed(entries[0])
	q.OnEvent(context.Background(), event("a.md", vault.EventModify))
	assert.Zero(t, q.Len())
}

func TestMarkProcessed_DeleteRemovesHash(t *testing.T) {
	src := newFakeSource(nil)
	q := newTestQueue(t, src)
	q.hashes["a.md"] = "h"

	q.MarkProcessed(Entry{Path: "a.md", Kind: ChangeDeleted})
	assert.Zero(t, q.KnownCount())

	// Unknown path deletion commit is a no-op
	q.MarkProcessed(Entry{Path: "never.md", Kind: ChangeDeleted})
	assert.Zero(t, q.KnownCount())
}

func TestHashes_SaveLoadRoundTrip(t *testing.T) {
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)

	src := newFakeSource(nil)
	q := New(src, blobs, "hashes.gob")
	q.hashes["a.md"] = "hash-a"
	q.hashes["b.md"] = "hash-b"
	require.NoError(t, q.SaveHashes())

	fresh := New(src, blobs, "hashes.gob")
	require.NoError(t, fresh.LoadHashes())
	assert.Equal(t, 2, fresh.KnownCount())
	assert.Equal(t, "hash-a", fresh.hashes["a.md"])
}

func TestLoadHashes_CorruptBlobMeansFullReindex(t *testing.T) {
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, blobs.Write("hashes.gob", []byte("junk")))

	q := New(newFakeSource(nil), blobs, "hashes.gob")
	require.NoError(t, q.LoadHashes())
	assert.Zero(t, q.KnownCount())
}
