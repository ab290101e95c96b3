package vault

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow is the coalescing window for filesystem events.
const DefaultDebounceWindow = 200 * time.Millisecond

// FSVault is a filesystem-backed Source rooted at a vault directory.
type FSVault struct {
	root       string
	extensions map[string]struct{}
	excludes   []string

	mu        sync.Mutex
	observers map[int]func(Event)
	nextID    int

	watcher   *fsnotify.Watcher
	debouncer *Debouncer
}

// NewFSVault creates a filesystem vault. Extensions select which files count
// as documents; excludes are vault-relative folder prefixes to skip.
func NewFSVault(root string, extensions []string, excludes []string) (*FSVault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat vault root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", abs)
	}

	extSet := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = struct{}{}
	}

	return &FSVault{
		root:       abs,
		extensions: extSet,
		excludes:   excludes,
		observers:  make(map[int]func(Event)),
	}, nil
}

// Root returns the absolute vault root directory.
func (v *FSVault) Root() string {
	return v.root
}

// List returns the vault-relative paths of all documents, sorted.
func (v *FSVault) List(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(v.root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel != "." && v.skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if v.isDocument(rel) {
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Read returns a snapshot of one document.
func (v *FSVault) Read(ctx context.Context, path string) (*Document, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	data, err := os.ReadFile(filepath.Join(v.root, filepath.FromSlash(path)))
	if err != nil {
		return nil, err
	}
	content := string(data)
	return &Document{
		Path:    path,
		Title:   ExtractTitle(path, content),
		Content: content,
		Links:   ExtractLinks(content),
	}, nil
}

// Subscribe registers an observer for change events.
func (v *FSVault) Subscribe(fn func(Event)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++
	v.observers[id] = fn

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.observers, id)
	}
}

// Watch starts delivering filesystem events to subscribers until the context
// is cancelled. Events are debounced and coalesced per path; dispatch runs on
// a single goroutine so per-path ordering is preserved.
func (v *FSVault) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	v.watcher = watcher
	v.debouncer = NewDebouncer(DefaultDebounceWindow)

	// Watch the root and every subdirectory.
	err = filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(v.root, path)
		if rel != "." && v.skipDir(rel) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch vault tree: %w", err)
	}

	go v.dispatchLoop(ctx)
	go v.watchLoop(ctx)
	return nil
}

func (v *FSVault) watchLoop(ctx context.Context) {
	defer func() {
		_ = v.watcher.Close()
		v.debouncer.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-v.watcher.Events:
			if !ok {
				return
			}
			v.handleFsEvent(ev)
		case err, ok := <-v.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("vault watcher error", slog.String("error", err.Error()))
		}
	}
}

func (v *FSVault) handleFsEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(v.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	// New directories need their own watch.
	if ev.Op.Has(fsnotify.Create) {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if !v.skipDir(rel) {
				_ = v.watcher.Add(ev.Name)
			}
			return
		}
	}

	if !v.isDocument(rel) {
		return
	}

	now := time.Now()
	switch {
	case ev.Op.Has(fsnotify.Create):
		v.debouncer.Add(Event{Path: rel, Type: EventCreate, Time: now})
	case ev.Op.Has(fsnotify.Write):
		v.debouncer.Add(Event{Path: rel, Type: EventModify, Time: now})
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		v.debouncer.Add(Event{Path: rel, Type: EventDelete, Time: now})
	}
}

func (v *FSVault) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-v.debouncer.Output():
			if !ok {
				return
			}
			for _, ev := range batch {
				v.dispatch(ev)
			}
		}
	}
}

func (v *FSVault) dispatch(ev Event) {
	v.mu.Lock()
	observers := make([]func(Event), 0, len(v.observers))
	for _, fn := range v.observers {
		observers = append(observers, fn)
	}
	v.mu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}

func (v *FSVault) isDocument(rel string) bool {
	if v.skipPath(rel) {
		return false
	}
	_, ok := v.extensions[strings.ToLower(filepath.Ext(rel))]
	return ok
}

func (v *FSVault) skipDir(rel string) bool {
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".") {
		return true
	}
	return v.skipPath(rel)
}

func (v *FSVault) skipPath(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	for _, ex := range v.excludes {
		ex = strings.TrimSuffix(filepath.ToSlash(ex), "/")
		if rel == ex || strings.HasPrefix(rel, ex+"/") {
			return true
		}
	}
	return false
}

// Verify interface implementation at compile time
var _ Source = (*FSVault)(nil)
