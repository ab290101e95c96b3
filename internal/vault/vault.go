// Package vault abstracts the note collection the engine indexes.
//
// The host application (or the filesystem implementation in this package)
// enumerates documents, serves their content, and pushes create/modify/delete
// events. Paths are vault-relative and act as the unique document key.
package vault

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// EventType classifies a document change notification.
type EventType int

const (
	// EventCreate indicates a new document appeared.
	EventCreate EventType = iota
	// EventModify indicates an existing document's content changed.
	EventModify
	// EventDelete indicates a document was removed.
	EventDelete
)

// String returns a human-readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventCreate:
		return "CREATE"
	case EventModify:
		return "MODIFY"
	case EventDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Event is a single document change notification.
type Event struct {
	Path string
	Type EventType
	Time time.Time
}

// Document is an immutable snapshot of one note for an indexing pass.
type Document struct {
	// Path is the vault-relative path, the document's unique key.
	Path string
	// Title is the first heading, or the filename without extension.
	Title string
	// Content is the full note text.
	Content string
	// Links are outbound reference targets found in the content.
	Links []string
}

// Source enumerates and reads documents and delivers change events.
type Source interface {
	// List returns the paths of all current documents.
	List(ctx context.Context) ([]string, error)

	// Read returns a snapshot of one document.
	Read(ctx context.Context, path string) (*Document, error)

	// Subscribe registers an observer for change events. The returned
	// function removes the observer. Events for one path arrive in order.
	Subscribe(fn func(Event)) (unsubscribe func())
}

var (
	titlePattern    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	wikiLinkPattern = regexp.MustCompile(`\[\[([^\]|#]+)(?:[|#][^\]]*)?\]\]`)
	mdLinkPattern   = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)
)

// ExtractTitle returns the first markdown heading, falling back to the
// filename without extension.
func ExtractTitle(path, content string) string {
	if m := titlePattern.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ExtractLinks returns outbound reference targets: [[wiki links]] and
// markdown link destinations, external URLs excluded.
func ExtractLinks(content string) []string {
	seen := make(map[string]struct{})
	var links []string

	add := func(target string) {
		target = strings.TrimSpace(target)
		if target == "" {
			return
		}
		if strings.Contains(target, "://") {
			return
		}
		if _, ok := seen[target]; ok {
			return
		}
		seen[target] = struct{}{}
		links = append(links, target)
	}

	for _, m := range wikiLinkPattern.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range mdLinkPattern.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	return links
}
