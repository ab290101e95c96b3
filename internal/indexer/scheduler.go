// Package indexer drives the indexing pipeline: it drains the change queue
// on a fixed interval, turns changed notes into embedded chunks, and keeps
// the chunk store in sync with the vault.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/notelink/notelink/internal/changeq"
	"github.com/notelink/notelink/internal/embed"
	"github.com/notelink/notelink/internal/notify"
	"github.com/notelink/notelink/internal/splitter"
	"github.com/notelink/notelink/internal/store"
	"github.com/notelink/notelink/internal/vault"
)

// Default scheduler settings.
const (
	DefaultInterval  = 5 * time.Second
	DefaultBatchSize = 16
)

// Scheduler periodically drains the change queue into the store.
type Scheduler struct {
	queue    *changeq.Queue
	store    *store.VectorChunkStore
	provider *embed.Provider
	source   vault.Source
	notifier notify.Notifier

	interval  time.Duration
	batchSize int
}

// NewScheduler wires the pipeline together. A nil notifier is replaced with
// the no-op notifier.
func NewScheduler(queue *changeq.Queue, st *store.VectorChunkStore, provider *embed.Provider,
	source vault.Source, notifier notify.Notifier, interval time.Duration, batchSize int) *Scheduler {
	if notifier == nil {
		notifier = notify.Nop
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Scheduler{
		queue:     queue,
		store:     st,
		provider:  provider,
		source:    source,
		notifier:  notifier,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run processes batches on the configured interval until the context is
// cancelled. State is flushed after every batch that changed something, and
// once more on the way out.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		case <-ticker.C:
			if n := s.ProcessBatch(ctx); n > 0 {
				s.flush()
			}
		}
	}
}

// Drain processes batches until the queue is empty, flushing at the end.
// Used by one-shot indexing runs.
func (s *Scheduler) Drain(ctx context.Context) (int, error) {
	total := 0
	for s.queue.Len() > 0 {
		if ctx.Err() != nil {
			s.flush()
			return total, ctx.Err()
		}
		n := s.ProcessBatch(ctx)
		total += n
		if n == 0 {
			// Every entry in the batch failed; stop instead of spinning.
			break
		}
	}
	s.flush()
	return total, nil
}

// ProcessBatch polls one batch off the queue and processes each entry.
// Failures are isolated per note: the entry is logged, reported through the
// notifier, and left uncommitted so it retries on a later change.
func (s *Scheduler) ProcessBatch(ctx context.Context) int {
	entries := s.queue.Poll(s.batchSize)
	if len(entries) == 0 {
		return 0
	}

	processed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if err := s.processEntry(ctx, entry); err != nil {
			slog.Error("failed to index note",
				slog.String("path", entry.Path),
				slog.String("change", entry.Kind.String()),
				slog.String("error", err.Error()))
			s.notifyError(err)
			continue
		}
		s.queue.MarkProcessed(entry)
		processed++
	}
	return processed
}

// processEntry applies one change to the store. The hash commit happens in
// the caller only after this returns nil, so a crash mid-entry re-indexes
// the note on the next run.
func (s *Scheduler) processEntry(ctx context.Context, entry changeq.Entry) error {
	if entry.Kind == changeq.ChangeDeleted {
		n, err := s.store.RemoveByPath(ctx, entry.Path)
		if err != nil {
			return err
		}
		slog.Debug("note removed from index",
			slog.String("path", entry.Path),
			slog.Int("chunks", n))
		return nil
	}

	doc, err := s.source.Read(ctx, entry.Path)
	if err != nil {
		return fmt.Errorf("read note: %w", err)
	}

	texts := s.splitDocument(doc)
	embeddings, err := s.provider.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed note: %w", err)
	}

	now := time.Now().UTC()
	chunks := make([]*store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &store.Chunk{
			Path:        doc.Path,
			Title:       doc.Title,
			Content:     text,
			ChunkIndex:  i,
			TotalChunks: len(texts),
			LastUpdated: now,
		}
	}

	model := ""
	if info, ok := s.provider.Info(); ok {
		model = info.Model
	}
	if err := s.store.ReplaceForPath(ctx, doc.Path, chunks, embeddings, model); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	slog.Debug("note indexed",
		slog.String("path", doc.Path),
		slog.Int("chunks", len(chunks)))
	return nil
}

// splitDocument chunks the note under the loaded model's token budget.
// A chunk the splitter could not shrink (a single enormous word) is
// truncated rather than dropped.
func (s *Scheduler) splitDocument(doc *vault.Document) []string {
	maxTokens := s.provider.MaxTokens()
	texts := splitter.Split(doc.Content, maxTokens, s.provider.CountTokens)

	for i, text := range texts {
		if maxTokens > 0 && s.provider.CountTokens(text) > maxTokens {
			slog.Debug("truncating unsplittable chunk",
				slog.String("path", doc.Path),
				slog.Int("chunk", i))
			texts[i] = embed.TruncateToTokens(text, maxTokens)
		}
	}
	return texts
}

// flush persists the snapshot and hash map.
func (s *Scheduler) flush() {
	if err := s.store.Save(); err != nil {
		slog.Error("failed to save vector snapshot", slog.String("error", err.Error()))
		s.notifyError(err)
	}
	if err := s.queue.SaveHashes(); err != nil {
		slog.Error("failed to save hash map", slog.String("error", err.Error()))
		s.notifyError(err)
	}
}

func (s *Scheduler) notifyError(err error) {
	if t, ok := s.notifier.(*notify.Throttled); ok {
		t.NotifyError(err)
		return
	}
	s.notifier.Notify(notify.LevelWarning, err.Error())
}

// PendingCount returns how many changes await processing.
func (s *Scheduler) PendingCount() int {
	return s.queue.Len()
}

// Status is a point-in-time view of the indexing pipeline.
type Status struct {
	ProviderState embed.State
	Model         string
	Pending       int
	Chunks        int
	Notes         int
}

// Status reports pipeline state for diagnostics.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	st := Status{
		ProviderState: s.provider.State(),
		Pending:       s.queue.Len(),
		Chunks:        s.store.Count(),
	}
	if info, ok := s.provider.Info(); ok {
		st.Model = info.Model
	}
	notes, err := s.store.NoteCount(ctx)
	if err != nil {
		return st, err
	}
	st.Notes = notes
	return st, nil
}
