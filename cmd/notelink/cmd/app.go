package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/notelink/notelink/internal/blob"
	"github.com/notelink/notelink/internal/changeq"
	"github.com/notelink/notelink/internal/config"
	"github.com/notelink/notelink/internal/embed"
	noteerrors "github.com/notelink/notelink/internal/errors"
	"github.com/notelink/notelink/internal/indexer"
	"github.com/notelink/notelink/internal/notify"
	"github.com/notelink/notelink/internal/store"
	"github.com/notelink/notelink/internal/vault"
)

// app holds the wired engine for one CLI invocation.
type app struct {
	cfg       *config.Config
	source    *vault.FSVault
	queue     *changeq.Queue
	store     *store.VectorChunkStore
	provider  *embed.Provider
	scheduler *indexer.Scheduler
	searcher  *indexer.Searcher
	notifier  notify.Notifier
}

// newApp loads config and wires the full pipeline: vault, change queue,
// embedding provider, and chunk store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if vaultPath != "" {
		cfg.Vault.Path = vaultPath
		cfg.Vault.DataDir = filepath.Join(vaultPath, ".notelink")
	}

	source, err := vault.NewFSVault(cfg.Vault.Path, cfg.Vault.Extensions, cfg.Indexing.ExcludeFolders)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}

	blobs, err := blob.NewFSStore(cfg.Vault.DataDir)
	if err != nil {
		return nil, err
	}

	queue := changeq.New(source, blobs, filepath.Base(cfg.HashMapPath()))
	if err := queue.LoadHashes(); err != nil {
		// Degrades to a full re-index, not a startup failure.
		slog.Warn("hash map load failed", slog.String("error", err.Error()))
	}

	provider := embed.NewProvider()
	result, err := provider.LoadModel(ctx, embed.Spec{
		Provider:     cfg.Embeddings.Provider,
		Model:        cfg.Embeddings.Model,
		Endpoint:     cfg.Embeddings.Endpoint,
		APIKey:       cfg.Embeddings.APIKey,
		Dimensions:   cfg.Embeddings.Dimensions,
		MaxTokens:    cfg.Embeddings.MaxTokens,
		BatchSize:    cfg.Embeddings.BatchSize,
		Acceleration: cfg.Embeddings.Acceleration,
		Timeout:      cfg.Embeddings.Timeout,
	})
	if err != nil {
		provider.Close()
		return nil, err
	}

	notifier := notify.NewThrottled(notify.NewWriter(os.Stderr), noteerrors.NewThrottle(0))
	drainProviderSignals(provider, notifier)

	meta, err := store.NewMetadataStore(cfg.MetadataPath())
	if err != nil {
		provider.Close()
		return nil, err
	}

	st, err := store.New(store.Config{Dimensions: result.Info.VectorSize},
		meta, blobs, filepath.Base(cfg.SnapshotPath()))
	if err != nil {
		_ = meta.Close()
		provider.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		source:    source,
		queue:     queue,
		store:     st,
		provider:  provider,
		scheduler: indexer.NewScheduler(queue, st, provider, source, notifier,
			cfg.Indexing.Interval, cfg.Indexing.BatchSize),
		searcher: indexer.NewSearcher(st, provider, source),
		notifier: notifier,
	}, nil
}

// drainProviderSignals forwards provider advisories and throttled errors to
// the user for the lifetime of the process.
func drainProviderSignals(provider *embed.Provider, notifier notify.Notifier) {
	go func() {
		for msg := range provider.Advisory() {
			notifier.Notify(notify.LevelInfo, msg)
		}
	}()
	go func() {
		for err := range provider.Errors() {
			notifier.Notify(notify.LevelWarning, err.Error())
		}
	}()
}

// queryOptions builds retrieval options from config plus flag overrides.
func (a *app) queryOptions(limit int, minScore float64) indexer.QueryOptions {
	opts := indexer.QueryOptions{
		MaxResults:   a.cfg.Search.MaxResults,
		MinScore:     float32(a.cfg.Search.MinScore),
		ExcludePaths: a.cfg.Search.ExcludePaths,
	}
	if limit > 0 {
		opts.MaxResults = limit
	}
	if minScore >= -1 {
		opts.MinScore = float32(minScore)
	}
	return opts
}

// close flushes and releases everything.
func (a *app) close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("store close failed", slog.String("error", err.Error()))
	}
	if err := a.queue.SaveHashes(); err != nil {
		slog.Warn("hash map save failed", slog.String("error", err.Error()))
	}
	a.provider.Close()
}
