package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	noteerrors "github.com/notelink/notelink/internal/errors"
)

// Provider backend kinds.
const (
	ProviderLocal  = "local"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Acceleration modes for the local backend.
const (
	AccelSIMD = "simd"
	AccelNone = "none"
)

// Spec selects and configures a backend.
type Spec struct {
	Provider     string
	Model        string
	Endpoint     string
	APIKey       string
	Dimensions   int
	MaxTokens    int
	BatchSize    int
	Acceleration string
	Timeout      time.Duration
	CacheSize    int
}

// equivalent reports whether two specs load the same model the same way.
// Cache size is excluded: resizing the cache is not worth a reload.
func (s Spec) equivalent(other Spec) bool {
	return s.Provider == other.Provider &&
		s.Model == other.Model &&
		s.Endpoint == other.Endpoint &&
		s.Dimensions == other.Dimensions &&
		s.MaxTokens == other.MaxTokens &&
		s.Acceleration == other.Acceleration
}

type job struct {
	ctx   context.Context
	texts []string
	reply chan jobResult
}

type jobResult struct {
	embeddings [][]float32
	err        error
}

// Provider manages one loaded embedding backend at a time.
//
// All embedding requests flow through a single worker goroutine, so the
// backend sees strictly serialized FIFO traffic. The provider state moves
// Unloaded -> Loading -> Ready <-> Busy, and back to Unloaded on Unload or
// a failed load.
type Provider struct {
	mu      sync.Mutex
	backend Backend
	spec    Spec
	result  LoadResult
	loaded  bool

	state atomic.Int32

	jobs     chan job
	workerWg sync.WaitGroup

	errCh      chan error
	advisoryCh chan string
	throttle   *noteerrors.Throttle

	// newBackend is replaceable in tests.
	newBackend func(ctx context.Context, spec Spec, accelerated bool) (Backend, error)
}

// providerQueueDepth bounds how many embed requests may wait behind the
// worker before callers block.
const providerQueueDepth = 64

// NewProvider creates an unloaded provider.
func NewProvider() *Provider {
	p := &Provider{
		jobs:       make(chan job, providerQueueDepth),
		errCh:      make(chan error, 16),
		advisoryCh: make(chan string, 1),
		throttle:   noteerrors.NewThrottle(noteerrors.DefaultThrottleCooldown),
		newBackend: buildBackend,
	}
	p.state.Store(int32(StateUnloaded))

	p.workerWg.Add(1)
	go p.worker()
	return p
}

// buildBackend constructs the concrete backend for a spec.
func buildBackend(ctx context.Context, spec Spec, accelerated bool) (Backend, error) {
	switch spec.Provider {
	case ProviderLocal, "":
		return NewLocalBackend(spec.Model, spec.Dimensions, spec.MaxTokens, accelerated)
	case ProviderOllama:
		return NewOllamaBackend(ctx, OllamaConfig{
			Host:       spec.Endpoint,
			Model:      spec.Model,
			Dimensions: spec.Dimensions,
			MaxTokens:  spec.MaxTokens,
			BatchSize:  spec.BatchSize,
			Timeout:    spec.Timeout,
		})
	case ProviderOpenAI:
		return NewOpenAIBackend(OpenAIConfig{
			Endpoint:   spec.Endpoint,
			APIKey:     spec.APIKey,
			Model:      spec.Model,
			Dimensions: spec.Dimensions,
			MaxTokens:  spec.MaxTokens,
			BatchSize:  spec.BatchSize,
			Timeout:    spec.Timeout,
		})
	default:
		return nil, noteerrors.New(noteerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embedding provider %q", spec.Provider), nil)
	}
}

// State returns the current provider state.
func (p *Provider) State() State {
	return State(p.state.Load())
}

// Info returns the loaded model info. The second result is false when no
// model is loaded.
func (p *Provider) Info() (ModelInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return ModelInfo{}, false
	}
	return p.result.Info, true
}

// Errors returns the channel of throttled backend errors. At most one error
// per error class is delivered per cooldown window; the channel is buffered
// and never blocks the provider.
func (p *Provider) Errors() <-chan error {
	return p.errCh
}

// Advisory returns the channel of one-shot advisory messages, such as the
// accelerated-to-plain load fallback notice. Messages are dropped if nobody
// is listening.
func (p *Provider) Advisory() <-chan string {
	return p.advisoryCh
}

// LoadModel loads the backend described by spec. Calling it again with an
// equivalent spec while loaded is a no-op returning the original result.
// A different spec disposes the current backend before loading the new one.
//
// For the local provider with SIMD acceleration requested, a failed
// accelerated load falls back once to the plain path; the result carries
// Fallback=true and an advisory is emitted.
func (p *Provider) LoadModel(ctx context.Context, spec Spec) (LoadResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded && p.spec.equivalent(spec) {
		return p.result, nil
	}

	// Dispose the old backend before switching models.
	if p.loaded {
		p.disposeLocked()
	}

	p.state.Store(int32(StateLoading))

	wantAccel := spec.Provider == ProviderLocal && spec.Acceleration != AccelNone
	backend, err := p.newBackend(ctx, spec, wantAccel)
	accelerated := wantAccel
	fallback := false

	if err != nil && wantAccel {
		slog.Warn("accelerated model load failed, retrying without acceleration",
			slog.String("model", spec.Model),
			slog.String("error", err.Error()))
		p.advise(fmt.Sprintf("accelerated inference unavailable for %s, using standard path", spec.Model))

		backend, err = p.newBackend(ctx, spec, false)
		accelerated = false
		fallback = err == nil
	}

	if err != nil {
		p.state.Store(int32(StateUnloaded))
		return LoadResult{}, noteerrors.ModelLoadError(
			fmt.Sprintf("failed to load model %s", spec.Model), err)
	}

	cached, err := NewCachedBackend(backend, spec.CacheSize)
	if err != nil {
		_ = backend.Close()
		p.state.Store(int32(StateUnloaded))
		return LoadResult{}, noteerrors.ModelLoadError("failed to wrap backend cache", err)
	}

	p.backend = cached
	p.spec = spec
	p.loaded = true
	p.result = LoadResult{
		Info: ModelInfo{
			Model:      cached.ModelName(),
			VectorSize: cached.VectorSize(),
			MaxTokens:  cached.MaxTokens(),
		},
		Accelerated: accelerated,
		Fallback:    fallback,
	}
	p.state.Store(int32(StateReady))

	slog.Info("embedding model loaded",
		slog.String("provider", spec.Provider),
		slog.String("model", p.result.Info.Model),
		slog.Int("dimensions", p.result.Info.VectorSize),
		slog.Bool("accelerated", accelerated))

	return p.result, nil
}

// Unload disposes the current backend and returns to the unloaded state.
func (p *Provider) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposeLocked()
}

func (p *Provider) disposeLocked() {
	if p.backend != nil {
		if err := p.backend.Close(); err != nil {
			slog.Warn("backend close failed", slog.String("error", err.Error()))
		}
		p.backend = nil
	}
	p.loaded = false
	p.state.Store(int32(StateUnloaded))
}

// Close unloads the backend and stops the worker.
func (p *Provider) Close() {
	p.Unload()
	close(p.jobs)
	p.workerWg.Wait()
}

// EmbedText embeds a single text through the FIFO queue.
func (p *Provider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	results, err := p.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// EmbedTexts embeds a batch of texts through the FIFO queue. Requests are
// executed strictly in submission order, one at a time.
func (p *Provider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	switch p.State() {
	case StateUnloaded:
		return nil, noteerrors.New(noteerrors.ErrCodeProviderState, "no embedding model loaded", nil)
	case StateLoading:
		return nil, noteerrors.New(noteerrors.ErrCodeProviderState, "embedding model is still loading", nil)
	}

	j := job{ctx: ctx, texts: texts, reply: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-j.reply:
		if res.err != nil {
			p.reportError(res.err)
		}
		return res.embeddings, res.err
	case <-ctx.Done():
		// The worker will still run the job; its reply lands in the
		// buffered channel and is garbage collected.
		return nil, ctx.Err()
	}
}

func (p *Provider) worker() {
	defer p.workerWg.Done()

	for j := range p.jobs {
		if j.ctx.Err() != nil {
			j.reply <- jobResult{err: j.ctx.Err()}
			continue
		}

		p.mu.Lock()
		backend := p.backend
		p.mu.Unlock()

		if backend == nil {
			j.reply <- jobResult{err: noteerrors.New(noteerrors.ErrCodeProviderState, "no embedding model loaded", nil)}
			continue
		}

		p.state.CompareAndSwap(int32(StateReady), int32(StateBusy))
		embeddings, err := backend.EmbedBatch(j.ctx, j.texts)
		p.state.CompareAndSwap(int32(StateBusy), int32(StateReady))

		j.reply <- jobResult{embeddings: embeddings, err: err}
	}
}

// CountTokens reports the token cost of text under the loaded model, or the
// conservative approximation when nothing is loaded.
func (p *Provider) CountTokens(text string) int {
	p.mu.Lock()
	backend := p.backend
	p.mu.Unlock()

	if backend == nil {
		return ApproxTokens(text)
	}
	return backend.CountTokens(text)
}

// MaxTokens returns the loaded model's per-input budget, or zero when
// nothing is loaded.
func (p *Provider) MaxTokens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backend == nil {
		return 0
	}
	return p.backend.MaxTokens()
}

// VectorSize returns the loaded model's embedding dimension, or zero when
// nothing is loaded.
func (p *Provider) VectorSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backend == nil {
		return 0
	}
	return p.backend.VectorSize()
}

// reportError forwards an error to the Errors channel, throttled per error
// class so repeated failures do not flood listeners.
func (p *Provider) reportError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if !p.throttle.AllowError(err) {
		return
	}
	select {
	case p.errCh <- err:
	default:
		slog.Debug("provider error channel full, dropping",
			slog.String("error", err.Error()))
	}
}

func (p *Provider) advise(msg string) {
	select {
	case p.advisoryCh <- msg:
	default:
	}
}
