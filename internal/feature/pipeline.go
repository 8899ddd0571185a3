package feature

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/hyperjump/kagami/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultTimeout bounds a single extraction.
const DefaultTimeout = 30 * time.Second

// LoadFunc loads the models. The locator may be nil.
type LoadFunc func(ctx context.Context) (Extractor, Locator, error)

// Static returns a LoadFunc for already constructed models.
func Static(ext Extractor, loc Locator) LoadFunc {
	return func(context.Context) (Extractor, Locator, error) {
		return ext, loc, nil
	}
}

// Pipeline produces embeddings from raw image bytes. Models load once, on Init or on first use;
// concurrent callers wait for the load to finish.
type Pipeline struct {
	load       LoadFunc
	dimensions int
	timeout    time.Duration
	workers    int
	cache      *FeatureCache
	sem        *semaphore.Weighted
	logger     *zap.Logger

	once      sync.Once
	ready     chan struct{}
	extractor Extractor
	locator   Locator
	initErr   error
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithCacheSize bounds the embedding cache. Zero disables it.
func WithCacheSize(n int) PipelineOption {
	return func(p *Pipeline) { p.cache = NewFeatureCache(n) }
}

// WithTimeout sets the per-image extraction deadline.
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithWorkers caps concurrent extractions.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// NewPipeline creates a pipeline producing vectors of the given dimension.
func NewPipeline(dimensions int, load LoadFunc, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		load:       load,
		dimensions: dimensions,
		timeout:    DefaultTimeout,
		workers:    runtime.NumCPU(),
		cache:      NewFeatureCache(100),
		logger:     zap.NewNop(),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = semaphore.NewWeighted(int64(p.workers))
	return p
}

// Init loads the models exactly once. Later calls return the first result.
func (p *Pipeline) Init(ctx context.Context) error {
	p.once.Do(func() {
		start := time.Now()
		p.extractor, p.locator, p.initErr = p.load(ctx)
		if p.initErr == nil && p.extractor == nil {
			p.initErr = errors.New("no extractor loaded")
		}
		if p.initErr == nil && p.extractor.Dimensions() != p.dimensions {
			p.initErr = fmt.Errorf("extractor produces %d dimensions, index expects %d",
				p.extractor.Dimensions(), p.dimensions)
		}
		if p.initErr != nil {
			p.logger.Error("failed to load feature models", zap.Error(p.initErr))
		} else {
			p.logger.Info("feature models loaded",
				zap.Bool("locator", p.locator != nil),
				zap.Duration("elapsed", time.Since(start)))
		}
		close(p.ready)
	})
	if p.initErr != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, p.initErr)
	}
	return nil
}

// Ready reports whether the models are loaded and usable.
func (p *Pipeline) Ready() bool {
	select {
	case <-p.ready:
		return p.initErr == nil
	default:
		return false
	}
}

// WaitReady blocks until Init has finished or ctx is done.
func (p *Pipeline) WaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		if p.initErr != nil {
			return fmt.Errorf("%w: %w", ErrNotReady, p.initErr)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dimensions returns the embedding dimension.
func (p *Pipeline) Dimensions() int {
	return p.dimensions
}

// CacheLen returns the number of cached embeddings.
func (p *Pipeline) CacheLen() int {
	return p.cache.Len()
}

type embedResult struct {
	vec []float32
	err error
}

// Embed returns the unit-length embedding of img. When a locator is configured and finds the
// subject, the crop is embedded instead of the full image.
func (p *Pipeline) Embed(ctx context.Context, img []byte) ([]float32, error) {
	if err := p.Init(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipeline, err)
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrPipeline)
	}
	key := KeyOf(img)
	if vec, ok := p.cache.Get(key); ok {
		return vec, nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipeline, err)
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// The slot is released by the worker, so a model call that ignores the deadline still
	// counts against the concurrency limit until it returns.
	done := make(chan embedResult, 1)
	go func() {
		defer p.sem.Release(1)
		vec, err := p.extract(cctx, img)
		done <- embedResult{vec: vec, err: err}
	}()

	var res embedResult
	select {
	case res = <-done:
	case <-cctx.Done():
		return nil, fmt.Errorf("%w: extraction timed out after %s: %w", ErrPipeline, p.timeout, cctx.Err())
	}
	if res.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipeline, res.err)
	}
	if len(res.vec) != p.dimensions {
		return nil, fmt.Errorf("%w: %w", ErrPipeline, &vector.DimensionError{Expected: p.dimensions, Actual: len(res.vec)})
	}
	vector.Normalize(res.vec)
	p.cache.Set(key, res.vec)
	return res.vec, nil
}

func (p *Pipeline) extract(ctx context.Context, img []byte) ([]float32, error) {
	input := img
	if p.locator != nil {
		cropped, found, err := p.locator.Locate(ctx, img)
		switch {
		case err != nil:
			p.logger.Debug("subject detection failed, using full image", zap.Error(err))
		case found:
			input = cropped
		}
	}
	return p.extractor.Embed(ctx, input)
}

// EmbedMany embeds images concurrently. errs[i] is set for images that failed; one failure
// never stops the others.
func (p *Pipeline) EmbedMany(ctx context.Context, imgs [][]byte) ([][]float32, []error) {
	vecs := make([][]float32, len(imgs))
	errs := make([]error, len(imgs))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, img := range imgs {
		g.Go(func() error {
			vecs[i], errs[i] = p.Embed(ctx, img)
			return nil
		})
	}
	_ = g.Wait()
	return vecs, errs
}

// Close releases the models.
func (p *Pipeline) Close() error {
	select {
	case <-p.ready:
	default:
		return nil
	}
	var err error
	if p.locator != nil {
		err = p.locator.Close()
	}
	if p.extractor != nil {
		if cerr := p.extractor.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
