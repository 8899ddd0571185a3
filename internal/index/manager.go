// Package index owns the mapping between image identifiers and embedding vectors. A Manager keeps a
// vector store and an identifier ledger aligned position by position, serves searches from a
// consistent snapshot while mutations run, and persists both together.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/kagami/internal/ledger"
	"github.com/hyperjump/kagami/internal/persist"
	"github.com/hyperjump/kagami/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateEmpty     State = "empty"
	StatePopulated State = "populated"
	StateCorrupt   State = "corrupt"
)

// DefaultChunkSize is the number of images processed per rebuild step.
const DefaultChunkSize = 20

// Embedder turns raw image bytes into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, img []byte) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that can process several images concurrently.
// errs[i] is non-nil when vecs[i] could not be produced.
type BatchEmbedder interface {
	EmbedMany(ctx context.Context, imgs [][]byte) (vecs [][]float32, errs []error)
}

// FetchFunc loads the source bytes of an indexed image.
type FetchFunc func(ctx context.Context, id string) ([]byte, error)

// PurgeFunc deletes everything the raw-file owner keeps. Reset calls it after clearing the index.
type PurgeFunc func(ctx context.Context) error

// Persister saves and loads index snapshots.
type Persister interface {
	Save(s *persist.Snapshot) error
	Load() (*persist.Snapshot, error)
	Remove() error
}

// snapshot is a store and ledger pair. Positions in one correspond to positions in the other.
type snapshot struct {
	store  vector.Store
	ledger *ledger.Ledger
}

// Manager is the single owner of the live index.
type Manager struct {
	dimensions       int
	storeType        string
	persister        Persister
	embedder         Embedder
	fetch            FetchFunc
	purge            PurgeFunc
	policy           FlushPolicy
	interval         time.Duration
	chunkSize        int
	limiter          *rate.Limiter
	itemTimeout      time.Duration
	rejectDuplicates bool
	logger           *zap.Logger

	// mutate serializes structural mutations and persistence.
	mutate sync.Mutex

	// mu guards the fields below. Readers hold it shared for the duration of a search.
	mu           sync.RWMutex
	live         *snapshot
	corrupt      bool
	dirty        bool
	generation   uint64
	lastFlush    time.Time
	lastFlushErr error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithStoreType selects the vector store implementation ("flat" or "faiss").
func WithStoreType(t string) Option {
	return func(m *Manager) { m.storeType = t }
}

// WithPersister sets where snapshots are saved. Without one the index lives only in memory.
func WithPersister(p Persister) Option {
	return func(m *Manager) { m.persister = p }
}

// WithSource sets how Delete re-fetches and re-embeds the remaining images.
func WithSource(fetch FetchFunc, embedder Embedder) Option {
	return func(m *Manager) {
		m.fetch = fetch
		m.embedder = embedder
	}
}

// WithPurge sets the hook Reset calls after clearing the index.
func WithPurge(p PurgeFunc) Option {
	return func(m *Manager) { m.purge = p }
}

// WithFlushPolicy sets when Add persists. Defaults to Adaptive{N: 5, FastThreshold: 5s}.
func WithFlushPolicy(p FlushPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithFlushInterval makes Run flush dirty state every d.
func WithFlushInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithChunkSize sets how many images Rebuild, Sync and Delete process per step.
func WithChunkSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.chunkSize = n
		}
	}
}

// WithRateLimit caps source fetches per second during recomputation. Zero disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(m *Manager) {
		if perSecond > 0 {
			m.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithItemTimeout bounds the fetch and embedding of each image during Rebuild, Sync and Delete. An
// image that runs over is counted as failed. Embedders with EmbedMany bound their own calls.
func WithItemTimeout(d time.Duration) Option {
	return func(m *Manager) { m.itemTimeout = d }
}

// WithRejectDuplicates makes Add and AddBatch refuse identifiers already present.
func WithRejectDuplicates(reject bool) Option {
	return func(m *Manager) { m.rejectDuplicates = reject }
}

// NewManager creates a manager and loads the persisted snapshot, if any. A corrupt snapshot is not
// an error here: the manager starts in StateCorrupt and refuses to serve until rebuilt or reset.
func NewManager(dimensions int, opts ...Option) (*Manager, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	m := &Manager{
		dimensions: dimensions,
		storeType:  string(vector.TypeFlat),
		policy:     Adaptive{N: 5, FastThreshold: 5 * time.Second},
		chunkSize:  DefaultChunkSize,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	empty, err := m.newSnapshot()
	if err != nil {
		return nil, err
	}
	m.live = empty
	if err := m.load(); err != nil {
		_ = empty.store.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) newSnapshot() (*snapshot, error) {
	s, err := vector.New(m.storeType, m.dimensions)
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	return &snapshot{store: s, ledger: ledger.New()}, nil
}

func (m *Manager) load() error {
	if m.persister == nil {
		return nil
	}
	snap, err := m.persister.Load()
	if errors.Is(err, persist.ErrCorrupt) {
		m.logger.Error("index snapshot is corrupt; rebuild or reset required", zap.Error(err))
		m.corrupt = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	if snap == nil {
		return nil
	}
	if err := m.live.store.AppendBatch(snap.Vectors); err != nil {
		m.logger.Error("index snapshot does not fit the vector store", zap.Error(err))
		m.corrupt = true
		return nil
	}
	m.live.ledger.AppendBatch(snap.IDs)
	m.generation = snap.Generation
	m.logger.Info("index loaded",
		zap.Int("size", len(snap.IDs)),
		zap.Uint64("generation", snap.Generation))
	return nil
}

// Entry is an identifier with its precomputed vector.
type Entry struct {
	ID     string
	Vector []float32
}

// Hit is a search result.
type Hit struct {
	ID       string
	Score    float64
	Position int
}

// ItemError records why one image was skipped.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// AddResult describes a completed Add.
type AddResult struct {
	ID        string
	Position  int
	Size      int
	Persisted bool
	Durable   bool
	Warning   string
}

// BatchResult describes a completed AddBatch.
type BatchResult struct {
	Added    int
	Errored  int
	IDs      []string
	Failures []ItemError
	Size     int
	Durable  bool
	Warning  string
}

// DeleteResult describes a completed Delete.
type DeleteResult struct {
	ID        string
	Remaining int
	Errored   int
	Failures  []ItemError
	Durable   bool
	Warning   string
}

// RebuildResult describes a completed Rebuild or Sync.
type RebuildResult struct {
	Processed int
	Errored   int
	Total     int
	Failures  []ItemError
	Elapsed   time.Duration
	Durable   bool
	Warning   string
}

// ResetResult describes a completed Reset.
type ResetResult struct {
	Durable bool
	Warning string
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Size         int       `json:"size"`
	State        State     `json:"state"`
	Dimensions   int       `json:"dimensions"`
	StoreType    string    `json:"store_type"`
	Dirty        bool      `json:"dirty"`
	Generation   uint64    `json:"generation"`
	FlushPolicy  string    `json:"flush_policy"`
	LastFlush    time.Time `json:"last_flush,omitempty"`
	LastFlushErr string    `json:"last_flush_error,omitempty"`
}

func (m *Manager) checkVector(vec []float32) error {
	if len(vec) != m.dimensions {
		return &DimensionError{Expected: m.dimensions, Actual: len(vec)}
	}
	return nil
}

// Add appends one record and consults the flush policy. Adding an identifier twice creates two
// records unless duplicates are rejected.
func (m *Manager) Add(ctx context.Context, id string, vec []float32) (*AddResult, error) {
	return m.AddSince(ctx, id, vec, time.Now())
}

// AddSince is Add for callers that did upstream work (storing, embedding) starting at started.
// The adaptive flush policy measures elapsed time from there.
func (m *Manager) AddSince(ctx context.Context, id string, vec []float32, started time.Time) (*AddResult, error) {
	if err := m.checkVector(vec); err != nil {
		return nil, err
	}
	m.mutate.Lock()
	defer m.mutate.Unlock()

	m.mu.Lock()
	if m.corrupt {
		m.mu.Unlock()
		return nil, ErrCorrupt
	}
	if m.rejectDuplicates && m.live.ledger.Contains(id) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	if err := m.live.store.Append(vec); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.live.ledger.Append(id)
	m.dirty = true
	size := m.live.ledger.Len()
	m.mu.Unlock()

	res := &AddResult{ID: id, Position: size - 1, Size: size, Durable: false}
	if m.policy.ShouldFlush(size, time.Since(started)) {
		res.Persisted = true
		if err := m.persistLocked(); err != nil {
			res.Warning = err.Error()
		} else {
			res.Durable = true
		}
	}
	m.logger.Debug("image indexed",
		zap.String("id", id),
		zap.Int("size", size),
		zap.Bool("persisted", res.Persisted))
	return res, nil
}

// AddBatch appends all valid entries in one critical section and persists. Entries with the wrong
// dimension (or rejected duplicates) are counted as errored.
func (m *Manager) AddBatch(ctx context.Context, entries []Entry) (*BatchResult, error) {
	res := &BatchResult{IDs: []string{}}
	valid := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if err := m.checkVector(e.Vector); err != nil {
			res.Errored++
			res.Failures = append(res.Failures, ItemError{ID: e.ID, Error: err.Error()})
			continue
		}
		valid = append(valid, e)
	}

	m.mutate.Lock()
	defer m.mutate.Unlock()

	m.mu.Lock()
	if m.corrupt {
		m.mu.Unlock()
		return nil, ErrCorrupt
	}
	if m.rejectDuplicates {
		seen := make(map[string]bool, len(valid))
		kept := valid[:0]
		for _, e := range valid {
			if seen[e.ID] || m.live.ledger.Contains(e.ID) {
				res.Errored++
				res.Failures = append(res.Failures, ItemError{ID: e.ID, Error: ErrDuplicate.Error()})
				continue
			}
			seen[e.ID] = true
			kept = append(kept, e)
		}
		valid = kept
	}
	if len(valid) == 0 {
		res.Size = m.live.ledger.Len()
		res.Durable = !m.dirty
		m.mu.Unlock()
		return res, nil
	}
	vecs := make([][]float32, len(valid))
	ids := make([]string, len(valid))
	for i, e := range valid {
		vecs[i] = e.Vector
		ids[i] = e.ID
	}
	if err := m.live.store.AppendBatch(vecs); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.live.ledger.AppendBatch(ids)
	m.dirty = true
	res.Size = m.live.ledger.Len()
	m.mu.Unlock()

	res.Added = len(ids)
	res.IDs = ids
	if err := m.persistLocked(); err != nil {
		res.Warning = err.Error()
	} else {
		res.Durable = true
	}
	m.logger.Info("batch indexed",
		zap.Int("added", res.Added),
		zap.Int("errored", res.Errored),
		zap.Int("size", res.Size))
	return res, nil
}

// Search returns up to k hits ordered by descending score. An empty index returns no hits.
func (m *Manager) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := m.checkVector(query); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.corrupt {
		return nil, ErrCorrupt
	}
	found, err := m.live.store.Search(query, k)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(found))
	for _, h := range found {
		id, err := m.live.ledger.IdentifierAt(h.Position)
		if err != nil {
			return nil, fmt.Errorf("resolve position %d: %w", h.Position, err)
		}
		hits = append(hits, Hit{ID: id, Score: h.Score, Position: h.Position})
	}
	return hits, nil
}

// Contains reports whether id is indexed.
func (m *Manager) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live.ledger.Contains(id)
}

// IDs returns the indexed identifiers in position order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live.ledger.IDs()
}

// Len returns the number of records.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live.ledger.Len()
}

// Dimensions returns the vector length.
func (m *Manager) Dimensions() int {
	return m.dimensions
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	switch {
	case m.corrupt:
		return StateCorrupt
	case m.live.ledger.Len() == 0:
		return StateEmpty
	default:
		return StatePopulated
	}
}

// Delete removes the first record for id. Every remaining record is re-embedded from its source and
// the store is rebuilt from scratch; records whose source cannot be embedded are dropped and counted.
// Searches keep using the old snapshot until the new one is swapped in.
func (m *Manager) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	if m.fetch == nil || m.embedder == nil {
		return nil, ErrNoSource
	}
	m.mutate.Lock()
	defer m.mutate.Unlock()

	m.mu.RLock()
	if m.corrupt {
		m.mu.RUnlock()
		return nil, ErrCorrupt
	}
	scratch := m.live.ledger.Clone()
	m.mu.RUnlock()

	pos, err := scratch.PositionOf(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := scratch.Remove(pos); err != nil {
		return nil, err
	}

	ids, vecs, failures := m.recompute(ctx, scratch.IDs(), m.fetch)
	next, err := m.newSnapshot()
	if err != nil {
		return nil, err
	}
	if err := next.store.Reconstruct(vecs); err != nil {
		_ = next.store.Close()
		return nil, err
	}
	next.ledger.ReplaceAll(ids)
	m.swap(next, false)

	res := &DeleteResult{ID: id, Remaining: len(ids), Errored: len(failures), Failures: failures}
	if err := m.persistLocked(); err != nil {
		res.Warning = err.Error()
	} else {
		res.Durable = true
	}
	m.logger.Info("image removed from index",
		zap.String("id", id),
		zap.Int("remaining", res.Remaining),
		zap.Int("errored", res.Errored))
	return res, nil
}

// Rebuild discards the current contents and embeds ids from scratch, in chunks. The live index keeps
// serving searches until the full pass finishes.
func (m *Manager) Rebuild(ctx context.Context, ids []string, fetch FetchFunc) (*RebuildResult, error) {
	if fetch == nil || m.embedder == nil {
		return nil, ErrNoSource
	}
	start := time.Now()
	m.mutate.Lock()
	defer m.mutate.Unlock()

	kept, vecs, failures := m.recompute(ctx, ids, fetch)
	next, err := m.newSnapshot()
	if err != nil {
		return nil, err
	}
	if err := next.store.AppendBatch(vecs); err != nil {
		_ = next.store.Close()
		return nil, err
	}
	next.ledger.AppendBatch(kept)
	m.swap(next, true)

	res := &RebuildResult{
		Processed: len(kept),
		Errored:   len(failures),
		Total:     len(kept),
		Failures:  failures,
		Elapsed:   time.Since(start),
	}
	if err := m.persistLocked(); err != nil {
		res.Warning = err.Error()
	} else {
		res.Durable = true
	}
	m.logger.Info("index rebuilt",
		zap.Int("processed", res.Processed),
		zap.Int("errored", res.Errored),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// Sync embeds only the ids not yet indexed and appends them.
func (m *Manager) Sync(ctx context.Context, ids []string, fetch FetchFunc) (*RebuildResult, error) {
	if fetch == nil || m.embedder == nil {
		return nil, ErrNoSource
	}
	start := time.Now()
	m.mutate.Lock()
	defer m.mutate.Unlock()

	m.mu.RLock()
	if m.corrupt {
		m.mu.RUnlock()
		return nil, ErrCorrupt
	}
	present := make(map[string]bool, m.live.ledger.Len())
	for _, id := range m.live.ledger.IDs() {
		present[id] = true
	}
	m.mu.RUnlock()

	missing := make([]string, 0)
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
			present[id] = true
		}
	}

	kept, vecs, failures := m.recompute(ctx, missing, fetch)

	res := &RebuildResult{Processed: len(kept), Errored: len(failures), Failures: failures, Durable: true}
	m.mu.Lock()
	if len(kept) > 0 {
		if err := m.live.store.AppendBatch(vecs); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.live.ledger.AppendBatch(kept)
		m.dirty = true
	}
	res.Total = m.live.ledger.Len()
	m.mu.Unlock()

	if len(kept) > 0 {
		if err := m.persistLocked(); err != nil {
			res.Durable = false
			res.Warning = err.Error()
		}
	}
	res.Elapsed = time.Since(start)
	m.logger.Info("index synced",
		zap.Int("new", res.Processed),
		zap.Int("errored", res.Errored),
		zap.Int("size", res.Total))
	return res, nil
}

// Reset clears the index, persists the empty state and then runs the purge hook. Calling it on an
// empty index is harmless.
func (m *Manager) Reset(ctx context.Context) (*ResetResult, error) {
	m.mutate.Lock()
	defer m.mutate.Unlock()

	next, err := m.newSnapshot()
	if err != nil {
		return nil, err
	}
	m.swap(next, true)

	res := &ResetResult{Durable: true}
	if m.persister != nil {
		if err := m.persister.Remove(); err != nil {
			m.logger.Warn("failed to remove index files", zap.Error(err))
		}
	}
	if err := m.persistLocked(); err != nil {
		res.Durable = false
		res.Warning = err.Error()
	}
	if m.purge != nil {
		if err := m.purge(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("purge after reset failed", zap.Error(err))
			if res.Warning == "" {
				res.Warning = fmt.Sprintf("purge: %v", err)
			}
		}
	}
	m.logger.Info("index reset")
	return res, nil
}

// swap installs next as the live snapshot and closes the old store. The caller holds mutate.
func (m *Manager) swap(next *snapshot, clearCorrupt bool) {
	m.mu.Lock()
	old := m.live
	m.live = next
	m.dirty = true
	if clearCorrupt {
		m.corrupt = false
	}
	m.mu.Unlock()
	if err := old.store.Close(); err != nil {
		m.logger.Warn("failed to close replaced vector store", zap.Error(err))
	}
}

// recompute fetches and embeds ids chunk by chunk. Items that fail or run over the item timeout are
// skipped and reported. The pass does not stop when ctx is cancelled: it always runs to the end so
// the caller can swap in a complete result.
func (m *Manager) recompute(ctx context.Context, ids []string, fetch FetchFunc) ([]string, [][]float32, []ItemError) {
	ctx = context.WithoutCancel(ctx)
	kept := make([]string, 0, len(ids))
	vecs := make([][]float32, 0, len(ids))
	var failures []ItemError
	fail := func(id string, err error) {
		m.logger.Warn("skipping image", zap.String("id", id), zap.Error(err))
		failures = append(failures, ItemError{ID: id, Error: err.Error()})
	}

	for start := 0; start < len(ids); start += m.chunkSize {
		end := min(start+m.chunkSize, len(ids))
		chunk := ids[start:end]

		chunkIDs := make([]string, 0, len(chunk))
		data := make([][]byte, 0, len(chunk))
		for _, id := range chunk {
			if m.limiter != nil {
				if err := m.limiter.Wait(ctx); err != nil {
					fail(id, fmt.Errorf("%w: rate limit: %w", ErrPipeline, err))
					continue
				}
			}
			b, err := m.fetchItem(ctx, fetch, id)
			if err != nil {
				fail(id, fmt.Errorf("%w: fetch: %w", ErrPipeline, err))
				continue
			}
			chunkIDs = append(chunkIDs, id)
			data = append(data, b)
		}

		out, errs := m.embedChunk(ctx, data)
		for i, id := range chunkIDs {
			if errs[i] != nil {
				fail(id, fmt.Errorf("%w: %w", ErrPipeline, errs[i]))
				continue
			}
			if err := m.checkVector(out[i]); err != nil {
				fail(id, err)
				continue
			}
			kept = append(kept, id)
			vecs = append(vecs, out[i])
		}
		m.logger.Debug("recompute progress",
			zap.Int("done", end),
			zap.Int("total", len(ids)))
	}
	return kept, vecs, failures
}

func (m *Manager) itemContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.itemTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.itemTimeout)
}

func (m *Manager) fetchItem(ctx context.Context, fetch FetchFunc, id string) ([]byte, error) {
	ictx, cancel := m.itemContext(ctx)
	defer cancel()
	return fetch(ictx, id)
}

func (m *Manager) embedChunk(ctx context.Context, data [][]byte) ([][]float32, []error) {
	if be, ok := m.embedder.(BatchEmbedder); ok {
		return be.EmbedMany(ctx, data)
	}
	vecs := make([][]float32, len(data))
	errs := make([]error, len(data))
	for i, b := range data {
		ictx, cancel := m.itemContext(ctx)
		vecs[i], errs[i] = m.embedder.Embed(ictx, b)
		if errs[i] == nil && ictx.Err() != nil {
			errs[i] = fmt.Errorf("embedding ran over %s: %w", m.itemTimeout, ictx.Err())
		}
		cancel()
	}
	return vecs, errs
}

// Flush persists the snapshot if it has unsaved changes.
func (m *Manager) Flush(ctx context.Context) error {
	m.mutate.Lock()
	defer m.mutate.Unlock()
	m.mu.RLock()
	dirty := m.dirty
	m.mu.RUnlock()
	if !dirty {
		return nil
	}
	return m.persistLocked()
}

// persistLocked saves the live snapshot under a new generation. The caller holds mutate, so the
// snapshot cannot change underneath; readers may still search it. On failure the change stays in
// memory, the dirty flag stays set and the next flush retries.
func (m *Manager) persistLocked() error {
	if m.persister == nil {
		return nil
	}
	m.mu.RLock()
	gen := m.generation + 1
	snap := &persist.Snapshot{
		Dimensions: m.dimensions,
		Generation: gen,
		IDs:        m.live.ledger.IDs(),
		Vectors:    m.live.store.Vectors(),
	}
	m.mu.RUnlock()

	err := m.persister.Save(snap)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.lastFlushErr = err
		m.logger.Warn("failed to persist index; keeping in-memory state",
			zap.Int("size", len(snap.IDs)),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	m.generation = gen
	m.dirty = false
	m.lastFlushErr = nil
	m.lastFlush = time.Now()
	return nil
}

// Run flushes dirty state every flush interval until ctx is cancelled. It returns immediately when
// no interval is configured.
func (m *Manager) Run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Flush(ctx); err != nil {
				m.logger.Warn("periodic flush failed", zap.Error(err))
			}
		}
	}
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		Size:        m.live.ledger.Len(),
		State:       m.stateLocked(),
		Dimensions:  m.dimensions,
		StoreType:   m.live.store.Type(),
		Dirty:       m.dirty,
		Generation:  m.generation,
		FlushPolicy: m.policy.Name(),
		LastFlush:   m.lastFlush,
	}
	if m.lastFlushErr != nil {
		s.LastFlushErr = m.lastFlushErr.Error()
	}
	return s
}

// Close flushes pending changes and releases the vector store.
func (m *Manager) Close() error {
	err := m.Flush(context.Background())
	m.mutate.Lock()
	defer m.mutate.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if cerr := m.live.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
