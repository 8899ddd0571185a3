// Package gallery ties the image store, feature pipeline, index manager, catalog and name lookup
// together into the operations the server exposes.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/hyperjump/kagami/internal/feature"
	"github.com/hyperjump/kagami/internal/fileid"
	"github.com/hyperjump/kagami/internal/imagestore"
	"github.com/hyperjump/kagami/internal/index"
	"github.com/hyperjump/kagami/internal/keyword"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/storage"
	"go.uber.org/zap"
)

// ErrInvalidInput is returned for uploads or identifiers the service cannot accept.
var ErrInvalidInput = errors.New("invalid input")

const (
	DefaultK = 10
	MaxK     = 100
)

// Embedder is the part of the feature pipeline the service uses.
type Embedder interface {
	Embed(ctx context.Context, img []byte) ([]float32, error)
	EmbedMany(ctx context.Context, imgs [][]byte) ([][]float32, []error)
	Ready() bool
	CacheLen() int
}

// Service implements the image operations.
type Service struct {
	images    imagestore.Store
	embedder  Embedder
	manager   *index.Manager
	catalog   storage.Catalog
	names     keyword.NameIndex
	defaultK  int
	maxK      int
	diskPaths []string
	logger    *zap.Logger

	// locks serializes work on one id. The directory watcher skips ids present here.
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	sync.Mutex
	refs int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithCatalog stores image metadata in c.
func WithCatalog(c storage.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithNameIndex enables text lookup through n.
func WithNameIndex(n keyword.NameIndex) Option {
	return func(s *Service) { s.names = n }
}

// WithSearchLimits sets the default and maximum number of search results.
func WithSearchLimits(defaultK, maxK int) Option {
	return func(s *Service) {
		if defaultK > 0 {
			s.defaultK = defaultK
		}
		if maxK > 0 {
			s.maxK = maxK
		}
	}
}

// WithDiskPaths sets the paths summed for the status disk usage.
func WithDiskPaths(paths ...string) Option {
	return func(s *Service) { s.diskPaths = paths }
}

// NewService creates the service. The manager should be built with index.WithSource over the same
// image store and embedder, and index.WithPurge(NewPurger(...)) so Reset clears the raw files.
func NewService(images imagestore.Store, embedder Embedder, manager *index.Manager, opts ...Option) *Service {
	s := &Service{
		images:   images,
		embedder: embedder,
		manager:  manager,
		defaultK: DefaultK,
		maxK:     MaxK,
		logger:   zap.NewNop(),
		locks:    make(map[string]*idLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewPurger returns the hook that deletes raw images, catalog rows and name entries on Reset.
// catalog and names may be nil.
func NewPurger(images imagestore.Store, catalog storage.Catalog, names keyword.NameIndex, logger *zap.Logger) index.PurgeFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		var errs []error
		if err := images.DeleteAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("images: %w", err))
		}
		if catalog != nil {
			if err := catalog.DeleteAll(ctx); err != nil {
				errs = append(errs, fmt.Errorf("catalog: %w", err))
			}
		}
		if names != nil {
			if err := names.DeleteAll(ctx); err != nil {
				errs = append(errs, fmt.Errorf("name index: %w", err))
			}
		}
		logger.Info("stored images purged", zap.Int("errors", len(errs)))
		return errors.Join(errs...)
	}
}

// lock blocks until the caller holds every id and returns the release function. Ids are taken in
// sorted order so overlapping batches cannot deadlock.
func (s *Service) lock(ids ...string) func() {
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))
	held := make([]*idLock, len(ids))
	s.mu.Lock()
	for i, id := range ids {
		l := s.locks[id]
		if l == nil {
			l = &idLock{}
			s.locks[id] = l
		}
		l.refs++
		held[i] = l
	}
	s.mu.Unlock()
	for _, l := range held {
		l.Lock()
	}
	return func() {
		for _, l := range held {
			l.Unlock()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, id := range ids {
			held[i].refs--
			if held[i].refs == 0 {
				delete(s.locks, id)
			}
		}
	}
}

func (s *Service) busy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[id] != nil
}

// resolveID picks the identifier for an upload: the cleaned client name, or one derived from the
// content. A missing or unknown extension is replaced by one matching the content.
func resolveID(in *models.ImageInput) (string, error) {
	if len(in.Data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	id := imagestore.CleanID(in.ID)
	if id == "" {
		return fileid.FromContent(in.Data), nil
	}
	if !imagestore.IsIndexable(id) {
		id += fileid.ExtensionFor(http.DetectContentType(in.Data))
	}
	if !imagestore.IsIndexable(id) {
		return "", fmt.Errorf("%w: unsupported image name %q", ErrInvalidInput, in.ID)
	}
	return id, nil
}

func pipelineErr(err error) error {
	if errors.Is(err, index.ErrPipeline) {
		return err
	}
	return fmt.Errorf("%w: %w", index.ErrPipeline, err)
}

// put stores data under id and returns a function that puts back whatever was stored there before,
// or removes the id if nothing was.
func (s *Service) put(ctx context.Context, id string, data []byte) (func(), error) {
	prev, err := s.images.Get(ctx, id)
	existed := err == nil
	if err != nil && !errors.Is(err, imagestore.ErrNotFound) {
		return nil, err
	}
	if err := s.images.Put(ctx, id, data); err != nil {
		return nil, err
	}
	return func() {
		ctx := context.WithoutCancel(ctx)
		var err error
		if existed {
			err = s.images.Put(ctx, id, prev)
		} else if err = s.images.Delete(ctx, id); errors.Is(err, imagestore.ErrNotFound) {
			err = nil
		}
		if err != nil {
			s.logger.Warn("failed to restore image after failed upload", zap.String("id", id), zap.Error(err))
		}
	}, nil
}

func (s *Service) record(ctx context.Context, img *models.Image) {
	if s.catalog != nil {
		if err := s.catalog.Put(ctx, img); err != nil {
			s.logger.Warn("failed to catalog image", zap.String("id", img.ID), zap.Error(err))
		}
	}
	if s.names != nil {
		if err := s.names.Index(ctx, img); err != nil {
			s.logger.Warn("failed to index image name", zap.String("id", img.ID), zap.Error(err))
		}
	}
}

func (s *Service) forget(ctx context.Context, id string) {
	if s.catalog != nil {
		if err := s.catalog.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to remove catalog row", zap.String("id", id), zap.Error(err))
		}
	}
	if s.names != nil {
		if err := s.names.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to remove image name", zap.String("id", id), zap.Error(err))
		}
	}
}

func imageRecord(id string, in *models.ImageInput, data []byte) *models.Image {
	img := &models.Image{
		ID:          id,
		Folder:      models.DefaultFolder,
		ContentType: http.DetectContentType(data),
		Size:        int64(len(data)),
		Checksum:    fileid.Checksum(data),
	}
	if in != nil {
		if in.Folder != "" {
			img.Folder = in.Folder
		}
		img.Customer = in.Customer
		if in.ContentType != "" {
			img.ContentType = in.ContentType
		}
	}
	return img
}

// Add embeds the image, stores it and appends it to the index. If indexing fails, whatever was stored
// under the id before is put back.
func (s *Service) Add(ctx context.Context, in *models.ImageInput) (*models.AddResponse, error) {
	started := time.Now()
	id, err := resolveID(in)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(id)
	defer unlock()

	vec, err := s.embedder.Embed(ctx, in.Data)
	if err != nil {
		return nil, pipelineErr(err)
	}
	restore, err := s.put(ctx, id, in.Data)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}
	res, err := s.manager.AddSince(ctx, id, vec, started)
	if err != nil {
		restore()
		return nil, err
	}
	s.record(ctx, imageRecord(id, in, in.Data))

	s.logger.Info("image added",
		zap.String("id", id),
		zap.Int("index_size", res.Size),
		zap.Duration("elapsed", time.Since(started)))
	return &models.AddResponse{ID: id, Size: res.Size, Durable: res.Durable, Warning: res.Warning}, nil
}

// AddBatch embeds the images in parallel, stores the ones that embedded and appends them in one step.
// Failed items are counted and never fail the whole batch; nothing is stored for them.
func (s *Service) AddBatch(ctx context.Context, inputs []*models.ImageInput) (*models.BatchResponse, error) {
	resp := &models.BatchResponse{IDs: []string{}}
	fail := func(id string, err error) {
		resp.Errored++
		resp.Errors = append(resp.Errors, models.ItemError{ID: id, Error: err.Error()})
	}

	type pending struct {
		id string
		in *models.ImageInput
	}
	var items []pending
	var ids []string
	var data [][]byte
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		id, err := resolveID(in)
		if err != nil {
			fail(in.ID, err)
			continue
		}
		if seen[id] {
			fail(id, fmt.Errorf("%w: repeated in batch", ErrInvalidInput))
			continue
		}
		seen[id] = true
		items = append(items, pending{id: id, in: in})
		ids = append(ids, id)
		data = append(data, in.Data)
	}
	unlock := s.lock(ids...)
	defer unlock()

	vecs, errs := s.embedder.EmbedMany(ctx, data)
	entries := make([]index.Entry, 0, len(items))
	byID := make(map[string]pending, len(items))
	restores := make(map[string]func(), len(items))
	for i, it := range items {
		if errs[i] != nil {
			fail(it.id, pipelineErr(errs[i]))
			continue
		}
		restore, err := s.put(ctx, it.id, it.in.Data)
		if err != nil {
			fail(it.id, fmt.Errorf("store image: %w", err))
			continue
		}
		restores[it.id] = restore
		entries = append(entries, index.Entry{ID: it.id, Vector: vecs[i]})
		byID[it.id] = it
	}

	res, err := s.manager.AddBatch(ctx, entries)
	if err != nil {
		for _, e := range entries {
			restores[e.ID]()
		}
		return nil, err
	}
	for _, f := range res.Failures {
		fail(f.ID, errors.New(f.Error))
		restores[f.ID]()
	}
	for _, id := range res.IDs {
		it := byID[id]
		s.record(ctx, imageRecord(id, it.in, it.in.Data))
	}

	resp.Added = res.Added
	resp.IDs = res.IDs
	resp.Size = res.Size
	resp.Durable = res.Durable
	resp.Warning = res.Warning
	s.logger.Info("image batch added",
		zap.Int("added", resp.Added),
		zap.Int("errored", resp.Errored))
	return resp, nil
}

// Search embeds the query image and returns the closest indexed images, enriched with catalog data.
func (s *Service) Search(ctx context.Context, img []byte, k int) (*models.SearchResponse, error) {
	start := time.Now()
	if len(img) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	req := models.SearchRequest{K: k}
	req.Normalize(s.defaultK, s.maxK)

	vec, err := s.embedder.Embed(ctx, img)
	if err != nil {
		return nil, pipelineErr(err)
	}
	hits, err := s.manager.Search(ctx, vec, req.K)
	if err != nil {
		return nil, err
	}
	resp := &models.SearchResponse{
		Results: make([]*models.SearchHit, 0, len(hits)),
		IDs:     make([]string, 0, len(hits)),
		K:       req.K,
	}
	for i, h := range hits {
		hit := &models.SearchHit{ID: h.ID, Score: h.Score, Rank: i + 1}
		if s.catalog != nil {
			if meta, err := s.catalog.Get(ctx, h.ID); err == nil {
				hit.Image = meta
			}
		}
		resp.Results = append(resp.Results, hit)
		resp.IDs = append(resp.IDs, h.ID)
	}
	resp.Total = len(hits)
	resp.QueryTime = time.Since(start).Milliseconds()
	s.logger.Debug("search completed",
		zap.Int("k", req.K),
		zap.Int("hits", resp.Total),
		zap.Int64("query_time_ms", resp.QueryTime))
	return resp, nil
}

// Delete removes the image from the index, then its bytes, catalog row and name entry. If the id
// was indexed more than once the remaining records keep their bytes. The request context bounds
// neither the re-embedding nor the cleanup after the swap.
func (s *Service) Delete(ctx context.Context, id string) (*models.DeleteResponse, error) {
	if err := imagestore.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	ctx = context.WithoutCancel(ctx)
	unlock := s.lock(id)
	defer unlock()

	res, err := s.manager.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.manager.Contains(id) {
		if err := s.images.Delete(ctx, id); err != nil && !errors.Is(err, imagestore.ErrNotFound) {
			s.logger.Warn("failed to remove image bytes", zap.String("id", id), zap.Error(err))
		}
		s.forget(ctx, id)
	}
	return &models.DeleteResponse{
		ID:        id,
		Remaining: res.Remaining,
		Errored:   res.Errored,
		Errors:    itemErrors(res.Failures),
		Durable:   res.Durable,
		Warning:   res.Warning,
	}, nil
}

// metaFetcher wraps the image store fetch and remembers size and checksum of every fetched image.
type metaFetcher struct {
	images imagestore.Store
	mu     sync.Mutex
	seen   map[string]*models.Image
}

func (f *metaFetcher) fetch(ctx context.Context, id string) ([]byte, error) {
	data, err := f.images.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.seen[id] = imageRecord(id, nil, data)
	f.mu.Unlock()
	return data, nil
}

// catalogMissing adds catalog rows for indexed ids that have none yet, e.g. files dropped into the
// image directory while the server was down.
func (s *Service) catalogMissing(ctx context.Context, f *metaFetcher) {
	if s.catalog == nil && s.names == nil {
		return
	}
	for _, id := range s.manager.IDs() {
		img, ok := f.seen[id]
		if !ok {
			continue
		}
		if s.catalog != nil {
			if _, err := s.catalog.Get(ctx, id); err == nil {
				continue
			}
		}
		s.record(ctx, img)
	}
}

func rebuildResponse(res *index.RebuildResult) *models.RebuildResponse {
	return &models.RebuildResponse{
		Processed: res.Processed,
		Errored:   res.Errored,
		Total:     res.Total,
		Errors:    itemErrors(res.Failures),
		ElapsedMS: res.Elapsed.Milliseconds(),
		Durable:   res.Durable,
		Warning:   res.Warning,
	}
}

// Rebuild re-embeds every stored image and replaces the index. It runs to completion even if ctx
// ends first.
func (s *Service) Rebuild(ctx context.Context) (*models.RebuildResponse, error) {
	ctx = context.WithoutCancel(ctx)
	ids, err := s.images.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	f := &metaFetcher{images: s.images, seen: make(map[string]*models.Image)}
	res, err := s.manager.Rebuild(ctx, ids, f.fetch)
	if err != nil {
		return nil, err
	}
	s.catalogMissing(ctx, f)
	return rebuildResponse(res), nil
}

// Sync embeds stored images that are not indexed yet. Like Rebuild it is not bound by ctx.
func (s *Service) Sync(ctx context.Context) (*models.RebuildResponse, error) {
	ctx = context.WithoutCancel(ctx)
	ids, err := s.images.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	f := &metaFetcher{images: s.images, seen: make(map[string]*models.Image)}
	res, err := s.manager.Sync(ctx, ids, f.fetch)
	if err != nil {
		return nil, err
	}
	s.catalogMissing(ctx, f)
	return rebuildResponse(res), nil
}

// Reset clears the index and, through the purge hook, every stored image.
func (s *Service) Reset(ctx context.Context) (*models.ResetResponse, error) {
	res, err := s.manager.Reset(ctx)
	if err != nil {
		return nil, err
	}
	return &models.ResetResponse{
		Message: "index and stored images cleared",
		Durable: res.Durable,
		Warning: res.Warning,
	}, nil
}

// Lookup finds images by name, folder or customer.
func (s *Service) Lookup(ctx context.Context, q *models.LookupQuery) ([]*models.LookupResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if s.names == nil {
		return []*models.LookupResult{}, nil
	}
	found, err := s.names.Search(ctx, q.Query, q.Limit, q.Fuzzy)
	if err != nil {
		return nil, err
	}
	out := make([]*models.LookupResult, 0, len(found))
	for _, r := range found {
		res := &models.LookupResult{ID: r.ID, Score: r.Score}
		if s.catalog != nil {
			if meta, err := s.catalog.Get(ctx, r.ID); err == nil {
				res.Image = meta
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// Get returns the metadata of an indexed or stored image.
func (s *Service) Get(ctx context.Context, id string) (*models.Image, error) {
	if err := imagestore.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if s.catalog != nil {
		img, err := s.catalog.Get(ctx, id)
		if err == nil {
			return img, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	data, err := s.Raw(ctx, id)
	if err != nil {
		return nil, err
	}
	return imageRecord(id, nil, data), nil
}

// Raw returns the stored bytes of an image.
func (s *Service) Raw(ctx context.Context, id string) ([]byte, error) {
	if err := imagestore.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	data, err := s.images.Get(ctx, id)
	if errors.Is(err, imagestore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", index.ErrNotFound, id)
	}
	return data, err
}

// IndexStored indexes an image that appeared in the store without going through Add, such as a file
// copied into the image directory. Images already indexed or being written by the service are skipped.
func (s *Service) IndexStored(ctx context.Context, id string) error {
	if s.busy(id) || s.manager.Contains(id) || !imagestore.IsIndexable(id) {
		return nil
	}
	unlock := s.lock(id)
	defer unlock()
	if s.manager.Contains(id) {
		return nil
	}
	started := time.Now()
	data, err := s.images.Get(ctx, id)
	if err != nil {
		return err
	}
	vec, err := s.embedder.Embed(ctx, data)
	if err != nil {
		return pipelineErr(err)
	}
	if _, err := s.manager.AddSince(ctx, id, vec, started); err != nil {
		return err
	}
	s.record(ctx, imageRecord(id, nil, data))
	s.logger.Info("stored image indexed", zap.String("id", id))
	return nil
}

// ForgetStored drops an image whose bytes disappeared from the store.
func (s *Service) ForgetStored(ctx context.Context, id string) error {
	if s.busy(id) {
		return nil
	}
	unlock := s.lock(id)
	defer unlock()
	if _, err := s.images.Get(ctx, id); err == nil {
		return nil
	}
	if s.manager.Contains(id) {
		if _, err := s.manager.Delete(ctx, id); err != nil && !errors.Is(err, index.ErrNotFound) {
			return err
		}
	}
	s.forget(ctx, id)
	s.logger.Info("removed image forgotten", zap.String("id", id))
	return nil
}

// Status reports index, model and storage state.
func (s *Service) Status(ctx context.Context) *models.Status {
	st := s.manager.Stats()
	status := &models.Status{
		IndexSize:      st.Size,
		State:          string(st.State),
		Dimensions:     st.Dimensions,
		StoreType:      st.StoreType,
		Generation:     st.Generation,
		Dirty:          st.Dirty,
		LastFlush:      st.LastFlush,
		LastFlushError: st.LastFlushErr,
		ModelsReady:    s.embedder.Ready(),
		CachedFeatures: s.embedder.CacheLen(),
		ImageBackend:   s.images.Type(),
	}
	if s.catalog != nil {
		if n, err := s.catalog.Count(ctx); err == nil {
			status.CatalogImages = n
		}
	}
	if s.names != nil {
		if n, err := s.names.DocCount(); err == nil {
			status.NameIndexDocs = n
		}
	}
	if len(s.diskPaths) > 0 {
		if n, err := storage.DiskUsageBytes(s.diskPaths...); err == nil {
			status.DiskUsageBytes = n
		} else {
			s.logger.Debug("disk usage unavailable", zap.Error(err))
		}
	}
	return status
}

// Ready reports whether the feature models are loaded.
func (s *Service) Ready() bool {
	return s.embedder.Ready()
}

func itemErrors(in []index.ItemError) []models.ItemError {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.ItemError, len(in))
	for i, e := range in {
		out[i] = models.ItemError{ID: e.ID, Error: e.Error}
	}
	return out
}

var _ Embedder = (*feature.Pipeline)(nil)
