package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/feature"
	"github.com/hyperjump/kagami/internal/gallery"
	"github.com/hyperjump/kagami/internal/imagestore"
	"github.com/hyperjump/kagami/internal/index"
	"github.com/hyperjump/kagami/internal/keyword"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/persist"
	"github.com/hyperjump/kagami/internal/storage"
	"github.com/hyperjump/kagami/internal/vector"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Images   imagestore.Store
	Catalog  *storage.SQLiteCatalog
	Names    *keyword.BleveIndex
	Pipeline *feature.Pipeline
	Manager  *index.Manager
	Service  *gallery.Service
}

// Close flushes the index and releases every resource.
func (c *Components) Close() {
	if c.Manager != nil {
		_ = c.Manager.Close()
	}
	if c.Pipeline != nil {
		_ = c.Pipeline.Close()
	}
	if c.Names != nil {
		_ = c.Names.Close()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
}

func openImageStore(ctx context.Context, cfg *config.StorageConfig) (imagestore.Store, error) {
	switch cfg.Backend {
	case "minio":
		return imagestore.NewMinioStore(ctx, imagestore.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
		})
	default:
		return imagestore.NewLocalStore(cfg.ImageDir)
	}
}

// modelLoader returns the loader for the configured feature models. The mock extractor needs no
// model files and is meant for development.
func modelLoader(cfg *config.FeatureConfig, logger *zap.Logger) feature.LoadFunc {
	if cfg.Mock {
		return feature.Static(feature.NewMockExtractor(cfg.Dimensions), nil)
	}
	return func(ctx context.Context) (feature.Extractor, feature.Locator, error) {
		ext, err := feature.NewONNXExtractor(feature.ONNXConfig{
			ModelPath:         cfg.ModelPath,
			SharedLibraryPath: cfg.SharedLibraryPath,
			Dimensions:        cfg.Dimensions,
			ImageSize:         cfg.ImageSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("load embedding model: %w", err)
		}
		if cfg.DetectorModelPath == "" {
			return ext, nil, nil
		}
		det, err := feature.NewONNXDetector(feature.DetectorConfig{
			ModelPath:         cfg.DetectorModelPath,
			SharedLibraryPath: cfg.SharedLibraryPath,
			Queries:           cfg.Detector.Queries,
			CropSize:          cfg.ImageSize,
			Detection: feature.DetectionConfig{
				ClassNames: cfg.Detector.Classes,
				Keep:       cfg.Detector.Labels,
				Threshold:  float32(cfg.Detector.Threshold),
			},
		})
		if err != nil {
			// embeddings of the full image are still useful
			logger.Warn("subject detector unavailable, embedding full images", zap.Error(err))
			return ext, nil, nil
		}
		return ext, det, nil
	}
}

func vectorType(requested string, logger *zap.Logger) string {
	if requested == string(vector.TypeFAISS) && !vector.IsFAISSAvailable() {
		logger.Warn("FAISS not compiled in, falling back to flat vector store")
		return string(vector.TypeFlat)
	}
	return requested
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	images, err := openImageStore(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image store: %w", err)
	}
	c.Images = images

	if c.Catalog, err = storage.NewSQLiteCatalog(cfg.Storage.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	if c.Names, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath); err != nil {
		return nil, fmt.Errorf("failed to initialize name index: %w", err)
	}

	dims := cfg.Feature.Dimensions
	c.Pipeline = feature.NewPipeline(dims, modelLoader(&cfg.Feature, logger),
		feature.WithLogger(logger),
		feature.WithCacheSize(cfg.Feature.CacheSize),
		feature.WithTimeout(cfg.Feature.ExtractTimeout),
		feature.WithWorkers(cfg.Feature.Workers),
	)

	codec, err := persist.ParseCodec(cfg.Index.Codec)
	if err != nil {
		return nil, err
	}
	adapter, err := persist.NewAdapter(cfg.Storage.IndexDir, dims, codec)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index storage: %w", err)
	}
	policy, err := index.ParsePolicy(cfg.Index.Flush.Policy, cfg.Index.Flush.EveryN, cfg.Index.Flush.FastThreshold)
	if err != nil {
		return nil, err
	}
	c.Manager, err = index.NewManager(dims,
		index.WithLogger(logger),
		index.WithStoreType(vectorType(cfg.Index.VectorType, logger)),
		index.WithPersister(adapter),
		index.WithSource(images.Get, c.Pipeline),
		index.WithPurge(gallery.NewPurger(images, c.Catalog, c.Names, logger)),
		index.WithFlushPolicy(policy),
		index.WithFlushInterval(cfg.Index.Flush.Interval),
		index.WithChunkSize(cfg.Index.RebuildChunkSize),
		index.WithRateLimit(cfg.Index.RebuildRateLimit),
		index.WithItemTimeout(cfg.Feature.ExtractTimeout),
		index.WithRejectDuplicates(cfg.Index.RejectDuplicates),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}
	st := c.Manager.Stats()
	logger.Info("index loaded",
		zap.Int("size", st.Size),
		zap.String("state", string(st.State)),
		zap.String("store_type", st.StoreType),
		zap.String("flush_policy", st.FlushPolicy),
	)

	diskPaths := []string{cfg.Storage.IndexDir, cfg.Storage.DatabasePath, cfg.Storage.KeywordIndexPath}
	if images.Type() == "local" {
		diskPaths = append(diskPaths, cfg.Storage.ImageDir)
	}
	c.Service = gallery.NewService(images, c.Pipeline, c.Manager,
		gallery.WithLogger(logger),
		gallery.WithCatalog(c.Catalog),
		gallery.WithNameIndex(c.Names),
		gallery.WithSearchLimits(cfg.Search.DefaultK, cfg.Search.MaxK),
		gallery.WithDiskPaths(diskPaths...),
	)
	ok = true
	return c, nil
}

// localBackend runs subcommands against an in-process service.
type localBackend struct {
	*gallery.Service
}

func (b localBackend) Status(ctx context.Context) (*models.Status, error) {
	return b.Service.Status(ctx), nil
}
