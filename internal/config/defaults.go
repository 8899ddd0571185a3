package config

import "time"

const dataRoot = "/usr/local/var/kagami/data"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 5 * time.Minute
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = dataRoot + "/index"
	}
	if cfg.Storage.ImageDir == "" {
		cfg.Storage.ImageDir = dataRoot + "/images"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = dataRoot + "/db/catalog.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = dataRoot + "/indices/bleve"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Minio.Prefix == "" {
		cfg.Storage.Minio.Prefix = "images"
	}
	if cfg.Feature.ModelPath == "" {
		cfg.Feature.ModelPath = dataRoot + "/models/dinov2-base.onnx"
	}
	if cfg.Feature.Dimensions == 0 {
		cfg.Feature.Dimensions = 768
	}
	if cfg.Feature.ImageSize == 0 {
		cfg.Feature.ImageSize = 224
	}
	if cfg.Feature.CacheSize == 0 {
		cfg.Feature.CacheSize = 100
	}
	if cfg.Feature.ExtractTimeout == 0 {
		cfg.Feature.ExtractTimeout = 30 * time.Second
	}
	if cfg.Feature.Detector.Threshold == 0 {
		cfg.Feature.Detector.Threshold = 0.7
	}
	if cfg.Feature.Detector.Labels == nil {
		cfg.Feature.Detector.Labels = []string{"dress", "skirt"}
	}
	if cfg.Feature.Detector.Queries == 0 {
		cfg.Feature.Detector.Queries = 300
	}
	if cfg.Index.VectorType == "" {
		cfg.Index.VectorType = "flat"
	}
	if cfg.Index.Codec == "" {
		cfg.Index.Codec = "none"
	}
	if cfg.Index.RebuildChunkSize == 0 {
		cfg.Index.RebuildChunkSize = 20
	}
	if cfg.Index.Flush.Policy == "" {
		cfg.Index.Flush.Policy = "adaptive"
	}
	if cfg.Index.Flush.EveryN == 0 {
		cfg.Index.Flush.EveryN = 5
	}
	if cfg.Index.Flush.FastThreshold == 0 {
		cfg.Index.Flush.FastThreshold = 5 * time.Second
	}
	// the interval policy needs a period to flush on
	if cfg.Index.Flush.Policy == "interval" && cfg.Index.Flush.Interval == 0 {
		cfg.Index.Flush.Interval = 30 * time.Second
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 10
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
}
