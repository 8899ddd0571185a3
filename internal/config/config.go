// Package config provides configuration loading and structs for the kagami server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Feature FeatureConfig `yaml:"feature"`
	Index   IndexConfig   `yaml:"index"`
	Search  SearchConfig  `yaml:"search"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxUploadMB    int64         `yaml:"max_upload_mb"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for the index snapshot, raw images, catalog and name index.
type StorageConfig struct {
	IndexDir         string      `yaml:"index_dir"`
	ImageDir         string      `yaml:"image_dir"`
	DatabasePath     string      `yaml:"database_path"`
	KeywordIndexPath string      `yaml:"keyword_index_path"`
	Backend          string      `yaml:"backend"`
	Minio            MinioConfig `yaml:"minio"`
}

// MinioConfig holds the remote image store settings used when backend is "minio".
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// FeatureConfig holds the embedding model and pipeline settings.
type FeatureConfig struct {
	ModelPath         string         `yaml:"model_path"`
	DetectorModelPath string         `yaml:"detector_model_path"`
	SharedLibraryPath string         `yaml:"shared_library_path"`
	Dimensions        int            `yaml:"dimensions"`
	ImageSize         int            `yaml:"image_size"`
	CacheSize         int            `yaml:"cache_size"`
	ExtractTimeout    time.Duration  `yaml:"extract_timeout"`
	Workers           int            `yaml:"workers"`
	Mock              bool           `yaml:"mock"`
	Detector          DetectorConfig `yaml:"detector"`
}

// DetectorConfig holds the subject detection settings.
type DetectorConfig struct {
	Threshold float64  `yaml:"threshold"`
	Labels    []string `yaml:"labels"`
	Classes   []string `yaml:"classes"`
	Queries   int      `yaml:"queries"`
}

// IndexConfig holds vector index and persistence settings.
type IndexConfig struct {
	VectorType       string      `yaml:"vector_type"`
	Codec            string      `yaml:"codec"`
	RejectDuplicates bool        `yaml:"reject_duplicates"`
	RebuildChunkSize int         `yaml:"rebuild_chunk_size"`
	RebuildRateLimit float64     `yaml:"rebuild_rate_limit"`
	Flush            FlushConfig `yaml:"flush"`
}

// FlushConfig selects when index mutations are written to disk.
type FlushConfig struct {
	Policy        string        `yaml:"policy"`
	EveryN        int           `yaml:"every_n"`
	FastThreshold time.Duration `yaml:"fast_threshold"`
	Interval      time.Duration `yaml:"interval"`
}

// SearchConfig holds result count limits.
type SearchConfig struct {
	DefaultK int `yaml:"default_k"`
	MaxK     int `yaml:"max_k"`
}

// WatchConfig holds image directory watch settings.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, expands paths, applies defaults and
// environment overrides. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	cfg.Storage.ImageDir = expandPath(cfg.Storage.ImageDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Feature.ModelPath = expandPath(cfg.Feature.ModelPath, configDir)
	if cfg.Feature.DetectorModelPath != "" {
		cfg.Feature.DetectorModelPath = expandPath(cfg.Feature.DetectorModelPath, configDir)
	}
	if cfg.Feature.SharedLibraryPath != "" {
		cfg.Feature.SharedLibraryPath = expandPath(cfg.Feature.SharedLibraryPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides credentials and debug from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("KAGAMI_MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.Minio.AccessKey = v
	}
	if v := os.Getenv("KAGAMI_MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.Minio.SecretKey = v
	}
	if v := os.Getenv("KAGAMI_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Feature.Dimensions <= 0 {
		return fmt.Errorf("feature.dimensions must be positive")
	}
	if c.Search.DefaultK > c.Search.MaxK {
		return fmt.Errorf("search.default_k (%d) exceeds search.max_k (%d)", c.Search.DefaultK, c.Search.MaxK)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
