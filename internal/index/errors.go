package index

import (
	"errors"

	"github.com/hyperjump/kagami/internal/vector"
)

var (
	// ErrNotFound is returned when an identifier is not in the index.
	ErrNotFound = errors.New("image not found in index")
	// ErrDimensionMismatch matches any *DimensionError.
	ErrDimensionMismatch = vector.ErrDimensionMismatch
	// ErrPipeline marks a failure to fetch or embed a source image.
	ErrPipeline = errors.New("feature pipeline failed")
	// ErrStorage marks a failure to persist the snapshot.
	ErrStorage = errors.New("index storage failed")
	// ErrCorrupt is returned while the loaded snapshot is unusable; Rebuild or Reset clears it.
	ErrCorrupt = errors.New("index is corrupt, rebuild or reset required")
	// ErrDuplicate is returned by Add when duplicate identifiers are rejected.
	ErrDuplicate = errors.New("image already indexed")
	// ErrNoSource is returned by Delete when the manager has no way to refetch source images.
	ErrNoSource = errors.New("no source fetcher or embedder configured")
)

// DimensionError reports the expected and actual vector length.
type DimensionError = vector.DimensionError
