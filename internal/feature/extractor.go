// Package feature turns raw image bytes into unit-length embedding vectors. A Pipeline wraps an
// Extractor with an optional subject Locator, a bounded cache, per-call deadlines and a
// concurrency limit.
package feature

import (
	"context"
	"errors"
)

// ErrPipeline marks any failure to produce an embedding for an image.
var ErrPipeline = errors.New("feature extraction failed")

// ErrNotReady is returned when the models failed to load.
var ErrNotReady = errors.New("feature models not ready")

// Extractor produces an embedding for an encoded image.
type Extractor interface {
	Embed(ctx context.Context, img []byte) ([]float32, error)
	Dimensions() int
	Close() error
}

// Locator finds the subject of an image and returns it cropped and re-encoded.
// found is false when nothing matched; the caller then uses the original bytes.
type Locator interface {
	Locate(ctx context.Context, img []byte) (cropped []byte, found bool, err error)
	Close() error
}
