// Package storage persists image metadata and reports on-disk usage.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kagami/internal/models"
)

// ErrNotFound is returned when no catalog row exists for an id.
var ErrNotFound = errors.New("image not in catalog")

// Catalog defines image metadata persistence operations.
type Catalog interface {
	// Put inserts or replaces the row for img.ID. CreatedAt is set when zero.
	Put(ctx context.Context, img *models.Image) error
	Get(ctx context.Context, id string) (*models.Image, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, offset, limit int) ([]*models.Image, error)
	Count(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) error

	Close() error
}
