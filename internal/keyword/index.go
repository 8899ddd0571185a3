// Package keyword provides name lookup over catalogued images.
package keyword

import (
	"context"
	"strings"

	"github.com/hyperjump/kagami/internal/models"
)

// NameIndex defines text lookup over image names and metadata.
type NameIndex interface {
	Index(ctx context.Context, img *models.Image) error
	Search(ctx context.Context, query string, limit int, fuzzy bool) ([]*Result, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	// DocCount returns the total number of images in the index.
	DocCount() (uint64, error)
	Close() error
}

// Result is a single lookup hit.
type Result struct {
	ID    string
	Score float64
}

// NameTerms turns an image id into searchable words: "red_summer-dress.jpg" -> "red summer dress jpg".
func NameTerms(id string) string {
	r := strings.NewReplacer("_", " ", "-", " ", ".", " ")
	return strings.Join(strings.Fields(r.Replace(id)), " ")
}
