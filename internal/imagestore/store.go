// Package imagestore keeps the raw image files that the index is built from. The image bytes are
// the source of truth: rebuilds and deletions re-embed from here.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned for an identifier with no stored image.
var ErrNotFound = errors.New("image not found")

// ErrInvalidID is returned for identifiers that are empty or contain path separators.
var ErrInvalidID = errors.New("invalid image id")

// Store holds raw image bytes by identifier.
type Store interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	// List returns the sorted identifiers of every indexable image.
	List(ctx context.Context) ([]string, error)
	DeleteAll(ctx context.Context) error
	Type() string
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

// IsIndexable reports whether a stored name is an image the index should contain. Crop artifacts
// written next to the originals are excluded.
func IsIndexable(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.Contains(base, "_crop") {
		return false
	}
	return imageExtensions[strings.ToLower(filepath.Ext(base))]
}

// ValidateID rejects identifiers that would escape the store.
func ValidateID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\`), strings.ContainsRune(id, 0):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// CleanID reduces a client-supplied file name to a safe identifier.
func CleanID(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(filepath.Clean("/" + name))
	name = strings.TrimSpace(name)
	if name == "/" || name == "." {
		return ""
	}
	return name
}
