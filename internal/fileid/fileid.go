// Package fileid derives stable image identifiers and content checksums.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"path/filepath"
	"strings"
)

const prefix = "img-"

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// FromContent returns an identifier for an upload that came without a file name.
// Same bytes always yield the same ID.
func FromContent(data []byte) string {
	return prefix + Checksum(data)[:16] + ExtensionFor(http.DetectContentType(data))
}

// FromPath returns the identifier of a file inside the image directory: its base name.
func FromPath(path string) string {
	return filepath.Base(filepath.Clean(path))
}

// ExtensionFor maps an image content type to a file extension. Unknown types map to ".jpg".
func ExtensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// ContentType returns the content type for an image identifier, from its extension.
func ContentType(id string) string {
	switch strings.ToLower(filepath.Ext(id)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
