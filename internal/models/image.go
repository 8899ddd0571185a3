// Package models defines core data structures for images, search requests and responses.
package models

import "time"

// DefaultFolder is the folder assigned to images uploaded without one.
const DefaultFolder = "general"

// Image is the catalog record of a stored image.
type Image struct {
	ID          string    `json:"id" db:"id"`
	Folder      string    `json:"folder" db:"folder"`
	Customer    string    `json:"customer,omitempty" db:"customer"`
	ContentType string    `json:"content_type" db:"content_type"`
	Size        int64     `json:"size" db:"size"`
	Checksum    string    `json:"checksum" db:"checksum"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ImageInput is an upload: raw bytes plus optional metadata. An empty ID is derived from the content.
type ImageInput struct {
	ID          string `json:"id,omitempty"`
	Folder      string `json:"folder,omitempty"`
	Customer    string `json:"customer,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}
