package models

import "time"

// SearchHit is a single similarity search result.
type SearchHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
	Image *Image  `json:"image,omitempty"`
}

// SearchResponse is the response for a similarity search.
type SearchResponse struct {
	Results   []*SearchHit `json:"results"`
	IDs       []string     `json:"ids"`
	Total     int          `json:"total"`
	K         int          `json:"k"`
	QueryTime int64        `json:"query_time_ms"`
}

// ItemError explains why one image in a bulk operation was skipped.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// AddResponse is returned after indexing one image.
type AddResponse struct {
	ID      string `json:"id"`
	Size    int    `json:"index_size"`
	Durable bool   `json:"durable"`
	Warning string `json:"warning,omitempty"`
}

// BatchResponse is returned after indexing several images.
type BatchResponse struct {
	Added   int         `json:"added"`
	Errored int         `json:"errored"`
	IDs     []string    `json:"ids"`
	Errors  []ItemError `json:"errors,omitempty"`
	Size    int         `json:"index_size"`
	Durable bool        `json:"durable"`
	Warning string      `json:"warning,omitempty"`
}

// DeleteResponse is returned after removing an image.
type DeleteResponse struct {
	ID        string      `json:"id"`
	Remaining int         `json:"remaining"`
	Errored   int         `json:"errored"`
	Errors    []ItemError `json:"errors,omitempty"`
	Durable   bool        `json:"durable"`
	Warning   string      `json:"warning,omitempty"`
}

// RebuildResponse is returned by rebuild and sync.
type RebuildResponse struct {
	Processed int         `json:"processed"`
	Errored   int         `json:"errored"`
	Total     int         `json:"total"`
	Errors    []ItemError `json:"errors,omitempty"`
	ElapsedMS int64       `json:"elapsed_ms"`
	Durable   bool        `json:"durable"`
	Warning   string      `json:"warning,omitempty"`
}

// ResetResponse is returned after clearing everything.
type ResetResponse struct {
	Message string `json:"message"`
	Durable bool   `json:"durable"`
	Warning string `json:"warning,omitempty"`
}

// LookupResult is a text lookup hit.
type LookupResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Image *Image  `json:"image,omitempty"`
}

// Status summarizes the service state.
type Status struct {
	IndexSize      int       `json:"index_size"`
	State          string    `json:"state"`
	Dimensions     int       `json:"dimensions"`
	StoreType      string    `json:"store_type"`
	Generation     uint64    `json:"generation"`
	Dirty          bool      `json:"dirty"`
	LastFlush      time.Time `json:"last_flush,omitempty"`
	LastFlushError string    `json:"last_flush_error,omitempty"`
	ModelsReady    bool      `json:"models_ready"`
	CachedFeatures int       `json:"cached_features"`
	CatalogImages  int64     `json:"catalog_images"`
	NameIndexDocs  uint64    `json:"name_index_docs"`
	ImageBackend   string    `json:"image_backend"`
	DiskUsageBytes int64     `json:"disk_usage_bytes"`
}
