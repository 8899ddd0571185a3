package feature

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheKey identifies image content.
type CacheKey [sha256.Size]byte

// KeyOf hashes image bytes into a cache key.
func KeyOf(img []byte) CacheKey {
	return sha256.Sum256(img)
}

// FeatureCache is a bounded LRU of embeddings keyed by image content. Values are copied in and out.
type FeatureCache struct {
	lru *lru.Cache[CacheKey, []float32]
}

// NewFeatureCache creates a cache holding at most capacity embeddings. A capacity <= 0 disables
// caching and returns nil, which is safe to call methods on.
func NewFeatureCache(capacity int) *FeatureCache {
	if capacity <= 0 {
		return nil
	}
	c, err := lru.New[CacheKey, []float32](capacity)
	if err != nil {
		return nil
	}
	return &FeatureCache{lru: c}
}

// Get returns a copy of the cached embedding.
func (c *FeatureCache) Get(key CacheKey) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return cloneVector(v), true
}

// Set stores a copy of vec, evicting the least recently used entry at capacity.
func (c *FeatureCache) Set(key CacheKey, vec []float32) {
	if c == nil {
		return
	}
	c.lru.Add(key, cloneVector(vec))
}

// Len returns the number of cached embeddings.
func (c *FeatureCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge drops every entry.
func (c *FeatureCache) Purge() {
	if c != nil {
		c.lru.Purge()
	}
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
