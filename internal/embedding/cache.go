package embedding

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingCache is an LRU cache for image embeddings keyed by the SHA-256 of the encoded image.
// Cached slices are shared; callers must not modify them.
type EmbeddingCache struct {
	lru *lru.Cache[[32]byte, []float32]
}

// NewEmbeddingCache creates a new cache with the given capacity. A capacity
// below one disables caching.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity < 1 {
		return &EmbeddingCache{}
	}
	c, err := lru.New[[32]byte, []float32](capacity)
	if err != nil {
		return &EmbeddingCache{}
	}
	return &EmbeddingCache{lru: c}
}

// Key returns the cache key for encoded image bytes.
func Key(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Get returns the cached embedding for key if present.
func (c *EmbeddingCache) Get(key [32]byte) ([]float32, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

// Set stores the embedding for key, evicting the least recently used entry if at capacity.
func (c *EmbeddingCache) Set(key [32]byte, value []float32) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, value)
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
