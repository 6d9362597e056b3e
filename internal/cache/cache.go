package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores byte values for the lifetime of one run
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// CacheKey derives a cache key from a request URL
func CacheKey(url string) string {
	hash := sha256.Sum256([]byte(url))
	return "cfrfetch:v1:" + hex.EncodeToString(hash[:])
}

// Noop is a Cache that never stores anything
type Noop struct{}

func (Noop) Get(string) ([]byte, bool) { return nil, false }
func (Noop) Set(string, []byte, time.Duration) error { return nil }
func (Noop) Delete(string) error { return nil }
func (Noop) Clear() error { return nil }
