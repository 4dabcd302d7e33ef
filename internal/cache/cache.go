package cache

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedResponse represents a cached generation result
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// Key hashes the parts that determine a generation result
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Responses is a bounded, expiring response cache
type Responses struct {
	lru *expirable.LRU[string, CachedResponse]
}

// NewResponses creates a cache holding up to size entries for ttl
func NewResponses(size int, ttl time.Duration) *Responses {
	if size <= 0 {
		size = 256
	}
	return &Responses{lru: expirable.NewLRU[string, CachedResponse](size, nil, ttl)}
}

// Get returns the cached response for key
func (r *Responses) Get(key string) (string, bool) {
	v, ok := r.lru.Get(key)
	if !ok {
		return "", false
	}
	return v.Response, true
}

// Put stores a response under key
func (r *Responses) Put(key, response string) {
	r.lru.Add(key, CachedResponse{Response: response, Timestamp: time.Now()})
}

// Len returns the number of live entries
func (r *Responses) Len() int {
	return r.lru.Len()
}
