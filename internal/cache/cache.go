package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type entry struct {
	payload   string
	expiresAt time.Time
}

// Cache memoizes recent tool payloads in memory. Entries expire after their
// TTL and the cache is capacity-bounded; eviction and the periodic sweep are
// handled by the underlying expirable LRU. Lookups never touch the network.
type Cache struct {
	lru *expirable.LRU[string, entry]
	ttl time.Duration
	now func() time.Time
}

// New creates a cache holding at most size entries, each valid for ttl.
func New(size int, ttl time.Duration) *Cache {
	return &Cache{
		lru: expirable.NewLRU[string, entry](size, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
}

// Key derives a stable cache key from a tool name and its canonicalized
// argument parts.
func Key(tool string, parts ...string) string {
	sum := sha256.Sum256([]byte(tool + "\x00" + strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached payload if present and unexpired.
func (c *Cache) Get(key string) (string, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		c.lru.Remove(key)
		return "", false
	}
	return e.payload, true
}

// Put stores a payload under key for the cache TTL.
func (c *Cache) Put(key, payload string) {
	c.lru.Add(key, entry{payload: payload, expiresAt: c.now().Add(c.ttl)})
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops all entries.
func (c *Cache) Purge() {
	c.lru.Purge()
}
