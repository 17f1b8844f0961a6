package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TTLCache is a typed view over go-cache. Expired entries are invisible to
// Get and are dropped by CleanExpired; it runs no janitor of its own so a
// Manager owns the sweep.
type TTLCache[T any] struct {
	store *gocache.Cache
}

var _ Cache[int] = (*TTLCache[int])(nil)

// NewTTLCache creates a cache whose entries live for ttl. A ttl of zero or
// less keeps entries until deleted.
func NewTTLCache[T any](ttl time.Duration) *TTLCache[T] {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &TTLCache[T]{store: gocache.New(ttl, 0)}
}

func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := c.store.Get(key)
	if !ok {
		return zero, false
	}
	data, ok := v.(T)
	if !ok {
		return zero, false
	}
	return data, true
}

func (c *TTLCache[T]) Set(key string, data T) {
	c.store.SetDefault(key, data)
}

func (c *TTLCache[T]) Delete(key string) {
	c.store.Delete(key)
}

func (c *TTLCache[T]) DeletePrefix(prefix string) int {
	n := 0
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
			n++
		}
	}
	return n
}

// CleanExpired removes all expired entries and returns count of removed items
func (c *TTLCache[T]) CleanExpired() int {
	before := c.store.ItemCount()
	c.store.DeleteExpired()
	if removed := before - c.store.ItemCount(); removed > 0 {
		return removed
	}
	return 0
}

// Size counts stored entries, including expired ones not yet swept.
func (c *TTLCache[T]) Size() int {
	return c.store.ItemCount()
}
