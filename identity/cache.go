/*
cache.go - Bounded TTL cache for hot identity reads

PURPOSE:
  Report processing looks up the same handful of crew names over and
  over. This read-through cache sits in front of Index lookups so a
  batch of thirty tuples doesn't hit the store thirty times for "Bob".

STRICT LIMITS:
  - Read path only. BindAlias/CreateIdentity/Merge/Activate always go
    straight to the store; the uniqueness guarantees live there.
  - Bounded (LRU) and time-expiring (TTL), so a stale entry can never
    outlive the configured window.
  - Any successful write purges the whole cache. Identities change
    rarely; correctness beats cleverness here.

SEE ALSO:
  - index.go: Consults the cache on exact lookups only
*/
package identity

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// =============================================================================
// READ CACHE
// =============================================================================

type readCache struct {
	lru *expirable.LRU[string, *Identity]
}

func newReadCache(size int, ttl time.Duration) *readCache {
	if size <= 0 {
		size = 256
	}
	return &readCache{lru: expirable.NewLRU[string, *Identity](size, nil, ttl)}
}

func (c *readCache) get(key string) (*Identity, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *readCache) put(key string, ident *Identity) {
	if c == nil || ident == nil {
		return
	}
	c.lru.Add(key, ident)
}

func (c *readCache) purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Cache key namespaces. One LRU, prefixed keys.
func cacheKeyID(id string) string { return "id:" + id }
func cacheKeyAlias(key string) string { return "alias:" + key }
func cacheKeyName(name string) string { return "name:" + name }
func cacheKeyNumber(num string) string { return "emp:" + num }
