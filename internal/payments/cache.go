package payments

import (
  "sync"
  "time"
)

// Cache is a small TTL cache for hot lookups (wallet balance, payment
// status). Entries are evicted lazily on read.
type Cache struct {
  now func() time.Time

  mu sync.Mutex
  entries map[string]cacheEntry
}

type cacheEntry struct {
  value any
  expires time.Time
}

func NewCache() *Cache {
  return &Cache{
    now: time.Now,
    entries: map[string]cacheEntry{},
  }
}

func (c *Cache) Set(key string, value any, ttl time.Duration) {
  c.mu.Lock()
  defer c.mu.Unlock()
  c.entries[key] = cacheEntry{value: value, expires: c.now().Add(ttl)}
}

func (c *Cache) Get(key string) (any, bool) {
  c.mu.Lock()
  defer c.mu.Unlock()
  entry, ok := c.entries[key]
  if !ok {
    return nil, false
  }
  // An entry is gone the instant its ttl elapses.
  if !c.now().Before(entry.expires) {
    delete(c.entries, key)
    return nil, false
  }
  return entry.value, true
}

func (c *Cache) Delete(key string) {
  c.mu.Lock()
  defer c.mu.Unlock()
  delete(c.entries, key)
}

func (c *Cache) Len() int {
  c.mu.Lock()
  defer c.mu.Unlock()
  return len(c.entries)
}
