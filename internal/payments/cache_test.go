package payments

import (
  "testing"
  "time"
)

func TestCacheSetGet(t *testing.T) {
  c := NewCache()
  c.Set("balance", Balance{TotalSat: 42}, 30*time.Second)

  value, ok := c.Get("balance")
  if !ok {
    t.Fatalf("expected cache hit")
  }
  if b := value.(Balance); b.TotalSat != 42 {
    t.Fatalf("cached balance = %d, want 42", b.TotalSat)
  }
}

func TestCacheExpiry(t *testing.T) {
  now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
  c := NewCache()
  c.now = func() time.Time { return now }

  c.Set("balance", Balance{TotalSat: 42}, 30*time.Second)

  now = now.Add(29 * time.Second)
  if _, ok := c.Get("balance"); !ok {
    t.Fatalf("entry expired before its ttl")
  }

  // Expiry is exact: the entry is gone at t = ttl, not after it.
  now = now.Add(1 * time.Second)
  if _, ok := c.Get("balance"); ok {
    t.Fatalf("entry served at exactly its ttl")
  }
  if c.Len() != 0 {
    t.Fatalf("expired entry was not evicted on read")
  }
}

func TestCacheDelete(t *testing.T) {
  c := NewCache()
  c.Set("payment_status_abc", "succeeded", time.Minute)
  c.Delete("payment_status_abc")
  if _, ok := c.Get("payment_status_abc"); ok {
    t.Fatalf("deleted entry still present")
  }
}
