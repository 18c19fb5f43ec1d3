package payments

import (
  "context"
  "time"
)

// runRetryLoop wakes on a fixed tick and drains due retries. A panic in
// one tick is logged and the loop keeps going.
func (e *Engine) runRetryLoop() {
  tick := time.Duration(e.cfg.RetryTickSec) * time.Second
  if tick <= 0 {
    tick = 10 * time.Second
  }
  ticker := time.NewTicker(tick)
  defer ticker.Stop()

  e.mu.Lock()
  stop := e.stop
  e.mu.Unlock()
  if stop == nil {
    return
  }

  for {
    select {
    case <-ticker.C:
      e.safeDrain()
    case <-stop:
      return
    }
  }
}

func (e *Engine) safeDrain() {
  defer func() {
    if r := recover(); r != nil && e.logger != nil {
      e.logger.Printf("retry drain panicked: %v", r)
    }
  }()
  e.DrainRetries(context.Background())
}

// DrainRetries re-attempts every retrying payment whose backoff has
// elapsed. It returns the number of attempts made.
func (e *Engine) DrainRetries(ctx context.Context) int {
  now := e.now().UTC()

  e.mu.RLock()
  due := []string{}
  for id, p := range e.payments {
    if p.Status == StatusRetrying && p.NextRetryAt != nil && !p.NextRetryAt.After(now) {
      due = append(due, id)
    }
  }
  e.mu.RUnlock()

  for _, id := range due {
    if err := e.Attempt(ctx, id); err != nil && e.logger != nil {
      e.logger.Printf("payment %s retry attempt failed: %v", id, err)
    }
  }
  return len(due)
}
