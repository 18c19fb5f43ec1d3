package payments

import (
  "context"
  "errors"
  "testing"
  "time"
)

type fakeClock struct {
  t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(rt Runtime) *Engine {
  table := NewPeerTable(nil)
  table.Add("node", "node:10009", true)
  pool := NewPool(table, nil)
  pool.Register("node", rt)
  return NewEngine(DefaultConfig(), pool, nil, nil)
}

func TestAttemptSuccess(t *testing.T) {
  rt := &stubRuntime{}
  e := newTestEngine(rt)

  p, err := e.enqueue(context.Background(), "", "lnbc1pvjluez...", 1000)
  if err != nil {
    t.Fatalf("enqueue failed: %v", err)
  }
  if p.Status != StatusPending {
    t.Fatalf("status = %s, want pending", p.Status)
  }

  if err := e.Attempt(context.Background(), p.PaymentID); err != nil {
    t.Fatalf("Attempt failed: %v", err)
  }

  got, err := e.Get(p.PaymentID)
  if err != nil {
    t.Fatalf("Get failed: %v", err)
  }
  if got.Status != StatusSucceeded {
    t.Fatalf("status = %s, want succeeded", got.Status)
  }
  if got.FeeSat != 12 || got.PreimageHex != "cafebabe" || got.PaymentHash != "deadbeef" {
    t.Fatalf("receipt not recorded: %+v", got)
  }
  if got.PeerID != "node" {
    t.Fatalf("peer = %s, want node", got.PeerID)
  }
}

func TestAttemptEmptyInvoice(t *testing.T) {
  e := newTestEngine(&stubRuntime{})
  if _, err := e.enqueue(context.Background(), "", "", 1000); !errors.Is(err, ErrInvalidInvoice) {
    t.Fatalf("err = %v, want ErrInvalidInvoice", err)
  }
}

func TestAttemptFailureSchedulesLinearBackoff(t *testing.T) {
  rt := &stubRuntime{err: errors.New("no route")}
  e := newTestEngine(rt)
  clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
  e.now = clock.Now

  p, _ := e.enqueue(context.Background(), "", "lnbc1...", 1000)
  if err := e.Attempt(context.Background(), p.PaymentID); err == nil {
    t.Fatalf("expected attempt error")
  }

  got, _ := e.Get(p.PaymentID)
  if got.Status != StatusRetrying || got.RetryCount != 1 {
    t.Fatalf("after first failure: %+v", got)
  }
  if got.NextRetryAt == nil || !got.NextRetryAt.Equal(clock.t.Add(5*time.Second)) {
    t.Fatalf("first backoff = %v, want +5s", got.NextRetryAt)
  }

  // The failed attempt took the peer offline; bring it back the way a
  // health check would before the retry fires.
  _ = e.pool.Peers().SetOnline("node", true)

  // Not due yet.
  clock.Advance(4 * time.Second)
  if n := e.DrainRetries(context.Background()); n != 0 {
    t.Fatalf("drained %d before backoff elapsed", n)
  }

  // Due; second failure doubles the delay via the retry count.
  clock.Advance(1 * time.Second)
  if n := e.DrainRetries(context.Background()); n != 1 {
    t.Fatalf("drained %d, want 1", n)
  }
  got, _ = e.Get(p.PaymentID)
  if got.RetryCount != 2 {
    t.Fatalf("retry count = %d, want 2", got.RetryCount)
  }
  if got.NextRetryAt == nil || !got.NextRetryAt.Equal(clock.t.Add(10*time.Second)) {
    t.Fatalf("second backoff = %v, want +10s", got.NextRetryAt)
  }
}

func TestRetryBudgetExhausted(t *testing.T) {
  rt := &stubRuntime{err: errors.New("no route")}
  e := newTestEngine(rt)
  clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
  e.now = clock.Now

  p, _ := e.enqueue(context.Background(), "", "lnbc1...", 1000)
  _ = e.Attempt(context.Background(), p.PaymentID)

  for i := 0; i < 3; i++ {
    _ = e.pool.Peers().SetOnline("node", true)
    clock.Advance(time.Minute)
    e.DrainRetries(context.Background())
  }

  got, _ := e.Get(p.PaymentID)
  if got.Status != StatusFailed {
    t.Fatalf("status = %s, want failed", got.Status)
  }
  if got.RetryCount != 3 {
    t.Fatalf("retry count = %d, want 3", got.RetryCount)
  }
  // Initial attempt plus three retries.
  if rt.sends() != 4 {
    t.Fatalf("send attempts = %d, want 4", rt.sends())
  }

  // The budget is spent; further drains do nothing.
  clock.Advance(time.Minute)
  if n := e.DrainRetries(context.Background()); n != 0 {
    t.Fatalf("failed payment still retried")
  }
}

func TestFlakyPaymentEventuallySucceeds(t *testing.T) {
  rt := &stubRuntime{failFirst: 2}
  e := newTestEngine(rt)
  clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
  e.now = clock.Now

  p, _ := e.enqueue(context.Background(), "", "lnbc1...", 1000)
  _ = e.Attempt(context.Background(), p.PaymentID)

  _ = e.pool.Peers().SetOnline("node", true)
  clock.Advance(time.Minute)
  e.DrainRetries(context.Background())
  _ = e.pool.Peers().SetOnline("node", true)
  clock.Advance(time.Minute)
  e.DrainRetries(context.Background())

  got, _ := e.Get(p.PaymentID)
  if got.Status != StatusSucceeded {
    t.Fatalf("status = %s, want succeeded", got.Status)
  }
  if got.RetryCount != 2 {
    t.Fatalf("retry count = %d, want 2", got.RetryCount)
  }
}

func TestRouteCheckBlocksAttempt(t *testing.T) {
  rt := &stubRuntime{}
  e := newTestEngine(rt)
  e.SetRouteCheck(func(ctx context.Context, invoice string) error {
    return errors.New("no route to destination")
  })

  p, _ := e.enqueue(context.Background(), "", "lnbc1...", 1000)
  if err := e.Attempt(context.Background(), p.PaymentID); err == nil {
    t.Fatalf("expected route check error")
  }

  if rt.sends() != 0 {
    t.Fatalf("backend was tried despite failed route check")
  }
  // No route is not retried internally; the caller may resubmit.
  got, _ := e.Get(p.PaymentID)
  if got.Status != StatusFailed {
    t.Fatalf("status = %s, want failed", got.Status)
  }
  if got.RetryCount != 0 {
    t.Fatalf("retry budget consumed on route failure: %d", got.RetryCount)
  }
  if n := e.DrainRetries(context.Background()); n != 0 {
    t.Fatalf("routeless payment scheduled for retry")
  }
}

func TestNoPeerAvailableFailsWithoutRetry(t *testing.T) {
  pool := NewPool(NewPeerTable(nil), nil)
  e := NewEngine(DefaultConfig(), pool, nil, nil)

  p, _ := e.enqueue(context.Background(), "", "lnbc1...", 1000)
  if err := e.Attempt(context.Background(), p.PaymentID); !errors.Is(err, ErrNoPeerAvailable) {
    t.Fatalf("err = %v, want ErrNoPeerAvailable", err)
  }

  got, _ := e.Get(p.PaymentID)
  if got.Status != StatusFailed {
    t.Fatalf("status = %s, want failed", got.Status)
  }
  if got.RetryCount != 0 {
    t.Fatalf("retry budget consumed: %d", got.RetryCount)
  }
}

func TestCancelPayment(t *testing.T) {
  e := newTestEngine(&stubRuntime{})

  p, _ := e.enqueue(context.Background(), "", "lnbc1...", 1000)
  if err := e.Cancel(p.PaymentID); err != nil {
    t.Fatalf("Cancel failed: %v", err)
  }
  got, _ := e.Get(p.PaymentID)
  if got.Status != StatusCancelled {
    t.Fatalf("status = %s, want cancelled", got.Status)
  }

  if err := e.Attempt(context.Background(), p.PaymentID); !errors.Is(err, ErrTerminal) {
    t.Fatalf("Attempt on cancelled err = %v, want ErrTerminal", err)
  }
  if err := e.Cancel(p.PaymentID); !errors.Is(err, ErrTerminal) {
    t.Fatalf("second Cancel err = %v, want ErrTerminal", err)
  }
}

func TestCancelSucceededPayment(t *testing.T) {
  e := newTestEngine(&stubRuntime{})

  p, _ := e.enqueue(context.Background(), "", "lnbc1...", 1000)
  _ = e.Attempt(context.Background(), p.PaymentID)

  if err := e.Cancel(p.PaymentID); !errors.Is(err, ErrTerminal) {
    t.Fatalf("Cancel after success err = %v, want ErrTerminal", err)
  }
}

func TestCancelUnknownPayment(t *testing.T) {
  e := newTestEngine(&stubRuntime{})
  if err := e.Cancel("pay_missing"); !errors.Is(err, ErrNotFound) {
    t.Fatalf("err = %v, want ErrNotFound", err)
  }
}

func TestStatusByHash(t *testing.T) {
  e := newTestEngine(&stubRuntime{})

  p, _ := e.enqueue(context.Background(), "", "lnbc1...", 1000)
  _ = e.Attempt(context.Background(), p.PaymentID)

  got, err := e.StatusByHash("deadbeef")
  if err != nil {
    t.Fatalf("StatusByHash failed: %v", err)
  }
  if got.PaymentID != p.PaymentID || got.Status != StatusSucceeded {
    t.Fatalf("unexpected payment: %+v", got)
  }

  if _, err := e.StatusByHash("unknown"); !errors.Is(err, ErrNotFound) {
    t.Fatalf("err = %v, want ErrNotFound", err)
  }
}

func TestWalletBalanceCached(t *testing.T) {
  rt := &stubRuntime{}
  e := newTestEngine(rt)

  for i := 0; i < 3; i++ {
    b, err := e.WalletBalance(context.Background())
    if err != nil {
      t.Fatalf("WalletBalance failed: %v", err)
    }
    if b.TotalSat != 250_000 {
      t.Fatalf("balance = %d, want 250000", b.TotalSat)
    }
  }
  rt.mu.Lock()
  calls := rt.balanceCalls
  rt.mu.Unlock()
  if calls != 1 {
    t.Fatalf("backend queried %d times, want 1 (cached)", calls)
  }
}

func TestMetrics(t *testing.T) {
  rt := &stubRuntime{}
  e := newTestEngine(rt)

  ok1, _ := e.enqueue(context.Background(), "", "lnbc1a...", 1000)
  ok2, _ := e.enqueue(context.Background(), "", "lnbc1b...", 2000)
  _ = e.Attempt(context.Background(), ok1.PaymentID)
  _ = e.Attempt(context.Background(), ok2.PaymentID)

  cancelled, _ := e.enqueue(context.Background(), "", "lnbc1c...", 500)
  _ = e.Cancel(cancelled.PaymentID)

  pending, _ := e.enqueue(context.Background(), "", "lnbc1d...", 500)
  _ = pending

  m := e.Metrics()
  if m.TotalPayments != 4 || m.Succeeded != 2 || m.Cancelled != 1 || m.InFlight != 1 {
    t.Fatalf("unexpected metrics: %+v", m)
  }
  if m.SuccessRate != 1.0 {
    t.Fatalf("success rate = %f, want 1.0", m.SuccessRate)
  }
  if m.TotalFeesSat != 24 || m.AvgFeeSat != 12 {
    t.Fatalf("fee metrics: %+v", m)
  }
}

func TestListByWallet(t *testing.T) {
  e := newTestEngine(&stubRuntime{})

  a1, _ := e.enqueue(context.Background(), "wallet-a", "lnbc1a...", 1000)
  _, _ = e.enqueue(context.Background(), "wallet-b", "lnbc1b...", 2000)
  a2, _ := e.enqueue(context.Background(), "wallet-a", "lnbc1c...", 3000)

  list := e.ListByWallet("wallet-a")
  if len(list) != 2 {
    t.Fatalf("wallet-a payments = %d, want 2", len(list))
  }
  for _, p := range list {
    if p.WalletID != "wallet-a" {
      t.Fatalf("foreign payment in wallet listing: %+v", p)
    }
  }
  if list[0].PaymentID != a1.PaymentID || list[1].PaymentID != a2.PaymentID {
    t.Fatalf("wallet listing out of order")
  }

  if got := e.ListByWallet("wallet-c"); len(got) != 0 {
    t.Fatalf("unknown wallet listed %d payments", len(got))
  }
}

func TestListOrderedByCreation(t *testing.T) {
  e := newTestEngine(&stubRuntime{})
  clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
  e.now = clock.Now

  first, _ := e.enqueue(context.Background(), "", "lnbc1a...", 1000)
  clock.Advance(time.Second)
  second, _ := e.enqueue(context.Background(), "", "lnbc1b...", 2000)

  list := e.List()
  if len(list) != 2 {
    t.Fatalf("list length = %d, want 2", len(list))
  }
  if list[0].PaymentID != first.PaymentID || list[1].PaymentID != second.PaymentID {
    t.Fatalf("list out of order: %s, %s", list[0].PaymentID, list[1].PaymentID)
  }
}
