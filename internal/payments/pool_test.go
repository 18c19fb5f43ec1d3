package payments

import (
  "context"
  "errors"
  "sync"
  "testing"
)

type stubRuntime struct {
  mu sync.Mutex
  sendCalls int
  balanceCalls int
  failFirst int
  err error
  receipt Receipt
}

func (r *stubRuntime) SendPayment(ctx context.Context, invoice string, amountSat uint64) (Receipt, error) {
  r.mu.Lock()
  defer r.mu.Unlock()
  r.sendCalls++
  if r.err != nil {
    return Receipt{}, r.err
  }
  if r.sendCalls <= r.failFirst {
    return Receipt{}, errors.New("temporarily unavailable")
  }
  if r.receipt.PaymentHash == "" {
    return Receipt{PaymentHash: "deadbeef", PreimageHex: "cafebabe", FeeSat: 12}, nil
  }
  return r.receipt, nil
}

func (r *stubRuntime) WalletBalance(ctx context.Context) (Balance, error) {
  r.mu.Lock()
  defer r.mu.Unlock()
  r.balanceCalls++
  return Balance{TotalSat: 250_000, ConfirmedSat: 200_000, UnconfirmedSat: 50_000}, nil
}

func (r *stubRuntime) sends() int {
  r.mu.Lock()
  defer r.mu.Unlock()
  return r.sendCalls
}

func TestSendWithFailoverPrimaryWins(t *testing.T) {
  table := NewPeerTable(nil)
  table.Add("primary", "primary:10009", true)
  table.Add("backup", "backup:10009", false)

  primary := &stubRuntime{}
  backup := &stubRuntime{}
  pool := NewPool(table, nil)
  pool.Register("primary", primary)
  pool.Register("backup", backup)

  peerID, receipt, err := pool.SendWithFailover(context.Background(), "lnbc1...", 1000)
  if err != nil {
    t.Fatalf("SendWithFailover failed: %v", err)
  }
  if peerID != "primary" {
    t.Fatalf("peer = %s, want primary", peerID)
  }
  if receipt.PaymentHash == "" {
    t.Fatalf("empty receipt")
  }
  if backup.sends() != 0 {
    t.Fatalf("backup was tried despite primary success")
  }
}

func TestSendWithFailoverPromotesBackup(t *testing.T) {
  table := NewPeerTable(nil)
  table.Add("primary", "primary:10009", true)
  table.Add("backup", "backup:10009", false)

  primary := &stubRuntime{err: errors.New("connection refused")}
  backup := &stubRuntime{}
  pool := NewPool(table, nil)
  pool.Register("primary", primary)
  pool.Register("backup", backup)

  peerID, _, err := pool.SendWithFailover(context.Background(), "lnbc1...", 1000)
  if err != nil {
    t.Fatalf("SendWithFailover failed: %v", err)
  }
  if peerID != "backup" {
    t.Fatalf("peer = %s, want backup", peerID)
  }

  promoted, ok := table.Primary()
  if !ok || promoted.PeerID != "backup" {
    t.Fatalf("backup was not promoted, primary = %+v", promoted)
  }
  failed, _ := table.Get("primary")
  if failed.FailedAttempts != 1 {
    t.Fatalf("primary failure not recorded: %+v", failed)
  }
}

func TestSendWithFailoverTakesFailedPeerOffline(t *testing.T) {
  table := NewPeerTable(nil)
  table.Add("primary", "primary:10009", true)
  table.Add("backup", "backup:10009", false)

  pool := NewPool(table, nil)
  pool.Register("primary", &stubRuntime{err: errors.New("connection refused")})
  pool.Register("backup", &stubRuntime{})

  if _, _, err := pool.SendWithFailover(context.Background(), "lnbc1...", 1000); err != nil {
    t.Fatalf("SendWithFailover failed: %v", err)
  }

  failed, _ := table.Get("primary")
  if failed.IsOnline {
    t.Fatalf("failed peer still online: %+v", failed)
  }
  if failed.SuccessRate >= 1.0 {
    t.Fatalf("failed peer not penalized: %+v", failed)
  }
  winner, _ := table.Get("backup")
  if !winner.IsOnline {
    t.Fatalf("winning peer went offline: %+v", winner)
  }

  // The dead peer is out of the rotation for the next payment.
  for _, p := range table.failoverOrder() {
    if p.PeerID == "primary" {
      t.Fatalf("offline peer still in failover order")
    }
  }
}

func TestSendWithFailoverAllPeersFail(t *testing.T) {
  table := NewPeerTable(nil)
  table.Add("primary", "primary:10009", true)
  table.Add("backup", "backup:10009", false)

  pool := NewPool(table, nil)
  pool.Register("primary", &stubRuntime{err: errors.New("down")})
  pool.Register("backup", &stubRuntime{err: errors.New("also down")})

  if _, _, err := pool.SendWithFailover(context.Background(), "lnbc1...", 1000); err == nil {
    t.Fatalf("expected error when every peer fails")
  }
}

func TestSendWithFailoverNoPeers(t *testing.T) {
  pool := NewPool(NewPeerTable(nil), nil)
  if _, _, err := pool.SendWithFailover(context.Background(), "lnbc1...", 1000); !errors.Is(err, ErrNoPeerAvailable) {
    t.Fatalf("err = %v, want ErrNoPeerAvailable", err)
  }
}

func TestAcquireRoundRobin(t *testing.T) {
  table := NewPeerTable(nil)
  table.Add("a", "a:10009", true)
  table.Add("b", "b:10009", false)

  pool := NewPool(table, nil)
  pool.Register("a", &stubRuntime{})
  pool.Register("b", &stubRuntime{})

  seen := map[string]int{}
  for i := 0; i < 4; i++ {
    peerID, _, err := pool.Acquire()
    if err != nil {
      t.Fatalf("Acquire failed: %v", err)
    }
    seen[peerID]++
  }
  if seen["a"] != 2 || seen["b"] != 2 {
    t.Fatalf("rotation uneven: %v", seen)
  }
}

func TestAcquireFallsBackToPrimary(t *testing.T) {
  table := NewPeerTable(nil)
  table.Add("a", "a:10009", true)
  table.Add("b", "b:10009", false)

  // Only the primary has a runtime registered.
  pool := NewPool(table, nil)
  pool.Register("a", &stubRuntime{})

  for i := 0; i < 3; i++ {
    peerID, _, err := pool.Acquire()
    if err != nil {
      t.Fatalf("Acquire failed: %v", err)
    }
    if peerID != "a" {
      t.Fatalf("peer = %s, want a", peerID)
    }
  }
}
