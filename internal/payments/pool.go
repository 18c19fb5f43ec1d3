package payments

import (
  "context"
  "fmt"
  "log"
  "sync"
)

// Runtime is the lightning backend boundary. Implementations settle
// invoices and report wallet liquidity; the engine never talks to a
// backend directly.
type Runtime interface {
  SendPayment(ctx context.Context, invoice string, amountSat uint64) (Receipt, error)
  WalletBalance(ctx context.Context) (Balance, error)
}

// Receipt is the proof of a settled payment.
type Receipt struct {
  PaymentHash string `json:"payment_hash"`
  PreimageHex string `json:"preimage_hex"`
  FeeSat uint64 `json:"fee_sat"`
}

type Balance struct {
  TotalSat uint64 `json:"total_sat"`
  ConfirmedSat uint64 `json:"confirmed_sat"`
  UnconfirmedSat uint64 `json:"unconfirmed_sat"`
}

// Pool pairs the peer table with one runtime per peer. Reads rotate
// round-robin across online peers; payments go through SendWithFailover.
type Pool struct {
  peers *PeerTable
  logger *log.Logger

  mu sync.Mutex
  runtimes map[string]Runtime
  rr int
}

func NewPool(peers *PeerTable, logger *log.Logger) *Pool {
  return &Pool{
    peers: peers,
    logger: logger,
    runtimes: map[string]Runtime{},
  }
}

func (p *Pool) Peers() *PeerTable { return p.peers }

// Register attaches a runtime to a peer id. The peer must be added to
// the table separately.
func (p *Pool) Register(peerID string, rt Runtime) {
  p.mu.Lock()
  defer p.mu.Unlock()
  p.runtimes[peerID] = rt
}

func (p *Pool) Unregister(peerID string) {
  p.mu.Lock()
  defer p.mu.Unlock()
  delete(p.runtimes, peerID)
}

func (p *Pool) runtimeFor(peerID string) (Runtime, bool) {
  p.mu.Lock()
  defer p.mu.Unlock()
  rt, ok := p.runtimes[peerID]
  return rt, ok
}

// Acquire returns the next online peer's runtime in round-robin order.
// The primary is the fallback when the rotation lands on a peer with no
// registered runtime.
func (p *Pool) Acquire() (string, Runtime, error) {
  online := []Peer{}
  for _, peer := range p.peers.List() {
    if peer.IsOnline {
      online = append(online, peer)
    }
  }
  if len(online) == 0 {
    return "", nil, ErrNoPeerAvailable
  }

  p.mu.Lock()
  start := p.rr % len(online)
  p.rr++
  p.mu.Unlock()

  for i := 0; i < len(online); i++ {
    peer := online[(start+i)%len(online)]
    if rt, ok := p.runtimeFor(peer.PeerID); ok {
      return peer.PeerID, rt, nil
    }
  }
  if primary, ok := p.peers.Primary(); ok {
    if rt, ok := p.runtimeFor(primary.PeerID); ok {
      return primary.PeerID, rt, nil
    }
  }
  return "", nil, ErrNoPeerAvailable
}

// SendWithFailover attempts the payment against the primary peer first,
// then the remaining online peers in success-rate order. The winning
// peer is promoted to primary. A failing peer is penalized and taken
// offline; it stays out of the rotation until something marks it back
// online.
func (p *Pool) SendWithFailover(ctx context.Context, invoice string, amountSat uint64) (string, Receipt, error) {
  order := p.peers.failoverOrder()
  if len(order) == 0 {
    return "", Receipt{}, ErrNoPeerAvailable
  }

  var lastErr error
  for _, peer := range order {
    rt, ok := p.runtimeFor(peer.PeerID)
    if !ok {
      continue
    }
    receipt, err := rt.SendPayment(ctx, invoice, amountSat)
    if err != nil {
      p.peers.RecordFailure(peer.PeerID)
      _ = p.peers.SetOnline(peer.PeerID, false)
      if p.logger != nil {
        p.logger.Printf("payment via peer=%s failed: %v", peer.PeerID, err)
      }
      lastErr = err
      if ctx.Err() != nil {
        return "", Receipt{}, ctx.Err()
      }
      continue
    }
    p.peers.RecordSuccess(peer.PeerID)
    if !peer.IsPrimary {
      if err := p.peers.SetPrimary(peer.PeerID); err == nil && p.logger != nil {
        p.logger.Printf("peer %s promoted to primary after failover", peer.PeerID)
      }
    }
    return peer.PeerID, receipt, nil
  }

  if lastErr == nil {
    return "", Receipt{}, ErrNoPeerAvailable
  }
  return "", Receipt{}, fmt.Errorf("all peers failed: %w", lastErr)
}

// WalletBalance reads the balance from the next pooled runtime.
func (p *Pool) WalletBalance(ctx context.Context) (Balance, error) {
  _, rt, err := p.Acquire()
  if err != nil {
    return Balance{}, err
  }
  return rt.WalletBalance(ctx)
}
