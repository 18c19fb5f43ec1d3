package payments

import (
  "encoding/json"
  "errors"
  "fmt"
  "log"
  "os"
  "sort"
  "sync"
  "time"
)

var (
  ErrPeerNotFound    = errors.New("peer not found")
  ErrNoPeerAvailable = errors.New("no peer available")
)

// Peer is a lightning backend the node can settle payments through.
// SuccessRate is an exponential moving average of attempt outcomes.
type Peer struct {
  PeerID string `json:"peer_id"`
  Endpoint string `json:"endpoint"`
  IsPrimary bool `json:"is_primary"`
  IsOnline bool `json:"is_online"`
  SuccessRate float64 `json:"success_rate"`
  FailedAttempts uint32 `json:"failed_attempts"`
  LastUsed time.Time `json:"last_used"`
}

// PeerTable tracks backend peers and their health. It is safe for
// concurrent use.
type PeerTable struct {
  logger *log.Logger

  mu sync.RWMutex
  peers map[string]*Peer
}

func NewPeerTable(logger *log.Logger) *PeerTable {
  return &PeerTable{
    logger: logger,
    peers: map[string]*Peer{},
  }
}

// Add registers a peer, replacing any existing entry with the same id.
// New peers start online with a full success rate.
func (t *PeerTable) Add(peerID, endpoint string, primary bool) {
  t.mu.Lock()
  defer t.mu.Unlock()
  if primary {
    for _, p := range t.peers {
      p.IsPrimary = false
    }
  }
  t.peers[peerID] = &Peer{
    PeerID: peerID,
    Endpoint: endpoint,
    IsPrimary: primary,
    IsOnline: true,
    SuccessRate: 1.0,
  }
}

func (t *PeerTable) Remove(peerID string) error {
  t.mu.Lock()
  defer t.mu.Unlock()
  if _, ok := t.peers[peerID]; !ok {
    return fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
  }
  delete(t.peers, peerID)
  return nil
}

func (t *PeerTable) Get(peerID string) (Peer, error) {
  t.mu.RLock()
  defer t.mu.RUnlock()
  p, ok := t.peers[peerID]
  if !ok {
    return Peer{}, fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
  }
  return *p, nil
}

func (t *PeerTable) List() []Peer {
  t.mu.RLock()
  defer t.mu.RUnlock()
  out := make([]Peer, 0, len(t.peers))
  for _, p := range t.peers {
    out = append(out, *p)
  }
  sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
  return out
}

func (t *PeerTable) SetOnline(peerID string, online bool) error {
  t.mu.Lock()
  defer t.mu.Unlock()
  p, ok := t.peers[peerID]
  if !ok {
    return fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
  }
  p.IsOnline = online
  return nil
}

// SetPrimary promotes one peer and demotes all others.
func (t *PeerTable) SetPrimary(peerID string) error {
  t.mu.Lock()
  defer t.mu.Unlock()
  target, ok := t.peers[peerID]
  if !ok {
    return fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
  }
  for _, p := range t.peers {
    p.IsPrimary = false
  }
  target.IsPrimary = true
  return nil
}

// Primary returns the current primary peer, if any.
func (t *PeerTable) Primary() (Peer, bool) {
  t.mu.RLock()
  defer t.mu.RUnlock()
  for _, p := range t.peers {
    if p.IsPrimary {
      return *p, true
    }
  }
  return Peer{}, false
}

// Best returns the online peer with the highest success rate. Ties fall
// to the lexically smaller peer id so selection is stable.
func (t *PeerTable) Best() (Peer, error) {
  t.mu.RLock()
  defer t.mu.RUnlock()
  var best *Peer
  for _, p := range t.peers {
    if !p.IsOnline {
      continue
    }
    if best == nil || p.SuccessRate > best.SuccessRate ||
      (p.SuccessRate == best.SuccessRate && p.PeerID < best.PeerID) {
      best = p
    }
  }
  if best == nil {
    return Peer{}, ErrNoPeerAvailable
  }
  return *best, nil
}

// RecordSuccess decays the rate toward 1 and clears the failure streak.
func (t *PeerTable) RecordSuccess(peerID string) {
  t.mu.Lock()
  defer t.mu.Unlock()
  p, ok := t.peers[peerID]
  if !ok {
    return
  }
  p.SuccessRate = p.SuccessRate*0.9 + 0.1
  p.FailedAttempts = 0
  p.LastUsed = time.Now().UTC()
}

// RecordFailure decays the rate toward 0 and bumps the failure streak.
func (t *PeerTable) RecordFailure(peerID string) {
  t.mu.Lock()
  defer t.mu.Unlock()
  p, ok := t.peers[peerID]
  if !ok {
    return
  }
  p.SuccessRate = p.SuccessRate * 0.9
  p.FailedAttempts++
  p.LastUsed = time.Now().UTC()
}

// failoverOrder is the attempt order for a payment: primary first, then
// the remaining online peers by success rate, best first.
func (t *PeerTable) failoverOrder() []Peer {
  t.mu.RLock()
  defer t.mu.RUnlock()

  var primary *Peer
  rest := []Peer{}
  for _, p := range t.peers {
    if !p.IsOnline {
      continue
    }
    if p.IsPrimary {
      clone := *p
      primary = &clone
      continue
    }
    rest = append(rest, *p)
  }
  sort.Slice(rest, func(i, j int) bool {
    if rest[i].SuccessRate == rest[j].SuccessRate {
      return rest[i].PeerID < rest[j].PeerID
    }
    return rest[i].SuccessRate > rest[j].SuccessRate
  })

  if primary == nil {
    return rest
  }
  return append([]Peer{*primary}, rest...)
}

// SaveFile writes the table as JSON so peer health survives restarts.
func (t *PeerTable) SaveFile(path string) error {
  if path == "" {
    return nil
  }
  peers := t.List()
  data, err := json.MarshalIndent(peers, "", "  ")
  if err != nil {
    return fmt.Errorf("encode peers: %w", err)
  }
  if err := os.WriteFile(path, data, 0o600); err != nil {
    return fmt.Errorf("write peers file: %w", err)
  }
  return nil
}

// LoadFile restores a previously saved table. A missing file is not an
// error; the table just starts empty.
func (t *PeerTable) LoadFile(path string) error {
  if path == "" {
    return nil
  }
  data, err := os.ReadFile(path)
  if err != nil {
    if os.IsNotExist(err) {
      return nil
    }
    return fmt.Errorf("read peers file: %w", err)
  }
  var peers []Peer
  if err := json.Unmarshal(data, &peers); err != nil {
    return fmt.Errorf("decode peers file: %w", err)
  }
  t.mu.Lock()
  defer t.mu.Unlock()
  for i := range peers {
    p := peers[i]
    t.peers[p.PeerID] = &p
  }
  return nil
}
