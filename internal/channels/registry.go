package channels

import (
  "crypto/rand"
  "encoding/hex"
  "errors"
  "fmt"
  "log"
  "sync"
  "time"
)

type State string

const (
  StatePending State = "pending"
  StateOpen    State = "open"
  StateClosing State = "closing"
  StateClosed  State = "closed"
  StateError   State = "error"
)

var (
  ErrNotFound        = errors.New("channel not found")
  ErrInvalidCapacity = errors.New("channel capacity out of range")
  ErrTooManyChannels = errors.New("max channels per peer reached")
)

type Channel struct {
  ChannelID string `json:"channel_id"`
  PeerID string `json:"peer_id"`
  CapacitySat uint64 `json:"capacity_sat"`
  LocalBalanceSat uint64 `json:"local_balance_sat"`
  RemoteBalanceSat uint64 `json:"remote_balance_sat"`
  State State `json:"state"`
  CreatedAt time.Time `json:"created_at"`
  UpdatedAt time.Time `json:"updated_at"`
}

type Limits struct {
  MinChannelSizeSat uint64
  MaxChannelSizeSat uint64
  MaxChannelsPerPeer int
}

func DefaultLimits() Limits {
  return Limits{
    MinChannelSizeSat: 100_000,
    MaxChannelSizeSat: 10_000_000,
    MaxChannelsPerPeer: 5,
  }
}

// Registry owns the node's channel records. Other services reference
// channels by id only; balances are mutated here and nowhere else.
type Registry struct {
  limits Limits
  logger *log.Logger

  mu sync.RWMutex
  channels map[string]*Channel
}

func NewRegistry(limits Limits, logger *log.Logger) *Registry {
  return &Registry{
    limits: limits,
    logger: logger,
    channels: map[string]*Channel{},
  }
}

func (r *Registry) Create(peerID string, capacitySat uint64) (string, error) {
  return r.create(newChannelID(), peerID, capacitySat)
}

// CreateWithID registers a channel under a caller-supplied id, used
// when mirroring channels that already exist on the backend.
func (r *Registry) CreateWithID(channelID, peerID string, capacitySat uint64) (string, error) {
  if channelID == "" {
    return "", fmt.Errorf("%w: empty channel id", ErrNotFound)
  }
  return r.create(channelID, peerID, capacitySat)
}

func (r *Registry) create(channelID, peerID string, capacitySat uint64) (string, error) {
  if capacitySat < r.limits.MinChannelSizeSat {
    return "", fmt.Errorf("%w: %d sats below minimum %d", ErrInvalidCapacity, capacitySat, r.limits.MinChannelSizeSat)
  }
  if capacitySat > r.limits.MaxChannelSizeSat {
    return "", fmt.Errorf("%w: %d sats above maximum %d", ErrInvalidCapacity, capacitySat, r.limits.MaxChannelSizeSat)
  }

  r.mu.Lock()
  defer r.mu.Unlock()

  peerCount := 0
  for _, ch := range r.channels {
    if ch.PeerID == peerID {
      peerCount++
    }
  }
  if r.limits.MaxChannelsPerPeer > 0 && peerCount >= r.limits.MaxChannelsPerPeer {
    return "", fmt.Errorf("%w: peer %s already has %d channels", ErrTooManyChannels, peerID, peerCount)
  }

  if _, exists := r.channels[channelID]; exists {
    return "", fmt.Errorf("channel id %s already registered", channelID)
  }

  now := time.Now().UTC()
  r.channels[channelID] = &Channel{
    ChannelID: channelID,
    PeerID: peerID,
    CapacitySat: capacitySat,
    LocalBalanceSat: 0,
    RemoteBalanceSat: capacitySat,
    State: StatePending,
    CreatedAt: now,
    UpdatedAt: now,
  }

  if r.logger != nil {
    r.logger.Printf("channel created id=%s peer=%s capacity_sat=%d", channelID, peerID, capacitySat)
  }
  return channelID, nil
}

func (r *Registry) Get(channelID string) (Channel, error) {
  r.mu.RLock()
  defer r.mu.RUnlock()
  ch, ok := r.channels[channelID]
  if !ok {
    return Channel{}, fmt.Errorf("%w: %s", ErrNotFound, channelID)
  }
  return *ch, nil
}

func (r *Registry) List() []Channel {
  r.mu.RLock()
  defer r.mu.RUnlock()
  out := make([]Channel, 0, len(r.channels))
  for _, ch := range r.channels {
    out = append(out, *ch)
  }
  return out
}

func (r *Registry) ListByPeer(peerID string) []Channel {
  r.mu.RLock()
  defer r.mu.RUnlock()
  out := []Channel{}
  for _, ch := range r.channels {
    if ch.PeerID == peerID {
      out = append(out, *ch)
    }
  }
  return out
}

// SetState overwrites the channel state without validating the transition;
// callers are expected to drive the lifecycle in order.
func (r *Registry) SetState(channelID string, state State) error {
  r.mu.Lock()
  defer r.mu.Unlock()
  ch, ok := r.channels[channelID]
  if !ok {
    return fmt.Errorf("%w: %s", ErrNotFound, channelID)
  }
  ch.State = state
  ch.UpdatedAt = time.Now().UTC()
  if r.logger != nil {
    r.logger.Printf("channel state id=%s state=%s", channelID, state)
  }
  return nil
}

// SetBalance overwrites both balances. Callers must keep
// local+remote == capacity for open channels.
func (r *Registry) SetBalance(channelID string, localSat, remoteSat uint64) error {
  r.mu.Lock()
  defer r.mu.Unlock()
  ch, ok := r.channels[channelID]
  if !ok {
    return fmt.Errorf("%w: %s", ErrNotFound, channelID)
  }
  ch.LocalBalanceSat = localSat
  ch.RemoteBalanceSat = remoteSat
  ch.UpdatedAt = time.Now().UTC()
  return nil
}

func (r *Registry) Close(channelID string) error {
  return r.SetState(channelID, StateClosing)
}

func (r *Registry) Remove(channelID string) error {
  r.mu.Lock()
  defer r.mu.Unlock()
  if _, ok := r.channels[channelID]; !ok {
    return fmt.Errorf("%w: %s", ErrNotFound, channelID)
  }
  delete(r.channels, channelID)
  return nil
}

// ApplyRebalance moves amountSat of local balance from one channel to
// another under a single lock acquisition. Either both channels are
// updated or neither is; per-channel balance sums are preserved.
func (r *Registry) ApplyRebalance(fromID, toID string, amountSat uint64) error {
  r.mu.Lock()
  defer r.mu.Unlock()

  from, ok := r.channels[fromID]
  if !ok {
    return fmt.Errorf("%w: %s", ErrNotFound, fromID)
  }
  to, ok := r.channels[toID]
  if !ok {
    return fmt.Errorf("%w: %s", ErrNotFound, toID)
  }

  now := time.Now().UTC()

  moved := amountSat
  if moved > from.LocalBalanceSat {
    moved = from.LocalBalanceSat
  }
  from.LocalBalanceSat -= moved
  from.RemoteBalanceSat += moved

  inbound := amountSat
  if inbound > to.RemoteBalanceSat {
    inbound = to.RemoteBalanceSat
  }
  to.LocalBalanceSat += inbound
  to.RemoteBalanceSat -= inbound

  from.UpdatedAt = now
  to.UpdatedAt = now

  if r.logger != nil {
    r.logger.Printf("rebalance applied from=%s to=%s amount_sat=%d", fromID, toID, amountSat)
  }
  return nil
}

func (r *Registry) TotalCapacity() uint64 {
  r.mu.RLock()
  defer r.mu.RUnlock()
  var total uint64
  for _, ch := range r.channels {
    if ch.State == StateOpen {
      total += ch.CapacitySat
    }
  }
  return total
}

func (r *Registry) TotalLocalBalance() uint64 {
  r.mu.RLock()
  defer r.mu.RUnlock()
  var total uint64
  for _, ch := range r.channels {
    if ch.State == StateOpen {
      total += ch.LocalBalanceSat
    }
  }
  return total
}

func (r *Registry) TotalRemoteBalance() uint64 {
  r.mu.RLock()
  defer r.mu.RUnlock()
  var total uint64
  for _, ch := range r.channels {
    if ch.State == StateOpen {
      total += ch.RemoteBalanceSat
    }
  }
  return total
}

type Stats struct {
  TotalChannels int `json:"total_channels"`
  OpenChannels int `json:"open_channels"`
  PendingChannels int `json:"pending_channels"`
  ClosingChannels int `json:"closing_channels"`
  ClosedChannels int `json:"closed_channels"`
  TotalCapacitySat uint64 `json:"total_capacity_sat"`
  TotalLocalBalanceSat uint64 `json:"total_local_balance_sat"`
  TotalRemoteBalanceSat uint64 `json:"total_remote_balance_sat"`
}

func (r *Registry) Stats() Stats {
  r.mu.RLock()
  defer r.mu.RUnlock()

  stats := Stats{TotalChannels: len(r.channels)}
  for _, ch := range r.channels {
    switch ch.State {
    case StateOpen:
      stats.OpenChannels++
      stats.TotalCapacitySat += ch.CapacitySat
      stats.TotalLocalBalanceSat += ch.LocalBalanceSat
      stats.TotalRemoteBalanceSat += ch.RemoteBalanceSat
    case StatePending:
      stats.PendingChannels++
    case StateClosing:
      stats.ClosingChannels++
    case StateClosed:
      stats.ClosedChannels++
    }
  }
  return stats
}

func newChannelID() string {
  buf := make([]byte, 8)
  if _, err := rand.Read(buf); err != nil {
    return fmt.Sprintf("ch_%d", time.Now().UnixNano())
  }
  return "ch_" + hex.EncodeToString(buf)
}
