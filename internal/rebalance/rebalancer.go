package rebalance

import (
  "context"
  "crypto/rand"
  "encoding/hex"
  "errors"
  "fmt"
  "log"
  "sort"
  "sync"
  "time"

  "github.com/MWANGAZA-LAB/SatsConnect/internal/channels"
  "github.com/jackc/pgx/v5/pgxpool"
)

var (
  ErrNotFound         = errors.New("rebalance operation not found")
  ErrNotPending       = errors.New("rebalance operation is not pending")
  ErrAmountOutOfRange = errors.New("rebalance amount out of range")
)

type Status string

const (
  StatusPending    Status = "pending"
  StatusInProgress Status = "in_progress"
  StatusCompleted  Status = "completed"
  StatusFailed     Status = "failed"
  StatusCancelled  Status = "cancelled"
)

type Operation struct {
  OperationID string `json:"operation_id"`
  FromChannel string `json:"from_channel"`
  ToChannel string `json:"to_channel"`
  AmountSat uint64 `json:"amount_sat"`
  Status Status `json:"status"`
  CreatedAt time.Time `json:"created_at"`
  CompletedAt *time.Time `json:"completed_at,omitempty"`
  Reason string `json:"reason,omitempty"`
}

type Config struct {
  Threshold float64
  MinAmountSat uint64
  MaxAmountSat uint64
  ScanIntervalSec int
}

func DefaultConfig() Config {
  return Config{
    Threshold: 0.1,
    MinAmountSat: 10_000,
    MaxAmountSat: 1_000_000,
    ScanIntervalSec: 600,
  }
}

// Mover performs the actual liquidity move between two of the node's
// channels (a circular payment through the network). The rebalancer only
// mutates registry balances after the mover reports success.
type Mover interface {
  Move(ctx context.Context, from, to channels.Channel, amountSat uint64, memo string) error
}

type channelMeta struct {
  RebalanceCount uint32
  LastRebalance time.Time
}

// Rebalancer detects liquidity imbalance across the registry's channels
// and corrects it. It reads and writes registry channels by id; it keeps
// no balance copies of its own.
type Rebalancer struct {
  registry *channels.Registry
  cfg Config
  mover Mover
  db *pgxpool.Pool
  logger *log.Logger

  mu sync.Mutex
  started bool
  stop chan struct{}
  wake chan struct{}
  ops map[string]*Operation
  meta map[string]*channelMeta
}

func New(registry *channels.Registry, cfg Config, mover Mover, db *pgxpool.Pool, logger *log.Logger) *Rebalancer {
  return &Rebalancer{
    registry: registry,
    cfg: cfg,
    mover: mover,
    db: db,
    logger: logger,
    ops: map[string]*Operation{},
    meta: map[string]*channelMeta{},
  }
}

func (r *Rebalancer) Start() {
  r.mu.Lock()
  if r.started {
    r.mu.Unlock()
    return
  }
  r.started = true
  stop := make(chan struct{})
  wake := make(chan struct{}, 1)
  r.stop = stop
  r.wake = wake
  r.mu.Unlock()

  if r.db != nil {
    ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
    if err := EnsureSchema(ctx, r.db); err != nil && r.logger != nil {
      r.logger.Printf("rebalance history disabled: schema init failed: %v", err)
    }
    cancel()
  }

  go r.runAutoLoop(stop, wake)
}

func (r *Rebalancer) Stop() {
  r.mu.Lock()
  if !r.started {
    r.mu.Unlock()
    return
  }
  close(r.stop)
  r.stop = nil
  r.started = false
  r.mu.Unlock()
}

func (r *Rebalancer) TriggerScan() {
  r.mu.Lock()
  wake := r.wake
  r.mu.Unlock()
  if wake == nil {
    return
  }
  select {
  case wake <- struct{}{}:
  default:
  }
}

func (r *Rebalancer) runAutoLoop(stop, wake chan struct{}) {
  interval := time.Duration(r.cfg.ScanIntervalSec) * time.Second
  if interval <= 0 {
    interval = 10 * time.Minute
  }
  for {
    timer := time.NewTimer(interval)
    select {
    case <-timer.C:
      r.runAutoScan()
    case <-wake:
      if !timer.Stop() {
        <-timer.C
      }
      r.runAutoScan()
    case <-stop:
      if !timer.Stop() {
        <-timer.C
      }
      return
    }
  }
}

func (r *Rebalancer) runAutoScan() {
  ops := r.CheckRebalancingNeeded()
  for _, op := range ops {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    if err := r.ExecuteRebalance(ctx, op.OperationID); err != nil && r.logger != nil {
      r.logger.Printf("rebalance op=%s failed: %v", op.OperationID, err)
    }
    cancel()
  }
}

// CheckRebalancingNeeded scans open channels for liquidity imbalance and
// proposes pending operations, worst imbalance first. A failed operation
// is simply dropped; the next scan re-evaluates the channel.
func (r *Rebalancer) CheckRebalancingNeeded() []Operation {
  chans := r.activeChannels()

  type imbalanced struct {
    ch channels.Channel
    ratio float64
  }
  flagged := []imbalanced{}
  for _, ch := range chans {
    ratio := balanceRatio(ch)
    if ratio > r.cfg.Threshold {
      flagged = append(flagged, imbalanced{ch: ch, ratio: ratio})
    }
  }
  sort.SliceStable(flagged, func(i, j int) bool {
    return flagged[i].ratio > flagged[j].ratio
  })

  ops := []Operation{}
  for _, item := range flagged {
    amount := rebalanceAmount(item.ch)
    if amount < r.cfg.MinAmountSat || amount > r.cfg.MaxAmountSat {
      continue
    }
    target, ok := findTargetChannel(chans, item.ch.ChannelID, amount)
    if !ok {
      if r.logger != nil {
        r.logger.Printf("rebalance: no target channel for %s (amount_sat=%d)", item.ch.ChannelID, amount)
      }
      continue
    }
    op := Operation{
      OperationID: newOperationID(),
      FromChannel: item.ch.ChannelID,
      ToChannel: target.ChannelID,
      AmountSat: amount,
      Status: StatusPending,
      CreatedAt: time.Now().UTC(),
    }
    r.mu.Lock()
    stored := op
    r.ops[op.OperationID] = &stored
    r.mu.Unlock()
    ops = append(ops, op)
  }

  if r.logger != nil {
    r.logger.Printf("rebalance scan: %d channels flagged, %d operations proposed", len(flagged), len(ops))
  }
  return ops
}

// ExecuteRebalance drives one pending operation to completion. Registry
// balances are only touched after the mover succeeds, in a single atomic
// update; any failure leaves them untouched and marks the op failed.
func (r *Rebalancer) ExecuteRebalance(ctx context.Context, operationID string) error {
  r.mu.Lock()
  op, ok := r.ops[operationID]
  if !ok {
    r.mu.Unlock()
    return fmt.Errorf("%w: %s", ErrNotFound, operationID)
  }
  if op.Status != StatusPending {
    r.mu.Unlock()
    return fmt.Errorf("%w: %s is %s", ErrNotPending, operationID, op.Status)
  }
  op.Status = StatusInProgress
  snapshot := *op
  r.mu.Unlock()

  r.insertHistory(ctx, snapshot)

  from, err := r.registry.Get(snapshot.FromChannel)
  if err != nil {
    return r.failOp(operationID, fmt.Sprintf("source channel: %v", err))
  }
  to, err := r.registry.Get(snapshot.ToChannel)
  if err != nil {
    return r.failOp(operationID, fmt.Sprintf("target channel: %v", err))
  }

  if r.mover != nil {
    memo := fmt.Sprintf("rebalance:%s:%s:%s", snapshot.OperationID, snapshot.FromChannel, snapshot.ToChannel)
    if err := r.mover.Move(ctx, from, to, snapshot.AmountSat, memo); err != nil {
      return r.failOp(operationID, err.Error())
    }
  }

  if err := r.registry.ApplyRebalance(snapshot.FromChannel, snapshot.ToChannel, snapshot.AmountSat); err != nil {
    return r.failOp(operationID, err.Error())
  }

  now := time.Now().UTC()
  r.mu.Lock()
  if op, ok := r.ops[operationID]; ok {
    op.Status = StatusCompleted
    op.CompletedAt = &now
  }
  sourceMeta := r.metaLocked(snapshot.FromChannel)
  sourceMeta.RebalanceCount++
  sourceMeta.LastRebalance = now
  r.metaLocked(snapshot.ToChannel).LastRebalance = now
  r.mu.Unlock()

  r.finishHistory(ctx, operationID, StatusCompleted, "")
  if r.logger != nil {
    r.logger.Printf("rebalance op=%s completed from=%s to=%s amount_sat=%d", operationID, snapshot.FromChannel, snapshot.ToChannel, snapshot.AmountSat)
  }
  return nil
}

func (r *Rebalancer) failOp(operationID, reason string) error {
  now := time.Now().UTC()
  r.mu.Lock()
  if op, ok := r.ops[operationID]; ok {
    op.Status = StatusFailed
    op.CompletedAt = &now
    op.Reason = reason
  }
  r.mu.Unlock()

  ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
  r.finishHistory(ctx, operationID, StatusFailed, reason)
  cancel()

  if r.logger != nil {
    r.logger.Printf("rebalance op=%s failed: %s", operationID, reason)
  }
  return fmt.Errorf("rebalance %s failed: %s", operationID, reason)
}

// Request creates a pending operation for an explicit caller-chosen
// channel pair, subject to the same amount bounds as the scanner.
func (r *Rebalancer) Request(fromID, toID string, amountSat uint64) (Operation, error) {
  if amountSat < r.cfg.MinAmountSat || amountSat > r.cfg.MaxAmountSat {
    return Operation{}, fmt.Errorf("%w: %d sats (bounds %d..%d)", ErrAmountOutOfRange, amountSat, r.cfg.MinAmountSat, r.cfg.MaxAmountSat)
  }
  if _, err := r.registry.Get(fromID); err != nil {
    return Operation{}, err
  }
  if _, err := r.registry.Get(toID); err != nil {
    return Operation{}, err
  }

  op := Operation{
    OperationID: newOperationID(),
    FromChannel: fromID,
    ToChannel: toID,
    AmountSat: amountSat,
    Status: StatusPending,
    CreatedAt: time.Now().UTC(),
  }
  r.mu.Lock()
  stored := op
  r.ops[op.OperationID] = &stored
  r.mu.Unlock()
  return op, nil
}

func (r *Rebalancer) Cancel(operationID string) error {
  r.mu.Lock()
  defer r.mu.Unlock()
  op, ok := r.ops[operationID]
  if !ok {
    return fmt.Errorf("%w: %s", ErrNotFound, operationID)
  }
  if op.Status != StatusPending {
    return fmt.Errorf("%w: %s is %s", ErrNotPending, operationID, op.Status)
  }
  now := time.Now().UTC()
  op.Status = StatusCancelled
  op.CompletedAt = &now
  return nil
}

func (r *Rebalancer) GetOperation(operationID string) (Operation, error) {
  r.mu.Lock()
  defer r.mu.Unlock()
  op, ok := r.ops[operationID]
  if !ok {
    return Operation{}, fmt.Errorf("%w: %s", ErrNotFound, operationID)
  }
  return *op, nil
}

func (r *Rebalancer) Operations() []Operation {
  r.mu.Lock()
  defer r.mu.Unlock()
  out := make([]Operation, 0, len(r.ops))
  for _, op := range r.ops {
    out = append(out, *op)
  }
  sort.Slice(out, func(i, j int) bool {
    return out[i].CreatedAt.Before(out[j].CreatedAt)
  })
  return out
}

type Stats struct {
  TotalChannels int `json:"total_channels"`
  ActiveChannels int `json:"active_channels"`
  ImbalancedChannels int `json:"imbalanced_channels"`
  TotalRebalances uint32 `json:"total_rebalances"`
  AvgBalanceRatio float64 `json:"avg_balance_ratio"`
  Threshold float64 `json:"threshold"`
}

func (r *Rebalancer) GetStats() Stats {
  all := r.registry.List()

  stats := Stats{
    TotalChannels: len(all),
    Threshold: r.cfg.Threshold,
  }
  var ratioSum float64
  for _, ch := range all {
    if ch.State != channels.StateOpen {
      continue
    }
    stats.ActiveChannels++
    ratio := balanceRatio(ch)
    ratioSum += ratio
    if ratio > r.cfg.Threshold {
      stats.ImbalancedChannels++
    }
  }
  if stats.ActiveChannels > 0 {
    stats.AvgBalanceRatio = ratioSum / float64(stats.ActiveChannels)
  }

  r.mu.Lock()
  for _, meta := range r.meta {
    stats.TotalRebalances += meta.RebalanceCount
  }
  r.mu.Unlock()
  return stats
}

func (r *Rebalancer) metaLocked(channelID string) *channelMeta {
  meta, ok := r.meta[channelID]
  if !ok {
    meta = &channelMeta{}
    r.meta[channelID] = meta
  }
  return meta
}

func (r *Rebalancer) activeChannels() []channels.Channel {
  all := r.registry.List()
  active := []channels.Channel{}
  for _, ch := range all {
    if ch.State == channels.StateOpen {
      active = append(active, ch)
    }
  }
  // Stable order so target selection does not depend on map iteration.
  sort.Slice(active, func(i, j int) bool {
    if active[i].CreatedAt.Equal(active[j].CreatedAt) {
      return active[i].ChannelID < active[j].ChannelID
    }
    return active[i].CreatedAt.Before(active[j].CreatedAt)
  })
  return active
}

// balanceRatio is 0 for a perfectly balanced channel and 1 when all
// liquidity sits on one side.
func balanceRatio(ch channels.Channel) float64 {
  if ch.CapacitySat == 0 {
    return 0
  }
  ideal := ch.CapacitySat / 2
  if ideal == 0 {
    return 0
  }
  var diff uint64
  if ch.LocalBalanceSat > ideal {
    diff = ch.LocalBalanceSat - ideal
  } else {
    diff = ideal - ch.LocalBalanceSat
  }
  return float64(diff) / float64(ideal)
}

// rebalanceAmount moves 80% of the excess (or deficit) toward a 50/50
// split rather than the whole difference.
func rebalanceAmount(ch channels.Channel) uint64 {
  ideal := ch.CapacitySat / 2
  if ch.LocalBalanceSat > ideal {
    excess := ch.LocalBalanceSat - ideal
    return uint64(float64(excess) * 0.8)
  }
  deficit := ideal - ch.LocalBalanceSat
  return uint64(float64(deficit) * 0.8)
}

func findTargetChannel(chans []channels.Channel, sourceID string, amountSat uint64) (channels.Channel, bool) {
  for _, ch := range chans {
    if ch.ChannelID == sourceID {
      continue
    }
    ideal := ch.CapacitySat / 2
    if ch.LocalBalanceSat >= ideal {
      continue
    }
    if ideal-ch.LocalBalanceSat >= amountSat {
      return ch, true
    }
  }
  return channels.Channel{}, false
}

func newOperationID() string {
  buf := make([]byte, 8)
  if _, err := rand.Read(buf); err != nil {
    return fmt.Sprintf("rebalance_%d", time.Now().UnixNano())
  }
  return "rebalance_" + hex.EncodeToString(buf)
}
