package payments

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

  "github.com/jackc/pgx/v5/pgxpool"
)

var (
  ErrNotFound = errors.New("payment not found")
  ErrTerminal = errors.New("payment already in a terminal state")
  ErrInvalidInvoice = errors.New("invalid invoice")
)

type Status string

const (
  StatusPending    Status = "pending"
  StatusProcessing Status = "processing"
  StatusSucceeded  Status = "succeeded"
  StatusRetrying   Status = "retrying"
  StatusFailed     Status = "failed"
  StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
  return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

type Payment struct {
  PaymentID string `json:"payment_id"`
  WalletID string `json:"wallet_id,omitempty"`
  PaymentHash string `json:"payment_hash,omitempty"`
  Invoice string `json:"invoice"`
  AmountSat uint64 `json:"amount_sat"`
  FeeSat uint64 `json:"fee_sat"`
  PreimageHex string `json:"preimage_hex,omitempty"`
  Status Status `json:"status"`
  RetryCount uint32 `json:"retry_count"`
  MaxRetries uint32 `json:"max_retries"`
  PeerID string `json:"peer_id,omitempty"`
  Error string `json:"error,omitempty"`
  CreatedAt time.Time `json:"created_at"`
  UpdatedAt time.Time `json:"updated_at"`
  NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

type Config struct {
  MaxRetries uint32
  RetryDelaySec int
  AttemptTimeoutSec int
  RetryTickSec int
}

func DefaultConfig() Config {
  return Config{
    MaxRetries: 3,
    RetryDelaySec: 5,
    AttemptTimeoutSec: 30,
    RetryTickSec: 10,
  }
}

const (
  balanceCacheKey = "balance"
  statusCachePrefix = "payment_status_"
  balanceCacheTTL = 30 * time.Second
  statusCacheTTL = 60 * time.Second
)

// Engine accepts payments, drives them through the backend pool and
// retries transient failures with a linear backoff. Submitted payments
// are processed asynchronously; the retry drainer picks up anything the
// first attempt could not settle.
type Engine struct {
  cfg Config
  pool *Pool
  cache *Cache
  db *pgxpool.Pool
  logger *log.Logger
  now func() time.Time

  mu sync.RWMutex
  payments map[string]*Payment
  byHash map[string]string
  routeCheck RouteCheck
  lastErr string
  started bool
  stop chan struct{}
}

func NewEngine(cfg Config, pool *Pool, db *pgxpool.Pool, logger *log.Logger) *Engine {
  return &Engine{
    cfg: cfg,
    pool: pool,
    cache: NewCache(),
    db: db,
    logger: logger,
    now: time.Now,
    payments: map[string]*Payment{},
    byHash: map[string]string{},
  }
}

func (e *Engine) Pool() *Pool { return e.pool }

// RouteCheck verifies a path toward the payment destination exists
// before an attempt spends time on the backend. Optional; nil skips it.
type RouteCheck func(ctx context.Context, invoice string) error

func (e *Engine) SetRouteCheck(check RouteCheck) {
  e.mu.Lock()
  defer e.mu.Unlock()
  e.routeCheck = check
}

// Start launches the retry drainer. Safe to call once.
func (e *Engine) Start() {
  e.mu.Lock()
  if e.started {
    e.mu.Unlock()
    return
  }
  e.started = true
  e.stop = make(chan struct{})
  e.mu.Unlock()

  if e.db != nil {
    ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
    if err := ensurePaymentSchema(ctx, e.db); err != nil && e.logger != nil {
      e.logger.Printf("payment history disabled: schema init failed: %v", err)
    }
    cancel()
  }

  go e.runRetryLoop()
}

func (e *Engine) Stop() {
  e.mu.Lock()
  if !e.started {
    e.mu.Unlock()
    return
  }
  close(e.stop)
  e.stop = nil
  e.started = false
  e.mu.Unlock()
}

// Submit registers a payment and kicks off the first attempt in the
// background. The returned snapshot is in the pending state.
func (e *Engine) Submit(ctx context.Context, walletID, invoice string, amountSat uint64) (Payment, error) {
  p, err := e.enqueue(ctx, walletID, invoice, amountSat)
  if err != nil {
    return Payment{}, err
  }
  go func() {
    if err := e.Attempt(context.Background(), p.PaymentID); err != nil && e.logger != nil {
      e.logger.Printf("payment %s attempt failed: %v", p.PaymentID, err)
    }
  }()
  return p, nil
}

func (e *Engine) enqueue(ctx context.Context, walletID, invoice string, amountSat uint64) (Payment, error) {
  if invoice == "" {
    return Payment{}, ErrInvalidInvoice
  }

  now := e.now().UTC()
  p := Payment{
    PaymentID: newPaymentID(),
    WalletID: walletID,
    Invoice: invoice,
    AmountSat: amountSat,
    Status: StatusPending,
    MaxRetries: e.cfg.MaxRetries,
    CreatedAt: now,
    UpdatedAt: now,
  }

  e.mu.Lock()
  stored := p
  e.payments[p.PaymentID] = &stored
  e.mu.Unlock()

  e.insertHistory(ctx, p)
  if e.logger != nil {
    e.logger.Printf("payment %s submitted amount_sat=%d", p.PaymentID, amountSat)
  }
  return p, nil
}

// Attempt runs a single send attempt for a pending or retrying payment.
// On failure it schedules the next retry, or marks the payment failed
// once the retry budget is spent.
func (e *Engine) Attempt(ctx context.Context, paymentID string) error {
  e.mu.Lock()
  p, ok := e.payments[paymentID]
  if !ok {
    e.mu.Unlock()
    return fmt.Errorf("%w: %s", ErrNotFound, paymentID)
  }
  if p.Status != StatusPending && p.Status != StatusRetrying {
    status := p.Status
    e.mu.Unlock()
    if status.Terminal() {
      return fmt.Errorf("%w: %s is %s", ErrTerminal, paymentID, status)
    }
    return nil
  }
  p.Status = StatusProcessing
  p.NextRetryAt = nil
  p.UpdatedAt = e.now().UTC()
  snapshot := *p
  check := e.routeCheck
  e.mu.Unlock()

  timeout := time.Duration(e.cfg.AttemptTimeoutSec) * time.Second
  if timeout <= 0 {
    timeout = 30 * time.Second
  }
  actx, cancel := context.WithTimeout(ctx, timeout)
  defer cancel()

  // A missing route or an empty peer table is not a transient backend
  // error; retrying cannot fix it from here. The payment fails without
  // consuming retries and the caller may resubmit.
  if check != nil {
    if err := check(actx, snapshot.Invoice); err != nil {
      e.recordTerminalFailure(paymentID, err)
      return err
    }
  }

  peerID, receipt, err := e.pool.SendWithFailover(actx, snapshot.Invoice, snapshot.AmountSat)

  if err != nil {
    if errors.Is(err, ErrNoPeerAvailable) {
      e.recordTerminalFailure(paymentID, err)
    } else {
      e.recordFailure(paymentID, err)
    }
    return err
  }
  e.recordSuccess(paymentID, peerID, receipt)
  return nil
}

func (e *Engine) recordSuccess(paymentID, peerID string, receipt Receipt) {
  now := e.now().UTC()

  e.mu.Lock()
  p, ok := e.payments[paymentID]
  if !ok || p.Status != StatusProcessing {
    // Cancelled while in flight; keep the caller-visible state.
    e.mu.Unlock()
    return
  }
  p.Status = StatusSucceeded
  p.PeerID = peerID
  p.FeeSat = receipt.FeeSat
  p.PreimageHex = receipt.PreimageHex
  if receipt.PaymentHash != "" {
    p.PaymentHash = receipt.PaymentHash
    e.byHash[receipt.PaymentHash] = paymentID
  }
  p.UpdatedAt = now
  snapshot := *p
  e.mu.Unlock()

  if snapshot.PaymentHash != "" {
    e.cache.Set(statusCachePrefix+snapshot.PaymentHash, snapshot, statusCacheTTL)
  }
  ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
  e.updateHistory(ctx, snapshot)
  cancel()

  if e.logger != nil {
    e.logger.Printf("payment %s succeeded via peer=%s fee_sat=%d", paymentID, peerID, snapshot.FeeSat)
  }
}

func (e *Engine) recordFailure(paymentID string, cause error) {
  now := e.now().UTC()

  e.mu.Lock()
  p, ok := e.payments[paymentID]
  if !ok || p.Status != StatusProcessing {
    e.mu.Unlock()
    return
  }
  p.Error = cause.Error()
  p.UpdatedAt = now
  e.lastErr = p.Error
  if p.RetryCount < p.MaxRetries {
    p.RetryCount++
    p.Status = StatusRetrying
    delay := time.Duration(e.cfg.RetryDelaySec) * time.Second * time.Duration(p.RetryCount)
    next := now.Add(delay)
    p.NextRetryAt = &next
  } else {
    p.Status = StatusFailed
    p.NextRetryAt = nil
  }
  snapshot := *p
  e.mu.Unlock()

  ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
  e.updateHistory(ctx, snapshot)
  cancel()

  if e.logger != nil {
    if snapshot.Status == StatusRetrying {
      e.logger.Printf("payment %s retry %d/%d scheduled at %s: %v",
        paymentID, snapshot.RetryCount, snapshot.MaxRetries, snapshot.NextRetryAt.Format(time.RFC3339), cause)
    } else {
      e.logger.Printf("payment %s failed after %d retries: %v", paymentID, snapshot.RetryCount, cause)
    }
  }
}

// recordTerminalFailure fails a payment immediately, leaving its retry
// count untouched.
func (e *Engine) recordTerminalFailure(paymentID string, cause error) {
  now := e.now().UTC()

  e.mu.Lock()
  p, ok := e.payments[paymentID]
  if !ok || p.Status != StatusProcessing {
    e.mu.Unlock()
    return
  }
  p.Status = StatusFailed
  p.Error = cause.Error()
  p.NextRetryAt = nil
  p.UpdatedAt = now
  e.lastErr = p.Error
  snapshot := *p
  e.mu.Unlock()

  ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
  e.updateHistory(ctx, snapshot)
  cancel()

  if e.logger != nil {
    e.logger.Printf("payment %s failed without retry: %v", paymentID, cause)
  }
}

// Cancel stops a payment that has not yet reached a terminal state.
func (e *Engine) Cancel(paymentID string) error {
  e.mu.Lock()
  p, ok := e.payments[paymentID]
  if !ok {
    e.mu.Unlock()
    return fmt.Errorf("%w: %s", ErrNotFound, paymentID)
  }
  if p.Status.Terminal() {
    status := p.Status
    e.mu.Unlock()
    return fmt.Errorf("%w: %s is %s", ErrTerminal, paymentID, status)
  }
  p.Status = StatusCancelled
  p.NextRetryAt = nil
  p.UpdatedAt = e.now().UTC()
  snapshot := *p
  e.mu.Unlock()

  ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
  e.updateHistory(ctx, snapshot)
  cancel()
  return nil
}

func (e *Engine) Get(paymentID string) (Payment, error) {
  e.mu.RLock()
  defer e.mu.RUnlock()
  p, ok := e.payments[paymentID]
  if !ok {
    return Payment{}, fmt.Errorf("%w: %s", ErrNotFound, paymentID)
  }
  return *p, nil
}

// StatusByHash resolves a payment by its hash, serving repeated lookups
// from the status cache.
func (e *Engine) StatusByHash(paymentHash string) (Payment, error) {
  if cached, ok := e.cache.Get(statusCachePrefix + paymentHash); ok {
    if p, ok := cached.(Payment); ok {
      return p, nil
    }
  }

  e.mu.RLock()
  id, ok := e.byHash[paymentHash]
  var snapshot Payment
  if ok {
    snapshot = *e.payments[id]
  }
  e.mu.RUnlock()
  if !ok {
    return Payment{}, fmt.Errorf("%w: hash %s", ErrNotFound, paymentHash)
  }

  e.cache.Set(statusCachePrefix+paymentHash, snapshot, statusCacheTTL)
  return snapshot, nil
}

func (e *Engine) List() []Payment {
  e.mu.RLock()
  defer e.mu.RUnlock()
  out := make([]Payment, 0, len(e.payments))
  for _, p := range e.payments {
    out = append(out, *p)
  }
  sort.Slice(out, func(i, j int) bool {
    if out[i].CreatedAt.Equal(out[j].CreatedAt) {
      return out[i].PaymentID < out[j].PaymentID
    }
    return out[i].CreatedAt.Before(out[j].CreatedAt)
  })
  return out
}

// ListByWallet returns the payments submitted for one wallet, in
// creation order.
func (e *Engine) ListByWallet(walletID string) []Payment {
  e.mu.RLock()
  out := []Payment{}
  for _, p := range e.payments {
    if p.WalletID == walletID {
      out = append(out, *p)
    }
  }
  e.mu.RUnlock()
  sort.Slice(out, func(i, j int) bool {
    if out[i].CreatedAt.Equal(out[j].CreatedAt) {
      return out[i].PaymentID < out[j].PaymentID
    }
    return out[i].CreatedAt.Before(out[j].CreatedAt)
  })
  return out
}

// LastError reports the most recent payment failure message, if any.
func (e *Engine) LastError() string {
  e.mu.RLock()
  defer e.mu.RUnlock()
  return e.lastErr
}

// WalletBalance reads the pooled backend balance through a short cache
// so bursts of status requests do not hammer the backend.
func (e *Engine) WalletBalance(ctx context.Context) (Balance, error) {
  if cached, ok := e.cache.Get(balanceCacheKey); ok {
    if b, ok := cached.(Balance); ok {
      return b, nil
    }
  }
  balance, err := e.pool.WalletBalance(ctx)
  if err != nil {
    return Balance{}, err
  }
  e.cache.Set(balanceCacheKey, balance, balanceCacheTTL)
  return balance, nil
}

type Metrics struct {
  TotalPayments int `json:"total_payments"`
  Succeeded int `json:"succeeded"`
  Failed int `json:"failed"`
  Cancelled int `json:"cancelled"`
  InFlight int `json:"in_flight"`
  Retrying int `json:"retrying"`
  TotalRetries uint64 `json:"total_retries"`
  TotalFeesSat uint64 `json:"total_fees_sat"`
  SuccessRate float64 `json:"success_rate"`
  AvgFeeSat float64 `json:"avg_fee_sat"`
}

func (e *Engine) Metrics() Metrics {
  e.mu.RLock()
  defer e.mu.RUnlock()

  m := Metrics{TotalPayments: len(e.payments)}
  for _, p := range e.payments {
    switch p.Status {
    case StatusSucceeded:
      m.Succeeded++
      m.TotalFeesSat += p.FeeSat
    case StatusFailed:
      m.Failed++
    case StatusCancelled:
      m.Cancelled++
    case StatusRetrying:
      m.Retrying++
      m.InFlight++
    default:
      m.InFlight++
    }
    m.TotalRetries += uint64(p.RetryCount)
  }
  settled := m.Succeeded + m.Failed
  if settled > 0 {
    m.SuccessRate = float64(m.Succeeded) / float64(settled)
  }
  if m.Succeeded > 0 {
    m.AvgFeeSat = float64(m.TotalFeesSat) / float64(m.Succeeded)
  }
  return m
}

func newPaymentID() string {
  buf := make([]byte, 8)
  if _, err := rand.Read(buf); err != nil {
    return fmt.Sprintf("pay_%d", time.Now().UnixNano())
  }
  return "pay_" + hex.EncodeToString(buf)
}
