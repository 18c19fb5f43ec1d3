package lndclient

import (
  "context"
  "crypto/x509"
  "encoding/hex"
  "errors"
  "fmt"
  "log"
  "os"
  "strconv"
  "strings"
  "time"

  "github.com/lightningnetwork/lnd/lnrpc"
  "google.golang.org/grpc"
  "google.golang.org/grpc/credentials"

  "github.com/MWANGAZA-LAB/SatsConnect/internal/channels"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/payments"
)

const maxGRPCMsgSize = 32 * 1024 * 1024

// Options locates one lnd backend. Each configured peer gets its own
// client so the payment pool can fail over between them.
type Options struct {
  GRPCHost string
  TLSCertPath string
  AdminMacaroonPath string
}

type Client struct {
  opts Options
  logger *log.Logger
}

func New(opts Options, logger *log.Logger) *Client {
  return &Client{opts: opts, logger: logger}
}

type macaroonCredential struct {
  macaroon string
}

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
  return map[string]string{"macaroon": m.macaroon}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool {
  return true
}

func (c *Client) dial(ctx context.Context) (*grpc.ClientConn, error) {
  tlsCert, err := os.ReadFile(c.opts.TLSCertPath)
  if err != nil {
    return nil, err
  }
  certPool := x509.NewCertPool()
  if ok := certPool.AppendCertsFromPEM(tlsCert); !ok {
    return nil, fmt.Errorf("failed to parse lnd TLS cert")
  }

  creds := credentials.NewClientTLSFromCert(certPool, "")
  opts := []grpc.DialOption{
    grpc.WithTransportCredentials(creds),
    grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxGRPCMsgSize)),
  }

  macBytes, err := os.ReadFile(c.opts.AdminMacaroonPath)
  if err != nil {
    return nil, err
  }
  opts = append(opts, grpc.WithPerRPCCredentials(macaroonCredential{hex.EncodeToString(macBytes)}))

  return grpc.DialContext(ctx, c.opts.GRPCHost, opts...)
}

// SendPayment settles a bolt11 invoice. amountSat is only used for
// zero-amount invoices.
func (c *Client) SendPayment(ctx context.Context, invoice string, amountSat uint64) (payments.Receipt, error) {
  conn, err := c.dial(ctx)
  if err != nil {
    return payments.Receipt{}, err
  }
  defer conn.Close()

  client := lnrpc.NewLightningClient(conn)
  req := &lnrpc.SendRequest{PaymentRequest: strings.TrimSpace(invoice)}
  if amountSat > 0 {
    if decoded, err := client.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: req.PaymentRequest}); err == nil && decoded.NumSatoshis == 0 {
      req.Amt = int64(amountSat)
    }
  }

  resp, err := client.SendPaymentSync(ctx, req)
  if err != nil {
    return payments.Receipt{}, err
  }
  if resp.PaymentError != "" {
    return payments.Receipt{}, errors.New(resp.PaymentError)
  }

  receipt := payments.Receipt{
    PaymentHash: hex.EncodeToString(resp.PaymentHash),
    PreimageHex: hex.EncodeToString(resp.PaymentPreimage),
  }
  if route := resp.PaymentRoute; route != nil {
    receipt.FeeSat = uint64(route.TotalFeesMsat / 1000)
  }
  return receipt, nil
}

// WalletBalance reports the backend's on-chain balance.
func (c *Client) WalletBalance(ctx context.Context) (payments.Balance, error) {
  conn, err := c.dial(ctx)
  if err != nil {
    return payments.Balance{}, err
  }
  defer conn.Close()

  client := lnrpc.NewLightningClient(conn)
  resp, err := client.WalletBalance(ctx, &lnrpc.WalletBalanceRequest{})
  if err != nil {
    return payments.Balance{}, err
  }
  return payments.Balance{
    TotalSat: uint64(resp.TotalBalance),
    ConfirmedSat: uint64(resp.ConfirmedBalance),
    UnconfirmedSat: uint64(resp.UnconfirmedBalance),
  }, nil
}

type CreatedInvoice struct {
  PaymentRequest string `json:"payment_request"`
  PaymentHash string `json:"payment_hash"`
}

func (c *Client) CreateInvoice(ctx context.Context, amountSat uint64, memo string, expirySeconds int64) (CreatedInvoice, error) {
  conn, err := c.dial(ctx)
  if err != nil {
    return CreatedInvoice{}, err
  }
  defer conn.Close()

  if expirySeconds <= 0 {
    expirySeconds = 3600
  }

  client := lnrpc.NewLightningClient(conn)
  resp, err := client.AddInvoice(ctx, &lnrpc.Invoice{
    Memo: memo,
    Value: int64(amountSat),
    Expiry: expirySeconds,
  })
  if err != nil {
    return CreatedInvoice{}, err
  }

  return CreatedInvoice{
    PaymentRequest: resp.PaymentRequest,
    PaymentHash: strings.ToLower(hex.EncodeToString(resp.RHash)),
  }, nil
}

type DecodedInvoice struct {
  AmountSat int64 `json:"amount_sat"`
  Memo string `json:"memo"`
  Destination string `json:"destination"`
  PaymentHash string `json:"payment_hash"`
  Expiry int64 `json:"expiry"`
  Timestamp int64 `json:"timestamp"`
}

func (c *Client) DecodeInvoice(ctx context.Context, payReq string) (DecodedInvoice, error) {
  conn, err := c.dial(ctx)
  if err != nil {
    return DecodedInvoice{}, err
  }
  defer conn.Close()

  client := lnrpc.NewLightningClient(conn)
  resp, err := client.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: payReq})
  if err != nil {
    return DecodedInvoice{}, err
  }

  return DecodedInvoice{
    AmountSat: resp.NumSatoshis,
    Memo: resp.Description,
    Destination: resp.Destination,
    PaymentHash: strings.ToLower(resp.PaymentHash),
    Expiry: resp.Expiry,
    Timestamp: resp.Timestamp,
  }, nil
}

// Move shifts liquidity between two of the node's channels with a
// circular self-payment: an invoice is created locally and paid out
// through the source channel. When the registry id doubles as a short
// channel id the payment is pinned to that channel.
func (c *Client) Move(ctx context.Context, from, to channels.Channel, amountSat uint64, memo string) error {
  invoice, err := c.CreateInvoice(ctx, amountSat, memo, 600)
  if err != nil {
    return fmt.Errorf("create rebalance invoice: %w", err)
  }

  conn, err := c.dial(ctx)
  if err != nil {
    return err
  }
  defer conn.Close()

  client := lnrpc.NewLightningClient(conn)
  req := &lnrpc.SendRequest{PaymentRequest: invoice.PaymentRequest}
  if chanID, err := strconv.ParseUint(from.ChannelID, 10, 64); err == nil {
    req.OutgoingChanId = chanID
  }

  resp, err := client.SendPaymentSync(ctx, req)
  if err != nil {
    return err
  }
  if resp.PaymentError != "" {
    return errors.New(resp.PaymentError)
  }
  if c.logger != nil {
    c.logger.Printf("circular payment settled hash=%s from=%s to=%s amount_sat=%d",
      invoice.PaymentHash, from.ChannelID, to.ChannelID, amountSat)
  }
  return nil
}

type NodeStatus struct {
  SyncedToChain bool `json:"synced_to_chain"`
  SyncedToGraph bool `json:"synced_to_graph"`
  BlockHeight int64 `json:"block_height"`
  Version string `json:"version"`
  Pubkey string `json:"pubkey"`
  NumActiveChannels int `json:"num_active_channels"`
  NumPeers int `json:"num_peers"`
}

func (c *Client) GetStatus(ctx context.Context) (NodeStatus, error) {
  conn, err := c.dial(ctx)
  if err != nil {
    return NodeStatus{}, err
  }
  defer conn.Close()

  client := lnrpc.NewLightningClient(conn)
  infoCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
  info, err := client.GetInfo(infoCtx, &lnrpc.GetInfoRequest{})
  cancel()
  if err != nil {
    return NodeStatus{}, err
  }

  return NodeStatus{
    SyncedToChain: info.SyncedToChain,
    SyncedToGraph: info.SyncedToGraph,
    BlockHeight: int64(info.BlockHeight),
    Version: info.Version,
    Pubkey: info.IdentityPubkey,
    NumActiveChannels: int(info.NumActiveChannels),
    NumPeers: int(info.NumPeers),
  }, nil
}

type BackendChannel struct {
  ChannelPoint string `json:"channel_point"`
  ChannelID uint64 `json:"channel_id"`
  RemotePubkey string `json:"remote_pubkey"`
  Active bool `json:"active"`
  CapacitySat int64 `json:"capacity_sat"`
  LocalBalanceSat int64 `json:"local_balance_sat"`
  RemoteBalanceSat int64 `json:"remote_balance_sat"`
}

// ListChannels reports the backend's view of its channels, used to
// reconcile the registry against the node.
func (c *Client) ListChannels(ctx context.Context) ([]BackendChannel, error) {
  conn, err := c.dial(ctx)
  if err != nil {
    return nil, err
  }
  defer conn.Close()

  client := lnrpc.NewLightningClient(conn)
  resp, err := client.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
  if err != nil {
    return nil, err
  }

  out := make([]BackendChannel, 0, len(resp.Channels))
  for _, ch := range resp.Channels {
    out = append(out, BackendChannel{
      ChannelPoint: ch.ChannelPoint,
      ChannelID: ch.ChanId,
      RemotePubkey: ch.RemotePubkey,
      Active: ch.Active,
      CapacitySat: ch.Capacity,
      LocalBalanceSat: ch.LocalBalance,
      RemoteBalanceSat: ch.RemoteBalance,
    })
  }
  return out, nil
}

type PaymentRecord struct {
  PaymentHash string `json:"payment_hash"`
  ValueSat int64 `json:"value_sat"`
  FeeSat int64 `json:"fee_sat"`
  Status string `json:"status"`
  CreatedAt time.Time `json:"created_at"`
}

// ListPayments returns the backend's recent outgoing payments, newest
// first.
func (c *Client) ListPayments(ctx context.Context, limit int) ([]PaymentRecord, error) {
  if limit <= 0 {
    limit = 20
  }

  conn, err := c.dial(ctx)
  if err != nil {
    return nil, err
  }
  defer conn.Close()

  client := lnrpc.NewLightningClient(conn)
  resp, err := client.ListPayments(ctx, &lnrpc.ListPaymentsRequest{
    IncludeIncomplete: true,
    MaxPayments: uint64(limit),
    Reversed: true,
  })
  if err != nil {
    return nil, err
  }

  out := make([]PaymentRecord, 0, len(resp.Payments))
  for _, pay := range resp.Payments {
    if pay == nil {
      continue
    }
    out = append(out, PaymentRecord{
      PaymentHash: strings.ToLower(pay.PaymentHash),
      ValueSat: pay.ValueSat,
      FeeSat: pay.FeeSat,
      Status: pay.Status.String(),
      CreatedAt: time.Unix(pay.CreationDate, 0).UTC(),
    })
  }
  return out, nil
}
