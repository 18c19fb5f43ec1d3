package main

import (
  "context"
  "encoding/json"
  "flag"
  "log"
  "os"
  "strconv"
  "time"

  "github.com/jackc/pgx/v5/pgxpool"

  "github.com/MWANGAZA-LAB/SatsConnect/internal/channels"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/config"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/graph"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/lndclient"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/payments"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/rebalance"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/server"
)

const localPeerID = "local"

func main() {
  if len(os.Args) > 1 && os.Args[1] == "rebalance-scan" {
    runRebalanceScan(os.Args[2:])
    return
  }

  runServer(os.Args[1:])
}

func runServer(args []string) {
  fs := flag.NewFlagSet("satsconnectd", flag.ExitOnError)
  configPath := fs.String("config", "/etc/satsconnect/config.yaml", "Path to config.yaml")
  _ = fs.Parse(args)

  cfg, err := config.Load(*configPath)
  if err != nil {
    log.Fatalf("config load failed: %v", err)
  }

  logger := log.New(os.Stdout, "", log.LstdFlags)

  var db *pgxpool.Pool
  if cfg.Postgres.DSN != "" {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    db, err = pgxpool.New(ctx, cfg.Postgres.DSN)
    cancel()
    if err != nil {
      logger.Fatalf("postgres connect failed: %v", err)
    }
    defer db.Close()
  }

  registry := channels.NewRegistry(channels.Limits{
    MinChannelSizeSat: cfg.Channels.MinCapacitySat,
    MaxChannelSizeSat: cfg.Channels.MaxCapacitySat,
    MaxChannelsPerPeer: cfg.Channels.MaxPerPeer,
  }, logger)
  g := graph.New()

  lnd := lndclient.New(lndclient.Options{
    GRPCHost: cfg.LND.GRPCHost,
    TLSCertPath: cfg.LND.TLSCertPath,
    AdminMacaroonPath: cfg.LND.AdminMacaroonPath,
  }, logger)

  peers := payments.NewPeerTable(logger)
  if cfg.Payments.PeersFile != "" {
    if err := peers.LoadFile(cfg.Payments.PeersFile); err != nil {
      logger.Printf("peer table restore failed: %v", err)
    }
  }
  pool := payments.NewPool(peers, logger)

  hasPrimary := false
  for _, peer := range cfg.Peers {
    if peer.Primary {
      hasPrimary = true
    }
  }
  peers.Add(localPeerID, cfg.LND.GRPCHost, !hasPrimary)
  pool.Register(localPeerID, lnd)
  for _, peer := range cfg.Peers {
    peers.Add(peer.ID, peer.GRPCHost, peer.Primary)
    pool.Register(peer.ID, lndclient.New(lndclient.Options{
      GRPCHost: peer.GRPCHost,
      TLSCertPath: peer.TLSCertPath,
      AdminMacaroonPath: peer.AdminMacaroonPath,
    }, logger))
  }

  engine := payments.NewEngine(payments.Config{
    MaxRetries: cfg.Payments.MaxRetries,
    RetryDelaySec: cfg.Payments.RetryDelaySec,
    AttemptTimeoutSec: cfg.Payments.AttemptTimeoutSec,
    RetryTickSec: cfg.Payments.RetryTickSec,
  }, pool, db, logger)
  engine.SetRouteCheck(routeCheck(lnd, g))
  engine.Start()
  defer engine.Stop()

  rebalancer := rebalance.New(registry, rebalance.Config{
    Threshold: cfg.Rebalance.Threshold,
    MinAmountSat: cfg.Rebalance.MinAmountSat,
    MaxAmountSat: cfg.Rebalance.MaxAmountSat,
    ScanIntervalSec: cfg.Rebalance.ScanIntervalSec,
  }, lnd, db, logger)
  if cfg.Rebalance.Auto {
    rebalancer.Start()
    defer rebalancer.Stop()
  }

  if cfg.Payments.PeersFile != "" {
    defer func() {
      if err := peers.SaveFile(cfg.Payments.PeersFile); err != nil {
        logger.Printf("peer table save failed: %v", err)
      }
    }()
  }

  srv := server.New(cfg, logger, registry, g, rebalancer, engine, lnd, db)
  if err := srv.Run(); err != nil {
    logger.Fatalf("server exited: %v", err)
  }
}

// routeCheck consults the local topology graph before a payment attempt.
// It only rejects when the graph positively knows the destination and no
// enabled path reaches it; an empty graph or an undecodable invoice never
// blocks a payment.
func routeCheck(lnd *lndclient.Client, g *graph.Graph) payments.RouteCheck {
  return func(ctx context.Context, invoice string) error {
    if g.Stats().TotalNodes == 0 {
      return nil
    }
    status, err := lnd.GetStatus(ctx)
    if err != nil || status.Pubkey == "" {
      return nil
    }
    decoded, err := lnd.DecodeInvoice(ctx, invoice)
    if err != nil {
      return nil
    }
    if _, known := g.GetNode(decoded.Destination); !known {
      return nil
    }
    if _, err := g.Route(status.Pubkey, decoded.Destination); err != nil {
      return err
    }
    return nil
  }
}

// runRebalanceScan seeds a registry from the backend's channel list,
// runs one imbalance scan and prints the proposed operations without
// executing any of them.
func runRebalanceScan(args []string) {
  fs := flag.NewFlagSet("rebalance-scan", flag.ExitOnError)
  configPath := fs.String("config", "/etc/satsconnect/config.yaml", "Path to config.yaml")
  _ = fs.Parse(args)

  cfg, err := config.Load(*configPath)
  if err != nil {
    log.Fatalf("config load failed: %v", err)
  }

  logger := log.New(os.Stderr, "", log.LstdFlags)
  lnd := lndclient.New(lndclient.Options{
    GRPCHost: cfg.LND.GRPCHost,
    TLSCertPath: cfg.LND.TLSCertPath,
    AdminMacaroonPath: cfg.LND.AdminMacaroonPath,
  }, logger)

  ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
  defer cancel()

  backendChannels, err := lnd.ListChannels(ctx)
  if err != nil {
    logger.Fatalf("rebalance-scan failed: %v", err)
  }

  registry := channels.NewRegistry(channels.Limits{
    MinChannelSizeSat: 1,
    MaxChannelSizeSat: 1 << 62,
    MaxChannelsPerPeer: 1 << 30,
  }, logger)
  for _, ch := range backendChannels {
    if !ch.Active {
      continue
    }
    // Keep the backend's short channel id so proposals are actionable.
    id := strconv.FormatUint(ch.ChannelID, 10)
    seedChannel(registry, id, ch, logger)
  }

  rebalancer := rebalance.New(registry, rebalance.Config{
    Threshold: cfg.Rebalance.Threshold,
    MinAmountSat: cfg.Rebalance.MinAmountSat,
    MaxAmountSat: cfg.Rebalance.MaxAmountSat,
    ScanIntervalSec: cfg.Rebalance.ScanIntervalSec,
  }, nil, nil, logger)

  ops := rebalancer.CheckRebalancingNeeded()
  out, err := json.MarshalIndent(ops, "", "  ")
  if err != nil {
    logger.Fatalf("rebalance-scan failed: %v", err)
  }
  os.Stdout.Write(append(out, '\n'))
}

func seedChannel(registry *channels.Registry, id string, ch lndclient.BackendChannel, logger *log.Logger) {
  created, err := registry.CreateWithID(id, ch.RemotePubkey, uint64(ch.CapacitySat))
  if err != nil {
    logger.Printf("skipping channel %s: %v", id, err)
    return
  }
  _ = registry.SetState(created, channels.StateOpen)
  _ = registry.SetBalance(created, uint64(ch.LocalBalanceSat), uint64(ch.RemoteBalanceSat))
}
