package server

import (
  "fmt"
  "log"
  "net/http"
  "time"

  "github.com/jackc/pgx/v5/pgxpool"

  "github.com/MWANGAZA-LAB/SatsConnect/internal/channels"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/config"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/graph"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/lndclient"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/payments"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/rebalance"
)

type Server struct {
  cfg *config.Config
  logger *log.Logger
  registry *channels.Registry
  graph *graph.Graph
  rebalancer *rebalance.Rebalancer
  engine *payments.Engine
  lnd *lndclient.Client
  db *pgxpool.Pool
}

func New(cfg *config.Config, logger *log.Logger, registry *channels.Registry, g *graph.Graph,
  rebalancer *rebalance.Rebalancer, engine *payments.Engine, lnd *lndclient.Client, db *pgxpool.Pool) *Server {
  return &Server{
    cfg: cfg,
    logger: logger,
    registry: registry,
    graph: g,
    rebalancer: rebalancer,
    engine: engine,
    lnd: lnd,
    db: db,
  }
}

func (s *Server) Run() error {
  addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

  httpServer := &http.Server{
    Addr: addr,
    Handler: s.routes(),
    ReadHeaderTimeout: 10 * time.Second,
  }

  if s.cfg.Server.TLSCert != "" {
    s.logger.Printf("listening on https://%s", addr)
    return httpServer.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
  }
  s.logger.Printf("listening on http://%s", addr)
  return httpServer.ListenAndServe()
}
