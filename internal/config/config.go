package config

import (
  "fmt"
  "os"

  "gopkg.in/yaml.v3"
)

type Config struct {
  Server ServerConfig `yaml:"server"`
  LND LNDConfig `yaml:"lnd"`
  Peers []PeerConfig `yaml:"peers"`
  Postgres PostgresConfig `yaml:"postgres"`
  Channels ChannelsConfig `yaml:"channels"`
  Rebalance RebalanceConfig `yaml:"rebalance"`
  Payments PaymentsConfig `yaml:"payments"`
}

type ServerConfig struct {
  Host string `yaml:"host"`
  Port int `yaml:"port"`
  TLSCert string `yaml:"tls_cert"`
  TLSKey string `yaml:"tls_key"`
}

type LNDConfig struct {
  GRPCHost string `yaml:"grpc_host"`
  TLSCertPath string `yaml:"tls_cert_path"`
  AdminMacaroonPath string `yaml:"admin_macaroon_path"`
}

// PeerConfig is an additional lightning backend the payment engine can
// fail over to. The primary flag marks the preferred one; when no peer
// is marked, the lnd section acts as the primary.
type PeerConfig struct {
  ID string `yaml:"id"`
  GRPCHost string `yaml:"grpc_host"`
  TLSCertPath string `yaml:"tls_cert_path"`
  AdminMacaroonPath string `yaml:"admin_macaroon_path"`
  Primary bool `yaml:"primary"`
}

type PostgresConfig struct {
  DSN string `yaml:"dsn"`
}

type ChannelsConfig struct {
  MinCapacitySat uint64 `yaml:"min_capacity_sat"`
  MaxCapacitySat uint64 `yaml:"max_capacity_sat"`
  MaxPerPeer int `yaml:"max_per_peer"`
}

type RebalanceConfig struct {
  Threshold float64 `yaml:"threshold"`
  MinAmountSat uint64 `yaml:"min_amount_sat"`
  MaxAmountSat uint64 `yaml:"max_amount_sat"`
  ScanIntervalSec int `yaml:"scan_interval_sec"`
  Auto bool `yaml:"auto"`
}

type PaymentsConfig struct {
  MaxRetries uint32 `yaml:"max_retries"`
  RetryDelaySec int `yaml:"retry_delay_sec"`
  AttemptTimeoutSec int `yaml:"attempt_timeout_sec"`
  RetryTickSec int `yaml:"retry_tick_sec"`
  PeersFile string `yaml:"peers_file"`
}

func Load(path string) (*Config, error) {
  b, err := os.ReadFile(path)
  if err != nil {
    return nil, err
  }

  var cfg Config
  if err := yaml.Unmarshal(b, &cfg); err != nil {
    return nil, err
  }
  applyDefaults(&cfg)

  if err := validate(&cfg); err != nil {
    return nil, err
  }
  return &cfg, nil
}

func applyDefaults(cfg *Config) {
  if cfg.Server.Host == "" {
    cfg.Server.Host = "127.0.0.1"
  }
  if cfg.Server.Port == 0 {
    cfg.Server.Port = 8443
  }
  if cfg.LND.GRPCHost == "" {
    cfg.LND.GRPCHost = "127.0.0.1:10009"
  }
  if cfg.Channels.MinCapacitySat == 0 {
    cfg.Channels.MinCapacitySat = 100_000
  }
  if cfg.Channels.MaxCapacitySat == 0 {
    cfg.Channels.MaxCapacitySat = 10_000_000
  }
  if cfg.Channels.MaxPerPeer == 0 {
    cfg.Channels.MaxPerPeer = 5
  }
  if cfg.Rebalance.Threshold == 0 {
    cfg.Rebalance.Threshold = 0.1
  }
  if cfg.Rebalance.MinAmountSat == 0 {
    cfg.Rebalance.MinAmountSat = 10_000
  }
  if cfg.Rebalance.MaxAmountSat == 0 {
    cfg.Rebalance.MaxAmountSat = 1_000_000
  }
  if cfg.Rebalance.ScanIntervalSec == 0 {
    cfg.Rebalance.ScanIntervalSec = 600
  }
  if cfg.Payments.MaxRetries == 0 {
    cfg.Payments.MaxRetries = 3
  }
  if cfg.Payments.RetryDelaySec == 0 {
    cfg.Payments.RetryDelaySec = 5
  }
  if cfg.Payments.AttemptTimeoutSec == 0 {
    cfg.Payments.AttemptTimeoutSec = 30
  }
  if cfg.Payments.RetryTickSec == 0 {
    cfg.Payments.RetryTickSec = 10
  }
}

func validate(cfg *Config) error {
  if cfg.Channels.MinCapacitySat >= cfg.Channels.MaxCapacitySat {
    return fmt.Errorf("channels: min_capacity_sat must be below max_capacity_sat")
  }
  if cfg.Rebalance.Threshold <= 0 || cfg.Rebalance.Threshold >= 1 {
    return fmt.Errorf("rebalance: threshold must be in (0, 1)")
  }
  if cfg.Rebalance.MinAmountSat >= cfg.Rebalance.MaxAmountSat {
    return fmt.Errorf("rebalance: min_amount_sat must be below max_amount_sat")
  }
  if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
    return fmt.Errorf("server: tls_cert and tls_key must be set together")
  }
  seen := map[string]bool{}
  for _, peer := range cfg.Peers {
    if peer.ID == "" {
      return fmt.Errorf("peers: id required")
    }
    if peer.GRPCHost == "" {
      return fmt.Errorf("peers: grpc_host required for %s", peer.ID)
    }
    if seen[peer.ID] {
      return fmt.Errorf("peers: duplicate id %s", peer.ID)
    }
    seen[peer.ID] = true
  }
  return nil
}
