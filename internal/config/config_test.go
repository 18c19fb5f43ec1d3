package config

import (
  "os"
  "path/filepath"
  "strings"
  "testing"
)

func writeConfig(t *testing.T, body string) string {
  t.Helper()
  path := filepath.Join(t.TempDir(), "config.yaml")
  if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
    t.Fatalf("write config: %v", err)
  }
  return path
}

func TestLoadDefaults(t *testing.T) {
  path := writeConfig(t, "lnd:\n  grpc_host: 10.0.0.2:10009\n")

  cfg, err := Load(path)
  if err != nil {
    t.Fatalf("Load failed: %v", err)
  }
  if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8443 {
    t.Fatalf("server defaults not applied: %+v", cfg.Server)
  }
  if cfg.LND.GRPCHost != "10.0.0.2:10009" {
    t.Fatalf("explicit value overridden: %s", cfg.LND.GRPCHost)
  }
  if cfg.Channels.MinCapacitySat != 100_000 || cfg.Channels.MaxCapacitySat != 10_000_000 || cfg.Channels.MaxPerPeer != 5 {
    t.Fatalf("channel defaults not applied: %+v", cfg.Channels)
  }
  if cfg.Rebalance.Threshold != 0.1 || cfg.Rebalance.MinAmountSat != 10_000 || cfg.Rebalance.MaxAmountSat != 1_000_000 {
    t.Fatalf("rebalance defaults not applied: %+v", cfg.Rebalance)
  }
  if cfg.Payments.MaxRetries != 3 || cfg.Payments.RetryDelaySec != 5 || cfg.Payments.AttemptTimeoutSec != 30 {
    t.Fatalf("payment defaults not applied: %+v", cfg.Payments)
  }
}

func TestLoadValidation(t *testing.T) {
  cases := []struct {
    name string
    body string
    want string
  }{
    {
      name: "threshold out of range",
      body: "rebalance:\n  threshold: 1.5\n",
      want: "threshold",
    },
    {
      name: "inverted capacity bounds",
      body: "channels:\n  min_capacity_sat: 500000\n  max_capacity_sat: 400000\n",
      want: "min_capacity_sat",
    },
    {
      name: "tls key without cert",
      body: "server:\n  tls_key: /etc/key.pem\n",
      want: "tls_cert",
    },
    {
      name: "peer without id",
      body: "peers:\n  - grpc_host: other:10009\n",
      want: "id required",
    },
    {
      name: "duplicate peer id",
      body: "peers:\n  - id: a\n    grpc_host: a:10009\n  - id: a\n    grpc_host: b:10009\n",
      want: "duplicate",
    },
  }

  for _, tc := range cases {
    t.Run(tc.name, func(t *testing.T) {
      _, err := Load(writeConfig(t, tc.body))
      if err == nil {
        t.Fatalf("expected error")
      }
      if !strings.Contains(err.Error(), tc.want) {
        t.Fatalf("err = %v, want mention of %q", err, tc.want)
      }
    })
  }
}

func TestLoadMissingFile(t *testing.T) {
  if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
    t.Fatalf("expected error for missing file")
  }
}
