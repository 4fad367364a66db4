package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tenant-ledger/pkg/directory"
	"tenant-ledger/pkg/ledger"
	"tenant-ledger/pkg/store"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledgerd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.Store.Driver != store.DriverMemory {
		t.Errorf("Expected memory driver, got %s", cfg.Store.Driver)
	}
	if cfg.FX.Breaker.CircuitBreakerConfig.ReadyToTrip == nil {
		t.Error("Expected default ReadyToTrip policy")
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, `
server:
  address: ":9090"
store:
  driver: bolt
  bolt_path: /var/lib/ledger/ledger.db
fx:
  provider: static
  static:
    USD/EGP: "48.50"
  cache:
    current_ttl: 5m
    decay_factor: 0.5
ledger:
  fx_timeout: 2s
tenants:
  - id: acme
    default_currency: EGP
    require_approval: true
directory:
  - tenant: acme
    kind: category
    id: ops
    name: Operations
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("Expected address :9090, got %s", cfg.Server.Address)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Expected default read timeout to survive, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Store.Driver != store.DriverBolt || cfg.Store.BoltPath != "/var/lib/ledger/ledger.db" {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
	if cfg.FX.Static["USD/EGP"] != "48.50" {
		t.Errorf("Expected static rate, got %v", cfg.FX.Static)
	}
	if cfg.FX.Cache.CurrentTTL != 5*time.Minute {
		t.Errorf("Expected current TTL 5m, got %v", cfg.FX.Cache.CurrentTTL)
	}
	if cfg.FX.Cache.DecayFactor != 0.5 {
		t.Errorf("Expected decay factor 0.5, got %v", cfg.FX.Cache.DecayFactor)
	}
	if cfg.FX.Cache.HistoricalTTL != 7*24*time.Hour {
		t.Errorf("Expected default historical TTL, got %v", cfg.FX.Cache.HistoricalTTL)
	}
	if cfg.Ledger.FXTimeout != 2*time.Second {
		t.Errorf("Expected fx timeout 2s, got %v", cfg.Ledger.FXTimeout)
	}
	if cfg.Ledger.MaxConflictRetries != 3 {
		t.Errorf("Expected default retries 3, got %d", cfg.Ledger.MaxConflictRetries)
	}

	want := ledger.Tenant{ID: "acme", DefaultCurrency: "EGP", RequireApproval: true}
	if len(cfg.Tenants) != 1 || cfg.Tenants[0] != want {
		t.Errorf("Unexpected tenants: %+v", cfg.Tenants)
	}
	if len(cfg.Directory) != 1 || cfg.Directory[0].Kind != directory.KindCategory {
		t.Errorf("Unexpected directory seeds: %+v", cfg.Directory)
	}
	if cfg.FX.Breaker.CircuitBreakerConfig.ReadyToTrip == nil {
		t.Error("Expected ReadyToTrip to survive YAML decoding")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_ADDR", ":7000")
	t.Setenv("LEDGER_STORE_DRIVER", "postgres")
	t.Setenv("LEDGER_PG_PORT", "6543")
	t.Setenv("LEDGER_FX_TIMEOUT", "750ms")
	t.Setenv("LEDGER_REDIS_ENABLED", "true")
	t.Setenv("LEDGER_TENANTS", "acme:egp:approval, globex:USD")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != ":7000" {
		t.Errorf("Expected :7000, got %s", cfg.Server.Address)
	}
	if cfg.Store.Driver != store.DriverPostgres || cfg.Store.Postgres.Port != 6543 {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
	if cfg.Ledger.FXTimeout != 750*time.Millisecond {
		t.Errorf("Expected 750ms, got %v", cfg.Ledger.FXTimeout)
	}
	if !cfg.FX.RedisEnabled {
		t.Error("Expected redis enabled")
	}
	if len(cfg.Tenants) != 2 {
		t.Fatalf("Expected 2 tenants, got %+v", cfg.Tenants)
	}
	if cfg.Tenants[0].DefaultCurrency != "EGP" || !cfg.Tenants[0].RequireApproval {
		t.Errorf("Unexpected first tenant: %+v", cfg.Tenants[0])
	}
	if cfg.Tenants[1].ID != "globex" || cfg.Tenants[1].RequireApproval {
		t.Errorf("Unexpected second tenant: %+v", cfg.Tenants[1])
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad port", "LEDGER_PG_PORT", "five"},
		{"bad duration", "LEDGER_FX_TIMEOUT", "soon"},
		{"bad bool", "LEDGER_REDIS_ENABLED", "maybe"},
		{"bad tenants", "LEDGER_TENANTS", "acme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(""); err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Expected error naming %s, got %v", tt.key, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeFile(t, "server: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty address", func(c *Config) { c.Server.Address = "" }, "server.address"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"bolt without path", func(c *Config) {
			c.Store.Driver = store.DriverBolt
			c.Store.BoltPath = ""
		}, "bolt_path"},
		{"postgres without host", func(c *Config) {
			c.Store.Driver = store.DriverPostgres
			c.Store.Postgres.Host = ""
		}, "postgres"},
		{"unknown provider", func(c *Config) { c.FX.Provider = "oracle" }, "fx.provider"},
		{"http without url", func(c *Config) { c.FX.HTTP.BaseURL = "" }, "base_url"},
		{"negative retries", func(c *Config) { c.Ledger.MaxConflictRetries = -1 }, "retries"},
		{"zero cache ttl", func(c *Config) { c.FX.Cache.CurrentTTL = 0 }, "TTL"},
		{"duplicate tenant", func(c *Config) {
			c.Tenants = []ledger.Tenant{{ID: "acme", DefaultCurrency: "EGP"}, {ID: "acme", DefaultCurrency: "USD"}}
		}, "duplicate"},
		{"tenant without currency", func(c *Config) {
			c.Tenants = []ledger.Tenant{{ID: "acme"}}
		}, "default_currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseTenants(t *testing.T) {
	tenants, err := ParseTenants("acme:EGP, ,beta:usd:approval")
	if err != nil {
		t.Fatalf("ParseTenants failed: %v", err)
	}
	if len(tenants) != 2 {
		t.Fatalf("Expected 2 tenants, got %d", len(tenants))
	}
	if tenants[1].DefaultCurrency != "USD" || !tenants[1].RequireApproval {
		t.Errorf("Unexpected tenant: %+v", tenants[1])
	}

	if _, err := ParseTenants("acme:EGP:sometimes"); err == nil {
		t.Error("Expected error for unknown flag")
	}
}
