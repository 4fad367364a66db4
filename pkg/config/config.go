// Package config loads ledgerd settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then a
// .env file, then LEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tenant-ledger/pkg/cache/memory"
	"tenant-ledger/pkg/cache/redis"
	"tenant-ledger/pkg/chain"
	"tenant-ledger/pkg/directory"
	"tenant-ledger/pkg/events"
	"tenant-ledger/pkg/fx"
	"tenant-ledger/pkg/ledger"
	"tenant-ledger/pkg/logging"
	"tenant-ledger/pkg/resilience"
	"tenant-ledger/pkg/store"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FX providers.
const (
	ProviderStatic = "static"
	ProviderHTTP   = "http"
)

// Config represents the ledgerd configuration.
type Config struct {
	Log       logging.Config              `yaml:"log"`
	Server    ServerConfig                `yaml:"server"`
	Store     store.Config                `yaml:"store"`
	FX        FXConfig                    `yaml:"fx"`
	Ledger    ledger.Config               `yaml:"ledger"`
	Events    events.AsyncPublisherConfig `yaml:"events"`
	Tenants   []ledger.Tenant             `yaml:"tenants"`
	Directory []directory.Entry           `yaml:"directory"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// FXConfig configures rate resolution and caching.
type FXConfig struct {
	// Provider is static or http.
	Provider string                     `yaml:"provider"`
	HTTP     fx.HTTPResolverConfig      `yaml:"http"`
	Static   map[string]string          `yaml:"static"`
	Breaker  resilience.ResilientConfig `yaml:"breaker"`
	Cache    chain.Config               `yaml:"cache"`
	Memory   memory.MemoryCacheConfig   `yaml:"memory"`

	// RedisEnabled adds the L2 rate cache.
	RedisEnabled bool                   `yaml:"redis_enabled"`
	Redis        redis.RedisCacheConfig `yaml:"redis"`
}

// Default returns the configuration ledgerd runs with when nothing is set.
func Default() *Config {
	return &Config{
		Log: logging.DefaultConfig(),
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: store.DefaultConfig(),
		FX: FXConfig{
			Provider: ProviderHTTP,
			HTTP:     fx.DefaultHTTPResolverConfig(),
			Breaker:  resilience.DefaultResilientConfig(),
			Cache:    chain.DefaultConfig(),
			Memory:   memory.DefaultMemoryCacheConfig(),
			Redis:    redis.DefaultRedisCacheConfig(),
		},
		Ledger: ledger.DefaultConfig(),
		Events: events.DefaultAsyncPublisherConfig(),
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty), a .env file in the working directory if present, and
// the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Missing .env is fine
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Log = logging.ApplyEnv(cfg.Log)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from LEDGER_* variables.
func (c *Config) applyEnv() error {
	setString("LEDGER_ADDR", &c.Server.Address)
	setString("LEDGER_STORE_DRIVER", &c.Store.Driver)
	setString("LEDGER_BOLT_PATH", &c.Store.BoltPath)
	setString("LEDGER_PG_HOST", &c.Store.Postgres.Host)
	setString("LEDGER_PG_USER", &c.Store.Postgres.User)
	setString("LEDGER_PG_PASSWORD", &c.Store.Postgres.Password)
	setString("LEDGER_PG_DATABASE", &c.Store.Postgres.Database)
	setString("LEDGER_PG_SSLMODE", &c.Store.Postgres.SSLMode)
	setString("LEDGER_FX_PROVIDER", &c.FX.Provider)
	setString("LEDGER_FX_URL", &c.FX.HTTP.BaseURL)
	setString("LEDGER_REDIS_ADDR", &c.FX.Redis.Addr)
	setString("LEDGER_REDIS_PASSWORD", &c.FX.Redis.Password)

	if err := setInt("LEDGER_PG_PORT", &c.Store.Postgres.Port); err != nil {
		return err
	}
	if err := setInt("LEDGER_MAX_CONFLICT_RETRIES", &c.Ledger.MaxConflictRetries); err != nil {
		return err
	}
	if err := setDuration("LEDGER_FX_TIMEOUT", &c.Ledger.FXTimeout); err != nil {
		return err
	}
	if err := setBool("LEDGER_REDIS_ENABLED", &c.FX.RedisEnabled); err != nil {
		return err
	}

	// LEDGER_TENANTS=acme:EGP:approval,globex:USD
	if v := os.Getenv("LEDGER_TENANTS"); v != "" {
		tenants, err := ParseTenants(v)
		if err != nil {
			return fmt.Errorf("invalid LEDGER_TENANTS: %w", err)
		}
		c.Tenants = tenants
	}
	return nil
}

// ParseTenants parses a comma separated list of id:currency[:approval] items.
func ParseTenants(s string) ([]ledger.Tenant, error) {
	var out []ledger.Tenant
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("tenant %q: expected id:currency[:approval]", item)
		}
		t := ledger.Tenant{ID: parts[0], DefaultCurrency: strings.ToUpper(parts[1])}
		if len(parts) == 3 {
			if parts[2] != "approval" {
				return nil, fmt.Errorf("tenant %q: unknown flag %q", item, parts[2])
			}
			t.RequireApproval = true
		}
		out = append(out, t)
	}
	return out, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}

	switch c.Store.Driver {
	case store.DriverMemory:
	case store.DriverBolt:
		if c.Store.BoltPath == "" {
			errs = append(errs, errors.New("store.bolt_path is required for the bolt driver"))
		}
	case store.DriverPostgres:
		if c.Store.Postgres.Host == "" || c.Store.Postgres.Database == "" {
			errs = append(errs, errors.New("store.postgres host and database are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, bolt, postgres", c.Store.Driver))
	}

	switch c.FX.Provider {
	case ProviderStatic:
	case ProviderHTTP:
		if c.FX.HTTP.BaseURL == "" {
			errs = append(errs, errors.New("fx.http.base_url is required for the http provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("fx.provider %q is not one of static, http", c.FX.Provider))
	}
	if err := c.FX.Breaker.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.FX.Cache.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Ledger.Validate(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.ID == "" {
			errs = append(errs, errors.New("tenants: id is required"))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("tenants: duplicate id %q", t.ID))
		}
		seen[t.ID] = true
		if t.DefaultCurrency == "" {
			errs = append(errs, fmt.Errorf("tenants: %s has no default_currency", t.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer value for %s: %s", key, v)
	}
	*dst = n
	return nil
}

func setDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration value for %s: %s", key, v)
	}
	*dst = d
	return nil
}

func setBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid boolean value for %s: %s", key, v)
	}
	*dst = b
	return nil
}
