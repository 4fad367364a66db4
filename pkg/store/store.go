// Package store selects a ledger.Repository implementation from configuration.
package store

import (
	"fmt"

	"tenant-ledger/pkg/ledger"
	"tenant-ledger/pkg/store/bolt"
	"tenant-ledger/pkg/store/memory"
	"tenant-ledger/pkg/store/postgres"
)

// Drivers.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// Config selects and configures the repository.
type Config struct {
	// Driver is one of memory, bolt or postgres.
	Driver   string          `yaml:"driver"`
	BoltPath string          `yaml:"bolt_path"`
	Postgres postgres.Config `yaml:"postgres"`
}

// DefaultConfig returns an in-memory store configuration.
func DefaultConfig() Config {
	return Config{
		Driver:   DriverMemory,
		BoltPath: "ledger.db",
		Postgres: postgres.DefaultConfig(),
	}
}

// Repository is a ledger.Repository that holds resources until closed.
type Repository interface {
	ledger.Repository
	Close() error
}

type memoryRepository struct {
	*memory.Store
}

func (memoryRepository) Close() error { return nil }

// Open creates the repository named by cfg.Driver.
func Open(cfg Config) (Repository, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return memoryRepository{memory.New()}, nil
	case DriverBolt:
		s, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return s, nil
	case DriverPostgres:
		s, err := postgres.Open(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
