// Package cache defines the rate cache layers that sit in front of an FX
// resolver. Layers are ordered from fastest (L1, in-process) to slowest.
package cache

import (
	"context"
	"time"

	"tenant-ledger/pkg/fx"
)

// Layer is a cache of FX quotes keyed by fx.Key.
type Layer interface {
	// Get returns the cached quote, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (fx.Quote, error)

	// Set stores a quote for ttl. A zero ttl uses the layer default.
	Set(ctx context.Context, key string, quote fx.Quote, ttl time.Duration) error

	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the layer in logs and metrics (e.g. "L1", "redis").
	Name() string

	Close() error
}

// Entry is a cached quote with its expiry.
type Entry struct {
	Key       string
	Quote     fx.Quote
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired reports whether the entry expired at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TimeToLive returns the remaining lifetime at now, or 0 once expired.
func (e *Entry) TimeToLive(now time.Time) time.Duration {
	if e.IsExpired(now) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}
