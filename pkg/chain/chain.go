// Package chain puts rate cache layers in front of an fx.Resolver.
//
// Lookups walk the layers from fastest to slowest and fall back to the
// origin resolver. A hit in a lower layer warms the layers above it, and
// concurrent lookups for the same key share one traversal.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tenant-ledger/pkg/cache"
	"tenant-ledger/pkg/fx"
	"tenant-ledger/pkg/logging"
	"tenant-ledger/pkg/metrics"
	"tenant-ledger/pkg/resilience"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config controls how long quotes stay cached.
type Config struct {
	// HistoricalTTL applies to quotes for past days, which providers never revise.
	HistoricalTTL time.Duration `yaml:"historical_ttl"`

	// CurrentTTL applies to quotes for the current UTC day.
	CurrentTTL time.Duration `yaml:"current_ttl"`

	// NegativeTTL is how long an unsupported pair is remembered.
	NegativeTTL time.Duration `yaml:"negative_ttl"`

	// LayerTimeouts bound each layer call, by position. Missing entries use the last one.
	LayerTimeouts []time.Duration `yaml:"layer_timeouts"`

	// DecayFactor in (0, 1) shortens the TTL of each layer above the last one.
	DecayFactor float64 `yaml:"decay_factor"`

	// LayerTTLs pins the TTL of layers by position and takes precedence over DecayFactor.
	LayerTTLs []time.Duration `yaml:"layer_ttls"`
}

// DefaultConfig returns the cache lifetimes used by ledgerd.
func DefaultConfig() Config {
	return Config{
		HistoricalTTL: 7 * 24 * time.Hour,
		CurrentTTL:    15 * time.Minute,
		NegativeTTL:   time.Minute,
		LayerTimeouts: []time.Duration{100 * time.Millisecond, time.Second},
	}
}

// Validate checks the configured lifetimes.
func (c Config) Validate() error {
	if c.HistoricalTTL <= 0 || c.CurrentTTL <= 0 {
		return errors.New("chain: cache TTLs must be positive")
	}
	if c.NegativeTTL < 0 {
		return errors.New("chain: negative TTL must not be negative")
	}
	if c.DecayFactor < 0 || c.DecayFactor >= 1 {
		return fmt.Errorf("chain: decay factor %v outside [0, 1)", c.DecayFactor)
	}
	return nil
}

// strategy returns the TTL strategy the config describes.
func (c Config) strategy() TTLStrategy {
	switch {
	case len(c.LayerTTLs) > 0:
		return CustomTTLStrategy{TTLs: c.LayerTTLs}
	case c.DecayFactor > 0:
		return DecayingTTLStrategy{DecayFactor: c.DecayFactor}
	default:
		return UniformTTLStrategy{}
	}
}

func (c Config) layerTimeout(i int) time.Duration {
	switch {
	case len(c.LayerTimeouts) == 0:
		return time.Second
	case i < len(c.LayerTimeouts):
		return c.LayerTimeouts[i]
	default:
		return c.LayerTimeouts[len(c.LayerTimeouts)-1]
	}
}

// Chain is an fx.Resolver that caches the answers of an origin resolver.
type Chain struct {
	origin fx.Resolver
	layers []cache.Layer
	config Config
	ttl    TTLStrategy
	sf     singleflight.Group
	logger *logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	negative map[string]time.Time
}

// Option customizes a Chain.
type Option func(*Chain)

// WithTTLStrategy sets how TTLs vary across layers, overriding the config.
func WithTTLStrategy(s TTLStrategy) Option {
	return func(c *Chain) { c.ttl = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// New creates a chain without metrics. Layers are ordered from fastest to
// slowest and are each wrapped with resilience protection.
func New(origin fx.Resolver, config Config, layers []cache.Layer, opts ...Option) (*Chain, error) {
	return NewWithMetrics(origin, config, metrics.NoOpCollector{}, layers, opts...)
}

// NewWithMetrics creates a chain that reports cache and circuit metrics.
func NewWithMetrics(origin fx.Resolver, config Config, mc metrics.MetricsCollector, layers []cache.Layer, opts ...Option) (*Chain, error) {
	if origin == nil {
		return nil, errors.New("chain: origin resolver required")
	}
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	resilient := make([]cache.Layer, len(layers))
	for i, layer := range layers {
		rc := resilience.DefaultResilientConfig().WithTimeout(config.layerTimeout(i))
		resilient[i] = resilience.NewResilientLayerWithMetrics(layer, rc, mc)
	}

	c := &Chain{
		origin:   origin,
		layers:   resilient,
		config:   config,
		ttl:      config.strategy(),
		logger:   logging.Global().Named("chain"),
		now:      time.Now,
		negative: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Resolve implements fx.Resolver.
func (c *Chain) Resolve(ctx context.Context, base, target string, at time.Time) (fx.Quote, error) {
	if err := ctx.Err(); err != nil {
		return fx.Quote{}, err
	}
	if at.IsZero() {
		at = c.now()
	}
	key := fx.Key(base, target, at)

	// The shared lookup outlives any single caller; layer timeouts and the
	// origin's own timeout bound it. Each caller stops waiting at its own deadline.
	shared := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(key, func() (any, error) {
		return c.resolve(shared, key, base, target, at)
	})
	select {
	case <-ctx.Done():
		return fx.Quote{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return fx.Quote{}, res.Err
		}
		return res.Val.(fx.Quote), nil
	}
}

func (c *Chain) resolve(ctx context.Context, key, base, target string, at time.Time) (fx.Quote, error) {
	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return fx.Quote{}, err
		}

		q, err := layer.Get(ctx, key)
		if err != nil {
			if !cache.IsNotFound(err) {
				c.logger.Debug("layer skipped",
					zap.String("layer", layer.Name()),
					zap.String("key", key),
					zap.String("class", cache.ClassifyError(err)),
				)
			}
			continue
		}
		if err := q.Validate(base, target); err != nil {
			c.logger.Warn("discarding cached quote", zap.String("key", key), zap.Error(err))
			continue
		}

		if i > 0 {
			c.store(ctx, key, q, at, i)
		}
		return q, nil
	}

	if c.isNegative(key) {
		return fx.Quote{}, fmt.Errorf("%w: %s/%s", fx.ErrUnsupportedPair, strings.ToUpper(base), strings.ToUpper(target))
	}

	q, err := c.origin.Resolve(ctx, base, target, at)
	if err != nil {
		if errors.Is(err, fx.ErrUnsupportedPair) {
			c.cacheNegative(key)
		}
		return fx.Quote{}, err
	}
	if err := q.Validate(base, target); err != nil {
		return fx.Quote{}, err
	}

	c.store(ctx, key, q, at, len(c.layers))
	return q, nil
}

// store writes q into every layer above limit. Failures only cost a later miss.
func (c *Chain) store(ctx context.Context, key string, q fx.Quote, at time.Time, limit int) {
	base := c.baseTTL(at)
	for i := limit - 1; i >= 0; i-- {
		ttl := c.ttl.TTL(i, len(c.layers), base)
		if err := c.layers[i].Set(ctx, key, q, ttl); err != nil {
			c.logger.Warn("cache warm-up failed",
				zap.String("layer", c.layers[i].Name()),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

// baseTTL keeps quotes for past days much longer than today's, which may still move.
func (c *Chain) baseTTL(at time.Time) time.Duration {
	day := at.UTC().Format(time.DateOnly)
	if day < c.now().UTC().Format(time.DateOnly) {
		return c.config.HistoricalTTL
	}
	return c.config.CurrentTTL
}

func (c *Chain) isNegative(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires, ok := c.negative[key]
	if !ok {
		return false
	}
	if !c.now().Before(expires) {
		delete(c.negative, key)
		return false
	}
	return true
}

func (c *Chain) cacheNegative(key string) {
	if c.config.NegativeTTL <= 0 {
		return
	}
	c.mu.Lock()
	c.negative[key] = c.now().Add(c.config.NegativeTTL)
	c.mu.Unlock()
}

// Invalidate removes the cached quote for a pair and day from all layers.
func (c *Chain) Invalidate(ctx context.Context, base, target string, at time.Time) error {
	key := fx.Key(base, target, at)

	c.mu.Lock()
	delete(c.negative, key)
	c.mu.Unlock()

	var errs []error
	for _, layer := range c.layers {
		if err := layer.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all layers, attempting each one.
func (c *Chain) Close() error {
	var errs []error
	for _, layer := range c.layers {
		if err := layer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of layers in the chain.
func (c *Chain) Len() int {
	return len(c.layers)
}

// String describes the chain, e.g. "chain(2 layers): L1 -> L2".
func (c *Chain) String() string {
	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return fmt.Sprintf("chain(%d layers): %s", len(c.layers), strings.Join(names, " -> "))
}
