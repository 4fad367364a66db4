package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tenant-ledger/pkg/fx"
	"tenant-ledger/pkg/logging"
	"tenant-ledger/pkg/metrics"
)

// ResilientResolver guards an fx.Resolver. Every failure except an
// unsupported pair is reported as fx.ErrUnavailable.
type ResilientResolver struct {
	name     string
	resolver fx.Resolver
	guard    *guard
	metrics  metrics.MetricsCollector
}

// NewResilientResolver wraps resolver without metrics.
func NewResilientResolver(name string, resolver fx.Resolver, config ResilientConfig) *ResilientResolver {
	return NewResilientResolverWithMetrics(name, resolver, config, metrics.NoOpCollector{})
}

// NewResilientResolverWithMetrics wraps resolver and records lookups under name.
func NewResilientResolverWithMetrics(name string, resolver fx.Resolver, config ResilientConfig, mc metrics.MetricsCollector) *ResilientResolver {
	logger := logging.Global().Named("resilience").Named(name)
	unsupported := func(err error) bool { return errors.Is(err, fx.ErrUnsupportedPair) }
	return &ResilientResolver{
		name:     name,
		resolver: resolver,
		guard:    newGuard("fx:"+name, config, mc, logger, unsupported),
		metrics:  mc,
	}
}

// Resolve implements fx.Resolver.
func (r *ResilientResolver) Resolve(ctx context.Context, base, target string, at time.Time) (fx.Quote, error) {
	start := time.Now()
	result, err := r.guard.do(ctx, "resolve", func(ctx context.Context) (any, error) {
		return r.resolver.Resolve(ctx, base, target, at)
	})
	r.metrics.RecordFXLookup(r.name, err == nil, time.Since(start))

	switch {
	case err == nil:
		return result.(fx.Quote), nil
	case errors.Is(err, fx.ErrUnsupportedPair):
		return fx.Quote{}, err
	case errors.Is(err, fx.ErrUnavailable):
		return fx.Quote{}, err
	}
	return fx.Quote{}, fmt.Errorf("%w: %s %s/%s: %w", fx.ErrUnavailable, r.name, base, target, err)
}

// State returns the circuit state.
func (r *ResilientResolver) State() metrics.CircuitState {
	return r.guard.State()
}
