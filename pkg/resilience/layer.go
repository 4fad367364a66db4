package resilience

import (
	"context"
	"fmt"
	"time"

	"tenant-ledger/pkg/cache"
	"tenant-ledger/pkg/fx"
	"tenant-ledger/pkg/logging"
	"tenant-ledger/pkg/metrics"

	"go.uber.org/zap"
)

// ResilientLayer wraps a cache.Layer with a timeout and circuit breaker.
// Cache misses are normal answers and never trip the breaker.
type ResilientLayer struct {
	layer   cache.Layer
	guard   *guard
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewResilientLayer wraps layer without metrics.
func NewResilientLayer(layer cache.Layer, config ResilientConfig) *ResilientLayer {
	return NewResilientLayerWithMetrics(layer, config, metrics.NoOpCollector{})
}

// NewResilientLayerWithMetrics wraps layer and reports lookups and circuit changes.
func NewResilientLayerWithMetrics(layer cache.Layer, config ResilientConfig, mc metrics.MetricsCollector) *ResilientLayer {
	logger := logging.Global().Named("resilience").Named(layer.Name())
	return &ResilientLayer{
		layer:   layer,
		guard:   newGuard("cache:"+layer.Name(), config, mc, logger, cache.IsNotFound),
		metrics: mc,
		logger:  logger,
	}
}

// Name returns the name of the underlying layer.
func (rl *ResilientLayer) Name() string {
	return rl.layer.Name()
}

// Get implements cache.Layer.
func (rl *ResilientLayer) Get(ctx context.Context, key string) (fx.Quote, error) {
	start := time.Now()
	result, err := rl.guard.do(ctx, "get", func(ctx context.Context) (any, error) {
		return rl.layer.Get(ctx, key)
	})
	rl.metrics.RecordRateCacheGet(rl.layer.Name(), err == nil, time.Since(start))

	if err != nil {
		return fx.Quote{}, rl.translate("get", key, err)
	}
	return result.(fx.Quote), nil
}

// Set implements cache.Layer.
func (rl *ResilientLayer) Set(ctx context.Context, key string, quote fx.Quote, ttl time.Duration) error {
	_, err := rl.guard.do(ctx, "set", func(ctx context.Context) (any, error) {
		return nil, rl.layer.Set(ctx, key, quote, ttl)
	})
	return rl.translate("set", key, err)
}

// Delete implements cache.Layer.
func (rl *ResilientLayer) Delete(ctx context.Context, key string) error {
	_, err := rl.guard.do(ctx, "delete", func(ctx context.Context) (any, error) {
		return nil, rl.layer.Delete(ctx, key)
	})
	return rl.translate("delete", key, err)
}

// State returns the circuit state.
func (rl *ResilientLayer) State() metrics.CircuitState {
	return rl.guard.State()
}

// Close closes the underlying layer.
func (rl *ResilientLayer) Close() error {
	return rl.layer.Close()
}

// translate maps guard errors onto the cache error set.
func (rl *ResilientLayer) translate(op, key string, err error) error {
	switch {
	case err == nil || cache.IsNotFound(err):
		return err
	case err == ErrCircuitOpen:
		return fmt.Errorf("%w: %s", cache.ErrCircuitOpen, rl.layer.Name())
	case err == ErrTimeout:
		return fmt.Errorf("%w: %s %s", cache.ErrTimeout, rl.layer.Name(), op)
	}
	rl.logger.Error(op+" operation failed",
		zap.String("key", key),
		zap.String("class", cache.ClassifyError(err)),
		zap.Error(err),
	)
	return cache.WrapError(err, rl.layer.Name(), op)
}
