package resilience

import (
	"context"
	"errors"
	"time"

	"tenant-ledger/pkg/logging"
	"tenant-ledger/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")

	// ErrTimeout is returned when a call exceeds the configured timeout.
	ErrTimeout = errors.New("resilience: operation timeout")
)

// guard runs calls through a gobreaker circuit with a per-call timeout.
type guard struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *logging.Logger
}

// newGuard builds the breaker. Errors for which healthy returns true count
// as successes; they are answers from a working dependency.
func newGuard(name string, config ResilientConfig, mc metrics.MetricsCollector, logger *logging.Logger, healthy func(error) bool) *guard {
	cbc := config.CircuitBreakerConfig
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cbc.MaxRequests,
		Interval:    cbc.Interval,
		Timeout:     cbc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			c := Counts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			}
			if cbc.ReadyToTrip != nil {
				return cbc.ReadyToTrip(c)
			}
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || (healthy != nil && healthy(err))
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			mc.RecordCircuitState(name, circuitState(to))
		},
	}

	logger.Info("circuit breaker initialized",
		zap.String("name", name),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", cbc.MaxRequests),
		zap.Duration("circuit_interval", cbc.Interval),
		zap.Duration("circuit_timeout", cbc.Timeout),
	)

	return &guard{
		name:    name,
		cb:      gobreaker.NewCircuitBreaker(settings),
		timeout: config.Timeout,
		logger:  logger,
	}
}

func circuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// do runs fn under the timeout and breaker. Rejections become ErrCircuitOpen
// and deadline overruns become ErrTimeout; other errors pass through.
func (g *guard) do(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := g.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err == nil {
		return result, nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		g.logger.Warn("circuit breaker open - request rejected", zap.String("operation", op))
		return nil, ErrCircuitOpen
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		g.logger.Warn("operation timeout",
			zap.String("operation", op),
			zap.Duration("timeout", g.timeout),
			logging.Elapsed(start),
		)
		return nil, ErrTimeout
	}
	return nil, err
}

// State returns the breaker state.
func (g *guard) State() metrics.CircuitState {
	return circuitState(g.cb.State())
}
