package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting ledger metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory snapshots, etc.).
type MetricsCollector interface {
	// Ledger state machine
	RecordTransition(from, to string, outcome string, duration time.Duration)
	RecordPosting(kind string, outcome string, duration time.Duration)
	RecordConflictRetry(resource string)
	RecordRollback(reason string)
	RecordBalanceDrift(tenant, account string, drift float64)

	// FX rate resolution
	RecordFXLookup(source string, success bool, duration time.Duration)
	RecordRateCacheGet(layer string, hit bool, duration time.Duration)
	RecordCircuitState(name string, state CircuitState)

	// Event publishing
	RecordQueueDepth(publisher string, depth int)
	RecordEventDropped(publisher string)
	RecordEventPublished(publisher string, success bool, duration time.Duration)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordTransition(from, to string, outcome string, duration time.Duration) {}

func (NoOpCollector) RecordPosting(kind string, outcome string, duration time.Duration) {}

func (NoOpCollector) RecordConflictRetry(resource string) {}

func (NoOpCollector) RecordRollback(reason string) {}

func (NoOpCollector) RecordBalanceDrift(tenant, account string, drift float64) {}

func (NoOpCollector) RecordFXLookup(source string, success bool, duration time.Duration) {}

func (NoOpCollector) RecordRateCacheGet(layer string, hit bool, duration time.Duration) {}

func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}

func (NoOpCollector) RecordQueueDepth(publisher string, depth int) {}

func (NoOpCollector) RecordEventDropped(publisher string) {}

func (NoOpCollector) RecordEventPublished(publisher string, success bool, duration time.Duration) {}

// Fanout forwards every observation to each collector in order.
type Fanout []MetricsCollector

func (f Fanout) RecordTransition(from, to string, outcome string, duration time.Duration) {
	for _, c := range f {
		c.RecordTransition(from, to, outcome, duration)
	}
}

func (f Fanout) RecordPosting(kind string, outcome string, duration time.Duration) {
	for _, c := range f {
		c.RecordPosting(kind, outcome, duration)
	}
}

func (f Fanout) RecordConflictRetry(resource string) {
	for _, c := range f {
		c.RecordConflictRetry(resource)
	}
}

func (f Fanout) RecordRollback(reason string) {
	for _, c := range f {
		c.RecordRollback(reason)
	}
}

func (f Fanout) RecordBalanceDrift(tenant, account string, drift float64) {
	for _, c := range f {
		c.RecordBalanceDrift(tenant, account, drift)
	}
}

func (f Fanout) RecordFXLookup(source string, success bool, duration time.Duration) {
	for _, c := range f {
		c.RecordFXLookup(source, success, duration)
	}
}

func (f Fanout) RecordRateCacheGet(layer string, hit bool, duration time.Duration) {
	for _, c := range f {
		c.RecordRateCacheGet(layer, hit, duration)
	}
}

func (f Fanout) RecordCircuitState(name string, state CircuitState) {
	for _, c := range f {
		c.RecordCircuitState(name, state)
	}
}

func (f Fanout) RecordQueueDepth(publisher string, depth int) {
	for _, c := range f {
		c.RecordQueueDepth(publisher, depth)
	}
}

func (f Fanout) RecordEventDropped(publisher string) {
	for _, c := range f {
		c.RecordEventDropped(publisher)
	}
}

func (f Fanout) RecordEventPublished(publisher string, success bool, duration time.Duration) {
	for _, c := range f {
		c.RecordEventPublished(publisher, success, duration)
	}
}
