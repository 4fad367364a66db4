// Package resilience guards slow or flaky dependencies with a per-call
// timeout and a circuit breaker (sony/gobreaker).
package resilience

import (
	"errors"
	"time"
)

// ResilientConfig configures the timeout and circuit breaker of a guarded dependency.
type ResilientConfig struct {
	// Timeout bounds each call. Zero disables it.
	Timeout time.Duration `yaml:"timeout"`

	CircuitBreakerConfig CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the number of requests allowed through while half-open.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state after which counts
	// are cleared. Zero never clears.
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long the circuit stays open before going half-open.
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip decides, after a failure, whether to open the circuit.
	// If nil, the circuit opens after 5 consecutive failures.
	ReadyToTrip func(counts Counts) bool `yaml:"-"`
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultResilientConfig trips at a 15% failure rate over at least 20 requests.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: 5 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: FailureRate(20, 0.15),
		},
	}
}

// FailureRate returns a ReadyToTrip that opens once at least minRequests
// were seen and the failure ratio reaches rate.
func FailureRate(minRequests uint32, rate float64) func(Counts) bool {
	return func(counts Counts) bool {
		if counts.Requests < minRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= rate
	}
}

// ConsecutiveFailures returns a ReadyToTrip that opens after n failures in a row.
func ConsecutiveFailures(n uint32) func(Counts) bool {
	return func(counts Counts) bool {
		return counts.ConsecutiveFailures >= n
	}
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c ResilientConfig) WithTimeout(timeout time.Duration) ResilientConfig {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified open-state duration.
func (c ResilientConfig) WithCircuitBreakerTimeout(timeout time.Duration) ResilientConfig {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}

// WithReadyToTrip returns a copy of the config with the specified trip policy.
func (c ResilientConfig) WithReadyToTrip(fn func(Counts) bool) ResilientConfig {
	c.CircuitBreakerConfig.ReadyToTrip = fn
	return c
}

// Validate checks durations and counts.
func (c ResilientConfig) Validate() error {
	if c.Timeout < 0 {
		return errors.New("resilience: timeout must not be negative")
	}
	if c.CircuitBreakerConfig.Interval < 0 || c.CircuitBreakerConfig.Timeout < 0 {
		return errors.New("resilience: circuit breaker durations must not be negative")
	}
	return nil
}
