package chain

import (
	"math"
	"time"
)

// TTLStrategy determines the TTL of each layer in the chain.
type TTLStrategy interface {
	// TTL returns the lifetime for layer index of count layers, given the base TTL.
	TTL(index, count int, base time.Duration) time.Duration
}

// UniformTTLStrategy uses the same TTL for all layers.
type UniformTTLStrategy struct{}

// TTL returns base.
func (UniformTTLStrategy) TTL(index, count int, base time.Duration) time.Duration {
	return base
}

// DecayingTTLStrategy shortens the TTL of upper (faster) layers so they refresh
// from the shared lower layers more often.
type DecayingTTLStrategy struct {
	// DecayFactor in (0, 1); 0.5 gives each layer half the TTL of the one below.
	DecayFactor float64
}

// TTL returns base scaled by DecayFactor once per layer below index.
func (s DecayingTTLStrategy) TTL(index, count int, base time.Duration) time.Duration {
	if s.DecayFactor <= 0 || s.DecayFactor >= 1 || index >= count-1 {
		return base
	}
	factor := math.Pow(s.DecayFactor, float64(count-1-index))
	return time.Duration(float64(base) * factor)
}

// CustomTTLStrategy uses explicit TTL values for each layer.
type CustomTTLStrategy struct {
	TTLs []time.Duration
}

// TTL returns the configured TTL for index, or base if none is set.
func (s CustomTTLStrategy) TTL(index, count int, base time.Duration) time.Duration {
	if index < len(s.TTLs) && s.TTLs[index] > 0 {
		return s.TTLs[index]
	}
	return base
}
