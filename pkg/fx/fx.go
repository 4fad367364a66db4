// Package fx resolves foreign-exchange rates.
//
// A Resolver answers (base, target, at) with a Quote. HTTPResolver talks to a
// rate provider and StaticResolver answers from a table. Package resilience
// adds a timeout and circuit breaker around any Resolver, and package chain
// puts rate cache layers with request collapsing in front of one. The ledger
// freezes whatever the stack returns into a transaction once.
package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable is returned when no rate could be obtained in time.
	// It is transient; the same lookup may succeed later.
	ErrUnavailable = errors.New("fx: rate unavailable")

	// ErrUnsupportedPair is returned when the provider has no rate for the pair.
	ErrUnsupportedPair = errors.New("fx: unsupported currency pair")

	// ErrInvalidRate is returned when a provider answers with a non-positive rate.
	ErrInvalidRate = errors.New("fx: invalid rate")
)

// Quote is a rate converting one unit of Base into Target.
type Quote struct {
	Base      string          `json:"base"`
	Target    string          `json:"target"`
	Rate      decimal.Decimal `json:"rate"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validate checks that the quote answers the requested pair with a usable rate.
func (q Quote) Validate(base, target string) error {
	if !strings.EqualFold(q.Base, base) || !strings.EqualFold(q.Target, target) {
		return fmt.Errorf("%w: asked %s/%s, got %s/%s", ErrInvalidRate, base, target, q.Base, q.Target)
	}
	if !q.Rate.IsPositive() {
		return fmt.Errorf("%w: %s for %s/%s", ErrInvalidRate, q.Rate, base, target)
	}
	return nil
}

// Resolver returns the rate for a currency pair at an instant.
type Resolver interface {
	Resolve(ctx context.Context, base, target string, at time.Time) (Quote, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, base, target string, at time.Time) (Quote, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, base, target string, at time.Time) (Quote, error) {
	return f(ctx, base, target, at)
}

// Key returns the cache key of a pair on the UTC day of at: fx:BASE:TARGET:YYYY-MM-DD.
// Providers publish daily reference rates, so all instants of a day share a key.
func Key(base, target string, at time.Time) string {
	return fmt.Sprintf("fx:%s:%s:%s",
		strings.ToUpper(base), strings.ToUpper(target), at.UTC().Format(time.DateOnly))
}

// IsUnavailable reports whether err means the lookup may succeed if retried.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
