package fx

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// inverseScale is the number of decimal places kept when inverting a rate.
const inverseScale = 10

// StaticResolver answers from an in-memory rate table. A pair missing from
// the table is answered with the inverse of the opposite pair when present.
type StaticResolver struct {
	mu     sync.RWMutex
	rates  map[string]decimal.Decimal
	source string
}

// NewStaticResolver returns an empty table that stamps quotes with source.
func NewStaticResolver(source string) *StaticResolver {
	if source == "" {
		source = "static"
	}
	return &StaticResolver{
		rates:  make(map[string]decimal.Decimal),
		source: source,
	}
}

// NewStaticResolverFromTable parses a table of "BASE/TARGET" to decimal rate strings.
func NewStaticResolverFromTable(source string, table map[string]string) (*StaticResolver, error) {
	r := NewStaticResolver(source)
	for pair, raw := range table {
		base, target, ok := strings.Cut(pair, "/")
		if !ok || base == "" || target == "" {
			return nil, fmt.Errorf("fx: malformed pair %q, want BASE/TARGET", pair)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("fx: rate for %s: %w", pair, err)
		}
		if err := r.Set(base, target, rate); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func pairKey(base, target string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(target)
}

// Set stores the rate converting one base unit into target.
func (r *StaticResolver) Set(base, target string, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return fmt.Errorf("%w: %s for %s/%s", ErrInvalidRate, rate, base, target)
	}
	r.mu.Lock()
	r.rates[pairKey(base, target)] = rate
	r.mu.Unlock()
	return nil
}

// Resolve implements Resolver. The quote timestamp is at.
func (r *StaticResolver) Resolve(ctx context.Context, base, target string, at time.Time) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}

	q := Quote{
		Base:      strings.ToUpper(base),
		Target:    strings.ToUpper(target),
		Source:    r.source,
		Timestamp: at,
	}
	if q.Base == q.Target {
		q.Rate = decimal.NewFromInt(1)
		return q, nil
	}

	r.mu.RLock()
	direct, hasDirect := r.rates[pairKey(base, target)]
	inverse, hasInverse := r.rates[pairKey(target, base)]
	r.mu.RUnlock()

	switch {
	case hasDirect:
		q.Rate = direct
	case hasInverse:
		q.Rate = decimal.NewFromInt(1).DivRound(inverse, inverseScale)
	default:
		return Quote{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, q.Base, q.Target)
	}
	return q, nil
}
