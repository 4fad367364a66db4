// Package fxtest provides a scriptable fx.Resolver for tests.
package fxtest

import (
	"context"
	"sync/atomic"
	"time"

	"tenant-ledger/pkg/fx"

	"github.com/shopspring/decimal"
)

// Resolver is an fx.Resolver whose answers come from ResolveFunc. Calls are counted.
type Resolver struct {
	ResolveFunc func(ctx context.Context, base, target string, at time.Time) (fx.Quote, error)

	calls int64
}

// Resolve implements fx.Resolver. Without ResolveFunc it fails with fx.ErrUnsupportedPair.
func (r *Resolver) Resolve(ctx context.Context, base, target string, at time.Time) (fx.Quote, error) {
	atomic.AddInt64(&r.calls, 1)
	if r.ResolveFunc != nil {
		return r.ResolveFunc(ctx, base, target, at)
	}
	return fx.Quote{}, fx.ErrUnsupportedPair
}

// Calls returns the number of Resolve calls.
func (r *Resolver) Calls() int {
	return int(atomic.LoadInt64(&r.calls))
}

// Fixed returns a resolver answering every pair with rate.
func Fixed(rate string) *Resolver {
	d := decimal.RequireFromString(rate)
	return &Resolver{
		ResolveFunc: func(ctx context.Context, base, target string, at time.Time) (fx.Quote, error) {
			return fx.Quote{Base: base, Target: target, Rate: d, Source: "fxtest", Timestamp: at}, nil
		},
	}
}

// Failing returns a resolver that always fails with err.
func Failing(err error) *Resolver {
	return &Resolver{
		ResolveFunc: func(ctx context.Context, base, target string, at time.Time) (fx.Quote, error) {
			return fx.Quote{}, err
		},
	}
}

// Blocking returns a resolver that waits for ctx to end.
func Blocking() *Resolver {
	return &Resolver{
		ResolveFunc: func(ctx context.Context, base, target string, at time.Time) (fx.Quote, error) {
			<-ctx.Done()
			return fx.Quote{}, ctx.Err()
		},
	}
}
