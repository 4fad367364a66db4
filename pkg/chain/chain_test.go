package chain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tenant-ledger/pkg/cache"
	"tenant-ledger/pkg/cache/memory"
	"tenant-ledger/pkg/cache/mock"
	"tenant-ledger/pkg/fx"
	"tenant-ledger/pkg/fx/fxtest"

	"github.com/shopspring/decimal"
)

var (
	today     = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	yesterday = today.Add(-24 * time.Hour)
)

func clock() time.Time { return today }

func quoteFor(base, target, rate string) fx.Quote {
	return fx.Quote{Base: base, Target: target, Rate: decimal.RequireFromString(rate), Source: "cached"}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		origin      fx.Resolver
		layers      []cache.Layer
		config      Config
		expectError bool
	}{
		{"no origin", nil, []cache.Layer{mock.NewMockLayer("L1")}, DefaultConfig(), true},
		{"no layers", fxtest.Fixed("1"), nil, DefaultConfig(), true},
		{"bad ttl", fxtest.Fixed("1"), []cache.Layer{mock.NewMockLayer("L1")}, Config{}, true},
		{"two layers", fxtest.Fixed("1"), []cache.Layer{mock.NewMockLayer("L1"), mock.NewMockLayer("L2")}, DefaultConfig(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.origin, tt.config, tt.layers)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.Len() != len(tt.layers) {
				t.Errorf("Expected %d layers, got %d", len(tt.layers), c.Len())
			}
			if c.String() != "chain(2 layers): L1 -> L2" {
				t.Errorf("Unexpected String(): %s", c.String())
			}
		})
	}
}

func TestChain_L1Hit(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	l1.GetFunc = func(ctx context.Context, key string) (fx.Quote, error) {
		return quoteFor("USD", "EGP", "30.9"), nil
	}
	l2 := mock.NewMockLayer("L2")
	origin := fxtest.Fixed("99")

	c, err := New(origin, DefaultConfig(), []cache.Layer{l1, l2}, WithClock(clock))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	q, err := c.Resolve(context.Background(), "USD", "EGP", today)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if q.Rate.String() != "30.9" {
		t.Errorf("Expected L1 rate, got %s", q.Rate)
	}
	if l2.GetCalls() != 0 || origin.Calls() != 0 {
		t.Errorf("Expected no deeper lookups, got L2=%d origin=%d", l2.GetCalls(), origin.Calls())
	}
}

func TestChain_L2HitWarmsL1(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	var warmedKey string
	var warmedTTL time.Duration
	l1.SetFunc = func(ctx context.Context, key string, q fx.Quote, ttl time.Duration) error {
		warmedKey, warmedTTL = key, ttl
		return nil
	}
	l2 := mock.NewMockLayer("L2")
	l2.GetFunc = func(ctx context.Context, key string) (fx.Quote, error) {
		return quoteFor("USD", "EGP", "31"), nil
	}
	origin := fxtest.Fixed("99")

	c, _ := New(origin, DefaultConfig(), []cache.Layer{l1, l2}, WithClock(clock))

	if _, err := c.Resolve(context.Background(), "USD", "EGP", yesterday); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if warmedKey != "fx:USD:EGP:2024-03-09" {
		t.Errorf("Expected L1 warmed with the day key, got %q", warmedKey)
	}
	if warmedTTL != DefaultConfig().HistoricalTTL {
		t.Errorf("Expected historical TTL for a past day, got %v", warmedTTL)
	}
	if l2.SetCalls() != 0 {
		t.Error("The hit layer must not be rewritten")
	}
	if origin.Calls() != 0 {
		t.Error("Origin must not be called on a cache hit")
	}
}

func TestChain_MissFillsAllLayers(t *testing.T) {
	l1 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	l2 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L2"})
	origin := fxtest.Fixed("48.5")

	c, _ := New(origin, DefaultConfig(), []cache.Layer{l1, l2}, WithClock(clock))
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		q, err := c.Resolve(ctx, "USD", "EGP", today)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if q.Rate.String() != "48.5" {
			t.Errorf("Expected 48.5, got %s", q.Rate)
		}
	}
	if origin.Calls() != 1 {
		t.Errorf("Expected one origin call, got %d", origin.Calls())
	}
	for _, layer := range []*memory.MemoryCache{l1, l2} {
		if _, err := layer.Get(ctx, fx.Key("USD", "EGP", today)); err != nil {
			t.Errorf("Expected %s to hold the quote, got %v", layer.Name(), err)
		}
	}
}

func TestChain_CurrentDayTTL(t *testing.T) {
	var ttls []time.Duration
	l1 := mock.NewMockLayer("L1")
	l1.SetFunc = func(ctx context.Context, key string, q fx.Quote, ttl time.Duration) error {
		ttls = append(ttls, ttl)
		return nil
	}

	config := DefaultConfig()
	c, _ := New(fxtest.Fixed("1.08"), config, []cache.Layer{l1}, WithClock(clock))

	if _, err := c.Resolve(context.Background(), "EUR", "USD", today); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(ttls) != 1 || ttls[0] != config.CurrentTTL {
		t.Errorf("Expected current-day TTL %v, got %v", config.CurrentTTL, ttls)
	}
}

func TestChain_DecayingStrategy(t *testing.T) {
	got := make(map[string]time.Duration)
	var mu sync.Mutex
	layer := func(name string) *mock.MockLayer {
		l := mock.NewMockLayer(name)
		l.SetFunc = func(ctx context.Context, key string, q fx.Quote, ttl time.Duration) error {
			mu.Lock()
			got[name] = ttl
			mu.Unlock()
			return nil
		}
		return l
	}

	config := DefaultConfig()
	c, _ := New(fxtest.Fixed("2"), config, []cache.Layer{layer("L1"), layer("L2")},
		WithClock(clock), WithTTLStrategy(DecayingTTLStrategy{DecayFactor: 0.5}))

	if _, err := c.Resolve(context.Background(), "USD", "EGP", yesterday); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got["L2"] != config.HistoricalTTL || got["L1"] != config.HistoricalTTL/2 {
		t.Errorf("Unexpected TTLs: %v", got)
	}
}

func TestChain_SingleFlight(t *testing.T) {
	var calls int64
	release := make(chan struct{})
	origin := &fxtest.Resolver{
		ResolveFunc: func(ctx context.Context, base, target string, at time.Time) (fx.Quote, error) {
			atomic.AddInt64(&calls, 1)
			<-release
			return quoteFor(base, target, "30.9"), nil
		},
	}

	c, _ := New(origin, DefaultConfig(), []cache.Layer{mock.NewMockLayer("L1")}, WithClock(clock))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resolve(context.Background(), "USD", "EGP", today)
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Resolve failed: %v", err)
		}
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("Expected concurrent lookups to share one origin call, got %d", n)
	}
}

func TestChain_LayerFailureFallsThrough(t *testing.T) {
	broken := mock.NewMockLayer("L1")
	broken.GetFunc = func(ctx context.Context, key string) (fx.Quote, error) {
		return fx.Quote{}, cache.ErrLayerUnavailable
	}
	broken.SetFunc = func(ctx context.Context, key string, q fx.Quote, ttl time.Duration) error {
		return cache.ErrLayerUnavailable
	}

	c, _ := New(fxtest.Fixed("30.9"), DefaultConfig(), []cache.Layer{broken}, WithClock(clock))

	q, err := c.Resolve(context.Background(), "USD", "EGP", today)
	if err != nil {
		t.Fatalf("Expected origin to answer despite a broken layer, got %v", err)
	}
	if q.Rate.String() != "30.9" {
		t.Errorf("Unexpected rate %s", q.Rate)
	}
}

func TestChain_CorruptEntryIgnored(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	l1.GetFunc = func(ctx context.Context, key string) (fx.Quote, error) {
		return quoteFor("EUR", "EGP", "0"), nil
	}
	origin := fxtest.Fixed("30.9")

	c, _ := New(origin, DefaultConfig(), []cache.Layer{l1}, WithClock(clock))
	if _, err := c.Resolve(context.Background(), "USD", "EGP", today); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if origin.Calls() != 1 {
		t.Errorf("Expected a mismatched cached quote to be ignored")
	}
}

func TestChain_NegativeCaching(t *testing.T) {
	origin := fxtest.Failing(fx.ErrUnsupportedPair)
	now := today
	c, _ := New(origin, DefaultConfig(), []cache.Layer{mock.NewMockLayer("L1")},
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Resolve(ctx, "XXX", "EGP", today); !errors.Is(err, fx.ErrUnsupportedPair) {
			t.Fatalf("Expected ErrUnsupportedPair, got %v", err)
		}
	}
	if origin.Calls() != 1 {
		t.Errorf("Expected unsupported pair to be remembered, got %d origin calls", origin.Calls())
	}

	now = now.Add(2 * time.Minute)
	_, _ = c.Resolve(ctx, "XXX", "EGP", today)
	if origin.Calls() != 2 {
		t.Errorf("Expected negative entry to expire, got %d origin calls", origin.Calls())
	}
}

func TestChain_OriginUnavailable(t *testing.T) {
	origin := fxtest.Failing(fx.ErrUnavailable)
	c, _ := New(origin, DefaultConfig(), []cache.Layer{mock.NewMockLayer("L1")}, WithClock(clock))

	for i := 0; i < 2; i++ {
		if _, err := c.Resolve(context.Background(), "USD", "EGP", today); !fx.IsUnavailable(err) {
			t.Fatalf("Expected ErrUnavailable, got %v", err)
		}
	}
	// Transient failures are never cached.
	if origin.Calls() != 2 {
		t.Errorf("Expected every lookup to retry the origin, got %d", origin.Calls())
	}
}

func TestChain_Invalidate(t *testing.T) {
	l1 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	origin := fxtest.Fixed("30.9")
	c, _ := New(origin, DefaultConfig(), []cache.Layer{l1}, WithClock(clock))
	defer c.Close()
	ctx := context.Background()

	_, _ = c.Resolve(ctx, "USD", "EGP", today)
	if err := c.Invalidate(ctx, "usd", "egp", today); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	_, _ = c.Resolve(ctx, "USD", "EGP", today)

	if origin.Calls() != 2 {
		t.Errorf("Expected a lookup after invalidation, got %d origin calls", origin.Calls())
	}
}

func TestChain_ContextCancelled(t *testing.T) {
	c, _ := New(fxtest.Fixed("1"), DefaultConfig(), []cache.Layer{mock.NewMockLayer("L1")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Resolve(ctx, "USD", "EGP", today); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestChain_CallerDeadlineNotShared(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	origin := &fxtest.Resolver{
		ResolveFunc: func(ctx context.Context, base, target string, at time.Time) (fx.Quote, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
				return quoteFor(base, target, "30.9"), nil
			case <-ctx.Done():
				return fx.Quote{}, ctx.Err()
			}
		},
	}
	c, _ := New(origin, DefaultConfig(), []cache.Layer{mock.NewMockLayer("L1")}, WithClock(clock))

	impatient, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Resolve(impatient, "USD", "EGP", today)
		first <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		q, err := c.Resolve(context.Background(), "USD", "EGP", today)
		if err == nil && q.Rate.String() != "30.9" {
			err = errors.New("unexpected rate " + q.Rate.String())
		}
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected the first caller to see its own cancellation, got %v", err)
	}

	close(release)
	if err := <-second; err != nil {
		t.Errorf("Expected the second caller to get the shared quote, got %v", err)
	}
}

func TestChain_Close(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	l2 := mock.NewMockLayer("L2")
	l2.CloseFunc = func() error { return errors.New("close failed") }

	c, _ := New(fxtest.Fixed("1"), DefaultConfig(), []cache.Layer{l1, l2})
	err := c.Close()
	if err == nil || !strings.Contains(err.Error(), "close failed") {
		t.Errorf("Expected close error, got %v", err)
	}
	if l1.CloseCalls() != 1 || l2.CloseCalls() != 1 {
		t.Error("Expected every layer to be closed")
	}
}
