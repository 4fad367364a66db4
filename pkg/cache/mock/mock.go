// Package mock provides a scriptable cache.Layer for tests.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"tenant-ledger/pkg/cache"
	"tenant-ledger/pkg/fx"
)

// MockLayer is a cache.Layer whose behavior is set per method. Calls are counted.
type MockLayer struct {
	GetFunc    func(ctx context.Context, key string) (fx.Quote, error)
	SetFunc    func(ctx context.Context, key string, quote fx.Quote, ttl time.Duration) error
	DeleteFunc func(ctx context.Context, key string) error
	NameFunc   func() string
	CloseFunc  func() error

	getCalls    int64
	setCalls    int64
	deleteCalls int64
	closeCalls  int64
}

// Get implements cache.Layer. Without GetFunc every key misses.
func (m *MockLayer) Get(ctx context.Context, key string) (fx.Quote, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return fx.Quote{}, cache.ErrKeyNotFound
}

// Set implements cache.Layer.
func (m *MockLayer) Set(ctx context.Context, key string, quote fx.Quote, ttl time.Duration) error {
	atomic.AddInt64(&m.setCalls, 1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, quote, ttl)
	}
	return nil
}

// Delete implements cache.Layer.
func (m *MockLayer) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	return nil
}

// Name implements cache.Layer.
func (m *MockLayer) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

// Close implements cache.Layer.
func (m *MockLayer) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// GetCalls returns the number of Get calls.
func (m *MockLayer) GetCalls() int { return int(atomic.LoadInt64(&m.getCalls)) }

// SetCalls returns the number of Set calls.
func (m *MockLayer) SetCalls() int { return int(atomic.LoadInt64(&m.setCalls)) }

// DeleteCalls returns the number of Delete calls.
func (m *MockLayer) DeleteCalls() int { return int(atomic.LoadInt64(&m.deleteCalls)) }

// CloseCalls returns the number of Close calls.
func (m *MockLayer) CloseCalls() int { return int(atomic.LoadInt64(&m.closeCalls)) }

// NewMockLayer returns a layer named name that misses every Get.
func NewMockLayer(name string) *MockLayer {
	return &MockLayer{
		NameFunc: func() string { return name },
	}
}
