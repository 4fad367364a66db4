// Package memory is the in-process L1 rate cache.
package memory

import (
	"context"
	"sync"
	"time"

	"tenant-ledger/pkg/cache"
	"tenant-ledger/pkg/fx"
)

// MemoryCache is a cache.Layer with TTL expiry and LRU eviction.
type MemoryCache struct {
	data   map[string]*entry
	mu     sync.RWMutex
	config MemoryCacheConfig

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	wg            sync.WaitGroup
}

type entry struct {
	cache.Entry
	accessedAt time.Time
}

// MemoryCacheConfig holds configuration for the memory cache.
type MemoryCacheConfig struct {
	Name string `yaml:"name"`

	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int `yaml:"max_size"`

	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultMemoryCacheConfig returns the L1 defaults.
func DefaultMemoryCacheConfig() MemoryCacheConfig {
	return MemoryCacheConfig{
		Name:            "L1",
		MaxSize:         10000,
		DefaultTTL:      time.Hour,
		CleanupInterval: time.Minute,
	}
}

// NewMemoryCache creates a memory cache and starts its expiry loop.
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = time.Hour
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	c := &MemoryCache{
		data:          make(map[string]*entry),
		config:        config,
		stopCleanup:   make(chan struct{}),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
	}

	c.wg.Add(1)
	go c.cleanup()

	return c
}

// Get implements cache.Layer.
func (c *MemoryCache) Get(ctx context.Context, key string) (fx.Quote, error) {
	if err := cache.ValidateKey(key); err != nil {
		return fx.Quote{}, err
	}

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return fx.Quote{}, cache.ErrKeyNotFound
	}
	if e.IsExpired(now) {
		delete(c.data, key)
		return fx.Quote{}, cache.ErrKeyNotFound
	}
	e.accessedAt = now

	return e.Quote, nil
}

// Set implements cache.Layer. When full, the least recently used entry is evicted.
func (c *MemoryCache) Set(ctx context.Context, key string, quote fx.Quote, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && c.config.MaxSize > 0 && len(c.data) >= c.config.MaxSize {
		c.evictLRU()
	}

	c.data[key] = &entry{
		Entry: cache.Entry{
			Key:       key,
			Quote:     quote,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		},
		accessedAt: now,
	}

	return nil
}

func (c *MemoryCache) evictLRU() {
	var lruKey string
	var lruTime time.Time

	for k, e := range c.data {
		if lruKey == "" || e.accessedAt.Before(lruTime) {
			lruKey = k
			lruTime = e.accessedAt
		}
	}

	if lruKey != "" {
		delete(c.data, lruKey)
	}
}

// Delete implements cache.Layer.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()

	return nil
}

// TTL returns the remaining lifetime of key.
func (c *MemoryCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.data[key]
	if !ok {
		return 0, cache.ErrKeyNotFound
	}
	ttl := e.TimeToLive(time.Now())
	if ttl == 0 {
		return 0, cache.ErrKeyNotFound
	}
	return ttl, nil
}

// Name returns the cache layer name.
func (c *MemoryCache) Name() string {
	return c.config.Name
}

// Close stops the expiry loop and drops all entries.
func (c *MemoryCache) Close() error {
	c.cleanupTicker.Stop()
	close(c.stopCleanup)
	c.wg.Wait()

	c.mu.Lock()
	c.data = make(map[string]*entry)
	c.mu.Unlock()

	return nil
}

func (c *MemoryCache) cleanup() {
	defer c.wg.Done()

	for {
		select {
		case <-c.cleanupTicker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.data {
		if e.IsExpired(now) {
			delete(c.data, key)
		}
	}
}

// Stats returns current cache statistics.
func (c *MemoryCache) Stats() MemoryCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := MemoryCacheStats{
		Size:     len(c.data),
		MaxSize:  c.config.MaxSize,
		Capacity: c.config.MaxSize,
	}
	if stats.Capacity == 0 {
		stats.Capacity = -1
	}

	return stats
}

// MemoryCacheStats holds cache statistics.
type MemoryCacheStats struct {
	Size     int // Current number of entries
	MaxSize  int // Maximum allowed entries (0 = unlimited)
	Capacity int // Effective capacity (-1 = unlimited)
}
