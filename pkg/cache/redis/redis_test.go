package redis

import (
	"context"
	"testing"
	"time"

	"tenant-ledger/pkg/cache"
	"tenant-ledger/pkg/fx"

	"github.com/shopspring/decimal"
)

func setupTestRedis(t *testing.T) *RedisCache {
	config := DefaultRedisCacheConfig()
	config.Name = "TestRedis"
	config.KeyPrefix = "test:ledger:"

	r, err := NewRedisCache(config)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	ctx := context.Background()
	_ = r.FlushDB(ctx)

	return r
}

func TestRedisCache_SetGet(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	q := fx.Quote{Base: "USD", Target: "EGP", Rate: decimal.RequireFromString("30.9012"), Source: "test", Timestamp: at}

	if err := r.Set(ctx, fx.Key("USD", "EGP", at), q, time.Minute); err != nil {
		t.Fatalf("Failed to set key: %v", err)
	}

	got, err := r.Get(ctx, fx.Key("USD", "EGP", at))
	if err != nil {
		t.Fatalf("Failed to get key: %v", err)
	}
	if !got.Rate.Equal(q.Rate) || got.Source != "test" || !got.Timestamp.Equal(at) {
		t.Errorf("Expected %+v, got %+v", q, got)
	}

	ttl, err := r.TTL(ctx, fx.Key("USD", "EGP", at))
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("Expected TTL within a minute, got %v", ttl)
	}
}

func TestRedisCache_GetMiss(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	if _, err := r.Get(context.Background(), "nonexistent"); !cache.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestRedisCache_Delete(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()
	_ = r.Set(ctx, "key1", fx.Quote{Base: "EUR", Target: "USD", Rate: decimal.NewFromInt(1)}, 0)

	if err := r.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Failed to delete key: %v", err)
	}
	if _, err := r.Get(ctx, "key1"); !cache.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestDefaultRedisCacheConfig(t *testing.T) {
	config := DefaultRedisCacheConfig()

	if config.Name != "L2" {
		t.Errorf("Expected default name 'L2', got '%s'", config.Name)
	}
	if config.Addr != "localhost:6379" {
		t.Errorf("Expected default addr 'localhost:6379', got '%s'", config.Addr)
	}
	if config.KeyPrefix != "ledger:" {
		t.Errorf("Expected default prefix 'ledger:', got '%s'", config.KeyPrefix)
	}
	if config.DefaultTTL != 24*time.Hour {
		t.Errorf("Expected default TTL 24h, got %v", config.DefaultTTL)
	}
}

func TestRedisCacheConfig_InitAddress(t *testing.T) {
	tests := []struct {
		name    string
		config  RedisCacheConfig
		want    []string
		wantErr bool
	}{
		{"single", RedisCacheConfig{Addr: "a:6379"}, []string{"a:6379"}, false},
		{"cluster wins", RedisCacheConfig{Addr: "a:6379", ClusterAddrs: []string{"n1:6379", "n2:6379"}}, []string{"n1:6379", "n2:6379"}, false},
		{"sentinel", RedisCacheConfig{SentinelAddrs: []string{"s1:26379"}}, []string{"s1:26379"}, false},
		{"none", RedisCacheConfig{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.config.initAddress()
			if (err != nil) != tt.wantErr {
				t.Fatalf("initAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("initAddress() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("initAddress()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
