package fx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStaticResolver_Resolve(t *testing.T) {
	r, err := NewStaticResolverFromTable("table", map[string]string{
		"USD/EGP": "30.90",
		"eur/usd": "1.08",
	})
	if err != nil {
		t.Fatalf("NewStaticResolverFromTable failed: %v", err)
	}
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		base    string
		target  string
		rate    string
		wantErr error
	}{
		{"direct", "USD", "EGP", "30.9", nil},
		{"lowercase request", "eur", "usd", "1.08", nil},
		{"inverse", "USD", "EUR", "0.9259259259", nil},
		{"identity", "EGP", "EGP", "1", nil},
		{"unknown", "JPY", "EGP", "", ErrUnsupportedPair},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := r.Resolve(context.Background(), tt.base, tt.target, at)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if !q.Rate.Equal(decimal.RequireFromString(tt.rate)) {
				t.Errorf("Expected rate %s, got %s", tt.rate, q.Rate)
			}
			if q.Source != "table" || !q.Timestamp.Equal(at) {
				t.Errorf("Unexpected quote metadata: %+v", q)
			}
		})
	}
}

func TestStaticResolver_Set(t *testing.T) {
	r := NewStaticResolver("")
	if err := r.Set("USD", "EGP", decimal.Zero); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("Expected ErrInvalidRate for zero rate, got %v", err)
	}

	if err := r.Set("USD", "EGP", decimal.RequireFromString("31")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	// Later updates replace the rate.
	if err := r.Set("USD", "EGP", decimal.RequireFromString("48.5")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	q, err := r.Resolve(context.Background(), "USD", "EGP", time.Now())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if q.Source != "static" || !q.Rate.Equal(decimal.RequireFromString("48.5")) {
		t.Errorf("Unexpected quote: %+v", q)
	}
}

func TestStaticResolver_CancelledContext(t *testing.T) {
	r := NewStaticResolver("static")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Resolve(ctx, "USD", "USD", time.Now()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestNewStaticResolverFromTable_Errors(t *testing.T) {
	tests := []map[string]string{
		{"USDEGP": "30"},
		{"USD/": "30"},
		{"USD/EGP": "abc"},
		{"USD/EGP": "-1"},
	}
	for _, table := range tests {
		if _, err := NewStaticResolverFromTable("t", table); err == nil {
			t.Errorf("Expected error for table %v", table)
		}
	}
}
