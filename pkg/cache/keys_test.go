package cache

import (
	"errors"
	"strings"
	"testing"
	"time"

	"tenant-ledger/pkg/fx"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"rate key", fx.Key("usd", "egp", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)), false},
		{"empty", "", true},
		{"too long", strings.Repeat("k", MaxKeyLength+1), true},
		{"max length", strings.Repeat("k", MaxKeyLength), false},
		{"space", "fx:USD EGP", true},
		{"control", "fx:\x00", true},
		{"newline", "fx:USD\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Expected ErrInvalidKey, got %v", err)
			}
		})
	}
}
