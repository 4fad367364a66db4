package cache

import (
	"errors"
	"strings"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrKeyNotFound", ErrKeyNotFound, true},
		{"wrapped ErrKeyNotFound", WrapError(ErrKeyNotFound, "L1", "get"), true},
		{"other error", ErrInvalidKey, false},
		{"nil error", nil, false},
		{"custom error", errors.New("custom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.expected {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	wrapped := WrapError(ErrTimeout, "redis", "set")
	if !IsTimeout(wrapped) {
		t.Error("Expected wrapped ErrTimeout to be a timeout")
	}
	if IsTimeout(errors.New("network timeout")) {
		t.Error("Plain errors must not match ErrTimeout")
	}
	if !IsUnavailable(WrapError(ErrLayerUnavailable, "redis", "get")) {
		t.Error("Expected wrapped ErrLayerUnavailable to be unavailable")
	}
	if !IsCircuitOpen(ErrCircuitOpen) {
		t.Error("Expected ErrCircuitOpen to be detected")
	}
	if WrapError(nil, "L1", "get") != nil {
		t.Error("WrapError(nil) should be nil")
	}
	if msg := wrapped.Error(); !strings.Contains(msg, "redis") || !strings.Contains(msg, "set") {
		t.Errorf("Expected layer and operation in message, got %q", msg)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, "none"},
		{ErrCircuitOpen, "circuit_breaker_open"},
		{ErrTimeout, "timeout"},
		{ErrKeyNotFound, "key_not_found"},
		{ErrLayerUnavailable, "unavailable"},
		{ErrInvalidKey, "invalid_key"},
		{errors.New("dial tcp: Connection refused"), "connection"},
		{errors.New("failed to unmarshal quote"), "serialization"},
		{errors.New("redis: READONLY"), "backend"},
		{errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expected {
			t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.expected)
		}
	}
}
