package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"tenant-ledger/pkg/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSink_Publish(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(&logging.Logger{Logger: zap.New(core)})

	ev := Event{
		Type:          TypeTransition,
		Tenant:        "acme",
		TransactionID: "tx-1",
		From:          "approved",
		To:            "posted",
		Actor:         "alice",
		At:            time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := sink.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	expected := map[string]string{
		"type":           TypeTransition,
		"tenant":         "acme",
		"transaction_id": "tx-1",
		"from_state":     "approved",
		"to_state":       "posted",
		"actor":          "alice",
	}
	for key, want := range expected {
		if got, _ := fields[key].(string); got != want {
			t.Errorf("Field %s: expected %q, got %q", key, want, got)
		}
	}
	if _, ok := fields["account_id"]; ok {
		t.Error("Expected no account_id field for a transaction event")
	}
	if _, ok := fields["reason"]; ok {
		t.Error("Expected no reason field when reason is empty")
	}
}

func TestLogSink_NilLogger(t *testing.T) {
	sink := NewLogSink(nil)
	if err := sink.Publish(context.Background(), Event{Type: TypeDrift, Tenant: "acme"}); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
}

func TestFanout(t *testing.T) {
	var calls []string
	boom := errors.New("boom")

	fanout := Fanout{
		SinkFunc(func(_ context.Context, ev Event) error {
			calls = append(calls, "first:"+ev.Type)
			return nil
		}),
		SinkFunc(func(_ context.Context, ev Event) error {
			calls = append(calls, "second:"+ev.Type)
			return boom
		}),
		SinkFunc(func(_ context.Context, ev Event) error {
			calls = append(calls, "third:"+ev.Type)
			return nil
		}),
	}

	err := fanout.Publish(context.Background(), Event{Type: TypeCreated})
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("Expected every sink to be called, got %v", calls)
	}
	if calls[2] != "third:"+TypeCreated {
		t.Errorf("Expected sinks in order, got %v", calls)
	}
}

func TestDiscard(t *testing.T) {
	if err := Discard.Publish(context.Background(), Event{Type: TypeDeleted}); err != nil {
		t.Errorf("Discard returned %v", err)
	}
}
