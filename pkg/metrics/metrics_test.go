package metrics_test

import (
	"testing"
	"time"

	"tenant-ledger/pkg/metrics"
	"tenant-ledger/pkg/metrics/memory"
)

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state metrics.CircuitState
		want  string
	}{
		{metrics.CircuitClosed, "closed"},
		{metrics.CircuitOpen, "open"},
		{metrics.CircuitHalfOpen, "half-open"},
		{metrics.CircuitState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestFanout(t *testing.T) {
	a := memory.NewMemoryCollector()
	b := memory.NewMemoryCollector()
	var mc metrics.MetricsCollector = metrics.Fanout{a, b, metrics.NoOpCollector{}}

	mc.RecordPosting("transfer", "success", time.Millisecond)
	mc.RecordEventDropped("audit")
	mc.RecordCircuitState("fx:frankfurter", metrics.CircuitOpen)

	for name, c := range map[string]*memory.MemoryCollector{"a": a, "b": b} {
		snap := c.Snapshot()
		if snap.Postings["transfer:success"] != 1 {
			t.Errorf("%s: expected 1 posting, got %d", name, snap.Postings["transfer:success"])
		}
		if snap.EventsDropped["audit"] != 1 {
			t.Errorf("%s: expected 1 dropped event, got %d", name, snap.EventsDropped["audit"])
		}
		if snap.CircuitOpens["fx:frankfurter"] != 1 {
			t.Errorf("%s: expected 1 circuit open, got %d", name, snap.CircuitOpens["fx:frankfurter"])
		}
	}
}
