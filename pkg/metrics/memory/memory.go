package memory

import (
	"sync"
	"time"

	"tenant-ledger/pkg/metrics"
)

// MemoryCollector implements MetricsCollector in memory.
// It backs the JSON metrics endpoint and lets tests assert on recorded values.
type MemoryCollector struct {
	mu sync.RWMutex

	transitions map[string]int64 // "from->to:outcome"
	postings    map[string]int64 // "kind:outcome"
	conflicts   map[string]int64
	rollbacks   map[string]int64
	drifts      map[string]float64 // "tenant/account"

	fxLookups  map[string]*LookupStats
	cacheGets  map[string]*LookupStats
	circuits   map[string]metrics.CircuitState
	circuitOps map[string]int64

	queueDepth map[string]int
	dropped    map[string]int64
	published  map[string]*LookupStats
}

// LookupStats counts successes and failures of a repeated operation.
type LookupStats struct {
	Successes int64
	Failures  int64
	Latencies []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.reset()
	return mc
}

func (mc *MemoryCollector) reset() {
	mc.transitions = make(map[string]int64)
	mc.postings = make(map[string]int64)
	mc.conflicts = make(map[string]int64)
	mc.rollbacks = make(map[string]int64)
	mc.drifts = make(map[string]float64)
	mc.fxLookups = make(map[string]*LookupStats)
	mc.cacheGets = make(map[string]*LookupStats)
	mc.circuits = make(map[string]metrics.CircuitState)
	mc.circuitOps = make(map[string]int64)
	mc.queueDepth = make(map[string]int)
	mc.dropped = make(map[string]int64)
	mc.published = make(map[string]*LookupStats)
}

func record(m map[string]*LookupStats, key string, ok bool, d time.Duration) {
	s, exists := m[key]
	if !exists {
		s = &LookupStats{}
		m[key] = s
	}
	if ok {
		s.Successes++
	} else {
		s.Failures++
	}
	s.Latencies = append(s.Latencies, d)
}

// RecordTransition records a state machine transition attempt.
func (mc *MemoryCollector) RecordTransition(from, to string, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.transitions[from+"->"+to+":"+outcome]++
}

// RecordPosting records a run of the posting procedure.
func (mc *MemoryCollector) RecordPosting(kind string, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.postings[kind+":"+outcome]++
}

// RecordConflictRetry records an optimistic concurrency retry.
func (mc *MemoryCollector) RecordConflictRetry(resource string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.conflicts[resource]++
}

// RecordRollback records a compensated partial posting.
func (mc *MemoryCollector) RecordRollback(reason string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.rollbacks[reason]++
}

// RecordBalanceDrift records the latest drift observed for an account.
func (mc *MemoryCollector) RecordBalanceDrift(tenant, account string, drift float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.drifts[tenant+"/"+account] = drift
}

// RecordFXLookup records a rate resolution.
func (mc *MemoryCollector) RecordFXLookup(source string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	record(mc.fxLookups, source, success, duration)
}

// RecordRateCacheGet records a rate cache lookup.
func (mc *MemoryCollector) RecordRateCacheGet(layer string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	record(mc.cacheGets, layer, hit, duration)
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	old := mc.circuits[name]
	mc.circuits[name] = state
	if old != metrics.CircuitOpen && state == metrics.CircuitOpen {
		mc.circuitOps[name]++
	}
}

// RecordQueueDepth records the current publisher queue depth.
func (mc *MemoryCollector) RecordQueueDepth(publisher string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.queueDepth[publisher] = depth
}

// RecordEventDropped records an event dropped under backpressure.
func (mc *MemoryCollector) RecordEventDropped(publisher string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.dropped[publisher]++
}

// RecordEventPublished records delivery of an event to its sink.
func (mc *MemoryCollector) RecordEventPublished(publisher string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	record(mc.published, publisher, success, duration)
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Transitions   map[string]int64                `json:"transitions"`
	Postings      map[string]int64                `json:"postings"`
	Conflicts     map[string]int64                `json:"conflicts"`
	Rollbacks     map[string]int64                `json:"rollbacks"`
	Drifts        map[string]float64              `json:"drifts"`
	FXLookups     map[string]LookupStats          `json:"fx_lookups"`
	CacheGets     map[string]LookupStats          `json:"cache_gets"`
	Circuits      map[string]metrics.CircuitState `json:"circuits"`
	CircuitOpens  map[string]int64                `json:"circuit_opens"`
	QueueDepth    map[string]int                  `json:"queue_depth"`
	EventsDropped map[string]int64                `json:"events_dropped"`
	Published     map[string]LookupStats          `json:"published"`
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return Snapshot{
		Transitions:   copyMap(mc.transitions),
		Postings:      copyMap(mc.postings),
		Conflicts:     copyMap(mc.conflicts),
		Rollbacks:     copyMap(mc.rollbacks),
		Drifts:        copyMap(mc.drifts),
		FXLookups:     copyStats(mc.fxLookups),
		CacheGets:     copyStats(mc.cacheGets),
		Circuits:      copyMap(mc.circuits),
		CircuitOpens:  copyMap(mc.circuitOps),
		QueueDepth:    copyMap(mc.queueDepth),
		EventsDropped: copyMap(mc.dropped),
		Published:     copyStats(mc.published),
	}
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.reset()
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStats(m map[string]*LookupStats) map[string]LookupStats {
	out := make(map[string]LookupStats, len(m))
	for k, v := range m {
		s := *v
		s.Latencies = append([]time.Duration(nil), v.Latencies...)
		out[k] = s
	}
	return out
}
