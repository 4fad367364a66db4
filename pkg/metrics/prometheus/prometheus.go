package prometheus

import (
	"time"

	"tenant-ledger/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
// It also implements prometheus.Collector so it can be registered as a single unit.
type PrometheusCollector struct {
	namespace string

	// Ledger
	transitions     *prometheus.CounterVec
	transitionTime  *prometheus.HistogramVec
	postings        *prometheus.CounterVec
	postingLatency  *prometheus.HistogramVec
	conflictRetries *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
	balanceDrift    *prometheus.GaugeVec

	// FX
	fxLookups     *prometheus.CounterVec
	fxLatency     *prometheus.HistogramVec
	rateCacheGets *prometheus.CounterVec
	rateCacheTime *prometheus.HistogramVec
	circuitOpens  *prometheus.CounterVec
	circuitState  *prometheus.GaugeVec

	// Events
	queueDepth     *prometheus.GaugeVec
	droppedEvents  *prometheus.CounterVec
	publishedTotal *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	latency := prometheus.ExponentialBuckets(0.0001, 2, 15) // 0.1ms to ~3s

	return &PrometheusCollector{
		namespace: namespace,
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Transaction state transitions by source state, target state and outcome",
			},
			[]string{"from", "to", "outcome"},
		),
		transitionTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transition_duration_seconds",
				Help:      "Transaction state transition latency",
				Buckets:   latency,
			},
			[]string{"to"},
		),
		postings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postings_total",
				Help:      "Posting procedure runs by transaction kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		postingLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "posting_duration_seconds",
				Help:      "Posting procedure latency including FX resolution",
				Buckets:   latency,
			},
			[]string{"kind"},
		),
		conflictRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflict_retries_total",
				Help:      "Optimistic concurrency retries per resource type",
			},
			[]string{"resource"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Balance deltas reverted after a failed posting step",
			},
			[]string{"reason"},
		),
		balanceDrift: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "balance_drift",
				Help:      "Stored minus projected balance in major units, per account",
			},
			[]string{"tenant", "account"},
		),
		fxLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fx_lookups_total",
				Help:      "FX rate resolutions by source and status",
			},
			[]string{"source", "status"},
		),
		fxLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fx_lookup_duration_seconds",
				Help:      "FX rate resolution latency",
				Buckets:   latency,
			},
			[]string{"source"},
		),
		rateCacheGets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_cache_gets_total",
				Help:      "Rate cache lookups by layer and result",
			},
			[]string{"layer", "result"},
		),
		rateCacheTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rate_cache_get_duration_seconds",
				Help:      "Rate cache lookup latency",
				Buckets:   latency,
			},
			[]string{"layer"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"name"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_queue_depth",
				Help:      "Current event publisher queue depth",
			},
			[]string{"publisher"},
		),
		droppedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events dropped because the publisher queue was full",
			},
			[]string{"publisher"},
		),
		publishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Events delivered to the sink by status",
			},
			[]string{"publisher", "status"},
		),
		publishLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_publish_duration_seconds",
				Help:      "Event sink delivery latency",
				Buckets:   latency,
			},
			[]string{"publisher"},
		),
	}
}

func (pc *PrometheusCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		pc.transitions,
		pc.transitionTime,
		pc.postings,
		pc.postingLatency,
		pc.conflictRetries,
		pc.rollbacks,
		pc.balanceDrift,
		pc.fxLookups,
		pc.fxLatency,
		pc.rateCacheGets,
		pc.rateCacheTime,
		pc.circuitOpens,
		pc.circuitState,
		pc.queueDepth,
		pc.droppedEvents,
		pc.publishedTotal,
		pc.publishLatency,
	}
}

// Register registers all metrics with the given Prometheus registerer.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	for _, collector := range pc.collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Describe implements prometheus.Collector.
func (pc *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range pc.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (pc *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, c := range pc.collectors() {
		c.Collect(ch)
	}
}

// RecordTransition records a state machine transition attempt.
func (pc *PrometheusCollector) RecordTransition(from, to string, outcome string, duration time.Duration) {
	pc.transitions.WithLabelValues(from, to, outcome).Inc()
	pc.transitionTime.WithLabelValues(to).Observe(duration.Seconds())
}

// RecordPosting records a run of the posting procedure.
func (pc *PrometheusCollector) RecordPosting(kind string, outcome string, duration time.Duration) {
	pc.postings.WithLabelValues(kind, outcome).Inc()
	pc.postingLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordConflictRetry records an optimistic concurrency retry.
func (pc *PrometheusCollector) RecordConflictRetry(resource string) {
	pc.conflictRetries.WithLabelValues(resource).Inc()
}

// RecordRollback records a compensated partial posting.
func (pc *PrometheusCollector) RecordRollback(reason string) {
	pc.rollbacks.WithLabelValues(reason).Inc()
}

// RecordBalanceDrift records the latest drift observed for an account.
func (pc *PrometheusCollector) RecordBalanceDrift(tenant, account string, drift float64) {
	pc.balanceDrift.WithLabelValues(tenant, account).Set(drift)
}

// RecordFXLookup records a rate resolution.
func (pc *PrometheusCollector) RecordFXLookup(source string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.fxLookups.WithLabelValues(source, status).Inc()
	pc.fxLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordRateCacheGet records a rate cache lookup.
func (pc *PrometheusCollector) RecordRateCacheGet(layer string, hit bool, duration time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	pc.rateCacheGets.WithLabelValues(layer, result).Inc()
	pc.rateCacheTime.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordQueueDepth records the current publisher queue depth.
func (pc *PrometheusCollector) RecordQueueDepth(publisher string, depth int) {
	pc.queueDepth.WithLabelValues(publisher).Set(float64(depth))
}

// RecordEventDropped records an event dropped under backpressure.
func (pc *PrometheusCollector) RecordEventDropped(publisher string) {
	pc.droppedEvents.WithLabelValues(publisher).Inc()
}

// RecordEventPublished records delivery of an event to its sink.
func (pc *PrometheusCollector) RecordEventPublished(publisher string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.publishedTotal.WithLabelValues(publisher, status).Inc()
	pc.publishLatency.WithLabelValues(publisher).Observe(duration.Seconds())
}
