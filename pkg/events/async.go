package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tenant-ledger/pkg/logging"
	"tenant-ledger/pkg/metrics"

	"go.uber.org/zap"
)

// Errors returned by the async publisher.
var (
	// ErrQueueFull is returned when the queue stayed full for MaxWaitTime
	ErrQueueFull = errors.New("events: queue full, event dropped")

	// ErrPublisherClosed is returned when publishing to a closed publisher
	ErrPublisherClosed = errors.New("events: publisher is closed")

	// ErrFlushTimeout is returned when Flush() times out waiting for the queue to drain
	ErrFlushTimeout = errors.New("events: flush timeout exceeded")
)

// AsyncPublisher delivers events to a Sink from a worker pool fed by a bounded queue.
// Publishing never blocks the ledger for longer than MaxWaitTime.
type AsyncPublisher struct {
	sink       Sink
	name       string
	queue      chan Event
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     AsyncPublisherConfig
	metrics    metrics.MetricsCollector
	logger     *logging.Logger
	closeOnce  sync.Once

	// Statistics (accessed atomically)
	dropped   int64
	accepted  int64
	failed    int64
	delivered int64

	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

// AsyncPublisherConfig configures the async publisher.
type AsyncPublisherConfig struct {
	// Name labels metrics and logs (default: "events")
	Name string `yaml:"name"`

	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int `yaml:"queue_size"`

	// Workers is the number of concurrent workers (default: 2)
	Workers int `yaml:"workers"`

	// MaxWaitTime is how long Publish waits on a full queue before dropping (default: 10ms)
	MaxWaitTime time.Duration `yaml:"max_wait_time"`

	// DeliveryTimeout bounds each call into the sink (default: 5s)
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// DefaultAsyncPublisherConfig returns the defaults applied to zero fields.
func DefaultAsyncPublisherConfig() AsyncPublisherConfig {
	return AsyncPublisherConfig{
		Name:            "events",
		QueueSize:       1000,
		Workers:         2,
		MaxWaitTime:     10 * time.Millisecond,
		DeliveryTimeout: 5 * time.Second,
	}
}

// NewAsyncPublisher creates a publisher that starts delivering immediately.
// It must be closed with Close().
func NewAsyncPublisher(sink Sink, config AsyncPublisherConfig) *AsyncPublisher {
	return NewAsyncPublisherWithMetrics(sink, config, metrics.NoOpCollector{})
}

// NewAsyncPublisherWithMetrics creates a publisher reporting to the given collector.
func NewAsyncPublisherWithMetrics(sink Sink, config AsyncPublisherConfig, metricsCollector metrics.MetricsCollector) *AsyncPublisher {
	defaults := DefaultAsyncPublisherConfig()
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = defaults.MaxWaitTime
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = defaults.DeliveryTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &AsyncPublisher{
		sink:          sink,
		name:          config.Name,
		queue:         make(chan Event, config.QueueSize),
		ctx:           ctx,
		cancelFunc:    cancel,
		config:        config,
		metrics:       metricsCollector,
		logger:        logging.Global().Named("events").Named(config.Name),
		metricsTicker: time.NewTicker(5 * time.Second),
		metricsStop:   make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	go p.reportMetrics()

	return p
}

// Publish enqueues ev. If the queue is full it waits up to MaxWaitTime,
// then drops the event and returns ErrQueueFull.
func (p *AsyncPublisher) Publish(ctx context.Context, ev Event) error {
	select {
	case <-p.ctx.Done():
		return ErrPublisherClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	timer := time.NewTimer(p.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case p.queue <- ev:
		atomic.AddInt64(&p.accepted, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&p.dropped, 1)
		p.metrics.RecordEventDropped(p.name)
		p.logger.Warn("event dropped", zap.String("type", ev.Type), logging.Tenant(ev.Tenant))
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPublisherClosed
	}
}

func (p *AsyncPublisher) worker() {
	defer p.wg.Done()

	for {
		select {
		case ev := <-p.queue:
			p.deliver(ev)
		case <-p.ctx.Done():
			// Drain what is left before exiting
			for {
				select {
				case ev := <-p.queue:
					p.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *AsyncPublisher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	err := p.sink.Publish(ctx, ev)
	p.metrics.RecordEventPublished(p.name, err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		p.logger.Error("event delivery failed",
			zap.String("type", ev.Type),
			logging.Tenant(ev.Tenant),
			zap.Error(err),
		)
		return
	}
	atomic.AddInt64(&p.delivered, 1)
}

// Flush waits until every accepted event has been delivered or failed, or timeout passes.
func (p *AsyncPublisher) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		s := p.Stats()
		if s.Delivered+s.Failed >= s.Accepted {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops accepting events, delivers what is queued and waits for the workers.
func (p *AsyncPublisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.metricsStop)
		p.metricsTicker.Stop()
		p.cancelFunc()
		p.wg.Wait()
	})
	return nil
}

func (p *AsyncPublisher) reportMetrics() {
	for {
		select {
		case <-p.metricsTicker.C:
			p.metrics.RecordQueueDepth(p.name, len(p.queue))
		case <-p.metricsStop:
			return
		}
	}
}

// AsyncPublisherStats provides statistics about publisher operations.
type AsyncPublisherStats struct {
	// QueueDepth is the number of events waiting for a worker
	QueueDepth int

	// Accepted is the number of events enqueued
	Accepted int64

	// Dropped is the number of events rejected under backpressure
	Dropped int64

	// Delivered is the number of events the sink accepted
	Delivered int64

	// Failed is the number of events the sink returned an error for
	Failed int64
}

// Stats returns current statistics.
func (p *AsyncPublisher) Stats() AsyncPublisherStats {
	return AsyncPublisherStats{
		QueueDepth: len(p.queue),
		Accepted:   atomic.LoadInt64(&p.accepted),
		Dropped:    atomic.LoadInt64(&p.dropped),
		Delivered:  atomic.LoadInt64(&p.delivered),
		Failed:     atomic.LoadInt64(&p.failed),
	}
}
