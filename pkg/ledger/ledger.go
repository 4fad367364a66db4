// Package ledger implements a tenant-scoped single-entry account ledger.
//
// Accounts hold one running balance in a fixed currency. Transactions move
// through draft, pending_approval, approved and posted, with void and rejected
// as terminal branches. Posting freezes an FX snapshot when the transaction
// currency differs from the tenant default, then applies every balance delta
// under per-account locks as a single unit: either all deltas are stored or
// none are.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tenant-ledger/pkg/events"
	"tenant-ledger/pkg/fx"
	"tenant-ledger/pkg/logging"
	"tenant-ledger/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the ledger.
type Config struct {
	// MaxConflictRetries bounds the internal optimistic-concurrency retries
	// of a single store update before ErrConflict is surfaced.
	MaxConflictRetries int `yaml:"max_conflict_retries"`

	// FXTimeout bounds the rate lookup of a posting. Zero means the caller's context alone.
	FXTimeout time.Duration `yaml:"fx_timeout"`
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		MaxConflictRetries: 3,
		FXTimeout:          5 * time.Second,
	}
}

// WithFXTimeout returns a copy of the config with the specified FX timeout.
func (c Config) WithFXTimeout(timeout time.Duration) Config {
	c.FXTimeout = timeout
	return c
}

// WithMaxConflictRetries returns a copy of the config with the specified retry bound.
func (c Config) WithMaxConflictRetries(n int) Config {
	c.MaxConflictRetries = n
	return c
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxConflictRetries < 0 {
		return fmt.Errorf("ledger: max conflict retries must not be negative, got %d", c.MaxConflictRetries)
	}
	if c.FXTimeout < 0 {
		return fmt.Errorf("ledger: fx timeout must not be negative, got %s", c.FXTimeout)
	}
	return nil
}

// Classifier validates classification references and stamps their display names.
// It returns ErrUnknownReference for ids that do not resolve.
type Classifier interface {
	Classify(ctx context.Context, tenant string, c Classification) (Classification, error)
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger; the ledger logs under the "ledger" name.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Ledger) { l.logger = logger.Named("ledger") }
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector metrics.MetricsCollector) Option {
	return func(l *Ledger) { l.metrics = collector }
}

// WithSink sets where audit events are published.
func WithSink(sink events.Sink) Option {
	return func(l *Ledger) { l.sink = sink }
}

// WithClassifier sets the classification directory.
func WithClassifier(c Classifier) Option {
	return func(l *Ledger) { l.classifier = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator replaces the uuid generator used for new records.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// Ledger is the transaction state machine engine. It is safe for concurrent use.
type Ledger struct {
	repo       Repository
	tenants    TenantDirectory
	resolver   fx.Resolver
	classifier Classifier
	sink       events.Sink
	config     Config
	locks      *lockTable
	logger     *logging.Logger
	metrics    metrics.MetricsCollector
	now        func() time.Time
	newID      func() string

	registry  *Registry
	projector *Projector
}

// New creates a ledger over repo. resolver is consulted only when posting
// a transaction whose currency differs from the tenant default.
func New(repo Repository, tenants TenantDirectory, resolver fx.Resolver, config Config, opts ...Option) (*Ledger, error) {
	if repo == nil {
		return nil, errors.New("ledger: repository required")
	}
	if tenants == nil {
		return nil, errors.New("ledger: tenant directory required")
	}
	if resolver == nil {
		return nil, errors.New("ledger: fx resolver required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &Ledger{
		repo:     repo,
		tenants:  tenants,
		resolver: resolver,
		sink:     events.Discard,
		config:   config,
		locks:    newLockTable(),
		logger:   logging.Global().Named("ledger"),
		metrics:  metrics.NoOpCollector{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.registry = &Registry{ledger: l}
	l.projector = NewProjector(repo)

	l.logger.Info("ledger initialized",
		zap.Int("max_conflict_retries", config.MaxConflictRetries),
		zap.Duration("fx_timeout", config.FXTimeout),
	)
	return l, nil
}

// Accounts returns the account registry sharing this ledger's store and locks.
func (l *Ledger) Accounts() *Registry {
	return l.registry
}

// Projector returns the balance projector over this ledger's store.
func (l *Ledger) Projector() *Projector {
	return l.projector
}

// retry runs fn until it returns something other than ErrConflict or the
// retry budget is spent. fn must reload whatever it writes.
func (l *Ledger) retry(resource string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt >= l.config.MaxConflictRetries {
			return fmt.Errorf("%s: retries exhausted after %d attempts: %w", resource, attempt+1, err)
		}
		l.metrics.RecordConflictRetry(resource)
		l.logger.Debug("conflict, retrying", zap.String("resource", resource), zap.Int("attempt", attempt+1))
	}
}

func (l *Ledger) publish(ctx context.Context, ev events.Event) {
	if ev.At.IsZero() {
		ev.At = l.now()
	}
	if err := l.sink.Publish(ctx, ev); err != nil {
		l.logger.Warn("event not published",
			zap.String("type", ev.Type),
			logging.Tenant(ev.Tenant),
			logging.TransactionID(ev.TransactionID),
			zap.Error(err),
		)
	}
}

func (l *Ledger) tenant(ctx context.Context, id string) (Tenant, error) {
	if id == "" {
		return Tenant{}, invalid("tenant", ErrMissingField)
	}
	return l.tenants.Tenant(ctx, id)
}
