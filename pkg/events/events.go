// Package events carries ledger audit events to downstream consumers.
package events

import (
	"context"
	"time"

	"tenant-ledger/pkg/logging"

	"go.uber.org/zap"
)

// Event types.
const (
	TypeCreated    = "transaction.created"
	TypeTransition = "transaction.transitioned"
	TypeUpdated    = "transaction.updated"
	TypeDeleted    = "transaction.deleted"
	TypeDrift      = "account.drift_detected"
)

// Event describes one change to ledger state.
// From and To hold workflow state names for transitions and are empty otherwise.
type Event struct {
	Type          string    `json:"type"`
	Tenant        string    `json:"tenant"`
	TransactionID string    `json:"transaction_id,omitempty"`
	AccountID     string    `json:"account_id,omitempty"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// LogSink writes events as structured log entries.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink returns a sink logging through logger, or the global logger if nil.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Global()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("type", ev.Type),
		logging.Tenant(ev.Tenant),
		zap.Time("at", ev.At),
	}
	if ev.TransactionID != "" {
		fields = append(fields, logging.TransactionID(ev.TransactionID))
	}
	if ev.AccountID != "" {
		fields = append(fields, logging.AccountID(ev.AccountID))
	}
	if ev.From != "" || ev.To != "" {
		fields = append(fields, logging.Transition(ev.From, ev.To)...)
	}
	if ev.Actor != "" {
		fields = append(fields, logging.Actor(ev.Actor))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	s.logger.Info("ledger event", fields...)
	return nil
}

// Fanout delivers every event to all sinks and returns the last error.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var lastErr error
	for _, sink := range f {
		if err := sink.Publish(ctx, ev); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
