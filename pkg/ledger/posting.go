package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenant-ledger/pkg/logging"

	"go.uber.org/zap"
)

// Post runs the posting procedure on an approved transaction, or on a draft
// that does not require approval.
//
// Accounts are re-validated, the FX snapshot is captured when the currency
// differs from the tenant default, and all balance deltas are applied as one
// unit. On any failure the transaction and its accounts are left as they were.
func (l *Ledger) Post(ctx context.Context, tenant, id, actor string) (*Transaction, error) {
	start := time.Now()
	unlock := l.locks.lock(transactionKey(tenant, id))
	defer unlock()

	var (
		from   State
		kind   Kind
		posted *Transaction
	)
	current, err := l.repo.GetTransaction(ctx, tenant, id)
	if err == nil {
		from, kind = current.State(), current.Kind
		posted, err = l.post(ctx, current, actor)
	}

	l.metrics.RecordPosting(string(kind), outcome(err), time.Since(start))
	l.recordTransition(ctx, tenant, id, from, StatePosted, actor, "", start, err)
	if err != nil {
		return nil, err
	}
	return posted, nil
}

func (l *Ledger) post(ctx context.Context, tx *Transaction, actor string) (*Transaction, error) {
	switch tx.State() {
	case StateApproved:
	case StateDraft:
		if tx.RequiresApproval {
			return nil, fmt.Errorf("%w: %s requires approval before posting", ErrInvalidStateTransition, tx.ID)
		}
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, tx.State(), StatePosted)
	}

	t, err := l.tenant(ctx, tx.Tenant)
	if err != nil {
		return nil, err
	}
	next := tx.Clone()
	if err := l.validate(ctx, next); err != nil {
		return nil, err
	}
	if err := l.checkAccounts(ctx, next); err != nil {
		return nil, err
	}

	// The rate lookup is the only wait on an external dependency and happens
	// before any account lock is taken.
	if !strings.EqualFold(next.Currency(), t.DefaultCurrency) {
		snap, err := l.captureFX(ctx, next, t.DefaultCurrency)
		if err != nil {
			return nil, err
		}
		if err := next.attachFX(snap); err != nil {
			return nil, err
		}
	}

	at := l.now()
	if err := next.transition(StatePosted, actor, "", at); err != nil {
		return nil, err
	}
	next.PostedAt = at
	next.PostedBy = actor

	deltas, err := next.Deltas()
	if err != nil {
		return nil, err
	}
	if err := l.commit(ctx, tx, next, deltas, adjustPosting); err != nil {
		return nil, err
	}

	fields := []zap.Field{
		logging.Tenant(next.Tenant),
		logging.TransactionID(next.ID),
		zap.String("kind", string(next.Kind)),
		zap.Stringer("amount", next.Amount),
		zap.String("currency", next.Currency()),
	}
	if snap, ok := next.FX(); ok {
		fields = append(fields,
			zap.Stringer("fx_rate", snap.Rate),
			zap.String("fx_source", snap.RateSource),
			zap.String("fx_target", snap.TargetCurrency),
		)
	}
	l.logger.Info("transaction posted", fields...)
	return next, nil
}

// Void reverses the balance effect of a posted transaction exactly once.
// The amount and FX snapshot are retained.
func (l *Ledger) Void(ctx context.Context, tenant, id, actor, reason string) (*Transaction, error) {
	start := time.Now()
	unlock := l.locks.lock(transactionKey(tenant, id))
	defer unlock()

	var (
		from   State
		voided *Transaction
	)
	current, err := l.repo.GetTransaction(ctx, tenant, id)
	if err == nil {
		from = current.State()
		voided, err = l.void(ctx, current, actor, reason)
	}

	l.recordTransition(ctx, tenant, id, from, StateVoid, actor, reason, start, err)
	if err != nil {
		return nil, err
	}
	return voided, nil
}

func (l *Ledger) void(ctx context.Context, tx *Transaction, actor, reason string) (*Transaction, error) {
	if tx.State() != StatePosted {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, tx.State(), StateVoid)
	}

	next := tx.Clone()
	at := l.now()
	if err := next.transition(StateVoid, actor, reason, at); err != nil {
		return nil, err
	}
	next.VoidedAt = at
	next.VoidedBy = actor
	next.VoidReason = reason

	deltas, err := next.Deltas()
	if err != nil {
		return nil, err
	}
	for i := range deltas {
		deltas[i].Amount = deltas[i].Amount.Neg()
	}
	if err := l.commit(ctx, tx, next, deltas, adjustReversal); err != nil {
		return nil, err
	}

	l.logger.Info("transaction voided",
		logging.Tenant(next.Tenant),
		logging.TransactionID(next.ID),
		logging.Actor(actor),
		zap.String("reason", reason),
	)
	return next, nil
}

// commit applies deltas and stores next in place of current.
// The caller holds the transaction lock; account locks are taken here in id order.
func (l *Ledger) commit(ctx context.Context, current, next *Transaction, deltas []Delta, policy adjustPolicy) error {
	keys := make([]string, len(deltas))
	for i, d := range deltas {
		keys[i] = accountKey(next.Tenant, d.AccountID)
	}
	unlock := l.locks.lock(keys...)
	defer unlock()

	applied, err := l.applyDeltas(ctx, next.Tenant, deltas, policy)
	if err != nil {
		return err
	}

	// The transaction lock is held, so a conflict here comes from another
	// process. Retrying would mean re-running the whole procedure on a
	// record that has moved on; undo and report instead.
	if err := l.repo.UpdateTransaction(ctx, next, current.Revision); err != nil {
		l.rollback(ctx, next.Tenant, applied, "transaction_update_failed")
		return fmt.Errorf("store transaction %s: %w", next.ID, err)
	}
	return nil
}

// applyDeltas applies each delta in turn. If one fails, the deltas already
// applied are reverted before the error is returned.
func (l *Ledger) applyDeltas(ctx context.Context, tenant string, deltas []Delta, policy adjustPolicy) ([]Delta, error) {
	applied := make([]Delta, 0, len(deltas))
	for _, d := range deltas {
		if _, err := l.registry.adjustBalance(ctx, tenant, d.AccountID, d.Amount, policy); err != nil {
			l.rollback(ctx, tenant, applied, "delta_failed")
			return nil, fmt.Errorf("account %s: %w", d.AccountID, err)
		}
		applied = append(applied, d)
	}
	return applied, nil
}

// rollback reverts applied deltas in reverse order.
func (l *Ledger) rollback(ctx context.Context, tenant string, applied []Delta, reason string) {
	if len(applied) == 0 {
		return
	}
	l.metrics.RecordRollback(reason)

	// A cancelled caller context must not stop the compensation.
	ctx = context.WithoutCancel(ctx)
	for i := len(applied) - 1; i >= 0; i-- {
		d := applied[i]
		if _, err := l.registry.adjustBalance(ctx, tenant, d.AccountID, d.Amount.Neg(), adjustCompensation); err != nil {
			l.logger.Error("rollback failed, balance needs repair",
				logging.Tenant(tenant),
				logging.AccountID(d.AccountID),
				zap.Stringer("delta", d.Amount),
				zap.String("reason", reason),
				zap.Error(err),
			)
			continue
		}
		l.logger.Warn("balance delta rolled back",
			logging.Tenant(tenant),
			logging.AccountID(d.AccountID),
			zap.Stringer("delta", d.Amount),
			zap.String("reason", reason),
		)
	}
}

// checkAccounts verifies that every referenced account exists, is active and
// holds the transaction currency. Transfers between currencies are reported
// as ErrInvalidTransfer.
func (l *Ledger) checkAccounts(ctx context.Context, tx *Transaction) error {
	accounts := make([]*Account, 0, 2)
	for _, id := range tx.AccountIDs() {
		acc, err := l.repo.GetAccount(ctx, tx.Tenant, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return invalid(accountField(tx, id), err)
			}
			return err
		}
		accounts = append(accounts, acc)
	}

	if tx.Kind == KindTransfer && accounts[0].Currency != accounts[1].Currency {
		return fmt.Errorf("%w: source %s holds %s, destination %s holds %s",
			ErrInvalidTransfer, accounts[0].ID, accounts[0].Currency, accounts[1].ID, accounts[1].Currency)
	}
	for _, acc := range accounts {
		if !acc.Active {
			return fmt.Errorf("%w: %s", ErrAccountInactive, acc.ID)
		}
		if acc.Currency != tx.Currency() {
			return fmt.Errorf("%w: account %s holds %s, transaction in %s",
				ErrCurrencyMismatch, acc.ID, acc.Currency, tx.Currency())
		}
	}
	return nil
}

func accountField(tx *Transaction, id string) string {
	switch {
	case tx.Kind != KindTransfer:
		return "account_id"
	case id == tx.SourceAccountID:
		return "source_account_id"
	default:
		return "destination_account_id"
	}
}

// captureFX asks the resolver once for the rate from the transaction currency
// to the tenant default, bounded by the configured timeout.
func (l *Ledger) captureFX(ctx context.Context, tx *Transaction, target string) (FXSnapshot, error) {
	if l.config.FXTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.FXTimeout)
		defer cancel()
	}

	base := tx.Currency()
	target = strings.ToUpper(target)
	at := l.now()

	quote, err := l.resolver.Resolve(ctx, base, target, at)
	if err == nil {
		err = quote.Validate(base, target)
	}
	if err != nil {
		l.logger.Warn("fx rate unavailable",
			logging.Tenant(tx.Tenant),
			logging.TransactionID(tx.ID),
			zap.String("base", base),
			zap.String("target", target),
			zap.Error(err),
		)
		return FXSnapshot{}, fmt.Errorf("%w: %s/%s: %v", ErrFXUnavailable, base, target, err)
	}

	return FXSnapshot{
		BaseCurrency:   base,
		TargetCurrency: target,
		Rate:           quote.Rate,
		RateSource:     quote.Source,
		CapturedAt:     at,
	}, nil
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(Classify(err))
}
