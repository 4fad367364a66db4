package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"tenant-ledger/pkg/events"
	"tenant-ledger/pkg/logging"
	"tenant-ledger/pkg/money"

	"go.uber.org/zap"
)

// Projector derives balances from transaction history.
type Projector struct {
	repo Repository
}

// NewProjector returns a projector reading from repo.
func NewProjector(repo Repository) *Projector {
	return &Projector{repo: repo}
}

type balanceEntry struct {
	at       time.Time
	sequence uint64
	delta    money.Amount
}

// ProjectBalance folds the initial balance with the delta of every transaction
// posted at or before asOf, in posting order with ties broken by sequence.
// A voided transaction contributes from its posting until its voiding.
// A zero asOf projects the full history.
func (p *Projector) ProjectBalance(ctx context.Context, tenant, accountID string, asOf time.Time) (money.Amount, error) {
	acc, err := p.repo.GetAccount(ctx, tenant, accountID)
	if err != nil {
		return money.Amount{}, err
	}
	txs, err := p.repo.ListTransactions(ctx, tenant, TransactionFilter{
		AccountID:    accountID,
		States:       []State{StatePosted, StateVoid},
		PostedBefore: asOf,
	})
	if err != nil {
		return money.Amount{}, err
	}

	entries := make([]balanceEntry, 0, len(txs))
	for _, tx := range txs {
		deltas, err := tx.Deltas()
		if err != nil {
			return money.Amount{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		for _, d := range deltas {
			if d.AccountID != accountID {
				continue
			}
			entries = append(entries, balanceEntry{at: tx.PostedAt, sequence: tx.Sequence, delta: d.Amount})
			if tx.State() == StateVoid && (asOf.IsZero() || !tx.VoidedAt.After(asOf)) {
				entries = append(entries, balanceEntry{at: tx.VoidedAt, sequence: tx.Sequence, delta: d.Amount.Neg()})
			}
		}
	}

	slices.SortStableFunc(entries, func(a, b balanceEntry) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return cmp.Compare(a.sequence, b.sequence)
	})

	balance := acc.InitialBalance
	for _, e := range entries {
		if balance, err = balance.Add(e.delta); err != nil {
			return money.Amount{}, err
		}
	}
	return balance, nil
}

// Drift compares the stored running balance with the projected one.
type Drift struct {
	AccountID  string       `json:"account_id"`
	Stored     money.Amount `json:"stored"`
	Projected  money.Amount `json:"projected"`
	Difference money.Amount `json:"difference"`
}

// OK reports whether stored and projected balances agree.
func (d Drift) OK() bool {
	return d.Difference.IsZero()
}

// Drift returns the difference between the stored and projected balance as of now.
func (p *Projector) Drift(ctx context.Context, tenant, accountID string, now time.Time) (Drift, error) {
	acc, err := p.repo.GetAccount(ctx, tenant, accountID)
	if err != nil {
		return Drift{}, err
	}
	projected, err := p.ProjectBalance(ctx, tenant, accountID, now)
	if err != nil {
		return Drift{}, err
	}
	diff, err := acc.Balance.Sub(projected)
	if err != nil {
		return Drift{}, err
	}
	return Drift{AccountID: accountID, Stored: acc.Balance, Projected: projected, Difference: diff}, nil
}

// ProjectBalance returns the account balance as of asOf from transaction history.
func (l *Ledger) ProjectBalance(ctx context.Context, tenant, accountID string, asOf time.Time) (money.Amount, error) {
	return l.projector.ProjectBalance(ctx, tenant, accountID, asOf)
}

// VerifyBalance reports drift between the stored and projected balance.
// A non-zero drift is logged and recorded as a data-integrity warning; the
// stored balance is never corrected.
func (l *Ledger) VerifyBalance(ctx context.Context, tenant, accountID string) (Drift, error) {
	// Hold the account lock so no posting lands between the two reads.
	unlock := l.locks.lock(accountKey(tenant, accountID))
	defer unlock()

	drift, err := l.projector.Drift(ctx, tenant, accountID, l.now())
	if err != nil {
		return Drift{}, err
	}

	f, _ := drift.Difference.Decimal().Float64()
	l.metrics.RecordBalanceDrift(tenant, accountID, f)
	if !drift.OK() {
		l.logger.ForTenant(tenant).Warn("balance drift detected",
			logging.AccountID(accountID),
			zap.Stringer("stored", drift.Stored),
			zap.Stringer("projected", drift.Projected),
			zap.Stringer("difference", drift.Difference),
		)
		l.publish(ctx, events.Event{
			Type:      events.TypeDrift,
			Tenant:    tenant,
			AccountID: accountID,
			Reason:    fmt.Sprintf("stored %s, projected %s", drift.Stored, drift.Projected),
		})
	}
	return drift, nil
}
