package ledger

import (
	"context"
	"fmt"
	"strings"

	"tenant-ledger/pkg/logging"
	"tenant-ledger/pkg/money"

	"go.uber.org/zap"
)

// Registry owns account identity, currency and balance.
// Balances change only through the Ledger; the registry exposes no public mutator for them.
type Registry struct {
	ledger *Ledger
}

// CreateAccountRequest describes a new account.
type CreateAccountRequest struct {
	Name     string      `json:"name"`
	Kind     AccountKind `json:"kind"`
	Currency string      `json:"currency"`

	// InitialBalance is a decimal string in major units; empty means zero.
	InitialBalance string `json:"initial_balance"`
}

// CreateAccount creates an active account whose balance equals the initial balance.
func (r *Registry) CreateAccount(ctx context.Context, tenant string, req CreateAccountRequest) (*Account, error) {
	l := r.ledger
	if _, err := l.tenant(ctx, tenant); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name", ErrMissingField)
	}
	kind, err := ParseAccountKind(string(req.Kind))
	if err != nil {
		return nil, err
	}
	cur, err := money.LookupCurrency(req.Currency)
	if err != nil {
		return nil, invalid("currency", err)
	}

	initial := money.Zero(cur.Code)
	if strings.TrimSpace(req.InitialBalance) != "" {
		initial, err = money.Parse(req.InitialBalance, cur.Code)
		if err != nil {
			return nil, invalid("initial_balance", err)
		}
	}

	now := l.now()
	acc := &Account{
		ID:             l.newID(),
		Tenant:         tenant,
		Name:           strings.TrimSpace(req.Name),
		Kind:           kind,
		Currency:       cur.Code,
		Balance:        initial,
		InitialBalance: initial,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.repo.InsertAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}

	l.logger.Info("account created",
		logging.Tenant(tenant),
		logging.AccountID(acc.ID),
		zap.String("currency", acc.Currency),
		zap.Stringer("initial_balance", initial),
	)
	return acc, nil
}

// GetAccount returns the account or ErrNotFound.
func (r *Registry) GetAccount(ctx context.Context, tenant, id string) (*Account, error) {
	return r.ledger.repo.GetAccount(ctx, tenant, id)
}

// ListAccounts returns every account of the tenant.
func (r *Registry) ListAccounts(ctx context.Context, tenant string) ([]*Account, error) {
	return r.ledger.repo.ListAccounts(ctx, tenant)
}

// Balance returns the stored running balance of the account.
func (r *Registry) Balance(ctx context.Context, tenant, id string) (money.Amount, error) {
	acc, err := r.GetAccount(ctx, tenant, id)
	if err != nil {
		return money.Amount{}, err
	}
	return acc.Balance, nil
}

// Deactivate hides the account from new transactions. Reads keep working.
func (r *Registry) Deactivate(ctx context.Context, tenant, id string) (*Account, error) {
	return r.setActive(ctx, tenant, id, false)
}

// Reactivate makes a deactivated account usable again.
func (r *Registry) Reactivate(ctx context.Context, tenant, id string) (*Account, error) {
	return r.setActive(ctx, tenant, id, true)
}

func (r *Registry) setActive(ctx context.Context, tenant, id string, active bool) (*Account, error) {
	l := r.ledger
	unlock := l.locks.lock(accountKey(tenant, id))
	defer unlock()

	var out *Account
	err := l.retry("account", func() error {
		current, err := l.repo.GetAccount(ctx, tenant, id)
		if err != nil {
			return err
		}
		if current.Active == active {
			out = current
			return nil
		}
		next := current.Clone()
		next.Active = active
		next.UpdatedAt = l.now()
		if err := l.repo.UpdateAccount(ctx, next, current.Revision); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("account activity changed",
		logging.Tenant(tenant),
		logging.AccountID(id),
		zap.Bool("active", active),
	)
	return out, nil
}

// adjustPolicy selects the checks applied to a balance delta.
type adjustPolicy int

const (
	// adjustPosting rejects any delta on an inactive account.
	adjustPosting adjustPolicy = iota
	// adjustReversal rejects debits on an inactive account.
	adjustReversal
	// adjustCompensation undoes a delta applied moments earlier and skips the activity check.
	adjustCompensation
)

// adjustBalance applies a signed delta to the stored balance.
// The caller holds the account lock. Store conflicts are retried.
func (r *Registry) adjustBalance(ctx context.Context, tenant, id string, delta money.Amount, policy adjustPolicy) (*Account, error) {
	l := r.ledger

	var out *Account
	err := l.retry("account", func() error {
		current, err := l.repo.GetAccount(ctx, tenant, id)
		if err != nil {
			return err
		}
		if current.Currency != delta.Currency() {
			return fmt.Errorf("%w: account %s holds %s, delta in %s",
				ErrCurrencyMismatch, id, current.Currency, delta.Currency())
		}
		if !current.Active {
			switch {
			case policy == adjustPosting:
				return fmt.Errorf("%w: %s", ErrAccountInactive, id)
			case policy == adjustReversal && delta.IsNegative():
				return fmt.Errorf("%w: cannot debit %s", ErrAccountInactive, id)
			}
		}

		balance, err := current.Balance.Add(delta)
		if err != nil {
			return err
		}
		next := current.Clone()
		next.Balance = balance
		next.UpdatedAt = l.now()
		if err := l.repo.UpdateAccount(ctx, next, current.Revision); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}
