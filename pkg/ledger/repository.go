package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Repository is the persistence boundary of the ledger.
//
// Implementations return copies: mutating a returned record never changes
// stored state until it is written back. Updates are compare-and-swap on
// Revision: they fail with ErrConflict when the stored revision differs from
// expectedRevision, and on success store and set Revision = expectedRevision+1.
// Inserts store Revision 1. Missing records yield ErrNotFound.
type Repository interface {
	GetAccount(ctx context.Context, tenant, id string) (*Account, error)
	InsertAccount(ctx context.Context, acc *Account) error
	UpdateAccount(ctx context.Context, acc *Account, expectedRevision uint64) error
	ListAccounts(ctx context.Context, tenant string) ([]*Account, error)

	// NextSequence returns the next transaction sequence number of the tenant, starting at 1.
	NextSequence(ctx context.Context, tenant string) (uint64, error)
	GetTransaction(ctx context.Context, tenant, id string) (*Transaction, error)
	InsertTransaction(ctx context.Context, tx *Transaction) error
	UpdateTransaction(ctx context.Context, tx *Transaction, expectedRevision uint64) error
	DeleteTransaction(ctx context.Context, tenant, id string, expectedRevision uint64) error

	// ListTransactions returns matching transactions ordered by sequence.
	ListTransactions(ctx context.Context, tenant string, filter TransactionFilter) ([]*Transaction, error)
}

// TransactionFilter narrows ListTransactions. Zero fields match everything.
type TransactionFilter struct {
	// AccountID matches transactions affecting the account on either leg.
	AccountID string

	// States matches any of the listed states.
	States []State

	// PostedBefore matches transactions posted at or before the instant.
	PostedBefore time.Time
}

// Match reports whether tx passes the filter. Stores without native
// filtering apply it after loading.
func (f TransactionFilter) Match(tx *Transaction) bool {
	if f.AccountID != "" && !tx.Affects(f.AccountID) {
		return false
	}
	if len(f.States) > 0 && !slices.Contains(f.States, tx.State()) {
		return false
	}
	if !f.PostedBefore.IsZero() && (tx.PostedAt.IsZero() || tx.PostedAt.After(f.PostedBefore)) {
		return false
	}
	return true
}

// Tenant holds the ledger settings of one organization.
type Tenant struct {
	ID              string `yaml:"id" json:"id"`
	DefaultCurrency string `yaml:"default_currency" json:"default_currency"`

	// RequireApproval is the default approval policy; requests may override it.
	RequireApproval bool `yaml:"require_approval" json:"require_approval"`
}

// TenantDirectory resolves tenant settings.
type TenantDirectory interface {
	Tenant(ctx context.Context, id string) (Tenant, error)
}

// StaticTenants is a TenantDirectory backed by a fixed map.
type StaticTenants map[string]Tenant

// NewStaticTenants indexes tenants by id, normalizing currency codes.
func NewStaticTenants(tenants ...Tenant) StaticTenants {
	st := make(StaticTenants, len(tenants))
	for _, t := range tenants {
		t.DefaultCurrency = strings.ToUpper(t.DefaultCurrency)
		st[t.ID] = t
	}
	return st
}

// Tenant implements TenantDirectory.
func (s StaticTenants) Tenant(_ context.Context, id string) (Tenant, error) {
	t, ok := s[id]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: tenant %q", ErrNotFound, id)
	}
	return t, nil
}
