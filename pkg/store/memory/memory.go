// Package memory is an in-process ledger.Repository.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"tenant-ledger/pkg/ledger"
)

// Store keeps accounts and transactions in maps keyed by tenant and id.
// Records are copied on the way in and out.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]map[string]*ledger.Account
	transactions map[string]map[string]*ledger.Transaction
	sequences    map[string]uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts:     make(map[string]map[string]*ledger.Account),
		transactions: make(map[string]map[string]*ledger.Transaction),
		sequences:    make(map[string]uint64),
	}
}

// GetAccount implements ledger.Repository.
func (s *Store) GetAccount(ctx context.Context, tenant, id string) (*ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[tenant][id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ledger.ErrNotFound, id)
	}
	return acc.Clone(), nil
}

// InsertAccount implements ledger.Repository.
func (s *Store) InsertAccount(ctx context.Context, acc *ledger.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.accounts[acc.Tenant]
	if byID == nil {
		byID = make(map[string]*ledger.Account)
		s.accounts[acc.Tenant] = byID
	}
	if _, exists := byID[acc.ID]; exists {
		return fmt.Errorf("%w: account %s", ledger.ErrAlreadyExists, acc.ID)
	}
	acc.Revision = 1
	byID[acc.ID] = acc.Clone()
	return nil
}

// UpdateAccount implements ledger.Repository.
func (s *Store) UpdateAccount(ctx context.Context, acc *ledger.Account, expectedRevision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.accounts[acc.Tenant][acc.ID]
	if !ok {
		return fmt.Errorf("%w: account %s", ledger.ErrNotFound, acc.ID)
	}
	if stored.Revision != expectedRevision {
		return fmt.Errorf("%w: account %s at revision %d, expected %d",
			ledger.ErrConflict, acc.ID, stored.Revision, expectedRevision)
	}
	if stored.Currency != acc.Currency {
		return fmt.Errorf("%w: account %s currency is immutable", ledger.ErrCurrencyMismatch, acc.ID)
	}
	acc.Revision = expectedRevision + 1
	s.accounts[acc.Tenant][acc.ID] = acc.Clone()
	return nil
}

// ListAccounts implements ledger.Repository. Accounts are ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context, tenant string) ([]*ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ledger.Account, 0, len(s.accounts[tenant]))
	for _, acc := range s.accounts[tenant] {
		out = append(out, acc.Clone())
	}
	slices.SortFunc(out, func(a, b *ledger.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// NextSequence implements ledger.Repository.
func (s *Store) NextSequence(ctx context.Context, tenant string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[tenant]++
	return s.sequences[tenant], nil
}

// GetTransaction implements ledger.Repository.
func (s *Store) GetTransaction(ctx context.Context, tenant, id string) (*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[tenant][id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	return tx.Clone(), nil
}

// InsertTransaction implements ledger.Repository.
func (s *Store) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.transactions[tx.Tenant]
	if byID == nil {
		byID = make(map[string]*ledger.Transaction)
		s.transactions[tx.Tenant] = byID
	}
	if _, exists := byID[tx.ID]; exists {
		return fmt.Errorf("%w: transaction %s", ledger.ErrAlreadyExists, tx.ID)
	}
	tx.Revision = 1
	byID[tx.ID] = tx.Clone()
	return nil
}

// UpdateTransaction implements ledger.Repository.
func (s *Store) UpdateTransaction(ctx context.Context, tx *ledger.Transaction, expectedRevision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.transactions[tx.Tenant][tx.ID]
	if !ok {
		return fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, tx.ID)
	}
	if stored.Revision != expectedRevision {
		return fmt.Errorf("%w: transaction %s at revision %d, expected %d",
			ledger.ErrConflict, tx.ID, stored.Revision, expectedRevision)
	}
	tx.Revision = expectedRevision + 1
	s.transactions[tx.Tenant][tx.ID] = tx.Clone()
	return nil
}

// DeleteTransaction implements ledger.Repository.
func (s *Store) DeleteTransaction(ctx context.Context, tenant, id string, expectedRevision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.transactions[tenant][id]
	if !ok {
		return fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	if stored.Revision != expectedRevision {
		return fmt.Errorf("%w: transaction %s at revision %d, expected %d",
			ledger.ErrConflict, id, stored.Revision, expectedRevision)
	}
	delete(s.transactions[tenant], id)
	return nil
}

// ListTransactions implements ledger.Repository.
func (s *Store) ListTransactions(ctx context.Context, tenant string, filter ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ledger.Transaction
	for _, tx := range s.transactions[tenant] {
		if filter.Match(tx) {
			out = append(out, tx.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *ledger.Transaction) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return out, nil
}
