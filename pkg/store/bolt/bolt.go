// Package bolt is a ledger.Repository on an embedded bbolt database.
//
// Each entity has a top-level bucket holding one nested bucket per tenant.
// Records are JSON values keyed by id. The transaction sequence of a tenant
// is the NextSequence counter of its nested transactions bucket.
package bolt

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"tenant-ledger/pkg/ledger"

	bolt "go.etcd.io/bbolt"
)

// Bucket names.
const (
	BucketAccounts     = "accounts"
	BucketTransactions = "transactions"
)

// Store wraps a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path and initializes buckets.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{BucketAccounts, BucketTransactions} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// tenantBucket returns the nested bucket of tenant, creating it in writable transactions.
// In read-only transactions a missing tenant yields nil.
func tenantBucket(tx *bolt.Tx, entity, tenant string) (*bolt.Bucket, error) {
	root := tx.Bucket([]byte(entity))
	if root == nil {
		return nil, fmt.Errorf("bucket %s not found", entity)
	}
	if !tx.Writable() {
		return root.Bucket([]byte(tenant)), nil
	}
	b, err := root.CreateBucketIfNotExists([]byte(tenant))
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s/%s: %w", entity, tenant, err)
	}
	return b, nil
}

func get(b *bolt.Bucket, id string, value any) (bool, error) {
	if b == nil {
		return false, nil
	}
	data := b.Get([]byte(id))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, value); err != nil {
		return true, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}
	return true, nil
}

func put(b *bolt.Bucket, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}
	return b.Put([]byte(id), data)
}

// GetAccount implements ledger.Repository.
func (s *Store) GetAccount(ctx context.Context, tenant, id string) (*ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var acc ledger.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, BucketAccounts, tenant)
		if err != nil {
			return err
		}
		found, err := get(b, id, &acc)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: account %s", ledger.ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// InsertAccount implements ledger.Repository.
func (s *Store) InsertAccount(ctx context.Context, acc *ledger.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := acc.Clone()
	stored.Revision = 1
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, BucketAccounts, acc.Tenant)
		if err != nil {
			return err
		}
		if b.Get([]byte(acc.ID)) != nil {
			return fmt.Errorf("%w: account %s", ledger.ErrAlreadyExists, acc.ID)
		}
		return put(b, acc.ID, stored)
	})
	if err != nil {
		return err
	}
	acc.Revision = 1
	return nil
}

// UpdateAccount implements ledger.Repository. The revision check and the
// write share one bbolt transaction.
func (s *Store) UpdateAccount(ctx context.Context, acc *ledger.Account, expectedRevision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := acc.Clone()
	next.Revision = expectedRevision + 1
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, BucketAccounts, acc.Tenant)
		if err != nil {
			return err
		}
		var stored ledger.Account
		found, err := get(b, acc.ID, &stored)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: account %s", ledger.ErrNotFound, acc.ID)
		}
		if stored.Revision != expectedRevision {
			return fmt.Errorf("%w: account %s at revision %d, expected %d",
				ledger.ErrConflict, acc.ID, stored.Revision, expectedRevision)
		}
		if stored.Currency != acc.Currency {
			return fmt.Errorf("%w: account %s currency is immutable", ledger.ErrCurrencyMismatch, acc.ID)
		}
		return put(b, acc.ID, next)
	})
	if err != nil {
		return err
	}
	acc.Revision = next.Revision
	return nil
}

// ListAccounts implements ledger.Repository. Accounts are ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context, tenant string) ([]*ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*ledger.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, BucketAccounts, tenant)
		if err != nil || b == nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var acc ledger.Account
			if err := json.Unmarshal(v, &acc); err != nil {
				return fmt.Errorf("failed to unmarshal account %s: %w", k, err)
			}
			out = append(out, &acc)
			return nil
		})
	})
	if err != nil {
		return nil, err
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
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, BucketTransactions, tenant)
		if err != nil {
			return err
		}
		seq, err = b.NextSequence()
		return err
	})
	return seq, err
}

// GetTransaction implements ledger.Repository.
func (s *Store) GetTransaction(ctx context.Context, tenant, id string) (*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out ledger.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, BucketTransactions, tenant)
		if err != nil {
			return err
		}
		found, err := get(b, id, &out)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// InsertTransaction implements ledger.Repository.
func (s *Store) InsertTransaction(ctx context.Context, t *ledger.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := t.Clone()
	stored.Revision = 1
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, BucketTransactions, t.Tenant)
		if err != nil {
			return err
		}
		if b.Get([]byte(t.ID)) != nil {
			return fmt.Errorf("%w: transaction %s", ledger.ErrAlreadyExists, t.ID)
		}
		return put(b, t.ID, stored)
	})
	if err != nil {
		return err
	}
	t.Revision = 1
	return nil
}

// UpdateTransaction implements ledger.Repository.
func (s *Store) UpdateTransaction(ctx context.Context, t *ledger.Transaction, expectedRevision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := t.Clone()
	next.Revision = expectedRevision + 1
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, BucketTransactions, t.Tenant)
		if err != nil {
			return err
		}
		if err := checkRevision(b, t.ID, expectedRevision); err != nil {
			return err
		}
		return put(b, t.ID, next)
	})
	if err != nil {
		return err
	}
	t.Revision = next.Revision
	return nil
}

// DeleteTransaction implements ledger.Repository.
func (s *Store) DeleteTransaction(ctx context.Context, tenant, id string, expectedRevision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, BucketTransactions, tenant)
		if err != nil {
			return err
		}
		if err := checkRevision(b, id, expectedRevision); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

func checkRevision(b *bolt.Bucket, id string, expectedRevision uint64) error {
	var stored struct {
		Revision uint64 `json:"revision"`
	}
	found, err := get(b, id, &stored)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	if stored.Revision != expectedRevision {
		return fmt.Errorf("%w: transaction %s at revision %d, expected %d",
			ledger.ErrConflict, id, stored.Revision, expectedRevision)
	}
	return nil
}

// ListTransactions implements ledger.Repository.
func (s *Store) ListTransactions(ctx context.Context, tenant string, filter ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*ledger.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, BucketTransactions, tenant)
		if err != nil || b == nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var t ledger.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("failed to unmarshal transaction %s: %w", k, err)
			}
			if filter.Match(&t) {
				out = append(out, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *ledger.Transaction) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return out, nil
}
