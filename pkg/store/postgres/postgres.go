// Package postgres is a ledger.Repository on PostgreSQL.
//
// Records are stored as JSONB bodies next to the columns queries filter on.
// Updates are compare-and-swap on the revision column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenant-ledger/pkg/ledger"

	"github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "ledger",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DSN returns the lib/pq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

const uniqueViolation = "23505"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_accounts (
		tenant TEXT NOT NULL,
		id TEXT NOT NULL,
		revision BIGINT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		body JSONB NOT NULL,
		PRIMARY KEY (tenant, id)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		tenant TEXT NOT NULL,
		id TEXT NOT NULL,
		sequence BIGINT NOT NULL,
		state TEXT NOT NULL,
		account_ids TEXT[] NOT NULL,
		posted_at TIMESTAMP WITH TIME ZONE,
		revision BIGINT NOT NULL,
		body JSONB NOT NULL,
		PRIMARY KEY (tenant, id)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_sequences (
		tenant TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_transactions_sequence ON ledger_transactions(tenant, sequence)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_transactions_state ON ledger_transactions(tenant, state)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_transactions_posted_at ON ledger_transactions(tenant, posted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_transactions_accounts ON ledger_transactions USING GIN (account_ids)`,
}

// Store implements ledger.Repository on a connection pool.
type Store struct {
	db *sql.DB
}

// Open connects, pings and creates the schema.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}
	return s, nil
}

// New wraps an open database. The schema must exist; see Migrate.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, query := range schema {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// GetAccount implements ledger.Repository.
func (s *Store) GetAccount(ctx context.Context, tenant, id string) (*ledger.Account, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM ledger_accounts WHERE tenant = $1 AND id = $2`, tenant, id,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: account %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return decodeAccount(body)
}

// InsertAccount implements ledger.Repository.
func (s *Store) InsertAccount(ctx context.Context, acc *ledger.Account) error {
	stored := acc.Clone()
	stored.Revision = 1
	body, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledger_accounts (tenant, id, revision, created_at, body) VALUES ($1, $2, $3, $4, $5)`,
		acc.Tenant, acc.ID, stored.Revision, acc.CreatedAt, body,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: account %s", ledger.ErrAlreadyExists, acc.ID)
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	acc.Revision = 1
	return nil
}

// UpdateAccount implements ledger.Repository.
// The stored currency is compared inside the statement, so it cannot change.
func (s *Store) UpdateAccount(ctx context.Context, acc *ledger.Account, expectedRevision uint64) error {
	next := acc.Clone()
	next.Revision = expectedRevision + 1
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ledger_accounts SET body = $3, revision = $4
		 WHERE tenant = $1 AND id = $2 AND revision = $5 AND body->>'currency' = $6`,
		acc.Tenant, acc.ID, body, next.Revision, expectedRevision, acc.Currency,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if err := s.explainMiss(ctx, res, "ledger_accounts", "account", acc.Tenant, acc.ID, expectedRevision); err != nil {
		return err
	}
	acc.Revision = next.Revision
	return nil
}

// ListAccounts implements ledger.Repository.
func (s *Store) ListAccounts(ctx context.Context, tenant string) ([]*ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM ledger_accounts WHERE tenant = $1 ORDER BY created_at, id`, tenant)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		acc, err := decodeAccount(body)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// NextSequence implements ledger.Repository.
func (s *Store) NextSequence(ctx context.Context, tenant string) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO ledger_sequences (tenant, value) VALUES ($1, 1)
		 ON CONFLICT (tenant) DO UPDATE SET value = ledger_sequences.value + 1
		 RETURNING value`, tenant,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return seq, nil
}

// GetTransaction implements ledger.Repository.
func (s *Store) GetTransaction(ctx context.Context, tenant, id string) (*ledger.Transaction, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM ledger_transactions WHERE tenant = $1 AND id = $2`, tenant, id,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	return decodeTransaction(body)
}

// InsertTransaction implements ledger.Repository.
func (s *Store) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	stored := tx.Clone()
	stored.Revision = 1
	row, err := transactionRow(stored)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledger_transactions (tenant, id, sequence, state, account_ids, posted_at, revision, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tx.Tenant, tx.ID, row.sequence, row.state, pq.Array(row.accountIDs), row.postedAt, row.revision, row.body,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: transaction %s", ledger.ErrAlreadyExists, tx.ID)
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	tx.Revision = 1
	return nil
}

// UpdateTransaction implements ledger.Repository.
func (s *Store) UpdateTransaction(ctx context.Context, tx *ledger.Transaction, expectedRevision uint64) error {
	next := tx.Clone()
	next.Revision = expectedRevision + 1
	row, err := transactionRow(next)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ledger_transactions
		 SET state = $3, account_ids = $4, posted_at = $5, revision = $6, body = $7
		 WHERE tenant = $1 AND id = $2 AND revision = $8`,
		tx.Tenant, tx.ID, row.state, pq.Array(row.accountIDs), row.postedAt, row.revision, row.body, expectedRevision,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if err := s.explainMiss(ctx, res, "ledger_transactions", "transaction", tx.Tenant, tx.ID, expectedRevision); err != nil {
		return err
	}
	tx.Revision = next.Revision
	return nil
}

// DeleteTransaction implements ledger.Repository.
func (s *Store) DeleteTransaction(ctx context.Context, tenant, id string, expectedRevision uint64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ledger_transactions WHERE tenant = $1 AND id = $2 AND revision = $3`,
		tenant, id, expectedRevision,
	)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return s.explainMiss(ctx, res, "ledger_transactions", "transaction", tenant, id, expectedRevision)
}

// explainMiss turns a compare-and-swap statement that touched no row into
// ErrNotFound or ErrConflict.
func (s *Store) explainMiss(ctx context.Context, res sql.Result, table, kind, tenant, id string, expectedRevision uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var revision uint64
	err = s.db.QueryRowContext(ctx,
		`SELECT revision FROM `+table+` WHERE tenant = $1 AND id = $2`, tenant, id,
	).Scan(&revision)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s %s", ledger.ErrNotFound, kind, id)
	}
	if err != nil {
		return fmt.Errorf("query %s revision: %w", kind, err)
	}
	if revision != expectedRevision {
		return fmt.Errorf("%w: %s %s at revision %d, expected %d", ledger.ErrConflict, kind, id, revision, expectedRevision)
	}
	return fmt.Errorf("%w: %s %s currency is immutable", ledger.ErrCurrencyMismatch, kind, id)
}

// ListTransactions implements ledger.Repository.
func (s *Store) ListTransactions(ctx context.Context, tenant string, filter ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	query, args := listQuery(tenant, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Transaction
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx, err := decodeTransaction(body)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// listQuery builds the filtered select over the indexed columns.
func listQuery(tenant string, filter ledger.TransactionFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT body FROM ledger_transactions WHERE tenant = $1`)
	args := []any{tenant}

	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		fmt.Fprintf(&sb, ` AND $%d = ANY(account_ids)`, len(args))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = st.String()
		}
		args = append(args, pq.Array(states))
		fmt.Fprintf(&sb, ` AND state = ANY($%d)`, len(args))
	}
	if !filter.PostedBefore.IsZero() {
		args = append(args, filter.PostedBefore)
		fmt.Fprintf(&sb, ` AND posted_at IS NOT NULL AND posted_at <= $%d`, len(args))
	}
	sb.WriteString(` ORDER BY sequence`)
	return sb.String(), args
}

type txRow struct {
	sequence   uint64
	state      string
	accountIDs []string
	postedAt   sql.NullTime
	revision   uint64
	body       []byte
}

func transactionRow(tx *ledger.Transaction) (txRow, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return txRow{}, fmt.Errorf("encode transaction: %w", err)
	}
	var ids []string
	for _, id := range tx.AccountIDs() {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if ids == nil {
		ids = []string{}
	}
	return txRow{
		sequence:   tx.Sequence,
		state:      tx.State().String(),
		accountIDs: ids,
		postedAt:   sql.NullTime{Time: tx.PostedAt, Valid: !tx.PostedAt.IsZero()},
		revision:   tx.Revision,
		body:       body,
	}, nil
}

func decodeAccount(body []byte) (*ledger.Account, error) {
	var acc ledger.Account
	if err := json.Unmarshal(body, &acc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &acc, nil
}

func decodeTransaction(body []byte) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, nil
}
