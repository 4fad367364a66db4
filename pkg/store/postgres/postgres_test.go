package postgres

import (
	"strings"
	"testing"
	"time"

	"tenant-ledger/pkg/ledger"
	"tenant-ledger/pkg/money"
)

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "db.internal"
	cfg.Password = "secret"

	want := "host=db.internal port=5432 user=postgres password=secret dbname=ledger sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("Expected DSN %q, got %q", want, got)
	}
}

func TestListQuery(t *testing.T) {
	tests := []struct {
		name     string
		filter   ledger.TransactionFilter
		contains []string
		args     int
	}{
		{
			name:     "tenant only",
			filter:   ledger.TransactionFilter{},
			contains: []string{"WHERE tenant = $1 ORDER BY sequence"},
			args:     1,
		},
		{
			name:     "account",
			filter:   ledger.TransactionFilter{AccountID: "a1"},
			contains: []string{"$2 = ANY(account_ids)"},
			args:     2,
		},
		{
			name: "all filters",
			filter: ledger.TransactionFilter{
				AccountID:    "a1",
				States:       []ledger.State{ledger.StatePosted, ledger.StateVoid},
				PostedBefore: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			},
			contains: []string{
				"$2 = ANY(account_ids)",
				"state = ANY($3)",
				"posted_at <= $4",
			},
			args: 4,
		},
		{
			name:     "states only",
			filter:   ledger.TransactionFilter{States: []ledger.State{ledger.StateDraft}},
			contains: []string{"state = ANY($2)"},
			args:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := listQuery("acme", tt.filter)
			for _, fragment := range tt.contains {
				if !strings.Contains(query, fragment) {
					t.Errorf("Expected query to contain %q, got %q", fragment, query)
				}
			}
			if len(args) != tt.args {
				t.Errorf("Expected %d args, got %d", tt.args, len(args))
			}
			if args[0] != "acme" {
				t.Errorf("Expected tenant as first arg, got %v", args[0])
			}
		})
	}
}

func TestTransactionRow(t *testing.T) {
	tx := ledger.NewTransaction()
	tx.ID = "t1"
	tx.Tenant = "acme"
	tx.Sequence = 7
	tx.Kind = ledger.KindTransfer
	tx.Amount = money.New(5000, "USD")
	tx.SourceAccountID = "src"
	tx.DestinationAccountID = "dst"
	tx.Description = "move"

	row, err := transactionRow(tx)
	if err != nil {
		t.Fatalf("transactionRow failed: %v", err)
	}
	if row.state != "draft" {
		t.Errorf("Expected state draft, got %q", row.state)
	}
	if row.postedAt.Valid {
		t.Error("Expected NULL posted_at for a draft")
	}
	if len(row.accountIDs) != 2 {
		t.Errorf("Expected two account ids, got %v", row.accountIDs)
	}
	if row.sequence != 7 {
		t.Errorf("Expected sequence 7, got %d", row.sequence)
	}

	decoded, err := decodeTransaction(row.body)
	if err != nil {
		t.Fatalf("decodeTransaction failed: %v", err)
	}
	if decoded.State() != ledger.StateDraft || decoded.SourceAccountID != "src" {
		t.Errorf("Unexpected decoded transaction: %+v", decoded)
	}
}
