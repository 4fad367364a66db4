// Package storetest checks that a ledger.Repository honours the repository contract.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tenant-ledger/pkg/ledger"
	"tenant-ledger/pkg/money"
)

// Factory returns an empty repository for one subtest.
type Factory func(t *testing.T) ledger.Repository

// Run exercises the repository contract against fresh repositories from newRepo.
func Run(t *testing.T, newRepo Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, repo ledger.Repository)
	}{
		{"AccountRoundTrip", testAccountRoundTrip},
		{"AccountRevisionConflict", testAccountRevisionConflict},
		{"AccountNotFound", testAccountNotFound},
		{"AccountDuplicate", testAccountDuplicate},
		{"ListAccountsByTenant", testListAccountsByTenant},
		{"SequencePerTenant", testSequencePerTenant},
		{"TransactionRoundTrip", testTransactionRoundTrip},
		{"TransactionRevisionConflict", testTransactionRevisionConflict},
		{"DeleteTransaction", testDeleteTransaction},
		{"ListTransactionsFilter", testListTransactionsFilter},
		{"CopiesAreIndependent", testCopiesAreIndependent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newRepo(t))
		})
	}
}

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func account(tenant, id, currency string) *ledger.Account {
	return &ledger.Account{
		ID:             id,
		Tenant:         tenant,
		Name:           "Account " + id,
		Kind:           ledger.AccountBank,
		Currency:       currency,
		Balance:        money.New(100000, currency),
		InitialBalance: money.New(100000, currency),
		Active:         true,
		CreatedAt:      epoch,
		UpdatedAt:      epoch,
	}
}

func transaction(tenant, id string, seq uint64, accountID string) *ledger.Transaction {
	tx := ledger.NewTransaction()
	tx.ID = id
	tx.Tenant = tenant
	tx.Sequence = seq
	tx.Kind = ledger.KindExpense
	tx.Amount = money.New(25000, "EGP")
	tx.AccountID = accountID
	tx.Description = fmt.Sprintf("expense %d", seq)
	tx.CreatedAt = epoch
	tx.UpdatedAt = epoch
	return tx
}

func testAccountRoundTrip(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	acc := account("acme", "a1", "EGP")
	if err := repo.InsertAccount(ctx, acc); err != nil {
		t.Fatalf("InsertAccount failed: %v", err)
	}
	if acc.Revision != 1 {
		t.Errorf("Expected revision 1 after insert, got %d", acc.Revision)
	}

	got, err := repo.GetAccount(ctx, "acme", "a1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got.Name != acc.Name || got.Currency != "EGP" || !got.Balance.Equal(acc.Balance) || !got.Active {
		t.Errorf("Round trip mismatch: %+v", got)
	}

	got.Balance = money.New(75000, "EGP")
	if err := repo.UpdateAccount(ctx, got, 1); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}
	if got.Revision != 2 {
		t.Errorf("Expected revision 2 after update, got %d", got.Revision)
	}

	again, _ := repo.GetAccount(ctx, "acme", "a1")
	if again.Balance.String() != "750.00" || again.Revision != 2 {
		t.Errorf("Expected 750.00 at revision 2, got %s at %d", again.Balance, again.Revision)
	}
}

func testAccountRevisionConflict(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	acc := account("acme", "a1", "EGP")
	if err := repo.InsertAccount(ctx, acc); err != nil {
		t.Fatalf("InsertAccount failed: %v", err)
	}

	first, _ := repo.GetAccount(ctx, "acme", "a1")
	second, _ := repo.GetAccount(ctx, "acme", "a1")

	first.Balance = money.New(1, "EGP")
	if err := repo.UpdateAccount(ctx, first, 1); err != nil {
		t.Fatalf("First update failed: %v", err)
	}
	second.Balance = money.New(2, "EGP")
	if err := repo.UpdateAccount(ctx, second, 1); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	got, _ := repo.GetAccount(ctx, "acme", "a1")
	if got.Balance.Minor() != 1 {
		t.Errorf("Losing update must not be stored, got %s", got.Balance)
	}
}

func testAccountNotFound(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	if _, err := repo.GetAccount(ctx, "acme", "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := repo.UpdateAccount(ctx, account("acme", "missing", "EGP"), 1); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on update, got %v", err)
	}

	// Tenants are isolated.
	if err := repo.InsertAccount(ctx, account("acme", "a1", "EGP")); err != nil {
		t.Fatalf("InsertAccount failed: %v", err)
	}
	if _, err := repo.GetAccount(ctx, "globex", "a1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound across tenants, got %v", err)
	}
}

func testAccountDuplicate(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	if err := repo.InsertAccount(ctx, account("acme", "a1", "EGP")); err != nil {
		t.Fatalf("InsertAccount failed: %v", err)
	}
	if err := repo.InsertAccount(ctx, account("acme", "a1", "USD")); !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
}

func testListAccountsByTenant(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	for i, id := range []string{"a1", "a2", "a3"} {
		acc := account("acme", id, "EGP")
		acc.CreatedAt = epoch.Add(time.Duration(i) * time.Minute)
		if err := repo.InsertAccount(ctx, acc); err != nil {
			t.Fatalf("InsertAccount failed: %v", err)
		}
	}
	if err := repo.InsertAccount(ctx, account("globex", "g1", "USD")); err != nil {
		t.Fatalf("InsertAccount failed: %v", err)
	}

	accounts, err := repo.ListAccounts(ctx, "acme")
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("Expected 3 accounts, got %d", len(accounts))
	}
	for i, want := range []string{"a1", "a2", "a3"} {
		if accounts[i].ID != want {
			t.Errorf("accounts[%d] = %s, want %s", i, accounts[i].ID, want)
		}
	}
}

func testSequencePerTenant(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	for want := uint64(1); want <= 3; want++ {
		got, err := repo.NextSequence(ctx, "acme")
		if err != nil {
			t.Fatalf("NextSequence failed: %v", err)
		}
		if got != want {
			t.Errorf("NextSequence = %d, want %d", got, want)
		}
	}
	if got, _ := repo.NextSequence(ctx, "globex"); got != 1 {
		t.Errorf("Sequences must be per tenant, got %d", got)
	}
}

func testTransactionRoundTrip(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	tx := transaction("acme", "t1", 1, "a1")
	tx.Attachments = []ledger.Attachment{{ID: "att1", Name: "receipt.pdf", Size: 2048, URL: "s3://bucket/receipt.pdf", AddedAt: epoch}}
	tx.Classification = ledger.Classification{CategoryID: "c1", CategoryPath: []string{"Operations", "Rent"}}
	if err := repo.InsertTransaction(ctx, tx); err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "acme", "t1")
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if got.State() != ledger.StateDraft {
		t.Errorf("Expected draft, got %s", got.State())
	}
	if !got.Amount.Equal(tx.Amount) || got.AccountID != "a1" || got.Sequence != 1 {
		t.Errorf("Round trip mismatch: %+v", got)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].URL != "s3://bucket/receipt.pdf" {
		t.Errorf("Attachments not preserved: %+v", got.Attachments)
	}
	if len(got.Classification.CategoryPath) != 2 || got.Classification.CategoryPath[1] != "Rent" {
		t.Errorf("Classification not preserved: %+v", got.Classification)
	}
	if _, ok := got.FX(); ok {
		t.Error("Expected no FX snapshot")
	}
}

func testTransactionRevisionConflict(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	if err := repo.InsertTransaction(ctx, transaction("acme", "t1", 1, "a1")); err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}

	first, _ := repo.GetTransaction(ctx, "acme", "t1")
	second, _ := repo.GetTransaction(ctx, "acme", "t1")

	first.Description = "first"
	if err := repo.UpdateTransaction(ctx, first, 1); err != nil {
		t.Fatalf("First update failed: %v", err)
	}
	second.Description = "second"
	if err := repo.UpdateTransaction(ctx, second, 1); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
	if err := repo.DeleteTransaction(ctx, "acme", "t1", 1); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("Expected ErrConflict on stale delete, got %v", err)
	}

	got, _ := repo.GetTransaction(ctx, "acme", "t1")
	if got.Description != "first" || got.Revision != 2 {
		t.Errorf("Expected first at revision 2, got %q at %d", got.Description, got.Revision)
	}
}

func testDeleteTransaction(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	if err := repo.InsertTransaction(ctx, transaction("acme", "t1", 1, "a1")); err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}
	if err := repo.DeleteTransaction(ctx, "acme", "t1", 1); err != nil {
		t.Fatalf("DeleteTransaction failed: %v", err)
	}
	if _, err := repo.GetTransaction(ctx, "acme", "t1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.DeleteTransaction(ctx, "acme", "t1", 1); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

func testListTransactionsFilter(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()

	expense := transaction("acme", "t1", 1, "a1")
	if err := repo.InsertTransaction(ctx, expense); err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}

	transfer := ledger.NewTransaction()
	transfer.ID, transfer.Tenant, transfer.Sequence = "t2", "acme", 2
	transfer.Kind = ledger.KindTransfer
	transfer.Amount = money.New(1000, "EGP")
	transfer.SourceAccountID, transfer.DestinationAccountID = "a2", "a1"
	transfer.Description = "move"
	if err := repo.InsertTransaction(ctx, transfer); err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}

	other := transaction("acme", "t3", 3, "a3")
	if err := repo.InsertTransaction(ctx, other); err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}
	if err := repo.InsertTransaction(ctx, transaction("globex", "g1", 1, "a1")); err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}

	all, err := repo.ListTransactions(ctx, "acme", ledger.TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "t1" || all[1].ID != "t2" || all[2].ID != "t3" {
		t.Fatalf("Expected t1,t2,t3 by sequence, got %v", ids(all))
	}

	byAccount, _ := repo.ListTransactions(ctx, "acme", ledger.TransactionFilter{AccountID: "a1"})
	if len(byAccount) != 2 || byAccount[0].ID != "t1" || byAccount[1].ID != "t2" {
		t.Errorf("Expected t1,t2 for a1, got %v", ids(byAccount))
	}

	posted, _ := repo.ListTransactions(ctx, "acme", ledger.TransactionFilter{States: []ledger.State{ledger.StatePosted}})
	if len(posted) != 0 {
		t.Errorf("Expected no posted transactions, got %v", ids(posted))
	}
}

func testCopiesAreIndependent(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	tx := transaction("acme", "t1", 1, "a1")
	if err := repo.InsertTransaction(ctx, tx); err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}
	tx.Description = "mutated after insert"

	got, _ := repo.GetTransaction(ctx, "acme", "t1")
	if got.Description == "mutated after insert" {
		t.Error("Store must keep its own copy on insert")
	}
	got.Amount = money.New(1, "EGP")
	again, _ := repo.GetTransaction(ctx, "acme", "t1")
	if again.Amount.Minor() != 25000 {
		t.Error("Store must return copies on read")
	}
}

func ids(txs []*ledger.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}
