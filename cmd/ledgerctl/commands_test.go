package main

import (
	"bytes"
	"context"
	"flag"
	"path/filepath"
	"strings"
	"testing"

	"tenant-ledger/pkg/fx/fxtest"
	"tenant-ledger/pkg/ledger"
	"tenant-ledger/pkg/money"
	"tenant-ledger/pkg/store/bolt"

	"github.com/google/subcommands"
)

// seed writes one account with a posted income into a bolt file and points
// the config at it.
func seed(t *testing.T) (path, accountID string) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("LEDGER_STORE_DRIVER", "bolt")
	t.Setenv("LEDGER_BOLT_PATH", path)
	configPath = ""

	repo, err := bolt.Open(path)
	if err != nil {
		t.Fatalf("bolt.Open failed: %v", err)
	}
	defer repo.Close()

	l, err := ledger.New(repo, ledger.NewStaticTenants(ledger.Tenant{ID: "acme", DefaultCurrency: "USD"}), fxtest.Fixed("1"), ledger.DefaultConfig())
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}
	ctx := context.Background()
	acc, err := l.Accounts().CreateAccount(ctx, "acme", ledger.CreateAccountRequest{
		Name: "Operating", Kind: ledger.AccountBank, Currency: "USD", InitialBalance: "1000",
	})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	tx, err := l.CreateTransaction(ctx, "acme", ledger.CreateTransactionRequest{
		Kind: ledger.KindIncome, Amount: "250", Currency: "USD", AccountID: acc.ID, Description: "invoice 7", Actor: "alice",
	})
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if _, err := l.Post(ctx, "acme", tx.ID, "alice"); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	return path, acc.ID
}

func run(t *testing.T, cmd subcommands.Command, args ...string) (subcommands.ExitStatus, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	stdout, stderr = &out, &errOut

	f := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	cmd.SetFlags(f)
	if err := f.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	status := cmd.Execute(context.Background(), f)
	return status, out.String(), errOut.String()
}

func TestAccountsCmd(t *testing.T) {
	_, id := seed(t)

	status, out, errOut := run(t, &accountsCmd{}, "-tenant", "acme")
	if status != subcommands.ExitSuccess {
		t.Fatalf("Expected success, got %v: %s", status, errOut)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "$1,250.00") {
		t.Errorf("Unexpected output:\n%s", out)
	}
}

func TestBalanceCmd(t *testing.T) {
	_, id := seed(t)

	status, out, errOut := run(t, &balanceCmd{}, "-tenant", "acme", "-account", id)
	if status != subcommands.ExitSuccess {
		t.Fatalf("Expected success, got %v: %s", status, errOut)
	}
	if strings.Count(out, "$1,250.00") != 2 {
		t.Errorf("Expected stored and projected 1250.00, got:\n%s", out)
	}

	// Before the posting only the initial balance counts.
	status, out, _ = run(t, &balanceCmd{}, "-tenant", "acme", "-account", id, "-as-of", "2000-01-01T00:00:00Z")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "projected: $1,000.00") {
		t.Errorf("Unexpected historical projection (%v):\n%s", status, out)
	}
}

func TestBalanceCmd_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing tenant", []string{"-account", "a"}},
		{"missing account", []string{"-tenant", "acme"}},
		{"bad as-of", []string{"-tenant", "acme", "-account", "a", "-as-of", "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, _, _ := run(t, &balanceCmd{}, tt.args...); status != subcommands.ExitUsageError {
				t.Errorf("Expected usage error, got %v", status)
			}
		})
	}
}

func TestVerifyCmd(t *testing.T) {
	path, id := seed(t)

	status, out, errOut := run(t, &verifyCmd{}, "-tenant", "acme")
	if status != subcommands.ExitSuccess {
		t.Fatalf("Expected success, got %v: %s\n%s", status, errOut, out)
	}
	if !strings.Contains(out, "ok") {
		t.Errorf("Expected ok status, got:\n%s", out)
	}

	// Tamper with the stored balance behind the ledger's back.
	repo, err := bolt.Open(path)
	if err != nil {
		t.Fatalf("bolt.Open failed: %v", err)
	}
	acc, err := repo.GetAccount(context.Background(), "acme", id)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	acc.Balance = money.New(999, "USD")
	if err := repo.UpdateAccount(context.Background(), acc, acc.Revision); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}
	repo.Close()

	status, out, errOut = run(t, &verifyCmd{}, "-tenant", "acme")
	if status != subcommands.ExitFailure {
		t.Fatalf("Expected failure on drift, got %v", status)
	}
	if !strings.Contains(out, "DRIFT") || !strings.Contains(errOut, errDrift.Error()) {
		t.Errorf("Unexpected drift report:\n%s\n%s", out, errOut)
	}
}

func TestTransactionsCmd(t *testing.T) {
	_, id := seed(t)

	status, out, errOut := run(t, &transactionsCmd{}, "-tenant", "acme", "-account", id, "-state", "posted")
	if status != subcommands.ExitSuccess {
		t.Fatalf("Expected success, got %v: %s", status, errOut)
	}
	if !strings.Contains(out, "income") || !strings.Contains(out, "$250.00") {
		t.Errorf("Unexpected output:\n%s", out)
	}

	_, out, _ = run(t, &transactionsCmd{}, "-tenant", "acme", "-state", "draft")
	if strings.Contains(out, "income") {
		t.Errorf("Expected no draft transactions, got:\n%s", out)
	}

	if status, _, _ := run(t, &transactionsCmd{}, "-tenant", "acme", "-state", "pending"); status != subcommands.ExitUsageError {
		t.Errorf("Expected usage error for unknown state, got %v", status)
	}
}

func TestOpenStore_BadConfig(t *testing.T) {
	t.Setenv("LEDGER_STORE_DRIVER", "mongo")
	configPath = ""

	status, _, errOut := run(t, &accountsCmd{}, "-tenant", "acme")
	if status != subcommands.ExitFailure || !strings.Contains(errOut, "store.driver") {
		t.Errorf("Expected config failure, got %v: %s", status, errOut)
	}
}
