package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"tenant-ledger/pkg/config"
	"tenant-ledger/pkg/ledger"
	"tenant-ledger/pkg/store"

	"github.com/google/subcommands"
)

var (
	configPath string
	stdout     io.Writer = os.Stdout
	stderr     io.Writer = os.Stderr
)

var commands = []subcommands.Command{
	&accountsCmd{},
	&balanceCmd{},
	&verifyCmd{},
	&transactionsCmd{},
}

var errDrift = errors.New("balance drift detected")

// openStore loads the configuration and opens the configured repository.
func openStore() (store.Repository, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Store)
}

// withStore runs fn against the configured repository and maps its error to an exit status.
func withStore(ctx context.Context, fn func(ctx context.Context, repo store.Repository) error) subcommands.ExitStatus {
	repo, err := openStore()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	defer repo.Close()

	if err := fn(ctx, repo); err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func requireTenant(f *flag.FlagSet, tenant string) subcommands.ExitStatus {
	if tenant == "" {
		fmt.Fprintln(stderr, "-tenant is required")
		f.Usage()
		return subcommands.ExitUsageError
	}
	return subcommands.ExitSuccess
}

type accountsCmd struct {
	tenant string
}

func (*accountsCmd) Name() string     { return "accounts" }
func (*accountsCmd) Synopsis() string { return "list the accounts of a tenant" }
func (*accountsCmd) Usage() string {
	return `ledgerctl accounts -tenant <id>

  Lists every account of the tenant with its stored balance.
`
}

func (c *accountsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.tenant, "tenant", "", "Tenant id.")
}

func (c *accountsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if st := requireTenant(f, c.tenant); st != subcommands.ExitSuccess {
		return st
	}
	return withStore(ctx, func(ctx context.Context, repo store.Repository) error {
		accounts, err := repo.ListAccounts(ctx, c.tenant)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKIND\tACTIVE\tBALANCE")
		for _, acc := range accounts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", acc.ID, acc.Name, acc.Kind, acc.Active, acc.Balance.Display())
		}
		return w.Flush()
	})
}

type balanceCmd struct {
	tenant  string
	account string
	asOf    string
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "show the stored and projected balance of an account" }
func (*balanceCmd) Usage() string {
	return `ledgerctl balance -tenant <id> -account <id> [-as-of <RFC3339>]

  Prints the stored running balance next to the balance projected from
  posting history, optionally as of a past instant.
`
}

func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.tenant, "tenant", "", "Tenant id.")
	f.StringVar(&c.account, "account", "", "Account id.")
	f.StringVar(&c.asOf, "as-of", "", "Project the balance as of this RFC3339 instant (defaults to now).")
}

func (c *balanceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if st := requireTenant(f, c.tenant); st != subcommands.ExitSuccess {
		return st
	}
	if c.account == "" {
		fmt.Fprintln(stderr, "-account is required")
		return subcommands.ExitUsageError
	}
	asOf := time.Now()
	if c.asOf != "" {
		t, err := time.Parse(time.RFC3339, c.asOf)
		if err != nil {
			fmt.Fprintf(stderr, "Error parsing -as-of: %v\n", err)
			return subcommands.ExitUsageError
		}
		asOf = t
	}

	return withStore(ctx, func(ctx context.Context, repo store.Repository) error {
		acc, err := repo.GetAccount(ctx, c.tenant, c.account)
		if err != nil {
			return err
		}
		projected, err := ledger.NewProjector(repo).ProjectBalance(ctx, c.tenant, c.account, asOf)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "account:   %s (%s)\n", acc.ID, acc.Name)
		fmt.Fprintf(stdout, "stored:    %s\n", acc.Balance.Display())
		fmt.Fprintf(stdout, "projected: %s as of %s\n", projected.Display(), asOf.UTC().Format(time.RFC3339))
		return nil
	})
}

type verifyCmd struct {
	tenant string
}

func (*verifyCmd) Name() string     { return "verify" }
func (*verifyCmd) Synopsis() string { return "check stored balances against posting history" }
func (*verifyCmd) Usage() string {
	return `ledgerctl verify -tenant <id>

  Recomputes every account balance of the tenant from its posting history
  and reports accounts whose stored balance has drifted. Exits non-zero
  when any drift is found.
`
}

func (c *verifyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.tenant, "tenant", "", "Tenant id.")
}

func (c *verifyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if st := requireTenant(f, c.tenant); st != subcommands.ExitSuccess {
		return st
	}
	return withStore(ctx, func(ctx context.Context, repo store.Repository) error {
		accounts, err := repo.ListAccounts(ctx, c.tenant)
		if err != nil {
			return err
		}
		projector := ledger.NewProjector(repo)
		now := time.Now()
		drifted := 0

		w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTORED\tPROJECTED\tDIFFERENCE\tSTATUS")
		for _, acc := range accounts {
			d, err := projector.Drift(ctx, c.tenant, acc.ID, now)
			if err != nil {
				return fmt.Errorf("account %s: %w", acc.ID, err)
			}
			status := "ok"
			if !d.OK() {
				status = "DRIFT"
				drifted++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.AccountID, d.Stored.Display(), d.Projected.Display(), d.Difference.Display(), status)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if drifted > 0 {
			return fmt.Errorf("%w: %d of %d accounts", errDrift, drifted, len(accounts))
		}
		return nil
	})
}

type transactionsCmd struct {
	tenant  string
	account string
	states  string
}

func (*transactionsCmd) Name() string     { return "transactions" }
func (*transactionsCmd) Synopsis() string { return "list the transactions of a tenant" }
func (*transactionsCmd) Usage() string {
	return `ledgerctl transactions -tenant <id> [-account <id>] [-state <s1,s2>]

  Lists transactions in sequence order.
`
}

func (c *transactionsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.tenant, "tenant", "", "Tenant id.")
	f.StringVar(&c.account, "account", "", "Only transactions affecting this account.")
	f.StringVar(&c.states, "state", "", "Comma separated states to include.")
}

func (c *transactionsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if st := requireTenant(f, c.tenant); st != subcommands.ExitSuccess {
		return st
	}
	filter := ledger.TransactionFilter{AccountID: c.account}
	for _, s := range strings.Split(c.states, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		state, err := ledger.ParseState(s)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return subcommands.ExitUsageError
		}
		filter.States = append(filter.States, state)
	}

	return withStore(ctx, func(ctx context.Context, repo store.Repository) error {
		txs, err := repo.ListTransactions(ctx, c.tenant, filter)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tID\tKIND\tSTATE\tAMOUNT\tACCOUNTS")
		for _, tx := range txs {
			accounts := tx.AccountID
			if tx.Kind == ledger.KindTransfer {
				accounts = tx.SourceAccountID + " -> " + tx.DestinationAccountID
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", tx.Sequence, tx.ID, tx.Kind, tx.State(), tx.Amount.Display(), accounts)
		}
		return w.Flush()
	})
}
