package ledger

import (
	"fmt"
	"time"

	"tenant-ledger/pkg/money"
)

// AccountKind describes where the money of an account is held.
type AccountKind string

const (
	AccountBank AccountKind = "bank"
	AccountCash AccountKind = "cash"
	AccountPSP  AccountKind = "psp"
)

// Valid reports whether k is a known account kind.
func (k AccountKind) Valid() bool {
	switch k {
	case AccountBank, AccountCash, AccountPSP:
		return true
	}
	return false
}

// ParseAccountKind parses an account kind, accepting the long form "payment_service_provider".
func ParseAccountKind(s string) (AccountKind, error) {
	if s == "payment_service_provider" {
		return AccountPSP, nil
	}
	k := AccountKind(s)
	if !k.Valid() {
		return "", invalid("kind", fmt.Errorf("unknown account kind %q", s))
	}
	return k, nil
}

// Account is a tenant-scoped running balance in a single fixed currency.
// Balance is the only numeric field that changes after creation, and only through the Ledger.
type Account struct {
	ID             string       `json:"id"`
	Tenant         string       `json:"tenant"`
	Name           string       `json:"name"`
	Kind           AccountKind  `json:"kind"`
	Currency       string       `json:"currency"`
	Balance        money.Amount `json:"balance"`
	InitialBalance money.Amount `json:"initial_balance"`
	Active         bool         `json:"active"`

	// Revision increases by one on every stored update.
	Revision  uint64    `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy that can be modified without affecting an
// account shared with a store.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
