package ledger

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"tenant-ledger/pkg/money"

	"github.com/shopspring/decimal"
)

// Kind selects how a transaction affects balances.
type Kind string

const (
	KindIncome   Kind = "income"
	KindExpense  Kind = "expense"
	KindTransfer Kind = "transfer"
)

// Valid reports whether k is a known transaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindIncome, KindExpense, KindTransfer:
		return true
	}
	return false
}

// Classification holds optional references into the classification directories,
// together with the display names stamped at validation time.
type Classification struct {
	CategoryID        string   `json:"category_id,omitempty"`
	CategoryPath      []string `json:"category_path,omitempty"`
	ContactID         string   `json:"contact_id,omitempty"`
	ContactName       string   `json:"contact_name,omitempty"`
	PaymentMethodID   string   `json:"payment_method_id,omitempty"`
	PaymentMethodName string   `json:"payment_method_name,omitempty"`
}

func (c Classification) clone() Classification {
	c.CategoryPath = slices.Clone(c.CategoryPath)
	return c
}

// FXSnapshot is the exchange rate frozen into a transaction when it is posted.
// Rate converts one unit of BaseCurrency (the transaction currency)
// into TargetCurrency (the tenant default).
type FXSnapshot struct {
	BaseCurrency   string          `json:"base_currency"`
	TargetCurrency string          `json:"target_currency"`
	Rate           decimal.Decimal `json:"rate"`
	RateSource     string          `json:"rate_source"`
	CapturedAt     time.Time       `json:"captured_at"`
}

// Attachment is an opaque reference to a stored document.
type Attachment struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	URL     string    `json:"url"`
	AddedBy string    `json:"added_by,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Transition is one entry of a transaction's audit history.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Actor  string    `json:"actor,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Transaction is a single-entry ledger record.
//
// The workflow state and the FX snapshot are unexported: state only changes
// through the workflow graph in state.go and the snapshot can be attached once.
// Both survive JSON encoding, and decoding rejects unknown states.
type Transaction struct {
	ID       string `json:"id"`
	Tenant   string `json:"tenant"`
	Sequence uint64 `json:"sequence"`
	Kind     Kind   `json:"kind"`

	// Amount is always positive; Kind decides the sign of the balance effect.
	Amount money.Amount `json:"amount"`

	// AccountID is set for income and expense.
	AccountID string `json:"account_id,omitempty"`

	// SourceAccountID and DestinationAccountID are set for transfers.
	SourceAccountID      string `json:"source_account_id,omitempty"`
	DestinationAccountID string `json:"destination_account_id,omitempty"`

	// Fee is debited from the source on top of Amount. Transfers only.
	Fee money.Amount `json:"fee"`

	Classification Classification `json:"classification"`
	Description    string         `json:"description"`
	Reference      string         `json:"reference,omitempty"`

	RequiresApproval bool      `json:"requires_approval"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	ApprovedBy      string    `json:"approved_by,omitempty"`
	ApprovedAt      time.Time `json:"approved_at,omitzero"`
	RejectedBy      string    `json:"rejected_by,omitempty"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	PostedBy        string    `json:"posted_by,omitempty"`
	PostedAt        time.Time `json:"posted_at,omitzero"`
	VoidedBy        string    `json:"voided_by,omitempty"`
	VoidReason      string    `json:"void_reason,omitempty"`
	VoidedAt        time.Time `json:"voided_at,omitzero"`

	Attachments []Attachment `json:"attachments,omitempty"`
	History     []Transition `json:"history,omitempty"`

	// Revision increases by one on every stored update.
	Revision uint64 `json:"revision"`

	state State
	fx    *FXSnapshot
}

// NewTransaction returns a draft transaction. Fields are filled in by the caller.
func NewTransaction() *Transaction {
	return &Transaction{state: StateDraft}
}

// State returns the workflow state.
func (t *Transaction) State() State {
	return t.state
}

// Currency returns the currency of the transaction amount.
func (t *Transaction) Currency() string {
	return t.Amount.Currency()
}

// FX returns the captured FX snapshot, if any.
func (t *Transaction) FX() (FXSnapshot, bool) {
	if t.fx == nil {
		return FXSnapshot{}, false
	}
	return *t.fx, true
}

// HasFee reports whether a non-zero fee is set.
func (t *Transaction) HasFee() bool {
	return !t.Fee.IsZero()
}

// AccountIDs returns the accounts whose balance the transaction affects.
func (t *Transaction) AccountIDs() []string {
	if t.Kind == KindTransfer {
		return []string{t.SourceAccountID, t.DestinationAccountID}
	}
	return []string{t.AccountID}
}

// Affects reports whether the transaction touches accountID.
func (t *Transaction) Affects(accountID string) bool {
	return slices.Contains(t.AccountIDs(), accountID)
}

// AmountInDefaultCurrency converts the amount into the tenant default currency.
// Transactions in a foreign currency need a captured snapshot; the rate is never
// looked up again.
func (t *Transaction) AmountInDefaultCurrency(defaultCurrency string) (money.Amount, error) {
	if strings.EqualFold(t.Currency(), defaultCurrency) {
		return t.Amount, nil
	}
	if t.fx == nil {
		return money.Amount{}, fmt.Errorf("%w: no snapshot captured for %s", ErrFXUnavailable, t.ID)
	}
	return t.Amount.Convert(t.fx.Rate, t.fx.TargetCurrency)
}

// Delta is a signed balance change on one account.
type Delta struct {
	AccountID string
	Amount    money.Amount
}

// Deltas returns the balance effect of posting the transaction.
// Voiding applies the negation of each delta.
func (t *Transaction) Deltas() ([]Delta, error) {
	switch t.Kind {
	case KindIncome:
		return []Delta{{AccountID: t.AccountID, Amount: t.Amount}}, nil
	case KindExpense:
		return []Delta{{AccountID: t.AccountID, Amount: t.Amount.Neg()}}, nil
	case KindTransfer:
		debit, err := t.Amount.Add(t.Fee)
		if err != nil {
			return nil, invalid("fee", err)
		}
		return []Delta{
			{AccountID: t.SourceAccountID, Amount: debit.Neg()},
			{AccountID: t.DestinationAccountID, Amount: t.Amount},
		}, nil
	default:
		return nil, invalid("kind", fmt.Errorf("unknown kind %q", t.Kind))
	}
}

// Validate checks the fields required before a transaction leaves draft.
func (t *Transaction) Validate() error {
	if !t.Kind.Valid() {
		return invalid("kind", fmt.Errorf("unknown kind %q", t.Kind))
	}
	if t.Currency() == "" {
		return invalid("currency", ErrMissingField)
	}
	if _, err := money.LookupCurrency(t.Currency()); err != nil {
		return invalid("currency", err)
	}
	if !t.Amount.IsPositive() {
		return invalid("amount", fmt.Errorf("%w: must be positive, got %s", ErrInvalidAmount, t.Amount))
	}
	if strings.TrimSpace(t.Description) == "" {
		return invalid("description", ErrMissingField)
	}

	switch t.Kind {
	case KindTransfer:
		if t.SourceAccountID == "" {
			return invalid("source_account_id", ErrMissingField)
		}
		if t.DestinationAccountID == "" {
			return invalid("destination_account_id", ErrMissingField)
		}
		if t.SourceAccountID == t.DestinationAccountID {
			return fmt.Errorf("%w: source and destination are both %s", ErrInvalidTransfer, t.SourceAccountID)
		}
		if t.AccountID != "" {
			return invalid("account_id", fmt.Errorf("transfers use source_account_id and destination_account_id"))
		}
		if t.Fee.IsNegative() {
			return invalid("fee", fmt.Errorf("%w: must not be negative", ErrInvalidAmount))
		}
		if t.HasFee() && t.Fee.Currency() != t.Currency() {
			return invalid("fee", fmt.Errorf("%w: fee in %s, transfer in %s",
				ErrCurrencyMismatch, t.Fee.Currency(), t.Currency()))
		}
	default:
		if t.AccountID == "" {
			return invalid("account_id", ErrMissingField)
		}
		if t.SourceAccountID != "" || t.DestinationAccountID != "" {
			return invalid("account_id", fmt.Errorf("%s uses a single account", t.Kind))
		}
		if t.HasFee() {
			return invalid("fee", fmt.Errorf("fees apply to transfers only"))
		}
	}
	return nil
}

// transition moves the transaction along one edge of the workflow graph and
// appends the audit record.
func (t *Transaction) transition(to State, actor, reason string, at time.Time) error {
	if !t.state.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, t.state, to)
	}
	t.History = append(t.History, Transition{
		From:   t.state,
		To:     to,
		Actor:  actor,
		Reason: reason,
		At:     at,
	})
	t.state = to
	t.UpdatedAt = at
	return nil
}

// attachFX stores the snapshot. A transaction holds at most one snapshot for its lifetime.
func (t *Transaction) attachFX(snap FXSnapshot) error {
	if t.fx != nil {
		return fmt.Errorf("%w: %s", ErrFXSnapshotFrozen, t.ID)
	}
	t.fx = &snap
	return nil
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.Classification = t.Classification.clone()
	c.Attachments = slices.Clone(t.Attachments)
	c.History = slices.Clone(t.History)
	if t.fx != nil {
		snap := *t.fx
		c.fx = &snap
	}
	return &c
}

// transactionAlias drops the methods of Transaction so encoding does not recurse.
type transactionAlias Transaction

type transactionJSON struct {
	*transactionAlias
	State State       `json:"state"`
	FX    *FXSnapshot `json:"fx,omitempty"`
}

// MarshalJSON includes the workflow state and FX snapshot.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		transactionAlias: (*transactionAlias)(t),
		State:            t.state,
		FX:               t.fx,
	})
}

// UnmarshalJSON restores a transaction written by MarshalJSON.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	aux := transactionJSON{transactionAlias: (*transactionAlias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if !aux.State.Valid() {
		return fmt.Errorf("ledger: transaction %s has no valid state", t.ID)
	}
	t.state = aux.State
	t.fx = aux.FX
	return nil
}
