package ledger

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tenant-ledger/pkg/money"

	"github.com/shopspring/decimal"
)

func validTransfer() *Transaction {
	tx := NewTransaction()
	tx.ID = "t1"
	tx.Tenant = "acme"
	tx.Kind = KindTransfer
	tx.Amount = money.New(10000, "EGP")
	tx.Fee = money.New(250, "EGP")
	tx.SourceAccountID = "a"
	tx.DestinationAccountID = "b"
	tx.Description = "sweep"
	return tx
}

func TestTransaction_Deltas(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Transaction)
		want   map[string]int64
	}{
		{"transfer with fee", func(*Transaction) {}, map[string]int64{"a": -10250, "b": 10000}},
		{"transfer without fee", func(tx *Transaction) { tx.Fee = money.Amount{} }, map[string]int64{"a": -10000, "b": 10000}},
		{"income", func(tx *Transaction) {
			tx.Kind, tx.AccountID, tx.SourceAccountID, tx.DestinationAccountID, tx.Fee = KindIncome, "a", "", "", money.Amount{}
		}, map[string]int64{"a": 10000}},
		{"expense", func(tx *Transaction) {
			tx.Kind, tx.AccountID, tx.SourceAccountID, tx.DestinationAccountID, tx.Fee = KindExpense, "a", "", "", money.Amount{}
		}, map[string]int64{"a": -10000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransfer()
			tt.modify(tx)
			deltas, err := tx.Deltas()
			if err != nil {
				t.Fatalf("Deltas failed: %v", err)
			}
			if len(deltas) != len(tt.want) {
				t.Fatalf("Expected %d deltas, got %d", len(tt.want), len(deltas))
			}
			for _, d := range deltas {
				if d.Amount.Minor() != tt.want[d.AccountID] {
					t.Errorf("Account %s: expected %d, got %d", d.AccountID, tt.want[d.AccountID], d.Amount.Minor())
				}
			}
		})
	}
}

func TestTransaction_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Transaction)
		wantErr   error
		wantField string
	}{
		{"valid", func(*Transaction) {}, nil, ""},
		{"blank description", func(tx *Transaction) { tx.Description = "  " }, ErrMissingField, "description"},
		{"same accounts", func(tx *Transaction) { tx.DestinationAccountID = "a" }, ErrInvalidTransfer, ""},
		{"negative fee", func(tx *Transaction) { tx.Fee = money.New(-1, "EGP") }, ErrInvalidAmount, "fee"},
		{"fee in another currency", func(tx *Transaction) { tx.Fee = money.New(1, "USD") }, ErrCurrencyMismatch, "fee"},
		{"account id on transfer", func(tx *Transaction) { tx.AccountID = "c" }, nil, "account_id"},
		{"zero amount", func(tx *Transaction) { tx.Amount = money.Zero("EGP") }, ErrInvalidAmount, "amount"},
		{"no currency", func(tx *Transaction) { tx.Amount = money.Amount{} }, ErrMissingField, "currency"},
		{"income with transfer legs", func(tx *Transaction) { tx.Kind, tx.AccountID, tx.Fee = KindIncome, "a", money.Amount{} }, nil, "account_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransfer()
			tt.modify(tx)
			err := tx.Validate()
			if tt.name == "valid" {
				if err != nil {
					t.Fatalf("Expected valid, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if got := FieldOf(err); got != tt.wantField {
				t.Errorf("Expected field %q, got %q", tt.wantField, got)
			}
		})
	}
}

func TestTransaction_AttachFXOnce(t *testing.T) {
	tx := validTransfer()
	first := FXSnapshot{BaseCurrency: "EGP", TargetCurrency: "USD", Rate: decimal.RequireFromString("0.0206"), RateSource: "ecb", CapturedAt: time.Now()}
	if err := tx.attachFX(first); err != nil {
		t.Fatalf("attachFX failed: %v", err)
	}
	second := first
	second.Rate = decimal.RequireFromString("0.03")
	if err := tx.attachFX(second); !errors.Is(err, ErrFXSnapshotFrozen) {
		t.Errorf("Expected ErrFXSnapshotFrozen, got %v", err)
	}
	if snap, _ := tx.FX(); !snap.Rate.Equal(first.Rate) {
		t.Errorf("Snapshot replaced: %s", snap.Rate)
	}

	clone := tx.Clone()
	if err := clone.attachFX(second); !errors.Is(err, ErrFXSnapshotFrozen) {
		t.Errorf("Expected clones to keep the snapshot, got %v", err)
	}
}

func TestTransaction_AmountInDefaultCurrency(t *testing.T) {
	tx := validTransfer()
	same, err := tx.AmountInDefaultCurrency("egp")
	if err != nil || !same.Equal(tx.Amount) {
		t.Errorf("Expected the amount unchanged, got %s (%v)", same, err)
	}

	if _, err := tx.AmountInDefaultCurrency("USD"); !errors.Is(err, ErrFXUnavailable) {
		t.Errorf("Expected ErrFXUnavailable without snapshot, got %v", err)
	}

	// 100.00 EGP at 0.0205 is 2.05 USD.
	_ = tx.attachFX(FXSnapshot{BaseCurrency: "EGP", TargetCurrency: "USD", Rate: decimal.RequireFromString("0.0205")})
	got, err := tx.AmountInDefaultCurrency("USD")
	if err != nil || got.String() != "2.05" || got.Currency() != "USD" {
		t.Errorf("Expected 2.05 USD, got %s %s (%v)", got, got.Currency(), err)
	}
}

func TestTransaction_TransitionHistory(t *testing.T) {
	tx := validTransfer()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := tx.transition(StateVoid, "bob", "", at); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("Expected draft -> void to be refused, got %v", err)
	}
	if len(tx.History) != 0 || tx.State() != StateDraft {
		t.Fatal("Refused transition changed the record")
	}
	if err := tx.transition(StatePosted, "bob", "", at); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if tx.State() != StatePosted || !tx.UpdatedAt.Equal(at) {
		t.Errorf("Unexpected state %s at %v", tx.State(), tx.UpdatedAt)
	}
	if h := tx.History[0]; h.From != StateDraft || h.To != StatePosted || h.Actor != "bob" {
		t.Errorf("Unexpected history: %+v", h)
	}
}

func TestTransaction_JSON(t *testing.T) {
	tx := validTransfer()
	_ = tx.transition(StatePosted, "bob", "", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	_ = tx.attachFX(FXSnapshot{BaseCurrency: "EGP", TargetCurrency: "USD", Rate: decimal.RequireFromString("0.0205"), RateSource: "ecb"})

	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if string(fields["state"]) != `"posted"` {
		t.Errorf("Expected state field, got %s", fields["state"])
	}
	if _, ok := fields["fx"]; !ok {
		t.Error("Expected fx field")
	}

	var decoded Transaction
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.State() != StatePosted || decoded.Fee.Minor() != 250 {
		t.Errorf("Unexpected decoded transaction: %s fee %d", decoded.State(), decoded.Fee.Minor())
	}
	if err := decoded.attachFX(FXSnapshot{}); !errors.Is(err, ErrFXSnapshotFrozen) {
		t.Errorf("Expected decoded snapshot to stay frozen, got %v", err)
	}

	if err := json.Unmarshal([]byte(`{"id":"x"}`), &Transaction{}); err == nil {
		t.Error("Expected a transaction without state to be rejected")
	}
}

func TestTransactionFilter_Match(t *testing.T) {
	postedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	posted := validTransfer()
	_ = posted.transition(StatePosted, "bob", "", postedAt)
	posted.PostedAt = postedAt
	draft := validTransfer()

	tests := []struct {
		name   string
		filter TransactionFilter
		tx     *Transaction
		want   bool
	}{
		{"empty filter", TransactionFilter{}, draft, true},
		{"destination leg", TransactionFilter{AccountID: "b"}, draft, true},
		{"other account", TransactionFilter{AccountID: "c"}, draft, false},
		{"state match", TransactionFilter{States: []State{StatePosted, StateVoid}}, posted, true},
		{"state miss", TransactionFilter{States: []State{StatePosted}}, draft, false},
		{"posted before cutoff", TransactionFilter{PostedBefore: postedAt}, posted, true},
		{"posted after cutoff", TransactionFilter{PostedBefore: postedAt.Add(-time.Second)}, posted, false},
		{"never posted", TransactionFilter{PostedBefore: postedAt}, draft, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.tx); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}
