package money

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLookupCurrency(t *testing.T) {
	tests := []struct {
		code         string
		wantErr      bool
		wantFraction int
	}{
		{code: "EGP", wantFraction: 2},
		{code: "usd", wantFraction: 2},
		{code: "JPY", wantFraction: 0},
		{code: "KWD", wantFraction: 3},
		{code: "XYZ", wantErr: true},
		{code: "", wantErr: true},
		{code: "EURO", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			cur, err := LookupCurrency(tt.code)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCurrency) {
					t.Fatalf("Expected ErrInvalidCurrency, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if cur.Fraction != tt.wantFraction {
				t.Errorf("Expected fraction %d, got %d", tt.wantFraction, cur.Fraction)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		currency  string
		wantMinor int64
		wantErr   error
	}{
		{name: "two decimals", input: "1000.00", currency: "EGP", wantMinor: 100000},
		{name: "no decimals", input: "250", currency: "EGP", wantMinor: 25000},
		{name: "negative", input: "-12.5", currency: "USD", wantMinor: -1250},
		{name: "yen", input: "500", currency: "JPY", wantMinor: 500},
		{name: "too precise", input: "1.005", currency: "USD", wantErr: ErrInvalidAmount},
		{name: "yen fraction", input: "1.5", currency: "JPY", wantErr: ErrInvalidAmount},
		{name: "nan", input: "NaN", currency: "USD", wantErr: ErrInvalidAmount},
		{name: "inf", input: "Inf", currency: "USD", wantErr: ErrInvalidAmount},
		{name: "garbage", input: "ten", currency: "USD", wantErr: ErrInvalidAmount},
		{name: "overflow", input: "999999999999999999999", currency: "USD", wantErr: ErrInvalidAmount},
		{name: "bad currency", input: "1", currency: "ZZZ", wantErr: ErrInvalidCurrency},
		{name: "huge exponent", input: "1e10000000", currency: "USD", wantErr: ErrInvalidAmount},
		{name: "tiny exponent", input: "1e-10000000", currency: "USD", wantErr: ErrInvalidAmount},
		{name: "exponent in range", input: "1.5e3", currency: "USD", wantMinor: 150000},
		{name: "trailing zeros after fraction", input: "2.5000", currency: "USD", wantMinor: 250},
		{name: "zero with exponent", input: "0e-10000000", currency: "USD", wantMinor: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.input, tt.currency)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if a.Minor() != tt.wantMinor {
				t.Errorf("Expected %d minor units, got %d", tt.wantMinor, a.Minor())
			}
		})
	}
}

func TestParse_ExponentErrorStaysShort(t *testing.T) {
	for _, input := range []string{"1e10000000", "-1e10000000", "1e-10000000"} {
		start := time.Now()
		_, err := Parse(input, "USD")
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Parse(%q): expected ErrInvalidAmount, got %v", input, err)
		}
		if len(err.Error()) > 200 {
			t.Errorf("Parse(%q): error message is %d bytes", input, len(err.Error()))
		}
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Errorf("Parse(%q) took %v", input, elapsed)
		}
	}
}

func TestAmount_Arithmetic(t *testing.T) {
	a := New(100000, "EGP")
	b := New(25000, "EGP")

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub failed: %v", err)
	}
	if diff.String() != "750.00" {
		t.Errorf("Expected 750.00, got %s", diff.String())
	}

	sum, err := diff.Add(b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !sum.Equal(a) {
		t.Errorf("Expected %s, got %s", a, sum)
	}

	if _, err := a.Add(New(1, "USD")); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("Expected ErrCurrencyMismatch, got %v", err)
	}

	// A currency-less zero adopts the other side's currency.
	var zero Amount
	got, err := zero.Add(b)
	if err != nil {
		t.Fatalf("Add to zero failed: %v", err)
	}
	if got.Currency() != "EGP" {
		t.Errorf("Expected EGP, got %q", got.Currency())
	}
}

func TestAmount_RepeatedCyclesDoNotDrift(t *testing.T) {
	balance := New(100000, "EGP")
	delta := New(3333, "EGP")

	for i := 0; i < 10000; i++ {
		var err error
		balance, err = balance.Sub(delta)
		if err != nil {
			t.Fatal(err)
		}
		balance, err = balance.Add(delta)
		if err != nil {
			t.Fatal(err)
		}
	}

	if balance.Minor() != 100000 {
		t.Errorf("Expected 100000 after cycles, got %d", balance.Minor())
	}
}

func TestAmount_Convert(t *testing.T) {
	usd := New(10000, "USD")

	egp, err := usd.Convert(decimal.RequireFromString("30.93"), "EGP")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if egp.String() != "3093.00" || egp.Currency() != "EGP" {
		t.Errorf("Expected 3093.00 EGP, got %s %s", egp, egp.Currency())
	}

	// Half-to-even rounding into a zero-fraction currency.
	jpy, err := New(1, "USD").Convert(decimal.RequireFromString("150"), "JPY")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if jpy.Minor() != 2 {
		t.Errorf("Expected 2 JPY, got %d", jpy.Minor())
	}
}

func TestAmount_JSON(t *testing.T) {
	a := New(75000, "EGP")

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"amount":"750.00","currency":"EGP"}` {
		t.Errorf("Unexpected encoding: %s", data)
	}

	var back Amount
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !back.Equal(a) {
		t.Errorf("Expected %v, got %v", a, back)
	}
}
