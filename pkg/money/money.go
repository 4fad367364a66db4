// Package money provides fixed-point monetary amounts.
//
// An Amount is stored as an integer count of minor units (cents, piastres, ...)
// together with its ISO 4217 currency code. The number of minor-unit digits comes
// from the currency table, so arithmetic never goes through binary floating point.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCurrency is returned when a currency code is not a recognized ISO code.
	ErrInvalidCurrency = errors.New("money: invalid currency")

	// ErrInvalidAmount is returned for unparsable, non-finite, over-precise or overflowing amounts.
	ErrInvalidAmount = errors.New("money: invalid amount")

	// ErrCurrencyMismatch is returned when combining amounts of different currencies.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Currency describes an ISO 4217 currency.
type Currency struct {
	// Code is the upper-case ISO code, e.g. "EGP".
	Code string

	// Fraction is the number of minor-unit digits (2 for EGP, 0 for JPY, 3 for KWD).
	Fraction int
}

// LookupCurrency returns the currency registered under code.
// The lookup is case-insensitive; the returned code is upper-case.
func LookupCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return Currency{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	c := gomoney.GetCurrency(code)
	if c == nil {
		return Currency{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return Currency{Code: c.Code, Fraction: c.Fraction}, nil
}

// Amount is a signed monetary value in minor units of a single currency.
// The zero value is a zero amount without currency.
type Amount struct {
	minor    int64
	currency string
}

// New returns an amount of minor units in the given currency.
// The currency is not validated; use Parse or LookupCurrency on untrusted input.
func New(minor int64, currency string) Amount {
	return Amount{minor: minor, currency: strings.ToUpper(currency)}
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Amount {
	return New(0, currency)
}

// Parse parses a decimal string such as "1000.00" in the given currency.
// It rejects values with more fractional digits than the currency allows.
func Parse(s string, currency string) (Amount, error) {
	cur, err := LookupCurrency(currency)
	if err != nil {
		return Amount{}, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return fromDecimal(d, cur)
}

// FromDecimal converts an exact decimal value into an amount of the given currency.
func FromDecimal(d decimal.Decimal, currency string) (Amount, error) {
	cur, err := LookupCurrency(currency)
	if err != nil {
		return Amount{}, err
	}
	return fromDecimal(d, cur)
}

// maxDigits is the number of decimal digits of math.MaxInt64.
const maxDigits = 19

func fromDecimal(d decimal.Decimal, cur Currency) (Amount, error) {
	if d.IsZero() {
		return Amount{currency: cur.Code}, nil
	}

	// Bound the magnitude from the coefficient and exponent before shifting,
	// so exponent notation such as 1e10000000 never expands into a huge integer.
	scale := int64(d.Exponent()) + int64(cur.Fraction)
	digits := int64(d.NumDigits())
	switch {
	case digits+scale > maxDigits:
		return Amount{}, fmt.Errorf("%w: out of range for %s", ErrInvalidAmount, cur.Code)
	case scale < 0 && -scale >= digits:
		return Amount{}, fmt.Errorf("%w: more than %d decimal places for %s",
			ErrInvalidAmount, cur.Fraction, cur.Code)
	}

	shifted := d.Shift(int32(cur.Fraction))
	if !shifted.IsInteger() {
		return Amount{}, fmt.Errorf("%w: %s has more than %d decimal places for %s",
			ErrInvalidAmount, d.String(), cur.Fraction, cur.Code)
	}
	if shifted.GreaterThan(maxMinor) || shifted.LessThan(minMinor) {
		return Amount{}, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, d.String())
	}
	return Amount{minor: shifted.IntPart(), currency: cur.Code}, nil
}

// Minor returns the amount in minor units.
func (a Amount) Minor() int64 { return a.minor }

// Currency returns the ISO code of the amount.
func (a Amount) Currency() string { return a.currency }

func (a Amount) IsZero() bool     { return a.minor == 0 }
func (a Amount) IsPositive() bool { return a.minor > 0 }
func (a Amount) IsNegative() bool { return a.minor < 0 }

// Neg returns the amount with its sign flipped.
func (a Amount) Neg() Amount { return Amount{minor: -a.minor, currency: a.currency} }

// Equal reports whether both amounts have the same value and currency.
func (a Amount) Equal(b Amount) bool { return a.minor == b.minor && a.currency == b.currency }

// Add returns a+b. Both amounts must share a currency.
func (a Amount) Add(b Amount) (Amount, error) {
	cur, err := common(a, b)
	if err != nil {
		return Amount{}, err
	}
	sum := a.minor + b.minor
	if (b.minor > 0 && sum < a.minor) || (b.minor < 0 && sum > a.minor) {
		return Amount{}, fmt.Errorf("%w: overflow adding %s and %s", ErrInvalidAmount, a, b)
	}
	return Amount{minor: sum, currency: cur}, nil
}

// Sub returns a-b. Both amounts must share a currency.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b.minor == math.MinInt64 {
		return Amount{}, fmt.Errorf("%w: overflow negating %s", ErrInvalidAmount, b)
	}
	return a.Add(b.Neg())
}

// common makes an empty currency weak, so a zero value can be added to anything.
func common(a, b Amount) (string, error) {
	switch {
	case a.currency == "":
		return b.currency, nil
	case b.currency == "":
		return a.currency, nil
	case a.currency != b.currency:
		return "", fmt.Errorf("%w: %s != %s", ErrCurrencyMismatch, a.currency, b.currency)
	}
	return a.currency, nil
}

// Decimal returns the amount in major units as an exact decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(a.minor, -int32(a.fraction()))
}

// Convert multiplies the amount by rate and expresses it in the target currency,
// rounding half-to-even to the target's minor unit.
func (a Amount) Convert(rate decimal.Decimal, target string) (Amount, error) {
	cur, err := LookupCurrency(target)
	if err != nil {
		return Amount{}, err
	}
	converted := a.Decimal().Mul(rate).RoundBank(int32(cur.Fraction))
	return fromDecimal(converted, cur)
}

// String returns the amount in major units with the currency's fixed decimals, e.g. "750.00".
func (a Amount) String() string {
	return a.Decimal().StringFixed(int32(a.fraction()))
}

// Display returns a human formatted value with the currency symbol, e.g. "$1,000.00".
func (a Amount) Display() string {
	if a.currency == "" {
		return a.String()
	}
	return gomoney.New(a.minor, a.currency).Display()
}

func (a Amount) fraction() int {
	if a.currency == "" {
		return 0
	}
	if c := gomoney.GetCurrency(a.currency); c != nil {
		return c.Fraction
	}
	return 0
}

type amountJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the amount as {"amount":"750.00","currency":"EGP"}.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountJSON{Amount: a.String(), Currency: a.currency})
}

// UnmarshalJSON decodes an amount written by MarshalJSON.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw amountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Currency == "" && (raw.Amount == "" || raw.Amount == "0") {
		*a = Amount{}
		return nil
	}
	parsed, err := Parse(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
