package ledger

import (
	"errors"
	"fmt"

	"tenant-ledger/pkg/money"
)

// Ledger errors. Callers match them with errors.Is; every failing operation
// leaves the transaction and its accounts exactly as they were before the call.
var (
	// ErrInvalidCurrency is returned when a currency code is not a recognized ISO code.
	ErrInvalidCurrency = money.ErrInvalidCurrency

	// ErrInvalidAmount is returned for non-positive, non-finite or over-precise amounts.
	ErrInvalidAmount = money.ErrInvalidAmount

	// ErrCurrencyMismatch is returned when a transaction currency differs from an account currency.
	ErrCurrencyMismatch = money.ErrCurrencyMismatch

	// ErrMissingField is returned when a required field is empty
	ErrMissingField = errors.New("ledger: missing required field")

	// ErrUnknownReference is returned when a classification id does not resolve
	ErrUnknownReference = errors.New("ledger: unknown reference")

	// ErrNotFound is returned when an account, transaction, attachment or tenant does not exist
	ErrNotFound = errors.New("ledger: not found")

	// ErrAlreadyExists is returned when inserting a record whose id is taken
	ErrAlreadyExists = errors.New("ledger: already exists")

	// ErrAccountInactive is returned when posting against, or debiting, a deactivated account
	ErrAccountInactive = errors.New("ledger: account inactive")

	// ErrInvalidTransfer is returned when a transfer references the same account twice
	// or accounts of different currencies
	ErrInvalidTransfer = errors.New("ledger: invalid transfer")

	// ErrInvalidStateTransition is returned for any transition not allowed from the current state,
	// and for edits of fields frozen in the current state
	ErrInvalidStateTransition = errors.New("ledger: invalid state transition")

	// ErrFXSnapshotFrozen is returned when attempting to replace an attached FX snapshot
	ErrFXSnapshotFrozen = errors.New("ledger: fx snapshot already captured")

	// ErrFXUnavailable is returned when the rate resolver fails or times out during posting
	ErrFXUnavailable = errors.New("ledger: fx rate unavailable")

	// ErrConflict is returned when a concurrent modification won and internal retries are exhausted.
	// The operation is safe to retry.
	ErrConflict = errors.New("ledger: conflict")
)

// ValidationError names the field at fault for a rejected request.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// FieldOf returns the offending field of a validation failure, or "" if err carries none.
func FieldOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}

// Category groups errors by how a caller should react to them.
type Category string

const (
	CategoryNone       Category = "none"
	CategoryValidation Category = "validation"
	CategoryInvariant  Category = "invariant"
	CategoryConflict   Category = "conflict"
	CategoryDependency Category = "dependency"
	CategoryState      Category = "state"
	CategoryNotFound   Category = "not_found"
	CategoryInternal   Category = "internal"
)

// Retryable reports whether the same call may succeed if repeated unchanged.
func (c Category) Retryable() bool {
	return c == CategoryConflict || c == CategoryDependency
}

// Classify returns the category of err for API responses and metrics labels.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}

	// Invariants are checked first: a currency mismatch found while validating
	// a request is still a domain invariant violation.
	switch {
	case errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrInvalidTransfer),
		errors.Is(err, ErrAccountInactive):
		return CategoryInvariant
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyExists):
		return CategoryConflict
	case errors.Is(err, ErrFXUnavailable):
		return CategoryDependency
	case errors.Is(err, ErrInvalidStateTransition), errors.Is(err, ErrFXSnapshotFrozen):
		return CategoryState
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	}

	var ve *ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, ErrInvalidCurrency),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrMissingField),
		errors.Is(err, ErrUnknownReference):
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err indicates lost optimistic concurrency.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
