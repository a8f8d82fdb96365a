package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrResourceNotFound    = fmt.Errorf("resource %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrConcurrentUpdate    = errors.New("concurrent update conflict")
	ErrAlreadyReturned     = errors.New("already returned")
	ErrNotReturnable       = fmt.Errorf("%w: transaction is not a borrow", ErrValidation)
	ErrOutstandingBorrows  = errors.New("resource has outstanding borrows")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrForbidden           = errors.New("forbidden")
	ErrLedgerWrite         = errors.New("ledger write failed")
	ErrCompensation        = errors.New("compensation failed")
	ErrTransport           = errors.New("store unavailable")
)

// Invalid builds a validation error for bad caller input.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// CompensationError reports a saga whose unwind step failed. Stock and ledger
// disagree by Quantity units on ResourceID until an operator reconciles them.
type CompensationError struct {
	Operation    string
	ResourceID   string
	Quantity     int
	Original     error
	Compensation error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("%s: %v; %v for resource %s (%d units): %v",
		e.Operation, e.Original, ErrCompensation, e.ResourceID, e.Quantity, e.Compensation)
}

// Unwrap exposes the original failure first so callers still see why the
// operation failed, then ErrCompensation and the unwind cause.
func (e *CompensationError) Unwrap() []error {
	return []error{e.Original, ErrCompensation, e.Compensation}
}

// Retriable reports whether a caller may safely re-issue the operation.
func Retriable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate) || (errors.Is(err, ErrTransport) && !errors.Is(err, ErrCompensation))
}
