package domain

import "time"

type MovementKind string

const (
	MovementRequest MovementKind = "request"
	MovementBorrow  MovementKind = "borrow"
	MovementReturn  MovementKind = "return"
	MovementStockIn MovementKind = "stock_in"
)

func (m MovementKind) Valid() bool {
	switch m {
	case MovementRequest, MovementBorrow, MovementReturn, MovementStockIn:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusNone     TransactionStatus = ""
	TransactionStatusBorrowed TransactionStatus = "borrowed"
	TransactionStatusReturned TransactionStatus = "returned"
)

// Transaction is one ledger entry. Entries are immutable once written except for
// the status and return fields of a borrow, which change exactly once.
type Transaction struct {
	ID           string
	ResourceID   string
	ResourceKind ResourceKind
	ResourceName string
	Quantity     int
	Movement     MovementKind

	BorrowerID     string
	RecipientName  *string
	RecipientPurok *string
	Purpose        string
	PrescribedBy   string

	Status             TransactionStatus
	ExpectedReturnDate *time.Time
	ReturnDate         *time.Time
	ReturnQuantity     *int
	// RelatedID links a return entry to the borrow it closes.
	RelatedID string

	CreatedAt time.Time
}

// Outstanding reports whether units of this entry are still out on loan.
func (t Transaction) Outstanding() bool {
	return t.Movement == MovementBorrow && t.Status == TransactionStatusBorrowed
}

// Overdue reports whether an outstanding borrow passed its expected return date.
func (t Transaction) Overdue(now time.Time) bool {
	return t.Outstanding() && t.ExpectedReturnDate != nil && t.ExpectedReturnDate.Before(now)
}

type TransactionFilter struct {
	ResourceID   string
	ResourceKind ResourceKind
	Movement     MovementKind
	Status       TransactionStatus
	BorrowerID   string
	Since        time.Time
}

// Match applies the filter in memory. Zero-valued fields match everything.
func (f TransactionFilter) Match(t Transaction) bool {
	if f.ResourceID != "" && t.ResourceID != f.ResourceID {
		return false
	}
	if f.ResourceKind != "" && t.ResourceKind != f.ResourceKind {
		return false
	}
	if f.Movement != "" && t.Movement != f.Movement {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.BorrowerID != "" && t.BorrowerID != f.BorrowerID {
		return false
	}
	if !f.Since.IsZero() && t.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
