package port

import (
	"context"
	"time"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

// StockRepository is the durable key->quantity store. Every method is a single
// store round trip; none of them hold locks across calls.
type StockRepository interface {
	// GetResource returns domain.ErrResourceNotFound when the id is unknown
	GetResource(ctx context.Context, id string) (*domain.Resource, error)

	// CreateResource assigns ID and timestamps, rejecting empty names and negative quantities
	CreateResource(ctx context.Context, res domain.Resource) (*domain.Resource, error)

	// ListResources returns resources newest-first
	ListResources(ctx context.Context, filter domain.ResourceFilter) ([]domain.Resource, error)

	// DecrementStock atomically subtracts quantity only if the stored quantity is >= quantity.
	// ok is false when no row matched (insufficient stock, or the resource is gone).
	DecrementStock(ctx context.Context, id string, quantity int) (res *domain.Resource, ok bool, err error)

	// IncrementStock unconditionally adds quantity (restock, return, compensation)
	IncrementStock(ctx context.Context, id string, quantity int) (*domain.Resource, error)

	// UpdateResource edits descriptive fields only
	UpdateResource(ctx context.Context, id string, update domain.ResourceUpdate) (*domain.Resource, error)

	// DeleteResource returns domain.ErrOutstandingBorrows while any borrow of
	// the resource is still out, checked atomically with the delete
	DeleteResource(ctx context.Context, id string) error
}

// LedgerRepository is the append-only movement log.
type LedgerRepository interface {
	// AppendTransaction assigns ID and CreatedAt and never touches existing rows
	AppendTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)

	// GetTransaction returns domain.ErrTransactionNotFound when the id is unknown
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// ListTransactions returns entries newest-first
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)

	// MarkReturned flips a borrow from borrowed to returned and records the linked
	// return entry in the same store operation. It fails with domain.ErrAlreadyReturned
	// when the status was already returned.
	MarkReturned(ctx context.Context, id string, quantity int, at time.Time) (*domain.Transaction, error)
}

// ProfileRepository is the read-only borrower lookup.
type ProfileRepository interface {
	// FindProfile returns nil, nil when no profile exists
	FindProfile(ctx context.Context, borrowerID string) (*domain.Profile, error)
}
