package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

type ReturnInput struct {
	TransactionID string
	// Quantity overrides the amount restocked; nil returns everything borrowed.
	Quantity  *int
	RequestID string
}

// ReturnItem moves a borrow from borrowed to returned and restocks the returned
// units. A borrow is closed exactly once; partial returns close it too, with the
// shortfall visible in ReturnQuantity.
func (s *InventoryService) ReturnItem(ctx context.Context, in ReturnInput) (*domain.Transaction, error) {
	if err := domain.Authorize(ctx, domain.PermInventoryAvail); err != nil {
		return nil, err
	}
	if in.TransactionID == "" {
		return nil, domain.Invalid("transaction id is required")
	}
	if in.Quantity != nil && *in.Quantity <= 0 {
		return nil, domain.Invalid("return quantity must be > 0")
	}

	release, err := s.claim(ctx, string(domain.MovementReturn), in.RequestID)
	if err != nil {
		return nil, err
	}

	borrow, err := s.ledger.GetTransaction(ctx, in.TransactionID)
	if err != nil {
		release()
		return nil, err
	}
	if borrow.Movement != domain.MovementBorrow {
		release()
		return nil, fmt.Errorf("%w: transaction %s is a %s", domain.ErrNotReturnable, borrow.ID, borrow.Movement)
	}
	if borrow.Status == domain.TransactionStatusReturned {
		release()
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrAlreadyReturned, borrow.ID)
	}

	quantity := borrow.Quantity
	if in.Quantity != nil {
		if *in.Quantity > borrow.Quantity {
			release()
			return nil, domain.Invalid("return quantity %d exceeds borrowed quantity %d", *in.Quantity, borrow.Quantity)
		}
		quantity = *in.Quantity
	}

	if _, err := s.stock.IncrementStock(ctx, borrow.ResourceID, quantity); err != nil {
		release()
		s.metrics.Reservation(string(domain.MovementReturn), outcomeOf(err))
		return nil, err
	}

	tailCtx, cancel := s.detach(ctx)
	defer cancel()

	updated, err := s.ledger.MarkReturned(tailCtx, borrow.ID, quantity, s.clock.Now())
	if err != nil {
		// A concurrent return that won the status flip leaves our increment as
		// surplus stock, so it is unwound the same way as any other failure.
		err = s.compensate(tailCtx, string(domain.MovementReturn), borrow.ResourceID, quantity, markReturnedError(err), s.unstock(borrow.ResourceID, quantity))
		if !isCompensationFailure(err) {
			release()
		}
		s.metrics.Reservation(string(domain.MovementReturn), outcomeOf(err))
		return nil, err
	}

	s.metrics.Reservation(string(domain.MovementReturn), outcomeOf(nil))
	return updated, nil
}

func markReturnedError(err error) error {
	if errors.Is(err, domain.ErrAlreadyReturned) || errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("mark returned: %w", err)
	}
	return ledgerError("mark returned", err)
}
