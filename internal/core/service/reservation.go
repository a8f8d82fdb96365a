package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

// Recipient identifies who receives the units. BorrowerID is only a lookup key;
// the display fields on the ledger entry come from the borrower profile.
type Recipient struct {
	BorrowerID   string
	Purpose      string
	PrescribedBy string
}

type DispenseInput struct {
	ResourceID string
	Quantity   int
	Recipient  Recipient
	RequestID  string
}

type BorrowInput struct {
	ResourceID     string
	Quantity       int
	Recipient      Recipient
	ExpectedReturn *time.Time
	RequestID      string
}

type StockInInput struct {
	ResourceID string
	Quantity   int
	Expiration *time.Time
}

type reservation struct {
	kind           domain.ResourceKind
	movement       domain.MovementKind
	resourceID     string
	quantity       int
	recipient      Recipient
	expectedReturn *time.Time
	requestID      string
}

// Dispense hands out consumable units and records a request entry.
func (s *InventoryService) Dispense(ctx context.Context, in DispenseInput) (*domain.Transaction, error) {
	return s.reserve(ctx, reservation{
		kind:       domain.ResourceKindMedicine,
		movement:   domain.MovementRequest,
		resourceID: in.ResourceID,
		quantity:   in.Quantity,
		recipient:  in.Recipient,
		requestID:  in.RequestID,
	})
}

// Borrow checks out returnable units and records a borrow entry in state borrowed.
func (s *InventoryService) Borrow(ctx context.Context, in BorrowInput) (*domain.Transaction, error) {
	return s.reserve(ctx, reservation{
		kind:           domain.ResourceKindTool,
		movement:       domain.MovementBorrow,
		resourceID:     in.ResourceID,
		quantity:       in.Quantity,
		recipient:      in.Recipient,
		expectedReturn: in.ExpectedReturn,
		requestID:      in.RequestID,
	})
}

func (s *InventoryService) reserve(ctx context.Context, r reservation) (*domain.Transaction, error) {
	if err := domain.Authorize(ctx, domain.PermInventoryAvail); err != nil {
		return nil, err
	}
	if r.resourceID == "" {
		return nil, domain.Invalid("resource id is required")
	}
	if r.quantity <= 0 {
		return nil, domain.Invalid("quantity must be > 0")
	}

	release, err := s.claim(ctx, string(r.movement), r.requestID)
	if err != nil {
		return nil, err
	}

	res, err := s.decrement(ctx, r)
	if err != nil {
		release()
		s.metrics.Reservation(string(r.movement), outcomeOf(err))
		return nil, err
	}

	// The decrement is committed. The rest must finish even if the caller leaves.
	tailCtx, cancel := s.detach(ctx)
	defer cancel()

	entry := domain.Transaction{
		ResourceID:   res.ID,
		ResourceKind: res.Kind,
		ResourceName: res.Name,
		Quantity:     r.quantity,
		Movement:     r.movement,
		BorrowerID:   r.recipient.BorrowerID,
		Purpose:      r.recipient.Purpose,
		PrescribedBy: r.recipient.PrescribedBy,
	}
	if r.movement == domain.MovementBorrow {
		entry.Status = domain.TransactionStatusBorrowed
		entry.ExpectedReturnDate = r.expectedReturn
	}
	entry.RecipientName, entry.RecipientPurok = s.lookupRecipient(tailCtx, r.recipient.BorrowerID)

	stored, err := s.ledger.AppendTransaction(tailCtx, entry)
	if err != nil {
		err = s.compensate(tailCtx, string(r.movement), res.ID, r.quantity, ledgerError("append "+string(r.movement), err), s.restock(res.ID, r.quantity))
		if !isCompensationFailure(err) {
			release()
		}
		s.metrics.Reservation(string(r.movement), outcomeOf(err))
		return nil, err
	}

	s.metrics.Reservation(string(r.movement), outcomeOf(nil))
	return stored, nil
}

// decrement performs the check-then-conditional-act step. The read is advisory;
// the store's conditional decrement is the only synchronization point.
func (s *InventoryService) decrement(ctx context.Context, r reservation) (*domain.Resource, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := s.stock.GetResource(ctx, r.resourceID)
		if err != nil {
			return nil, err
		}
		if res.Kind != r.kind {
			return nil, domain.Invalid("resource %s is a %s, cannot %s it", res.ID, res.Kind, r.movement)
		}
		if res.Quantity < r.quantity {
			return nil, fmt.Errorf("%w: %d on hand, %d requested", domain.ErrInsufficientStock, res.Quantity, r.quantity)
		}

		updated, ok, err := s.stock.DecrementStock(ctx, r.resourceID, r.quantity)
		if err != nil {
			return nil, err
		}
		if ok {
			if updated == nil {
				updated = res
			}
			return updated, nil
		}

		if attempt >= s.conflictRetries {
			return nil, fmt.Errorf("%w: resource %s changed while reserving", domain.ErrConcurrentUpdate, r.resourceID)
		}
		s.metrics.ConflictRetry()
		s.logger.Debug("conditional decrement lost race, retrying",
			zap.String("resource_id", r.resourceID),
			zap.Int("quantity", r.quantity),
			zap.Int("attempt", attempt+1),
		)
	}
}

func (s *InventoryService) lookupRecipient(ctx context.Context, borrowerID string) (name, purok *string) {
	if borrowerID == "" || s.profiles == nil {
		return nil, nil
	}
	p, err := s.profiles.FindProfile(ctx, borrowerID)
	if err != nil {
		s.logger.Warn("borrower profile lookup failed", zap.String("borrower_id", borrowerID), zap.Error(err))
		return nil, nil
	}
	if p == nil {
		return nil, nil
	}
	return p.DisplayName(), p.Locality()
}

// StockIn adds units to a resource and records a stock_in entry. For medicine a
// new expiration date may be supplied with the delivery.
func (s *InventoryService) StockIn(ctx context.Context, in StockInInput) (*domain.Resource, error) {
	if err := domain.Authorize(ctx, domain.PermInventoryCreate); err != nil {
		return nil, err
	}
	if in.ResourceID == "" {
		return nil, domain.Invalid("resource id is required")
	}
	if in.Quantity <= 0 {
		return nil, domain.Invalid("quantity must be > 0")
	}

	res, err := s.stock.GetResource(ctx, in.ResourceID)
	if err != nil {
		return nil, err
	}
	if in.Expiration != nil && res.Kind != domain.ResourceKindMedicine {
		return nil, domain.Invalid("expiration only applies to medicine")
	}

	updated, err := s.stock.IncrementStock(ctx, res.ID, in.Quantity)
	if err != nil {
		s.metrics.Reservation(string(domain.MovementStockIn), outcomeOf(err))
		return nil, err
	}

	tailCtx, cancel := s.detach(ctx)
	defer cancel()

	_, err = s.ledger.AppendTransaction(tailCtx, domain.Transaction{
		ResourceID:   res.ID,
		ResourceKind: res.Kind,
		ResourceName: res.Name,
		Quantity:     in.Quantity,
		Movement:     domain.MovementStockIn,
	})
	if err != nil {
		err = s.compensate(tailCtx, string(domain.MovementStockIn), res.ID, in.Quantity, ledgerError("append stock_in", err), s.unstock(res.ID, in.Quantity))
		s.metrics.Reservation(string(domain.MovementStockIn), outcomeOf(err))
		return nil, err
	}

	s.metrics.Reservation(string(domain.MovementStockIn), outcomeOf(nil))

	// Expiration is written only after the ledger append so a failed stock-in
	// leaves the resource untouched. The movement is committed here; an
	// expiration failure is logged, not returned.
	if in.Expiration != nil {
		dated, err := s.stock.UpdateResource(tailCtx, res.ID, domain.ResourceUpdate{Expiration: in.Expiration})
		if err != nil {
			s.logger.Error("stock-in recorded but expiration update failed",
				zap.String("resource_id", res.ID),
				zap.Time("expiration", *in.Expiration),
				zap.Error(err),
			)
			return updated, nil
		}
		return dated, nil
	}
	return updated, nil
}
