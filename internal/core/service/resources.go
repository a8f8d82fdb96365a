package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

type CreateResourceInput struct {
	Kind       domain.ResourceKind
	Name       string
	Quantity   int
	Expiration *time.Time
}

// CreateResource registers a new resource. A non-zero opening quantity is
// recorded as a stock_in entry; if that entry cannot be written the resource is
// removed again.
func (s *InventoryService) CreateResource(ctx context.Context, in CreateResourceInput) (*domain.Resource, error) {
	if err := domain.Authorize(ctx, domain.PermInventoryCreate); err != nil {
		return nil, err
	}

	res := domain.Resource{
		Kind:       in.Kind,
		Name:       strings.TrimSpace(in.Name),
		Quantity:   in.Quantity,
		Expiration: in.Expiration,
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}

	created, err := s.stock.CreateResource(ctx, res)
	if err != nil {
		return nil, err
	}
	if created.Quantity == 0 {
		return created, nil
	}

	tailCtx, cancel := s.detach(ctx)
	defer cancel()

	_, err = s.ledger.AppendTransaction(tailCtx, domain.Transaction{
		ResourceID:   created.ID,
		ResourceKind: created.Kind,
		ResourceName: created.Name,
		Quantity:     created.Quantity,
		Movement:     domain.MovementStockIn,
	})
	if err != nil {
		return nil, s.compensate(tailCtx, "create", created.ID, created.Quantity, ledgerError("append opening stock_in", err), func(ctx context.Context) error {
			return s.stock.DeleteResource(ctx, created.ID)
		})
	}
	return created, nil
}

func (s *InventoryService) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	if err := domain.Authorize(ctx, domain.PermInventoryView); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, domain.Invalid("resource id is required")
	}
	return s.stock.GetResource(ctx, id)
}

func (s *InventoryService) ListResources(ctx context.Context, filter domain.ResourceFilter) ([]domain.Resource, error) {
	if err := domain.Authorize(ctx, domain.PermInventoryView); err != nil {
		return nil, err
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, domain.Invalid("unknown resource kind %q", filter.Kind)
	}
	return s.stock.ListResources(ctx, filter)
}

// UpdateResource edits the name or expiration. Quantity only moves through
// StockIn and reservations.
func (s *InventoryService) UpdateResource(ctx context.Context, id string, update domain.ResourceUpdate) (*domain.Resource, error) {
	if err := domain.Authorize(ctx, domain.PermInventoryEdit); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, domain.Invalid("resource id is required")
	}
	if update.Empty() {
		return nil, domain.Invalid("nothing to update")
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, domain.Invalid("name is required")
		}
		update.Name = &name
	}
	if update.Expiration != nil {
		res, err := s.stock.GetResource(ctx, id)
		if err != nil {
			return nil, err
		}
		if res.Kind != domain.ResourceKindMedicine {
			return nil, domain.Invalid("expiration only applies to medicine")
		}
	}
	return s.stock.UpdateResource(ctx, id, update)
}

// DeleteResource removes a resource. Tools with units still out on loan are
// rejected here for the error detail, and again by the store atomically with
// the delete. Ledger entries stay; they reference the resource by id only.
func (s *InventoryService) DeleteResource(ctx context.Context, id string) error {
	if err := domain.Authorize(ctx, domain.PermInventoryDelete); err != nil {
		return err
	}
	if id == "" {
		return domain.Invalid("resource id is required")
	}

	res, err := s.stock.GetResource(ctx, id)
	if err != nil {
		return err
	}
	if res.Kind.Returnable() {
		open, err := s.ledger.ListTransactions(ctx, domain.TransactionFilter{
			ResourceID: id,
			Movement:   domain.MovementBorrow,
			Status:     domain.TransactionStatusBorrowed,
		})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return fmt.Errorf("%w: %d borrows of %s not returned", domain.ErrOutstandingBorrows, len(open), res.Name)
		}
	}
	return s.stock.DeleteResource(ctx, id)
}

func (s *InventoryService) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if err := domain.Authorize(ctx, domain.PermInventoryView); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, domain.Invalid("transaction id is required")
	}
	return s.ledger.GetTransaction(ctx, id)
}

func (s *InventoryService) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if err := domain.Authorize(ctx, domain.PermInventoryView); err != nil {
		return nil, err
	}
	if filter.Movement != "" && !filter.Movement.Valid() {
		return nil, domain.Invalid("unknown movement %q", filter.Movement)
	}
	return s.ledger.ListTransactions(ctx, filter)
}
