package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

// Column lists and row mappings shared by the SQL adapters. Nullable columns
// scan into pointers, which both database/sql and pgx support.

const resourceColumns = `id, kind, name, quantity, expiration, created_at, updated_at`

// transactions.seq is assigned by the database and only used for ordering.
const transactionColumns = `id, resource_id, resource_kind, resource_name, quantity, movement,
	borrower_id, recipient_name, recipient_purok, purpose, prescribed_by,
	status, expected_return_date, return_date, return_quantity, related_id, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (*domain.Resource, error) {
	var (
		res  domain.Resource
		kind string
	)
	if err := row.Scan(&res.ID, &kind, &res.Name, &res.Quantity, &res.Expiration, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return nil, err
	}
	res.Kind = domain.ResourceKind(kind)
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	if res.Expiration != nil {
		exp := res.Expiration.UTC()
		res.Expiration = &exp
	}
	return &res, nil
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		tx                                        domain.Transaction
		kind, movement                            string
		borrowerID, purpose, prescribedBy, status *string
		relatedID                                 *string
	)
	err := row.Scan(
		&tx.ID, &tx.ResourceID, &kind, &tx.ResourceName, &tx.Quantity, &movement,
		&borrowerID, &tx.RecipientName, &tx.RecipientPurok, &purpose, &prescribedBy,
		&status, &tx.ExpectedReturnDate, &tx.ReturnDate, &tx.ReturnQuantity, &relatedID, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.ResourceKind = domain.ResourceKind(kind)
	tx.Movement = domain.MovementKind(movement)
	tx.BorrowerID = deref(borrowerID)
	tx.Purpose = deref(purpose)
	tx.PrescribedBy = deref(prescribedBy)
	tx.Status = domain.TransactionStatus(deref(status))
	tx.RelatedID = deref(relatedID)
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

// transactionArgs returns the insert arguments in transactionColumns order.
func transactionArgs(tx domain.Transaction) []any {
	return []any{
		tx.ID, tx.ResourceID, string(tx.ResourceKind), tx.ResourceName, tx.Quantity, string(tx.Movement),
		nullable(tx.BorrowerID), tx.RecipientName, tx.RecipientPurok, nullable(tx.Purpose), nullable(tx.PrescribedBy),
		nullable(string(tx.Status)), tx.ExpectedReturnDate, tx.ReturnDate, tx.ReturnQuantity, nullable(tx.RelatedID), tx.CreatedAt,
	}
}

// transactionWhere renders filter as a WHERE clause. placeholder(n) returns the
// driver's bind marker for the n-th argument, starting at 1.
func transactionWhere(filter domain.TransactionFilter, placeholder func(n int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s %s", column, placeholder(len(args))))
	}

	if filter.ResourceID != "" {
		add("resource_id =", filter.ResourceID)
	}
	if filter.ResourceKind != "" {
		add("resource_kind =", string(filter.ResourceKind))
	}
	if filter.Movement != "" {
		add("movement =", string(filter.Movement))
	}
	if filter.Status != "" {
		add("status =", string(filter.Status))
	}
	if filter.BorrowerID != "" {
		add("borrower_id =", filter.BorrowerID)
	}
	if !filter.Since.IsZero() {
		add("created_at >=", filter.Since)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	y, m, d := t.UTC().Date()
	out := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &out
}

// returnEntry builds the ledger row that closes borrow.
func returnEntry(id string, borrow domain.Transaction, quantity int, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		ResourceID:   borrow.ResourceID,
		ResourceKind: borrow.ResourceKind,
		ResourceName: borrow.ResourceName,
		Quantity:     quantity,
		Movement:     domain.MovementReturn,
		BorrowerID:   borrow.BorrowerID,
		RelatedID:    borrow.ID,
		CreatedAt:    at,
	}
}
