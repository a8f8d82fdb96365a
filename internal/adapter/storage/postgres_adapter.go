package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/bhw-inventory/internal/clock"
	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

const (
	pgSelectResource = `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1`

	pgInsertResource = `
INSERT INTO resources (` + resourceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	pgDecrementStock = `
UPDATE resources
SET quantity = quantity - $2, updated_at = $3
WHERE id = $1 AND quantity >= $2
RETURNING ` + resourceColumns

	pgIncrementStock = `
UPDATE resources
SET quantity = quantity + $2, updated_at = $3
WHERE id = $1
RETURNING ` + resourceColumns

	pgDeleteResource = `
DELETE FROM resources
WHERE id = $1 AND NOT EXISTS (
	SELECT 1 FROM transactions
	WHERE resource_id = $1 AND movement = $2 AND status = $3
)`

	pgInsertTransaction = `
INSERT INTO transactions (` + transactionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	pgSelectTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	pgMarkReturned = `
UPDATE transactions
SET status = 'returned', return_date = $2, return_quantity = $3
WHERE id = $1 AND movement = 'borrow' AND status = 'borrowed'
RETURNING ` + transactionColumns

	pgSelectProfile = `
SELECT borrower_id, member_id, first_name, last_name, purok, barangay
FROM profiles WHERE borrower_id = $1`
)

// PostgresAdapter is the pgx-backed store. The conditional decrement is a single
// UPDATE ... RETURNING, so the new quantity comes back in the same round trip.
type PostgresAdapter struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

func NewPostgresAdapter(pool *pgxpool.Pool, clk clock.Clock) *PostgresAdapter {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &PostgresAdapter{pool: pool, clock: clk}
}

func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	stmts, err := schemaStatements("postgres.sql")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return transportErr("migrate", err)
		}
	}
	return nil
}

func (p *PostgresAdapter) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	res, err := scanResource(p.pool.QueryRow(ctx, pgSelectResource, id))
	if err != nil {
		return nil, p.resourceErr("get resource", err)
	}
	return res, nil
}

func (p *PostgresAdapter) CreateResource(ctx context.Context, res domain.Resource) (*domain.Resource, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}

	now := p.clock.Now()
	res.ID = uuid.NewString()
	res.Expiration = dateOnly(res.Expiration)
	res.CreatedAt = now
	res.UpdatedAt = now

	_, err := p.pool.Exec(ctx, pgInsertResource,
		res.ID, string(res.Kind), res.Name, res.Quantity, res.Expiration, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		if isCheckViolation(err) {
			return nil, domain.Invalid("resource rejected by store: %v", err)
		}
		return nil, transportErr("create resource", err)
	}
	return &res, nil
}

func (p *PostgresAdapter) ListResources(ctx context.Context, filter domain.ResourceFilter) ([]domain.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources`
	var args []any
	if filter.Kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, transportErr("list resources", err)
	}
	defer rows.Close()

	out := make([]domain.Resource, 0)
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, transportErr("scan resource", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, transportErr("list resources", err)
	}
	return out, nil
}

func (p *PostgresAdapter) DecrementStock(ctx context.Context, id string, quantity int) (*domain.Resource, bool, error) {
	res, err := scanResource(p.pool.QueryRow(ctx, pgDecrementStock, id, quantity, p.clock.Now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		if isInvalidUUID(err) {
			return nil, false, nil
		}
		return nil, false, transportErr("decrement stock", err)
	}
	return res, true, nil
}

func (p *PostgresAdapter) IncrementStock(ctx context.Context, id string, quantity int) (*domain.Resource, error) {
	res, err := scanResource(p.pool.QueryRow(ctx, pgIncrementStock, id, quantity, p.clock.Now()))
	if err != nil {
		return nil, p.resourceErr("increment stock", err)
	}
	return res, nil
}

func (p *PostgresAdapter) UpdateResource(ctx context.Context, id string, update domain.ResourceUpdate) (*domain.Resource, error) {
	sets := []string{"updated_at = $2"}
	args := []any{id, p.clock.Now()}
	if update.Name != nil {
		args = append(args, *update.Name)
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if update.Expiration != nil {
		args = append(args, dateOnly(update.Expiration))
		sets = append(sets, fmt.Sprintf("expiration = $%d", len(args)))
	}

	query := `UPDATE resources SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + resourceColumns
	res, err := scanResource(p.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, p.resourceErr("update resource", err)
	}
	return res, nil
}

// DeleteResource removes the row only while no borrow of it is outstanding,
// checked in the same statement as the delete.
func (p *PostgresAdapter) DeleteResource(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, pgDeleteResource,
		id, string(domain.MovementBorrow), string(domain.TransactionStatusBorrowed))
	if err != nil {
		return p.resourceErr("delete resource", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM resources WHERE id = $1)`, id).Scan(&exists); err != nil {
		return p.resourceErr("delete resource", err)
	}
	if !exists {
		return domain.ErrResourceNotFound
	}
	return domain.ErrOutstandingBorrows
}

func (p *PostgresAdapter) AppendTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	tx.ID = uuid.NewString()
	tx.CreatedAt = p.clock.Now()
	tx.ExpectedReturnDate = dateOnly(tx.ExpectedReturnDate)

	if _, err := p.pool.Exec(ctx, pgInsertTransaction, transactionArgs(tx)...); err != nil {
		return nil, transportErr("append transaction", err)
	}
	return &tx, nil
}

func (p *PostgresAdapter) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := scanTransaction(p.pool.QueryRow(ctx, pgSelectTransaction, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, transportErr("get transaction", err)
	}
	return tx, nil
}

func (p *PostgresAdapter) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	where, args := transactionWhere(filter, dollar)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where + ` ORDER BY seq DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return []domain.Transaction{}, nil
		}
		return nil, transportErr("list transactions", err)
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, transportErr("scan transaction", err)
		}
		out = append(out, *tx)
	}
	if err := rows.Err(); err != nil {
		if isInvalidUUID(err) {
			return []domain.Transaction{}, nil
		}
		return nil, transportErr("list transactions", err)
	}
	return out, nil
}

func (p *PostgresAdapter) MarkReturned(ctx context.Context, id string, quantity int, at time.Time) (*domain.Transaction, error) {
	var borrow *domain.Transaction
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var err error
		borrow, err = scanTransaction(tx.QueryRow(ctx, pgMarkReturned, id, at, quantity))
		if errors.Is(err, pgx.ErrNoRows) {
			return p.whyNotReturned(ctx, tx, id)
		}
		if err != nil {
			return err
		}

		entry := returnEntry(uuid.NewString(), *borrow, quantity, p.clock.Now())
		_, err = tx.Exec(ctx, pgInsertTransaction, transactionArgs(entry)...)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrAlreadyReturned), errors.Is(err, domain.ErrValidation):
			return nil, err
		case isInvalidUUID(err):
			return nil, domain.ErrTransactionNotFound
		}
		return nil, transportErr("mark returned", err)
	}
	return borrow, nil
}

func (p *PostgresAdapter) whyNotReturned(ctx context.Context, tx pgx.Tx, id string) error {
	var (
		movement string
		status   *string
	)
	err := tx.QueryRow(ctx, `SELECT movement, status FROM transactions WHERE id = $1`, id).Scan(&movement, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrTransactionNotFound
	}
	if err != nil {
		return err
	}
	if domain.MovementKind(movement) != domain.MovementBorrow {
		return domain.ErrNotReturnable
	}
	return domain.ErrAlreadyReturned
}

func (p *PostgresAdapter) FindProfile(ctx context.Context, borrowerID string) (*domain.Profile, error) {
	var (
		profile                                domain.Profile
		memberID, first, last, purok, barangay *string
	)
	err := p.pool.QueryRow(ctx, pgSelectProfile, borrowerID).
		Scan(&profile.BorrowerID, &memberID, &first, &last, &purok, &barangay)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, transportErr("find profile", err)
	}
	profile.MemberID = deref(memberID)
	profile.FirstName = deref(first)
	profile.LastName = deref(last)
	profile.Purok = deref(purok)
	profile.Barangay = deref(barangay)
	return &profile, nil
}

// resourceErr maps lookups by id: a missing row or an id that is not a UUID
// both mean the resource does not exist.
func (p *PostgresAdapter) resourceErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return domain.ErrResourceNotFound
	}
	return transportErr(op, err)
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
