package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/bhw-inventory/internal/clock"
	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

// ER_CHECK_CONSTRAINT_VIOLATED
const mysqlCheckViolation = 3819

const (
	mysqlSelectResource = `SELECT ` + resourceColumns + ` FROM resources WHERE id = ?`

	mysqlInsertResource = `
		INSERT INTO resources (` + resourceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	mysqlDecrementStock = `
		UPDATE resources
		SET quantity = quantity - ?, updated_at = ?
		WHERE id = ? AND quantity >= ?`

	mysqlIncrementStock = `
		UPDATE resources
		SET quantity = quantity + ?, updated_at = ?
		WHERE id = ?`

	mysqlDeleteResource = `
		DELETE FROM resources
		WHERE id = ? AND NOT EXISTS (
			SELECT 1 FROM transactions
			WHERE resource_id = ? AND movement = ? AND status = ?
		)`

	mysqlResourceExists = `SELECT COUNT(*) FROM resources WHERE id = ?`

	mysqlInsertTransaction = `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	mysqlSelectTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	mysqlMarkReturned = `
		UPDATE transactions
		SET status = ?, return_date = ?, return_quantity = ?
		WHERE id = ? AND movement = ? AND status = ?`

	mysqlTransactionState = `SELECT movement, status FROM transactions WHERE id = ?`

	mysqlSelectProfile = `
		SELECT borrower_id, member_id, first_name, last_name, purok, barangay
		FROM profiles WHERE borrower_id = ?`
)

// MySQLAdapter keeps resources, the ledger and borrower profiles in MySQL.
// Conditional decrements rely on the row lock taken by a single UPDATE.
type MySQLAdapter struct {
	db    *sql.DB
	clock clock.Clock
}

func NewMySQLAdapter(db *sql.DB, clk clock.Clock) *MySQLAdapter {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MySQLAdapter{db: db, clock: clk}
}

// Migrate creates the tables if they do not exist yet.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	stmts, err := schemaStatements("mysql.sql")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return transportErr("migrate", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	res, err := scanResource(m.db.QueryRowContext(ctx, mysqlSelectResource, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrResourceNotFound
	}
	if err != nil {
		return nil, transportErr("query resource", err)
	}
	return res, nil
}

func (m *MySQLAdapter) CreateResource(ctx context.Context, res domain.Resource) (*domain.Resource, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}

	now := m.clock.Now()
	res.ID = uuid.NewString()
	res.Expiration = dateOnly(res.Expiration)
	res.CreatedAt = now
	res.UpdatedAt = now

	_, err := m.db.ExecContext(ctx, mysqlInsertResource,
		res.ID, string(res.Kind), res.Name, res.Quantity, res.Expiration, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		if isMySQLCheckViolation(err) {
			return nil, domain.Invalid("resource rejected by store: %v", err)
		}
		return nil, transportErr("insert resource", err)
	}
	return &res, nil
}

func (m *MySQLAdapter) ListResources(ctx context.Context, filter domain.ResourceFilter) ([]domain.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources`
	var args []any
	if filter.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := m.db.QueryContext(ctx, query, args...)
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

func (m *MySQLAdapter) DecrementStock(ctx context.Context, id string, quantity int) (*domain.Resource, bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, transportErr("begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, mysqlDecrementStock, quantity, m.clock.Now(), id, quantity)
	if err != nil {
		return nil, false, transportErr("decrement stock", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, transportErr("decrement stock", err)
	}
	if rows == 0 {
		return nil, false, nil
	}

	res, err := scanResource(tx.QueryRowContext(ctx, mysqlSelectResource, id))
	if err != nil {
		return nil, false, transportErr("reload resource", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, transportErr("commit decrement", err)
	}
	return res, true, nil
}

func (m *MySQLAdapter) IncrementStock(ctx context.Context, id string, quantity int) (*domain.Resource, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transportErr("begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, mysqlIncrementStock, quantity, m.clock.Now(), id)
	if err != nil {
		return nil, transportErr("increment stock", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, domain.ErrResourceNotFound
	}

	res, err := scanResource(tx.QueryRowContext(ctx, mysqlSelectResource, id))
	if err != nil {
		return nil, transportErr("reload resource", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, transportErr("commit increment", err)
	}
	return res, nil
}

func (m *MySQLAdapter) UpdateResource(ctx context.Context, id string, update domain.ResourceUpdate) (*domain.Resource, error) {
	sets := []string{"updated_at = ?"}
	args := []any{m.clock.Now()}
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Expiration != nil {
		sets = append(sets, "expiration = ?")
		args = append(args, dateOnly(update.Expiration))
	}
	args = append(args, id)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transportErr("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE resources SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, transportErr("update resource", err)
	}
	res, err := scanResource(tx.QueryRowContext(ctx, mysqlSelectResource, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrResourceNotFound
	}
	if err != nil {
		return nil, transportErr("reload resource", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, transportErr("commit update", err)
	}
	return res, nil
}

// DeleteResource removes the row only while no borrow of it is outstanding,
// checked in the same statement as the delete.
func (m *MySQLAdapter) DeleteResource(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, mysqlDeleteResource,
		id, id, string(domain.MovementBorrow), string(domain.TransactionStatusBorrowed))
	if err != nil {
		return transportErr("delete resource", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	var n int
	if err := m.db.QueryRowContext(ctx, mysqlResourceExists, id).Scan(&n); err != nil {
		return transportErr("delete resource", err)
	}
	if n == 0 {
		return domain.ErrResourceNotFound
	}
	return domain.ErrOutstandingBorrows
}

func (m *MySQLAdapter) AppendTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	tx.ID = uuid.NewString()
	tx.CreatedAt = m.clock.Now()
	tx.ExpectedReturnDate = dateOnly(tx.ExpectedReturnDate)

	if _, err := m.db.ExecContext(ctx, mysqlInsertTransaction, transactionArgs(tx)...); err != nil {
		return nil, transportErr("insert transaction", err)
	}
	return &tx, nil
}

func (m *MySQLAdapter) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := scanTransaction(m.db.QueryRowContext(ctx, mysqlSelectTransaction, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, transportErr("query transaction", err)
	}
	return tx, nil
}

func (m *MySQLAdapter) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	where, args := transactionWhere(filter, questionMark)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where + ` ORDER BY seq DESC`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
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
		return nil, transportErr("list transactions", err)
	}
	return out, nil
}

// MarkReturned flips the status with a guarded UPDATE and inserts the linked
// return entry in the same database transaction.
func (m *MySQLAdapter) MarkReturned(ctx context.Context, id string, quantity int, at time.Time) (*domain.Transaction, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transportErr("begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, mysqlMarkReturned,
		string(domain.TransactionStatusReturned), at, quantity,
		id, string(domain.MovementBorrow), string(domain.TransactionStatusBorrowed),
	)
	if err != nil {
		return nil, transportErr("mark returned", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, m.whyNotReturned(ctx, tx, id)
	}

	borrow, err := scanTransaction(tx.QueryRowContext(ctx, mysqlSelectTransaction, id))
	if err != nil {
		return nil, transportErr("reload transaction", err)
	}
	entry := returnEntry(uuid.NewString(), *borrow, quantity, m.clock.Now())
	if _, err := tx.ExecContext(ctx, mysqlInsertTransaction, transactionArgs(entry)...); err != nil {
		return nil, transportErr("insert return entry", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, transportErr("commit return", err)
	}
	return borrow, nil
}

func (m *MySQLAdapter) whyNotReturned(ctx context.Context, tx *sql.Tx, id string) error {
	var (
		movement string
		status   *string
	)
	err := tx.QueryRowContext(ctx, mysqlTransactionState, id).Scan(&movement, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrTransactionNotFound
	}
	if err != nil {
		return transportErr("query transaction state", err)
	}
	if domain.MovementKind(movement) != domain.MovementBorrow {
		return domain.ErrNotReturnable
	}
	return domain.ErrAlreadyReturned
}

func (m *MySQLAdapter) FindProfile(ctx context.Context, borrowerID string) (*domain.Profile, error) {
	var (
		p                                      domain.Profile
		memberID, first, last, purok, barangay *string
	)
	err := m.db.QueryRowContext(ctx, mysqlSelectProfile, borrowerID).
		Scan(&p.BorrowerID, &memberID, &first, &last, &purok, &barangay)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, transportErr("query profile", err)
	}
	p.MemberID = deref(memberID)
	p.FirstName = deref(first)
	p.LastName = deref(last)
	p.Purok = deref(purok)
	p.Barangay = deref(barangay)
	return &p, nil
}

func isMySQLCheckViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlCheckViolation
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrTransport, op, err)
}
