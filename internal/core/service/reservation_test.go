package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
	"github.com/rl1809/bhw-inventory/internal/metrics"
)

var errDBDown = errors.New("connection reset by peer")

func adminCtx() context.Context {
	return domain.WithRole(context.Background(), domain.RoleAdmin)
}

func bhwCtx() context.Context {
	return domain.WithRole(context.Background(), domain.RoleBHW)
}

func medicine(id string, qty int) domain.Resource {
	return domain.Resource{ID: id, Kind: domain.ResourceKindMedicine, Name: "Paracetamol", Quantity: qty}
}

func tool(id string, qty int) domain.Resource {
	return domain.Resource{ID: id, Kind: domain.ResourceKindTool, Name: "BP apparatus", Quantity: qty}
}

func TestCreateAndDispense(t *testing.T) {
	stock := newFakeStock()
	ledger := newFakeLedger()
	svc := NewInventoryService(stock, ledger)

	res, err := svc.CreateResource(adminCtx(), CreateResourceInput{
		Kind:     domain.ResourceKindMedicine,
		Name:     "  Paracetamol ",
		Quantity: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, "Paracetamol", res.Name)

	tx, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: res.ID, Quantity: 5, Recipient: Recipient{Purpose: "fever"}})
	require.NoError(t, err)
	assert.Equal(t, domain.MovementRequest, tx.Movement)
	assert.Equal(t, 5, tx.Quantity)
	assert.Equal(t, "Paracetamol", tx.ResourceName)
	assert.Equal(t, domain.TransactionStatusNone, tx.Status)
	assert.Equal(t, 15, stock.quantity(res.ID))

	_, err = svc.Dispense(bhwCtx(), DispenseInput{ResourceID: res.ID, Quantity: 20})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 15, stock.quantity(res.ID))

	entries := ledger.entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.MovementStockIn, entries[0].Movement)
	assert.Equal(t, 20, entries[0].Quantity)
	assert.Equal(t, domain.MovementRequest, entries[1].Movement)
}

func TestReserve_ValidationSkipsStore(t *testing.T) {
	stock := newFakeStock(medicine("m1", 10))
	svc := NewInventoryService(stock, newFakeLedger())

	tests := []struct {
		name string
		in   DispenseInput
	}{
		{"zero quantity", DispenseInput{ResourceID: "m1", Quantity: 0}},
		{"negative quantity", DispenseInput{ResourceID: "m1", Quantity: -3}},
		{"missing resource id", DispenseInput{Quantity: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Dispense(bhwCtx(), tc.in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Zero(t, stock.callCount())
	assert.Equal(t, 10, stock.quantity("m1"))
}

func TestReserve_NotFoundAndKindMismatch(t *testing.T) {
	stock := newFakeStock(medicine("m1", 10), tool("t1", 2))
	ledger := newFakeLedger()
	svc := NewInventoryService(stock, ledger)

	_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "nope", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "t1", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 2, stock.quantity("t1"))

	_, err = svc.Borrow(bhwCtx(), BorrowInput{ResourceID: "m1", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 10, stock.quantity("m1"))

	assert.Empty(t, ledger.entries())
}

func TestReserve_Forbidden(t *testing.T) {
	stock := newFakeStock(medicine("m1", 10))
	svc := NewInventoryService(stock, newFakeLedger())

	_, err := svc.Dispense(domain.WithRole(context.Background(), domain.RolePublic), DispenseInput{ResourceID: "m1", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Dispense(context.Background(), DispenseInput{ResourceID: "m1", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.StockIn(bhwCtx(), StockInInput{ResourceID: "m1", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	assert.Zero(t, stock.callCount())
}

func TestDispense_ConcurrentFullStock(t *testing.T) {
	stock := newFakeStock(medicine("m1", 10))
	ledger := newFakeLedger()
	svc := NewInventoryService(stock, ledger, WithConflictRetries(0))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 10})
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		if !errors.Is(err, domain.ErrInsufficientStock) && !errors.Is(err, domain.ErrConcurrentUpdate) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 0, stock.quantity("m1"))
	assert.Len(t, ledger.entries(), 1)
}

func TestDispense_NeverNegative(t *testing.T) {
	const initial = 50
	stock := newFakeStock(medicine("m1", initial))
	ledger := newFakeLedger()
	svc := NewInventoryService(stock, ledger)

	var wg sync.WaitGroup
	var dispensed atomic.Int64
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			if _, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: qty}); err == nil {
				dispensed.Add(int64(qty))
			}
		}(i%4 + 1)
	}
	wg.Wait()

	assert.False(t, stock.negative)
	assert.Equal(t, initial-int(dispensed.Load()), stock.quantity("m1"))

	var logged int
	for _, tx := range ledger.entries() {
		logged += tx.Quantity
	}
	assert.Equal(t, int(dispensed.Load()), logged)
}

func TestDispense_ConflictRetry(t *testing.T) {
	t.Run("retries until the decrement lands", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 10))
		stock.lostRaces = 2
		reg := prometheus.NewRegistry()
		svc := NewInventoryService(stock, newFakeLedger(), WithMetrics(metrics.New(reg)))

		_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 3})
		require.NoError(t, err)
		assert.Equal(t, 7, stock.quantity("m1"))

		expected := `
# HELP inventory_conflict_retries_total Reservations re-read and retried after losing a conditional decrement race.
# TYPE inventory_conflict_retries_total counter
inventory_conflict_retries_total 2
`
		assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "inventory_conflict_retries_total"))
	})

	t.Run("gives up after the bound", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 10))
		stock.lostRaces = 5
		svc := NewInventoryService(stock, newFakeLedger(), WithConflictRetries(3))

		_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 3})
		assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
		assert.True(t, domain.Retriable(err))
		assert.Equal(t, 10, stock.quantity("m1"))
		assert.Equal(t, 1, stock.lostRaces)
	})

	t.Run("zero retries fails on first loss", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 10))
		stock.lostRaces = 1
		svc := NewInventoryService(stock, newFakeLedger(), WithConflictRetries(0))

		_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 3})
		assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	})
}

func TestReservationOutcomes(t *testing.T) {
	stock := newFakeStock(medicine("m1", 2), tool("t1", 1))
	reg := prometheus.NewRegistry()
	svc := NewInventoryService(stock, newFakeLedger(), WithMetrics(metrics.New(reg)))

	_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "missing", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "t1", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 5})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	_, err = svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 1})
	require.NoError(t, err)

	expected := `
# HELP inventory_reservations_total Stock movements attempted, by movement kind and outcome.
# TYPE inventory_reservations_total counter
inventory_reservations_total{movement="request",outcome="insufficient"} 1
inventory_reservations_total{movement="request",outcome="ok"} 1
inventory_reservations_total{movement="request",outcome="rejected"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "inventory_reservations_total"))
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, metrics.OutcomeOK},
		{"insufficient", fmt.Errorf("%w: 0 on hand", domain.ErrInsufficientStock), metrics.OutcomeInsufficient},
		{"conflict", domain.ErrConcurrentUpdate, metrics.OutcomeConflict},
		{"validation", domain.Invalid("quantity must be > 0"), metrics.OutcomeRejected},
		{"not found", domain.ErrResourceNotFound, metrics.OutcomeRejected},
		{"already returned", fmt.Errorf("mark returned: %w", domain.ErrAlreadyReturned), metrics.OutcomeRejected},
		{"duplicate request", domain.ErrDuplicateRequest, metrics.OutcomeRejected},
		{"forbidden", domain.ErrForbidden, metrics.OutcomeRejected},
		{"ledger write unwound", ledgerError("append request", errDBDown), metrics.OutcomeCompensated},
		{"ledger write with missing row", ledgerError("append request", domain.ErrTransactionNotFound), metrics.OutcomeCompensated},
		{"compensation failed", fmt.Errorf("%w: deadlock", domain.ErrCompensation), metrics.OutcomeFailed},
		{"store down", errDBDown, metrics.OutcomeFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, outcomeOf(tc.err))
		})
	}
}

func TestDispense_CompensatesFailedAppend(t *testing.T) {
	stock := newFakeStock(medicine("m1", 10))
	ledger := newFakeLedger()
	ledger.appendErr = errDBDown
	reg := prometheus.NewRegistry()
	svc := NewInventoryService(stock, ledger, WithMetrics(metrics.New(reg)))

	_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerWrite)
	assert.ErrorIs(t, err, errDBDown)
	assert.NotErrorIs(t, err, domain.ErrCompensation)

	assert.Equal(t, 10, stock.quantity("m1"))
	assert.Empty(t, ledger.entries())

	expected := `
# HELP inventory_compensations_total Compensating stock adjustments, by operation and outcome. outcome=failed means stock and ledger disagree.
# TYPE inventory_compensations_total counter
inventory_compensations_total{operation="request",outcome="compensated"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "inventory_compensations_total"))
}

func TestDispense_CompensationFailure(t *testing.T) {
	stock := newFakeStock(medicine("m1", 10))
	stock.incrementErr = errors.New("deadlock")
	ledger := newFakeLedger()
	ledger.appendErr = errDBDown
	cache := newFakeCache()
	svc := NewInventoryService(stock, ledger, WithCache(cache))

	_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 3, RequestID: "r-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerWrite)
	assert.ErrorIs(t, err, domain.ErrCompensation)
	assert.False(t, domain.Retriable(err))

	var ce *domain.CompensationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "m1", ce.ResourceID)
	assert.Equal(t, 3, ce.Quantity)

	// Units are stranded; the key stays held so a retry cannot strand more.
	assert.Equal(t, 7, stock.quantity("m1"))
	assert.True(t, cache.held("idempotency:request:r-1"))
}

func TestDispense_CancelledAfterDecrement(t *testing.T) {
	stock := newFakeStock(medicine("m1", 10))
	ledger := newFakeLedger()
	svc := NewInventoryService(stock, ledger)

	ctx, cancel := context.WithCancel(bhwCtx())
	stock.afterDecrement = cancel

	tx, err := svc.Dispense(ctx, DispenseInput{ResourceID: "m1", Quantity: 4})
	require.NoError(t, err)
	assert.Error(t, ctx.Err())
	assert.Equal(t, 4, tx.Quantity)
	assert.Equal(t, 6, stock.quantity("m1"))
	assert.Len(t, ledger.entries(), 1)
}

func TestDispense_CancelledBeforeStart(t *testing.T) {
	stock := newFakeStock(medicine("m1", 10))
	svc := NewInventoryService(stock, newFakeLedger())

	ctx, cancel := context.WithCancel(bhwCtx())
	cancel()

	_, err := svc.Dispense(ctx, DispenseInput{ResourceID: "m1", Quantity: 4})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, stock.quantity("m1"))
}

func TestDispense_RecipientLookup(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]domain.Profile{
		"b-1": {BorrowerID: "b-1", FirstName: "Maria", LastName: "Santos", Purok: "Purok 3"},
	}}

	t.Run("profile found", func(t *testing.T) {
		svc := NewInventoryService(newFakeStock(medicine("m1", 10)), newFakeLedger(), WithProfiles(profiles))
		tx, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 1, Recipient: Recipient{BorrowerID: "b-1", PrescribedBy: "Dr. Cruz"}})
		require.NoError(t, err)
		require.NotNil(t, tx.RecipientName)
		assert.Equal(t, "Maria Santos", *tx.RecipientName)
		require.NotNil(t, tx.RecipientPurok)
		assert.Equal(t, "Purok 3", *tx.RecipientPurok)
		assert.Equal(t, "Dr. Cruz", tx.PrescribedBy)
	})

	t.Run("profile absent", func(t *testing.T) {
		svc := NewInventoryService(newFakeStock(medicine("m1", 10)), newFakeLedger(), WithProfiles(profiles))
		tx, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 1, Recipient: Recipient{BorrowerID: "b-404"}})
		require.NoError(t, err)
		assert.Nil(t, tx.RecipientName)
		assert.Nil(t, tx.RecipientPurok)
		assert.Equal(t, "b-404", tx.BorrowerID)
	})

	t.Run("lookup error does not fail the reservation", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 10))
		svc := NewInventoryService(stock, newFakeLedger(), WithProfiles(&fakeProfiles{err: errDBDown}))
		tx, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 1, Recipient: Recipient{BorrowerID: "b-1"}})
		require.NoError(t, err)
		assert.Nil(t, tx.RecipientName)
		assert.Equal(t, 9, stock.quantity("m1"))
	})
}

func TestDispense_Idempotency(t *testing.T) {
	t.Run("duplicate request id is rejected", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 10))
		svc := NewInventoryService(stock, newFakeLedger(), WithCache(newFakeCache()))

		_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 2, RequestID: "r-1"})
		require.NoError(t, err)
		_, err = svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 2, RequestID: "r-1"})
		assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
		assert.Equal(t, 8, stock.quantity("m1"))
	})

	t.Run("clean failure releases the key", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 1))
		cache := newFakeCache()
		svc := NewInventoryService(stock, newFakeLedger(), WithCache(cache))

		_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 2, RequestID: "r-2"})
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		assert.False(t, cache.held("idempotency:request:r-2"))
	})

	t.Run("compensated failure releases the key", func(t *testing.T) {
		ledger := newFakeLedger()
		ledger.appendErr = errDBDown
		cache := newFakeCache()
		svc := NewInventoryService(newFakeStock(medicine("m1", 5)), ledger, WithCache(cache))

		_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 2, RequestID: "r-3"})
		assert.ErrorIs(t, err, domain.ErrLedgerWrite)
		assert.False(t, cache.held("idempotency:request:r-3"))
	})

	t.Run("cache outage is a transport error", func(t *testing.T) {
		cache := newFakeCache()
		cache.err = errDBDown
		stock := newFakeStock(medicine("m1", 5))
		svc := NewInventoryService(stock, newFakeLedger(), WithCache(cache))

		_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 2, RequestID: "r-4"})
		assert.ErrorIs(t, err, domain.ErrTransport)
		assert.True(t, domain.Retriable(err))
		assert.Zero(t, stock.callCount())
	})

	t.Run("scopes do not collide", func(t *testing.T) {
		svc := NewInventoryService(newFakeStock(medicine("m1", 5), tool("t1", 5)), newFakeLedger(), WithCache(newFakeCache()))

		_, err := svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 1, RequestID: "same"})
		require.NoError(t, err)
		_, err = svc.Borrow(bhwCtx(), BorrowInput{ResourceID: "t1", Quantity: 1, RequestID: "same"})
		require.NoError(t, err)
	})
}

func TestBorrow_RecordsOpenLoan(t *testing.T) {
	stock := newFakeStock(tool("t1", 3))
	svc := NewInventoryService(stock, newFakeLedger())
	due := baseTime.Add(72 * time.Hour)

	tx, err := svc.Borrow(bhwCtx(), BorrowInput{ResourceID: "t1", Quantity: 2, ExpectedReturn: &due, Recipient: Recipient{BorrowerID: "b-1"}})
	require.NoError(t, err)
	assert.Equal(t, domain.MovementBorrow, tx.Movement)
	assert.Equal(t, domain.TransactionStatusBorrowed, tx.Status)
	require.NotNil(t, tx.ExpectedReturnDate)
	assert.True(t, due.Equal(*tx.ExpectedReturnDate))
	assert.Nil(t, tx.ReturnDate)
	assert.Equal(t, 1, stock.quantity("t1"))
}

func TestStockIn(t *testing.T) {
	t.Run("stock in then dispense", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 4))
		ledger := newFakeLedger()
		svc := NewInventoryService(stock, ledger)

		res, err := svc.StockIn(adminCtx(), StockInInput{ResourceID: "m1", Quantity: 6})
		require.NoError(t, err)
		assert.Equal(t, 10, res.Quantity)

		_, err = svc.Dispense(bhwCtx(), DispenseInput{ResourceID: "m1", Quantity: 6})
		require.NoError(t, err)
		assert.Equal(t, 4, stock.quantity("m1"))

		entries := ledger.entries()
		require.Len(t, entries, 2)
		assert.Equal(t, domain.MovementStockIn, entries[0].Movement)
		assert.Equal(t, domain.MovementRequest, entries[1].Movement)
	})

	t.Run("updates expiration for medicine", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 4))
		svc := NewInventoryService(stock, newFakeLedger())
		exp := time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)

		res, err := svc.StockIn(adminCtx(), StockInInput{ResourceID: "m1", Quantity: 1, Expiration: &exp})
		require.NoError(t, err)
		require.NotNil(t, res.Expiration)
		assert.True(t, exp.Equal(*res.Expiration))
	})

	t.Run("rejects expiration on a tool", func(t *testing.T) {
		stock := newFakeStock(tool("t1", 1))
		svc := NewInventoryService(stock, newFakeLedger())
		exp := time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)

		_, err := svc.StockIn(adminCtx(), StockInInput{ResourceID: "t1", Quantity: 1, Expiration: &exp})
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, 1, stock.quantity("t1"))
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 4))
		svc := NewInventoryService(stock, newFakeLedger())

		_, err := svc.StockIn(adminCtx(), StockInInput{ResourceID: "m1", Quantity: 0})
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Zero(t, stock.callCount())
	})

	t.Run("compensates failed append", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 4))
		ledger := newFakeLedger()
		ledger.appendErr = errDBDown
		svc := NewInventoryService(stock, ledger)

		_, err := svc.StockIn(adminCtx(), StockInInput{ResourceID: "m1", Quantity: 6})
		assert.ErrorIs(t, err, domain.ErrLedgerWrite)
		assert.NotErrorIs(t, err, domain.ErrCompensation)
		assert.Equal(t, 4, stock.quantity("m1"))
	})

	t.Run("failed append leaves expiration unchanged", func(t *testing.T) {
		old := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
		m1 := medicine("m1", 4)
		m1.Expiration = &old
		stock := newFakeStock(m1)
		ledger := newFakeLedger()
		ledger.appendErr = errDBDown
		svc := NewInventoryService(stock, ledger)

		exp := time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC)
		_, err := svc.StockIn(adminCtx(), StockInInput{ResourceID: "m1", Quantity: 6, Expiration: &exp})
		assert.ErrorIs(t, err, domain.ErrLedgerWrite)

		res, err := stock.GetResource(context.Background(), "m1")
		require.NoError(t, err)
		assert.Equal(t, 4, res.Quantity)
		require.NotNil(t, res.Expiration)
		assert.True(t, old.Equal(*res.Expiration))
	})

	t.Run("expiration failure after commit keeps the movement", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 4))
		stock.updateErr = errDBDown
		ledger := newFakeLedger()
		svc := NewInventoryService(stock, ledger)

		exp := time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC)
		res, err := svc.StockIn(adminCtx(), StockInInput{ResourceID: "m1", Quantity: 6, Expiration: &exp})
		require.NoError(t, err)
		assert.Equal(t, 10, res.Quantity)
		assert.Nil(t, res.Expiration)
		require.Len(t, ledger.entries(), 1)
		assert.Equal(t, domain.MovementStockIn, ledger.entries()[0].Movement)
	})

	t.Run("failed compensation keeps the increment", func(t *testing.T) {
		stock := newFakeStock(medicine("m1", 0))
		ledger := newFakeLedger()
		ledger.appendErr = errDBDown
		stock.decrementErr = errors.New("lock wait timeout")
		svc := NewInventoryService(stock, ledger)

		_, err := svc.StockIn(adminCtx(), StockInInput{ResourceID: "m1", Quantity: 6})
		assert.ErrorIs(t, err, domain.ErrCompensation)
		assert.Equal(t, 6, stock.quantity("m1"))
	})
}
