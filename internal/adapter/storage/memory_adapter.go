package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/bhw-inventory/internal/clock"
	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

// MemoryAdapter is a process-local store for development and the stress tool.
// One mutex serializes every call, which gives the same per-call atomicity the
// SQL stores get from row locks.
type MemoryAdapter struct {
	mu        sync.Mutex
	clock     clock.Clock
	resources map[string]*domain.Resource
	txs       []domain.Transaction
	txIndex   map[string]int
	profiles  map[string]domain.Profile
}

func NewMemoryAdapter(clk clock.Clock) *MemoryAdapter {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MemoryAdapter{
		clock:     clk,
		resources: make(map[string]*domain.Resource),
		txIndex:   make(map[string]int),
		profiles:  make(map[string]domain.Profile),
	}
}

// PutProfile registers a borrower profile for recipient lookups.
func (m *MemoryAdapter) PutProfile(p domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.BorrowerID] = p
}

func (m *MemoryAdapter) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.resources[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	cp := *res
	return &cp, nil
}

func (m *MemoryAdapter) CreateResource(ctx context.Context, res domain.Resource) (*domain.Resource, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	res.ID = uuid.NewString()
	res.Expiration = dateOnly(res.Expiration)
	res.CreatedAt = now
	res.UpdatedAt = now
	m.resources[res.ID] = &res

	cp := res
	return &cp, nil
}

func (m *MemoryAdapter) ListResources(ctx context.Context, filter domain.ResourceFilter) ([]domain.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Resource, 0, len(m.resources))
	for _, res := range m.resources {
		if filter.Kind != "" && res.Kind != filter.Kind {
			continue
		}
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryAdapter) DecrementStock(ctx context.Context, id string, quantity int) (*domain.Resource, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, transportErr("decrement stock", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.resources[id]
	if !ok || res.Quantity < quantity {
		return nil, false, nil
	}
	res.Quantity -= quantity
	res.UpdatedAt = m.clock.Now()

	cp := *res
	return &cp, true, nil
}

func (m *MemoryAdapter) IncrementStock(ctx context.Context, id string, quantity int) (*domain.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportErr("increment stock", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.resources[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	res.Quantity += quantity
	res.UpdatedAt = m.clock.Now()

	cp := *res
	return &cp, nil
}

func (m *MemoryAdapter) UpdateResource(ctx context.Context, id string, update domain.ResourceUpdate) (*domain.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.resources[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	if update.Name != nil {
		res.Name = *update.Name
	}
	if update.Expiration != nil {
		res.Expiration = dateOnly(update.Expiration)
	}
	res.UpdatedAt = m.clock.Now()

	cp := *res
	return &cp, nil
}

func (m *MemoryAdapter) DeleteResource(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.resources[id]; !ok {
		return domain.ErrResourceNotFound
	}
	for _, tx := range m.txs {
		if tx.ResourceID == id && tx.Outstanding() {
			return domain.ErrOutstandingBorrows
		}
	}
	delete(m.resources, id)
	return nil
}

func (m *MemoryAdapter) AppendTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportErr("append transaction", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx.ID = uuid.NewString()
	tx.CreatedAt = m.clock.Now()
	tx.ExpectedReturnDate = dateOnly(tx.ExpectedReturnDate)
	m.append(tx)

	cp := tx
	return &cp, nil
}

func (m *MemoryAdapter) append(tx domain.Transaction) {
	m.txIndex[tx.ID] = len(m.txs)
	m.txs = append(m.txs, tx)
}

func (m *MemoryAdapter) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.txIndex[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	cp := m.txs[i]
	return &cp, nil
}

// ListTransactions walks the log backwards, which is newest-first because
// entries are only ever appended.
func (m *MemoryAdapter) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Transaction, 0)
	for i := len(m.txs) - 1; i >= 0; i-- {
		if filter.Match(m.txs[i]) {
			out = append(out, m.txs[i])
		}
	}
	return out, nil
}

func (m *MemoryAdapter) MarkReturned(ctx context.Context, id string, quantity int, at time.Time) (*domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportErr("mark returned", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.txIndex[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	borrow := &m.txs[i]
	if borrow.Movement != domain.MovementBorrow {
		return nil, domain.ErrNotReturnable
	}
	if borrow.Status != domain.TransactionStatusBorrowed {
		return nil, domain.ErrAlreadyReturned
	}

	q := quantity
	returnedAt := at.UTC()
	borrow.Status = domain.TransactionStatusReturned
	borrow.ReturnDate = &returnedAt
	borrow.ReturnQuantity = &q
	updated := *borrow

	m.append(returnEntry(uuid.NewString(), updated, quantity, m.clock.Now()))
	return &updated, nil
}

func (m *MemoryAdapter) FindProfile(ctx context.Context, borrowerID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[borrowerID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}
