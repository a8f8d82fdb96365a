package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

var baseTime = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

// Mock StockRepository
type fakeStock struct {
	mu        sync.Mutex
	resources map[string]*domain.Resource
	seq       int
	calls     int
	negative  bool // set if quantity was ever observed below zero

	// lostRaces makes the next n decrements report no rows affected.
	lostRaces    int
	decrementErr error
	incrementErr error
	updateErr    error
	// afterDecrement runs outside the lock after a successful decrement.
	afterDecrement func()
}

func newFakeStock(resources ...domain.Resource) *fakeStock {
	f := &fakeStock{resources: make(map[string]*domain.Resource)}
	for _, r := range resources {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = baseTime
		}
		f.resources[r.ID] = &r
	}
	return f
}

func (f *fakeStock) quantity(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.resources[id]; ok {
		return r.Quantity
	}
	return -1
}

func (f *fakeStock) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStock) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	r, ok := f.resources[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStock) CreateResource(ctx context.Context, res domain.Resource) (*domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err := res.Validate(); err != nil {
		return nil, err
	}
	f.seq++
	res.ID = fmt.Sprintf("res-%d", f.seq)
	res.CreatedAt = baseTime
	res.UpdatedAt = baseTime
	f.resources[res.ID] = &res
	cp := res
	return &cp, nil
}

func (f *fakeStock) ListResources(ctx context.Context, filter domain.ResourceFilter) ([]domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	out := make([]domain.Resource, 0, len(f.resources))
	for _, r := range f.resources {
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStock) DecrementStock(ctx context.Context, id string, quantity int) (*domain.Resource, bool, error) {
	f.mu.Lock()
	f.calls++
	if f.decrementErr != nil {
		f.mu.Unlock()
		return nil, false, f.decrementErr
	}
	if f.lostRaces > 0 {
		f.lostRaces--
		f.mu.Unlock()
		return nil, false, nil
	}
	r, ok := f.resources[id]
	if !ok || r.Quantity < quantity {
		f.mu.Unlock()
		return nil, false, nil
	}
	r.Quantity -= quantity
	if r.Quantity < 0 {
		f.negative = true
	}
	cp := *r
	hook := f.afterDecrement
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &cp, true, nil
}

func (f *fakeStock) IncrementStock(ctx context.Context, id string, quantity int) (*domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.incrementErr != nil {
		return nil, f.incrementErr
	}
	r, ok := f.resources[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	r.Quantity += quantity
	cp := *r
	return &cp, nil
}

func (f *fakeStock) UpdateResource(ctx context.Context, id string, update domain.ResourceUpdate) (*domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.updateErr != nil {
		return nil, f.updateErr
	}
	r, ok := f.resources[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	if update.Name != nil {
		r.Name = *update.Name
	}
	if update.Expiration != nil {
		exp := *update.Expiration
		r.Expiration = &exp
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStock) DeleteResource(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if _, ok := f.resources[id]; !ok {
		return domain.ErrResourceNotFound
	}
	delete(f.resources, id)
	return nil
}

// Mock LedgerRepository
type fakeLedger struct {
	mu  sync.Mutex
	txs []domain.Transaction
	seq int

	appendErr error
	markErr   error
	// checkCtx makes writes fail on a cancelled context, like a real driver.
	checkCtx bool
}

func newFakeLedger(txs ...domain.Transaction) *fakeLedger {
	f := &fakeLedger{checkCtx: true}
	f.txs = append(f.txs, txs...)
	return f
}

func (f *fakeLedger) entries() []domain.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Transaction, len(f.txs))
	copy(out, f.txs)
	return out
}

func (f *fakeLedger) AppendTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if f.checkCtx {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.appendErr != nil {
		return nil, f.appendErr
	}
	f.seq++
	tx.ID = fmt.Sprintf("tx-%d", f.seq)
	tx.CreatedAt = baseTime.Add(time.Duration(f.seq) * time.Millisecond)
	f.txs = append(f.txs, tx)
	cp := tx
	return &cp, nil
}

func (f *fakeLedger) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, tx := range f.txs {
		if tx.ID == id {
			cp := tx
			return &cp, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (f *fakeLedger) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.Transaction, 0)
	for i := len(f.txs) - 1; i >= 0; i-- {
		if filter.Match(f.txs[i]) {
			out = append(out, f.txs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeLedger) MarkReturned(ctx context.Context, id string, quantity int, at time.Time) (*domain.Transaction, error) {
	if f.checkCtx {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.markErr != nil {
		return nil, f.markErr
	}
	for i := range f.txs {
		if f.txs[i].ID != id {
			continue
		}
		if f.txs[i].Status == domain.TransactionStatusReturned {
			return nil, domain.ErrAlreadyReturned
		}
		q := quantity
		f.txs[i].Status = domain.TransactionStatusReturned
		f.txs[i].ReturnDate = &at
		f.txs[i].ReturnQuantity = &q

		f.seq++
		f.txs = append(f.txs, domain.Transaction{
			ID:           fmt.Sprintf("tx-%d", f.seq),
			ResourceID:   f.txs[i].ResourceID,
			ResourceKind: f.txs[i].ResourceKind,
			ResourceName: f.txs[i].ResourceName,
			Quantity:     quantity,
			Movement:     domain.MovementReturn,
			BorrowerID:   f.txs[i].BorrowerID,
			RelatedID:    id,
			CreatedAt:    at,
		})
		cp := f.txs[i]
		return &cp, nil
	}
	return nil, domain.ErrTransactionNotFound
}

// Mock ProfileRepository
type fakeProfiles struct {
	profiles map[string]domain.Profile
	err      error
}

func (f *fakeProfiles) FindProfile(ctx context.Context, borrowerID string) (*domain.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[borrowerID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Mock CacheRepository
type fakeCache struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{keys: make(map[string]bool)}
}

func (f *fakeCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return false, f.err
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeCache) ReleaseIdempotency(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func (f *fakeCache) held(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key]
}
