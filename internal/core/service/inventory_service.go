package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/bhw-inventory/internal/clock"
	"github.com/rl1809/bhw-inventory/internal/core/domain"
	"github.com/rl1809/bhw-inventory/internal/metrics"
	"github.com/rl1809/bhw-inventory/internal/port"
)

const (
	defaultConflictRetries     = 3
	defaultCompensationTimeout = 10 * time.Second
	idempotencyKeyPrefix       = "idempotency:"
)

// InventoryService runs the reservation saga, stock-in and the borrow/return
// state machine against a store that offers an atomic conditional decrement.
// It keeps no shared in-process state between requests.
type InventoryService struct {
	stock    port.StockRepository
	ledger   port.LedgerRepository
	profiles port.ProfileRepository
	cache    port.CacheRepository
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	conflictRetries     int
	compensationTimeout time.Duration
}

type Option func(*InventoryService)

// WithProfiles enables best-effort recipient lookup for ledger entries.
func WithProfiles(p port.ProfileRepository) Option {
	return func(s *InventoryService) { s.profiles = p }
}

// WithCache enables request-id idempotency keys.
func WithCache(c port.CacheRepository) Option {
	return func(s *InventoryService) { s.cache = c }
}

func WithClock(c clock.Clock) Option {
	return func(s *InventoryService) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *InventoryService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *InventoryService) { s.metrics = m }
}

// WithConflictRetries bounds how many times a reservation re-reads and retries
// after losing the conditional decrement race. Zero disables retrying.
func WithConflictRetries(n int) Option {
	return func(s *InventoryService) {
		if n >= 0 {
			s.conflictRetries = n
		}
	}
}

// WithCompensationTimeout bounds the uninterruptible tail of a saga.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *InventoryService) {
		if d > 0 {
			s.compensationTimeout = d
		}
	}
}

func NewInventoryService(stock port.StockRepository, ledger port.LedgerRepository, opts ...Option) *InventoryService {
	s := &InventoryService{
		stock:               stock,
		ledger:              ledger,
		clock:               clock.NewSystem(),
		logger:              zap.NewNop(),
		conflictRetries:     defaultConflictRetries,
		compensationTimeout: defaultCompensationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// detach returns a context that ignores caller cancellation. Everything after a
// committed decrement runs on it so the saga always reaches an end state.
func (s *InventoryService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
}

// claim reserves the idempotency key for requestID. The returned release func
// frees it again and is safe to call when no key was taken.
func (s *InventoryService) claim(ctx context.Context, scope, requestID string) (func(), error) {
	if requestID == "" || s.cache == nil {
		return func() {}, nil
	}

	key := fmt.Sprintf("%s%s:%s", idempotencyKeyPrefix, scope, requestID)
	ok, err := s.cache.SetIdempotency(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: idempotency check failed: %w", domain.ErrTransport, err)
	}
	if !ok {
		return nil, domain.ErrDuplicateRequest
	}

	return func() {
		rctx, cancel := s.detach(ctx)
		defer cancel()
		if err := s.cache.ReleaseIdempotency(rctx, key); err != nil {
			s.logger.Warn("release idempotency key failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// compensate runs undo after a failed follow-on step. On success the original
// error is returned unchanged; otherwise a *domain.CompensationError carrying
// both failures is returned and logged loudly.
func (s *InventoryService) compensate(ctx context.Context, op, resourceID string, quantity int, original error, undo func(context.Context) error) error {
	if err := undo(ctx); err != nil {
		s.metrics.Compensation(op, metrics.OutcomeFailed)
		s.logger.Error("CRITICAL compensation failed, stock and ledger disagree",
			zap.String("operation", op),
			zap.String("resource_id", resourceID),
			zap.Int("quantity", quantity),
			zap.NamedError("original", original),
			zap.Error(err),
		)
		return &domain.CompensationError{
			Operation:    op,
			ResourceID:   resourceID,
			Quantity:     quantity,
			Original:     original,
			Compensation: err,
		}
	}

	s.metrics.Compensation(op, metrics.OutcomeCompensated)
	s.logger.Warn("compensated stock after failed ledger step",
		zap.String("operation", op),
		zap.String("resource_id", resourceID),
		zap.Int("quantity", quantity),
		zap.Error(original),
	)
	return original
}

func (s *InventoryService) restock(resourceID string, quantity int) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.stock.IncrementStock(ctx, resourceID, quantity)
		return err
	}
}

// unstock takes back units that an increment added. It uses the conditional
// decrement so a compensation can never drive quantity negative.
func (s *InventoryService) unstock(resourceID string, quantity int) func(context.Context) error {
	return func(ctx context.Context) error {
		_, ok, err := s.stock.DecrementStock(ctx, resourceID, quantity)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: units already consumed", domain.ErrInsufficientStock)
		}
		return nil
	}
}

func ledgerError(op string, err error) error {
	if errors.Is(err, domain.ErrLedgerWrite) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrLedgerWrite, op, err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.OutcomeInsufficient
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return metrics.OutcomeConflict
	case errors.Is(err, domain.ErrCompensation):
		return metrics.OutcomeFailed
	case errors.Is(err, domain.ErrLedgerWrite):
		return metrics.OutcomeCompensated
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrAlreadyReturned),
		errors.Is(err, domain.ErrDuplicateRequest),
		errors.Is(err, domain.ErrForbidden):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFailed
	}
}

func isCompensationFailure(err error) bool {
	return errors.Is(err, domain.ErrCompensation)
}
