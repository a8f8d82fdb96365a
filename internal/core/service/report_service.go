package service

import (
	"context"

	"github.com/rl1809/bhw-inventory/internal/clock"
	"github.com/rl1809/bhw-inventory/internal/core/domain"
	"github.com/rl1809/bhw-inventory/internal/core/report"
	"github.com/rl1809/bhw-inventory/internal/port"
)

const (
	defaultLowStockMedicine = 5
	defaultLowStockTool     = 3
	defaultExpiringDays     = 30
	defaultTopLimit         = 10
	defaultUsageMonths      = 6
)

// ReportService serves the read-only alerting views. It only reads, so any
// consistent snapshot of the stores will do.
type ReportService struct {
	stock  port.StockRepository
	ledger port.LedgerRepository
	clock  clock.Clock

	lowStockMedicine int
	lowStockTool     int
	expiringDays     int
}

type ReportOption func(*ReportService)

func WithReportClock(c clock.Clock) ReportOption {
	return func(s *ReportService) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLowStockThresholds sets the per-kind quantity at or below which a
// resource counts as low.
func WithLowStockThresholds(medicine, tool int) ReportOption {
	return func(s *ReportService) {
		if medicine >= 0 {
			s.lowStockMedicine = medicine
		}
		if tool >= 0 {
			s.lowStockTool = tool
		}
	}
}

func WithExpiringWithin(days int) ReportOption {
	return func(s *ReportService) {
		if days > 0 {
			s.expiringDays = days
		}
	}
}

func NewReportService(stock port.StockRepository, ledger port.LedgerRepository, opts ...ReportOption) *ReportService {
	s := &ReportService{
		stock:            stock,
		ledger:           ledger,
		clock:            clock.NewSystem(),
		lowStockMedicine: defaultLowStockMedicine,
		lowStockTool:     defaultLowStockTool,
		expiringDays:     defaultExpiringDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Alerts struct {
	LowStockMedicine []domain.Resource `json:"low_stock_medicine"`
	LowStockTools    []domain.Resource `json:"low_stock_tools"`
	Expiring         []domain.Resource `json:"expiring"`
	Expired          []domain.Resource `json:"expired"`
}

func (s *ReportService) Alerts(ctx context.Context) (*Alerts, error) {
	if err := domain.Authorize(ctx, domain.PermReportsView); err != nil {
		return nil, err
	}

	medicine, err := s.stock.ListResources(ctx, domain.ResourceFilter{Kind: domain.ResourceKindMedicine})
	if err != nil {
		return nil, err
	}
	tools, err := s.stock.ListResources(ctx, domain.ResourceFilter{Kind: domain.ResourceKindTool})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	return &Alerts{
		LowStockMedicine: report.LowStock(medicine, s.lowStockMedicine),
		LowStockTools:    report.LowStock(tools, s.lowStockTool),
		Expiring:         report.Expiring(medicine, now, s.expiringDays),
		Expired:          report.Expired(medicine, now),
	}, nil
}

// LowStock uses the configured threshold for kind when threshold is negative.
func (s *ReportService) LowStock(ctx context.Context, kind domain.ResourceKind, threshold int) ([]domain.Resource, error) {
	if err := domain.Authorize(ctx, domain.PermReportsView); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, domain.Invalid("unknown resource kind %q", kind)
	}
	if threshold < 0 {
		threshold = s.lowStockMedicine
		if kind == domain.ResourceKindTool {
			threshold = s.lowStockTool
		}
	}

	resources, err := s.stock.ListResources(ctx, domain.ResourceFilter{Kind: kind})
	if err != nil {
		return nil, err
	}
	return report.LowStock(resources, threshold), nil
}

func (s *ReportService) ActiveBorrows(ctx context.Context) ([]domain.Transaction, error) {
	txs, err := s.openBorrows(ctx)
	if err != nil {
		return nil, err
	}
	return report.ActiveBorrows(txs), nil
}

func (s *ReportService) OverdueBorrows(ctx context.Context) ([]domain.Transaction, error) {
	txs, err := s.openBorrows(ctx)
	if err != nil {
		return nil, err
	}
	return report.Overdue(txs, s.clock.Now()), nil
}

func (s *ReportService) openBorrows(ctx context.Context) ([]domain.Transaction, error) {
	if err := domain.Authorize(ctx, domain.PermReportsView); err != nil {
		return nil, err
	}
	return s.ledger.ListTransactions(ctx, domain.TransactionFilter{
		Movement: domain.MovementBorrow,
		Status:   domain.TransactionStatusBorrowed,
	})
}

// Top ranks resources by units moved. movement is request (most requested
// medicine) or borrow (most borrowed tools).
func (s *ReportService) Top(ctx context.Context, movement domain.MovementKind, limit int) ([]report.Usage, error) {
	if err := domain.Authorize(ctx, domain.PermReportsView); err != nil {
		return nil, err
	}
	if movement != domain.MovementRequest && movement != domain.MovementBorrow {
		return nil, domain.Invalid("top supports request or borrow, got %q", movement)
	}
	if limit <= 0 {
		limit = defaultTopLimit
	}

	txs, err := s.ledger.ListTransactions(ctx, domain.TransactionFilter{Movement: movement})
	if err != nil {
		return nil, err
	}
	return report.Top(txs, movement, limit), nil
}

type UsageTrends struct {
	Medicine []report.MonthlyUsage `json:"medicine"`
	Tools    []report.MonthlyUsage `json:"tools"`
}

func (s *ReportService) MonthlyUsage(ctx context.Context, months int) (*UsageTrends, error) {
	if err := domain.Authorize(ctx, domain.PermReportsView); err != nil {
		return nil, err
	}
	if months <= 0 {
		months = defaultUsageMonths
	}

	since := s.clock.Now().AddDate(0, -months, 0)
	txs, err := s.ledger.ListTransactions(ctx, domain.TransactionFilter{Since: since})
	if err != nil {
		return nil, err
	}
	return &UsageTrends{
		Medicine: report.Monthly(txs, domain.MovementRequest),
		Tools:    report.Monthly(txs, domain.MovementBorrow),
	}, nil
}

func (s *ReportService) BorrowerHistory(ctx context.Context, borrowerID string) ([]domain.Transaction, error) {
	if err := domain.Authorize(ctx, domain.PermInventoryView); err != nil {
		return nil, err
	}
	if borrowerID == "" {
		return nil, domain.Invalid("borrower id is required")
	}
	return s.ledger.ListTransactions(ctx, domain.TransactionFilter{BorrowerID: borrowerID})
}
