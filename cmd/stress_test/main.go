package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rl1809/bhw-inventory/internal/adapter/storage"
	"github.com/rl1809/bhw-inventory/internal/core/domain"
	"github.com/rl1809/bhw-inventory/internal/core/report"
	"github.com/rl1809/bhw-inventory/internal/core/service"
	"github.com/rl1809/bhw-inventory/internal/port"
)

// Options holds the stress run flags.
type Options struct {
	Store         string
	DSN           string
	MedicineStock int
	ToolStock     int
	Requests      int
	Retries       int
	Verbose       bool
}

type counters struct {
	ok           atomic.Int32
	insufficient atomic.Int32
	conflict     atomic.Int32
	failed       atomic.Int32
}

func (c *counters) record(err error) {
	switch {
	case err == nil:
		c.ok.Add(1)
	case errors.Is(err, domain.ErrInsufficientStock):
		c.insufficient.Add(1)
	case errors.Is(err, domain.ErrConcurrentUpdate):
		c.conflict.Add(1)
	default:
		c.failed.Add(1)
	}
}

func (c *counters) String() string {
	return fmt.Sprintf("ok=%d insufficient=%d conflict=%d failed=%d",
		c.ok.Load(), c.insufficient.Load(), c.conflict.Load(), c.failed.Load())
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "stress_test",
		Short: "Hammer one medicine and one tool concurrently and check the ledger balances",
		Long: `Runs concurrent dispense, borrow, return and stock-in calls against a single
medicine and a single tool, then replays the ledger and compares it with the
stored quantities.

Example:
  stress_test --requests 500 --medicine-stock 100
  stress_test --store mysql --dsn "root:root@tcp(localhost:3306)/bhw_inventory?parseTime=true"`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, out)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "memory", "store backend (memory|mysql)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "root:root@tcp(localhost:3306)/bhw_inventory?parseTime=true", "MySQL DSN when --store=mysql")
	cmd.Flags().IntVar(&opts.MedicineStock, "medicine-stock", 20, "opening medicine quantity")
	cmd.Flags().IntVar(&opts.ToolStock, "tool-stock", 5, "opening tool quantity")
	cmd.Flags().IntVar(&opts.Requests, "requests", 200, "number of concurrent operations")
	cmd.Flags().IntVar(&opts.Retries, "retries", 3, "conflict retries per reservation")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log saga branches")

	return cmd
}

func openStore(ctx context.Context, opts *Options) (port.StockRepository, port.LedgerRepository, func(), error) {
	switch opts.Store {
	case "memory":
		store := storage.NewMemoryAdapter(nil)
		return store, store, func() {}, nil
	case "mysql":
		db, err := sql.Open("mysql", opts.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect mysql: %w", err)
		}
		adapter := storage.NewMySQLAdapter(db, nil)
		if err := adapter.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return adapter, adapter, func() { db.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store %q", opts.Store)
}

func run(ctx context.Context, opts *Options, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Requests <= 0 {
		return fmt.Errorf("--requests must be > 0")
	}

	logger := zap.NewNop()
	if opts.Verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = dev
	}

	stock, ledger, closeStore, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := service.NewInventoryService(stock, ledger,
		service.WithLogger(logger),
		service.WithConflictRetries(opts.Retries),
	)
	ctx = domain.WithRole(ctx, domain.RoleAdmin)

	suffix := time.Now().UTC().Format("150405.000")
	medicine, err := svc.CreateResource(ctx, service.CreateResourceInput{
		Kind: domain.ResourceKindMedicine, Name: "stress-medicine-" + suffix, Quantity: opts.MedicineStock,
	})
	if err != nil {
		return fmt.Errorf("failed to create medicine: %w", err)
	}
	tool, err := svc.CreateResource(ctx, service.CreateResourceInput{
		Kind: domain.ResourceKindTool, Name: "stress-tool-" + suffix, Quantity: opts.ToolStock,
	})
	if err != nil {
		return fmt.Errorf("failed to create tool: %w", err)
	}

	var dispensed, borrowed, returned, stocked counters
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < opts.Requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0, 1:
				_, err := svc.Dispense(ctx, service.DispenseInput{ResourceID: medicine.ID, Quantity: 1})
				dispensed.record(err)
			case 2:
				tx, err := svc.Borrow(ctx, service.BorrowInput{ResourceID: tool.ID, Quantity: 1})
				borrowed.record(err)
				if err == nil && i%8 == 2 {
					_, err = svc.ReturnItem(ctx, service.ReturnInput{TransactionID: tx.ID})
					returned.record(err)
				}
			case 3:
				if i%12 == 3 {
					_, err := svc.StockIn(ctx, service.StockInInput{ResourceID: medicine.ID, Quantity: 1})
					stocked.record(err)
					return
				}
				_, err := svc.Dispense(ctx, service.DispenseInput{ResourceID: medicine.ID, Quantity: 2})
				dispensed.record(err)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Fprintln(out, "=== Stress Test Results ===")
	fmt.Fprintf(out, "Requests:   %d in %s\n", opts.Requests, elapsed)
	fmt.Fprintf(out, "Dispense:   %s\n", &dispensed)
	fmt.Fprintf(out, "Borrow:     %s\n", &borrowed)
	fmt.Fprintf(out, "Return:     %s\n", &returned)
	fmt.Fprintf(out, "Stock-in:   %s\n", &stocked)

	var violations []string
	for _, res := range []*domain.Resource{medicine, tool} {
		got, err := svc.GetResource(ctx, res.ID)
		if err != nil {
			return err
		}
		txs, err := svc.ListTransactions(ctx, domain.TransactionFilter{ResourceID: res.ID})
		if err != nil {
			return err
		}
		balance := report.Balance(txs)[res.ID]
		fmt.Fprintf(out, "%-10s  stored=%d ledger=%d\n", res.Kind+":", got.Quantity, balance)

		if got.Quantity < 0 {
			violations = append(violations, fmt.Sprintf("%s went negative: %d", res.Name, got.Quantity))
		}
		if got.Quantity != balance {
			violations = append(violations, fmt.Sprintf("%s stored %d but ledger replays to %d", res.Name, got.Quantity, balance))
		}
	}

	if failed := dispensed.failed.Load() + borrowed.failed.Load() + returned.failed.Load() + stocked.failed.Load(); failed > 0 {
		violations = append(violations, fmt.Sprintf("%d operations failed unexpectedly", failed))
	}
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintln(out, "FAIL:", v)
		}
		return fmt.Errorf("stress test found %d violations", len(violations))
	}
	fmt.Fprintln(out, "PASS: no oversell, ledger balances")
	return nil
}
