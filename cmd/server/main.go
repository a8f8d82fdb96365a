package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/bhw-inventory/internal/adapter/handler"
	"github.com/rl1809/bhw-inventory/internal/adapter/storage"
	"github.com/rl1809/bhw-inventory/internal/config"
	"github.com/rl1809/bhw-inventory/internal/core/service"
	"github.com/rl1809/bhw-inventory/internal/metrics"
	"github.com/rl1809/bhw-inventory/internal/port"
)

const shutdownTimeout = 5 * time.Second

// stores bundles the repositories of one backend with its cleanup.
type stores struct {
	stock    port.StockRepository
	ledger   port.LedgerRepository
	profiles port.ProfileRepository
	close    func()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer st.close()

	opts := []service.Option{
		service.WithProfiles(st.profiles),
		service.WithLogger(logger),
		service.WithConflictRetries(cfg.ConflictRetries),
		service.WithCompensationTimeout(cfg.CompensationTimeout),
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer rdb.Close()
		opts = append(opts, service.WithCache(storage.NewRedisAdapter(rdb)))
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Warn("REDIS_ADDR not set, request ids are not deduplicated")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts = append(opts, service.WithMetrics(metrics.New(reg)))

	inventory := service.NewInventoryService(st.stock, st.ledger, opts...)
	reports := service.NewReportService(st.stock, st.ledger,
		service.WithLowStockThresholds(cfg.LowStockMedicine, cfg.LowStockTool),
		service.WithExpiringWithin(cfg.ExpiringWithinDays),
	)

	// gRPC
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.RoleInterceptor,
		handler.LoggingInterceptor(logger),
	))
	handler.NewGRPCHandler(inventory).Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP
	mux := http.NewServeMux()
	handler.NewHTTPHandler(inventory, reports, logger).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.RequestLogger(handler.WithRole(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Development() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	return logger
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		adapter := storage.NewMySQLAdapter(db, nil)
		if err := adapter.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("connected to mysql")
		return &stores{stock: adapter, ledger: adapter, profiles: adapter, close: func() { db.Close() }}, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		adapter := storage.NewPostgresAdapter(pool, nil)
		if err := adapter.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("connected to postgres")
		return &stores{stock: adapter, ledger: adapter, profiles: adapter, close: pool.Close}, nil

	default:
		logger.Warn("using in-memory store, data is lost on exit")
		adapter := storage.NewMemoryAdapter(nil)
		return &stores{stock: adapter, ledger: adapter, profiles: adapter, close: func() {}}, nil
	}
}
