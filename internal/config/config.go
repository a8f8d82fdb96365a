package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds the service settings read from the environment.
type Config struct {
	HTTPPort    string
	GRPCPort    string
	StoreDriver string
	MySQLDSN    string
	DatabaseURL string
	// RedisAddr is optional; empty disables request idempotency keys.
	RedisAddr string

	ConflictRetries     int
	CompensationTimeout time.Duration

	LowStockMedicine   int
	LowStockTool       int
	ExpiringWithinDays int

	AppEnv string
}

func (c Config) Development() bool {
	return c.AppEnv == "development"
}

// LoadConfig reads .env when present, then the process environment.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		StoreDriver: getEnv("STORE_DRIVER", DriverMySQL),
		MySQLDSN:    getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/bhw_inventory?parseTime=true"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		AppEnv:      getEnv("APP_ENV", "production"),
	}

	var err error
	if cfg.ConflictRetries, err = getInt("CONFLICT_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.CompensationTimeout, err = getDuration("COMPENSATION_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.LowStockMedicine, err = getInt("LOW_STOCK_MEDICINE", 5); err != nil {
		return nil, err
	}
	if cfg.LowStockTool, err = getInt("LOW_STOCK_TOOL", 3); err != nil {
		return nil, err
	}
	if cfg.ExpiringWithinDays, err = getInt("EXPIRING_WITHIN_DAYS", 30); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverMySQL, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for STORE_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.ConflictRetries < 0 {
		return fmt.Errorf("config: CONFLICT_RETRIES must be >= 0, got %d", c.ConflictRetries)
	}
	if c.CompensationTimeout <= 0 {
		return fmt.Errorf("config: COMPENSATION_TIMEOUT must be positive, got %s", c.CompensationTimeout)
	}
	if c.ExpiringWithinDays <= 0 {
		return fmt.Errorf("config: EXPIRING_WITHIN_DAYS must be positive, got %d", c.ExpiringWithinDays)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}
