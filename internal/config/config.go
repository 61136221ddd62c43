package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config captures the runtime configuration for the application.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Reservation ReservationConfig
	Compliance  ComplianceConfig
}

// ServerConfig configures the HTTP server runtime behavior.
type ServerConfig struct {
	Addr string
}

// DatabaseConfig contains the database connection settings.
type DatabaseConfig struct {
	URL             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ReservationConfig controls reservation lifetime and the expiry sweeper.
type ReservationConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// ComplianceConfig holds the audit ledger flagging thresholds.
type ComplianceConfig struct {
	HighValueThreshold decimal.Decimal
	LargeQtyThreshold  float64
}

const (
	defaultReservationTTL = 15 * time.Minute
	defaultSweepInterval  = time.Minute
)

// Load inspects the environment and builds a Config value.
func Load() (Config, error) {
	cfg := Config{}

	cfg.Server = ServerConfig{
		Addr: firstNonEmpty(
			os.Getenv("SERVER_ADDR"),
			os.Getenv("ADDR"),
			":8080",
		),
	}

	cfg.Database = DatabaseConfig{
		URL: firstNonEmpty(
			os.Getenv("DATABASE_URL"),
			os.Getenv("DB_URL"),
			"",
		),
	}

	ttl, err := durationEnv("LARDER_RESERVATION_TTL", defaultReservationTTL)
	if err != nil {
		return Config{}, err
	}
	sweep, err := durationEnv("LARDER_SWEEP_INTERVAL", defaultSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.Reservation = ReservationConfig{TTL: ttl, SweepInterval: sweep}

	highValue, err := decimalEnv("LARDER_HIGH_VALUE_THRESHOLD", decimal.NewFromInt(500))
	if err != nil {
		return Config{}, err
	}
	largeQty, err := floatEnv("LARDER_LARGE_QTY_THRESHOLD", 10000)
	if err != nil {
		return Config{}, err
	}
	cfg.Compliance = ComplianceConfig{
		HighValueThreshold: highValue,
		LargeQtyThreshold:  largeQty,
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return Config{}, fmt.Errorf("server address must not be empty")
	}
	if cfg.Reservation.TTL <= 0 {
		return Config{}, fmt.Errorf("reservation TTL must be positive")
	}
	if cfg.Reservation.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("sweep interval must be positive")
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func decimalEnv(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	var f float64
	if _, err := fmt.Sscanf(raw, "%g", &f); err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}
