// Package config loads venue configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the venue engine.
type Config struct {
	Port string

	// Storage
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no cache layer

	// Auth
	JWTSecret string

	// Venue parameters
	DefaultCurrency string
	PayoutRate      decimal.Decimal // win payout = stake * (1 + rate)
	TradingEnabled  bool

	// Simulator
	TickInterval time.Duration
	HistoryCap   int

	// Signals
	SweepInterval time.Duration
	SignalMinTTL  time.Duration
	SignalMaxTTL  time.Duration

	// Trades
	TradeDuration time.Duration

	// Stake limits (per user)
	MaxStakePerInstrument decimal.Decimal
	MaxDailyStake         decimal.Decimal
}

// Load reads configuration from environment variables. A .env file in the
// working directory is merged in first if present.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "USDT"),
		TradingEnabled:  getEnvBool("TRADING_ENABLED", true),

		HistoryCap: getEnvInt("PRICE_HISTORY_CAP", 1000),
	}

	var err error
	if cfg.PayoutRate, err = getEnvDecimal("PAYOUT_RATE", "1.0"); err != nil {
		return nil, err
	}
	if cfg.MaxStakePerInstrument, err = getEnvDecimal("MAX_STAKE_PER_INSTRUMENT", "5000"); err != nil {
		return nil, err
	}
	if cfg.MaxDailyStake, err = getEnvDecimal("MAX_DAILY_STAKE", "20000"); err != nil {
		return nil, err
	}

	if cfg.TickInterval, err = getEnvDuration("TICK_INTERVAL", "1s"); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SIGNAL_SWEEP_INTERVAL", "1s"); err != nil {
		return nil, err
	}
	if cfg.SignalMinTTL, err = getEnvDuration("SIGNAL_MIN_TTL", "15s"); err != nil {
		return nil, err
	}
	if cfg.SignalMaxTTL, err = getEnvDuration("SIGNAL_MAX_TTL", "60s"); err != nil {
		return nil, err
	}
	if cfg.TradeDuration, err = getEnvDuration("TRADE_DURATION", "60s"); err != nil {
		return nil, err
	}

	if cfg.SignalMaxTTL < cfg.SignalMinTTL {
		return nil, fmt.Errorf("config: SIGNAL_MAX_TTL %s < SIGNAL_MIN_TTL %s", cfg.SignalMaxTTL, cfg.SignalMinTTL)
	}
	if cfg.PayoutRate.IsNegative() {
		return nil, fmt.Errorf("config: PAYOUT_RATE must be >= 0, got %s", cfg.PayoutRate)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDecimal(key, fallback string) (decimal.Decimal, error) {
	v := getEnv(key, fallback)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s=%q is not a decimal: %w", key, v, err)
	}
	return d, nil
}

func getEnvDuration(key, fallback string) (time.Duration, error) {
	v := getEnv(key, fallback)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a duration: %w", key, v, err)
	}
	return d, nil
}
