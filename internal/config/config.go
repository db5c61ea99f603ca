package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// SyncDisabled as SYNC_SCHEDULE turns the background sync off.
const SyncDisabled = "off"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port            string
	DatabaseURL     string
	RedisURL        string
	CacheTTL        time.Duration
	ExchangeURL     string
	ExchangeTimeout time.Duration
	PaperMinBTC     decimal.Decimal
	CoinGeckoURL    string
	CoinGeckoRetry  int
	CoinGeckoDelay  time.Duration
	PriceCacheTTL   time.Duration
	SyncSchedule    string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// An empty EXCHANGE_URL selects the in-process paper exchange.
func Load() Config {
	return Config{
		Port:            envOrDefault("PORT", "8080"),
		DatabaseURL:     envOrDefaultWarn("DATABASE_URL", ""),
		RedisURL:        envOrDefault("REDIS_URL", ""),
		CacheTTL:        envOrDefaultDuration("CACHE_TTL", 30*time.Second),
		ExchangeURL:     envOrDefault("EXCHANGE_URL", ""),
		ExchangeTimeout: envOrDefaultDuration("EXCHANGE_TIMEOUT", 10*time.Second),
		PaperMinBTC:     envOrDefaultDecimal("PAPER_MIN_BTC", decimal.New(1, -4)),
		CoinGeckoURL:    envOrDefault("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
		CoinGeckoRetry:  envOrDefaultInt("COINGECKO_RETRY_MAX", 3),
		CoinGeckoDelay:  envOrDefaultDuration("COINGECKO_DELAY", 6*time.Second),
		PriceCacheTTL:   envOrDefaultDuration("PRICE_CACHE_TTL", time.Minute),
		SyncSchedule:    envOrDefault("SYNC_SCHEDULE", "@every 1m"),
		ShutdownTimeout: envOrDefaultDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultWarn(key, defaultVal string) string {
	v := envOrDefault(key, defaultVal)
	if v == "" {
		slog.Warn("env var not set", "key", key)
	}
	return v
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func envOrDefaultDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			slog.Warn("invalid decimal env var, using default", "key", key, "value", v, "default", defaultVal.String())
			return defaultVal
		}
		return d
	}
	return defaultVal
}
