package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"levercore/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Market data
	Pairs                []string // Pairs the price feed watches
	IsTestnet            bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Trading parameters
	MakerFeeRate  float64 // Fee rate for LIMIT entries (e.g., 0.0002 for 0.02%)
	TakerFeeRate  float64 // Fee rate for MARKET entries and exits (e.g., 0.0005)
	MinCollateral float64 // Smallest collateral accepted on open
	Tiers         []domain.LeverageTier

	// Liquidation monitor
	SweepInterval time.Duration // Time between sweeps
	MaxPriceAge   time.Duration // Freshness bound enforced on MARKET opens

	// Database
	DBPath string

	// HTTP API
	HTTPAddr string

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	pairsStr := getEnv("PAIRS", "BTCUSDT,ETHUSDT")
	for _, p := range strings.Split(pairsStr, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			cfg.Pairs = append(cfg.Pairs, strings.ToUpper(p))
		}
	}
	if len(cfg.Pairs) == 0 {
		errs = append(errs, "PAIRS must name at least one trading pair")
	}

	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	cfg.MakerFeeRate, err = getEnvAsFloatRequired("MAKER_FEE_RATE", 0.0002) // 0.02%
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAKER_FEE_RATE: %v", err))
	} else if cfg.MakerFeeRate < 0 || cfg.MakerFeeRate >= 1 {
		errs = append(errs, "MAKER_FEE_RATE must be in [0, 1)")
	}

	cfg.TakerFeeRate, err = getEnvAsFloatRequired("TAKER_FEE_RATE", 0.0005) // 0.05%
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKER_FEE_RATE: %v", err))
	} else if cfg.TakerFeeRate < 0 || cfg.TakerFeeRate >= 1 {
		errs = append(errs, "TAKER_FEE_RATE must be in [0, 1)")
	}

	cfg.MinCollateral, err = getEnvAsFloatRequired("MIN_COLLATERAL", 10.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_COLLATERAL: %v", err))
	} else if cfg.MinCollateral <= 0 {
		errs = append(errs, "MIN_COLLATERAL must be positive")
	}

	cfg.Tiers, err = parseTiers(getEnv("LEVERAGE_TIERS", ""))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE_TIERS: %v", err))
	}

	sweepSeconds := getEnvAsInt("SWEEP_INTERVAL_SECONDS", 5)
	if sweepSeconds <= 0 {
		errs = append(errs, "SWEEP_INTERVAL_SECONDS must be positive")
	}
	cfg.SweepInterval = time.Duration(sweepSeconds) * time.Second

	maxPriceAgeMs := getEnvAsInt("MAX_PRICE_AGE_MS", 10_000)
	if maxPriceAgeMs <= 0 {
		errs = append(errs, "MAX_PRICE_AGE_MS must be positive")
	}
	cfg.MaxPriceAge = time.Duration(maxPriceAgeMs) * time.Millisecond

	cfg.DBPath = getEnv("DB_PATH", "./data/levercore.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// parseTiers reads the leverage tier table from its env encoding:
// semicolon-separated entries of
// leverage:maintenanceMarginPct:initialMarginPct:maxNotional:liquidationFeePct
// e.g. "2:0.25:0.5:500000:0.01;5:0.15:0.2:100000:0.015".
// An empty value yields the venue's standard tier set.
func parseTiers(raw string) ([]domain.LeverageTier, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.DefaultTiers(), nil
	}
	var tiers []domain.LeverageTier
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("tier entry %q must have 5 colon-separated fields", entry)
		}
		lev, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("tier entry %q: bad leverage: %w", entry, err)
		}
		vals := make([]float64, 4)
		for i, p := range parts[1:] {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("tier entry %q: bad field %d: %w", entry, i+1, err)
			}
			vals[i] = v
		}
		tiers = append(tiers, domain.LeverageTier{
			Leverage:             lev,
			MaintenanceMarginPct: vals[0],
			InitialMarginPct:     vals[1],
			MaxNotional:          vals[2],
			LiquidationFeePct:    vals[3],
		})
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("no tier entries found")
	}
	return tiers, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
