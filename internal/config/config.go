package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tola_ledger/internal/logger"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	AppPort       string
	AllowedOrigin string
	LogLevel      string
	LogJSON       bool

	// Storage
	StoreDriver string // postgres | sqlite | memory
	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	JWTTTL    time.Duration

	// Request limits on /api/v1, per user or per IP; in-process without Redis
	APIRateLimit   int
	APIRateWindow  time.Duration
	AuthRateLimit  int
	AuthRateWindow time.Duration

	// TON Connect proof domain for wallet binding; empty skips proof checks
	TonProofDomain string

	// Telegram admin alerts (optional)
	BotToken    string
	AdminChatID int64
	AdminIDs    []int64

	Milestone  MilestoneConfig
	Conversion ConversionConfig
	Incentive  IncentiveConfig
	Settlement SettlementConfig
}

type MilestoneConfig struct {
	Threshold int64
}

type ConversionConfig struct {
	MinAmount    int64
	MaxAmount    int64
	FeeRate      decimal.Decimal
	ExchangeRate decimal.Decimal
	Currency     string
	DailyCap     int64
	// RefundLimitOnFailure returns the daily allowance when settlement fails.
	RefundLimitOnFailure bool
}

type IncentiveConfig struct {
	DailyCap  int64
	RulesFile string
	Rules     *RuleSet
}

type SettlementConfig struct {
	Mode       string // simulated | ton
	Timeout    time.Duration
	TonNetwork string
	TonAPIKey  string
	PayoutURL  string
	// Simulated settler knobs
	FailRate float64
}

// Defaults returns the configuration used when no env is set.
func Defaults() *Config {
	return &Config{
		AppPort:     "8080",
		LogLevel:    "info",
		StoreDriver: "postgres",
		SQLitePath:  "tola_ledger.db",
		JWTTTL:      24 * time.Hour,

		APIRateLimit:   120,
		APIRateWindow:  time.Minute,
		AuthRateLimit:  10,
		AuthRateWindow: time.Minute,
		Milestone:      MilestoneConfig{Threshold: 1000},
		Conversion: ConversionConfig{
			MinAmount:    10,
			MaxAmount:    10000,
			FeeRate:      decimal.RequireFromString("0.01"),
			ExchangeRate: decimal.NewFromInt(1),
			Currency:     "USDC",
			DailyCap:     10000,
		},
		Incentive: IncentiveConfig{
			DailyCap: 1000,
			Rules:    DefaultRules(),
		},
		Settlement: SettlementConfig{
			Mode:       "simulated",
			Timeout:    30 * time.Second,
			TonNetwork: "mainnet",
		},
	}
}

// Load reads .env (if any) and the environment on top of Defaults.
func Load() *Config {
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	return cfg
}

// FromEnv builds the config from the current environment.
func FromEnv() (*Config, error) {
	cfg := Defaults()

	cfg.AppPort = getEnv("APP_PORT", cfg.AppPort)
	cfg.AllowedOrigin = os.Getenv("ALLOWED_ORIGIN")
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogJSON = getEnvBool("LOG_JSON", false)

	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", cfg.StoreDriver))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case "sqlite", "memory":
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}
	cfg.JWTTTL = time.Duration(getEnvInt("JWT_TTL_HOURS", int(cfg.JWTTTL/time.Hour))) * time.Hour

	cfg.APIRateLimit = getEnvInt("API_RATE_LIMIT", cfg.APIRateLimit)
	cfg.APIRateWindow = time.Duration(getEnvInt("API_RATE_WINDOW_SECONDS", int(cfg.APIRateWindow/time.Second))) * time.Second
	cfg.AuthRateLimit = getEnvInt("AUTH_RATE_LIMIT", cfg.AuthRateLimit)
	cfg.AuthRateWindow = time.Duration(getEnvInt("AUTH_RATE_WINDOW_SECONDS", int(cfg.AuthRateWindow/time.Second))) * time.Second
	cfg.TonProofDomain = os.Getenv("TON_PROOF_DOMAIN")

	cfg.BotToken = os.Getenv("BOT_TOKEN")
	if v := os.Getenv("ADMIN_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_CHAT_ID: %w", err)
		}
		cfg.AdminChatID = id
	}
	ids, err := parseIDs(os.Getenv("ADMIN_IDS"))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS: %w", err)
	}
	cfg.AdminIDs = ids
	if len(cfg.AdminIDs) == 0 && cfg.AdminChatID > 0 {
		cfg.AdminIDs = []int64{cfg.AdminChatID}
	}

	cfg.Milestone.Threshold = getEnvInt64("MILESTONE_THRESHOLD", cfg.Milestone.Threshold)

	cfg.Conversion.MinAmount = getEnvInt64("CONVERSION_MIN", cfg.Conversion.MinAmount)
	cfg.Conversion.MaxAmount = getEnvInt64("CONVERSION_MAX", cfg.Conversion.MaxAmount)
	cfg.Conversion.FeeRate = getEnvDecimal("CONVERSION_FEE_RATE", cfg.Conversion.FeeRate)
	cfg.Conversion.ExchangeRate = getEnvDecimal("EXCHANGE_RATE", cfg.Conversion.ExchangeRate)
	cfg.Conversion.Currency = getEnv("SETTLEMENT_CURRENCY", cfg.Conversion.Currency)
	cfg.Conversion.DailyCap = getEnvInt64("DAILY_CONVERT_CAP", cfg.Conversion.DailyCap)
	cfg.Conversion.RefundLimitOnFailure = getEnvBool("REFUND_LIMIT_ON_FAILURE", false)
	if cfg.Conversion.MinAmount <= 0 || cfg.Conversion.MaxAmount < cfg.Conversion.MinAmount {
		return nil, fmt.Errorf("conversion bounds [%d, %d] are invalid", cfg.Conversion.MinAmount, cfg.Conversion.MaxAmount)
	}
	if cfg.Conversion.FeeRate.IsNegative() || cfg.Conversion.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("CONVERSION_FEE_RATE must be in [0, 1)")
	}

	cfg.Incentive.DailyCap = getEnvInt64("DAILY_ISSUE_CAP", cfg.Incentive.DailyCap)
	cfg.Incentive.RulesFile = os.Getenv("RULES_FILE")
	if cfg.Incentive.RulesFile != "" {
		rules, err := LoadRules(cfg.Incentive.RulesFile)
		if err != nil {
			return nil, err
		}
		cfg.Incentive.Rules = rules
	}

	cfg.Settlement.Mode = strings.ToLower(getEnv("SETTLEMENT_MODE", cfg.Settlement.Mode))
	cfg.Settlement.Timeout = time.Duration(getEnvInt("SETTLEMENT_TIMEOUT", int(cfg.Settlement.Timeout/time.Second))) * time.Second
	cfg.Settlement.TonNetwork = getEnv("TON_NETWORK", cfg.Settlement.TonNetwork)
	cfg.Settlement.TonAPIKey = os.Getenv("TON_API_KEY")
	cfg.Settlement.PayoutURL = os.Getenv("PAYOUT_URL")
	cfg.Settlement.FailRate = getEnvFloat("SETTLEMENT_FAIL_RATE", 0)
	if cfg.Settlement.Mode == "ton" && cfg.Settlement.PayoutURL == "" {
		return nil, fmt.Errorf("PAYOUT_URL is required when SETTLEMENT_MODE=ton")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}

// parseIDs reads a comma separated list of telegram user ids.
func parseIDs(v string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
