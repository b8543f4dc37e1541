// Package config loads the engine's configuration from environment
// variables, following the getEnv/getEnvAsInt/getEnvAsBool pattern used
// throughout this codebase.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/aristath/sentinel/internal/domain"
)

// Config is the single configuration object consulted by every component.
type Config struct {
	// Broker credentials and mode
	PaperTrading  bool
	APIKeyID      string
	APISecretKey  string
	BrokerBaseURL string

	// Risk Core
	MaxPositionPct         float64
	MaxPositionPctExtended float64
	MaxTradeRiskPct        float64
	MaxPortfolioRiskPct    float64
	CircuitBreakerPct      float64
	MaxConcurrentPositions int
	MaxSectorConcentration float64
	RiskProfile            string // conservative | default | aggressive
	VolatilityAdjusted     bool

	// Strategy Evaluator
	AIConfidenceThreshold float64
	MinRewardRisk         float64
	DefaultRewardMultiple float64

	// Opportunity Funnel
	ScanIntervalMinutes     int
	ExtendedScanIntervalMin int
	EnableExtendedHours     bool
	FunnelMaxSymbols        int
	FunnelBudgetSeconds     int

	// Broker Gateway
	RateLimitPerMinute   int
	RateLimitUtilization float64
	EmergencyReserve     int
	StaleQuoteMaxMinutes float64
	RequestTimeoutSeconds int
	MaxRetries           int

	// Gap / Extended-Hours Guard
	MaxOvernightPositions int
	MaxOvernightDays      int

	// Oracle (advisory only)
	OracleBaseURL        string
	OracleTimeoutSeconds int
	OracleEnabled        bool

	// Regime detector
	RegimeIndexSymbol string

	// Order-ack stream (optional, degrades to polling)
	OrderStreamURL string

	// Ambient
	DataDir        string
	DatabasePath   string
	LogLevel       string
	LogPretty      bool
	HTTPPort       int

	// Reliability: S3-compatible backup store
	S3BackupBucket        string
	S3Region              string
	S3Endpoint            string
	S3AccessKeyID         string
	S3SecretAccessKey     string
	S3BackupEnabled       bool
	S3BackupIntervalHours int
	S3RetentionDays       int
}

// Load reads configuration from the environment, applying defaults and
// then validating. A local .env file is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		PaperTrading:  getEnvAsBool("PAPER_TRADING", true),
		APIKeyID:      getEnv("APCA_API_KEY_ID", ""),
		APISecretKey:  getEnv("APCA_API_SECRET_KEY", ""),
		BrokerBaseURL: getEnv("BROKER_BASE_URL", ""),

		MaxPositionPct:         getEnvAsFloat("MAX_POSITION_PCT", 0.10),
		MaxPositionPctExtended: getEnvAsFloat("MAX_POSITION_PCT_EXTENDED", 0.03),
		MaxTradeRiskPct:        getEnvAsFloat("MAX_TRADE_RISK_PCT", 0.02),
		MaxPortfolioRiskPct:    getEnvAsFloat("MAX_PORTFOLIO_RISK_PCT", 0.12),
		CircuitBreakerPct:      getEnvAsFloat("CIRCUIT_BREAKER_PCT", 0.05),
		MaxConcurrentPositions: getEnvAsInt("MAX_CONCURRENT_POSITIONS", 8),
		MaxSectorConcentration: getEnvAsFloat("MAX_SECTOR_CONCENTRATION_PCT", 0.25),
		RiskProfile:            getEnv("RISK_PROFILE", "default"),
		VolatilityAdjusted:     getEnvAsBool("VOLATILITY_ADJUSTED_SIZING", false),

		AIConfidenceThreshold: getEnvAsFloat("AI_CONFIDENCE_THRESHOLD", 0.65),
		MinRewardRisk:         getEnvAsFloat("MIN_REWARD_RISK", 1.5),
		DefaultRewardMultiple: getEnvAsFloat("DEFAULT_REWARD_MULTIPLE", 2.0),

		ScanIntervalMinutes:     getEnvAsInt("SCAN_INTERVAL_MINUTES", 15),
		ExtendedScanIntervalMin: getEnvAsInt("EXTENDED_SCAN_INTERVAL_MINUTES", 5),
		EnableExtendedHours:     getEnvAsBool("ENABLE_EXTENDED_HOURS", false),
		FunnelMaxSymbols:        getEnvAsInt("FUNNEL_MAX_SYMBOLS", 10),
		FunnelBudgetSeconds:     getEnvAsInt("FUNNEL_BUDGET_SECONDS", 60),

		RateLimitPerMinute:    getEnvAsInt("RATE_LIMIT_PER_MINUTE", 200),
		RateLimitUtilization:  getEnvAsFloat("RATE_LIMIT_UTILIZATION", 0.8),
		EmergencyReserve:      getEnvAsInt("RATE_LIMIT_EMERGENCY_RESERVE", 10),
		StaleQuoteMaxMinutes:  getEnvAsFloat("STALE_QUOTE_MAX_MINUTES", 15),
		RequestTimeoutSeconds: getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 30),
		MaxRetries:            getEnvAsInt("MAX_RETRIES", 3),

		MaxOvernightPositions: getEnvAsInt("MAX_OVERNIGHT_POSITIONS", 3),
		MaxOvernightDays:      getEnvAsInt("MAX_OVERNIGHT_DAYS", 3),

		OracleBaseURL:        getEnv("ORACLE_BASE_URL", ""),
		OracleTimeoutSeconds: getEnvAsInt("ORACLE_TIMEOUT_SECONDS", 5),
		OracleEnabled:        getEnvAsBool("ORACLE_ENABLED", false),

		RegimeIndexSymbol: getEnv("REGIME_INDEX_SYMBOL", "SPY"),

		OrderStreamURL: getEnv("ORDER_STREAM_URL", ""),

		DataDir:      getEnv("DATA_DIR", "./data"),
		DatabasePath: getEnv("DATABASE_PATH", "./data/sentinel.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogPretty:    getEnvAsBool("LOG_PRETTY", false),
		HTTPPort:     getEnvAsInt("HTTP_PORT", 8090),

		S3BackupBucket:        getEnv("S3_BACKUP_BUCKET", ""),
		S3Region:              getEnv("S3_REGION", "auto"),
		S3Endpoint:            getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:         getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:     getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3BackupEnabled:       getEnvAsBool("S3_BACKUP_ENABLED", false),
		S3BackupIntervalHours: getEnvAsInt("S3_BACKUP_INTERVAL_HOURS", 6),
		S3RetentionDays:       getEnvAsInt("S3_BACKUP_RETENTION_DAYS", 30),
	}

	if cfg.BrokerBaseURL == "" {
		if cfg.PaperTrading {
			cfg.BrokerBaseURL = "https://paper-api.alpaca.markets"
		} else {
			cfg.BrokerBaseURL = "https://api.alpaca.markets"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the invariants a malformed configuration would
// otherwise violate silently. Every failure is surfaced as a
// domain.ErrConfigInvalid error, which the caller treats as fatal.
func (c *Config) Validate() error {
	if !c.PaperTrading {
		if c.APIKeyID == "" || c.APISecretKey == "" {
			return invalid("broker credentials (APCA_API_KEY_ID and APCA_API_SECRET_KEY) are required for live trading")
		}
	}
	if c.APIKeyID == "" || c.APISecretKey == "" {
		if !c.PaperTrading {
			return invalid("broker credentials are required")
		}
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		return invalid("max_position_pct must be in (0, 1]")
	}
	if c.MaxTradeRiskPct <= 0 || c.MaxTradeRiskPct > 1 {
		return invalid("max_trade_risk_pct must be in (0, 1]")
	}
	if c.MaxPortfolioRiskPct <= 0 || c.MaxPortfolioRiskPct > 1 {
		return invalid("max_portfolio_risk_pct must be in (0, 1]")
	}
	if c.CircuitBreakerPct <= 0 || c.CircuitBreakerPct > 1 {
		return invalid("circuit_breaker_pct must be in (0, 1]")
	}
	if c.MaxConcurrentPositions <= 0 {
		return invalid("max_concurrent_positions must be positive")
	}
	if c.RateLimitUtilization <= 0 || c.RateLimitUtilization > 1 {
		return invalid("rate_limit_utilization must be in (0, 1]")
	}
	if c.RateLimitPerMinute <= 0 {
		return invalid("rate_limit_per_minute must be positive")
	}
	if c.MinRewardRisk < 1.5 {
		return invalid("min_reward_risk cannot be lowered below the 1.5 hard minimum")
	}
	if c.DatabasePath == "" {
		return invalid("database_path is required")
	}
	if c.S3BackupEnabled && (c.S3BackupBucket == "" || c.S3AccessKeyID == "" || c.S3SecretAccessKey == "") {
		return invalid("s3 backup bucket and credentials are required when s3_backup_enabled is set")
	}
	return nil
}

func invalid(msg string) error {
	return domain.NewAPIError(domain.ErrConfigInvalid, msg)
}

// UsableRateLimit returns the token-bucket size after applying the
// configured utilization fraction: 200/min default → 160 usable.
func (c *Config) UsableRateLimit() int {
	return int(float64(c.RateLimitPerMinute) * c.RateLimitUtilization)
}

// MaxPositionPctFor returns the per-position cap for the given session
// phase and risk profile, applying the extended-hours and conservative
// reductions documented in the risk core.
func (c *Config) MaxPositionPctFor(extendedHours bool) float64 {
	if extendedHours {
		return c.MaxPositionPctExtended
	}
	switch c.RiskProfile {
	case "conservative":
		return 0.05
	default:
		return c.MaxPositionPct
	}
}

// MaxConcurrentPositionsFor returns the concurrent-position cap for the
// configured risk profile.
func (c *Config) MaxConcurrentPositionsFor() int {
	switch c.RiskProfile {
	case "conservative":
		return 3
	case "aggressive":
		return 12
	default:
		return c.MaxConcurrentPositions
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
