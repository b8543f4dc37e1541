package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBaseConfig() *Config {
	return &Config{
		PaperTrading:         true,
		MaxPositionPct:       0.1,
		MaxTradeRiskPct:      0.02,
		MaxPortfolioRiskPct:  0.12,
		CircuitBreakerPct:    0.05,
		MaxConcurrentPositions: 8,
		RateLimitUtilization: 0.8,
		RateLimitPerMinute:   200,
		MinRewardRisk:        1.5,
		DatabasePath:         "./data/sentinel.db",
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validBaseConfig().Validate())
}

func TestValidate_LiveTradingRequiresCredentials(t *testing.T) {
	cfg := validBaseConfig()
	cfg.PaperTrading = false
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker credentials")
}

func TestValidate_MaxPositionPctOutOfRange(t *testing.T) {
	cfg := validBaseConfig()
	cfg.MaxPositionPct = 0
	assert.Error(t, cfg.Validate())

	cfg.MaxPositionPct = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidate_MinRewardRiskFloor(t *testing.T) {
	cfg := validBaseConfig()
	cfg.MinRewardRisk = 1.2
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1.5 hard minimum")
}

func TestValidate_DatabasePathRequired(t *testing.T) {
	cfg := validBaseConfig()
	cfg.DatabasePath = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_S3BackupRequiresCredentialsWhenEnabled(t *testing.T) {
	cfg := validBaseConfig()
	cfg.S3BackupEnabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 backup")

	cfg.S3BackupBucket = "sentinel-backups"
	cfg.S3AccessKeyID = "key"
	cfg.S3SecretAccessKey = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestUsableRateLimit(t *testing.T) {
	cfg := &Config{RateLimitPerMinute: 200, RateLimitUtilization: 0.8}
	assert.Equal(t, 160, cfg.UsableRateLimit())
}

func TestMaxPositionPctFor(t *testing.T) {
	cfg := &Config{MaxPositionPct: 0.1, MaxPositionPctExtended: 0.03, RiskProfile: "default"}
	assert.Equal(t, 0.03, cfg.MaxPositionPctFor(true))
	assert.Equal(t, 0.1, cfg.MaxPositionPctFor(false))

	cfg.RiskProfile = "conservative"
	assert.Equal(t, 0.05, cfg.MaxPositionPctFor(false))
}

func TestMaxConcurrentPositionsFor(t *testing.T) {
	cfg := &Config{MaxConcurrentPositions: 8, RiskProfile: "aggressive"}
	assert.Equal(t, 12, cfg.MaxConcurrentPositionsFor())

	cfg.RiskProfile = "conservative"
	assert.Equal(t, 3, cfg.MaxConcurrentPositionsFor())

	cfg.RiskProfile = "default"
	assert.Equal(t, 8, cfg.MaxConcurrentPositionsFor())
}

func TestLoad_DefaultsBrokerBaseURLByMode(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://paper-api.alpaca.markets", cfg.BrokerBaseURL)
	assert.True(t, cfg.PaperTrading)

	os.Setenv("PAPER_TRADING", "false")
	os.Setenv("APCA_API_KEY_ID", "key")
	os.Setenv("APCA_API_SECRET_KEY", "secret")
	defer os.Clearenv()

	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api.alpaca.markets", cfg.BrokerBaseURL)
}
