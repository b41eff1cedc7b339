// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir                  string // Base directory for the ledger database (always absolute)
	RecommendationServiceURL string
	RecommendationRPS        float64 // Outbound request budget for the recommendation service
	YahooChartURL            string  // Overrides the Yahoo chart endpoint; empty uses the public API
	LogLevel                 string
	Port                     int
	DevMode                  bool

	Trading TradingConfig
	Backup  BackupConfig

	AMQPURL string // Optional RabbitMQ URL for event fan-out
}

// TradingConfig holds orchestrator tuning
type TradingConfig struct {
	StartingBalance   float64
	MaxActiveTrades   int
	AdmissionInterval time.Duration
	RefreshInterval   time.Duration
	PollGraceDelay    time.Duration
	PollInterval      time.Duration
	PollMaxAttempts   int
	AutoStart         bool
}

// BackupConfig holds ledger backup settings. Backups are disabled when Bucket is empty.
type BackupConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // S3-compatible endpoint override (R2, MinIO)
	AccessKeyID     string // Empty uses the default AWS credential chain
	SecretAccessKey string
	Schedule        string // cron expression
	RetentionDays   int    // 0 keeps every backup
}

// Enabled reports whether off-site backups are configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// LedgerPath returns the path of the ledger database
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PAPERTRADER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:                  absDataDir,
		Port:                     getEnvAsInt("PORT", 3000),
		DevMode:                  getEnvAsBool("DEV_MODE", false),
		RecommendationServiceURL: getEnv("RECOMMENDATION_SERVICE_URL", "http://localhost:5050/api"),
		RecommendationRPS:        getEnvAsFloat("RECOMMENDATION_RPS", 5),
		YahooChartURL:            getEnv("YAHOO_CHART_URL", ""),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		AMQPURL:                  getEnv("AMQP_URL", ""),
		Trading: TradingConfig{
			StartingBalance:   getEnvAsFloat("STARTING_BALANCE", 100000),
			MaxActiveTrades:   getEnvAsInt("MAX_ACTIVE_TRADES", 3),
			AdmissionInterval: getEnvAsDuration("ADMISSION_INTERVAL", 3*time.Second),
			RefreshInterval:   getEnvAsDuration("REFRESH_INTERVAL", 5*time.Second),
			PollGraceDelay:    getEnvAsDuration("POLL_GRACE_DELAY", 60*time.Second),
			PollInterval:      getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
			PollMaxAttempts:   getEnvAsInt("POLL_MAX_ATTEMPTS", 24),
			AutoStart:         getEnvAsBool("TRADING_AUTO_START", false),
		},
		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:          getEnv("BACKUP_S3_PREFIX", "papertrader"),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.RecommendationServiceURL == "" {
		return fmt.Errorf("RECOMMENDATION_SERVICE_URL is required")
	}
	if c.Trading.StartingBalance < 0 {
		return fmt.Errorf("STARTING_BALANCE must not be negative")
	}
	if c.Trading.MaxActiveTrades < 1 {
		return fmt.Errorf("MAX_ACTIVE_TRADES must be at least 1")
	}
	if c.Trading.PollMaxAttempts < 1 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be at least 1")
	}
	if c.Trading.PollInterval <= 0 || c.Trading.AdmissionInterval <= 0 {
		return fmt.Errorf("poll and admission intervals must be positive")
	}
	if c.Trading.PollGraceDelay < 0 {
		return fmt.Errorf("POLL_GRACE_DELAY must not be negative")
	}
	return nil
}

// Helper functions
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
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// getEnvAsDuration accepts Go duration strings ("3s", "1m").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
