package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production, simulation

	// Trading engine
	Engine EngineConfig

	// External APIs
	Broker     BrokerConfig
	MarketData MarketDataConfig

	// Persistence
	Persist  PersistConfig
	Database DatabaseConfig
	Redis    RedisConfig

	// Logging
	LogLevel  string
	LogFormat string
	LogMode   string // default, quiet, talkative, verbose

	// Monitoring
	MetricsEnabled bool
}

// EngineConfig holds trade engine settings
type EngineConfig struct {
	Symbols            []string
	MaxOpenPrimaryBuys int
	StrategyPreset     string // big_bear, bear, bull, big_bull
	StrategyFile       string // YAML 파일이 있으면 preset 대신 사용
	StopAfterUTC       string // HH:MM:SS, 빈 값이면 비활성
	SettleDelay        time.Duration
	AnomalyPct         float64
	StartingBalanceUSD float64
	MarketOpenCron     string
}

// BrokerConfig holds brokerage REST API configuration
type BrokerConfig struct {
	BaseURL   string
	KeyID     string
	SecretKey string
	RPS       int
}

// MarketDataConfig holds market data API configuration
type MarketDataConfig struct {
	BaseURL       string
	WebSocketURL  string
	CloseBarsDays int
	ScrapeURL     string // 종가 HTML fallback
}

// PersistConfig holds snapshot and log locations
type PersistConfig struct {
	SnapshotStore string // file, postgres
	Dir           string
	LogDir        string
	AuditEnabled  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	URL      string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Engine: EngineConfig{
			Symbols:            getEnvAsList("SYMBOLS", []string{"SPY", "QQQ"}),
			MaxOpenPrimaryBuys: getEnvAsInt("MAX_OPEN_PRIMARY_BUYS", 2),
			StrategyPreset:     getEnv("STRATEGY_PRESET", "bear"),
			StrategyFile:       getEnv("STRATEGY_FILE", ""),
			StopAfterUTC:       getEnv("STOP_AFTER_UTC", "20:00:15"),
			SettleDelay:        getEnvAsDuration("THROTTLE_SETTLE_DELAY", "100ms"),
			AnomalyPct:         getEnvAsFloat("ANOMALY_PCT", 0.02),
			StartingBalanceUSD: getEnvAsFloat("STARTING_BALANCE_USD", 100000),
			MarketOpenCron:     getEnv("MARKET_OPEN_CRON", "0 25 13 * * MON-FRI"),
		},

		Broker: BrokerConfig{
			BaseURL:   getEnv("BROKER_BASE_URL", "https://paper-api.alpaca.markets"),
			KeyID:     getEnv("BROKER_KEY_ID", ""),
			SecretKey: getEnv("BROKER_SECRET_KEY", ""),
			RPS:       getEnvAsInt("BROKER_RPS", 3),
		},

		MarketData: MarketDataConfig{
			BaseURL:       getEnv("MARKETDATA_BASE_URL", "https://data.alpaca.markets"),
			WebSocketURL:  getEnv("MARKETDATA_WS_URL", "wss://stream.data.alpaca.markets/v2/iex"),
			CloseBarsDays: getEnvAsInt("CLOSE_BARS_DAYS", 10),
			ScrapeURL:     getEnv("CLOSE_SCRAPE_URL", ""),
		},

		Persist: PersistConfig{
			SnapshotStore: getEnv("SNAPSHOT_STORE", "file"),
			Dir:           getEnv("PERSIST_DIR", "data/persist"),
			LogDir:        getEnv("LOG_DIR", "data/logs"),
			AuditEnabled:  getEnvAsBool("AUDIT_ENABLED", false),
		},

		// Database
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "daytrader"),
			User:            getEnv("DB_USER", "daytrader"),
			Password:        getEnv("DB_PASSWORD", ""),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		LogMode:   getEnv("LOG_MODE", "default"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether the engine talks to a real brokerage account
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsSimulation reports whether the engine runs against a replayed dataset
func (c *Config) IsSimulation() bool {
	return c.Env == "simulation"
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	switch c.Env {
	case "development", "staging", "production", "simulation":
	default:
		return fmt.Errorf("ENV must be one of: development, staging, production, simulation")
	}

	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must contain at least one symbol")
	}

	if c.Engine.MaxOpenPrimaryBuys < 1 {
		return fmt.Errorf("MAX_OPEN_PRIMARY_BUYS must be >= 1, got %d", c.Engine.MaxOpenPrimaryBuys)
	}

	if c.Engine.AnomalyPct <= 0 {
		return fmt.Errorf("ANOMALY_PCT must be positive")
	}

	if c.Engine.StopAfterUTC != "" {
		if _, err := time.Parse("15:04:05", c.Engine.StopAfterUTC); err != nil {
			return fmt.Errorf("STOP_AFTER_UTC must be HH:MM:SS: %w", err)
		}
	}

	switch c.Persist.SnapshotStore {
	case "file":
	case "postgres":
		// postgres 스냅샷은 DATABASE_URL 필수
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when SNAPSHOT_STORE=postgres")
		}
	default:
		return fmt.Errorf("SNAPSHOT_STORE must be one of: file, postgres")
	}

	if c.Persist.AuditEnabled && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when AUDIT_ENABLED=true")
	}

	switch c.LogMode {
	case "default", "quiet", "talkative", "verbose":
	default:
		return fmt.Errorf("LOG_MODE must be one of: default, quiet, talkative, verbose")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
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

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

// getEnvAsList splits a comma separated value, upper-casing symbols
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
