// Package config provides configuration management for the ranking worker.
//
// Configuration is loaded from multiple sources in this order:
// 1. Configuration files (YAML)
// 2. Environment variables
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Database    DatabaseConfig `mapstructure:"database"`
	Environment string         `mapstructure:"environment"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Ranking     RankingConfig  `mapstructure:"ranking"`
}

// RankingConfig contains the candidate-ranking pipeline's configuration:
// the embedding model, scoring thresholds, rerank batching, and per-queue
// worker concurrency.
type RankingConfig struct {
	EmbeddingModel         string  `mapstructure:"embedding_model"`
	EmbeddingDim           int     `mapstructure:"embedding_dim"`
	SentenceMinChars       int     `mapstructure:"sentence_min_chars"`
	SimilarityTauCoverage  float64 `mapstructure:"similarity_tau_coverage"`
	SimilarityTauAlignment float64 `mapstructure:"similarity_tau_alignment"`
	RerankBatchSize        int     `mapstructure:"rerank_batch_size"`
	RerankEnabled          bool    `mapstructure:"rerank_enabled"`
	ProviderAPIKey         string  `mapstructure:"provider_api_key"`
	EmbeddingBatchSize     int     `mapstructure:"embedding_batch_size"`
	JDConcurrency          int     `mapstructure:"jd_concurrency"`
	ResumeConcurrency      int     `mapstructure:"resume_concurrency"`
	RankConcurrency        int     `mapstructure:"rank_concurrency"`
}

// DatabaseConfig contains PostgreSQL database configuration.
type DatabaseConfig struct {
	SSLMode         string        `mapstructure:"ssl_mode"`
	Host            string        `mapstructure:"host"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	URL             string        `mapstructure:"url"`
	Port            int           `mapstructure:"port"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Host         string        `mapstructure:"host"`
	Password     string        `mapstructure:"password"`
	Port         int           `mapstructure:"port"`
	Database     int           `mapstructure:"database"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`   // file path if output=file
}

// Validate validates the main configuration and all sub-configurations.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config validation failed: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config validation failed: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}

	return nil
}

// Validate validates database configuration.
func (dc *DatabaseConfig) Validate() error {
	// If URL is provided, minimal validation
	if dc.URL != "" {
		if dc.MaxOpenConns < 0 {
			return errors.New("max_open_conns cannot be negative")
		}

		if dc.MaxIdleConns < 0 {
			return errors.New("max_idle_conns cannot be negative")
		}

		return nil
	}

	// If no URL, validate individual fields
	if dc.Host == "" {
		return errors.New("either url or host must be provided")
	}

	if dc.Port <= 0 || dc.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", dc.Port)
	}

	if dc.User == "" {
		return errors.New("user cannot be empty when using individual fields")
	}

	if dc.Database == "" {
		return errors.New("database name cannot be empty when using individual fields")
	}

	if dc.MaxOpenConns < 0 {
		return errors.New("max_open_conns cannot be negative")
	}

	if dc.MaxIdleConns < 0 {
		return errors.New("max_idle_conns cannot be negative")
	}

	return nil
}

// Validate validates Redis configuration.
func (rc *RedisConfig) Validate() error {
	// If URL is provided, minimal validation
	if rc.URL != "" {
		if rc.PoolSize < 0 {
			return errors.New("pool_size cannot be negative")
		}

		return nil
	}

	// If no URL, validate individual fields
	if rc.Host == "" {
		return errors.New("either url or host must be provided for redis")
	}

	if rc.Port <= 0 || rc.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d (must be 1-65535)", rc.Port)
	}

	if rc.Database < 0 || rc.Database > 15 {
		return fmt.Errorf("invalid redis database number: %d (must be 0-15)", rc.Database)
	}

	if rc.PoolSize < 0 {
		return errors.New("pool_size cannot be negative")
	}

	return nil
}

// Validate validates logging configuration.
func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	isValid := false
	for _, level := range validLevels {
		if lc.Level == level {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log level: %s (must be one of %v)", lc.Level, validLevels)
	}

	validFormats := []string{"json", "text"}
	isValid = false
	for _, format := range validFormats {
		if lc.Format == format {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log format: %s (must be one of %v)", lc.Format, validFormats)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	isValid = false
	for _, output := range validOutputs {
		if lc.Output == output {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log output: %s (must be one of %v)", lc.Output, validOutputs)
	}

	if lc.Output == "file" && lc.File == "" {
		return errors.New("file path is required when output is 'file'")
	}

	return nil
}

// Load loads configuration from files and environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (optional, for local development)
	_ = godotenv.Load(".env")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/brokle")

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with defaults and env vars
	}

	// Set environment variable support (takes precedence over config files)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	//nolint:errcheck // BindEnv only errors with invalid args, safe with string literals
	viper.BindEnv("database.url", "DATABASE_URL")
	//nolint:errcheck
	viper.BindEnv("redis.url", "REDIS_URL")
	//nolint:errcheck
	viper.BindEnv("server.environment", "ENV")
	//nolint:errcheck
	viper.BindEnv("logging.level", "LOG_LEVEL")
	//nolint:errcheck
	viper.BindEnv("logging.format", "LOG_FORMAT")

	// Database configuration (granular environment variables)
	//nolint:errcheck
	viper.BindEnv("database.host", "DB_HOST")
	//nolint:errcheck
	viper.BindEnv("database.port", "DB_PORT")
	//nolint:errcheck
	viper.BindEnv("database.user", "DB_USER")
	//nolint:errcheck
	viper.BindEnv("database.password", "DB_PASSWORD")
	//nolint:errcheck
	viper.BindEnv("database.database", "DB_NAME")
	//nolint:errcheck
	viper.BindEnv("database.ssl_mode", "DB_SSLMODE")

	// Ranking pipeline's model provider key (JD/resume parsing, embedding, re-rank)
	//nolint:errcheck
	viper.BindEnv("ranking.provider_api_key", "RANKING_PROVIDER_API_KEY")

	// Set default values
	setDefaults()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("environment", "development")

	// Database defaults (URL-first, individual fields as fallback)
	viper.SetDefault("database.url", "") // Preferred: Set via DATABASE_URL env var
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "brokle")
	viper.SetDefault("database.database", "brokle")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "1h")
	viper.SetDefault("database.conn_max_idle_time", "15m")

	// Redis defaults (URL-first, individual fields as fallback)
	viper.SetDefault("redis.url", "") // Preferred: Set via REDIS_URL env var
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.pool_size", 20)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.idle_timeout", "5m")
	viper.SetDefault("redis.max_retries", 3)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	// Ranking pipeline defaults
	viper.SetDefault("ranking.embedding_model", "text-embedding-3-small")
	viper.SetDefault("ranking.embedding_dim", 1536)
	viper.SetDefault("ranking.sentence_min_chars", 3)
	viper.SetDefault("ranking.similarity_tau_coverage", 0.65)
	viper.SetDefault("ranking.similarity_tau_alignment", 0.55)
	viper.SetDefault("ranking.rerank_batch_size", 30)
	viper.SetDefault("ranking.rerank_enabled", true)
	viper.SetDefault("ranking.embedding_batch_size", 96)
	viper.SetDefault("ranking.jd_concurrency", 2)
	viper.SetDefault("ranking.resume_concurrency", 5)
	viper.SetDefault("ranking.rank_concurrency", 1)
}

// GetDatabaseURL returns the PostgreSQL connection URL.
func (c *Config) GetDatabaseURL() string {
	// Priority 1: Use URL if provided
	if c.Database.URL != "" {
		return c.Database.URL
	}

	// Priority 2: Construct from individual fields
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host,
		c.Database.Port, c.Database.Database, c.Database.SSLMode)
}

// GetRedisURL returns the Redis connection URL.
func (c *Config) GetRedisURL() string {
	// Priority 1: Use URL if provided
	if c.Redis.URL != "" {
		return c.Redis.URL
	}

	// Priority 2: Construct from individual fields
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password, c.Redis.Host, c.Redis.Port, c.Redis.Database)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host, c.Redis.Port, c.Redis.Database)
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
