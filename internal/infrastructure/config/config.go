package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Sources   SourcesConfig
	Quality   QualityConfig
	Pipeline  PipelineConfig
	Database  DatabaseConfig
	Warehouse WarehouseConfig
	Redis     RedisConfig
	Log       LogConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// SourcesConfig holds the locations and tuning of the three extract sources
type SourcesConfig struct {
	EventBatchPath    string
	UserRosterPath    string
	CatalogURL        string
	CatalogTimeout    time.Duration
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	RetryBackoff      float64
	RateLimitCooldown time.Duration
}

// QualityConfig holds quality scoring settings
type QualityConfig struct {
	RulesPath       string // optional YAML rules file, built-in thresholds when empty
	FreshnessWindow time.Duration
}

// PipelineConfig holds orchestration settings
type PipelineConfig struct {
	ReferencePolicy string // reject_dangling or flag_incomplete
	OutlierMultiple float64
	PhaseRetries    int
	RetryBaseDelay  time.Duration
	LeaseKey        string
	LeaseTTL        time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// WarehouseConfig holds analytical store settings
type WarehouseConfig struct {
	Path string // DuckDB database file, ":memory:" for tests
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with TECHMART_ prefix (e.g., TECHMART_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("TECHMART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Sources: SourcesConfig{
			EventBatchPath:    v.GetString("sources.event_batch_path"),
			UserRosterPath:    v.GetString("sources.user_roster_path"),
			CatalogURL:        v.GetString("sources.catalog_url"),
			CatalogTimeout:    v.GetDuration("sources.catalog_timeout"),
			RetryMaxAttempts:  v.GetInt("sources.retry_max_attempts"),
			RetryBaseDelay:    v.GetDuration("sources.retry_base_delay"),
			RetryBackoff:      v.GetFloat64("sources.retry_backoff"),
			RateLimitCooldown: v.GetDuration("sources.rate_limit_cooldown"),
		},
		Quality: QualityConfig{
			RulesPath:       v.GetString("quality.rules_path"),
			FreshnessWindow: v.GetDuration("quality.freshness_window"),
		},
		Pipeline: PipelineConfig{
			ReferencePolicy: v.GetString("pipeline.reference_policy"),
			OutlierMultiple: v.GetFloat64("pipeline.outlier_multiple"),
			PhaseRetries:    v.GetInt("pipeline.phase_retries"),
			RetryBaseDelay:  v.GetDuration("pipeline.retry_base_delay"),
			LeaseKey:        v.GetString("pipeline.lease_key"),
			LeaseTTL:        v.GetDuration("pipeline.lease_ttl"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Warehouse: WarehouseConfig{
			Path: v.GetString("warehouse.path"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "techmart-pipeline"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Sources.EventBatchPath == "" {
		cfg.Sources.EventBatchPath = "data/transactions.json"
	}
	if cfg.Sources.UserRosterPath == "" {
		cfg.Sources.UserRosterPath = "data/users.csv"
	}
	if cfg.Sources.CatalogTimeout == 0 {
		cfg.Sources.CatalogTimeout = 30 * time.Second
	}
	if cfg.Sources.RetryMaxAttempts == 0 {
		cfg.Sources.RetryMaxAttempts = 3
	}
	if cfg.Sources.RetryBaseDelay == 0 {
		cfg.Sources.RetryBaseDelay = time.Second
	}
	if cfg.Sources.RetryBackoff == 0 {
		cfg.Sources.RetryBackoff = 2.0
	}
	if cfg.Sources.RateLimitCooldown == 0 {
		cfg.Sources.RateLimitCooldown = 5 * time.Second
	}
	if cfg.Quality.FreshnessWindow == 0 {
		cfg.Quality.FreshnessWindow = 24 * time.Hour
	}
	if cfg.Pipeline.ReferencePolicy == "" {
		cfg.Pipeline.ReferencePolicy = "reject_dangling"
	}
	if cfg.Pipeline.OutlierMultiple == 0 {
		cfg.Pipeline.OutlierMultiple = 5.0
	}
	if cfg.Pipeline.PhaseRetries == 0 {
		cfg.Pipeline.PhaseRetries = 3
	}
	if cfg.Pipeline.RetryBaseDelay == 0 {
		cfg.Pipeline.RetryBaseDelay = time.Second
	}
	if cfg.Pipeline.LeaseKey == "" {
		cfg.Pipeline.LeaseKey = "pipeline:run-lease"
	}
	if cfg.Pipeline.LeaseTTL == 0 {
		cfg.Pipeline.LeaseTTL = 30 * time.Minute
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "techmart"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Warehouse.Path == "" {
		cfg.Warehouse.Path = "data/warehouse.duckdb"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Pipeline.ReferencePolicy {
	case "reject_dangling", "flag_incomplete":
	default:
		return fmt.Errorf("pipeline.reference_policy must be reject_dangling or flag_incomplete, got %q", c.Pipeline.ReferencePolicy)
	}
	if c.Pipeline.OutlierMultiple <= 1 {
		return fmt.Errorf("pipeline.outlier_multiple must be greater than 1, got %f", c.Pipeline.OutlierMultiple)
	}
	if c.Sources.RetryBackoff < 1 {
		return fmt.Errorf("sources.retry_backoff must be at least 1, got %f", c.Sources.RetryBackoff)
	}
	if c.Sources.CatalogURL != "" {
		if _, err := url.ParseRequestURI(c.Sources.CatalogURL); err != nil {
			return fmt.Errorf("sources.catalog_url is not a valid URL: %w", err)
		}
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Sources.CatalogURL == "" {
			return fmt.Errorf("sources.catalog_url is required in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the host:port address for the Redis client
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
