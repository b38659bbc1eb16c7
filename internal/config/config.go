// Package config provides configuration management for the goal calibrator.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	App         AppConfig         `mapstructure:"app" validate:"required"`
	Paths       PathsConfig       `mapstructure:"paths" validate:"required"`
	Calibration CalibrationConfig `mapstructure:"calibration" validate:"required"`
	Gate        GateConfig        `mapstructure:"gate" validate:"required"`
	Promotion   PromotionConfig   `mapstructure:"promotion"`
	Fetch       FetchConfig       `mapstructure:"fetch" validate:"required"`
	Storage     StorageConfig     `mapstructure:"storage" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
	LogFormat   string `mapstructure:"log_format" validate:"omitempty,oneof=json text"`
}

// PathsConfig locates every file artifact
type PathsConfig struct {
	RawBatch      string `mapstructure:"raw_batch" validate:"required"`
	Live          string `mapstructure:"live" validate:"required"`
	BackupsDir    string `mapstructure:"backups_dir" validate:"required"`
	CandidatesDir string `mapstructure:"candidates_dir" validate:"required"`
	ReportsDir    string `mapstructure:"reports_dir" validate:"required"`
	CurvesDir     string `mapstructure:"curves_dir" validate:"required"`
	History       string `mapstructure:"history" validate:"required"`
}

// CalibrationConfig controls curve training and postprocessing
type CalibrationConfig struct {
	MinSamples            int     `mapstructure:"min_samples" validate:"required,gte=1"`
	MinP                  float64 `mapstructure:"min_p" validate:"required,gt=0,lt=0.5"`
	Workers               int     `mapstructure:"workers" validate:"required,gt=0"`
	CalibrateCorrectScore bool    `mapstructure:"calibrate_correct_score"`
	DeriveMissing         bool    `mapstructure:"derive_missing"`
	RoundPlaces           int32   `mapstructure:"round_places" validate:"gte=0,lte=10"`
	WindowDays            int     `mapstructure:"window_days" validate:"required,gt=0"`
	PoissonMaxGoals       int     `mapstructure:"poisson_max_goals" validate:"required,gte=3,lte=15"`
}

// GateConfig represents the safety gate thresholds
type GateConfig struct {
	Low                    float64 `mapstructure:"low" validate:"probability"`
	High                   float64 `mapstructure:"high" validate:"probability"`
	ExtremityMax           float64 `mapstructure:"extremity_max" validate:"probability"`
	CoverageMin            float64 `mapstructure:"coverage_min" validate:"probability"`
	CompareWithLive        bool    `mapstructure:"compare_with_live"`
	MaxExtremityRegression float64 `mapstructure:"max_extremity_regression" validate:"probability"`
	MaxCoverageRegression  float64 `mapstructure:"max_coverage_regression" validate:"probability"`
	FailOnReject           bool    `mapstructure:"fail_on_reject"`
}

// PromotionConfig controls the live artifact lock and retention
type PromotionConfig struct {
	LockFile       string `mapstructure:"lock_file"`
	RetainBackups  int    `mapstructure:"retain_backups" validate:"gte=0"`
	KeepCandidates int    `mapstructure:"keep_candidates" validate:"gte=0"`
}

// FetchConfig represents the results provider configuration
type FetchConfig struct {
	BaseURL           string   `mapstructure:"base_url" validate:"required,url"`
	APIKey            string   `mapstructure:"api_key"`
	ProxyToken        string   `mapstructure:"proxy_token"`
	Leagues           []string `mapstructure:"leagues" validate:"required,min=1,dive,required"`
	Season            int      `mapstructure:"season" validate:"omitempty,gte=1900"`
	Workers           int      `mapstructure:"workers" validate:"required,gt=0"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second" validate:"required,gt=0"`
	Burst             int      `mapstructure:"burst" validate:"gte=0"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds" validate:"required,gt=0"`
	RetryAttempts     int      `mapstructure:"retry_attempts" validate:"gte=0"`
	CacheTTLMinutes   int      `mapstructure:"cache_ttl_minutes" validate:"gte=0"`
	MaxFailures       int      `mapstructure:"max_failures" validate:"gte=0"`
	CooldownSeconds   int      `mapstructure:"cooldown_seconds" validate:"gte=0"`
	LookbackDays      int      `mapstructure:"lookback_days" validate:"gte=0"`
}

// StorageConfig selects the repository backends
type StorageConfig struct {
	HistoryBackend string `mapstructure:"history_backend" validate:"required,oneof=file postgres"`
	CurvesBackend  string `mapstructure:"curves_backend" validate:"required,oneof=file sqlite"`
	SQLitePath     string `mapstructure:"sqlite_path" validate:"required"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable require verify-full"`
	MaxConnections int    `mapstructure:"max_connections" validate:"gte=0"`
	MinConnections int    `mapstructure:"min_connections" validate:"gte=0"`
	ConnectRetries int    `mapstructure:"connect_retries" validate:"gte=0"`
}

// RedisConfig locates the meta store that receives the last update time
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Key      string `mapstructure:"key"`
}

// TelegramConfig represents run notification settings
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// MetricsConfig represents metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Path    string `mapstructure:"path"`
}

// ScheduleConfig represents the daily pipeline schedule
type ScheduleConfig struct {
	Cron       string `mapstructure:"cron" validate:"omitempty,cronspec"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

// SecretsConfig locates the AWS Secrets Manager secret
type SecretsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Region     string `mapstructure:"region"`
	SecretName string `mapstructure:"secret_name"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// GetDatabaseDSN returns the PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Database.User),
		url.QueryEscape(c.Database.Password),
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		sslMode,
	)
}

// FetchTimeout returns the per-request timeout
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// FetchCacheTTL returns how long finished-fixture pages stay cached
func (c *Config) FetchCacheTTL() time.Duration {
	return time.Duration(c.Fetch.CacheTTLMinutes) * time.Minute
}

// LockFile returns the promotion lock path, defaulting next to the live artifact
func (c *Config) LockFile() string {
	if c.Promotion.LockFile != "" {
		return c.Promotion.LockFile
	}
	return c.Paths.Live + ".lock"
}
