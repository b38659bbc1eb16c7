package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "config/config.yaml"
	envPrefix         = "GOAL_CALIBRATOR"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// readExpanded reads configPath, expands ${VAR} placeholders and feeds it to v
func readExpanded(v *viper.Viper, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	expanded := os.ExpandEnv(string(data))
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Load reads and parses the configuration from file and environment variables.
// It expands environment variable placeholders in the YAML file (${VAR_NAME}).
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath
	}

	v := newViper()
	if err := readExpanded(v, configPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// LoadWithDefaults loads configuration with default values for optional fields.
// A missing file is not an error; defaults and environment variables apply.
func LoadWithDefaults(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath
	}

	v := newViper()
	setDefaults(v)

	if err := readExpanded(v, configPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "goal-calibrator")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("paths.raw_batch", "data/raw/predictions.json")
	v.SetDefault("paths.live", "data/live/predictions.json")
	v.SetDefault("paths.backups_dir", "data/backups")
	v.SetDefault("paths.candidates_dir", "data/candidates")
	v.SetDefault("paths.reports_dir", "data/reports")
	v.SetDefault("paths.curves_dir", "data/curves")
	v.SetDefault("paths.history", "data/history/outcomes.json")

	v.SetDefault("calibration.min_samples", 150)
	v.SetDefault("calibration.min_p", 0.01)
	v.SetDefault("calibration.workers", 4)
	v.SetDefault("calibration.derive_missing", true)
	v.SetDefault("calibration.round_places", 4)
	v.SetDefault("calibration.window_days", 365)
	v.SetDefault("calibration.poisson_max_goals", 6)

	v.SetDefault("gate.low", 0.005)
	v.SetDefault("gate.high", 0.995)
	v.SetDefault("gate.extremity_max", 0.10)
	v.SetDefault("gate.coverage_min", 0.90)

	v.SetDefault("promotion.retain_backups", 30)
	v.SetDefault("promotion.keep_candidates", 14)

	v.SetDefault("fetch.base_url", "https://v3.football.api-sports.io")
	v.SetDefault("fetch.workers", 4)
	v.SetDefault("fetch.requests_per_second", 5)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.retry_attempts", 3)
	v.SetDefault("fetch.cache_ttl_minutes", 60)
	v.SetDefault("fetch.max_failures", 5)
	v.SetDefault("fetch.cooldown_seconds", 60)
	v.SetDefault("fetch.lookback_days", 3)

	v.SetDefault("storage.history_backend", "file")
	v.SetDefault("storage.curves_backend", "file")
	v.SetDefault("storage.sqlite_path", "data/calibrator.db")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_connections", 1)
	v.SetDefault("database.connect_retries", 5)

	v.SetDefault("redis.key", "last_update")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("schedule.cron", "0 6 * * *")

	v.SetDefault("secrets.region", "eu-west-1")
}
