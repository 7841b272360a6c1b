package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/rewired-gh/scanalert/internal/models"
)

// AutoAlgorithm makes the runner detect a source's algorithm from its CSV headers.
const AutoAlgorithm = "auto"

// Config represents the complete application configuration
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Sources  []SourceConfig `mapstructure:"sources"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EngineConfig holds alert evaluation settings
type EngineConfig struct {
	RulesPath         string        `mapstructure:"rules_path"`
	Retention         time.Duration `mapstructure:"retention"`
	DefaultPriceField string        `mapstructure:"default_price_field"`
}

// ScheduleConfig holds cron specs for the background jobs
type ScheduleConfig struct {
	Poll           string        `mapstructure:"poll"`
	Maintenance    string        `mapstructure:"maintenance"`
	AlertRetention time.Duration `mapstructure:"alert_retention"`
	DispatchBatch  int           `mapstructure:"dispatch_batch"`
}

// SourceConfig describes one CSV snapshot feed
type SourceConfig struct {
	Name        string            `mapstructure:"name"`
	Algorithm   string            `mapstructure:"algorithm"`
	Group       string            `mapstructure:"group"`
	Interval    string            `mapstructure:"interval"`
	CSVPath     string            `mapstructure:"csv_path"`
	PriceField  string            `mapstructure:"price_field"`
	GlobalRules []models.UserRule `mapstructure:"global_rules"`
	CustomRules []models.UserRule `mapstructure:"custom_rules"`
}

// DataSource converts the entry into a data source record. An "auto" algorithm is left for
// the caller to resolve.
func (s SourceConfig) DataSource() *models.DataSource {
	return &models.DataSource{
		Algorithm:   s.Algorithm,
		Group:       s.Group,
		Interval:    s.Interval,
		PriceField:  s.PriceField,
		FilePath:    s.CSVPath,
		GlobalRules: s.GlobalRules,
		CustomRules: s.CustomRules,
	}
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string `mapstructure:"bot_token"`
	ChatID     string `mapstructure:"chat_id"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath    string `mapstructure:"db_path"`
	MaxAlerts int    `mapstructure:"max_alerts"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("SCANALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.rules_path", "./configs/alert_rules.yaml")
	v.SetDefault("engine.retention", "24h")
	v.SetDefault("engine.default_price_field", "Last")

	v.SetDefault("schedule.poll", "@every 1m")
	v.SetDefault("schedule.maintenance", "@hourly")
	v.SetDefault("schedule.alert_retention", "720h")
	v.SetDefault("schedule.dispatch_batch", 50)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)

	v.SetDefault("storage.db_path", "./data/scanalert.db")
	v.SetDefault("storage.max_alerts", 10000)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9108")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Engine.RulesPath == "" {
		return fmt.Errorf("engine.rules_path is required")
	}
	if c.Engine.Retention < time.Minute {
		return fmt.Errorf("engine.retention must be at least 1 minute")
	}

	if _, err := cron.ParseStandard(c.Schedule.Poll); err != nil {
		return fmt.Errorf("schedule.poll: %w", err)
	}
	if _, err := cron.ParseStandard(c.Schedule.Maintenance); err != nil {
		return fmt.Errorf("schedule.maintenance: %w", err)
	}
	if c.Schedule.AlertRetention < time.Hour {
		return fmt.Errorf("schedule.alert_retention must be at least 1 hour")
	}
	if c.Schedule.DispatchBatch < 1 {
		return fmt.Errorf("schedule.dispatch_batch must be at least 1")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("sources must contain at least one data source")
	}
	names := make(map[string]bool)
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("sources[%d].name %q is duplicated", i, s.Name)
		}
		names[s.Name] = true
		if s.CSVPath == "" {
			return fmt.Errorf("sources[%d].csv_path is required", i)
		}
		ds := s.DataSource()
		if strings.EqualFold(ds.Algorithm, AutoAlgorithm) {
			ds.Algorithm = "pending"
		}
		if err := ds.Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.MaxRetries < 0 {
		return fmt.Errorf("telegram.max_retries must not be negative")
	}

	if c.Storage.MaxAlerts < 1 {
		return fmt.Errorf("storage.max_alerts must be at least 1")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
