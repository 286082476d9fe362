package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Messenger MessengerConfig `mapstructure:"messenger"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings (simulation rate limiting)
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS event publishing settings
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// MonitorConfig contains regulatory monitor settings
type MonitorConfig struct {
	IntervalSeconds        int    `mapstructure:"interval_seconds"`         // sweep cadence, default 60
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"` // source mute ceiling, default 5
	FetchTimeoutSeconds    int    `mapstructure:"fetch_timeout_seconds"`    // per-request HTTP timeout
	RequestsPerMinute      int    `mapstructure:"requests_per_minute"`      // per-host fetch pacing
	CatalogPath            string `mapstructure:"catalog_path"`             // optional YAML seed catalog
}

// MessengerConfig contains inter-agent messenger settings
type MessengerConfig struct {
	MaxRetries          int `mapstructure:"max_retries"`           // default 3
	RetryDelaySeconds   int `mapstructure:"retry_delay_seconds"`   // default 30
	BatchSize           int `mapstructure:"batch_size"`            // default 50
	QueueRefreshSeconds int `mapstructure:"queue_refresh_seconds"` // worker backlog poll, default 5
	QueueCapacity       int `mapstructure:"queue_capacity"`        // worker channel buffer
}

// ConsensusConfig contains consensus engine defaults
type ConsensusConfig struct {
	DefaultMaxRounds       int     `mapstructure:"default_max_rounds"`
	DefaultTimeoutSeconds  int     `mapstructure:"default_timeout_seconds"` // per round
	DefaultThreshold       float64 `mapstructure:"default_threshold"`
	DefaultMinParticipants int     `mapstructure:"default_min_participants"`
}

// SimulatorConfig contains regulatory simulator settings
type SimulatorConfig struct {
	MaxConcurrentSimulations int `mapstructure:"max_concurrent_simulations"` // default 5
	SimulationTimeoutSeconds int `mapstructure:"simulation_timeout_seconds"` // default 3600
	ResultRetentionDays      int `mapstructure:"result_retention_days"`      // default 90
	RateLimitRuns            int `mapstructure:"rate_limit_runs"`            // default 12
	RateLimitWindowSeconds   int `mapstructure:"rate_limit_window_seconds"`  // default 600
}

// AlertsConfig contains operator alerting settings
type AlertsConfig struct {
	TelegramEnabled bool    `mapstructure:"telegram_enabled"`
	TelegramToken   string  `mapstructure:"telegram_token"`
	TelegramChatIDs []int64 `mapstructure:"telegram_chat_ids"`
}

// MetricsConfig contains monitoring settings
type MetricsConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("REGULENS")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration using comprehensive validation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "Regulens")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", PostgresPort)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "regulens")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", RedisPort)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", fmt.Sprintf("nats://localhost:%d", NATSPort))
	v.SetDefault("nats.enabled", false)

	// Monitor defaults
	v.SetDefault("monitor.interval_seconds", 60)
	v.SetDefault("monitor.max_consecutive_failures", 5)
	v.SetDefault("monitor.fetch_timeout_seconds", 30)
	v.SetDefault("monitor.requests_per_minute", 30)
	v.SetDefault("monitor.catalog_path", "")

	// Messenger defaults
	v.SetDefault("messenger.max_retries", 3)
	v.SetDefault("messenger.retry_delay_seconds", 30)
	v.SetDefault("messenger.batch_size", 50)
	v.SetDefault("messenger.queue_refresh_seconds", 5)
	v.SetDefault("messenger.queue_capacity", 256)

	// Consensus defaults
	v.SetDefault("consensus.default_max_rounds", 3)
	v.SetDefault("consensus.default_timeout_seconds", 300)
	v.SetDefault("consensus.default_threshold", 0.5)
	v.SetDefault("consensus.default_min_participants", 2)

	// Simulator defaults
	v.SetDefault("simulator.max_concurrent_simulations", 5)
	v.SetDefault("simulator.simulation_timeout_seconds", 3600)
	v.SetDefault("simulator.result_retention_days", 90)
	v.SetDefault("simulator.rate_limit_runs", 12)
	v.SetDefault("simulator.rate_limit_window_seconds", 600)

	// Alerts defaults
	v.SetDefault("alerts.telegram_enabled", false)

	// Metrics defaults
	v.SetDefault("metrics.prometheus_port", MetricsPort)
	v.SetDefault("metrics.enable_metrics", true)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Interval returns the monitor sweep cadence as a time.Duration
func (c *MonitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// FetchTimeout returns the per-request HTTP timeout as a time.Duration
func (c *MonitorConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// RetryDelay returns the messenger retry delay as a time.Duration
func (c *MessengerConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// QueueRefresh returns the delivery worker backlog poll interval
func (c *MessengerConfig) QueueRefresh() time.Duration {
	return time.Duration(c.QueueRefreshSeconds) * time.Second
}

// RoundTimeout returns the default per-round timeout as a time.Duration
func (c *ConsensusConfig) RoundTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// SimulationTimeout returns the execution deadline as a time.Duration
func (c *SimulatorConfig) SimulationTimeout() time.Duration {
	return time.Duration(c.SimulationTimeoutSeconds) * time.Second
}

// RateLimitWindow returns the sliding-window span for run limiting
func (c *SimulatorConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
