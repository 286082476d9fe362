//nolint:goconst // Test files use repeated strings for clarity
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getValidConfig returns a valid configuration for testing
func getValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "Regulens",
			Version:     "0.1.0",
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "secure_password",
			Database: "regulens",
			SSLMode:  "disable",
			PoolSize: 10,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Enabled: false,
		},
		Monitor: MonitorConfig{
			IntervalSeconds:        60,
			MaxConsecutiveFailures: 5,
			FetchTimeoutSeconds:    30,
			RequestsPerMinute:      30,
		},
		Messenger: MessengerConfig{
			MaxRetries:          3,
			RetryDelaySeconds:   30,
			BatchSize:           50,
			QueueRefreshSeconds: 5,
			QueueCapacity:       256,
		},
		Consensus: ConsensusConfig{
			DefaultMaxRounds:       3,
			DefaultTimeoutSeconds:  300,
			DefaultThreshold:       0.5,
			DefaultMinParticipants: 2,
		},
		Simulator: SimulatorConfig{
			MaxConcurrentSimulations: 5,
			SimulationTimeoutSeconds: 3600,
			ResultRetentionDays:      90,
			RateLimitRuns:            12,
			RateLimitWindowSeconds:   600,
		},
		Alerts: AlertsConfig{
			TelegramEnabled: false,
		},
		Metrics: MetricsConfig{
			PrometheusPort: 9090,
			EnableMetrics:  true,
		},
	}
}

func TestValidateValidConfig(t *testing.T) {
	cfg := getValidConfig()
	err := cfg.Validate()
	assert.NoError(t, err, "Valid configuration should not produce errors")
}

func TestValidateApp(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "missing app name",
			modify: func(c *Config) {
				c.App.Name = ""
			},
			expectError: "app.name",
		},
		{
			name: "missing environment",
			modify: func(c *Config) {
				c.App.Environment = ""
			},
			expectError: "app.environment",
		},
		{
			name: "invalid environment",
			modify: func(c *Config) {
				c.App.Environment = "invalid_env"
			},
			expectError: "Invalid environment",
		},
		{
			name: "missing log level",
			modify: func(c *Config) {
				c.App.LogLevel = ""
			},
			expectError: "app.log_level",
		},
		{
			name: "invalid log format",
			modify: func(c *Config) {
				c.App.LogFormat = "xml"
			},
			expectError: "app.log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateDatabase(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "missing host",
			modify: func(c *Config) {
				c.Database.Host = ""
			},
			expectError: "database.host",
		},
		{
			name: "missing port",
			modify: func(c *Config) {
				c.Database.Port = 0
			},
			expectError: "database.port",
		},
		{
			name: "port out of range",
			modify: func(c *Config) {
				c.Database.Port = 70000
			},
			expectError: "Invalid port",
		},
		{
			name: "missing user",
			modify: func(c *Config) {
				c.Database.User = ""
			},
			expectError: "database.user",
		},
		{
			name: "missing database name",
			modify: func(c *Config) {
				c.Database.Database = ""
			},
			expectError: "database.database",
		},
		{
			name: "zero pool size",
			modify: func(c *Config) {
				c.Database.PoolSize = 0
			},
			expectError: "database.pool_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateMonitor(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "zero sweep interval",
			modify: func(c *Config) {
				c.Monitor.IntervalSeconds = 0
			},
			expectError: "monitor.interval_seconds",
		},
		{
			name: "zero failure ceiling",
			modify: func(c *Config) {
				c.Monitor.MaxConsecutiveFailures = 0
			},
			expectError: "monitor.max_consecutive_failures",
		},
		{
			name: "zero fetch timeout",
			modify: func(c *Config) {
				c.Monitor.FetchTimeoutSeconds = 0
			},
			expectError: "monitor.fetch_timeout_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateMessenger(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "negative max retries",
			modify: func(c *Config) {
				c.Messenger.MaxRetries = -1
			},
			expectError: "messenger.max_retries",
		},
		{
			name: "zero batch size",
			modify: func(c *Config) {
				c.Messenger.BatchSize = 0
			},
			expectError: "messenger.batch_size",
		},
		{
			name: "zero queue refresh",
			modify: func(c *Config) {
				c.Messenger.QueueRefreshSeconds = 0
			},
			expectError: "messenger.queue_refresh_seconds",
		},
		{
			name: "zero queue capacity",
			modify: func(c *Config) {
				c.Messenger.QueueCapacity = 0
			},
			expectError: "messenger.queue_capacity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateConsensus(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "zero max rounds",
			modify: func(c *Config) {
				c.Consensus.DefaultMaxRounds = 0
			},
			expectError: "consensus.default_max_rounds",
		},
		{
			name: "threshold above one",
			modify: func(c *Config) {
				c.Consensus.DefaultThreshold = 1.5
			},
			expectError: "consensus.default_threshold",
		},
		{
			name: "negative threshold",
			modify: func(c *Config) {
				c.Consensus.DefaultThreshold = -0.1
			},
			expectError: "consensus.default_threshold",
		},
		{
			name: "zero min participants",
			modify: func(c *Config) {
				c.Consensus.DefaultMinParticipants = 0
			},
			expectError: "consensus.default_min_participants",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateSimulator(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "zero concurrency",
			modify: func(c *Config) {
				c.Simulator.MaxConcurrentSimulations = 0
			},
			expectError: "simulator.max_concurrent_simulations",
		},
		{
			name: "zero retention",
			modify: func(c *Config) {
				c.Simulator.ResultRetentionDays = 0
			},
			expectError: "simulator.result_retention_days",
		},
		{
			name: "zero rate limit",
			modify: func(c *Config) {
				c.Simulator.RateLimitRuns = 0
			},
			expectError: "simulator.rate_limit_runs",
		},
		{
			name: "zero rate window",
			modify: func(c *Config) {
				c.Simulator.RateLimitWindowSeconds = 0
			},
			expectError: "simulator.rate_limit_window_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateAlerts(t *testing.T) {
	cfg := getValidConfig()
	cfg.Alerts.TelegramEnabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alerts.telegram_token")
	assert.Contains(t, err.Error(), "alerts.telegram_chat_ids")

	cfg.Alerts.TelegramToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"
	cfg.Alerts.TelegramChatIDs = []int64{1001}
	err = cfg.Validate()
	assert.NoError(t, err)
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a.b", Message: "first"},
		{Field: "c.d", Message: "second"},
	}

	msg := errs.Error()
	assert.Contains(t, msg, "2 error(s)")
	assert.Contains(t, msg, "a.b: first")
	assert.Contains(t, msg, "c.d: second")
}
