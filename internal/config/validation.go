package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateMonitor()...)
	errors = append(errors, c.validateMessenger()...)
	errors = append(errors, c.validateConsensus()...)
	errors = append(errors, c.validateSimulator()...)
	errors = append(errors, c.validateAlerts()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: "Environment is required (development, staging, or production)",
		})
	} else {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	if c.App.LogFormat != "" && c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errors = append(errors, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("Invalid log format '%s'. Must be 'json' or 'console'", c.App.LogFormat),
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}

	if c.Database.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: "Database port is required",
		})
	} else if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Database.Port),
		})
	}

	if c.Database.User == "" {
		errors = append(errors, ValidationError{
			Field:   "database.user",
			Message: "Database user is required",
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: fmt.Sprintf("Invalid pool size %d. Must be at least 1", c.Database.PoolSize),
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		})
	}

	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if c.NATS.Enabled && c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required when NATS is enabled",
		})
	}

	return errors
}

func (c *Config) validateMonitor() ValidationErrors {
	var errors ValidationErrors

	if c.Monitor.IntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.interval_seconds",
			Message: fmt.Sprintf("Invalid sweep interval %d. Must be at least 1 second", c.Monitor.IntervalSeconds),
		})
	}

	if c.Monitor.MaxConsecutiveFailures < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.max_consecutive_failures",
			Message: "Failure ceiling must be at least 1",
		})
	}

	if c.Monitor.FetchTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.fetch_timeout_seconds",
			Message: "Fetch timeout must be at least 1 second",
		})
	}

	if c.Monitor.RequestsPerMinute < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.requests_per_minute",
			Message: "Per-host request pacing must allow at least 1 request per minute",
		})
	}

	return errors
}

func (c *Config) validateMessenger() ValidationErrors {
	var errors ValidationErrors

	if c.Messenger.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "messenger.max_retries",
			Message: "Max retries cannot be negative",
		})
	}

	if c.Messenger.RetryDelaySeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "messenger.retry_delay_seconds",
			Message: "Retry delay cannot be negative",
		})
	}

	if c.Messenger.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "messenger.batch_size",
			Message: fmt.Sprintf("Invalid batch size %d. Must be at least 1", c.Messenger.BatchSize),
		})
	}

	if c.Messenger.QueueRefreshSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "messenger.queue_refresh_seconds",
			Message: "Queue refresh interval must be at least 1 second",
		})
	}

	if c.Messenger.QueueCapacity < 1 {
		errors = append(errors, ValidationError{
			Field:   "messenger.queue_capacity",
			Message: "Queue capacity must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateConsensus() ValidationErrors {
	var errors ValidationErrors

	if c.Consensus.DefaultMaxRounds < 1 {
		errors = append(errors, ValidationError{
			Field:   "consensus.default_max_rounds",
			Message: "Default max rounds must be at least 1",
		})
	}

	if c.Consensus.DefaultThreshold < 0 || c.Consensus.DefaultThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "consensus.default_threshold",
			Message: fmt.Sprintf("Invalid threshold %.2f. Must be between 0.0 and 1.0", c.Consensus.DefaultThreshold),
		})
	}

	if c.Consensus.DefaultMinParticipants < 1 {
		errors = append(errors, ValidationError{
			Field:   "consensus.default_min_participants",
			Message: "Minimum participants must be at least 1",
		})
	}

	if c.Consensus.DefaultTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "consensus.default_timeout_seconds",
			Message: "Round timeout must be at least 1 second",
		})
	}

	return errors
}

func (c *Config) validateSimulator() ValidationErrors {
	var errors ValidationErrors

	if c.Simulator.MaxConcurrentSimulations < 1 {
		errors = append(errors, ValidationError{
			Field:   "simulator.max_concurrent_simulations",
			Message: "Max concurrent simulations must be at least 1",
		})
	}

	if c.Simulator.SimulationTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "simulator.simulation_timeout_seconds",
			Message: "Simulation timeout must be at least 1 second",
		})
	}

	if c.Simulator.ResultRetentionDays < 1 {
		errors = append(errors, ValidationError{
			Field:   "simulator.result_retention_days",
			Message: "Result retention must be at least 1 day",
		})
	}

	if c.Simulator.RateLimitRuns < 1 {
		errors = append(errors, ValidationError{
			Field:   "simulator.rate_limit_runs",
			Message: "Rate limit must allow at least 1 run per window",
		})
	}

	if c.Simulator.RateLimitWindowSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "simulator.rate_limit_window_seconds",
			Message: "Rate limit window must be at least 1 second",
		})
	}

	return errors
}

func (c *Config) validateAlerts() ValidationErrors {
	var errors ValidationErrors

	if c.Alerts.TelegramEnabled {
		if c.Alerts.TelegramToken == "" {
			errors = append(errors, ValidationError{
				Field:   "alerts.telegram_token",
				Message: "Telegram bot token is required when Telegram alerts are enabled",
			})
		}
		if len(c.Alerts.TelegramChatIDs) == 0 {
			errors = append(errors, ValidationError{
				Field:   "alerts.telegram_chat_ids",
				Message: "At least one Telegram chat ID is required when Telegram alerts are enabled",
			})
		}
	}

	return errors
}
