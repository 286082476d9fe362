package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProductionSecretsSkipsDevelopment(t *testing.T) {
	cfg := getValidConfig()
	cfg.Database.Password = "changeme"

	errs := ValidateProductionSecrets(cfg)
	assert.Empty(t, errs, "development environment should not enforce secret checks")
}

func TestValidateProductionSecretsRejectsPlaceholders(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*Config)
		expected string
	}{
		{
			name: "placeholder database password",
			modify: func(c *Config) {
				c.Database.Password = "changeme"
			},
			expected: "database.password",
		},
		{
			name: "placeholder redis password",
			modify: func(c *Config) {
				c.Redis.Password = "secret"
			},
			expected: "redis.password",
		},
		{
			name: "placeholder telegram token",
			modify: func(c *Config) {
				c.Alerts.TelegramToken = "example"
			},
			expected: "alerts.telegram_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			cfg.App.Environment = "production"
			tt.modify(cfg)

			errs := ValidateProductionSecrets(cfg)
			require.NotEmpty(t, errs)
			assert.Equal(t, tt.expected, errs[0].Field)
		})
	}
}

func TestValidateProductionSecretsAcceptsStrongValues(t *testing.T) {
	cfg := getValidConfig()
	cfg.App.Environment = "production"
	cfg.Database.Password = "vK9$mN2#pQ7@wX4z"
	cfg.Redis.Password = "rT5!bH8&cJ1*dL6y"

	errs := ValidateProductionSecrets(cfg)
	assert.Empty(t, errs)
}

func TestGetVaultConfigFromEnvDisabled(t *testing.T) {
	t.Setenv("VAULT_ENABLED", "false")

	cfg := GetVaultConfigFromEnv()
	assert.False(t, cfg.Enabled)
}

func TestGetVaultConfigFromEnvEnabled(t *testing.T) {
	t.Setenv("VAULT_ENABLED", "true")
	t.Setenv("VAULT_ADDR", "https://vault.internal:8200")
	t.Setenv("VAULT_TOKEN", "s.2jX8aQ")
	t.Setenv("VAULT_AUTH_METHOD", "token")

	cfg := GetVaultConfigFromEnv()
	require.True(t, cfg.Enabled)
	assert.Equal(t, "https://vault.internal:8200", cfg.Address)
	assert.Equal(t, "token", cfg.AuthMethod)
	assert.Equal(t, "secret", cfg.MountPath)
	assert.Equal(t, "regulens/production", cfg.SecretPath)
}

func TestNewVaultClientDisabled(t *testing.T) {
	_, err := NewVaultClient(VaultConfig{Enabled: false})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enabled")
}
