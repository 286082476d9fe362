// Package config provides configuration management for Regulens.
// This file centralizes all port constants to avoid duplication and ensure consistency.
package config

// Infrastructure Service Ports
const (
	// PostgresPort is the default port for PostgreSQL.
	PostgresPort = 5432

	// RedisPort is the default port for Redis.
	RedisPort = 6379

	// NATSPort is the default port for NATS messaging.
	NATSPort = 4222

	// VaultPort is the default port for HashiCorp Vault.
	VaultPort = 8200
)

// Metrics Ports
const (
	// MetricsPort is the default Prometheus scrape port for the daemon.
	MetricsPort = 9090
)
