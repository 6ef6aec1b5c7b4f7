// Package database wires the Postgres connection pool and schema
// migrations every other persistence-facing package in this core builds
// on top of.
package database

import (
	"fmt"
	"time"
)

// Config holds database connection configuration. DSN wins over the
// individual db_host/db_port/... fields when both are set (§6.5).
type Config struct {
	DSN string

	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// IdleInTxTimeout bounds how long a connection may sit idle inside an
	// open transaction before Postgres kills it (§4.5).
	IdleInTxTimeout time.Duration

	HealthCheckInterval time.Duration
	RetryAttempts       int
	RetryDelay          time.Duration
}

// DefaultConfig returns a Config with the pool sizing this core has always
// run with: pool_size ≈ 5, overflow ≈ 10.
func DefaultConfig() *Config {
	return &Config{
		SSLMode:             "require",
		MaxOpenConns:        15,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		ConnMaxIdleTime:     1 * time.Minute,
		IdleInTxTimeout:     30 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		RetryAttempts:       3,
		RetryDelay:          1 * time.Second,
	}
}

// ResolveDSN returns the configured DSN, building one from the individual
// fields when DSN is empty.
func (c *Config) ResolveDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// Validate normalizes zero-valued tuning fields to defaults and rejects a
// configuration with no usable DSN.
func (c *Config) Validate() error {
	if c.ResolveDSN() == "" || (c.DSN == "" && c.Host == "") {
		return ErrInvalidDSN
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 15
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 1 * time.Minute
	}
	if c.IdleInTxTimeout <= 0 {
		c.IdleInTxTimeout = 30 * time.Second
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 1 * time.Second
	}
	return nil
}
