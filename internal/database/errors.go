package database

import "errors"

var (
	// ErrInvalidDSN is returned when no usable connection string can be built.
	ErrInvalidDSN = errors.New("invalid or empty DSN")

	// ErrMigrationFailed is returned when schema migrations fail to apply.
	ErrMigrationFailed = errors.New("migration failed")

	// ErrConnectionFailed is returned when connection attempts are exhausted.
	ErrConnectionFailed = errors.New("database connection failed")
)
