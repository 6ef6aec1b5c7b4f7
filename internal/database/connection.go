package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB with the pool tuning and idle-in-transaction guard §4.5
// requires.
type DB struct {
	*sql.DB
	config *Config
}

// Connect establishes a connection with retry/backoff and configures the
// pool per Config.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var sqlDB *sql.DB
	var err error

	delay := config.RetryDelay
	for attempt := 0; attempt <= config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}

		sqlDB, err = sql.Open("pgx", config.ResolveDSN())
		if err != nil {
			if attempt == config.RetryAttempts {
				return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
			}
			continue
		}

		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

		if err = sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			if attempt == config.RetryAttempts {
				return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
			}
			continue
		}

		if _, err = sqlDB.ExecContext(ctx, fmt.Sprintf(
			"SET idle_in_transaction_session_timeout = '%dms'", config.IdleInTxTimeout.Milliseconds(),
		)); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting idle_in_transaction_session_timeout: %w", err)
		}

		return &DB{DB: sqlDB, config: config}, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
}

// ConnectWithMigrations connects and applies pending migrations before
// returning, the order C13's bootstrap sequence requires.
func ConnectWithMigrations(ctx context.Context, config *Config, migrationsPath string) (*DB, error) {
	db, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db.DB, migrationsPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	return db, nil
}

// HealthCheck is one of the probes the Guard Controller polls.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Stats exposes pool statistics for observability.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// Config returns the configuration the pool was built with.
func (db *DB) Config() *Config {
	return db.config
}
