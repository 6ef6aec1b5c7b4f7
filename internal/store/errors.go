// Package store implements the Portfolio Store (C5): a thin persistence
// façade over Postgres covering users, portfolios, positions,
// transactions, sessions, and audit entries.
package store

import "errors"

var (
	// ErrNotFound is returned when a lookup by id finds no row.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidStateTransition is returned when a caller attempts to
	// rewrite a transaction already in a terminal status.
	ErrInvalidStateTransition = errors.New("store: invalid state transition")
)

// StoreError wraps a transient database failure (connection, timeout,
// constraint violation not otherwise classified).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
