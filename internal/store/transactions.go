package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/compliance"
	"jax-advisor-core/internal/domain"
)

// CreateTransaction inserts tx with an initial status of pending and
// returns its id. A caller-supplied tx.ID is kept; if tx.ID is empty, one
// is assigned here.
func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (string, error) {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO transactions (
			id, user_id, portfolio_id, symbol, transaction_type, quantity, price,
			total_amount, status, order_type, broker_reference, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())`

	_, err := s.db.ExecContext(ctx, q,
		tx.ID, tx.UserID, tx.PortfolioID, tx.Symbol, tx.Type, tx.Quantity, tx.Price,
		tx.TotalAmount, domain.StatusPending, tx.OrderType, tx.BrokerReference, tx.Notes,
	)
	if err != nil {
		return "", wrap("CreateTransaction", err)
	}
	return tx.ID, nil
}

// TransactionFields is the partial-update payload for UpdateTransaction
// and UpdateTransactionByBrokerRef. Status transitions are validated
// against the row's current status before being applied.
type TransactionFields struct {
	Status          *domain.TransactionStatus
	Price           *decimal.NullDecimal
	BrokerReference *string
	Notes           *string
	ExecutionDate   *time.Time
}

// UpdateTransaction applies a partial update to txID, enforcing the
// immutability invariant: once a transaction's status is terminal, every
// field but Notes is rejected with ErrInvalidStateTransition.
func (s *Store) UpdateTransaction(ctx context.Context, txID string, fields TransactionFields) error {
	return s.updateTransaction(ctx, "id = $", txID, fields)
}

// UpdateTransactionByBrokerRef is UpdateTransaction keyed by the broker's
// own order identifier, the form the Execution Service's fill-polling loop
// uses since it does not track internal transaction ids across a broker
// round trip.
func (s *Store) UpdateTransactionByBrokerRef(ctx context.Context, ref string, fields TransactionFields) error {
	return s.updateTransaction(ctx, "broker_reference = $", ref, fields)
}

func (s *Store) updateTransaction(ctx context.Context, keyClause, keyValue string, fields TransactionFields) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("updateTransaction: begin", err)
	}
	defer tx.Rollback()

	var currentStatus domain.TransactionStatus
	selectQ := fmt.Sprintf("SELECT status FROM transactions WHERE %s1 FOR UPDATE", keyClause)
	if err := tx.QueryRowContext(ctx, selectQ, keyValue).Scan(&currentStatus); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return wrap("updateTransaction: select", err)
	}

	onlyNotes := fields.Status == nil && fields.Price == nil && fields.BrokerReference == nil && fields.ExecutionDate == nil
	if currentStatus.IsTerminal() && !onlyNotes {
		return ErrInvalidStateTransition
	}

	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	arg := 1

	if fields.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", arg))
		args = append(args, *fields.Status)
		arg++
	}
	if fields.Price != nil {
		sets = append(sets, fmt.Sprintf("price = $%d", arg))
		args = append(args, fields.Price.Value)
		arg++
	}
	if fields.BrokerReference != nil {
		sets = append(sets, fmt.Sprintf("broker_reference = $%d", arg))
		args = append(args, *fields.BrokerReference)
		arg++
	}
	if fields.ExecutionDate != nil {
		sets = append(sets, fmt.Sprintf("execution_date = $%d", arg))
		args = append(args, *fields.ExecutionDate)
		arg++
	}
	if fields.Notes != nil {
		sets = append(sets, fmt.Sprintf("notes = $%d", arg))
		args = append(args, *fields.Notes)
		arg++
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")

	updateQ := fmt.Sprintf("UPDATE transactions SET %s WHERE %s%d", joinSets(sets), keyClause, arg)
	args = append(args, keyValue)

	if _, err := tx.ExecContext(ctx, updateQ, args...); err != nil {
		return wrap("updateTransaction: update", err)
	}
	return wrap("updateTransaction: commit", tx.Commit())
}

// GetPendingTransactions returns every non-terminal transaction for
// userID, oldest first — the set the Execution Service's recovery path
// resumes polling on restart.
func (s *Store) GetPendingTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	const q = `
		SELECT id, user_id, portfolio_id, symbol, transaction_type, quantity, price,
		       total_amount, status, order_type, broker_reference, notes, created_at, updated_at, execution_date
		FROM transactions WHERE user_id = $1 AND status = $2 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, q, userID, domain.StatusPending)
	if err != nil {
		return nil, wrap("GetPendingTransactions", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// RecentSells implements compliance.WashSaleLookup: every executed SELL of
// symbol in portfolioID since the cutoff, most recent first, left-joined
// against portfolio_assets for the position's current average cost (the
// cost-basis source TAX-001 prefers over the 10%-assumed-loss fallback).
func (s *Store) RecentSells(ctx context.Context, userID, portfolioID, symbol string, since time.Time) ([]compliance.WashSaleSell, error) {
	const q = `
		SELECT t.quantity, t.price, pa.average_cost, t.created_at
		FROM transactions t
		LEFT JOIN portfolio_assets pa ON pa.portfolio_id = t.portfolio_id AND pa.symbol = t.symbol
		WHERE t.user_id = $1 AND t.portfolio_id = $2 AND t.symbol = $3
		  AND t.transaction_type = $4 AND t.status = $5 AND t.created_at >= $6
		ORDER BY t.created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, userID, portfolioID, symbol, domain.TransactionSell, domain.StatusExecuted, since)
	if err != nil {
		return nil, wrap("RecentSells", err)
	}
	defer rows.Close()

	var out []compliance.WashSaleSell
	for rows.Next() {
		var sell compliance.WashSaleSell
		if err := rows.Scan(&sell.Quantity, &sell.Price, &sell.AverageCost, &sell.SoldAt); err != nil {
			return nil, wrap("RecentSells: scan", err)
		}
		out = append(out, sell)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("RecentSells: rows", err)
	}
	return out, nil
}

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.PortfolioID, &t.Symbol, &t.Type, &t.Quantity, &t.Price,
			&t.TotalAmount, &t.Status, &t.OrderType, &t.BrokerReference, &t.Notes,
			&t.CreatedAt, &t.UpdatedAt, &t.ExecutionDate,
		); err != nil {
			return nil, wrap("scanTransactions", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("scanTransactions: rows", err)
	}
	return out, nil
}
