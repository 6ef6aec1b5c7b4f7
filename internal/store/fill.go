package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/domain"
)

// GetTransaction reads a single transaction by id.
func (s *Store) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	const q = `
		SELECT id, user_id, portfolio_id, symbol, transaction_type, quantity, price,
		       total_amount, status, order_type, broker_reference, notes, created_at, updated_at, execution_date
		FROM transactions WHERE id = $1`

	var t domain.Transaction
	err := s.db.QueryRowContext(ctx, q, txID).Scan(
		&t.ID, &t.UserID, &t.PortfolioID, &t.Symbol, &t.Type, &t.Quantity, &t.Price,
		&t.TotalAmount, &t.Status, &t.OrderType, &t.BrokerReference, &t.Notes,
		&t.CreatedAt, &t.UpdatedAt, &t.ExecutionDate,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("GetTransaction", err)
	}
	return &t, nil
}

// ApplyFill applies one executed fill to portfolioID's position in symbol
// and recomputes the portfolio's total_value, in a single database
// transaction — the atomicity SPEC_FULL.md §4.7 requires so a crash
// between the position write and the total_value write never happens.
//
// BUY: existing quantity/avg cost are weighted-averaged with the fill.
// SELL: quantity is reduced; avg cost is unchanged; a quantity that
// resolves to zero (within 1e-9) deletes the position.
func (s *Store) ApplyFill(ctx context.Context, portfolioID, symbol string, side domain.TransactionType, qty, fillPrice decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("ApplyFill: begin", err)
	}
	defer tx.Rollback()

	var existing domain.Position
	var hasExisting bool
	row := tx.QueryRowContext(ctx, `
		SELECT portfolio_id, symbol, quantity, average_cost, current_price, sector, asset_type, updated_at
		FROM portfolio_assets WHERE portfolio_id = $1 AND symbol = $2 FOR UPDATE`, portfolioID, symbol)
	switch err := row.Scan(&existing.PortfolioID, &existing.Symbol, &existing.Quantity, &existing.AverageCost,
		&existing.CurrentPrice, &existing.Sector, &existing.AssetType, &existing.UpdatedAt); err {
	case nil:
		hasExisting = true
	case sql.ErrNoRows:
		hasExisting = false
	default:
		return wrap("ApplyFill: select position", err)
	}

	var newQty, newAvg decimal.Decimal
	switch side {
	case domain.TransactionBuy:
		if hasExisting {
			oldValue := existing.Quantity.Mul(existing.AverageCost)
			fillValue := qty.Mul(fillPrice)
			newQty = existing.Quantity.Add(qty)
			if newQty.IsZero() {
				newAvg = fillPrice
			} else {
				newAvg = oldValue.Add(fillValue).Div(newQty)
			}
		} else {
			newQty = qty
			newAvg = fillPrice
		}
	case domain.TransactionSell:
		if !hasExisting {
			return fmt.Errorf("ApplyFill: sell of %s with no existing position", symbol)
		}
		newQty = existing.Quantity.Sub(qty)
		newAvg = existing.AverageCost
	default:
		return fmt.Errorf("ApplyFill: unknown side %q", side)
	}

	const tolerance = "0.000000001"
	if newQty.Abs().LessThanOrEqual(decimal.RequireFromString(tolerance)) {
		if hasExisting {
			if _, err := tx.ExecContext(ctx, `DELETE FROM portfolio_assets WHERE portfolio_id = $1 AND symbol = $2`, portfolioID, symbol); err != nil {
				return wrap("ApplyFill: delete position", err)
			}
		}
	} else {
		const upsert = `
			INSERT INTO portfolio_assets (portfolio_id, symbol, quantity, average_cost, current_price, sector, asset_type, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (portfolio_id, symbol) DO UPDATE SET
				quantity = EXCLUDED.quantity, average_cost = EXCLUDED.average_cost,
				current_price = EXCLUDED.current_price, updated_at = EXCLUDED.updated_at`
		currentPrice := fillPrice
		sector, assetType := "", "equity"
		if hasExisting {
			currentPrice = existing.CurrentPrice
			sector, assetType = existing.Sector, existing.AssetType
		}
		if _, err := tx.ExecContext(ctx, upsert, portfolioID, symbol, newQty, newAvg, currentPrice, sector, assetType); err != nil {
			return wrap("ApplyFill: upsert position", err)
		}
	}

	var cashBalance decimal.Decimal
	if err := tx.QueryRowContext(ctx, `SELECT cash_balance FROM portfolios WHERE id = $1 FOR UPDATE`, portfolioID).Scan(&cashBalance); err != nil {
		return wrap("ApplyFill: select portfolio", err)
	}

	var positionsValue decimal.Decimal
	rows, err := tx.QueryContext(ctx, `SELECT quantity, current_price FROM portfolio_assets WHERE portfolio_id = $1`, portfolioID)
	if err != nil {
		return wrap("ApplyFill: select positions", err)
	}
	for rows.Next() {
		var q, p decimal.Decimal
		if err := rows.Scan(&q, &p); err != nil {
			rows.Close()
			return wrap("ApplyFill: scan position value", err)
		}
		positionsValue = positionsValue.Add(q.Mul(p))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return wrap("ApplyFill: rows", err)
	}
	rows.Close()

	totalValue := cashBalance.Add(positionsValue)
	if _, err := tx.ExecContext(ctx, `UPDATE portfolios SET total_value = $1, updated_at = now() WHERE id = $2`, totalValue, portfolioID); err != nil {
		return wrap("ApplyFill: update portfolio total", err)
	}

	return wrap("ApplyFill: commit", tx.Commit())
}
