package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/database"
	"jax-advisor-core/internal/domain"
)

// Store is the Portfolio Store (C5): a thin façade over Postgres covering
// users (read-only), portfolios, positions, transactions, sessions, and
// audit entries. It implements compliance.WashSaleLookup and
// session.Store for the components built on top of it.
type Store struct {
	db *database.DB
}

// New builds a Store backed by db.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// GetUser returns the user row, or ErrNotFound if no such user exists. The
// user record is owned externally (§4.5); the core only ever reads it.
func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	const q = `
		SELECT id, email, risk_tolerance, investment_objective, date_of_birth, annual_income, net_worth
		FROM users WHERE id = $1`

	var u domain.User
	err := s.db.QueryRowContext(ctx, q, userID).Scan(
		&u.ID, &u.Email, &u.RiskTolerance, &u.Objective, &u.DateOfBirth, &u.Income, &u.NetWorth,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("GetUser", err)
	}
	return &u, nil
}

// GetUserPortfolios returns every portfolio owned by userID, primary first.
func (s *Store) GetUserPortfolios(ctx context.Context, userID string) ([]domain.Portfolio, error) {
	const q = `
		SELECT id, owner_id, total_value, cash_balance, portfolio_type, is_primary, updated_at
		FROM portfolios WHERE owner_id = $1 ORDER BY is_primary DESC, updated_at DESC`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, wrap("GetUserPortfolios", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		var p domain.Portfolio
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.TotalValue, &p.CashBalance, &p.Type, &p.IsPrimary, &p.UpdatedAt); err != nil {
			return nil, wrap("GetUserPortfolios: scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("GetUserPortfolios: rows", err)
	}
	return out, nil
}

// ListPortfoliosDueForSync returns the Portfolio Synchronizer's per-pass
// work list (§4.8 step 1): portfolios with any pending transaction, or
// whose own row hasn't been touched in over an hour. A portfolio that was
// just reconciled and has nothing outstanding is not returned, so a pass
// does not re-walk the whole table every cadence tick.
func (s *Store) ListPortfoliosDueForSync(ctx context.Context) ([]domain.Portfolio, error) {
	const q = `
		SELECT DISTINCT p.id, p.owner_id, p.total_value, p.cash_balance, p.portfolio_type, p.is_primary, p.updated_at
		FROM portfolios p
		LEFT JOIN transactions t ON t.portfolio_id = p.id AND t.status = $1
		WHERE t.id IS NOT NULL OR p.updated_at < now() - interval '1 hour'`

	rows, err := s.db.QueryContext(ctx, q, domain.StatusPending)
	if err != nil {
		return nil, wrap("ListPortfoliosDueForSync", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		var p domain.Portfolio
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.TotalValue, &p.CashBalance, &p.Type, &p.IsPrimary, &p.UpdatedAt); err != nil {
			return nil, wrap("ListPortfoliosDueForSync: scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("ListPortfoliosDueForSync: rows", err)
	}
	return out, nil
}

// GetPortfolioAssets returns every open position in portfolioID.
func (s *Store) GetPortfolioAssets(ctx context.Context, portfolioID string) ([]domain.Position, error) {
	const q = `
		SELECT portfolio_id, symbol, quantity, average_cost, current_price, sector, asset_type, updated_at
		FROM portfolio_assets WHERE portfolio_id = $1 ORDER BY symbol`

	rows, err := s.db.QueryContext(ctx, q, portfolioID)
	if err != nil {
		return nil, wrap("GetPortfolioAssets", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.PortfolioID, &p.Symbol, &p.Quantity, &p.AverageCost, &p.CurrentPrice, &p.Sector, &p.AssetType, &p.UpdatedAt); err != nil {
			return nil, wrap("GetPortfolioAssets: scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("GetPortfolioAssets: rows", err)
	}
	return out, nil
}

// UpsertPosition writes pos, keyed on (portfolio_id, symbol). A position
// whose Quantity resolves to zero is deleted rather than retained at zero
// — the Portfolio Synchronizer relies on this to drop fully-closed
// positions from a reconciliation pass.
func (s *Store) UpsertPosition(ctx context.Context, pos domain.Position) error {
	if pos.Quantity.IsZero() {
		const del = `DELETE FROM portfolio_assets WHERE portfolio_id = $1 AND symbol = $2`
		if _, err := s.db.ExecContext(ctx, del, pos.PortfolioID, pos.Symbol); err != nil {
			return wrap("UpsertPosition: delete", err)
		}
		return nil
	}

	const q = `
		INSERT INTO portfolio_assets (portfolio_id, symbol, quantity, average_cost, current_price, sector, asset_type, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (portfolio_id, symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_cost = EXCLUDED.average_cost,
			current_price = EXCLUDED.current_price,
			sector = EXCLUDED.sector,
			asset_type = EXCLUDED.asset_type,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, q,
		pos.PortfolioID, pos.Symbol, pos.Quantity, pos.AverageCost, pos.CurrentPrice, pos.Sector, pos.AssetType, pos.UpdatedAt,
	)
	if err != nil {
		return wrap("UpsertPosition", err)
	}
	return nil
}

// PortfolioFields is the partial-update payload for UpdatePortfolio: a nil
// field is left untouched.
type PortfolioFields struct {
	TotalValue  *decimal.Decimal
	CashBalance *decimal.Decimal
}

// UpdatePortfolio applies a partial update to portfolioID's totals — the
// only fields the Execution Service and Portfolio Synchronizer ever need
// to touch.
func (s *Store) UpdatePortfolio(ctx context.Context, portfolioID string, fields PortfolioFields) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	arg := 1

	if fields.TotalValue != nil {
		sets = append(sets, fmt.Sprintf("total_value = $%d", arg))
		args = append(args, *fields.TotalValue)
		arg++
	}
	if fields.CashBalance != nil {
		sets = append(sets, fmt.Sprintf("cash_balance = $%d", arg))
		args = append(args, *fields.CashBalance)
		arg++
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")

	q := fmt.Sprintf("UPDATE portfolios SET %s WHERE id = $%d", joinSets(sets), arg)
	args = append(args, portfolioID)

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return wrap("UpdatePortfolio", err)
	}
	return nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}
