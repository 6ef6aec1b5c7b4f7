package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/authn"
)

type analyticsView struct {
	PortfolioID    string `json:"portfolio_id"`
	TotalValue     string `json:"total_value"`
	HoldingCount   int    `json:"holding_count"`
	TopConcentrate string `json:"largest_position_symbol,omitempty"`
}

// handleAnalytics reports a minimal snapshot of portfolio composition.
// Performance analytics and attribution beyond what compliance needs are
// explicitly out of scope (SPEC_FULL.md Non-goals); this exists only to
// give clients a composition summary distinct from /portfolio's holdings
// list.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is allowed")
		return
	}
	claims, ok := authn.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	portfolios, err := s.store.GetUserPortfolios(r.Context(), claims.UserID)
	if err != nil || len(portfolios) == 0 {
		writeError(w, http.StatusNotFound, "no_portfolio", "no portfolio found for this user")
		return
	}
	portfolio := portfolios[0]
	for _, p := range portfolios {
		if p.IsPrimary {
			portfolio = p
			break
		}
	}

	positions, err := s.store.GetPortfolioAssets(r.Context(), portfolio.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "portfolio_lookup_failed", "failed to load holdings")
		return
	}

	largestSymbol := ""
	largestValue := decimal.Zero
	for _, pos := range positions {
		mv := pos.MarketValue()
		if mv.GreaterThan(largestValue) {
			largestValue = mv
			largestSymbol = pos.Symbol
		}
	}

	writeJSON(w, http.StatusOK, analyticsView{
		PortfolioID:    portfolio.ID,
		TotalValue:     portfolio.TotalValue.String(),
		HoldingCount:   len(positions),
		TopConcentrate: largestSymbol,
	})
}
