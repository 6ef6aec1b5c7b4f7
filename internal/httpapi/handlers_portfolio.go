package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/authn"
)

type holdingView struct {
	Symbol       string `json:"symbol"`
	Quantity     string `json:"quantity"`
	AverageCost  string `json:"average_cost"`
	CurrentPrice string `json:"current_price"`
	MarketValue  string `json:"market_value"`
	Sector       string `json:"sector"`
}

type portfolioView struct {
	PortfolioID       string        `json:"portfolio_id"`
	Type              string        `json:"type"`
	TotalValue        string        `json:"total_value"`
	CashBalance       string        `json:"cash_balance"`
	InvestedValue     string        `json:"invested_value"`
	Holdings          []holdingView `json:"holdings"`
	TaxLossHarvesting []string      `json:"tax_loss_harvesting"`
}

// handlePortfolio reports the caller's primary portfolio, valued with the
// latest broker price when one is available and falling back to the
// position's last reconciled price otherwise. tax_loss_harvesting is
// intentionally a stub field — harvesting algorithms are out of scope
// (SPEC_FULL.md Non-goals).
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
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
	if err != nil {
		writeError(w, http.StatusInternalServerError, "portfolio_lookup_failed", "failed to load portfolios")
		return
	}
	if len(portfolios) == 0 {
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

	invested := decimal.Zero
	holdings := make([]holdingView, 0, len(positions))
	for _, pos := range positions {
		price := pos.CurrentPrice
		if s.broker != nil {
			if live, err := s.broker.GetPrice(r.Context(), pos.Symbol); err == nil {
				price = live
			}
		}
		marketValue := pos.Quantity.Mul(price)
		invested = invested.Add(marketValue)
		holdings = append(holdings, holdingView{
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity.String(),
			AverageCost:  pos.AverageCost.String(),
			CurrentPrice: price.String(),
			MarketValue:  marketValue.String(),
			Sector:       pos.Sector,
		})
	}

	writeJSON(w, http.StatusOK, portfolioView{
		PortfolioID:       portfolio.ID,
		Type:              string(portfolio.Type),
		TotalValue:        portfolio.TotalValue.String(),
		CashBalance:       portfolio.CashBalance.String(),
		InvestedValue:     invested.String(),
		Holdings:          holdings,
		TaxLossHarvesting: []string{},
	})
}
