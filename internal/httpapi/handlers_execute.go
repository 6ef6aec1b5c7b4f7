package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/authn"
	"jax-advisor-core/internal/domain"
)

type executeRequest struct {
	Symbol   string `json:"symbol"`
	Action   string `json:"action"`
	Quantity string `json:"quantity"`
}

type executeResponse struct {
	Status        string   `json:"status"`
	TransactionID string   `json:"transaction_id"`
	Message       string   `json:"message"`
	Violations    []string `json:"violations,omitempty"`
}

// handleExecute submits a recommendation straight to the compliance gate,
// the same path a supervisor-driven approval takes (SPEC_FULL.md §4.7),
// for clients that already know what they want to trade.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is allowed")
		return
	}
	claims, ok := authn.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Symbol == "" || req.Action == "" || req.Quantity == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "symbol, action, and quantity are required")
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil || quantity.LessThanOrEqual(decimal.Zero) {
		writeError(w, http.StatusBadRequest, "invalid_request", "quantity must be a positive number")
		return
	}
	action := domain.TransactionType(req.Action)
	if action != domain.TransactionBuy && action != domain.TransactionSell {
		writeError(w, http.StatusBadRequest, "invalid_request", "action must be BUY or SELL")
		return
	}

	rec := domain.Recommendation{
		UserID:   claims.UserID,
		Symbol:   req.Symbol,
		Action:   action,
		Quantity: decimal.NewNullDecimal(quantity),
	}
	result, err := s.execution.CreatePendingTrade(r.Context(), claims.UserID, rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "execution_failed", err.Error())
		return
	}

	resp := executeResponse{TransactionID: result.TransactionID}
	if result.Verdict != nil && !result.Verdict.TradeApproved {
		resp.Status = "rejected"
		resp.Message = "trade failed compliance review"
		for _, v := range result.Verdict.Violations {
			resp.Violations = append(resp.Violations, v.RuleID+": "+v.Description)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "pending"
	resp.Message = "trade submitted for approval"
	writeJSON(w, http.StatusAccepted, resp)
}
