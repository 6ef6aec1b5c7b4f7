package httpapi

import (
	"net/http"

	"jax-advisor-core/internal/authn"
)

type profileView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	RiskTolerance string `json:"risk_tolerance"`
	Objective     string `json:"objective"`
	Income        string `json:"income"`
	NetWorth      string `json:"net_worth"`
}

// handleProfile reports the caller's client profile as the store holds it.
// domain.User is owned externally (§4.5); this is a read path only.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is allowed")
		return
	}
	claims, ok := authn.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	user, err := s.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "profile_not_found", "no profile found for this user")
		return
	}

	writeJSON(w, http.StatusOK, profileView{
		ID:            user.ID,
		Email:         user.Email,
		RiskTolerance: string(user.RiskTolerance),
		Objective:     string(user.Objective),
		Income:        user.Income.String(),
		NetWorth:      user.NetWorth.String(),
	})
}
