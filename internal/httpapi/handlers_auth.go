package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
)

// authRequest covers both /login ({email,password}) and /signup
// ({firstName,lastName,email,password}) bodies.
type authRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type authUser struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type authResponse struct {
	User  authUser `json:"user"`
	Token string   `json:"token"`
}

// userIDForEmail derives a stable user id from an email address. The core
// treats users as owned externally (§4.5); /login and /signup exist only
// to mint the bearer token C11's other endpoints require, the same
// development-mode shortcut the teacher's own LoginHandler takes — a real
// deployment backs this with an identity provider, not this core.
func userIDForEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "user-" + hex.EncodeToString(sum[:])[:16]
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is allowed")
		return
	}
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}
	s.issueAuthResponse(w, r, req)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is allowed")
		return
	}
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}
	s.issueAuthResponse(w, r, req)
}

func (s *Server) issueAuthResponse(w http.ResponseWriter, r *http.Request, req authRequest) {
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "auth_disabled", "authentication is not configured")
		return
	}
	userID := userIDForEmail(req.Email)

	token, err := s.auth.IssueAccessToken(userID, req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_generation_failed", "failed to issue access token")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		User: authUser{
			ID:        userID,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
		},
		Token: token,
	})
}
