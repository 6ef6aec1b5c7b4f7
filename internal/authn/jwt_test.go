package authn

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{Secret: []byte("test-secret"), Expiry: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	m := testManager(t)
	token, err := m.IssueAccessToken("user-1", "a@example.com")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@example.com" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Fatal("expected an error for an empty secret")
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	m := testManager(t)
	token, _ := m.IssueAccessToken("user-1", "a@example.com")
	if _, err := m.Validate(token + "x"); err == nil {
		t.Fatal("expected tampered token to fail validation")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	m, _ := NewManager(Config{Secret: []byte("s"), Expiry: -time.Minute})
	token, _ := m.IssueAccessToken("user-1", "a@example.com")
	if _, err := m.Validate(token); err == nil {
		t.Fatal("expected expired token to fail validation")
	}
}

func TestExtractTokenRequiresBearerPrefix(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc123")
	if _, err := ExtractToken(req); err != ErrInvalidAuthHeader {
		t.Errorf("expected ErrInvalidAuthHeader, got %v", err)
	}
}

func TestExtractTokenMissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := ExtractToken(req); err != ErrMissingToken {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
}

func TestRequireRejectsMissingToken(t *testing.T) {
	m := testManager(t)
	called := false
	h := m.Require(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	if called {
		t.Error("expected the wrapped handler not to run")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("want 401, got %d", rec.Code)
	}
}

func TestRequireInjectsClaimsOnSuccess(t *testing.T) {
	m := testManager(t)
	token, _ := m.IssueAccessToken("user-1", "a@example.com")

	var seenUserID string
	h := m.Require(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserIDFromContext(r.Context())
		seenUserID = id
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h(httptest.NewRecorder(), req)

	if seenUserID != "user-1" {
		t.Errorf("want user-1, got %q", seenUserID)
	}
}
