package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/authn"
	"jax-advisor-core/internal/domain"
	"jax-advisor-core/internal/execution"
	"jax-advisor-core/internal/guard"
	"jax-advisor-core/internal/middleware"
	"jax-advisor-core/internal/supervisor"
)

type fakeSupervisor struct {
	chunks []supervisor.Chunk
}

func (f fakeSupervisor) Process(ctx context.Context, req supervisor.Request) <-chan supervisor.Chunk {
	out := make(chan supervisor.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out
}

type fakeStore struct {
	user       *domain.User
	userErr    error
	portfolios []domain.Portfolio
	portErr    error
	positions  []domain.Position
	posErr     error
}

func (f fakeStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return f.user, f.userErr
}

func (f fakeStore) GetUserPortfolios(ctx context.Context, userID string) ([]domain.Portfolio, error) {
	return f.portfolios, f.portErr
}

func (f fakeStore) GetPortfolioAssets(ctx context.Context, portfolioID string) ([]domain.Position, error) {
	return f.positions, f.posErr
}

type fakeExecution struct {
	result *execution.CreatePendingTradeResult
	err    error
}

func (f fakeExecution) CreatePendingTrade(ctx context.Context, userID string, rec domain.Recommendation) (*execution.CreatePendingTradeResult, error) {
	return f.result, f.err
}

type fakeBroker struct {
	price decimal.Decimal
	err   error
}

func (f fakeBroker) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.price, f.err
}

type fakeGuard struct {
	report guard.Report
}

func (f fakeGuard) BuildReport() guard.Report {
	return f.report
}

func testAuthManager(t *testing.T) *authn.Manager {
	t.Helper()
	mgr, err := authn.NewManager(authn.Config{Secret: []byte("test-secret-test-secret"), Expiry: 0, RefreshExpiry: 0, Issuer: "jax-advisor-core-test"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func authedRequest(t *testing.T, mgr *authn.Manager, method, path string, body []byte, userID string) *http.Request {
	t.Helper()
	token, err := mgr.IssueAccessToken(userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHandleHealthReportsOverallStatus(t *testing.T) {
	s := New(nil, nil, middleware.DefaultCORSConfig(), nil, nil, nil, nil, fakeGuard{report: guard.Report{
		ProbeStates: map[string]guard.CheckResult{"database": {Status: guard.StatusOK}},
	}})
	s.RegisterRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	services, _ := body["services"].(map[string]any)
	if services["overall"] != "ok" {
		t.Fatalf("overall = %v, want ok", services["overall"])
	}
}

func TestHandleLoginIssuesToken(t *testing.T) {
	mgr := testAuthManager(t)
	s := New(mgr, nil, middleware.DefaultCORSConfig(), nil, nil, nil, nil, nil)
	s.RegisterRoutes()

	payload, _ := json.Marshal(map[string]string{"email": "jane@example.com", "password": "hunter2"})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(payload)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp authResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" || resp.User.ID == "" {
		t.Fatalf("expected token and user id, got %+v", resp)
	}
}

func TestHandleLoginRejectsMissingCredentials(t *testing.T) {
	mgr := testAuthManager(t)
	s := New(mgr, nil, middleware.DefaultCORSConfig(), nil, nil, nil, nil, nil)
	s.RegisterRoutes()

	payload, _ := json.Marshal(map[string]string{"email": "jane@example.com"})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(payload)))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandleChatStreamsSSEEvents(t *testing.T) {
	mgr := testAuthManager(t)
	sup := fakeSupervisor{chunks: []supervisor.Chunk{
		{Type: supervisor.ChunkContent, Content: "Looking at your portfolio"},
		{Type: supervisor.ChunkFinal, Result: map[string]any{"status": "ok"}},
	}}
	s := New(mgr, nil, middleware.DefaultCORSConfig(), sup, nil, nil, nil, nil)
	s.RegisterRoutes()

	payload, _ := json.Marshal(map[string]string{"query": "how is my portfolio doing?"})
	req := authedRequest(t, mgr, http.MethodPost, "/chat", payload, "user-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "event: message") || !strings.Contains(body, "event: final") {
		t.Fatalf("expected message and final SSE events, got %q", body)
	}
}

func TestHandleChatRequiresAuth(t *testing.T) {
	mgr := testAuthManager(t)
	s := New(mgr, nil, middleware.DefaultCORSConfig(), fakeSupervisor{}, nil, nil, nil, nil)
	s.RegisterRoutes()

	payload, _ := json.Marshal(map[string]string{"query": "hello"})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload)))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandlePortfolioReturnsHoldings(t *testing.T) {
	mgr := testAuthManager(t)
	store := fakeStore{
		portfolios: []domain.Portfolio{{ID: "port-1", IsPrimary: true, TotalValue: decimal.NewFromInt(10000), CashBalance: decimal.NewFromInt(1000)}},
		positions: []domain.Position{
			{PortfolioID: "port-1", Symbol: "AAPL", Quantity: decimal.NewFromInt(10), AverageCost: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(150)},
		},
	}
	s := New(mgr, nil, middleware.DefaultCORSConfig(), nil, store, nil, nil, nil)
	s.RegisterRoutes()

	req := authedRequest(t, mgr, http.MethodGet, "/portfolio", nil, "user-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp portfolioView
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Holdings) != 1 || resp.Holdings[0].Symbol != "AAPL" {
		t.Fatalf("expected one AAPL holding, got %+v", resp.Holdings)
	}
}

func TestHandlePortfolioNotFound(t *testing.T) {
	mgr := testAuthManager(t)
	s := New(mgr, nil, middleware.DefaultCORSConfig(), nil, fakeStore{}, nil, nil, nil)
	s.RegisterRoutes()

	req := authedRequest(t, mgr, http.MethodGet, "/portfolio", nil, "user-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleExecuteRejectsInvalidAction(t *testing.T) {
	mgr := testAuthManager(t)
	s := New(mgr, nil, middleware.DefaultCORSConfig(), nil, nil, fakeExecution{}, nil, nil)
	s.RegisterRoutes()

	payload, _ := json.Marshal(map[string]string{"symbol": "AAPL", "action": "HOLD", "quantity": "5"})
	req := authedRequest(t, mgr, http.MethodPost, "/execute", payload, "user-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleExecuteAcceptsPendingTrade(t *testing.T) {
	mgr := testAuthManager(t)
	exec := fakeExecution{result: &execution.CreatePendingTradeResult{
		TransactionID: "txn-1",
		Verdict:       nil,
	}}
	s := New(mgr, nil, middleware.DefaultCORSConfig(), nil, nil, exec, nil, nil)
	s.RegisterRoutes()

	payload, _ := json.Marshal(map[string]string{"symbol": "AAPL", "action": "BUY", "quantity": "5"})
	req := authedRequest(t, mgr, http.MethodPost, "/execute", payload, "user-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", w.Code, w.Body.String())
	}
}

func TestHandleProfileReturnsUser(t *testing.T) {
	mgr := testAuthManager(t)
	store := fakeStore{user: &domain.User{
		ID: "user-1", Email: "jane@example.com", RiskTolerance: domain.RiskModerate, Objective: domain.ObjectiveGrowth,
		Income: decimal.NewFromInt(90000), NetWorth: decimal.NewFromInt(250000),
	}}
	s := New(mgr, nil, middleware.DefaultCORSConfig(), nil, store, nil, nil, nil)
	s.RegisterRoutes()

	req := authedRequest(t, mgr, http.MethodGet, "/profile", nil, "user-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp profileView
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Email != "jane@example.com" {
		t.Fatalf("email = %q, want jane@example.com", resp.Email)
	}
}

func TestHandleAnalyticsReturnsCompositionSummary(t *testing.T) {
	mgr := testAuthManager(t)
	store := fakeStore{
		portfolios: []domain.Portfolio{{ID: "port-1", IsPrimary: true, TotalValue: decimal.NewFromInt(10000)}},
		positions: []domain.Position{
			{PortfolioID: "port-1", Symbol: "AAPL", Quantity: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(150)},
			{PortfolioID: "port-1", Symbol: "MSFT", Quantity: decimal.NewFromInt(1), CurrentPrice: decimal.NewFromInt(300)},
		},
	}
	s := New(mgr, nil, middleware.DefaultCORSConfig(), nil, store, nil, nil, nil)
	s.RegisterRoutes()

	req := authedRequest(t, mgr, http.MethodGet, "/analytics", nil, "user-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp analyticsView
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TopConcentrate != "AAPL" {
		t.Fatalf("largest position = %q, want AAPL", resp.TopConcentrate)
	}
	if resp.HoldingCount != 2 {
		t.Fatalf("holding count = %d, want 2", resp.HoldingCount)
	}
}
