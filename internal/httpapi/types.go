package httpapi

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/domain"
	"jax-advisor-core/internal/execution"
	"jax-advisor-core/internal/guard"
	"jax-advisor-core/internal/supervisor"
)

// Supervisor is the subset of internal/supervisor.Supervisor /chat drives.
type Supervisor interface {
	Process(ctx context.Context, req supervisor.Request) <-chan supervisor.Chunk
}

// Store is the subset of internal/store the HTTP layer reads directly for
// /portfolio, /profile, and /analytics.
type Store interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserPortfolios(ctx context.Context, userID string) ([]domain.Portfolio, error)
	GetPortfolioAssets(ctx context.Context, portfolioID string) ([]domain.Position, error)
}

// Execution is the subset of internal/execution.Service /execute drives.
type Execution interface {
	CreatePendingTrade(ctx context.Context, userID string, rec domain.Recommendation) (*execution.CreatePendingTradeResult, error)
}

// Broker is the subset of internal/broker.Adapter /portfolio uses to value
// holdings at the latest price.
type Broker interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// GuardReporter is the subset of internal/guard.Controller /health reports.
type GuardReporter interface {
	BuildReport() guard.Report
}

// AuthManager is the subset of internal/authn.Manager the auth endpoints
// and JWT middleware depend on.
type AuthManager interface {
	IssueAccessToken(userID, email string) (string, error)
	ExpirySeconds() int
	Require(next http.HandlerFunc) http.HandlerFunc
}
