package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/broker"
	"jax-advisor-core/internal/compliance"
	"jax-advisor-core/internal/domain"
	"jax-advisor-core/internal/store"
)

// Store is the subset of internal/store the Execution Service depends on.
// Narrowed to an interface, the same pattern compliance.WashSaleLookup
// uses, so tests can substitute an in-memory fake instead of sqlmock.
type Store interface {
	GetUserPortfolios(ctx context.Context, userID string) ([]domain.Portfolio, error)
	GetPortfolioAssets(ctx context.Context, portfolioID string) ([]domain.Position, error)
	CreateTransaction(ctx context.Context, tx domain.Transaction) (string, error)
	GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, txID string, fields store.TransactionFields) error
	GetPendingTransactions(ctx context.Context, userID string) ([]domain.Transaction, error)
	ApplyFill(ctx context.Context, portfolioID, symbol string, side domain.TransactionType, qty, fillPrice decimal.Decimal) error
	CreateAuditEntry(ctx context.Context, userID, entityType, entityID, action string, oldValues, newValues any) error
}

// Broker is the subset of internal/broker.Adapter the Execution Service
// depends on.
type Broker interface {
	ResolveSymbol(ctx context.Context, input string) (*string, error)
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req broker.PlaceOrderRequest) (*broker.PlaceOrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (*broker.OrderStatusResult, error)
	IsMock() bool
	PollInterval() (intervalMS int, attempts int)
}

// ComplianceChecker is the subset of compliance.Evaluator the Execution
// Service depends on.
type ComplianceChecker interface {
	CheckTrade(ctx context.Context, in compliance.TradeInput) (*compliance.TradeResult, error)
}

// GuardChecker is implemented by the Guard Controller (C12). Every
// Execution Service operation consults it before any broker I/O; nil is
// treated as "always allow", the state before C12 is wired in.
type GuardChecker interface {
	AllowAnyActivity(ctx context.Context) error
}

// CreatePendingTradeResult is CreatePendingTrade's return value.
type CreatePendingTradeResult struct {
	TransactionID string
	Verdict       *compliance.TradeResult
}

// ExecuteResult is Execute's return value.
type ExecuteResult struct {
	Status         domain.TransactionStatus
	FilledQuantity decimal.Decimal
	FillPrice      decimal.Decimal
	Notes          string
}

// pollBudget bounds how long Execute waits for a broker fill.
type pollBudget struct {
	interval time.Duration
	attempts int
}
