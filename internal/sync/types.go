package sync

import (
	"context"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/domain"
	"jax-advisor-core/internal/execution"
	"jax-advisor-core/internal/store"
)

// Store is the subset of internal/store the Portfolio Synchronizer
// depends on.
type Store interface {
	ListPortfoliosDueForSync(ctx context.Context) ([]domain.Portfolio, error)
	GetPortfolioAssets(ctx context.Context, portfolioID string) ([]domain.Position, error)
	UpsertPosition(ctx context.Context, pos domain.Position) error
	UpdatePortfolio(ctx context.Context, portfolioID string, fields store.PortfolioFields) error
	GetPendingTransactions(ctx context.Context, userID string) ([]domain.Transaction, error)
	CreateAuditEntry(ctx context.Context, userID, entityType, entityID, action string, oldValues, newValues any) error
}

// Broker is the subset of internal/broker.Adapter the synchronizer needs.
type Broker interface {
	AccountSnapshot(ctx context.Context) (*broker.AccountSnapshotResult, error)
}

// Resolver is the subset of internal/execution.Service the synchronizer
// uses to finalize transactions submitted in a prior, interrupted pass.
type Resolver interface {
	ResolvePending(ctx context.Context, tx domain.Transaction) (*execution.ExecuteResult, error)
}

// GuardChecker is implemented by the Guard Controller (C12). A halted
// override blocks reconciliation of outstanding fills; nil is treated as
// "always allow", the state before C12 is wired in.
type GuardChecker interface {
	AllowAnyActivity(ctx context.Context) error
}

// PassResult summarizes one synchronization pass.
type PassResult struct {
	PortfoliosSynced int
	PositionsUpdated int
	PendingResolved  int
	Failures         []PortfolioFailure
}

// PortfolioFailure records that one portfolio's sync failed without
// aborting the rest of the pass.
type PortfolioFailure struct {
	PortfolioID string
	Err         error
}
