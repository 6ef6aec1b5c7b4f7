// Package sync implements the Portfolio Synchronizer (C8): a background
// loop that reconciles every portfolio's recorded positions against the
// broker's account snapshot, on a market-hours-aware schedule, and
// finalizes any transaction left pending by an interrupted Execute call.
//
// Grounded on cmd/trader/market_ingester.go's ticker-driven ingestion
// loop (per-symbol isolated failures logged and skipped, immediate
// startup run, graceful ctx.Done() shutdown), generalized from a fixed
// ingest interval to the market-hours-aware cadence SPEC_FULL.md §4.8
// names, and from per-symbol quote upserts to per-portfolio position
// reconciliation.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/broker"
	"jax-advisor-core/internal/clock"
	"jax-advisor-core/internal/domain"
	"jax-advisor-core/internal/observability"
	"jax-advisor-core/internal/store"
)

// Service runs the reconciliation loop.
type Service struct {
	store    Store
	broker   Broker
	resolver Resolver
	guard    GuardChecker
	clock    clock.Clock

	mu sync.Mutex // held for the duration of one pass; TryLock gives single-flight
	wg sync.WaitGroup
}

// New builds a Service. guard may be nil until the Guard Controller (C12)
// is wired in by cmd/advisor's bootstrap.
func New(store Store, broker Broker, resolver Resolver) *Service {
	return &Service{store: store, broker: broker, resolver: resolver, clock: clock.SystemClock{}}
}

// WithClock overrides the service's notion of "now" (tests).
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

// WithGuard wires in the Guard Controller. A halted override skips the
// pass entirely; Pause does not affect the synchronizer, since resolving
// an already-placed order and repricing existing positions isn't new
// trade entry.
func (s *Service) WithGuard(g GuardChecker) *Service {
	s.guard = g
	return s
}

// Run drives the reconciliation loop until ctx is canceled. It performs
// an immediate pass on startup, then waits nextInterval(now) between
// passes — 5 minutes during market hours, 30 minutes on a weekday
// off-hours, 2 hours on a weekend. Shutdown is graceful: Run does not
// return until any in-flight pass has finished.
func (s *Service) Run(ctx context.Context) {
	s.TriggerSync(ctx)

	for {
		interval := nextInterval(s.clock.Now())
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.wg.Wait()
			return
		case <-timer.C:
			s.TriggerSync(ctx)
		}
	}
}

// TriggerSync runs one pass if no other pass is currently running —
// single-flight, so an externally triggered sync (an admin endpoint, say)
// never overlaps the scheduled loop. It returns immediately if a pass is
// already in flight.
func (s *Service) TriggerSync(ctx context.Context) {
	if !s.mu.TryLock() {
		observability.Info(ctx, "sync_pass_skipped", map[string]any{"reason": "previous pass still running"})
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.mu.Unlock()
		result := s.Sync(ctx)
		observability.Info(ctx, "sync_pass_complete", map[string]any{
			"portfolios_synced": result.PortfoliosSynced,
			"positions_updated": result.PositionsUpdated,
			"pending_resolved":  result.PendingResolved,
			"failures":          len(result.Failures),
		})
	}()
}

// Sync runs one synchronous reconciliation pass over every portfolio. A
// single portfolio's failure is recorded in the result and does not stop
// the rest of the pass.
func (s *Service) Sync(ctx context.Context) PassResult {
	var result PassResult

	if s.guard != nil {
		if err := s.guard.AllowAnyActivity(ctx); err != nil {
			observability.Warn(ctx, "sync_pass_blocked_by_guard", map[string]any{"error": err.Error()})
			result.Failures = append(result.Failures, PortfolioFailure{Err: fmt.Errorf("guard: %w", err)})
			return result
		}
	}

	portfolios, err := s.store.ListPortfoliosDueForSync(ctx)
	if err != nil {
		result.Failures = append(result.Failures, PortfolioFailure{Err: fmt.Errorf("list portfolios: %w", err)})
		return result
	}
	if len(portfolios) == 0 {
		return result
	}

	snapshot, err := s.broker.AccountSnapshot(ctx)
	if err != nil {
		result.Failures = append(result.Failures, PortfolioFailure{Err: fmt.Errorf("account snapshot: %w", err)})
		return result
	}

	for _, portfolio := range portfolios {
		updated, resolved, err := s.syncPortfolio(ctx, portfolio, snapshot)
		if err != nil {
			result.Failures = append(result.Failures, PortfolioFailure{PortfolioID: portfolio.ID, Err: err})
			observability.Warn(ctx, "sync_portfolio_failed", map[string]any{"portfolio_id": portfolio.ID, "error": err.Error()})
			continue
		}
		result.PortfoliosSynced++
		result.PositionsUpdated += updated
		result.PendingResolved += resolved
	}

	return result
}

func (s *Service) syncPortfolio(ctx context.Context, portfolio domain.Portfolio, snapshot *broker.AccountSnapshotResult) (positionsUpdated, pendingResolved int, err error) {
	pendingResolved, err = s.resolvePending(ctx, portfolio)
	if err != nil {
		return 0, pendingResolved, fmt.Errorf("resolve pending: %w", err)
	}

	positionsUpdated, err = s.reconcilePositions(ctx, portfolio, snapshot)
	if err != nil {
		return positionsUpdated, pendingResolved, fmt.Errorf("reconcile positions: %w", err)
	}

	return positionsUpdated, pendingResolved, nil
}

func (s *Service) resolvePending(ctx context.Context, portfolio domain.Portfolio) (int, error) {
	pending, err := s.store.GetPendingTransactions(ctx, portfolio.OwnerID)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, tx := range pending {
		if tx.PortfolioID != portfolio.ID || tx.BrokerReference == "" {
			continue
		}
		result, err := s.resolver.ResolvePending(ctx, tx)
		if err != nil {
			observability.Warn(ctx, "sync_resolve_pending_failed", map[string]any{"transaction_id": tx.ID, "error": err.Error()})
			continue
		}
		if result.Status != domain.StatusPending {
			resolved++
		}
	}
	return resolved, nil
}

func (s *Service) reconcilePositions(ctx context.Context, portfolio domain.Portfolio, snapshot *broker.AccountSnapshotResult) (int, error) {
	existing, err := s.store.GetPortfolioAssets(ctx, portfolio.ID)
	if err != nil {
		return 0, err
	}
	existingBySymbol := make(map[string]domain.Position, len(existing))
	for _, p := range existing {
		existingBySymbol[p.Symbol] = p
	}

	updated := 0
	seen := make(map[string]bool, len(snapshot.Positions))
	for _, ap := range snapshot.Positions {
		seen[ap.Symbol] = true
		prior, had := existingBySymbol[ap.Symbol]
		sector, assetType := "", "equity"
		if had {
			sector, assetType = prior.Sector, prior.AssetType
		}
		pos := domain.Position{
			PortfolioID:  portfolio.ID,
			Symbol:       ap.Symbol,
			Quantity:     ap.Quantity,
			AverageCost:  ap.AverageCost,
			CurrentPrice: ap.CurrentPrice,
			Sector:       sector,
			AssetType:    assetType,
		}
		if !had || !prior.Quantity.Equal(ap.Quantity) || !prior.CurrentPrice.Equal(ap.CurrentPrice) {
			if err := s.store.UpsertPosition(ctx, pos); err != nil {
				return updated, fmt.Errorf("upsert %s: %w", ap.Symbol, err)
			}
			updated++
		}
	}

	// A position the store has but the broker no longer reports is closed.
	for symbol, prior := range existingBySymbol {
		if seen[symbol] {
			continue
		}
		closed := prior
		closed.Quantity = decimal.Zero
		if err := s.store.UpsertPosition(ctx, closed); err != nil {
			return updated, fmt.Errorf("close %s: %w", symbol, err)
		}
		updated++
	}

	totalValue := snapshot.Cash
	for _, ap := range snapshot.Positions {
		totalValue = totalValue.Add(ap.Quantity.Mul(ap.CurrentPrice))
	}
	cash := snapshot.Cash
	if err := s.store.UpdatePortfolio(ctx, portfolio.ID, store.PortfolioFields{TotalValue: &totalValue, CashBalance: &cash}); err != nil {
		return updated, fmt.Errorf("update portfolio totals: %w", err)
	}

	if err := s.store.CreateAuditEntry(ctx, portfolio.OwnerID, "portfolio", portfolio.ID, "alpaca_sync",
		map[string]any{"total_value": portfolio.TotalValue}, map[string]any{"total_value": totalValue}); err != nil {
		observability.Error(ctx, "sync_audit_failed", map[string]any{"portfolio_id": portfolio.ID, "error": err.Error()})
	}

	return updated, nil
}
