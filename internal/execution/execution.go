// Package execution implements the Execution Service (C7): authoritative
// owner of the transaction state machine. "pending" is the only
// non-terminal status; every other status is terminal and, per the
// store's own immutability invariant, admits no further field changes
// except Notes.
//
// Grounded on the teacher's internal/modules/execution/service.go
// (ExecuteTrade's numbered steps, pollOrderStatus) generalized from a
// single-broker signal-to-order pipeline to a recommendation-to-fill
// pipeline running against the Broker Adapter (C6), Portfolio Store (C5)
// and Compliance Evaluator (C2).
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/broker"
	"jax-advisor-core/internal/clock"
	"jax-advisor-core/internal/compliance"
	"jax-advisor-core/internal/domain"
	"jax-advisor-core/internal/observability"
	"jax-advisor-core/internal/store"
)

// Service wires the Broker Adapter, Portfolio Store and Compliance
// Evaluator into the trade lifecycle: propose, approve, execute.
type Service struct {
	store      Store
	broker     Broker
	compliance ComplianceChecker
	guard      GuardChecker
	clock      clock.Clock
	sleep      func(time.Duration)
}

// New builds a Service. guard may be nil until the Guard Controller (C12)
// is wired in; every gate below then simply allows.
func New(s Store, b Broker, c ComplianceChecker, guard GuardChecker) *Service {
	return &Service{
		store:      s,
		broker:     b,
		compliance: c,
		guard:      guard,
		clock:      clock.SystemClock{},
		sleep:      time.Sleep,
	}
}

// WithClock overrides the service's notion of "now" (tests).
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

// WithSleeper overrides the service's poll-wait function (tests) so a
// fill-polling loop never actually sleeps in a test run.
func (s *Service) WithSleeper(sleep func(time.Duration)) *Service {
	s.sleep = sleep
	return s
}

func (s *Service) checkGuard(ctx context.Context) error {
	if s.guard == nil {
		return nil
	}
	return s.guard.AllowAnyActivity(ctx)
}

// CreatePendingTrade turns a recommendation into a pending transaction
// row, or a rejected one if the Compliance Evaluator declines it.
// SPEC_FULL.md §4.7 step order: resolve symbol, load the primary
// portfolio and its positions, resolve a concrete quantity, run the
// compliance check, persist.
func (s *Service) CreatePendingTrade(ctx context.Context, userID string, rec domain.Recommendation) (*CreatePendingTradeResult, error) {
	if err := s.checkGuard(ctx); err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}
	if eg, ok := s.guard.(interface{ AllowEntry(context.Context) error }); ok {
		if err := eg.AllowEntry(ctx); err != nil {
			return nil, fmt.Errorf("guard: %w", err)
		}
	}

	symbol, err := s.broker.ResolveSymbol(ctx, rec.Symbol)
	if err != nil {
		return nil, fmt.Errorf("resolve symbol: %w", err)
	}
	if symbol == nil {
		return nil, fmt.Errorf("%w: %q", ErrAmbiguousSymbol, rec.Symbol)
	}

	portfolios, err := s.store.GetUserPortfolios(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load portfolios: %w", err)
	}
	portfolio, ok := primaryPortfolio(portfolios)
	if !ok {
		return nil, ErrNoPortfolio
	}

	positions, err := s.store.GetPortfolioAssets(ctx, portfolio.ID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	existing := findPosition(positions, *symbol)
	var held decimal.Decimal
	if existing != nil {
		held = existing.Quantity
	}

	if rec.Action == domain.TransactionSell && existing == nil {
		return nil, fmt.Errorf("%w: %s is not held in portfolio %s", ErrInsufficientHolding, *symbol, portfolio.ID)
	}

	price, priceErr := s.broker.GetPrice(ctx, *symbol)
	if priceErr != nil {
		observability.Warn(ctx, "execution_price_degraded", map[string]any{"symbol": *symbol, "error": priceErr.Error()})
	}

	quantity, err := resolveQuantity(rec, price, portfolio.TotalValue, held)
	if err != nil {
		return nil, err
	}
	if rec.Action == domain.TransactionSell && quantity.GreaterThan(held) {
		return nil, fmt.Errorf("%w: requested %s shares of %s, only %s held", ErrInsufficientHolding, quantity, *symbol, held)
	}

	tradeInput := compliance.TradeInput{
		TradeType:        rec.Action,
		Symbol:           *symbol,
		Quantity:         quantity,
		Price:            price,
		PortfolioValue:   portfolio.TotalValue,
		ClientType:       "individual",
		AccountType:      string(portfolio.Type),
		UserID:           userID,
		PortfolioID:      portfolio.ID,
		RecommendationID: rec.ID,
		ExistingPosition: existing,
	}
	verdict, err := s.compliance.CheckTrade(ctx, tradeInput)
	if err != nil {
		return nil, fmt.Errorf("compliance check: %w", err)
	}

	txRow := domain.Transaction{
		UserID:      userID,
		PortfolioID: portfolio.ID,
		Symbol:      *symbol,
		Type:        rec.Action,
		Quantity:    quantity,
		Price:       decimal.NewNullDecimal(price),
		TotalAmount: quantity.Mul(price),
		OrderType:   domain.OrderMarket,
		Notes:       rec.Rationale,
	}

	txID, err := s.store.CreateTransaction(ctx, txRow)
	if err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	if !verdict.TradeApproved {
		rejected := domain.StatusRejected
		notes := violationSummary(verdict)
		if err := s.store.UpdateTransaction(ctx, txID, store.TransactionFields{Status: &rejected, Notes: &notes}); err != nil {
			return nil, fmt.Errorf("persist rejection: %w", err)
		}
	}

	return &CreatePendingTradeResult{TransactionID: txID, Verdict: verdict}, nil
}

// Execute submits transactionID's order to the broker and drives it to a
// terminal state, applying the fill to the portfolio on success.
func (s *Service) Execute(ctx context.Context, transactionID string) (*ExecuteResult, error) {
	if err := s.checkGuard(ctx); err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}

	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if tx.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidStateTransition, transactionID, tx.Status)
	}

	side := broker.SideBuy
	if tx.Type == domain.TransactionSell {
		side = broker.SideSell
	}

	placed, err := s.broker.PlaceOrder(ctx, broker.PlaceOrderRequest{
		Symbol:      tx.Symbol,
		Side:        side,
		Quantity:    tx.Quantity,
		OrderType:   broker.OrderMarket,
		TimeInForce: broker.TIFDay,
	})
	if err != nil {
		return s.failTransaction(ctx, tx, fmt.Sprintf("order placement failed: %v", err))
	}

	ref := placed.OrderID
	if err := s.store.UpdateTransaction(ctx, transactionID, store.TransactionFields{BrokerReference: &ref}); err != nil {
		return nil, fmt.Errorf("persist broker reference: %w", err)
	}

	status, err := s.pollOrderStatus(ctx, placed.OrderID)
	if err != nil {
		return s.failTransaction(ctx, tx, fmt.Sprintf("order status polling failed: %v", err))
	}

	switch status.Status {
	case broker.StatusFilled:
		return s.applyFilledOrder(ctx, tx, status)
	case broker.StatusCanceled, broker.StatusRejected:
		cancelled := domain.StatusCancelled
		notes := fmt.Sprintf("broker reported %s", status.Status)
		if err := s.store.UpdateTransaction(ctx, transactionID, store.TransactionFields{Status: &cancelled, Notes: &notes}); err != nil {
			return nil, fmt.Errorf("persist cancellation: %w", err)
		}
		s.recordAudit(ctx, tx.UserID, transactionID, "cancelled", tx.Status, domain.StatusCancelled)
		return &ExecuteResult{Status: domain.StatusCancelled, Notes: notes}, nil
	default:
		return s.failTransaction(ctx, tx, fmt.Sprintf("order did not reach a terminal state within the poll budget (last status %s)", status.Status))
	}
}

func (s *Service) applyFilledOrder(ctx context.Context, tx *domain.Transaction, status *broker.OrderStatusResult) (*ExecuteResult, error) {
	fillPrice := decimal.Zero
	if tx.Price.Valid {
		fillPrice = tx.Price.Decimal
	}
	if status.FilledAvgPrice.Valid {
		fillPrice = status.FilledAvgPrice.Decimal
	}
	filledQty := status.FilledQty
	if filledQty.IsZero() {
		filledQty = tx.Quantity
	}

	if err := s.store.ApplyFill(ctx, tx.PortfolioID, tx.Symbol, tx.Type, filledQty, fillPrice); err != nil {
		return nil, fmt.Errorf("apply fill: %w", err)
	}

	executed := domain.StatusExecuted
	now := s.clock.Now().UTC()
	notes := "filled"
	priceField := decimal.NewNullDecimal(fillPrice)
	if err := s.store.UpdateTransaction(ctx, tx.ID, store.TransactionFields{
		Status: &executed, Price: &priceField, ExecutionDate: &now, Notes: &notes,
	}); err != nil {
		return nil, fmt.Errorf("persist execution: %w", err)
	}
	s.recordAudit(ctx, tx.UserID, tx.ID, "executed", tx.Status, domain.StatusExecuted)

	return &ExecuteResult{Status: domain.StatusExecuted, FilledQuantity: filledQty, FillPrice: fillPrice, Notes: notes}, nil
}

func (s *Service) failTransaction(ctx context.Context, tx *domain.Transaction, notes string) (*ExecuteResult, error) {
	failed := domain.StatusFailed
	if err := s.store.UpdateTransaction(ctx, tx.ID, store.TransactionFields{Status: &failed, Notes: &notes}); err != nil {
		return nil, fmt.Errorf("persist failure: %w", err)
	}
	s.recordAudit(ctx, tx.UserID, tx.ID, "failed", tx.Status, domain.StatusFailed)
	return &ExecuteResult{Status: domain.StatusFailed, Notes: notes}, nil
}

// pollOrderStatus polls the broker for orderID's fill state up to the
// adapter's configured poll budget. Mock mode treats the first response
// as authoritative — a single synthetic round trip, never a real wait.
func (s *Service) pollOrderStatus(ctx context.Context, orderID string) (*broker.OrderStatusResult, error) {
	intervalMS, attempts := s.broker.PollInterval()
	budget := pollBudget{interval: time.Duration(intervalMS) * time.Millisecond, attempts: attempts}
	if s.broker.IsMock() {
		budget.attempts = 1
	}

	var last *broker.OrderStatusResult
	for attempt := 0; attempt < budget.attempts; attempt++ {
		status, err := s.broker.GetOrderStatus(ctx, orderID)
		if err != nil {
			return nil, err
		}
		last = status
		if status.Status.IsTerminal() {
			return status, nil
		}
		if attempt < budget.attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				s.sleep(budget.interval)
			}
		}
	}
	return last, nil
}

// ResolvePending re-polls a transaction that was already submitted to the
// broker (BrokerReference set) but never reached a terminal state — the
// crash-recovery path the Portfolio Synchronizer (C8) drives, as opposed
// to Execute's first-submission path.
func (s *Service) ResolvePending(ctx context.Context, tx domain.Transaction) (*ExecuteResult, error) {
	if err := s.checkGuard(ctx); err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}
	if tx.Status != domain.StatusPending || tx.BrokerReference == "" {
		return nil, fmt.Errorf("%w: transaction %s has no outstanding broker order to resolve", store.ErrInvalidStateTransition, tx.ID)
	}

	status, err := s.pollOrderStatus(ctx, tx.BrokerReference)
	if err != nil {
		return s.failTransaction(ctx, &tx, fmt.Sprintf("order status polling failed: %v", err))
	}

	switch status.Status {
	case broker.StatusFilled:
		return s.applyFilledOrder(ctx, &tx, status)
	case broker.StatusCanceled, broker.StatusRejected:
		cancelled := domain.StatusCancelled
		notes := fmt.Sprintf("broker reported %s", status.Status)
		if err := s.store.UpdateTransaction(ctx, tx.ID, store.TransactionFields{Status: &cancelled, Notes: &notes}); err != nil {
			return nil, fmt.Errorf("persist cancellation: %w", err)
		}
		s.recordAudit(ctx, tx.UserID, tx.ID, "cancelled", tx.Status, domain.StatusCancelled)
		return &ExecuteResult{Status: domain.StatusCancelled, Notes: notes}, nil
	default:
		// Still outstanding — leave it pending for the next pass.
		return &ExecuteResult{Status: domain.StatusPending, Notes: fmt.Sprintf("still %s", status.Status)}, nil
	}
}

// CancelPending cancels a still-pending transaction without ever
// submitting it to the broker.
func (s *Service) CancelPending(ctx context.Context, transactionID, reason string) error {
	if err := s.checkGuard(ctx); err != nil {
		return fmt.Errorf("guard: %w", err)
	}
	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if tx.Status != domain.StatusPending {
		return fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidStateTransition, transactionID, tx.Status)
	}
	cancelled := domain.StatusCancelled
	if err := s.store.UpdateTransaction(ctx, transactionID, store.TransactionFields{Status: &cancelled, Notes: &reason}); err != nil {
		return fmt.Errorf("persist cancellation: %w", err)
	}
	s.recordAudit(ctx, tx.UserID, transactionID, "cancelled", tx.Status, domain.StatusCancelled)
	return nil
}

// ApproveWorkflow resolves a user's most recent pending transaction and
// executes it — the fast path a chat "approve" reply drives (C10).
func (s *Service) ApproveWorkflow(ctx context.Context, userID string) (*ExecuteResult, error) {
	if err := s.checkGuard(ctx); err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}
	pending, err := s.store.GetPendingTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil, ErrNoPendingTrade
	}
	latest := pending[0]
	for _, tx := range pending[1:] {
		if tx.CreatedAt.After(latest.CreatedAt) {
			latest = tx
		}
	}
	return s.Execute(ctx, latest.ID)
}

func (s *Service) recordAudit(ctx context.Context, userID, transactionID, action string, from, to domain.TransactionStatus) {
	if err := s.store.CreateAuditEntry(ctx, userID, "transaction", transactionID, action,
		map[string]any{"status": from}, map[string]any{"status": to}); err != nil {
		observability.Error(ctx, "execution_audit_failed", map[string]any{"transaction_id": transactionID, "error": err.Error()})
	}
}

func primaryPortfolio(portfolios []domain.Portfolio) (domain.Portfolio, bool) {
	for _, p := range portfolios {
		if p.IsPrimary {
			return p, true
		}
	}
	if len(portfolios) > 0 {
		return portfolios[0], true
	}
	return domain.Portfolio{}, false
}

func findPosition(positions []domain.Position, symbol string) *domain.Position {
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i]
		}
	}
	return nil
}

// resolveQuantity turns a recommendation's quantity-or-percent into a
// concrete share count. A SELL with neither set is "sell all": resolve
// to the entire held quantity.
func resolveQuantity(rec domain.Recommendation, price, portfolioValue, held decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case rec.Quantity.Valid:
		if rec.Quantity.Decimal.IsZero() || rec.Quantity.Decimal.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: non-positive quantity", ErrInvalidRecommendation)
		}
		return rec.Quantity.Decimal, nil

	case rec.Action == domain.TransactionSell:
		if rec.Percent.Valid {
			return held.Mul(rec.Percent.Decimal).Div(decimal.NewFromInt(100)), nil
		}
		return held, nil

	case rec.Percent.Valid:
		if price.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: price unavailable for a percent-based buy", ErrInvalidRecommendation)
		}
		notional := portfolioValue.Mul(rec.Percent.Decimal).Div(decimal.NewFromInt(100))
		return notional.Div(price), nil

	default:
		return decimal.Zero, fmt.Errorf("%w: neither quantity nor percent set", ErrInvalidRecommendation)
	}
}

func violationSummary(result *compliance.TradeResult) string {
	if len(result.Violations) == 0 {
		return "rejected by compliance review"
	}
	summary := result.Violations[0].Description
	if len(result.Violations) > 1 {
		summary = fmt.Sprintf("%s (+%d more)", summary, len(result.Violations)-1)
	}
	return summary
}
