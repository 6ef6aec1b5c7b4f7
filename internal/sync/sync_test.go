package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/broker"
	"jax-advisor-core/internal/clock"
	"jax-advisor-core/internal/domain"
	"jax-advisor-core/internal/execution"
	"jax-advisor-core/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	portfolios  []domain.Portfolio
	positions   map[string][]domain.Position // portfolioID -> positions
	pending     map[string][]domain.Transaction // ownerID -> transactions
	updates     []store.PortfolioFields
	audits      int
	listErr     error
	upsertErr   error
}

func (f *fakeStore) ListPortfoliosDueForSync(ctx context.Context) ([]domain.Portfolio, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.portfolios, nil
}

func (f *fakeStore) GetPortfolioAssets(ctx context.Context, portfolioID string) ([]domain.Position, error) {
	return f.positions[portfolioID], nil
}

func (f *fakeStore) UpsertPosition(ctx context.Context, pos domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	existing := f.positions[pos.PortfolioID]
	replaced := false
	for i, p := range existing {
		if p.Symbol == pos.Symbol {
			if pos.Quantity.IsZero() {
				existing = append(existing[:i], existing[i+1:]...)
			} else {
				existing[i] = pos
			}
			replaced = true
			break
		}
	}
	if !replaced && !pos.Quantity.IsZero() {
		existing = append(existing, pos)
	}
	f.positions[pos.PortfolioID] = existing
	return nil
}

func (f *fakeStore) UpdatePortfolio(ctx context.Context, portfolioID string, fields store.PortfolioFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields)
	return nil
}

func (f *fakeStore) GetPendingTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return f.pending[userID], nil
}

func (f *fakeStore) CreateAuditEntry(ctx context.Context, userID, entityType, entityID, action string, oldValues, newValues any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits++
	return nil
}

type fakeBroker struct {
	snapshot *broker.AccountSnapshotResult
	err      error
}

func (f *fakeBroker) AccountSnapshot(ctx context.Context) (*broker.AccountSnapshotResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type fakeResolver struct {
	results map[string]*execution.ExecuteResult
	err     error
	calls   []string
}

func (f *fakeResolver) ResolvePending(ctx context.Context, tx domain.Transaction) (*execution.ExecuteResult, error) {
	f.calls = append(f.calls, tx.ID)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[tx.ID]; ok {
		return r, nil
	}
	return &execution.ExecuteResult{Status: domain.StatusExecuted}, nil
}

func newTestSnapshot() *broker.AccountSnapshotResult {
	return &broker.AccountSnapshotResult{
		Cash: decimal.NewFromInt(1000),
		Positions: []broker.AccountPosition{
			{Symbol: "AAPL", Quantity: decimal.NewFromInt(10), AverageCost: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(110)},
		},
	}
}

func TestSyncUpsertsNewPosition(t *testing.T) {
	st := &fakeStore{
		portfolios: []domain.Portfolio{{ID: "p1", OwnerID: "u1"}},
		positions:  map[string][]domain.Position{},
		pending:    map[string][]domain.Transaction{},
	}
	br := &fakeBroker{snapshot: newTestSnapshot()}
	res := &fakeResolver{}

	svc := New(st, br, res)
	result := svc.Sync(context.Background())

	if result.PortfoliosSynced != 1 {
		t.Fatalf("expected 1 portfolio synced, got %d", result.PortfoliosSynced)
	}
	if result.PositionsUpdated != 1 {
		t.Fatalf("expected 1 position updated, got %d", result.PositionsUpdated)
	}
	if len(st.positions["p1"]) != 1 || st.positions["p1"][0].Symbol != "AAPL" {
		t.Fatalf("expected AAPL position upserted, got %+v", st.positions["p1"])
	}
	if st.audits != 1 {
		t.Fatalf("expected 1 audit entry, got %d", st.audits)
	}
}

func TestSyncClosesPositionNoLongerReportedByBroker(t *testing.T) {
	st := &fakeStore{
		portfolios: []domain.Portfolio{{ID: "p1", OwnerID: "u1"}},
		positions: map[string][]domain.Position{
			"p1": {{PortfolioID: "p1", Symbol: "MSFT", Quantity: decimal.NewFromInt(5), CurrentPrice: decimal.NewFromInt(50)}},
		},
		pending: map[string][]domain.Transaction{},
	}
	br := &fakeBroker{snapshot: newTestSnapshot()} // snapshot has AAPL only, no MSFT
	res := &fakeResolver{}

	svc := New(st, br, res)
	svc.Sync(context.Background())

	for _, p := range st.positions["p1"] {
		if p.Symbol == "MSFT" {
			t.Fatalf("expected MSFT position closed (removed), still present: %+v", p)
		}
	}
}

func TestSyncDoesNotUpdateUnchangedPosition(t *testing.T) {
	st := &fakeStore{
		portfolios: []domain.Portfolio{{ID: "p1", OwnerID: "u1"}},
		positions: map[string][]domain.Position{
			"p1": {{PortfolioID: "p1", Symbol: "AAPL", Quantity: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(110)}},
		},
		pending: map[string][]domain.Transaction{},
	}
	br := &fakeBroker{snapshot: newTestSnapshot()}
	res := &fakeResolver{}

	svc := New(st, br, res)
	result := svc.Sync(context.Background())

	if result.PositionsUpdated != 0 {
		t.Fatalf("expected 0 positions updated when nothing changed, got %d", result.PositionsUpdated)
	}
}

func TestSyncIsolatesPerPortfolioFailure(t *testing.T) {
	st := &fakeStore{
		portfolios: []domain.Portfolio{{ID: "p1", OwnerID: "u1"}, {ID: "p2", OwnerID: "u2"}},
		positions:  map[string][]domain.Position{},
		pending:    map[string][]domain.Transaction{},
		upsertErr:  errors.New("write failed"),
	}
	br := &fakeBroker{snapshot: newTestSnapshot()}
	res := &fakeResolver{}

	svc := New(st, br, res)
	result := svc.Sync(context.Background())

	if result.PortfoliosSynced != 0 {
		t.Fatalf("expected 0 successful portfolios given a write error on every portfolio, got %d", result.PortfoliosSynced)
	}
	if len(result.Failures) != 2 {
		t.Fatalf("expected both portfolios to be recorded as failures, got %d", len(result.Failures))
	}
}

type blockingGuard struct{ err error }

func (g blockingGuard) AllowAnyActivity(ctx context.Context) error { return g.err }

func TestSyncBlockedByGuardSkipsWholePass(t *testing.T) {
	st := &fakeStore{portfolios: []domain.Portfolio{{ID: "p1", OwnerID: "u1"}}, positions: map[string][]domain.Position{}, pending: map[string][]domain.Transaction{}}
	br := &fakeBroker{snapshot: newTestSnapshot()}
	res := &fakeResolver{}

	svc := New(st, br, res).WithGuard(blockingGuard{err: errors.New("halted")})
	result := svc.Sync(context.Background())

	if result.PortfoliosSynced != 0 {
		t.Fatalf("expected a guard-blocked pass to sync no portfolios, got %d", result.PortfoliosSynced)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("expected a single guard failure recorded, got %d", len(result.Failures))
	}
}

func TestSyncAbortsWholePassOnListError(t *testing.T) {
	st := &fakeStore{listErr: errors.New("db down")}
	br := &fakeBroker{snapshot: newTestSnapshot()}
	res := &fakeResolver{}

	svc := New(st, br, res)
	result := svc.Sync(context.Background())

	if len(result.Failures) != 1 {
		t.Fatalf("expected a single pass-level failure, got %d", len(result.Failures))
	}
	if result.PortfoliosSynced != 0 {
		t.Fatalf("expected no portfolios synced on list failure, got %d", result.PortfoliosSynced)
	}
}

func TestSyncResolvesOnlyPendingWithBrokerReference(t *testing.T) {
	st := &fakeStore{
		portfolios: []domain.Portfolio{{ID: "p1", OwnerID: "u1"}},
		positions:  map[string][]domain.Position{},
		pending: map[string][]domain.Transaction{
			"u1": {
				{ID: "tx-submitted", PortfolioID: "p1", BrokerReference: "order-1", Status: domain.StatusPending},
				{ID: "tx-not-yet-submitted", PortfolioID: "p1", BrokerReference: "", Status: domain.StatusPending},
				{ID: "tx-other-portfolio", PortfolioID: "p2", BrokerReference: "order-2", Status: domain.StatusPending},
			},
		},
	}
	br := &fakeBroker{snapshot: newTestSnapshot()}
	res := &fakeResolver{}

	svc := New(st, br, res)
	result := svc.Sync(context.Background())

	if len(res.calls) != 1 || res.calls[0] != "tx-submitted" {
		t.Fatalf("expected only the submitted, same-portfolio transaction to be resolved, got %v", res.calls)
	}
	if result.PendingResolved != 1 {
		t.Fatalf("expected 1 pending resolved, got %d", result.PendingResolved)
	}
}

func TestSyncCountsStillPendingAsUnresolved(t *testing.T) {
	st := &fakeStore{
		portfolios: []domain.Portfolio{{ID: "p1", OwnerID: "u1"}},
		positions:  map[string][]domain.Position{},
		pending: map[string][]domain.Transaction{
			"u1": {{ID: "tx-1", PortfolioID: "p1", BrokerReference: "order-1", Status: domain.StatusPending}},
		},
	}
	br := &fakeBroker{snapshot: newTestSnapshot()}
	res := &fakeResolver{results: map[string]*execution.ExecuteResult{
		"tx-1": {Status: domain.StatusPending},
	}}

	svc := New(st, br, res)
	result := svc.Sync(context.Background())

	if result.PendingResolved != 0 {
		t.Fatalf("expected a still-pending order to not count as resolved, got %d", result.PendingResolved)
	}
}

func TestTriggerSyncSkipsWhilePassInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	st := &fakeStore{portfolios: []domain.Portfolio{{ID: "p1", OwnerID: "u1"}}, positions: map[string][]domain.Position{}, pending: map[string][]domain.Transaction{}}
	br := &blockingBroker{started: started, release: release}
	res := &fakeResolver{}

	svc := New(st, br, res)
	svc.TriggerSync(context.Background())
	<-started

	svc.TriggerSync(context.Background()) // should be a no-op: mu is held

	close(release)
	svc.wg.Wait()
}

type blockingBroker struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBroker) AccountSnapshot(ctx context.Context) (*broker.AccountSnapshotResult, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return &broker.AccountSnapshotResult{}, nil
}

func TestRunStopsGracefullyAfterInFlightPass(t *testing.T) {
	st := &fakeStore{portfolios: []domain.Portfolio{{ID: "p1", OwnerID: "u1"}}, positions: map[string][]domain.Position{}, pending: map[string][]domain.Transaction{}}
	br := &fakeBroker{snapshot: newTestSnapshot()}
	res := &fakeResolver{}

	svc := New(st, br, res).WithClock(clock.FixedClock{T: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after ctx cancellation")
	}
}

func TestIsWeekend(t *testing.T) {
	sat := time.Date(2026, 8, 1, 12, 0, 0, 0, nyLocation) // Saturday
	mon := time.Date(2026, 8, 3, 12, 0, 0, 0, nyLocation) // Monday
	if !isWeekend(sat) {
		t.Fatal("expected Saturday to be a weekend")
	}
	if isWeekend(mon) {
		t.Fatal("expected Monday to not be a weekend")
	}
}

func TestIsMarketHoursBoundaries(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before open", time.Date(2026, 7, 30, 9, 29, 0, 0, nyLocation), false},
		{"at open", time.Date(2026, 7, 30, 9, 30, 0, 0, nyLocation), true},
		{"midday", time.Date(2026, 7, 30, 12, 0, 0, 0, nyLocation), true},
		{"at close", time.Date(2026, 7, 30, 16, 0, 0, 0, nyLocation), false},
		{"after close", time.Date(2026, 7, 30, 16, 1, 0, 0, nyLocation), false},
		{"weekend midday", time.Date(2026, 8, 1, 12, 0, 0, 0, nyLocation), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isMarketHours(c.t); got != c.want {
				t.Errorf("isMarketHours(%v) = %v, want %v", c.t, got, c.want)
			}
		})
	}
}

func TestNextInterval(t *testing.T) {
	marketHours := time.Date(2026, 7, 30, 12, 0, 0, 0, nyLocation)
	if got := nextInterval(marketHours); got != marketHoursInterval {
		t.Errorf("expected market-hours interval, got %v", got)
	}

	weekend := time.Date(2026, 8, 1, 12, 0, 0, 0, nyLocation)
	if got := nextInterval(weekend); got != weekendInterval {
		t.Errorf("expected weekend interval, got %v", got)
	}

	offHours := time.Date(2026, 7, 30, 20, 0, 0, 0, nyLocation)
	if got := nextInterval(offHours); got != weekdayOffHours {
		t.Errorf("expected weekday off-hours interval, got %v", got)
	}
}
