// Package compliance implements the Compliance Evaluator: rule-driven
// checks run against a trade proposal or an entire portfolio, each
// producing a scored, auditable decision.
package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/clock"
	"jax-advisor-core/internal/domain"
	"jax-advisor-core/internal/observability"
	"jax-advisor-core/internal/policy"
)

// Violation is one rule failure attached to a check result.
type Violation struct {
	RuleID            string
	ViolationType     string
	Severity          domain.Severity
	Description       string
	RecommendedAction string
	AutoCorrectable   bool
	Metadata          map[string]any
}

// TradeInput describes a single proposed trade.
type TradeInput struct {
	TradeType        domain.TransactionType
	Symbol           string
	Quantity         decimal.Decimal
	Price            decimal.Decimal
	PortfolioValue   decimal.Decimal
	ClientType       string // "individual" | "institutional" | "advisor"
	AccountType      string // "taxable" | "ira" | "roth_ira" | "401k"
	UserID           string
	PortfolioID      string
	TransactionID    string
	RecommendationID string
	// ExistingPosition is the last-recorded Position for Symbol, or nil if
	// the account holds none. Concentration is evaluated against this
	// recorded market value rather than a freshly re-priced quote (§9).
	ExistingPosition *domain.Position
}

// TradeResult mirrors the advisory system's trade_approved semantics:
// approved unless a critical or major violation fired.
type TradeResult struct {
	TradeApproved      bool
	Violations         []Violation
	Warnings           []string
	Recommendations    []string
	RequiresDisclosure bool
	ComplianceScore    int
}

// PortfolioAsset is one holding entry for a portfolio-wide check.
type PortfolioAsset struct {
	Symbol     string
	Sector     string
	Allocation decimal.Decimal // percent of portfolio, 0-100
}

// ClientProfile carries the two risk readings portfolio suitability compares.
type ClientProfile struct {
	ClientID      string
	TargetRisk    domain.RiskTolerance
	RiskTolerance domain.RiskTolerance
}

// PortfolioInput describes a full portfolio review.
type PortfolioInput struct {
	Assets         []PortfolioAsset
	PortfolioValue decimal.Decimal
	Client         ClientProfile
}

// PortfolioResult is the outcome of CheckPortfolio.
type PortfolioResult struct {
	OverallCompliant bool
	Violations       []Violation
	Warnings         []string
	Recommendations  []string
	NextReviewDate   time.Time
	ComplianceScore  int
}

// WashSaleSell is one matching SELL transaction found in the lookback
// window for TAX-001 enforcement.
type WashSaleSell struct {
	Quantity    decimal.Decimal
	Price       decimal.NullDecimal
	AverageCost decimal.NullDecimal
	SoldAt      time.Time
}

// WashSaleLookup finds recent same-symbol sells. Implemented by
// internal/store against the transactions/portfolio_assets tables.
type WashSaleLookup interface {
	RecentSells(ctx context.Context, userID, portfolioID, symbol string, since time.Time) ([]WashSaleSell, error)
}

// AuditRecorder receives a compliance_event for every check.
type AuditRecorder interface {
	RecordComplianceEvent(ctx context.Context, eventType, subject string, input, result any, ruleIDs []string, score int)
}

// Evaluator runs compliance checks against the currently loaded policy
// snapshot, re-reading it on every call so a hot-reloaded rule set takes
// effect on the very next check.
type Evaluator struct {
	policy   *policy.Store
	washSale WashSaleLookup
	audit    AuditRecorder
	clock    clock.Clock
}

// New builds an Evaluator. washSale and audit may be nil; without a
// WashSaleLookup, TAX-001 always degrades to the basic warning string, the
// same fallback the Python original used when enhanced detection was
// unavailable.
func New(policyStore *policy.Store, washSale WashSaleLookup, audit AuditRecorder) *Evaluator {
	return &Evaluator{policy: policyStore, washSale: washSale, audit: audit, clock: clock.SystemClock{}}
}

// WithClock overrides the evaluator's notion of now, for deterministic tests.
func (e *Evaluator) WithClock(c clock.Clock) *Evaluator {
	e.clock = c
	return e
}

func (e *Evaluator) rule(id string) (domain.ComplianceRule, bool) {
	snap, err := e.policy.Snapshot()
	if err != nil {
		return domain.ComplianceRule{}, false
	}
	return snap.Rule(id)
}

// CheckTrade runs the checks that gate a single proposed trade:
// concentration, wash sale, pattern day trading, penny stock, and market
// manipulation. Suitability is deliberately not evaluated here — it only
// applies at the portfolio level, via CheckPortfolio.
func (e *Evaluator) CheckTrade(ctx context.Context, in TradeInput) (*TradeResult, error) {
	if _, err := e.policy.Snapshot(); err != nil {
		return nil, err
	}

	tradeValue := in.Quantity.Mul(in.Price)

	var violations []Violation
	var warnings []string

	concV, concW := e.checkPositionConcentration(in.Symbol, tradeValue, in.PortfolioValue, in.ExistingPosition)
	violations = append(violations, concV...)
	warnings = append(warnings, concW...)

	wsV, wsW := e.checkWashSale(ctx, in)
	violations = append(violations, wsV...)
	warnings = append(warnings, wsW...)

	pdtV, pdtW := e.checkPatternDayTrader(in.PortfolioValue, in.ClientType)
	violations = append(violations, pdtV...)
	warnings = append(warnings, pdtW...)

	violations = append(violations, e.checkPennyStock(in.Price)...)
	warnings = append(warnings, checkMarketManipulation(tradeValue, in.PortfolioValue)...)

	score := calculateComplianceScore(violations, warnings)
	result := &TradeResult{
		TradeApproved:      !isBlocking(violations),
		Violations:         violations,
		Warnings:           warnings,
		RequiresDisclosure: len(violations) > 0,
		ComplianceScore:    score,
	}

	if e.audit != nil {
		e.audit.RecordComplianceEvent(ctx, "trade", in.Symbol, tradeAuditInput(in), result, ruleIDs(violations), score)
	}

	observability.Info(ctx, "compliance_trade_checked", map[string]any{
		"symbol":   in.Symbol,
		"approved": result.TradeApproved,
		"score":    score,
	})

	return result, nil
}

// CheckPortfolio runs the checks that apply across a whole portfolio:
// sector concentration and suitability.
func (e *Evaluator) CheckPortfolio(ctx context.Context, in PortfolioInput) (*PortfolioResult, error) {
	if _, err := e.policy.Snapshot(); err != nil {
		return nil, err
	}

	sectorAlloc := map[string]decimal.Decimal{}
	for _, a := range in.Assets {
		sector := a.Sector
		if sector == "" {
			sector = "Unknown"
		}
		frac := a.Allocation.Div(decimal.NewFromInt(100))
		sectorAlloc[sector] = sectorAlloc[sector].Add(frac)
	}

	var violations []Violation
	violations = append(violations, e.checkSectorConcentration(sectorAlloc)...)

	targetRisk := in.Client.TargetRisk
	if targetRisk == "" {
		targetRisk = domain.RiskModerate
	}
	clientRisk := in.Client.RiskTolerance
	if clientRisk == "" {
		clientRisk = domain.RiskModerate
	}
	suitV, suitW := e.checkSuitability(targetRisk, clientRisk)
	violations = append(violations, suitV...)
	warnings := suitW

	score := calculateComplianceScore(violations, warnings)
	result := &PortfolioResult{
		OverallCompliant: !isBlocking(violations),
		Violations:       violations,
		Warnings:         warnings,
		NextReviewDate:   e.clock.Now().UTC(),
		ComplianceScore:  score,
	}

	if e.audit != nil {
		e.audit.RecordComplianceEvent(ctx, "portfolio", in.Client.ClientID, portfolioAuditInput(in), result, ruleIDs(violations), score)
	}

	return result, nil
}

func (e *Evaluator) checkPositionConcentration(symbol string, tradeValue, portfolioValue decimal.Decimal, existing *domain.Position) ([]Violation, []string) {
	rule, ok := e.rule("CONC-001")
	if !ok {
		return nil, nil
	}

	existingValue := decimal.Zero
	if existing != nil {
		existingValue = existing.MarketValue()
	}
	newTotal := existingValue.Add(tradeValue)

	newPct := decimal.Zero
	if portfolioValue.IsPositive() {
		newPct = newTotal.Div(portfolioValue).Mul(decimal.NewFromInt(100))
	}

	const majorLimit = 50
	const warnLimit = 25

	if newPct.GreaterThan(decimal.NewFromInt(majorLimit)) {
		return []Violation{{
			RuleID:        rule.RuleID,
			ViolationType: "concentration_risk",
			Severity:      domain.SeverityMajor,
			Description: fmt.Sprintf(
				"Position would be %s%% of portfolio (exceeds 50%% limit). This violates diversification principles and regulatory suitability standards.",
				newPct.StringFixed(1)),
			RecommendedAction: fmt.Sprintf("Reduce trade size to keep %s under 50%% of portfolio value", symbolOrDefault(symbol)),
			AutoCorrectable:   true,
			Metadata:          map[string]any{"new_position_pct": newPct.InexactFloat64(), "limit": majorLimit},
		}}, nil
	}
	if newPct.GreaterThanOrEqual(decimal.NewFromInt(warnLimit)) {
		return nil, []string{fmt.Sprintf("Large position: %s%% concentration in %s", newPct.StringFixed(1), symbolOrDefault(symbol))}
	}
	return nil, nil
}

func symbolOrDefault(symbol string) string {
	if symbol == "" {
		return "this security"
	}
	return symbol
}

func (e *Evaluator) checkSectorConcentration(sectorAlloc map[string]decimal.Decimal) []Violation {
	rule, ok := e.rule("CONC-002")
	if !ok {
		return nil
	}
	limit := decimal.NewFromFloat(0.40)
	if v, ok := rule.Params["max_sector"]; ok {
		limit = toDecimal(v)
	}

	var violations []Violation
	for sector, alloc := range sectorAlloc {
		if alloc.GreaterThan(limit) {
			violations = append(violations, Violation{
				RuleID:            rule.RuleID,
				ViolationType:     "sector_concentration",
				Severity:          rule.Severity,
				Description:       fmt.Sprintf("Sector '%s' at %s%% exceeds %s%% limit", sector, pct(alloc), pct(limit)),
				RecommendedAction: "Rebalance across sectors",
				Metadata:          map[string]any{"sector": sector, "allocation": alloc.InexactFloat64(), "limit": limit.InexactFloat64()},
			})
		}
	}
	return violations
}

func (e *Evaluator) checkWashSale(ctx context.Context, in TradeInput) ([]Violation, []string) {
	rule, ok := e.rule("TAX-001")
	if !ok {
		return nil, nil
	}
	if in.TradeType != domain.TransactionBuy || in.AccountType != "taxable" {
		return nil, nil
	}

	basicWarning := []string{"Verify no wash sale violation if selling similar security at loss within 30 days"}

	if e.washSale == nil || in.UserID == "" {
		return nil, basicWarning
	}

	since := e.clock.Now().UTC().AddDate(0, 0, -30)
	sells, err := e.washSale.RecentSells(ctx, in.UserID, in.PortfolioID, in.Symbol, since)
	if err != nil {
		observability.Warn(ctx, "wash_sale_lookup_failed", map[string]any{"error": err, "symbol": in.Symbol})
		return nil, basicWarning
	}

	now := e.clock.Now().UTC()
	var violations []Violation
	for _, sell := range sells {
		sellPrice := decimal.Zero
		if sell.Price.Valid {
			sellPrice = sell.Price.Decimal
		}

		costEstimated := false
		averageCost := decimal.Zero
		if sell.AverageCost.Valid {
			averageCost = sell.AverageCost.Decimal
		} else {
			averageCost = sellPrice.Mul(decimal.NewFromFloat(1.1))
			costEstimated = true
		}

		lossPerShare := averageCost.Sub(sellPrice)
		if lossPerShare.IsNegative() {
			lossPerShare = decimal.Zero
		}
		if !lossPerShare.IsPositive() {
			continue
		}

		disallowedQty := decimal.Min(in.Quantity, sell.Quantity)
		disallowedLoss := lossPerShare.Mul(disallowedQty)
		daysAgo := int(now.Sub(sell.SoldAt).Hours() / 24)

		violations = append(violations, Violation{
			RuleID:        rule.RuleID,
			ViolationType: "wash_sale",
			Severity:      domain.SeverityMajor,
			Description: fmt.Sprintf(
				"Wash sale violation: You sold %s at a loss $%s/share %d days ago. Repurchasing now will disallow $%s in tax losses.",
				in.Symbol, lossPerShare.StringFixed(2), daysAgo, disallowedLoss.StringFixed(2)),
			RecommendedAction: fmt.Sprintf("Wait until %s (31 days after sale) or use a tax-advantaged account.",
				sell.SoldAt.AddDate(0, 0, 31).Format("2006-01-02")),
			Metadata: map[string]any{
				"symbol":               in.Symbol,
				"sell_date":            sell.SoldAt.Format("2006-01-02"),
				"days_ago":             daysAgo,
				"sell_price":           sellPrice.InexactFloat64(),
				"average_cost":         averageCost.InexactFloat64(),
				"loss_per_share":       lossPerShare.InexactFloat64(),
				"disallowed_loss":      disallowedLoss.InexactFloat64(),
				"disallowed_quantity":  disallowedQty.InexactFloat64(),
				"cost_basis_estimated": costEstimated,
			},
		})
	}

	if len(violations) > 0 {
		return violations, nil
	}
	return nil, basicWarning
}

func (e *Evaluator) checkPatternDayTrader(equityValue decimal.Decimal, clientType string) ([]Violation, []string) {
	rule, ok := e.rule("TRAD-001")
	if !ok {
		return nil, nil
	}
	minEquity := decimal.NewFromInt(25000)
	if v, ok := rule.Params["min_equity"]; ok {
		minEquity = toDecimal(v)
	}
	if equityValue.LessThan(minEquity) && clientType == "individual" {
		violation := Violation{
			RuleID:            rule.RuleID,
			ViolationType:     "pattern_day_trader",
			Severity:          rule.Severity,
			Description:       "Account under $25K - risk of PDT violations",
			RecommendedAction: "Limit day trades to 3 per rolling 5-day window or raise equity above $25K",
		}
		return []Violation{violation}, []string{"Under $25K equity; limit day trades to 3 per 5 days"}
	}
	return nil, nil
}

func (e *Evaluator) checkPennyStock(price decimal.Decimal) []Violation {
	rule, ok := e.rule("PENNY-001")
	if !ok {
		return nil
	}
	threshold := decimal.NewFromFloat(5.0)
	if v, ok := rule.Params["min_price"]; ok {
		threshold = toDecimal(v)
	}
	if price.LessThan(threshold) {
		return []Violation{{
			RuleID:            rule.RuleID,
			ViolationType:     "penny_stock",
			Severity:          rule.Severity,
			Description:       fmt.Sprintf("Security price $%s below $%s penny-stock threshold", price.StringFixed(2), threshold.StringFixed(2)),
			RecommendedAction: "Ensure heightened disclosure and suitability",
		}}
	}
	return nil
}

func checkMarketManipulation(tradeValue, portfolioValue decimal.Decimal) []string {
	if portfolioValue.IsPositive() && tradeValue.GreaterThan(portfolioValue.Mul(decimal.NewFromFloat(0.5))) {
		return []string{"Large trade size - ensure no market manipulation concerns"}
	}
	return nil
}

var riskRank = map[domain.RiskTolerance]int{
	domain.RiskConservative: 1,
	domain.RiskModerate:     2,
	domain.RiskAggressive:   3,
}

func (e *Evaluator) checkSuitability(recommendationRisk, clientRisk domain.RiskTolerance) ([]Violation, []string) {
	r1, ok1 := e.rule("SUIT-001")
	r2, ok2 := e.rule("SUIT-002")
	r3, ok3 := e.rule("SUIT-003")

	rec, ok := riskRank[recommendationRisk]
	if !ok {
		rec = 2
	}
	cli, ok := riskRank[clientRisk]
	if !ok {
		cli = 2
	}

	var violations []Violation
	var warnings []string

	if ok1 && rec > cli+1 {
		violations = append(violations, Violation{
			RuleID:            r1.RuleID,
			ViolationType:     "suitability",
			Severity:          r1.Severity,
			Description:       fmt.Sprintf("Recommendation risk '%s' exceeds client tolerance '%s'", recommendationRisk, clientRisk),
			RecommendedAction: "Adjust recommendation to match client profile",
		})
	}
	if ok2 {
		warnings = append(warnings, "Confirm aggregated transaction suitability over time (Quantitative Suitability)")
	}
	if ok3 {
		warnings = append(warnings, "Ensure research/analysis supports the recommendation (Reasonable Basis)")
	}
	return violations, warnings
}

var severityPenalty = map[domain.Severity]int{
	domain.SeverityCritical: 40,
	domain.SeverityMajor:    30,
	domain.SeverityWarning:  20,
	domain.SeverityAdvisory: 10,
}

func calculateComplianceScore(violations []Violation, warnings []string) int {
	score := 100
	for _, v := range violations {
		penalty, ok := severityPenalty[v.Severity]
		if !ok {
			penalty = 15
		}
		score -= penalty
	}
	score -= 5 * len(warnings)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func isBlocking(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == domain.SeverityCritical || v.Severity == domain.SeverityMajor {
			return true
		}
	}
	return false
}

func toDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t)
	case int:
		return decimal.NewFromInt(int64(t))
	case string:
		if d, err := decimal.NewFromString(t); err == nil {
			return d
		}
	}
	return decimal.Zero
}

func pct(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(0)
}

func ruleIDs(violations []Violation) []string {
	ids := make([]string, 0, len(violations))
	for _, v := range violations {
		ids = append(ids, v.RuleID)
	}
	return ids
}

func tradeAuditInput(in TradeInput) map[string]any {
	return map[string]any{
		"trade_type":        in.TradeType,
		"quantity":          in.Quantity.InexactFloat64(),
		"price":             in.Price.InexactFloat64(),
		"portfolio_value":   in.PortfolioValue.InexactFloat64(),
		"client_type":       in.ClientType,
		"account_type":      in.AccountType,
		"user_id":           in.UserID,
		"portfolio_id":      in.PortfolioID,
		"transaction_id":    in.TransactionID,
		"recommendation_id": in.RecommendationID,
	}
}

func portfolioAuditInput(in PortfolioInput) map[string]any {
	return map[string]any{
		"assets":          in.Assets,
		"portfolio_value": in.PortfolioValue.InexactFloat64(),
		"client_profile": map[string]any{
			"client_id":      in.Client.ClientID,
			"target_risk":    in.Client.TargetRisk,
			"risk_tolerance": in.Client.RiskTolerance,
		},
	}
}
