// Package supervisor implements the Advisory Supervisor (C10): the
// orchestrator for a single client turn, from raw chat message to a
// streamed advisor response. It classifies the turn via the Agent Router,
// dispatches to the portfolio-analysis or trade-execution path, and logs
// the full exchange to the Session Log.
//
// Grounded on services/jax-api/internal/app/orchestrator.go's shape: a
// struct of narrow collaborator interfaces, a sequential multi-step
// pipeline with a log call bracketing every step. The orchestrator itself
// is synchronous and returns one result; the Supervisor generalizes that
// idiom into a channel of Chunks so the advisor's narrative can stream to
// the client token-by-token while the pipeline runs.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/domain"
	"jax-advisor-core/internal/execution"
	"jax-advisor-core/internal/llm"
	"jax-advisor-core/internal/observability"
	"jax-advisor-core/internal/router"
	"jax-advisor-core/internal/session"
)

// concentrationLimit is the would-be new_position_pct above which the
// Supervisor refuses a trade outright, without invoking compliance.
const concentrationLimit = 0.5

// historyLimit bounds how many prior messages are replayed into the
// portfolio-analysis prompt.
const historyLimit = 10

// Supervisor is the Advisory Supervisor (C10).
type Supervisor struct {
	router    Router
	llm       LLM
	execution Execution
	session   SessionLog
	store     Store
	broker    Broker
}

// New builds a Supervisor from its collaborators.
func New(r Router, llmClient LLM, exec Execution, sessionLog SessionLog, store Store, broker Broker) *Supervisor {
	return &Supervisor{router: r, llm: llmClient, execution: exec, session: sessionLog, store: store, broker: broker}
}

// Process orchestrates one client turn, returning a channel of Chunks. The
// channel is always closed by Process's goroutine, whether the turn ends
// in a final chunk or an error chunk. Canceling ctx aborts whatever LLM
// call is in flight; any pending transaction already persisted by
// CreatePendingTrade is left as-is, to be approved on a later turn or
// reconciled by a sync pass.
func (s *Supervisor) Process(ctx context.Context, req Request) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		s.run(ctx, req, out)
	}()
	return out
}

func (s *Supervisor) run(ctx context.Context, req Request, out chan<- Chunk) {
	sessionID := req.SessionID
	if sessionID == "" {
		id, err := s.session.StartSession(ctx, req.UserID, session.InferSessionType(req.UserMessage))
		if err != nil {
			out <- errorChunk(err, "could not start a session for this conversation")
			return
		}
		sessionID = id
	}
	s.session.LogMessage(ctx, sessionID, domain.AgentUser, domain.MessageQuery, req.UserMessage, nil, 0)

	if strings.Contains(strings.ToLower(req.UserMessage), "approve") {
		if s.processApproval(ctx, req, sessionID, out) {
			return
		}
		// No pending trade to approve; fall through to normal classification
		// so "approve my last trade" with nothing pending still gets an
		// advisory answer instead of silence.
	}

	portfolio, assets, err := s.loadPortfolio(ctx, req.UserID)
	if err != nil {
		observability.Warn(ctx, "supervisor_portfolio_load_failed", map[string]any{"error": err.Error()})
	}
	portfolioSummary := summarizePortfolio(portfolio, assets)

	classification := s.router.Classify(ctx, req.UserMessage, portfolioSummary, clientProfileSummary(req.ClientProfile))

	var assembled strings.Builder
	var final map[string]any

	switch classification.Agent {
	case router.AgentPortfolioAnalysis:
		final = s.handlePortfolioAnalysis(ctx, req, sessionID, classification, assets, &assembled, out)
	case router.AgentTradeExecution, router.AgentComplianceReview:
		final = s.handleTradeExecution(ctx, req, classification, portfolio, assets, &assembled, out)
	default:
		final = s.handlePortfolioAnalysis(ctx, req, sessionID, classification, assets, &assembled, out)
	}

	if assembled.Len() > 0 {
		s.session.LogMessage(ctx, sessionID, domain.AgentAdvisor, domain.MessageResponse, assembled.String(), final, 0)
	}
	out <- finalChunk(final)
}

// processApproval handles the approval fast-path: if the user has a
// pending trade, executes it and streams a success/rejection narrative
// without re-invoking the router. Returns true if it handled the turn (the
// caller must stop); false if there was nothing pending to approve.
func (s *Supervisor) processApproval(ctx context.Context, req Request, sessionID string, out chan<- Chunk) bool {
	pending, err := s.store.GetPendingTransactions(ctx, req.UserID)
	if err != nil {
		observability.Warn(ctx, "supervisor_pending_lookup_failed", map[string]any{"error": err.Error()})
		return false
	}
	if len(pending) == 0 {
		return false
	}

	result, err := s.execution.ApproveWorkflow(ctx, req.UserID)
	if err != nil {
		out <- contentChunk(fmt.Sprintf("I couldn't execute that trade: %s", err.Error()))
		s.session.LogMessage(ctx, sessionID, domain.AgentAdvisor, domain.MessageResponse, "trade approval failed", nil, 0)
		out <- finalChunk(map[string]any{"approved": false, "error": err.Error()})
		return true
	}

	var narrative string
	switch result.Status {
	case domain.StatusExecuted:
		narrative = fmt.Sprintf("Your order filled: %s shares at $%s.", result.FilledQuantity.String(), result.FillPrice.String())
	case domain.StatusRejected:
		narrative = fmt.Sprintf("Your order was rejected: %s", result.Notes)
	default:
		narrative = fmt.Sprintf("Your order is %s. %s", result.Status, result.Notes)
	}
	out <- contentChunk(narrative)
	s.session.LogMessage(ctx, sessionID, domain.AgentAdvisor, domain.MessageResponse, narrative, nil, 0)
	out <- finalChunk(map[string]any{
		"approved": true,
		"status":   string(result.Status),
	})
	return true
}

func (s *Supervisor) loadPortfolio(ctx context.Context, userID string) (*domain.Portfolio, []domain.Position, error) {
	portfolios, err := s.store.GetUserPortfolios(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	for i := range portfolios {
		if portfolios[i].IsPrimary {
			assets, err := s.store.GetPortfolioAssets(ctx, portfolios[i].ID)
			if err != nil {
				return &portfolios[i], nil, err
			}
			return &portfolios[i], assets, nil
		}
	}
	if len(portfolios) > 0 {
		assets, err := s.store.GetPortfolioAssets(ctx, portfolios[0].ID)
		return &portfolios[0], assets, err
	}
	return nil, nil, nil
}

func summarizePortfolio(p *domain.Portfolio, assets []domain.Position) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Total value: $%s, cash: $%s\n", p.TotalValue.String(), p.CashBalance.String())
	for _, a := range assets {
		fmt.Fprintf(&b, "- %s: %s shares @ $%s (sector: %s)\n", a.Symbol, a.Quantity.String(), a.CurrentPrice.String(), a.Sector)
	}
	return b.String()
}

// handlePortfolioAnalysis streams an LLM narrative answer, optionally
// enriched with a live price for a ticker mentioned in the request, and
// computes derived portfolio metrics for the final chunk.
func (s *Supervisor) handlePortfolioAnalysis(ctx context.Context, req Request, sessionID string, classification router.Classification, assets []domain.Position, assembled *strings.Builder, out chan<- Chunk) map[string]any {
	history, err := s.session.GetHistory(ctx, sessionID, historyLimit)
	if err != nil {
		observability.Warn(ctx, "supervisor_history_load_failed", map[string]any{"error": err.Error()})
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a portfolio advisory assistant. Answer the client's question using the portfolio and conversation context provided."},
	}
	if h := historySummary(history); h != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: "Conversation so far:\n" + h})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: classification.Task})

	if s.broker != nil {
		if resolved, err := s.broker.ResolveSymbol(ctx, req.UserMessage); err == nil && resolved != nil {
			if price, err := s.broker.GetPrice(ctx, *resolved); err == nil {
				messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: fmt.Sprintf("Current price of %s: $%s", *resolved, price.String())})
			}
		}
	}

	s.streamNarrative(ctx, llm.Request{Messages: messages}, assembled, out)

	riskScore, diversificationScore, techAllocation := portfolioMetrics(assets)
	return map[string]any{
		"agent":                 string(classification.Agent),
		"risk_score":            riskScore,
		"diversification_score": diversificationScore,
		"tech_allocation":       techAllocation,
	}
}

// handleTradeExecution streams a narrative analysis of the trade, extracts
// structured trade details via a second LLM call, applies the
// concentration pre-guard, and — if the trade survives it — creates the
// pending transaction via C7 and streams its compliance verdict.
func (s *Supervisor) handleTradeExecution(ctx context.Context, req Request, classification router.Classification, portfolio *domain.Portfolio, assets []domain.Position, assembled *strings.Builder, out chan<- Chunk) map[string]any {
	s.streamNarrative(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a trading assistant. Give a brief narrative analysis of the requested trade before it is submitted for compliance review."},
			{Role: llm.RoleUser, Content: classification.Task},
		},
	}, assembled, out)

	details, err := s.extractTradeDetails(ctx, classification.Task)
	if err != nil {
		out <- contentChunk("I couldn't parse the trade details from that request; could you restate the symbol, side, and quantity?")
		return map[string]any{"agent": string(classification.Agent), "requires_user_approval": false}
	}

	if portfolio == nil {
		out <- contentChunk("You don't have a portfolio on file yet, so I can't submit this trade.")
		return map[string]any{"agent": string(classification.Agent), "requires_user_approval": false}
	}

	if blocked, explanation := concentrationPreGuard(details, portfolio, assets); blocked {
		out <- contentChunk(explanation)
		return map[string]any{
			"agent":                   string(classification.Agent),
			"requires_user_approval":  false,
			"blocked_by_concentration": true,
		}
	}

	rec := domain.Recommendation{
		UserID:    req.UserID,
		Symbol:    details.Symbol,
		Action:    details.Action,
		Quantity:  details.Quantity,
		Percent:   details.Percent,
		Rationale: details.Rationale,
	}
	result, err := s.execution.CreatePendingTrade(ctx, req.UserID, rec)
	if err != nil {
		out <- contentChunk(fmt.Sprintf("I couldn't submit that trade: %s", err.Error()))
		return map[string]any{"agent": string(classification.Agent), "requires_user_approval": false, "error": err.Error()}
	}

	verdict := formatVerdictMarkdown(result)
	out <- contentChunk(verdict)
	fmt.Fprint(assembled, verdict)

	return map[string]any{
		"agent":                  string(classification.Agent),
		"requires_user_approval": true,
		"trade_recommendations": []map[string]any{{
			"transaction_id": result.TransactionID,
			"symbol":         details.Symbol,
			"action":         string(details.Action),
		}},
	}
}

func (s *Supervisor) streamNarrative(ctx context.Context, req llm.Request, assembled *strings.Builder, out chan<- Chunk) {
	stream, err := s.llm.ChatStream(ctx, req)
	if err != nil {
		out <- contentChunk("I'm having trouble reaching the assistant right now; please try again shortly.")
		observability.Warn(ctx, "supervisor_llm_stream_start_failed", map[string]any{"error": err.Error()})
		return
	}
	for chunk := range stream {
		if chunk.Token != "" {
			out <- contentChunk(chunk.Token)
			assembled.WriteString(chunk.Token)
		}
		if chunk.Err != nil {
			observability.Warn(ctx, "supervisor_llm_stream_failed", map[string]any{"error": chunk.Err.Error()})
		}
	}
}

type tradeDetails struct {
	Symbol    string
	Action    domain.TransactionType
	Quantity  decimal.NullDecimal
	Percent   decimal.NullDecimal
	Rationale string
}

type tradeDetailsResponse struct {
	Symbol    string  `json:"symbol"`
	Action    string  `json:"action"`
	Quantity  *string `json:"quantity"`
	Percent   *string `json:"percent"`
	Rationale string  `json:"rationale"`
}

const tradeExtractionPrompt = `Extract the trade the user wants to place. Respond with a JSON object:
{"symbol": "<ticker>", "action": "BUY or SELL", "quantity": "<share count as a string, or null>", "percent": "<percent of position/portfolio as a string, or null>", "rationale": "<one sentence>"}
Respond with nothing else.`

func (s *Supervisor) extractTradeDetails(ctx context.Context, task string) (tradeDetails, error) {
	raw, err := s.llm.Chat(ctx, llm.Request{
		JSONMode: true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: tradeExtractionPrompt},
			{Role: llm.RoleUser, Content: task},
		},
	})
	if err != nil {
		return tradeDetails{}, fmt.Errorf("supervisor: trade extraction: %w", err)
	}

	parsed, err := parseTradeDetailsResponse(raw)
	if err != nil {
		return tradeDetails{}, err
	}
	return parsed, nil
}

func parseTradeDetailsResponse(raw string) (tradeDetails, error) {
	var resp tradeDetailsResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return tradeDetails{}, fmt.Errorf("supervisor: trade extraction: unparseable response: %w", err)
	}
	if resp.Symbol == "" {
		return tradeDetails{}, fmt.Errorf("supervisor: trade extraction: missing symbol")
	}

	action := domain.TransactionBuy
	if strings.EqualFold(resp.Action, string(domain.TransactionSell)) {
		action = domain.TransactionSell
	}

	details := tradeDetails{Symbol: strings.ToUpper(resp.Symbol), Action: action, Rationale: resp.Rationale}
	if resp.Quantity != nil {
		if q, err := decimal.NewFromString(*resp.Quantity); err == nil {
			details.Quantity = decimal.NewNullDecimal(q)
		}
	}
	if resp.Percent != nil {
		if p, err := decimal.NewFromString(*resp.Percent); err == nil {
			details.Percent = decimal.NewNullDecimal(p)
		}
	}
	return details, nil
}

// concentrationPreGuard computes the would-be new_position_pct for a trade
// before compliance ever sees it. A buy that would push the position above
// concentrationLimit of the portfolio, or a sell of an entire holding, is
// refused outright with no compliance audit entry — SPEC_FULL.md treats
// these as too obviously unsuitable to spend a compliance check on.
func concentrationPreGuard(details tradeDetails, portfolio *domain.Portfolio, assets []domain.Position) (bool, string) {
	var held decimal.Decimal
	var price decimal.Decimal
	for _, a := range assets {
		if a.Symbol == details.Symbol {
			held = a.Quantity
			price = a.CurrentPrice
			break
		}
	}

	if details.Action == domain.TransactionSell && details.Quantity.Valid && !held.IsZero() && details.Quantity.Decimal.GreaterThanOrEqual(held) {
		return true, fmt.Sprintf("Selling your entire %s position (%s shares) would close it out completely — I won't submit this without a closer look. Let me know if that's really what you intend and I can route it through a manual review.", details.Symbol, held.String())
	}

	if details.Action != domain.TransactionBuy || portfolio.TotalValue.IsZero() {
		return false, ""
	}

	if details.Percent.Valid {
		pct, _ := details.Percent.Decimal.Float64()
		if pct/100 > concentrationLimit {
			return true, fmt.Sprintf("Putting %s%% of your portfolio into %s is an extreme concentration risk — I won't submit this trade.", details.Percent.Decimal.String(), details.Symbol)
		}
		return false, ""
	}
	if !details.Quantity.Valid || price.IsZero() {
		return false, ""
	}

	tradeValue := details.Quantity.Decimal.Mul(price)
	heldValue := held.Mul(price)
	newPct, _ := heldValue.Add(tradeValue).Div(portfolio.TotalValue).Float64()
	if newPct > concentrationLimit {
		return true, fmt.Sprintf("Buying %s more shares of %s would leave it at roughly %.0f%% of your portfolio — that's an extreme concentration risk, so I won't submit this trade.", details.Quantity.Decimal.String(), details.Symbol, newPct*100)
	}
	return false, ""
}

func formatVerdictMarkdown(result *execution.CreatePendingTradeResult) string {
	if result.Verdict == nil {
		return "**Compliance review:** pending submission."
	}
	if result.Verdict.TradeApproved {
		return "**Compliance review:** approved. Your trade is pending your confirmation."
	}
	var b strings.Builder
	b.WriteString("**Compliance review:** blocked.\n")
	for _, v := range result.Verdict.Violations {
		fmt.Fprintf(&b, "- %s: %s\n", v.RuleID, v.Description)
	}
	return b.String()
}

// portfolioMetrics computes the derived metrics the final chunk reports
// for a portfolio_analysis turn: a risk score (the largest sector's share
// of the portfolio, 0-100, higher is more concentrated), a diversification
// score (0-100, higher is more diversified), and the fraction of the
// portfolio held in technology-sector positions.
func portfolioMetrics(assets []domain.Position) (riskScore, diversificationScore, techAllocation float64) {
	if len(assets) == 0 {
		return 0, 0, 0
	}
	var total decimal.Decimal
	sectorValue := map[string]decimal.Decimal{}
	for _, a := range assets {
		v := a.MarketValue()
		total = total.Add(v)
		sectorValue[a.Sector] = sectorValue[a.Sector].Add(v)
	}
	if total.IsZero() {
		return 0, 0, 0
	}

	var herfindahl float64
	var maxShare float64
	for sector, v := range sectorValue {
		share, _ := v.Div(total).Float64()
		herfindahl += share * share
		if sector == "Technology" || sector == "technology" {
			techAllocation = share
		}
		if share > maxShare {
			maxShare = share
		}
	}

	diversificationScore = (1 - herfindahl) * 100
	riskScore = maxShare * 100
	return riskScore, diversificationScore, techAllocation
}
