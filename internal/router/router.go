// Package router implements the Agent Router (C9): a single LLM-backed
// classification call that decides which sub-agent handles a client turn.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"jax-advisor-core/internal/llm"
	"jax-advisor-core/internal/observability"
)

// Agent is the sub-agent a client turn is routed to.
type Agent string

const (
	AgentPortfolioAnalysis Agent = "portfolio_analysis"
	AgentTradeExecution    Agent = "trade_execution"
	AgentComplianceReview  Agent = "compliance_review"
)

func isKnownAgent(a Agent) bool {
	switch a {
	case AgentPortfolioAnalysis, AgentTradeExecution, AgentComplianceReview:
		return true
	default:
		return false
	}
}

// Classification is Classify's result.
type Classification struct {
	Agent Agent
	Task  string
}

// LLM is the subset of internal/llm.Client the router depends on.
type LLM interface {
	Chat(ctx context.Context, req llm.Request) (string, error)
}

// Router classifies a client turn.
type Router struct {
	client LLM
}

// New builds a Router backed by client.
func New(client LLM) *Router {
	return &Router{client: client}
}

const systemPrompt = `You are the intent router for a brokerage advisory assistant. Classify the user's message into exactly one of these agents:

- "portfolio_analysis": questions about holdings, performance, risk, or ambiguous advisory questions ("should I buy NVDA?", "how is my portfolio doing?").
- "trade_execution": explicit imperatives to buy or sell ("buy 10 NVDA", "sell all SPY", "sell half my AAPL").
- "compliance_review": questions specifically about regulatory rules, suitability, or why a trade was blocked.

Respond with a JSON object: {"agent": "<one of the three values above>", "task": "<one sentence summarizing what the user wants>"}. Respond with nothing else.`

type classifyResponse struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

// Classify asks the LLM to classify userMessage, optionally informed by a
// portfolio summary and client profile. On any parse failure or unknown
// agent value in the LLM's response, it defaults to AgentPortfolioAnalysis
// — a misrouted request degrading to advisory, with no side effects, is
// always a safe failure mode; a misrouted execution is not.
func (r *Router) Classify(ctx context.Context, userMessage, portfolioSummary, clientProfile string) Classification {
	var userContent strings.Builder
	userContent.WriteString(userMessage)
	if portfolioSummary != "" {
		fmt.Fprintf(&userContent, "\n\nPortfolio summary:\n%s", portfolioSummary)
	}
	if clientProfile != "" {
		fmt.Fprintf(&userContent, "\n\nClient profile:\n%s", clientProfile)
	}

	raw, err := r.client.Chat(ctx, llm.Request{
		JSONMode: true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: userContent.String()},
		},
	})
	if err != nil {
		observability.Warn(ctx, "router_classify_llm_failed", map[string]any{"error": err.Error()})
		return Classification{Agent: AgentPortfolioAnalysis, Task: userMessage}
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		observability.Warn(ctx, "router_classify_parse_failed", map[string]any{"error": err.Error(), "raw": raw})
		return Classification{Agent: AgentPortfolioAnalysis, Task: userMessage}
	}

	agent := Agent(parsed.Agent)
	if !isKnownAgent(agent) {
		observability.Warn(ctx, "router_classify_unknown_agent", map[string]any{"agent": parsed.Agent})
		return Classification{Agent: AgentPortfolioAnalysis, Task: userMessage}
	}

	task := parsed.Task
	if task == "" {
		task = userMessage
	}
	return Classification{Agent: agent, Task: task}
}
