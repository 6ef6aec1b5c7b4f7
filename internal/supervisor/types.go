package supervisor

import (
	"context"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/domain"
	"jax-advisor-core/internal/execution"
	"jax-advisor-core/internal/llm"
	"jax-advisor-core/internal/router"
)

// Router is the subset of internal/router.Router the Supervisor depends on.
type Router interface {
	Classify(ctx context.Context, userMessage, portfolioSummary, clientProfile string) router.Classification
}

// LLM is the subset of internal/llm.Client the Supervisor depends on.
type LLM interface {
	Chat(ctx context.Context, req llm.Request) (string, error)
	ChatStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error)
}

// Execution is the subset of internal/execution.Service the Supervisor
// depends on.
type Execution interface {
	CreatePendingTrade(ctx context.Context, userID string, rec domain.Recommendation) (*execution.CreatePendingTradeResult, error)
	ApproveWorkflow(ctx context.Context, userID string) (*execution.ExecuteResult, error)
}

// SessionLog is the subset of internal/session.Log the Supervisor depends
// on.
type SessionLog interface {
	StartSession(ctx context.Context, userID string, sessionType domain.SessionType) (string, error)
	LogMessage(ctx context.Context, sessionID string, agent domain.AgentType, msgType domain.MessageType, content string, metadata map[string]any, tokens int) bool
	GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)
}

// Store is the subset of internal/store the Supervisor depends on directly
// (portfolio context for prompts and the concentration pre-guard).
type Store interface {
	GetUserPortfolios(ctx context.Context, userID string) ([]domain.Portfolio, error)
	GetPortfolioAssets(ctx context.Context, portfolioID string) ([]domain.Position, error)
	GetPendingTransactions(ctx context.Context, userID string) ([]domain.Transaction, error)
}

// Broker is the subset of internal/broker.Adapter the Supervisor depends on
// to resolve tickers mentioned in a request into live prices.
type Broker interface {
	ResolveSymbol(ctx context.Context, input string) (*string, error)
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ChunkType tags what a Chunk carries.
type ChunkType string

const (
	ChunkContent ChunkType = "content"
	ChunkFinal   ChunkType = "final"
	ChunkError   ChunkType = "error"
)

// Chunk is one piece of a streamed Process response.
type Chunk struct {
	Type    ChunkType
	Content string
	Result  map[string]any
	Err     error
	Message string
}

// Request is one client turn handed to Process.
type Request struct {
	UserMessage   string
	UserID        string
	ClientProfile *domain.User
	SessionID     string
}

func contentChunk(s string) Chunk {
	return Chunk{Type: ChunkContent, Content: s}
}

func errorChunk(err error, message string) Chunk {
	return Chunk{Type: ChunkError, Err: err, Message: message}
}

func finalChunk(result map[string]any) Chunk {
	return Chunk{Type: ChunkFinal, Result: result}
}

func clientProfileSummary(p *domain.User) string {
	if p == nil {
		return ""
	}
	return "risk tolerance: " + string(p.RiskTolerance) + ", objective: " + string(p.Objective)
}

func historySummary(msgs []domain.ChatMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	var b []byte
	for _, m := range msgs {
		b = append(b, []byte(string(m.Agent)+": "+m.Content+"\n")...)
	}
	return string(b)
}
