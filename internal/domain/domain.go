// Package domain holds the data model shared by every component of the
// advisory core: users, portfolios, positions, transactions, and the
// chat/compliance records that reference them.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RiskTolerance string

const (
	RiskConservative RiskTolerance = "conservative"
	RiskModerate     RiskTolerance = "moderate"
	RiskAggressive   RiskTolerance = "aggressive"
)

type Objective string

const (
	ObjectiveIncome         Objective = "income"
	ObjectiveGrowth         Objective = "growth"
	ObjectiveWealthBuilding Objective = "wealth_building"
	ObjectiveRetirement     Objective = "retirement"
)

// User is owned externally; the core treats it as read-only.
type User struct {
	ID            string
	Email         string
	RiskTolerance RiskTolerance
	Objective     Objective
	DateOfBirth   time.Time
	Income        decimal.Decimal
	NetWorth      decimal.Decimal
}

type PortfolioType string

const (
	PortfolioTypeTaxable  PortfolioType = "taxable"
	PortfolioTypeIRA      PortfolioType = "ira"
	PortfolioTypeRoth     PortfolioType = "roth_ira"
	PortfolioType401k     PortfolioType = "401k"
)

// Portfolio invariant: TotalValue equals CashBalance + Σ position market
// values within one cent as of the last reconciliation.
type Portfolio struct {
	ID           string
	OwnerID      string
	TotalValue   decimal.Decimal
	CashBalance  decimal.Decimal
	Type         PortfolioType
	IsPrimary    bool
	UpdatedAt    time.Time
}

// Position is the "portfolio asset": unique per (PortfolioID, Symbol).
// Deleted (not zero-quantity-retained) once Quantity reaches zero.
type Position struct {
	PortfolioID  string
	Symbol       string
	Quantity     decimal.Decimal
	AverageCost  decimal.Decimal
	CurrentPrice decimal.Decimal
	Sector       string
	AssetType    string
	UpdatedAt    time.Time
}

// MarketValue returns Quantity × CurrentPrice.
func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

type TransactionStatus string

const (
	// StatusPending is the only non-terminal status; it covers both
	// "not yet submitted to the broker" and "submitted, awaiting fill".
	StatusPending   TransactionStatus = "pending"
	StatusExecuted  TransactionStatus = "executed"
	StatusRejected  TransactionStatus = "rejected"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

// IsTerminal reports whether status admits no further transitions.
func (s TransactionStatus) IsTerminal() bool {
	return s != StatusPending
}

type OrderType string

const (
	OrderMarket    OrderType = "market"
	OrderLimit     OrderType = "limit"
	OrderStop      OrderType = "stop"
	OrderStopLimit OrderType = "stop_limit"
)

type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// Transaction: once Status is terminal the row is immutable except Notes.
type Transaction struct {
	ID              string
	UserID          string
	PortfolioID     string
	Symbol          string
	Type            TransactionType
	Quantity        decimal.Decimal
	Price           decimal.NullDecimal
	TotalAmount     decimal.Decimal
	Status          TransactionStatus
	OrderType       OrderType
	BrokerReference string
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExecutionDate   *time.Time
}

type RegulationSource string

const (
	RegSEC   RegulationSource = "SEC"
	RegFINRA RegulationSource = "FINRA"
	RegIRS   RegulationSource = "IRS"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityWarning  Severity = "warning"
	SeverityMinor    Severity = "minor"
	SeverityAdvisory Severity = "advisory"
)

// ComplianceRule is one entry of a Policy Snapshot (see internal/policy).
type ComplianceRule struct {
	RuleID           string
	RuleName         string
	Description      string
	RegulationSource RegulationSource
	Severity         Severity
	AppliesTo        []string
	EffectiveDate    time.Time
	LastUpdated      time.Time
	Params           map[string]any
}

type CheckType string

const (
	CheckSuitability  CheckType = "suitability"
	CheckConcentration CheckType = "concentration"
	CheckLiquidity    CheckType = "liquidity"
	CheckRegulatory   CheckType = "regulatory"
	CheckRiskLimit    CheckType = "risk_limit"
)

type CheckResult string

const (
	CheckPass    CheckResult = "pass"
	CheckWarning CheckResult = "warning"
	CheckFail    CheckResult = "fail"
)

// ComplianceCheck is the audit row persisted for every evaluator decision.
type ComplianceCheck struct {
	ID                string
	UserID            string
	PortfolioID       string
	TransactionID     string
	RecommendationID  string
	CheckType         CheckType
	RuleName          string
	RuleDescription   string
	CheckResult       CheckResult
	Severity          string
	ViolationDetails  map[string]any
	CheckedAt         time.Time
}

type SessionType string

const (
	SessionAdvisory   SessionType = "advisory"
	SessionExecution  SessionType = "execution"
	SessionCompliance SessionType = "compliance"
	SessionGeneral    SessionType = "general"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionTerminated SessionStatus = "terminated"
)

// ChatSession owns its ChatMessages; deleting a session cascades.
type ChatSession struct {
	ID            string
	UserID        string
	Type          SessionType
	Status        SessionStatus
	StartedAt     time.Time
	EndedAt       *time.Time
	TotalMessages int
	TotalTokens   int
}

type AgentType string

const (
	AgentUser       AgentType = "user"
	AgentAdvisor    AgentType = "advisor"
	AgentCompliance AgentType = "compliance"
	AgentExecution  AgentType = "execution"
	AgentSupervisor AgentType = "supervisor"
)

type MessageType string

const (
	MessageQuery            MessageType = "query"
	MessageResponse         MessageType = "response"
	MessageRecommendation   MessageType = "recommendation"
	MessageApprovalRequest  MessageType = "approval_request"
	MessageSystem           MessageType = "system"
)

type ChatMessage struct {
	ID        string
	SessionID string
	Agent     AgentType
	Type      MessageType
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Recommendation is a denormalized record produced by the supervisor before
// compliance review; referenced by ComplianceCheck rows.
type Recommendation struct {
	ID        string
	UserID    string
	Symbol    string
	Action    TransactionType
	Quantity  decimal.NullDecimal
	Percent   decimal.NullDecimal
	Rationale string
	CreatedAt time.Time
}

type IncidentSeverity string

const (
	IncidentInfo     IncidentSeverity = "info"
	IncidentWarning  IncidentSeverity = "warning"
	IncidentCritical IncidentSeverity = "critical"
)

type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "open"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

// Incident is owned exclusively by the Guard Controller's incident log.
type Incident struct {
	ID         string
	Severity   IncidentSeverity
	Source     string
	Message    string
	Status     IncidentStatus
	OpenedAt   time.Time
	ResolvedAt *time.Time
	Notes      []string
}
