// Package broker implements the Broker Adapter (C6): a decimal-based
// façade over Alpaca's trading and market-data APIs (with Polygon as a
// price-only fallback), plus a mandatory deterministic mock mode for
// environments with no broker credentials configured.
package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType mirrors domain.OrderType; kept distinct so this package has no
// import-time dependency on internal/domain.
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

// OrderStatus is the broker's notion of where an order stands.
type OrderStatus string

const (
	StatusPendingNew      OrderStatus = "pending"
	StatusAccepted        OrderStatus = "accepted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether no further status transitions are expected.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// Quote is a real-time (or last-known) price point, decimal end to end —
// the provider SDKs hand back float64; conversion happens once, at this
// package's exported boundary, never downstream.
type Quote struct {
	Symbol    string
	Price     decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume    int64
	Timestamp time.Time
	Exchange  string
}

// PlaceOrderRequest is the normalized order submission.
type PlaceOrderRequest struct {
	Symbol      string
	Side        OrderSide
	Quantity    decimal.Decimal
	OrderType   OrderType
	LimitPrice  decimal.NullDecimal
	StopPrice   decimal.NullDecimal
	TimeInForce TimeInForce
}

// PlaceOrderResult is the broker's acknowledgement of a submitted order.
type PlaceOrderResult struct {
	OrderID     string
	SubmittedAt time.Time
	Status      OrderStatus
}

// OrderStatusResult is a point-in-time read of an order's fill progress.
type OrderStatusResult struct {
	OrderID        string
	Status         OrderStatus
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.NullDecimal
	SubmittedAt    time.Time
	FilledAt       *time.Time
}

// AccountPosition is one broker-reported open position, the reconciliation
// source the Portfolio Synchronizer (C8) upserts against the store.
type AccountPosition struct {
	Symbol       string
	Quantity     decimal.Decimal
	AverageCost  decimal.Decimal
	CurrentPrice decimal.Decimal
}

// AccountSnapshotResult is the broker's view of the account backing a
// portfolio.
type AccountSnapshotResult struct {
	PortfolioValue decimal.Decimal
	Cash           decimal.Decimal
	BuyingPower    decimal.Decimal
	Positions      []AccountPosition
}
