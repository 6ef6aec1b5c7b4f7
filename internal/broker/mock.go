package broker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// mockPrices is the fixed table deterministic mock mode quotes from. Any
// symbol not listed resolves to mockDefaultPrice rather than failing, so a
// mock-mode demo never surfaces a missing-price error.
var mockPrices = map[string]decimal.Decimal{
	"AAPL": decimal.RequireFromString("190.00"),
	"MSFT": decimal.RequireFromString("410.00"),
	"NVDA": decimal.RequireFromString("120.00"),
	"GOOGL": decimal.RequireFromString("165.00"),
	"AMZN": decimal.RequireFromString("180.00"),
	"NTNX": decimal.RequireFromString("65.00"),
	"SPY":  decimal.RequireFromString("560.00"),
}

var mockDefaultPrice = decimal.RequireFromString("100.00")

// mockSymbolAliases is the human-label-to-ticker table both mock and live
// mode use for ResolveSymbol — Alpaca's trading API has no symbol-search
// endpoint, so this is a small static table rather than a broker call.
var mockSymbolAliases = map[string]string{
	"apple":     "AAPL",
	"microsoft": "MSFT",
	"nvidia":    "NVDA",
	"google":    "GOOGL",
	"alphabet":  "GOOGL",
	"amazon":    "AMZN",
	"nutanix":   "NTNX",
}

// mockAdapter implements every operation the real Adapter does, entirely
// in-process. Mock mode is explicit per SPEC_FULL.md §4.6: every call
// below is synthetic, never a partial real call with a faked remainder.
type mockAdapter struct {
	clock func() time.Time

	mu     sync.Mutex
	filled map[string]mockFill
}

type mockFill struct {
	qty   decimal.Decimal
	price decimal.Decimal
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{clock: time.Now, filled: make(map[string]mockFill)}
}

func (m *mockAdapter) getQuote(_ context.Context, symbol string) (*Quote, error) {
	price, ok := mockPrices[strings.ToUpper(symbol)]
	if !ok {
		price = mockDefaultPrice
	}
	return &Quote{
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Bid:       price,
		Ask:       price,
		Timestamp: m.clock().UTC(),
		Exchange:  "MOCK",
	}, nil
}

func (m *mockAdapter) placeOrder(_ context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}

	fillPrice, ok := mockPrices[strings.ToUpper(req.Symbol)]
	if !ok {
		fillPrice = mockDefaultPrice
	}
	if req.LimitPrice.Valid {
		fillPrice = req.LimitPrice.Decimal
	}

	orderID := "mock-" + uuid.New().String()
	m.mu.Lock()
	m.filled[orderID] = mockFill{qty: req.Quantity, price: fillPrice}
	m.mu.Unlock()

	return &PlaceOrderResult{
		OrderID:     orderID,
		SubmittedAt: m.clock().UTC(),
		Status:      StatusFilled,
	}, nil
}

func (m *mockAdapter) getOrderStatus(_ context.Context, orderID string) (*OrderStatusResult, error) {
	if !strings.HasPrefix(orderID, "mock-") {
		return nil, ErrOrderNotFound
	}
	m.mu.Lock()
	fill, ok := m.filled[orderID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrOrderNotFound
	}

	now := m.clock().UTC()
	return &OrderStatusResult{
		OrderID:        orderID,
		Status:         StatusFilled,
		FilledQty:      fill.qty,
		FilledAvgPrice: decimal.NewNullDecimal(fill.price),
		SubmittedAt:    now,
		FilledAt:       &now,
	}, nil
}

func (m *mockAdapter) accountSnapshot(_ context.Context) (*AccountSnapshotResult, error) {
	return &AccountSnapshotResult{
		PortfolioValue: decimal.RequireFromString("100000.00"),
		Cash:           decimal.RequireFromString("25000.00"),
		BuyingPower:    decimal.RequireFromString("50000.00"),
	}, nil
}

func (m *mockAdapter) healthCheck(_ context.Context) error {
	return nil
}
