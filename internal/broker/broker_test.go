package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func mockConfig() Config {
	c := DefaultConfig()
	c.CacheEnabled = false
	return c
}

func TestNewWithoutCredentialsEntersMockMode(t *testing.T) {
	a := New(mockConfig())
	if !a.IsMock() {
		t.Fatal("expected mock mode with no Alpaca credentials")
	}
}

func TestGetPriceMockModeKnownSymbol(t *testing.T) {
	a := New(mockConfig())
	price, err := a.GetPrice(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("190.00")) {
		t.Errorf("expected 190.00, got %s", price)
	}
}

func TestGetPriceMockModeUnknownSymbolUsesDefault(t *testing.T) {
	a := New(mockConfig())
	price, err := a.GetPrice(context.Background(), "ZZZZ")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !price.Equal(mockDefaultPrice) {
		t.Errorf("expected default price, got %s", price)
	}
}

func TestPlaceOrderValidatesLimitPrice(t *testing.T) {
	a := New(mockConfig())
	_, err := a.PlaceOrder(context.Background(), PlaceOrderRequest{
		Symbol:    "AAPL",
		Side:      SideBuy,
		Quantity:  decimal.RequireFromString("10"),
		OrderType: OrderLimit,
	})
	if err == nil {
		t.Fatal("expected ErrInvalidOrder for limit order without limit price")
	}
}

func TestPlaceOrderMockModeFillsImmediately(t *testing.T) {
	a := New(mockConfig())
	result, err := a.PlaceOrder(context.Background(), PlaceOrderRequest{
		Symbol:      "AAPL",
		Side:        SideBuy,
		Quantity:    decimal.RequireFromString("10"),
		OrderType:   OrderMarket,
		TimeInForce: TIFDay,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Status != StatusFilled {
		t.Errorf("expected mock order to fill immediately, got %s", result.Status)
	}

	status, err := a.GetOrderStatus(context.Background(), result.OrderID)
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if !status.Status.IsTerminal() {
		t.Errorf("expected terminal status, got %s", status.Status)
	}
}

func TestResolveSymbolAliasTable(t *testing.T) {
	a := New(mockConfig())
	got, err := a.ResolveSymbol(context.Background(), "Nutanix")
	if err != nil {
		t.Fatalf("ResolveSymbol: %v", err)
	}
	if got == nil || *got != "NTNX" {
		t.Fatalf("expected NTNX, got %v", got)
	}
}

func TestResolveSymbolPassthroughForTickerShape(t *testing.T) {
	a := New(mockConfig())
	got, err := a.ResolveSymbol(context.Background(), "NVDA")
	if err != nil {
		t.Fatalf("ResolveSymbol: %v", err)
	}
	if got == nil || *got != "NVDA" {
		t.Fatalf("expected NVDA, got %v", got)
	}
}

func TestResolveSymbolAmbiguousReturnsNil(t *testing.T) {
	a := New(mockConfig())
	got, err := a.ResolveSymbol(context.Background(), "some random company")
	if err != nil {
		t.Fatalf("ResolveSymbol: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for an unrecognized label, got %v", *got)
	}
}

func TestAccountSnapshotMockMode(t *testing.T) {
	a := New(mockConfig())
	snap, err := a.AccountSnapshot(context.Background())
	if err != nil {
		t.Fatalf("AccountSnapshot: %v", err)
	}
	if snap.PortfolioValue.IsZero() {
		t.Error("expected a non-zero mock portfolio value")
	}
}
