package broker

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/observability"
)

// Adapter is the Broker Adapter (C6): AccountSnapshot, GetPrice,
// PlaceOrder, GetOrderStatus, ResolveSymbol. Either backed by Alpaca (+
// Polygon fallback) or, with no credentials configured, a fully
// deterministic mock — chosen once at construction and never mixed.
type Adapter struct {
	config Config
	mock   *mockAdapter

	quotePrimary  quoteProvider
	quoteFallback quoteProvider
	cache         *quoteCache
	trader        *alpacaTrader
}

// New builds an Adapter from config. Mock mode is entered explicitly (and
// logged) when Alpaca credentials are absent — SPEC_FULL.md §4.6 and §6.5
// both require this to be visible, not a quiet degradation.
func New(config Config) *Adapter {
	if config.MockMode() {
		log.Printf("broker adapter: no Alpaca credentials configured, running in mock mode")
		return &Adapter{config: config, mock: newMockAdapter()}
	}

	a := &Adapter{
		config:       config,
		quotePrimary: newAlpacaQuoteProvider(config.AlpacaAPIKey, config.AlpacaAPISecret),
		trader:       newAlpacaTrader(config.AlpacaAPIKey, config.AlpacaAPISecret, config.AlpacaPaper),
	}
	if config.PolygonAPIKey != "" {
		a.quoteFallback = newPolygonQuoteProvider(config.PolygonAPIKey)
	}
	if config.CacheEnabled {
		cache, err := newQuoteCache(config.CacheRedisURL, config.CacheTTL)
		if err != nil {
			log.Printf("broker adapter: quote cache unavailable, continuing without it: %v", err)
		} else {
			a.cache = cache
		}
	}
	return a
}

// IsMock reports whether the adapter is operating in mock mode.
func (a *Adapter) IsMock() bool {
	return a.mock != nil
}

// AccountSnapshot returns the broker's current view of the account.
func (a *Adapter) AccountSnapshot(ctx context.Context) (*AccountSnapshotResult, error) {
	if a.mock != nil {
		return a.mock.accountSnapshot(ctx)
	}
	return a.trader.accountSnapshot(ctx)
}

// GetPrice returns the most recent price for symbol, trying the cache, the
// primary provider, then the fallback provider. When all of them fail it
// returns the fixed default price (mockDefaultPrice) together with an error
// wrapping ErrNoProviderAvailable; it does not return a nil error in that
// case.
func (a *Adapter) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if a.mock != nil {
		q, err := a.mock.getQuote(ctx, symbol)
		if err != nil {
			return decimal.Zero, err
		}
		return q.Price, nil
	}

	if a.cache != nil {
		if q, err := a.cache.get(ctx, symbol); err == nil && q != nil {
			return q.Price, nil
		}
	}

	q, err := a.quotePrimary.getQuote(ctx, symbol)
	if err == nil {
		if a.cache != nil {
			_ = a.cache.set(ctx, *q)
		}
		return q.Price, nil
	}
	observability.Warn(ctx, "broker_primary_quote_failed", map[string]any{"symbol": symbol, "error": err.Error()})

	if a.quoteFallback != nil {
		q, ferr := a.quoteFallback.getQuote(ctx, symbol)
		if ferr == nil {
			if a.cache != nil {
				_ = a.cache.set(ctx, *q)
			}
			return q.Price, nil
		}
		observability.Warn(ctx, "broker_fallback_quote_failed", map[string]any{"symbol": symbol, "error": ferr.Error()})
	}

	return mockDefaultPrice, fmt.Errorf("%w: %v", ErrNoProviderAvailable, err)
}

// PlaceOrder submits req, validating order-type-specific required fields
// before ever reaching the broker.
func (a *Adapter) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if a.mock != nil {
		return a.mock.placeOrder(ctx, req)
	}
	return a.trader.placeOrder(ctx, req)
}

// GetOrderStatus reads an order's current fill state.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatusResult, error) {
	if a.mock != nil {
		return a.mock.getOrderStatus(ctx, orderID)
	}
	return a.trader.getOrderStatus(ctx, orderID)
}

// ResolveSymbol maps a human label ("Nutanix") to a ticker ("NTNX"). A
// value that already looks like a ticker (short, all-letters) passes
// through unchanged; anything else that isn't in the alias table returns
// nil — "ambiguous", per §4.6, not an error.
func (a *Adapter) ResolveSymbol(_ context.Context, input string) (*string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}
	if looksLikeTicker(trimmed) {
		upper := strings.ToUpper(trimmed)
		return &upper, nil
	}
	if ticker, ok := mockSymbolAliases[strings.ToLower(trimmed)]; ok {
		return &ticker, nil
	}
	return nil, nil
}

func looksLikeTicker(s string) bool {
	if len(s) == 0 || len(s) > 5 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	// A single common word ("apple") is exactly as short as a ticker; the
	// alias table takes priority over the ticker-shape heuristic for
	// anything it recognizes, so only fall back to pass-through here.
	if _, isAlias := mockSymbolAliases[strings.ToLower(s)]; isAlias {
		return false
	}
	return true
}

// PollInterval and PollAttempts expose the execution service's polling
// budget (policy-configurable per §4.7).
func (a *Adapter) PollInterval() (interval int, attempts int) {
	ms := int(a.config.PollInterval.Milliseconds())
	return ms, a.config.PollAttempts
}
