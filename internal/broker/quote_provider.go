package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/resilience"
)

// quoteProvider is implemented by both the primary (Alpaca) and fallback
// (Polygon) price sources.
type quoteProvider interface {
	name() string
	getQuote(ctx context.Context, symbol string) (*Quote, error)
}

// alpacaQuoteProvider wraps Alpaca's market-data client behind a circuit
// breaker, ported from the teacher's AlpacaProvider with float64 converted
// to decimal.Decimal at this boundary.
type alpacaQuoteProvider struct {
	client  *marketdata.Client
	breaker *resilience.Breaker
}

func newAlpacaQuoteProvider(apiKey, apiSecret string) *alpacaQuoteProvider {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   "https://data.alpaca.markets",
	})
	return &alpacaQuoteProvider{
		client:  client,
		breaker: resilience.New(resilience.DefaultConfig("alpaca-marketdata")),
	}
}

func (p *alpacaQuoteProvider) name() string { return "alpaca" }

func (p *alpacaQuoteProvider) getQuote(ctx context.Context, symbol string) (*Quote, error) {
	result, err := p.breaker.ExecuteWithContext(ctx, func() (any, error) {
		snapshot, err := p.client.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
		if err != nil {
			return nil, fmt.Errorf("alpaca snapshot: %w", err)
		}
		if snapshot == nil || snapshot.LatestTrade == nil {
			return nil, ErrNoData
		}

		q := &Quote{
			Symbol:    symbol,
			Price:     decimal.NewFromFloat(snapshot.LatestTrade.Price),
			Timestamp: snapshot.LatestTrade.Timestamp,
			Exchange:  snapshot.LatestTrade.Exchange,
		}
		if snapshot.LatestQuote != nil {
			q.Bid = decimal.NewFromFloat(snapshot.LatestQuote.BidPrice)
			q.Ask = decimal.NewFromFloat(snapshot.LatestQuote.AskPrice)
		}
		if snapshot.DailyBar != nil {
			q.Volume = int64(snapshot.DailyBar.Volume)
		}
		return q, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Quote), nil
}

// polygonQuoteProvider is the price-only fallback consulted when Alpaca's
// quote call fails for any reason (including an open circuit), ported from
// the teacher's PolygonProvider.
type polygonQuoteProvider struct {
	client *polygon.Client
}

func newPolygonQuoteProvider(apiKey string) *polygonQuoteProvider {
	return &polygonQuoteProvider{client: polygon.New(apiKey)}
}

func (p *polygonQuoteProvider) name() string { return "polygon" }

func (p *polygonQuoteProvider) getQuote(ctx context.Context, symbol string) (*Quote, error) {
	resp, err := p.client.GetLastTrade(ctx, &models.GetLastTradeParams{Ticker: symbol})
	if err != nil {
		return nil, fmt.Errorf("polygon last trade: %w", err)
	}
	if resp.Results.Price == 0 {
		return nil, ErrNoData
	}

	q := &Quote{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(resp.Results.Price),
		Timestamp: time.Time(resp.Results.Timestamp),
		Exchange:  strconv.FormatInt(int64(resp.Results.Exchange), 10),
	}

	snapshot, err := p.client.GetTickerSnapshot(ctx, &models.GetTickerSnapshotParams{
		Ticker: symbol, Locale: models.US, MarketType: models.Stocks,
	})
	if err != nil {
		return q, nil
	}
	q.Bid = decimal.NewFromFloat(snapshot.Snapshot.LastQuote.BidPrice)
	q.Ask = decimal.NewFromFloat(snapshot.Snapshot.LastQuote.AskPrice)
	q.Volume = int64(snapshot.Snapshot.Day.Volume)
	return q, nil
}
