package broker

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"jax-advisor-core/internal/resilience"
)

// alpacaTrader wraps Alpaca's trading client behind a circuit breaker, the
// order-submission half of the Broker Adapter. Grounded on the teacher's
// BrokerClient (internal/modules/execution/service.go): GetAccount,
// PlaceOrder, GetOrderStatus, GetPositions, generalized from Interactive
// Brokers' int order ids to Alpaca's string order ids and decimal
// quantities.
type alpacaTrader struct {
	client  *alpaca.Client
	breaker *resilience.Breaker
}

func newAlpacaTrader(apiKey, apiSecret string, paper bool) *alpacaTrader {
	baseURL := "https://api.alpaca.markets"
	if paper {
		baseURL = "https://paper-api.alpaca.markets"
	}
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return &alpacaTrader{
		client:  client,
		breaker: resilience.New(resilience.DefaultConfig("alpaca-trading")),
	}
}

func (t *alpacaTrader) placeOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}

	result, err := t.breaker.ExecuteWithContext(ctx, func() (any, error) {
		side := alpaca.Side(req.Side)
		orderType := alpaca.OrderType(req.OrderType)
		tif := alpaca.TimeInForce(req.TimeInForce)
		qty := req.Quantity

		order, err := t.client.PlaceOrder(alpaca.PlaceOrderRequest{
			Symbol:      req.Symbol,
			Qty:         &qty,
			Side:        side,
			Type:        orderType,
			TimeInForce: tif,
			LimitPrice:  nullableDecimalPtr(req.LimitPrice),
			StopPrice:   nullableDecimalPtr(req.StopPrice),
		})
		if err != nil {
			return nil, fmt.Errorf("alpaca place order: %w", err)
		}

		return &PlaceOrderResult{
			OrderID:     order.ID,
			SubmittedAt: order.SubmittedAt,
			Status:      OrderStatus(order.Status),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*PlaceOrderResult), nil
}

func (t *alpacaTrader) getOrderStatus(ctx context.Context, orderID string) (*OrderStatusResult, error) {
	result, err := t.breaker.ExecuteWithContext(ctx, func() (any, error) {
		order, err := t.client.GetOrder(orderID)
		if err != nil {
			return nil, fmt.Errorf("alpaca get order: %w", err)
		}

		status := &OrderStatusResult{
			OrderID:     order.ID,
			Status:      OrderStatus(order.Status),
			FilledQty:   order.FilledQty,
			SubmittedAt: order.SubmittedAt,
			FilledAt:    order.FilledAt,
		}
		if order.FilledAvgPrice != nil {
			status.FilledAvgPrice = decimal.NewNullDecimal(*order.FilledAvgPrice)
		}
		return status, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*OrderStatusResult), nil
}

func (t *alpacaTrader) accountSnapshot(ctx context.Context) (*AccountSnapshotResult, error) {
	result, err := t.breaker.ExecuteWithContext(ctx, func() (any, error) {
		account, err := t.client.GetAccount()
		if err != nil {
			return nil, fmt.Errorf("alpaca get account: %w", err)
		}
		positions, err := t.client.GetPositions()
		if err != nil {
			return nil, fmt.Errorf("alpaca get positions: %w", err)
		}

		snap := &AccountSnapshotResult{
			PortfolioValue: account.PortfolioValue,
			Cash:           account.Cash,
			BuyingPower:    account.BuyingPower,
		}
		for _, p := range positions {
			snap.Positions = append(snap.Positions, AccountPosition{
				Symbol:       p.Symbol,
				Quantity:     p.Qty,
				AverageCost:  p.AvgEntryPrice,
				CurrentPrice: p.CurrentPrice,
			})
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*AccountSnapshotResult), nil
}

func validateOrder(req PlaceOrderRequest) error {
	switch req.OrderType {
	case OrderLimit:
		if !req.LimitPrice.Valid {
			return fmt.Errorf("%w: limit order requires a limit price", ErrInvalidOrder)
		}
	case OrderStop:
		if !req.StopPrice.Valid {
			return fmt.Errorf("%w: stop order requires a stop price", ErrInvalidOrder)
		}
	case OrderStopLimit:
		if !req.LimitPrice.Valid || !req.StopPrice.Valid {
			return fmt.Errorf("%w: stop-limit order requires both a limit and stop price", ErrInvalidOrder)
		}
	}
	if req.Quantity.IsZero() || req.Quantity.IsNegative() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	return nil
}

func nullableDecimalPtr(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}
