package broker

import "errors"

var (
	// ErrNoProviderAvailable means every configured quote provider failed
	// and no cached or fallback price could be produced.
	ErrNoProviderAvailable = errors.New("broker: no market data provider available")

	// ErrNoData means a provider answered but had nothing for the symbol.
	ErrNoData = errors.New("broker: no data available")

	// ErrInvalidOrder means the order failed validation (e.g. a limit
	// order submitted without a limit price) before ever reaching the
	// broker.
	ErrInvalidOrder = errors.New("broker: invalid order")

	// ErrAmbiguousSymbol names an input that matches more than one
	// candidate. ResolveSymbol does not return it: it reports an ambiguous
	// input as a nil symbol with a nil error.
	ErrAmbiguousSymbol = errors.New("broker: ambiguous symbol")

	// ErrOrderNotFound means GetOrderStatus was asked about an order id
	// the broker has no record of.
	ErrOrderNotFound = errors.New("broker: order not found")
)
