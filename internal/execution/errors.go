package execution

import "errors"

var (
	// ErrNoPortfolio is returned when the user has no primary portfolio to
	// trade against.
	ErrNoPortfolio = errors.New("execution: user has no primary portfolio")

	// ErrAmbiguousSymbol is returned when the broker adapter could not
	// resolve a recommendation's symbol to a single ticker.
	ErrAmbiguousSymbol = errors.New("execution: symbol did not resolve to a single ticker")

	// ErrInsufficientHolding is returned when a SELL recommendation asks
	// for more shares than the portfolio holds.
	ErrInsufficientHolding = errors.New("execution: insufficient holding for sell")

	// ErrInvalidRecommendation is returned when a recommendation carries
	// neither a quantity nor a percent, or resolves to a non-positive
	// quantity.
	ErrInvalidRecommendation = errors.New("execution: recommendation has no usable quantity")

	// ErrNoPendingTrade is returned by ApproveWorkflow when the user has no
	// pending transaction to approve.
	ErrNoPendingTrade = errors.New("execution: user has no pending transaction")
)
