package engine

import "errors"

var (
	// ErrAccountInactive is returned when the account is suspended.
	ErrAccountInactive = errors.New("engine: account is not active")

	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("engine: quantity must be positive")

	// ErrInvalidSide is returned for an unknown order side.
	ErrInvalidSide = errors.New("engine: side must be buy, sell, short, or cover")

	// ErrSymbolNotTradable is returned when the quote source cannot price
	// the symbol within the execution staleness bound.
	ErrSymbolNotTradable = errors.New("engine: symbol is not tradable")

	// ErrInsufficientFunds is returned when cash cannot cover the order.
	ErrInsufficientFunds = errors.New("engine: insufficient funds")

	// ErrInsufficientPosition is returned when selling more than the open
	// long quantity or covering more than the open short quantity.
	ErrInsufficientPosition = errors.New("engine: insufficient position")

	// ErrShortNotEligible is returned when a non-eligible account shorts.
	ErrShortNotEligible = errors.New("engine: account is not short-eligible")

	// ErrShortLimitExceeded is returned when a short would push the
	// account's total short quantity past the configured limit.
	ErrShortLimitExceeded = errors.New("engine: short limit exceeded")

	// ErrStaleQuote is returned when only a stale quote is available;
	// order execution never fills against stale prices.
	ErrStaleQuote = errors.New("engine: quote is stale, order rejected")
)
