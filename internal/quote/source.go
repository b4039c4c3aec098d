// Package quote provides market quotes: an external source interface, an
// HTTP implementation against the Yahoo Finance chart API, and a
// staleness-bounded cache that de-duplicates and time-bounds source calls.
package quote

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable is returned when the external source fails and no
	// cached value exists for the symbol.
	ErrUnavailable = errors.New("quote: unavailable")

	// ErrNotFound is returned when the source has no price for a symbol.
	ErrNotFound = errors.New("quote: symbol not found")
)

// Quote is one priced symbol. AsOf is the source's quote time; FetchedAt is
// when this process obtained it. Stale is set when the quote is served past
// the caller's staleness bound because the source is unreachable.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	AsOf      time.Time       `json:"as_of"`
	FetchedAt time.Time       `json:"fetched_at"`
	Stale     bool            `json:"stale,omitempty"`
}

// Source fetches a live quote for one symbol. Consumed only by Cache.
type Source interface {
	Fetch(ctx context.Context, symbol string) (Quote, error)
}
