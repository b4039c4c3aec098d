// Package valuation aggregates cash and marked-to-market positions into
// total equity, the scoring basis for competitions and leaderboards.
package valuation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockarena/engine/internal/ledger"
	"github.com/stockarena/engine/internal/model"
	"github.com/stockarena/engine/internal/quote"
	"github.com/stockarena/engine/internal/store"
)

// Breakdown is one account's valuation at a single price snapshot.
type Breakdown struct {
	AccountID      string           `json:"account_id"`
	Cash           decimal.Decimal  `json:"cash"`
	ReservedCash   decimal.Decimal  `json:"reserved_cash"`
	PositionsValue decimal.Decimal  `json:"positions_value"`
	Equity         decimal.Decimal  `json:"equity"`
	UnrealizedPnL  decimal.Decimal  `json:"unrealized_pnl"`
	Positions      []model.Position `json:"positions"`
	Incomplete     bool             `json:"incomplete"`
	Unpriced       []string         `json:"unpriced,omitempty"`
}

// Valuator computes account equity from a single consistent price snapshot:
// all relevant symbols are batch-fetched from the quote cache before any
// arithmetic, so one valuation never mixes prices from different instants.
type Valuator struct {
	store        store.Store
	quotes       *quote.Cache
	maxStaleness time.Duration
}

// New creates a valuator. maxStaleness is the display bound for quotes;
// stale quotes are accepted (flagged) rather than failing the valuation.
func New(st store.Store, quotes *quote.Cache, maxStaleness time.Duration) *Valuator {
	return &Valuator{store: st, quotes: quotes, maxStaleness: maxStaleness}
}

// Equity values one account: cash + reserved cash + Σ signed quantity ×
// price. A short position therefore contributes its reserved liability
// minus market value. Symbols that cannot be priced are skipped and the
// breakdown is flagged incomplete.
func (v *Valuator) Equity(ctx context.Context, accountID string) (*Breakdown, error) {
	acct, err := v.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := v.store.GetPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}

	quotes, missing := v.quotes.Prices(ctx, symbols, v.maxStaleness)
	prices := make(map[string]decimal.Decimal, len(quotes))
	for sym, q := range quotes {
		prices[sym] = q.Price
	}

	value, unpriced := ledger.MarketValue(positions, prices)
	unpriced = append(unpriced, missing...)

	return &Breakdown{
		AccountID:      accountID,
		Cash:           acct.Cash,
		ReservedCash:   acct.ReservedCash,
		PositionsValue: value,
		Equity:         acct.Cash.Add(acct.ReservedCash).Add(value),
		UnrealizedPnL:  ledger.UnrealizedPnL(positions, prices),
		Positions:      positions,
		Incomplete:     len(unpriced) > 0,
		Unpriced:       unpriced,
	}, nil
}

// TeamEquity sums member equities. A member that cannot be valued marks
// the result incomplete rather than aborting the whole team.
func (v *Valuator) TeamEquity(ctx context.Context, memberIDs []string) (decimal.Decimal, bool) {
	total := decimal.Zero
	incomplete := false
	for _, id := range memberIDs {
		b, err := v.Equity(ctx, id)
		if err != nil {
			incomplete = true
			continue
		}
		if b.Incomplete {
			incomplete = true
		}
		total = total.Add(b.Equity)
	}
	return total, incomplete
}
