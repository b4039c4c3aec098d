// Package ledger implements the position ledger: signed quantities,
// weighted-average cost basis, and realized/unrealized P&L.
//
// It is stateless — positions are passed as arguments, applied copies are
// returned. Persistence belongs to the caller.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stockarena/engine/internal/model"
)

var (
	// ErrNoPositionToCover is returned when covering a short that was
	// never opened (quantity already zero or long).
	ErrNoPositionToCover = errors.New("ledger: no short position to cover")

	// ErrZeroQuantity is returned for fills with a zero quantity delta.
	ErrZeroQuantity = errors.New("ledger: quantity delta must be non-zero")
)

// Fill is the result of applying one signed quantity delta to a position.
type Fill struct {
	// Position is the post-fill position. Meaningless when Removed is set.
	Position model.Position

	// Realized is the P&L realized by the reducing part of the fill:
	// (fill price − basis) × closed quantity for longs,
	// (basis − fill price) × closed quantity for shorts.
	Realized decimal.Decimal

	// Removed reports that the fill brought quantity to exactly zero; the
	// position record must be deleted atomically with the triggering order.
	Removed bool
}

// Apply updates pos with a signed quantity delta at the given price.
//
// Opening or extending a position (sign unchanged) recomputes the
// weighted-average cost basis. Reducing a position toward or through zero
// realizes P&L against the basis and credits the realized accumulator. A
// fill that flips the sign splits into a close of the whole position and an
// open of the remainder at the same price.
func Apply(pos model.Position, delta, price decimal.Decimal) (Fill, error) {
	if delta.IsZero() {
		return Fill{}, ErrZeroQuantity
	}

	qty := pos.Quantity

	// Open or extend: same sign, basis becomes the weighted average.
	if qty.IsZero() || qty.Sign() == delta.Sign() {
		newQty := qty.Add(delta)
		totalCost := pos.AvgCost.Mul(qty.Abs()).Add(price.Mul(delta.Abs()))
		pos.Quantity = newQty
		pos.AvgCost = totalCost.Div(newQty.Abs())
		return Fill{Position: pos}, nil
	}

	// Reducing. Quantity closed is capped at the open quantity; any excess
	// flips into a new position at the fill price.
	closed := delta.Abs()
	if closed.GreaterThan(qty.Abs()) {
		closed = qty.Abs()
	}

	var realized decimal.Decimal
	if qty.Sign() > 0 {
		realized = price.Sub(pos.AvgCost).Mul(closed)
	} else {
		realized = pos.AvgCost.Sub(price).Mul(closed)
	}

	newQty := qty.Add(delta)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)

	if newQty.IsZero() {
		pos.Quantity = decimal.Zero
		pos.AvgCost = decimal.Zero
		return Fill{Position: pos, Realized: realized, Removed: true}, nil
	}

	if newQty.Sign() != qty.Sign() {
		// Close-then-open: the surviving quantity is a fresh position at
		// the fill price.
		pos.Quantity = newQty
		pos.AvgCost = price
		return Fill{Position: pos, Realized: realized}, nil
	}

	// Partial reduction: basis is unchanged.
	pos.Quantity = newQty
	return Fill{Position: pos, Realized: realized}, nil
}

// UnrealizedPnL computes mark-to-market P&L across open positions:
// (price − basis) × quantity for longs, (basis − price) × |quantity| for
// shorts. Positions without a price in the map are skipped.
func UnrealizedPnL(positions []model.Position, prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		if p.Quantity.Sign() > 0 {
			total = total.Add(price.Sub(p.AvgCost).Mul(p.Quantity))
		} else {
			total = total.Add(p.AvgCost.Sub(price).Mul(p.Quantity.Abs()))
		}
	}
	return total
}

// MarketValue returns the signed mark-to-market value of open positions:
// longs add quantity × price, shorts subtract. Symbols missing from the
// price map are reported back so callers can flag the valuation incomplete.
func MarketValue(positions []model.Position, prices map[string]decimal.Decimal) (decimal.Decimal, []string) {
	total := decimal.Zero
	var unpriced []string
	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok {
			unpriced = append(unpriced, p.Symbol)
			continue
		}
		total = total.Add(p.Quantity.Mul(price))
	}
	return total, unpriced
}
