// Package engine implements the order executor: it validates buy, sell,
// short, and cover instructions against cash and the position ledger,
// prices them from the quote cache, and commits all effects of a fill as
// one atomic unit through the store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockarena/engine/internal/clock"
	"github.com/stockarena/engine/internal/ledger"
	"github.com/stockarena/engine/internal/metrics"
	"github.com/stockarena/engine/internal/model"
	"github.com/stockarena/engine/internal/quote"
	"github.com/stockarena/engine/internal/store"
)

// Request is one order instruction. Orders fill immediately against the
// cached quote; there is no order book.
type Request struct {
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Engine executes orders. Execution for a single account is serialized
// through a per-account mutex; orders for different accounts run in
// parallel.
type Engine struct {
	store        store.Store
	quotes       *quote.Cache
	clock        clock.Clock
	maxStaleness time.Duration
	shortLimit   decimal.Decimal

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an order executor. maxStaleness bounds the quote age accepted
// for execution; shortLimit caps an account's total short quantity.
func New(st store.Store, quotes *quote.Cache, clk clock.Clock, maxStaleness time.Duration, shortLimit decimal.Decimal) *Engine {
	return &Engine{
		store:        st,
		quotes:       quotes,
		clock:        clk,
		maxStaleness: maxStaleness,
		shortLimit:   shortLimit,
		locks:        make(map[string]*sync.Mutex),
	}
}

// accountLock returns the mutex serializing fills for one account.
func (e *Engine) accountLock(accountID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[accountID] = l
	}
	return l
}

// Execute runs one order through received → validated → priced → executed.
// Every side effect (cash, position, order record) commits atomically; on
// a persistence failure nothing is applied and the error surfaces to the
// caller. Rejections leave no state behind.
func (e *Engine) Execute(ctx context.Context, req Request) (*model.Order, error) {
	start := time.Now()

	lock := e.accountLock(req.AccountID)
	lock.Lock()
	defer lock.Unlock()

	// Account status is checked before anything about the order itself: a
	// suspended account gets the account rejection regardless of payload.
	acct, err := e.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if !acct.Active {
		metrics.OrderRejections.WithLabelValues("account_inactive").Inc()
		return nil, ErrAccountInactive
	}

	if !model.ValidSide(req.Side) {
		metrics.OrderRejections.WithLabelValues("invalid_side").Inc()
		return nil, ErrInvalidSide
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		metrics.OrderRejections.WithLabelValues("invalid_quantity").Inc()
		return nil, ErrInvalidQuantity
	}

	// Price from the quote cache. Execution never accepts stale quotes;
	// a symbol the source cannot price is not tradable.
	q, err := e.quotes.Price(ctx, req.Symbol, e.maxStaleness)
	if err != nil {
		metrics.OrderRejections.WithLabelValues("quote_unavailable").Inc()
		if errors.Is(err, quote.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotTradable, req.Symbol)
		}
		return nil, err
	}
	if q.Stale {
		metrics.OrderRejections.WithLabelValues("stale_quote").Inc()
		return nil, ErrStaleQuote
	}

	pos, err := e.currentPosition(ctx, req.AccountID, req.Symbol)
	if err != nil {
		return nil, err
	}
	notional := req.Quantity.Mul(q.Price)

	// Work on copies; nothing is mutated until CommitFill succeeds, so a
	// store failure needs no rollback.
	next := *acct

	switch req.Side {
	case model.SideBuy:
		// A buy against an open short covers first; the remainder opens
		// long. The covered quantity releases its reserved proceeds, with
		// the difference against the cover cost settled into spendable
		// cash. Only the opening part consumes cash.
		closing := decimal.Zero
		if pos.Quantity.Sign() < 0 {
			closing = decimal.Min(req.Quantity, pos.Quantity.Abs())
		}
		released := pos.AvgCost.Mul(closing)
		settle := released.Sub(closing.Mul(q.Price))
		openCost := req.Quantity.Sub(closing).Mul(q.Price)
		if openCost.GreaterThan(next.Cash.Add(settle)) {
			metrics.OrderRejections.WithLabelValues("insufficient_funds").Inc()
			return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, openCost.Sub(settle), next.Cash)
		}
		next.ReservedCash = next.ReservedCash.Sub(released)
		next.Cash = next.Cash.Add(settle).Sub(openCost)

	case model.SideSell:
		if pos.Quantity.LessThan(req.Quantity) {
			metrics.OrderRejections.WithLabelValues("insufficient_position").Inc()
			return nil, fmt.Errorf("%w: long %s, selling %s", ErrInsufficientPosition, pos.Quantity, req.Quantity)
		}
		next.Cash = next.Cash.Add(notional)

	case model.SideShort:
		if !next.ShortEligible {
			metrics.OrderRejections.WithLabelValues("short_not_eligible").Inc()
			return nil, ErrShortNotEligible
		}
		// A short against an open long sells the long first; those are
		// ordinary sale proceeds. Only the newly opened short quantity
		// reserves its proceeds and counts against the short limit.
		closing := decimal.Zero
		if pos.Quantity.Sign() > 0 {
			closing = decimal.Min(req.Quantity, pos.Quantity)
		}
		opening := req.Quantity.Sub(closing)
		shortQty := decimal.Zero
		if pos.Quantity.Sign() < 0 {
			shortQty = pos.Quantity.Abs()
		}
		if shortQty.Add(opening).GreaterThan(e.shortLimit) {
			metrics.OrderRejections.WithLabelValues("short_limit").Inc()
			return nil, fmt.Errorf("%w: limit %s", ErrShortLimitExceeded, e.shortLimit)
		}
		next.Cash = next.Cash.Add(closing.Mul(q.Price))
		next.ReservedCash = next.ReservedCash.Add(opening.Mul(q.Price))

	case model.SideCover:
		if pos.Quantity.Sign() >= 0 {
			metrics.OrderRejections.WithLabelValues("no_short_position").Inc()
			return nil, ledger.ErrNoPositionToCover
		}
		if pos.Quantity.Abs().LessThan(req.Quantity) {
			metrics.OrderRejections.WithLabelValues("insufficient_position").Inc()
			return nil, fmt.Errorf("%w: short %s, covering %s", ErrInsufficientPosition, pos.Quantity.Abs(), req.Quantity)
		}
		// Release the reserved proceeds for the covered quantity; the
		// difference against the cover cost is the realized P&L, settled
		// into spendable cash.
		released := pos.AvgCost.Mul(req.Quantity)
		settle := released.Sub(notional)
		if settle.IsNegative() && settle.Abs().GreaterThan(next.Cash) {
			metrics.OrderRejections.WithLabelValues("insufficient_funds").Inc()
			return nil, fmt.Errorf("%w: cover shortfall %s exceeds cash %s", ErrInsufficientFunds, settle.Abs(), next.Cash)
		}
		next.ReservedCash = next.ReservedCash.Sub(released)
		next.Cash = next.Cash.Add(settle)
	}

	fill, err := ledger.Apply(pos, model.SignedDelta(req.Side, req.Quantity), q.Price)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	next.UpdatedAt = now

	newPos := fill.Position
	newPos.AccountID = req.AccountID
	newPos.Symbol = req.Symbol
	newPos.UpdatedAt = now

	order := &model.Order{
		ID:         uuid.New().String(),
		AccountID:  req.AccountID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      q.Price,
		Notional:   notional,
		MarketOpen: MarketOpen(now),
		Timestamp:  now,
	}

	if err := e.store.CommitFill(ctx, &next, &newPos, fill.Removed, order); err != nil {
		return nil, fmt.Errorf("engine: commit fill: %w", err)
	}

	metrics.OrdersTotal.WithLabelValues(req.Side).Inc()
	metrics.OrderLatency.WithLabelValues(req.Side).Observe(time.Since(start).Seconds())

	slog.Info("order executed",
		"order_id", order.ID,
		"account", req.AccountID,
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Quantity.String(),
		"price", q.Price.String(),
		"realized", fill.Realized.String(),
		"market_open", order.MarketOpen,
	)

	return order, nil
}

// currentPosition loads the open position, or a zero-valued one when the
// account holds nothing in the symbol. Store failures other than not-found
// propagate: an unreadable position must reject the order, not fill it
// against a phantom flat book.
func (e *Engine) currentPosition(ctx context.Context, accountID, symbol string) (model.Position, error) {
	p, err := e.store.GetPosition(ctx, accountID, symbol)
	if errors.Is(err, store.ErrNotFound) {
		return model.Position{AccountID: accountID, Symbol: symbol}, nil
	}
	if err != nil {
		return model.Position{}, fmt.Errorf("engine: load position: %w", err)
	}
	return *p, nil
}
