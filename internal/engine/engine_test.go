package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockarena/engine/internal/clock"
	"github.com/stockarena/engine/internal/engine"
	"github.com/stockarena/engine/internal/ledger"
	"github.com/stockarena/engine/internal/model"
	"github.com/stockarena/engine/internal/quote"
	"github.com/stockarena/engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// stubSource serves fixed prices and can be failed on demand.
type stubSource struct {
	prices map[string]decimal.Decimal
	fail   bool
}

func (s *stubSource) Fetch(_ context.Context, symbol string) (quote.Quote, error) {
	if s.fail {
		return quote.Quote{}, errors.New("source down")
	}
	price, ok := s.prices[symbol]
	if !ok {
		return quote.Quote{}, quote.ErrNotFound
	}
	return quote.Quote{Symbol: symbol, Price: price, AsOf: time.Now()}, nil
}

type testEnv struct {
	engine *engine.Engine
	store  *store.MemoryStore
	clock  *clock.Mock
	source *stubSource
}

func newTestEnv(t *testing.T, cash float64, shortEligible bool) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	clk := clock.NewMock(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
	src := &stubSource{prices: map[string]decimal.Decimal{
		"AAPL": d(50),
		"TSLA": d(20),
	}}
	quotes := quote.NewCache(src, clk)
	eng := engine.New(ms, quotes, clk, 30*time.Second, d(1000))

	a := &model.Account{
		ID:            "acct-1",
		Name:          "tester",
		Role:          model.RoleStandard,
		Active:        true,
		ShortEligible: shortEligible,
		Cash:          d(cash),
		StartingCash:  d(cash),
		CreatedAt:     clk.Now(),
		UpdatedAt:     clk.Now(),
	}
	if err := ms.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	return &testEnv{engine: eng, store: ms, clock: clk, source: src}
}

func (e *testEnv) setPrice(symbol string, price float64) {
	e.source.prices[symbol] = d(price)
	// Push the clock past the execution staleness bound so the next fill
	// refetches instead of using the cached quote.
	e.clock.Advance(time.Minute)
}

func (e *testEnv) execute(t *testing.T, side string, qty float64) *model.Order {
	t.Helper()
	order, err := e.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1",
		Symbol:    "AAPL",
		Side:      side,
		Quantity:  d(qty),
	})
	if err != nil {
		t.Fatalf("%s %v failed: %v", side, qty, err)
	}
	return order
}

func (e *testEnv) account(t *testing.T) *model.Account {
	t.Helper()
	a, err := e.store.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("failed to load account: %v", err)
	}
	return a
}

// --- Round trips ---

func TestExecute_BuyThenSellRoundTrip(t *testing.T) {
	env := newTestEnv(t, 10000, false)

	env.execute(t, model.SideBuy, 100)
	a := env.account(t)
	if !a.Cash.Equal(d(5000)) {
		t.Errorf("expected cash=5000 after buy, got %s", a.Cash)
	}

	env.setPrice("AAPL", 60)
	order := env.execute(t, model.SideSell, 100)
	if !order.Price.Equal(d(60)) {
		t.Errorf("expected fill price 60, got %s", order.Price)
	}

	a = env.account(t)
	if !a.Cash.Equal(d(11000)) {
		t.Errorf("expected cash=11000 after sell, got %s", a.Cash)
	}

	// Position record must be gone.
	if _, err := env.store.GetPosition(context.Background(), "acct-1", "AAPL"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected position removed, got err=%v", err)
	}
}

func TestExecute_ShortCoverSymmetry(t *testing.T) {
	// Short and cover at the same price leaves every balance untouched.
	env := newTestEnv(t, 10000, true)

	env.execute(t, model.SideShort, 10)
	a := env.account(t)
	if !a.Cash.Equal(d(10000)) {
		t.Errorf("short proceeds must not be spendable, cash=%s", a.Cash)
	}
	if !a.ReservedCash.Equal(d(500)) {
		t.Errorf("expected reserved=500, got %s", a.ReservedCash)
	}

	env.execute(t, model.SideCover, 10)
	a = env.account(t)
	if !a.Cash.Equal(d(10000)) {
		t.Errorf("expected cash=10000 after flat cover, got %s", a.Cash)
	}
	if !a.ReservedCash.IsZero() {
		t.Errorf("expected reserved=0 after cover, got %s", a.ReservedCash)
	}
}

func TestExecute_CoverAtLowerPriceSettlesProfit(t *testing.T) {
	env := newTestEnv(t, 10000, true)

	env.execute(t, model.SideShort, 10) // 10 @ 50, reserved 500
	env.setPrice("AAPL", 40)
	env.execute(t, model.SideCover, 10) // released 500, cost 400

	a := env.account(t)
	if !a.Cash.Equal(d(10100)) {
		t.Errorf("expected cash=10100 (100 profit), got %s", a.Cash)
	}
	if !a.ReservedCash.IsZero() {
		t.Errorf("expected reserved=0, got %s", a.ReservedCash)
	}
}

func TestExecute_CoverAtHigherPriceSettlesLoss(t *testing.T) {
	env := newTestEnv(t, 10000, true)

	env.execute(t, model.SideShort, 10) // reserved 500
	env.setPrice("AAPL", 65)
	env.execute(t, model.SideCover, 10) // released 500, cost 650 → -150

	a := env.account(t)
	if !a.Cash.Equal(d(9850)) {
		t.Errorf("expected cash=9850 (150 loss), got %s", a.Cash)
	}
	if !a.ReservedCash.IsZero() {
		t.Errorf("expected reserved=0, got %s", a.ReservedCash)
	}
}

// --- Cross-side fills ---

func TestExecute_BuyCoversShortReleasesReserved(t *testing.T) {
	// A buy against an open short is a cover: the flat round trip at a
	// constant price restores every balance exactly.
	env := newTestEnv(t, 10000, true)

	env.execute(t, model.SideShort, 10) // 10 @ 50, reserved 500
	env.execute(t, model.SideBuy, 10)

	a := env.account(t)
	if !a.Cash.Equal(d(10000)) {
		t.Errorf("expected cash=10000 after flat round trip, got %s", a.Cash)
	}
	if !a.ReservedCash.IsZero() {
		t.Errorf("expected reserved=0 with no short open, got %s", a.ReservedCash)
	}
	if _, err := env.store.GetPosition(context.Background(), "acct-1", "AAPL"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected position removed, got err=%v", err)
	}
}

func TestExecute_BuyThroughShortOpensLong(t *testing.T) {
	env := newTestEnv(t, 10000, true)

	env.execute(t, model.SideShort, 10) // 10 @ 50, reserved 500
	env.setPrice("AAPL", 40)
	env.execute(t, model.SideBuy, 15) // cover 10 @ 40 (+100), open 5 long @ 40 (-200)

	a := env.account(t)
	if !a.Cash.Equal(d(9900)) {
		t.Errorf("expected cash=9900, got %s", a.Cash)
	}
	if !a.ReservedCash.IsZero() {
		t.Errorf("expected reserved=0 after full cover, got %s", a.ReservedCash)
	}

	p, err := env.store.GetPosition(context.Background(), "acct-1", "AAPL")
	if err != nil {
		t.Fatalf("failed to load position: %v", err)
	}
	if !p.Quantity.Equal(d(5)) || !p.AvgCost.Equal(d(40)) {
		t.Errorf("expected long 5 @ 40, got %s @ %s", p.Quantity, p.AvgCost)
	}
	if !p.RealizedPnL.Equal(d(100)) {
		t.Errorf("expected realized=100 from the covered leg, got %s", p.RealizedPnL)
	}
}

func TestExecute_ShortAgainstLongSellsFirst(t *testing.T) {
	// Shorting through a long sells the long leg for ordinary proceeds;
	// only the opened short quantity is reserved.
	env := newTestEnv(t, 10000, true)

	env.execute(t, model.SideBuy, 10) // cash 9500
	env.execute(t, model.SideShort, 15)

	a := env.account(t)
	if !a.Cash.Equal(d(10000)) {
		t.Errorf("expected cash=10000 after selling the long leg, got %s", a.Cash)
	}
	if !a.ReservedCash.Equal(d(250)) {
		t.Errorf("expected reserved=250 for the 5 opened shorts, got %s", a.ReservedCash)
	}

	p, err := env.store.GetPosition(context.Background(), "acct-1", "AAPL")
	if err != nil {
		t.Fatalf("failed to load position: %v", err)
	}
	if !p.Quantity.Equal(d(-5)) || !p.AvgCost.Equal(d(50)) {
		t.Errorf("expected short 5 @ 50, got %s @ %s", p.Quantity, p.AvgCost)
	}
}

func TestExecute_ShortLimitIgnoresClosingLeg(t *testing.T) {
	// Only the opened short quantity counts against the limit; the part
	// that closes an existing long does not.
	env := newTestEnv(t, 100000, true)

	env.execute(t, model.SideBuy, 500)
	env.execute(t, model.SideShort, 1500) // closes 500, opens 1000 = the limit

	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: model.SideShort, Quantity: d(1),
	})
	if !errors.Is(err, engine.ErrShortLimitExceeded) {
		t.Errorf("expected ErrShortLimitExceeded at the limit, got %v", err)
	}
}

// --- Rejections leave no state behind ---

func TestExecute_InsufficientFundsLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t, 1000, false)

	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(100),
	})
	if !errors.Is(err, engine.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	a := env.account(t)
	if !a.Cash.Equal(d(1000)) {
		t.Errorf("rejected order must not touch cash, got %s", a.Cash)
	}
	orders, _ := env.store.GetOrdersByAccount(context.Background(), "acct-1")
	if len(orders) != 0 {
		t.Errorf("rejected order must not be recorded, got %d orders", len(orders))
	}
}

func TestExecute_SellMoreThanHeld(t *testing.T) {
	env := newTestEnv(t, 10000, false)
	env.execute(t, model.SideBuy, 10)

	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: model.SideSell, Quantity: d(11),
	})
	if !errors.Is(err, engine.ErrInsufficientPosition) {
		t.Errorf("expected ErrInsufficientPosition, got %v", err)
	}
}

func TestExecute_CoverWithoutShort(t *testing.T) {
	env := newTestEnv(t, 10000, true)

	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: model.SideCover, Quantity: d(10),
	})
	if !errors.Is(err, ledger.ErrNoPositionToCover) {
		t.Errorf("expected ErrNoPositionToCover, got %v", err)
	}
}

func TestExecute_ShortRequiresEligibility(t *testing.T) {
	env := newTestEnv(t, 10000, false)

	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: model.SideShort, Quantity: d(10),
	})
	if !errors.Is(err, engine.ErrShortNotEligible) {
		t.Errorf("expected ErrShortNotEligible, got %v", err)
	}
}

func TestExecute_ShortLimitEnforced(t *testing.T) {
	env := newTestEnv(t, 10000, true)
	env.execute(t, model.SideShort, 990)

	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: model.SideShort, Quantity: d(11),
	})
	if !errors.Is(err, engine.ErrShortLimitExceeded) {
		t.Errorf("expected ErrShortLimitExceeded, got %v", err)
	}

	// Exactly at the limit is allowed.
	env.execute(t, model.SideShort, 10)
}

func TestExecute_InactiveAccountRejected(t *testing.T) {
	env := newTestEnv(t, 10000, false)
	a := env.account(t)
	a.Active = false
	if err := env.store.UpdateAccount(context.Background(), a); err != nil {
		t.Fatalf("failed to suspend: %v", err)
	}

	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(1),
	})
	if !errors.Is(err, engine.ErrAccountInactive) {
		t.Errorf("expected ErrAccountInactive, got %v", err)
	}
}

func TestExecute_InactiveCheckedBeforePayload(t *testing.T) {
	// The account rejection takes precedence over payload validation.
	env := newTestEnv(t, 10000, false)
	a := env.account(t)
	a.Active = false
	if err := env.store.UpdateAccount(context.Background(), a); err != nil {
		t.Fatalf("failed to suspend: %v", err)
	}

	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: "hold", Quantity: d(-5),
	})
	if !errors.Is(err, engine.ErrAccountInactive) {
		t.Errorf("expected ErrAccountInactive, got %v", err)
	}
}

func TestExecute_InvalidSideAndQuantity(t *testing.T) {
	env := newTestEnv(t, 10000, false)

	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: "hold", Quantity: d(1),
	})
	if !errors.Is(err, engine.ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}

	_, err = env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(-5),
	})
	if !errors.Is(err, engine.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestExecute_UnknownSymbolNotTradable(t *testing.T) {
	env := newTestEnv(t, 10000, false)

	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "ZZZZ", Side: model.SideBuy, Quantity: d(1),
	})
	if !errors.Is(err, engine.ErrSymbolNotTradable) {
		t.Errorf("expected ErrSymbolNotTradable, got %v", err)
	}
}

func TestExecute_StaleQuoteRejected(t *testing.T) {
	env := newTestEnv(t, 10000, false)
	env.execute(t, model.SideBuy, 1) // populate the cache

	env.clock.Advance(time.Hour)
	env.source.fail = true

	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(1),
	})
	if !errors.Is(err, engine.ErrStaleQuote) {
		t.Errorf("execution must reject stale quotes, got %v", err)
	}
}

// faultyStore fails position reads to simulate a persistence outage.
type faultyStore struct {
	store.Store
	positionErr error
}

func (f *faultyStore) GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	if f.positionErr != nil {
		return nil, f.positionErr
	}
	return f.Store.GetPosition(ctx, accountID, symbol)
}

func TestExecute_PositionReadFailureRejectsOrder(t *testing.T) {
	// An unreadable position must reject the order, not fill it as if the
	// account were flat.
	env := newTestEnv(t, 10000, true)
	boom := errors.New("connection reset")
	faulty := &faultyStore{Store: env.store, positionErr: boom}
	eng := engine.New(faulty, quote.NewCache(env.source, env.clock), env.clock, 30*time.Second, d(1000))

	_, err := eng.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(10),
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the store failure to propagate, got %v", err)
	}

	a := env.account(t)
	if !a.Cash.Equal(d(10000)) {
		t.Errorf("failed order must not touch cash, got %s", a.Cash)
	}
	orders, _ := env.store.GetOrdersByAccount(context.Background(), "acct-1")
	if len(orders) != 0 {
		t.Errorf("failed order must not be recorded, got %d orders", len(orders))
	}
}

// --- Order records ---

func TestExecute_OrderRecordImmutableFields(t *testing.T) {
	env := newTestEnv(t, 10000, false)

	order := env.execute(t, model.SideBuy, 100)
	if order.ID == "" {
		t.Error("expected non-empty order id")
	}
	if !order.Notional.Equal(d(5000)) {
		t.Errorf("expected notional=5000, got %s", order.Notional)
	}
	if order.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	orders, err := env.store.GetOrdersByAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("failed to load orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
}

// --- Reconciliation ---

func TestExecute_CashReconciles(t *testing.T) {
	// After any sequence of fills: starting cash + realized P&L =
	// cash + Σ long qty×basis, and reserved = Σ short qty×basis.
	env := newTestEnv(t, 10000, true)

	env.execute(t, model.SideBuy, 50) // 50 @ 50
	env.setPrice("AAPL", 55)
	env.execute(t, model.SideSell, 20) // realize 100
	env.setPrice("TSLA", 20)
	_, err := env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "TSLA", Side: model.SideShort, Quantity: d(30),
	})
	if err != nil {
		t.Fatalf("short failed: %v", err)
	}
	env.setPrice("TSLA", 18)
	// Cross-side: a buy partially covering the short. Realizes 40 and
	// releases the covered leg's reservation.
	_, err = env.engine.Execute(context.Background(), engine.Request{
		AccountID: "acct-1", Symbol: "TSLA", Side: model.SideBuy, Quantity: d(20),
	})
	if err != nil {
		t.Fatalf("buy-to-cover failed: %v", err)
	}

	a := env.account(t)
	positions, _ := env.store.GetPositions(context.Background(), "acct-1")

	longBasis := decimal.Zero
	shortBasis := decimal.Zero
	realized := decimal.Zero
	for _, p := range positions {
		if p.Quantity.Sign() > 0 {
			longBasis = longBasis.Add(p.Quantity.Mul(p.AvgCost))
		} else {
			shortBasis = shortBasis.Add(p.Quantity.Abs().Mul(p.AvgCost))
		}
		realized = realized.Add(p.RealizedPnL)
	}

	if !realized.Equal(d(140)) {
		t.Fatalf("expected realized=140 (100 sell + 40 cover), got %s", realized)
	}
	left := a.StartingCash.Add(realized)
	right := a.Cash.Add(longBasis)
	if !left.Equal(right) {
		t.Errorf("cash does not reconcile: %s != %s", left, right)
	}
	if !a.ReservedCash.Equal(shortBasis) {
		t.Errorf("reserved %s != short basis %s", a.ReservedCash, shortBasis)
	}
}
