package competition_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockarena/engine/internal/clock"
	"github.com/stockarena/engine/internal/competition"
	"github.com/stockarena/engine/internal/model"
	"github.com/stockarena/engine/internal/quote"
	"github.com/stockarena/engine/internal/store"
	"github.com/stockarena/engine/internal/valuation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type stubSource struct {
	prices map[string]decimal.Decimal
}

func (s *stubSource) Fetch(_ context.Context, symbol string) (quote.Quote, error) {
	price, ok := s.prices[symbol]
	if !ok {
		return quote.Quote{}, quote.ErrNotFound
	}
	return quote.Quote{Symbol: symbol, Price: price, AsOf: time.Now()}, nil
}

type testEnv struct {
	svc    *competition.Service
	store  *store.MemoryStore
	clock  *clock.Mock
	source *stubSource
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	clk := clock.NewMock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	src := &stubSource{prices: map[string]decimal.Decimal{
		"AAPL": d(50),
		"TSLA": d(20),
	}}
	valuator := valuation.New(ms, quote.NewCache(src, clk), time.Minute)
	svc := competition.NewService(ms, valuator, clk, nil)
	return &testEnv{svc: svc, store: ms, clock: clk, source: src}
}

// seedAccount creates an account, optionally holding one position. Cash is
// set so total equity at the seed prices is always 10000.
func (e *testEnv) seedAccount(t *testing.T, id, symbol string, qty, avg float64) {
	t.Helper()
	cash := d(10000)
	a := &model.Account{
		ID:           id,
		Name:         id,
		Role:         model.RoleStandard,
		Active:       true,
		Cash:         cash,
		StartingCash: d(10000),
		CreatedAt:    e.clock.Now(),
	}
	if symbol != "" {
		a.Cash = cash.Sub(d(qty).Mul(e.source.prices[symbol]))
	}
	if err := e.store.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	if symbol != "" {
		pos := &model.Position{
			AccountID: id,
			Symbol:    symbol,
			Quantity:  d(qty),
			AvgCost:   d(avg),
			UpdatedAt: e.clock.Now(),
		}
		o := &model.Order{ID: "seed-" + id, AccountID: id, Symbol: symbol, Side: model.SideBuy, Quantity: d(qty), Price: d(avg), Timestamp: e.clock.Now()}
		if err := e.store.CommitFill(context.Background(), a, pos, false, o); err != nil {
			t.Fatalf("failed to seed position: %v", err)
		}
	}
}

func (e *testEnv) create(t *testing.T, startIn, length time.Duration) *model.Competition {
	t.Helper()
	now := e.clock.Now()
	c, err := e.svc.Create(context.Background(), "spring-open", now.Add(startIn), now.Add(startIn+length))
	if err != nil {
		t.Fatalf("failed to create competition: %v", err)
	}
	return c
}

// setPrice changes a quote and advances the clock past the staleness bound
// so the next valuation refetches.
func (e *testEnv) setPrice(symbol string, price float64) {
	e.source.prices[symbol] = d(price)
	e.clock.Advance(2 * time.Minute)
}

// --- Creation ---

func TestCreate_InvalidWindow(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()
	_, err := env.svc.Create(context.Background(), "bad", now.Add(time.Hour), now.Add(time.Hour))
	if !errors.Is(err, competition.ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
}

// --- Lifecycle ---

func TestLifecycle_ClockDrivenTransitions(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "", 0, 0)
	c := env.create(t, time.Hour, time.Hour)

	if c.Status != model.CompetitionScheduled {
		t.Fatalf("expected scheduled, got %s", c.Status)
	}
	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	// Before the start the competition stays scheduled.
	got, err := env.svc.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.CompetitionScheduled {
		t.Errorf("expected scheduled before start, got %s", got.Status)
	}

	// Crossing the start activates and captures baselines.
	env.clock.Advance(time.Hour)
	got, err = env.svc.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.CompetitionActive {
		t.Errorf("expected active after start, got %s", got.Status)
	}
	if !got.Participants[0].StartingEquity.Equal(d(10000)) {
		t.Errorf("expected baseline 10000, got %s", got.Participants[0].StartingEquity)
	}

	// Crossing the end closes with final results.
	env.clock.Advance(2 * time.Hour)
	got, err = env.svc.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.CompetitionClosed {
		t.Errorf("expected closed after end, got %s", got.Status)
	}
	if got.CloseReason != model.CloseReasonExpired {
		t.Errorf("expected close reason expired, got %s", got.CloseReason)
	}
	if len(got.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got.Results))
	}
	if !got.Results[0].Winner {
		t.Error("sole participant should be the winner")
	}
}

func TestLifecycle_MissedTransitionSelfHeals(t *testing.T) {
	// Jump the clock straight past both boundaries: a single read must
	// land the competition in closed.
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "", 0, 0)
	c := env.create(t, time.Hour, time.Hour)
	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	env.clock.Advance(48 * time.Hour)
	got, err := env.svc.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.CompetitionClosed {
		t.Errorf("expected closed, got %s", got.Status)
	}
}

// --- Ranking ---

func TestLeaderboard_RanksByReturn(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "AAPL", 100, 50) // equity 10000
	env.seedAccount(t, "bob", "TSLA", 100, 20)   // equity 10000
	c := env.create(t, 0, 24*time.Hour)

	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "bob"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	// Trigger activation + baseline capture.
	if _, err := env.svc.Get(context.Background(), c.ID); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	env.setPrice("AAPL", 55) // alice: 10500, +5%
	env.setPrice("TSLA", 40) // bob: 12000, +20%

	entries, err := env.svc.Leaderboard(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ParticipantID != "bob" || entries[0].Rank != 1 {
		t.Errorf("expected bob ranked 1, got %s rank %d", entries[0].ParticipantID, entries[0].Rank)
	}
	if !entries[0].Return.Equal(d(0.2)) {
		t.Errorf("expected bob return 0.2, got %s", entries[0].Return)
	}
	if entries[1].ParticipantID != "alice" || entries[1].Rank != 2 {
		t.Errorf("expected alice ranked 2, got %s rank %d", entries[1].ParticipantID, entries[1].Rank)
	}
	if !entries[1].Return.Equal(d(0.05)) {
		t.Errorf("expected alice return 0.05, got %s", entries[1].Return)
	}
}

func TestLeaderboard_TieBreaksByEnrollment(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "", 0, 0)
	env.seedAccount(t, "bob", "", 0, 0)
	c := env.create(t, 0, 24*time.Hour)

	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "bob"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	env.clock.Advance(time.Minute)
	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	entries, err := env.svc.Leaderboard(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if entries[0].ParticipantID != "bob" {
		t.Errorf("tie should break to the earlier enrollee, got %s", entries[0].ParticipantID)
	}
}

// --- Enrollment ---

func TestEnroll_DuplicateRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "", 0, 0)
	c := env.create(t, time.Hour, time.Hour)

	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	_, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice")
	if !errors.Is(err, competition.ErrAlreadyEnrolled) {
		t.Errorf("expected ErrAlreadyEnrolled, got %v", err)
	}
}

func TestEnroll_ClosedCompetitionRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "", 0, 0)
	c := env.create(t, 0, time.Hour)

	env.clock.Advance(2 * time.Hour)
	_, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice")
	if !errors.Is(err, competition.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestEnroll_LateEnrollmentBaselinesAtEntry(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "AAPL", 100, 50)
	c := env.create(t, 0, 24*time.Hour)

	// Price moves before alice joins the running competition.
	env.setPrice("AAPL", 60)
	got, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice")
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	// Baseline is equity at entry (5000 cash + 100×60), not at start.
	if !got.Participants[0].StartingEquity.Equal(d(11000)) {
		t.Errorf("expected baseline 11000, got %s", got.Participants[0].StartingEquity)
	}
}

func TestEnrollTeam_ScoredBySummedEquity(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "AAPL", 100, 50)
	env.seedAccount(t, "bob", "", 0, 0)
	c := env.create(t, 0, 24*time.Hour)

	if _, err := env.svc.EnrollTeam(context.Background(), c.ID, "quants", []string{"alice", "bob"}); err != nil {
		t.Fatalf("enroll team failed: %v", err)
	}
	if _, err := env.svc.Get(context.Background(), c.ID); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	entries, err := env.svc.Leaderboard(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Kind != model.ParticipantTeam {
		t.Errorf("expected team entry, got %s", entries[0].Kind)
	}
	if !entries[0].Equity.Equal(d(20000)) {
		t.Errorf("expected summed equity 20000, got %s", entries[0].Equity)
	}
}

// --- Closing ---

func TestForceClose_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "", 0, 0)
	c := env.create(t, 0, 24*time.Hour)
	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	first, err := env.svc.ForceClose(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("force close failed: %v", err)
	}
	if first.Status != model.CompetitionClosed {
		t.Fatalf("expected closed, got %s", first.Status)
	}
	if first.CloseReason != model.CloseReasonForced {
		t.Errorf("expected forced close reason, got %s", first.CloseReason)
	}

	env.clock.Advance(time.Hour)
	second, err := env.svc.ForceClose(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("second force close failed: %v", err)
	}
	if !second.ClosedAt.Equal(first.ClosedAt) {
		t.Error("repeated close must not recompute results")
	}
}

func TestClose_ResultsFrozenAgainstLaterPrices(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "AAPL", 100, 50)
	c := env.create(t, 0, time.Hour)
	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if _, err := env.svc.Get(context.Background(), c.ID); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if _, err := env.svc.ForceClose(context.Background(), c.ID); err != nil {
		t.Fatalf("force close failed: %v", err)
	}

	// Later price moves must not leak into the persisted standings.
	env.setPrice("AAPL", 500)
	entries, err := env.svc.Leaderboard(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if !entries[0].Equity.Equal(d(10000)) {
		t.Errorf("closed leaderboard should keep final equity 10000, got %s", entries[0].Equity)
	}
}

func TestOnWin_InvokedForWinningMembers(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "", 0, 0)
	c := env.create(t, 0, time.Hour)

	var won []string
	env.svc.OnWin(func(_ context.Context, accountID string) {
		won = append(won, accountID)
	})

	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if _, err := env.svc.ForceClose(context.Background(), c.ID); err != nil {
		t.Fatalf("force close failed: %v", err)
	}
	if len(won) != 1 || won[0] != "alice" {
		t.Errorf("expected win callback for alice, got %v", won)
	}
}

// --- Sampler ---

func TestSampler_RecordTradeSnapshotsEnrolledAccounts(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "AAPL", 100, 50)
	env.seedAccount(t, "bob", "", 0, 0)
	c := env.create(t, 0, 24*time.Hour)
	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	sampler := competition.NewSampler(env.svc, time.Hour)
	sampler.RecordTrade(context.Background(), "alice")
	sampler.RecordTrade(context.Background(), "bob") // not enrolled

	snaps, err := env.store.GetSnapshotsByCompetition(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("failed to load snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].AccountID != "alice" {
		t.Errorf("expected snapshot for alice, got %s", snaps[0].AccountID)
	}
	if !snaps[0].Equity.Equal(d(10000)) {
		t.Errorf("expected equity 10000, got %s", snaps[0].Equity)
	}
	if snaps[0].Incomplete {
		t.Error("snapshot with all symbols priced must be complete")
	}
}

func TestSampler_SampleAllCoversActiveCompetitions(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "", 0, 0)
	env.seedAccount(t, "bob", "", 0, 0)
	c := env.create(t, 0, 24*time.Hour)
	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "alice"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if _, err := env.svc.EnrollAccount(context.Background(), c.ID, "bob"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	sampler := competition.NewSampler(env.svc, time.Hour)
	sampler.SampleAll(context.Background())

	snaps, err := env.store.GetSnapshotsByCompetition(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("failed to load snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Errorf("expected 2 snapshots, got %d", len(snaps))
	}
}
