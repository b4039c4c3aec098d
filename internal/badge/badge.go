// Package badge evaluates achievement badges. Evaluation is a pure function
// of observable account facts, so re-running it is always safe: badges
// already earned are never re-awarded and never revoked.
package badge

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/stockarena/engine/internal/clock"
	"github.com/stockarena/engine/internal/model"
	"github.com/stockarena/engine/internal/notify"
	"github.com/stockarena/engine/internal/store"
	"github.com/stockarena/engine/internal/valuation"
)

// Badge kinds.
const (
	KindFirstTrade        = "first_trade"
	KindTenTrades         = "ten_trades"
	KindHundredTrades     = "hundred_trades"
	KindShortSeller       = "short_seller"
	KindDiversified       = "diversified"
	KindDoubleUp          = "double_up"
	KindCompetitionWinner = "competition_winner"
)

// diversifiedMin is the number of distinct symbols held at once that
// earns the diversified badge.
const diversifiedMin = 5

// Facts are the observable inputs to badge evaluation.
type Facts struct {
	TradeCount      int
	HasShorted      bool
	OpenSymbols     int
	Equity          decimal.Decimal
	StartingCash    decimal.Decimal
	CompetitionsWon int
}

// Evaluate returns every badge kind the facts qualify for. It is pure and
// idempotent: the same facts always produce the same set.
func Evaluate(f Facts) []string {
	var kinds []string
	if f.TradeCount >= 1 {
		kinds = append(kinds, KindFirstTrade)
	}
	if f.TradeCount >= 10 {
		kinds = append(kinds, KindTenTrades)
	}
	if f.TradeCount >= 100 {
		kinds = append(kinds, KindHundredTrades)
	}
	if f.HasShorted {
		kinds = append(kinds, KindShortSeller)
	}
	if f.OpenSymbols >= diversifiedMin {
		kinds = append(kinds, KindDiversified)
	}
	if f.StartingCash.IsPositive() && f.Equity.GreaterThanOrEqual(f.StartingCash.Mul(decimal.NewFromInt(2))) {
		kinds = append(kinds, KindDoubleUp)
	}
	if f.CompetitionsWon >= 1 {
		kinds = append(kinds, KindCompetitionWinner)
	}
	return kinds
}

// Service gathers facts, diffs qualified badges against those already
// persisted, and awards the difference.
type Service struct {
	store    store.Store
	valuator *valuation.Valuator
	clock    clock.Clock
	notifier notify.Notifier
}

// NewService creates a badge service.
func NewService(st store.Store, v *valuation.Valuator, clk clock.Clock, n notify.Notifier) *Service {
	return &Service{store: st, valuator: v, clock: clk, notifier: n}
}

// List returns an account's earned badges.
func (s *Service) List(ctx context.Context, accountID string) ([]model.Badge, error) {
	return s.store.GetBadges(ctx, accountID)
}

// EvaluateAccount re-evaluates the full catalog for one account and awards
// anything newly qualified. Returns the badges awarded by this call. Badge
// failures never propagate into the trading path; callers log and move on.
func (s *Service) EvaluateAccount(ctx context.Context, accountID string) ([]model.Badge, error) {
	facts, err := s.gather(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.award(ctx, accountID, Evaluate(facts))
}

// RecordCompetitionWin awards the competition winner badge directly, since
// win history lives in competition results rather than account state.
func (s *Service) RecordCompetitionWin(ctx context.Context, accountID string) ([]model.Badge, error) {
	return s.award(ctx, accountID, []string{KindCompetitionWinner})
}

func (s *Service) gather(ctx context.Context, accountID string) (Facts, error) {
	orders, err := s.store.GetOrdersByAccount(ctx, accountID)
	if err != nil {
		return Facts{}, err
	}
	positions, err := s.store.GetPositions(ctx, accountID)
	if err != nil {
		return Facts{}, err
	}
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Facts{}, err
	}

	f := Facts{
		TradeCount:   len(orders),
		OpenSymbols:  len(positions),
		StartingCash: acct.StartingCash,
	}
	for _, o := range orders {
		if o.Side == model.SideShort {
			f.HasShorted = true
			break
		}
	}

	// Equity is best-effort: an unpriceable portfolio just skips the
	// equity-based badges this round.
	if b, err := s.valuator.Equity(ctx, accountID); err == nil && !b.Incomplete {
		f.Equity = b.Equity
	}
	return f, nil
}

func (s *Service) award(ctx context.Context, accountID string, qualified []string) ([]model.Badge, error) {
	existing, err := s.store.GetBadges(ctx, accountID)
	if err != nil {
		return nil, err
	}
	earned := make(map[string]bool, len(existing))
	for _, b := range existing {
		earned[b.Kind] = true
	}

	var fresh []model.Badge
	for _, kind := range qualified {
		if earned[kind] {
			continue
		}
		fresh = append(fresh, model.Badge{
			AccountID: accountID,
			Kind:      kind,
			EarnedAt:  s.clock.Now(),
		})
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	if err := s.store.InsertBadges(ctx, fresh); err != nil {
		return nil, err
	}
	for _, b := range fresh {
		slog.Info("badge earned", "account", accountID, "kind", b.Kind)
		notify.Fire(s.notifier, accountID, "badge_earned", map[string]string{"kind": b.Kind})
	}
	return fresh, nil
}
