// Package account manages account lifecycle and administration: creation,
// suspension, short-sale eligibility, resets, and watchlists. Accounts are
// never deleted; suspension blocks trading while preserving history.
package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockarena/engine/internal/clock"
	"github.com/stockarena/engine/internal/model"
	"github.com/stockarena/engine/internal/store"
)

var (
	// ErrEmptyName is returned when creating an account without a name.
	ErrEmptyName = errors.New("account: name must not be empty")

	// ErrEmptySymbol is returned for blank watchlist symbols.
	ErrEmptySymbol = errors.New("account: symbol must not be empty")
)

// Service manages accounts and their watchlists.
type Service struct {
	store        store.Store
	clock        clock.Clock
	startingCash decimal.Decimal
}

// NewService creates an account service. startingCash is granted to every
// new account and restored on reset.
func NewService(st store.Store, clk clock.Clock, startingCash decimal.Decimal) *Service {
	return &Service{store: st, clock: clk, startingCash: startingCash}
}

// Create opens a new active account seeded with the starting balance.
func (s *Service) Create(ctx context.Context, name, role string) (*model.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if role != model.RoleAdmin {
		role = model.RoleStandard
	}
	now := s.clock.Now()
	a := &model.Account{
		ID:           uuid.New().String(),
		Name:         name,
		Role:         role,
		Active:       true,
		Cash:         s.startingCash,
		ReservedCash: decimal.Zero,
		StartingCash: s.startingCash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("account created", "id", a.ID, "name", name, "role", a.Role)
	return a, nil
}

// Get retrieves an account by ID.
func (s *Service) Get(ctx context.Context, id string) (*model.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// List returns all accounts.
func (s *Service) List(ctx context.Context) ([]model.Account, error) {
	return s.store.ListAccounts(ctx)
}

// Suspend deactivates an account. Suspended accounts keep their balances,
// positions, and history but cannot trade.
func (s *Service) Suspend(ctx context.Context, id string) (*model.Account, error) {
	return s.setActive(ctx, id, false)
}

// Reactivate re-enables a suspended account.
func (s *Service) Reactivate(ctx context.Context, id string) (*model.Account, error) {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) (*model.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Active == active {
		return a, nil
	}
	a.Active = active
	a.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateAccount(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("account active flag changed", "id", id, "active", active)
	return a, nil
}

// SetShortEligibility toggles whether the account may open short positions.
// Revoking eligibility leaves existing shorts open; the holder can still
// cover them.
func (s *Service) SetShortEligibility(ctx context.Context, id string, eligible bool) (*model.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	a.ShortEligible = eligible
	a.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateAccount(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("short eligibility changed", "id", id, "eligible", eligible)
	return a, nil
}

// Reset restores the account to its starting balance and closes every open
// position, atomically. Order history and badges are preserved.
func (s *Service) Reset(ctx context.Context, id string) (*model.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Cash = a.StartingCash
	a.ReservedCash = decimal.Zero
	a.UpdatedAt = s.clock.Now()
	if err := s.store.ResetAccount(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("account reset", "id", id, "cash", a.Cash)
	return a, nil
}

// Watchlist returns the account's watched symbols.
func (s *Service) Watchlist(ctx context.Context, accountID string) ([]model.WatchItem, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.GetWatchlist(ctx, accountID)
}

// Watch adds a symbol to the watchlist. Re-adding a symbol already on the
// list fails with store.ErrConflict.
func (s *Service) Watch(ctx context.Context, accountID, symbol string) (*model.WatchItem, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, ErrEmptySymbol
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	item := &model.WatchItem{
		AccountID: accountID,
		Symbol:    symbol,
		AddedAt:   s.clock.Now(),
	}
	if err := s.store.AddWatchItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Unwatch removes a symbol from the watchlist.
func (s *Service) Unwatch(ctx context.Context, accountID, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return ErrEmptySymbol
	}
	return s.store.RemoveWatchItem(ctx, accountID, symbol)
}
