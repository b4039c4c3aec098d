// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/stockarena/engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a create collides with an existing record.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// CommitFill and ResetAccount are atomic multi-record writes: either every
// record lands or none does. An Order must never be persisted without its
// matching cash/position effects, and vice versa.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// UpdateAccount persists account mutations (role, suspension,
	// short-eligibility). Cash changes go through CommitFill.
	UpdateAccount(ctx context.Context, a *model.Account) error

	// ListAccounts returns all accounts.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// --- Positions ---

	// GetPosition retrieves one position; ErrNotFound when the account
	// holds no open position in the symbol.
	GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error)

	// GetPositions returns all open positions for an account.
	GetPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// --- Fills ---

	// CommitFill atomically persists the three effects of one fill:
	// updated account balances, the position upsert (or delete, when
	// removePosition is set), and the immutable order record.
	CommitFill(ctx context.Context, a *model.Account, pos *model.Position, removePosition bool, o *model.Order) error

	// ResetAccount atomically restores the account's balances and deletes
	// all of its open positions. Order history is untouched.
	ResetAccount(ctx context.Context, a *model.Account) error

	// --- Orders (append-only, written via CommitFill) ---

	// GetOrdersByAccount returns an account's full trade history, oldest first.
	GetOrdersByAccount(ctx context.Context, accountID string) ([]model.Order, error)

	// --- Portfolio snapshots ---

	// InsertSnapshot appends a portfolio snapshot.
	InsertSnapshot(ctx context.Context, s *model.PortfolioSnapshot) error

	// GetSnapshotsByAccount returns the newest limit snapshots for an
	// account, oldest first. limit <= 0 means no limit.
	GetSnapshotsByAccount(ctx context.Context, accountID string, limit int) ([]model.PortfolioSnapshot, error)

	// GetSnapshotsByCompetition returns all snapshots taken for a competition.
	GetSnapshotsByCompetition(ctx context.Context, competitionID string) ([]model.PortfolioSnapshot, error)

	// --- Competitions ---

	// CreateCompetition persists a new competition.
	CreateCompetition(ctx context.Context, c *model.Competition) error

	// GetCompetition retrieves a competition by ID.
	GetCompetition(ctx context.Context, id string) (*model.Competition, error)

	// ListCompetitions returns all competitions.
	ListCompetitions(ctx context.Context) ([]model.Competition, error)

	// UpdateCompetition persists enrollment, state transitions, and results.
	UpdateCompetition(ctx context.Context, c *model.Competition) error

	// --- Badges ---

	// GetBadges returns all badges earned by an account.
	GetBadges(ctx context.Context, accountID string) ([]model.Badge, error)

	// InsertBadges appends newly earned badges.
	InsertBadges(ctx context.Context, badges []model.Badge) error

	// --- Watchlists ---

	// GetWatchlist returns an account's watchlist.
	GetWatchlist(ctx context.Context, accountID string) ([]model.WatchItem, error)

	// AddWatchItem adds a symbol to a watchlist; ErrConflict on duplicates.
	AddWatchItem(ctx context.Context, item *model.WatchItem) error

	// RemoveWatchItem removes a symbol from a watchlist.
	RemoveWatchItem(ctx context.Context, accountID, symbol string) error
}
