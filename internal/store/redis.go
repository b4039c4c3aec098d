package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockarena/engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the hot read paths (accounts, positions, competitions). Writes
// go to the primary store and invalidate the cache; reads check Redis first
// then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, accountKey(id), a)
	return a, nil
}

func (s *CachedStore) GetPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, positionsKey(accountID), positions)
	return positions, nil
}

func (s *CachedStore) GetCompetition(ctx context.Context, id string) (*model.Competition, error) {
	data, err := s.rdb.Get(ctx, competitionKey(id)).Bytes()
	if err == nil {
		var c model.Competition
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetCompetition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, competitionKey(id), c)
	return c, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cacheJSON(ctx, accountKey(a.ID), a)
	return nil
}

func (s *CachedStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.UpdateAccount(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(a.ID))
	return nil
}

func (s *CachedStore) CommitFill(ctx context.Context, a *model.Account, pos *model.Position, removePosition bool, o *model.Order) error {
	if err := s.primary.CommitFill(ctx, a, pos, removePosition, o); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(a.ID), positionsKey(a.ID))
	return nil
}

func (s *CachedStore) ResetAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.ResetAccount(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(a.ID), positionsKey(a.ID))
	return nil
}

func (s *CachedStore) CreateCompetition(ctx context.Context, c *model.Competition) error {
	if err := s.primary.CreateCompetition(ctx, c); err != nil {
		return err
	}
	s.cacheJSON(ctx, competitionKey(c.ID), c)
	return nil
}

func (s *CachedStore) UpdateCompetition(ctx context.Context, c *model.Competition) error {
	if err := s.primary.UpdateCompetition(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx, competitionKey(c.ID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, accountID, symbol)
}

func (s *CachedStore) GetOrdersByAccount(ctx context.Context, accountID string) ([]model.Order, error) {
	return s.primary.GetOrdersByAccount(ctx, accountID)
}

func (s *CachedStore) InsertSnapshot(ctx context.Context, snap *model.PortfolioSnapshot) error {
	return s.primary.InsertSnapshot(ctx, snap)
}

func (s *CachedStore) GetSnapshotsByAccount(ctx context.Context, accountID string, limit int) ([]model.PortfolioSnapshot, error) {
	return s.primary.GetSnapshotsByAccount(ctx, accountID, limit)
}

func (s *CachedStore) GetSnapshotsByCompetition(ctx context.Context, competitionID string) ([]model.PortfolioSnapshot, error) {
	return s.primary.GetSnapshotsByCompetition(ctx, competitionID)
}

func (s *CachedStore) ListCompetitions(ctx context.Context) ([]model.Competition, error) {
	return s.primary.ListCompetitions(ctx)
}

func (s *CachedStore) GetBadges(ctx context.Context, accountID string) ([]model.Badge, error) {
	return s.primary.GetBadges(ctx, accountID)
}

func (s *CachedStore) InsertBadges(ctx context.Context, badges []model.Badge) error {
	return s.primary.InsertBadges(ctx, badges)
}

func (s *CachedStore) GetWatchlist(ctx context.Context, accountID string) ([]model.WatchItem, error) {
	return s.primary.GetWatchlist(ctx, accountID)
}

func (s *CachedStore) AddWatchItem(ctx context.Context, item *model.WatchItem) error {
	return s.primary.AddWatchItem(ctx, item)
}

func (s *CachedStore) RemoveWatchItem(ctx context.Context, accountID, symbol string) error {
	return s.primary.RemoveWatchItem(ctx, accountID, symbol)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func accountKey(id string) string      { return fmt.Sprintf("account:%s", id) }
func positionsKey(id string) string    { return fmt.Sprintf("positions:%s", id) }
func competitionKey(id string) string  { return fmt.Sprintf("competition:%s", id) }
