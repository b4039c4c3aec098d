package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stockarena/engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account
	positions    map[string]map[string]*model.Position // accountID → symbol → position
	orders       []model.Order
	snapshots    []model.PortfolioSnapshot
	competitions map[string]*model.Competition
	badges       map[string][]model.Badge
	watchlists   map[string][]model.WatchItem
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*model.Account),
		positions:    make(map[string]map[string]*model.Position),
		competitions: make(map[string]*model.Competition),
		badges:       make(map[string][]model.Badge),
		watchlists:   make(map[string][]model.WatchItem),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("%w: account %s", ErrConflict, a.ID)
	}
	copy := *a
	s.accounts[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) UpdateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; !ok {
		return fmt.Errorf("%w: account %s", ErrNotFound, a.ID)
	}
	copy := *a
	s.accounts[a.ID] = &copy
	return nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, accountID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[accountID][symbol]
	if !ok {
		return nil, fmt.Errorf("%w: position %s/%s", ErrNotFound, accountID, symbol)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) GetPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions[accountID] {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// CommitFill applies all three fill effects inside one critical section so
// readers never observe a partial fill.
func (s *MemoryStore) CommitFill(_ context.Context, a *model.Account, pos *model.Position, removePosition bool, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; !ok {
		return fmt.Errorf("%w: account %s", ErrNotFound, a.ID)
	}

	acctCopy := *a
	s.accounts[a.ID] = &acctCopy

	if removePosition {
		delete(s.positions[a.ID], pos.Symbol)
	} else {
		if s.positions[a.ID] == nil {
			s.positions[a.ID] = make(map[string]*model.Position)
		}
		posCopy := *pos
		s.positions[a.ID][pos.Symbol] = &posCopy
	}

	s.orders = append(s.orders, *o)
	return nil
}

func (s *MemoryStore) ResetAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; !ok {
		return fmt.Errorf("%w: account %s", ErrNotFound, a.ID)
	}
	copy := *a
	s.accounts[a.ID] = &copy
	delete(s.positions, a.ID)
	return nil
}

func (s *MemoryStore) GetOrdersByAccount(_ context.Context, accountID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.AccountID == accountID {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func (s *MemoryStore) InsertSnapshot(_ context.Context, snap *model.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (s *MemoryStore) GetSnapshotsByAccount(_ context.Context, accountID string, limit int) ([]model.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snaps []model.PortfolioSnapshot
	for _, snap := range s.snapshots {
		if snap.AccountID == accountID {
			snaps = append(snaps, snap)
		}
	}
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[len(snaps)-limit:]
	}
	return snaps, nil
}

func (s *MemoryStore) GetSnapshotsByCompetition(_ context.Context, competitionID string) ([]model.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snaps []model.PortfolioSnapshot
	for _, snap := range s.snapshots {
		if snap.CompetitionID == competitionID {
			snaps = append(snaps, snap)
		}
	}
	return snaps, nil
}

func (s *MemoryStore) CreateCompetition(_ context.Context, c *model.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.competitions[c.ID]; ok {
		return fmt.Errorf("%w: competition %s", ErrConflict, c.ID)
	}
	s.competitions[c.ID] = copyCompetition(c)
	return nil
}

func (s *MemoryStore) GetCompetition(_ context.Context, id string) (*model.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.competitions[id]
	if !ok {
		return nil, fmt.Errorf("%w: competition %s", ErrNotFound, id)
	}
	return copyCompetition(c), nil
}

func (s *MemoryStore) ListCompetitions(_ context.Context) ([]model.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	comps := make([]model.Competition, 0, len(s.competitions))
	for _, c := range s.competitions {
		comps = append(comps, *copyCompetition(c))
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i].CreatedAt.Before(comps[j].CreatedAt) })
	return comps, nil
}

func (s *MemoryStore) UpdateCompetition(_ context.Context, c *model.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.competitions[c.ID]; !ok {
		return fmt.Errorf("%w: competition %s", ErrNotFound, c.ID)
	}
	s.competitions[c.ID] = copyCompetition(c)
	return nil
}

func (s *MemoryStore) GetBadges(_ context.Context, accountID string) ([]model.Badge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	badges := make([]model.Badge, len(s.badges[accountID]))
	copy(badges, s.badges[accountID])
	return badges, nil
}

func (s *MemoryStore) InsertBadges(_ context.Context, badges []model.Badge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range badges {
		s.badges[b.AccountID] = append(s.badges[b.AccountID], b)
	}
	return nil
}

func (s *MemoryStore) GetWatchlist(_ context.Context, accountID string) ([]model.WatchItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]model.WatchItem, len(s.watchlists[accountID]))
	copy(items, s.watchlists[accountID])
	return items, nil
}

func (s *MemoryStore) AddWatchItem(_ context.Context, item *model.WatchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.watchlists[item.AccountID] {
		if existing.Symbol == item.Symbol {
			return fmt.Errorf("%w: %s already on watchlist", ErrConflict, item.Symbol)
		}
	}
	s.watchlists[item.AccountID] = append(s.watchlists[item.AccountID], *item)
	return nil
}

func (s *MemoryStore) RemoveWatchItem(_ context.Context, accountID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.watchlists[accountID]
	for i, item := range items {
		if item.Symbol == symbol {
			s.watchlists[accountID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s not on watchlist", ErrNotFound, symbol)
}

// copyCompetition deep-copies the participant and result slices so callers
// cannot mutate stored state.
func copyCompetition(c *model.Competition) *model.Competition {
	cp := *c
	cp.Participants = make([]model.Participant, len(c.Participants))
	copy(cp.Participants, c.Participants)
	for i := range cp.Participants {
		members := make([]string, len(c.Participants[i].Members))
		copy(members, c.Participants[i].Members)
		cp.Participants[i].Members = members
	}
	cp.Results = make([]model.CompetitionResult, len(c.Results))
	copy(cp.Results, c.Results)
	return &cp
}
