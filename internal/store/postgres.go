package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockarena/engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Competition participants and results are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, role, active, short_eligible, cash, reserved_cash, starting_cash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		a.ID, a.Name, a.Role, a.Active, a.ShortEligible,
		a.Cash.String(), a.ReservedCash.String(), a.StartingCash.String(),
		a.CreatedAt, a.UpdatedAt,
	)
	return err
}

const accountColumns = `id, name, role, active, short_eligible,
	cash::TEXT, reserved_cash::TEXT, starting_cash::TEXT, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var cash, reserved, starting string
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Active, &a.ShortEligible,
		&cash, &reserved, &starting, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Cash, _ = decimal.NewFromString(cash)
	a.ReservedCash, _ = decimal.NewFromString(reserved)
	a.StartingCash, _ = decimal.NewFromString(starting)
	return &a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts
		 SET name = $2, role = $3, active = $4, short_eligible = $5,
		     cash = $6::NUMERIC, reserved_cash = $7::NUMERIC, updated_at = $8
		 WHERE id = $1`,
		a.ID, a.Name, a.Role, a.Active, a.ShortEligible,
		a.Cash.String(), a.ReservedCash.String(), a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", ErrNotFound, a.ID)
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

const positionColumns = `account_id, symbol, quantity::TEXT, avg_cost::TEXT, realized_pnl::TEXT, updated_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var qty, avg, realized string
	if err := row.Scan(&p.AccountID, &p.Symbol, &qty, &avg, &realized, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Quantity, _ = decimal.NewFromString(qty)
	p.AvgCost, _ = decimal.NewFromString(avg)
	p.RealizedPnL, _ = decimal.NewFromString(realized)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = $1 AND symbol = $2`,
		accountID, symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: position %s/%s", ErrNotFound, accountID, symbol)
		}
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) GetPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = $1 ORDER BY symbol`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// CommitFill runs all three fill effects in one transaction.
func (s *PostgresStore) CommitFill(ctx context.Context, a *model.Account, pos *model.Position, removePosition bool, o *model.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fill tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE accounts
		 SET cash = $2::NUMERIC, reserved_cash = $3::NUMERIC, updated_at = $4
		 WHERE id = $1`,
		a.ID, a.Cash.String(), a.ReservedCash.String(), a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("fill: update account: %w", err)
	}

	if removePosition {
		_, err = tx.Exec(ctx,
			`DELETE FROM positions WHERE account_id = $1 AND symbol = $2`,
			a.ID, pos.Symbol)
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO positions (account_id, symbol, quantity, avg_cost, realized_pnl, updated_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)
			 ON CONFLICT (account_id, symbol) DO UPDATE
			 SET quantity = EXCLUDED.quantity, avg_cost = EXCLUDED.avg_cost,
			     realized_pnl = EXCLUDED.realized_pnl, updated_at = EXCLUDED.updated_at`,
			pos.AccountID, pos.Symbol,
			pos.Quantity.String(), pos.AvgCost.String(), pos.RealizedPnL.String(),
			pos.UpdatedAt,
		)
	}
	if err != nil {
		return fmt.Errorf("fill: upsert position: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, account_id, symbol, side, quantity, price, notional, market_open, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		o.ID, o.AccountID, o.Symbol, o.Side,
		o.Quantity.String(), o.Price.String(), o.Notional.String(),
		o.MarketOpen, o.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("fill: insert order: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ResetAccount(ctx context.Context, a *model.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE accounts
		 SET cash = $2::NUMERIC, reserved_cash = $3::NUMERIC, updated_at = $4
		 WHERE id = $1`,
		a.ID, a.Cash.String(), a.ReservedCash.String(), a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("reset: update account: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE account_id = $1`, a.ID); err != nil {
		return fmt.Errorf("reset: delete positions: %w", err)
	}

	return tx.Commit(ctx)
}

const orderColumns = `id, account_id, symbol, side, quantity::TEXT, price::TEXT, notional::TEXT, market_open, timestamp`

func (s *PostgresStore) GetOrdersByAccount(ctx context.Context, accountID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE account_id = $1 ORDER BY timestamp`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var qty, price, notional string
		if err := rows.Scan(&o.ID, &o.AccountID, &o.Symbol, &o.Side,
			&qty, &price, &notional, &o.MarketOpen, &o.Timestamp); err != nil {
			return nil, err
		}
		o.Quantity, _ = decimal.NewFromString(qty)
		o.Price, _ = decimal.NewFromString(price)
		o.Notional, _ = decimal.NewFromString(notional)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *model.PortfolioSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolio_snapshots (id, account_id, competition_id, cash, positions_value, equity, incomplete, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		snap.ID, snap.AccountID, snap.CompetitionID,
		snap.Cash.String(), snap.PositionsValue.String(), snap.Equity.String(),
		snap.Incomplete, snap.Timestamp,
	)
	return err
}

const snapshotColumns = `id, account_id, competition_id, cash::TEXT, positions_value::TEXT, equity::TEXT, incomplete, timestamp`

func scanSnapshots(rows pgx.Rows) ([]model.PortfolioSnapshot, error) {
	var snaps []model.PortfolioSnapshot
	for rows.Next() {
		var snap model.PortfolioSnapshot
		var cash, pv, equity string
		if err := rows.Scan(&snap.ID, &snap.AccountID, &snap.CompetitionID,
			&cash, &pv, &equity, &snap.Incomplete, &snap.Timestamp); err != nil {
			return nil, err
		}
		snap.Cash, _ = decimal.NewFromString(cash)
		snap.PositionsValue, _ = decimal.NewFromString(pv)
		snap.Equity, _ = decimal.NewFromString(equity)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) GetSnapshotsByAccount(ctx context.Context, accountID string, limit int) ([]model.PortfolioSnapshot, error) {
	q := `SELECT ` + snapshotColumns + ` FROM portfolio_snapshots WHERE account_id = $1 ORDER BY timestamp`
	args := []any{accountID}
	if limit > 0 {
		// Newest limit rows, returned oldest first.
		q = `SELECT ` + snapshotColumns + ` FROM (
			SELECT ` + snapshotColumns + ` FROM portfolio_snapshots
			WHERE account_id = $1 ORDER BY timestamp DESC LIMIT $2
		) sub ORDER BY timestamp`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func (s *PostgresStore) GetSnapshotsByCompetition(ctx context.Context, competitionID string) ([]model.PortfolioSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM portfolio_snapshots WHERE competition_id = $1 ORDER BY timestamp`,
		competitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func (s *PostgresStore) CreateCompetition(ctx context.Context, c *model.Competition) error {
	participants, results, err := marshalCompetitionJSON(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO competitions (id, name, start_at, end_at, status, close_reason, participants, results, created_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Name, c.StartAt, c.EndAt, c.Status, c.CloseReason,
		participants, results, c.CreatedAt, nullableTime(c.ClosedAt),
	)
	return err
}

const competitionColumns = `id, name, start_at, end_at, status, close_reason, participants, results, created_at, closed_at`

func scanCompetition(row pgx.Row) (*model.Competition, error) {
	var c model.Competition
	var participants, results []byte
	var closedAt *time.Time
	err := row.Scan(&c.ID, &c.Name, &c.StartAt, &c.EndAt, &c.Status, &c.CloseReason,
		&participants, &results, &c.CreatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(participants, &c.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &c.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	if closedAt != nil {
		c.ClosedAt = *closedAt
	}
	return &c, nil
}

func (s *PostgresStore) GetCompetition(ctx context.Context, id string) (*model.Competition, error) {
	c, err := scanCompetition(s.pool.QueryRow(ctx,
		`SELECT `+competitionColumns+` FROM competitions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: competition %s", ErrNotFound, id)
		}
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) ListCompetitions(ctx context.Context) ([]model.Competition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+competitionColumns+` FROM competitions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comps []model.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			return nil, err
		}
		comps = append(comps, *c)
	}
	return comps, rows.Err()
}

func (s *PostgresStore) UpdateCompetition(ctx context.Context, c *model.Competition) error {
	participants, results, err := marshalCompetitionJSON(c)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE competitions
		 SET status = $2, close_reason = $3, participants = $4, results = $5, closed_at = $6
		 WHERE id = $1`,
		c.ID, c.Status, c.CloseReason, participants, results, nullableTime(c.ClosedAt),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: competition %s", ErrNotFound, c.ID)
	}
	return nil
}

func (s *PostgresStore) GetBadges(ctx context.Context, accountID string) ([]model.Badge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, kind, earned_at FROM badges WHERE account_id = $1 ORDER BY earned_at`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var badges []model.Badge
	for rows.Next() {
		var b model.Badge
		if err := rows.Scan(&b.AccountID, &b.Kind, &b.EarnedAt); err != nil {
			return nil, err
		}
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

func (s *PostgresStore) InsertBadges(ctx context.Context, badges []model.Badge) error {
	for _, b := range badges {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO badges (account_id, kind, earned_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (account_id, kind) DO NOTHING`,
			b.AccountID, b.Kind, b.EarnedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetWatchlist(ctx context.Context, accountID string) ([]model.WatchItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, symbol, added_at FROM watchlist_items WHERE account_id = $1 ORDER BY added_at`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.WatchItem
	for rows.Next() {
		var item model.WatchItem
		if err := rows.Scan(&item.AccountID, &item.Symbol, &item.AddedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) AddWatchItem(ctx context.Context, item *model.WatchItem) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist_items (account_id, symbol, added_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, symbol) DO NOTHING`,
		item.AccountID, item.Symbol, item.AddedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s already on watchlist", ErrConflict, item.Symbol)
	}
	return nil
}

func (s *PostgresStore) RemoveWatchItem(ctx context.Context, accountID, symbol string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist_items WHERE account_id = $1 AND symbol = $2`,
		accountID, symbol)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s not on watchlist", ErrNotFound, symbol)
	}
	return nil
}

func marshalCompetitionJSON(c *model.Competition) ([]byte, []byte, error) {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return nil, nil, fmt.Errorf("encode participants: %w", err)
	}
	results, err := json.Marshal(c.Results)
	if err != nil {
		return nil, nil, fmt.Errorf("encode results: %w", err)
	}
	return participants, results, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
