// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy   = "buy"
	SideSell  = "sell"
	SideShort = "short"
	SideCover = "cover"
)

// Account roles.
const (
	RoleStandard = "standard"
	RoleAdmin    = "admin"
)

// Competition statuses. Transitions are driven strictly by the clock:
// scheduled → active → closed. Closed is terminal.
const (
	CompetitionScheduled = "scheduled"
	CompetitionActive    = "active"
	CompetitionClosed    = "closed"
)

// Competition close reasons.
const (
	CloseReasonExpired = "expired"
	CloseReasonForced  = "force_closed"
)

// Participant kinds.
const (
	ParticipantAccount = "account"
	ParticipantTeam    = "team"
)

// Account holds a user's identity and cash balances. Accounts are never
// deleted, only deactivated. ReservedCash holds short-sale proceeds, which
// are not spendable until the short is covered.
type Account struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Role          string          `json:"role" db:"role"`
	Active        bool            `json:"active" db:"active"`
	ShortEligible bool            `json:"short_eligible" db:"short_eligible"`
	Cash          decimal.Decimal `json:"cash" db:"cash"`
	ReservedCash  decimal.Decimal `json:"reserved_cash" db:"reserved_cash"`
	StartingCash  decimal.Decimal `json:"starting_cash" db:"starting_cash"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Position is one account's holding in one symbol. Quantity is signed:
// positive = long, negative = short. A position record exists iff
// quantity != 0; fills that bring quantity to zero remove the record
// atomically with the triggering order.
type Position struct {
	AccountID   string          `json:"account_id" db:"account_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	AvgCost     decimal.Decimal `json:"avg_cost" db:"avg_cost"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Order is an immutable record of a fill. Once created, orders are never
// modified or deleted; corrections are new offsetting orders.
type Order struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Side       string          `json:"side" db:"side"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Notional   decimal.Decimal `json:"notional" db:"notional"`
	MarketOpen bool            `json:"market_open" db:"market_open"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// PortfolioSnapshot is a derived equity sample persisted for leaderboard
// history and performance charts. Incomplete snapshots are taken when one
// or more symbols could not be priced.
type PortfolioSnapshot struct {
	ID             string          `json:"id" db:"id"`
	AccountID      string          `json:"account_id" db:"account_id"`
	CompetitionID  string          `json:"competition_id,omitempty" db:"competition_id"`
	Cash           decimal.Decimal `json:"cash" db:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value" db:"positions_value"`
	Equity         decimal.Decimal `json:"equity" db:"equity"`
	Incomplete     bool            `json:"incomplete" db:"incomplete"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// Participant is an enrolled account or team within a competition.
// StartingEquity is captured when the competition activates (or at
// enrollment, if it is already active) and is the baseline for scoring.
type Participant struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	Members        []string        `json:"members"` // account IDs; one entry for kind=account
	EnrolledAt     time.Time       `json:"enrolled_at"`
	StartingEquity decimal.Decimal `json:"starting_equity"`
}

// CompetitionResult is one participant's final standing in a closed
// competition. Return is (final − starting) / starting.
type CompetitionResult struct {
	ParticipantID  string          `json:"participant_id"`
	StartingEquity decimal.Decimal `json:"starting_equity"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	Return         decimal.Decimal `json:"return"`
	Rank           int             `json:"rank"`
	Winner         bool            `json:"winner"`
}

// Competition is a time-boxed contest scored by equity delta over the
// window. Closed competitions are immutable.
type Competition struct {
	ID           string              `json:"id" db:"id"`
	Name         string              `json:"name" db:"name"`
	StartAt      time.Time           `json:"start_at" db:"start_at"`
	EndAt        time.Time           `json:"end_at" db:"end_at"`
	Status       string              `json:"status" db:"status"`
	CloseReason  string              `json:"close_reason,omitempty" db:"close_reason"`
	Participants []Participant       `json:"participants"`
	Results      []CompetitionResult `json:"results,omitempty"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	ClosedAt     time.Time           `json:"closed_at,omitempty" db:"closed_at"`
}

// Badge is an achievement earned by an account. Append-only; a badge, once
// earned, is never revoked.
type Badge struct {
	AccountID string    `json:"account_id" db:"account_id"`
	Kind      string    `json:"kind" db:"kind"`
	EarnedAt  time.Time `json:"earned_at" db:"earned_at"`
}

// WatchItem is one symbol on an account's watchlist.
type WatchItem struct {
	AccountID string    `json:"account_id" db:"account_id"`
	Symbol    string    `json:"symbol" db:"symbol"`
	AddedAt   time.Time `json:"added_at" db:"added_at"`
}

// SignedDelta maps an order side to the signed quantity delta applied to
// the position ledger: buys and covers add, sells and shorts subtract.
func SignedDelta(side string, qty decimal.Decimal) decimal.Decimal {
	switch side {
	case SideBuy, SideCover:
		return qty
	case SideSell, SideShort:
		return qty.Neg()
	}
	return decimal.Zero
}

// ValidSide reports whether side is one of the four order sides.
func ValidSide(side string) bool {
	switch side {
	case SideBuy, SideSell, SideShort, SideCover:
		return true
	}
	return false
}
