// Package competition manages time-boxed trading contests: enrollment,
// clock-driven state transitions, leaderboards, and winner determination.
//
// Transitions (scheduled → active → closed) are re-evaluated lazily on each
// access against the injected clock, so a missed scheduled transition
// (process down at the boundary) self-heals on the next read. No operator
// can force a transition early except an explicit force-close, which is
// recorded as an abnormal closure.
package competition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockarena/engine/internal/clock"
	"github.com/stockarena/engine/internal/metrics"
	"github.com/stockarena/engine/internal/model"
	"github.com/stockarena/engine/internal/notify"
	"github.com/stockarena/engine/internal/store"
	"github.com/stockarena/engine/internal/valuation"
)

var (
	// ErrInvalidWindow is returned when end does not follow start.
	ErrInvalidWindow = errors.New("competition: end must be after start")

	// ErrClosed is returned when mutating a closed competition.
	ErrClosed = errors.New("competition: competition is closed")

	// ErrAlreadyEnrolled is returned on duplicate enrollment.
	ErrAlreadyEnrolled = errors.New("competition: participant already enrolled")
)

// LeaderboardEntry is one ranked row of a live or final leaderboard.
type LeaderboardEntry struct {
	ParticipantID  string          `json:"participant_id"`
	Kind           string          `json:"kind"`
	StartingEquity decimal.Decimal `json:"starting_equity"`
	Equity         decimal.Decimal `json:"equity"`
	Return         decimal.Decimal `json:"return"`
	Rank           int             `json:"rank"`
	Incomplete     bool            `json:"incomplete,omitempty"`
}

// Service drives the competition state machine.
type Service struct {
	store    store.Store
	valuator *valuation.Valuator
	clock    clock.Clock
	notifier notify.Notifier
	onWin    func(ctx context.Context, accountID string)
}

// NewService creates a competition service.
func NewService(st store.Store, v *valuation.Valuator, clk clock.Clock, n notify.Notifier) *Service {
	return &Service{store: st, valuator: v, clock: clk, notifier: n}
}

// OnWin registers a callback invoked once per winning account when a
// competition closes, whether by expiry or force-close. Team wins invoke it
// for every member.
func (s *Service) OnWin(fn func(ctx context.Context, accountID string)) {
	s.onWin = fn
}

// Create schedules a new competition.
func (s *Service) Create(ctx context.Context, name string, startAt, endAt time.Time) (*model.Competition, error) {
	if !endAt.After(startAt) {
		return nil, ErrInvalidWindow
	}
	c := &model.Competition{
		ID:           uuid.New().String(),
		Name:         name,
		StartAt:      startAt,
		EndAt:        endAt,
		Status:       model.CompetitionScheduled,
		Participants: []model.Participant{},
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.CreateCompetition(ctx, c); err != nil {
		return nil, err
	}
	slog.Info("competition created", "id", c.ID, "name", name, "start", startAt, "end", endAt)
	return c, nil
}

// Get returns a competition with its state freshened against the clock.
func (s *Service) Get(ctx context.Context, id string) (*model.Competition, error) {
	c, err := s.store.GetCompetition(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.refresh(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns all competitions, each freshened against the clock.
func (s *Service) List(ctx context.Context) ([]model.Competition, error) {
	comps, err := s.store.ListCompetitions(ctx)
	if err != nil {
		return nil, err
	}
	active := 0
	for i := range comps {
		if err := s.refresh(ctx, &comps[i]); err != nil {
			return nil, err
		}
		if comps[i].Status == model.CompetitionActive {
			active++
		}
	}
	metrics.ActiveCompetitions.Set(float64(active))
	return comps, nil
}

// EnrollAccount enrolls a single account.
func (s *Service) EnrollAccount(ctx context.Context, competitionID, accountID string) (*model.Competition, error) {
	return s.enroll(ctx, competitionID, model.Participant{
		ID:      accountID,
		Kind:    model.ParticipantAccount,
		Members: []string{accountID},
	})
}

// EnrollTeam enrolls a named team of accounts scored by summed equity.
func (s *Service) EnrollTeam(ctx context.Context, competitionID, teamName string, memberIDs []string) (*model.Competition, error) {
	return s.enroll(ctx, competitionID, model.Participant{
		ID:      teamName,
		Kind:    model.ParticipantTeam,
		Members: memberIDs,
	})
}

func (s *Service) enroll(ctx context.Context, competitionID string, p model.Participant) (*model.Competition, error) {
	c, err := s.Get(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CompetitionClosed {
		return nil, ErrClosed
	}
	for _, existing := range c.Participants {
		if existing.ID == p.ID {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyEnrolled, p.ID)
		}
	}

	p.EnrolledAt = s.clock.Now()
	if c.Status == model.CompetitionActive {
		// Late enrollment into a running competition: baseline is the
		// equity at enrollment time.
		equity, _ := s.participantEquity(ctx, p)
		p.StartingEquity = equity
	}

	c.Participants = append(c.Participants, p)
	if err := s.store.UpdateCompetition(ctx, c); err != nil {
		return nil, err
	}
	slog.Info("participant enrolled", "competition", c.ID, "participant", p.ID, "kind", p.Kind)
	return c, nil
}

// Leaderboard ranks participants by return. Live competitions are ranked
// against a fresh price snapshot; closed competitions return the persisted
// final results.
func (s *Service) Leaderboard(ctx context.Context, competitionID string) ([]LeaderboardEntry, error) {
	c, err := s.Get(ctx, competitionID)
	if err != nil {
		return nil, err
	}

	if c.Status == model.CompetitionClosed {
		entries := make([]LeaderboardEntry, 0, len(c.Results))
		for _, r := range c.Results {
			entries = append(entries, LeaderboardEntry{
				ParticipantID:  r.ParticipantID,
				Kind:           participantKind(c, r.ParticipantID),
				StartingEquity: r.StartingEquity,
				Equity:         r.FinalEquity,
				Return:         r.Return,
				Rank:           r.Rank,
			})
		}
		return entries, nil
	}

	entries := make([]LeaderboardEntry, 0, len(c.Participants))
	for _, p := range c.Participants {
		equity, incomplete := s.participantEquity(ctx, p)
		entries = append(entries, LeaderboardEntry{
			ParticipantID:  p.ID,
			Kind:           p.Kind,
			StartingEquity: p.StartingEquity,
			Equity:         equity,
			Return:         windowReturn(p.StartingEquity, equity),
			Incomplete:     incomplete,
		})
	}
	rankEntries(entries, c.Participants)
	return entries, nil
}

// ForceClose closes a competition before its end time. The abnormal
// closure reason is recorded. Closing an already-closed competition is a
// no-op returning the existing result.
func (s *Service) ForceClose(ctx context.Context, competitionID string) (*model.Competition, error) {
	c, err := s.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CompetitionClosed {
		return c, nil
	}
	if err := s.close(ctx, c, model.CloseReasonForced); err != nil {
		return nil, err
	}
	return c, nil
}

// refresh applies any transitions the clock has made due. It persists
// changes before returning so transitions survive a crash.
func (s *Service) refresh(ctx context.Context, c *model.Competition) error {
	now := s.clock.Now()
	changed := false

	if c.Status == model.CompetitionScheduled && !now.Before(c.StartAt) {
		c.Status = model.CompetitionActive
		changed = true
		slog.Info("competition activated", "id", c.ID, "name", c.Name)
	}

	if c.Status == model.CompetitionActive {
		// Capture baselines not yet recorded (activation just happened, or
		// an earlier capture failed on quote errors).
		for i := range c.Participants {
			if c.Participants[i].StartingEquity.IsZero() {
				equity, incomplete := s.participantEquity(ctx, c.Participants[i])
				if !incomplete && !equity.IsZero() {
					c.Participants[i].StartingEquity = equity
					changed = true
				}
			}
		}

		if !now.Before(c.EndAt) {
			return s.close(ctx, c, model.CloseReasonExpired)
		}
	}

	if changed {
		return s.store.UpdateCompetition(ctx, c)
	}
	return nil
}

// close computes final standings, ranks them, and persists the terminal
// state. Ties on return break by earliest enrollment.
func (s *Service) close(ctx context.Context, c *model.Competition, reason string) error {
	entries := make([]LeaderboardEntry, 0, len(c.Participants))
	for _, p := range c.Participants {
		equity, incomplete := s.participantEquity(ctx, p)
		entries = append(entries, LeaderboardEntry{
			ParticipantID:  p.ID,
			Kind:           p.Kind,
			StartingEquity: p.StartingEquity,
			Equity:         equity,
			Return:         windowReturn(p.StartingEquity, equity),
			Incomplete:     incomplete,
		})
	}
	rankEntries(entries, c.Participants)

	c.Results = make([]model.CompetitionResult, len(entries))
	for i, e := range entries {
		c.Results[i] = model.CompetitionResult{
			ParticipantID:  e.ParticipantID,
			StartingEquity: e.StartingEquity,
			FinalEquity:    e.Equity,
			Return:         e.Return,
			Rank:           e.Rank,
			Winner:         e.Rank == 1,
		}
	}

	c.Status = model.CompetitionClosed
	c.CloseReason = reason
	c.ClosedAt = s.clock.Now()

	if err := s.store.UpdateCompetition(ctx, c); err != nil {
		return err
	}

	slog.Info("competition closed", "id", c.ID, "name", c.Name, "reason", reason, "participants", len(c.Results))
	for _, r := range c.Results {
		if !r.Winner {
			continue
		}
		notify.Fire(s.notifier, r.ParticipantID, "competition_won", map[string]string{
			"competition": c.Name,
			"return":      r.Return.String(),
		})
		if s.onWin != nil {
			for _, p := range c.Participants {
				if p.ID == r.ParticipantID {
					for _, member := range p.Members {
						s.onWin(ctx, member)
					}
				}
			}
		}
	}
	return nil
}

// participantEquity values an account or team at the current snapshot.
func (s *Service) participantEquity(ctx context.Context, p model.Participant) (decimal.Decimal, bool) {
	if p.Kind == model.ParticipantTeam {
		return s.valuator.TeamEquity(ctx, p.Members)
	}
	b, err := s.valuator.Equity(ctx, p.ID)
	if err != nil {
		return decimal.Zero, true
	}
	return b.Equity, b.Incomplete
}

// windowReturn is (equity − starting) / starting, zero when no baseline
// was ever captured.
func windowReturn(starting, equity decimal.Decimal) decimal.Decimal {
	if starting.IsZero() {
		return decimal.Zero
	}
	return equity.Sub(starting).Div(starting)
}

// rankEntries sorts descending by return, ties broken by earliest
// enrollment, and assigns ranks.
func rankEntries(entries []LeaderboardEntry, participants []model.Participant) {
	enrolled := make(map[string]time.Time, len(participants))
	for _, p := range participants {
		enrolled[p.ID] = p.EnrolledAt
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Return.Equal(entries[j].Return) {
			return entries[i].Return.GreaterThan(entries[j].Return)
		}
		return enrolled[entries[i].ParticipantID].Before(enrolled[entries[j].ParticipantID])
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

func participantKind(c *model.Competition, participantID string) string {
	for _, p := range c.Participants {
		if p.ID == participantID {
			return p.Kind
		}
	}
	return model.ParticipantAccount
}
