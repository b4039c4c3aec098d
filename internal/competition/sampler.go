package competition

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stockarena/engine/internal/metrics"
	"github.com/stockarena/engine/internal/model"
)

// Sampler takes periodic portfolio snapshots for every account enrolled in
// an active competition, and one on each qualifying trade. A failed quote
// for one symbol never aborts snapshots for unrelated accounts; partial
// snapshots are persisted flagged incomplete.
type Sampler struct {
	svc      *Service
	interval time.Duration
}

// NewSampler creates a sampler ticking at the given cadence.
func NewSampler(svc *Service, interval time.Duration) *Sampler {
	return &Sampler{svc: svc, interval: interval}
}

// Run samples on a fixed cadence until ctx is canceled. Call in a goroutine.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleAll(ctx)
		}
	}
}

// SampleAll snapshots every enrolled account of every active competition.
func (s *Sampler) SampleAll(ctx context.Context) {
	comps, err := s.svc.List(ctx)
	if err != nil {
		slog.Error("sampler: list competitions", "err", err)
		return
	}
	for _, c := range comps {
		if c.Status != model.CompetitionActive {
			continue
		}
		for _, p := range c.Participants {
			for _, accountID := range p.Members {
				s.snapshot(ctx, c.ID, accountID)
			}
		}
	}
}

// RecordTrade snapshots the account in every active competition that
// includes it. Called after each fill.
func (s *Sampler) RecordTrade(ctx context.Context, accountID string) {
	comps, err := s.svc.List(ctx)
	if err != nil {
		slog.Error("sampler: list competitions", "err", err)
		return
	}
	for _, c := range comps {
		if c.Status != model.CompetitionActive {
			continue
		}
		for _, p := range c.Participants {
			for _, member := range p.Members {
				if member == accountID {
					s.snapshot(ctx, c.ID, accountID)
				}
			}
		}
	}
}

func (s *Sampler) snapshot(ctx context.Context, competitionID, accountID string) {
	b, err := s.svc.valuator.Equity(ctx, accountID)
	if err != nil {
		slog.Warn("sampler: valuation failed", "account", accountID, "err", err)
		return
	}
	snap := &model.PortfolioSnapshot{
		ID:             uuid.New().String(),
		AccountID:      accountID,
		CompetitionID:  competitionID,
		Cash:           b.Cash.Add(b.ReservedCash),
		PositionsValue: b.PositionsValue,
		Equity:         b.Equity,
		Incomplete:     b.Incomplete,
		Timestamp:      s.svc.clock.Now(),
	}
	if err := s.svc.store.InsertSnapshot(ctx, snap); err != nil {
		slog.Warn("sampler: persist snapshot", "account", accountID, "err", err)
		return
	}
	complete := "true"
	if snap.Incomplete {
		complete = "false"
	}
	metrics.SnapshotsTotal.WithLabelValues(complete).Inc()
}
