package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"qrattend/internal/clock"
	"qrattend/internal/log"
	"qrattend/internal/metrics"
)

// Sweeper evicts expired entries from the live store. Admission re-checks expiry on every
// attempt, so the sweep only bounds memory.
type Sweeper struct {
	Store    LiveStore
	Clock    clock.Clock
	Interval time.Duration

	logger zerolog.Logger
}

// NewSweeper creates a sweeper running every interval.
func NewSweeper(store LiveStore, clk clock.Clock, interval time.Duration) *Sweeper {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Sweeper{Store: store, Clock: clk, Interval: interval, logger: log.WithComponent("sweeper")}
}

// Run sweeps on a ticker until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.Interval).Msg("session sweeper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs one pass and returns the number of evicted sessions.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	removed, err := s.Store.Sweep(ctx, s.Clock.Now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("live store sweep failed")
	}
	if removed > 0 {
		metrics.SessionTransitionTotal.WithLabelValues("expired").Add(float64(removed))
	}
	if n, err := s.Store.Count(ctx); err == nil {
		metrics.SetLiveSessions(n)
	}
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("expired sessions evicted")
	}
	return removed
}
