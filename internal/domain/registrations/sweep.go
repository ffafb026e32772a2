package registrations

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSweepBatch       = 500
	DefaultSweepConcurrency = 4
)

// SweepResult summarises one reconciliation pass.
type SweepResult struct {
	Events   int
	Promoted int
	Failed   int
}

// Sweeper re-runs promotion for every event that has free seats and a
// non-empty waitlist. It repairs promotions lost between a cancellation
// and its deferred job.
type Sweeper struct {
	engine      *Engine
	store       Store
	batch       int
	concurrency int
	logger      zerolog.Logger
}

func NewSweeper(engine *Engine, store Store, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		engine:      engine,
		store:       store,
		batch:       DefaultSweepBatch,
		concurrency: DefaultSweepConcurrency,
		logger:      logger.With().Str("component", "waitlist_sweep").Logger(),
	}
}

// SetConcurrency bounds how many events are promoted in parallel.
func (s *Sweeper) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// Sweep promotes each candidate event once. Per-event failures are counted
// and logged; only a failure to list candidates aborts the pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	eventIDs, err := s.store.EventsNeedingPromotion(ctx, s.batch)
	if err != nil {
		return SweepResult{}, err
	}

	var promoted, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range eventIDs {
		g.Go(func() error {
			recs, err := s.engine.PromoteWaitlist(gctx, id)
			if err != nil {
				failed.Add(1)
				s.logger.Warn().Err(err).Str("event_id", id).Msg("sweep promotion failed")
				return nil
			}
			promoted.Add(int64(len(recs)))
			return nil
		})
	}
	_ = g.Wait()

	result := SweepResult{
		Events:   len(eventIDs),
		Promoted: int(promoted.Load()),
		Failed:   int(failed.Load()),
	}
	if result.Events > 0 {
		s.logger.Info().
			Int("events", result.Events).
			Int("promoted", result.Promoted).
			Int("failed", result.Failed).
			Msg("waitlist sweep complete")
	}
	return result, ctx.Err()
}
