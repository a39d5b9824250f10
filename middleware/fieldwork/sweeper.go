package fieldwork

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"fieldproof-backend/core/fieldwork"
	fwstore "fieldproof-backend/storage/fieldwork"
)

// SweepReport summarises one sweep.
type SweepReport struct {
	Scanned    int `json:"scanned"`
	Reconciled int `json:"reconciled"`
	Funded     int `json:"funded"`
	Settled    int `json:"settled"`
	Failed     int `json:"failed"`
}

// Sweep reconciles every aggregate with outstanding work: due deadlines,
// unconfirmed funding and pending settlement lines. Running it
// concurrently with live commands is safe; whichever writer commits first
// applies a transition and the other observes it already applied.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { e.metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var rep SweepReport
	ids, err := e.store.ListActive(ctx)
	if err != nil {
		return rep, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++
		if err := e.sweepOne(ctx, id, &rep); err != nil {
			rep.Failed++
			e.log.Warn().Err(err).Str("task_id", id).Msg("sweep task failed")
		}
	}
	e.replayMirror(ctx)
	return rep, nil
}

func (e *Engine) sweepOne(ctx context.Context, id string, rep *SweepReport) error {
	agg, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if next := agg.NextDeadline(); next != nil && !e.clock.Now().Before(*next) {
		if agg, err = e.Reconcile(ctx, id); err != nil {
			return err
		}
		rep.Reconciled++
	}
	if agg.Task.Status == fieldwork.TaskDraft && agg.Escrow != nil && agg.Escrow.Status == fieldwork.EscrowPending {
		if agg, err = e.completeFunding(ctx, agg); err != nil {
			return err
		}
		if agg.Task.Status == fieldwork.TaskPosted {
			rep.Funded++
		}
	}
	if settlementDue(agg) {
		agg = e.settle(ctx, agg, true)
		if agg.Escrow.Status.Settled() {
			rep.Settled++
		}
	}
	return nil
}

// Locker excludes other replicas from sweeping.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Sweeper runs Sweep on an interval.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	lock     Locker
	log      zerolog.Logger
}

// NewSweeper builds a sweeper; lock may be nil for a single replica.
func NewSweeper(engine *Engine, interval time.Duration, lock Locker, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{engine: engine, interval: interval, lock: lock, log: log.With().Str("component", "sweeper").Logger()}
}

// RunOnce sweeps unless another replica holds the lock. It reports whether a sweep ran.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, bool, error) {
	if s.lock != nil {
		if err := s.lock.Acquire(ctx, s.interval); err != nil {
			if errors.Is(err, fwstore.ErrLockHeld) {
				return SweepReport{}, false, nil
			}
			return SweepReport{}, false, err
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn().Err(err).Msg("release sweep lock")
			}
		}()
	}
	rep, err := s.engine.Sweep(ctx)
	return rep, true, err
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rep, ran, err := s.RunOnce(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
				continue
			}
			if ran && (rep.Reconciled > 0 || rep.Funded > 0 || rep.Settled > 0 || rep.Failed > 0) {
				s.log.Info().
					Int("scanned", rep.Scanned).
					Int("reconciled", rep.Reconciled).
					Int("funded", rep.Funded).
					Int("settled", rep.Settled).
					Int("failed", rep.Failed).
					Msg("sweep complete")
			}
		}
	}
}
