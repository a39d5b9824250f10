package fieldwork

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"fieldproof-backend/core/fieldwork"
)

var errAwaitingConfirmation = errors.New("settlement awaiting provider confirmation")

func settlementDue(agg *fieldwork.Aggregate) bool {
	return agg.Escrow != nil && !agg.Escrow.Stuck && agg.Escrow.PendingLines()
}

type lineOutcome struct {
	key       string
	kind      fieldwork.SettlementKind
	ref       string
	reason    string
	tries     int
	confirmed bool
	rejected  bool
}

func (e *Engine) executeLine(ctx context.Context, reference string, line fieldwork.SettlementLine) (LineReceipt, error) {
	pctx, cancel := e.providerCtx(ctx)
	defer cancel()
	var (
		rec LineReceipt
		err error
	)
	switch line.Kind {
	case fieldwork.SettleRelease:
		rec, err = e.escrow.Release(pctx, reference, line)
	case fieldwork.SettleRefund:
		rec, err = e.escrow.Refund(pctx, reference, line)
	default:
		return LineReceipt{}, fmt.Errorf("%w: unknown settlement kind %q", fieldwork.ErrProviderRejected, line.Kind)
	}
	e.observeCall(string(line.Kind), err)
	return rec, err
}

func (e *Engine) defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = e.policy.SettlementMaxElapsed
	return b
}

// settle sends every pending line to the provider and commits what the
// provider confirmed or refused. With retry, transient failures and
// unconfirmed lines are retried with exponential backoff; without it each
// line gets one attempt and the sweeper picks up the rest.
func (e *Engine) settle(ctx context.Context, agg *fieldwork.Aggregate, retry bool) *fieldwork.Aggregate {
	if !settlementDue(agg) {
		return agg
	}
	taskID := agg.Task.TaskID
	ctx, span := e.start(ctx, "settle", taskID)
	defer span.End()

	reference := agg.Escrow.Reference
	var outcomes []lineOutcome
	for _, line := range agg.Escrow.Lines {
		if line.Status != fieldwork.LinePending {
			continue
		}
		line := line
		out := lineOutcome{key: line.IdempotencyKey, kind: line.Kind}
		op := func() error {
			out.tries++
			rec, err := e.executeLine(ctx, reference, line)
			if err != nil {
				if errors.Is(err, fieldwork.ErrProviderRejected) {
					out.rejected = true
					out.reason = err.Error()
					return backoff.Permanent(err)
				}
				return err
			}
			out.ref = rec.Reference
			out.confirmed = rec.Confirmed
			if !rec.Confirmed && retry {
				return errAwaitingConfirmation
			}
			return nil
		}
		var err error
		if retry {
			err = backoff.Retry(op, backoff.WithContext(e.newBackoff(), ctx))
		} else {
			err = op()
		}
		if err != nil && !out.rejected {
			e.log.Warn().Err(err).Str("task_id", taskID).Str("line", line.IdempotencyKey).Int("tries", out.tries).Msg("settlement line still pending")
		}
		outcomes = append(outcomes, out)
	}

	updated, err := e.store.Update(ctx, taskID, func(a *fieldwork.Aggregate) error {
		now := e.clock.Now()
		for _, o := range outcomes {
			for i := 0; i < o.tries; i++ {
				a.NoteAttempt(o.key)
			}
			switch {
			case o.confirmed:
				if _, err := a.ConfirmLine(o.key, o.ref, now); err != nil {
					return err
				}
			case o.rejected:
				if err := a.RejectLine(o.key, o.reason, now); err != nil {
					return err
				}
			}
		}
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		// custody is unchanged; the provider calls are idempotent and will be replayed
		e.log.Error().Err(err).Str("task_id", taskID).Msg("commit settlement outcome failed")
		return agg
	}
	for _, o := range outcomes {
		switch {
		case o.confirmed:
			e.metrics.SettlementLine.WithLabelValues(string(o.kind), string(fieldwork.LineConfirmed)).Inc()
		case o.rejected:
			e.metrics.SettlementLine.WithLabelValues(string(o.kind), string(fieldwork.LineRejected)).Inc()
			e.log.Error().Str("task_id", taskID).Str("line", o.key).Str("reason", o.reason).Msg("provider rejected settlement; escrow stuck")
		}
	}
	e.dispatch(ctx, updated)
	return updated
}

// RetrySettlement reopens rejected lines and drives every pending line with
// backoff. Only operators may call it.
func (e *Engine) RetrySettlement(ctx context.Context, actor fieldwork.Actor, taskID string) (*fieldwork.Aggregate, error) {
	if actor.Role != fieldwork.RoleOperator {
		return nil, fmt.Errorf("%w: only operators retry settlement", fieldwork.ErrNotAuthorized)
	}
	agg, err := e.store.Update(ctx, taskID, func(a *fieldwork.Aggregate) error {
		if a.Escrow == nil {
			return fmt.Errorf("%w: task %s has no escrow", fieldwork.ErrNotFound, taskID)
		}
		if n := a.ReopenRejectedLines(); n > 0 {
			a.UpdatedAt = e.clock.Now()
		}
		return nil
	})
	if err != nil {
		e.metrics.CommandErrors.WithLabelValues("retry_settlement", fieldwork.Kind(err)).Inc()
		return nil, err
	}
	e.dispatch(ctx, agg)
	return e.settle(ctx, agg, true), nil
}

// mirrorBacklog remembers tasks whose ledger copy failed.
type mirrorBacklog struct {
	mu    sync.Mutex
	tasks map[string]struct{}
}

func (b *mirrorBacklog) add(taskID string) {
	b.mu.Lock()
	if b.tasks == nil {
		b.tasks = make(map[string]struct{})
	}
	b.tasks[taskID] = struct{}{}
	b.mu.Unlock()
}

func (b *mirrorBacklog) drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.tasks))
	for id := range b.tasks {
		out = append(out, id)
	}
	b.tasks = nil
	return out
}

// replayMirror copies the full chain of every task whose mirror append failed.
func (e *Engine) replayMirror(ctx context.Context) {
	if e.ledger == nil {
		return
	}
	for _, id := range e.backlog.drain() {
		agg, err := e.store.Get(ctx, id)
		if err != nil {
			e.backlog.add(id)
			continue
		}
		if err := e.ledger.Append(ctx, agg.Ledger); err != nil {
			e.backlog.add(id)
			e.log.Warn().Err(err).Str("task_id", id).Msg("ledger mirror replay failed")
		}
	}
}
