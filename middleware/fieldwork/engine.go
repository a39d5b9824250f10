package fieldwork

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fieldproof-backend/core/fieldwork"
)

// Config wires an Engine. Store and Escrow are required.
type Config struct {
	Store   Store
	Escrow  EscrowProvider
	Objects StorageProvider
	Ledger  LedgerMirror
	Jury    JuryPool
	Clock   fieldwork.Clock
	Policy  *fieldwork.Policy
	Bus     *EventBus
	Metrics *Metrics
	Tracer  trace.Tracer
	Logger  zerolog.Logger
}

// Engine is the lifecycle coordinator. Each command runs against one task
// aggregate inside Store.Update; provider calls happen outside that
// transaction, before or after it, and never advance custody optimistically.
type Engine struct {
	store   Store
	escrow  EscrowProvider
	objects StorageProvider
	ledger  LedgerMirror
	jury    JuryPool
	clock   fieldwork.Clock
	policy  fieldwork.Policy
	bus     *EventBus
	metrics *Metrics
	tracer  trace.Tracer
	log     zerolog.Logger

	newBackoff func() backoff.BackOff
	backlog    mirrorBacklog
}

// NewEngine validates cfg and fills defaults.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine requires a store")
	}
	if cfg.Escrow == nil {
		return nil, errors.New("engine requires an escrow provider")
	}
	policy := fieldwork.DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:   cfg.Store,
		escrow:  cfg.Escrow,
		objects: cfg.Objects,
		ledger:  cfg.Ledger,
		jury:    cfg.Jury,
		clock:   cfg.Clock,
		policy:  policy,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		log:     cfg.Logger.With().Str("component", "engine").Logger(),
	}
	if e.jury == nil {
		e.jury = StaticJury(nil)
	}
	if e.clock == nil {
		e.clock = fieldwork.SystemClock{}
	}
	if e.bus == nil {
		e.bus = NewEventBus(0)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("fieldproof/engine")
	}
	e.newBackoff = e.defaultBackoff
	return e, nil
}

// Policy returns the active policy.
func (e *Engine) Policy() fieldwork.Policy { return e.policy }

// Bus returns the event bus.
func (e *Engine) Bus() *EventBus { return e.bus }

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics { return e.metrics }

func (e *Engine) start(ctx context.Context, command, taskID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "fieldproof."+command, trace.WithAttributes(
		attribute.String("fieldproof.command", command),
		attribute.String("fieldproof.task_id", taskID),
	))
}

func (e *Engine) fail(span trace.Span, command string, err error) error {
	kind := fieldwork.Kind(err)
	e.metrics.CommandErrors.WithLabelValues(command, kind).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	if kind == "internal" || kind == "provider_unavailable" {
		e.log.Error().Err(err).Str("command", command).Msg("command failed")
	} else {
		e.log.Debug().Err(err).Str("command", command).Str("kind", kind).Msg("command refused")
	}
	return err
}

// mutate reconciles the aggregate at the current instant, applies fn and
// commits. Dispatch of staged ledger entries and events follows the commit.
func (e *Engine) mutate(ctx context.Context, command, taskID string, fn func(a *fieldwork.Aggregate, now time.Time) error) (*fieldwork.Aggregate, error) {
	ctx, span := e.start(ctx, command, taskID)
	defer span.End()

	now := e.clock.Now()
	reconciled := false
	agg, err := e.store.Update(ctx, taskID, func(a *fieldwork.Aggregate) error {
		if err := a.Reconcile(now, e.policy, e.jury.Members()); err != nil {
			return err
		}
		reconciled = len(a.Events()) > 0
		if err := fn(a, now); err != nil {
			return err
		}
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		if reconciled {
			e.commitReconcile(ctx, taskID, now)
		}
		return nil, e.fail(span, command, err)
	}
	span.SetAttributes(attribute.Int64("fieldproof.version", agg.Version))
	e.dispatch(ctx, agg)
	if settlementDue(agg) {
		return e.settle(ctx, agg, false), nil
	}
	return agg, nil
}

// commitReconcile keeps deadline transitions that were due when a command
// was refused, so a late caller still leaves the expiry behind.
func (e *Engine) commitReconcile(ctx context.Context, taskID string, now time.Time) {
	agg, err := e.store.Update(ctx, taskID, func(a *fieldwork.Aggregate) error {
		if err := a.Reconcile(now, e.policy, e.jury.Members()); err != nil {
			return err
		}
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		e.log.Warn().Err(err).Str("task_id", taskID).Msg("commit reconcile after refused command")
		return
	}
	e.dispatch(ctx, agg)
	if settlementDue(agg) {
		e.settle(ctx, agg, false)
	}
}

// dispatch mirrors new ledger entries, then publishes events. Ledger
// entries are already committed with the aggregate, so a mirror failure
// only delays the copy until the next sweep.
func (e *Engine) dispatch(ctx context.Context, agg *fieldwork.Aggregate) {
	if entries := agg.NewLedgerEntries(); len(entries) > 0 && e.ledger != nil {
		if err := e.ledger.Append(ctx, entries); err != nil {
			e.backlog.add(agg.Task.TaskID)
			e.log.Warn().Err(err).Str("task_id", agg.Task.TaskID).Int("entries", len(entries)).Msg("ledger mirror append failed")
		}
	}
	for _, evt := range agg.Events() {
		evt.Version = agg.Version
		if evt.From != "" || evt.To != "" {
			e.metrics.Transitions.WithLabelValues(entityOf(evt.Type), evt.From, evt.To).Inc()
		}
		e.bus.Publish(evt)
	}
	agg.ResetStaged()
}

func entityOf(t fieldwork.EventType) string {
	switch t {
	case fieldwork.EventTaskTransition:
		return "task"
	case fieldwork.EventEscrowTransition:
		return "escrow"
	case fieldwork.EventClaimGranted, fieldwork.EventClaimReleased, fieldwork.EventClaimExpired:
		return "claim"
	case fieldwork.EventSubmission:
		return "submission"
	case fieldwork.EventSettlement:
		return "settlement"
	case fieldwork.EventDisputeOpened, fieldwork.EventDisputeEscalate, fieldwork.EventDisputeResolved:
		return "dispute"
	default:
		return string(t)
	}
}

// providerCtx bounds a single provider call.
func (e *Engine) providerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.policy.ProviderTimeout)
}

func (e *Engine) observeCall(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, fieldwork.ErrProviderRejected):
		result = "rejected"
	default:
		result = "error"
	}
	e.metrics.ProviderCalls.WithLabelValues(op, result).Inc()
}

// providerErr normalises a provider failure into the engine taxonomy.
func providerErr(op string, err error) error {
	if errors.Is(err, fieldwork.ErrProviderRejected) || errors.Is(err, fieldwork.ErrProviderUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, fieldwork.ErrProviderUnavailable, err)
}

// GetTask returns the aggregate, reconciling first when a deadline is due.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*fieldwork.Aggregate, error) {
	agg, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if next := agg.NextDeadline(); next != nil && !e.clock.Now().Before(*next) {
		return e.Reconcile(ctx, taskID)
	}
	return agg, nil
}

// ListTasks pages through aggregates matching filter, reconciling any whose
// deadline has passed. The filter applies to the stored state, so a task
// that just moved may appear with its new status.
func (e *Engine) ListTasks(ctx context.Context, filter fieldwork.TaskFilter) ([]*fieldwork.Aggregate, error) {
	aggs, err := e.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	for i, agg := range aggs {
		next := agg.NextDeadline()
		if next == nil || now.Before(*next) {
			continue
		}
		fresh, err := e.Reconcile(ctx, agg.Task.TaskID)
		if err != nil {
			e.log.Warn().Err(err).Str("task_id", agg.Task.TaskID).Msg("reconcile listed task")
			continue
		}
		aggs[i] = fresh
	}
	return aggs, nil
}

// Reconcile applies due deadlines to one task.
func (e *Engine) Reconcile(ctx context.Context, taskID string) (*fieldwork.Aggregate, error) {
	return e.mutate(ctx, "reconcile", taskID, func(*fieldwork.Aggregate, time.Time) error { return nil })
}
