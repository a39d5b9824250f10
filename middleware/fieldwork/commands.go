package fieldwork

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldproof-backend/core/fieldwork"
	"fieldproof-backend/security"
	"fieldproof-backend/storage/objects"
)

// CreateTask stores a new draft task.
func (e *Engine) CreateTask(ctx context.Context, actor fieldwork.Actor, in fieldwork.NewTaskInput) (*fieldwork.Aggregate, error) {
	ctx, span := e.start(ctx, "create_task", "")
	defer span.End()
	now := e.clock.Now()
	agg, err := fieldwork.NewTask(actor, in, now)
	if err != nil {
		return nil, e.fail(span, "create_task", err)
	}
	agg.UpdatedAt = now
	if err := e.store.Create(ctx, agg); err != nil {
		return nil, e.fail(span, "create_task", err)
	}
	e.dispatch(ctx, agg)
	e.log.Info().Str("task_id", agg.Task.TaskID).Str("requester", actor.ID).Msg("task created")
	return agg, nil
}

// Publish funds the escrow at the provider, locks it and posts the task.
// The funding reference is committed as a pending escrow before anything
// else touches the provider, so a later failure still leaves a custody
// record to refund against. While funding is unconfirmed the task stays
// draft; the sweeper finishes the publish once the provider confirms.
func (e *Engine) Publish(ctx context.Context, actor fieldwork.Actor, taskID string) (*fieldwork.Aggregate, error) {
	cur, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := cur.CheckPublishable(actor, e.clock.Now()); err != nil {
		e.metrics.CommandErrors.WithLabelValues("publish", fieldwork.Kind(err)).Inc()
		return nil, err
	}

	var (
		reference string
		confirmed bool
	)
	if cur.Escrow == nil {
		pctx, cancel := e.providerCtx(ctx)
		receipt, err := e.escrow.Fund(pctx, taskID, cur.Task.Bounty)
		cancel()
		e.observeCall("fund", err)
		if err != nil {
			return nil, providerErr("fund escrow", err)
		}
		if cur, err = e.recordFunding(ctx, taskID, receipt.Reference); err != nil {
			return nil, err
		}
		reference, confirmed = receipt.Reference, receipt.Confirmed
	} else {
		reference = cur.Escrow.Reference
		confirmed = cur.Escrow.Status == fieldwork.EscrowFunded
		if !confirmed {
			if confirmed, err = e.fundingConfirmed(ctx, reference); err != nil {
				return nil, err
			}
		}
	}
	if !confirmed {
		return cur, nil
	}
	if err := e.lock(ctx, reference); err != nil {
		return nil, err
	}

	return e.mutate(ctx, "publish", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		if err := a.CheckPublishable(actor, now); err != nil {
			return err
		}
		if err := a.ConfirmFunding(now); err != nil {
			return err
		}
		return a.Publish(actor, now)
	})
}

// recordFunding commits the provider reference as a pending escrow.
func (e *Engine) recordFunding(ctx context.Context, taskID, reference string) (*fieldwork.Aggregate, error) {
	agg, err := e.mutate(ctx, "record_funding", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		return a.RecordFunding(e.escrow.Name(), reference, false, now)
	})
	if err != nil {
		e.log.Error().Err(err).Str("task_id", taskID).Str("reference", reference).Msg("escrow funded at provider but not recorded")
		return nil, err
	}
	return agg, nil
}

func (e *Engine) fundingConfirmed(ctx context.Context, reference string) (bool, error) {
	pctx, cancel := e.providerCtx(ctx)
	defer cancel()
	ok, err := e.escrow.FundingConfirmed(pctx, reference)
	e.observeCall("funding_status", err)
	if err != nil {
		return false, providerErr("funding status", err)
	}
	return ok, nil
}

func (e *Engine) lock(ctx context.Context, reference string) error {
	pctx, cancel := e.providerCtx(ctx)
	defer cancel()
	err := e.escrow.Lock(pctx, reference)
	e.observeCall("lock", err)
	if err != nil {
		return providerErr("lock escrow", err)
	}
	return nil
}

// completeFunding promotes a draft whose pending escrow the provider has
// since confirmed.
func (e *Engine) completeFunding(ctx context.Context, agg *fieldwork.Aggregate) (*fieldwork.Aggregate, error) {
	if agg.Task.Status != fieldwork.TaskDraft || agg.Escrow == nil || agg.Escrow.Status != fieldwork.EscrowPending {
		return agg, nil
	}
	ok, err := e.fundingConfirmed(ctx, agg.Escrow.Reference)
	if err != nil || !ok {
		return agg, err
	}
	if err := e.lock(ctx, agg.Escrow.Reference); err != nil {
		return agg, err
	}
	return e.mutate(ctx, "confirm_funding", agg.Task.TaskID, func(a *fieldwork.Aggregate, now time.Time) error {
		if a.Task.Status != fieldwork.TaskDraft {
			return nil
		}
		if err := a.ConfirmFunding(now); err != nil {
			return err
		}
		if !now.Before(a.Task.Window.End) {
			return nil
		}
		return a.Publish(fieldwork.System, now)
	})
}

// Cancel withdraws the task and refunds any escrow.
func (e *Engine) Cancel(ctx context.Context, actor fieldwork.Actor, taskID string) (*fieldwork.Aggregate, error) {
	return e.mutate(ctx, "cancel", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		return a.Cancel(actor, now)
	})
}

// Claim grants the worker exclusivity. Exactly one of several concurrent
// claims succeeds; the rest fail with ErrNotClaimable.
func (e *Engine) Claim(ctx context.Context, actor fieldwork.Actor, taskID, wallet string) (*fieldwork.Aggregate, *fieldwork.TaskClaim, error) {
	var claim fieldwork.TaskClaim
	agg, err := e.mutate(ctx, "claim", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		c, err := a.ClaimTask(actor, wallet, now, e.policy)
		if err != nil {
			return err
		}
		claim = *c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return agg, &claim, nil
}

// Unclaim releases the worker's claim early.
func (e *Engine) Unclaim(ctx context.Context, actor fieldwork.Actor, taskID, claimID string) (*fieldwork.Aggregate, error) {
	return e.mutate(ctx, "unclaim", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		return a.Unclaim(actor, claimID, now)
	})
}

// CreateSubmission opens, or returns, the proof bundle for a claim.
func (e *Engine) CreateSubmission(ctx context.Context, actor fieldwork.Actor, taskID, claimID string) (*fieldwork.Aggregate, *fieldwork.Submission, error) {
	var sub fieldwork.Submission
	agg, err := e.mutate(ctx, "create_submission", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		s, err := a.CreateSubmission(actor, claimID, now)
		if err != nil {
			return err
		}
		sub = *s
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return agg, &sub, nil
}

func (e *Engine) requireObjects() error {
	if e.objects == nil {
		return fmt.Errorf("%w: no storage provider configured", fieldwork.ErrProviderUnavailable)
	}
	return nil
}

// UploadURL issues a signed upload URL for an artefact of an editable submission.
func (e *Engine) UploadURL(ctx context.Context, actor fieldwork.Actor, taskID, submissionID, filename string) (objects.SignedURL, string, error) {
	if err := e.requireObjects(); err != nil {
		return objects.SignedURL{}, "", err
	}
	agg, err := e.store.Get(ctx, taskID)
	if err != nil {
		return objects.SignedURL{}, "", err
	}
	sub := agg.Submission(submissionID)
	if sub == nil {
		return objects.SignedURL{}, "", fmt.Errorf("%w: submission %s", fieldwork.ErrNotFound, submissionID)
	}
	if sub.WorkerID != actor.ID {
		return objects.SignedURL{}, "", fmt.Errorf("%w: submission %s belongs to another worker", fieldwork.ErrNotAuthorized, submissionID)
	}
	if sub.Status != fieldwork.SubmissionDraft && sub.Status != fieldwork.SubmissionUploading {
		return objects.SignedURL{}, "", fmt.Errorf("%w: submission %s is %s", fieldwork.ErrAlreadyFinalised, submissionID, sub.Status)
	}
	key, err := security.ArtefactKey(taskID, submissionID, filename)
	if err != nil {
		return objects.SignedURL{}, "", fmt.Errorf("%w: %v", fieldwork.ErrInvalidInput, err)
	}
	pctx, cancel := e.providerCtx(ctx)
	defer cancel()
	signed, err := e.objects.UploadURL(pctx, key)
	e.observeCall("upload_url", err)
	if err != nil {
		return objects.SignedURL{}, "", providerErr("upload url", err)
	}
	return signed, key, nil
}

// DownloadURL issues a signed download URL for an artefact or evidence
// attachment of the task. Only participants and operators may fetch.
func (e *Engine) DownloadURL(ctx context.Context, actor fieldwork.Actor, taskID, key string) (objects.SignedURL, error) {
	if err := e.requireObjects(); err != nil {
		return objects.SignedURL{}, err
	}
	agg, err := e.store.Get(ctx, taskID)
	if err != nil {
		return objects.SignedURL{}, err
	}
	if !canView(agg, actor) {
		return objects.SignedURL{}, fmt.Errorf("%w: %s is not a participant of %s", fieldwork.ErrNotAuthorized, actor.ID, taskID)
	}
	if !ownsKey(agg, key) {
		return objects.SignedURL{}, fmt.Errorf("%w: key %s", fieldwork.ErrNotFound, key)
	}
	pctx, cancel := e.providerCtx(ctx)
	defer cancel()
	signed, err := e.objects.DownloadURL(pctx, key)
	e.observeCall("download_url", err)
	if errors.Is(err, objects.ErrObjectNotFound) {
		return objects.SignedURL{}, fmt.Errorf("%w: object %s", fieldwork.ErrNotFound, key)
	}
	if err != nil {
		return objects.SignedURL{}, providerErr("download url", err)
	}
	return signed, nil
}

func canView(agg *fieldwork.Aggregate, actor fieldwork.Actor) bool {
	if actor.Role == fieldwork.RoleOperator || actor.ID == agg.Task.RequesterID || agg.HasParticipant(actor.ID) {
		return true
	}
	for _, d := range agg.Disputes {
		for _, j := range d.Jurors {
			if j == actor.ID {
				return true
			}
		}
	}
	return false
}

func ownsKey(agg *fieldwork.Aggregate, key string) bool {
	for _, s := range agg.Submissions {
		for _, art := range s.Artefacts {
			if art.Key == key {
				return true
			}
		}
	}
	for _, d := range agg.Disputes {
		for _, ev := range d.Evidence {
			if ev.StorageKey == key {
				return true
			}
		}
	}
	return false
}

func (e *Engine) stat(ctx context.Context, key string) (objects.ObjectInfo, error) {
	pctx, cancel := e.providerCtx(ctx)
	defer cancel()
	info, err := e.objects.Stat(pctx, key)
	e.observeCall("stat", err)
	if errors.Is(err, objects.ErrObjectNotFound) {
		return objects.ObjectInfo{}, fmt.Errorf("%w: %s has not been uploaded", fieldwork.ErrInvalidInput, key)
	}
	if err != nil {
		return objects.ObjectInfo{}, providerErr("stat object", err)
	}
	return info, nil
}

// AddArtefact attaches an uploaded object to a submission. The key must
// belong to the submission and exist at the storage provider.
func (e *Engine) AddArtefact(ctx context.Context, actor fieldwork.Actor, taskID, submissionID, key string) (*fieldwork.Aggregate, error) {
	if err := e.requireObjects(); err != nil {
		return nil, err
	}
	if err := security.ValidateArtefactKey(key, taskID, submissionID); err != nil {
		return nil, fmt.Errorf("%w: %v", fieldwork.ErrInvalidInput, err)
	}
	info, err := e.stat(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.mutate(ctx, "add_artefact", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		return a.AddArtefact(actor, submissionID, key, info.SHA256, now)
	})
}

// Finalise closes a submission and scores it.
func (e *Engine) Finalise(ctx context.Context, actor fieldwork.Actor, taskID, submissionID string, captures []fieldwork.Capture) (*fieldwork.Aggregate, error) {
	return e.mutate(ctx, "finalise", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		_, err := a.Finalise(actor, submissionID, captures, now, e.policy)
		return err
	})
}

// Decide records the requester's accept or reject. Accepting requests the payout.
func (e *Engine) Decide(ctx context.Context, actor fieldwork.Actor, taskID, submissionID string, typ fieldwork.DecisionType, reason fieldwork.ReasonCode, comment string) (*fieldwork.Aggregate, error) {
	return e.mutate(ctx, "decide", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		_, err := a.Decide(actor, submissionID, typ, reason, comment, now, e.policy)
		return err
	})
}

func (e *Engine) checkEvidence(ctx context.Context, in []fieldwork.EvidenceInput) error {
	for _, ev := range in {
		if ev.StorageKey == "" {
			continue
		}
		if err := e.requireObjects(); err != nil {
			return err
		}
		if _, err := e.stat(ctx, ev.StorageKey); err != nil {
			return err
		}
	}
	return nil
}

// OpenDispute escalates a rejected submission.
func (e *Engine) OpenDispute(ctx context.Context, actor fieldwork.Actor, taskID, submissionID string, evidence []fieldwork.EvidenceInput) (*fieldwork.Aggregate, error) {
	if err := e.checkEvidence(ctx, evidence); err != nil {
		return nil, err
	}
	agg, err := e.mutate(ctx, "open_dispute", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		_, err := a.OpenDisputeOn(actor, submissionID, evidence, now, e.policy, e.jury.Members())
		return err
	})
	if err == nil {
		e.log.Info().Str("task_id", taskID).Str("submission_id", submissionID).Str("worker", actor.ID).Msg("dispute opened")
	}
	return agg, err
}

// EvidenceUploadURL issues a signed upload URL for a dispute attachment.
func (e *Engine) EvidenceUploadURL(ctx context.Context, actor fieldwork.Actor, taskID, disputeID, filename string) (objects.SignedURL, string, error) {
	if err := e.requireObjects(); err != nil {
		return objects.SignedURL{}, "", err
	}
	agg, err := e.store.Get(ctx, taskID)
	if err != nil {
		return objects.SignedURL{}, "", err
	}
	d := agg.Dispute(disputeID)
	if d == nil {
		return objects.SignedURL{}, "", fmt.Errorf("%w: dispute %s", fieldwork.ErrNotFound, disputeID)
	}
	if !d.Open() {
		return objects.SignedURL{}, "", fmt.Errorf("%w: dispute %s is resolved", fieldwork.ErrInvalidTransition, disputeID)
	}
	if actor.ID != agg.Task.RequesterID && actor.ID != d.OpenedBy {
		return objects.SignedURL{}, "", fmt.Errorf("%w: %s is not a party to dispute %s", fieldwork.ErrNotAuthorized, actor.ID, disputeID)
	}
	key, err := security.EvidenceKey(disputeID, filename)
	if err != nil {
		return objects.SignedURL{}, "", fmt.Errorf("%w: %v", fieldwork.ErrInvalidInput, err)
	}
	pctx, cancel := e.providerCtx(ctx)
	defer cancel()
	signed, err := e.objects.UploadURL(pctx, key)
	e.observeCall("upload_url", err)
	if err != nil {
		return objects.SignedURL{}, "", providerErr("upload url", err)
	}
	return signed, key, nil
}

// SubmitEvidence appends a party's statement before the evidence deadline.
func (e *Engine) SubmitEvidence(ctx context.Context, actor fieldwork.Actor, taskID, disputeID string, in fieldwork.EvidenceInput) (*fieldwork.Aggregate, error) {
	if err := e.checkEvidence(ctx, []fieldwork.EvidenceInput{in}); err != nil {
		return nil, err
	}
	return e.mutate(ctx, "submit_evidence", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		_, err := a.AddEvidence(actor, disputeID, in, now, e.policy)
		return err
	})
}

// CastVote records a juror ballot. A juror votes at most once per dispute.
func (e *Engine) CastVote(ctx context.Context, actor fieldwork.Actor, taskID, disputeID string, vote fieldwork.Vote, reason string) (*fieldwork.Aggregate, error) {
	return e.mutate(ctx, "cast_vote", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		_, err := a.CastVote(actor, disputeID, vote, reason, now, e.policy)
		return err
	})
}

// ResolveDispute lets an operator impose an outcome at any open tier.
func (e *Engine) ResolveDispute(ctx context.Context, actor fieldwork.Actor, taskID, disputeID string, typ fieldwork.ResolutionType, percent int, reason string) (*fieldwork.Aggregate, error) {
	agg, err := e.mutate(ctx, "resolve_dispute", taskID, func(a *fieldwork.Aggregate, now time.Time) error {
		_, err := a.ResolveByOperator(actor, disputeID, typ, percent, reason, now, e.policy)
		return err
	})
	if err == nil {
		e.log.Info().Str("task_id", taskID).Str("dispute_id", disputeID).Str("operator", actor.ID).Str("outcome", string(typ)).Msg("dispute resolved by operator")
	}
	return agg, err
}
