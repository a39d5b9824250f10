package fieldwork

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NewTaskInput is the requester's draft task payload.
type NewTaskInput struct {
	Title        string          `json:"title"`
	Template     Template        `json:"template"`
	Requirements json.RawMessage `json:"requirements"`
	Location     GeoFence        `json:"location"`
	Window       TimeWindow      `json:"window"`
	Bounty       Money           `json:"bounty"`
	Rights       Rights          `json:"rights"`
}

// NewTask validates the input and builds a draft task aggregate.
func NewTask(actor Actor, in NewTaskInput, now time.Time) (*Aggregate, error) {
	if actor.Role != RoleRequester {
		return nil, fmt.Errorf("%w: only requesters create tasks", ErrNotAuthorized)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Location.Lat < -90 || in.Location.Lat > 90 || in.Location.Lon < -180 || in.Location.Lon > 180 {
		return nil, fmt.Errorf("%w: location out of range", ErrInvalidInput)
	}
	if in.Location.RadiusM <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", ErrInvalidInput)
	}
	if !in.Window.End.After(in.Window.Start) {
		return nil, fmt.Errorf("%w: window end must be after start", ErrInvalidInput)
	}
	if in.Bounty.Amount <= 0 || in.Bounty.Currency == "" {
		return nil, fmt.Errorf("%w: bounty must be positive with a currency", ErrInvalidInput)
	}
	if in.Rights.ExclusivityDays < 0 {
		return nil, fmt.Errorf("%w: exclusivity days must not be negative", ErrInvalidInput)
	}
	req, err := ParseRequirements(in.Template, in.Requirements)
	if err != nil {
		return nil, err
	}
	task := Task{
		TaskID:       NewID("task"),
		RequesterID:  actor.ID,
		Title:        in.Title,
		Template:     in.Template,
		Status:       TaskDraft,
		Location:     in.Location,
		Window:       in.Window,
		Requirements: req,
		Bounty:       in.Bounty,
		Rights:       in.Rights,
		CreatedAt:    now,
	}
	a := NewAggregate(task)
	a.record(EventTaskTransition, task.TaskID, "", string(TaskDraft), actor, now, "task created")
	return a, nil
}

func (a *Aggregate) requireRequester(actor Actor) error {
	if actor.ID != a.Task.RequesterID {
		return fmt.Errorf("%w: %s does not own task %s", ErrNotAuthorized, actor.ID, a.Task.TaskID)
	}
	return nil
}

// CheckPublishable verifies a publish may proceed before any provider call.
func (a *Aggregate) CheckPublishable(actor Actor, now time.Time) error {
	if err := a.requireRequester(actor); err != nil {
		return err
	}
	if a.Task.Status != TaskDraft {
		return fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, a.Task.TaskID, a.Task.Status)
	}
	if !now.Before(a.Task.Window.End) {
		return fmt.Errorf("%w: task window already ended", ErrDeadlinePassed)
	}
	return nil
}

// RecordFunding attaches the provider's funding reference. Funding is
// confirmed immediately or later via ConfirmFunding.
func (a *Aggregate) RecordFunding(provider, reference string, confirmed bool, now time.Time) error {
	if a.Escrow == nil {
		a.Escrow = &Escrow{
			TaskID:    a.Task.TaskID,
			Provider:  provider,
			Reference: reference,
			Amount:    a.Task.Bounty.Amount,
			Currency:  a.Task.Bounty.Currency,
			Status:    EscrowPending,
		}
		a.record(EventEscrowTransition, a.Task.TaskID, "", string(EscrowPending), System, now, "funding requested")
		if a.Task.Status == TaskCancelled {
			// cancelled while the fund call was in flight
			return a.RequestSettlement(PlanRefund(a.Task, "task cancelled before funding was recorded"), now)
		}
	}
	if confirmed {
		return a.ConfirmFunding(now)
	}
	return nil
}

// ConfirmFunding moves a pending escrow to funded.
func (a *Aggregate) ConfirmFunding(now time.Time) error {
	if a.Escrow == nil {
		return fmt.Errorf("%w: task %s has no escrow", ErrInvalidTransition, a.Task.TaskID)
	}
	if a.Escrow.Status != EscrowPending {
		return nil
	}
	if err := a.moveEscrow(EscrowFunded, System, now); err != nil {
		return err
	}
	a.Escrow.FundedAt = &now
	return nil
}

// Publish locks the funded escrow and posts the task.
func (a *Aggregate) Publish(actor Actor, now time.Time) error {
	if a.Escrow == nil || a.Escrow.Status != EscrowFunded {
		return fmt.Errorf("%w: task %s escrow is not funded", ErrInvalidTransition, a.Task.TaskID)
	}
	if err := a.moveEscrow(EscrowLocked, actor, now); err != nil {
		return err
	}
	a.Escrow.LockedAt = &now
	if err := a.moveTask(TaskPosted, actor, now); err != nil {
		return err
	}
	end := a.Task.Window.End
	a.Task.PublishedAt = &now
	a.Task.ExpiresAt = &end
	return nil
}

// ClaimTask grants the worker exclusivity for the claim window.
func (a *Aggregate) ClaimTask(actor Actor, wallet string, now time.Time, p Policy) (*TaskClaim, error) {
	if actor.Role != RoleWorker {
		return nil, fmt.Errorf("%w: only workers claim tasks", ErrNotAuthorized)
	}
	if actor.ID == a.Task.RequesterID {
		return nil, fmt.Errorf("%w: requester cannot claim own task", ErrNotAuthorized)
	}
	if a.Task.Status != TaskPosted || a.ActiveClaim() != nil {
		return nil, fmt.Errorf("%w: task %s is %s", ErrNotClaimable, a.Task.TaskID, a.Task.Status)
	}
	if a.Escrow == nil || a.Escrow.Status != EscrowLocked {
		return nil, fmt.Errorf("%w: task %s escrow not locked", ErrNotClaimable, a.Task.TaskID)
	}
	if err := a.moveTask(TaskClaimed, actor, now); err != nil {
		return nil, err
	}
	a.Task.DisputeGraceUntil = nil
	a.Claims = append(a.Claims, TaskClaim{
		ClaimID:      NewID("claim"),
		TaskID:       a.Task.TaskID,
		WorkerID:     actor.ID,
		WorkerWallet: wallet,
		ClaimedAt:    now,
		ClaimedUntil: now.Add(p.ClaimWindow),
		Status:       ClaimActive,
	})
	c := &a.Claims[len(a.Claims)-1]
	a.record(EventClaimGranted, c.ClaimID, "", string(ClaimActive), actor, now, "claimed until %s", c.ClaimedUntil.Format(time.RFC3339))
	return c, nil
}

// Unclaim releases exclusivity early at the worker's request.
func (a *Aggregate) Unclaim(actor Actor, claimID string, now time.Time) error {
	c := a.Claim(claimID)
	if c == nil {
		return fmt.Errorf("%w: claim %s", ErrNotFound, claimID)
	}
	if c.WorkerID != actor.ID {
		return fmt.Errorf("%w: claim %s belongs to another worker", ErrNotAuthorized, claimID)
	}
	if c.Status != ClaimActive {
		return fmt.Errorf("%w: claim %s is %s", ErrInvalidTransition, claimID, c.Status)
	}
	return a.endClaim(c, actor, now, EventClaimReleased)
}

func (a *Aggregate) endClaim(c *TaskClaim, actor Actor, now time.Time, typ EventType) error {
	c.Status = ClaimExpired
	c.EndedAt = &now
	a.record(typ, c.ClaimID, string(ClaimActive), string(ClaimExpired), actor, now, "claim by %s ended", c.WorkerID)
	if a.Task.Status == TaskClaimed {
		return a.moveTask(TaskPosted, actor, now)
	}
	return nil
}

// CreateSubmission opens a proof bundle on the worker's active claim.
// Creating again on the same claim returns the open submission.
func (a *Aggregate) CreateSubmission(actor Actor, claimID string, now time.Time) (*Submission, error) {
	c := a.Claim(claimID)
	if c == nil || c.WorkerID != actor.ID || c.Status != ClaimActive {
		return nil, fmt.Errorf("%w: no active claim %s for %s", ErrNotAuthorized, claimID, actor.ID)
	}
	for i := range a.Submissions {
		s := &a.Submissions[i]
		if s.ClaimID == claimID && (s.Status == SubmissionDraft || s.Status == SubmissionUploading) {
			return s, nil
		}
	}
	a.Submissions = append(a.Submissions, Submission{
		SubmissionID: NewID("sub"),
		TaskID:       a.Task.TaskID,
		ClaimID:      claimID,
		WorkerID:     actor.ID,
		Status:       SubmissionDraft,
		CreatedAt:    now,
	})
	return &a.Submissions[len(a.Submissions)-1], nil
}

// editableSubmission resolves a submission the actor may still modify.
func (a *Aggregate) editableSubmission(actor Actor, submissionID string) (*Submission, error) {
	s := a.Submission(submissionID)
	if s == nil {
		return nil, fmt.Errorf("%w: submission %s", ErrNotFound, submissionID)
	}
	if s.WorkerID != actor.ID {
		return nil, fmt.Errorf("%w: submission %s belongs to another worker", ErrNotAuthorized, submissionID)
	}
	if s.Status != SubmissionDraft && s.Status != SubmissionUploading {
		return nil, fmt.Errorf("%w: submission %s is %s", ErrAlreadyFinalised, submissionID, s.Status)
	}
	c := a.Claim(s.ClaimID)
	if c == nil || c.Status != ClaimActive {
		return nil, fmt.Errorf("%w: claim for submission %s is no longer active", ErrNotAuthorized, submissionID)
	}
	return s, nil
}

// AddArtefact attaches an opaque storage key. Re-adding a key updates its hash.
func (a *Aggregate) AddArtefact(actor Actor, submissionID, key, hash string, now time.Time) error {
	s, err := a.editableSubmission(actor, submissionID)
	if err != nil {
		return err
	}
	for i := range s.Artefacts {
		if s.Artefacts[i].Key == key {
			s.Artefacts[i].Hash = hash
			return nil
		}
	}
	s.Artefacts = append(s.Artefacts, Artefact{Key: key, Hash: hash, AddedAt: now})
	s.Status = SubmissionUploading
	return nil
}

// Finalise scores the bundle and converts the claim. It is the single
// terminal worker action on a submission.
func (a *Aggregate) Finalise(actor Actor, submissionID string, captures []Capture, now time.Time, p Policy) (*Submission, error) {
	s, err := a.editableSubmission(actor, submissionID)
	if err != nil {
		return nil, err
	}
	if len(s.Artefacts) == 0 {
		return nil, fmt.Errorf("%w: submission %s has no artefacts", ErrInvalidInput, submissionID)
	}
	known := make(map[string]struct{}, len(s.Artefacts))
	for _, art := range s.Artefacts {
		known[art.Key] = struct{}{}
	}
	for _, c := range captures {
		if _, ok := known[c.ArtefactKey]; !ok {
			return nil, fmt.Errorf("%w: capture references unknown artefact %q", ErrInvalidInput, c.ArtefactKey)
		}
	}
	if a.Task.Status != TaskClaimed {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, a.Task.TaskID, a.Task.Status)
	}

	v := Verify(a.Task, captures, p.CheckWeights)
	s.Captures = captures
	s.Score = v.Score
	s.Checks = v.Checks
	s.Flags = v.Flags
	s.BundleHash = BundleHash(s.Artefacts)
	s.Status = SubmissionFinalised
	s.FinalisedAt = &now

	c := a.Claim(s.ClaimID)
	c.Status = ClaimConverted
	c.EndedAt = &now
	if err := a.moveTask(TaskSubmitted, actor, now); err != nil {
		return nil, err
	}
	a.record(EventSubmission, s.SubmissionID, string(SubmissionUploading), string(SubmissionFinalised), actor, now, "score %d flags %v", s.Score, s.Flags)
	return s, nil
}

// Decide records the requester's immutable verdict on a finalised submission.
func (a *Aggregate) Decide(actor Actor, submissionID string, typ DecisionType, reason ReasonCode, comment string, now time.Time, p Policy) (*Decision, error) {
	if err := a.requireRequester(actor); err != nil {
		return nil, err
	}
	s := a.Submission(submissionID)
	if s == nil {
		return nil, fmt.Errorf("%w: submission %s", ErrNotFound, submissionID)
	}
	if a.decisionFor(submissionID) != nil || s.Status != SubmissionFinalised || a.Task.Status != TaskSubmitted {
		return nil, fmt.Errorf("%w: submission %s is %s", ErrInvalidTransition, submissionID, s.Status)
	}
	switch typ {
	case DecisionAccept:
	case DecisionReject:
		if !reason.Valid() {
			return nil, fmt.Errorf("%w: reject requires a known reason code", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, typ)
	}

	a.Decisions = append(a.Decisions, Decision{
		DecisionID:   NewID("dec"),
		SubmissionID: submissionID,
		ActorID:      actor.ID,
		Type:         typ,
		ReasonCode:   reason,
		Comment:      comment,
		CreatedAt:    now,
	})
	d := &a.Decisions[len(a.Decisions)-1]
	a.record(EventDecision, d.DecisionID, "", string(typ), actor, now, "submission %s %s %s", submissionID, typ, reason)

	if typ == DecisionAccept {
		s.Status = SubmissionAccepted
		if err := a.moveTask(TaskAccepted, actor, now); err != nil {
			return nil, err
		}
		return d, a.RequestSettlement(PlanAccept(a.Task, a.payoutWallet(s), p), now)
	}

	s.Status = SubmissionRejected
	grace := now.Add(p.RejectGrace)
	a.Task.DisputeGraceUntil = &grace
	return d, nil
}

// Cancel withdraws a task that has no submission in flight and refunds any
// escrow. Once the active claim holds a submission the task must go through
// a decision instead.
func (a *Aggregate) Cancel(actor Actor, now time.Time) error {
	if err := a.requireRequester(actor); err != nil {
		return err
	}
	switch a.Task.Status {
	case TaskDraft, TaskPosted, TaskClaimed:
	default:
		return fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, a.Task.TaskID, a.Task.Status)
	}
	if c := a.ActiveClaim(); c != nil {
		for _, s := range a.Submissions {
			if s.ClaimID == c.ClaimID {
				return fmt.Errorf("%w: task %s has submission %s in progress", ErrInvalidTransition, a.Task.TaskID, s.SubmissionID)
			}
		}
		c.Status = ClaimExpired
		c.EndedAt = &now
	}
	if err := a.moveTask(TaskCancelled, actor, now); err != nil {
		return err
	}
	return a.RequestSettlement(PlanRefund(a.Task, "task cancelled"), now)
}
