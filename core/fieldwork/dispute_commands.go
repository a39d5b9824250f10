package fieldwork

import (
	"fmt"
	"strings"
	"time"
)

// EvidenceInput is a party's statement for a dispute.
type EvidenceInput struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	StorageKey  string `json:"storage_key,omitempty"`
}

func (in EvidenceInput) validate() error {
	if strings.TrimSpace(in.Type) == "" || strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: evidence needs a type and description", ErrInvalidInput)
	}
	return nil
}

// OpenDisputeOn escalates a rejected submission. Only the submitting
// worker may open it, within the reject grace period.
func (a *Aggregate) OpenDisputeOn(actor Actor, submissionID string, evidence []EvidenceInput, now time.Time, p Policy, pool []string) (*Dispute, error) {
	s := a.Submission(submissionID)
	if s == nil {
		return nil, fmt.Errorf("%w: submission %s", ErrNotFound, submissionID)
	}
	if s.WorkerID != actor.ID {
		return nil, fmt.Errorf("%w: only the submitting worker may dispute", ErrNotAuthorized)
	}
	if d := a.disputeFor(submissionID); d != nil {
		return nil, fmt.Errorf("%w: dispute %s on submission %s", ErrDisputeAlreadyOpen, d.DisputeID, submissionID)
	}
	dec := a.decisionFor(submissionID)
	if s.Status != SubmissionRejected || dec == nil || dec.Type != DecisionReject {
		return nil, fmt.Errorf("%w: submission %s is %s", ErrInvalidTransition, submissionID, s.Status)
	}
	if now.After(dec.CreatedAt.Add(p.RejectGrace)) || a.Task.Status != TaskSubmitted {
		return nil, fmt.Errorf("%w: dispute window for submission %s closed", ErrDeadlinePassed, submissionID)
	}
	for _, in := range evidence {
		if err := in.validate(); err != nil {
			return nil, err
		}
	}

	if err := a.moveTask(TaskDisputed, actor, now); err != nil {
		return nil, err
	}
	if err := a.moveEscrow(EscrowDisputed, actor, now); err != nil {
		return nil, err
	}
	s.Status = SubmissionDisputed
	a.Task.DisputeGraceUntil = nil

	a.Disputes = append(a.Disputes, Dispute{
		DisputeID:        NewID("disp"),
		TaskID:           a.Task.TaskID,
		SubmissionID:     submissionID,
		OpenedBy:         actor.ID,
		Status:           DisputeOpened,
		OpenedAt:         now,
		EvidenceDeadline: now.Add(p.EvidenceWindow),
		CurrentTier:      1,
	})
	d := &a.Disputes[len(a.Disputes)-1]
	for _, in := range evidence {
		d.Evidence = append(d.Evidence, newEvidence(d.DisputeID, actor.ID, PartyWorker, in, now))
	}
	a.record(EventDisputeOpened, d.DisputeID, "", string(DisputeOpened), actor, now, "dispute on %s (reason %s)", submissionID, dec.ReasonCode)

	auto := EvaluateTier1(*s, d.Evidence, d.EvidenceDeadline, p, now)
	d.AutoScore = &auto
	if err := TransitionDispute(d, DisputeUnderReview); err != nil {
		return nil, err
	}
	return d, a.advanceDispute(d, now, p, pool)
}

func newEvidence(disputeID, by string, party Party, in EvidenceInput, now time.Time) Evidence {
	return Evidence{
		EvidenceID:  NewID("ev"),
		DisputeID:   disputeID,
		SubmittedBy: by,
		Party:       party,
		Type:        in.Type,
		Description: in.Description,
		StorageKey:  in.StorageKey,
		SubmittedAt: now,
	}
}

// AddEvidence appends a party statement until the evidence deadline.
func (a *Aggregate) AddEvidence(actor Actor, disputeID string, in EvidenceInput, now time.Time, p Policy) (*Evidence, error) {
	d := a.Dispute(disputeID)
	if d == nil {
		return nil, fmt.Errorf("%w: dispute %s", ErrNotFound, disputeID)
	}
	s := a.Submission(d.SubmissionID)
	var party Party
	switch actor.ID {
	case s.WorkerID:
		party = PartyWorker
	case a.Task.RequesterID:
		party = PartyRequester
	default:
		return nil, fmt.Errorf("%w: %s is not a party to dispute %s", ErrNotAuthorized, actor.ID, disputeID)
	}
	if now.After(d.EvidenceDeadline) {
		return nil, fmt.Errorf("%w: evidence deadline %s", ErrDeadlinePassed, d.EvidenceDeadline.Format(time.RFC3339))
	}
	if !d.Open() {
		return nil, fmt.Errorf("%w: dispute %s is resolved", ErrInvalidTransition, disputeID)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	d.Evidence = append(d.Evidence, newEvidence(disputeID, actor.ID, party, in, now))
	ev := &d.Evidence[len(d.Evidence)-1]
	auto := EvaluateTier1(*s, d.Evidence, d.EvidenceDeadline, p, now)
	d.AutoScore = &auto
	a.record(EventEvidenceFiled, ev.EvidenceID, "", string(party), actor, now, "%s evidence on %s", party, disputeID)
	return ev, nil
}

// CastVote records a juror's ballot; once the panel is complete the dispute resolves.
func (a *Aggregate) CastVote(actor Actor, disputeID string, vote Vote, reason string, now time.Time, p Policy) (*JuryVote, error) {
	d := a.Dispute(disputeID)
	if d == nil {
		return nil, fmt.Errorf("%w: dispute %s", ErrNotFound, disputeID)
	}
	if d.Tier2Deadline != nil && now.After(*d.Tier2Deadline) {
		return nil, fmt.Errorf("%w: voting closed %s", ErrDeadlinePassed, d.Tier2Deadline.Format(time.RFC3339))
	}
	if !contains(d.Jurors, actor.ID) {
		return nil, fmt.Errorf("%w: %s is not on the panel for %s", ErrNotAuthorized, actor.ID, disputeID)
	}
	for _, v := range d.Votes {
		if v.JurorID == actor.ID {
			return nil, fmt.Errorf("%w: %s on %s", ErrAlreadyVoted, actor.ID, disputeID)
		}
	}
	if d.Status != DisputeTier2 {
		return nil, fmt.Errorf("%w: dispute %s is %s", ErrInvalidTransition, disputeID, d.Status)
	}
	if !vote.Valid() {
		return nil, fmt.Errorf("%w: unknown vote %q", ErrInvalidInput, vote)
	}
	d.Votes = append(d.Votes, JuryVote{DisputeID: disputeID, JurorID: actor.ID, Vote: vote, Reason: reason, VotedAt: now})
	jv := d.Votes[len(d.Votes)-1]
	a.record(EventVoteCast, disputeID, "", string(vote), actor, now, "%d/%d votes", len(d.Votes), len(d.Jurors))
	if AllVoted(d) {
		if err := a.resolve(d, Tally(d, p, now), now, p); err != nil {
			return nil, err
		}
	}
	return &jv, nil
}

// ResolveByOperator imposes an outcome at any open tier.
func (a *Aggregate) ResolveByOperator(actor Actor, disputeID string, typ ResolutionType, percent int, reason string, now time.Time, p Policy) (*Dispute, error) {
	if actor.Role != RoleOperator {
		return nil, fmt.Errorf("%w: operator role required", ErrNotAuthorized)
	}
	d := a.Dispute(disputeID)
	if d == nil {
		return nil, fmt.Errorf("%w: dispute %s", ErrNotFound, disputeID)
	}
	if !d.Open() {
		return nil, fmt.Errorf("%w: dispute %s is resolved", ErrInvalidTransition, disputeID)
	}
	if err := ValidateResolution(typ, percent); err != nil {
		return nil, err
	}
	switch typ {
	case ResolutionWorkerWins:
		percent = 100
	case ResolutionRequesterWins:
		percent = 0
	}
	if reason == "" {
		reason = "operator decision"
	}
	res := Resolution{Type: typ, WorkerPayoutPercent: percent, Tier: d.CurrentTier, Reason: reason, ResolvedBy: actor.ID, ResolvedAt: now}
	return d, a.resolve(d, res, now, p)
}

// advanceDispute applies whatever deadline- or state-driven step is due.
func (a *Aggregate) advanceDispute(d *Dispute, now time.Time, p Policy, pool []string) error {
	for d.Open() {
		switch d.Status {
		case DisputeUnderReview:
			if d.AutoScore.Recommendation == RecommendEscalate {
				if err := a.escalate(d, now, p, pool); err != nil {
					return err
				}
				continue
			}
			if now.Before(d.EvidenceDeadline) {
				return nil
			}
			s := a.Submission(d.SubmissionID)
			auto := EvaluateTier1(*s, d.Evidence, d.EvidenceDeadline, p, now)
			d.AutoScore = &auto
			if auto.Recommendation == RecommendEscalate || Contradicted(auto.Recommendation, d.Evidence, d.EvidenceDeadline) {
				if err := a.escalate(d, now, p, pool); err != nil {
					return err
				}
				continue
			}
			res, err := Tier1Resolution(auto, now)
			if err != nil {
				return err
			}
			return a.resolve(d, res, now, p)
		case DisputeTier2:
			if !AllVoted(d) && !now.After(*d.Tier2Deadline) {
				return nil
			}
			return a.resolve(d, Tally(d, p, now), now, p)
		default:
			return nil
		}
	}
	return nil
}

func (a *Aggregate) escalate(d *Dispute, now time.Time, p Policy, pool []string) error {
	if err := TransitionDispute(d, DisputeTier2); err != nil {
		return err
	}
	s := a.Submission(d.SubmissionID)
	deadline := now.Add(p.Tier2Window)
	d.CurrentTier = 2
	d.Tier2Deadline = &deadline
	d.Jurors = SelectJurors(d.DisputeID, pool, p.JuryQuorum, a.Task.RequesterID, s.WorkerID)
	a.record(EventDisputeEscalate, d.DisputeID, string(DisputeUnderReview), string(DisputeTier2), System, now, "tier 2 with %d juror(s), score %d", len(d.Jurors), d.AutoScore.Score)
	return nil
}

// resolve closes the dispute and drives the task and escrow to their outcome.
func (a *Aggregate) resolve(d *Dispute, res Resolution, now time.Time, p Policy) error {
	if err := TransitionDispute(d, DisputeResolved); err != nil {
		return err
	}
	d.Resolution = &res
	s := a.Submission(d.SubmissionID)
	a.record(EventDisputeResolved, d.DisputeID, "", string(res.Type), Actor{ID: res.ResolvedBy}, now, "tier %d: %s", res.Tier, res.Reason)

	plan, err := PlanResolution(a.Task, a.payoutWallet(s), res, p)
	if err != nil {
		return err
	}
	if res.Type == ResolutionRequesterWins {
		s.Status = SubmissionRejected
		if err := a.moveTask(TaskCancelled, System, now); err != nil {
			return err
		}
	} else {
		s.Status = SubmissionAccepted
		if err := a.moveTask(TaskAccepted, System, now); err != nil {
			return err
		}
	}
	return a.RequestSettlement(plan, now)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
