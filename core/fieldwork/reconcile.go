package fieldwork

import "time"

// Reconcile applies every deadline-driven transition due at now. It is
// idempotent: running it twice at the same instant changes nothing the
// second time. Commands call it before acting; the sweeper calls it alone.
func (a *Aggregate) Reconcile(now time.Time, p Policy, pool []string) error {
	if c := a.ActiveClaim(); c != nil && c.ClaimedUntil.Before(now) {
		if err := a.endClaim(c, System, now, EventClaimExpired); err != nil {
			return err
		}
	}

	if a.Task.Status == TaskSubmitted && a.Task.DisputeGraceUntil != nil && now.After(*a.Task.DisputeGraceUntil) {
		a.Task.DisputeGraceUntil = nil
		if err := a.moveTask(TaskPosted, System, now); err != nil {
			return err
		}
	}

	if a.Task.Status == TaskPosted && a.Task.ExpiresAt != nil && !now.Before(*a.Task.ExpiresAt) {
		if err := a.moveTask(TaskExpired, System, now); err != nil {
			return err
		}
		if err := a.RequestSettlement(PlanRefund(a.Task, "task expired"), now); err != nil {
			return err
		}
	}

	if d := a.OpenDispute(); d != nil {
		if err := a.advanceDispute(d, now, p, pool); err != nil {
			return err
		}
	}
	return nil
}

// NextDeadline returns the earliest pending deadline, used by the sweeper
// to skip aggregates with nothing due.
func (a *Aggregate) NextDeadline() *time.Time {
	var next *time.Time
	consider := func(t *time.Time) {
		if t != nil && (next == nil || t.Before(*next)) {
			v := *t
			next = &v
		}
	}
	if c := a.ActiveClaim(); c != nil {
		consider(&c.ClaimedUntil)
	}
	if a.Task.Status == TaskSubmitted {
		consider(a.Task.DisputeGraceUntil)
	}
	if a.Task.Status == TaskPosted {
		consider(a.Task.ExpiresAt)
	}
	if d := a.OpenDispute(); d != nil {
		switch d.Status {
		case DisputeUnderReview:
			consider(&d.EvidenceDeadline)
		case DisputeTier2:
			consider(d.Tier2Deadline)
		}
	}
	return next
}

// NeedsProvider reports whether custody work is outstanding.
func (a *Aggregate) NeedsProvider() bool {
	if a.Escrow == nil {
		return false
	}
	if a.Escrow.Status == EscrowPending && a.Task.Status == TaskDraft {
		return true
	}
	return a.Escrow.PendingLines() && !a.Escrow.Stuck
}
