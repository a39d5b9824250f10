package fieldwork

import "fmt"

// taskTransitions is the complete task state machine. Anything absent is illegal.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskDraft:     {TaskPosted, TaskCancelled},
	TaskPosted:    {TaskClaimed, TaskCancelled, TaskExpired},
	TaskClaimed:   {TaskPosted, TaskSubmitted, TaskCancelled},
	TaskSubmitted: {TaskAccepted, TaskDisputed, TaskPosted},
	TaskDisputed:  {TaskAccepted, TaskCancelled},
}

// CanTransitionTask reports whether from -> to is a legal task transition.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionTask moves the task to the target status or returns ErrInvalidTransition.
func TransitionTask(t *Task, to TaskStatus) error {
	if !CanTransitionTask(t.Status, to) {
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, t.TaskID, t.Status, to)
	}
	t.Status = to
	return nil
}

var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowPending:  {EscrowFunded, EscrowRefunded},
	EscrowFunded:   {EscrowLocked, EscrowRefunded},
	EscrowLocked:   {EscrowReleased, EscrowRefunded, EscrowDisputed},
	EscrowDisputed: {EscrowReleased, EscrowRefunded},
}

// CanTransitionEscrow reports whether from -> to is a legal custody transition.
func CanTransitionEscrow(from, to EscrowStatus) bool {
	for _, s := range escrowTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionEscrow advances custody state. Re-targeting the current
// settled state is a no-op so retries never double-apply.
func TransitionEscrow(e *Escrow, to EscrowStatus) error {
	if e.Status == to && to.Settled() {
		return nil
	}
	if !CanTransitionEscrow(e.Status, to) {
		return fmt.Errorf("%w: escrow %s %s -> %s", ErrInvalidTransition, e.TaskID, e.Status, to)
	}
	e.Status = to
	return nil
}

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeOpened:      {DisputeUnderReview, DisputeTier2, DisputeResolved},
	DisputeUnderReview: {DisputeTier2, DisputeResolved},
	DisputeTier2:       {DisputeResolved},
}

// TransitionDispute advances a dispute along opened -> under_review -> {tier2} -> resolved.
func TransitionDispute(d *Dispute, to DisputeStatus) error {
	for _, s := range disputeTransitions[d.Status] {
		if s == to {
			d.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: dispute %s %s -> %s", ErrInvalidTransition, d.DisputeID, d.Status, to)
}
