package fieldwork

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Aggregate is the consistency boundary: one task and everything hanging off it.
type Aggregate struct {
	Task        Task          `json:"task"`
	Claims      []TaskClaim   `json:"claims"`
	Submissions []Submission  `json:"submissions"`
	Decisions   []Decision    `json:"decisions"`
	Disputes    []Dispute     `json:"disputes"`
	Escrow      *Escrow       `json:"escrow,omitempty"`
	Ledger      []LedgerEntry `json:"ledger"`
	Version     int64         `json:"version"`
	UpdatedAt   time.Time     `json:"updated_at"`

	events     []Event
	newEntries []LedgerEntry
}

// NewID returns a prefixed random identifier, e.g. task-2f1c...
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// NewAggregate wraps a freshly created draft task.
func NewAggregate(task Task) *Aggregate {
	return &Aggregate{Task: task}
}

// Clone returns a deep copy. Staged events and ledger entries are not carried over.
func (a *Aggregate) Clone() (*Aggregate, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("aggregate clone: %w", err)
	}
	var out Aggregate
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("aggregate clone: %w", err)
	}
	return &out, nil
}

// Events returns events staged by the current command.
func (a *Aggregate) Events() []Event { return a.events }

// NewLedgerEntries returns ledger entries appended by the current command.
func (a *Aggregate) NewLedgerEntries() []LedgerEntry { return a.newEntries }

// ResetStaged drops staged events and entries once they have been dispatched.
func (a *Aggregate) ResetStaged() {
	a.events = nil
	a.newEntries = nil
}

func (a *Aggregate) record(typ EventType, entityID, from, to string, actor Actor, now time.Time, format string, args ...any) {
	a.events = append(a.events, Event{
		Type:      typ,
		TaskID:    a.Task.TaskID,
		EntityID:  entityID,
		From:      from,
		To:        to,
		Actor:     actor.ID,
		Message:   fmt.Sprintf(format, args...),
		CreatedAt: now,
	})
}

func (a *Aggregate) moveTask(to TaskStatus, actor Actor, now time.Time) error {
	from := a.Task.Status
	if err := TransitionTask(&a.Task, to); err != nil {
		return err
	}
	a.record(EventTaskTransition, a.Task.TaskID, string(from), string(to), actor, now, "task %s", to)
	return nil
}

func (a *Aggregate) moveEscrow(to EscrowStatus, actor Actor, now time.Time) error {
	if a.Escrow == nil {
		return fmt.Errorf("%w: task %s has no escrow", ErrInvalidTransition, a.Task.TaskID)
	}
	from := a.Escrow.Status
	if err := TransitionEscrow(a.Escrow, to); err != nil {
		return err
	}
	if from != to {
		a.record(EventEscrowTransition, a.Task.TaskID, string(from), string(to), actor, now, "escrow %s", to)
	}
	return nil
}

// ActiveClaim returns the claim currently holding exclusivity, if any.
func (a *Aggregate) ActiveClaim() *TaskClaim {
	for i := range a.Claims {
		if a.Claims[i].Status == ClaimActive {
			return &a.Claims[i]
		}
	}
	return nil
}

// Claim returns the claim with the given id.
func (a *Aggregate) Claim(id string) *TaskClaim {
	for i := range a.Claims {
		if a.Claims[i].ClaimID == id {
			return &a.Claims[i]
		}
	}
	return nil
}

// Submission returns the submission with the given id.
func (a *Aggregate) Submission(id string) *Submission {
	for i := range a.Submissions {
		if a.Submissions[i].SubmissionID == id {
			return &a.Submissions[i]
		}
	}
	return nil
}

// Dispute returns the dispute with the given id.
func (a *Aggregate) Dispute(id string) *Dispute {
	for i := range a.Disputes {
		if a.Disputes[i].DisputeID == id {
			return &a.Disputes[i]
		}
	}
	return nil
}

// OpenDispute returns the unresolved dispute, if any.
func (a *Aggregate) OpenDispute() *Dispute {
	for i := range a.Disputes {
		if a.Disputes[i].Open() {
			return &a.Disputes[i]
		}
	}
	return nil
}

func (a *Aggregate) disputeFor(submissionID string) *Dispute {
	for i := range a.Disputes {
		if a.Disputes[i].SubmissionID == submissionID {
			return &a.Disputes[i]
		}
	}
	return nil
}

func (a *Aggregate) decisionFor(submissionID string) *Decision {
	for i := range a.Decisions {
		if a.Decisions[i].SubmissionID == submissionID {
			return &a.Decisions[i]
		}
	}
	return nil
}

// payoutWallet resolves where a worker payout for the submission goes.
func (a *Aggregate) payoutWallet(sub *Submission) string {
	if c := a.Claim(sub.ClaimID); c != nil && c.WorkerWallet != "" {
		return c.WorkerWallet
	}
	return sub.WorkerID
}

// HasParticipant reports whether the worker ever claimed this task.
func (a *Aggregate) HasParticipant(workerID string) bool {
	for _, c := range a.Claims {
		if c.WorkerID == workerID {
			return true
		}
	}
	return false
}

func (a *Aggregate) appendLedger(kind LedgerKind, lines []SettlementLine, amount int64, reason string, now time.Time) error {
	entry := LedgerEntry{
		EntryID:  NewID("led"),
		TaskID:   a.Task.TaskID,
		Kind:     kind,
		Lines:    lines,
		Amount:   amount,
		Currency: a.Task.Bounty.Currency,
		Reason:   reason,
		At:       now,
	}
	ledger, entry, err := AppendLedger(a.Ledger, entry)
	if err != nil {
		return err
	}
	a.Ledger = ledger
	a.newEntries = append(a.newEntries, entry)
	return nil
}

// RequestSettlement records the plan's lines against the escrow together
// with the ledger entries describing it. A second request is a no-op.
func (a *Aggregate) RequestSettlement(plan SettlementPlan, now time.Time) error {
	e := a.Escrow
	if e == nil || e.Status.Settled() || len(e.Lines) > 0 {
		return nil
	}
	e.Lines = append([]SettlementLine(nil), plan.Lines...)
	if err := a.appendLedger(LedgerSettlementRequested, e.Lines, a.Task.Bounty.Amount, plan.Reason, now); err != nil {
		return err
	}
	if plan.FeeRetained > 0 {
		if err := a.appendLedger(LedgerFeeRetained, nil, plan.FeeRetained, "platform fees", now); err != nil {
			return err
		}
	}
	if plan.ArbitrationForfeited > 0 {
		if err := a.appendLedger(LedgerArbitrationForfeit, nil, plan.ArbitrationForfeited, "arbitration fee forfeited by disputing party", now); err != nil {
			return err
		}
	}
	a.record(EventSettlement, a.Task.TaskID, "", "requested", System, now, "%d settlement line(s) requested", len(e.Lines))
	if len(e.Lines) == 0 {
		return a.finishSettlement(now)
	}
	return nil
}

// ConfirmLine marks a settlement line executed by the provider. Confirming
// an already confirmed line changes nothing.
func (a *Aggregate) ConfirmLine(key, providerRef string, now time.Time) (bool, error) {
	l := a.line(key)
	if l == nil {
		return false, fmt.Errorf("%w: settlement line %s", ErrNotFound, key)
	}
	if l.Status == LineConfirmed {
		return false, nil
	}
	l.Status = LineConfirmed
	l.ProviderRef = providerRef
	l.ConfirmedAt = &now
	if err := a.appendLedger(LedgerSettlementConfirmed, []SettlementLine{*l}, l.Amount, fmt.Sprintf("%s to %s confirmed", l.Kind, l.To), now); err != nil {
		return false, err
	}
	a.record(EventSettlement, a.Task.TaskID, string(l.Kind), "confirmed", System, now, "%s of %d to %s confirmed", l.Kind, l.Amount, l.To)
	for _, other := range a.Escrow.Lines {
		if other.Status != LineConfirmed {
			return true, nil
		}
	}
	return true, a.finishSettlement(now)
}

// RejectLine records a permanent provider refusal and marks the escrow
// stuck; custody stays where it was until an operator retries.
func (a *Aggregate) RejectLine(key, reason string, now time.Time) error {
	l := a.line(key)
	if l == nil {
		return fmt.Errorf("%w: settlement line %s", ErrNotFound, key)
	}
	if l.Status != LinePending {
		return nil
	}
	l.Status = LineRejected
	a.Escrow.Stuck = true
	a.Escrow.StuckReason = reason
	if err := a.appendLedger(LedgerSettlementRejected, []SettlementLine{*l}, l.Amount, reason, now); err != nil {
		return err
	}
	a.record(EventSettlement, a.Task.TaskID, string(l.Kind), "rejected", System, now, "%s to %s rejected: %s", l.Kind, l.To, reason)
	return nil
}

// ReopenRejectedLines puts rejected lines back to pending for another attempt.
func (a *Aggregate) ReopenRejectedLines() int {
	if a.Escrow == nil {
		return 0
	}
	n := 0
	for i := range a.Escrow.Lines {
		if a.Escrow.Lines[i].Status == LineRejected {
			a.Escrow.Lines[i].Status = LinePending
			n++
		}
	}
	if n > 0 {
		a.Escrow.Stuck = false
		a.Escrow.StuckReason = ""
	}
	return n
}

// NoteAttempt increments the attempt counter of a line.
func (a *Aggregate) NoteAttempt(key string) {
	if l := a.line(key); l != nil {
		l.Attempts++
	}
}

func (a *Aggregate) line(key string) *SettlementLine {
	if a.Escrow == nil {
		return nil
	}
	for i := range a.Escrow.Lines {
		if a.Escrow.Lines[i].IdempotencyKey == key {
			return &a.Escrow.Lines[i]
		}
	}
	return nil
}

func (a *Aggregate) finishSettlement(now time.Time) error {
	target := EscrowRefunded
	for _, l := range a.Escrow.Lines {
		if l.Kind == SettleRelease && l.Amount > 0 {
			target = EscrowReleased
		}
	}
	if err := a.moveEscrow(target, System, now); err != nil {
		return err
	}
	a.Escrow.ReleasedAt = &now
	return nil
}

// BundleHash digests the artefact set independent of insertion order.
func BundleHash(artefacts []Artefact) string {
	lines := make([]string, len(artefacts))
	for i, art := range artefacts {
		lines[i] = art.Key + ":" + art.Hash
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
