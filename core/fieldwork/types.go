package fieldwork

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskDraft     TaskStatus = "draft"
	TaskPosted    TaskStatus = "posted"
	TaskClaimed   TaskStatus = "claimed"
	TaskSubmitted TaskStatus = "submitted"
	TaskAccepted  TaskStatus = "accepted"
	TaskDisputed  TaskStatus = "disputed"
	TaskCancelled TaskStatus = "cancelled"
	TaskExpired   TaskStatus = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskAccepted || s == TaskCancelled || s == TaskExpired
}

// ClaimStatus is the state of a worker's exclusivity claim.
type ClaimStatus string

const (
	ClaimActive    ClaimStatus = "active"
	ClaimConverted ClaimStatus = "converted"
	ClaimExpired   ClaimStatus = "expired"
)

// SubmissionStatus is the state of a proof submission.
type SubmissionStatus string

const (
	SubmissionDraft     SubmissionStatus = "draft"
	SubmissionUploading SubmissionStatus = "uploading"
	SubmissionFinalised SubmissionStatus = "finalised"
	SubmissionAccepted  SubmissionStatus = "accepted"
	SubmissionRejected  SubmissionStatus = "rejected"
	SubmissionDisputed  SubmissionStatus = "disputed"
)

// DecisionType is the requester's verdict on a submission.
type DecisionType string

const (
	DecisionAccept DecisionType = "accept"
	DecisionReject DecisionType = "reject"
)

// ReasonCode explains a reject decision.
type ReasonCode string

const (
	ReasonLocationMismatch    ReasonCode = "location_mismatch"
	ReasonQualityInsufficient ReasonCode = "quality_insufficient"
	ReasonIncomplete          ReasonCode = "incomplete"
	ReasonWrongSubject        ReasonCode = "wrong_subject"
	ReasonFraudSuspected      ReasonCode = "fraud_suspected"
	ReasonOther               ReasonCode = "other"
)

// Valid reports whether the code is one of the known reason codes.
func (r ReasonCode) Valid() bool {
	switch r {
	case ReasonLocationMismatch, ReasonQualityInsufficient, ReasonIncomplete,
		ReasonWrongSubject, ReasonFraudSuspected, ReasonOther:
		return true
	}
	return false
}

// DisputeStatus is the state of a dispute.
type DisputeStatus string

const (
	DisputeOpened      DisputeStatus = "opened"
	DisputeUnderReview DisputeStatus = "under_review"
	DisputeTier2       DisputeStatus = "tier2"
	DisputeResolved    DisputeStatus = "resolved"
)

// Recommendation is the Tier-1 automated outcome.
type Recommendation string

const (
	RecommendWorker    Recommendation = "worker_wins"
	RecommendRequester Recommendation = "requester_wins"
	RecommendEscalate  Recommendation = "escalate"
)

// ResolutionType is the binding outcome of a dispute.
type ResolutionType string

const (
	ResolutionWorkerWins    ResolutionType = "worker_wins"
	ResolutionRequesterWins ResolutionType = "requester_wins"
	ResolutionSplit         ResolutionType = "split"
)

// Valid reports whether the resolution type is known.
func (r ResolutionType) Valid() bool {
	return r == ResolutionWorkerWins || r == ResolutionRequesterWins || r == ResolutionSplit
}

// Party is a side of a dispute.
type Party string

const (
	PartyWorker    Party = "worker"
	PartyRequester Party = "requester"
)

// Vote is a juror's ballot.
type Vote string

const (
	VoteWorker    Vote = "worker"
	VoteRequester Vote = "requester"
	VoteAbstain   Vote = "abstain"
)

// Valid reports whether v is a known ballot.
func (v Vote) Valid() bool {
	return v == VoteWorker || v == VoteRequester || v == VoteAbstain
}

// EscrowStatus is the custody state of a bounty.
type EscrowStatus string

const (
	EscrowPending  EscrowStatus = "pending" // funding requested, not yet confirmed by the provider
	EscrowFunded   EscrowStatus = "funded"
	EscrowLocked   EscrowStatus = "locked"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
	EscrowDisputed EscrowStatus = "disputed"
)

// Settled reports whether custody has ended.
func (s EscrowStatus) Settled() bool {
	return s == EscrowReleased || s == EscrowRefunded
}

// Role is the authenticated role of an actor, supplied by the identity collaborator.
type Role string

const (
	RoleRequester Role = "requester"
	RoleWorker    Role = "worker"
	RoleJuror     Role = "juror"
	RoleOperator  Role = "operator"
)

// Actor is the caller of an engine command.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// System is the actor used by sweeps and provider confirmations.
var System = Actor{ID: "system", Role: RoleOperator}

// Money is an amount in the currency's minor units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// GeoFence is the circle a capture must fall within.
type GeoFence struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RadiusM float64 `json:"radius_m"`
}

// TimeWindow bounds when captures are valid.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window (inclusive).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Rights captures usage rights the requester obtains.
type Rights struct {
	ExclusivityDays int  `json:"exclusivity_days"`
	ResaleAfter     bool `json:"resale_after_exclusivity"`
}

// Template identifies the requirement schema a task was authored against.
type Template struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Version string `json:"version"`
}

// Task is the aggregate root's core entity.
type Task struct {
	TaskID       string       `json:"task_id"`
	RequesterID  string       `json:"requester_id"`
	Title        string       `json:"title"`
	Template     Template     `json:"template"`
	Status       TaskStatus   `json:"status"`
	Location     GeoFence     `json:"location"`
	Window       TimeWindow   `json:"window"`
	Requirements Requirements `json:"requirements"`
	Bounty       Money        `json:"bounty"`
	Rights       Rights       `json:"rights"`
	CreatedAt    time.Time    `json:"created_at"`
	PublishedAt  *time.Time   `json:"published_at,omitempty"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	// Set after a reject decision; the task reverts to posted once it passes with no dispute.
	DisputeGraceUntil *time.Time `json:"dispute_grace_until,omitempty"`
}

// TaskClaim grants a worker temporary exclusivity.
type TaskClaim struct {
	ClaimID      string      `json:"claim_id"`
	TaskID       string      `json:"task_id"`
	WorkerID     string      `json:"worker_id"`
	WorkerWallet string      `json:"worker_wallet,omitempty"`
	ClaimedAt    time.Time   `json:"claimed_at"`
	ClaimedUntil time.Time   `json:"claimed_until"`
	Status       ClaimStatus `json:"status"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
}

// Submission is a worker's proof bundle for one claim.
type Submission struct {
	SubmissionID string           `json:"submission_id"`
	TaskID       string           `json:"task_id"`
	ClaimID      string           `json:"claim_id"`
	WorkerID     string           `json:"worker_id"`
	Status       SubmissionStatus `json:"status"`
	Artefacts    []Artefact       `json:"artefacts,omitempty"`
	Captures     []Capture        `json:"captures,omitempty"`
	BundleHash   string           `json:"bundle_hash,omitempty"`
	Score        int              `json:"verification_score"`
	Checks       []CheckResult    `json:"checks,omitempty"`
	Flags        []string         `json:"flags,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	FinalisedAt  *time.Time       `json:"finalised_at,omitempty"`
}

// Artefact references an object held by the storage provider.
type Artefact struct {
	Key     string    `json:"key"`
	Hash    string    `json:"hash,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Decision is the requester's immutable verdict.
type Decision struct {
	DecisionID   string       `json:"decision_id"`
	SubmissionID string       `json:"submission_id"`
	ActorID      string       `json:"actor_id"`
	Type         DecisionType `json:"type"`
	ReasonCode   ReasonCode   `json:"reason_code,omitempty"`
	Comment      string       `json:"comment,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// AutoScoreResult is the Tier-1 evaluation attached to a dispute.
type AutoScoreResult struct {
	Score          int            `json:"score"`
	BaseScore      int            `json:"base_score"`
	EvidenceDelta  int            `json:"evidence_delta"`
	Checks         []CheckResult  `json:"checks"`
	Recommendation Recommendation `json:"recommendation"`
	EvaluatedAt    time.Time      `json:"evaluated_at"`
}

// Evidence is an append-only statement filed in a dispute.
type Evidence struct {
	EvidenceID  string    `json:"evidence_id"`
	DisputeID   string    `json:"dispute_id"`
	SubmittedBy string    `json:"submitted_by"`
	Party       Party     `json:"party"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	StorageKey  string    `json:"storage_key,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JuryVote is a juror's immutable ballot.
type JuryVote struct {
	DisputeID string    `json:"dispute_id"`
	JurorID   string    `json:"juror_id"`
	Vote      Vote      `json:"vote"`
	Reason    string    `json:"reason,omitempty"`
	VotedAt   time.Time `json:"voted_at"`
}

// Resolution is the binding outcome of a dispute.
type Resolution struct {
	Type                ResolutionType `json:"resolution_type"`
	WorkerPayoutPercent int            `json:"worker_payout_percent,omitempty"`
	Tier                int            `json:"tier"`
	Reason              string         `json:"reason"`
	ResolvedBy          string         `json:"resolved_by"`
	ResolvedAt          time.Time      `json:"resolved_at"`
}

// Dispute escalates a rejected submission.
type Dispute struct {
	DisputeID        string           `json:"dispute_id"`
	TaskID           string           `json:"task_id"`
	SubmissionID     string           `json:"submission_id"`
	OpenedBy         string           `json:"opened_by"`
	Status           DisputeStatus    `json:"status"`
	OpenedAt         time.Time        `json:"opened_at"`
	EvidenceDeadline time.Time        `json:"evidence_deadline"`
	CurrentTier      int              `json:"current_tier"`
	Tier2Deadline    *time.Time       `json:"tier2_deadline,omitempty"`
	AutoScore        *AutoScoreResult `json:"auto_score_result,omitempty"`
	Evidence         []Evidence       `json:"evidence,omitempty"`
	Jurors           []string         `json:"jurors,omitempty"`
	Votes            []JuryVote       `json:"votes,omitempty"`
	Resolution       *Resolution      `json:"resolution,omitempty"`
}

// Open reports whether the dispute still awaits a resolution.
func (d *Dispute) Open() bool { return d.Status != DisputeResolved }

// SettlementKind is the direction of a custody movement.
type SettlementKind string

const (
	SettleRelease SettlementKind = "release"
	SettleRefund  SettlementKind = "refund"
)

// LineStatus tracks a settlement line against the provider.
type LineStatus string

const (
	LinePending   LineStatus = "pending"
	LineConfirmed LineStatus = "confirmed"
	LineRejected  LineStatus = "rejected"
)

// SettlementLine is one provider instruction derived from a settlement plan.
type SettlementLine struct {
	Kind           SettlementKind `json:"kind"`
	To             string         `json:"to"`
	Amount         int64          `json:"amount"`
	IdempotencyKey string         `json:"idempotency_key"`
	Status         LineStatus     `json:"status"`
	ProviderRef    string         `json:"provider_ref,omitempty"`
	Attempts       int            `json:"attempts"`
	ConfirmedAt    *time.Time     `json:"confirmed_at,omitempty"`
}

// Escrow tracks custody of a task's bounty.
type Escrow struct {
	TaskID       string           `json:"task_id"`
	Provider     string           `json:"provider"`
	Reference    string           `json:"reference,omitempty"`
	Amount       int64            `json:"amount"`
	Currency     string           `json:"currency"`
	Status       EscrowStatus     `json:"status"`
	FundedAt     *time.Time       `json:"funded_at,omitempty"`
	LockedAt     *time.Time       `json:"locked_at,omitempty"`
	ReleasedAt   *time.Time       `json:"released_at,omitempty"`
	WorkerWallet string           `json:"worker_wallet,omitempty"`
	Lines        []SettlementLine `json:"lines,omitempty"`
	Stuck        bool             `json:"stuck,omitempty"`
	StuckReason  string           `json:"stuck_reason,omitempty"`
}

// PendingLines reports whether any settlement line awaits provider confirmation.
func (e *Escrow) PendingLines() bool {
	for _, l := range e.Lines {
		if l.Status == LinePending {
			return true
		}
	}
	return false
}

// LedgerKind classifies a ledger entry.
type LedgerKind string

const (
	LedgerSettlementRequested LedgerKind = "settlement_requested"
	LedgerSettlementConfirmed LedgerKind = "settlement_confirmed"
	LedgerSettlementRejected  LedgerKind = "settlement_rejected"
	LedgerFeeRetained         LedgerKind = "fee_retained"
	LedgerArbitrationForfeit  LedgerKind = "arbitration_fee_forfeited"
)

// LedgerEntry is an immutable, hash-chained settlement record.
type LedgerEntry struct {
	EntryID  string           `json:"entry_id"`
	TaskID   string           `json:"task_id"`
	Seq      int              `json:"seq"`
	Kind     LedgerKind       `json:"kind"`
	Lines    []SettlementLine `json:"lines,omitempty"`
	Amount   int64            `json:"amount"`
	Currency string           `json:"currency"`
	Reason   string           `json:"reason"`
	At       time.Time        `json:"at"`
	PrevHash string           `json:"prev_hash"`
	Hash     string           `json:"hash"`
}

// EventType names a lifecycle event.
type EventType string

const (
	EventTaskTransition   EventType = "task_transition"
	EventEscrowTransition EventType = "escrow_transition"
	EventClaimGranted     EventType = "claim_granted"
	EventClaimReleased    EventType = "claim_released"
	EventClaimExpired     EventType = "claim_expired"
	EventSubmission       EventType = "submission_finalised"
	EventDecision         EventType = "decision_recorded"
	EventDisputeOpened    EventType = "dispute_opened"
	EventDisputeEscalate  EventType = "dispute_escalated"
	EventDisputeResolved  EventType = "dispute_resolved"
	EventEvidenceFiled    EventType = "evidence_filed"
	EventVoteCast         EventType = "vote_cast"
	EventSettlement       EventType = "settlement"
)

// Event is emitted to reputation/notification collaborators after a commit.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	EntityID  string    `json:"entity_id,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Actor     string    `json:"actor"`
	Message   string    `json:"message"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	Status      TaskStatus
	RequesterID string
	WorkerID    string
	Limit       int
	Offset      int
}
