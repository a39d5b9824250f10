package fieldwork

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rejectedAggregate(t *testing.T, capture func(string, time.Time) Capture) (*Aggregate, *Submission, time.Time) {
	t.Helper()
	a, s := submittedAggregate(t, capture)
	at := t0.Add(3 * time.Hour)
	_, err := a.Decide(requester, s.SubmissionID, DecisionReject, ReasonLocationMismatch, "wrong building", at, DefaultPolicy())
	require.NoError(t, err)
	return a, s, at
}

func TestRecommendThresholds(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, RecommendWorker, Recommend(80, p))
	assert.Equal(t, RecommendEscalate, Recommend(79, p))
	assert.Equal(t, RecommendEscalate, Recommend(41, p))
	assert.Equal(t, RecommendRequester, Recommend(40, p))
}

func TestEvaluateTier1EvidenceCap(t *testing.T) {
	p := DefaultPolicy()
	deadline := t0.Add(time.Hour)
	var ev []Evidence
	for i := 0; i < 5; i++ {
		ev = append(ev, Evidence{Party: PartyWorker, SubmittedAt: t0})
	}
	ev = append(ev, Evidence{Party: PartyWorker, SubmittedAt: deadline.Add(time.Second)})

	auto := EvaluateTier1(Submission{Score: 70}, ev, deadline, p, t0)
	assert.Equal(t, 15, auto.EvidenceDelta)
	assert.Equal(t, 85, auto.Score)
	assert.Equal(t, RecommendWorker, auto.Recommendation)

	auto = EvaluateTier1(Submission{Score: 10}, []Evidence{{Party: PartyRequester, SubmittedAt: t0}, {Party: PartyRequester, SubmittedAt: t0}, {Party: PartyRequester, SubmittedAt: t0}, {Party: PartyRequester, SubmittedAt: t0}}, deadline, p, t0)
	assert.Equal(t, 0, auto.Score, "score is clamped")
	assert.Equal(t, -15, auto.EvidenceDelta)
}

func TestScenarioJuryWorkerWins(t *testing.T) {
	p := DefaultPolicy()
	a, s, at := rejectedAggregate(t, weakCapture)
	assert.Equal(t, 65, s.Score)

	_, err := a.OpenDisputeOn(worker2, s.SubmissionID, nil, at, p, jurorPool)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	d, err := a.OpenDisputeOn(worker, s.SubmissionID, nil, at.Add(time.Hour), p, jurorPool)
	require.NoError(t, err)
	assert.Equal(t, TaskDisputed, a.Task.Status)
	assert.Equal(t, EscrowDisputed, a.Escrow.Status)
	require.NotNil(t, d.AutoScore)
	assert.Equal(t, RecommendEscalate, d.AutoScore.Recommendation)
	assert.Equal(t, DisputeTier2, d.Status)
	assert.Equal(t, 2, d.CurrentTier)
	require.Len(t, d.Jurors, 3)
	assert.NotContains(t, d.Jurors, requester.ID)
	assert.NotContains(t, d.Jurors, worker.ID)

	_, err = a.OpenDisputeOn(worker, s.SubmissionID, nil, at.Add(time.Hour), p, jurorPool)
	assert.ErrorIs(t, err, ErrDisputeAlreadyOpen)

	voteAt := at.Add(2 * time.Hour)
	_, err = a.CastVote(Actor{ID: "jur-outsider", Role: RoleJuror}, d.DisputeID, VoteWorker, "", voteAt, p)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	ballots := []Vote{VoteWorker, VoteWorker, VoteRequester}
	for i, j := range d.Jurors {
		_, err := a.CastVote(Actor{ID: j, Role: RoleJuror}, d.DisputeID, ballots[i], "", voteAt, p)
		require.NoError(t, err)
		if i == 0 {
			_, err = a.CastVote(Actor{ID: j, Role: RoleJuror}, d.DisputeID, VoteRequester, "", voteAt, p)
			assert.ErrorIs(t, err, ErrAlreadyVoted)
		}
	}

	d = a.Dispute(d.DisputeID)
	require.NotNil(t, d.Resolution)
	assert.Equal(t, DisputeResolved, d.Status)
	assert.Equal(t, ResolutionWorkerWins, d.Resolution.Type)
	assert.Equal(t, TaskAccepted, a.Task.Status)
	assert.Equal(t, SubmissionAccepted, a.Submission(s.SubmissionID).Status)

	require.Len(t, a.Escrow.Lines, 1)
	// 25 USDC minus 10% platform fee minus 5% arbitration fee
	assert.Equal(t, int64(21_250_000), a.Escrow.Lines[0].Amount)
	confirmAll(t, a, voteAt.Add(time.Minute))
	assert.Equal(t, EscrowReleased, a.Escrow.Status)
	assert.NoError(t, VerifyLedger(a.Ledger))
}

func TestTier1DecisiveWaitsForEvidenceDeadline(t *testing.T) {
	p := DefaultPolicy()
	a, s, at := rejectedAggregate(t, goodCapture)
	d, err := a.OpenDisputeOn(worker, s.SubmissionID, nil, at, p, jurorPool)
	require.NoError(t, err)
	assert.Equal(t, DisputeUnderReview, d.Status)
	assert.Equal(t, RecommendWorker, d.AutoScore.Recommendation)

	require.NoError(t, a.Reconcile(d.EvidenceDeadline.Add(-time.Second), p, jurorPool))
	assert.Equal(t, DisputeUnderReview, a.Dispute(d.DisputeID).Status)

	require.NoError(t, a.Reconcile(d.EvidenceDeadline, p, jurorPool))
	d = a.Dispute(d.DisputeID)
	assert.Equal(t, DisputeResolved, d.Status)
	assert.Equal(t, 1, d.Resolution.Tier)
	assert.Equal(t, ResolutionWorkerWins, d.Resolution.Type)
}

func TestTier1ContradictedEscalates(t *testing.T) {
	p := DefaultPolicy()
	a, s, at := rejectedAggregate(t, goodCapture)
	d, err := a.OpenDisputeOn(worker, s.SubmissionID, nil, at, p, jurorPool)
	require.NoError(t, err)

	_, err = a.AddEvidence(worker2, d.DisputeID, EvidenceInput{Type: "text", Description: "x"}, at, p)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	ev, err := a.AddEvidence(requester, d.DisputeID, EvidenceInput{Type: "image", Description: "street view shows another shop", StorageKey: "evidence/1.jpg"}, at.Add(time.Hour), p)
	require.NoError(t, err)
	assert.Equal(t, PartyRequester, ev.Party)
	assert.Equal(t, 95, a.Dispute(d.DisputeID).AutoScore.Score)

	_, err = a.AddEvidence(requester, d.DisputeID, EvidenceInput{Type: "text", Description: "late"}, d.EvidenceDeadline.Add(time.Second), p)
	assert.ErrorIs(t, err, ErrDeadlinePassed)

	require.NoError(t, a.Reconcile(d.EvidenceDeadline, p, jurorPool))
	d = a.Dispute(d.DisputeID)
	assert.Equal(t, DisputeTier2, d.Status)
	require.NotNil(t, d.Tier2Deadline)
}

func TestTier2DeadlineTallyAndLateVote(t *testing.T) {
	p := DefaultPolicy()
	a, s, at := rejectedAggregate(t, weakCapture)
	d, err := a.OpenDisputeOn(worker, s.SubmissionID, nil, at, p, jurorPool)
	require.NoError(t, err)

	_, err = a.CastVote(Actor{ID: d.Jurors[0], Role: RoleJuror}, d.DisputeID, VoteRequester, "", at, p)
	require.NoError(t, err)
	_, err = a.CastVote(Actor{ID: d.Jurors[1], Role: RoleJuror}, d.DisputeID, VoteWorker, "", at, p)
	require.NoError(t, err)

	deadline := *d.Tier2Deadline
	late := deadline.Add(time.Millisecond)
	require.NoError(t, a.Reconcile(late, p, jurorPool))

	d = a.Dispute(d.DisputeID)
	require.NotNil(t, d.Resolution)
	assert.Equal(t, ResolutionSplit, d.Resolution.Type, "tie falls back to the tier 1 score")
	assert.Equal(t, 65, d.Resolution.WorkerPayoutPercent)

	_, err = a.CastVote(Actor{ID: d.Jurors[2], Role: RoleJuror}, d.DisputeID, VoteWorker, "", late, p)
	assert.ErrorIs(t, err, ErrDeadlinePassed)

	require.Len(t, a.Escrow.Lines, 2)
	plan := SettlementPlan{Lines: a.Escrow.Lines}
	// 65% of 25 USDC is 16.25, minus 10% platform fee
	assert.Equal(t, int64(14_625_000), plan.Payout())
	assert.Equal(t, int64(8_750_000), plan.Refund())
}

func TestEmptyJuryFallsBack(t *testing.T) {
	p := DefaultPolicy()
	a, s, at := rejectedAggregate(t, weakCapture)
	d, err := a.OpenDisputeOn(worker, s.SubmissionID, nil, at, p, []string{requester.ID, worker.ID})
	require.NoError(t, err)
	assert.Empty(t, d.Jurors)
	assert.Equal(t, DisputeResolved, d.Status, "an empty panel resolves on escalation")
	assert.Equal(t, 2, d.Resolution.Tier)
	assert.Equal(t, d.OpenedAt, d.Resolution.ResolvedAt)
	assert.Equal(t, ResolutionSplit, d.Resolution.Type)
	assert.Equal(t, d.AutoScore.Score, d.Resolution.WorkerPayoutPercent)
}

func TestOperatorResolvesRequesterWins(t *testing.T) {
	p := DefaultPolicy()
	a, s, at := rejectedAggregate(t, weakCapture)
	d, err := a.OpenDisputeOn(worker, s.SubmissionID, nil, at, p, jurorPool)
	require.NoError(t, err)

	_, err = a.ResolveByOperator(requester, d.DisputeID, ResolutionRequesterWins, 0, "", at, p)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = a.ResolveByOperator(operator, d.DisputeID, ResolutionSplit, 140, "", at, p)
	assert.ErrorIs(t, err, ErrInvalidInput)

	d, err = a.ResolveByOperator(operator, d.DisputeID, ResolutionRequesterWins, 0, "fraud confirmed", at, p)
	require.NoError(t, err)
	assert.Equal(t, operator.ID, d.Resolution.ResolvedBy)
	assert.Equal(t, 2, d.Resolution.Tier)
	assert.Equal(t, TaskCancelled, a.Task.Status)

	require.Len(t, a.Escrow.Lines, 1)
	assert.Equal(t, SettleRefund, a.Escrow.Lines[0].Kind)
	assert.Equal(t, int64(25_000_000), a.Escrow.Lines[0].Amount)

	var forfeited bool
	for _, e := range a.Ledger {
		if e.Kind == LedgerArbitrationForfeit {
			forfeited = true
			assert.Equal(t, int64(1_250_000), e.Amount)
		}
	}
	assert.True(t, forfeited)

	_, err = a.ResolveByOperator(operator, d.DisputeID, ResolutionWorkerWins, 0, "", at, p)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSelectJurorsDeterministic(t *testing.T) {
	pool := []string{"a", "b", "c", "d", "e", "b", ""}
	first := SelectJurors("disp-1", pool, 3, "e")
	assert.Equal(t, first, SelectJurors("disp-1", pool, 3, "e"))
	assert.Len(t, first, 3)
	assert.NotContains(t, first, "e")
	assert.Len(t, SelectJurors("disp-1", pool, 10), 5, "duplicates and blanks dropped")
}

func TestTallyMajorityAndFallback(t *testing.T) {
	p := DefaultPolicy()
	d := &Dispute{Jurors: []string{"a", "b", "c"}, AutoScore: &AutoScoreResult{Score: 85}}

	d.Votes = []JuryVote{{JurorID: "a", Vote: VoteRequester}, {JurorID: "b", Vote: VoteAbstain}, {JurorID: "c", Vote: VoteAbstain}}
	assert.Equal(t, ResolutionRequesterWins, Tally(d, p, t0).Type)

	d.Votes = []JuryVote{{JurorID: "a", Vote: VoteAbstain}, {JurorID: "b", Vote: VoteAbstain}, {JurorID: "c", Vote: VoteAbstain}}
	assert.Equal(t, ResolutionWorkerWins, Tally(d, p, t0).Type, "all abstain defers to tier 1 score 85")

	d.Votes = []JuryVote{{JurorID: "x", Vote: VoteRequester}, {JurorID: "y", Vote: VoteRequester}}
	assert.Equal(t, ResolutionWorkerWins, Tally(d, p, t0).Type, "off-panel ballots are ignored")

	p.TiePolicy = TieSplitEven
	res := Tally(d, p, t0)
	assert.Equal(t, ResolutionSplit, res.Type)
	assert.Equal(t, 50, res.WorkerPayoutPercent)
}
