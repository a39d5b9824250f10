package fieldwork

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// EvaluateTier1 recomputes the automated score of a disputed submission.
// Each net evidence item moves the score by EvidenceWeight, capped at
// EvidenceCap either way. Only evidence filed up to the deadline counts.
func EvaluateTier1(sub Submission, evidence []Evidence, deadline time.Time, p Policy, now time.Time) AutoScoreResult {
	net := 0
	for _, e := range evidence {
		if e.SubmittedAt.After(deadline) {
			continue
		}
		switch e.Party {
		case PartyWorker:
			net++
		case PartyRequester:
			net--
		}
	}
	delta := net * p.EvidenceWeight
	if delta > p.EvidenceCap {
		delta = p.EvidenceCap
	}
	if delta < -p.EvidenceCap {
		delta = -p.EvidenceCap
	}
	score := sub.Score + delta
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	checks := make([]CheckResult, len(sub.Checks))
	copy(checks, sub.Checks)
	return AutoScoreResult{
		Score:          score,
		BaseScore:      sub.Score,
		EvidenceDelta:  delta,
		Checks:         checks,
		Recommendation: Recommend(score, p),
		EvaluatedAt:    now,
	}
}

// Recommend maps a Tier-1 score onto a recommendation.
func Recommend(score int, p Policy) Recommendation {
	switch {
	case score >= p.Tier1HighThreshold:
		return RecommendWorker
	case score <= p.Tier1LowThreshold:
		return RecommendRequester
	default:
		return RecommendEscalate
	}
}

// Contradicted reports whether the party a decisive recommendation rules
// against filed evidence within the window.
func Contradicted(rec Recommendation, evidence []Evidence, deadline time.Time) bool {
	var losing Party
	switch rec {
	case RecommendWorker:
		losing = PartyRequester
	case RecommendRequester:
		losing = PartyWorker
	default:
		return true
	}
	for _, e := range evidence {
		if e.Party == losing && !e.SubmittedAt.After(deadline) {
			return true
		}
	}
	return false
}

// Tier1Resolution converts a decisive recommendation into a resolution.
func Tier1Resolution(auto AutoScoreResult, now time.Time) (Resolution, error) {
	res := Resolution{Tier: 1, ResolvedBy: System.ID, ResolvedAt: now}
	switch auto.Recommendation {
	case RecommendWorker:
		res.Type = ResolutionWorkerWins
		res.WorkerPayoutPercent = 100
	case RecommendRequester:
		res.Type = ResolutionRequesterWins
	default:
		return Resolution{}, fmt.Errorf("%w: tier 1 recommendation %q is not decisive", ErrInvalidTransition, auto.Recommendation)
	}
	res.Reason = fmt.Sprintf("tier 1 score %d (base %d, evidence %+d)", auto.Score, auto.BaseScore, auto.EvidenceDelta)
	return res, nil
}

// SelectJurors picks up to quorum jurors from pool, skipping excluded ids.
// Ordering is a hash of dispute id and juror id so the same dispute always
// draws the same panel.
func SelectJurors(disputeID string, pool []string, quorum int, exclude ...string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	type ranked struct {
		id   string
		rank string
	}
	seen := make(map[string]struct{}, len(pool))
	candidates := make([]ranked, 0, len(pool))
	for _, id := range pool {
		if id == "" {
			continue
		}
		if _, ok := skip[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sum := sha256.Sum256([]byte(disputeID + "|" + id))
		candidates = append(candidates, ranked{id: id, rank: hex.EncodeToString(sum[:])})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].rank < candidates[j].rank })
	if len(candidates) > quorum {
		candidates = candidates[:quorum]
	}
	jurors := make([]string, len(candidates))
	for i, c := range candidates {
		jurors[i] = c.id
	}
	return jurors
}

// TallyResult summarises a jury count.
type TallyResult struct {
	Worker    int  `json:"worker"`
	Requester int  `json:"requester"`
	Abstain   int  `json:"abstain"`
	Decisive  bool `json:"decisive"`
}

// CountVotes counts ballots cast by empanelled jurors, one per juror.
func CountVotes(jurors []string, votes []JuryVote) TallyResult {
	panel := make(map[string]struct{}, len(jurors))
	for _, j := range jurors {
		panel[j] = struct{}{}
	}
	counted := make(map[string]struct{}, len(votes))
	var t TallyResult
	for _, v := range votes {
		if _, ok := panel[v.JurorID]; !ok {
			continue
		}
		if _, dup := counted[v.JurorID]; dup {
			continue
		}
		counted[v.JurorID] = struct{}{}
		switch v.Vote {
		case VoteWorker:
			t.Worker++
		case VoteRequester:
			t.Requester++
		default:
			t.Abstain++
		}
	}
	t.Decisive = t.Worker != t.Requester
	return t
}

// Tally resolves a Tier-2 dispute: a majority of non-abstain votes wins;
// ties, all-abstain panels and empty panels fall back to the tie policy.
func Tally(d *Dispute, p Policy, now time.Time) Resolution {
	t := CountVotes(d.Jurors, d.Votes)
	res := Resolution{Tier: 2, ResolvedBy: System.ID, ResolvedAt: now}
	switch {
	case t.Worker > t.Requester:
		res.Type = ResolutionWorkerWins
		res.WorkerPayoutPercent = 100
		res.Reason = fmt.Sprintf("jury %d-%d for worker (%d abstain)", t.Worker, t.Requester, t.Abstain)
		return res
	case t.Requester > t.Worker:
		res.Type = ResolutionRequesterWins
		res.Reason = fmt.Sprintf("jury %d-%d for requester (%d abstain)", t.Requester, t.Worker, t.Abstain)
		return res
	}

	score := 0
	if d.AutoScore != nil {
		score = d.AutoScore.Score
	}
	fb := Fallback(score, p)
	fb.Tier = 2
	fb.ResolvedBy = System.ID
	fb.ResolvedAt = now
	fb.Reason = fmt.Sprintf("jury undecided %d-%d (%d abstain), %s", t.Worker, t.Requester, t.Abstain, fb.Reason)
	return fb
}

// Fallback is the deterministic outcome used when a jury cannot decide.
func Fallback(score int, p Policy) Resolution {
	if p.TiePolicy == TieSplitEven {
		return Resolution{Type: ResolutionSplit, WorkerPayoutPercent: 50, Reason: "even split"}
	}
	switch Recommend(score, p) {
	case RecommendWorker:
		return Resolution{Type: ResolutionWorkerWins, WorkerPayoutPercent: 100, Reason: fmt.Sprintf("tier 1 score %d favours worker", score)}
	case RecommendRequester:
		return Resolution{Type: ResolutionRequesterWins, Reason: fmt.Sprintf("tier 1 score %d favours requester", score)}
	default:
		return Resolution{Type: ResolutionSplit, WorkerPayoutPercent: score, Reason: fmt.Sprintf("split at tier 1 score %d", score)}
	}
}

// AllVoted reports whether every empanelled juror has cast a ballot.
func AllVoted(d *Dispute) bool {
	if len(d.Jurors) == 0 {
		return true
	}
	voted := make(map[string]struct{}, len(d.Votes))
	for _, v := range d.Votes {
		voted[v.JurorID] = struct{}{}
	}
	for _, j := range d.Jurors {
		if _, ok := voted[j]; !ok {
			return false
		}
	}
	return true
}

// ValidateResolution checks an operator-supplied outcome.
func ValidateResolution(t ResolutionType, percent int) error {
	if !t.Valid() {
		return fmt.Errorf("%w: unknown resolution %q", ErrInvalidInput, t)
	}
	if t == ResolutionSplit && (percent < 0 || percent > 100) {
		return fmt.Errorf("%w: worker payout percent %d outside 0-100", ErrInvalidInput, percent)
	}
	return nil
}
