package fieldwork

import "fmt"

// SettlementPlan is the full set of custody movements for one outcome.
// Worker payouts, requester refunds, retained fees and the forfeited
// arbitration fee always sum to the bounty, except the forfeit which is
// charged to the disputing party outside escrow.
type SettlementPlan struct {
	Lines                []SettlementLine `json:"lines"`
	FeeRetained          int64            `json:"fee_retained"`
	ArbitrationForfeited int64            `json:"arbitration_forfeited"`
	Reason               string           `json:"reason"`
}

// Payout returns the total released to the worker.
func (p SettlementPlan) Payout() int64 { return p.sum(SettleRelease) }

// Refund returns the total returned to the requester.
func (p SettlementPlan) Refund() int64 { return p.sum(SettleRefund) }

func (p SettlementPlan) sum(kind SettlementKind) int64 {
	var n int64
	for _, l := range p.Lines {
		if l.Kind == kind {
			n += l.Amount
		}
	}
	return n
}

// FinalStatus is the escrow status reached once every line confirms.
func (p SettlementPlan) FinalStatus() EscrowStatus {
	if p.Payout() > 0 {
		return EscrowReleased
	}
	return EscrowRefunded
}

func bps(amount int64, basis int) int64 {
	return amount * int64(basis) / 10000
}

func line(taskID string, kind SettlementKind, to string, amount int64) SettlementLine {
	return SettlementLine{
		Kind:           kind,
		To:             to,
		Amount:         amount,
		IdempotencyKey: fmt.Sprintf("%s:%s", taskID, kind),
		Status:         LinePending,
	}
}

func (p *SettlementPlan) add(l SettlementLine) {
	if l.Amount > 0 {
		p.Lines = append(p.Lines, l)
	}
}

// PlanAccept releases the bounty minus the platform fee to the worker.
func PlanAccept(task Task, wallet string, p Policy) SettlementPlan {
	fee := bps(task.Bounty.Amount, p.PlatformFeeBps)
	plan := SettlementPlan{FeeRetained: fee, Reason: "submission accepted"}
	plan.add(line(task.TaskID, SettleRelease, wallet, task.Bounty.Amount-fee))
	return plan
}

// PlanRefund returns the whole bounty to the requester.
func PlanRefund(task Task, reason string) SettlementPlan {
	plan := SettlementPlan{Reason: reason}
	plan.add(line(task.TaskID, SettleRefund, task.RequesterID, task.Bounty.Amount))
	return plan
}

// PlanResolution computes custody movements for a dispute outcome.
func PlanResolution(task Task, wallet string, res Resolution, p Policy) (SettlementPlan, error) {
	bounty := task.Bounty.Amount
	arbitration := bps(bounty, p.ArbitrationFeeBps)
	switch res.Type {
	case ResolutionWorkerWins:
		fee := bps(bounty, p.PlatformFeeBps)
		if !p.RefundArbitrationFeeOnWin {
			fee += arbitration
		}
		plan := SettlementPlan{FeeRetained: fee, Reason: "dispute resolved for worker: " + res.Reason}
		plan.add(line(task.TaskID, SettleRelease, wallet, bounty-fee))
		return plan, nil
	case ResolutionRequesterWins:
		plan := PlanRefund(task, "dispute resolved for requester: "+res.Reason)
		plan.ArbitrationForfeited = arbitration
		return plan, nil
	case ResolutionSplit:
		if res.WorkerPayoutPercent < 0 || res.WorkerPayoutPercent > 100 {
			return SettlementPlan{}, fmt.Errorf("%w: split percent %d", ErrInvalidInput, res.WorkerPayoutPercent)
		}
		portion := bounty * int64(res.WorkerPayoutPercent) / 100
		fee := bps(portion, p.PlatformFeeBps)
		plan := SettlementPlan{FeeRetained: fee, Reason: fmt.Sprintf("dispute split %d%%: %s", res.WorkerPayoutPercent, res.Reason)}
		plan.add(line(task.TaskID, SettleRelease, wallet, portion-fee))
		plan.add(line(task.TaskID, SettleRefund, task.RequesterID, bounty-portion))
		return plan, nil
	}
	return SettlementPlan{}, fmt.Errorf("%w: unknown resolution %q", ErrInvalidInput, res.Type)
}
