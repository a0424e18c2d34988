package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/futarchia/futarch-backend/internal/ledger"
	"github.com/futarchia/futarch-backend/model"
)

// CrankOracle records fresh price observations for a proposal's eligible
// decision-market pools. Cranking is permissionless and takes no lock: the
// oracle program itself rejects premature observations, so concurrent cranks
// are harmless.
func (s *Service) CrankOracle(ctx context.Context, ref string) (*model.CrankResponse, error) {
	acct, err := s.ledger.FetchProposal(ctx, ledger.Ref(ref))
	if err != nil {
		if err == ledger.ErrNotFound {
			return nil, validationFailure("proposal %s does not exist on the ledger", ref)
		}
		return nil, err
	}
	if acct.Phase != ledger.PhasePending {
		return nil, conflictFailure("proposal is in %s state; only pending proposals are cranked", acct.Phase)
	}

	now := s.now()
	proj := ledger.Project(acct, now)

	pools := acct.OptionPools
	if len(pools) == 0 {
		for i := 0; i < acct.OptionCount; i++ {
			pools = append(pools, ledger.OptionPoolSeed(ledger.Ref(ref), i))
		}
	}

	operator, err := s.vault.Operator()
	if err != nil {
		return nil, configFailure("deriving operator identity: %v", err)
	}

	var instructions []ledger.Instruction
	results := make([]model.CrankResult, 0, len(pools))
	for _, poolRef := range pools {
		result := model.CrankResult{Pool: string(poolRef)}

		// Two independent eligibility predicates: warmup elapsed, and the
		// minimum recording interval elapsed since the last observation.
		if now.Before(proj.WarmupEndsAt) {
			wait := proj.WarmupEndsAt.Sub(now)
			result.WaitRemaining = int64(wait.Seconds())
			result.Reason = fmt.Sprintf("warmup not elapsed; %s remaining", wait.Round(time.Second))
			results = append(results, result)
			continue
		}

		p, err := s.ledger.FetchPool(ctx, poolRef)
		if err != nil {
			if err == ledger.ErrNotFound {
				result.Reason = "pool account not found"
				results = append(results, result)
				continue
			}
			return nil, err
		}
		if p.LastObservationAt > 0 {
			nextAt := time.Unix(p.LastObservationAt, 0).UTC().Add(s.cfg.OracleMinInterval)
			if now.Before(nextAt) {
				wait := nextAt.Sub(now)
				result.WaitRemaining = int64(wait.Seconds())
				result.Reason = fmt.Sprintf("recorded too recently; %s remaining", wait.Round(time.Second))
				results = append(results, result)
				continue
			}
		}

		result.Cranked = true
		results = append(results, result)
		instructions = append(instructions, s.programs.CrankInstruction(operator.Ref, poolRef))
	}

	if len(instructions) == 0 {
		return &model.CrankResponse{
			Success: true,
			Message: "no pools eligible for an observation",
			Results: results,
		}, nil
	}

	// Batch every eligible pool into a single submission for atomicity and
	// fee efficiency.
	tx := &ledger.UnsignedTx{Payer: operator.Ref, Instructions: instructions}
	id, err := s.signSubmitConfirm(ctx, tx, operator)
	if err != nil {
		return nil, err
	}

	s.logger.Info("oracle cranked",
		zap.String("proposal", ledger.Ref(ref).Short()),
		zap.Int("pools", len(instructions)),
		zap.String("submission", string(id)))

	return &model.CrankResponse{
		Success:    true,
		Message:    fmt.Sprintf("recorded observations for %d of %d pools", len(instructions), len(pools)),
		Submission: string(id),
		Results:    results,
	}, nil
}
