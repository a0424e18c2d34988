package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/futarchia/futarch-backend/database"
	"github.com/futarchia/futarch-backend/internal/ledger"
	"github.com/futarchia/futarch-backend/internal/locks"
	"github.com/futarchia/futarch-backend/internal/pool"
	"github.com/futarchia/futarch-backend/internal/signer"
	"github.com/futarchia/futarch-backend/model"
	"github.com/futarchia/futarch-backend/util"
)

// FinalizeProposal resolves an expired pending proposal and reports its
// winning option. Finalizing an already-resolved proposal succeeds
// idempotently.
func (s *Service) FinalizeProposal(ctx context.Context, ref string) (*model.ProposalResponse, error) {
	acct, err := s.ledger.FetchProposal(ctx, ledger.Ref(ref))
	if err != nil {
		if err == ledger.ErrNotFound {
			return nil, validationFailure("proposal %s does not exist on the ledger", ref)
		}
		return nil, err
	}

	if acct.Phase == ledger.PhaseResolved {
		s.syncProposalRow(ctx, ref, model.ProposalStateResolved, acct.WinningOption)
		return &model.ProposalResponse{
			Success:       true,
			Message:       "proposal is already resolved",
			Ref:           ref,
			WinningOption: acct.WinningOption,
		}, nil
	}
	if acct.Phase != ledger.PhasePending {
		return nil, conflictFailure("proposal is in %s state and cannot be finalized", acct.Phase)
	}
	now := s.now()
	proj := ledger.Project(acct, now)
	if !proj.Expired {
		return nil, conflictFailure("proposal is still running; it can be finalized in %s",
			util.FormatRemaining(proj.Remaining(now)))
	}

	var resp *model.ProposalResponse
	err = s.locks.WithLock(ctx, locks.ProposalKey(ref), func(ctx context.Context) error {
		// Re-check under the lock; a concurrent finalize may have won.
		acct, err := s.ledger.FetchProposal(ctx, ledger.Ref(ref))
		if err != nil {
			return err
		}
		if acct.Phase == ledger.PhaseResolved {
			resp = &model.ProposalResponse{
				Success:       true,
				Message:       "proposal is already resolved",
				Ref:           ref,
				WinningOption: acct.WinningOption,
			}
			return nil
		}

		operator, err := s.vault.Operator()
		if err != nil {
			return configFailure("deriving operator identity: %v", err)
		}
		tx := s.programs.BuildFinalize(operator.Ref, ledger.Ref(ref))
		id, err := s.signSubmitConfirm(ctx, tx, operator)
		if err != nil {
			return err
		}

		// Re-query for the winning option the program picked.
		resolved, err := s.ledger.FetchProposal(ctx, ledger.Ref(ref))
		if err != nil {
			return fmt.Errorf("re-querying finalized proposal: %w", err)
		}
		resp = &model.ProposalResponse{
			Success:       true,
			Message:       "proposal finalized",
			Ref:           ref,
			Submissions:   []string{string(id)},
			WinningOption: resolved.WinningOption,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	row := s.syncProposalRow(ctx, ref, model.ProposalStateResolved, resp.WinningOption)
	if row != nil {
		s.publishEvent(ctx, "finalized", row)
	}
	return resp, nil
}

// RedeemLiquidity redeems the liquidity-owning identity's conditional
// positions of a resolved proposal back into plain assets.
func (s *Service) RedeemLiquidity(ctx context.Context, ref string) (*model.ProposalResponse, error) {
	row, owner, err := s.resolveProposalOwner(ctx, ref)
	if err != nil {
		return nil, err
	}

	var resp *model.ProposalResponse
	err = s.locks.WithLock(ctx, locks.ProposalKey(ref), func(ctx context.Context) error {
		acct, err := s.ledger.FetchProposal(ctx, ledger.Ref(ref))
		if err != nil {
			if err == ledger.ErrNotFound {
				// Account closed: a prior redemption completed and reclaimed it.
				resp = &model.ProposalResponse{Success: true, Message: "proposal already redeemed", Ref: ref, Skipped: true}
				return nil
			}
			return err
		}
		if acct.Phase != ledger.PhaseResolved {
			return conflictFailure("proposal is in %s state; redemption requires resolution", acct.Phase)
		}

		pools := acct.OptionPools
		if len(pools) == 0 {
			for i := 0; i < acct.OptionCount; i++ {
				pools = append(pools, ledger.OptionPoolSeed(ledger.Ref(ref), i))
			}
		}

		// More than two options exceeds a single submission's direct
		// address budget, so the compacted-reference path is used.
		var table *ledger.Ref
		if acct.OptionCount > 2 {
			t := ledger.TableSeed(ledger.Ref(ref))
			table = &t
		}

		operator, err := s.vault.Operator()
		if err != nil {
			return configFailure("deriving operator identity: %v", err)
		}
		tx := s.programs.BuildRedeem(owner.Ref, ledger.Ref(ref), pools, table)
		tx.Payer = operator.Ref
		id, err := s.signSubmitConfirm(ctx, tx, operator, owner)
		if err != nil {
			return err
		}
		resp = &model.ProposalResponse{
			Success:     true,
			Message:     "conditional positions redeemed",
			Ref:         ref,
			Submissions: []string{string(id)},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The already-redeemed path submits nothing; repeating the event would
	// feed consumers a duplicate redemption signal per retry.
	if !resp.Skipped {
		s.publishEvent(ctx, "redeemed", row)
	}
	return resp, nil
}

// ReturnLiquidity deposits the redeemed assets back into the organization's
// pool. Balances below the minimum-significance threshold make this a
// deliberate no-op, reported as success with skipped=true.
func (s *Service) ReturnLiquidity(ctx context.Context, ref string) (*model.ProposalResponse, error) {
	row, owner, err := s.resolveProposalOwner(ctx, ref)
	if err != nil {
		return nil, err
	}
	org, err := s.registry.GetOrganization(ctx, row.Organization)
	if err != nil {
		return nil, err
	}
	venue, err := s.venues.Get(org.PoolKind)
	if err != nil {
		return nil, configFailure("organization %q: %v", org.Name, err)
	}

	var resp *model.ProposalResponse
	err = s.locks.WithLock(ctx, locks.ProposalKey(ref), func(ctx context.Context) error {
		acct, err := s.ledger.FetchProposal(ctx, ledger.Ref(ref))
		if err != nil && err != ledger.ErrNotFound {
			return err
		}
		if err == nil && acct.Phase != ledger.PhaseResolved {
			return conflictFailure("proposal is in %s state; liquidity return requires resolution", acct.Phase)
		}

		balance, err := s.ledger.TokenBalance(ctx, owner.Ref, ledger.Ref(org.GovernanceAsset))
		if err != nil {
			return err
		}
		mint, err := s.ledger.FetchMint(ctx, ledger.Ref(org.GovernanceAsset))
		if err != nil {
			return err
		}

		// Significance threshold: below this fraction of supply the dust is
		// not worth a swap-and-deposit round trip.
		if belowSignificance(balance, mint.Supply, s.cfg.ReturnMinBps) {
			s.logger.Info("liquidity return skipped below significance threshold",
				zap.Uint64("balance", balance),
				zap.Uint64("supply", mint.Supply),
				zap.Int64("min_bps", s.cfg.ReturnMinBps))
			resp = &model.ProposalResponse{
				Success: true,
				Message: "balance below significance threshold; nothing to return",
				Ref:     ref,
				Skipped: true,
			}
			return nil
		}

		resp, err = s.returnToPool(ctx, org, venue, owner, ref, balance)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !resp.Skipped {
		s.publishEvent(ctx, "liquidity-returned", row)
	}
	return resp, nil
}

// belowSignificance reports whether balance is under minBps basis points of
// supply, using arbitrary precision to avoid uint64 overflow.
func belowSignificance(balance, supply uint64, minBps int64) bool {
	threshold := decimal.NewFromUint64(supply).
		Mul(decimal.NewFromInt(minBps)).
		Div(decimal.NewFromInt(10_000))
	return decimal.NewFromUint64(balance).Cmp(threshold) < 0
}

// returnToPool rebalances the owner's holdings toward the pool's ratio with
// an optional cleanup swap, then re-deposits. The swap failing is logged and
// tolerated; the deposit proceeds with whatever balances exist.
func (s *Service) returnToPool(ctx context.Context, org *model.Organization, venue pool.Venue,
	owner signer.Keypair, ref string, baseBalance uint64) (*model.ProposalResponse, error) {
	st, err := venue.State(ctx, ledger.Ref(org.Pool))
	if err != nil {
		return nil, err
	}
	quoteBalance, err := s.ledger.TokenBalance(ctx, owner.Ref, ledger.Ref(org.QuoteAsset))
	if err != nil {
		return nil, err
	}

	var submissions []string

	// Cleanup swap toward the pool ratio, soft-failing.
	fromAsset, swapAmount := rebalanceSwap(st, baseBalance, quoteBalance)
	if swapAmount > 0 {
		tx, estOut := venue.BuildSwap(owner.Ref, st, fromAsset, swapAmount)
		if id, err := s.signSubmitConfirm(ctx, tx, owner); err != nil {
			s.logger.Warn("cleanup swap failed; depositing unswapped balances",
				zap.String("proposal", ref),
				zap.Error(err))
		} else {
			submissions = append(submissions, string(id))
			s.logger.Info("cleanup swap complete",
				zap.Uint64("in", swapAmount),
				zap.Uint64("est_out", estOut))
			// Re-read balances after the swap.
			if baseBalance, err = s.ledger.TokenBalance(ctx, owner.Ref, ledger.Ref(org.GovernanceAsset)); err != nil {
				return nil, err
			}
			if quoteBalance, err = s.ledger.TokenBalance(ctx, owner.Ref, ledger.Ref(org.QuoteAsset)); err != nil {
				return nil, err
			}
		}
	}

	amounts := depositAmounts(st, baseBalance, quoteBalance)
	if amounts.Base == 0 && amounts.Quote == 0 {
		return &model.ProposalResponse{
			Success: true,
			Message: "no depositable balances remain",
			Ref:     ref,
			Skipped: true,
		}, nil
	}
	tx := venue.BuildDeposit(owner.Ref, st, amounts)
	id, err := s.signSubmitConfirm(ctx, tx, owner)
	if err != nil {
		return nil, err
	}
	submissions = append(submissions, string(id))

	return &model.ProposalResponse{
		Success:     true,
		Message:     "liquidity returned to pool",
		Ref:         ref,
		Submissions: submissions,
	}, nil
}

// rebalanceSwap picks the direction and size of the cleanup swap that moves
// the holdings toward the pool's current ratio. A zero amount means the
// holdings are already balanced enough to deposit directly.
func rebalanceSwap(st *pool.State, baseBal, quoteBal uint64) (ledger.Ref, uint64) {
	price := st.Price()
	if price.IsZero() {
		return "", 0
	}
	baseValue := decimal.NewFromUint64(baseBal).Mul(price) // in quote units
	quoteValue := decimal.NewFromUint64(quoteBal)

	diff := baseValue.Sub(quoteValue)
	half := diff.Abs().Div(decimal.NewFromInt(2))
	if diff.IsPositive() {
		// Base-heavy: swap half the excess base into quote.
		amount := half.Div(price)
		return st.BaseAsset, uint64(amount.IntPart())
	}
	// Quote-heavy: swap half the excess quote into base.
	return st.QuoteAsset, uint64(half.IntPart())
}

// depositAmounts sizes the deposit at the pool's current ratio, bounded by
// both balances.
func depositAmounts(st *pool.State, baseBal, quoteBal uint64) pool.Amounts {
	price := st.Price()
	if price.IsZero() {
		return pool.Amounts{}
	}
	base := decimal.NewFromUint64(baseBal)
	maxBaseByQuote := decimal.NewFromUint64(quoteBal).Div(price)
	if maxBaseByQuote.Cmp(base) < 0 {
		base = maxBaseByQuote
	}
	quote := base.Mul(price)
	return pool.Amounts{
		Base:  uint64(base.IntPart()),
		Quote: uint64(quote.IntPart()),
	}
}

// resolveProposalOwner loads the registry row and the liquidity-owning
// identity for a proposal workflow.
func (s *Service) resolveProposalOwner(ctx context.Context, ref string) (*model.Proposal, signer.Keypair, error) {
	row, err := s.registry.GetProposal(ctx, ref)
	if err != nil {
		if err == database.ErrNoRow {
			return nil, signer.Keypair{}, validationFailure("proposal %s is not registered", ref)
		}
		return nil, signer.Keypair{}, err
	}
	org, err := s.registry.GetOrganization(ctx, row.Organization)
	if err != nil {
		if err == database.ErrNoRow {
			return nil, signer.Keypair{}, configFailure("proposal %s references missing organization %q", ref, row.Organization)
		}
		return nil, signer.Keypair{}, err
	}
	owner, _, err := s.liquidityOwner(ctx, org)
	if err != nil {
		return nil, signer.Keypair{}, err
	}
	return row, owner, nil
}

// syncProposalRow updates the local record after an observed transition.
// The row is a cache; a missing row is logged, never fatal.
func (s *Service) syncProposalRow(ctx context.Context, ref, state string, winning *int) *model.Proposal {
	if err := s.registry.UpdateProposalState(ctx, ref, state, winning); err != nil {
		if err != database.ErrNoRow {
			s.logger.Warn("updating proposal row failed", zap.String("ref", ref), zap.Error(err))
		}
		return nil
	}
	s.cache.Invalidate(cacheKeyAllProposals)
	row, err := s.registry.GetProposal(ctx, ref)
	if err != nil {
		return nil
	}
	return row
}
