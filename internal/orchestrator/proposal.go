package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/futarchia/futarch-backend/database"
	"github.com/futarchia/futarch-backend/internal/gate"
	"github.com/futarchia/futarch-backend/internal/ledger"
	"github.com/futarchia/futarch-backend/internal/locks"
	"github.com/futarchia/futarch-backend/internal/metastore"
	"github.com/futarchia/futarch-backend/internal/pool"
	"github.com/futarchia/futarch-backend/internal/signer"
	"github.com/futarchia/futarch-backend/internal/workflow"
	"github.com/futarchia/futarch-backend/model"
	"github.com/futarchia/futarch-backend/util"
)

// observation amounts are scaled to nine decimal places.
const obsScale = 1_000_000_000

// proposalRun carries the mutable state of one creation sequence between
// steps.
type proposalRun struct {
	org      *model.Organization
	venue    pool.Venue
	operator signer.Keypair
	adminKP  signer.Keypair
	owner    signer.Keypair // liquidity-owning identity

	moderator   ledger.Ref
	seq         uint64
	proposalRef ledger.Ref
	tableRef    ledger.Ref
	resuming    bool

	baseAmount  uint64
	quoteAmount uint64
	startObs    uint64
	maxDrift    uint64
	metadataRef string
	submissions []string
}

// CreateProposal runs the full proposal creation and launch sequence. It is
// safe to retry end-to-end: a sequence interrupted after any submission
// resumes from the ledger's observed state instead of repeating steps.
func (s *Service) CreateProposal(ctx context.Context, req *model.CreateProposalRequest) (*model.ProposalResponse, error) {
	if err := validateProposalRequest(req); err != nil {
		return nil, err
	}

	org, err := s.registry.GetOrganization(ctx, util.CleanName(req.Organization))
	if err != nil {
		if err == database.ErrNoRow {
			return nil, validationFailure("organization %q does not exist", req.Organization)
		}
		return nil, err
	}
	if org.Pool == "" {
		return nil, configFailure("organization %q has no pool configured; the registry row is corrupt", org.Name)
	}
	venue, err := s.venues.Get(org.PoolKind)
	if err != nil {
		return nil, configFailure("organization %q: %v", org.Name, err)
	}
	adminKP, err := s.adminKeypair(org)
	if err != nil {
		return nil, err
	}
	owner, _, err := s.liquidityOwner(ctx, org)
	if err != nil {
		return nil, err
	}
	operator, err := s.vault.Operator()
	if err != nil {
		return nil, configFailure("deriving operator identity: %v", err)
	}

	run := &proposalRun{
		org:       org,
		venue:     venue,
		operator:  operator,
		adminKP:   adminKP,
		owner:     owner,
		moderator: ledger.Ref(org.Moderator),
	}

	var resp *model.ProposalResponse
	err = s.locks.WithLock(ctx, locks.ModeratorKey(org.Moderator), func(ctx context.Context) error {
		var inner error
		resp, inner = s.createProposal(ctx, run, req)
		return inner
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func validateProposalRequest(req *model.CreateProposalRequest) error {
	if util.IsEmpty(req.Organization) {
		return validationFailure("organization is required")
	}
	if util.IsEmpty(req.Proposer) {
		return validationFailure("proposer identity is required")
	}
	if util.IsEmpty(req.Title) {
		return validationFailure("title is required")
	}
	if len(req.Options) < 2 || len(req.Options) > 6 {
		return validationFailure("a proposal needs between 2 and 6 options, got %d", len(req.Options))
	}
	seen := map[string]bool{}
	for _, opt := range req.Options {
		if util.IsEmpty(opt) {
			return validationFailure("option labels must not be empty")
		}
		if seen[opt] {
			return validationFailure("duplicate option label %q", opt)
		}
		seen[opt] = true
	}
	if req.LengthSecs <= 0 {
		return validationFailure("length_secs must be positive, got %d", req.LengthSecs)
	}
	if req.WarmupSecs < 0 || req.WarmupSecs >= req.LengthSecs {
		return validationFailure("warmup_secs must be non-negative and shorter than length_secs")
	}
	return nil
}

// createProposal runs under the moderator lock.
func (s *Service) createProposal(ctx context.Context, run *proposalRun, req *model.CreateProposalRequest) (*model.ProposalResponse, error) {
	// Determine the target sequence number, detecting a resumable
	// half-created proposal left by a crashed attempt.
	mod, err := s.ledger.FetchModerator(ctx, run.moderator)
	if err != nil {
		if err == ledger.ErrNotFound {
			return nil, configFailure("moderator namespace %s does not exist on the ledger", run.moderator.Short())
		}
		return nil, err
	}
	run.seq = mod.NextSeq
	if mod.NextSeq > 0 {
		latest, err := s.ledger.FetchProposal(ctx, ledger.ProposalSeed(run.moderator, mod.NextSeq-1))
		if err != nil && err != ledger.ErrNotFound {
			return nil, err
		}
		if err == nil && latest.Phase == ledger.PhaseSetup {
			run.seq = mod.NextSeq - 1
			run.resuming = true
			s.logger.Info("resuming half-created proposal",
				zap.String("moderator", run.moderator.Short()),
				zap.Uint64("seq", run.seq))
		}
	}
	run.proposalRef = ledger.ProposalSeed(run.moderator, run.seq)
	run.tableRef = ledger.TableSeed(run.proposalRef)

	// Readiness gate. A resumed setup proposal is the one being completed,
	// so the active-proposal check is waived for it; every other check
	// still applies.
	checks := gate.ProposalCreation(gate.Params{
		Org:            run.org,
		Caller:         ledger.Ref(req.Proposer),
		Admin:          run.adminKP.Ref,
		LiquidityOwner: run.owner.Ref,
		Moderator:      run.moderator,
		Operator:       run.operator.Ref,
		Ledger:         s.ledger,
		Venue:          run.venue,
		MinFeeReserve:  s.cfg.MinFeeReserve,
		Now:            s.now,
	})
	if run.resuming {
		filtered := checks[:0]
		for _, c := range checks {
			if c.Name != gate.CheckActiveProposal {
				filtered = append(filtered, c)
			}
		}
		checks = filtered
	}
	if failure, err := gate.Evaluate(ctx, s.logger, checks); err != nil {
		return nil, err
	} else if failure != nil {
		return nil, gateFailure(failure)
	}

	steps := []workflow.Step{
		{Name: "withdraw-liquidity", Done: run.proposalExists(s), Run: s.stepWithdraw(run)},
		{Name: "compute-observation", Run: s.stepObservation(run)},
		{Name: "publish-metadata", Run: s.stepMetadata(run, req)},
		{Name: "create-address-table", Done: s.tablePopulated(run), Run: s.stepCreateTable(run, len(req.Options))},
		{Name: "initialize-proposal", Done: s.proposalInitialized(run), Run: s.stepInitialize(run, req)},
		{Name: "add-options", Run: s.stepAddOptions(run, req.Options)},
	}
	if run.org.QuoteAsset == s.network.NativeAsset {
		steps = append(steps, workflow.Step{Name: "wrap-native", Done: s.nativeWrapped(run), Run: s.stepWrapNative(run)})
	}
	steps = append(steps, workflow.Step{Name: "launch", Done: s.proposalLaunched(run), Run: s.stepLaunch(run)})

	if err := s.runner.Execute(ctx, "proposal-creation", steps); err != nil {
		return nil, err
	}

	row := &model.Proposal{
		Ref:          string(run.proposalRef),
		Moderator:    string(run.moderator),
		Seq:          run.seq,
		Organization: run.org.Name,
		Options:      req.Options,
		MetadataRef:  run.metadataRef,
		LengthSecs:   req.LengthSecs,
		WarmupSecs:   req.WarmupSecs,
		State:        model.ProposalStatePending,
		CreatedAt:    s.now().UTC(),
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.registry.SaveProposal(ctx, row); err != nil {
		return nil, err
	}

	s.cache.Increment(orgCountKey(run.org.Name))
	s.cache.Invalidate(cacheKeyAllProposals)
	s.publishEvent(ctx, "created", row)

	seq := run.seq
	return &model.ProposalResponse{
		Success:     true,
		Message:     fmt.Sprintf("proposal #%d launched for %q", run.seq, run.org.Name),
		Ref:         string(run.proposalRef),
		Seq:         &seq,
		MetadataRef: run.metadataRef,
		Submissions: run.submissions,
	}, nil
}

// proposalExists reports whether the proposal account is already on the
// ledger, which implies the liquidity withdrawal already happened.
func (run *proposalRun) proposalExists(s *Service) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		_, err := s.ledger.FetchProposal(ctx, run.proposalRef)
		if err == ledger.ErrNotFound {
			return false, nil
		}
		return err == nil, err
	}
}

// stepWithdraw pulls the configured share of the owner's pooled position
// into the owner's balances.
func (s *Service) stepWithdraw(run *proposalRun) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		st, err := run.venue.State(ctx, ledger.Ref(run.org.Pool))
		if err != nil {
			return err
		}
		position, err := run.venue.Position(ctx, run.owner.Ref, ledger.Ref(run.org.Pool))
		if err != nil {
			return err
		}
		lpAmount := position * uint64(run.org.WithdrawPct) / 100
		if lpAmount == 0 {
			return conflictFailure("liquidity position %d is too small to withdraw %d%% from", position, run.org.WithdrawPct)
		}
		tx, amounts := run.venue.BuildWithdraw(run.owner.Ref, st, lpAmount)
		id, err := s.signSubmitConfirm(ctx, tx, run.owner)
		if err != nil {
			return err
		}
		run.submissions = append(run.submissions, string(id))
		s.logger.Info("liquidity withdrawn",
			zap.Uint64("lp_burned", lpAmount),
			zap.Uint64("base", amounts.Base),
			zap.Uint64("quote", amounts.Quote))
		return nil
	}
}

// stepObservation reads the owner's post-withdrawal balances and derives the
// starting price observation plus its allowed drift. Reading balances rather
// than trusting the withdraw estimate keeps resumed runs consistent.
func (s *Service) stepObservation(run *proposalRun) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		base, err := s.ledger.TokenBalance(ctx, run.owner.Ref, ledger.Ref(run.org.GovernanceAsset))
		if err != nil {
			return err
		}
		var quote uint64
		if run.org.QuoteAsset == s.network.NativeAsset {
			// A resumed run may have already wrapped some or all of the
			// withdrawn native amount; both forms count toward the quote
			// side or the resume would read zero and dead-end the sequence.
			native, err := s.ledger.NativeBalance(ctx, run.owner.Ref)
			if err != nil {
				return err
			}
			wrapped, err := s.ledger.TokenBalance(ctx, run.owner.Ref, ledger.Ref(s.network.WrappedAsset))
			if err != nil {
				return err
			}
			quote = native + wrapped
		} else {
			quote, err = s.ledger.TokenBalance(ctx, run.owner.Ref, ledger.Ref(run.org.QuoteAsset))
			if err != nil {
				return err
			}
		}
		if base == 0 || quote == 0 {
			return conflictFailure("withdrawn balances are empty (base=%d quote=%d); nothing to seed markets with", base, quote)
		}
		run.baseAmount = base
		run.quoteAmount = quote

		obs := decimal.NewFromUint64(quote).
			Mul(decimal.NewFromInt(obsScale)).
			Div(decimal.NewFromUint64(base))
		run.startObs = uint64(obs.IntPart())
		run.maxDrift = uint64(obs.Mul(decimal.NewFromInt(s.cfg.PriceDriftBps)).
			Div(decimal.NewFromInt(10_000)).IntPart())
		return nil
	}
}

func (s *Service) stepMetadata(run *proposalRun, req *model.CreateProposalRequest) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ref, err := s.docs.Publish(ctx, &metastore.Document{
			Kind:        "proposal",
			Name:        req.Title,
			Description: req.Description,
			Options:     req.Options,
			CreatedAt:   s.now().Unix(),
		})
		if err != nil {
			return err
		}
		run.metadataRef = ref
		return nil
	}
}

// tableEntries lists every account the launch submission will reference
// through the compaction table.
func (run *proposalRun) tableEntries(optionCount int) []ledger.Ref {
	entries := []ledger.Ref{
		run.proposalRef,
		run.moderator,
		ledger.Ref(run.org.GovernanceAsset),
		ledger.Ref(run.org.QuoteAsset),
		ledger.Ref(run.org.BaseCustody),
		ledger.Ref(run.org.QuoteCustody),
	}
	for i := 0; i < optionCount; i++ {
		entries = append(entries, ledger.OptionPoolSeed(run.proposalRef, i))
	}
	return entries
}

func (s *Service) tablePopulated(run *proposalRun) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		tbl, err := s.ledger.FetchAddressTable(ctx, run.tableRef)
		if err == ledger.ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return len(tbl.Entries) > 0, nil
	}
}

// stepCreateTable creates the compaction table and polls until the ledger
// reports all entries populated, bounded by a hard timeout.
func (s *Service) stepCreateTable(run *proposalRun, optionCount int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		entries := run.tableEntries(optionCount)
		tx := s.programs.BuildCreateTable(run.adminKP.Ref, run.tableRef, run.proposalRef, entries)
		tx.Payer = run.operator.Ref
		id, err := s.signSubmitConfirm(ctx, tx, run.operator, run.adminKP)
		if err != nil {
			return err
		}
		run.submissions = append(run.submissions, string(id))
		return s.waitForTable(ctx, run.tableRef, len(entries))
	}
}

func (s *Service) waitForTable(ctx context.Context, table ledger.Ref, want int) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.TableWaitTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.TablePollInterval)
	defer ticker.Stop()

	for {
		tbl, err := s.ledger.FetchAddressTable(waitCtx, table)
		if err == nil && len(tbl.Entries) >= want {
			return nil
		}
		if err != nil && err != ledger.ErrNotFound {
			return err
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("address table %s not populated within %s", table.Short(), s.cfg.TableWaitTimeout)
		case <-ticker.C:
		}
	}
}

// proposalInitialized probes for the setup account; finding the proposal
// already pending or resolved is a duplicate-attempt hazard, not a resume.
func (s *Service) proposalInitialized(run *proposalRun) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		acct, err := s.ledger.FetchProposal(ctx, run.proposalRef)
		if err == ledger.ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if acct.Phase != ledger.PhaseSetup {
			return false, conflictFailure("proposal #%d already exists in %s state; refusing duplicate creation", run.seq, acct.Phase)
		}
		return true, nil
	}
}

func (s *Service) stepInitialize(run *proposalRun, req *model.CreateProposalRequest) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		tx := s.programs.BuildInitProposal(run.adminKP.Ref, run.moderator, run.proposalRef,
			run.seq, req.LengthSecs, req.WarmupSecs, run.metadataRef)
		tx.Payer = run.operator.Ref
		id, err := s.signSubmitConfirm(ctx, tx, run.operator, run.adminKP)
		if err != nil {
			return err
		}
		run.submissions = append(run.submissions, string(id))
		return nil
	}
}

// stepAddOptions appends options beyond the first two, one confirmed
// submission per option. Already-added options (observed via the account's
// option count) are skipped on resume.
func (s *Service) stepAddOptions(run *proposalRun, options []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if len(options) <= 2 {
			return nil
		}
		acct, err := s.ledger.FetchProposal(ctx, run.proposalRef)
		if err != nil {
			return err
		}
		for idx := 2; idx < len(options); idx++ {
			if acct.OptionCount > idx {
				s.logger.Info("resuming: option already added",
					zap.Int("option", idx),
					zap.String("proposal", run.proposalRef.Short()))
				continue
			}
			tx := s.programs.BuildAddOption(run.adminKP.Ref, run.proposalRef, idx, options[idx])
			tx.Payer = run.operator.Ref
			id, err := s.signSubmitConfirm(ctx, tx, run.operator, run.adminKP)
			if err != nil {
				return fmt.Errorf("adding option %d: %w", idx, err)
			}
			run.submissions = append(run.submissions, string(id))
		}
		return nil
	}
}

// nativeWrapped reports whether the quote amount is already held in wrapped
// form, which happens when a prior attempt crashed after its wrap submission
// confirmed.
func (s *Service) nativeWrapped(run *proposalRun) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		wrapped, err := s.ledger.TokenBalance(ctx, run.owner.Ref, ledger.Ref(s.network.WrappedAsset))
		if err != nil {
			return false, err
		}
		return wrapped >= run.quoteAmount, nil
	}
}

// stepWrapNative wraps only the still-unwrapped remainder, so a partially
// completed prior attempt is topped up instead of over-wrapped.
func (s *Service) stepWrapNative(run *proposalRun) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		wrapped, err := s.ledger.TokenBalance(ctx, run.owner.Ref, ledger.Ref(s.network.WrappedAsset))
		if err != nil {
			return err
		}
		tx := s.programs.BuildWrapNative(run.owner.Ref, ledger.Ref(s.network.WrappedAsset), run.quoteAmount-wrapped)
		id, err := s.signSubmitConfirm(ctx, tx, run.owner)
		if err != nil {
			return err
		}
		run.submissions = append(run.submissions, string(id))
		return nil
	}
}

func (s *Service) proposalLaunched(run *proposalRun) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		acct, err := s.ledger.FetchProposal(ctx, run.proposalRef)
		if err == ledger.ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return acct.Phase != ledger.PhaseSetup, nil
	}
}

func (s *Service) stepLaunch(run *proposalRun) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		tx := s.programs.BuildLaunch(run.adminKP.Ref, run.proposalRef, run.tableRef,
			run.baseAmount, run.quoteAmount, run.startObs, run.maxDrift)
		tx.Payer = run.operator.Ref
		signers := []signer.Keypair{run.operator, run.adminKP}
		if run.owner.Ref != run.adminKP.Ref {
			signers = append(signers, run.owner)
		}
		id, err := s.signSubmitConfirm(ctx, tx, signers...)
		if err != nil {
			return err
		}
		run.submissions = append(run.submissions, string(id))
		return nil
	}
}
