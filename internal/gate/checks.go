package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/futarchia/futarch-backend/internal/ledger"
	"github.com/futarchia/futarch-backend/internal/pool"
	"github.com/futarchia/futarch-backend/model"
	"github.com/futarchia/futarch-backend/util"
)

// Canonical check names. These are stable machine-readable codes carried in
// failure responses; renaming one breaks API consumers.
const (
	CheckProposerAllowed  = "proposer_allowed"
	CheckAdminAuthority   = "admin_authority"
	CheckPoolAssets       = "pool_assets"
	CheckLiquidityCustody = "liquidity_custody"
	CheckActiveProposal   = "active_proposal"
	CheckFeeReserve       = "fee_reserve"
)

// Params carries the resolved collaborators and identities one proposal-
// creation evaluation needs. The orchestrator resolves branch indirection
// (root admin, shared moderator) before building the pipeline.
type Params struct {
	Org    *model.Organization
	Caller ledger.Ref

	Admin          ledger.Ref // the organization's own admin identity
	LiquidityOwner ledger.Ref // root's admin for branches, Admin for roots
	Moderator      ledger.Ref
	Operator       ledger.Ref // fee-paying service identity

	Ledger ledger.Client
	Venue  pool.Venue

	MinFeeReserve uint64
	Now           func() time.Time
}

// ProposalCreation assembles the ordered pipeline gating proposal creation.
// Order matters: the cheapest checks run first, and the custody check
// assumes the pool-assets check already passed.
func ProposalCreation(p Params) []Check {
	return []Check{
		{Name: CheckProposerAllowed, Run: p.proposerAllowed},
		{Name: CheckAdminAuthority, Run: p.adminAuthority},
		{Name: CheckPoolAssets, Run: p.poolAssets},
		{Name: CheckLiquidityCustody, Run: p.liquidityCustody},
		{Name: CheckActiveProposal, Run: p.activeProposal},
		{Name: CheckFeeReserve, Run: p.feeReserve},
	}
}

// proposerAllowed admits whitelisted callers without a remote query; a
// configured threshold costs one balance query. An organization with
// neither is open to anyone.
func (p Params) proposerAllowed(ctx context.Context) (string, error) {
	if p.Org.Open() {
		return "", nil
	}
	if p.Org.AllowsProposer(string(p.Caller)) {
		return "", nil
	}
	if p.Org.ProposerThreshold == nil {
		return fmt.Sprintf("identity %s is not on the proposer whitelist of %q", p.Caller.Short(), p.Org.Name), nil
	}
	bal, err := p.Ledger.TokenBalance(ctx, p.Caller, ledger.Ref(p.Org.GovernanceAsset))
	if err != nil {
		return "", err
	}
	if decimal.NewFromUint64(bal).Cmp(*p.Org.ProposerThreshold) < 0 {
		return fmt.Sprintf("identity %s holds %d governance units, below the proposer threshold of %s",
			p.Caller.Short(), bal, p.Org.ProposerThreshold.String()), nil
	}
	return "", nil
}

// adminAuthority verifies the admin identity still controls issuance of the
// governance asset. Without it a winning proposal could never be executed.
func (p Params) adminAuthority(ctx context.Context) (string, error) {
	mint, err := p.Ledger.FetchMint(ctx, ledger.Ref(p.Org.GovernanceAsset))
	if err != nil {
		if err == ledger.ErrNotFound {
			return fmt.Sprintf("governance asset %s does not exist on the ledger", ledger.Ref(p.Org.GovernanceAsset).Short()), nil
		}
		return "", err
	}
	if mint.Authority == nil {
		return "governance asset issuance authority has been renounced", nil
	}
	if *mint.Authority != p.Admin {
		return fmt.Sprintf("admin identity %s is not the governance asset's issuance authority", p.Admin.Short()), nil
	}
	return "", nil
}

// poolAssets verifies the governance asset is one side of the configured
// pool. Branches reuse the root's pool and skip the re-check.
func (p Params) poolAssets(ctx context.Context) (string, error) {
	if !p.Org.IsRoot() {
		return "", nil
	}
	st, err := p.Venue.State(ctx, ledger.Ref(p.Org.Pool))
	if err != nil {
		if err == ledger.ErrNotFound {
			return fmt.Sprintf("configured pool %s does not exist on the ledger", ledger.Ref(p.Org.Pool).Short()), nil
		}
		return "", err
	}
	gov := ledger.Ref(p.Org.GovernanceAsset)
	if st.BaseAsset != gov && st.QuoteAsset != gov {
		return fmt.Sprintf("pool %s does not hold the governance asset", st.Ref.Short()), nil
	}
	return "", nil
}

// liquidityCustody requires a non-zero withdrawable position to seed
// decision markets from. Venue.Position reports only unlocked LP tokens, so
// a fully locked position reads as zero and fails here like an empty one.
func (p Params) liquidityCustody(ctx context.Context) (string, error) {
	position, err := p.Venue.Position(ctx, p.LiquidityOwner, ledger.Ref(p.Org.Pool))
	if err != nil {
		return "", err
	}
	if position == 0 {
		return fmt.Sprintf("identity %s holds no liquidity in pool %s; deposit before creating a proposal",
			p.LiquidityOwner.Short(), ledger.Ref(p.Org.Pool).Short()), nil
	}
	return "", nil
}

// activeProposal projects the moderator's most recent proposal. Setup and
// unexpired pending proposals block; absent, resolved, or expired-pending
// ones do not. A closed proposal account means no blocking proposal.
func (p Params) activeProposal(ctx context.Context) (string, error) {
	mod, err := p.Ledger.FetchModerator(ctx, p.Moderator)
	if err != nil {
		if err == ledger.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	if mod.NextSeq == 0 {
		return "", nil
	}
	latest := ledger.ProposalSeed(p.Moderator, mod.NextSeq-1)
	acct, err := p.Ledger.FetchProposal(ctx, latest)
	if err != nil {
		if err == ledger.ErrNotFound {
			return "", nil
		}
		return "", err
	}

	now := p.Now()
	proj := ledger.Project(acct, now)
	if !proj.Blocks() {
		return "", nil
	}
	if proj.State == ledger.PhaseSetup {
		return fmt.Sprintf("proposal #%d is still being set up; complete or abandon it first", acct.Seq), nil
	}
	return fmt.Sprintf("proposal #%d is still active; it can be finalized in %s",
		acct.Seq, util.FormatRemaining(proj.Remaining(now))), nil
}

// feeReserve keeps the operating identity funded enough to pay for the
// whole submission sequence.
func (p Params) feeReserve(ctx context.Context) (string, error) {
	bal, err := p.Ledger.NativeBalance(ctx, p.Operator)
	if err != nil {
		return "", err
	}
	if bal < p.MinFeeReserve {
		return fmt.Sprintf("operating identity %s holds %d native units, below the %d reserve; top it up before retrying",
			p.Operator.Short(), bal, p.MinFeeReserve), nil
	}
	return "", nil
}
