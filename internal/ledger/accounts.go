package ledger

// Phase is the tagged variant a proposal account carries on the ledger.
type Phase uint8

const (
	// PhaseSetup marks a half-created proposal: initialized but not yet
	// launched. Setup always blocks new proposal creation.
	PhaseSetup Phase = iota
	// PhasePending marks a launched, running proposal.
	PhasePending
	// PhaseResolved marks a finalized proposal with a winning option.
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhasePending:
		return "pending"
	case PhaseResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// ParsePhase maps a wire tag to its Phase, reporting unknown tags.
func ParsePhase(tag string) (Phase, bool) {
	switch tag {
	case "setup":
		return PhaseSetup, true
	case "pending":
		return PhasePending, true
	case "resolved":
		return PhaseResolved, true
	default:
		return PhaseSetup, false
	}
}

// ProposalAccount is the raw proposal state fetched from the ledger.
type ProposalAccount struct {
	Ref       Ref
	Moderator Ref
	Seq       uint64
	Phase     Phase

	CreatedAt  int64 // unix seconds
	LengthSecs int64
	WarmupSecs int64

	OptionCount int
	OptionPools []Ref // one decision market per option

	// WinningOption is set only once Phase is PhaseResolved.
	WinningOption *int
}

// ModeratorAccount is the proposal-sequencing namespace account. Branches
// share their root's moderator, so NextSeq is monotonic across the family.
type ModeratorAccount struct {
	Ref     Ref
	Admin   Ref
	NextSeq uint64
}

// MintAccount is an asset issuance account. Authority is nil when issuance
// has been renounced.
type MintAccount struct {
	Ref       Ref
	Authority *Ref
	Supply    uint64
	Decimals  uint8
}

// PoolAccount is the raw state of a liquidity or decision-market pool.
type PoolAccount struct {
	Ref      Ref
	Assets   [2]Ref
	Reserves [2]uint64
	LpSupply uint64

	// LastObservationAt is the unix time of the newest oracle recording,
	// zero if the pool has never been cranked.
	LastObservationAt int64
}

// AddressTable is an address-compaction table plus its populated entries.
type AddressTable struct {
	Ref     Ref
	Entries []Ref
}
