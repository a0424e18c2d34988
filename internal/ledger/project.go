package ledger

import "time"

// Projection is the finite lifecycle state derived from a raw proposal
// account plus wall-clock time.
type Projection struct {
	State        Phase
	EndsAt       time.Time
	WarmupEndsAt time.Time

	// Expired is true for pending proposals past EndsAt. A pending-but-
	// expired proposal no longer blocks new proposal creation; it merely
	// awaits finalization.
	Expired bool
}

// Project derives the lifecycle projection for acct at now. It is pure:
// identical inputs always yield identical projections.
func Project(acct *ProposalAccount, now time.Time) Projection {
	createdAt := time.Unix(acct.CreatedAt, 0).UTC()
	p := Projection{
		State:        acct.Phase,
		EndsAt:       createdAt.Add(time.Duration(acct.LengthSecs) * time.Second),
		WarmupEndsAt: createdAt.Add(time.Duration(acct.WarmupSecs) * time.Second),
	}
	if acct.Phase == PhasePending && !now.Before(p.EndsAt) {
		p.Expired = true
	}
	return p
}

// Blocks reports whether this projection prevents a new proposal from being
// created under the same moderator. Setup blocks unconditionally (a
// half-created proposal must be completed or abandoned first); pending
// blocks only while unexpired.
func (p Projection) Blocks() bool {
	switch p.State {
	case PhaseSetup:
		return true
	case PhasePending:
		return !p.Expired
	default:
		return false
	}
}

// Remaining returns how long until the proposal can be finalized.
func (p Projection) Remaining(now time.Time) time.Duration {
	return p.EndsAt.Sub(now)
}
