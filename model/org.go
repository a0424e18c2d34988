// Package model defines the data structures for organization and proposal
// management in the futarch backend.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Organization kinds. A root owns its own moderator account on the ledger;
// a branch shares its root's moderator so that only one proposal can be
// active across the whole family at a time.
const (
	OrgKindRoot   = "root"
	OrgKindBranch = "branch"
)

// Organization represents a governance unit registered with the backend.
// The authoritative decision-market state lives on the ledger; this row
// holds identity, custody and policy configuration.
type Organization struct {
	Key  string `json:"_key,omitempty"`
	ID   string `json:"_id,omitempty"`
	Rev  string `json:"_rev,omitempty"`
	Name string `json:"name"`
	Kind string `json:"kind"` // "root" or "branch"

	Owner         string `json:"owner"`           // caller identity that may mutate settings
	AdminRef      string `json:"admin_ref"`       // ledger account the backend signs for
	AdminKeyIndex *int   `json:"admin_key_index"` // vault derivation index for AdminRef

	Moderator       string `json:"moderator"`         // proposal-sequencing namespace on the ledger
	GovernanceAsset string `json:"governance_asset"`  // mint of the governance token
	QuoteAsset      string `json:"quote_asset"`       // mint proposals trade against
	Pool            string `json:"pool"`              // liquidity pool custody reference
	PoolKind        string `json:"pool_kind"`         // venue kind, e.g. "cpmm"
	BaseCustody     string `json:"base_custody"`      // derived custody sub-account (governance side)
	QuoteCustody    string `json:"quote_custody"`     // derived custody sub-account (quote side)
	ParentOrg       string `json:"parent,omitempty"`  // root name, branches only
	WithdrawPct     int    `json:"withdraw_pct"`      // 5..50, share of pooled liquidity per proposal
	MetadataRef     string `json:"metadata,omitempty"` // content-addressed org metadata

	Whitelist         []string         `json:"whitelist,omitempty"`          // proposer identities
	ProposerThreshold *decimal.Decimal `json:"proposer_threshold,omitempty"` // min governance balance

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether the organization owns its moderator.
func (o *Organization) IsRoot() bool {
	return o.Kind == OrgKindRoot
}

// AllowsProposer checks the whitelist only. Threshold checks require a
// ledger balance query and live in the readiness gate.
func (o *Organization) AllowsProposer(identity string) bool {
	for _, w := range o.Whitelist {
		if w == identity {
			return true
		}
	}
	return false
}

// Open reports whether the organization has neither a whitelist nor a
// proposer threshold configured, in which case anyone may propose.
func (o *Organization) Open() bool {
	return len(o.Whitelist) == 0 && o.ProposerThreshold == nil
}
