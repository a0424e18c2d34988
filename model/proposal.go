package model

import "time"

// Proposal lifecycle states as projected from the ledger. The ledger is
// authoritative; rows in the registry are a cache for listings only.
const (
	ProposalStateSetup    = "setup"
	ProposalStatePending  = "pending"
	ProposalStateResolved = "resolved"
)

// Proposal is the registry's record of one decision-market instance.
type Proposal struct {
	Key string `json:"_key,omitempty"`
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	Ref          string   `json:"ref"`       // ledger account of the proposal
	Moderator    string   `json:"moderator"` // owning moderator namespace
	Seq          uint64   `json:"seq"`       // monotonically increasing per moderator
	Organization string   `json:"organization"`
	Options      []string `json:"options"` // 2..6 named outcomes
	MetadataRef  string   `json:"metadata"` // content-addressed title/description blob

	LengthSecs int64 `json:"length_secs"`
	WarmupSecs int64 `json:"warmup_secs"`

	State         string    `json:"state"`
	WinningOption *int      `json:"winning_option,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
