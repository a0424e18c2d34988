package model

// CreateOrgRequest is the request body for creating a root organization.
type CreateOrgRequest struct {
	Name              string   `json:"name"`
	Owner             string   `json:"owner"`
	GovernanceAsset   string   `json:"governance_asset"`
	QuoteAsset        string   `json:"quote_asset"`
	Pool              string   `json:"pool"`
	PoolKind          string   `json:"pool_kind"`
	WithdrawPct       int      `json:"withdraw_pct"`
	Whitelist         []string `json:"whitelist,omitempty"`
	ProposerThreshold string   `json:"proposer_threshold,omitempty"`
}

// CreateBranchRequest is the request body for creating a branch under a root.
type CreateBranchRequest struct {
	Name              string   `json:"name"`
	Owner             string   `json:"owner"`
	GovernanceAsset   string   `json:"governance_asset"`
	QuoteAsset        string   `json:"quote_asset"`
	Pool              string   `json:"pool"`
	PoolKind          string   `json:"pool_kind"`
	WithdrawPct       int      `json:"withdraw_pct"`
	Whitelist         []string `json:"whitelist,omitempty"`
	ProposerThreshold string   `json:"proposer_threshold,omitempty"`
}

// UpdateOrgSettingsRequest mutates owner-editable organization policy.
type UpdateOrgSettingsRequest struct {
	Owner             string    `json:"owner"`
	Whitelist         *[]string `json:"whitelist,omitempty"`
	ProposerThreshold *string   `json:"proposer_threshold,omitempty"`
	WithdrawPct       *int      `json:"withdraw_pct,omitempty"`
}

// CreateProposalRequest is the request body for launching a proposal.
type CreateProposalRequest struct {
	Organization string   `json:"organization"`
	Proposer     string   `json:"proposer"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Options      []string `json:"options"`
	LengthSecs   int64    `json:"length_secs"`
	WarmupSecs   int64    `json:"warmup_secs"`
}

// OrgResponse is returned by organization creation.
type OrgResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Name         string `json:"name,omitempty"`
	AdminRef     string `json:"admin_ref,omitempty"`
	Moderator    string `json:"moderator,omitempty"`
	BaseCustody  string `json:"base_custody,omitempty"`
	QuoteCustody string `json:"quote_custody,omitempty"`
}

// ProposalResponse is returned by proposal workflows.
type ProposalResponse struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	Ref           string   `json:"ref,omitempty"`
	Seq           *uint64  `json:"seq,omitempty"`
	MetadataRef   string   `json:"metadata,omitempty"`
	Submissions   []string `json:"submissions,omitempty"`
	WinningOption *int     `json:"winning_option,omitempty"`
	Skipped       bool     `json:"skipped,omitempty"`
}

// CrankResult reports one pool's crank outcome.
type CrankResult struct {
	Pool          string `json:"pool"`
	Cranked       bool   `json:"cranked"`
	WaitRemaining int64  `json:"wait_remaining_secs,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// CrankResponse is returned by the oracle crank workflow.
type CrankResponse struct {
	Success    bool          `json:"success"`
	Message    string        `json:"message"`
	Submission string        `json:"submission,omitempty"`
	Results    []CrankResult `json:"results"`
}

// ErrorResponse carries the machine-readable failure code plus diagnostic.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}
