// Package proposals defines the Kafka event contract for proposal lifecycle
// notifications and the request contract for asynchronous crank jobs.
package proposals

import (
	"time"

	"github.com/futarchia/futarch-backend/model"
)

// Lifecycle event kinds published after successful workflows.
const (
	KindCreated           = "created"
	KindFinalized         = "finalized"
	KindRedeemed          = "redeemed"
	KindLiquidityReturned = "liquidity-returned"
)

// ProposalLifecycleEvent is published to Kafka after a write workflow
// completes. Consumers index on EventType; the proposal snapshot is the
// registry row at publish time, not live ledger state.
type ProposalLifecycleEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	Proposal model.Proposal `json:"proposal"`
}

// CrankRequest asks the worker to record oracle observations for one
// proposal. Schedulers publish these instead of calling the REST endpoint so
// retries and backpressure stay on the broker.
type CrankRequest struct {
	ProposalRef string `json:"proposal_ref"`
}
