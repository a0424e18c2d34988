// Package gate runs the readiness pipeline a state-mutating workflow must
// pass before any ledger submission is built. Checks run in order, cheapest
// first, and the pipeline stops at the first failure; the failing check's
// name and reason are surfaced verbatim to the caller.
package gate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Check is one readiness predicate. Run returns an empty reason when the
// check passes, a user-facing reason when it fails, and a non-nil error only
// for infrastructure trouble (which is not a readiness verdict).
type Check struct {
	Name string
	Run  func(ctx context.Context) (reason string, err error)
}

// Failure names the check that did not pass plus its diagnostic.
type Failure struct {
	Check  string `json:"check"`
	Reason string `json:"reason"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Check, f.Reason)
}

// Evaluate runs checks in order and short-circuits on the first failure.
// A nil Failure means every check passed.
func Evaluate(ctx context.Context, logger *zap.Logger, checks []Check) (*Failure, error) {
	for _, c := range checks {
		reason, err := c.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("readiness check %s: %w", c.Name, err)
		}
		if reason != "" {
			logger.Info("readiness check failed",
				zap.String("check", c.Name),
				zap.String("reason", reason))
			return &Failure{Check: c.Name, Reason: reason}, nil
		}
	}
	return nil, nil
}
