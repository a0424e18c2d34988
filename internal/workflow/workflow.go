// Package workflow runs ordered, idempotently-resumable step sequences. Each
// step may carry an idempotency probe that queries external state; a step
// whose target state already exists is skipped with a resume notice, which
// makes whole-sequence retry after a crash safe at the cost of one redundant
// read per step.
package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Step is one unit of a sequence. Done, when set, reports whether the step's
// target state already exists; Run performs the step. Steps execute strictly
// in declaration order.
type Step struct {
	Name string
	Done func(ctx context.Context) (bool, error)
	Run  func(ctx context.Context) error
}

// Runner executes step sequences with resume detection.
type Runner struct {
	logger *zap.Logger
}

func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Execute runs steps in order, skipping any whose Done probe reports the
// work already happened. A step failure aborts the sequence; the error names
// the workflow and step so the partial state can be re-checked on the next
// attempt.
func (r *Runner) Execute(ctx context.Context, workflow string, steps []Step) error {
	log := r.logger.With(zap.String("workflow", workflow))
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: aborted before step %s: %w", workflow, step.Name, err)
		}
		if step.Done != nil {
			done, err := step.Done(ctx)
			if err != nil {
				return fmt.Errorf("%s: probing step %s: %w", workflow, step.Name, err)
			}
			if done {
				log.Info("resuming: step already complete, skipping",
					zap.String("step", step.Name),
					zap.Int("position", i+1))
				continue
			}
		}
		log.Info("executing step", zap.String("step", step.Name), zap.Int("position", i+1))
		if err := step.Run(ctx); err != nil {
			log.Error("step failed",
				zap.String("step", step.Name),
				zap.Int("position", i+1),
				zap.Error(err))
			return fmt.Errorf("%s: step %s: %w", workflow, step.Name, err)
		}
	}
	return nil
}
