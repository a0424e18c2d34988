package orchestrator

import (
	"errors"
	"fmt"

	"github.com/futarchia/futarch-backend/internal/gate"
)

// Category codes for failures that are not named readiness checks. Readiness
// failures carry the failing check's name as their code instead.
const (
	CodeValidation = "validation"
	CodeConflict   = "conflict"
	CodeLedger     = "ledger"
	CodeConfig     = "config"
)

// Failure is a structured workflow failure: a stable machine-readable code
// plus a human-readable diagnostic. It is distinct from transient errors so
// callers know whether a retry can help.
type Failure struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Reason)
}

func validationFailure(format string, args ...interface{}) *Failure {
	return &Failure{Code: CodeValidation, Reason: fmt.Sprintf(format, args...)}
}

func conflictFailure(format string, args ...interface{}) *Failure {
	return &Failure{Code: CodeConflict, Reason: fmt.Sprintf(format, args...)}
}

func configFailure(format string, args ...interface{}) *Failure {
	return &Failure{Code: CodeConfig, Reason: fmt.Sprintf(format, args...)}
}

func gateFailure(f *gate.Failure) *Failure {
	return &Failure{Code: f.Check, Reason: f.Reason}
}

// AsFailure unwraps a structured Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
