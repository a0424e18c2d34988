// Package respond maps workflow outcomes onto HTTP responses and records
// the per-workflow outcome metric. All REST handlers funnel through it so
// the status mapping stays in one place.
package respond

import (
	"github.com/gofiber/fiber/v2"

	"github.com/futarchia/futarch-backend/internal/metrics"
	"github.com/futarchia/futarch-backend/internal/orchestrator"
	"github.com/futarchia/futarch-backend/model"
)

// OK records a successful outcome and writes the payload.
func OK(c *fiber.Ctx, workflow string, payload interface{}) error {
	metrics.WorkflowsTotal.WithLabelValues(workflow, "success").Inc()
	return c.JSON(payload)
}

// Error records the failure outcome and writes the structured error body.
// Validation failures map to 400, conflicts and readiness-gate failures to
// 409, configuration failures to 500, and everything else (transient ledger
// or registry trouble) to 502 so callers know a retry may help.
func Error(c *fiber.Ctx, workflow string, err error) error {
	failure, ok := orchestrator.AsFailure(err)
	if !ok {
		failure = &orchestrator.Failure{Code: orchestrator.CodeLedger, Reason: err.Error()}
	}

	metrics.WorkflowsTotal.WithLabelValues(workflow, failure.Code).Inc()

	var status int
	switch failure.Code {
	case orchestrator.CodeValidation:
		status = fiber.StatusBadRequest
	case orchestrator.CodeConfig:
		status = fiber.StatusInternalServerError
	case orchestrator.CodeLedger:
		status = fiber.StatusBadGateway
	default:
		// Conflicts and named readiness checks: the request was well formed
		// but the system state refuses it right now.
		status = fiber.StatusConflict
	}

	return c.Status(status).JSON(model.ErrorResponse{
		Success: false,
		Code:    failure.Code,
		Reason:  failure.Reason,
	})
}

// BadRequest reports a malformed request body before any workflow runs.
func BadRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(model.ErrorResponse{
		Success: false,
		Code:    orchestrator.CodeValidation,
		Reason:  message,
	})
}
