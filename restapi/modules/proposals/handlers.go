// Package proposals implements the REST API handlers for the proposal
// lifecycle: creation, finalization, redemption, liquidity return and
// oracle cranking.
package proposals

import (
	"github.com/gofiber/fiber/v2"

	"github.com/futarchia/futarch-backend/internal/orchestrator"
	"github.com/futarchia/futarch-backend/model"
	"github.com/futarchia/futarch-backend/restapi/modules/respond"
)

// PostProposal handles POST requests creating (or resuming) a proposal.
func PostProposal(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.CreateProposalRequest
		if err := c.BodyParser(&req); err != nil {
			return respond.BadRequest(c, "Invalid request body: "+err.Error())
		}

		resp, err := svc.CreateProposal(c.Context(), &req)
		if err != nil {
			return respond.Error(c, "create_proposal", err)
		}
		return respond.OK(c, "create_proposal", resp)
	}
}

// PostFinalize handles POST requests resolving an expired proposal.
func PostFinalize(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resp, err := svc.FinalizeProposal(c.Context(), c.Params("ref"))
		if err != nil {
			return respond.Error(c, "finalize_proposal", err)
		}
		return respond.OK(c, "finalize_proposal", resp)
	}
}

// PostRedeem handles POST requests redeeming conditional liquidity after
// resolution.
func PostRedeem(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resp, err := svc.RedeemLiquidity(c.Context(), c.Params("ref"))
		if err != nil {
			return respond.Error(c, "redeem_liquidity", err)
		}
		return respond.OK(c, "redeem_liquidity", resp)
	}
}

// PostReturnLiquidity handles POST requests returning redeemed holdings to
// the organization's pool.
func PostReturnLiquidity(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resp, err := svc.ReturnLiquidity(c.Context(), c.Params("ref"))
		if err != nil {
			return respond.Error(c, "return_liquidity", err)
		}
		return respond.OK(c, "return_liquidity", resp)
	}
}

// PostCrank handles POST requests recording oracle observations.
func PostCrank(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resp, err := svc.CrankOracle(c.Context(), c.Params("ref"))
		if err != nil {
			return respond.Error(c, "crank_oracle", err)
		}
		return respond.OK(c, "crank_oracle", resp)
	}
}

// GetProposal handles GET requests for one proposal row.
func GetProposal(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := svc.GetProposal(c.Context(), c.Params("ref"))
		if err != nil {
			return respond.Error(c, "get_proposal", err)
		}
		return c.JSON(p)
	}
}

// GetProposals handles GET requests for the cached cross-organization
// listing.
func GetProposals(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := svc.ListProposals(c.Context())
		if err != nil {
			return respond.Error(c, "list_proposals", err)
		}
		return c.JSON(fiber.Map{
			"proposals": list,
			"count":     len(list),
		})
	}
}

// GetProposalsByOrg handles GET requests for one organization's proposals.
func GetProposalsByOrg(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := svc.ListProposalsByOrg(c.Context(), c.Params("name"))
		if err != nil {
			return respond.Error(c, "list_proposals_by_org", err)
		}
		return c.JSON(fiber.Map{
			"proposals": list,
			"count":     len(list),
		})
	}
}

// GetProposalCount handles GET requests for the cached per-organization
// proposal count.
func GetProposalCount(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		count, err := svc.ProposalCount(c.Context(), c.Params("name"))
		if err != nil {
			return respond.Error(c, "proposal_count", err)
		}
		return c.JSON(fiber.Map{
			"organization": c.Params("name"),
			"count":        count,
		})
	}
}

// PostRecount handles POST requests forcing a count rebuild from the
// registry.
func PostRecount(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		count, err := svc.RecountProposals(c.Context(), c.Params("name"))
		if err != nil {
			return respond.Error(c, "recount_proposals", err)
		}
		return c.JSON(fiber.Map{
			"success":      true,
			"organization": c.Params("name"),
			"count":        count,
		})
	}
}
