// Package organizations implements the REST API handlers for organization
// management.
package organizations

import (
	"github.com/gofiber/fiber/v2"

	"github.com/futarchia/futarch-backend/internal/orchestrator"
	"github.com/futarchia/futarch-backend/model"
	"github.com/futarchia/futarch-backend/restapi/modules/respond"
)

// PostOrganization handles POST requests creating a root organization.
func PostOrganization(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.CreateOrgRequest
		if err := c.BodyParser(&req); err != nil {
			return respond.BadRequest(c, "Invalid request body: "+err.Error())
		}

		resp, err := svc.CreateOrganization(c.Context(), &req)
		if err != nil {
			return respond.Error(c, "create_organization", err)
		}
		return respond.OK(c, "create_organization", resp)
	}
}

// PostBranch handles POST requests creating a branch under a root.
func PostBranch(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.CreateBranchRequest
		if err := c.BodyParser(&req); err != nil {
			return respond.BadRequest(c, "Invalid request body: "+err.Error())
		}

		resp, err := svc.CreateBranch(c.Context(), c.Params("name"), &req)
		if err != nil {
			return respond.Error(c, "create_branch", err)
		}
		return respond.OK(c, "create_branch", resp)
	}
}

// PutSettings handles PUT requests updating owner-editable policy.
func PutSettings(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.UpdateOrgSettingsRequest
		if err := c.BodyParser(&req); err != nil {
			return respond.BadRequest(c, "Invalid request body: "+err.Error())
		}
		if req.Owner == "" {
			return respond.BadRequest(c, "owner is required")
		}

		org, err := svc.UpdateSettings(c.Context(), c.Params("name"), &req)
		if err != nil {
			return respond.Error(c, "update_settings", err)
		}
		return respond.OK(c, "update_settings", fiber.Map{
			"success":      true,
			"message":      "settings updated",
			"organization": org,
		})
	}
}

// GetOrganization handles GET requests for one organization.
func GetOrganization(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		org, err := svc.GetOrganization(c.Context(), c.Params("name"))
		if err != nil {
			return respond.Error(c, "get_organization", err)
		}
		return c.JSON(org)
	}
}

// GetOrganizations handles GET requests listing all organizations.
func GetOrganizations(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		orgs, err := svc.ListOrganizations(c.Context())
		if err != nil {
			return respond.Error(c, "list_organizations", err)
		}
		return c.JSON(fiber.Map{
			"organizations": orgs,
			"count":         len(orgs),
		})
	}
}

// GetBranches handles GET requests listing a root's branches.
func GetBranches(svc *orchestrator.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		branches, err := svc.ListBranches(c.Context(), c.Params("name"))
		if err != nil {
			return respond.Error(c, "list_branches", err)
		}
		return c.JSON(fiber.Map{
			"branches": branches,
			"count":    len(branches),
		})
	}
}
