package restapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/futarchia/futarch-backend/internal/orchestrator"
	"github.com/futarchia/futarch-backend/restapi/modules/organizations"
	"github.com/futarchia/futarch-backend/restapi/modules/proposals"
)

// SetupRoutes configures all REST API routes and the GraphQL endpoint.
func SetupRoutes(app *fiber.App, svc *orchestrator.Service, schema graphql.Schema) {
	api := app.Group("/api/v1")

	// GraphQL serves the read side only.
	api.Post("/graphql", GraphQLHandler(schema))

	// Organizations
	api.Post("/organizations", organizations.PostOrganization(svc))
	api.Get("/organizations", organizations.GetOrganizations(svc))
	api.Get("/organizations/:name", organizations.GetOrganization(svc))
	api.Put("/organizations/:name/settings", organizations.PutSettings(svc))
	api.Post("/organizations/:name/branches", organizations.PostBranch(svc))
	api.Get("/organizations/:name/branches", organizations.GetBranches(svc))
	api.Get("/organizations/:name/proposals", proposals.GetProposalsByOrg(svc))
	api.Get("/organizations/:name/proposals/count", proposals.GetProposalCount(svc))
	api.Post("/organizations/:name/proposals/recount", proposals.PostRecount(svc))

	// Proposal lifecycle
	api.Post("/proposals", proposals.PostProposal(svc))
	api.Get("/proposals", proposals.GetProposals(svc))
	api.Get("/proposals/:ref", proposals.GetProposal(svc))
	api.Post("/proposals/:ref/finalize", proposals.PostFinalize(svc))
	api.Post("/proposals/:ref/redeem", proposals.PostRedeem(svc))
	api.Post("/proposals/:ref/return-liquidity", proposals.PostReturnLiquidity(svc))
	api.Post("/proposals/:ref/crank", proposals.PostCrank(svc))
}
