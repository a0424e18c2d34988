// Package organizations defines the GraphQL queries for organization data.
package organizations

import (
	"github.com/graphql-go/graphql"

	"github.com/futarchia/futarch-backend/internal/orchestrator"
)

// GetQueryFields returns the organization queries to be mounted in the root
// schema.
func GetQueryFields(svc *orchestrator.Service) graphql.Fields {
	return graphql.Fields{
		"organization": &graphql.Field{
			Type: OrganizationType,
			Args: graphql.FieldConfigArgument{
				"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				name := p.Args["name"].(string)
				org, err := svc.GetOrganization(p.Context, name)
				if err != nil {
					if _, ok := orchestrator.AsFailure(err); ok {
						return nil, nil
					}
					return nil, err
				}
				return *org, nil
			},
		},
		"organizations": &graphql.Field{
			Type: graphql.NewList(OrganizationType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return svc.ListOrganizations(p.Context)
			},
		},
		"branches": &graphql.Field{
			Type: graphql.NewList(OrganizationType),
			Args: graphql.FieldConfigArgument{
				"root": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				root := p.Args["root"].(string)
				return svc.ListBranches(p.Context, root)
			},
		},
	}
}
