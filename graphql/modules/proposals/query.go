// Package proposals defines the GraphQL queries for proposal data.
package proposals

import (
	"github.com/graphql-go/graphql"

	"github.com/futarchia/futarch-backend/internal/orchestrator"
)

// GetQueryFields returns the proposal queries to be mounted in the root
// schema.
func GetQueryFields(svc *orchestrator.Service) graphql.Fields {
	return graphql.Fields{
		"proposal": &graphql.Field{
			Type: ProposalType,
			Args: graphql.FieldConfigArgument{
				"ref": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				ref := p.Args["ref"].(string)
				row, err := svc.GetProposal(p.Context, ref)
				if err != nil {
					if _, ok := orchestrator.AsFailure(err); ok {
						return nil, nil
					}
					return nil, err
				}
				return *row, nil
			},
		},
		"proposals": &graphql.Field{
			Type: graphql.NewList(ProposalType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return svc.ListProposals(p.Context)
			},
		},
		"proposalsByOrganization": &graphql.Field{
			Type: graphql.NewList(ProposalType),
			Args: graphql.FieldConfigArgument{
				"organization": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				org := p.Args["organization"].(string)
				return svc.ListProposalsByOrg(p.Context, org)
			},
		},
		"proposalCount": &graphql.Field{
			Type: ProposalCountType,
			Args: graphql.FieldConfigArgument{
				"organization": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				org := p.Args["organization"].(string)
				count, err := svc.ProposalCount(p.Context, org)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"organization": org,
					"count":        count,
				}, nil
			},
		},
	}
}
