// Package proposals defines the GraphQL types for proposal queries.
package proposals

import (
	"github.com/graphql-go/graphql"

	"github.com/futarchia/futarch-backend/model"
)

// ProposalType represents one decision-market proposal row.
var ProposalType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Proposal",
	Fields: graphql.Fields{
		"ref":          &graphql.Field{Type: graphql.String},
		"moderator":    &graphql.Field{Type: graphql.String},
		"seq":          &graphql.Field{Type: graphql.Int},
		"organization": &graphql.Field{Type: graphql.String},
		"options":      &graphql.Field{Type: graphql.NewList(graphql.String)},
		"metadata":     &graphql.Field{Type: graphql.String},
		"length_secs":  &graphql.Field{Type: graphql.Int},
		"warmup_secs":  &graphql.Field{Type: graphql.Int},
		"state":        &graphql.Field{Type: graphql.String},
		"winning_option": &graphql.Field{
			Type: graphql.Int,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				proposal, ok := p.Source.(model.Proposal)
				if !ok || proposal.WinningOption == nil {
					return nil, nil
				}
				return *proposal.WinningOption, nil
			},
		},
		"created_at": &graphql.Field{Type: graphql.DateTime},
		"updated_at": &graphql.Field{Type: graphql.DateTime},
	},
})

// ProposalCountType pairs an organization with its cached proposal count.
var ProposalCountType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ProposalCount",
	Fields: graphql.Fields{
		"organization": &graphql.Field{Type: graphql.String},
		"count":        &graphql.Field{Type: graphql.Int},
	},
})
