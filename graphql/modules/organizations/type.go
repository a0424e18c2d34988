// Package organizations defines the GraphQL types for organization queries.
package organizations

import (
	"github.com/graphql-go/graphql"

	"github.com/futarchia/futarch-backend/model"
)

// OrganizationType represents a registered governance unit.
var OrganizationType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Organization",
	Fields: graphql.Fields{
		"name":             &graphql.Field{Type: graphql.String},
		"kind":             &graphql.Field{Type: graphql.String},
		"owner":            &graphql.Field{Type: graphql.String},
		"admin_ref":        &graphql.Field{Type: graphql.String},
		"moderator":        &graphql.Field{Type: graphql.String},
		"governance_asset": &graphql.Field{Type: graphql.String},
		"quote_asset":      &graphql.Field{Type: graphql.String},
		"pool":             &graphql.Field{Type: graphql.String},
		"pool_kind":        &graphql.Field{Type: graphql.String},
		"parent":           &graphql.Field{Type: graphql.String},
		"withdraw_pct":     &graphql.Field{Type: graphql.Int},
		"whitelist":        &graphql.Field{Type: graphql.NewList(graphql.String)},
		"proposer_threshold": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				org, ok := p.Source.(model.Organization)
				if !ok || org.ProposerThreshold == nil {
					return nil, nil
				}
				return org.ProposerThreshold.String(), nil
			},
		},
		"created_at": &graphql.Field{Type: graphql.DateTime},
		"updated_at": &graphql.Field{Type: graphql.DateTime},
	},
})
