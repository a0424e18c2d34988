// Package gqlschema assembles the root GraphQL schema from the per-domain
// query modules.
package gqlschema

import (
	"github.com/graphql-go/graphql"

	"github.com/futarchia/futarch-backend/graphql/modules/organizations"
	"github.com/futarchia/futarch-backend/graphql/modules/proposals"
	"github.com/futarchia/futarch-backend/internal/orchestrator"
)

var svc *orchestrator.Service

// InitService wires the orchestrator into the resolvers. Must run before
// CreateSchema.
func InitService(s *orchestrator.Service) {
	svc = s
}

// CreateSchema builds the read-only schema. Writes go through REST: they
// take locks and run multi-step ledger workflows, which do not belong in a
// query language.
func CreateSchema() (graphql.Schema, error) {
	fields := graphql.Fields{}
	for name, field := range organizations.GetQueryFields(svc) {
		fields[name] = field
	}
	for name, field := range proposals.GetQueryFields(svc) {
		fields[name] = field
	}

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: fields,
		}),
	})
}
