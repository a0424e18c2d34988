package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/arangodb/go-driver/v2/arangodb"

	"github.com/futarchia/futarch-backend/model"
)

// ErrNoRow reports that a registry lookup matched nothing.
var ErrNoRow = errors.New("registry: no matching row")

// Registry is the persistent store for organization and proposal rows. The
// rows are configuration and caches; the authoritative proposal state lives
// on the ledger.
type Registry interface {
	GetOrganization(ctx context.Context, name string) (*model.Organization, error)
	OrganizationExists(ctx context.Context, name string) (bool, error)
	SaveOrganization(ctx context.Context, org *model.Organization) error
	UpdateOrganization(ctx context.Context, org *model.Organization) error
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	ListBranches(ctx context.Context, root string) ([]model.Organization, error)
	MaxAdminKeyIndex(ctx context.Context) (int, error)

	SaveProposal(ctx context.Context, p *model.Proposal) error
	GetProposal(ctx context.Context, ref string) (*model.Proposal, error)
	UpdateProposalState(ctx context.Context, ref, state string, winning *int) error
	ListProposals(ctx context.Context) ([]model.Proposal, error)
	ListProposalsByOrg(ctx context.Context, org string) ([]model.Proposal, error)
	CountProposalsByOrg(ctx context.Context, org string) (int64, error)
}

// ArangoRegistry implements Registry over the shared DBConnection.
type ArangoRegistry struct {
	db DBConnection
}

func NewArangoRegistry(db DBConnection) *ArangoRegistry {
	return &ArangoRegistry{db: db}
}

var _ Registry = (*ArangoRegistry)(nil)

func (r *ArangoRegistry) queryOne(ctx context.Context, query string, bindVars map[string]interface{}, out interface{}) error {
	cursor, err := r.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return err
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return ErrNoRow
	}
	if _, err := cursor.ReadDocument(ctx, out); err != nil {
		return err
	}
	return nil
}

// GetOrganization fetches one organization row by its unique name.
func (r *ArangoRegistry) GetOrganization(ctx context.Context, name string) (*model.Organization, error) {
	query := `
		FOR org IN organization
			FILTER org.name == @name
			LIMIT 1
			RETURN org
	`
	var org model.Organization
	if err := r.queryOne(ctx, query, map[string]interface{}{"name": name}, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// OrganizationExists is the name-uniqueness probe run under the creation lock.
func (r *ArangoRegistry) OrganizationExists(ctx context.Context, name string) (bool, error) {
	_, err := r.GetOrganization(ctx, name)
	if err == ErrNoRow {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveOrganization upserts the row keyed by name, so a resumed creation
// workflow lands on the same row instead of a duplicate.
func (r *ArangoRegistry) SaveOrganization(ctx context.Context, org *model.Organization) error {
	query := `
		UPSERT { name: @name }
		INSERT @doc
		UPDATE @doc
		IN organization
	`
	bindVars := map[string]interface{}{
		"name": org.Name,
		"doc":  org,
	}
	_, err := r.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return fmt.Errorf("save organization %s: %w", org.Name, err)
	}
	return nil
}

// UpdateOrganization replaces mutable settings on an existing row.
func (r *ArangoRegistry) UpdateOrganization(ctx context.Context, org *model.Organization) error {
	query := `
		FOR existing IN organization
			FILTER existing.name == @name
			UPDATE existing WITH {
				whitelist: @whitelist,
				proposer_threshold: @threshold,
				withdraw_pct: @withdrawPct,
				updated_at: @updatedAt
			} IN organization
			RETURN NEW
	`
	bindVars := map[string]interface{}{
		"name":        org.Name,
		"whitelist":   org.Whitelist,
		"threshold":   org.ProposerThreshold,
		"withdrawPct": org.WithdrawPct,
		"updatedAt":   org.UpdatedAt,
	}
	var updated model.Organization
	return r.queryOne(ctx, query, bindVars, &updated)
}

// ListOrganizations returns all rows sorted by name.
func (r *ArangoRegistry) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	query := `
		FOR org IN organization
			SORT org.name ASC
			RETURN org
	`
	return r.collectOrgs(ctx, query, nil)
}

// ListBranches returns the branches under one root.
func (r *ArangoRegistry) ListBranches(ctx context.Context, root string) ([]model.Organization, error) {
	query := `
		FOR org IN organization
			FILTER org.kind == "branch" && org.parent == @root
			SORT org.name ASC
			RETURN org
	`
	return r.collectOrgs(ctx, query, map[string]interface{}{"root": root})
}

func (r *ArangoRegistry) collectOrgs(ctx context.Context, query string, bindVars map[string]interface{}) ([]model.Organization, error) {
	var opts *arangodb.QueryOptions
	if bindVars != nil {
		opts = &arangodb.QueryOptions{BindVars: bindVars}
	}
	cursor, err := r.db.Database.Query(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	orgs := []model.Organization{}
	for cursor.HasMore() {
		var org model.Organization
		if _, err := cursor.ReadDocument(ctx, &org); err != nil {
			continue
		}
		orgs = append(orgs, org)
	}
	return orgs, nil
}

// MaxAdminKeyIndex returns the highest vault derivation index in use, or -1
// when no organization exists yet. The vault's allocation floor starts one
// past it.
func (r *ArangoRegistry) MaxAdminKeyIndex(ctx context.Context) (int, error) {
	query := `
		RETURN MAX(
			FOR org IN organization
				FILTER org.admin_key_index != null
				RETURN org.admin_key_index
		)
	`
	var max *int
	if err := r.queryOne(ctx, query, nil, &max); err != nil {
		return -1, err
	}
	if max == nil {
		return -1, nil
	}
	return *max, nil
}

// SaveProposal upserts the local proposal record keyed by its ledger ref.
func (r *ArangoRegistry) SaveProposal(ctx context.Context, p *model.Proposal) error {
	query := `
		UPSERT { ref: @ref }
		INSERT @doc
		UPDATE @doc
		IN proposal
	`
	bindVars := map[string]interface{}{
		"ref": p.Ref,
		"doc": p,
	}
	_, err := r.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return fmt.Errorf("save proposal %s: %w", p.Ref, err)
	}
	return nil
}

// GetProposal fetches the local record for a ledger ref.
func (r *ArangoRegistry) GetProposal(ctx context.Context, ref string) (*model.Proposal, error) {
	query := `
		FOR p IN proposal
			FILTER p.ref == @ref
			LIMIT 1
			RETURN p
	`
	var p model.Proposal
	if err := r.queryOne(ctx, query, map[string]interface{}{"ref": ref}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProposalState records a ledger-observed transition locally.
func (r *ArangoRegistry) UpdateProposalState(ctx context.Context, ref, state string, winning *int) error {
	query := `
		FOR p IN proposal
			FILTER p.ref == @ref
			UPDATE p WITH { state: @state, winning_option: @winning } IN proposal
			RETURN NEW
	`
	bindVars := map[string]interface{}{
		"ref":     ref,
		"state":   state,
		"winning": winning,
	}
	var updated model.Proposal
	return r.queryOne(ctx, query, bindVars, &updated)
}

// ListProposals returns all local proposal records, newest first.
func (r *ArangoRegistry) ListProposals(ctx context.Context) ([]model.Proposal, error) {
	query := `
		FOR p IN proposal
			SORT p.created_at DESC
			RETURN p
	`
	return r.collectProposals(ctx, query, nil)
}

// ListProposalsByOrg returns one organization's proposals, newest first.
func (r *ArangoRegistry) ListProposalsByOrg(ctx context.Context, org string) ([]model.Proposal, error) {
	query := `
		FOR p IN proposal
			FILTER p.organization == @org
			SORT p.created_at DESC
			RETURN p
	`
	return r.collectProposals(ctx, query, map[string]interface{}{"org": org})
}

// CountProposalsByOrg is the full recount backing the per-organization
// count cache.
func (r *ArangoRegistry) CountProposalsByOrg(ctx context.Context, org string) (int64, error) {
	query := `
		RETURN LENGTH(
			FOR p IN proposal
				FILTER p.organization == @org
				RETURN 1
		)
	`
	var count int64
	if err := r.queryOne(ctx, query, map[string]interface{}{"org": org}, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ArangoRegistry) collectProposals(ctx context.Context, query string, bindVars map[string]interface{}) ([]model.Proposal, error) {
	var opts *arangodb.QueryOptions
	if bindVars != nil {
		opts = &arangodb.QueryOptions{BindVars: bindVars}
	}
	cursor, err := r.db.Database.Query(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	proposals := []model.Proposal{}
	for cursor.HasMore() {
		var p model.Proposal
		if _, err := cursor.ReadDocument(ctx, &p); err != nil {
			continue
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}
