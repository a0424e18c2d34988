package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/futarchia/futarch-backend/database"
	"github.com/futarchia/futarch-backend/internal/ledger"
	"github.com/futarchia/futarch-backend/internal/locks"
	"github.com/futarchia/futarch-backend/internal/metastore"
	"github.com/futarchia/futarch-backend/internal/signer"
	"github.com/futarchia/futarch-backend/internal/workflow"
	"github.com/futarchia/futarch-backend/model"
	"github.com/futarchia/futarch-backend/util"
)

// CreateOrganization runs the root-organization creation workflow under the
// global creation lock. Key allocation and name-uniqueness checks are
// serialized across all creation requests, root and branch alike.
func (s *Service) CreateOrganization(ctx context.Context, req *model.CreateOrgRequest) (*model.OrgResponse, error) {
	org, err := s.validateOrgRequest(req.Name, req.Owner, req.GovernanceAsset, req.QuoteAsset,
		req.Pool, req.PoolKind, req.WithdrawPct, req.Whitelist, req.ProposerThreshold)
	if err != nil {
		return nil, err
	}
	org.Kind = model.OrgKindRoot

	var resp *model.OrgResponse
	err = s.locks.WithLock(ctx, locks.OrgCreationKey, func(ctx context.Context) error {
		var inner error
		resp, inner = s.createOrg(ctx, org, nil)
		return inner
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateBranch creates a branch sharing its root's moderator. The creation
// submission is co-signed by the root's admin identity.
func (s *Service) CreateBranch(ctx context.Context, root string, req *model.CreateBranchRequest) (*model.OrgResponse, error) {
	org, err := s.validateOrgRequest(req.Name, req.Owner, req.GovernanceAsset, req.QuoteAsset,
		req.Pool, req.PoolKind, req.WithdrawPct, req.Whitelist, req.ProposerThreshold)
	if err != nil {
		return nil, err
	}
	org.Kind = model.OrgKindBranch
	org.ParentOrg = util.CleanName(root)

	var resp *model.OrgResponse
	err = s.locks.WithLock(ctx, locks.OrgCreationKey, func(ctx context.Context) error {
		rootOrg, inner := s.registry.GetOrganization(ctx, org.ParentOrg)
		if inner != nil {
			if inner == database.ErrNoRow {
				return validationFailure("root organization %q does not exist", org.ParentOrg)
			}
			return inner
		}
		if !rootOrg.IsRoot() {
			return validationFailure("%q is a branch; branches cannot nest", org.ParentOrg)
		}
		resp, inner = s.createOrg(ctx, org, rootOrg)
		return inner
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) validateOrgRequest(name, owner, govAsset, quoteAsset, poolRef, poolKind string,
	withdrawPct int, whitelist []string, threshold string) (*model.Organization, error) {
	name = util.CleanName(name)
	if util.IsEmpty(name) {
		return nil, validationFailure("organization name is required")
	}
	if util.IsEmpty(owner) {
		return nil, validationFailure("owner identity is required")
	}
	if util.IsEmpty(govAsset) || util.IsEmpty(quoteAsset) {
		return nil, validationFailure("governance_asset and quote_asset are required")
	}
	if util.IsEmpty(poolRef) {
		return nil, validationFailure("pool reference is required")
	}
	if _, err := s.venues.Get(poolKind); err != nil {
		return nil, validationFailure("unsupported pool kind %q", poolKind)
	}
	if withdrawPct < 5 || withdrawPct > 50 {
		return nil, validationFailure("withdraw_pct must be between 5 and 50, got %d", withdrawPct)
	}

	org := &model.Organization{
		Name:            name,
		Owner:           owner,
		GovernanceAsset: govAsset,
		QuoteAsset:      quoteAsset,
		Pool:            poolRef,
		PoolKind:        poolKind,
		WithdrawPct:     withdrawPct,
		Whitelist:       whitelist,
	}
	if util.IsNotEmpty(threshold) {
		d, err := decimal.NewFromString(threshold)
		if err != nil || d.IsNegative() {
			return nil, validationFailure("proposer_threshold %q is not a valid amount", threshold)
		}
		org.ProposerThreshold = &d
	}
	return org, nil
}

// createOrg is the shared creation sequence, already holding the global
// creation lock. rootOrg is nil for roots, the parent row for branches.
func (s *Service) createOrg(ctx context.Context, org *model.Organization, rootOrg *model.Organization) (*model.OrgResponse, error) {
	exists, err := s.registry.OrganizationExists(ctx, org.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, conflictFailure("organization %q already exists", org.Name)
	}

	operator, err := s.vault.Operator()
	if err != nil {
		return nil, configFailure("deriving operator identity: %v", err)
	}

	// Fresh signing identity for this organization's admin.
	adminKP, err := s.vault.Allocate()
	if err != nil {
		return nil, configFailure("allocating admin identity: %v", err)
	}
	org.AdminRef = string(adminKP.Ref)
	org.AdminKeyIndex = &adminKP.Index

	// Branches share the root's moderator namespace; roots own a fresh one
	// derived from their admin identity.
	var moderator ledger.Ref
	signers := []signer.Keypair{operator, adminKP}
	if rootOrg != nil {
		moderator = ledger.Ref(rootOrg.Moderator)
		rootKP, err := s.adminKeypair(rootOrg)
		if err != nil {
			return nil, err
		}
		signers = append(signers, rootKP)
	} else {
		moderator = ledger.ModeratorSeed(adminKP.Ref)
	}
	org.Moderator = string(moderator)
	org.BaseCustody = string(ledger.CustodySeed(moderator, ledger.Ref(org.GovernanceAsset)))
	org.QuoteCustody = string(ledger.CustodySeed(moderator, ledger.Ref(org.QuoteAsset)))

	steps := []workflow.Step{
		{
			Name: "create-moderator",
			Done: func(ctx context.Context) (bool, error) {
				_, err := s.ledger.FetchModerator(ctx, moderator)
				if err == ledger.ErrNotFound {
					return false, nil
				}
				return err == nil, err
			},
			Run: func(ctx context.Context) error {
				tx := s.programs.BuildCreateModerator(adminKP.Ref, moderator,
					ledger.Ref(org.GovernanceAsset), ledger.Ref(org.QuoteAsset))
				tx.Payer = operator.Ref
				_, err := s.signSubmitConfirm(ctx, tx, signers...)
				return err
			},
		},
		{
			Name: "publish-metadata",
			Run: func(ctx context.Context) error {
				ref, err := s.docs.Publish(ctx, &metastore.Document{
					Kind:      "organization",
					Name:      org.Name,
					CreatedAt: s.now().Unix(),
				})
				if err != nil {
					return err
				}
				org.MetadataRef = ref
				return nil
			},
		},
		{
			Name: "persist-registry-row",
			Run: func(ctx context.Context) error {
				org.CreatedAt = s.now().UTC()
				org.UpdatedAt = org.CreatedAt
				return s.registry.SaveOrganization(ctx, org)
			},
		},
	}
	if err := s.runner.Execute(ctx, "organization-creation", steps); err != nil {
		return nil, err
	}

	s.cache.Set(orgCountKey(org.Name), int64(0), 0)
	s.logger.Info("organization created",
		zap.String("name", org.Name),
		zap.String("kind", org.Kind),
		zap.String("admin", adminKP.Ref.Short()),
		zap.String("moderator", moderator.Short()))

	return &model.OrgResponse{
		Success:      true,
		Message:      fmt.Sprintf("organization %q created", org.Name),
		Name:         org.Name,
		AdminRef:     org.AdminRef,
		Moderator:    org.Moderator,
		BaseCustody:  org.BaseCustody,
		QuoteCustody: org.QuoteCustody,
	}, nil
}

// UpdateSettings mutates owner-editable policy in place: whitelist,
// proposer threshold, withdrawal percentage.
func (s *Service) UpdateSettings(ctx context.Context, name string, req *model.UpdateOrgSettingsRequest) (*model.Organization, error) {
	org, err := s.registry.GetOrganization(ctx, util.CleanName(name))
	if err != nil {
		if err == database.ErrNoRow {
			return nil, validationFailure("organization %q does not exist", name)
		}
		return nil, err
	}
	if org.Owner != req.Owner {
		return nil, conflictFailure("identity %s does not own organization %q", req.Owner, org.Name)
	}

	if req.Whitelist != nil {
		org.Whitelist = *req.Whitelist
	}
	if req.ProposerThreshold != nil {
		if *req.ProposerThreshold == "" {
			org.ProposerThreshold = nil
		} else {
			d, err := decimal.NewFromString(*req.ProposerThreshold)
			if err != nil || d.IsNegative() {
				return nil, validationFailure("proposer_threshold %q is not a valid amount", *req.ProposerThreshold)
			}
			org.ProposerThreshold = &d
		}
	}
	if req.WithdrawPct != nil {
		if *req.WithdrawPct < 5 || *req.WithdrawPct > 50 {
			return nil, validationFailure("withdraw_pct must be between 5 and 50, got %d", *req.WithdrawPct)
		}
		org.WithdrawPct = *req.WithdrawPct
	}
	org.UpdatedAt = s.now().UTC()

	if err := s.registry.UpdateOrganization(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization serves one registry row.
func (s *Service) GetOrganization(ctx context.Context, name string) (*model.Organization, error) {
	org, err := s.registry.GetOrganization(ctx, util.CleanName(name))
	if err == database.ErrNoRow {
		return nil, validationFailure("organization %q does not exist", name)
	}
	return org, err
}

// ListOrganizations serves all registry rows.
func (s *Service) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	return s.registry.ListOrganizations(ctx)
}
