// Package orchestrator drives the write workflows against the ledger:
// organization creation, proposal creation and launch, finalization,
// liquidity redemption and return, and oracle cranking. Every workflow
// acquires its lock, passes the readiness gate where one applies, and runs
// an idempotently-resumable step sequence.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/futarchia/futarch-backend/config"
	"github.com/futarchia/futarch-backend/database"
	"github.com/futarchia/futarch-backend/internal/cache"
	"github.com/futarchia/futarch-backend/internal/ledger"
	"github.com/futarchia/futarch-backend/internal/locks"
	"github.com/futarchia/futarch-backend/internal/metastore"
	"github.com/futarchia/futarch-backend/internal/metrics"
	"github.com/futarchia/futarch-backend/internal/pool"
	"github.com/futarchia/futarch-backend/internal/signer"
	"github.com/futarchia/futarch-backend/internal/workflow"
	"github.com/futarchia/futarch-backend/model"
)

// Documents is the slice of the metadata store the orchestrator uses.
type Documents interface {
	Publish(ctx context.Context, doc *metastore.Document) (string, error)
}

// EventSink receives lifecycle notifications after successful workflows.
// A nil sink disables eventing.
type EventSink interface {
	ProposalLifecycle(ctx context.Context, kind string, p *model.Proposal) error
}

// Cache keys.
const (
	cacheKeyAllProposals = "proposals:all"
)

func orgCountKey(org string) string {
	return "org:" + org + ":proposal_count"
}

// Service wires the collaborators together. All exported methods are safe
// for concurrent use; per-entity serialization goes through the lock
// manager, never through method-level mutexes.
type Service struct {
	registry database.Registry
	ledger   ledger.Client
	vault    *signer.Vault
	venues   *pool.Registry
	docs     Documents
	locks    *locks.Manager
	cache    *cache.Cache
	runner   *workflow.Runner
	events   EventSink

	cfg      *config.Config
	network  *config.Network
	programs ledger.Programs

	logger *zap.Logger
	now    func() time.Time
}

// Deps collects the collaborators for New.
type Deps struct {
	Registry database.Registry
	Ledger   ledger.Client
	Vault    *signer.Vault
	Venues   *pool.Registry
	Docs     Documents
	Locks    *locks.Manager
	Cache    *cache.Cache
	Events   EventSink
	Config   *config.Config
	Network  *config.Network
	Logger   *zap.Logger
}

func New(d Deps) *Service {
	return &Service{
		registry: d.Registry,
		ledger:   d.Ledger,
		vault:    d.Vault,
		venues:   d.Venues,
		docs:     d.Docs,
		locks:    d.Locks,
		cache:    d.Cache,
		runner:   workflow.NewRunner(d.Logger),
		events:   d.Events,
		cfg:      d.Config,
		network:  d.Network,
		programs: ledger.Programs{
			Governance:   ledger.Ref(d.Network.Programs.Governance),
			AddressTable: ledger.Ref(d.Network.Programs.AddressTable),
			Token:        ledger.Ref(d.Network.Programs.Token),
			Oracle:       ledger.Ref(d.Network.Programs.Oracle),
		},
		logger: d.Logger,
		now:    time.Now,
	}
}

// signSubmitConfirm runs one build's sign→submit→confirm round trip and
// returns the submission id.
func (s *Service) signSubmitConfirm(ctx context.Context, tx *ledger.UnsignedTx, signers ...signer.Keypair) (ledger.SubmissionID, error) {
	signed, err := s.vault.Sign(tx, signers...)
	if err != nil {
		return "", err
	}
	start := time.Now()
	id, err := s.ledger.Submit(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if err := s.ledger.Confirm(ctx, id, s.cfg.ConfirmTimeout); err != nil {
		return id, fmt.Errorf("confirm: %w", err)
	}
	metrics.ObserveConfirm(start)
	return id, nil
}

// adminKeypair resolves an organization's admin signing identity. A missing
// key index is a corrupt registry row, never retried.
func (s *Service) adminKeypair(org *model.Organization) (signer.Keypair, error) {
	if org.AdminKeyIndex == nil {
		return signer.Keypair{}, configFailure("organization %q has no admin key index; the registry row is corrupt", org.Name)
	}
	kp, err := s.vault.At(*org.AdminKeyIndex)
	if err != nil {
		return signer.Keypair{}, configFailure("organization %q: deriving admin identity: %v", org.Name, err)
	}
	if kp.Ref != ledger.Ref(org.AdminRef) {
		return signer.Keypair{}, configFailure("organization %q: key index %d does not derive the recorded admin identity", org.Name, *org.AdminKeyIndex)
	}
	return kp, nil
}

// liquidityOwner resolves the identity holding the pooled liquidity: the
// root's admin for a branch, the organization's own admin for a root.
func (s *Service) liquidityOwner(ctx context.Context, org *model.Organization) (signer.Keypair, *model.Organization, error) {
	if org.IsRoot() {
		kp, err := s.adminKeypair(org)
		return kp, org, err
	}
	root, err := s.registry.GetOrganization(ctx, org.ParentOrg)
	if err != nil {
		if err == database.ErrNoRow {
			return signer.Keypair{}, nil, configFailure("branch %q references missing root %q", org.Name, org.ParentOrg)
		}
		return signer.Keypair{}, nil, err
	}
	kp, err := s.adminKeypair(root)
	return kp, root, err
}

// publishEvent emits a lifecycle event, logging instead of failing: eventing
// is best-effort and never blocks a completed workflow's response.
func (s *Service) publishEvent(ctx context.Context, kind string, p *model.Proposal) {
	if s.events == nil {
		return
	}
	if err := s.events.ProposalLifecycle(ctx, kind, p); err != nil {
		s.logger.Warn("lifecycle event publish failed",
			zap.String("kind", kind),
			zap.String("proposal", p.Ref),
			zap.Error(err))
	}
}

// RecountProposals recomputes and overwrites the per-organization proposal
// count cache entry from a full registry scan. Counts carry no TTL; they are
// corrected only by this recount or by the increment on creation.
func (s *Service) RecountProposals(ctx context.Context, org string) (int64, error) {
	count, err := s.registry.CountProposalsByOrg(ctx, org)
	if err != nil {
		return 0, err
	}
	s.cache.Set(orgCountKey(org), count, 0)
	return count, nil
}

// ProposalCount serves the per-organization count, recounting on a miss.
func (s *Service) ProposalCount(ctx context.Context, org string) (int64, error) {
	if v, ok := s.cache.GetInt64(orgCountKey(org)); ok {
		metrics.CacheReads.WithLabelValues("proposal_count", "hit").Inc()
		return v, nil
	}
	metrics.CacheReads.WithLabelValues("proposal_count", "miss").Inc()
	return s.RecountProposals(ctx, org)
}

// RecountAll rebuilds every organization's proposal count. Runs at startup
// so counts survive restarts without waiting for the first read.
func (s *Service) RecountAll(ctx context.Context) error {
	orgs, err := s.registry.ListOrganizations(ctx)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		if _, err := s.RecountProposals(ctx, org.Name); err != nil {
			return fmt.Errorf("recount %s: %w", org.Name, err)
		}
	}
	s.logger.Info("proposal counts seeded", zap.Int("organizations", len(orgs)))
	return nil
}

// ListBranches serves the branch rows registered under a root.
func (s *Service) ListBranches(ctx context.Context, root string) ([]model.Organization, error) {
	return s.registry.ListBranches(ctx, root)
}

// GetProposal serves one proposal row with the state re-projected from the
// live ledger account. The ledger is authoritative; a stale row is
// corrected in place, and a ledger outage degrades to the stored row.
func (s *Service) GetProposal(ctx context.Context, ref string) (*model.Proposal, error) {
	p, err := s.registry.GetProposal(ctx, ref)
	if err == database.ErrNoRow {
		return nil, validationFailure("proposal %s is not registered", ref)
	}
	if err != nil {
		return nil, err
	}

	acct, err := s.ledger.FetchProposal(ctx, ledger.Ref(ref))
	if err != nil {
		if err != ledger.ErrNotFound {
			s.logger.Warn("live projection unavailable, serving stored row",
				zap.String("proposal", ref), zap.Error(err))
		}
		return p, nil
	}
	proj := ledger.Project(acct, s.now())
	p.State = proj.State.String()
	if proj.State == ledger.PhaseResolved {
		p.WinningOption = acct.WinningOption
	}
	return p, nil
}

// ListProposalsByOrg serves one organization's proposals, newest first.
func (s *Service) ListProposalsByOrg(ctx context.Context, org string) ([]model.Proposal, error) {
	return s.registry.ListProposalsByOrg(ctx, org)
}

// ListProposals serves the cross-organization listing through the short-TTL
// cache. A cache miss degrades to a registry re-query, never to an error.
func (s *Service) ListProposals(ctx context.Context) ([]model.Proposal, error) {
	if v, ok := s.cache.Get(cacheKeyAllProposals); ok {
		if list, ok := v.([]model.Proposal); ok {
			metrics.CacheReads.WithLabelValues("proposals_all", "hit").Inc()
			return list, nil
		}
	}
	metrics.CacheReads.WithLabelValues("proposals_all", "miss").Inc()
	list, err := s.registry.ListProposals(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cacheKeyAllProposals, list, s.cfg.ListCacheTTL)
	return list, nil
}
