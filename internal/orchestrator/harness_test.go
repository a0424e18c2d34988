package orchestrator

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/futarchia/futarch-backend/config"
	"github.com/futarchia/futarch-backend/database"
	"github.com/futarchia/futarch-backend/internal/cache"
	"github.com/futarchia/futarch-backend/internal/ledger"
	"github.com/futarchia/futarch-backend/internal/locks"
	"github.com/futarchia/futarch-backend/internal/metastore"
	"github.com/futarchia/futarch-backend/internal/pool"
	"github.com/futarchia/futarch-backend/internal/signer"
	"github.com/futarchia/futarch-backend/model"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// Operation tags mirrored from the instruction builders, for the simulator.
const (
	simCreateModerator byte = iota + 1
	simInitProposal
	simAddOption
	simLaunch
	simFinalize
	simRedeem
	simCreateTable
	simExtendTable
	simWrapNative
	simCrank
)

// Venue effect tags used by the stub venue's instructions.
const (
	simWithdraw byte = 100 + iota
	simDeposit
	simSwap
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// simChain is an in-memory ledger that applies submitted instructions to
// its account state, so whole workflows can run end to end against it.
type simChain struct {
	mu sync.Mutex

	clock   *testClock
	network *config.Network
	venue   *stubVenue

	moderators map[ledger.Ref]*ledger.ModeratorAccount
	proposals  map[ledger.Ref]*ledger.ProposalAccount
	mints      map[ledger.Ref]*ledger.MintAccount
	pools      map[ledger.Ref]*ledger.PoolAccount
	tables     map[ledger.Ref]*ledger.AddressTable
	tokenBal   map[string]uint64
	native     map[ledger.Ref]uint64

	// What a redemption pays out, configured per test.
	redeemBase  uint64
	redeemQuote uint64

	submissions int
}

func newSimChain(clock *testClock, network *config.Network) *simChain {
	return &simChain{
		clock:      clock,
		network:    network,
		moderators: map[ledger.Ref]*ledger.ModeratorAccount{},
		proposals:  map[ledger.Ref]*ledger.ProposalAccount{},
		mints:      map[ledger.Ref]*ledger.MintAccount{},
		pools:      map[ledger.Ref]*ledger.PoolAccount{},
		tables:     map[ledger.Ref]*ledger.AddressTable{},
		tokenBal:   map[string]uint64{},
		native:     map[ledger.Ref]uint64{},
	}
}

func balKey(owner, asset ledger.Ref) string {
	return string(owner) + "|" + string(asset)
}

func (c *simChain) setToken(owner, asset ledger.Ref, amount uint64) {
	c.mu.Lock()
	c.tokenBal[balKey(owner, asset)] = amount
	c.mu.Unlock()
}

func (c *simChain) FetchProposal(ctx context.Context, ref ledger.Ref) (*ledger.ProposalAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.proposals[ref]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *simChain) FetchModerator(ctx context.Context, ref ledger.Ref) (*ledger.ModeratorAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.moderators[ref]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (c *simChain) FetchMint(ctx context.Context, ref ledger.Ref) (*ledger.MintAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.mints[ref]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (c *simChain) FetchPool(ctx context.Context, ref ledger.Ref) (*ledger.PoolAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[ref]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *simChain) FetchAddressTable(ctx context.Context, ref ledger.Ref) (*ledger.AddressTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[ref]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (c *simChain) TokenBalance(ctx context.Context, owner, asset ledger.Ref) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenBal[balKey(owner, asset)], nil
}

func (c *simChain) NativeBalance(ctx context.Context, owner ledger.Ref) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.native[owner], nil
}

func (c *simChain) Submit(ctx context.Context, tx *ledger.SignedTx) (ledger.SubmissionID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submissions++
	for _, instr := range tx.Tx.Instructions {
		if err := c.apply(instr); err != nil {
			return "", err
		}
	}
	return ledger.SubmissionID(fmt.Sprintf("sub-%d", c.submissions)), nil
}

func (c *simChain) Confirm(ctx context.Context, id ledger.SubmissionID, timeout time.Duration) error {
	return nil
}

func (c *simChain) DeriveAddress(seeds ...[]byte) ledger.Ref {
	return ledger.Derive(seeds...)
}

func u64At(data []byte, off int) uint64 {
	return binary.BigEndian.Uint64(data[off : off+8])
}

// apply mutates chain state the way the on-ledger programs would.
func (c *simChain) apply(instr ledger.Instruction) error {
	switch instr.Data[0] {
	case simCreateModerator:
		moderator := instr.Accounts[1]
		if _, ok := c.moderators[moderator]; !ok {
			c.moderators[moderator] = &ledger.ModeratorAccount{
				Ref:   moderator,
				Admin: instr.Accounts[0],
			}
		}
	case simInitProposal:
		moderator, proposal := instr.Accounts[1], instr.Accounts[2]
		seq := u64At(instr.Data, 1)
		mod, ok := c.moderators[moderator]
		if !ok {
			return fmt.Errorf("moderator %s missing", moderator.Short())
		}
		if _, exists := c.proposals[proposal]; exists {
			return fmt.Errorf("proposal %s already initialized", proposal.Short())
		}
		c.proposals[proposal] = &ledger.ProposalAccount{
			Ref:         proposal,
			Moderator:   moderator,
			Seq:         seq,
			Phase:       ledger.PhaseSetup,
			CreatedAt:   c.clock.Now().Unix(),
			LengthSecs:  int64(u64At(instr.Data, 9)),
			WarmupSecs:  int64(u64At(instr.Data, 17)),
			OptionCount: 2,
			OptionPools: []ledger.Ref{
				ledger.OptionPoolSeed(proposal, 0),
				ledger.OptionPoolSeed(proposal, 1),
			},
		}
		if seq >= mod.NextSeq {
			mod.NextSeq = seq + 1
		}
	case simAddOption:
		proposal := instr.Accounts[1]
		p, ok := c.proposals[proposal]
		if !ok {
			return fmt.Errorf("proposal %s missing", proposal.Short())
		}
		p.OptionCount++
		p.OptionPools = append(p.OptionPools, instr.Accounts[2])
	case simLaunch:
		proposal := instr.Accounts[1]
		p, ok := c.proposals[proposal]
		if !ok || p.Phase != ledger.PhaseSetup {
			return fmt.Errorf("proposal %s not launchable", proposal.Short())
		}
		p.Phase = ledger.PhasePending
		p.CreatedAt = c.clock.Now().Unix()
		for _, poolRef := range p.OptionPools {
			c.pools[poolRef] = &ledger.PoolAccount{Ref: poolRef}
		}
		// Seeding consumes the signer's withdrawn balances.
		owner := instr.Accounts[0]
		for key := range c.tokenBal {
			if len(key) > len(owner) && key[:len(owner)] == string(owner) {
				c.tokenBal[key] = 0
			}
		}
	case simFinalize:
		proposal := instr.Accounts[1]
		p, ok := c.proposals[proposal]
		if !ok || p.Phase != ledger.PhasePending {
			return fmt.Errorf("proposal %s not finalizable", proposal.Short())
		}
		p.Phase = ledger.PhaseResolved
		win := 1
		p.WinningOption = &win
	case simRedeem:
		owner, proposal := instr.Accounts[0], instr.Accounts[1]
		p, ok := c.proposals[proposal]
		if !ok || p.Phase != ledger.PhaseResolved {
			return fmt.Errorf("proposal %s not redeemable", proposal.Short())
		}
		c.tokenBal[balKey(owner, c.venue.st.BaseAsset)] += c.redeemBase
		c.tokenBal[balKey(owner, c.venue.st.QuoteAsset)] += c.redeemQuote
	case simCreateTable:
		table := instr.Accounts[1]
		if _, ok := c.tables[table]; !ok {
			c.tables[table] = &ledger.AddressTable{Ref: table}
		}
	case simExtendTable:
		table := instr.Accounts[1]
		t, ok := c.tables[table]
		if !ok {
			return fmt.Errorf("table %s missing", table.Short())
		}
		t.Entries = append(t.Entries, instr.Accounts[3:]...)
	case simWrapNative:
		owner := instr.Accounts[0]
		amount := u64At(instr.Data, 1)
		if c.native[owner] < amount {
			return fmt.Errorf("insufficient native balance to wrap")
		}
		c.native[owner] -= amount
		c.tokenBal[balKey(owner, ledger.Ref(c.network.WrappedAsset))] += amount
	case simCrank:
		poolRef := instr.Accounts[1]
		p, ok := c.pools[poolRef]
		if !ok {
			return fmt.Errorf("pool %s missing", poolRef.Short())
		}
		p.LastObservationAt = c.clock.Now().Unix()
	case simWithdraw, simDeposit, simSwap:
		return c.venue.apply(c, instr)
	default:
		return fmt.Errorf("unknown op tag %d", instr.Data[0])
	}
	return nil
}

// stubVenue is a pool venue whose instructions the simChain applies to its
// balance state, with call counters for interaction assertions.
type stubVenue struct {
	mu        sync.Mutex
	program   ledger.Ref
	st        *pool.State
	positions map[ledger.Ref]uint64

	withdrawCalls int
	depositCalls  int
	swapCalls     int
}

func newStubVenue(st *pool.State) *stubVenue {
	return &stubVenue{
		program:   ledger.Derive([]byte("stub-venue-program")),
		st:        st,
		positions: map[ledger.Ref]uint64{},
	}
}

func (v *stubVenue) Kind() string { return "cpmm" }

func (v *stubVenue) State(ctx context.Context, poolRef ledger.Ref) (*pool.State, error) {
	cp := *v.st
	return &cp, nil
}

func (v *stubVenue) Position(ctx context.Context, owner, poolRef ledger.Ref) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positions[owner], nil
}

func (v *stubVenue) BuildWithdraw(owner ledger.Ref, st *pool.State, lpAmount uint64) (*ledger.UnsignedTx, pool.Amounts) {
	v.mu.Lock()
	v.withdrawCalls++
	v.mu.Unlock()
	amounts := pool.Amounts{
		Base:  st.BaseReserve * lpAmount / st.LpSupply,
		Quote: st.QuoteReserve * lpAmount / st.LpSupply,
	}
	data := append([]byte{simWithdraw}, u64Enc(lpAmount)...)
	data = append(data, u64Enc(amounts.Base)...)
	data = append(data, u64Enc(amounts.Quote)...)
	return &ledger.UnsignedTx{
		Payer: owner,
		Instructions: []ledger.Instruction{{
			Program:  v.program,
			Accounts: []ledger.Ref{owner, st.Ref},
			Data:     data,
		}},
	}, amounts
}

func (v *stubVenue) BuildDeposit(owner ledger.Ref, st *pool.State, amounts pool.Amounts) *ledger.UnsignedTx {
	v.mu.Lock()
	v.depositCalls++
	v.mu.Unlock()
	data := append([]byte{simDeposit}, u64Enc(amounts.Base)...)
	data = append(data, u64Enc(amounts.Quote)...)
	return &ledger.UnsignedTx{
		Payer: owner,
		Instructions: []ledger.Instruction{{
			Program:  v.program,
			Accounts: []ledger.Ref{owner, st.Ref},
			Data:     data,
		}},
	}
}

func (v *stubVenue) BuildSwap(owner ledger.Ref, st *pool.State, fromAsset ledger.Ref, amount uint64) (*ledger.UnsignedTx, uint64) {
	v.mu.Lock()
	v.swapCalls++
	v.mu.Unlock()
	data := append([]byte{simSwap}, u64Enc(amount)...)
	return &ledger.UnsignedTx{
		Payer: owner,
		Instructions: []ledger.Instruction{{
			Program:  v.program,
			Accounts: []ledger.Ref{owner, st.Ref, fromAsset},
			Data:     data,
		}},
	}, amount // 1:1 stub estimate
}

// apply executes a venue instruction against the chain's balances.
func (v *stubVenue) apply(c *simChain, instr ledger.Instruction) error {
	owner := instr.Accounts[0]
	switch instr.Data[0] {
	case simWithdraw:
		lp := u64At(instr.Data, 1)
		base := u64At(instr.Data, 9)
		quote := u64At(instr.Data, 17)
		v.mu.Lock()
		if v.positions[owner] < lp {
			v.mu.Unlock()
			return fmt.Errorf("position too small")
		}
		v.positions[owner] -= lp
		v.mu.Unlock()
		c.tokenBal[balKey(owner, v.st.BaseAsset)] += base
		if v.st.QuoteAsset == ledger.Ref(c.network.NativeAsset) {
			c.native[owner] += quote
		} else {
			c.tokenBal[balKey(owner, v.st.QuoteAsset)] += quote
		}
	case simDeposit:
		base := u64At(instr.Data, 1)
		quote := u64At(instr.Data, 9)
		c.tokenBal[balKey(owner, v.st.BaseAsset)] -= base
		c.tokenBal[balKey(owner, v.st.QuoteAsset)] -= quote
		v.mu.Lock()
		v.positions[owner] += base // stub LP issuance
		v.mu.Unlock()
	case simSwap:
		amount := u64At(instr.Data, 1)
		from := instr.Accounts[2]
		to := v.st.QuoteAsset
		if from == v.st.QuoteAsset {
			to = v.st.BaseAsset
		}
		key := balKey(owner, from)
		if c.tokenBal[key] < amount {
			return fmt.Errorf("insufficient balance to swap")
		}
		c.tokenBal[key] -= amount
		c.tokenBal[balKey(owner, to)] += amount
	}
	return nil
}

func u64Enc(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// memRegistry is an in-memory database.Registry.
type memRegistry struct {
	mu        sync.Mutex
	orgs      map[string]*model.Organization
	proposals map[string]*model.Proposal
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		orgs:      map[string]*model.Organization{},
		proposals: map[string]*model.Proposal{},
	}
}

var _ database.Registry = (*memRegistry)(nil)

func (r *memRegistry) GetOrganization(ctx context.Context, name string) (*model.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	org, ok := r.orgs[name]
	if !ok {
		return nil, database.ErrNoRow
	}
	cp := *org
	return &cp, nil
}

func (r *memRegistry) OrganizationExists(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.orgs[name]
	return ok, nil
}

func (r *memRegistry) SaveOrganization(ctx context.Context, org *model.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *org
	r.orgs[org.Name] = &cp
	return nil
}

func (r *memRegistry) UpdateOrganization(ctx context.Context, org *model.Organization) error {
	return r.SaveOrganization(ctx, org)
}

func (r *memRegistry) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Organization{}
	for _, org := range r.orgs {
		out = append(out, *org)
	}
	return out, nil
}

func (r *memRegistry) ListBranches(ctx context.Context, root string) ([]model.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Organization{}
	for _, org := range r.orgs {
		if org.Kind == model.OrgKindBranch && org.ParentOrg == root {
			out = append(out, *org)
		}
	}
	return out, nil
}

func (r *memRegistry) MaxAdminKeyIndex(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := -1
	for _, org := range r.orgs {
		if org.AdminKeyIndex != nil && *org.AdminKeyIndex > max {
			max = *org.AdminKeyIndex
		}
	}
	return max, nil
}

func (r *memRegistry) SaveProposal(ctx context.Context, p *model.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.proposals[p.Ref] = &cp
	return nil
}

func (r *memRegistry) GetProposal(ctx context.Context, ref string) (*model.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[ref]
	if !ok {
		return nil, database.ErrNoRow
	}
	cp := *p
	return &cp, nil
}

func (r *memRegistry) UpdateProposalState(ctx context.Context, ref, state string, winning *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[ref]
	if !ok {
		return database.ErrNoRow
	}
	p.State = state
	p.WinningOption = winning
	return nil
}

func (r *memRegistry) ListProposals(ctx context.Context) ([]model.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Proposal{}
	for _, p := range r.proposals {
		out = append(out, *p)
	}
	return out, nil
}

func (r *memRegistry) ListProposalsByOrg(ctx context.Context, org string) ([]model.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Proposal{}
	for _, p := range r.proposals {
		if p.Organization == org {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memRegistry) CountProposalsByOrg(ctx context.Context, org string) (int64, error) {
	list, _ := r.ListProposalsByOrg(ctx, org)
	return int64(len(list)), nil
}

// stubDocs is a content-addressed document store stub.
type stubDocs struct {
	mu        sync.Mutex
	published int
}

func (d *stubDocs) Publish(ctx context.Context, doc *metastore.Document) (string, error) {
	d.mu.Lock()
	d.published++
	d.mu.Unlock()
	return "doc:" + doc.Kind + ":" + doc.Name, nil
}

// recordingSink captures lifecycle events.
type recordingSink struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingSink) ProposalLifecycle(ctx context.Context, kind string, p *model.Proposal) error {
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
	return nil
}

// harness bundles a fully wired service over the simulator.
type harness struct {
	svc      *Service
	chain    *simChain
	venue    *stubVenue
	registry *memRegistry
	docs     *stubDocs
	events   *recordingSink
	clock    *testClock
	vault    *signer.Vault
	network  *config.Network

	govAsset   ledger.Ref
	quoteAsset ledger.Ref
	poolRef    ledger.Ref
}

func newHarness() *harness {
	clock := newTestClock()

	govAsset := ledger.Derive([]byte("gov-asset"))
	quoteAsset := ledger.Derive([]byte("quote-asset"))
	poolRef := ledger.Derive([]byte("treasury-pool"))

	network := &config.Network{
		NativeAsset:  string(ledger.Derive([]byte("native-asset"))),
		WrappedAsset: string(ledger.Derive([]byte("wrapped-asset"))),
	}
	network.Programs.Governance = string(ledger.Derive([]byte("governance-program")))
	network.Programs.AddressTable = string(ledger.Derive([]byte("table-program")))
	network.Programs.Token = string(ledger.Derive([]byte("token-program")))
	network.Programs.Oracle = string(ledger.Derive([]byte("oracle-program")))

	venue := newStubVenue(&pool.State{
		Ref:          poolRef,
		BaseAsset:    govAsset,
		QuoteAsset:   quoteAsset,
		BaseReserve:  1_000_000,
		QuoteReserve: 4_000_000,
		LpSupply:     2_000_000,
	})

	chain := newSimChain(clock, network)
	chain.venue = venue
	chain.mints[govAsset] = &ledger.MintAccount{Ref: govAsset, Supply: 100_000_000, Decimals: 9}

	vault, err := signer.Open(testMnemonic)
	if err != nil {
		panic(err)
	}
	operator, err := vault.Operator()
	if err != nil {
		panic(err)
	}
	chain.native[operator.Ref] = 10_000_000_000

	cfg := &config.Config{
		ConfirmTimeout:    time.Second,
		TableWaitTimeout:  200 * time.Millisecond,
		TablePollInterval: time.Millisecond,
		OracleMinInterval: 60 * time.Second,
		ListCacheTTL:      30 * time.Second,
		MinFeeReserve:     100_000_000,
		ReturnMinBps:      50,
		PriceDriftBps:     500,
	}

	registry := newMemRegistry()
	docs := &stubDocs{}
	events := &recordingSink{}

	svc := New(Deps{
		Registry: registry,
		Ledger:   chain,
		Vault:    vault,
		Venues:   pool.NewRegistry(venue),
		Docs:     docs,
		Locks:    locks.New(),
		Cache:    cache.NewWithClock(clock.Now),
		Events:   events,
		Config:   cfg,
		Network:  network,
		Logger:   zap.NewNop(),
	})
	svc.now = clock.Now

	return &harness{
		svc:      svc,
		chain:    chain,
		venue:    venue,
		registry: registry,
		docs:     docs,
		events:   events,
		clock:    clock,
		vault:    vault,
		network:  network,

		govAsset:   govAsset,
		quoteAsset: quoteAsset,
		poolRef:    poolRef,
	}
}

// createOrg provisions a healthy root organization ready for proposals.
func (h *harness) createOrg(name string, withdrawPct int) (*model.OrgResponse, error) {
	resp, err := h.svc.CreateOrganization(context.Background(), &model.CreateOrgRequest{
		Name:            name,
		Owner:           "owner-1",
		GovernanceAsset: string(h.govAsset),
		QuoteAsset:      string(h.quoteAsset),
		Pool:            string(h.poolRef),
		PoolKind:        "cpmm",
		WithdrawPct:     withdrawPct,
	})
	if err != nil {
		return nil, err
	}
	// Hand the fresh admin the mint authority and a pooled position.
	admin := ledger.Ref(resp.AdminRef)
	h.chain.mu.Lock()
	h.chain.mints[h.govAsset].Authority = &admin
	h.chain.mu.Unlock()
	h.venue.mu.Lock()
	h.venue.positions[admin] = 1_000_000
	h.venue.mu.Unlock()
	return resp, nil
}
