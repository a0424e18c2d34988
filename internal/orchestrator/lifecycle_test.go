package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/futarchia/futarch-backend/internal/ledger"
)

// resolvedProposal drives a proposal through creation and finalization and
// returns its ref.
func resolvedProposal(t *testing.T, h *harness) string {
	t.Helper()
	if _, err := h.createOrg("ACME", 12); err != nil {
		t.Fatalf("create organization: %v", err)
	}
	resp := mustCreateProposal(t, h, "ACME", []string{"No", "Yes"}, 3600, 300)
	h.clock.Advance(3601 * time.Second)
	if _, err := h.svc.FinalizeProposal(context.Background(), resp.Ref); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return resp.Ref
}

func TestRedeemRequiresResolution(t *testing.T) {
	h := newHarness()
	if _, err := h.createOrg("ACME", 12); err != nil {
		t.Fatalf("create organization: %v", err)
	}
	resp := mustCreateProposal(t, h, "ACME", []string{"No", "Yes"}, 3600, 0)

	_, err := h.svc.RedeemLiquidity(context.Background(), resp.Ref)
	failure, ok := AsFailure(err)
	if !ok || failure.Code != CodeConflict {
		t.Fatalf("expected conflict for pending proposal, got %v", err)
	}
}

func TestRedeemCreditsBalances(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.chain.redeemBase = 55_000
	h.chain.redeemQuote = 220_000

	ref := resolvedProposal(t, h)
	resp, err := h.svc.RedeemLiquidity(ctx, ref)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !resp.Success || len(resp.Submissions) != 1 {
		t.Fatalf("unexpected redeem response: %+v", resp)
	}

	org, _ := h.registry.GetOrganization(ctx, "ACME")
	bal, _ := h.chain.TokenBalance(ctx, ledger.Ref(org.AdminRef), h.govAsset)
	if bal != 55_000 {
		t.Fatalf("redeemed base balance = %d, want 55000", bal)
	}
}

func TestReturnLiquiditySkipsBelowSignificance(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	// Supply 100,000,000; 50 bps threshold is 500,000. Credit less.
	h.chain.redeemBase = 400_000
	ref := resolvedProposal(t, h)
	if _, err := h.svc.RedeemLiquidity(ctx, ref); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	swapsBefore, depositsBefore := h.venue.swapCalls, h.venue.depositCalls
	resp, err := h.svc.ReturnLiquidity(ctx, ref)
	if err != nil {
		t.Fatalf("return liquidity: %v", err)
	}
	if !resp.Success || !resp.Skipped {
		t.Fatalf("expected skipped success, got %+v", resp)
	}
	if h.venue.swapCalls != swapsBefore || h.venue.depositCalls != depositsBefore {
		t.Fatal("skipped return must not touch the venue at all")
	}
}

func TestReturnLiquidityDepositsAboveSignificance(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	// Above the 500,000 threshold; quote-side credit keeps the holdings
	// roughly at the pool ratio (price 4), so no cleanup swap is needed.
	h.chain.redeemBase = 600_000
	h.chain.redeemQuote = 2_400_000
	ref := resolvedProposal(t, h)
	if _, err := h.svc.RedeemLiquidity(ctx, ref); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	resp, err := h.svc.ReturnLiquidity(ctx, ref)
	if err != nil {
		t.Fatalf("return liquidity: %v", err)
	}
	if resp.Skipped {
		t.Fatalf("expected a deposit, got skip: %+v", resp)
	}
	if h.venue.depositCalls != 1 {
		t.Fatalf("deposit calls = %d, want 1", h.venue.depositCalls)
	}

	org, _ := h.registry.GetOrganization(ctx, "ACME")
	position, _ := h.venue.Position(ctx, ledger.Ref(org.AdminRef), h.poolRef)
	if position == 0 {
		t.Fatal("deposit must restore a pooled position")
	}
}

func TestReturnLiquidityRebalancesWithCleanupSwap(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	// Base-heavy redemption: 2,000,000 base against no quote forces the
	// cleanup swap before depositing.
	h.chain.redeemBase = 2_000_000
	h.chain.redeemQuote = 0
	ref := resolvedProposal(t, h)
	if _, err := h.svc.RedeemLiquidity(ctx, ref); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	resp, err := h.svc.ReturnLiquidity(ctx, ref)
	if err != nil {
		t.Fatalf("return liquidity: %v", err)
	}
	if resp.Skipped {
		t.Fatalf("expected swap and deposit, got skip")
	}
	if h.venue.swapCalls != 1 {
		t.Fatalf("swap calls = %d, want 1", h.venue.swapCalls)
	}
	if h.venue.depositCalls != 1 {
		t.Fatalf("deposit calls = %d, want 1", h.venue.depositCalls)
	}
}

func TestCrankEligibilityWindows(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if _, err := h.createOrg("ACME", 12); err != nil {
		t.Fatalf("create organization: %v", err)
	}
	resp := mustCreateProposal(t, h, "ACME", []string{"No", "Yes"}, 3600, 300)

	// Inside warmup: every pool is skipped with a wait hint, no submission.
	before := h.chain.submissions
	crank, err := h.svc.CrankOracle(ctx, resp.Ref)
	if err != nil {
		t.Fatalf("crank: %v", err)
	}
	if crank.Submission != "" || h.chain.submissions != before {
		t.Fatal("warmup crank must not submit")
	}
	for _, r := range crank.Results {
		if r.Cranked || r.WaitRemaining <= 0 {
			t.Fatalf("warmup result should report remaining wait: %+v", r)
		}
	}

	// Past warmup both pools are eligible and batched into one submission.
	h.clock.Advance(301 * time.Second)
	crank, err = h.svc.CrankOracle(ctx, resp.Ref)
	if err != nil {
		t.Fatalf("crank: %v", err)
	}
	if crank.Submission == "" {
		t.Fatal("expected a batched submission")
	}
	cranked := 0
	for _, r := range crank.Results {
		if r.Cranked {
			cranked++
		}
	}
	if cranked != 2 {
		t.Fatalf("cranked %d pools, want 2", cranked)
	}

	// Immediately cranking again trips the minimum-interval predicate.
	crank, err = h.svc.CrankOracle(ctx, resp.Ref)
	if err != nil {
		t.Fatalf("crank: %v", err)
	}
	if crank.Submission != "" {
		t.Fatal("re-crank inside the minimum interval must not submit")
	}

	// After the interval elapses the pools are eligible again.
	h.clock.Advance(61 * time.Second)
	crank, err = h.svc.CrankOracle(ctx, resp.Ref)
	if err != nil {
		t.Fatalf("crank: %v", err)
	}
	if crank.Submission == "" {
		t.Fatal("expected pools to be eligible after the minimum interval")
	}
}

func TestCrankRequiresPendingProposal(t *testing.T) {
	h := newHarness()
	ref := resolvedProposal(t, h)
	_, err := h.svc.CrankOracle(context.Background(), ref)
	failure, ok := AsFailure(err)
	if !ok || failure.Code != CodeConflict {
		t.Fatalf("expected conflict for resolved proposal, got %v", err)
	}
}

func TestRedeemOnClosedAccountSkipsQuietly(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.chain.redeemBase = 55_000

	ref := resolvedProposal(t, h)
	if _, err := h.svc.RedeemLiquidity(ctx, ref); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// The ledger reclaims the proposal account once redemption completes.
	h.chain.mu.Lock()
	delete(h.chain.proposals, ledger.Ref(ref))
	h.chain.mu.Unlock()

	h.events.mu.Lock()
	eventsBefore := len(h.events.kinds)
	h.events.mu.Unlock()
	submissionsBefore := h.chain.submissions

	resp, err := h.svc.RedeemLiquidity(ctx, ref)
	if err != nil {
		t.Fatalf("redeem retry: %v", err)
	}
	if !resp.Success || !resp.Skipped {
		t.Fatalf("expected skipped success on retry, got %+v", resp)
	}
	if h.chain.submissions != submissionsBefore {
		t.Fatal("skipped redemption must not submit")
	}

	// No duplicate "redeemed" signal for consumers.
	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	if len(h.events.kinds) != eventsBefore {
		t.Fatalf("event kinds grew to %v on a skipped redemption", h.events.kinds)
	}
}
