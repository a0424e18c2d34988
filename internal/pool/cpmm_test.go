package pool

import (
	"testing"

	"github.com/futarchia/futarch-backend/internal/ledger"
)

func testState() *State {
	return &State{
		Ref:          ledger.Derive([]byte("pool")),
		BaseAsset:    ledger.Derive([]byte("base")),
		QuoteAsset:   ledger.Derive([]byte("quote")),
		BaseReserve:  1_000_000,
		QuoteReserve: 4_000_000,
		LpSupply:     2_000_000,
	}
}

func TestWithdrawAmountsAreProRata(t *testing.T) {
	c := NewCPMM(ledger.Derive([]byte("venue")), nil)
	owner := ledger.Derive([]byte("owner"))

	// 10% of LP supply releases 10% of each reserve.
	tx, got := c.BuildWithdraw(owner, testState(), 200_000)
	if got.Base != 100_000 || got.Quote != 400_000 {
		t.Fatalf("withdraw amounts = %+v, want {100000 400000}", got)
	}
	if tx.Payer != owner {
		t.Fatalf("payer = %s, want owner", tx.Payer.Short())
	}
	if len(tx.Instructions) != 1 {
		t.Fatalf("got %d instructions, want 1", len(tx.Instructions))
	}
}

func TestWithdrawRoundsDown(t *testing.T) {
	c := NewCPMM(ledger.Derive([]byte("venue")), nil)
	st := testState()
	st.BaseReserve = 1_000_001

	_, got := c.BuildWithdraw(ledger.Derive([]byte("owner")), st, 200_000)
	if got.Base != 100_000 {
		t.Fatalf("base amount = %d, want 100000 (dust stays in pool)", got.Base)
	}
}

func TestWithdrawFromEmptyPool(t *testing.T) {
	c := NewCPMM(ledger.Derive([]byte("venue")), nil)
	st := testState()
	st.LpSupply = 0

	_, got := c.BuildWithdraw(ledger.Derive([]byte("owner")), st, 1)
	if got.Base != 0 || got.Quote != 0 {
		t.Fatalf("empty pool must release nothing, got %+v", got)
	}
}

func TestSwapEstimateHonorsConstantProduct(t *testing.T) {
	c := NewCPMM(ledger.Derive([]byte("venue")), nil)
	st := testState()
	owner := ledger.Derive([]byte("owner"))

	_, out := c.BuildSwap(owner, st, st.BaseAsset, 10_000)
	// Output must be below the no-fee constant-product bound.
	noFee := uint64(uint64(10_000) * st.QuoteReserve / (st.BaseReserve + 10_000))
	if out == 0 || out >= noFee {
		t.Fatalf("swap output %d out of range (no-fee bound %d)", out, noFee)
	}

	// Swapping quote uses the reserves in the opposite orientation.
	_, reverse := c.BuildSwap(owner, st, st.QuoteAsset, 10_000)
	if reverse >= out {
		t.Fatalf("quote->base output %d should be below base->quote output %d at this price", reverse, out)
	}
}

func TestShareOf(t *testing.T) {
	st := testState()
	if bps := st.ShareOf(10_000); bps != 50 {
		t.Fatalf("share = %d bps, want 50", bps)
	}
	if bps := st.ShareOf(0); bps != 0 {
		t.Fatalf("zero position share = %d bps, want 0", bps)
	}
	st.LpSupply = 0
	if bps := st.ShareOf(1); bps != 0 {
		t.Fatalf("empty pool share = %d bps, want 0", bps)
	}
}

func TestRegistryResolvesByKind(t *testing.T) {
	c := NewCPMM(ledger.Derive([]byte("venue")), nil)
	r := NewRegistry(c)

	v, err := r.Get("cpmm")
	if err != nil {
		t.Fatalf("get cpmm: %v", err)
	}
	if v.Kind() != "cpmm" {
		t.Fatalf("kind = %q, want cpmm", v.Kind())
	}
	if _, err := r.Get("orderbook"); err == nil {
		t.Fatal("unknown venue kind must error")
	}
}
