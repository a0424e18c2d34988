// Package pool abstracts the external liquidity venues organizations keep
// their treasury positions in. Each venue kind knows how to read its pool
// state and build withdraw, deposit and swap changes; the orchestrator stays
// venue-agnostic.
package pool

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/futarchia/futarch-backend/internal/ledger"
)

// State is a venue pool's current composition.
type State struct {
	Ref          ledger.Ref
	BaseAsset    ledger.Ref
	QuoteAsset   ledger.Ref
	BaseReserve  uint64
	QuoteReserve uint64
	LpSupply     uint64
}

// Price returns the spot price of the base asset in quote units.
func (s *State) Price() decimal.Decimal {
	if s.BaseReserve == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(s.QuoteReserve).Div(decimal.NewFromUint64(s.BaseReserve))
}

// ShareOf returns lpTokens' fraction of the pool in basis points.
func (s *State) ShareOf(lpTokens uint64) int64 {
	if s.LpSupply == 0 {
		return 0
	}
	return decimal.NewFromUint64(lpTokens).
		Mul(decimal.NewFromInt(10_000)).
		Div(decimal.NewFromUint64(s.LpSupply)).
		IntPart()
}

// Amounts is a (base, quote) pair moved by a withdraw or deposit.
type Amounts struct {
	Base  uint64
	Quote uint64
}

// Venue builds changes against one kind of liquidity pool.
type Venue interface {
	Kind() string

	// State fetches and normalizes the pool's composition.
	State(ctx context.Context, pool ledger.Ref) (*State, error)

	// Position returns owner's withdrawable LP token balance in the pool.
	// Locked or vesting LP tokens are excluded: a position that cannot be
	// withdrawn from reads as zero here.
	Position(ctx context.Context, owner, pool ledger.Ref) (uint64, error)

	// BuildWithdraw burns lpAmount of owner's position and returns the
	// change plus the pro-rata amounts it will release.
	BuildWithdraw(owner ledger.Ref, st *State, lpAmount uint64) (*ledger.UnsignedTx, Amounts)

	// BuildDeposit returns liquidity to the pool at its current ratio.
	BuildDeposit(owner ledger.Ref, st *State, amounts Amounts) *ledger.UnsignedTx

	// BuildSwap trades amount of fromAsset into the pool's other asset and
	// reports the estimated output.
	BuildSwap(owner ledger.Ref, st *State, fromAsset ledger.Ref, amount uint64) (*ledger.UnsignedTx, uint64)
}

// Registry maps venue kinds to their implementations.
type Registry struct {
	venues map[string]Venue
}

func NewRegistry(venues ...Venue) *Registry {
	r := &Registry{venues: make(map[string]Venue, len(venues))}
	for _, v := range venues {
		r.venues[v.Kind()] = v
	}
	return r
}

// Get resolves a venue kind recorded on an organization.
func (r *Registry) Get(kind string) (Venue, error) {
	v, ok := r.venues[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported pool venue %q", kind)
	}
	return v, nil
}

// Kinds lists registered venue kinds.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.venues))
	for k := range r.venues {
		kinds = append(kinds, k)
	}
	return kinds
}
