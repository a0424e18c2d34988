package pool

import (
	"context"
	"encoding/binary"

	"github.com/shopspring/decimal"

	"github.com/futarchia/futarch-backend/internal/ledger"
)

// CPMM op tags.
const (
	opWithdraw byte = iota + 1
	opDeposit
	opSwap
)

// swap fee charged by the venue, in basis points.
const cpmmFeeBps = 30

// CPMM is a constant-product venue. Pool accounts on the ledger map directly
// onto its state shape.
type CPMM struct {
	program ledger.Ref
	client  ledger.Client
}

func NewCPMM(program ledger.Ref, client ledger.Client) *CPMM {
	return &CPMM{program: program, client: client}
}

var _ Venue = (*CPMM)(nil)

func (c *CPMM) Kind() string { return "cpmm" }

func (c *CPMM) State(ctx context.Context, pool ledger.Ref) (*State, error) {
	acct, err := c.client.FetchPool(ctx, pool)
	if err != nil {
		return nil, err
	}
	return &State{
		Ref:          acct.Ref,
		BaseAsset:    acct.Assets[0],
		QuoteAsset:   acct.Assets[1],
		BaseReserve:  acct.Reserves[0],
		QuoteReserve: acct.Reserves[1],
		LpSupply:     acct.LpSupply,
	}, nil
}

func (c *CPMM) Position(ctx context.Context, owner, pool ledger.Ref) (uint64, error) {
	// LP tokens are issued under an asset derived from the pool itself.
	return c.client.TokenBalance(ctx, owner, lpAsset(pool))
}

// BuildWithdraw burns lpAmount and releases both assets pro rata. Amounts
// round down; the dust stays in the pool.
func (c *CPMM) BuildWithdraw(owner ledger.Ref, st *State, lpAmount uint64) (*ledger.UnsignedTx, Amounts) {
	var out Amounts
	if st.LpSupply > 0 {
		share := decimal.NewFromUint64(lpAmount).Div(decimal.NewFromUint64(st.LpSupply))
		out.Base = uint64(decimal.NewFromUint64(st.BaseReserve).Mul(share).IntPart())
		out.Quote = uint64(decimal.NewFromUint64(st.QuoteReserve).Mul(share).IntPart())
	}
	data := u64Data(opWithdraw, lpAmount)
	return &ledger.UnsignedTx{
		Payer: owner,
		Instructions: []ledger.Instruction{{
			Program:  c.program,
			Accounts: []ledger.Ref{owner, st.Ref, st.BaseAsset, st.QuoteAsset, lpAsset(st.Ref)},
			Data:     data,
		}},
	}, out
}

func (c *CPMM) BuildDeposit(owner ledger.Ref, st *State, amounts Amounts) *ledger.UnsignedTx {
	data := u64Data(opDeposit, amounts.Base)
	data = appendU64(data, amounts.Quote)
	return &ledger.UnsignedTx{
		Payer: owner,
		Instructions: []ledger.Instruction{{
			Program:  c.program,
			Accounts: []ledger.Ref{owner, st.Ref, st.BaseAsset, st.QuoteAsset, lpAsset(st.Ref)},
			Data:     data,
		}},
	}
}

// BuildSwap trades amount of fromAsset for the pool's other asset. Output is
// the constant-product quote less the venue fee, rounded down.
func (c *CPMM) BuildSwap(owner ledger.Ref, st *State, fromAsset ledger.Ref, amount uint64) (*ledger.UnsignedTx, uint64) {
	inReserve, outReserve := st.BaseReserve, st.QuoteReserve
	if fromAsset == st.QuoteAsset {
		inReserve, outReserve = outReserve, inReserve
	}
	est := swapOutput(inReserve, outReserve, amount)

	data := u64Data(opSwap, amount)
	return &ledger.UnsignedTx{
		Payer: owner,
		Instructions: []ledger.Instruction{{
			Program:  c.program,
			Accounts: []ledger.Ref{owner, st.Ref, fromAsset},
			Data:     data,
		}},
	}, est
}

func swapOutput(inReserve, outReserve, amountIn uint64) uint64 {
	if inReserve == 0 || outReserve == 0 || amountIn == 0 {
		return 0
	}
	in := decimal.NewFromUint64(amountIn).
		Mul(decimal.NewFromInt(10_000 - cpmmFeeBps)).
		Div(decimal.NewFromInt(10_000))
	num := in.Mul(decimal.NewFromUint64(outReserve))
	den := decimal.NewFromUint64(inReserve).Add(in)
	return uint64(num.Div(den).IntPart())
}

func lpAsset(pool ledger.Ref) ledger.Ref {
	return ledger.Derive([]byte("lp-asset"), []byte(pool))
}

func u64Data(tag byte, v uint64) []byte {
	return appendU64([]byte{tag}, v)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
