// Package ledger defines the client interface to the external distributed
// ledger, the raw account variants it returns, and the pure state projector
// deriving proposal lifecycle state from them.
package ledger

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/mr-tron/base58"
)

// ErrNotFound reports that an account does not exist on the ledger. Absent
// accounts are a first-class outcome: a closed proposal account means "no
// blocking proposal", never an error.
var ErrNotFound = errors.New("ledger: account not found")

// Ref is a base58-encoded ledger account address.
type Ref string

// RefFromBytes encodes raw address bytes as a Ref.
func RefFromBytes(b []byte) Ref {
	return Ref(base58.Encode(b))
}

// Bytes decodes the ref back to raw address bytes.
func (r Ref) Bytes() ([]byte, error) {
	return base58.Decode(string(r))
}

// Short returns a truncated form for log lines.
func (r Ref) Short() string {
	if len(r) <= 8 {
		return string(r)
	}
	return string(r[:4]) + ".." + string(r[len(r)-4:])
}

// Instruction is one program invocation within a submission.
type Instruction struct {
	Program  Ref
	Accounts []Ref
	Data     []byte
}

// UnsignedTx is a built change description awaiting signatures. Table, when
// set, references an address-compaction table the submission resolves its
// account list through; launch submissions reference far more accounts than
// a submission can address directly.
type UnsignedTx struct {
	Payer        Ref
	Instructions []Instruction
	Table        *Ref
}

// SignedTx carries the signatures collected for a submission.
type SignedTx struct {
	Tx         UnsignedTx
	Signatures map[Ref][]byte
}

// SubmissionID identifies an in-flight or finalized submission.
type SubmissionID string

// Client is the query/submission interface to the ledger. Fetch methods
// return ErrNotFound for absent accounts. DeriveAddress is deterministic
// and performs no network call.
type Client interface {
	FetchProposal(ctx context.Context, ref Ref) (*ProposalAccount, error)
	FetchModerator(ctx context.Context, ref Ref) (*ModeratorAccount, error)
	FetchMint(ctx context.Context, ref Ref) (*MintAccount, error)
	FetchPool(ctx context.Context, ref Ref) (*PoolAccount, error)
	FetchAddressTable(ctx context.Context, ref Ref) (*AddressTable, error)
	TokenBalance(ctx context.Context, owner, asset Ref) (uint64, error)
	NativeBalance(ctx context.Context, owner Ref) (uint64, error)
	Submit(ctx context.Context, tx *SignedTx) (SubmissionID, error)
	Confirm(ctx context.Context, id SubmissionID, timeout time.Duration) error
	DeriveAddress(seeds ...[]byte) Ref
}

const deriveDomain = "futarch:derive:v1"

// Derive computes the deterministic address for a seed tuple. Both the RPC
// client and tests share this so derived custody and proposal addresses
// agree everywhere.
func Derive(seeds ...[]byte) Ref {
	h := sha256.New()
	h.Write([]byte(deriveDomain))
	for _, s := range seeds {
		h.Write([]byte{byte(len(s) >> 8), byte(len(s))})
		h.Write(s)
	}
	return RefFromBytes(h.Sum(nil))
}

// Seed helpers for the well-known derivations.

// ModeratorSeed derives the moderator namespace account for an admin identity.
func ModeratorSeed(admin Ref) Ref {
	return Derive([]byte("moderator"), []byte(admin))
}

// CustodySeed derives a custody sub-account for (moderator, asset). The
// custody accounts are fixed derivations from the creation submission's
// multisig accounts, not fresh signing identities.
func CustodySeed(moderator, asset Ref) Ref {
	return Derive([]byte("custody"), []byte(moderator), []byte(asset))
}

// ProposalSeed derives the proposal account for (moderator, seq).
func ProposalSeed(moderator Ref, seq uint64) Ref {
	return Derive([]byte("proposal"), []byte(moderator), u64Bytes(seq))
}

// TableSeed derives the address-compaction table account for a proposal.
func TableSeed(proposal Ref) Ref {
	return Derive([]byte("table"), []byte(proposal))
}

// OptionPoolSeed derives the decision-market pool for one proposal option.
func OptionPoolSeed(proposal Ref, option int) Ref {
	return Derive([]byte("option-pool"), []byte(proposal), u64Bytes(uint64(option)))
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
