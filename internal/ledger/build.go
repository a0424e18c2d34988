package ledger

import "encoding/binary"

// Programs holds the deployed program addresses a build targets, loaded
// from the network file.
type Programs struct {
	Governance   Ref
	AddressTable Ref
	Token        Ref
	Oracle       Ref
}

// Operation tags understood by the governance program.
const (
	opCreateModerator byte = iota + 1
	opInitProposal
	opAddOption
	opLaunchProposal
	opFinalize
	opRedeem
	opCreateTable
	opExtendTable
	opWrapNative
	opCrank
)

func encodeU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func encodeStr(buf []byte, s string) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(s)))
	buf = append(buf, b[:]...)
	return append(buf, s...)
}

// BuildCreateModerator initializes a moderator namespace plus its custody
// multisig under the governance program.
func (p Programs) BuildCreateModerator(admin, moderator, govAsset, quoteAsset Ref) *UnsignedTx {
	data := encodeU64([]byte{opCreateModerator}, 0)
	return &UnsignedTx{
		Payer: admin,
		Instructions: []Instruction{{
			Program:  p.Governance,
			Accounts: []Ref{admin, moderator, govAsset, quoteAsset},
			Data:     data,
		}},
	}
}

// BuildInitProposal initializes proposal seq under moderator in setup state
// with its first two options.
func (p Programs) BuildInitProposal(admin, moderator, proposal Ref, seq uint64, lengthSecs, warmupSecs int64, metadataRef string) *UnsignedTx {
	data := []byte{opInitProposal}
	data = encodeU64(data, seq)
	data = encodeU64(data, uint64(lengthSecs))
	data = encodeU64(data, uint64(warmupSecs))
	data = encodeStr(data, metadataRef)
	return &UnsignedTx{
		Payer: admin,
		Instructions: []Instruction{{
			Program:  p.Governance,
			Accounts: []Ref{admin, moderator, proposal},
			Data:     data,
		}},
	}
}

// BuildAddOption appends option idx (2-based; the first two options are
// created by initialization) to a setup-state proposal.
func (p Programs) BuildAddOption(admin, proposal Ref, idx int, label string) *UnsignedTx {
	data := encodeStr(encodeU64([]byte{opAddOption}, uint64(idx)), label)
	return &UnsignedTx{
		Payer: admin,
		Instructions: []Instruction{{
			Program:  p.Governance,
			Accounts: []Ref{admin, proposal, OptionPoolSeed(proposal, idx)},
			Data:     data,
		}},
	}
}

// BuildCreateTable creates an address-compaction table sized to the option
// count and queues its entries for population.
func (p Programs) BuildCreateTable(admin, table, proposal Ref, entries []Ref) *UnsignedTx {
	data := encodeU64([]byte{opCreateTable}, uint64(len(entries)))
	accounts := append([]Ref{admin, table, proposal}, entries...)
	extend := encodeU64([]byte{opExtendTable}, uint64(len(entries)))
	return &UnsignedTx{
		Payer: admin,
		Instructions: []Instruction{
			{Program: p.AddressTable, Accounts: []Ref{admin, table}, Data: data},
			{Program: p.AddressTable, Accounts: accounts, Data: extend},
		},
	}
}

// BuildWrapNative wraps amount of the native fee asset into its tradeable
// wrapped form under owner.
func (p Programs) BuildWrapNative(owner, wrappedAsset Ref, amount uint64) *UnsignedTx {
	data := encodeU64([]byte{opWrapNative}, amount)
	return &UnsignedTx{
		Payer: owner,
		Instructions: []Instruction{{
			Program:  p.Token,
			Accounts: []Ref{owner, wrappedAsset},
			Data:     data,
		}},
	}
}

// BuildLaunch moves a setup proposal to pending, seeding each option market
// from the withdrawn amounts. The submission resolves its account list
// through the address-compaction table.
func (p Programs) BuildLaunch(admin, proposal, table Ref, baseAmount, quoteAmount, startObs, maxDrift uint64) *UnsignedTx {
	data := []byte{opLaunchProposal}
	data = encodeU64(data, baseAmount)
	data = encodeU64(data, quoteAmount)
	data = encodeU64(data, startObs)
	data = encodeU64(data, maxDrift)
	return &UnsignedTx{
		Payer: admin,
		Table: &table,
		Instructions: []Instruction{{
			Program:  p.Governance,
			Accounts: []Ref{admin, proposal, table},
			Data:     data,
		}},
	}
}

// BuildFinalize resolves an expired pending proposal.
func (p Programs) BuildFinalize(payer, proposal Ref) *UnsignedTx {
	return &UnsignedTx{
		Payer: payer,
		Instructions: []Instruction{{
			Program:  p.Governance,
			Accounts: []Ref{payer, proposal},
			Data:     []byte{opFinalize},
		}},
	}
}

// BuildRedeem redeems the operating identity's conditional positions of a
// resolved proposal. When table is non-nil the compacted-reference path is
// used; proposals with more than two options exceed a single submission's
// direct address budget.
func (p Programs) BuildRedeem(owner, proposal Ref, pools []Ref, table *Ref) *UnsignedTx {
	accounts := append([]Ref{owner, proposal}, pools...)
	return &UnsignedTx{
		Payer: owner,
		Table: table,
		Instructions: []Instruction{{
			Program:  p.Governance,
			Accounts: accounts,
			Data:     []byte{opRedeem},
		}},
	}
}

// CrankInstruction records a fresh oracle observation for one pool. The
// caller batches all eligible pools' instructions into one submission.
func (p Programs) CrankInstruction(payer, pool Ref) Instruction {
	return Instruction{
		Program:  p.Oracle,
		Accounts: []Ref{payer, pool},
		Data:     []byte{opCrank},
	}
}
