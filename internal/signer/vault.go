package signer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"github.com/futarchia/futarch-backend/internal/ledger"
)

// hkdf domain separation for vault-derived signing keys.
var vaultSalt = []byte("futarch-vault-v1")

// Keypair is a vault-derived signing identity. The private key never leaves
// this package; callers pass Keypairs back to Sign.
type Keypair struct {
	Index int
	Ref   ledger.Ref

	priv ed25519.PrivateKey
}

// Vault derives all service signing identities from a single master
// mnemonic. Identities are addressed by index, so an organization row only
// needs to store which index administers it. Losing the index mapping for an
// existing organization is a configuration error with no recovery path.
type Vault struct {
	seed []byte

	mu   sync.Mutex
	next int
}

// Open validates the master mnemonic and prepares the vault. The first
// allocated index is reserved for the service's operating identity.
func Open(mnemonic string) (*Vault, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("vault mnemonic is not a valid seed phrase")
	}
	return &Vault{seed: bip39.NewSeed(mnemonic, ""), next: 1}, nil
}

// At derives the keypair for index. Derivation is deterministic: the same
// mnemonic and index always yield the same identity.
func (v *Vault) At(index int) (Keypair, error) {
	if index < 0 {
		return Keypair{}, fmt.Errorf("key index %d out of range", index)
	}
	info := []byte(fmt.Sprintf("identity:%d", index))
	r := hkdf.New(sha256.New, v.seed, vaultSalt, info)
	keySeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, keySeed); err != nil {
		return Keypair{}, fmt.Errorf("derive identity %d: %w", index, err)
	}
	priv := ed25519.NewKeyFromSeed(keySeed)
	pub := priv.Public().(ed25519.PublicKey)
	return Keypair{
		Index: index,
		Ref:   ledger.RefFromBytes(pub),
		priv:  priv,
	}, nil
}

// Operator returns the service's own fee-paying identity, index 0.
func (v *Vault) Operator() (Keypair, error) {
	return v.At(0)
}

// SetFloor raises the allocation cursor so fresh allocations never collide
// with indexes already recorded in the registry. Called once at startup with
// the highest stored index plus one.
func (v *Vault) SetFloor(next int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if next > v.next {
		v.next = next
	}
}

// Allocate hands out the next unused identity.
func (v *Vault) Allocate() (Keypair, error) {
	v.mu.Lock()
	index := v.next
	v.next++
	v.mu.Unlock()
	return v.At(index)
}

// Sign produces the detached signatures for tx, one per signer. The digest
// covers the canonical encoding of the whole unsigned change, so any
// mutation after signing invalidates it.
func (v *Vault) Sign(tx *ledger.UnsignedTx, signers ...Keypair) (*ledger.SignedTx, error) {
	digest, err := txDigest(tx)
	if err != nil {
		return nil, err
	}
	signed := &ledger.SignedTx{
		Tx:         *tx,
		Signatures: make(map[ledger.Ref][]byte, len(signers)),
	}
	for _, kp := range signers {
		if kp.priv == nil {
			return nil, fmt.Errorf("identity %s was not derived by this vault", kp.Ref.Short())
		}
		signed.Signatures[kp.Ref] = ed25519.Sign(kp.priv, digest)
	}
	return signed, nil
}

// Verify checks a detached signature against a vault identity's public key.
func Verify(ref ledger.Ref, digest, sig []byte) bool {
	pub, err := ref.Bytes()
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest, sig)
}

func txDigest(tx *ledger.UnsignedTx) ([]byte, error) {
	enc, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode change for signing: %w", err)
	}
	sum := sha256.Sum256(enc)
	return sum[:], nil
}
