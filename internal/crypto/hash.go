// hash.go - Domain-separated MiMC hashing over the BW6-761 scalar field.
//
// The native hash and HashVariables (circuit side) write the same element sequence:
// the domain tag followed by the inputs, each as a canonical 48-byte block.

package crypto

import (
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"golang.org/x/crypto/blake2b"
)

// Domain separates hash invocations used for different purposes.
type Domain string

const (
	DomainCoinCommitment  Domain = "ledger:coin-commitment"
	DomainCoinNullifier   Domain = "ledger:coin-nullifier"
	DomainCoinPublicKey   Domain = "ledger:coin-public-key"
	DomainMerkleLeaf      Domain = "ledger:merkle-leaf"
	DomainMerkleNode      Domain = "ledger:merkle-node"
	DomainEncryptionMask  Domain = "ledger:encryption-mask"
	DomainDustCommitment  Domain = "ledger:dust-commitment"
	DomainDustNullifier   Domain = "ledger:dust-nullifier"
	DomainDustPublicKey   Domain = "ledger:dust-public-key"
	DomainDustNonce       Domain = "ledger:dust-nonce"
	DomainGenerationInfo  Domain = "ledger:dust-generation-info"
	DomainSegmentBinding  Domain = "ledger:segment-binding"
	DomainContractBinding Domain = "ledger:contract-binding"
)

var domainTags sync.Map

// Element returns the field element tagging this domain (blake2b-256 of the name).
func (d Domain) Element() fr.Element {
	if cached, ok := domainTags.Load(d); ok {
		return cached.(fr.Element)
	}
	digest := blake2b.Sum256([]byte(d))
	var e fr.Element
	e.SetBytes(digest[:])
	domainTags.Store(d, e)

	return e
}

// Hash computes the MiMC digest of the domain tag followed by the inputs.
func Hash(d Domain, inputs ...fr.Element) fr.Element {
	h := mimcNative.NewMiMC()
	tag := d.Element()
	tagBytes := tag.Bytes()
	h.Write(tagBytes[:])
	for i := range inputs {
		b := inputs[i].Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))

	return out
}

// HashVariables is the in-circuit counterpart of Hash.
func HashVariables(api frontend.API, d Domain, inputs ...frontend.Variable) frontend.Variable {
	h, _ := mimc.NewMiMC(api)
	tag := d.Element()
	h.Write(tag.BigInt(new(big.Int)))
	h.Write(inputs...)

	return h.Sum()
}

// Blake2b hashes the concatenation of parts into 32 bytes.
// Used for identifiers that never enter a circuit.
func Blake2b(parts ...[]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))

	return out
}
