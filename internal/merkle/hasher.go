// hasher.go - Leaf and node hashing for Merkle trees.

package merkle

import (
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"

	"ledgerengine/internal/crypto"
)

// Hasher defines how leaves and inner nodes are digested. Empty returns the
// digest of an unpopulated leaf slot.
type Hasher[D comparable] interface {
	Leaf(value D) D
	Node(left, right D) D
	Empty() D
}

// MiMCHasher hashes over the BW6-761 scalar field so paths can be opened in circuits.
type MiMCHasher struct{}

func (MiMCHasher) Leaf(value fr.Element) fr.Element {
	return crypto.Hash(crypto.DomainMerkleLeaf, value)
}

func (MiMCHasher) Node(left, right fr.Element) fr.Element {
	return crypto.Hash(crypto.DomainMerkleNode, left, right)
}

func (MiMCHasher) Empty() fr.Element {
	return fr.Element{}
}

// Blake2bHasher is used for trees that are never opened inside a circuit.
type Blake2bHasher struct{}

var (
	blakeLeafTag = []byte("ledger:merkle-leaf")
	blakeNodeTag = []byte("ledger:merkle-node")
)

func (Blake2bHasher) Leaf(value [32]byte) [32]byte {
	return crypto.Blake2b(blakeLeafTag, value[:])
}

func (Blake2bHasher) Node(left, right [32]byte) [32]byte {
	return crypto.Blake2b(blakeNodeTag, left[:], right[:])
}

func (Blake2bHasher) Empty() [32]byte {
	return [32]byte{}
}
