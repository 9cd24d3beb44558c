// stage.go - Type-level stages of transaction components.
//
// Components are generic over three independent axes:
//
//   - proof stage:     Preimage -> Proof, either -> Erased
//   - binding stage:   Unbound -> Bound
//   - signature stage: crypto.Signature -> SignatureErased
//
// Transitions are free functions returning a value of the next stage's type, so
// a Bound or Erased component has no way back to an earlier stage.

package proofs

import (
	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"

	"ledgerengine/internal/crypto"
)

// Preimage is everything needed to prove one component.
// Public[0] is the binding input that ties the proof to its segment.
type Preimage struct {
	KeyLocation string
	Public      []fr.Element
	Private     []fr.Element
}

// BindingInput returns Public[0], or zero for an empty preimage.
func (p Preimage) BindingInput() fr.Element {
	if len(p.Public) == 0 {
		return fr.Element{}
	}

	return p.Public[0]
}

// WithBindingInput returns a copy with Public[0] replaced.
func (p Preimage) WithBindingInput(b fr.Element) Preimage {
	public := make([]fr.Element, len(p.Public))
	copy(public, p.Public)
	if len(public) > 0 {
		public[0] = b
	}

	return Preimage{KeyLocation: p.KeyLocation, Public: public, Private: p.Private}
}

// SegmentBindingInput is the binding input of every proof in a transaction segment.
func SegmentBindingInput(segment uint16) fr.Element {
	return crypto.Hash(crypto.DomainSegmentBinding, crypto.ElementFromUint64(uint64(segment)))
}

// Proof is a serialized zero-knowledge proof. Mock proofs are well-formed but never verify.
type Proof struct {
	Data []byte
	Mock bool
}

// Erased marks a component whose proof was dropped.
type Erased struct{}

// Stage is the proof-stage constraint.
type Stage interface {
	Preimage | Proof | Erased
}

// StageName names a proof stage for logging and errors.
func StageName[P Stage]() string {
	var zero P
	switch any(zero).(type) {
	case Preimage:
		return "preimage"
	case Proof:
		return "proof"
	default:
		return "erased"
	}
}

// Unbound carries the Pedersen randomness until the transaction is bound.
type Unbound struct {
	Randomness blsfr.Element
}

// Bound carries the binding signature over the erased transaction.
type Bound struct {
	Signature crypto.Signature
}

// BindingStage is the binding-stage constraint.
type BindingStage interface {
	Unbound | Bound
}

// SignatureErased marks a component whose signatures were dropped.
type SignatureErased struct{}

// SignatureStage is the signature-stage constraint.
type SignatureStage interface {
	crypto.Signature | SignatureErased
}
