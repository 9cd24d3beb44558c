package proofs

import (
	"context"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
)

// Provider turns preimages into proofs. Implementations may be local or remote;
// callers must not assume anything about latency.
type Provider interface {
	// Check runs the circuit without proving and returns its public inputs.
	Check(ctx context.Context, preimage Preimage) ([]*fr.Element, error)
	// Prove proves preimage with the keys at keyLocation. A non-nil overwriteBindingInput
	// replaces the preimage's binding input.
	Prove(ctx context.Context, preimage Preimage, keyLocation string, overwriteBindingInput *fr.Element) (Proof, error)
}

// Verifier checks proofs against public inputs.
type Verifier interface {
	Verify(ctx context.Context, keyLocation string, public []fr.Element, proof Proof) error
}

// KeyMaterial is the prover key, verifier key and serialized constraint system of one circuit.
type KeyMaterial struct {
	ProverKey   []byte
	VerifierKey []byte
	IR          []byte
}

// KeyMaterialProvider resolves key locations to key material.
type KeyMaterialProvider interface {
	LookupKey(ctx context.Context, location string) (KeyMaterial, error)
	GetParams(ctx context.Context, k uint8) ([]byte, error)
}
