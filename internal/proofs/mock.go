package proofs

import (
	"context"
	"crypto/rand"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
)

// MockProofSize is the size of mock proofs, chosen close to a compressed
// BW6-761 Groth16 proof so fee estimates stay near the real ones.
const MockProofSize = 392

// MockProver produces random proofs of MockProofSize bytes without touching a backend.
type MockProver struct{}

func (MockProver) Check(ctx context.Context, preimage Preimage) ([]*fr.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, ierrors.WithMessagef(ErrProving, "%w", err)
	}
	out := make([]*fr.Element, len(preimage.Public))
	for i := range preimage.Public {
		v := preimage.Public[i]
		out[i] = &v
	}

	return out, nil
}

func (MockProver) Prove(ctx context.Context, _ Preimage, _ string, _ *fr.Element) (Proof, error) {
	if err := ctx.Err(); err != nil {
		return Proof{}, ierrors.WithMessagef(ErrProving, "%w", err)
	}

	return MockProof()
}

// MockProof returns a fresh random mock proof.
func MockProof() (Proof, error) {
	data := make([]byte, MockProofSize)
	if _, err := rand.Read(data); err != nil {
		return Proof{}, ierrors.WithMessagef(ErrProving, "%w", err)
	}

	return Proof{Data: data, Mock: true}, nil
}
