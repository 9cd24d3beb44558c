// spend.go - Dust spends and their proof-stage transitions.

package dust

import (
	"context"
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/proofs"
)

// Spend consumes one Dust output to pay VFee and creates its change output.
// Time is the declared spend time and becomes the change output's Ctime.
type Spend[P proofs.Stage] struct {
	VFee          uint64
	OldNullifier  Nullifier
	NewCommitment Commitment
	MerkleRoot    fr.Element
	Time          time.Time
	Proof         P
}

func (s Spend[P]) String() string {
	return fmt.Sprintf("DustSpend{fee: %d, nullifier: %s, commitment: %s, proof: %s}",
		s.VFee, s.OldNullifier, s.NewCommitment, proofs.StageName[P]())
}

func withProof[Q, P proofs.Stage](s Spend[P], proof Q) Spend[Q] {
	return Spend[Q]{
		VFee:          s.VFee,
		OldNullifier:  s.OldNullifier,
		NewCommitment: s.NewCommitment,
		MerkleRoot:    s.MerkleRoot,
		Time:          s.Time,
		Proof:         proof,
	}
}

// ProveSpend proves s for the given segment; the binding input of the preimage is overwritten.
func ProveSpend(ctx context.Context, s Spend[proofs.Preimage], segment uint16, provider proofs.Provider) (Spend[proofs.Proof], error) {
	binding := proofs.SegmentBindingInput(segment)
	proof, err := provider.Prove(ctx, s.Proof, SpendLocation, &binding)
	if err != nil {
		if ierrors.Is(err, proofs.ErrProving) {
			return Spend[proofs.Proof]{}, err
		}

		return Spend[proofs.Proof]{}, ierrors.WithMessagef(proofs.ErrProving, "%s: %w", SpendLocation, err)
	}

	return withProof(s, proof), nil
}

func MockProveSpend(s Spend[proofs.Preimage]) (Spend[proofs.Proof], error) {
	return ProveSpend(context.Background(), s, 0, proofs.MockProver{})
}

func EraseSpend[P proofs.Stage](s Spend[P]) Spend[proofs.Erased] {
	return withProof(s, proofs.Erased{})
}

// VerifySpend checks the proof of s against the public inputs of the segment.
func VerifySpend(ctx context.Context, s Spend[proofs.Proof], segment uint16, verifier proofs.Verifier) error {
	public := spendPublicInputs(proofs.SegmentBindingInput(segment), s.MerkleRoot, s.OldNullifier, s.NewCommitment, s.VFee, s.Time)

	return verifier.Verify(ctx, SpendLocation, public, s.Proof)
}
