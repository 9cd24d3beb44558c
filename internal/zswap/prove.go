// prove.go - Proof-stage transitions of offers.

package zswap

import (
	"context"
	"maps"

	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"golang.org/x/sync/errgroup"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/proofs"
)

// DefaultProvingParallelism bounds concurrent proofs per offer.
const DefaultProvingParallelism = 4

// ProveOffer proves every component of o with provider. The input offer is not modified.
func ProveOffer(ctx context.Context, o Offer[proofs.Preimage], provider proofs.Provider) (Offer[proofs.Proof], error) {
	out := Offer[proofs.Proof]{
		Inputs:     make([]Input[proofs.Proof], len(o.Inputs)),
		Outputs:    make([]Output[proofs.Proof], len(o.Outputs)),
		Transients: make([]Transient[proofs.Proof], len(o.Transients)),
		Deltas:     maps.Clone(o.Deltas),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultProvingParallelism)
	prove := func(pre proofs.Preimage, dst *proofs.Proof) {
		g.Go(func() error {
			proof, err := provider.Prove(gctx, pre, pre.KeyLocation, nil)
			if err != nil {
				if ierrors.Is(err, proofs.ErrProving) {
					return err
				}

				return ierrors.WithMessagef(proofs.ErrProving, "%s: %w", pre.KeyLocation, err)
			}
			*dst = proof

			return nil
		})
	}

	for i, in := range o.Inputs {
		out.Inputs[i] = Input[proofs.Proof]{Nullifier: in.Nullifier, ValueCommitment: in.ValueCommitment, Contract: in.Contract, MerkleRoot: in.MerkleRoot}
		prove(in.Proof, &out.Inputs[i].Proof)
	}
	for i, o := range o.Outputs {
		out.Outputs[i] = Output[proofs.Proof]{Commitment: o.Commitment, ValueCommitment: o.ValueCommitment, Contract: o.Contract, Ciphertext: o.Ciphertext}
		prove(o.Proof, &out.Outputs[i].Proof)
	}
	for i, tr := range o.Transients {
		out.Transients[i] = transientWithProofs[proofs.Proof](tr, proofs.Proof{}, proofs.Proof{})
		prove(tr.InputProof, &out.Transients[i].InputProof)
		prove(tr.OutputProof, &out.Transients[i].OutputProof)
	}

	if err := g.Wait(); err != nil {
		return Offer[proofs.Proof]{}, err
	}

	return out, nil
}

// MockProveOffer replaces every preimage by a mock proof, for fee estimation.
func MockProveOffer(o Offer[proofs.Preimage]) (Offer[proofs.Proof], error) {
	return ProveOffer(context.Background(), o, proofs.MockProver{})
}

// EraseOffer drops all proofs.
func EraseOffer[P proofs.Stage](o Offer[P]) Offer[proofs.Erased] {
	out := Offer[proofs.Erased]{
		Inputs:     make([]Input[proofs.Erased], len(o.Inputs)),
		Outputs:    make([]Output[proofs.Erased], len(o.Outputs)),
		Transients: make([]Transient[proofs.Erased], len(o.Transients)),
		Deltas:     maps.Clone(o.Deltas),
	}
	for i, in := range o.Inputs {
		out.Inputs[i] = EraseInput(in)
	}
	for i, o := range o.Outputs {
		out.Outputs[i] = EraseOutput(o)
	}
	for i, tr := range o.Transients {
		out.Transients[i] = transientWithProofs(tr, proofs.Erased{}, proofs.Erased{})
	}

	return out
}

func EraseInput[P proofs.Stage](in Input[P]) Input[proofs.Erased] {
	return Input[proofs.Erased]{Nullifier: in.Nullifier, ValueCommitment: in.ValueCommitment, Contract: in.Contract, MerkleRoot: in.MerkleRoot}
}

func EraseOutput[P proofs.Stage](out Output[P]) Output[proofs.Erased] {
	return Output[proofs.Erased]{Commitment: out.Commitment, ValueCommitment: out.ValueCommitment, Contract: out.Contract, Ciphertext: out.Ciphertext}
}

func transientWithProofs[Q, P proofs.Stage](tr Transient[P], in, out Q) Transient[Q] {
	return Transient[Q]{
		Nullifier:             tr.Nullifier,
		Commitment:            tr.Commitment,
		Contract:              tr.Contract,
		InputValueCommitment:  tr.InputValueCommitment,
		OutputValueCommitment: tr.OutputValueCommitment,
		Ciphertext:            tr.Ciphertext,
		InputProof:            in,
		OutputProof:           out,
	}
}

// VerifyOffer checks every proof of o against the segment's binding input.
func VerifyOffer(ctx context.Context, o Offer[proofs.Proof], segment uint16, verifier proofs.Verifier) error {
	binding := proofs.SegmentBindingInput(segment)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultProvingParallelism)
	verify := func(location string, public []fr.Element, proof proofs.Proof) {
		g.Go(func() error {
			return verifier.Verify(gctx, location, public, proof)
		})
	}

	for _, in := range o.Inputs {
		verify(SpendLocation, spendPublicInputs(binding, in.MerkleRoot, in.Nullifier, in.ValueCommitment, in.Contract), in.Proof)
	}
	for _, out := range o.Outputs {
		verify(OutputLocation, outputPublicInputs(binding, out.Commitment, out.ValueCommitment, out.Contract), out.Proof)
	}
	for _, tr := range o.Transients {
		tree, err := singleLeafTree(tr.Commitment)
		if err != nil {
			return err
		}
		verify(SpendLocation, spendPublicInputs(binding, tree.Root(), tr.Nullifier, tr.InputValueCommitment, tr.Contract), tr.InputProof)
		verify(OutputLocation, outputPublicInputs(binding, tr.Commitment, tr.OutputValueCommitment, tr.Contract), tr.OutputProof)
	}

	return g.Wait()
}

// CheckOffer dry-runs every preimage of o with provider.
func CheckOffer(ctx context.Context, o Offer[proofs.Preimage], provider proofs.Provider) error {
	preimages := make([]proofs.Preimage, 0, len(o.Inputs)+len(o.Outputs)+2*len(o.Transients))
	for _, in := range o.Inputs {
		preimages = append(preimages, in.Proof)
	}
	for _, out := range o.Outputs {
		preimages = append(preimages, out.Proof)
	}
	for _, tr := range o.Transients {
		preimages = append(preimages, tr.InputProof, tr.OutputProof)
	}
	for _, pre := range preimages {
		if _, err := provider.Check(ctx, pre); err != nil {
			return err
		}
	}

	return nil
}

// BalanceCommitment is the commitment the binding signature must open:
// sum(vc_in) - sum(vc_out) - sum(delta_t * G_t), which equals rc*H for a balanced offer.
func BalanceCommitment[P proofs.Stage](o Offer[P]) crypto.ValueCommitment {
	vc := o.ValueCommitment()
	for t, delta := range o.Deltas {
		vc = vc.Sub(crypto.CommitValue(t, delta, blsfr.Element{}))
	}

	return vc
}
