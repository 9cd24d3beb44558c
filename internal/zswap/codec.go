// codec.go - Binary encoding of offers and chain state.

package zswap

import (
	"io"
	"math/big"

	"github.com/benbjohnson/immutable"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/stream"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/merkle"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
)

const ChainStateTag = "zswap-chain-state"

func init() {
	for _, stage := range []string{"preimage", "proof", "erased"} {
		proof := proofTagOf(stage)
		serialize.Register(serialize.Decomposition{Tag: "zswap-input/" + stage, Version: 1,
			Children: []string{"nullifier", "value-commitment", "option<contract-address>", "merkle-root", proof}})
		serialize.Register(serialize.Decomposition{Tag: "zswap-output/" + stage, Version: 1,
			Children: []string{"commitment", "value-commitment", "option<contract-address>", "option<ciphertext>", proof}})
		serialize.Register(serialize.Decomposition{Tag: "zswap-transient/" + stage, Version: 1,
			Children: []string{"nullifier", "commitment", "option<contract-address>", "value-commitment", "value-commitment", "option<ciphertext>", proof, proof}})
		serialize.Register(serialize.Decomposition{Tag: "zswap-offer/" + stage, Version: 1,
			Children: []string{"set<zswap-input/" + stage + ">", "set<zswap-output/" + stage + ">", "set<zswap-transient/" + stage + ">", "map<token-type,signed-value>"}})
	}
	serialize.Register(serialize.Decomposition{Tag: ChainStateTag, Version: 1,
		Children: []string{"merkle-tree", "map<commitment,u64>", "set<nullifier>", "root-history"}})
}

func proofTagOf(stage string) string {
	if stage == "proof" {
		return "proof"
	}

	return "proof-" + stage
}

func (in Input[P]) Tag() string {
	return "zswap-input/" + proofs.StageName[P]()
}

func (out Output[P]) Tag() string {
	return "zswap-output/" + proofs.StageName[P]()
}

func (tr Transient[P]) Tag() string {
	return "zswap-transient/" + proofs.StageName[P]()
}

func (o Offer[P]) Tag() string {
	return "zswap-offer/" + proofs.StageName[P]()
}

func writeContract(w io.WriteSeeker, c *crypto.ContractAddress) error {
	return serialize.WriteOptional(w, c != nil, func() error { return stream.Write(w, *c) })
}

func readContract(r io.ReadSeeker) (*crypto.ContractAddress, error) {
	var out *crypto.ContractAddress
	_, err := serialize.ReadOptional(r, func() error {
		c, err := stream.Read[crypto.ContractAddress](r)
		if err != nil {
			return err
		}
		out = &c

		return nil
	})

	return out, err
}

func writeCiphertext(w io.WriteSeeker, ct *crypto.Ciphertext) error {
	return serialize.WriteOptional(w, ct != nil, func() error { return ct.Serialize(w) })
}

func readCiphertext(r io.ReadSeeker) (*crypto.Ciphertext, error) {
	var out *crypto.Ciphertext
	_, err := serialize.ReadOptional(r, func() error {
		ct, err := crypto.ReadCiphertext(r)
		if err != nil {
			return err
		}
		out = &ct

		return nil
	})

	return out, err
}

func (in Input[P]) Serialize(w io.WriteSeeker) error {
	if err := serialize.WriteElement(w, in.Nullifier.Element()); err != nil {
		return ierrors.Wrap(err, "failed to write nullifier")
	}
	if err := in.ValueCommitment.Serialize(w); err != nil {
		return err
	}
	if err := writeContract(w, in.Contract); err != nil {
		return err
	}
	if err := serialize.WriteElement(w, in.MerkleRoot); err != nil {
		return ierrors.Wrap(err, "failed to write merkle root")
	}

	return proofs.WriteStage(w, in.Proof)
}

func ReadInput[P proofs.Stage](r io.ReadSeeker) (Input[P], error) {
	var in Input[P]
	nf, err := serialize.ReadElement(r)
	if err != nil {
		return in, ierrors.Wrap(err, "failed to read nullifier")
	}
	in.Nullifier = Nullifier(nf)
	if in.ValueCommitment, err = crypto.ReadValueCommitment(r); err != nil {
		return in, err
	}
	if in.Contract, err = readContract(r); err != nil {
		return in, ierrors.Wrap(err, "failed to read contract")
	}
	if in.MerkleRoot, err = serialize.ReadElement(r); err != nil {
		return in, ierrors.Wrap(err, "failed to read merkle root")
	}
	in.Proof, err = proofs.ReadStage[P](r)

	return in, err
}

func (out Output[P]) Serialize(w io.WriteSeeker) error {
	if err := serialize.WriteElement(w, out.Commitment.Element()); err != nil {
		return ierrors.Wrap(err, "failed to write commitment")
	}
	if err := out.ValueCommitment.Serialize(w); err != nil {
		return err
	}
	if err := writeContract(w, out.Contract); err != nil {
		return err
	}
	if err := writeCiphertext(w, out.Ciphertext); err != nil {
		return err
	}

	return proofs.WriteStage(w, out.Proof)
}

func ReadOutput[P proofs.Stage](r io.ReadSeeker) (Output[P], error) {
	var out Output[P]
	cm, err := serialize.ReadElement(r)
	if err != nil {
		return out, ierrors.Wrap(err, "failed to read commitment")
	}
	out.Commitment = Commitment(cm)
	if out.ValueCommitment, err = crypto.ReadValueCommitment(r); err != nil {
		return out, err
	}
	if out.Contract, err = readContract(r); err != nil {
		return out, ierrors.Wrap(err, "failed to read contract")
	}
	if out.Ciphertext, err = readCiphertext(r); err != nil {
		return out, err
	}
	out.Proof, err = proofs.ReadStage[P](r)

	return out, err
}

func (tr Transient[P]) Serialize(w io.WriteSeeker) error {
	if err := serialize.WriteElement(w, tr.Nullifier.Element()); err != nil {
		return ierrors.Wrap(err, "failed to write nullifier")
	}
	if err := serialize.WriteElement(w, tr.Commitment.Element()); err != nil {
		return ierrors.Wrap(err, "failed to write commitment")
	}
	if err := writeContract(w, tr.Contract); err != nil {
		return err
	}
	if err := tr.InputValueCommitment.Serialize(w); err != nil {
		return err
	}
	if err := tr.OutputValueCommitment.Serialize(w); err != nil {
		return err
	}
	if err := writeCiphertext(w, tr.Ciphertext); err != nil {
		return err
	}
	if err := proofs.WriteStage(w, tr.InputProof); err != nil {
		return err
	}

	return proofs.WriteStage(w, tr.OutputProof)
}

func ReadTransient[P proofs.Stage](r io.ReadSeeker) (Transient[P], error) {
	var tr Transient[P]
	nf, err := serialize.ReadElement(r)
	if err != nil {
		return tr, ierrors.Wrap(err, "failed to read nullifier")
	}
	tr.Nullifier = Nullifier(nf)
	cm, err := serialize.ReadElement(r)
	if err != nil {
		return tr, ierrors.Wrap(err, "failed to read commitment")
	}
	tr.Commitment = Commitment(cm)
	if tr.Contract, err = readContract(r); err != nil {
		return tr, ierrors.Wrap(err, "failed to read contract")
	}
	if tr.InputValueCommitment, err = crypto.ReadValueCommitment(r); err != nil {
		return tr, err
	}
	if tr.OutputValueCommitment, err = crypto.ReadValueCommitment(r); err != nil {
		return tr, err
	}
	if tr.Ciphertext, err = readCiphertext(r); err != nil {
		return tr, err
	}
	if tr.InputProof, err = proofs.ReadStage[P](r); err != nil {
		return tr, err
	}
	tr.OutputProof, err = proofs.ReadStage[P](r)

	return tr, err
}

type delta struct {
	Type  crypto.TokenType
	Value *big.Int
}

func compareDeltas(a, b delta) int {
	for i := range a.Type {
		if a.Type[i] != b.Type[i] {
			return int(a.Type[i]) - int(b.Type[i])
		}
	}

	return 0
}

// Serialize writes the offer in canonical form: sets sorted, zero deltas dropped.
func (o Offer[P]) Serialize(w io.WriteSeeker) error {
	if err := serialize.WriteSet(w, o.Inputs, func(a, b Input[P]) int { return compareNullifiers(a.Nullifier, b.Nullifier) },
		func(in Input[P]) error { return in.Serialize(w) }); err != nil {
		return ierrors.Wrap(err, "failed to write inputs")
	}
	if err := serialize.WriteSet(w, o.Outputs, func(a, b Output[P]) int { return compareCommitments(a.Commitment, b.Commitment) },
		func(out Output[P]) error { return out.Serialize(w) }); err != nil {
		return ierrors.Wrap(err, "failed to write outputs")
	}
	if err := serialize.WriteSet(w, o.Transients, func(a, b Transient[P]) int { return compareNullifiers(a.Nullifier, b.Nullifier) },
		func(tr Transient[P]) error { return tr.Serialize(w) }); err != nil {
		return ierrors.Wrap(err, "failed to write transients")
	}

	deltas := make([]delta, 0, len(o.Deltas))
	for t, v := range o.Deltas {
		if v.Sign() != 0 {
			deltas = append(deltas, delta{Type: t, Value: v})
		}
	}

	return serialize.WriteSet(w, deltas, compareDeltas, func(d delta) error {
		if err := stream.Write(w, d.Type); err != nil {
			return err
		}

		return serialize.WriteSignedValue(w, d.Value)
	})
}

// ReadOffer decodes an offer and returns it in canonical form.
func ReadOffer[P proofs.Stage](r io.ReadSeeker) (Offer[P], error) {
	var o Offer[P]
	var err error
	if o.Inputs, err = serialize.ReadSet(r, func(a, b Input[P]) int { return compareNullifiers(a.Nullifier, b.Nullifier) },
		func() (Input[P], error) { return ReadInput[P](r) }); err != nil {
		return o, ierrors.Wrap(err, "failed to read inputs")
	}
	if o.Outputs, err = serialize.ReadSet(r, func(a, b Output[P]) int { return compareCommitments(a.Commitment, b.Commitment) },
		func() (Output[P], error) { return ReadOutput[P](r) }); err != nil {
		return o, ierrors.Wrap(err, "failed to read outputs")
	}
	if o.Transients, err = serialize.ReadSet(r, func(a, b Transient[P]) int { return compareNullifiers(a.Nullifier, b.Nullifier) },
		func() (Transient[P], error) { return ReadTransient[P](r) }); err != nil {
		return o, ierrors.Wrap(err, "failed to read transients")
	}

	deltas, err := serialize.ReadSet(r, compareDeltas, func() (delta, error) {
		var d delta
		var err error
		if d.Type, err = stream.Read[crypto.TokenType](r); err != nil {
			return d, err
		}
		d.Value, err = serialize.ReadSignedValue(r)

		return d, err
	})
	if err != nil {
		return o, ierrors.Wrap(err, "failed to read deltas")
	}
	o.Deltas = make(map[crypto.TokenType]*big.Int, len(deltas))
	for _, d := range deltas {
		if d.Value.Sign() != 0 {
			o.Deltas[d.Type] = d.Value
		}
	}

	return o, nil
}

func (s ChainState) Tag() string {
	return ChainStateTag
}

type indexedCommitment struct {
	Commitment Commitment
	Index      uint64
}

func (s ChainState) Serialize(w io.WriteSeeker) error {
	if err := s.tree.Serialize(w, serialize.WriteElement); err != nil {
		return ierrors.Wrap(err, "failed to write commitment tree")
	}

	commitments := make([]indexedCommitment, 0, s.commitments.Len())
	itr := s.commitments.Iterator()
	for !itr.Done() {
		cm, index, _ := itr.Next()
		commitments = append(commitments, indexedCommitment{Commitment: cm, Index: index})
	}
	if err := serialize.WriteSet(w, commitments, func(a, b indexedCommitment) int { return compareCommitments(a.Commitment, b.Commitment) },
		func(c indexedCommitment) error {
			if err := serialize.WriteElement(w, c.Commitment.Element()); err != nil {
				return err
			}

			return stream.Write(w, c.Index)
		}); err != nil {
		return ierrors.Wrap(err, "failed to write commitments")
	}

	if err := serialize.WriteSet(w, s.Nullifiers(), compareNullifiers, func(nf Nullifier) error {
		return serialize.WriteElement(w, nf.Element())
	}); err != nil {
		return ierrors.Wrap(err, "failed to write nullifiers")
	}

	return s.history.Serialize(w, serialize.WriteElement)
}

func ReadChainState(r io.ReadSeeker) (ChainState, error) {
	var s ChainState
	var err error
	if s.tree, err = merkle.ReadTree[fr.Element](r, merkle.MiMCHasher{}, serialize.ReadElement); err != nil {
		return s, err
	}

	commitments, err := serialize.ReadSet(r, func(a, b indexedCommitment) int { return compareCommitments(a.Commitment, b.Commitment) },
		func() (indexedCommitment, error) {
			var c indexedCommitment
			e, err := serialize.ReadElement(r)
			if err != nil {
				return c, err
			}
			c.Commitment = Commitment(e)
			c.Index, err = stream.Read[uint64](r)

			return c, err
		})
	if err != nil {
		return s, ierrors.Wrap(err, "failed to read commitments")
	}
	s.commitments = immutable.NewSortedMap[Commitment, uint64](fieldComparer[Commitment]{})
	for _, c := range commitments {
		if c.Index >= s.tree.FirstFree() {
			return s, ierrors.Wrapf(merkle.ErrIndexOutOfRange, "commitment index %d", c.Index)
		}
		s.commitments = s.commitments.Set(c.Commitment, c.Index)
	}

	nullifiers, err := serialize.ReadSet(r, compareNullifiers, func() (Nullifier, error) {
		e, err := serialize.ReadElement(r)

		return Nullifier(e), err
	})
	if err != nil {
		return s, ierrors.Wrap(err, "failed to read nullifiers")
	}
	s.nullifiers = immutable.NewSortedMap[Nullifier, struct{}](fieldComparer[Nullifier]{})
	for _, nf := range nullifiers {
		s.nullifiers = s.nullifiers.Set(nf, struct{}{})
	}

	s.history, err = merkle.ReadRootHistory[fr.Element](r, serialize.ReadElement)

	return s, err
}
