// offer.go - Inputs, outputs, transients and offers.
//
// Components are generic over the proof stage. Components in the Preimage stage
// carry the full witness, including the Pedersen randomness rc of their value
// commitment; later stages carry only public data and, for Proof, the proof.

package zswap

import (
	"fmt"
	"maps"
	"math/big"
	"slices"
	"strings"

	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/merkle"
	"ledgerengine/internal/proofs"
)

// Input spends a coin.
type Input[P proofs.Stage] struct {
	Nullifier       Nullifier
	ValueCommitment crypto.ValueCommitment
	Contract        *crypto.ContractAddress
	MerkleRoot      fr.Element
	Proof           P
}

// Output creates a coin. Ciphertext is set for user recipients that supplied an encryption key.
type Output[P proofs.Stage] struct {
	Commitment      Commitment
	ValueCommitment crypto.ValueCommitment
	Contract        *crypto.ContractAddress
	Ciphertext      *crypto.Ciphertext
	Proof           P
}

// Transient is a coin created and spent within the same offer.
type Transient[P proofs.Stage] struct {
	Nullifier             Nullifier
	Commitment            Commitment
	Contract              *crypto.ContractAddress
	InputValueCommitment  crypto.ValueCommitment
	OutputValueCommitment crypto.ValueCommitment
	Ciphertext            *crypto.Ciphertext
	InputProof            P
	OutputProof           P
}

// Offer is a set of shielded components with their net value per token type.
// Deltas are (sum of inputs) - (sum of outputs); zero entries are omitted.
type Offer[P proofs.Stage] struct {
	Inputs     []Input[P]
	Outputs    []Output[P]
	Transients []Transient[P]
	Deltas     map[crypto.TokenType]*big.Int
}

// NewInput builds an unproven input spending coin out of tree.
func NewInput(coin QualifiedCoinInfo, sender Sender, tree *merkle.Tree[fr.Element], segment uint16) (Input[proofs.Preimage], error) {
	if !sender.valid() {
		return Input[proofs.Preimage]{}, ErrInvalidSender
	}
	if sender.IsContract() && coin.Value.Sign() == 0 {
		return Input[proofs.Preimage]{}, ErrZeroValueContractInput
	}

	cm, err := coin.Commitment(sender.Recipient())
	if err != nil {
		return Input[proofs.Preimage]{}, err
	}
	path, err := tree.Path(coin.MtIndex)
	if err != nil {
		return Input[proofs.Preimage]{}, ierrors.Wrap(ErrCoinNotInTree, err.Error())
	}
	if path.Leaf != tree.Hasher().Leaf(cm.Element()) {
		return Input[proofs.Preimage]{}, ErrCoinNotInTree
	}

	return buildInput(coin.CoinInfo, cm, sender, path, tree.Root(), segment)
}

func buildInput(coin CoinInfo, cm Commitment, sender Sender, path merkle.Path[fr.Element], root fr.Element, segment uint16) (Input[proofs.Preimage], error) {
	value, err := crypto.EncodeValue(coin.Value)
	if err != nil {
		return Input[proofs.Preimage]{}, err
	}
	rc, err := crypto.RandomScalar()
	if err != nil {
		return Input[proofs.Preimage]{}, err
	}

	nf := nullifierOf(cm, sender)
	vc := crypto.CommitValue(coin.Type, coin.Value, rc)

	priv := make([]fr.Element, spendNumPrivate)
	priv[spendPrivNonce] = coin.Nonce
	priv[spendPrivType] = coin.Type.Element()
	priv[spendPrivValue] = value
	if sender.Secret != nil {
		priv[spendPrivSecret] = sender.Secret.Element()
	}
	priv[spendPrivRc] = scalarElement(rc)
	priv[spendPrivTypeBaseX], priv[spendPrivTypeBaseY] = pointElements(crypto.ValueBase(coin.Type))
	for i, dir := range path.Directions() {
		priv[spendPrivSiblings+i] = path.Siblings[i]
		priv[spendPrivDirections+i] = crypto.ElementFromUint64(dir)
	}

	return Input[proofs.Preimage]{
		Nullifier:       nf,
		ValueCommitment: vc,
		Contract:        sender.Contract,
		MerkleRoot:      root,
		Proof: proofs.Preimage{
			KeyLocation: SpendLocation,
			Public:      spendPublicInputs(proofs.SegmentBindingInput(segment), root, nf, vc, sender.Contract),
			Private:     priv,
		},
	}, nil
}

// NewOutput builds an unproven output of coin to recipient. For user recipients a
// non-nil encryptionKey gets the coin details encrypted to it.
func NewOutput(coin CoinInfo, recipient Recipient, encryptionKey *crypto.EncryptionPublicKey, segment uint16) (Output[proofs.Preimage], error) {
	if (recipient.User == nil) == (recipient.Contract == nil) {
		return Output[proofs.Preimage]{}, ErrInvalidRecipient
	}
	cm, err := coin.Commitment(recipient)
	if err != nil {
		return Output[proofs.Preimage]{}, err
	}
	value, err := crypto.EncodeValue(coin.Value)
	if err != nil {
		return Output[proofs.Preimage]{}, err
	}
	rc, err := crypto.RandomScalar()
	if err != nil {
		return Output[proofs.Preimage]{}, err
	}
	vc := crypto.CommitValue(coin.Type, coin.Value, rc)

	var ct *crypto.Ciphertext
	if encryptionKey != nil && recipient.User != nil {
		sealed, err := crypto.Seal(*encryptionKey, notePlaintext(coin, value, *recipient.User))
		if err != nil {
			return Output[proofs.Preimage]{}, err
		}
		ct = &sealed
	}

	priv := make([]fr.Element, outputNumPrivate)
	priv[outputPrivNonce] = coin.Nonce
	priv[outputPrivType] = coin.Type.Element()
	priv[outputPrivValue] = value
	priv[outputPrivRecipient] = recipient.element()
	priv[outputPrivRc] = scalarElement(rc)
	priv[outputPrivTypeBaseX], priv[outputPrivTypeBaseY] = pointElements(crypto.ValueBase(coin.Type))

	return Output[proofs.Preimage]{
		Commitment:      cm,
		ValueCommitment: vc,
		Contract:        recipient.Contract,
		Ciphertext:      ct,
		Proof: proofs.Preimage{
			KeyLocation: OutputLocation,
			Public:      outputPublicInputs(proofs.SegmentBindingInput(segment), cm, vc, recipient.Contract),
			Private:     priv,
		},
	}, nil
}

// NewTransient spends output within the same offer. The output must commit to coin.
func NewTransient(coin QualifiedCoinInfo, sender Sender, output Output[proofs.Preimage], segment uint16) (Transient[proofs.Preimage], error) {
	if !sender.valid() {
		return Transient[proofs.Preimage]{}, ErrInvalidSender
	}
	if sender.IsContract() && coin.Value.Sign() == 0 {
		return Transient[proofs.Preimage]{}, ErrZeroValueContractInput
	}
	cm, err := coin.Commitment(sender.Recipient())
	if err != nil {
		return Transient[proofs.Preimage]{}, err
	}
	if cm != output.Commitment {
		return Transient[proofs.Preimage]{}, ErrTransientMismatch
	}

	tree, err := singleLeafTree(cm)
	if err != nil {
		return Transient[proofs.Preimage]{}, err
	}
	path, err := tree.Path(0)
	if err != nil {
		return Transient[proofs.Preimage]{}, err
	}
	in, err := buildInput(coin.CoinInfo, cm, sender, path, tree.Root(), segment)
	if err != nil {
		return Transient[proofs.Preimage]{}, err
	}

	return Transient[proofs.Preimage]{
		Nullifier:             in.Nullifier,
		Commitment:            cm,
		Contract:              output.Contract,
		InputValueCommitment:  in.ValueCommitment,
		OutputValueCommitment: output.ValueCommitment,
		Ciphertext:            output.Ciphertext,
		InputProof:            in.Proof,
		OutputProof:           output.Proof,
	}, nil
}

// singleLeafTree is the tree a transient's input proves membership against.
func singleLeafTree(cm Commitment) (*merkle.Tree[fr.Element], error) {
	return merkle.New[fr.Element](merkle.MiMCHasher{}, TreeHeight).Append(cm.Element())
}

func notePlaintext(coin CoinInfo, value fr.Element, owner crypto.CoinPublicKey) []fr.Element {
	return []fr.Element{coin.Nonce, coin.Type.Element(), value, owner.Element()}
}

// FromInput wraps a single input into an offer with delta +value.
func FromInput[P proofs.Stage](in Input[P], t crypto.TokenType, value *big.Int) Offer[P] {
	return Offer[P]{Inputs: []Input[P]{in}, Deltas: deltaOf(t, value)}
}

// FromOutput wraps a single output into an offer with delta -value.
func FromOutput[P proofs.Stage](out Output[P], t crypto.TokenType, value *big.Int) Offer[P] {
	return Offer[P]{Outputs: []Output[P]{out}, Deltas: deltaOf(t, new(big.Int).Neg(value))}
}

// FromTransient wraps a transient; it does not change the offer's balance.
func FromTransient[P proofs.Stage](tr Transient[P]) Offer[P] {
	return Offer[P]{Transients: []Transient[P]{tr}, Deltas: map[crypto.TokenType]*big.Int{}}
}

func deltaOf(t crypto.TokenType, value *big.Int) map[crypto.TokenType]*big.Int {
	if value.Sign() == 0 {
		return map[crypto.TokenType]*big.Int{}
	}

	return map[crypto.TokenType]*big.Int{t: new(big.Int).Set(value)}
}

// Nullifiers lists the nullifiers of inputs and transients.
func (o Offer[P]) Nullifiers() []Nullifier {
	out := make([]Nullifier, 0, len(o.Inputs)+len(o.Transients))
	for _, in := range o.Inputs {
		out = append(out, in.Nullifier)
	}
	for _, tr := range o.Transients {
		out = append(out, tr.Nullifier)
	}

	return out
}

// Commitments lists the commitments of outputs and transients.
func (o Offer[P]) Commitments() []Commitment {
	out := make([]Commitment, 0, len(o.Outputs)+len(o.Transients))
	for _, output := range o.Outputs {
		out = append(out, output.Commitment)
	}
	for _, tr := range o.Transients {
		out = append(out, tr.Commitment)
	}

	return out
}

// Merge combines two offers. They must not share a nullifier or a commitment.
func Merge[P proofs.Stage](a, b Offer[P]) (Offer[P], error) {
	nullifiers := make(map[Nullifier]struct{})
	for _, nf := range a.Nullifiers() {
		nullifiers[nf] = struct{}{}
	}
	for _, nf := range b.Nullifiers() {
		if _, dup := nullifiers[nf]; dup {
			return Offer[P]{}, ierrors.Wrap(ErrNonDisjoint, "shared nullifier")
		}
	}
	commitments := make(map[Commitment]struct{})
	for _, cm := range a.Commitments() {
		commitments[cm] = struct{}{}
	}
	for _, cm := range b.Commitments() {
		if _, dup := commitments[cm]; dup {
			return Offer[P]{}, ierrors.Wrap(ErrNonDisjoint, "shared commitment")
		}
	}

	merged := Offer[P]{
		Inputs:     append(slices.Clone(a.Inputs), b.Inputs...),
		Outputs:    append(slices.Clone(a.Outputs), b.Outputs...),
		Transients: append(slices.Clone(a.Transients), b.Transients...),
		Deltas:     make(map[crypto.TokenType]*big.Int),
	}
	for _, deltas := range []map[crypto.TokenType]*big.Int{a.Deltas, b.Deltas} {
		for t, v := range deltas {
			sum := new(big.Int).Set(v)
			if prev, ok := merged.Deltas[t]; ok {
				sum.Add(sum, prev)
			}
			merged.Deltas[t] = sum
		}
	}
	for t, v := range merged.Deltas {
		if v.Sign() == 0 {
			delete(merged.Deltas, t)
		}
	}

	return merged.Normalize(), nil
}

// Normalize sorts components into canonical order.
func (o Offer[P]) Normalize() Offer[P] {
	out := Offer[P]{
		Inputs:     slices.Clone(o.Inputs),
		Outputs:    slices.Clone(o.Outputs),
		Transients: slices.Clone(o.Transients),
		Deltas:     maps.Clone(o.Deltas),
	}
	slices.SortFunc(out.Inputs, func(a, b Input[P]) int { return compareNullifiers(a.Nullifier, b.Nullifier) })
	slices.SortFunc(out.Outputs, func(a, b Output[P]) int { return compareCommitments(a.Commitment, b.Commitment) })
	slices.SortFunc(out.Transients, func(a, b Transient[P]) int { return compareNullifiers(a.Nullifier, b.Nullifier) })
	if out.Deltas == nil {
		out.Deltas = map[crypto.TokenType]*big.Int{}
	}

	return out
}

// IsEmpty reports whether the offer has no components.
func (o Offer[P]) IsEmpty() bool {
	return len(o.Inputs) == 0 && len(o.Outputs) == 0 && len(o.Transients) == 0
}

// Identifier is a unique handle of an offer component.
type Identifier struct {
	Kind  string
	Value fr.Element
}

// Identifiers returns one handle per input, output and transient.
func (o Offer[P]) Identifiers() []Identifier {
	ids := make([]Identifier, 0, len(o.Inputs)+len(o.Outputs)+len(o.Transients))
	for _, in := range o.Inputs {
		ids = append(ids, Identifier{Kind: "input", Value: in.Nullifier.Element()})
	}
	for _, out := range o.Outputs {
		ids = append(ids, Identifier{Kind: "output", Value: out.Commitment.Element()})
	}
	for _, tr := range o.Transients {
		ids = append(ids, Identifier{Kind: "transient", Value: tr.Nullifier.Element()})
	}

	return ids
}

// ValueCommitment returns sum(vc_in) - sum(vc_out) over all components.
func (o Offer[P]) ValueCommitment() crypto.ValueCommitment {
	sum := crypto.CommitBlinding(blsfr.Element{})
	for _, in := range o.Inputs {
		sum = sum.Add(in.ValueCommitment)
	}
	for _, out := range o.Outputs {
		sum = sum.Sub(out.ValueCommitment)
	}
	for _, tr := range o.Transients {
		sum = sum.Add(tr.InputValueCommitment).Sub(tr.OutputValueCommitment)
	}

	return sum
}

// BindingRandomness returns sum(rc_in) - sum(rc_out) of an unproven offer.
func BindingRandomness(o Offer[proofs.Preimage]) (blsfr.Element, error) {
	var total blsfr.Element
	add := func(pre proofs.Preimage, idx int, negate bool) error {
		if len(pre.Private) <= idx {
			return ErrMalformedPreimage
		}
		rc := elementScalar(pre.Private[idx])
		if negate {
			total.Sub(&total, &rc)
		} else {
			total.Add(&total, &rc)
		}

		return nil
	}
	for _, in := range o.Inputs {
		if err := add(in.Proof, spendPrivRc, false); err != nil {
			return total, err
		}
	}
	for _, out := range o.Outputs {
		if err := add(out.Proof, outputPrivRc, true); err != nil {
			return total, err
		}
	}
	for _, tr := range o.Transients {
		if err := add(tr.InputProof, spendPrivRc, false); err != nil {
			return total, err
		}
		if err := add(tr.OutputProof, outputPrivRc, true); err != nil {
			return total, err
		}
	}

	return total, nil
}

func (in Input[P]) String() string {
	return fmt.Sprintf("Input{nullifier: %s, value_commitment: %s, contract: %s, root: %s, proof: %s}",
		in.Nullifier, in.ValueCommitment, contractString(in.Contract), hexElement(in.MerkleRoot), proofs.StageName[P]())
}

func (out Output[P]) String() string {
	ct := "none"
	if out.Ciphertext != nil {
		ct = fmt.Sprintf("%d fields", len(out.Ciphertext.Fields))
	}

	return fmt.Sprintf("Output{commitment: %s, value_commitment: %s, contract: %s, ciphertext: %s, proof: %s}",
		out.Commitment, out.ValueCommitment, contractString(out.Contract), ct, proofs.StageName[P]())
}

func (tr Transient[P]) String() string {
	return fmt.Sprintf("Transient{nullifier: %s, commitment: %s, contract: %s, proof: %s}",
		tr.Nullifier, tr.Commitment, contractString(tr.Contract), proofs.StageName[P]())
}

func (o Offer[P]) String() string {
	var b strings.Builder
	b.WriteString("Offer{")
	for _, in := range o.Inputs {
		b.WriteString(in.String())
		b.WriteString(" ")
	}
	for _, out := range o.Outputs {
		b.WriteString(out.String())
		b.WriteString(" ")
	}
	for _, tr := range o.Transients {
		b.WriteString(tr.String())
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "deltas: %d token types}", len(o.Deltas))

	return b.String()
}

func contractString(c *crypto.ContractAddress) string {
	if c == nil {
		return "-"
	}

	return c.String()
}
