// circuits.go - Spend and output circuits of the shielded pool.
//
// The spend circuit proves knowledge of a coin in the commitment tree, the
// correct nullifier and the value commitment. The output circuit proves that a
// commitment and a value commitment describe the same coin. Both expose a
// binding input as their first public input.
//
// The token type base G_type is a witnessed point; the blinding base H is public.

package zswap

import (
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/sw_bls12377"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/proofs"
)

// TreeHeight is the height of the coin commitment tree.
const TreeHeight = 32

const (
	SpendLocation  = "zswap-spend"
	OutputLocation = "zswap-output"
)

// spend circuit input layout
const (
	spendPubBinding = iota
	spendPubRoot
	spendPubNullifier
	spendPubValueCommitmentX
	spendPubValueCommitmentY
	spendPubIsContract
	spendPubContract
	spendPubBlindingBaseX
	spendPubBlindingBaseY
	spendNumPublic
)

const (
	spendPrivNonce = iota
	spendPrivType
	spendPrivValue
	spendPrivSecret
	spendPrivRc
	spendPrivTypeBaseX
	spendPrivTypeBaseY
	spendPrivSiblings
	spendPrivDirections = spendPrivSiblings + TreeHeight
	spendNumPrivate     = spendPrivDirections + TreeHeight
)

// output circuit input layout
const (
	outputPubBinding = iota
	outputPubCommitment
	outputPubValueCommitmentX
	outputPubValueCommitmentY
	outputPubIsContract
	outputPubContract
	outputPubBlindingBaseX
	outputPubBlindingBaseY
	outputNumPublic
)

const (
	outputPrivNonce = iota
	outputPrivType
	outputPrivValue
	outputPrivRecipient
	outputPrivRc
	outputPrivTypeBaseX
	outputPrivTypeBaseY
	outputNumPrivate
)

// SpendCircuit proves the spend of one coin.
type SpendCircuit struct {
	Binding         frontend.Variable    `gnark:",public"`
	Root            frontend.Variable    `gnark:",public"`
	Nullifier       frontend.Variable    `gnark:",public"`
	ValueCommitment sw_bls12377.G1Affine `gnark:",public"`
	IsContract      frontend.Variable    `gnark:",public"`
	Contract        frontend.Variable    `gnark:",public"`
	BlindingBase    sw_bls12377.G1Affine `gnark:",public"`

	Nonce      frontend.Variable
	Type       frontend.Variable
	Value      frontend.Variable
	Secret     frontend.Variable
	Rc         frontend.Variable
	TypeBase   sw_bls12377.G1Affine
	Siblings   [TreeHeight]frontend.Variable
	Directions [TreeHeight]frontend.Variable
}

func (c *SpendCircuit) Define(api frontend.API) error {
	proofs.ConstrainBinding(api, c.Binding)
	api.AssertIsBoolean(c.IsContract)

	// Recipient: pk = H(sk) for user coins, the contract address otherwise
	pk := crypto.HashVariables(api, crypto.DomainCoinPublicKey, c.Secret)
	recipient := api.Select(c.IsContract, c.Contract, pk)
	cm := crypto.HashVariables(api, crypto.DomainCoinCommitment, c.Nonce, c.Type, c.Value, c.IsContract, recipient)

	// Membership
	cur := crypto.HashVariables(api, crypto.DomainMerkleLeaf, cm)
	for i := 0; i < TreeHeight; i++ {
		api.AssertIsBoolean(c.Directions[i])
		left := api.Select(c.Directions[i], c.Siblings[i], cur)
		right := api.Select(c.Directions[i], cur, c.Siblings[i])
		cur = crypto.HashVariables(api, crypto.DomainMerkleNode, left, right)
	}
	api.AssertIsEqual(cur, c.Root)

	// Nullifier
	evidence := api.Select(c.IsContract, c.Contract, c.Secret)
	nf := crypto.HashVariables(api, crypto.DomainCoinNullifier, cm, c.IsContract, evidence)
	api.AssertIsEqual(nf, c.Nullifier)

	assertValueCommitment(api, c.ValueCommitment, c.TypeBase, c.BlindingBase, c.Value, c.Rc)

	return nil
}

// OutputCircuit proves the creation of one coin.
type OutputCircuit struct {
	Binding         frontend.Variable    `gnark:",public"`
	Commitment      frontend.Variable    `gnark:",public"`
	ValueCommitment sw_bls12377.G1Affine `gnark:",public"`
	IsContract      frontend.Variable    `gnark:",public"`
	Contract        frontend.Variable    `gnark:",public"`
	BlindingBase    sw_bls12377.G1Affine `gnark:",public"`

	Nonce     frontend.Variable
	Type      frontend.Variable
	Value     frontend.Variable
	Recipient frontend.Variable
	Rc        frontend.Variable
	TypeBase  sw_bls12377.G1Affine
}

func (c *OutputCircuit) Define(api frontend.API) error {
	proofs.ConstrainBinding(api, c.Binding)
	api.AssertIsBoolean(c.IsContract)

	// a contract output must name the public contract as recipient
	recipient := api.Select(c.IsContract, c.Contract, c.Recipient)
	cm := crypto.HashVariables(api, crypto.DomainCoinCommitment, c.Nonce, c.Type, c.Value, c.IsContract, recipient)
	api.AssertIsEqual(cm, c.Commitment)

	assertValueCommitment(api, c.ValueCommitment, c.TypeBase, c.BlindingBase, c.Value, c.Rc)

	return nil
}

// assertValueCommitment checks vc = value*G_type + rc*H.
func assertValueCommitment(api frontend.API, vc, typeBase, blindingBase sw_bls12377.G1Affine, value, rc frontend.Variable) {
	valuePart := new(sw_bls12377.G1Affine)
	valuePart.ScalarMul(api, typeBase, value)
	blindPart := new(sw_bls12377.G1Affine)
	blindPart.ScalarMul(api, blindingBase, rc)
	valuePart.AddAssign(api, *blindPart)

	api.AssertIsEqual(vc.X, valuePart.X)
	api.AssertIsEqual(vc.Y, valuePart.Y)
}

func init() {
	for _, def := range []proofs.CircuitDefinition{
		{
			Location:   SpendLocation,
			NumPublic:  spendNumPublic,
			NumPrivate: spendNumPrivate,
			Circuit:    func() frontend.Circuit { return &SpendCircuit{} },
			Assign:     assignSpend,
		},
		{
			Location:   OutputLocation,
			NumPublic:  outputNumPublic,
			NumPrivate: outputNumPrivate,
			Circuit:    func() frontend.Circuit { return &OutputCircuit{} },
			Assign:     assignOutput,
		},
	} {
		if err := proofs.RegisterCircuit(def); err != nil {
			panic(err)
		}
	}
}

func point(x, y fr.Element) sw_bls12377.G1Affine {
	return sw_bls12377.G1Affine{X: proofs.Var(x), Y: proofs.Var(y)}
}

func assignSpend(pub, priv []fr.Element) frontend.Circuit {
	c := &SpendCircuit{
		Binding:         proofs.Var(pub[spendPubBinding]),
		Root:            proofs.Var(pub[spendPubRoot]),
		Nullifier:       proofs.Var(pub[spendPubNullifier]),
		ValueCommitment: point(pub[spendPubValueCommitmentX], pub[spendPubValueCommitmentY]),
		IsContract:      proofs.Var(pub[spendPubIsContract]),
		Contract:        proofs.Var(pub[spendPubContract]),
		BlindingBase:    point(pub[spendPubBlindingBaseX], pub[spendPubBlindingBaseY]),
		Nonce:           proofs.Var(priv[spendPrivNonce]),
		Type:            proofs.Var(priv[spendPrivType]),
		Value:           proofs.Var(priv[spendPrivValue]),
		Secret:          proofs.Var(priv[spendPrivSecret]),
		Rc:              proofs.Var(priv[spendPrivRc]),
		TypeBase:        point(priv[spendPrivTypeBaseX], priv[spendPrivTypeBaseY]),
	}
	for i := 0; i < TreeHeight; i++ {
		c.Siblings[i] = proofs.Var(priv[spendPrivSiblings+i])
		c.Directions[i] = proofs.Var(priv[spendPrivDirections+i])
	}

	return c
}

func assignOutput(pub, priv []fr.Element) frontend.Circuit {
	return &OutputCircuit{
		Binding:         proofs.Var(pub[outputPubBinding]),
		Commitment:      proofs.Var(pub[outputPubCommitment]),
		ValueCommitment: point(pub[outputPubValueCommitmentX], pub[outputPubValueCommitmentY]),
		IsContract:      proofs.Var(pub[outputPubIsContract]),
		Contract:        proofs.Var(pub[outputPubContract]),
		BlindingBase:    point(pub[outputPubBlindingBaseX], pub[outputPubBlindingBaseY]),
		Nonce:           proofs.Var(priv[outputPrivNonce]),
		Type:            proofs.Var(priv[outputPrivType]),
		Value:           proofs.Var(priv[outputPrivValue]),
		Recipient:       proofs.Var(priv[outputPrivRecipient]),
		Rc:              proofs.Var(priv[outputPrivRc]),
		TypeBase:        point(priv[outputPrivTypeBaseX], priv[outputPrivTypeBaseY]),
	}
}

// pointElements embeds a BLS12-377 point's coordinates into the BW6-761 scalar field.
func pointElements(p bls12377.G1Affine) (fr.Element, fr.Element) {
	xb := p.X.Bytes()
	yb := p.Y.Bytes()
	var x, y fr.Element
	x.SetBytes(xb[:])
	y.SetBytes(yb[:])

	return x, y
}

func scalarElement(s blsfr.Element) fr.Element {
	var e fr.Element
	e.SetBigInt(s.BigInt(new(big.Int)))

	return e
}

func elementScalar(e fr.Element) blsfr.Element {
	var s blsfr.Element
	s.SetBigInt(e.BigInt(new(big.Int)))

	return s
}

func contractElement(c *crypto.ContractAddress) fr.Element {
	if c == nil {
		return fr.Element{}
	}

	return c.Element()
}

func spendPublicInputs(binding, root fr.Element, nf Nullifier, vc crypto.ValueCommitment, contract *crypto.ContractAddress) []fr.Element {
	pub := make([]fr.Element, spendNumPublic)
	pub[spendPubBinding] = binding
	pub[spendPubRoot] = root
	pub[spendPubNullifier] = nf.Element()
	pub[spendPubValueCommitmentX], pub[spendPubValueCommitmentY] = pointElements(vc.Point())
	pub[spendPubIsContract] = flag(contract != nil)
	pub[spendPubContract] = contractElement(contract)
	pub[spendPubBlindingBaseX], pub[spendPubBlindingBaseY] = pointElements(crypto.BlindingBase())

	return pub
}

func outputPublicInputs(binding fr.Element, cm Commitment, vc crypto.ValueCommitment, contract *crypto.ContractAddress) []fr.Element {
	pub := make([]fr.Element, outputNumPublic)
	pub[outputPubBinding] = binding
	pub[outputPubCommitment] = cm.Element()
	pub[outputPubValueCommitmentX], pub[outputPubValueCommitmentY] = pointElements(vc.Point())
	pub[outputPubIsContract] = flag(contract != nil)
	pub[outputPubContract] = contractElement(contract)
	pub[outputPubBlindingBaseX], pub[outputPubBlindingBaseY] = pointElements(crypto.BlindingBase())

	return pub
}
