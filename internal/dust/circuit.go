// circuit.go - Dust spend circuit.
//
// The circuit proves ownership and membership of the spent output, the nullifier
// and that the change output commits to value - fee. The time-dependent value
// itself is evaluated by the wallet; the circuit only requires fee <= value.

package dust

import (
	"time"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/consensys/gnark/frontend"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/proofs"
)

// TreeHeight is the height of the Dust commitment tree.
const TreeHeight = 32

const SpendLocation = "dust-spend"

const (
	pubBinding = iota
	pubRoot
	pubNullifier
	pubNewCommitment
	pubFee
	pubTime
	numPublic
)

const (
	privSecret = iota
	privInitialValue
	privNonce
	privSeq
	privCtime
	privBackingNight
	privValue
	privNewNonce
	privSiblings
	privDirections = privSiblings + TreeHeight
	numPrivate     = privDirections + TreeHeight
)

// SpendCircuit proves a Dust spend.
type SpendCircuit struct {
	Binding       frontend.Variable `gnark:",public"`
	Root          frontend.Variable `gnark:",public"`
	Nullifier     frontend.Variable `gnark:",public"`
	NewCommitment frontend.Variable `gnark:",public"`
	Fee           frontend.Variable `gnark:",public"`
	Time          frontend.Variable `gnark:",public"`

	Secret       frontend.Variable
	InitialValue frontend.Variable
	Nonce        frontend.Variable
	Seq          frontend.Variable
	Ctime        frontend.Variable
	BackingNight frontend.Variable
	Value        frontend.Variable
	NewNonce     frontend.Variable
	Siblings     [TreeHeight]frontend.Variable
	Directions   [TreeHeight]frontend.Variable
}

func (c *SpendCircuit) Define(api frontend.API) error {
	proofs.ConstrainBinding(api, c.Binding)
	owner := crypto.HashVariables(api, crypto.DomainDustPublicKey, c.Secret)
	cm := crypto.HashVariables(api, crypto.DomainDustCommitment, c.InitialValue, owner, c.Nonce, c.Seq, c.Ctime, c.BackingNight)

	cur := crypto.HashVariables(api, crypto.DomainMerkleLeaf, cm)
	for i := 0; i < TreeHeight; i++ {
		api.AssertIsBoolean(c.Directions[i])
		left := api.Select(c.Directions[i], c.Siblings[i], cur)
		right := api.Select(c.Directions[i], cur, c.Siblings[i])
		cur = crypto.HashVariables(api, crypto.DomainMerkleNode, left, right)
	}
	api.AssertIsEqual(cur, c.Root)

	nf := crypto.HashVariables(api, crypto.DomainDustNullifier, cm, c.Secret)
	api.AssertIsEqual(nf, c.Nullifier)

	// value - fee must fit in 64 bits, i.e. fee <= value
	change := api.Sub(c.Value, c.Fee)
	api.ToBinary(change, 64)

	next := crypto.HashVariables(api, crypto.DomainDustCommitment, change, owner, c.NewNonce, api.Add(c.Seq, 1), c.Time, c.BackingNight)
	api.AssertIsEqual(next, c.NewCommitment)

	return nil
}

func init() {
	if err := proofs.RegisterCircuit(proofs.CircuitDefinition{
		Location:   SpendLocation,
		NumPublic:  numPublic,
		NumPrivate: numPrivate,
		Circuit:    func() frontend.Circuit { return &SpendCircuit{} },
		Assign:     assignSpend,
	}); err != nil {
		panic(err)
	}
}

func assignSpend(pub, priv []fr.Element) frontend.Circuit {
	c := &SpendCircuit{
		Binding:       proofs.Var(pub[pubBinding]),
		Root:          proofs.Var(pub[pubRoot]),
		Nullifier:     proofs.Var(pub[pubNullifier]),
		NewCommitment: proofs.Var(pub[pubNewCommitment]),
		Fee:           proofs.Var(pub[pubFee]),
		Time:          proofs.Var(pub[pubTime]),
		Secret:        proofs.Var(priv[privSecret]),
		InitialValue:  proofs.Var(priv[privInitialValue]),
		Nonce:         proofs.Var(priv[privNonce]),
		Seq:           proofs.Var(priv[privSeq]),
		Ctime:         proofs.Var(priv[privCtime]),
		BackingNight:  proofs.Var(priv[privBackingNight]),
		Value:         proofs.Var(priv[privValue]),
		NewNonce:      proofs.Var(priv[privNewNonce]),
	}
	for i := 0; i < TreeHeight; i++ {
		c.Siblings[i] = proofs.Var(priv[privSiblings+i])
		c.Directions[i] = proofs.Var(priv[privDirections+i])
	}

	return c
}

func spendPublicInputs(binding, root fr.Element, nf Nullifier, next Commitment, fee uint64, t time.Time) []fr.Element {
	pub := make([]fr.Element, numPublic)
	pub[pubBinding] = binding
	pub[pubRoot] = root
	pub[pubNullifier] = nf.Element()
	pub[pubNewCommitment] = next.Element()
	pub[pubFee] = crypto.ElementFromUint64(fee)
	pub[pubTime] = timeElement(t)

	return pub
}
