// unshielded.go - Public UTXO offers and the unshielded output set.

package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/iotaledger/hive.go/core/safemath"
	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/dust"
	"ledgerengine/internal/proofs"
)

// UtxoOutput creates a public output.
type UtxoOutput struct {
	Owner crypto.UserAddress
	Type  crypto.TokenType
	Value uint64
}

// UtxoSpend consumes the public output Source. Owner must hash to the output's owner address.
type UtxoSpend struct {
	Source crypto.UtxoID
	Owner  crypto.VerifyingKey
	Type   crypto.TokenType
	Value  uint64
}

// UnshieldedOffer spends and creates public outputs. Signatures[i] authorizes
// Inputs[i] once the offer is signed; inputs are kept sorted by Source.
type UnshieldedOffer[S proofs.SignatureStage] struct {
	Inputs     []UtxoSpend
	Outputs    []UtxoOutput
	Signatures []S
}

func compareSpends(a, b UtxoSpend) int {
	return bytes.Compare(a.Source[:], b.Source[:])
}

// NewUnshieldedOffer returns an unsigned offer with its inputs in canonical order.
func NewUnshieldedOffer(inputs []UtxoSpend, outputs []UtxoOutput) *UnshieldedOffer[proofs.SignatureErased] {
	sorted := slices.Clone(inputs)
	slices.SortFunc(sorted, compareSpends)

	return &UnshieldedOffer[proofs.SignatureErased]{
		Inputs:     sorted,
		Outputs:    slices.Clone(outputs),
		Signatures: make([]proofs.SignatureErased, len(sorted)),
	}
}

// Deltas returns inputs minus outputs per token type.
func (o *UnshieldedOffer[S]) Deltas() map[crypto.TokenType]*big.Int {
	deltas := make(map[crypto.TokenType]*big.Int)
	if o == nil {
		return deltas
	}
	add := func(t crypto.TokenType, v *big.Int) {
		if cur, ok := deltas[t]; ok {
			cur.Add(cur, v)
		} else {
			deltas[t] = new(big.Int).Set(v)
		}
	}
	for _, in := range o.Inputs {
		add(in.Type, new(big.Int).SetUint64(in.Value))
	}
	for _, out := range o.Outputs {
		add(out.Type, new(big.Int).Neg(new(big.Int).SetUint64(out.Value)))
	}

	return deltas
}

func (o *UnshieldedOffer[S]) String() string {
	if o == nil {
		return "UnshieldedOffer(nil)"
	}

	return fmt.Sprintf("UnshieldedOffer{inputs: %d, outputs: %d}", len(o.Inputs), len(o.Outputs))
}

func eraseUnshieldedSignatures[S proofs.SignatureStage](o *UnshieldedOffer[S]) *UnshieldedOffer[proofs.SignatureErased] {
	if o == nil {
		return nil
	}

	return &UnshieldedOffer[proofs.SignatureErased]{
		Inputs:     o.Inputs,
		Outputs:    o.Outputs,
		Signatures: make([]proofs.SignatureErased, len(o.Inputs)),
	}
}

func signUnshielded(o *UnshieldedOffer[proofs.SignatureErased], msg []byte, keys map[crypto.UserAddress]crypto.SigningKey) (*UnshieldedOffer[crypto.Signature], error) {
	if o == nil {
		return nil, nil
	}

	sigs := make([]crypto.Signature, len(o.Inputs))
	for i, in := range o.Inputs {
		key, ok := keys[in.Owner.Address()]
		if !ok {
			return nil, ierrors.Wrapf(ErrMissingSigningKey, "owner %s", in.Owner.Address())
		}
		sig, err := key.Sign(msg)
		if err != nil {
			return nil, err
		}
		sigs[i] = sig
	}

	return &UnshieldedOffer[crypto.Signature]{Inputs: o.Inputs, Outputs: o.Outputs, Signatures: sigs}, nil
}

func verifyUnshielded(o *UnshieldedOffer[crypto.Signature], msg []byte) error {
	if o == nil {
		return nil
	}
	if len(o.Signatures) != len(o.Inputs) {
		return ierrors.Wrapf(ErrSignatureCount, "%d inputs, %d signatures", len(o.Inputs), len(o.Signatures))
	}
	for i, in := range o.Inputs {
		if !in.Owner.Verify(msg, o.Signatures[i]) {
			return ierrors.Wrapf(ErrInvalidSignature, "unshielded input %s", in.Source)
		}
	}

	return nil
}

// Utxo is an unspent public output.
type Utxo struct {
	Owner crypto.UserAddress
	Type  crypto.TokenType
	Value uint64
	Ctime time.Time
}

type utxoComparer struct{}

func (utxoComparer) Compare(a, b crypto.UtxoID) int {
	return bytes.Compare(a[:], b[:])
}

// UnshieldedState is the set of unspent public outputs.
type UnshieldedState struct {
	utxos *immutable.SortedMap[crypto.UtxoID, Utxo]
}

func NewUnshieldedState() UnshieldedState {
	return UnshieldedState{utxos: immutable.NewSortedMap[crypto.UtxoID, Utxo](utxoComparer{})}
}

func (u UnshieldedState) Get(id crypto.UtxoID) (Utxo, bool) {
	return u.utxos.Get(id)
}

func (u UnshieldedState) Len() int {
	return u.utxos.Len()
}

// Balance sums the outputs of owner of token type t.
func (u UnshieldedState) Balance(owner crypto.UserAddress, t crypto.TokenType) (uint64, error) {
	var total uint64
	var err error
	for itr := u.utxos.Iterator(); !itr.Done(); {
		_, utxo, _ := itr.Next()
		if utxo.Owner != owner || utxo.Type != t {
			continue
		}
		if total, err = safemath.SafeAdd(total, utxo.Value); err != nil {
			return 0, ierrors.Wrap(ErrArithmeticOverflow, "unshielded balance")
		}
	}

	return total, nil
}

// Owned returns the ids of the outputs of owner in ascending order.
func (u UnshieldedState) Owned(owner crypto.UserAddress) []crypto.UtxoID {
	var out []crypto.UtxoID
	for itr := u.utxos.Iterator(); !itr.Done(); {
		id, utxo, _ := itr.Next()
		if utxo.Owner == owner {
			out = append(out, id)
		}
	}

	return out
}

// UtxoIDFor names output index of the intent with the given hash.
func UtxoIDFor(intentHash [32]byte, segment uint16, index uint32) crypto.UtxoID {
	var buf [6]byte
	binary.BigEndian.PutUint16(buf[:2], segment)
	binary.BigEndian.PutUint32(buf[2:], index)

	return crypto.UtxoID(crypto.Blake2b([]byte("ledger:utxo-id"), intentHash[:], buf[:]))
}

// apply spends and creates the outputs of o. Night outputs start or
// stop Dust generation in ds.
func (u UnshieldedState) apply(o *UnshieldedOffer[proofs.SignatureErased], intentHash [32]byte, segment uint16, firstIndex uint32, t time.Time, ds dust.State) (UnshieldedState, dust.State, []dust.Event, error) {
	if o == nil {
		return u, ds, nil, nil
	}

	next, nextDust := u, ds
	var events []dust.Event
	for _, in := range o.Inputs {
		utxo, ok := next.utxos.Get(in.Source)
		if !ok {
			return u, ds, nil, ierrors.Wrapf(ErrUnknownUtxo, "%s", in.Source)
		}
		if utxo.Owner != in.Owner.Address() || utxo.Type != in.Type || utxo.Value != in.Value {
			return u, ds, nil, ierrors.Wrapf(ErrUtxoMismatch, "%s", in.Source)
		}
		next.utxos = next.utxos.Delete(in.Source)

		if in.Type == crypto.NightToken {
			var evs []dust.Event
			var err error
			if nextDust, evs, err = nextDust.OnNightSpent(in.Source, t); err != nil {
				return u, ds, nil, err
			}
			events = append(events, evs...)
		}
	}

	for i, out := range o.Outputs {
		id := UtxoIDFor(intentHash, segment, firstIndex+uint32(i))
		var err error
		if next, nextDust, events, err = next.create(id, out, t, nextDust, events); err != nil {
			return u, ds, nil, err
		}
	}

	return next, nextDust, events, nil
}

func (u UnshieldedState) create(id crypto.UtxoID, out UtxoOutput, t time.Time, ds dust.State, events []dust.Event) (UnshieldedState, dust.State, []dust.Event, error) {
	if _, exists := u.utxos.Get(id); exists {
		return u, ds, events, ierrors.Wrapf(ErrDuplicateUtxo, "%s", id)
	}
	u.utxos = u.utxos.Set(id, Utxo{Owner: out.Owner, Type: out.Type, Value: out.Value, Ctime: t})

	if out.Type == crypto.NightToken {
		next, evs, err := ds.OnNightCreated(out.Owner, id, out.Value, t)
		if err != nil {
			return u, ds, events, err
		}
		ds = next
		events = append(events, evs...)
	}

	return u, ds, events, nil
}
