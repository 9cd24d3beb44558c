// transaction.go - Segmented transactions, binding and merging.
//
// Segment 0 is the guaranteed segment and carries the guaranteed offer. Every
// other segment id names one fallible offer and/or one intent. The binding
// signature is keyed by the sum of the Pedersen randomness of every shielded
// component and every intent, and signs the transaction with proofs and
// signatures erased.

package ledger

import (
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
	"ledgerengine/internal/zswap"
)

// GuaranteedSegment is the id of the segment that must succeed.
const GuaranteedSegment uint16 = 0

// Transaction is generic over the signature, proof and binding stage.
type Transaction[S proofs.SignatureStage, P proofs.Stage, B proofs.BindingStage] struct {
	Network    serialize.NetworkID
	Guaranteed *zswap.Offer[P]
	Fallible   map[uint16]*zswap.Offer[P]
	Intents    map[uint16]*Intent[S, P]
	Binding    B
}

func checkSegments[S proofs.SignatureStage, P proofs.Stage](fallible map[uint16]*zswap.Offer[P], intents map[uint16]*Intent[S, P]) error {
	for id := range fallible {
		if id == GuaranteedSegment {
			return ierrors.Wrap(ErrInvalidSegment, "fallible offer in the guaranteed segment")
		}
	}
	for id, intent := range intents {
		if id == GuaranteedSegment {
			return ierrors.Wrap(ErrInvalidSegment, "intent in the guaranteed segment")
		}
		if intent == nil {
			return ierrors.Wrapf(ErrMalformedTransaction, "nil intent at segment %d", id)
		}
		if len(intent.Actions) > MaxActionsPerIntent {
			return ierrors.Wrapf(ErrTooManyActions, "segment %d", id)
		}
		for _, a := range intent.Actions {
			if !a.valid() {
				return ierrors.Wrapf(ErrInvalidAction, "segment %d", id)
			}
		}
	}

	return nil
}

func bindingRandomness[S proofs.SignatureStage](guaranteed *zswap.Offer[proofs.Preimage], fallible map[uint16]*zswap.Offer[proofs.Preimage], intents map[uint16]*Intent[S, proofs.Preimage]) (blsfr.Element, error) {
	var total blsfr.Element
	for _, o := range append([]*zswap.Offer[proofs.Preimage]{guaranteed}, slices.Collect(maps.Values(fallible))...) {
		if o == nil {
			continue
		}
		rc, err := zswap.BindingRandomness(*o)
		if err != nil {
			return total, err
		}
		total.Add(&total, &rc)
	}
	for id, i := range intents {
		rc, err := i.BindingRandomness()
		if err != nil {
			return total, ierrors.Wrapf(err, "segment %d", id)
		}
		total.Add(&total, &rc)
	}

	return total, nil
}

// NewTransaction assembles an unbound transaction from unproven parts.
func NewTransaction[S proofs.SignatureStage](network serialize.NetworkID, guaranteed *zswap.Offer[proofs.Preimage], fallible map[uint16]*zswap.Offer[proofs.Preimage], intents map[uint16]*Intent[S, proofs.Preimage]) (Transaction[S, proofs.Preimage, proofs.Unbound], error) {
	var tx Transaction[S, proofs.Preimage, proofs.Unbound]
	if !network.Valid() {
		return tx, serialize.ErrUnknownNetwork
	}
	if err := checkSegments(fallible, intents); err != nil {
		return tx, err
	}
	rc, err := bindingRandomness(guaranteed, fallible, intents)
	if err != nil {
		return tx, err
	}

	return Transaction[S, proofs.Preimage, proofs.Unbound]{
		Network:    network,
		Guaranteed: guaranteed,
		Fallible:   maps.Clone(fallible),
		Intents:    maps.Clone(intents),
		Binding:    proofs.Unbound{Randomness: rc},
	}, nil
}

// Segments returns the fallible segment ids in ascending order.
func (tx Transaction[S, P, B]) Segments() []uint16 {
	ids := make(map[uint16]struct{}, len(tx.Fallible)+len(tx.Intents))
	for id := range tx.Fallible {
		ids[id] = struct{}{}
	}
	for id := range tx.Intents {
		ids[id] = struct{}{}
	}

	return slices.Sorted(maps.Keys(ids))
}

// offers returns every shielded offer with its segment id, guaranteed first.
func (tx Transaction[S, P, B]) offers() ([]uint16, []zswap.Offer[P]) {
	var ids []uint16
	var out []zswap.Offer[P]
	if tx.Guaranteed != nil {
		ids = append(ids, GuaranteedSegment)
		out = append(out, *tx.Guaranteed)
	}
	for _, id := range slices.Sorted(maps.Keys(tx.Fallible)) {
		if o := tx.Fallible[id]; o != nil {
			ids = append(ids, id)
			out = append(out, *o)
		}
	}

	return ids, out
}

// BalanceCommitment is the verifying key of the binding signature.
func (tx Transaction[S, P, B]) BalanceCommitment() crypto.ValueCommitment {
	total := crypto.CommitBlinding(blsfr.Element{})
	_, offers := tx.offers()
	for _, o := range offers {
		total = total.Add(zswap.BalanceCommitment(o))
	}
	for _, id := range slices.Sorted(maps.Keys(tx.Intents)) {
		if i := tx.Intents[id]; i != nil {
			total = total.Add(i.BindingCommitment)
		}
	}

	return total
}

func mapTransaction[S, T proofs.SignatureStage, P, Q proofs.Stage, B, C proofs.BindingStage](tx Transaction[S, P, B], offer func(uint16, zswap.Offer[P]) (zswap.Offer[Q], error), intent func(uint16, *Intent[S, P]) (*Intent[T, Q], error), binding C) (Transaction[T, Q, C], error) {
	out := Transaction[T, Q, C]{Network: tx.Network, Binding: binding}
	if tx.Guaranteed != nil {
		o, err := offer(GuaranteedSegment, *tx.Guaranteed)
		if err != nil {
			return out, err
		}
		out.Guaranteed = &o
	}
	if tx.Fallible != nil {
		out.Fallible = make(map[uint16]*zswap.Offer[Q], len(tx.Fallible))
		for id, f := range tx.Fallible {
			if f == nil {
				continue
			}
			o, err := offer(id, *f)
			if err != nil {
				return out, err
			}
			out.Fallible[id] = &o
		}
	}
	if tx.Intents != nil {
		out.Intents = make(map[uint16]*Intent[T, Q], len(tx.Intents))
		for id, i := range tx.Intents {
			mapped, err := intent(id, i)
			if err != nil {
				return out, err
			}
			out.Intents[id] = mapped
		}
	}

	return out, nil
}

func erasedBody[S proofs.SignatureStage, P proofs.Stage, B proofs.BindingStage](tx Transaction[S, P, B]) Transaction[proofs.SignatureErased, proofs.Erased, proofs.Unbound] {
	out, _ := mapTransaction(tx,
		func(_ uint16, o zswap.Offer[P]) (zswap.Offer[proofs.Erased], error) { return zswap.EraseOffer(o), nil },
		func(_ uint16, i *Intent[S, P]) (*Intent[proofs.SignatureErased, proofs.Erased], error) {
			return eraseIntentProofs(eraseIntentSignatures(i)), nil
		},
		proofs.Unbound{})

	return out
}

// BindingMessage is the message the binding signature signs.
func BindingMessage[S proofs.SignatureStage, P proofs.Stage, B proofs.BindingStage](tx Transaction[S, P, B]) ([]byte, error) {
	body, err := encode(func(w io.WriteSeeker) error { return writeTransactionBody(w, erasedBody(tx)) })
	if err != nil {
		return nil, err
	}
	digest := crypto.Blake2b([]byte("ledger:binding"), []byte{byte(tx.Network)}, body)

	return digest[:], nil
}

// Bind signs the transaction with its binding randomness. The result is final.
func Bind[S proofs.SignatureStage, P proofs.Stage](tx Transaction[S, P, proofs.Unbound]) (Transaction[S, P, proofs.Bound], error) {
	msg, err := BindingMessage(tx)
	if err != nil {
		return Transaction[S, P, proofs.Bound]{}, err
	}
	sig, err := crypto.SignBinding(tx.Binding.Randomness, msg)
	if err != nil {
		return Transaction[S, P, proofs.Bound]{}, err
	}

	return Transaction[S, P, proofs.Bound]{
		Network:    tx.Network,
		Guaranteed: tx.Guaranteed,
		Fallible:   tx.Fallible,
		Intents:    tx.Intents,
		Binding:    proofs.Bound{Signature: sig},
	}, nil
}

// VerifyBinding checks the binding signature of tx.
func VerifyBinding[S proofs.SignatureStage, P proofs.Stage](tx Transaction[S, P, proofs.Bound]) error {
	msg, err := BindingMessage(tx)
	if err != nil {
		return err
	}
	if !crypto.VerifyBinding(tx.BalanceCommitment(), msg, tx.Binding.Signature) {
		return ErrInvalidBinding
	}

	return nil
}

func mergeOffers[P proofs.Stage](a, b *zswap.Offer[P]) (*zswap.Offer[P], error) {
	switch {
	case a == nil:
		return b, nil
	case b == nil:
		return a, nil
	}
	merged, err := zswap.Merge(*a, *b)
	if err != nil {
		return nil, err
	}

	return &merged, nil
}

// Merge combines two unbound transactions. Their offers must be disjoint and
// their intents must sit in different segments.
func Merge[S proofs.SignatureStage, P proofs.Stage](a, b Transaction[S, P, proofs.Unbound]) (Transaction[S, P, proofs.Unbound], error) {
	var out Transaction[S, P, proofs.Unbound]
	if a.Network != b.Network {
		return out, ierrors.Wrapf(ErrNetworkMismatch, "%s and %s", a.Network, b.Network)
	}

	guaranteed, err := mergeOffers(a.Guaranteed, b.Guaranteed)
	if err != nil {
		return out, ierrors.Wrap(err, "guaranteed offers")
	}
	fallible := maps.Clone(a.Fallible)
	if fallible == nil {
		fallible = make(map[uint16]*zswap.Offer[P])
	}
	for id, o := range b.Fallible {
		if fallible[id], err = mergeOffers(fallible[id], o); err != nil {
			return out, ierrors.Wrapf(err, "fallible offers of segment %d", id)
		}
	}
	intents := maps.Clone(a.Intents)
	if intents == nil {
		intents = make(map[uint16]*Intent[S, P])
	}
	for id, i := range b.Intents {
		if _, taken := intents[id]; taken {
			return out, ierrors.Wrapf(zswap.ErrNonDisjoint, "both transactions carry an intent at segment %d", id)
		}
		intents[id] = i
	}

	var rc blsfr.Element
	rc.Add(&a.Binding.Randomness, &b.Binding.Randomness)

	return Transaction[S, P, proofs.Unbound]{
		Network:    a.Network,
		Guaranteed: guaranteed,
		Fallible:   fallible,
		Intents:    intents,
		Binding:    proofs.Unbound{Randomness: rc},
	}, nil
}

// Identifier is a unique handle of a transaction component.
type Identifier struct {
	Kind  string
	Value string
}

func (id Identifier) String() string {
	return id.Kind + ":" + id.Value
}

// Identifiers returns one handle per shielded component, intent, unshielded
// input and Dust spend.
func (tx Transaction[S, P, B]) Identifiers() ([]Identifier, error) {
	var ids []Identifier
	_, offers := tx.offers()
	for _, o := range offers {
		for _, id := range o.Identifiers() {
			b := id.Value.Bytes()
			ids = append(ids, Identifier{Kind: id.Kind, Value: hex.EncodeToString(b[:])})
		}
	}
	for _, segment := range slices.Sorted(maps.Keys(tx.Intents)) {
		intent := tx.Intents[segment]
		hash, err := intent.Hash(segment)
		if err != nil {
			return nil, err
		}
		ids = append(ids, Identifier{Kind: "intent", Value: hex.EncodeToString(hash[:])})
		for _, o := range []*UnshieldedOffer[S]{intent.GuaranteedUnshielded, intent.FallibleUnshielded} {
			if o == nil {
				continue
			}
			for _, in := range o.Inputs {
				ids = append(ids, Identifier{Kind: "utxo-spend", Value: in.Source.String()})
			}
		}
		if intent.Dust != nil {
			for _, s := range intent.Dust.Spends {
				ids = append(ids, Identifier{Kind: "dust-spend", Value: s.OldNullifier.String()})
			}
		}
	}

	return ids, nil
}

func checkUniqueIdentifiers(ids []Identifier) error {
	seen := make(map[Identifier]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return ierrors.Wrapf(ErrDuplicateIdentifier, "%s", id)
		}
		seen[id] = struct{}{}
	}

	return nil
}

func (tx Transaction[S, P, B]) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transaction[%s, %s, %s]{network: %s", signatureStageName[S](), proofs.StageName[P](), bindingStageName[B](), tx.Network)
	if tx.Guaranteed != nil {
		fmt.Fprintf(&b, ", guaranteed: %s", tx.Guaranteed)
	}
	for _, id := range tx.Segments() {
		fmt.Fprintf(&b, ", segment %d: {", id)
		if o := tx.Fallible[id]; o != nil {
			fmt.Fprintf(&b, "offer: %s", o)
		}
		if i := tx.Intents[id]; i != nil {
			fmt.Fprintf(&b, " intent: %s", i)
		}
		b.WriteString("}")
	}
	b.WriteString("}")

	return b.String()
}

// SignTransaction signs every intent at its segment.
func SignTransaction[P proofs.Stage, B proofs.BindingStage](tx Transaction[proofs.SignatureErased, P, B], keys ...crypto.SigningKey) (Transaction[crypto.Signature, P, B], error) {
	return mapTransaction(tx,
		func(_ uint16, o zswap.Offer[P]) (zswap.Offer[P], error) { return o, nil },
		func(segment uint16, i *Intent[proofs.SignatureErased, P]) (*Intent[crypto.Signature, P], error) {
			return SignIntent(i, segment, keys...)
		},
		tx.Binding)
}

// EraseSignatures drops every signature except the binding signature.
func EraseSignatures[S proofs.SignatureStage, P proofs.Stage, B proofs.BindingStage](tx Transaction[S, P, B]) Transaction[proofs.SignatureErased, P, B] {
	out, _ := mapTransaction(tx,
		func(_ uint16, o zswap.Offer[P]) (zswap.Offer[P], error) { return o, nil },
		func(_ uint16, i *Intent[S, P]) (*Intent[proofs.SignatureErased, P], error) {
			return eraseIntentSignatures(i), nil
		},
		tx.Binding)

	return out
}

// EraseProofs drops every proof.
func EraseProofs[S proofs.SignatureStage, P proofs.Stage, B proofs.BindingStage](tx Transaction[S, P, B]) Transaction[S, proofs.Erased, B] {
	out, _ := mapTransaction(tx,
		func(_ uint16, o zswap.Offer[P]) (zswap.Offer[proofs.Erased], error) { return zswap.EraseOffer(o), nil },
		func(_ uint16, i *Intent[S, P]) (*Intent[S, proofs.Erased], error) { return eraseIntentProofs(i), nil },
		tx.Binding)

	return out
}

// AnyTransaction holds an unsigned, unproven transaction whose binding stage
// is only known at run time. Setters fail once it is bound.
type AnyTransaction struct {
	unbound *Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Unbound]
	bound   *Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Bound]
}

func NewAnyTransaction(network serialize.NetworkID) (*AnyTransaction, error) {
	tx, err := NewTransaction[proofs.SignatureErased](network, nil, nil, nil)
	if err != nil {
		return nil, err
	}

	return &AnyTransaction{unbound: &tx}, nil
}

func (a *AnyTransaction) IsBound() bool {
	return a.bound != nil
}

func (a *AnyTransaction) mutate(f func(tx *Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Unbound]) error) error {
	if a.IsBound() {
		return ErrAlreadyBound
	}
	next := *a.unbound
	next.Fallible = maps.Clone(next.Fallible)
	next.Intents = maps.Clone(next.Intents)
	if next.Fallible == nil {
		next.Fallible = make(map[uint16]*zswap.Offer[proofs.Preimage])
	}
	if next.Intents == nil {
		next.Intents = make(map[uint16]*Intent[proofs.SignatureErased, proofs.Preimage])
	}
	if err := f(&next); err != nil {
		return err
	}
	if err := checkSegments(next.Fallible, next.Intents); err != nil {
		return err
	}
	rc, err := bindingRandomness(next.Guaranteed, next.Fallible, next.Intents)
	if err != nil {
		return err
	}
	next.Binding = proofs.Unbound{Randomness: rc}
	a.unbound = &next

	return nil
}

func (a *AnyTransaction) SetGuaranteedOffer(o *zswap.Offer[proofs.Preimage]) error {
	return a.mutate(func(tx *Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Unbound]) error {
		tx.Guaranteed = o

		return nil
	})
}

func (a *AnyTransaction) SetFallibleOffer(segment uint16, o *zswap.Offer[proofs.Preimage]) error {
	return a.mutate(func(tx *Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Unbound]) error {
		if o == nil {
			delete(tx.Fallible, segment)
		} else {
			tx.Fallible[segment] = o
		}

		return nil
	})
}

func (a *AnyTransaction) SetIntent(segment uint16, i *Intent[proofs.SignatureErased, proofs.Preimage]) error {
	return a.mutate(func(tx *Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Unbound]) error {
		if i == nil {
			delete(tx.Intents, segment)
		} else {
			tx.Intents[segment] = cloneIntent(i)
		}

		return nil
	})
}

// AddAction appends a contract action to the intent at segment, creating it if needed.
func (a *AnyTransaction) AddAction(segment uint16, action ContractAction[proofs.SignatureErased]) error {
	return a.mutate(func(tx *Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Unbound]) error {
		if segment == GuaranteedSegment {
			return ierrors.Wrap(ErrInvalidSegment, "intent in the guaranteed segment")
		}
		intent := cloneIntent(tx.Intents[segment])
		if intent == nil {
			intent = NewIntent[proofs.Preimage](time.Time{})
		}
		if err := intent.AddAction(action); err != nil {
			return err
		}
		tx.Intents[segment] = intent

		return nil
	})
}

// Bind binds the transaction; afterwards every setter fails with ErrAlreadyBound.
func (a *AnyTransaction) Bind() error {
	if a.IsBound() {
		return ErrAlreadyBound
	}
	bound, err := Bind(*a.unbound)
	if err != nil {
		return err
	}
	a.bound = &bound

	return nil
}

// Unbound returns the transaction while it is unbound.
func (a *AnyTransaction) Unbound() (Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Unbound], bool) {
	if a.IsBound() {
		return Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Unbound]{}, false
	}

	return *a.unbound, true
}

// Bound returns the transaction once it is bound.
func (a *AnyTransaction) Bound() (Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Bound], bool) {
	if !a.IsBound() {
		return Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Bound]{}, false
	}

	return *a.bound, true
}

func (a *AnyTransaction) Tag() string {
	if a.IsBound() {
		return a.bound.Tag()
	}

	return a.unbound.Tag()
}

func (a *AnyTransaction) Serialize(w io.WriteSeeker) error {
	if a.IsBound() {
		return a.bound.Serialize(w)
	}

	return a.unbound.Serialize(w)
}

func (a *AnyTransaction) Network() serialize.NetworkID {
	if a.IsBound() {
		return a.bound.Network
	}

	return a.unbound.Network
}
