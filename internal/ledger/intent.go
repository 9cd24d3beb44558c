// intent.go - Intents: the unshielded, contract and Dust parts of one segment.

package ledger

import (
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"time"

	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/iotaledger/hive.go/core/safemath"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/lo"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/dust"
	"ledgerengine/internal/proofs"
)

// MaxActionsPerIntent bounds the contract actions of one intent.
const MaxActionsPerIntent = 255

// DustRegistration points the Dust generated by NightKey's outputs at DustKey.
// A nil DustKey removes the registration.
type DustRegistration[S proofs.SignatureStage] struct {
	NightKey  crypto.VerifyingKey
	DustKey   *dust.PublicKey
	Signature S
}

// DustActions are the fee payments and registrations of an intent. They run in
// the guaranteed phase.
type DustActions[S proofs.SignatureStage, P proofs.Stage] struct {
	Spends        []dust.Spend[P]
	Registrations []DustRegistration[S]
}

// Intent owns everything in a segment besides the shielded offer.
//
// Every intent commits to its own share of the binding randomness, so a
// transaction without shielded parts still has a non-trivial binding key.
type Intent[S proofs.SignatureStage, P proofs.Stage] struct {
	GuaranteedUnshielded *UnshieldedOffer[S]
	FallibleUnshielded   *UnshieldedOffer[S]
	Actions              []ContractAction[S]
	Dust                 *DustActions[S, P]
	TTL                  time.Time
	// BindingCommitment is rc*H, a commitment to zero value.
	BindingCommitment crypto.ValueCommitment

	// bindingRandomness is rc. It is only serialized in the preimage stage.
	bindingRandomness blsfr.Element
}

// NewIntent returns an empty unsigned intent that expires at ttl.
func NewIntent[P proofs.Stage](ttl time.Time) *Intent[proofs.SignatureErased, P] {
	rc := lo.PanicOnErr(crypto.RandomScalar())

	return &Intent[proofs.SignatureErased, P]{
		TTL:               ttl.Truncate(time.Second),
		BindingCommitment: crypto.CommitBlinding(rc),
		bindingRandomness: rc,
	}
}

// BindingRandomness returns rc, or ErrMissingRandomness when the intent
// does not hold the opening of its commitment.
func (i *Intent[S, P]) BindingRandomness() (blsfr.Element, error) {
	if i.bindingRandomness.IsZero() || !crypto.CommitBlinding(i.bindingRandomness).Equal(i.BindingCommitment) {
		return blsfr.Element{}, ErrMissingRandomness
	}

	return i.bindingRandomness, nil
}

// AddAction appends a contract action.
func (i *Intent[S, P]) AddAction(a ContractAction[S]) error {
	if !a.valid() {
		return ErrInvalidAction
	}
	if len(i.Actions) >= MaxActionsPerIntent {
		return ierrors.Wrapf(ErrTooManyActions, "limit is %d", MaxActionsPerIntent)
	}
	i.Actions = append(i.Actions, a)

	return nil
}

// AddDustSpend appends a fee payment.
func (i *Intent[S, P]) AddDustSpend(s dust.Spend[P]) {
	if i.Dust == nil {
		i.Dust = &DustActions[S, P]{}
	}
	i.Dust.Spends = append(i.Dust.Spends, s)
}

// AddDustRegistration appends an unsigned registration of night to dustKey.
func AddDustRegistration[P proofs.Stage](i *Intent[proofs.SignatureErased, P], night crypto.VerifyingKey, dustKey *dust.PublicKey) {
	if i.Dust == nil {
		i.Dust = &DustActions[proofs.SignatureErased, P]{}
	}
	i.Dust.Registrations = append(i.Dust.Registrations, DustRegistration[proofs.SignatureErased]{NightKey: night, DustKey: dustKey})
}

func (i *Intent[S, P]) String() string {
	var spends, registrations int
	if i.Dust != nil {
		spends, registrations = len(i.Dust.Spends), len(i.Dust.Registrations)
	}

	return fmt.Sprintf("Intent{guaranteed: %s, fallible: %s, actions: %d, dust spends: %d, registrations: %d, ttl: %s}",
		i.GuaranteedUnshielded, i.FallibleUnshielded, len(i.Actions), spends, registrations, i.TTL.Format(time.RFC3339))
}

// DustFees sums the fees paid by the intent's Dust spends.
func (i *Intent[S, P]) DustFees() (uint64, error) {
	if i.Dust == nil {
		return 0, nil
	}
	var total uint64
	var err error
	for _, s := range i.Dust.Spends {
		if total, err = safemath.SafeAdd(total, s.VFee); err != nil {
			return 0, ierrors.Wrap(ErrArithmeticOverflow, "dust fees")
		}
	}

	return total, nil
}

// Hash identifies the intent at segment. It ignores proofs and signatures,
// so it is stable across every stage.
func (i *Intent[S, P]) Hash(segment uint16) ([32]byte, error) {
	body, err := encode(func(w io.WriteSeeker) error {
		return eraseIntentProofs(eraseIntentSignatures(i)).Serialize(w)
	})
	if err != nil {
		return [32]byte{}, err
	}
	var seg [2]byte
	binary.BigEndian.PutUint16(seg[:], segment)

	return crypto.Blake2b([]byte("ledger:intent"), seg[:], body), nil
}

func mapIntent[S, T proofs.SignatureStage, P, Q proofs.Stage](i *Intent[S, P], offer func(*UnshieldedOffer[S]) (*UnshieldedOffer[T], error), action func(ContractAction[S]) (ContractAction[T], error), registration func(DustRegistration[S]) (DustRegistration[T], error), spend func(dust.Spend[P]) (dust.Spend[Q], error)) (*Intent[T, Q], error) {
	if i == nil {
		return nil, nil
	}

	out := &Intent[T, Q]{
		TTL:               i.TTL,
		Actions:           make([]ContractAction[T], 0, len(i.Actions)),
		BindingCommitment: i.BindingCommitment,
	}
	if isPreimage[Q]() {
		out.bindingRandomness = i.bindingRandomness
	}
	var err error
	if out.GuaranteedUnshielded, err = offer(i.GuaranteedUnshielded); err != nil {
		return nil, err
	}
	if out.FallibleUnshielded, err = offer(i.FallibleUnshielded); err != nil {
		return nil, err
	}
	for _, a := range i.Actions {
		mapped, err := action(a)
		if err != nil {
			return nil, err
		}
		out.Actions = append(out.Actions, mapped)
	}
	if i.Dust != nil {
		out.Dust = &DustActions[T, Q]{}
		for _, s := range i.Dust.Spends {
			mapped, err := spend(s)
			if err != nil {
				return nil, err
			}
			out.Dust.Spends = append(out.Dust.Spends, mapped)
		}
		for _, r := range i.Dust.Registrations {
			mapped, err := registration(r)
			if err != nil {
				return nil, err
			}
			out.Dust.Registrations = append(out.Dust.Registrations, mapped)
		}
	}

	return out, nil
}

func keepSpend[P proofs.Stage](s dust.Spend[P]) (dust.Spend[P], error) {
	return s, nil
}

func eraseIntentSignatures[S proofs.SignatureStage, P proofs.Stage](i *Intent[S, P]) *Intent[proofs.SignatureErased, P] {
	out, _ := mapIntent(i,
		func(o *UnshieldedOffer[S]) (*UnshieldedOffer[proofs.SignatureErased], error) {
			return eraseUnshieldedSignatures(o), nil
		},
		func(a ContractAction[S]) (ContractAction[proofs.SignatureErased], error) {
			return eraseActionSignatures(a), nil
		},
		func(r DustRegistration[S]) (DustRegistration[proofs.SignatureErased], error) {
			return DustRegistration[proofs.SignatureErased]{NightKey: r.NightKey, DustKey: r.DustKey}, nil
		},
		keepSpend[P])

	return out
}

func eraseIntentProofs[S proofs.SignatureStage, P proofs.Stage](i *Intent[S, P]) *Intent[S, proofs.Erased] {
	out, _ := mapIntent(i,
		func(o *UnshieldedOffer[S]) (*UnshieldedOffer[S], error) { return o, nil },
		func(a ContractAction[S]) (ContractAction[S], error) { return a, nil },
		func(r DustRegistration[S]) (DustRegistration[S], error) { return r, nil },
		func(s dust.Spend[P]) (dust.Spend[proofs.Erased], error) { return dust.EraseSpend(s), nil })

	return out
}

// SignIntent signs every unshielded input, Dust registration and maintenance
// update of i at segment. keys must cover every owner and committee signer.
func SignIntent[P proofs.Stage](i *Intent[proofs.SignatureErased, P], segment uint16, keys ...crypto.SigningKey) (*Intent[crypto.Signature, P], error) {
	hash, err := i.Hash(segment)
	if err != nil {
		return nil, err
	}
	byAddress := make(map[crypto.UserAddress]crypto.SigningKey, len(keys))
	for _, key := range keys {
		byAddress[key.VerifyingKey().Address()] = key
	}

	return mapIntent(i,
		func(o *UnshieldedOffer[proofs.SignatureErased]) (*UnshieldedOffer[crypto.Signature], error) {
			return signUnshielded(o, hash[:], byAddress)
		},
		func(a ContractAction[proofs.SignatureErased]) (ContractAction[crypto.Signature], error) {
			return signAction(a, byAddress)
		},
		func(r DustRegistration[proofs.SignatureErased]) (DustRegistration[crypto.Signature], error) {
			key, ok := byAddress[r.NightKey.Address()]
			if !ok {
				return DustRegistration[crypto.Signature]{}, ierrors.Wrapf(ErrMissingSigningKey, "night key %s", r.NightKey)
			}
			sig, err := key.Sign(hash[:])

			return DustRegistration[crypto.Signature]{NightKey: r.NightKey, DustKey: r.DustKey, Signature: sig}, err
		},
		keepSpend[P])
}

// verifySignatures checks the unshielded and registration signatures of i.
// Maintenance signatures need the contract's authority and are checked by the caller.
func verifySignatures[P proofs.Stage](i *Intent[crypto.Signature, P], segment uint16) error {
	hash, err := i.Hash(segment)
	if err != nil {
		return err
	}
	if err := verifyUnshielded(i.GuaranteedUnshielded, hash[:]); err != nil {
		return err
	}
	if err := verifyUnshielded(i.FallibleUnshielded, hash[:]); err != nil {
		return err
	}
	if i.Dust != nil {
		for _, r := range i.Dust.Registrations {
			if !r.NightKey.Verify(hash[:], r.Signature) {
				return ierrors.Wrapf(ErrInvalidSignature, "dust registration of %s", r.NightKey)
			}
		}
	}

	return nil
}

func cloneIntent[S proofs.SignatureStage, P proofs.Stage](i *Intent[S, P]) *Intent[S, P] {
	out, _ := mapIntent(i,
		func(o *UnshieldedOffer[S]) (*UnshieldedOffer[S], error) { return o, nil },
		func(a ContractAction[S]) (ContractAction[S], error) { return a, nil },
		func(r DustRegistration[S]) (DustRegistration[S], error) { return r, nil },
		keepSpend[P])
	if out != nil {
		out.Actions = slices.Clip(out.Actions)
	}

	return out
}
