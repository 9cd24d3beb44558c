// wallet.go - Wallet-side Dust state.
//
// LocalState mirrors the Dust commitment tree by replaying ledger events and
// keeps the outputs and generation infos owned by one secret key. Outputs the
// wallet created itself stay pending until the ledger confirms them. Change
// nonces derive from the secret key, so a wallet restored from events alone
// recognises its change outputs too.

package dust

import (
	"math"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/core/safemath"
	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/merkle"
	"ledgerengine/internal/proofs"
)

type LocalState struct {
	params      Params
	curve       Curve
	tree        *merkle.Tree[fr.Element]
	utxos       *immutable.SortedMap[uint64, QualifiedOutput]
	nullifiers  *immutable.SortedMap[Nullifier, uint64]
	generations *immutable.SortedMap[crypto.UtxoID, GenerationInfo]
	pending     *immutable.SortedMap[Commitment, Output]
}

// NewLocalState returns an empty wallet state. A nil curve means Linear.
func NewLocalState(params Params, curve Curve) LocalState {
	if curve == nil {
		curve = Linear{}
	}

	return LocalState{
		params:      params,
		curve:       curve,
		tree:        merkle.New[fr.Element](merkle.MiMCHasher{}, TreeHeight),
		utxos:       immutable.NewSortedMap[uint64, QualifiedOutput](uint64Comparer{}),
		nullifiers:  immutable.NewSortedMap[Nullifier, uint64](fieldComparer[Nullifier]{}),
		generations: immutable.NewSortedMap[crypto.UtxoID, GenerationInfo](bytesComparer[crypto.UtxoID]{}),
		pending:     immutable.NewSortedMap[Commitment, Output](fieldComparer[Commitment]{}),
	}
}

func (l LocalState) Params() Params {
	return l.params
}

func (l LocalState) Root() fr.Element {
	return l.tree.Root()
}

func (l LocalState) UtxoCount() int {
	return l.utxos.Len()
}

func (l LocalState) PendingCount() int {
	return l.pending.Len()
}

// Utxos returns the confirmed outputs ordered by tree index.
func (l LocalState) Utxos() []QualifiedOutput {
	out := make([]QualifiedOutput, 0, l.utxos.Len())
	itr := l.utxos.Iterator()
	for !itr.Done() {
		_, qo, _ := itr.Next()
		out = append(out, qo)
	}

	return out
}

func (l LocalState) Generation(night crypto.UtxoID) (GenerationInfo, bool) {
	return l.generations.Get(night)
}

// ValueOf evaluates one confirmed output at t.
func (l LocalState) ValueOf(out QualifiedOutput, t time.Time) (uint64, error) {
	gen, ok := l.generations.Get(out.BackingNight)
	if !ok {
		return 0, ierrors.Wrapf(ErrUnknownGeneration, "night %s", out.BackingNight)
	}

	return l.params.ValueAt(l.curve, out.Output, gen, t)
}

// WalletBalance sums the values of all confirmed outputs at t.
func (l LocalState) WalletBalance(t time.Time) (uint64, error) {
	var total uint64
	for _, out := range l.Utxos() {
		v, err := l.ValueOf(out, t)
		if err != nil {
			return 0, err
		}
		if total, err = safemath.SafeAdd(total, v); err != nil {
			return 0, ierrors.Wrap(ErrArithmeticOverflow, "wallet balance")
		}
	}

	return total, nil
}

// Spend pays fee from output at now. The spent output leaves the local state
// and its change output stays pending until the ledger reports the spend.
func (l LocalState) Spend(sk SecretKey, output QualifiedOutput, fee uint64, now time.Time) (LocalState, Spend[proofs.Preimage], error) {
	known, ok := l.utxos.Get(output.MtIndex)
	if !ok || known.Commitment() != output.Commitment() {
		return l, Spend[proofs.Preimage]{}, ierrors.Wrapf(ErrUnknownOutput, "index %d", output.MtIndex)
	}
	if known.Owner != sk.PublicKey() {
		return l, Spend[proofs.Preimage]{}, ErrUnauthorized
	}
	if known.Seq == math.MaxUint32 {
		return l, Spend[proofs.Preimage]{}, ierrors.Wrap(ErrArithmeticOverflow, "output sequence")
	}

	now = now.Truncate(time.Second)
	value, err := l.ValueOf(known, now)
	if err != nil {
		return l, Spend[proofs.Preimage]{}, err
	}
	if fee > value {
		return l, Spend[proofs.Preimage]{}, ierrors.Wrapf(ErrInsufficientBalance, "fee %d, balance %d", fee, value)
	}

	path, err := l.tree.Path(known.MtIndex)
	if err != nil {
		return l, Spend[proofs.Preimage]{}, err
	}

	change := changeOutput(sk, known.Output, value, fee, now)
	nf := known.Nullifier(sk)
	next := change.Commitment()
	root := l.tree.Root()

	priv := make([]fr.Element, numPrivate)
	priv[privSecret] = sk.Element()
	priv[privInitialValue] = crypto.ElementFromUint64(known.InitialValue)
	priv[privNonce] = known.Nonce
	priv[privSeq] = crypto.ElementFromUint64(uint64(known.Seq))
	priv[privCtime] = timeElement(known.Ctime)
	priv[privBackingNight] = known.BackingNight.Element()
	priv[privValue] = crypto.ElementFromUint64(value)
	priv[privNewNonce] = change.Nonce
	for i, dir := range path.Directions() {
		priv[privSiblings+i] = path.Siblings[i]
		priv[privDirections+i] = crypto.ElementFromUint64(dir)
	}

	spend := Spend[proofs.Preimage]{
		VFee:          fee,
		OldNullifier:  nf,
		NewCommitment: next,
		MerkleRoot:    root,
		Time:          now,
		Proof: proofs.Preimage{
			KeyLocation: SpendLocation,
			Public:      spendPublicInputs(proofs.SegmentBindingInput(0), root, nf, next, fee, now),
			Private:     priv,
		},
	}

	l.utxos = l.utxos.Delete(known.MtIndex)
	l.pending = l.pending.Set(next, change)

	return l, spend, nil
}

func (l LocalState) track(sk SecretKey, out QualifiedOutput) LocalState {
	l.utxos = l.utxos.Set(out.MtIndex, out)
	l.nullifiers = l.nullifiers.Set(out.Nullifier(sk), out.MtIndex)

	return l
}

// spent drops the output behind nf. If the output was still held, its change
// output becomes pending when commitment matches what sk would have built.
func (l LocalState) spent(sk SecretKey, nf Nullifier, commitment Commitment, fee uint64, t time.Time) (LocalState, error) {
	index, ok := l.nullifiers.Get(nf)
	if !ok {
		return l, nil
	}
	l.nullifiers = l.nullifiers.Delete(nf)
	out, held := l.utxos.Get(index)
	if !held {
		return l, nil
	}
	l.utxos = l.utxos.Delete(index)
	if _, known := l.pending.Get(commitment); known {
		return l, nil
	}

	value, err := l.ValueOf(out, t)
	if err != nil {
		return l, err
	}
	if fee > value {
		return l, nil
	}
	if change := changeOutput(sk, out.Output, value, fee, t); change.Commitment() == commitment {
		l.pending = l.pending.Set(commitment, change)
	}

	return l, nil
}

// ProcessEvents replays ledger events in order. Events must extend the local
// tree exactly. Outputs owned by sk and confirmed pending outputs become
// spendable, and outputs whose nullifier is reported leave the wallet.
func (l LocalState) ProcessEvents(sk SecretKey, events ...Event) (LocalState, error) {
	pk := sk.PublicKey()
	for _, ev := range events {
		switch ev.Kind {
		case EventInitialUtxo:
			if ev.Output.MtIndex != l.tree.FirstFree() {
				return l, ierrors.Wrapf(ErrEventOutOfOrder, "%s at index %d, expected %d", ev.Kind, ev.Output.MtIndex, l.tree.FirstFree())
			}
			tree, err := l.tree.Append(ev.Output.Commitment().Element())
			if err != nil {
				return l, err
			}
			l.tree = tree
			if ev.Output.Owner == pk {
				l = l.track(sk, ev.Output)
				l.generations = l.generations.Set(ev.BackingNight, ev.Generation)
			}

		case EventGenerationDtimeUpdate:
			if _, ok := l.generations.Get(ev.BackingNight); ok {
				l.generations = l.generations.Set(ev.BackingNight, ev.Generation)
			}

		case EventSpendProcessed:
			if ev.MtIndex != l.tree.FirstFree() {
				return l, ierrors.Wrapf(ErrEventOutOfOrder, "%s at index %d, expected %d", ev.Kind, ev.MtIndex, l.tree.FirstFree())
			}
			tree, err := l.tree.Append(ev.Commitment.Element())
			if err != nil {
				return l, err
			}
			l.tree = tree
			if l, err = l.spent(sk, ev.Nullifier, ev.Commitment, ev.Fee, ev.Time); err != nil {
				return l, err
			}
			if out, ok := l.pending.Get(ev.Commitment); ok {
				l.pending = l.pending.Delete(ev.Commitment)
				l = l.track(sk, QualifiedOutput{Output: out, MtIndex: ev.MtIndex})
			}

		default:
			return l, ierrors.Wrapf(ErrUnknownEventKind, "%s", ev.Kind)
		}
	}

	return l, nil
}
