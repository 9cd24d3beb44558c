// state.go - Ledger-side Dust state.
//
// UtxoState holds the commitments of all Dust outputs and the spent nullifiers.
// GenerationState tracks which Night outputs generate Dust for which Dust key.
// Every operation returns a new State together with the events wallets replay
// to follow it.

package dust

import (
	"bytes"
	"cmp"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/merkle"
	"ledgerengine/internal/proofs"
)

type fieldComparer[K ~[6]uint64] struct{}

func (fieldComparer[K]) Compare(a, b K) int {
	x, y := fr.Element(a), fr.Element(b)

	return x.Cmp(&y)
}

type bytesComparer[K ~[32]byte] struct{}

func (bytesComparer[K]) Compare(a, b K) int {
	x, y := [32]byte(a), [32]byte(b)

	return bytes.Compare(x[:], y[:])
}

type uint64Comparer struct{}

func (uint64Comparer) Compare(a, b uint64) int {
	return cmp.Compare(a, b)
}

// UtxoState is the Dust commitment tree with its nullifier set.
type UtxoState struct {
	tree       *merkle.Tree[fr.Element]
	nullifiers *immutable.SortedMap[Nullifier, struct{}]
	history    *merkle.RootHistory[fr.Element]
}

func (u UtxoState) Tree() *merkle.Tree[fr.Element] {
	return u.tree
}

func (u UtxoState) FirstFree() uint64 {
	return u.tree.FirstFree()
}

func (u UtxoState) Root() fr.Element {
	return u.tree.Root()
}

func (u UtxoState) HasNullifier(nf Nullifier) bool {
	_, ok := u.nullifiers.Get(nf)

	return ok
}

func (u UtxoState) HistoryDepth() int {
	return u.history.Depth()
}

func (u UtxoState) IsValidRoot(root fr.Element) bool {
	return root == u.tree.Root() || u.history.Contains(root)
}

// GenerationState tracks address delegations and generating Night outputs.
type GenerationState struct {
	delegation   *immutable.SortedMap[crypto.UserAddress, PublicKey]
	tree         *merkle.Tree[[32]byte]
	set          *immutable.SortedMap[[32]byte, struct{}]
	nightIndices *immutable.SortedMap[crypto.UtxoID, uint64]
	infos        *immutable.SortedMap[uint64, GenerationInfo]
	history      *merkle.RootHistory[[32]byte]
}

func (g GenerationState) FirstFree() uint64 {
	return g.tree.FirstFree()
}

func (g GenerationState) Root() [32]byte {
	return g.tree.Root()
}

// Delegate returns the Dust key an address registered.
func (g GenerationState) Delegate(owner crypto.UserAddress) (PublicKey, bool) {
	return g.delegation.Get(owner)
}

// Generation returns the generation info of a Night output and its tree index.
func (g GenerationState) Generation(night crypto.UtxoID) (GenerationInfo, uint64, bool) {
	index, ok := g.nightIndices.Get(night)
	if !ok {
		return GenerationInfo{}, 0, false
	}
	info, ok := g.infos.Get(index)

	return info, index, ok
}

// IsGenerating reports whether info is in the generating set.
func (g GenerationState) IsGenerating(info GenerationInfo) bool {
	_, ok := g.set.Get(info.Hash())

	return ok
}

// State is the Dust part of the ledger state.
type State struct {
	Utxo       UtxoState
	Generation GenerationState
	params     Params
}

// NewState returns an empty Dust state whose trees keep historyDepth past roots.
func NewState(params Params, historyDepth int, genesis time.Time) State {
	utxoTree := merkle.New[fr.Element](merkle.MiMCHasher{}, TreeHeight)
	genTree := merkle.New[[32]byte](merkle.Blake2bHasher{}, TreeHeight)

	return State{
		Utxo: UtxoState{
			tree:       utxoTree,
			nullifiers: immutable.NewSortedMap[Nullifier, struct{}](fieldComparer[Nullifier]{}),
			history:    merkle.NewRootHistory[fr.Element](historyDepth).Insert(utxoTree.Root(), genesis),
		},
		Generation: GenerationState{
			delegation:   immutable.NewSortedMap[crypto.UserAddress, PublicKey](bytesComparer[crypto.UserAddress]{}),
			tree:         genTree,
			set:          immutable.NewSortedMap[[32]byte, struct{}](bytesComparer[[32]byte]{}),
			nightIndices: immutable.NewSortedMap[crypto.UtxoID, uint64](bytesComparer[crypto.UtxoID]{}),
			infos:        immutable.NewSortedMap[uint64, GenerationInfo](uint64Comparer{}),
			history:      merkle.NewRootHistory[[32]byte](historyDepth).Insert(genTree.Root(), genesis),
		},
		params: params,
	}
}

func (s State) Params() Params {
	return s.params
}

// RegisterAddress makes Night received by owner generate Dust to pk. Night the
// owner already holds keeps generating to the key it was created under.
func (s State) RegisterAddress(owner crypto.UserAddress, pk PublicKey) State {
	s.Generation.delegation = s.Generation.delegation.Set(owner, pk)

	return s
}

// DeregisterAddress stops future Night of owner from generating Dust.
func (s State) DeregisterAddress(owner crypto.UserAddress) State {
	s.Generation.delegation = s.Generation.delegation.Delete(owner)

	return s
}

// OnNightCreated starts generation for a new Night output of a registered owner.
// Unregistered owners produce no state change and no events.
func (s State) OnNightCreated(owner crypto.UserAddress, night crypto.UtxoID, value uint64, t time.Time) (State, []Event, error) {
	pk, ok := s.Generation.delegation.Get(owner)
	if !ok || value == 0 {
		return s, nil, nil
	}
	if _, exists := s.Generation.nightIndices.Get(night); exists {
		return s, nil, ierrors.Wrapf(ErrDuplicateNight, "night %s", night)
	}

	nonce := initialNonce(night)
	info := GenerationInfo{Value: value, Owner: pk, Nonce: nonce}
	genIndex := s.Generation.tree.FirstFree()
	genTree, err := s.Generation.tree.Append(info.Hash())
	if err != nil {
		return s, nil, err
	}

	out := Output{InitialValue: 0, Owner: pk, Nonce: nonce, Seq: 0, Ctime: t, BackingNight: night}
	mtIndex := s.Utxo.tree.FirstFree()
	utxoTree, err := s.Utxo.tree.Append(out.Commitment().Element())
	if err != nil {
		return s, nil, err
	}

	next := s
	next.Generation.tree = genTree
	next.Generation.set = next.Generation.set.Set(info.Hash(), struct{}{})
	next.Generation.nightIndices = next.Generation.nightIndices.Set(night, genIndex)
	next.Generation.infos = next.Generation.infos.Set(genIndex, info)
	next.Utxo.tree = utxoTree

	return next, []Event{{
		Kind:            EventInitialUtxo,
		Output:          QualifiedOutput{Output: out, MtIndex: mtIndex},
		Generation:      info,
		GenerationIndex: genIndex,
		BackingNight:    night,
		Time:            t,
	}}, nil
}

// OnNightSpent stops generation of a Night output; its Dust decays from t on.
func (s State) OnNightSpent(night crypto.UtxoID, t time.Time) (State, []Event, error) {
	info, index, ok := s.Generation.Generation(night)
	if !ok || !info.Dtime.IsZero() {
		return s, nil, nil
	}

	updated := info
	updated.Dtime = t
	tree, err := s.Generation.tree.Update(index, updated.Hash())
	if err != nil {
		return s, nil, err
	}

	next := s
	next.Generation.tree = tree
	next.Generation.set = next.Generation.set.Delete(info.Hash()).Set(updated.Hash(), struct{}{})
	next.Generation.infos = next.Generation.infos.Set(index, updated)

	return next, []Event{{
		Kind:            EventGenerationDtimeUpdate,
		Generation:      updated,
		GenerationIndex: index,
		BackingNight:    night,
		Time:            t,
	}}, nil
}

// ApplySpend records a Dust spend made within the grace period before blockTime.
func (s State) ApplySpend(spend Spend[proofs.Erased], blockTime time.Time) (State, []Event, error) {
	if spend.Time.After(blockTime) || spend.Time.Before(blockTime.Add(-s.params.GracePeriod())) {
		return s, nil, ierrors.Wrapf(ErrSpendTimeOutOfWindow, "spend at %s, block at %s", spend.Time, blockTime)
	}
	if s.Utxo.HasNullifier(spend.OldNullifier) {
		return s, nil, ierrors.Wrapf(ErrNullifierCollision, "nullifier %s", spend.OldNullifier)
	}
	if !s.Utxo.IsValidRoot(spend.MerkleRoot) {
		return s, nil, ierrors.Wrapf(ErrUnknownMerkleRoot, "root %s", hexElement(spend.MerkleRoot))
	}

	mtIndex := s.Utxo.tree.FirstFree()
	tree, err := s.Utxo.tree.Append(spend.NewCommitment.Element())
	if err != nil {
		return s, nil, err
	}

	next := s
	next.Utxo.tree = tree
	next.Utxo.nullifiers = next.Utxo.nullifiers.Set(spend.OldNullifier, struct{}{})

	return next, []Event{{
		Kind:       EventSpendProcessed,
		Nullifier:  spend.OldNullifier,
		Commitment: spend.NewCommitment,
		MtIndex:    mtIndex,
		Fee:        spend.VFee,
		Time:       spend.Time,
	}}, nil
}

// PostBlockUpdate records both roots as valid from t and prunes roots older than t - retention.
func (s State) PostBlockUpdate(t time.Time, retention time.Duration) State {
	s.Utxo.history = s.Utxo.history.Insert(s.Utxo.tree.Root(), t)
	s.Generation.history = s.Generation.history.Insert(s.Generation.tree.Root(), t)
	if retention > 0 {
		s.Utxo.history = s.Utxo.history.PruneBefore(t.Add(-retention))
		s.Generation.history = s.Generation.history.PruneBefore(t.Add(-retention))
	}

	return s
}
