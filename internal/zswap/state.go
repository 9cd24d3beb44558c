// state.go - Shielded chain state: commitment tree, nullifier set and root history.
//
// ChainState is a value. TryApply and PostBlockUpdate return a new state and
// leave the receiver untouched; all three structures are persistent and share
// everything but the changed paths with the previous version.

package zswap

import (
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/merkle"
	"ledgerengine/internal/proofs"
)

// Whitelist restricts which contracts may spend and get coin references. A nil Whitelist admits every contract.
type Whitelist map[crypto.ContractAddress]struct{}

func NewWhitelist(addresses ...crypto.ContractAddress) Whitelist {
	w := make(Whitelist, len(addresses))
	for _, a := range addresses {
		w[a] = struct{}{}
	}

	return w
}

func (w Whitelist) allows(a crypto.ContractAddress) bool {
	if w == nil {
		return true
	}
	_, ok := w[a]

	return ok
}

// CoinRef tells the contract layer which coins of a contract an offer created or spent.
// Exactly one of Commitment and Nullifier is set.
type CoinRef struct {
	Contract   crypto.ContractAddress
	Commitment *Commitment
	MtIndex    uint64
	Nullifier  *Nullifier
}

// ChainState is the shielded pool accumulator.
type ChainState struct {
	tree        *merkle.Tree[fr.Element]
	commitments *immutable.SortedMap[Commitment, uint64]
	nullifiers  *immutable.SortedMap[Nullifier, struct{}]
	history     *merkle.RootHistory[fr.Element]
}

// NewChainState creates an empty state whose history knows the empty root.
func NewChainState(historyDepth int, genesis time.Time) ChainState {
	tree := merkle.New[fr.Element](merkle.MiMCHasher{}, TreeHeight)

	return ChainState{
		tree:        tree,
		commitments: immutable.NewSortedMap[Commitment, uint64](fieldComparer[Commitment]{}),
		nullifiers:  immutable.NewSortedMap[Nullifier, struct{}](fieldComparer[Nullifier]{}),
		history:     merkle.NewRootHistory[fr.Element](historyDepth).Insert(tree.Root(), genesis),
	}
}

func (s ChainState) Tree() *merkle.Tree[fr.Element] {
	return s.tree
}

func (s ChainState) Root() fr.Element {
	return s.tree.Root()
}

func (s ChainState) FirstFree() uint64 {
	return s.tree.FirstFree()
}

func (s ChainState) History() *merkle.RootHistory[fr.Element] {
	return s.history
}

func (s ChainState) HasNullifier(nf Nullifier) bool {
	_, ok := s.nullifiers.Get(nf)

	return ok
}

// CommitmentIndex returns the leaf index of cm.
func (s ChainState) CommitmentIndex(cm Commitment) (uint64, bool) {
	return s.commitments.Get(cm)
}

func (s ChainState) NullifierCount() int {
	return s.nullifiers.Len()
}

// IsValidRoot reports whether root is the current root or still in the history.
func (s ChainState) IsValidRoot(root fr.Element) bool {
	return root == s.tree.Root() || s.history.Contains(root)
}

// TryApply folds an offer into the state. On error the receiver is unchanged and
// no partial state is returned.
func (s ChainState) TryApply(o Offer[proofs.Erased], whitelist Whitelist) (ChainState, []CoinRef, error) {
	next := s
	var refs []CoinRef

	spend := func(nf Nullifier, contract *crypto.ContractAddress) error {
		if contract != nil {
			if !whitelist.allows(*contract) {
				return ierrors.Wrapf(ErrNotWhitelisted, "contract %s", contract)
			}
			n := nf
			refs = append(refs, CoinRef{Contract: *contract, Nullifier: &n})
		}
		if _, spent := next.nullifiers.Get(nf); spent {
			return ierrors.Wrapf(ErrNullifierCollision, "nullifier %s", nf)
		}
		next.nullifiers = next.nullifiers.Set(nf, struct{}{})

		return nil
	}

	for _, in := range o.Inputs {
		if !s.IsValidRoot(in.MerkleRoot) {
			return s, nil, ierrors.Wrapf(ErrUnknownMerkleRoot, "root %s", hexElement(in.MerkleRoot))
		}
		if err := spend(in.Nullifier, in.Contract); err != nil {
			return s, nil, err
		}
	}
	for _, tr := range o.Transients {
		if err := spend(tr.Nullifier, tr.Contract); err != nil {
			return s, nil, err
		}
	}

	for _, out := range o.Outputs {
		if _, exists := next.commitments.Get(out.Commitment); exists {
			return s, nil, ierrors.Wrapf(ErrCommitmentCollision, "commitment %s", out.Commitment)
		}
		index := next.tree.FirstFree()
		tree, err := next.tree.Append(out.Commitment.Element())
		if err != nil {
			return s, nil, err
		}
		next.tree = tree
		next.commitments = next.commitments.Set(out.Commitment, index)

		if out.Contract != nil && whitelist.allows(*out.Contract) {
			cm := out.Commitment
			refs = append(refs, CoinRef{Contract: *out.Contract, Commitment: &cm, MtIndex: index})
		}
	}

	return next, refs, nil
}

// PostBlockUpdate records the current root as valid from t and drops roots older than t - retention.
// A zero retention keeps roots until the history depth evicts them.
func (s ChainState) PostBlockUpdate(t time.Time, retention time.Duration) ChainState {
	history := s.history.Insert(s.tree.Root(), t)
	if retention > 0 {
		history = history.PruneBefore(t.Add(-retention))
	}
	s.history = history

	return s
}

// Nullifiers returns the spent nullifiers in ascending order.
func (s ChainState) Nullifiers() []Nullifier {
	out := make([]Nullifier, 0, s.nullifiers.Len())
	itr := s.nullifiers.Iterator()
	for !itr.Done() {
		nf, _, _ := itr.Next()
		out = append(out, nf)
	}

	return out
}
