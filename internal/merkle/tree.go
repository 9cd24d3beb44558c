// tree.go - Persistent append-only Merkle tree.
//
// Nodes are immutable and shared between tree versions. Append and Update copy
// only the nodes on the path from the root to the touched leaf, so every
// previous *Tree stays valid and cheap to keep around. Missing subtrees are
// represented by nil and take their digest from a precomputed table of empty
// subtree digests.

package merkle

import (
	"github.com/iotaledger/hive.go/ierrors"
)

// MaxHeight is the largest supported tree height.
const MaxHeight = 255

type node[D comparable] struct {
	left, right *node[D]
	digest      D
}

// Tree is an immutable Merkle tree. All mutating operations return a new tree.
type Tree[D comparable] struct {
	hasher    Hasher[D]
	height    uint8
	root      *node[D]
	firstFree uint64
	empty     []D
}

// ClampedHeight returns min(height, MaxHeight) and reports whether clamping happened.
func ClampedHeight(height uint) (uint8, bool) {
	if height > MaxHeight {
		return MaxHeight, true
	}

	return uint8(height), false
}

// New creates an empty tree. Heights above MaxHeight are clamped to MaxHeight.
func New[D comparable](hasher Hasher[D], height uint) *Tree[D] {
	h, _ := ClampedHeight(height)

	empty := make([]D, int(h)+1)
	empty[0] = hasher.Empty()
	for i := 1; i <= int(h); i++ {
		empty[i] = hasher.Node(empty[i-1], empty[i-1])
	}

	return &Tree[D]{hasher: hasher, height: h, empty: empty}
}

func (t *Tree[D]) Height() uint8 {
	return t.height
}

// FirstFree is the index the next Append writes to.
func (t *Tree[D]) FirstFree() uint64 {
	return t.firstFree
}

// fits reports whether index addresses a leaf of the tree.
func (t *Tree[D]) fits(index uint64) bool {
	return t.height >= 64 || index < uint64(1)<<t.height
}

func (t *Tree[D]) Root() D {
	return t.digest(t.root, int(t.height))
}

func (t *Tree[D]) Hasher() Hasher[D] {
	return t.hasher
}

func (t *Tree[D]) digest(n *node[D], level int) D {
	if n == nil {
		return t.empty[level]
	}

	return n.digest
}

// Append hashes value into the leaf at FirstFree.
func (t *Tree[D]) Append(value D) (*Tree[D], error) {
	return t.appendDigest(t.hasher.Leaf(value))
}

func (t *Tree[D]) appendDigest(leaf D) (*Tree[D], error) {
	if !t.fits(t.firstFree) {
		return nil, ErrTreeFull
	}

	next := t.withRoot(t.set(t.root, int(t.height), t.firstFree, leaf))
	next.firstFree = t.firstFree + 1

	return next, nil
}

// Update replaces the value of an already populated leaf.
func (t *Tree[D]) Update(index uint64, value D) (*Tree[D], error) {
	if index >= t.firstFree {
		return nil, ierrors.Wrapf(ErrIndexOutOfRange, "index %d, first free %d", index, t.firstFree)
	}

	return t.withRoot(t.set(t.root, int(t.height), index, t.hasher.Leaf(value))), nil
}

func (t *Tree[D]) withRoot(root *node[D]) *Tree[D] {
	return &Tree[D]{
		hasher:    t.hasher,
		height:    t.height,
		root:      root,
		firstFree: t.firstFree,
		empty:     t.empty,
	}
}

// set returns a copy of n with the leaf at index replaced. level is the height of n.
func (t *Tree[D]) set(n *node[D], level int, index uint64, leaf D) *node[D] {
	if level == 0 {
		return &node[D]{digest: leaf}
	}

	var left, right *node[D]
	if n != nil {
		left, right = n.left, n.right
	}
	if bit(index, level-1) == 0 {
		left = t.set(left, level-1, index, leaf)
	} else {
		right = t.set(right, level-1, index, leaf)
	}

	return &node[D]{
		left:   left,
		right:  right,
		digest: t.hasher.Node(t.digest(left, level-1), t.digest(right, level-1)),
	}
}

// LeafDigest returns the hashed leaf stored at index.
func (t *Tree[D]) LeafDigest(index uint64) (D, error) {
	if index >= t.firstFree {
		var zero D
		return zero, ierrors.Wrapf(ErrIndexOutOfRange, "index %d, first free %d", index, t.firstFree)
	}

	n := t.root
	for level := int(t.height); level > 0 && n != nil; level-- {
		if bit(index, level-1) == 0 {
			n = n.left
		} else {
			n = n.right
		}
	}

	return t.digest(n, 0), nil
}

// Path returns the authentication path of the leaf at index.
func (t *Tree[D]) Path(index uint64) (Path[D], error) {
	leaf, err := t.LeafDigest(index)
	if err != nil {
		return Path[D]{}, err
	}

	siblings := make([]D, t.height)
	n := t.root
	for level := int(t.height); level > 0; level-- {
		var next, sibling *node[D]
		if n != nil {
			if bit(index, level-1) == 0 {
				next, sibling = n.left, n.right
			} else {
				next, sibling = n.right, n.left
			}
		}
		siblings[level-1] = t.digest(sibling, level-1)
		n = next
	}

	return Path[D]{Index: index, Leaf: leaf, Siblings: siblings}, nil
}

func bit(index uint64, position int) uint64 {
	if position >= 64 {
		return 0
	}

	return (index >> uint(position)) & 1
}
