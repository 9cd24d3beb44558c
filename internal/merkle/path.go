package merkle

// Path authenticates one leaf. Siblings[i] is the sibling digest at level i,
// counted from the leaves.
type Path[D comparable] struct {
	Index    uint64
	Leaf     D
	Siblings []D
}

// Root recomputes the root the path commits to.
func (p Path[D]) Root(hasher Hasher[D]) D {
	cur := p.Leaf
	for i, sibling := range p.Siblings {
		if bit(p.Index, i) == 0 {
			cur = hasher.Node(cur, sibling)
		} else {
			cur = hasher.Node(sibling, cur)
		}
	}

	return cur
}

// Verify checks the path against a root and the expected tree height.
func (p Path[D]) Verify(hasher Hasher[D], height uint8, root D) error {
	if len(p.Siblings) != int(height) {
		return ErrPathLength
	}
	if p.Root(hasher) != root {
		return ErrRootMismatch
	}

	return nil
}

// Directions returns the index bits from the leaf upwards, as used by circuit witnesses.
func (p Path[D]) Directions() []uint64 {
	out := make([]uint64, len(p.Siblings))
	for i := range out {
		out[i] = bit(p.Index, i)
	}

	return out
}
