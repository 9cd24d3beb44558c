// history.go - Bounded history of past roots.
//
// Proofs are built against a root the prover saw, which may be a few blocks old
// by the time the transaction is applied. The history keeps the most recent
// roots with the block time they became valid.

package merkle

import (
	"time"

	"github.com/benbjohnson/immutable"
)

// DefaultHistoryDepth bounds the number of retained roots.
const DefaultHistoryDepth = 256

// RootEntry is one retained root.
type RootEntry[D comparable] struct {
	Root D
	Time time.Time
}

// RootHistory is an immutable, bounded, oldest-first list of roots.
type RootHistory[D comparable] struct {
	entries *immutable.List[RootEntry[D]]
	depth   int
}

func NewRootHistory[D comparable](depth int) *RootHistory[D] {
	if depth < 1 {
		depth = 1
	}

	return &RootHistory[D]{entries: immutable.NewList[RootEntry[D]](), depth: depth}
}

func (h *RootHistory[D]) Depth() int {
	return h.depth
}

func (h *RootHistory[D]) Len() int {
	return h.entries.Len()
}

// Insert records root as valid from t. Repeating the latest root is a no-op.
func (h *RootHistory[D]) Insert(root D, t time.Time) *RootHistory[D] {
	if latest, ok := h.Latest(); ok && latest.Root == root {
		return h
	}

	entries := h.entries.Append(RootEntry[D]{Root: root, Time: t})
	if entries.Len() > h.depth {
		entries = entries.Slice(entries.Len()-h.depth, entries.Len())
	}

	return &RootHistory[D]{entries: entries, depth: h.depth}
}

func (h *RootHistory[D]) Contains(root D) bool {
	itr := h.entries.Iterator()
	for !itr.Done() {
		_, e := itr.Next()
		if e.Root == root {
			return true
		}
	}

	return false
}

func (h *RootHistory[D]) Latest() (RootEntry[D], bool) {
	if h.entries.Len() == 0 {
		return RootEntry[D]{}, false
	}

	return h.entries.Get(h.entries.Len() - 1), true
}

// PruneBefore drops entries that became valid before cutoff. The latest root is always kept.
func (h *RootHistory[D]) PruneBefore(cutoff time.Time) *RootHistory[D] {
	n := h.entries.Len()
	start := 0
	for start < n-1 && h.entries.Get(start).Time.Before(cutoff) {
		start++
	}
	if start == 0 {
		return h
	}

	return &RootHistory[D]{entries: h.entries.Slice(start, n), depth: h.depth}
}

// Entries returns the retained roots oldest first.
func (h *RootHistory[D]) Entries() []RootEntry[D] {
	out := make([]RootEntry[D], 0, h.entries.Len())
	itr := h.entries.Iterator()
	for !itr.Done() {
		_, e := itr.Next()
		out = append(out, e)
	}

	return out
}

// RootHistoryFromEntries rebuilds a history, keeping at most depth of the newest entries.
func RootHistoryFromEntries[D comparable](depth int, entries []RootEntry[D]) *RootHistory[D] {
	h := NewRootHistory[D](depth)
	for _, e := range entries {
		h = &RootHistory[D]{entries: h.entries.Append(e), depth: h.depth}
	}
	if h.entries.Len() > h.depth {
		h.entries = h.entries.Slice(h.entries.Len()-h.depth, h.entries.Len())
	}

	return h
}
