// codec.go - Stream encoding of trees and root histories.
//
// A tree is encoded as its height followed by the hashed leaves in index order;
// inner nodes are recomputed on decode.

package merkle

import (
	"io"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/stream"

	"ledgerengine/internal/serialize"
)

// Serialize writes the tree using write for digests.
func (t *Tree[D]) Serialize(w io.WriteSeeker, write func(io.WriteSeeker, D) error) error {
	if err := stream.Write(w, t.height); err != nil {
		return ierrors.Wrap(err, "failed to write tree height")
	}

	leaves := make([]D, 0, t.firstFree)
	for i := uint64(0); i < t.firstFree; i++ {
		leaf, err := t.LeafDigest(i)
		if err != nil {
			return err
		}
		leaves = append(leaves, leaf)
	}

	return serialize.WriteList(w, leaves, func(d D) error { return write(w, d) })
}

// ReadTree decodes a tree written by Serialize.
func ReadTree[D comparable](r io.ReadSeeker, hasher Hasher[D], read func(io.ReadSeeker) (D, error)) (*Tree[D], error) {
	height, err := stream.Read[uint8](r)
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read tree height")
	}
	leaves, err := serialize.ReadList(r, func() (D, error) { return read(r) })
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read tree leaves")
	}

	t := New(hasher, uint(height))
	for _, leaf := range leaves {
		if t, err = t.appendDigest(leaf); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// Serialize writes the depth and the retained entries oldest first.
func (h *RootHistory[D]) Serialize(w io.WriteSeeker, write func(io.WriteSeeker, D) error) error {
	if err := stream.Write(w, uint32(h.depth)); err != nil {
		return ierrors.Wrap(err, "failed to write history depth")
	}

	return serialize.WriteList(w, h.Entries(), func(e RootEntry[D]) error {
		if err := write(w, e.Root); err != nil {
			return err
		}

		return serialize.WriteTime(w, e.Time)
	})
}

func ReadRootHistory[D comparable](r io.ReadSeeker, read func(io.ReadSeeker) (D, error)) (*RootHistory[D], error) {
	depth, err := stream.Read[uint32](r)
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read history depth")
	}
	entries, err := serialize.ReadList(r, func() (RootEntry[D], error) {
		var e RootEntry[D]
		var err error
		if e.Root, err = read(r); err != nil {
			return e, err
		}
		e.Time, err = serialize.ReadTime(r)

		return e, err
	})
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read root history")
	}

	return RootHistoryFromEntries(int(depth), entries), nil
}

// WriteDigest and ReadDigest encode Blake2b tree digests.
func WriteDigest(w io.WriteSeeker, d [32]byte) error {
	return stream.Write(w, d)
}

func ReadDigest(r io.ReadSeeker) ([32]byte, error) {
	return stream.Read[[32]byte](r)
}
