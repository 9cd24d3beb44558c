package merkle

import (
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/stream"
	"github.com/stretchr/testify/require"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/serialize"
)

func TestHeightClamp(t *testing.T) {
	for _, h := range []uint{0, 1, 32, 254, 255, 256, 300, 1 << 20} {
		tree := New[[32]byte](Blake2bHasher{}, h)
		want := h
		if want > MaxHeight {
			want = MaxHeight
		}
		require.Equal(t, uint8(want), tree.Height(), "height %d", h)

		_, clamped := ClampedHeight(h)
		require.Equal(t, h > MaxHeight, clamped)
	}
}

func TestAppendAndPath(t *testing.T) {
	hasher := MiMCHasher{}
	tree := New[fr.Element](hasher, 8)

	var err error
	for i := uint64(0); i < 5; i++ {
		tree, err = tree.Append(crypto.ElementFromUint64(100 + i))
		require.NoError(t, err)
	}
	require.Equal(t, uint64(5), tree.FirstFree())

	for i := uint64(0); i < 5; i++ {
		path, err := tree.Path(i)
		require.NoError(t, err)
		require.NoError(t, path.Verify(hasher, tree.Height(), tree.Root()))
		require.Equal(t, hasher.Leaf(crypto.ElementFromUint64(100+i)), path.Leaf)
	}

	_, err = tree.Path(5)
	require.True(t, ierrors.Is(err, ErrIndexOutOfRange))
}

func TestPersistence(t *testing.T) {
	tree := New[[32]byte](Blake2bHasher{}, 4)
	before := tree.Root()

	next, err := tree.Append([32]byte{1})
	require.NoError(t, err)
	require.NotEqual(t, before, next.Root())
	require.Equal(t, before, tree.Root(), "appending must not modify the previous tree")
	require.Equal(t, uint64(0), tree.FirstFree())

	updated, err := next.Update(0, [32]byte{2})
	require.NoError(t, err)
	require.NotEqual(t, next.Root(), updated.Root())

	oldPath, err := next.Path(0)
	require.NoError(t, err)
	require.NoError(t, oldPath.Verify(Blake2bHasher{}, 4, next.Root()))
	require.True(t, ierrors.Is(oldPath.Verify(Blake2bHasher{}, 4, updated.Root()), ErrRootMismatch))
}

func TestTreeFull(t *testing.T) {
	tree := New[[32]byte](Blake2bHasher{}, 1)
	var err error
	tree, err = tree.Append([32]byte{1})
	require.NoError(t, err)
	tree, err = tree.Append([32]byte{2})
	require.NoError(t, err)
	_, err = tree.Append([32]byte{3})
	require.ErrorIs(t, err, ErrTreeFull)
}

func TestMaxHeightPath(t *testing.T) {
	tree := New[[32]byte](Blake2bHasher{}, 1000)
	tree, err := tree.Append([32]byte{7})
	require.NoError(t, err)
	path, err := tree.Path(0)
	require.NoError(t, err)
	require.Len(t, path.Siblings, MaxHeight)
	require.NoError(t, path.Verify(Blake2bHasher{}, MaxHeight, tree.Root()))
}

func TestRootHistory(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	h := NewRootHistory[[32]byte](3)
	for i := byte(0); i < 5; i++ {
		h = h.Insert([32]byte{i}, base.Add(time.Duration(i)*time.Minute))
	}
	require.Equal(t, 3, h.Len())
	require.False(t, h.Contains([32]byte{1}))
	require.True(t, h.Contains([32]byte{2}))

	same := h.Insert([32]byte{4}, base.Add(time.Hour))
	require.Equal(t, 3, same.Len())

	pruned := h.PruneBefore(base.Add(time.Hour))
	require.Equal(t, 1, pruned.Len())
	latest, ok := pruned.Latest()
	require.True(t, ok)
	require.Equal(t, [32]byte{4}, latest.Root)
	require.Equal(t, 3, h.Len(), "pruning must not modify the previous history")
}

func TestCodec(t *testing.T) {
	tree := New[fr.Element](MiMCHasher{}, 6)
	var err error
	for i := uint64(1); i <= 3; i++ {
		tree, err = tree.Append(crypto.ElementFromUint64(i))
		require.NoError(t, err)
	}
	history := NewRootHistory[fr.Element](4).Insert(tree.Root(), time.Unix(10, 0))

	buf := stream.NewByteBuffer()
	require.NoError(t, tree.Serialize(buf, serialize.WriteElement))
	require.NoError(t, history.Serialize(buf, serialize.WriteElement))
	data, err := buf.Bytes()
	require.NoError(t, err)

	r := stream.NewByteReader(data)
	decoded, err := ReadTree[fr.Element](r, MiMCHasher{}, serialize.ReadElement)
	require.NoError(t, err)
	require.Equal(t, tree.Root(), decoded.Root())
	require.Equal(t, tree.FirstFree(), decoded.FirstFree())

	decodedHistory, err := ReadRootHistory[fr.Element](r, serialize.ReadElement)
	require.NoError(t, err)
	require.True(t, decodedHistory.Contains(tree.Root()))
	require.Equal(t, len(data), r.BytesRead())
}
