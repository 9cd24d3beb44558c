package serialize_test

import (
	"cmp"
	"io"
	"testing"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/stream"
	"github.com/stretchr/testify/require"

	"ledgerengine/internal/serialize"
	"ledgerengine/internal/serialize/serializetest"
)

// blob is framed under the "proof" decomposition: a flag and a byte string.
type blob struct {
	Mock bool
	Data []byte
}

func (blob) Tag() string { return "proof" }

func (b blob) Serialize(w io.WriteSeeker) error {
	if err := serialize.WriteBool(w, b.Mock); err != nil {
		return err
	}

	return serialize.WriteBlob(w, b.Data)
}

func readBlob(r io.ReadSeeker) (blob, error) {
	var b blob
	var err error
	if b.Mock, err = serialize.ReadBool(r); err != nil {
		return b, err
	}
	b.Data, err = serialize.ReadBlob(r)

	return b, err
}

func TestFraming(t *testing.T) {
	data, err := serialize.Marshal(serialize.DevNet, blob{Mock: true, Data: []byte{1, 2, 3}})
	require.NoError(t, err)

	h, err := serialize.PeekHeader(data)
	require.NoError(t, err)
	require.Equal(t, serialize.Header{Tag: "proof", Version: 1, Network: serialize.DevNet}, h)

	decoded, err := serialize.Unmarshal(serialize.DevNet, "proof", data, readBlob)
	require.NoError(t, err)
	require.Equal(t, blob{Mock: true, Data: []byte{1, 2, 3}}, decoded)

	_, err = serialize.Unmarshal(serialize.MainNet, "proof", data, readBlob)
	require.True(t, ierrors.Is(err, serialize.ErrNetworkMismatch))

	_, err = serialize.Unmarshal(serialize.DevNet, "proof-erased", data, readBlob)
	require.True(t, ierrors.Is(err, serialize.ErrTagMismatch))

	_, err = serialize.Unmarshal(serialize.DevNet, "no-such-tag", data, readBlob)
	require.True(t, ierrors.Is(err, serialize.ErrUnknownTag))

	_, err = serialize.Unmarshal(serialize.DevNet, "proof", append(data, 0), readBlob)
	require.True(t, ierrors.Is(err, serialize.ErrTrailingBytes))

	// magic, tag length and "proof" precede the little-endian version
	older := append([]byte(nil), data...)
	older[11] = 0
	_, err = serialize.Unmarshal(serialize.DevNet, "proof", older, readBlob)
	require.True(t, ierrors.Is(err, serialize.ErrUnsupportedVersion))

	corrupt := append([]byte{'X'}, data[1:]...)
	_, err = serialize.Unmarshal(serialize.DevNet, "proof", corrupt, readBlob)
	require.True(t, ierrors.Is(err, serialize.ErrBadMagic))

	_, err = serialize.Marshal(serialize.NetworkID(200), blob{})
	require.True(t, ierrors.Is(err, serialize.ErrUnknownNetwork))
}

func TestFramingGolden(t *testing.T) {
	serializetest.Golden(t, "", serialize.DevNet, blob{Mock: true, Data: []byte{1, 2, 3}}, readBlob)
}

func TestSetsAreCanonical(t *testing.T) {
	write := func(items []uint32) []byte {
		buf := stream.NewByteBuffer()
		require.NoError(t, serialize.WriteSet(buf, items, cmp.Compare[uint32], func(v uint32) error {
			return stream.Write(buf, v)
		}))
		data, err := buf.Bytes()
		require.NoError(t, err)

		return data
	}
	read := func(data []byte) ([]uint32, error) {
		r := stream.NewByteReader(data)

		return serialize.ReadSet(r, cmp.Compare[uint32], func() (uint32, error) {
			return stream.Read[uint32](r)
		})
	}

	items := []uint32{3, 1, 2}
	require.Equal(t, write([]uint32{1, 2, 3}), write(items))
	require.Equal(t, []uint32{3, 1, 2}, items, "the caller's slice is left alone")

	got, err := read(write(items))
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3}, got)

	_, err = read(write([]uint32{4, 4}))
	require.True(t, ierrors.Is(err, serialize.ErrDuplicateMember))
}

func TestParseNetworkID(t *testing.T) {
	for _, n := range []serialize.NetworkID{serialize.Undeployed, serialize.DevNet, serialize.TestNet, serialize.MainNet} {
		parsed, err := serialize.ParseNetworkID(n.String())
		require.NoError(t, err)
		require.Equal(t, n, parsed)
	}

	_, err := serialize.ParseNetworkID("moonnet")
	require.True(t, ierrors.Is(err, serialize.ErrUnknownNetwork))
}
