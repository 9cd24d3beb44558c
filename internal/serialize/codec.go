// codec.go - Header framing and stream helpers shared by all serializable types.
//
// A framed value is: magic | tag | version | network | body. Bodies are written with
// hive.go's stream helpers. Sets are always emitted in canonical order, and readers
// re-sort whatever order they receive, so encode(decode(b)) is idempotent.

package serialize

import (
	"bytes"
	"io"
	"math/big"
	"slices"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2"
	"github.com/iotaledger/hive.go/serializer/v2/stream"
)

var magic = [4]byte{'L', 'G', 'R', 0x01}

// Serializable is implemented by every framed top-level type.
type Serializable interface {
	Tag() string
	Serialize(w io.WriteSeeker) error
}

// Header precedes every framed body.
type Header struct {
	Tag     string
	Version uint16
	Network NetworkID
}

func WriteHeader(w io.WriteSeeker, h Header) error {
	if err := stream.WriteBytes(w, magic[:]); err != nil {
		return ierrors.Wrap(err, "failed to write magic")
	}
	if err := WriteString(w, h.Tag); err != nil {
		return ierrors.Wrap(err, "failed to write tag")
	}
	if err := stream.Write(w, h.Version); err != nil {
		return ierrors.Wrap(err, "failed to write version")
	}
	if err := stream.Write(w, uint8(h.Network)); err != nil {
		return ierrors.Wrap(err, "failed to write network")
	}

	return nil
}

func ReadHeader(r io.ReadSeeker) (Header, error) {
	var h Header
	m, err := stream.ReadBytes(r, len(magic))
	if err != nil {
		return h, ierrors.Wrap(err, "failed to read magic")
	}
	if !bytes.Equal(m, magic[:]) {
		return h, ErrBadMagic
	}
	if h.Tag, err = ReadString(r); err != nil {
		return h, ierrors.Wrap(err, "failed to read tag")
	}
	if h.Version, err = stream.Read[uint16](r); err != nil {
		return h, ierrors.Wrap(err, "failed to read version")
	}
	network, err := stream.Read[uint8](r)
	if err != nil {
		return h, ierrors.Wrap(err, "failed to read network")
	}
	h.Network = NetworkID(network)
	if !h.Network.Valid() {
		return h, ErrUnknownNetwork
	}

	return h, nil
}

// Marshal frames v for the given network using the Default registry.
func Marshal(network NetworkID, v Serializable) ([]byte, error) {
	d, ok := Default.Lookup(v.Tag())
	if !ok {
		return nil, ierrors.Wrapf(ErrUnknownTag, "%s", v.Tag())
	}
	if !network.Valid() {
		return nil, ErrUnknownNetwork
	}

	buf := stream.NewByteBuffer()
	if err := WriteHeader(buf, Header{Tag: d.Tag, Version: d.Version, Network: network}); err != nil {
		return nil, err
	}
	if err := v.Serialize(buf); err != nil {
		return nil, ierrors.Wrapf(err, "failed to serialize %s", d.Tag)
	}

	return buf.Bytes()
}

// Unmarshal checks the header against tag and network, reads the body and rejects trailing bytes.
func Unmarshal[T any](network NetworkID, tag string, data []byte, read func(r io.ReadSeeker) (T, error)) (T, error) {
	var zero T

	d, ok := Default.Lookup(tag)
	if !ok {
		return zero, ierrors.Wrapf(ErrUnknownTag, "%s", tag)
	}

	reader := stream.NewByteReader(data)
	h, err := ReadHeader(reader)
	if err != nil {
		return zero, err
	}
	if h.Tag != tag {
		return zero, ierrors.Wrapf(ErrTagMismatch, "expected %s, got %s", tag, h.Tag)
	}
	if h.Network != network {
		return zero, ierrors.Wrapf(ErrNetworkMismatch, "expected %s, got %s", network, h.Network)
	}
	if h.Version != d.Version {
		return zero, ierrors.Wrapf(ErrUnsupportedVersion, "%s version %d (supported %d)", tag, h.Version, d.Version)
	}

	v, err := read(reader)
	if err != nil {
		return zero, ierrors.Wrapf(err, "failed to deserialize %s", tag)
	}
	if reader.BytesRead() != len(data) {
		return zero, ierrors.Wrapf(ErrTrailingBytes, "%d of %d bytes consumed", reader.BytesRead(), len(data))
	}

	return v, nil
}

// PeekHeader reads only the header of a framed value.
func PeekHeader(data []byte) (Header, error) {
	return ReadHeader(stream.NewByteReader(data))
}

func WriteElement(w io.WriteSeeker, e fr.Element) error {
	b := e.Bytes()

	return stream.WriteBytes(w, b[:])
}

// ReadElement rejects encodings that are not reduced modulo the field order.
func ReadElement(r io.ReadSeeker) (fr.Element, error) {
	var e fr.Element
	b, err := stream.ReadBytes(r, fr.Bytes)
	if err != nil {
		return e, err
	}
	if err := e.SetBytesCanonical(b); err != nil {
		return e, ErrNonCanonical
	}

	return e, nil
}

func WriteElements(w io.WriteSeeker, es []fr.Element) error {
	return stream.WriteCollection(w, serializer.SeriLengthPrefixTypeAsUint32, func() (int, error) {
		for i := range es {
			if err := WriteElement(w, es[i]); err != nil {
				return 0, err
			}
		}

		return len(es), nil
	})
}

func ReadElements(r io.ReadSeeker) ([]fr.Element, error) {
	var es []fr.Element
	err := stream.ReadCollection(r, serializer.SeriLengthPrefixTypeAsUint32, func(int) error {
		e, err := ReadElement(r)
		if err != nil {
			return err
		}
		es = append(es, e)

		return nil
	})

	return es, err
}

// WriteValue writes a non-negative value bounded by the field modulus.
func WriteValue(w io.WriteSeeker, v *big.Int) error {
	if v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return ErrValueTooLarge
	}
	var e fr.Element
	e.SetBigInt(v)

	return WriteElement(w, e)
}

func ReadValue(r io.ReadSeeker) (*big.Int, error) {
	e, err := ReadElement(r)
	if err != nil {
		return nil, err
	}

	return e.BigInt(new(big.Int)), nil
}

// WriteSignedValue writes a sign byte followed by the magnitude.
func WriteSignedValue(w io.WriteSeeker, v *big.Int) error {
	if err := WriteBool(w, v.Sign() < 0); err != nil {
		return err
	}

	return WriteValue(w, new(big.Int).Abs(v))
}

func ReadSignedValue(r io.ReadSeeker) (*big.Int, error) {
	negative, err := ReadBool(r)
	if err != nil {
		return nil, err
	}
	v, err := ReadValue(r)
	if err != nil {
		return nil, err
	}
	if negative {
		if v.Sign() == 0 {
			return nil, ErrNonCanonical
		}
		v.Neg(v)
	}

	return v, nil
}

func WriteString(w io.WriteSeeker, s string) error {
	return stream.WriteBytesWithSize(w, []byte(s), serializer.SeriLengthPrefixTypeAsUint16)
}

func ReadString(r io.ReadSeeker) (string, error) {
	b, err := stream.ReadBytesWithSize(r, serializer.SeriLengthPrefixTypeAsUint16)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func WriteBlob(w io.WriteSeeker, b []byte) error {
	return stream.WriteBytesWithSize(w, b, serializer.SeriLengthPrefixTypeAsUint32)
}

func ReadBlob(r io.ReadSeeker) ([]byte, error) {
	return stream.ReadBytesWithSize(r, serializer.SeriLengthPrefixTypeAsUint32)
}

func WriteBool(w io.WriteSeeker, b bool) error {
	var v uint8
	if b {
		v = 1
	}

	return stream.Write(w, v)
}

func ReadBool(r io.ReadSeeker) (bool, error) {
	v, err := stream.Read[uint8](r)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ierrors.Wrapf(ErrUnknownVariant, "bool byte %d", v)
	}
}

// WriteTime writes whole Unix seconds; the zero time encodes as 0.
func WriteTime(w io.WriteSeeker, t time.Time) error {
	if t.IsZero() {
		return stream.Write(w, uint64(0))
	}
	if t.Unix() < 0 {
		return ierrors.Wrap(ErrValueTooLarge, "time before epoch")
	}

	return stream.Write(w, uint64(t.Unix()))
}

func ReadTime(r io.ReadSeeker) (time.Time, error) {
	secs, err := stream.Read[uint64](r)
	if err != nil {
		return time.Time{}, err
	}
	if secs == 0 {
		return time.Time{}, nil
	}

	return time.Unix(int64(secs), 0).UTC(), nil
}

// WriteOptional writes a presence flag and, if present, the value.
func WriteOptional(w io.WriteSeeker, present bool, write func() error) error {
	if err := WriteBool(w, present); err != nil {
		return err
	}
	if !present {
		return nil
	}

	return write()
}

// ReadOptional reads a presence flag and, if set, invokes read.
func ReadOptional(r io.ReadSeeker, read func() error) (bool, error) {
	present, err := ReadBool(r)
	if err != nil || !present {
		return false, err
	}

	return true, read()
}

// WriteSet emits items in canonical order without modifying the caller's slice.
func WriteSet[T any](w io.WriteSeeker, items []T, compare func(a, b T) int, write func(T) error) error {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, compare)

	return stream.WriteCollection(w, serializer.SeriLengthPrefixTypeAsUint32, func() (int, error) {
		for _, item := range sorted {
			if err := write(item); err != nil {
				return 0, err
			}
		}

		return len(sorted), nil
	})
}

// ReadSet accepts any member order, returns the canonical order and rejects duplicates.
func ReadSet[T any](r io.ReadSeeker, compare func(a, b T) int, read func() (T, error)) ([]T, error) {
	var items []T
	if err := stream.ReadCollection(r, serializer.SeriLengthPrefixTypeAsUint32, func(int) error {
		item, err := read()
		if err != nil {
			return err
		}
		items = append(items, item)

		return nil
	}); err != nil {
		return nil, err
	}

	slices.SortFunc(items, compare)
	for i := 1; i < len(items); i++ {
		if compare(items[i-1], items[i]) == 0 {
			return nil, ErrDuplicateMember
		}
	}

	return items, nil
}

// WriteList emits items in the given order; used where order is semantic.
func WriteList[T any](w io.WriteSeeker, items []T, write func(T) error) error {
	return stream.WriteCollection(w, serializer.SeriLengthPrefixTypeAsUint32, func() (int, error) {
		for _, item := range items {
			if err := write(item); err != nil {
				return 0, err
			}
		}

		return len(items), nil
	})
}

func ReadList[T any](r io.ReadSeeker, read func() (T, error)) ([]T, error) {
	var items []T
	err := stream.ReadCollection(r, serializer.SeriLengthPrefixTypeAsUint32, func(int) error {
		item, err := read()
		if err != nil {
			return err
		}
		items = append(items, item)

		return nil
	})

	return items, err
}

// CompareElements orders field elements canonically.
func CompareElements(a, b fr.Element) int {
	return a.Cmp(&b)
}
