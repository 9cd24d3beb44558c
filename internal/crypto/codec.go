// codec.go - Stream encoding of curve points, scalars, signatures and ciphertexts.

package crypto

import (
	"io"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/stream"

	"ledgerengine/internal/serialize"
)

func writePoint(w io.WriteSeeker, p bls12377.G1Affine) error {
	b := p.Bytes()

	return stream.WriteBytes(w, b[:])
}

func readPoint(r io.ReadSeeker) (bls12377.G1Affine, error) {
	var p bls12377.G1Affine
	b, err := stream.ReadBytes(r, bls12377.SizeOfG1AffineCompressed)
	if err != nil {
		return p, err
	}
	if _, err := p.SetBytes(b); err != nil {
		return p, ierrors.Wrap(ErrInvalidPoint, err.Error())
	}

	return p, nil
}

func WriteScalar(w io.WriteSeeker, s blsfr.Element) error {
	b := s.Bytes()

	return stream.WriteBytes(w, b[:])
}

func ReadScalar(r io.ReadSeeker) (blsfr.Element, error) {
	var s blsfr.Element
	b, err := stream.ReadBytes(r, blsfr.Bytes)
	if err != nil {
		return s, err
	}
	if err := s.SetBytesCanonical(b); err != nil {
		return s, ErrInvalidScalar
	}

	return s, nil
}

func (c ValueCommitment) Serialize(w io.WriteSeeker) error {
	return writePoint(w, c.p)
}

func ReadValueCommitment(r io.ReadSeeker) (ValueCommitment, error) {
	p, err := readPoint(r)

	return ValueCommitment{p: p}, err
}

func (vk VerifyingKey) Serialize(w io.WriteSeeker) error {
	return writePoint(w, vk.p)
}

func ReadVerifyingKey(r io.ReadSeeker) (VerifyingKey, error) {
	p, err := readPoint(r)

	return VerifyingKey{p: p}, err
}

func (pk EncryptionPublicKey) Serialize(w io.WriteSeeker) error {
	return writePoint(w, pk.p)
}

func ReadEncryptionPublicKey(r io.ReadSeeker) (EncryptionPublicKey, error) {
	p, err := readPoint(r)

	return EncryptionPublicKey{p: p}, err
}

func (s Signature) Serialize(w io.WriteSeeker) error {
	if err := writePoint(w, s.R); err != nil {
		return err
	}

	return WriteScalar(w, s.S)
}

func ReadSignature(r io.ReadSeeker) (Signature, error) {
	var sig Signature
	var err error
	if sig.R, err = readPoint(r); err != nil {
		return sig, ierrors.Wrap(err, "failed to read signature R")
	}
	if sig.S, err = ReadScalar(r); err != nil {
		return sig, ierrors.Wrap(err, "failed to read signature s")
	}

	return sig, nil
}

func (c Ciphertext) Serialize(w io.WriteSeeker) error {
	if err := writePoint(w, c.Ephemeral); err != nil {
		return err
	}

	return serialize.WriteElements(w, c.Fields)
}

func ReadCiphertext(r io.ReadSeeker) (Ciphertext, error) {
	var c Ciphertext
	var err error
	if c.Ephemeral, err = readPoint(r); err != nil {
		return c, ierrors.Wrap(ErrInvalidCiphertext, err.Error())
	}
	if c.Fields, err = serialize.ReadElements(r); err != nil {
		return c, ierrors.Wrap(ErrInvalidCiphertext, err.Error())
	}

	return c, nil
}

func (pk CoinPublicKey) Serialize(w io.WriteSeeker) error {
	return serialize.WriteElement(w, pk.Element())
}

func ReadCoinPublicKey(r io.ReadSeeker) (CoinPublicKey, error) {
	e, err := serialize.ReadElement(r)

	return CoinPublicKey(e), err
}
