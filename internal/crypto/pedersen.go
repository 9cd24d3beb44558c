// pedersen.go - Homomorphic value commitments on BLS12-377 G1.
//
// vc = value * G_type + rc * H, where G_type is hashed to the curve from the token type
// and H is a fixed blinding base. Commitments of one token type add up, which lets a
// transaction prove balance by exhibiting the summed blinding factor (see Schnorr binding).

package crypto

import (
	"encoding/hex"
	"math/big"
	"sync"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/lo"
)

var hashToCurveDST = []byte("LEDGER-V01-CS01-with-BLS12377G1_XMD:SHA-256_SSWU_RO_")

var (
	valueBlindingBase = lo.PanicOnErr(bls12377.HashToG1([]byte("ledger:value-blinding"), hashToCurveDST))
	valueBases        sync.Map
)

// BlindingBase returns H.
func BlindingBase() bls12377.G1Affine {
	return valueBlindingBase
}

// ValueBase returns G_type for a token type.
func ValueBase(t TokenType) bls12377.G1Affine {
	if cached, ok := valueBases.Load(t); ok {
		return cached.(bls12377.G1Affine)
	}
	base := lo.PanicOnErr(bls12377.HashToG1(t[:], hashToCurveDST))
	valueBases.Store(t, base)

	return base
}

// RandomScalar draws a uniformly random BLS12-377 scalar.
func RandomScalar() (blsfr.Element, error) {
	var s blsfr.Element
	if _, err := s.SetRandom(); err != nil {
		return s, ierrors.Wrap(ErrRandomness, err.Error())
	}

	return s, nil
}

// ValueCommitment is a Pedersen commitment to a (possibly negative) value of one token type.
type ValueCommitment struct {
	p bls12377.G1Affine
}

// CommitValue computes value * G_type + rc * H. Negative values are reduced modulo the group order.
func CommitValue(t TokenType, value *big.Int, rc blsfr.Element) ValueCommitment {
	base := ValueBase(t)
	v := new(big.Int).Mod(value, blsfr.Modulus())

	var valuePart, blindPart, out bls12377.G1Affine
	valuePart.ScalarMultiplication(&base, v)
	blindPart.ScalarMultiplication(&valueBlindingBase, rc.BigInt(new(big.Int)))
	out.Add(&valuePart, &blindPart)

	return ValueCommitment{p: out}
}

// CommitBlinding computes rc * H, the commitment to zero value.
func CommitBlinding(rc blsfr.Element) ValueCommitment {
	var out bls12377.G1Affine
	out.ScalarMultiplication(&valueBlindingBase, rc.BigInt(new(big.Int)))

	return ValueCommitment{p: out}
}

// ValueCommitmentFromPoint wraps a curve point.
func ValueCommitmentFromPoint(p bls12377.G1Affine) ValueCommitment {
	return ValueCommitment{p: p}
}

func (c ValueCommitment) Add(other ValueCommitment) ValueCommitment {
	var out bls12377.G1Affine
	out.Add(&c.p, &other.p)

	return ValueCommitment{p: out}
}

func (c ValueCommitment) Sub(other ValueCommitment) ValueCommitment {
	var out bls12377.G1Affine
	out.Sub(&c.p, &other.p)

	return ValueCommitment{p: out}
}

func (c ValueCommitment) Equal(other ValueCommitment) bool {
	return c.p.Equal(&other.p)
}

func (c ValueCommitment) Point() bls12377.G1Affine {
	return c.p
}

func (c ValueCommitment) Bytes() [bls12377.SizeOfG1AffineCompressed]byte {
	return c.p.Bytes()
}

func (c ValueCommitment) String() string {
	b := c.p.Bytes()

	return hex.EncodeToString(b[:])
}

// ValueCommitmentFromBytes decodes a compressed commitment.
func ValueCommitmentFromBytes(b []byte) (ValueCommitment, error) {
	var p bls12377.G1Affine
	if _, err := p.SetBytes(b); err != nil {
		return ValueCommitment{}, ierrors.Wrap(ErrInvalidPoint, err.Error())
	}

	return ValueCommitment{p: p}, nil
}
