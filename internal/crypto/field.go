// field.go - Scalar field encoding of coin values and hash inputs.

package crypto

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
)

// MaxValue returns the largest coin value that encodes into one field element (modulus - 1).
func MaxValue() *big.Int {
	return new(big.Int).Sub(fr.Modulus(), big.NewInt(1))
}

// EncodeValue maps a coin value onto the scalar field.
// Values above modulus - 1 are rejected rather than reduced.
func EncodeValue(v *big.Int) (fr.Element, error) {
	var e fr.Element
	if v == nil || v.Sign() < 0 {
		return e, ErrNegativeValue
	}
	if v.Cmp(fr.Modulus()) >= 0 {
		return e, ErrValueOutOfBounds
	}
	e.SetBigInt(v)

	return e, nil
}

// ElementToBig returns the canonical integer of a field element.
func ElementToBig(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

// ElementFromUint64 is a convenience constructor for small constants.
func ElementFromUint64(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)

	return e
}

// RandomElement draws a uniformly random field element.
func RandomElement() (fr.Element, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return e, ierrors.Wrap(ErrRandomness, err.Error())
	}

	return e, nil
}

// CompareElements orders elements by their canonical integer value.
func CompareElements(a, b fr.Element) int {
	return a.Cmp(&b)
}
