// schnorr.go - Schnorr signatures on BLS12-377 G1.
//
// Two bases are used: the group generator G for unshielded owner keys, and the
// value blinding base H for binding signatures, whose verifying key is the
// transaction's net value commitment.

package crypto

import (
	"encoding/hex"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
)

// Signature is (R, s) with s*B = R + e*P.
type Signature struct {
	R bls12377.G1Affine
	S blsfr.Element
}

func (s Signature) String() string {
	r := s.R.Bytes()
	sb := s.S.Bytes()

	return hex.EncodeToString(r[:]) + hex.EncodeToString(sb[:])
}

// SigningKey signs unshielded spends and maintenance updates.
type SigningKey struct {
	sk blsfr.Element
}

// VerifyingKey is sk*G.
type VerifyingKey struct {
	p bls12377.G1Affine
}

// GenerateSigningKey draws a fresh signing key.
func GenerateSigningKey() (SigningKey, error) {
	sk, err := RandomScalar()
	if err != nil {
		return SigningKey{}, err
	}

	return SigningKey{sk: sk}, nil
}

func (k SigningKey) VerifyingKey() VerifyingKey {
	_, _, g, _ := bls12377.Generators()
	var p bls12377.G1Affine
	p.ScalarMultiplication(&g, k.sk.BigInt(new(big.Int)))

	return VerifyingKey{p: p}
}

func (k SigningKey) Sign(msg []byte) (Signature, error) {
	_, _, g, _ := bls12377.Generators()
	pub := k.VerifyingKey()

	return signWithBase(g, pub.p, k.sk, msg)
}

func (k SigningKey) String() string {
	return "SigningKey(redacted)"
}

// VerifyingKeyFromBytes decodes a compressed verifying key.
func VerifyingKeyFromBytes(b []byte) (VerifyingKey, error) {
	vc, err := ValueCommitmentFromBytes(b)
	if err != nil {
		return VerifyingKey{}, err
	}

	return VerifyingKey{p: vc.Point()}, nil
}

func (vk VerifyingKey) Verify(msg []byte, sig Signature) bool {
	_, _, g, _ := bls12377.Generators()

	return verifyWithBase(g, vk.p, msg, sig)
}

func (vk VerifyingKey) Bytes() [bls12377.SizeOfG1AffineCompressed]byte {
	return vk.p.Bytes()
}

// Address hashes the key into the owner address of unshielded outputs.
func (vk VerifyingKey) Address() UserAddress {
	b := vk.p.Bytes()

	return UserAddress(Blake2b([]byte("ledger:user-address"), b[:]))
}

func (vk VerifyingKey) String() string {
	b := vk.p.Bytes()

	return hex.EncodeToString(b[:])
}

// SignBinding signs msg with the binding randomness rc; the verifying key is rc*H.
// Zero randomness is refused since its key is the identity.
func SignBinding(rc blsfr.Element, msg []byte) (Signature, error) {
	if rc.IsZero() {
		return Signature{}, ErrIdentityKey
	}
	pub := CommitBlinding(rc)

	return signWithBase(valueBlindingBase, pub.p, rc, msg)
}

// VerifyBinding checks a binding signature against the net value commitment.
func VerifyBinding(commitment ValueCommitment, msg []byte, sig Signature) bool {
	return verifyWithBase(valueBlindingBase, commitment.p, msg, sig)
}

func signWithBase(base, pub bls12377.G1Affine, sk blsfr.Element, msg []byte) (Signature, error) {
	k, err := RandomScalar()
	if err != nil {
		return Signature{}, err
	}
	var r bls12377.G1Affine
	r.ScalarMultiplication(&base, k.BigInt(new(big.Int)))

	e := challenge(r, pub, msg)
	var s blsfr.Element
	s.Mul(&e, &sk)
	s.Add(&s, &k)

	return Signature{R: r, S: s}, nil
}

// verifyWithBase rejects the identity key, which would accept any message.
func verifyWithBase(base, pub bls12377.G1Affine, msg []byte, sig Signature) bool {
	if pub.IsInfinity() {
		return false
	}
	e := challenge(sig.R, pub, msg)

	var lhs, ePub, rhs bls12377.G1Affine
	lhs.ScalarMultiplication(&base, sig.S.BigInt(new(big.Int)))
	ePub.ScalarMultiplication(&pub, e.BigInt(new(big.Int)))
	rhs.Add(&sig.R, &ePub)

	return lhs.Equal(&rhs)
}

func challenge(r, pub bls12377.G1Affine, msg []byte) blsfr.Element {
	rb := r.Bytes()
	pb := pub.Bytes()
	digest := Blake2b([]byte("ledger:schnorr"), rb[:], pb[:], msg)

	var e blsfr.Element
	e.SetBytes(digest[:])

	return e
}
