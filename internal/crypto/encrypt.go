// encrypt.go - BLS12-377 Diffie-Hellman encryption of field-element plaintexts.
//
// The sender draws an ephemeral scalar r, publishes R = r*G and derives the shared
// point r*pk. Each plaintext element is masked by adding the next value of a MiMC
// hash chain seeded by the shared point's coordinates.

package crypto

import (
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
)

// EncryptionSecretKey decrypts outputs addressed to its public key.
type EncryptionSecretKey struct {
	sk blsfr.Element
}

// EncryptionPublicKey is a G1 point sk*G.
type EncryptionPublicKey struct {
	p bls12377.G1Affine
}

// GenerateEncryptionKey generates a random BLS12-377 keypair for DH.
func GenerateEncryptionKey() (EncryptionSecretKey, error) {
	sk, err := RandomScalar()
	if err != nil {
		return EncryptionSecretKey{}, err
	}

	return EncryptionSecretKey{sk: sk}, nil
}

func (k EncryptionSecretKey) PublicKey() EncryptionPublicKey {
	_, _, g, _ := bls12377.Generators()
	var pk bls12377.G1Affine
	pk.ScalarMultiplication(&g, k.sk.BigInt(new(big.Int)))

	return EncryptionPublicKey{p: pk}
}

func (k EncryptionSecretKey) String() string {
	return "EncryptionSecretKey(redacted)"
}

func (pk EncryptionPublicKey) Point() bls12377.G1Affine {
	return pk.p
}

// EncryptionPublicKeyFromBytes decodes a compressed public key.
func EncryptionPublicKeyFromBytes(b []byte) (EncryptionPublicKey, error) {
	vc, err := ValueCommitmentFromBytes(b)
	if err != nil {
		return EncryptionPublicKey{}, err
	}

	return EncryptionPublicKey{p: vc.Point()}, nil
}

func (pk EncryptionPublicKey) Bytes() [bls12377.SizeOfG1AffineCompressed]byte {
	return pk.p.Bytes()
}

// Ciphertext carries the ephemeral point and the masked plaintext elements.
type Ciphertext struct {
	Ephemeral bls12377.G1Affine
	Fields    []fr.Element
}

// Seal encrypts plaintext to the recipient.
func Seal(recipient EncryptionPublicKey, plaintext []fr.Element) (Ciphertext, error) {
	r, err := RandomScalar()
	if err != nil {
		return Ciphertext{}, err
	}
	rBig := r.BigInt(new(big.Int))

	_, _, g, _ := bls12377.Generators()
	var ephemeral, shared bls12377.G1Affine
	ephemeral.ScalarMultiplication(&g, rBig)
	shared.ScalarMultiplication(&recipient.p, rBig)

	masks := maskChain(shared, len(plaintext))
	fields := make([]fr.Element, len(plaintext))
	for i := range plaintext {
		fields[i].Add(&plaintext[i], &masks[i])
	}

	return Ciphertext{Ephemeral: ephemeral, Fields: fields}, nil
}

// Open removes the masks. A ciphertext meant for another key decrypts to noise;
// callers recognize their outputs by checking an embedded public key.
func (k EncryptionSecretKey) Open(ct Ciphertext) []fr.Element {
	var shared bls12377.G1Affine
	shared.ScalarMultiplication(&ct.Ephemeral, k.sk.BigInt(new(big.Int)))

	masks := maskChain(shared, len(ct.Fields))
	plaintext := make([]fr.Element, len(ct.Fields))
	for i := range ct.Fields {
		plaintext[i].Sub(&ct.Fields[i], &masks[i])
	}

	return plaintext
}

// maskChain derives n masks: m_0 = H(x, y), m_i = H(m_{i-1}).
// The BLS12-377 base field is the BW6-761 scalar field, so coordinates embed without reduction.
func maskChain(shared bls12377.G1Affine, n int) []fr.Element {
	xBytes := shared.X.Bytes()
	yBytes := shared.Y.Bytes()
	var x, y fr.Element
	x.SetBytes(xBytes[:])
	y.SetBytes(yBytes[:])

	masks := make([]fr.Element, n)
	prev := Hash(DomainEncryptionMask, x, y)
	for i := range masks {
		masks[i] = prev
		prev = Hash(DomainEncryptionMask, prev)
	}

	return masks
}
