package crypto

import (
	"math/big"
	"strings"
	"testing"

	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/stream"
	"github.com/stretchr/testify/require"
)

func TestEncodeValueBounds(t *testing.T) {
	max := MaxValue()

	_, err := EncodeValue(max)
	require.NoError(t, err, "modulus - 1 must encode")

	for _, v := range []*big.Int{
		fr.Modulus(),
		new(big.Int).Add(fr.Modulus(), big.NewInt(1)),
		new(big.Int).Lsh(big.NewInt(1), 400),
	} {
		_, err := EncodeValue(v)
		require.True(t, ierrors.Is(err, ErrValueOutOfBounds))
		require.NotContains(t, err.Error(), v.String())
	}

	_, err = EncodeValue(big.NewInt(-1))
	require.True(t, ierrors.Is(err, ErrNegativeValue))
}

func TestHashDomainSeparation(t *testing.T) {
	a := ElementFromUint64(7)
	b := ElementFromUint64(9)

	h1 := Hash(DomainCoinCommitment, a, b)
	h2 := Hash(DomainCoinCommitment, a, b)
	require.True(t, h1.Equal(&h2))

	h3 := Hash(DomainCoinNullifier, a, b)
	require.False(t, h1.Equal(&h3))

	h4 := Hash(DomainCoinCommitment, b, a)
	require.False(t, h1.Equal(&h4))
}

func TestCoinKeys(t *testing.T) {
	sk, err := NewCoinSecretKey()
	require.NoError(t, err)

	pk1 := sk.PublicKey()
	pk2 := CoinSecretKeyFromElement(sk.Element()).PublicKey()
	require.Equal(t, pk1, pk2)

	secret := sk.Element()
	require.NotContains(t, sk.String(), secret.String())
}

func TestSealOpen(t *testing.T) {
	sk, err := GenerateEncryptionKey()
	require.NoError(t, err)
	other, err := GenerateEncryptionKey()
	require.NoError(t, err)

	plaintext := []fr.Element{ElementFromUint64(10), ElementFromUint64(20), ElementFromUint64(30)}
	ct, err := Seal(sk.PublicKey(), plaintext)
	require.NoError(t, err)
	require.Len(t, ct.Fields, 3)

	opened := sk.Open(ct)
	for i := range plaintext {
		require.True(t, plaintext[i].Equal(&opened[i]))
		require.False(t, plaintext[i].Equal(&ct.Fields[i]))
	}

	garbage := other.Open(ct)
	require.False(t, garbage[0].Equal(&plaintext[0]))
}

func TestValueCommitmentHomomorphism(t *testing.T) {
	t1 := TokenType{1}
	r1, err := RandomScalar()
	require.NoError(t, err)
	r2, err := RandomScalar()
	require.NoError(t, err)

	c1 := CommitValue(t1, big.NewInt(30), r1)
	c2 := CommitValue(t1, big.NewInt(12), r2)

	var rSum = r1
	rSum.Add(&rSum, &r2)
	require.True(t, c1.Add(c2).Equal(CommitValue(t1, big.NewInt(42), rSum)))

	var rDiff = r1
	rDiff.Sub(&rDiff, &r2)
	require.True(t, c1.Sub(c2).Equal(CommitValue(t1, big.NewInt(18), rDiff)))

	// a negative value commits to its residue
	require.True(t, c2.Sub(c1).Equal(CommitValue(t1, big.NewInt(-18), *new(blsfr.Element).Neg(&rDiff))))

	// different token types use different bases
	require.False(t, CommitValue(TokenType{2}, big.NewInt(30), r1).Equal(c1))
}

func TestSchnorr(t *testing.T) {
	sk, err := GenerateSigningKey()
	require.NoError(t, err)
	vk := sk.VerifyingKey()

	sig, err := sk.Sign([]byte("spend"))
	require.NoError(t, err)
	require.True(t, vk.Verify([]byte("spend"), sig))
	require.False(t, vk.Verify([]byte("spent"), sig))

	other, err := GenerateSigningKey()
	require.NoError(t, err)
	require.False(t, other.VerifyingKey().Verify([]byte("spend"), sig))
	require.NotEqual(t, vk.Address(), other.VerifyingKey().Address())
}

func TestBindingSignature(t *testing.T) {
	rc, err := RandomScalar()
	require.NoError(t, err)

	sig, err := SignBinding(rc, []byte("tx"))
	require.NoError(t, err)
	require.True(t, VerifyBinding(CommitBlinding(rc), []byte("tx"), sig))

	// a commitment hiding non-zero value cannot be opened by a binding signature
	require.False(t, VerifyBinding(CommitValue(NativeToken, big.NewInt(1), rc), []byte("tx"), sig))
}

func TestBindingRejectsIdentity(t *testing.T) {
	_, err := SignBinding(blsfr.Element{}, []byte("tx"))
	require.True(t, ierrors.Is(err, ErrIdentityKey))

	// with the identity as key, (k*H, k) would satisfy the equation for every message
	k, err := RandomScalar()
	require.NoError(t, err)
	sig := Signature{R: CommitBlinding(k).Point(), S: k}
	identity := CommitBlinding(blsfr.Element{})
	require.False(t, VerifyBinding(identity, []byte("tx"), sig))
	require.False(t, VerifyBinding(identity, []byte("other"), sig))

	require.False(t, VerifyingKey{}.Verify([]byte("tx"), sig))
}

func TestCodecRoundTrip(t *testing.T) {
	rc, err := RandomScalar()
	require.NoError(t, err)
	vc := CommitValue(NativeToken, big.NewInt(5), rc)
	sig, err := SignBinding(rc, []byte("m"))
	require.NoError(t, err)
	ek, err := GenerateEncryptionKey()
	require.NoError(t, err)
	ct, err := Seal(ek.PublicKey(), []fr.Element{ElementFromUint64(1)})
	require.NoError(t, err)

	buf := stream.NewByteBuffer()
	require.NoError(t, vc.Serialize(buf))
	require.NoError(t, sig.Serialize(buf))
	require.NoError(t, ct.Serialize(buf))
	data, err := buf.Bytes()
	require.NoError(t, err)

	r := stream.NewByteReader(data)
	vc2, err := ReadValueCommitment(r)
	require.NoError(t, err)
	require.True(t, vc.Equal(vc2))
	sig2, err := ReadSignature(r)
	require.NoError(t, err)
	require.Equal(t, sig.String(), sig2.String())
	ct2, err := ReadCiphertext(r)
	require.NoError(t, err)
	require.Equal(t, ct.Fields, ct2.Fields)
	require.Equal(t, len(data), r.BytesRead())
}

func TestRedactedStrings(t *testing.T) {
	sk, err := GenerateSigningKey()
	require.NoError(t, err)
	require.True(t, strings.Contains(sk.String(), "redacted"))

	ek, err := GenerateEncryptionKey()
	require.NoError(t, err)
	require.True(t, strings.Contains(ek.String(), "redacted"))
}
