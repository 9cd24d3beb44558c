// output.go - Dust keys, outputs and generation info.

package dust

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"

	"ledgerengine/internal/crypto"
)

// SecretKey authorizes Dust spends.
type SecretKey struct {
	e fr.Element
}

func NewSecretKey() (SecretKey, error) {
	e, err := crypto.RandomElement()
	if err != nil {
		return SecretKey{}, err
	}

	return SecretKey{e: e}, nil
}

func SecretKeyFromElement(e fr.Element) SecretKey {
	return SecretKey{e: e}
}

func (sk SecretKey) Element() fr.Element {
	return sk.e
}

func (sk SecretKey) PublicKey() PublicKey {
	return PublicKey(crypto.Hash(crypto.DomainDustPublicKey, sk.e))
}

func (sk SecretKey) String() string {
	return "dust.SecretKey(redacted)"
}

func (sk SecretKey) GoString() string {
	return sk.String()
}

// PublicKey is the address Dust is generated to.
type PublicKey fr.Element

func (pk PublicKey) Element() fr.Element {
	return fr.Element(pk)
}

func (pk PublicKey) String() string {
	return hexElement(fr.Element(pk))
}

type Commitment fr.Element

func (c Commitment) Element() fr.Element {
	return fr.Element(c)
}

func (c Commitment) String() string {
	return hexElement(fr.Element(c))
}

type Nullifier fr.Element

func (n Nullifier) Element() fr.Element {
	return fr.Element(n)
}

func (n Nullifier) String() string {
	return hexElement(fr.Element(n))
}

func hexElement(e fr.Element) string {
	b := e.Bytes()

	return hex.EncodeToString(b[:])
}

func timeElement(t time.Time) fr.Element {
	if t.IsZero() {
		return fr.Element{}
	}

	return crypto.ElementFromUint64(uint64(t.Unix()))
}

// Output is one Dust UTXO. Seq counts the spends since the initial output of the backing Night.
type Output struct {
	InitialValue uint64
	Owner        PublicKey
	Nonce        fr.Element
	Seq          uint32
	Ctime        time.Time
	BackingNight crypto.UtxoID
}

func (o Output) Commitment() Commitment {
	return Commitment(crypto.Hash(crypto.DomainDustCommitment,
		crypto.ElementFromUint64(o.InitialValue),
		o.Owner.Element(),
		o.Nonce,
		crypto.ElementFromUint64(uint64(o.Seq)),
		timeElement(o.Ctime),
		o.BackingNight.Element(),
	))
}

func (o Output) Nullifier(sk SecretKey) Nullifier {
	return Nullifier(crypto.Hash(crypto.DomainDustNullifier, o.Commitment().Element(), sk.e))
}

func (o Output) String() string {
	return "dust.Output(" + o.Commitment().String() + ")"
}

// QualifiedOutput is an output with its leaf index in the Dust commitment tree.
type QualifiedOutput struct {
	Output
	MtIndex uint64
}

// GenerationInfo tracks one Night output that generates Dust. Dtime is zero while the Night is unspent.
type GenerationInfo struct {
	Value uint64
	Owner PublicKey
	Nonce fr.Element
	Dtime time.Time
}

// Hash is the leaf of the generation tree.
func (g GenerationInfo) Hash() [32]byte {
	var value, dtime [8]byte
	binary.BigEndian.PutUint64(value[:], g.Value)
	if !g.Dtime.IsZero() {
		binary.BigEndian.PutUint64(dtime[:], uint64(g.Dtime.Unix()))
	}
	ownerElement := g.Owner.Element()
	owner := ownerElement.Bytes()
	nonce := g.Nonce.Bytes()

	return crypto.Blake2b([]byte(crypto.DomainGenerationInfo), value[:], owner[:], nonce[:], dtime[:])
}

// changeNonce derives the nonce of the output that replaces o once sk spends it.
func changeNonce(sk SecretKey, o Output) fr.Element {
	return crypto.Hash(crypto.DomainDustNonce, sk.e, o.Nonce, crypto.ElementFromUint64(uint64(o.Seq)+1))
}

// changeOutput is what is left of o, worth value at t, after paying fee.
func changeOutput(sk SecretKey, o Output, value, fee uint64, t time.Time) Output {
	return Output{
		InitialValue: value - fee,
		Owner:        o.Owner,
		Nonce:        changeNonce(sk, o),
		Seq:          o.Seq + 1,
		Ctime:        t,
		BackingNight: o.BackingNight,
	}
}

// initialNonce derives the nonce shared by a Night's generation info and its first Dust output.
func initialNonce(night crypto.UtxoID) fr.Element {
	return crypto.Hash(crypto.DomainDustNonce, night.Element())
}
