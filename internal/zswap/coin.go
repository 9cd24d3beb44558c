// coin.go - Coins, recipients, commitments and nullifiers.
//
// A coin commitment is H(nonce, type, value, isContract, recipient) where the
// recipient is the owner's coin public key or the owning contract's address.
// The nullifier is H(commitment, isContract, evidence) where the evidence is the
// owner's secret key or, for contract-owned coins, the contract address.

package zswap

import (
	"encoding/hex"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"

	"ledgerengine/internal/crypto"
)

// CoinInfo describes a coin. It is created once and never modified.
type CoinInfo struct {
	Nonce fr.Element
	Type  crypto.TokenType
	Value *big.Int
}

// NewCoinInfo draws a fresh nonce for a coin of the given type and value.
func NewCoinInfo(t crypto.TokenType, value *big.Int) (CoinInfo, error) {
	nonce, err := crypto.RandomElement()
	if err != nil {
		return CoinInfo{}, err
	}

	return CoinInfo{Nonce: nonce, Type: t, Value: new(big.Int).Set(value)}, nil
}

// Qualify attaches the Merkle tree index the coin was inserted at.
func (c CoinInfo) Qualify(index uint64) QualifiedCoinInfo {
	return QualifiedCoinInfo{CoinInfo: c, MtIndex: index}
}

func (c CoinInfo) String() string {
	return "CoinInfo(redacted)"
}

// QualifiedCoinInfo is a coin together with its leaf index; it is what gets spent.
type QualifiedCoinInfo struct {
	CoinInfo
	MtIndex uint64
}

// Recipient is either a user coin public key or a contract address.
type Recipient struct {
	User     *crypto.CoinPublicKey
	Contract *crypto.ContractAddress
}

func UserRecipient(pk crypto.CoinPublicKey) Recipient {
	return Recipient{User: &pk}
}

func ContractRecipient(address crypto.ContractAddress) Recipient {
	return Recipient{Contract: &address}
}

func (r Recipient) IsContract() bool {
	return r.Contract != nil
}

func (r Recipient) element() fr.Element {
	if r.Contract != nil {
		return r.Contract.Element()
	}
	if r.User != nil {
		return r.User.Element()
	}

	return fr.Element{}
}

// Sender authorizes spending: a coin secret key for user-owned coins, or the
// owning contract address for contract-owned coins.
type Sender struct {
	Secret   *crypto.CoinSecretKey
	Contract *crypto.ContractAddress
}

func UserSender(sk crypto.CoinSecretKey) Sender {
	return Sender{Secret: &sk}
}

func ContractSender(address crypto.ContractAddress) Sender {
	return Sender{Contract: &address}
}

func (s Sender) IsContract() bool {
	return s.Contract != nil
}

// Recipient returns the recipient whose coins this sender can spend.
func (s Sender) Recipient() Recipient {
	if s.Contract != nil {
		return ContractRecipient(*s.Contract)
	}
	if s.Secret != nil {
		return UserRecipient(s.Secret.PublicKey())
	}

	return Recipient{}
}

func (s Sender) evidence() fr.Element {
	if s.Contract != nil {
		return s.Contract.Element()
	}
	if s.Secret != nil {
		return s.Secret.Element()
	}

	return fr.Element{}
}

func (s Sender) valid() bool {
	return (s.Contract == nil) != (s.Secret == nil)
}

func flag(b bool) fr.Element {
	if b {
		return crypto.ElementFromUint64(1)
	}

	return fr.Element{}
}

// Commitment marks the existence of a coin.
type Commitment fr.Element

func (c Commitment) Element() fr.Element {
	return fr.Element(c)
}

func (c Commitment) String() string {
	return hexElement(fr.Element(c))
}

// Nullifier marks the consumption of a coin.
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

// Commitment derives the coin commitment for a recipient.
func (c CoinInfo) Commitment(r Recipient) (Commitment, error) {
	value, err := crypto.EncodeValue(c.Value)
	if err != nil {
		return Commitment{}, err
	}

	return Commitment(crypto.Hash(crypto.DomainCoinCommitment,
		c.Nonce, c.Type.Element(), value, flag(r.IsContract()), r.element())), nil
}

// Nullifier derives the nullifier the sender publishes when spending the coin.
func (c CoinInfo) Nullifier(s Sender) (Nullifier, error) {
	if !s.valid() {
		return Nullifier{}, ErrInvalidSender
	}
	cm, err := c.Commitment(s.Recipient())
	if err != nil {
		return Nullifier{}, err
	}

	return nullifierOf(cm, s), nil
}

func nullifierOf(cm Commitment, s Sender) Nullifier {
	return Nullifier(crypto.Hash(crypto.DomainCoinNullifier, cm.Element(), flag(s.IsContract()), s.evidence()))
}

type fieldComparer[K ~[6]uint64] struct{}

func (fieldComparer[K]) Compare(a, b K) int {
	x, y := fr.Element(a), fr.Element(b)

	return x.Cmp(&y)
}

func compareCommitments(a, b Commitment) int {
	return fieldComparer[Commitment]{}.Compare(a, b)
}

func compareNullifiers(a, b Nullifier) int {
	return fieldComparer[Nullifier]{}.Compare(a, b)
}
