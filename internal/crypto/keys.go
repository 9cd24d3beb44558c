// keys.go - Coin keys, token types and addresses.

package crypto

import (
	"encoding/hex"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
)

// CoinSecretKey authorizes spending of user-owned shielded coins.
type CoinSecretKey struct {
	e fr.Element
}

// NewCoinSecretKey draws a fresh secret key.
func NewCoinSecretKey() (CoinSecretKey, error) {
	e, err := RandomElement()
	if err != nil {
		return CoinSecretKey{}, err
	}

	return CoinSecretKey{e: e}, nil
}

// CoinSecretKeyFromElement wraps an existing secret scalar.
func CoinSecretKeyFromElement(e fr.Element) CoinSecretKey {
	return CoinSecretKey{e: e}
}

func (sk CoinSecretKey) Element() fr.Element {
	return sk.e
}

// PublicKey derives pk = H(sk).
func (sk CoinSecretKey) PublicKey() CoinPublicKey {
	return CoinPublicKey(Hash(DomainCoinPublicKey, sk.e))
}

func (sk CoinSecretKey) String() string {
	return "CoinSecretKey(redacted)"
}

func (sk CoinSecretKey) GoString() string {
	return sk.String()
}

// CoinPublicKey identifies the recipient of user-owned shielded coins.
type CoinPublicKey fr.Element

func (pk CoinPublicKey) Element() fr.Element {
	return fr.Element(pk)
}

func (pk CoinPublicKey) String() string {
	e := fr.Element(pk)
	b := e.Bytes()

	return hex.EncodeToString(b[:])
}

// TokenType identifies a fungible token. The zero value is the native shielded token.
type TokenType [32]byte

// NativeToken is the built-in shielded token type.
var NativeToken = TokenType{}

// NightToken is the unshielded staking token that backs Dust generation.
var NightToken = TokenType(Blake2b([]byte("ledger:night-token")))

// ContractTokenType derives the token type minted by a contract under a domain separator.
func ContractTokenType(address ContractAddress, domainSep [32]byte) TokenType {
	return TokenType(Blake2b([]byte("ledger:contract-token"), address[:], domainSep[:]))
}

func (t TokenType) Element() fr.Element {
	var e fr.Element
	e.SetBytes(t[:])

	return e
}

func (t TokenType) String() string {
	return hex.EncodeToString(t[:])
}

// ContractAddress identifies a deployed contract.
type ContractAddress [32]byte

func (a ContractAddress) Element() fr.Element {
	var e fr.Element
	e.SetBytes(a[:])

	return e
}

func (a ContractAddress) String() string {
	return hex.EncodeToString(a[:])
}

// UserAddress identifies the owner of unshielded outputs; it is the hash of a verifying key.
type UserAddress [32]byte

func (a UserAddress) String() string {
	return hex.EncodeToString(a[:])
}

// UtxoID identifies an unshielded output: the hash of its creating intent and output index.
type UtxoID [32]byte

func (id UtxoID) Element() fr.Element {
	var e fr.Element
	e.SetBytes(id[:])

	return e
}

func (id UtxoID) String() string {
	return hex.EncodeToString(id[:])
}
