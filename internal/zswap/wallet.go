// wallet.go - Recognizing received outputs.

package zswap

import (
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/proofs"
)

const notePlaintextFields = 4

// TryDecrypt recovers the coin of an output addressed to owner. It reports false
// for outputs without a ciphertext, for ciphertexts meant for other keys and
// for notes that do not open the output's commitment.
func TryDecrypt[P proofs.Stage](key crypto.EncryptionSecretKey, owner crypto.CoinPublicKey, out Output[P]) (CoinInfo, bool) {
	if out.Ciphertext == nil || len(out.Ciphertext.Fields) != notePlaintextFields {
		return CoinInfo{}, false
	}
	pt := key.Open(*out.Ciphertext)
	if pt[3] != owner.Element() {
		return CoinInfo{}, false
	}
	t, ok := tokenTypeOf(pt[1])
	if !ok {
		return CoinInfo{}, false
	}

	coin := CoinInfo{Nonce: pt[0], Type: t, Value: crypto.ElementToBig(pt[2])}
	cm, err := coin.Commitment(UserRecipient(owner))
	if err != nil || cm != out.Commitment {
		return CoinInfo{}, false
	}

	return coin, true
}

func tokenTypeOf(e fr.Element) (crypto.TokenType, bool) {
	b := e.Bytes()
	for _, x := range b[:len(b)-32] {
		if x != 0 {
			return crypto.TokenType{}, false
		}
	}

	var t crypto.TokenType
	copy(t[:], b[len(b)-32:])

	return t, true
}
