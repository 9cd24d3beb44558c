// Package crypto implements the primitives consumed by the ledger engine.
//
// Overview:
//   - Field encoding of coin values onto the BW6-761 scalar field (which equals the BLS12-377 base field)
//   - Domain-separated MiMC hashing, shared by native code and the gnark circuits
//   - Coin keys (pk = H(sk)), token types, contract and user addresses
//   - BLS12-377 Diffie-Hellman encryption of output plaintexts with a MiMC mask chain
//   - Homomorphic Pedersen value commitments on BLS12-377 G1
//   - Schnorr signatures on BLS12-377 G1, used for unshielded spends and transaction binding
//
// All randomness is drawn from crypto/rand. Secret material never appears in String output or errors.
package crypto
