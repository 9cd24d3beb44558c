// Package ledger assembles, validates and applies segmented transactions.
//
// A Transaction carries a guaranteed shielded offer in segment 0 and, per
// fallible segment, an optional shielded offer and an optional Intent. Intents
// hold the unshielded offers, contract actions and Dust fee payments of their
// segment. Transactions move through three independent stage axes:
//
//	signatures  SignatureErased -> Signature          (SignTransaction)
//	proofs      Preimage -> Proof -> Erased           (ProveTransaction, EraseProofs)
//	binding     Unbound -> Bound                      (Bind)
//
// Only unbound transactions can be merged. WellFormed checks a signed, bound
// transaction against a reference State; State.Apply folds an erased one into
// the next State.
package ledger
