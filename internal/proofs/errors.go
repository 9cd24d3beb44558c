package proofs

import "github.com/iotaledger/hive.go/ierrors"

var (
	ErrProving          = ierrors.New("proofs: proving failed")
	ErrVerification     = ierrors.New("proofs: verification failed")
	ErrMockProof        = ierrors.New("proofs: mock proofs do not verify")
	ErrUnknownCircuit   = ierrors.New("proofs: unknown key location")
	ErrDuplicateCircuit = ierrors.New("proofs: key location registered twice")
	ErrInputCount       = ierrors.New("proofs: wrong number of circuit inputs")
	ErrKeyNotFound      = ierrors.New("proofs: key material not found")
	ErrParamsNotFound   = ierrors.New("proofs: parameters not found")
	ErrKeySource        = ierrors.New("proofs: unknown key source")
)
