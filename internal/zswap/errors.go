package zswap

import "github.com/iotaledger/hive.go/ierrors"

var (
	ErrZeroValueContractInput = ierrors.New("zswap: contract-owned input with zero value")
	ErrInvalidSender          = ierrors.New("zswap: sender must be exactly one of secret key or contract")
	ErrInvalidRecipient       = ierrors.New("zswap: recipient must be exactly one of public key or contract")
	ErrCoinNotInTree          = ierrors.New("zswap: coin is not at the given tree index")
	ErrTransientMismatch      = ierrors.New("zswap: transient output does not match the spent coin")
	ErrNonDisjoint            = ierrors.New("zswap: offers are not disjoint")
	ErrNullifierCollision     = ierrors.New("zswap: nullifier already spent")
	ErrCommitmentCollision    = ierrors.New("zswap: commitment already exists")
	ErrUnknownMerkleRoot      = ierrors.New("zswap: unknown merkle root")
	ErrNotWhitelisted         = ierrors.New("zswap: contract not whitelisted")
	ErrNotPreimage            = ierrors.New("zswap: component carries no preimage")
	ErrMalformedPreimage      = ierrors.New("zswap: malformed preimage")
)
