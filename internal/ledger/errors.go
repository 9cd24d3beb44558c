package ledger

import "github.com/iotaledger/hive.go/ierrors"

var (
	ErrAlreadyBound         = ierrors.New("ledger: transaction is already bound")
	ErrTooManyActions       = ierrors.New("ledger: too many contract actions in one intent")
	ErrInvalidSegment       = ierrors.New("ledger: invalid segment id")
	ErrInvalidAction        = ierrors.New("ledger: contract action must set exactly one variant")
	ErrDuplicateIdentifier  = ierrors.New("ledger: duplicate identifier")
	ErrNetworkMismatch      = ierrors.New("ledger: transaction is for another network")
	ErrInvalidBinding       = ierrors.New("ledger: binding signature does not verify")
	ErrMissingRandomness    = ierrors.New("ledger: intent does not open its binding commitment")
	ErrInvalidSignature     = ierrors.New("ledger: signature does not verify")
	ErrMissingSigningKey    = ierrors.New("ledger: no signing key for input owner")
	ErrSignatureCount       = ierrors.New("ledger: signature count does not match")
	ErrUnbalanced           = ierrors.New("ledger: segment spends more than it receives")
	ErrInsufficientFee      = ierrors.New("ledger: dust fees do not cover the transaction fee")
	ErrIntentExpired        = ierrors.New("ledger: intent ttl has passed")
	ErrTTLTooFar            = ierrors.New("ledger: intent ttl too far in the future")
	ErrUnknownUtxo          = ierrors.New("ledger: unknown unshielded output")
	ErrUtxoMismatch         = ierrors.New("ledger: spend does not match the unshielded output")
	ErrDuplicateUtxo        = ierrors.New("ledger: unshielded output already exists")
	ErrContractExists       = ierrors.New("ledger: contract already deployed")
	ErrUnknownContract      = ierrors.New("ledger: unknown contract")
	ErrUnknownEntryPoint    = ierrors.New("ledger: unknown contract entry point")
	ErrUnclaimedEffect      = ierrors.New("ledger: contract effect has no matching coin")
	ErrMaintenanceCounter   = ierrors.New("ledger: maintenance counter mismatch")
	ErrMaintenanceThreshold = ierrors.New("ledger: not enough maintenance signatures")
	ErrArithmeticOverflow   = ierrors.New("ledger: arithmetic overflow")
	ErrGuaranteedSegment    = ierrors.New("ledger: guaranteed segment failed")
	ErrMalformedTransaction = ierrors.New("ledger: malformed transaction")
	ErrInvalidCostModel     = ierrors.New("ledger: invalid cost model")
	ErrInvalidParams        = ierrors.New("ledger: invalid parameters")
)
