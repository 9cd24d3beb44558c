package dust

import "github.com/iotaledger/hive.go/ierrors"

var (
	ErrInvalidParams        = ierrors.New("dust: invalid parameters")
	ErrUnauthorized         = ierrors.New("dust: secret key does not own the output")
	ErrInsufficientBalance  = ierrors.New("dust: fee exceeds the spendable balance")
	ErrUnknownOutput        = ierrors.New("dust: output is not in the local state")
	ErrUnknownGeneration    = ierrors.New("dust: no generation info for the backing night")
	ErrNullifierCollision   = ierrors.New("dust: nullifier already spent")
	ErrUnknownMerkleRoot    = ierrors.New("dust: unknown merkle root")
	ErrSpendTimeOutOfWindow = ierrors.New("dust: spend time outside the grace window")
	ErrDuplicateNight       = ierrors.New("dust: night output already generating")
	ErrEventOutOfOrder      = ierrors.New("dust: event does not follow the local tree")
	ErrUnknownEventKind     = ierrors.New("dust: unknown event kind")
	ErrMalformedPreimage    = ierrors.New("dust: malformed spend preimage")
	ErrArithmeticOverflow   = ierrors.New("dust: arithmetic overflow")
	ErrUnregisteredAddress  = ierrors.New("dust: address has no registered dust key")
)
