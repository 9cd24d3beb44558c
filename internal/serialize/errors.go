package serialize

import "github.com/iotaledger/hive.go/ierrors"

var (
	ErrUnknownNetwork     = ierrors.New("serialize: unknown network")
	ErrNetworkMismatch    = ierrors.New("serialize: network mismatch")
	ErrUnknownTag         = ierrors.New("serialize: unknown tag")
	ErrTagMismatch        = ierrors.New("serialize: tag mismatch")
	ErrDuplicateTag       = ierrors.New("serialize: tag registered twice")
	ErrUnsupportedVersion = ierrors.New("serialize: unsupported version")
	ErrIncompatibleChange = ierrors.New("serialize: incompatible change without version bump")
	ErrBadMagic           = ierrors.New("serialize: bad magic")
	ErrTrailingBytes      = ierrors.New("serialize: trailing bytes")
	ErrNonCanonical       = ierrors.New("serialize: non-canonical field element")
	ErrDuplicateMember    = ierrors.New("serialize: duplicate set member")
	ErrUnknownVariant     = ierrors.New("serialize: unknown enum variant")
	ErrValueTooLarge      = ierrors.New("serialize: value too large")
)
