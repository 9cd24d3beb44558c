package crypto

import "github.com/iotaledger/hive.go/ierrors"

var (
	ErrValueOutOfBounds  = ierrors.New("crypto: value exceeds the scalar field")
	ErrNegativeValue     = ierrors.New("crypto: negative value")
	ErrRandomness        = ierrors.New("crypto: failed to draw randomness")
	ErrInvalidPoint      = ierrors.New("crypto: invalid curve point encoding")
	ErrInvalidScalar     = ierrors.New("crypto: invalid scalar encoding")
	ErrInvalidCiphertext = ierrors.New("crypto: malformed ciphertext")
	ErrIdentityKey       = ierrors.New("crypto: signing key is the identity")
)
