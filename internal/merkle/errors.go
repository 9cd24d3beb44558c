package merkle

import "github.com/iotaledger/hive.go/ierrors"

var (
	ErrTreeFull        = ierrors.New("merkle: tree is full")
	ErrIndexOutOfRange = ierrors.New("merkle: index out of range")
	ErrPathLength      = ierrors.New("merkle: path length does not match tree height")
	ErrRootMismatch    = ierrors.New("merkle: path does not lead to root")
)
