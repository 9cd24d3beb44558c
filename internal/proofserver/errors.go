package proofserver

import "github.com/iotaledger/hive.go/ierrors"

var (
	ErrRejected    = ierrors.New("proofserver: request rejected")
	ErrUnavailable = ierrors.New("proofserver: server unavailable")
	ErrUnsupported = ierrors.New("proofserver: unsupported transaction stage")
)
