package store

import "github.com/iotaledger/hive.go/ierrors"

var (
	ErrNotFound       = ierrors.New("store: snapshot not found")
	ErrEmpty          = ierrors.New("store: no snapshots")
	ErrUnknownBackend = ierrors.New("store: unknown backend")
)
