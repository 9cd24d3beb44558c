package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledgerengine/internal/ledger"
	"ledgerengine/internal/serialize"
)

var genesis = time.Unix(1_700_000_000, 0).UTC()

func states(n int) []ledger.State {
	out := make([]ledger.State, n)
	s := ledger.NewState(serialize.DevNet, ledger.DefaultParams(), genesis)
	for i := range out {
		s = s.PostBlockUpdate(genesis.Add(time.Duration(i+1) * time.Minute))
		out[i] = s
	}

	return out
}

func marshal(t *testing.T, s ledger.State) []byte {
	t.Helper()
	data, err := serialize.Marshal(serialize.DevNet, s)
	require.NoError(t, err)

	return data
}

func TestBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) Backend{
		"bolt": func(t *testing.T) Backend {
			b, err := OpenBoltBackend(filepath.Join(t.TempDir(), "db", "snapshots.db"))
			require.NoError(t, err)

			return b
		},
		"kvstore": func(t *testing.T) Backend {
			b, err := NewKVBackend(mapdb.NewMapDB())
			require.NoError(t, err)

			return b
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			defer b.Close()

			for _, k := range []string{"c", "a", "b"} {
				require.NoError(t, b.Put([]byte(k), []byte("value-"+k)))
			}
			keys, err := b.Keys()
			require.NoError(t, err)
			require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, keys)

			v, err := b.Get([]byte("b"))
			require.NoError(t, err)
			require.Equal(t, []byte("value-b"), v)

			require.NoError(t, b.Delete([]byte("a"), []byte("c")))
			_, err = b.Get([]byte("a"))
			require.True(t, ierrors.Is(err, ErrNotFound))
			keys, err = b.Keys()
			require.NoError(t, err)
			require.Len(t, keys, 1)
		})
	}
}

func TestSnapshots(t *testing.T) {
	for _, backend := range []string{"bolt", "memory"} {
		t.Run(backend, func(t *testing.T) {
			s, err := Open(Config{Backend: backend, Path: filepath.Join(t.TempDir(), "snapshots.db")}, serialize.DevNet, zap.NewNop())
			require.NoError(t, err)
			defer s.Close()

			_, _, err = s.Latest()
			require.True(t, ierrors.Is(err, ErrEmpty))

			snaps := states(3)
			for i, st := range snaps {
				require.NoError(t, s.Save(uint64(i+1)*256, st))
			}

			heights, err := s.Heights()
			require.NoError(t, err)
			require.Equal(t, []uint64{256, 512, 768}, heights)

			height, latest, err := s.Latest()
			require.NoError(t, err)
			require.Equal(t, uint64(768), height)
			require.Equal(t, marshal(t, snaps[2]), marshal(t, latest))

			loaded, err := s.Load(512)
			require.NoError(t, err)
			require.Equal(t, marshal(t, snaps[1]), marshal(t, loaded))

			_, err = s.Load(1)
			require.True(t, ierrors.Is(err, ErrNotFound))

			pruned, err := s.Prune(1)
			require.NoError(t, err)
			require.Equal(t, 2, pruned)
			heights, err = s.Heights()
			require.NoError(t, err)
			require.Equal(t, []uint64{768}, heights)
		})
	}
}

func TestRetentionAndNetwork(t *testing.T) {
	s, err := Open(Config{Backend: "memory", Retain: 2}, serialize.DevNet, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	for i, st := range states(4) {
		require.NoError(t, s.Save(uint64(i), st))
	}
	heights, err := s.Heights()
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 3}, heights)

	other := ledger.NewState(serialize.TestNet, ledger.DefaultParams(), genesis)
	require.True(t, ierrors.Is(s.Save(9, other), serialize.ErrNetworkMismatch))

	_, err = Open(Config{Backend: "postgres"}, serialize.DevNet, zap.NewNop())
	require.True(t, ierrors.Is(err, ErrUnknownBackend))
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	cfg := Config{Backend: "bolt", Path: path}

	s, err := Open(cfg, serialize.DevNet, zap.NewNop())
	require.NoError(t, err)
	st := states(1)[0]
	require.NoError(t, s.Save(42, st))
	require.NoError(t, s.Close())

	s, err = Open(cfg, serialize.DevNet, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	height, loaded, err := s.Latest()
	require.NoError(t, err)
	require.Equal(t, uint64(42), height)
	require.Equal(t, marshal(t, st), marshal(t, loaded))

	mismatched := New(s.backend, serialize.TestNet, 0, zap.NewNop())
	_, err = mismatched.Load(42)
	require.True(t, ierrors.Is(err, serialize.ErrNetworkMismatch))
}
