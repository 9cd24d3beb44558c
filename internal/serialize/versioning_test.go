package serialize_test

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/stretchr/testify/require"

	// registers every framed type of the ledger
	_ "ledgerengine/internal/proofserver"
	"ledgerengine/internal/serialize"
)

var update = flag.Bool("update", false, "rewrite testdata/decompositions.json from the registry")

var fixture = filepath.Join("testdata", "decompositions.json")

func TestDecompositionsCompatible(t *testing.T) {
	if *update {
		var buf bytes.Buffer
		require.NoError(t, serialize.Default.WriteSnapshot(&buf))
		require.NoError(t, os.WriteFile(fixture, buf.Bytes(), 0o644))
	}

	f, err := os.Open(fixture)
	require.NoError(t, err)
	defer f.Close()
	snapshot, err := serialize.LoadSnapshot(f)
	require.NoError(t, err)

	require.NoError(t, serialize.Default.CheckCompatible(snapshot))
	require.Len(t, serialize.Default.Decompositions(), len(snapshot), "new decompositions must be added to the fixture")
}

func TestCheckCompatible(t *testing.T) {
	old := []serialize.Decomposition{
		{Tag: "coin", Version: 1, Children: []string{"u64", "field"}},
		{Tag: "kind", Version: 1, Children: []string{"a", "b"}, Open: true},
	}
	registry := func(ds ...serialize.Decomposition) *serialize.Registry {
		r := serialize.NewRegistry()
		for _, d := range ds {
			r.MustRegister(d)
		}

		return r
	}

	require.NoError(t, registry(old...).CheckCompatible(old))

	appended := registry(old[0], serialize.Decomposition{Tag: "kind", Version: 1, Children: []string{"a", "b", "c"}, Open: true})
	require.NoError(t, appended.CheckCompatible(old))

	changed := registry(serialize.Decomposition{Tag: "coin", Version: 1, Children: []string{"u64"}}, old[1])
	require.True(t, ierrors.Is(changed.CheckCompatible(old), serialize.ErrIncompatibleChange))

	bumped := registry(serialize.Decomposition{Tag: "coin", Version: 2, Children: []string{"u64"}}, old[1])
	require.NoError(t, bumped.CheckCompatible(old))

	backwards := registry(serialize.Decomposition{Tag: "coin", Version: 0, Children: old[0].Children}, old[1])
	require.True(t, ierrors.Is(backwards.CheckCompatible(old), serialize.ErrIncompatibleChange))

	removed := registry(old[1])
	require.True(t, ierrors.Is(removed.CheckCompatible(old), serialize.ErrIncompatibleChange))

	r := registry(old...)
	require.True(t, ierrors.Is(r.Register(old[0]), serialize.ErrDuplicateTag))
}
