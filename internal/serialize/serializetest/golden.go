// golden.go - Byte-level fixtures of framed encodings.
//
// A fixture lives at testdata/golden/<tag>.v<version>[.<case>].hex relative to the
// package under test, with "/" in the tag replaced by "_". Once written it is never
// regenerated silently: a changed encoding has to bump the decomposition version,
// which names a new fixture, or be rewritten on purpose with -update-golden.
// Fixtures of earlier versions stay in place and must be refused by Unmarshal.

package serializetest

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/stretchr/testify/require"

	"ledgerengine/internal/serialize"
)

var update = flag.Bool("update-golden", false, "rewrite golden encodings under testdata/golden")

// Path names the fixture of tag at version. name distinguishes several fixtures of one tag.
func Path(tag string, version uint16, name string) string {
	file := fmt.Sprintf("%s.v%d", strings.ReplaceAll(tag, "/", "_"), version)
	if name != "" {
		file += "." + name
	}

	return filepath.Join("testdata", "golden", file+".hex")
}

// Golden checks that v encodes to the recorded bytes, that the recorded bytes decode
// to v, and that decoding then encoding reproduces them exactly.
func Golden[T serialize.Serializable](t *testing.T, name string, network serialize.NetworkID, v T, read func(r io.ReadSeeker) (T, error)) {
	t.Helper()

	d, ok := serialize.Default.Lookup(v.Tag())
	require.True(t, ok, "%s is not registered", v.Tag())
	path := Path(d.Tag, d.Version, name)

	encoded, err := serialize.Marshal(network, v)
	require.NoError(t, err)

	if *update {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(encoded)+"\n"), 0o644))
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err, "missing fixture for %s version %d", d.Tag, d.Version)
	recorded, err := hex.DecodeString(strings.Join(strings.Fields(string(raw)), ""))
	require.NoError(t, err)

	require.Equal(t, hex.EncodeToString(recorded), hex.EncodeToString(encoded), "encoding of %s changed without a version bump", d.Tag)

	decoded, err := serialize.Unmarshal(network, d.Tag, recorded, read)
	require.NoError(t, err)
	require.Equal(t, v, decoded)

	again, err := serialize.Marshal(network, decoded)
	require.NoError(t, err)
	require.Equal(t, recorded, again)

	for _, old := range earlierVersions(t, d.Tag, d.Version, name) {
		raw, err := os.ReadFile(old)
		require.NoError(t, err)
		data, err := hex.DecodeString(strings.Join(strings.Fields(string(raw)), ""))
		require.NoError(t, err)
		_, err = serialize.Unmarshal(network, d.Tag, data, read)
		require.True(t, ierrors.Is(err, serialize.ErrUnsupportedVersion), "%s decoded as version %d", old, d.Version)
	}
}

// earlierVersions lists the fixtures of tag and name recorded under other versions.
func earlierVersions(t *testing.T, tag string, version uint16, name string) []string {
	t.Helper()

	prefix := strings.ReplaceAll(tag, "/", "_") + ".v"
	suffix := ".hex"
	if name != "" {
		suffix = "." + name + suffix
	}
	matches, err := filepath.Glob(filepath.Join("testdata", "golden", prefix+"*"+suffix))
	require.NoError(t, err)

	var paths []string
	for _, m := range matches {
		v, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), suffix), 10, 16)
		if err != nil || uint16(v) == version {
			continue
		}
		paths = append(paths, m)
	}

	return paths
}
