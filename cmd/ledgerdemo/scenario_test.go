package main

import (
	"context"
	"math/big"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledgerengine/internal/proofs"
	"ledgerengine/internal/proofserver"
	"ledgerengine/internal/serialize"
	"ledgerengine/internal/store"
)

var genesis = time.Unix(1_700_000_000, 0).UTC()

func runScenario(t *testing.T, prove Prover) Summary {
	t.Helper()
	snapshots, err := store.Open(store.Config{Backend: "memory"}, serialize.DevNet, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = snapshots.Close() })

	scenario, err := NewScenario(serialize.DevNet, genesis, snapshots, prove, zap.NewNop())
	require.NoError(t, err)
	summary, err := scenario.Run(context.Background())
	require.NoError(t, err)

	return summary
}

func TestScenarioWithMockProofs(t *testing.T) {
	summary := runScenario(t, MockProver)

	require.Equal(t, []uint64{1, 2, 3}, summary.Heights)
	require.Equal(t, 1, summary.ContractCount)
	require.Equal(t, 1, summary.Nullifiers)
	require.Zero(t, summary.Received.Cmp(big.NewInt(1_000)))
	require.Positive(t, summary.FeePaid)
	require.Positive(t, summary.DustBalance)
	require.LessOrEqual(t, summary.DustBalance, uint64(1_000_000))
}

func TestScenarioWithProofServer(t *testing.T) {
	cfg := proofserver.DefaultConfig()
	cfg.Network = serialize.DevNet
	server, err := proofserver.New(cfg, proofs.MockProver{}, nil, zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	client := proofserver.NewClient(srv.URL, serialize.DevNet, srv.Client(), 1, zap.NewNop())
	summary := runScenario(t, RemoteProver(client))
	require.Zero(t, summary.Received.Cmp(big.NewInt(1_000)))
}

func TestRunPersistsSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	require.NoError(t, run(context.Background(), []string{"--network", "devnet", "--snapshots", path, "--retain", "2"}))

	snapshots, err := store.Open(store.Config{Backend: "bolt", Path: path}, serialize.DevNet, zap.NewNop())
	require.NoError(t, err)
	defer snapshots.Close()
	heights, err := snapshots.Heights()
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 3}, heights)

	require.Error(t, run(context.Background(), []string{"--network", "nowhere"}))
}
