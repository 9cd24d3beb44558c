package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledgerengine/internal/serialize"
)

func TestConfigLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "proofserver.yaml")

	f, err := newFlags([]string{"--config", path})
	require.NoError(t, err)
	cfg, err := ResolveConfig(f, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.FileExists(t, path, "defaults are written on first start")

	require.NoError(t, os.WriteFile(path, []byte("listen: \":7000\"\nnetwork: testnet\njobs: 4\njob_timeout: 1m\n"), 0o644))
	f, err = newFlags([]string{"-c", path, "--jobs", "8"})
	require.NoError(t, err)
	cfg, err = ResolveConfig(f, map[string]string{
		"PROOFSERVER_NETWORK":  "devnet",
		"PROOFSERVER_JOBS":     "6",
		"PROOFSERVER_KEYS_URL": "http://keys.local",
	})
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Listen)
	require.Equal(t, time.Minute, cfg.JobTimeout)
	require.Equal(t, int64(8), cfg.Jobs)
	require.Equal(t, "remote", cfg.Keys.Kind)
	network, err := cfg.NetworkID()
	require.NoError(t, err)
	require.Equal(t, serialize.DevNet, network)

	_, err = ResolveConfig(f, map[string]string{"PROOFSERVER_JOBS": "many"})
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("listen: \":7000\"\nworkers: 3\n"), 0o644))
	_, err = ResolveConfig(f, nil)
	require.Error(t, err, "unknown fields are rejected")
}

func TestConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(c *Config){
		"no listen":        func(c *Config) { c.Listen = "" },
		"unknown network":  func(c *Config) { c.Network = "moon" },
		"no jobs":          func(c *Config) { c.Jobs = 0 },
		"no job timeout":   func(c *Config) { c.JobTimeout = 0 },
		"no shutdown":      func(c *Config) { c.ShutdownTimeout = 0 },
		"negative rate":    func(c *Config) { c.RateLimit = -1 },
		"no rate clients":  func(c *Config) { c.RateClients = 0 },
		"remote needs url": func(c *Config) { c.Keys.Kind = "remote"; c.Keys.URL = "" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, DefaultConfig().Validate())
}

func TestClientRateLimiter(t *testing.T) {
	limiter, err := NewClientRateLimiter(1, 2, 1)
	require.NoError(t, err)

	require.True(t, limiter.Allow("10.0.0.1"))
	require.True(t, limiter.Allow("10.0.0.1"))
	require.False(t, limiter.Allow("10.0.0.1"))

	// the only slot is taken over by the new client, so the first one starts over
	require.True(t, limiter.Allow("10.0.0.2"))
	require.True(t, limiter.Allow("10.0.0.1"))
}
