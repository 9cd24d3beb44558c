// config.go - Configuration of the proof server daemon.
//
// Values are layered with increasing priority: defaults, the YAML file,
// PROOFSERVER_* environment variables, then command line flags.
package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
)

// Config represents the daemon configuration
type Config struct {
	Listen  string `yaml:"listen"`
	Network string `yaml:"network"`

	// Proving
	Jobs        int64                  `yaml:"jobs"`
	JobTimeout  time.Duration          `yaml:"job_timeout"`
	BodyLimit   string                 `yaml:"body_limit"`
	Mock        bool                   `yaml:"mock"`
	ProverCache int                    `yaml:"prover_cache"`
	Keys        proofs.KeySourceConfig `yaml:"keys"`

	// Rate limiting per client address; zero disables it
	RateLimit   float64 `yaml:"rate_limit"`
	RateBurst   int     `yaml:"rate_burst"`
	RateClients int     `yaml:"rate_clients"`

	// Logging
	LogLevel     string `yaml:"log_level"`
	LogFile      string `yaml:"log_file"`
	AuditLogPath string `yaml:"audit_log_path"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":6300",
		Network:         serialize.Undeployed.String(),
		Jobs:            2,
		JobTimeout:      10 * time.Minute,
		BodyLimit:       "64M",
		ProverCache:     8,
		Keys:            proofs.KeySourceConfig{Kind: "dir", Dir: "keys", Setup: true, CacheSize: 8},
		RateLimit:       5,
		RateBurst:       10,
		RateClients:     4096,
		LogLevel:        "info",
		ShutdownTimeout: 30 * time.Second,
	}
}

// LoadConfig reads the YAML file at path over the defaults. A missing file is
// created with the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := SaveConfig(config, path); err != nil {
			return nil, ierrors.Wrap(err, "failed to save default config")
		}

		return config, nil
	case err != nil:
		return nil, ierrors.Wrap(err, "failed to read config file")
	}

	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return nil, ierrors.Wrap(err, "failed to decode config file")
	}

	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ierrors.Wrap(err, "failed to create config directory")
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return ierrors.Wrap(err, "failed to encode config")
	}

	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides fields from PROOFSERVER_* variables.
func (c *Config) ApplyEnv(env map[string]string) error {
	if v, ok := env["PROOFSERVER_LISTEN"]; ok && v != "" {
		c.Listen = v
	}
	if v, ok := env["PROOFSERVER_NETWORK"]; ok && v != "" {
		c.Network = v
	}
	if v, ok := env["PROOFSERVER_JOBS"]; ok && v != "" {
		jobs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ierrors.Wrap(err, "PROOFSERVER_JOBS")
		}
		c.Jobs = jobs
	}
	if v, ok := env["PROOFSERVER_KEYS_DIR"]; ok && v != "" {
		c.Keys.Kind = "dir"
		c.Keys.Dir = v
	}
	if v, ok := env["PROOFSERVER_KEYS_URL"]; ok && v != "" {
		c.Keys.Kind = "remote"
		c.Keys.URL = v
	}
	if v, ok := env["PROOFSERVER_MOCK"]; ok && v != "" {
		mock, err := strconv.ParseBool(v)
		if err != nil {
			return ierrors.Wrap(err, "PROOFSERVER_MOCK")
		}
		c.Mock = mock
	}
	if v, ok := env["PROOFSERVER_LOG_LEVEL"]; ok && v != "" {
		c.LogLevel = v
	}

	return nil
}

// flags are the command line overrides; only flags that were set apply.
type flags struct {
	set        *pflag.FlagSet
	configPath string
	listen     string
	network    string
	jobs       int64
	keysDir    string
	mock       bool
	logLevel   string
}

func newFlags(args []string) (*flags, error) {
	f := &flags{set: pflag.NewFlagSet("proofserverd", pflag.ContinueOnError)}
	f.set.StringVarP(&f.configPath, "config", "c", "proofserver.yaml", "path of the YAML configuration file")
	f.set.StringVar(&f.listen, "listen", "", "address to listen on")
	f.set.StringVar(&f.network, "network", "", "network id (undeployed, devnet, testnet, mainnet)")
	f.set.Int64Var(&f.jobs, "jobs", 0, "number of concurrent proving jobs")
	f.set.StringVar(&f.keysDir, "keys-dir", "", "directory of prover keys")
	f.set.BoolVar(&f.mock, "mock", false, "answer with mock proofs")
	f.set.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	if err := f.set.Parse(args); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *flags) apply(c *Config) {
	if f.set.Changed("listen") {
		c.Listen = f.listen
	}
	if f.set.Changed("network") {
		c.Network = f.network
	}
	if f.set.Changed("jobs") {
		c.Jobs = f.jobs
	}
	if f.set.Changed("keys-dir") {
		c.Keys.Kind = "dir"
		c.Keys.Dir = f.keysDir
	}
	if f.set.Changed("mock") {
		c.Mock = f.mock
	}
	if f.set.Changed("log-level") {
		c.LogLevel = f.logLevel
	}
}

// ResolveConfig loads the file named by the flags and layers env and flags over it.
func ResolveConfig(f *flags, env map[string]string) (*Config, error) {
	config, err := LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(env); err != nil {
		return nil, err
	}
	f.apply(config)

	return config, config.Validate()
}

// NetworkID parses the configured network.
func (c *Config) NetworkID() (serialize.NetworkID, error) {
	return serialize.ParseNetworkID(c.Network)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Listen == "" {
		return ierrors.New("listen must be set")
	}
	if _, err := c.NetworkID(); err != nil {
		return ierrors.Wrapf(err, "network %q", c.Network)
	}
	if c.Jobs <= 0 {
		return ierrors.New("jobs must be positive")
	}
	if c.JobTimeout <= 0 {
		return ierrors.New("job_timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return ierrors.New("shutdown_timeout must be positive")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return ierrors.New("rate limits must not be negative")
	}
	if c.RateLimit > 0 && c.RateClients <= 0 {
		return ierrors.New("rate_clients must be positive when rate limiting")
	}
	if !c.Mock && c.Keys.Kind == "remote" && c.Keys.URL == "" {
		return ierrors.New("keys.url must be set for a remote key source")
	}

	return nil
}
