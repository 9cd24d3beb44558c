// keys.go - Key material sources.
//
// DirKeySource keeps Groth16 keys and constraint systems on disk and, when
// allowed, runs the setup for registered circuits whose keys are missing.
// RemoteKeySource fetches the same material from a proof server, and
// CachedKeySource keeps recently used material in memory. Which source is used
// is decided by an explicit KeySourceConfig.

package proofs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/consensys/gnark/backend/groth16"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/iotaledger/hive.go/ierrors"
	"go.uber.org/zap"
)

const (
	proverKeySuffix   = ".pk"
	verifierKeySuffix = ".vk"
	irSuffix          = ".ccs"
)

// DirKeySource loads key material from Dir. With Setup set, missing keys of
// registered circuits are generated and saved.
type DirKeySource struct {
	Dir   string
	Setup bool

	log *zap.Logger
	mu  sync.Mutex
}

func NewDirKeySource(dir string, setup bool, log *zap.Logger) *DirKeySource {
	return &DirKeySource{Dir: dir, Setup: setup, log: log}
}

func (s *DirKeySource) path(location, suffix string) string {
	return filepath.Join(s.Dir, location+suffix)
}

func (s *DirKeySource) LookupKey(ctx context.Context, location string) (KeyMaterial, error) {
	if err := ctx.Err(); err != nil {
		return KeyMaterial{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	km, err := s.load(location)
	if err == nil {
		return km, nil
	}
	if !s.Setup {
		return KeyMaterial{}, ierrors.Wrapf(ErrKeyNotFound, "%s in %s", location, s.Dir)
	}

	return s.setup(location)
}

func (s *DirKeySource) load(location string) (KeyMaterial, error) {
	var km KeyMaterial
	var err error
	if km.ProverKey, err = os.ReadFile(s.path(location, proverKeySuffix)); err != nil {
		return km, err
	}
	if km.VerifierKey, err = os.ReadFile(s.path(location, verifierKeySuffix)); err != nil {
		return km, err
	}
	if km.IR, err = os.ReadFile(s.path(location, irSuffix)); err != nil {
		return km, err
	}

	return km, nil
}

// setup compiles the circuit, runs the Groth16 setup and saves the results.
func (s *DirKeySource) setup(location string) (KeyMaterial, error) {
	ccs, err := Compile(location)
	if err != nil {
		return KeyMaterial{}, err
	}

	start := time.Now()
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return KeyMaterial{}, ierrors.Wrapf(err, "groth16 setup of %s failed", location)
	}
	s.log.Info("generated circuit keys", zap.String("location", location), zap.Duration("took", time.Since(start)))

	var km KeyMaterial
	if km.ProverKey, err = encode(pk); err != nil {
		return km, err
	}
	if km.VerifierKey, err = encode(vk); err != nil {
		return km, err
	}
	if km.IR, err = encode(ccs); err != nil {
		return km, err
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return km, ierrors.Wrap(err, "failed to create key directory")
	}
	for suffix, data := range map[string][]byte{proverKeySuffix: km.ProverKey, verifierKeySuffix: km.VerifierKey, irSuffix: km.IR} {
		if err := os.WriteFile(s.path(location, suffix), data, 0o600); err != nil {
			return km, ierrors.Wrapf(err, "failed to save %s%s", location, suffix)
		}
	}

	return km, nil
}

// GetParams reads params-<k>.bin from Dir.
func (s *DirKeySource) GetParams(ctx context.Context, k uint8) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, fmt.Sprintf("params-%d.bin", k)))
	if err != nil {
		return nil, ierrors.Wrapf(ErrParamsNotFound, "k=%d", k)
	}

	return data, nil
}

func encode(v io.WriterTo) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := v.WriteTo(&buf); err != nil {
		return nil, ierrors.Wrap(err, "failed to serialize key material")
	}

	return buf.Bytes(), nil
}

// RemoteKeySource fetches key material over HTTP from a proof server.
type RemoteKeySource struct {
	baseURL    string
	client     *http.Client
	maxRetries uint64
	log        *zap.Logger
}

func NewRemoteKeySource(baseURL string, client *http.Client, maxRetries uint64, log *zap.Logger) *RemoteKeySource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	return &RemoteKeySource{baseURL: baseURL, client: client, maxRetries: maxRetries, log: log}
}

func (s *RemoteKeySource) LookupKey(ctx context.Context, location string) (KeyMaterial, error) {
	var km KeyMaterial
	var err error
	escaped := url.PathEscape(location)
	if km.ProverKey, err = s.fetch(ctx, "/keys/"+escaped+"/prover"); err != nil {
		return km, err
	}
	if km.VerifierKey, err = s.fetch(ctx, "/keys/"+escaped+"/verifier"); err != nil {
		return km, err
	}
	if km.IR, err = s.fetch(ctx, "/keys/"+escaped+"/ir"); err != nil {
		return km, err
	}

	return km, nil
}

func (s *RemoteKeySource) GetParams(ctx context.Context, k uint8) ([]byte, error) {
	return s.fetch(ctx, fmt.Sprintf("/params/%d", k))
}

// fetch retries 5xx and transport errors with exponential backoff; any other
// non-2xx status fails immediately.
func (s *RemoteKeySource) fetch(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ierrors.Wrapf(ErrKeyNotFound, "%s", path))
		case resp.StatusCode >= 500:
			return ierrors.Errorf("key source returned %d for %s", resp.StatusCode, path)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(ierrors.Errorf("key source returned %d for %s", resp.StatusCode, path))
		case err != nil:
			return err
		}
		body = data

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		s.log.Debug("retrying key fetch", zap.String("path", path), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}

	return body, nil
}

// CachedKeySource keeps the most recently used key material of an inner source.
type CachedKeySource struct {
	inner  KeyMaterialProvider
	keys   *lru.Cache[string, KeyMaterial]
	params *lru.Cache[uint8, []byte]
}

func NewCachedKeySource(inner KeyMaterialProvider, size int) (*CachedKeySource, error) {
	keys, err := lru.New[string, KeyMaterial](size)
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to create key cache")
	}
	params, err := lru.New[uint8, []byte](size)
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to create params cache")
	}

	return &CachedKeySource{inner: inner, keys: keys, params: params}, nil
}

func (s *CachedKeySource) LookupKey(ctx context.Context, location string) (KeyMaterial, error) {
	if km, ok := s.keys.Get(location); ok {
		return km, nil
	}
	km, err := s.inner.LookupKey(ctx, location)
	if err != nil {
		return km, err
	}
	s.keys.Add(location, km)

	return km, nil
}

func (s *CachedKeySource) GetParams(ctx context.Context, k uint8) ([]byte, error) {
	if p, ok := s.params.Get(k); ok {
		return p, nil
	}
	p, err := s.inner.GetParams(ctx, k)
	if err != nil {
		return nil, err
	}
	s.params.Add(k, p)

	return p, nil
}

// KeySourceConfig selects and parameterizes a key material source.
type KeySourceConfig struct {
	// Kind is "dir" or "remote".
	Kind       string `yaml:"kind"`
	Dir        string `yaml:"dir"`
	Setup      bool   `yaml:"setup"`
	URL        string `yaml:"url"`
	MaxRetries uint64 `yaml:"max_retries"`
	// CacheSize wraps the source in a CachedKeySource when positive.
	CacheSize int `yaml:"cache_size"`
}

// NewKeySource builds the source described by cfg.
func NewKeySource(cfg KeySourceConfig, log *zap.Logger) (KeyMaterialProvider, error) {
	var src KeyMaterialProvider
	switch cfg.Kind {
	case "dir", "":
		src = NewDirKeySource(cfg.Dir, cfg.Setup, log.Named("keys"))
	case "remote":
		src = NewRemoteKeySource(cfg.URL, nil, cfg.MaxRetries, log.Named("keys"))
	default:
		return nil, ierrors.Wrapf(ErrKeySource, "%q", cfg.Kind)
	}
	if cfg.CacheSize <= 0 {
		return src, nil
	}

	cached, err := NewCachedKeySource(src, cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	return cached, nil
}
