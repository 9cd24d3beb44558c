// server.go - HTTP proof server.
//
// Bodies of /check, /prove and /prove-tx are framed values of the serialize
// package, bound to the server's network. Jobs share a fixed number of proving
// slots; a job that cannot get a slot or finish before its deadline is answered
// with 503 so clients retry it. Requests the prover rejects get 400.

package proofserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/ledger"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
)

const (
	endpointCheck   = "check"
	endpointProve   = "prove"
	endpointProveTx = "prove-tx"
)

// Config parameterizes a Server.
type Config struct {
	Network serialize.NetworkID
	// Jobs is the number of concurrent proving slots.
	Jobs int64
	// JobTimeout bounds a job including the wait for a slot.
	JobTimeout time.Duration
	// BodyLimit is an echo size string such as "64M".
	BodyLimit string
	Version   string
}

func DefaultConfig() Config {
	return Config{
		Network:    serialize.Undeployed,
		Jobs:       2,
		JobTimeout: 10 * time.Minute,
		BodyLimit:  "64M",
		Version:    "dev",
	}
}

// Server answers proving requests with a proofs.Provider and serves key
// material from a proofs.KeyMaterialProvider.
type Server struct {
	cfg      Config
	provider proofs.Provider
	keys     proofs.KeyMaterialProvider
	health   *HealthChecker
	slots    *semaphore.Weighted
	busy     atomic.Int64
	waiting  atomic.Int64
	engine   *echo.Echo
	log      *zap.Logger
}

// New builds a server. keys may be nil, in which case key and parameter
// endpoints answer 404.
func New(cfg Config, provider proofs.Provider, keys proofs.KeyMaterialProvider, log *zap.Logger) (*Server, error) {
	if !cfg.Network.Valid() {
		return nil, serialize.ErrUnknownNetwork
	}
	if cfg.Jobs <= 0 {
		return nil, ierrors.Errorf("proof server needs at least one job slot, got %d", cfg.Jobs)
	}
	if cfg.JobTimeout <= 0 {
		return nil, ierrors.Errorf("job timeout must be positive, got %s", cfg.JobTimeout)
	}

	s := &Server{
		cfg:      cfg,
		provider: provider,
		keys:     keys,
		health:   NewHealthChecker(cfg.Version),
		slots:    semaphore.NewWeighted(cfg.Jobs),
		log:      log,
	}
	s.health.Register("slots", func(context.Context) error {
		if s.busy.Load() >= s.cfg.Jobs && s.waiting.Load() > s.cfg.Jobs {
			return ierrors.Errorf("%d jobs waiting for %d slots", s.waiting.Load(), s.cfg.Jobs)
		}

		return nil
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	e.POST("/check", s.handleCheck)
	e.POST("/prove", s.handleProve)
	e.POST("/prove-tx", s.handleProveTx)
	e.GET("/health", s.handleHealth)
	e.GET("/ready", s.handleReady)
	e.GET("/version", s.handleVersion)
	e.GET("/proof-versions", s.handleProofVersions)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/keys/:location/:kind", s.handleKey)
	e.GET("/params/:k", s.handleParams)
	s.engine = e

	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Use adds middleware in front of every route.
func (s *Server) Use(mw ...echo.MiddlewareFunc) {
	s.engine.Use(mw...)
}

// Health returns the checker backing /health, so callers can register more components.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// run executes job in a proving slot. The returned error is already an
// *echo.HTTPError with the status the client should see.
func (s *Server) run(c echo.Context, endpoint string, job func(ctx context.Context, body []byte) ([]byte, error)) error {
	start := time.Now()
	defer func() { requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return s.fail(endpoint, echo.NewHTTPError(http.StatusBadRequest, "failed to read body").SetInternal(err))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.JobTimeout)
	defer cancel()

	s.waiting.Add(1)
	jobsPending.Inc()
	err = s.slots.Acquire(ctx, 1)
	s.waiting.Add(-1)
	jobsPending.Dec()
	if err != nil {
		return s.fail(endpoint, echo.NewHTTPError(http.StatusServiceUnavailable, "no proving slot available").SetInternal(err))
	}
	s.busy.Add(1)
	jobsProcessing.Inc()
	defer func() {
		s.busy.Add(-1)
		jobsProcessing.Dec()
		s.slots.Release(1)
	}()

	out, err := job(ctx, body)
	if err != nil {
		return s.fail(endpoint, s.classify(ctx, err))
	}

	requestsTotal.WithLabelValues(endpoint, "success").Inc()
	s.log.Debug("job done", zap.String("endpoint", endpoint), zap.Duration("elapsed", time.Since(start)), zap.Int("size", len(out)))

	return c.Blob(http.StatusOK, echo.MIMEOctetStream, out)
}

func (s *Server) classify(ctx context.Context, err error) *echo.HTTPError {
	var he *echo.HTTPError
	switch {
	case ierrors.As(err, &he):
		return he
	case ctx.Err() != nil:
		return echo.NewHTTPError(http.StatusServiceUnavailable, "job deadline exceeded").SetInternal(err)
	case ierrors.Is(err, proofs.ErrProving):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}
}

func (s *Server) fail(endpoint string, he *echo.HTTPError) *echo.HTTPError {
	status := "error"
	switch {
	case he.Code == http.StatusServiceUnavailable:
		status = "unavailable"
	case he.Code < http.StatusInternalServerError:
		status = "rejected"
	}
	requestsTotal.WithLabelValues(endpoint, status).Inc()
	s.log.Warn("job failed", zap.String("endpoint", endpoint), zap.Int("code", he.Code), zap.Error(he.Internal))

	return he
}

func badRequest(err error) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
}

func (s *Server) handleCheck(c echo.Context) error {
	return s.run(c, endpointCheck, func(ctx context.Context, body []byte) ([]byte, error) {
		req, err := serialize.Unmarshal(s.cfg.Network, checkRequestTag, body, readCheckRequest)
		if err != nil {
			return nil, badRequest(err)
		}
		inputs, err := s.provider.Check(ctx, req.Preimage)
		if err != nil {
			return nil, err
		}

		return serialize.Marshal(s.cfg.Network, checkResponse{Inputs: inputs})
	})
}

func (s *Server) handleProve(c echo.Context) error {
	return s.run(c, endpointProve, func(ctx context.Context, body []byte) ([]byte, error) {
		req, err := serialize.Unmarshal(s.cfg.Network, proveRequestTag, body, readProveRequest)
		if err != nil {
			return nil, badRequest(err)
		}
		proof, err := s.provider.Prove(ctx, req.Preimage, req.KeyLocation, req.BindingInput)
		if err != nil {
			return nil, err
		}

		return serialize.Marshal(s.cfg.Network, proveResponse{Proof: proof})
	})
}

func (s *Server) handleProveTx(c echo.Context) error {
	return s.run(c, endpointProveTx, func(ctx context.Context, body []byte) ([]byte, error) {
		header, err := serialize.PeekHeader(body)
		if err != nil {
			return nil, badRequest(err)
		}

		switch header.Tag {
		case ledger.Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Unbound]{}.Tag():
			return proveTx[proofs.SignatureErased, proofs.Unbound](ctx, s.cfg.Network, body, s.provider)
		case ledger.Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Bound]{}.Tag():
			return proveTx[proofs.SignatureErased, proofs.Bound](ctx, s.cfg.Network, body, s.provider)
		case ledger.Transaction[crypto.Signature, proofs.Preimage, proofs.Unbound]{}.Tag():
			return proveTx[crypto.Signature, proofs.Unbound](ctx, s.cfg.Network, body, s.provider)
		case ledger.Transaction[crypto.Signature, proofs.Preimage, proofs.Bound]{}.Tag():
			return proveTx[crypto.Signature, proofs.Bound](ctx, s.cfg.Network, body, s.provider)
		default:
			return nil, badRequest(ierrors.Wrapf(ErrUnsupported, "%s", header.Tag))
		}
	})
}

func proveTx[S proofs.SignatureStage, B proofs.BindingStage](ctx context.Context, network serialize.NetworkID, body []byte, provider proofs.Provider) ([]byte, error) {
	tag := ledger.Transaction[S, proofs.Preimage, B]{}.Tag()
	tx, err := serialize.Unmarshal(network, tag, body, ledger.ReadTransaction[S, proofs.Preimage, B])
	if err != nil {
		return nil, badRequest(err)
	}
	proven, err := ledger.ProveTransaction(ctx, tx, provider)
	if err != nil {
		return nil, err
	}

	return serialize.Marshal(network, proven)
}

func (s *Server) handleHealth(c echo.Context) error {
	health := s.health.Check(c.Request().Context())
	code := http.StatusOK
	if health.Status == Unhealthy {
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, health)
}

// Readiness is the body of /ready.
type Readiness struct {
	Status         string `json:"status"`
	JobsProcessing int64  `json:"jobsProcessing"`
	JobsPending    int64  `json:"jobsPending"`
	JobCapacity    int64  `json:"jobCapacity"`
}

func (s *Server) handleReady(c echo.Context) error {
	r := Readiness{
		Status:         "ok",
		JobsProcessing: s.busy.Load(),
		JobsPending:    s.waiting.Load(),
		JobCapacity:    s.cfg.Jobs,
	}
	if r.JobsProcessing >= r.JobCapacity {
		r.Status = "busy"

		return c.JSON(http.StatusServiceUnavailable, r)
	}

	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.String(http.StatusOK, s.cfg.Version)
}

// ProofVersions lists the proof encodings the server produces.
func ProofVersions() []string {
	d, ok := serialize.Default.Lookup("proof")
	if !ok {
		return nil
	}

	return []string{fmt.Sprintf("V%d", d.Version)}
}

func (s *Server) handleProofVersions(c echo.Context) error {
	return c.JSON(http.StatusOK, ProofVersions())
}

func (s *Server) handleKey(c echo.Context) error {
	if s.keys == nil {
		return echo.ErrNotFound
	}
	location, err := url.PathUnescape(c.Param("location"))
	if err != nil {
		return badRequest(err)
	}

	km, err := s.keys.LookupKey(c.Request().Context(), location)
	switch {
	case ierrors.Is(err, proofs.ErrKeyNotFound), ierrors.Is(err, proofs.ErrUnknownCircuit):
		return echo.NewHTTPError(http.StatusNotFound, err.Error()).SetInternal(err)
	case err != nil:
		s.log.Warn("key lookup failed", zap.String("location", location), zap.Error(err))

		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}

	switch c.Param("kind") {
	case "prover":
		return c.Blob(http.StatusOK, echo.MIMEOctetStream, km.ProverKey)
	case "verifier":
		return c.Blob(http.StatusOK, echo.MIMEOctetStream, km.VerifierKey)
	case "ir":
		return c.Blob(http.StatusOK, echo.MIMEOctetStream, km.IR)
	default:
		return echo.ErrNotFound
	}
}

func (s *Server) handleParams(c echo.Context) error {
	if s.keys == nil {
		return echo.ErrNotFound
	}
	k, err := strconv.ParseUint(c.Param("k"), 10, 8)
	if err != nil {
		return badRequest(err)
	}

	params, err := s.keys.GetParams(c.Request().Context(), uint8(k))
	switch {
	case ierrors.Is(err, proofs.ErrParamsNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error()).SetInternal(err)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}

	return c.Blob(http.StatusOK, echo.MIMEOctetStream, params)
}
