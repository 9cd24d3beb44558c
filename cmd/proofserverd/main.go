// main.go - Proof server daemon.
//
// Serves the proof server API over HTTP, proving with the in-process Groth16
// prover (or mock proofs) and key material from the configured key source.
//
// Usage:
//
//	proofserverd --config proofserver.yaml [--listen :6300] [--network devnet] [--mock]
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/iotaledger/hive.go/ierrors"
	"go.uber.org/zap"

	"ledgerengine/internal/proofs"
	"ledgerengine/internal/proofserver"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "proofserverd: %v\n", err)
		os.Exit(1)
	}
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, "PROOFSERVER_") {
			env[k] = v
		}
	}

	return env
}

func run(args []string) error {
	f, err := newFlags(args)
	if err != nil {
		return err
	}
	cfg, err := ResolveConfig(f, environ())
	if err != nil {
		return err
	}
	network, err := cfg.NetworkID()
	if err != nil {
		return err
	}

	logger, audit, err := NewLogger(cfg.LogLevel, cfg.LogFile, cfg.AuditLogPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	keys, err := proofs.NewKeySource(cfg.Keys, logger)
	if err != nil {
		return err
	}
	var provider proofs.Provider = proofs.MockProver{}
	if !cfg.Mock {
		if provider, err = proofs.NewLocalProver(keys, cfg.ProverCache, logger.Named("prover")); err != nil {
			return err
		}
	}

	server, err := proofserver.New(proofserver.Config{
		Network:    network,
		Jobs:       cfg.Jobs,
		JobTimeout: cfg.JobTimeout,
		BodyLimit:  cfg.BodyLimit,
		Version:    Version,
	}, provider, keys, logger.Named("server"))
	if err != nil {
		return err
	}
	if cfg.RateLimit > 0 {
		limiter, err := NewClientRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.RateClients)
		if err != nil {
			return err
		}
		server.Use(limiter.Middleware(audit))
	}
	if cfg.Keys.Kind == "dir" || cfg.Keys.Kind == "" {
		dir := cfg.Keys.Dir
		server.Health().Register("keys", func(context.Context) error {
			_, err := os.Stat(dir)

			return err
		})
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("proof server listening",
			zap.String("address", cfg.Listen),
			zap.Stringer("network", network),
			zap.Int64("jobs", cfg.Jobs),
			zap.Bool("mock", cfg.Mock),
			zap.String("version", Version))
		audit.Info("server started", zap.String("address", cfg.Listen), zap.Stringer("network", network))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !ierrors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	audit.Info("server stopped")

	return nil
}
