// main.go - Ledger scenario driver.
//
// Plays a short chain on a fresh ledger state: a Dust registration backed by a
// genesis Night UTXO, a shielded faucet coin, and a shielded transfer that also
// deploys a contract and pays its fee in Dust. Every block is snapshotted and
// the last snapshot is reloaded and compared against the live state.
//
// Usage:
//
//	ledgerdemo [--network devnet] [--prover-url http://localhost:6300] [--snapshots ./snapshots.db]
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ledgerengine/internal/proofserver"
	"ledgerengine/internal/serialize"
	"ledgerengine/internal/store"
)

type options struct {
	network   string
	proverURL string
	retries   uint64
	snapshots string
	retain    int
	verbose   bool
}

func parseOptions(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("ledgerdemo", pflag.ContinueOnError)
	fs.StringVar(&o.network, "network", serialize.DevNet.String(), "network id (undeployed, devnet, testnet, mainnet)")
	fs.StringVar(&o.proverURL, "prover-url", "", "proof server to prove with; mock proofs when empty")
	fs.Uint64Var(&o.retries, "prover-retries", 3, "retries of a failed proof server request")
	fs.StringVar(&o.snapshots, "snapshots", "", "bolt file for state snapshots; in memory when empty")
	fs.IntVar(&o.retain, "retain", 0, "number of snapshots to keep, 0 keeps all")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")

	return o, fs.Parse(args)
}

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerdemo: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return config.Build()
}

func run(ctx context.Context, args []string) error {
	o, err := parseOptions(args)
	if err != nil {
		return err
	}
	network, err := serialize.ParseNetworkID(o.network)
	if err != nil {
		return err
	}
	log, err := newLogger(o.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	storeCfg := store.Config{Backend: "memory", Retain: o.retain}
	if o.snapshots != "" {
		storeCfg = store.Config{Backend: "bolt", Path: o.snapshots, Retain: o.retain}
	}
	snapshots, err := store.Open(storeCfg, network, log.Named("store"))
	if err != nil {
		return err
	}
	defer snapshots.Close()

	prove := Prover(MockProver)
	if o.proverURL != "" {
		client := proofserver.NewClient(o.proverURL, network, &http.Client{Timeout: 15 * time.Minute}, o.retries, log.Named("prover"))
		version, err := client.Version(ctx)
		if err != nil {
			return err
		}
		log.Info("using proof server", zap.String("url", o.proverURL), zap.String("version", version))
		prove = RemoteProver(client)
	}

	scenario, err := NewScenario(network, time.Now().UTC().Truncate(time.Second), snapshots, prove, log)
	if err != nil {
		return err
	}
	summary, err := scenario.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("snapshots:      %v\n", summary.Heights)
	fmt.Printf("contracts:      %d\n", summary.ContractCount)
	fmt.Printf("nullifiers:     %d\n", summary.Nullifiers)
	fmt.Printf("fee paid:       %d\n", summary.FeePaid)
	fmt.Printf("dust remaining: %d\n", summary.DustBalance)
	fmt.Printf("bob received:   %s\n", summary.Received)

	return nil
}

// RemoteProver proves through a proof server in a single request.
func RemoteProver(client *proofserver.Client) Prover {
	return func(ctx context.Context, tx unboundTx) (provenTx, error) {
		return proofserver.ProveTransaction(ctx, client, tx)
	}
}
