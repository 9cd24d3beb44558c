// scenario.go - A short chain history exercising every part of the ledger.
package main

import (
	"context"
	"math/big"
	"time"

	"github.com/iotaledger/hive.go/ierrors"
	"go.uber.org/zap"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/dust"
	"ledgerengine/internal/ledger"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
	"ledgerengine/internal/store"
	"ledgerengine/internal/zswap"
)

type (
	unboundTx = ledger.Transaction[proofs.SignatureErased, proofs.Preimage, proofs.Unbound]
	provenTx  = ledger.Transaction[proofs.SignatureErased, proofs.Proof, proofs.Unbound]
)

// Prover turns preimages into proofs, locally or through a proof server.
type Prover func(ctx context.Context, tx unboundTx) (provenTx, error)

// MockProver fills every proof slot with a mock proof.
func MockProver(_ context.Context, tx unboundTx) (provenTx, error) {
	return ledger.MockProveTransaction(tx)
}

// demoParams let Night generate its full Dust in ten seconds.
func demoParams() ledger.Params {
	p := ledger.DefaultParams()
	p.Dust = dust.Params{NightDustRatio: 100, GenerationDecayRate: 10, DustGracePeriodSeconds: 3600}

	return p
}

// Summary is what the scenario leaves behind.
type Summary struct {
	Heights       []uint64
	ContractCount int
	Nullifiers    int
	DustBalance   uint64
	FeePaid       uint64
	Received      *big.Int
}

// Scenario drives a ledger state block by block and snapshots every block.
type Scenario struct {
	network serialize.NetworkID
	state   ledger.State
	store   *store.Store
	prove   Prover
	height  uint64
	now     time.Time
	log     *zap.Logger

	night   crypto.SigningKey
	dustKey dust.SecretKey
	wallet  dust.LocalState
	alice   crypto.CoinSecretKey
	bob     crypto.CoinSecretKey
	bobEnc  crypto.EncryptionSecretKey
	coin    zswap.CoinInfo
	summary Summary
}

func NewScenario(network serialize.NetworkID, genesis time.Time, snapshots *store.Store, prove Prover, log *zap.Logger) (*Scenario, error) {
	night, err := crypto.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	dustKey, err := dust.NewSecretKey()
	if err != nil {
		return nil, err
	}
	alice, err := crypto.NewCoinSecretKey()
	if err != nil {
		return nil, err
	}
	bob, err := crypto.NewCoinSecretKey()
	if err != nil {
		return nil, err
	}
	bobEnc, err := crypto.GenerateEncryptionKey()
	if err != nil {
		return nil, err
	}

	params := demoParams()

	return &Scenario{
		network: network,
		state:   ledger.NewState(network, params, genesis),
		store:   snapshots,
		prove:   prove,
		now:     genesis,
		log:     log,
		night:   night,
		dustKey: dustKey,
		wallet:  dust.NewLocalState(params.Dust, nil),
		alice:   alice,
		bob:     bob,
		bobEnc:  bobEnc,
	}, nil
}

// Run plays every block in order.
func (s *Scenario) Run(ctx context.Context) (Summary, error) {
	steps := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"register dust address", s.registerDust},
		{"shield faucet coin", s.faucet},
		{"shielded transfer paid with dust", s.transfer},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			return s.summary, ierrors.Wrap(err, step.name)
		}
		if err := s.endBlock(); err != nil {
			return s.summary, ierrors.Wrapf(err, "%s: end block", step.name)
		}
	}

	return s.finish()
}

func (s *Scenario) endBlock() error {
	s.now = s.now.Add(10 * time.Second)
	s.state = s.state.PostBlockUpdate(s.now)
	s.height++
	if err := s.store.Save(s.height, s.state); err != nil {
		return err
	}
	root := s.state.Zswap.Root()
	s.log.Info("block committed",
		zap.Uint64("height", s.height),
		zap.Time("time", s.now),
		zap.String("zswap_root", root.String()))

	return nil
}

func (s *Scenario) apply(tx ledger.Transaction[proofs.SignatureErased, proofs.Erased, proofs.Bound]) error {
	next, result, err := s.state.Apply(tx, s.now)
	if err != nil {
		return err
	}
	if result.Status != ledger.Success {
		return ierrors.Errorf("transaction %s", result)
	}
	s.state = next
	wallet, err := s.wallet.ProcessEvents(s.dustKey, result.Events...)
	if err != nil {
		return err
	}
	s.wallet = wallet
	s.log.Debug("transaction applied", zap.Stringer("result", result), zap.Int("events", len(result.Events)))

	return nil
}

// registerDust delegates the Night key's Dust to dustKey and then mints the
// Night that generates it.
func (s *Scenario) registerDust(ctx context.Context) error {
	dustPK := s.dustKey.PublicKey()
	intent := ledger.NewIntent[proofs.Preimage](s.now.Add(time.Hour))
	ledger.AddDustRegistration(intent, s.night.VerifyingKey(), &dustPK)

	tx, err := ledger.NewTransaction(s.network, nil, nil, map[uint16]*ledger.Intent[proofs.SignatureErased, proofs.Preimage]{1: intent})
	if err != nil {
		return err
	}
	bound, err := ledger.Bind(tx)
	if err != nil {
		return err
	}
	signed, err := ledger.SignTransaction(bound, s.night)
	if err != nil {
		return err
	}
	if err := ledger.WellFormed(ctx, signed, s.state, nil, ledger.Strictness{VerifySignatures: true}); err != nil {
		return err
	}
	if err := s.apply(ledger.EraseProofs(ledger.EraseSignatures(signed))); err != nil {
		return err
	}

	state, utxo, events, err := s.state.WithGenesisUtxo([32]byte{1}, ledger.UtxoOutput{
		Owner: s.night.VerifyingKey().Address(),
		Type:  crypto.NightToken,
		Value: 10_000,
	})
	if err != nil {
		return err
	}
	s.state = state
	if s.wallet, err = s.wallet.ProcessEvents(s.dustKey, events...); err != nil {
		return err
	}
	s.log.Info("night minted", zap.Stringer("utxo", utxo), zap.Int("dust_outputs", s.wallet.UtxoCount()))

	return nil
}

// faucet shields a native coin for alice outside of any balancing.
func (s *Scenario) faucet(context.Context) error {
	coin, err := zswap.NewCoinInfo(crypto.NativeToken, big.NewInt(1_000))
	if err != nil {
		return err
	}
	out, err := zswap.NewOutput(coin, zswap.UserRecipient(s.alice.PublicKey()), nil, ledger.GuaranteedSegment)
	if err != nil {
		return err
	}
	offer := zswap.FromOutput(out, coin.Type, coin.Value)

	tx, err := ledger.NewTransaction[proofs.SignatureErased](s.network, &offer, nil, nil)
	if err != nil {
		return err
	}
	bound, err := ledger.Bind(tx)
	if err != nil {
		return err
	}
	if err := s.apply(ledger.EraseProofs(bound)); err != nil {
		return err
	}
	s.coin = coin

	return nil
}

// transfer moves alice's coin to bob, deploys a contract in the same
// transaction and pays the fee from the Dust wallet.
func (s *Scenario) transfer(ctx context.Context) error {
	cm, err := s.coin.Commitment(zswap.UserRecipient(s.alice.PublicKey()))
	if err != nil {
		return err
	}
	index, ok := s.state.Zswap.CommitmentIndex(cm)
	if !ok {
		return ierrors.New("faucet coin is not in the commitment tree")
	}
	in, err := zswap.NewInput(s.coin.Qualify(index), zswap.UserSender(s.alice), s.state.Zswap.Tree(), ledger.GuaranteedSegment)
	if err != nil {
		return err
	}
	sent, err := zswap.NewCoinInfo(s.coin.Type, s.coin.Value)
	if err != nil {
		return err
	}
	encPK := s.bobEnc.PublicKey()
	out, err := zswap.NewOutput(sent, zswap.UserRecipient(s.bob.PublicKey()), &encPK, ledger.GuaranteedSegment)
	if err != nil {
		return err
	}
	offer, err := zswap.Merge(zswap.FromInput(in, s.coin.Type, s.coin.Value), zswap.FromOutput(out, sent.Type, sent.Value))
	if err != nil {
		return err
	}

	deploy, err := ledger.NewContractDeploy(ledger.ContractState{
		Data:        []byte("counter:0"),
		EntryPoints: []string{"increment"},
		Authority:   ledger.MaintenanceAuthority{Committee: []crypto.VerifyingKey{s.night.VerifyingKey()}, Threshold: 1},
	})
	if err != nil {
		return err
	}

	build := func(fee uint64) (unboundTx, error) {
		_, spend, err := s.wallet.Spend(s.dustKey, s.wallet.Utxos()[0], fee, s.now)
		if err != nil {
			return unboundTx{}, err
		}
		intent := ledger.NewIntent[proofs.Preimage](s.now.Add(time.Hour))
		intent.AddDustSpend(spend)
		if err := intent.AddAction(ledger.DeployAction[proofs.SignatureErased](deploy)); err != nil {
			return unboundTx{}, err
		}

		return ledger.NewTransaction(s.network, &offer, nil, map[uint16]*ledger.Intent[proofs.SignatureErased, proofs.Preimage]{1: intent})
	}

	if len(s.wallet.Utxos()) == 0 {
		return ierrors.New("dust wallet is empty")
	}
	draft, err := build(0)
	if err != nil {
		return err
	}
	fee, err := ledger.Fee(draft, s.state.Params.Cost)
	if err != nil {
		return err
	}
	tx, err := build(fee)
	if err != nil {
		return err
	}

	proven, err := s.prove(ctx, tx)
	if err != nil {
		return err
	}
	bound, err := ledger.Bind(proven)
	if err != nil {
		return err
	}
	signed, err := ledger.SignTransaction(bound)
	if err != nil {
		return err
	}
	if err := ledger.WellFormed(ctx, signed, s.state, nil, ledger.Strictness{VerifySignatures: true, EnforceBalancing: true}); err != nil {
		return err
	}
	if err := s.apply(ledger.EraseProofs(ledger.EraseSignatures(signed))); err != nil {
		return err
	}
	s.summary.FeePaid = fee

	for _, o := range proven.Guaranteed.Outputs {
		if coin, ok := zswap.TryDecrypt(s.bobEnc, s.bob.PublicKey(), o); ok {
			s.summary.Received = coin.Value
		}
	}
	if s.summary.Received == nil {
		return ierrors.New("bob did not receive the transfer")
	}
	address, err := deploy.Address()
	if err != nil {
		return err
	}
	s.log.Info("transfer applied",
		zap.Uint64("fee", fee),
		zap.Stringer("received", s.summary.Received),
		zap.Stringer("contract", address))

	return nil
}

// finish reloads the latest snapshot and checks it against the live state.
func (s *Scenario) finish() (Summary, error) {
	height, latest, err := s.store.Latest()
	if err != nil {
		return s.summary, err
	}
	if height != s.height {
		return s.summary, ierrors.Errorf("latest snapshot is %d, expected %d", height, s.height)
	}
	if latest.Zswap.Root() != s.state.Zswap.Root() || latest.Dust.Utxo.Root() != s.state.Dust.Utxo.Root() {
		return s.summary, ierrors.New("snapshot roots differ from the live state")
	}

	if s.summary.Heights, err = s.store.Heights(); err != nil {
		return s.summary, err
	}
	if s.summary.DustBalance, err = s.wallet.WalletBalance(s.now); err != nil {
		return s.summary, err
	}
	s.summary.ContractCount = latest.Contracts.Len()
	s.summary.Nullifiers = latest.Zswap.NullifierCount()

	return s.summary, nil
}
