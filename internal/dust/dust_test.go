package dust

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/merkle"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
	"ledgerengine/internal/serialize/serializetest"
)

var genesis = time.Unix(1_700_000_000, 0).UTC()

// testParams cap a Night atom at 100 Dust after ten seconds.
var testParams = Params{NightDustRatio: 100, GenerationDecayRate: 10, DustGracePeriodSeconds: 3600}

func dustKey(t *testing.T) SecretKey {
	t.Helper()
	sk, err := NewSecretKey()
	require.NoError(t, err)

	return sk
}

type fixture struct {
	sk      SecretKey
	owner   crypto.UserAddress
	night   crypto.UtxoID
	state   State
	wallet  LocalState
	initial []Event
}

// delegated registers a fresh key, creates a Night output of value 5 at genesis
// and syncs a wallet with the resulting events.
func delegated(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		sk:    dustKey(t),
		owner: crypto.UserAddress{1},
		night: crypto.UtxoID{7},
	}

	f.state = NewState(testParams, merkle.DefaultHistoryDepth, genesis).RegisterAddress(f.owner, f.sk.PublicKey())
	var events []Event
	var err error
	f.state, events, err = f.state.OnNightCreated(f.owner, f.night, 5, genesis)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventInitialUtxo, events[0].Kind)

	f.wallet, err = NewLocalState(testParams, nil).ProcessEvents(f.sk, events...)
	require.NoError(t, err)
	require.Equal(t, f.state.Utxo.Root(), f.wallet.Root())
	f.initial = events

	return f
}

func TestParams(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	require.Equal(t, uint64(604_815), DefaultParams().TimeToCapSeconds())
	require.Equal(t, 10*time.Second, testParams.TimeToCap())
	require.True(t, ierrors.Is(Params{}.Validate(), ErrInvalidParams))

	limit, err := testParams.Cap(5)
	require.NoError(t, err)
	require.Equal(t, uint64(500), limit)

	_, err = DefaultParams().Cap(1 << 62)
	require.True(t, ierrors.Is(err, ErrArithmeticOverflow))
}

func TestCurveBoundaries(t *testing.T) {
	for _, curve := range []Curve{Linear{}, EaseOut{}} {
		require.True(t, curve.Progress(0, 100).IsZero())
		require.True(t, curve.Progress(100, 100).Equal(decimal.NewFromInt(1)))
		require.True(t, curve.Progress(1_000, 100).Equal(decimal.NewFromInt(1)))
		require.True(t, curve.Progress(60, 100).GreaterThan(curve.Progress(40, 100)))
	}

	require.True(t, Linear{}.Progress(50, 100).Equal(decimal.NewFromFloat(0.5)))
	require.True(t, EaseOut{}.Progress(50, 100).Equal(decimal.NewFromFloat(0.75)))
}

func TestValueAt(t *testing.T) {
	sk := dustKey(t)
	out := Output{Owner: sk.PublicKey(), Ctime: genesis}
	gen := GenerationInfo{Value: 5, Owner: sk.PublicKey()}

	at := func(curve Curve, g GenerationInfo, seconds int) uint64 {
		v, err := testParams.ValueAt(curve, out, g, genesis.Add(time.Duration(seconds)*time.Second))
		require.NoError(t, err)

		return v
	}

	require.Equal(t, uint64(0), at(Linear{}, gen, -5))
	require.Equal(t, uint64(0), at(Linear{}, gen, 0))
	require.Equal(t, uint64(250), at(Linear{}, gen, 5))
	require.Equal(t, uint64(375), at(EaseOut{}, gen, 5))
	require.Equal(t, uint64(500), at(Linear{}, gen, 10))
	require.Equal(t, uint64(500), at(EaseOut{}, gen, 1_000))

	// growth stops at dtime, then 5 Night atoms decay 50 Dust per second
	spent := gen
	spent.Dtime = genesis.Add(4 * time.Second)
	require.Equal(t, uint64(200), at(Linear{}, spent, 4))
	require.Equal(t, uint64(150), at(Linear{}, spent, 5))
	require.Equal(t, uint64(0), at(Linear{}, spent, 10))
}

func TestValueAtDecayBounds(t *testing.T) {
	sk := dustKey(t)
	out := Output{Owner: sk.PublicKey(), Ctime: genesis}
	gen := GenerationInfo{Value: 5, Owner: sk.PublicKey(), Dtime: genesis.Add(time.Second)}

	steep := Params{NightDustRatio: 1, GenerationDecayRate: 1 << 62, DustGracePeriodSeconds: 3600}
	_, err := steep.ValueAt(Linear{}, out, gen, genesis.Add(2*time.Second))
	require.True(t, ierrors.Is(err, ErrArithmeticOverflow))

	// rate times elapsed exceeds 64 bits long after the output has decayed
	fast := Params{NightDustRatio: 1 << 40, GenerationDecayRate: 1 << 40, DustGracePeriodSeconds: 3600}
	v, err := fast.ValueAt(Linear{}, out, gen, genesis.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, uint64(5)<<40, v)
	v, err = fast.ValueAt(Linear{}, out, gen, genesis.Add((1<<24)*time.Second))
	require.NoError(t, err)
	require.Zero(t, v)
}

func TestSpendAndRegenerate(t *testing.T) {
	f := delegated(t)
	now := genesis.Add(20 * time.Second)

	balance, err := f.wallet.WalletBalance(now)
	require.NoError(t, err)
	require.Equal(t, uint64(500), balance)
	require.Equal(t, 1, f.wallet.UtxoCount())

	wallet, spend, err := f.wallet.Spend(f.sk, f.wallet.Utxos()[0], 100, now)
	require.NoError(t, err)
	require.Equal(t, 0, wallet.UtxoCount())
	require.Equal(t, 1, wallet.PendingCount())
	require.Equal(t, uint64(100), spend.VFee)
	require.Equal(t, SpendLocation, spend.Proof.KeyLocation)

	proved, err := MockProveSpend(spend)
	require.NoError(t, err)
	state, events, err := f.state.ApplySpend(EraseSpend(proved), now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventSpendProcessed, events[0].Kind)
	require.True(t, state.Utxo.HasNullifier(spend.OldNullifier))

	wallet, err = wallet.ProcessEvents(f.sk, events...)
	require.NoError(t, err)
	require.Equal(t, 1, wallet.UtxoCount())
	require.Equal(t, 0, wallet.PendingCount())
	require.Equal(t, state.Utxo.Root(), wallet.Root())

	balance, err = wallet.WalletBalance(now)
	require.NoError(t, err)
	require.Equal(t, uint64(400), balance)

	balance, err = wallet.WalletBalance(now.Add(testParams.TimeToCap()))
	require.NoError(t, err)
	require.Equal(t, uint64(500), balance)

	// the change output can be spent in turn
	require.Equal(t, uint32(1), wallet.Utxos()[0].Seq)
	_, second, err := wallet.Spend(f.sk, wallet.Utxos()[0], 50, now.Add(time.Second))
	require.NoError(t, err)
	_, _, err = state.ApplySpend(EraseSpend(second), now.Add(time.Second))
	require.NoError(t, err)

	_, _, err = state.ApplySpend(EraseSpend(proved), now)
	require.True(t, ierrors.Is(err, ErrNullifierCollision))
}

func TestRestoredWalletFollowsSpends(t *testing.T) {
	f := delegated(t)
	now := genesis.Add(20 * time.Second)

	_, spend, err := f.wallet.Spend(f.sk, f.wallet.Utxos()[0], 100, now)
	require.NoError(t, err)
	state, events, err := f.state.ApplySpend(EraseSpend(spend), now)
	require.NoError(t, err)

	// neither wallet built the spend: one saw the initial output before, one replays everything
	synced, err := f.wallet.ProcessEvents(f.sk, events...)
	require.NoError(t, err)
	restored, err := NewLocalState(testParams, nil).ProcessEvents(f.sk, append(f.initial, events...)...)
	require.NoError(t, err)

	for _, wallet := range []LocalState{synced, restored} {
		require.Equal(t, state.Utxo.Root(), wallet.Root())
		require.Equal(t, 1, wallet.UtxoCount())
		require.Equal(t, 0, wallet.PendingCount())
		change := wallet.Utxos()[0]
		require.Equal(t, uint64(1), change.MtIndex)
		require.Equal(t, uint32(1), change.Seq)
		require.Equal(t, spend.NewCommitment, change.Commitment())

		balance, err := wallet.WalletBalance(now)
		require.NoError(t, err)
		require.Equal(t, uint64(400), balance)

		// the spent output cannot be offered again
		_, _, err = wallet.Spend(f.sk, QualifiedOutput{Output: f.wallet.Utxos()[0].Output, MtIndex: 0}, 1, now)
		require.True(t, ierrors.Is(err, ErrUnknownOutput))

		_, next, err := wallet.Spend(f.sk, change, 50, now.Add(time.Second))
		require.NoError(t, err)
		_, _, err = state.ApplySpend(EraseSpend(next), now.Add(time.Second))
		require.NoError(t, err)
	}

	stranger, err := NewLocalState(testParams, nil).ProcessEvents(dustKey(t), append(f.initial, events...)...)
	require.NoError(t, err)
	require.Equal(t, 0, stranger.UtxoCount())
	require.Equal(t, state.Utxo.Root(), stranger.Root())
}

func TestSpendRejections(t *testing.T) {
	f := delegated(t)
	now := genesis.Add(20 * time.Second)
	out := f.wallet.Utxos()[0]

	_, _, err := f.wallet.Spend(dustKey(t), out, 1, now)
	require.True(t, ierrors.Is(err, ErrUnauthorized))

	_, _, err = f.wallet.Spend(f.sk, out, 501, now)
	require.True(t, ierrors.Is(err, ErrInsufficientBalance))

	_, _, err = f.wallet.Spend(f.sk, QualifiedOutput{Output: out.Output, MtIndex: 9}, 1, now)
	require.True(t, ierrors.Is(err, ErrUnknownOutput))

	// a rejected spend leaves the wallet unchanged
	require.Equal(t, 1, f.wallet.UtxoCount())
	require.Equal(t, 0, f.wallet.PendingCount())
}

func TestApplySpendChecks(t *testing.T) {
	f := delegated(t)
	now := genesis.Add(20 * time.Second)

	_, spend, err := f.wallet.Spend(f.sk, f.wallet.Utxos()[0], 10, now)
	require.NoError(t, err)
	erased := EraseSpend(spend)

	_, _, err = f.state.ApplySpend(erased, now.Add(-time.Second))
	require.True(t, ierrors.Is(err, ErrSpendTimeOutOfWindow))

	_, _, err = f.state.ApplySpend(erased, now.Add(testParams.GracePeriod()+time.Second))
	require.True(t, ierrors.Is(err, ErrSpendTimeOutOfWindow))

	state, _, err := f.state.ApplySpend(erased, now.Add(testParams.GracePeriod()))
	require.NoError(t, err)
	require.Equal(t, uint64(2), state.Utxo.FirstFree())

	foreign := erased
	foreign.MerkleRoot = fr.NewElement(42)
	_, _, err = f.state.ApplySpend(foreign, now)
	require.True(t, ierrors.Is(err, ErrUnknownMerkleRoot))
}

func TestRootHistory(t *testing.T) {
	f := delegated(t)
	now := genesis.Add(20 * time.Second)

	state := f.state.PostBlockUpdate(genesis.Add(time.Second), 0)
	old := state.Utxo.Root()

	_, spend, err := f.wallet.Spend(f.sk, f.wallet.Utxos()[0], 10, now)
	require.NoError(t, err)
	state, _, err = state.ApplySpend(EraseSpend(spend), now)
	require.NoError(t, err)
	require.NotEqual(t, old, state.Utxo.Root())
	require.True(t, state.Utxo.IsValidRoot(old))

	state = state.PostBlockUpdate(now, 0)
	require.True(t, state.Utxo.IsValidRoot(old))

	state = state.PostBlockUpdate(now.Add(time.Minute), 10*time.Second)
	require.False(t, state.Utxo.IsValidRoot(old))
	require.True(t, state.Utxo.IsValidRoot(state.Utxo.Root()))
}

func TestRootHistoryDepth(t *testing.T) {
	sk := dustKey(t)
	state := NewState(testParams, 2, genesis).RegisterAddress(crypto.UserAddress{1}, sk.PublicKey())
	require.Equal(t, 2, state.Utxo.HistoryDepth())

	var roots []fr.Element
	for i := byte(1); i <= 3; i++ {
		var err error
		state, _, err = state.OnNightCreated(crypto.UserAddress{1}, crypto.UtxoID{i}, 5, genesis)
		require.NoError(t, err)
		state = state.PostBlockUpdate(genesis.Add(time.Duration(i)*time.Second), 0)
		roots = append(roots, state.Utxo.Root())
	}

	require.False(t, state.Utxo.IsValidRoot(roots[0]))
	require.True(t, state.Utxo.IsValidRoot(roots[1]))
	require.True(t, state.Utxo.IsValidRoot(roots[2]))
}

func TestGenerationLifecycle(t *testing.T) {
	f := delegated(t)

	// unregistered owners generate nothing
	state, events, err := f.state.OnNightCreated(crypto.UserAddress{2}, crypto.UtxoID{8}, 5, genesis)
	require.NoError(t, err)
	require.Empty(t, events)
	require.Equal(t, uint64(1), state.Utxo.FirstFree())

	_, _, err = f.state.OnNightCreated(f.owner, f.night, 5, genesis)
	require.True(t, ierrors.Is(err, ErrDuplicateNight))

	info, index, ok := f.state.Generation.Generation(f.night)
	require.True(t, ok)
	require.Equal(t, uint64(0), index)
	require.True(t, f.state.Generation.IsGenerating(info))

	spentAt := genesis.Add(20 * time.Second)
	state, events, err = f.state.OnNightSpent(f.night, spentAt)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotEqual(t, f.state.Generation.Root(), state.Generation.Root())
	require.False(t, state.Generation.IsGenerating(info))
	updated, _, _ := state.Generation.Generation(f.night)
	require.True(t, updated.Dtime.Equal(spentAt))
	require.True(t, state.Generation.IsGenerating(updated))

	// spending the Night twice is a no-op
	again, events2, err := state.OnNightSpent(f.night, spentAt.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, events2)
	require.Equal(t, state.Generation.Root(), again.Generation.Root())

	wallet, err := f.wallet.ProcessEvents(f.sk, events...)
	require.NoError(t, err)
	balance, err := wallet.WalletBalance(spentAt.Add(5 * time.Second))
	require.NoError(t, err)
	require.Equal(t, uint64(250), balance)
}

func TestProcessEventsOutOfOrder(t *testing.T) {
	f := delegated(t)
	now := genesis.Add(20 * time.Second)

	_, spend, err := f.wallet.Spend(f.sk, f.wallet.Utxos()[0], 10, now)
	require.NoError(t, err)
	_, events, err := f.state.ApplySpend(EraseSpend(spend), now)
	require.NoError(t, err)

	_, err = NewLocalState(testParams, nil).ProcessEvents(f.sk, events...)
	require.True(t, ierrors.Is(err, ErrEventOutOfOrder))

	_, err = f.wallet.ProcessEvents(f.sk, Event{Kind: 9})
	require.True(t, ierrors.Is(err, ErrUnknownEventKind))
}

func TestSecretKeyString(t *testing.T) {
	sk := dustKey(t)
	require.NotContains(t, sk.String(), hexElement(sk.Element()))
	require.Equal(t, sk.String(), sk.GoString())
}

func TestSpendCodec(t *testing.T) {
	f := delegated(t)
	now := genesis.Add(20 * time.Second)

	_, spend, err := f.wallet.Spend(f.sk, f.wallet.Utxos()[0], 10, now)
	require.NoError(t, err)
	proved, err := MockProveSpend(spend)
	require.NoError(t, err)

	data, err := serialize.Marshal(serialize.TestNet, proved)
	require.NoError(t, err)
	decoded, err := serialize.Unmarshal(serialize.TestNet, proved.Tag(), data, ReadSpend[proofs.Proof])
	require.NoError(t, err)
	require.Equal(t, proved.VFee, decoded.VFee)
	require.Equal(t, proved.OldNullifier, decoded.OldNullifier)
	require.Equal(t, proved.NewCommitment, decoded.NewCommitment)
	require.True(t, proved.Time.Equal(decoded.Time))
	require.Equal(t, proved.Proof, decoded.Proof)

	again, err := serialize.Marshal(serialize.TestNet, decoded)
	require.NoError(t, err)
	require.Equal(t, data, again)

	_, err = serialize.Unmarshal(serialize.MainNet, proved.Tag(), data, ReadSpend[proofs.Proof])
	require.True(t, ierrors.Is(err, serialize.ErrNetworkMismatch))
	_, err = serialize.Unmarshal(serialize.TestNet, EraseSpend(proved).Tag(), data, ReadSpend[proofs.Erased])
	require.True(t, ierrors.Is(err, serialize.ErrTagMismatch))
}

func TestStateAndEventCodec(t *testing.T) {
	f := delegated(t)
	now := genesis.Add(20 * time.Second)

	_, spend, err := f.wallet.Spend(f.sk, f.wallet.Utxos()[0], 10, now)
	require.NoError(t, err)
	state, spendEvents, err := f.state.ApplySpend(EraseSpend(spend), now)
	require.NoError(t, err)
	state, dtimeEvents, err := state.OnNightSpent(f.night, now)
	require.NoError(t, err)
	state = state.PostBlockUpdate(now, 0)

	data, err := serialize.Marshal(serialize.DevNet, state)
	require.NoError(t, err)
	decoded, err := serialize.Unmarshal(serialize.DevNet, StateTag, data, ReadState)
	require.NoError(t, err)

	require.Equal(t, state.Params(), decoded.Params())
	require.Equal(t, state.Utxo.Root(), decoded.Utxo.Root())
	require.Equal(t, state.Generation.Root(), decoded.Generation.Root())
	require.True(t, decoded.Utxo.HasNullifier(spend.OldNullifier))
	pk, ok := decoded.Generation.Delegate(f.owner)
	require.True(t, ok)
	require.Equal(t, f.sk.PublicKey(), pk)
	info, _, ok := decoded.Generation.Generation(f.night)
	require.True(t, ok)
	require.True(t, decoded.Generation.IsGenerating(info))

	again, err := serialize.Marshal(serialize.DevNet, decoded)
	require.NoError(t, err)
	require.Equal(t, data, again)

	for _, ev := range append(spendEvents, dtimeEvents...) {
		data, err := serialize.Marshal(serialize.DevNet, ev)
		require.NoError(t, err)
		decodedEvent, err := serialize.Unmarshal(serialize.DevNet, EventTag, data, ReadEvent)
		require.NoError(t, err)
		require.Equal(t, ev.Kind, decodedEvent.Kind)
		again, err := serialize.Marshal(serialize.DevNet, decodedEvent)
		require.NoError(t, err)
		require.Equal(t, data, again)
	}
}

func TestCodecGolden(t *testing.T) {
	el := crypto.ElementFromUint64
	night := crypto.UtxoID{1, 2, 3}
	out := Output{InitialValue: 500, Owner: PublicKey(el(11)), Nonce: el(12), Seq: 2, Ctime: genesis, BackingNight: night}
	gen := GenerationInfo{Value: 5, Owner: PublicKey(el(11)), Nonce: el(13)}

	serializetest.Golden(t, "", serialize.DevNet, out, ReadOutput)
	serializetest.Golden(t, "", serialize.DevNet, gen, ReadGenerationInfo)
	serializetest.Golden(t, "initial-utxo", serialize.DevNet, Event{
		Kind:         EventInitialUtxo,
		Output:       QualifiedOutput{Output: out},
		Generation:   gen,
		BackingNight: night,
		Time:         genesis,
	}, ReadEvent)
	serializetest.Golden(t, "spend-processed", serialize.DevNet, Event{
		Kind:       EventSpendProcessed,
		Commitment: Commitment(el(21)),
		MtIndex:    4,
		Nullifier:  Nullifier(el(22)),
		Fee:        100,
		Time:       genesis.Add(20 * time.Second),
	}, ReadEvent)
}

func TestMockSpendDoesNotVerify(t *testing.T) {
	f := delegated(t)

	_, spend, err := f.wallet.Spend(f.sk, f.wallet.Utxos()[0], 10, genesis.Add(20*time.Second))
	require.NoError(t, err)
	proved, err := MockProveSpend(spend)
	require.NoError(t, err)

	verifier, err := proofs.NewLocalVerifier(proofs.NewDirKeySource(t.TempDir(), false, zap.NewNop()), 2)
	require.NoError(t, err)
	err = VerifySpend(context.Background(), proved, 0, verifier)
	require.True(t, ierrors.Is(err, proofs.ErrMockProof))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ProveSpend(ctx, spend, 0, proofs.MockProver{})
	require.True(t, ierrors.Is(err, proofs.ErrProving))
}

func TestSpendCircuitProveAndVerify(t *testing.T) {
	if os.Getenv("LEDGER_CIRCUIT_TESTS") == "" {
		t.Skip("set LEDGER_CIRCUIT_TESTS to run Groth16 setup over the dust circuit")
	}

	ctx := context.Background()
	keys := proofs.NewDirKeySource(t.TempDir(), true, zap.NewNop())
	prover, err := proofs.NewLocalProver(keys, 2, zap.NewNop())
	require.NoError(t, err)
	verifier, err := proofs.NewLocalVerifier(keys, 2)
	require.NoError(t, err)

	f := delegated(t)
	_, spend, err := f.wallet.Spend(f.sk, f.wallet.Utxos()[0], 10, genesis.Add(20*time.Second))
	require.NoError(t, err)

	proved, err := ProveSpend(ctx, spend, 3, prover)
	require.NoError(t, err)
	require.NoError(t, VerifySpend(ctx, proved, 3, verifier))
	require.Error(t, VerifySpend(ctx, proved, 4, verifier))
}
