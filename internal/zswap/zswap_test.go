package zswap

import (
	"bytes"
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/merkle"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
)

var genesis = time.Unix(1_700_000_000, 0).UTC()

func nativeCoin(t *testing.T, value int64) CoinInfo {
	t.Helper()
	coin, err := NewCoinInfo(crypto.NativeToken, big.NewInt(value))
	require.NoError(t, err)

	return coin
}

func coinKey(t *testing.T) crypto.CoinSecretKey {
	t.Helper()
	sk, err := crypto.NewCoinSecretKey()
	require.NoError(t, err)

	return sk
}

func contractAddress(b byte) crypto.ContractAddress {
	var a crypto.ContractAddress
	a[0] = b

	return a
}

// received applies an output for coin to an empty state and returns the new state and the coin's index.
func received(t *testing.T, coin CoinInfo, recipient Recipient) (ChainState, uint64) {
	t.Helper()
	out, err := NewOutput(coin, recipient, nil, 0)
	require.NoError(t, err)
	state, _, err := NewChainState(merkle.DefaultHistoryDepth, genesis).TryApply(EraseOffer(FromOutput(out, coin.Type, coin.Value)), nil)
	require.NoError(t, err)
	index, ok := state.CommitmentIndex(out.Commitment)
	require.True(t, ok)

	return state, index
}

func TestContractInputRejectsZeroValue(t *testing.T) {
	contract := contractAddress(1)
	coin := nativeCoin(t, 0)
	state, index := received(t, coin, ContractRecipient(contract))

	_, err := NewInput(coin.Qualify(index), ContractSender(contract), state.Tree(), 0)
	require.True(t, ierrors.Is(err, ErrZeroValueContractInput))

	out, err := NewOutput(coin, ContractRecipient(contract), nil, 0)
	require.NoError(t, err)
	_, err = NewTransient(coin.Qualify(0), ContractSender(contract), out, 0)
	require.True(t, ierrors.Is(err, ErrZeroValueContractInput))

	// user-owned zero-value coins are fine
	sk := coinKey(t)
	state, index = received(t, coin, UserRecipient(sk.PublicKey()))
	_, err = NewInput(coin.Qualify(index), UserSender(sk), state.Tree(), 0)
	require.NoError(t, err)
}

func TestCoinValueModulusBound(t *testing.T) {
	sk := coinKey(t)

	tooLarge := CoinInfo{Type: crypto.NativeToken, Value: fr.Modulus()}
	_, err := NewOutput(tooLarge, UserRecipient(sk.PublicKey()), nil, 0)
	require.True(t, ierrors.Is(err, crypto.ErrValueOutOfBounds))
	_, err = tooLarge.Commitment(UserRecipient(sk.PublicKey()))
	require.True(t, ierrors.Is(err, crypto.ErrValueOutOfBounds))

	largest := CoinInfo{Type: crypto.NativeToken, Value: crypto.MaxValue()}
	_, err = NewOutput(largest, UserRecipient(sk.PublicKey()), nil, 0)
	require.NoError(t, err)
}

func TestInvalidSenderAndRecipient(t *testing.T) {
	coin := nativeCoin(t, 1)
	_, err := NewOutput(coin, Recipient{}, nil, 0)
	require.True(t, ierrors.Is(err, ErrInvalidRecipient))

	_, err = coin.Nullifier(Sender{})
	require.True(t, ierrors.Is(err, ErrInvalidSender))
}

func TestInputRequiresCoinInTree(t *testing.T) {
	sk := coinKey(t)
	coin := nativeCoin(t, 3)
	state, _ := received(t, nativeCoin(t, 4), UserRecipient(sk.PublicKey()))

	_, err := NewInput(coin.Qualify(0), UserSender(sk), state.Tree(), 0)
	require.True(t, ierrors.Is(err, ErrCoinNotInTree))
	_, err = NewInput(coin.Qualify(5), UserSender(sk), state.Tree(), 0)
	require.True(t, ierrors.Is(err, ErrCoinNotInTree))
}

func TestMerge(t *testing.T) {
	sk := coinKey(t)
	recipient := UserRecipient(sk.PublicKey())

	coinA, coinB := nativeCoin(t, 5), nativeCoin(t, 7)
	outA, err := NewOutput(coinA, recipient, nil, 0)
	require.NoError(t, err)
	outB, err := NewOutput(coinB, recipient, nil, 0)
	require.NoError(t, err)

	a := FromOutput(outA, crypto.NativeToken, coinA.Value)
	b := FromOutput(outB, crypto.NativeToken, coinB.Value)

	merged, err := Merge(a, b)
	require.NoError(t, err)
	require.Len(t, merged.Outputs, 2)
	require.Zero(t, merged.Deltas[crypto.NativeToken].Cmp(big.NewInt(-12)))
	require.Negative(t, compareCommitments(merged.Outputs[0].Commitment, merged.Outputs[1].Commitment))

	// order of arguments does not matter
	swapped, err := Merge(b, a)
	require.NoError(t, err)
	require.Equal(t, merged.String(), swapped.String())

	_, err = Merge(merged, a)
	require.True(t, ierrors.Is(err, ErrNonDisjoint))
	_, err = Merge(a, a)
	require.True(t, ierrors.Is(err, ErrNonDisjoint))
}

func TestMergeCancelsDeltas(t *testing.T) {
	sk := coinKey(t)
	coin := nativeCoin(t, 9)
	state, index := received(t, coin, UserRecipient(sk.PublicKey()))

	in, err := NewInput(coin.Qualify(index), UserSender(sk), state.Tree(), 0)
	require.NoError(t, err)
	change := nativeCoin(t, 9)
	out, err := NewOutput(change, UserRecipient(sk.PublicKey()), nil, 0)
	require.NoError(t, err)

	merged, err := Merge(FromInput(in, crypto.NativeToken, coin.Value), FromOutput(out, crypto.NativeToken, change.Value))
	require.NoError(t, err)
	require.Empty(t, merged.Deltas)
	require.Len(t, merged.Identifiers(), 2)
}

// Scenario: a 10 unit output survives erasure and a serialization round trip without revealing its value.
func TestErasedOutputRoundTripHidesValue(t *testing.T) {
	sk := coinKey(t)
	encKey, err := crypto.GenerateEncryptionKey()
	require.NoError(t, err)
	encPub := encKey.PublicKey()

	coin, err := NewCoinInfo(crypto.NativeToken, big.NewInt(10))
	require.NoError(t, err)
	out, err := NewOutput(coin, UserRecipient(sk.PublicKey()), &encPub, 0)
	require.NoError(t, err)

	erased := EraseOutput(out)
	data, err := serialize.Marshal(serialize.TestNet, erased)
	require.NoError(t, err)

	decoded, err := serialize.Unmarshal(serialize.TestNet, erased.Tag(), data, ReadOutput[proofs.Erased])
	require.NoError(t, err)
	require.Equal(t, erased.String(), decoded.String())
	require.NotRegexp(t, `\b10\b`, decoded.String())

	tenElement := crypto.ElementFromUint64(10)
	ten := tenElement.Bytes()
	require.False(t, bytes.Contains(data, ten[:]))

	again, err := serialize.Marshal(serialize.TestNet, decoded)
	require.NoError(t, err)
	require.Equal(t, data, again)

	_, err = serialize.Unmarshal(serialize.MainNet, erased.Tag(), data, ReadOutput[proofs.Erased])
	require.True(t, ierrors.Is(err, serialize.ErrNetworkMismatch))

	// the recipient still recovers the coin from the erased output
	got, ok := TryDecrypt(encKey, sk.PublicKey(), decoded)
	require.True(t, ok)
	require.Zero(t, got.Value.Cmp(big.NewInt(10)))
	require.Equal(t, coin.Nonce, got.Nonce)

	other, err := crypto.GenerateEncryptionKey()
	require.NoError(t, err)
	_, ok = TryDecrypt(other, sk.PublicKey(), decoded)
	require.False(t, ok)
}

func TestPreimageStringsHideSecrets(t *testing.T) {
	sk := coinKey(t)
	coin := nativeCoin(t, 10)
	state, index := received(t, coin, UserRecipient(sk.PublicKey()))
	in, err := NewInput(coin.Qualify(index), UserSender(sk), state.Tree(), 0)
	require.NoError(t, err)

	s := FromInput(in, crypto.NativeToken, coin.Value).String()
	require.NotContains(t, s, hexElement(sk.Element()))
	require.NotRegexp(t, `\b10\b`, s)
	require.Equal(t, "CoinInfo(redacted)", coin.String())
}

func TestTryApply(t *testing.T) {
	sk := coinKey(t)
	coin := nativeCoin(t, 42)
	out, err := NewOutput(coin, UserRecipient(sk.PublicKey()), nil, 0)
	require.NoError(t, err)
	receive := EraseOffer(FromOutput(out, coin.Type, coin.Value))

	empty := NewChainState(merkle.DefaultHistoryDepth, genesis)
	state, refs, err := empty.TryApply(receive, nil)
	require.NoError(t, err)
	require.Empty(t, refs)
	require.Zero(t, empty.FirstFree())
	require.EqualValues(t, 1, state.FirstFree())
	require.NotEqual(t, empty.Root(), state.Root())

	_, _, err = state.TryApply(receive, nil)
	require.True(t, ierrors.Is(err, ErrCommitmentCollision))

	index, ok := state.CommitmentIndex(out.Commitment)
	require.True(t, ok)
	in, err := NewInput(coin.Qualify(index), UserSender(sk), state.Tree(), 0)
	require.NoError(t, err)
	spend := EraseOffer(FromInput(in, coin.Type, coin.Value))

	spent, _, err := state.TryApply(spend, nil)
	require.NoError(t, err)
	require.True(t, spent.HasNullifier(in.Nullifier))
	require.False(t, state.HasNullifier(in.Nullifier))
	require.Equal(t, state.Root(), spent.Root())

	_, _, err = spent.TryApply(spend, nil)
	require.True(t, ierrors.Is(err, ErrNullifierCollision))

	// a path into a tree the chain never had
	foreign, err := merkle.New[fr.Element](merkle.MiMCHasher{}, TreeHeight).Append(crypto.ElementFromUint64(7))
	require.NoError(t, err)
	foreign, err = foreign.Append(out.Commitment.Element())
	require.NoError(t, err)
	stale, err := NewInput(coin.Qualify(1), UserSender(sk), foreign, 0)
	require.NoError(t, err)
	_, _, err = state.TryApply(EraseOffer(FromInput(stale, coin.Type, coin.Value)), nil)
	require.True(t, ierrors.Is(err, ErrUnknownMerkleRoot))
}

func TestTryApplyIsAtomic(t *testing.T) {
	sk := coinKey(t)
	coin := nativeCoin(t, 8)
	state, index := received(t, coin, UserRecipient(sk.PublicKey()))

	in, err := NewInput(coin.Qualify(index), UserSender(sk), state.Tree(), 0)
	require.NoError(t, err)
	spent, _, err := state.TryApply(EraseOffer(FromInput(in, coin.Type, coin.Value)), nil)
	require.NoError(t, err)

	// a fresh output together with the double spend: nothing of the offer lands
	fresh := nativeCoin(t, 8)
	out, err := NewOutput(fresh, UserRecipient(sk.PublicKey()), nil, 0)
	require.NoError(t, err)
	offer, err := Merge(FromInput(in, coin.Type, coin.Value), FromOutput(out, fresh.Type, fresh.Value))
	require.NoError(t, err)

	after, _, err := spent.TryApply(EraseOffer(offer), nil)
	require.True(t, ierrors.Is(err, ErrNullifierCollision))
	require.Equal(t, spent.FirstFree(), after.FirstFree())
	_, ok := after.CommitmentIndex(out.Commitment)
	require.False(t, ok)
}

func TestRootHistoryWindow(t *testing.T) {
	sk := coinKey(t)
	coin := nativeCoin(t, 1)
	state, index := received(t, coin, UserRecipient(sk.PublicKey()))
	state = state.PostBlockUpdate(genesis.Add(time.Minute), 0)

	in, err := NewInput(coin.Qualify(index), UserSender(sk), state.Tree(), 0)
	require.NoError(t, err)
	spend := EraseOffer(FromInput(in, coin.Type, coin.Value))

	// the tree moves on, the root the input was built against stays valid
	other := nativeCoin(t, 2)
	out, err := NewOutput(other, UserRecipient(sk.PublicKey()), nil, 0)
	require.NoError(t, err)
	moved, _, err := state.TryApply(EraseOffer(FromOutput(out, other.Type, other.Value)), nil)
	require.NoError(t, err)
	moved = moved.PostBlockUpdate(genesis.Add(2*time.Minute), 0)
	_, _, err = moved.TryApply(spend, nil)
	require.NoError(t, err)

	pruned := moved.PostBlockUpdate(genesis.Add(time.Hour), 10*time.Minute)
	_, _, err = pruned.TryApply(spend, nil)
	require.True(t, ierrors.Is(err, ErrUnknownMerkleRoot))
	require.True(t, pruned.IsValidRoot(pruned.Root()))
}

func TestTransient(t *testing.T) {
	sk := coinKey(t)
	coin := nativeCoin(t, 6)
	out, err := NewOutput(coin, UserRecipient(sk.PublicKey()), nil, 0)
	require.NoError(t, err)

	_, err = NewTransient(nativeCoin(t, 6).Qualify(0), UserSender(sk), out, 0)
	require.True(t, ierrors.Is(err, ErrTransientMismatch))

	tr, err := NewTransient(coin.Qualify(0), UserSender(sk), out, 0)
	require.NoError(t, err)
	offer := FromTransient(tr)
	require.Empty(t, offer.Deltas)

	rc, err := BindingRandomness(offer)
	require.NoError(t, err)
	require.True(t, BalanceCommitment(offer).Equal(crypto.CommitBlinding(rc)))

	empty := NewChainState(merkle.DefaultHistoryDepth, genesis)
	state, _, err := empty.TryApply(EraseOffer(offer), nil)
	require.NoError(t, err)
	require.Zero(t, state.FirstFree())
	require.True(t, state.HasNullifier(tr.Nullifier))
}

func TestWhitelist(t *testing.T) {
	contract := contractAddress(9)
	coin := nativeCoin(t, 11)
	out, err := NewOutput(coin, ContractRecipient(contract), nil, 0)
	require.NoError(t, err)
	receive := EraseOffer(FromOutput(out, coin.Type, coin.Value))
	empty := NewChainState(merkle.DefaultHistoryDepth, genesis)

	state, refs, err := empty.TryApply(receive, NewWhitelist(contract))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, contract, refs[0].Contract)
	require.Equal(t, out.Commitment, *refs[0].Commitment)
	require.Zero(t, refs[0].MtIndex)
	require.Nil(t, refs[0].Nullifier)

	_, refs, err = empty.TryApply(receive, NewWhitelist())
	require.NoError(t, err)
	require.Empty(t, refs)

	in, err := NewInput(coin.Qualify(commitmentIndex(t, state, out.Commitment)), ContractSender(contract), state.Tree(), 0)
	require.NoError(t, err)
	require.Equal(t, &contract, in.Contract)
	spend := EraseOffer(FromInput(in, coin.Type, coin.Value))

	_, _, err = state.TryApply(spend, NewWhitelist(contractAddress(1)))
	require.True(t, ierrors.Is(err, ErrNotWhitelisted))

	_, refs, err = state.TryApply(spend, nil)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, in.Nullifier, *refs[0].Nullifier)
}

func commitmentIndex(t *testing.T, s ChainState, cm Commitment) uint64 {
	t.Helper()
	index, ok := s.CommitmentIndex(cm)
	require.True(t, ok)

	return index
}

func TestBindingRandomnessOpensBalance(t *testing.T) {
	sk := coinKey(t)
	coin := nativeCoin(t, 42)
	state, index := received(t, coin, UserRecipient(sk.PublicKey()))

	in, err := NewInput(coin.Qualify(index), UserSender(sk), state.Tree(), 0)
	require.NoError(t, err)
	change := nativeCoin(t, 30)
	out, err := NewOutput(change, UserRecipient(sk.PublicKey()), nil, 0)
	require.NoError(t, err)

	offer, err := Merge(FromInput(in, coin.Type, coin.Value), FromOutput(out, change.Type, change.Value))
	require.NoError(t, err)
	require.Zero(t, offer.Deltas[crypto.NativeToken].Cmp(big.NewInt(12)))

	rc, err := BindingRandomness(offer)
	require.NoError(t, err)
	balance := BalanceCommitment(offer)
	require.True(t, balance.Equal(crypto.CommitBlinding(rc)))

	msg := []byte("offer")
	sig, err := crypto.SignBinding(rc, msg)
	require.NoError(t, err)
	require.True(t, crypto.VerifyBinding(balance, msg, sig))

	// erasure keeps the public balance
	require.True(t, BalanceCommitment(EraseOffer(offer)).Equal(balance))

	// an unbalanced claim does not open
	offer.Deltas[crypto.NativeToken] = big.NewInt(13)
	require.False(t, BalanceCommitment(offer).Equal(crypto.CommitBlinding(rc)))
}

func TestOfferCodecCanonical(t *testing.T) {
	sk := coinKey(t)
	var offer Offer[proofs.Erased]
	for i := 0; i < 4; i++ {
		coin := nativeCoin(t, int64(i+1))
		out, err := NewOutput(coin, UserRecipient(sk.PublicKey()), nil, 0)
		require.NoError(t, err)
		offer.Outputs = append(offer.Outputs, EraseOutput(out))
	}
	// reverse canonical order on purpose
	offer = offer.Normalize()
	for i, j := 0, len(offer.Outputs)-1; i < j; i, j = i+1, j-1 {
		offer.Outputs[i], offer.Outputs[j] = offer.Outputs[j], offer.Outputs[i]
	}
	offer.Deltas = map[crypto.TokenType]*big.Int{crypto.NativeToken: big.NewInt(-10), crypto.NightToken: big.NewInt(0)}

	data, err := serialize.Marshal(serialize.DevNet, offer)
	require.NoError(t, err)
	decoded, err := serialize.Unmarshal(serialize.DevNet, offer.Tag(), data, ReadOffer[proofs.Erased])
	require.NoError(t, err)
	expected := offer.Normalize()
	expected.Deltas = map[crypto.TokenType]*big.Int{crypto.NativeToken: big.NewInt(-10)}
	require.Equal(t, expected.String(), decoded.String())
	require.NotContains(t, decoded.Deltas, crypto.NightToken)

	again, err := serialize.Marshal(serialize.DevNet, decoded)
	require.NoError(t, err)
	require.Equal(t, data, again)

	_, err = serialize.Unmarshal(serialize.DevNet, offer.Tag(), append(data, 0), ReadOffer[proofs.Erased])
	require.True(t, ierrors.Is(err, serialize.ErrTrailingBytes))
}

func TestChainStateCodec(t *testing.T) {
	sk := coinKey(t)
	coin := nativeCoin(t, 5)
	state, index := received(t, coin, UserRecipient(sk.PublicKey()))
	in, err := NewInput(coin.Qualify(index), UserSender(sk), state.Tree(), 0)
	require.NoError(t, err)
	state, _, err = state.TryApply(EraseOffer(FromInput(in, coin.Type, coin.Value)), nil)
	require.NoError(t, err)
	state = state.PostBlockUpdate(genesis.Add(time.Minute), 0)

	data, err := serialize.Marshal(serialize.Undeployed, state)
	require.NoError(t, err)
	decoded, err := serialize.Unmarshal(serialize.Undeployed, ChainStateTag, data, ReadChainState)
	require.NoError(t, err)

	require.Equal(t, state.Root(), decoded.Root())
	require.Equal(t, state.FirstFree(), decoded.FirstFree())
	require.Equal(t, state.Nullifiers(), decoded.Nullifiers())
	require.Equal(t, state.History().Entries(), decoded.History().Entries())
	require.True(t, decoded.HasNullifier(in.Nullifier))

	again, err := serialize.Marshal(serialize.Undeployed, decoded)
	require.NoError(t, err)
	require.Equal(t, data, again)
}

type failingProvider struct {
	proofs.MockProver
}

func (failingProvider) Prove(context.Context, proofs.Preimage, string, *fr.Element) (proofs.Proof, error) {
	return proofs.Proof{}, ierrors.New("backend down")
}

func TestProveOffer(t *testing.T) {
	sk := coinKey(t)
	coin := nativeCoin(t, 3)
	out, err := NewOutput(coin, UserRecipient(sk.PublicKey()), nil, 0)
	require.NoError(t, err)
	offer := FromOutput(out, coin.Type, coin.Value)

	proved, err := MockProveOffer(offer)
	require.NoError(t, err)
	require.True(t, proved.Outputs[0].Proof.Mock)
	require.Len(t, proved.Outputs[0].Proof.Data, proofs.MockProofSize)
	require.Equal(t, out.Proof, offer.Outputs[0].Proof)

	proved.Deltas[crypto.NativeToken] = big.NewInt(7)
	erased := EraseOffer(offer)
	delete(erased.Deltas, crypto.NativeToken)
	normalized := offer.Normalize()
	normalized.Deltas[crypto.TokenType{1}] = big.NewInt(1)
	require.Len(t, offer.Deltas, 1, "derived offers own their deltas")
	require.Zero(t, offer.Deltas[crypto.NativeToken].Cmp(big.NewInt(-3)))

	_, err = ProveOffer(context.Background(), offer, failingProvider{})
	require.True(t, ierrors.Is(err, proofs.ErrProving))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ProveOffer(ctx, offer, proofs.MockProver{})
	require.True(t, ierrors.Is(err, proofs.ErrProving))

	verifier, err := proofs.NewLocalVerifier(proofs.NewDirKeySource(t.TempDir(), false, zap.NewNop()), 2)
	require.NoError(t, err)
	err = VerifyOffer(context.Background(), proved, 0, verifier)
	require.True(t, ierrors.Is(err, proofs.ErrMockProof))
}

func TestCircuitsProveAndVerify(t *testing.T) {
	if os.Getenv("LEDGER_CIRCUIT_TESTS") == "" {
		t.Skip("set LEDGER_CIRCUIT_TESTS to run Groth16 setup over the zswap circuits")
	}

	ctx := context.Background()
	keys := proofs.NewDirKeySource(t.TempDir(), true, zap.NewNop())
	prover, err := proofs.NewLocalProver(keys, 4, zap.NewNop())
	require.NoError(t, err)
	verifier, err := proofs.NewLocalVerifier(keys, 4)
	require.NoError(t, err)

	sk := coinKey(t)
	coin := nativeCoin(t, 20)
	state, index := received(t, coin, UserRecipient(sk.PublicKey()))
	in, err := NewInput(coin.Qualify(index), UserSender(sk), state.Tree(), 1)
	require.NoError(t, err)
	change := nativeCoin(t, 15)
	out, err := NewOutput(change, UserRecipient(sk.PublicKey()), nil, 1)
	require.NoError(t, err)
	offer, err := Merge(FromInput(in, coin.Type, coin.Value), FromOutput(out, change.Type, change.Value))
	require.NoError(t, err)

	require.NoError(t, CheckOffer(ctx, offer, prover))
	proved, err := ProveOffer(ctx, offer, prover)
	require.NoError(t, err)
	require.NoError(t, VerifyOffer(ctx, proved, 1, verifier))

	// proofs are bound to their segment
	require.Error(t, VerifyOffer(ctx, proved, 2, verifier))

	// a witness with the wrong secret does not satisfy the spend circuit
	bad := offer.Inputs[0].Proof
	bad.Private = append([]fr.Element(nil), bad.Private...)
	bad.Private[spendPrivSecret] = crypto.ElementFromUint64(1)
	_, err = prover.Check(ctx, bad)
	require.True(t, ierrors.Is(err, proofs.ErrProving))
}
