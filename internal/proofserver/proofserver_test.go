package proofserver

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/ledger"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
	"ledgerengine/internal/serialize/serializetest"
	"ledgerengine/internal/zswap"
)

func element(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)

	return e
}

func preimage() proofs.Preimage {
	return proofs.Preimage{
		KeyLocation: "test-circuit",
		Public:      []fr.Element{element(1), element(9)},
		Private:     []fr.Element{element(3)},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Network = serialize.DevNet
	cfg.JobTimeout = 5 * time.Second
	cfg.Version = "test"

	return cfg
}

func newTestServer(t *testing.T, cfg Config, provider proofs.Provider, keys proofs.KeyMaterialProvider) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(cfg, provider, keys, zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return s, srv
}

// scriptedProvider counts calls and answers with err, or with a mock proof.
type scriptedProvider struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (p *scriptedProvider) Check(ctx context.Context, pre proofs.Preimage) ([]*fr.Element, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}

	return proofs.MockProver{}.Check(ctx, pre)
}

func (p *scriptedProvider) Prove(ctx context.Context, pre proofs.Preimage, location string, binding *fr.Element) (proofs.Proof, error) {
	p.calls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return proofs.Proof{}, ctx.Err()
		}
	}
	if p.err != nil {
		return proofs.Proof{}, p.err
	}

	return proofs.MockProver{}.Prove(ctx, pre, location, binding)
}

func TestCheckAndProve(t *testing.T) {
	_, srv := newTestServer(t, testConfig(), proofs.MockProver{}, nil)
	client := NewClient(srv.URL, serialize.DevNet, srv.Client(), 2, zap.NewNop())

	inputs, err := client.Check(context.Background(), preimage())
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	require.True(t, inputs[1].Equal(&preimage().Public[1]))

	binding := element(7)
	proof, err := client.Prove(context.Background(), preimage(), "", &binding)
	require.NoError(t, err)
	require.True(t, proof.Mock)
	require.Len(t, proof.Data, proofs.MockProofSize)

	version, err := client.Version(context.Background())
	require.NoError(t, err)
	require.Equal(t, "test", version)
}

func TestProveTransaction(t *testing.T) {
	_, srv := newTestServer(t, testConfig(), proofs.MockProver{}, nil)
	client := NewClient(srv.URL, serialize.DevNet, srv.Client(), 2, zap.NewNop())

	sk, err := crypto.NewCoinSecretKey()
	require.NoError(t, err)
	coin, err := zswap.NewCoinInfo(crypto.NativeToken, big.NewInt(42))
	require.NoError(t, err)
	out, err := zswap.NewOutput(coin, zswap.UserRecipient(sk.PublicKey()), nil, ledger.GuaranteedSegment)
	require.NoError(t, err)
	offer := zswap.FromOutput(out, coin.Type, coin.Value)

	tx, err := ledger.NewTransaction[proofs.SignatureErased](serialize.DevNet, &offer, nil, nil)
	require.NoError(t, err)
	bound, err := ledger.Bind(tx)
	require.NoError(t, err)

	proven, err := ProveTransaction(context.Background(), client, bound)
	require.NoError(t, err)
	require.NotNil(t, proven.Guaranteed)
	require.Len(t, proven.Guaranteed.Outputs, 1)
	require.True(t, proven.Guaranteed.Outputs[0].Proof.Mock)
	require.NoError(t, ledger.VerifyBinding(proven))

	other := NewClient(srv.URL, serialize.TestNet, srv.Client(), 2, zap.NewNop())
	_, err = ProveTransaction(context.Background(), other, bound)
	require.True(t, ierrors.Is(err, proofs.ErrProving))
}

func TestRetryPolicy(t *testing.T) {
	rejecting := &scriptedProvider{err: ierrors.Wrap(proofs.ErrProving, "constraints not satisfied")}
	_, srv := newTestServer(t, testConfig(), rejecting, nil)
	client := NewClient(srv.URL, serialize.DevNet, srv.Client(), 2, zap.NewNop())

	_, err := client.Prove(context.Background(), preimage(), "", nil)
	require.True(t, ierrors.Is(err, proofs.ErrProving))
	require.Equal(t, int32(1), rejecting.calls.Load())

	broken := &scriptedProvider{err: ierrors.New("disk on fire")}
	_, srv = newTestServer(t, testConfig(), broken, nil)
	client = NewClient(srv.URL, serialize.DevNet, srv.Client(), 2, zap.NewNop())

	_, err = client.Prove(context.Background(), preimage(), "", nil)
	require.Error(t, err)
	require.NotContains(t, err.Error(), "disk on fire")
	require.Equal(t, int32(3), broken.calls.Load())
}

func TestMalformedResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not a framed value"))
	}))
	defer srv.Close()
	client := NewClient(srv.URL, serialize.DevNet, srv.Client(), 0, zap.NewNop())

	_, err := client.Check(context.Background(), preimage())
	require.True(t, ierrors.Is(err, proofs.ErrProving))

	_, err = client.Prove(context.Background(), preimage(), "", nil)
	require.True(t, ierrors.Is(err, proofs.ErrProving))

	tx, err := ledger.NewTransaction(serialize.DevNet, nil, nil,
		map[uint16]*ledger.Intent[proofs.SignatureErased, proofs.Preimage]{1: ledger.NewIntent[proofs.Preimage](time.Now())})
	require.NoError(t, err)
	_, err = ProveTransaction(context.Background(), client, tx)
	require.True(t, ierrors.Is(err, proofs.ErrProving))
}

func TestWireGolden(t *testing.T) {
	preimage := proofs.Preimage{KeyLocation: "dust/spend", Public: []fr.Element{element(1), element(2)}, Private: []fr.Element{element(3)}}
	five, seven := element(5), element(7)

	serializetest.Golden(t, "", serialize.DevNet, checkRequest{Preimage: preimage}, readCheckRequest)
	serializetest.Golden(t, "", serialize.DevNet, checkResponse{Inputs: []*fr.Element{&five, nil}}, readCheckResponse)
	serializetest.Golden(t, "", serialize.DevNet, proveRequest{Preimage: preimage, KeyLocation: "zswap/output", BindingInput: &seven}, readProveRequest)
	serializetest.Golden(t, "", serialize.DevNet, proveResponse{Proof: proofs.Proof{Data: []byte{0xca, 0xfe}}}, readProveResponse)
}

func TestReadiness(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs = 1
	blocking := &scriptedProvider{release: make(chan struct{})}
	s, srv := newTestServer(t, cfg, blocking, nil)
	client := NewClient(srv.URL, serialize.DevNet, srv.Client(), 0, zap.NewNop())

	r, err := client.Ready(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", r.Status)
	require.Equal(t, int64(1), r.JobCapacity)

	done := make(chan error, 1)
	go func() {
		_, err := client.Prove(context.Background(), preimage(), "", nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return s.busy.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	r, err = client.Ready(context.Background())
	require.True(t, ierrors.Is(err, ErrUnavailable))
	require.Equal(t, "busy", r.Status)

	close(blocking.release)
	require.NoError(t, <-done)

	require.Eventually(t, func() bool {
		r, err := client.Ready(context.Background())
		return err == nil && r.JobsProcessing == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStatusEndpoints(t *testing.T) {
	s, srv := newTestServer(t, testConfig(), proofs.MockProver{}, nil)
	s.Health().Register("keys", func(context.Context) error { return nil })

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	var health SystemHealth
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, Healthy, health.Status)
	require.Len(t, health.Components, 2)
	require.Equal(t, "keys", health.Components[0].Name)

	s.Health().Register("store", func(context.Context) error { return ierrors.New("closed") })
	resp, err = srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/proof-versions")
	require.NoError(t, err)
	var versions []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&versions))
	resp.Body.Close()
	require.Equal(t, ProofVersions(), versions)
	require.NotEmpty(t, versions)

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "ledger_proof_server_jobs_processing")
}

type mapKeySource map[string]proofs.KeyMaterial

func (m mapKeySource) LookupKey(_ context.Context, location string) (proofs.KeyMaterial, error) {
	km, ok := m[location]
	if !ok {
		return km, ierrors.Wrapf(proofs.ErrKeyNotFound, "%s", location)
	}

	return km, nil
}

func (m mapKeySource) GetParams(_ context.Context, k uint8) ([]byte, error) {
	if k > 10 {
		return nil, ierrors.Wrapf(proofs.ErrParamsNotFound, "k=%d", k)
	}

	return []byte{k}, nil
}

func TestKeyEndpoints(t *testing.T) {
	keys := mapKeySource{"zswap-spend": {ProverKey: []byte("pk"), VerifierKey: []byte("vk"), IR: []byte("ir")}}
	_, srv := newTestServer(t, testConfig(), proofs.MockProver{}, keys)

	remote := proofs.NewRemoteKeySource(srv.URL, srv.Client(), 1, zap.NewNop())
	km, err := remote.LookupKey(context.Background(), "zswap-spend")
	require.NoError(t, err)
	require.Equal(t, keys["zswap-spend"], km)

	_, err = remote.LookupKey(context.Background(), "dust-spend")
	require.True(t, ierrors.Is(err, proofs.ErrKeyNotFound))

	params, err := remote.GetParams(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, []byte{4}, params)

	_, err = remote.GetParams(context.Background(), 12)
	require.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs = 0
	_, err := New(cfg, proofs.MockProver{}, nil, zap.NewNop())
	require.Error(t, err)

	cfg = testConfig()
	cfg.Network = serialize.NetworkID(200)
	_, err = New(cfg, proofs.MockProver{}, nil, zap.NewNop())
	require.True(t, ierrors.Is(err, serialize.ErrUnknownNetwork))
}
