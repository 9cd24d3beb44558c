package proofs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/consensys/gnark/frontend"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/stream"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const squareLocation = "test-square"

type squareCircuit struct {
	Binding frontend.Variable `gnark:",public"`
	Y       frontend.Variable `gnark:",public"`
	X       frontend.Variable
}

func (c *squareCircuit) Define(api frontend.API) error {
	ConstrainBinding(api, c.Binding)
	api.AssertIsEqual(api.Mul(c.X, c.X), c.Y)

	return nil
}

func init() {
	if err := RegisterCircuit(CircuitDefinition{
		Location:   squareLocation,
		NumPublic:  2,
		NumPrivate: 1,
		Circuit:    func() frontend.Circuit { return &squareCircuit{} },
		Assign: func(public, private []fr.Element) frontend.Circuit {
			return &squareCircuit{Binding: Var(public[0]), Y: Var(public[1]), X: Var(private[0])}
		},
	}); err != nil {
		panic(err)
	}
}

func element(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)

	return e
}

func squarePreimage(x, y uint64) Preimage {
	return Preimage{
		KeyLocation: squareLocation,
		Public:      []fr.Element{element(1), element(y)},
		Private:     []fr.Element{element(x)},
	}
}

func TestRegistry(t *testing.T) {
	err := RegisterCircuit(CircuitDefinition{Location: squareLocation})
	require.True(t, ierrors.Is(err, ErrDuplicateCircuit))

	_, err = LookupCircuit("missing")
	require.True(t, ierrors.Is(err, ErrUnknownCircuit))
	require.Contains(t, Locations(), squareLocation)
}

func TestLocalProveAndVerify(t *testing.T) {
	ctx := context.Background()
	keys := NewDirKeySource(t.TempDir(), true, zap.NewNop())

	prover, err := NewLocalProver(keys, 4, zap.NewNop())
	require.NoError(t, err)
	verifier, err := NewLocalVerifier(keys, 4)
	require.NoError(t, err)

	public, err := prover.Check(ctx, squarePreimage(3, 9))
	require.NoError(t, err)
	require.Len(t, public, 2)
	require.Equal(t, element(9), *public[1])

	_, err = prover.Check(ctx, squarePreimage(3, 10))
	require.True(t, ierrors.Is(err, ErrProving))
	require.NotContains(t, err.Error(), "10")

	binding := element(42)
	proof, err := prover.Prove(ctx, squarePreimage(3, 9), "", &binding)
	require.NoError(t, err)
	require.False(t, proof.Mock)

	require.NoError(t, verifier.Verify(ctx, squareLocation, []fr.Element{binding, element(9)}, proof))
	require.True(t, ierrors.Is(verifier.Verify(ctx, squareLocation, []fr.Element{element(1), element(9)}, proof), ErrVerification))

	// keys were saved and are reused without setup
	reloaded := NewDirKeySource(keys.Dir, false, zap.NewNop())
	_, err = reloaded.LookupKey(ctx, squareLocation)
	require.NoError(t, err)
}

func TestProveCancelled(t *testing.T) {
	prover, err := NewLocalProver(NewDirKeySource(t.TempDir(), false, zap.NewNop()), 1, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = prover.Check(ctx, squarePreimage(3, 9))
	require.True(t, ierrors.Is(err, ErrProving))

	_, err = MockProver{}.Prove(ctx, squarePreimage(3, 9), squareLocation, nil)
	require.True(t, ierrors.Is(err, ErrProving))
}

func TestMissingKeys(t *testing.T) {
	keys := NewDirKeySource(t.TempDir(), false, zap.NewNop())
	_, err := keys.LookupKey(context.Background(), squareLocation)
	require.True(t, ierrors.Is(err, ErrKeyNotFound))

	_, err = keys.GetParams(context.Background(), 10)
	require.True(t, ierrors.Is(err, ErrParamsNotFound))
}

func TestMockProofsDoNotVerify(t *testing.T) {
	proof, err := MockProver{}.Prove(context.Background(), squarePreimage(3, 9), squareLocation, nil)
	require.NoError(t, err)
	require.True(t, proof.Mock)
	require.Len(t, proof.Data, MockProofSize)

	verifier, err := NewLocalVerifier(NewDirKeySource(t.TempDir(), false, zap.NewNop()), 1)
	require.NoError(t, err)
	require.ErrorIs(t, verifier.Verify(context.Background(), squareLocation, nil, proof), ErrMockProof)
}

type countingSource struct {
	lookups atomic.Int32
}

func (s *countingSource) LookupKey(_ context.Context, location string) (KeyMaterial, error) {
	s.lookups.Add(1)

	return KeyMaterial{ProverKey: []byte(location)}, nil
}

func (s *countingSource) GetParams(_ context.Context, k uint8) ([]byte, error) {
	return []byte{k}, nil
}

func TestCachedKeySource(t *testing.T) {
	inner := &countingSource{}
	cached, err := NewCachedKeySource(inner, 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		km, err := cached.LookupKey(context.Background(), "a")
		require.NoError(t, err)
		require.Equal(t, []byte("a"), km.ProverKey)
	}
	require.Equal(t, int32(1), inner.lookups.Load())
}

func TestRemoteKeySource(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/params/3":
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("params"))
		case "/params/4":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src := NewRemoteKeySource(srv.URL, srv.Client(), 5, zap.NewNop())

	params, err := src.GetParams(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, []byte("params"), params)
	require.Equal(t, int32(3), calls.Load())

	_, err = src.GetParams(context.Background(), 4)
	require.Error(t, err)

	_, err = src.LookupKey(context.Background(), "missing")
	require.True(t, ierrors.Is(err, ErrKeyNotFound))
}

func TestNewKeySource(t *testing.T) {
	src, err := NewKeySource(KeySourceConfig{Kind: "dir", Dir: t.TempDir(), CacheSize: 4}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &CachedKeySource{}, src)

	src, err = NewKeySource(KeySourceConfig{Kind: "remote", URL: "http://localhost:1"}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &RemoteKeySource{}, src)

	_, err = NewKeySource(KeySourceConfig{Kind: "env"}, zap.NewNop())
	require.True(t, ierrors.Is(err, ErrKeySource))
}

func TestStageCodec(t *testing.T) {
	buf := stream.NewByteBuffer()
	pre := squarePreimage(3, 9)
	proof := Proof{Data: []byte{1, 2, 3}}

	require.NoError(t, WriteStage(buf, pre))
	require.NoError(t, WriteStage(buf, proof))
	require.NoError(t, WriteStage(buf, Erased{}))
	data, err := buf.Bytes()
	require.NoError(t, err)

	r := stream.NewByteReader(data)
	decodedPre, err := ReadStage[Preimage](r)
	require.NoError(t, err)
	require.Equal(t, pre, decodedPre)
	decodedProof, err := ReadStage[Proof](r)
	require.NoError(t, err)
	require.Equal(t, proof, decodedProof)
	_, err = ReadStage[Erased](r)
	require.NoError(t, err)
	require.Equal(t, len(data), r.BytesRead())

	require.Equal(t, "erased", StageName[Erased]())
	require.Equal(t, "proof", StageName[Proof]())
}
