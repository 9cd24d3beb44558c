// local.go - In-process Groth16 prover and verifier over BW6-761.
//
// Circuits are looked up by key location in the circuit registry; key material
// comes from a KeyMaterialProvider and is parsed once per location. Failures
// never carry solver output, since that may include private witness values.

package proofs

import (
	"bytes"
	"context"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/iotaledger/hive.go/ierrors"
	"go.uber.org/zap"
)

type loadedKey struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

func parseKeyMaterial(km KeyMaterial) (*loadedKey, error) {
	ccs := groth16.NewCS(ecc.BW6_761)
	if _, err := ccs.ReadFrom(bytes.NewReader(km.IR)); err != nil {
		return nil, ierrors.Wrap(err, "failed to parse constraint system")
	}
	pk := groth16.NewProvingKey(ecc.BW6_761)
	if _, err := pk.ReadFrom(bytes.NewReader(km.ProverKey)); err != nil {
		return nil, ierrors.Wrap(err, "failed to parse proving key")
	}
	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	if _, err := vk.ReadFrom(bytes.NewReader(km.VerifierKey)); err != nil {
		return nil, ierrors.Wrap(err, "failed to parse verifying key")
	}

	return &loadedKey{ccs: ccs, pk: pk, vk: vk}, nil
}

type keyCache struct {
	keys   KeyMaterialProvider
	loaded *lru.Cache[string, *loadedKey]
}

func newKeyCache(keys KeyMaterialProvider, size int) (*keyCache, error) {
	if size <= 0 {
		size = 16
	}
	loaded, err := lru.New[string, *loadedKey](size)
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to create loaded key cache")
	}

	return &keyCache{keys: keys, loaded: loaded}, nil
}

func (c *keyCache) load(ctx context.Context, location string) (*loadedKey, error) {
	if key, ok := c.loaded.Get(location); ok {
		return key, nil
	}
	km, err := c.keys.LookupKey(ctx, location)
	if err != nil {
		return nil, err
	}
	key, err := parseKeyMaterial(km)
	if err != nil {
		return nil, err
	}
	c.loaded.Add(location, key)

	return key, nil
}

// LocalProver proves registered circuits in-process.
type LocalProver struct {
	cache *keyCache
	log   *zap.Logger
}

func NewLocalProver(keys KeyMaterialProvider, cacheSize int, log *zap.Logger) (*LocalProver, error) {
	cache, err := newKeyCache(keys, cacheSize)
	if err != nil {
		return nil, err
	}

	return &LocalProver{cache: cache, log: log}, nil
}

// Check solves the circuit for the preimage without proving.
func (p *LocalProver) Check(ctx context.Context, preimage Preimage) ([]*fr.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, ierrors.WithMessagef(ErrProving, "%s: %w", preimage.KeyLocation, err)
	}

	def, err := LookupCircuit(preimage.KeyLocation)
	if err != nil {
		return nil, ierrors.WithMessagef(ErrProving, "%w", err)
	}
	ccs, err := Compile(preimage.KeyLocation)
	if err != nil {
		return nil, ierrors.WithMessagef(ErrProving, "%w", err)
	}
	w, err := def.Witness(preimage.Public, preimage.Private, false)
	if err != nil {
		return nil, ierrors.WithMessagef(ErrProving, "%w", err)
	}
	if err := ccs.IsSolved(w); err != nil {
		return nil, ierrors.Wrapf(ErrProving, "%s: constraints not satisfied", preimage.KeyLocation)
	}

	out := make([]*fr.Element, len(preimage.Public))
	for i := range preimage.Public {
		v := preimage.Public[i]
		out[i] = &v
	}

	return out, nil
}

// Prove runs the Groth16 prover. The call returns as soon as ctx is done; the
// abandoned proving goroutine finishes in the background.
func (p *LocalProver) Prove(ctx context.Context, preimage Preimage, keyLocation string, overwriteBindingInput *fr.Element) (Proof, error) {
	if keyLocation == "" {
		keyLocation = preimage.KeyLocation
	}
	if overwriteBindingInput != nil {
		preimage = preimage.WithBindingInput(*overwriteBindingInput)
	}

	def, err := LookupCircuit(keyLocation)
	if err != nil {
		return Proof{}, ierrors.WithMessagef(ErrProving, "%w", err)
	}
	key, err := p.cache.load(ctx, keyLocation)
	if err != nil {
		return Proof{}, ierrors.WithMessagef(ErrProving, "%s: %w", keyLocation, err)
	}
	w, err := def.Witness(preimage.Public, preimage.Private, false)
	if err != nil {
		return Proof{}, ierrors.WithMessagef(ErrProving, "%w", err)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		proof, err := groth16.Prove(key.ccs, key.pk, w)
		if err != nil {
			done <- result{err: ierrors.Wrapf(ErrProving, "%s: witness rejected", keyLocation)}
			return
		}
		data, err := encode(proof)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return Proof{}, ierrors.WithMessagef(ErrProving, "%s: %w", keyLocation, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return Proof{}, r.err
		}
		p.log.Debug("proved", zap.String("location", keyLocation), zap.Int("size", len(r.data)))

		return Proof{Data: r.data}, nil
	}
}

// LocalVerifier verifies proofs against registered circuits.
type LocalVerifier struct {
	cache *keyCache
}

func NewLocalVerifier(keys KeyMaterialProvider, cacheSize int) (*LocalVerifier, error) {
	cache, err := newKeyCache(keys, cacheSize)
	if err != nil {
		return nil, err
	}

	return &LocalVerifier{cache: cache}, nil
}

func (v *LocalVerifier) Verify(ctx context.Context, keyLocation string, public []fr.Element, proof Proof) error {
	if proof.Mock {
		return ErrMockProof
	}

	def, err := LookupCircuit(keyLocation)
	if err != nil {
		return ierrors.WithMessagef(ErrVerification, "%w", err)
	}
	key, err := v.cache.load(ctx, keyLocation)
	if err != nil {
		return ierrors.WithMessagef(ErrVerification, "%s: %w", keyLocation, err)
	}
	w, err := def.Witness(public, nil, true)
	if err != nil {
		return ierrors.WithMessagef(ErrVerification, "%w", err)
	}

	parsed := groth16.NewProof(ecc.BW6_761)
	if _, err := parsed.ReadFrom(bytes.NewReader(proof.Data)); err != nil {
		return ierrors.Wrapf(ErrVerification, "%s: malformed proof", keyLocation)
	}
	if err := groth16.Verify(parsed, key.vk, w); err != nil {
		return ierrors.Wrapf(ErrVerification, "%s: proof rejected", keyLocation)
	}

	return nil
}
