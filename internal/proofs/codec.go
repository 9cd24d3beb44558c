// codec.go - Stream encoding of stage values.

package proofs

import (
	"io"

	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/serialize"
)

func init() {
	serialize.Register(serialize.Decomposition{Tag: "proof-preimage", Version: 1, Children: []string{"string", "field[]", "field[]"}})
	serialize.Register(serialize.Decomposition{Tag: "proof", Version: 1, Children: []string{"bool", "bytes"}})
	serialize.Register(serialize.Decomposition{Tag: "proof-erased", Version: 1})
	serialize.Register(serialize.Decomposition{Tag: "binding-unbound", Version: 1, Children: []string{"scalar"}})
	serialize.Register(serialize.Decomposition{Tag: "binding-bound", Version: 1, Children: []string{"signature"}})
}

// WriteStage writes a proof-stage value. Erased values take no bytes.
func WriteStage[P Stage](w io.WriteSeeker, p P) error {
	switch v := any(p).(type) {
	case Preimage:
		if err := serialize.WriteString(w, v.KeyLocation); err != nil {
			return err
		}
		if err := serialize.WriteElements(w, v.Public); err != nil {
			return err
		}

		return serialize.WriteElements(w, v.Private)
	case Proof:
		if err := serialize.WriteBool(w, v.Mock); err != nil {
			return err
		}

		return serialize.WriteBlob(w, v.Data)
	default:
		return nil
	}
}

// ReadStage reads a proof-stage value of type P.
func ReadStage[P Stage](r io.ReadSeeker) (P, error) {
	var zero P
	var out any
	switch any(zero).(type) {
	case Preimage:
		var p Preimage
		var err error
		if p.KeyLocation, err = serialize.ReadString(r); err != nil {
			return zero, ierrors.Wrap(err, "failed to read key location")
		}
		if p.Public, err = serialize.ReadElements(r); err != nil {
			return zero, ierrors.Wrap(err, "failed to read public inputs")
		}
		if p.Private, err = serialize.ReadElements(r); err != nil {
			return zero, ierrors.Wrap(err, "failed to read private inputs")
		}
		out = p
	case Proof:
		var p Proof
		var err error
		if p.Mock, err = serialize.ReadBool(r); err != nil {
			return zero, err
		}
		if p.Data, err = serialize.ReadBlob(r); err != nil {
			return zero, ierrors.Wrap(err, "failed to read proof")
		}
		out = p
	default:
		out = Erased{}
	}

	return out.(P), nil
}

// WriteBinding writes a binding-stage value.
func WriteBinding[B BindingStage](w io.WriteSeeker, b B) error {
	switch v := any(b).(type) {
	case Unbound:
		return crypto.WriteScalar(w, v.Randomness)
	case Bound:
		return v.Signature.Serialize(w)
	default:
		return nil
	}
}

func ReadBinding[B BindingStage](r io.ReadSeeker) (B, error) {
	var zero B
	var out any
	switch any(zero).(type) {
	case Unbound:
		rc, err := crypto.ReadScalar(r)
		if err != nil {
			return zero, ierrors.Wrap(err, "failed to read binding randomness")
		}
		out = Unbound{Randomness: rc}
	default:
		sig, err := crypto.ReadSignature(r)
		if err != nil {
			return zero, ierrors.Wrap(err, "failed to read binding signature")
		}
		out = Bound{Signature: sig}
	}

	return out.(B), nil
}

// WriteSignature writes a signature-stage value. Erased signatures take no bytes.
func WriteSignature[S SignatureStage](w io.WriteSeeker, s S) error {
	if sig, ok := any(s).(crypto.Signature); ok {
		return sig.Serialize(w)
	}

	return nil
}

func ReadSignature[S SignatureStage](r io.ReadSeeker) (S, error) {
	var zero S
	if _, ok := any(zero).(crypto.Signature); !ok {
		return zero, nil
	}
	sig, err := crypto.ReadSignature(r)
	if err != nil {
		return zero, err
	}

	return any(sig).(S), nil
}
