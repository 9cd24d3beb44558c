// codec.go - Framed request and response bodies of the proof server.

package proofserver

import (
	"io"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
)

const (
	checkRequestTag  = "proof-server-check-request"
	checkResponseTag = "proof-server-check-response"
	proveRequestTag  = "proof-server-prove-request"
	proveResponseTag = "proof-server-prove-response"
)

func init() {
	serialize.Register(serialize.Decomposition{Tag: checkRequestTag, Version: 1, Children: []string{"proof-preimage"}})
	serialize.Register(serialize.Decomposition{Tag: checkResponseTag, Version: 1, Children: []string{"option<field>[]"}})
	serialize.Register(serialize.Decomposition{Tag: proveRequestTag, Version: 1, Children: []string{"proof-preimage", "string", "option<field>"}})
	serialize.Register(serialize.Decomposition{Tag: proveResponseTag, Version: 1, Children: []string{"proof"}})
}

type checkRequest struct {
	Preimage proofs.Preimage
}

func (checkRequest) Tag() string { return checkRequestTag }

func (c checkRequest) Serialize(w io.WriteSeeker) error {
	return proofs.WriteStage(w, c.Preimage)
}

func readCheckRequest(r io.ReadSeeker) (checkRequest, error) {
	p, err := proofs.ReadStage[proofs.Preimage](r)

	return checkRequest{Preimage: p}, err
}

// checkResponse holds the public inputs reported by Check. Absent inputs are nil.
type checkResponse struct {
	Inputs []*fr.Element
}

func (checkResponse) Tag() string { return checkResponseTag }

func (c checkResponse) Serialize(w io.WriteSeeker) error {
	return serialize.WriteList(w, c.Inputs, func(e *fr.Element) error {
		return serialize.WriteOptional(w, e != nil, func() error { return serialize.WriteElement(w, *e) })
	})
}

func readCheckResponse(r io.ReadSeeker) (checkResponse, error) {
	inputs, err := serialize.ReadList(r, func() (*fr.Element, error) {
		var e fr.Element
		present, err := serialize.ReadOptional(r, func() error {
			var err error
			e, err = serialize.ReadElement(r)

			return err
		})
		if err != nil || !present {
			return nil, err
		}

		return &e, nil
	})
	if err != nil {
		return checkResponse{}, ierrors.Wrap(err, "failed to read public inputs")
	}

	return checkResponse{Inputs: inputs}, nil
}

type proveRequest struct {
	Preimage     proofs.Preimage
	KeyLocation  string
	BindingInput *fr.Element
}

func (proveRequest) Tag() string { return proveRequestTag }

func (p proveRequest) Serialize(w io.WriteSeeker) error {
	if err := proofs.WriteStage(w, p.Preimage); err != nil {
		return err
	}
	if err := serialize.WriteString(w, p.KeyLocation); err != nil {
		return err
	}

	return serialize.WriteOptional(w, p.BindingInput != nil, func() error {
		return serialize.WriteElement(w, *p.BindingInput)
	})
}

func readProveRequest(r io.ReadSeeker) (proveRequest, error) {
	var p proveRequest
	var err error
	if p.Preimage, err = proofs.ReadStage[proofs.Preimage](r); err != nil {
		return p, err
	}
	if p.KeyLocation, err = serialize.ReadString(r); err != nil {
		return p, ierrors.Wrap(err, "failed to read key location")
	}
	var binding fr.Element
	present, err := serialize.ReadOptional(r, func() error {
		var err error
		binding, err = serialize.ReadElement(r)

		return err
	})
	if err != nil {
		return p, ierrors.Wrap(err, "failed to read binding input")
	}
	if present {
		p.BindingInput = &binding
	}

	return p, nil
}

type proveResponse struct {
	Proof proofs.Proof
}

func (proveResponse) Tag() string { return proveResponseTag }

func (p proveResponse) Serialize(w io.WriteSeeker) error {
	return proofs.WriteStage(w, p.Proof)
}

func readProveResponse(r io.ReadSeeker) (proveResponse, error) {
	p, err := proofs.ReadStage[proofs.Proof](r)

	return proveResponse{Proof: p}, err
}
