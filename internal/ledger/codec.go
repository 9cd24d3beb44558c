// codec.go - Binary encoding of intents, transactions and ledger state.

package ledger

import (
	"bytes"
	"io"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/stream"
	"github.com/shopspring/decimal"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/dust"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
	"ledgerengine/internal/zswap"
)

const StateTag = "ledger-state"

var (
	signatureStages = []string{"signature", "signature-erased"}
	proofStages     = []string{"preimage", "proof", "erased"}
	bindingStages   = []string{"unbound", "bound"}
)

func init() {
	serialize.Register(serialize.Decomposition{Tag: "ledger-contract-state", Version: 1,
		Children: []string{"bytes", "set<string>", "list<verifying-key>", "u32", "u32"}})
	for _, sig := range signatureStages {
		serialize.Register(serialize.Decomposition{Tag: "ledger-unshielded-offer/" + sig, Version: 1,
			Children: []string{"set<utxo-spend," + sig + ">", "list<utxo-output>"}})
		serialize.Register(serialize.Decomposition{Tag: "ledger-contract-action/" + sig, Version: 1,
			Children: []string{"u8", "variant<ledger-contract-deploy,ledger-contract-call,ledger-maintenance-update/" + sig + ">"}})
		for _, proof := range proofStages {
			intent := []string{"option<ledger-unshielded-offer/" + sig + ">", "option<ledger-unshielded-offer/" + sig + ">",
				"list<ledger-contract-action/" + sig + ">", "option<list<dust-spend/" + proof + ">,list<dust-registration/" + sig + ">>", "time",
				"value-commitment"}
			if proof == "preimage" {
				intent = append(intent, "scalar")
			}
			serialize.Register(serialize.Decomposition{Tag: "ledger-intent/" + sig + "/" + proof, Version: 2, Children: intent})
			for _, binding := range bindingStages {
				serialize.Register(serialize.Decomposition{Tag: "ledger-transaction/" + sig + "/" + proof + "/" + binding, Version: 1,
					Children: []string{"u8", "option<zswap-offer/" + proof + ">", "map<u16,zswap-offer/" + proof + ">",
						"map<u16,ledger-intent/" + sig + "/" + proof + ">", "binding-" + binding}})
			}
		}
	}
	serialize.Register(serialize.Decomposition{Tag: StateTag, Version: 1,
		Children: []string{"u8", "zswap-chain-state", "map<contract-address,ledger-contract-state>", "map<utxo-id,utxo>",
			"dust-state", "ledger-params", "time"}})
}

func encode(write func(w io.WriteSeeker) error) ([]byte, error) {
	buf := stream.NewByteBuffer()
	if err := write(buf); err != nil {
		return nil, err
	}

	return buf.Bytes()
}

func signatureStageName[S proofs.SignatureStage]() string {
	var zero S
	if _, ok := any(zero).(crypto.Signature); ok {
		return "signature"
	}

	return "signature-erased"
}

func isPreimage[P proofs.Stage]() bool {
	var zero P
	_, ok := any(zero).(proofs.Preimage)

	return ok
}

func bindingStageName[B proofs.BindingStage]() string {
	var zero B
	if _, ok := any(zero).(proofs.Bound); ok {
		return "bound"
	}

	return "unbound"
}

func compareStrings(a, b string) int {
	return bytes.Compare([]byte(a), []byte(b))
}

func writeContractState(w io.WriteSeeker, c ContractState) error {
	if err := serialize.WriteBlob(w, c.Data); err != nil {
		return ierrors.Wrap(err, "failed to write contract data")
	}
	if err := serialize.WriteSet(w, c.EntryPoints, compareStrings, func(name string) error {
		return serialize.WriteString(w, name)
	}); err != nil {
		return ierrors.Wrap(err, "failed to write entry points")
	}

	return writeAuthority(w, c.Authority)
}

func readContractState(r io.ReadSeeker) (ContractState, error) {
	var c ContractState
	var err error
	if c.Data, err = serialize.ReadBlob(r); err != nil {
		return c, ierrors.Wrap(err, "failed to read contract data")
	}
	if c.EntryPoints, err = serialize.ReadSet(r, compareStrings, func() (string, error) { return serialize.ReadString(r) }); err != nil {
		return c, ierrors.Wrap(err, "failed to read entry points")
	}
	c.Authority, err = readAuthority(r)

	return c, err
}

func writeAuthority(w io.WriteSeeker, a MaintenanceAuthority) error {
	if err := serialize.WriteList(w, a.Committee, func(vk crypto.VerifyingKey) error { return vk.Serialize(w) }); err != nil {
		return ierrors.Wrap(err, "failed to write committee")
	}
	if err := stream.Write(w, a.Threshold); err != nil {
		return err
	}

	return stream.Write(w, a.Counter)
}

func readAuthority(r io.ReadSeeker) (MaintenanceAuthority, error) {
	var a MaintenanceAuthority
	var err error
	if a.Committee, err = serialize.ReadList(r, func() (crypto.VerifyingKey, error) { return crypto.ReadVerifyingKey(r) }); err != nil {
		return a, ierrors.Wrap(err, "failed to read committee")
	}
	if a.Threshold, err = stream.Read[uint32](r); err != nil {
		return a, err
	}
	a.Counter, err = stream.Read[uint32](r)

	return a, err
}

func writeMaintenanceBody[S proofs.SignatureStage](w io.WriteSeeker, m MaintenanceUpdate[S]) error {
	if err := stream.Write(w, m.Address); err != nil {
		return err
	}
	for _, names := range [][]string{m.AddEntryPoints, m.RemoveEntryPoints} {
		if err := serialize.WriteSet(w, names, compareStrings, func(name string) error {
			return serialize.WriteString(w, name)
		}); err != nil {
			return ierrors.Wrap(err, "failed to write entry points")
		}
	}
	if err := serialize.WriteOptional(w, m.NewAuthority != nil, func() error { return writeAuthority(w, *m.NewAuthority) }); err != nil {
		return err
	}

	return stream.Write(w, m.Counter)
}

func writeMaintenance[S proofs.SignatureStage](w io.WriteSeeker, m MaintenanceUpdate[S]) error {
	if len(m.Signers) != len(m.Signatures) {
		return ierrors.Wrapf(ErrSignatureCount, "%d signers, %d signatures", len(m.Signers), len(m.Signatures))
	}
	if err := writeMaintenanceBody(w, m); err != nil {
		return err
	}
	if err := serialize.WriteList(w, m.Signers, func(vk crypto.VerifyingKey) error { return vk.Serialize(w) }); err != nil {
		return ierrors.Wrap(err, "failed to write signers")
	}

	return serialize.WriteList(w, m.Signatures, func(s S) error { return proofs.WriteSignature(w, s) })
}

func readMaintenance[S proofs.SignatureStage](r io.ReadSeeker) (MaintenanceUpdate[S], error) {
	var m MaintenanceUpdate[S]
	var err error
	if m.Address, err = stream.Read[crypto.ContractAddress](r); err != nil {
		return m, err
	}
	for _, dst := range []*[]string{&m.AddEntryPoints, &m.RemoveEntryPoints} {
		if *dst, err = serialize.ReadSet(r, compareStrings, func() (string, error) { return serialize.ReadString(r) }); err != nil {
			return m, ierrors.Wrap(err, "failed to read entry points")
		}
	}
	if _, err = serialize.ReadOptional(r, func() error {
		a, err := readAuthority(r)
		m.NewAuthority = &a

		return err
	}); err != nil {
		return m, err
	}
	if m.Counter, err = stream.Read[uint32](r); err != nil {
		return m, err
	}
	if m.Signers, err = serialize.ReadList(r, func() (crypto.VerifyingKey, error) { return crypto.ReadVerifyingKey(r) }); err != nil {
		return m, ierrors.Wrap(err, "failed to read signers")
	}
	if m.Signatures, err = serialize.ReadList(r, func() (S, error) { return proofs.ReadSignature[S](r) }); err != nil {
		return m, ierrors.Wrap(err, "failed to read signatures")
	}
	if len(m.Signers) != len(m.Signatures) {
		return m, ierrors.Wrapf(ErrSignatureCount, "%d signers, %d signatures", len(m.Signers), len(m.Signatures))
	}

	return m, nil
}

type mint struct {
	DomainSep [32]byte
	Amount    uint64
}

func writeCall(w io.WriteSeeker, c ContractCall) error {
	if err := stream.Write(w, c.Address); err != nil {
		return err
	}
	if err := serialize.WriteString(w, c.EntryPoint); err != nil {
		return err
	}
	if err := serialize.WriteSet(w, c.Effects.ClaimedNullifiers, func(a, b zswap.Nullifier) int {
		return serialize.CompareElements(a.Element(), b.Element())
	}, func(nf zswap.Nullifier) error { return serialize.WriteElement(w, nf.Element()) }); err != nil {
		return ierrors.Wrap(err, "failed to write claimed nullifiers")
	}
	if err := serialize.WriteSet(w, c.Effects.ClaimedReceives, func(a, b zswap.Commitment) int {
		return serialize.CompareElements(a.Element(), b.Element())
	}, func(cm zswap.Commitment) error { return serialize.WriteElement(w, cm.Element()) }); err != nil {
		return ierrors.Wrap(err, "failed to write claimed receives")
	}
	mints := make([]mint, 0, len(c.Effects.Mints))
	for domainSep, amount := range c.Effects.Mints {
		mints = append(mints, mint{DomainSep: domainSep, Amount: amount})
	}
	if err := serialize.WriteSet(w, mints, func(a, b mint) int { return bytes.Compare(a.DomainSep[:], b.DomainSep[:]) }, func(m mint) error {
		if err := stream.Write(w, m.DomainSep); err != nil {
			return err
		}

		return stream.Write(w, m.Amount)
	}); err != nil {
		return ierrors.Wrap(err, "failed to write mints")
	}

	return serialize.WriteBlob(w, c.NextState)
}

func readCall(r io.ReadSeeker) (ContractCall, error) {
	var c ContractCall
	var err error
	if c.Address, err = stream.Read[crypto.ContractAddress](r); err != nil {
		return c, err
	}
	if c.EntryPoint, err = serialize.ReadString(r); err != nil {
		return c, err
	}
	if c.Effects.ClaimedNullifiers, err = serialize.ReadSet(r, func(a, b zswap.Nullifier) int {
		return serialize.CompareElements(a.Element(), b.Element())
	}, func() (zswap.Nullifier, error) {
		e, err := serialize.ReadElement(r)

		return zswap.Nullifier(e), err
	}); err != nil {
		return c, ierrors.Wrap(err, "failed to read claimed nullifiers")
	}
	if c.Effects.ClaimedReceives, err = serialize.ReadSet(r, func(a, b zswap.Commitment) int {
		return serialize.CompareElements(a.Element(), b.Element())
	}, func() (zswap.Commitment, error) {
		e, err := serialize.ReadElement(r)

		return zswap.Commitment(e), err
	}); err != nil {
		return c, ierrors.Wrap(err, "failed to read claimed receives")
	}
	mints, err := serialize.ReadSet(r, func(a, b mint) int { return bytes.Compare(a.DomainSep[:], b.DomainSep[:]) }, func() (mint, error) {
		var m mint
		var err error
		if m.DomainSep, err = stream.Read[[32]byte](r); err != nil {
			return m, err
		}
		m.Amount, err = stream.Read[uint64](r)

		return m, err
	})
	if err != nil {
		return c, ierrors.Wrap(err, "failed to read mints")
	}
	if len(mints) > 0 {
		c.Effects.Mints = make(map[[32]byte]uint64, len(mints))
		for _, m := range mints {
			c.Effects.Mints[m.DomainSep] = m.Amount
		}
	}
	c.NextState, err = serialize.ReadBlob(r)

	return c, err
}

const (
	actionDeploy uint8 = iota
	actionCall
	actionMaintenance
)

func (a ContractAction[S]) Tag() string {
	return "ledger-contract-action/" + signatureStageName[S]()
}

func (a ContractAction[S]) Serialize(w io.WriteSeeker) error {
	switch {
	case !a.valid():
		return ErrInvalidAction
	case a.Deploy != nil:
		if err := stream.Write(w, actionDeploy); err != nil {
			return err
		}
		if err := writeContractState(w, a.Deploy.Initial); err != nil {
			return err
		}

		return stream.Write(w, a.Deploy.Nonce)
	case a.Call != nil:
		if err := stream.Write(w, actionCall); err != nil {
			return err
		}

		return writeCall(w, *a.Call)
	default:
		if err := stream.Write(w, actionMaintenance); err != nil {
			return err
		}

		return writeMaintenance(w, *a.Maintenance)
	}
}

func ReadContractAction[S proofs.SignatureStage](r io.ReadSeeker) (ContractAction[S], error) {
	var a ContractAction[S]
	kind, err := stream.Read[uint8](r)
	if err != nil {
		return a, err
	}
	switch kind {
	case actionDeploy:
		var d ContractDeploy
		if d.Initial, err = readContractState(r); err != nil {
			return a, err
		}
		if d.Nonce, err = stream.Read[[32]byte](r); err != nil {
			return a, err
		}
		a.Deploy = &d
	case actionCall:
		c, err := readCall(r)
		if err != nil {
			return a, err
		}
		a.Call = &c
	case actionMaintenance:
		m, err := readMaintenance[S](r)
		if err != nil {
			return a, err
		}
		a.Maintenance = &m
	default:
		return a, ierrors.Wrapf(serialize.ErrUnknownVariant, "contract action %d", kind)
	}

	return a, nil
}

type signedSpend[S proofs.SignatureStage] struct {
	Spend     UtxoSpend
	Signature S
}

func (o *UnshieldedOffer[S]) Tag() string {
	return "ledger-unshielded-offer/" + signatureStageName[S]()
}

// Serialize writes the inputs in canonical order, each with its signature.
func (o *UnshieldedOffer[S]) Serialize(w io.WriteSeeker) error {
	if len(o.Signatures) != len(o.Inputs) {
		return ierrors.Wrapf(ErrSignatureCount, "%d inputs, %d signatures", len(o.Inputs), len(o.Signatures))
	}
	pairs := make([]signedSpend[S], len(o.Inputs))
	for i := range o.Inputs {
		pairs[i] = signedSpend[S]{Spend: o.Inputs[i], Signature: o.Signatures[i]}
	}
	if err := serialize.WriteSet(w, pairs, func(a, b signedSpend[S]) int { return compareSpends(a.Spend, b.Spend) }, func(p signedSpend[S]) error {
		if err := stream.Write(w, p.Spend.Source); err != nil {
			return err
		}
		if err := p.Spend.Owner.Serialize(w); err != nil {
			return err
		}
		if err := stream.Write(w, p.Spend.Type); err != nil {
			return err
		}
		if err := stream.Write(w, p.Spend.Value); err != nil {
			return err
		}

		return proofs.WriteSignature(w, p.Signature)
	}); err != nil {
		return ierrors.Wrap(err, "failed to write unshielded inputs")
	}

	return serialize.WriteList(w, o.Outputs, func(out UtxoOutput) error {
		if err := stream.Write(w, out.Owner); err != nil {
			return err
		}
		if err := stream.Write(w, out.Type); err != nil {
			return err
		}

		return stream.Write(w, out.Value)
	})
}

func ReadUnshieldedOffer[S proofs.SignatureStage](r io.ReadSeeker) (*UnshieldedOffer[S], error) {
	pairs, err := serialize.ReadSet(r, func(a, b signedSpend[S]) int { return compareSpends(a.Spend, b.Spend) }, func() (signedSpend[S], error) {
		var p signedSpend[S]
		var err error
		if p.Spend.Source, err = stream.Read[crypto.UtxoID](r); err != nil {
			return p, err
		}
		if p.Spend.Owner, err = crypto.ReadVerifyingKey(r); err != nil {
			return p, err
		}
		if p.Spend.Type, err = stream.Read[crypto.TokenType](r); err != nil {
			return p, err
		}
		if p.Spend.Value, err = stream.Read[uint64](r); err != nil {
			return p, err
		}
		p.Signature, err = proofs.ReadSignature[S](r)

		return p, err
	})
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read unshielded inputs")
	}

	o := &UnshieldedOffer[S]{Inputs: make([]UtxoSpend, len(pairs)), Signatures: make([]S, len(pairs))}
	for i, p := range pairs {
		o.Inputs[i], o.Signatures[i] = p.Spend, p.Signature
	}
	if o.Outputs, err = serialize.ReadList(r, func() (UtxoOutput, error) {
		var out UtxoOutput
		var err error
		if out.Owner, err = stream.Read[crypto.UserAddress](r); err != nil {
			return out, err
		}
		if out.Type, err = stream.Read[crypto.TokenType](r); err != nil {
			return out, err
		}
		out.Value, err = stream.Read[uint64](r)

		return out, err
	}); err != nil {
		return nil, ierrors.Wrap(err, "failed to read unshielded outputs")
	}

	return o, nil
}

func writeRegistration[S proofs.SignatureStage](w io.WriteSeeker, reg DustRegistration[S]) error {
	if err := reg.NightKey.Serialize(w); err != nil {
		return err
	}
	if err := serialize.WriteOptional(w, reg.DustKey != nil, func() error {
		return serialize.WriteElement(w, reg.DustKey.Element())
	}); err != nil {
		return err
	}

	return proofs.WriteSignature(w, reg.Signature)
}

func readRegistration[S proofs.SignatureStage](r io.ReadSeeker) (DustRegistration[S], error) {
	var reg DustRegistration[S]
	var err error
	if reg.NightKey, err = crypto.ReadVerifyingKey(r); err != nil {
		return reg, err
	}
	if _, err = serialize.ReadOptional(r, func() error {
		e, err := serialize.ReadElement(r)
		pk := dust.PublicKey(e)
		reg.DustKey = &pk

		return err
	}); err != nil {
		return reg, err
	}
	reg.Signature, err = proofs.ReadSignature[S](r)

	return reg, err
}

func (i *Intent[S, P]) Tag() string {
	return "ledger-intent/" + signatureStageName[S]() + "/" + proofs.StageName[P]()
}

func (i *Intent[S, P]) Serialize(w io.WriteSeeker) error {
	if i == nil {
		return ierrors.Wrap(ErrMalformedTransaction, "nil intent")
	}
	for _, o := range []*UnshieldedOffer[S]{i.GuaranteedUnshielded, i.FallibleUnshielded} {
		if err := serialize.WriteOptional(w, o != nil, func() error { return o.Serialize(w) }); err != nil {
			return err
		}
	}
	if len(i.Actions) > MaxActionsPerIntent {
		return ierrors.Wrapf(ErrTooManyActions, "%d actions", len(i.Actions))
	}
	if err := serialize.WriteList(w, i.Actions, func(a ContractAction[S]) error { return a.Serialize(w) }); err != nil {
		return ierrors.Wrap(err, "failed to write contract actions")
	}
	if err := serialize.WriteOptional(w, i.Dust != nil, func() error {
		if err := serialize.WriteList(w, i.Dust.Spends, func(s dust.Spend[P]) error { return s.Serialize(w) }); err != nil {
			return ierrors.Wrap(err, "failed to write dust spends")
		}

		return serialize.WriteList(w, i.Dust.Registrations, func(reg DustRegistration[S]) error { return writeRegistration(w, reg) })
	}); err != nil {
		return err
	}
	if err := serialize.WriteTime(w, i.TTL); err != nil {
		return err
	}
	if err := i.BindingCommitment.Serialize(w); err != nil {
		return ierrors.Wrap(err, "failed to write binding commitment")
	}
	if !isPreimage[P]() {
		return nil
	}

	return crypto.WriteScalar(w, i.bindingRandomness)
}

func ReadIntent[S proofs.SignatureStage, P proofs.Stage](r io.ReadSeeker) (*Intent[S, P], error) {
	i := &Intent[S, P]{}
	for _, dst := range []**UnshieldedOffer[S]{&i.GuaranteedUnshielded, &i.FallibleUnshielded} {
		if _, err := serialize.ReadOptional(r, func() error {
			o, err := ReadUnshieldedOffer[S](r)
			*dst = o

			return err
		}); err != nil {
			return nil, err
		}
	}
	var err error
	if i.Actions, err = serialize.ReadList(r, func() (ContractAction[S], error) { return ReadContractAction[S](r) }); err != nil {
		return nil, ierrors.Wrap(err, "failed to read contract actions")
	}
	if len(i.Actions) > MaxActionsPerIntent {
		return nil, ierrors.Wrapf(ErrTooManyActions, "%d actions", len(i.Actions))
	}
	if _, err = serialize.ReadOptional(r, func() error {
		actions := &DustActions[S, P]{}
		var err error
		if actions.Spends, err = serialize.ReadList(r, func() (dust.Spend[P], error) { return dust.ReadSpend[P](r) }); err != nil {
			return ierrors.Wrap(err, "failed to read dust spends")
		}
		if actions.Registrations, err = serialize.ReadList(r, func() (DustRegistration[S], error) { return readRegistration[S](r) }); err != nil {
			return ierrors.Wrap(err, "failed to read dust registrations")
		}
		i.Dust = actions

		return nil
	}); err != nil {
		return nil, err
	}
	if i.TTL, err = serialize.ReadTime(r); err != nil {
		return nil, err
	}
	if i.BindingCommitment, err = crypto.ReadValueCommitment(r); err != nil {
		return nil, ierrors.Wrap(err, "failed to read binding commitment")
	}
	if !isPreimage[P]() {
		return i, nil
	}
	if i.bindingRandomness, err = crypto.ReadScalar(r); err != nil {
		return nil, ierrors.Wrap(err, "failed to read binding randomness")
	}
	if _, err = i.BindingRandomness(); err != nil {
		return nil, ierrors.Wrap(ErrMalformedTransaction, err.Error())
	}

	return i, nil
}

type segmentOffer[P proofs.Stage] struct {
	Segment uint16
	Offer   *zswap.Offer[P]
}

type segmentIntent[S proofs.SignatureStage, P proofs.Stage] struct {
	Segment uint16
	Intent  *Intent[S, P]
}

func (tx Transaction[S, P, B]) Tag() string {
	return "ledger-transaction/" + signatureStageName[S]() + "/" + proofs.StageName[P]() + "/" + bindingStageName[B]()
}

func writeTransactionBody[S proofs.SignatureStage, P proofs.Stage, B proofs.BindingStage](w io.WriteSeeker, tx Transaction[S, P, B]) error {
	if err := stream.Write(w, uint8(tx.Network)); err != nil {
		return err
	}
	if err := serialize.WriteOptional(w, tx.Guaranteed != nil, func() error { return tx.Guaranteed.Serialize(w) }); err != nil {
		return ierrors.Wrap(err, "failed to write guaranteed offer")
	}

	offers := make([]segmentOffer[P], 0, len(tx.Fallible))
	for _, id := range slices.Sorted(maps.Keys(tx.Fallible)) {
		if o := tx.Fallible[id]; o != nil {
			offers = append(offers, segmentOffer[P]{Segment: id, Offer: o})
		}
	}
	if err := serialize.WriteList(w, offers, func(so segmentOffer[P]) error {
		if err := stream.Write(w, so.Segment); err != nil {
			return err
		}

		return so.Offer.Serialize(w)
	}); err != nil {
		return ierrors.Wrap(err, "failed to write fallible offers")
	}

	intents := make([]segmentIntent[S, P], 0, len(tx.Intents))
	for _, id := range slices.Sorted(maps.Keys(tx.Intents)) {
		intents = append(intents, segmentIntent[S, P]{Segment: id, Intent: tx.Intents[id]})
	}

	return serialize.WriteList(w, intents, func(si segmentIntent[S, P]) error {
		if err := stream.Write(w, si.Segment); err != nil {
			return err
		}

		return si.Intent.Serialize(w)
	})
}

func (tx Transaction[S, P, B]) Serialize(w io.WriteSeeker) error {
	if err := writeTransactionBody(w, tx); err != nil {
		return err
	}

	return proofs.WriteBinding(w, tx.Binding)
}

// readSegmented reads a list of segment-keyed entries in any order and rejects duplicate segments.
func readSegmented[T any](r io.ReadSeeker, read func() (T, error)) (map[uint16]T, error) {
	type entry struct {
		Segment uint16
		Value   T
	}
	entries, err := serialize.ReadSet(r, func(a, b entry) int { return int(a.Segment) - int(b.Segment) }, func() (entry, error) {
		var e entry
		var err error
		if e.Segment, err = stream.Read[uint16](r); err != nil {
			return e, err
		}
		e.Value, err = read()

		return e, err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[uint16]T, len(entries))
	for _, e := range entries {
		out[e.Segment] = e.Value
	}

	return out, nil
}

func ReadTransaction[S proofs.SignatureStage, P proofs.Stage, B proofs.BindingStage](r io.ReadSeeker) (Transaction[S, P, B], error) {
	var tx Transaction[S, P, B]
	network, err := stream.Read[uint8](r)
	if err != nil {
		return tx, err
	}
	tx.Network = serialize.NetworkID(network)
	if !tx.Network.Valid() {
		return tx, serialize.ErrUnknownNetwork
	}
	if _, err = serialize.ReadOptional(r, func() error {
		o, err := zswap.ReadOffer[P](r)
		tx.Guaranteed = &o

		return err
	}); err != nil {
		return tx, ierrors.Wrap(err, "failed to read guaranteed offer")
	}
	if tx.Fallible, err = readSegmented(r, func() (*zswap.Offer[P], error) {
		o, err := zswap.ReadOffer[P](r)

		return &o, err
	}); err != nil {
		return tx, ierrors.Wrap(err, "failed to read fallible offers")
	}
	if tx.Intents, err = readSegmented(r, func() (*Intent[S, P], error) { return ReadIntent[S, P](r) }); err != nil {
		return tx, ierrors.Wrap(err, "failed to read intents")
	}
	if err = checkSegments(tx.Fallible, tx.Intents); err != nil {
		return tx, err
	}
	tx.Binding, err = proofs.ReadBinding[B](r)

	return tx, err
}

func writeDecimal(w io.WriteSeeker, d decimal.Decimal) error {
	return serialize.WriteString(w, d.String())
}

func readDecimal(r io.ReadSeeker) (decimal.Decimal, error) {
	s, err := serialize.ReadString(r)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return d, ierrors.Wrapf(serialize.ErrNonCanonical, "decimal %q", s)
	}

	return d, nil
}

func writeParams(w io.WriteSeeker, p Params) error {
	if err := p.Dust.Serialize(w); err != nil {
		return err
	}
	for _, price := range []decimal.Decimal{p.Cost.ComputePrice, p.Cost.ReadPrice, p.Cost.WritePrice, p.Cost.BlockUsagePrice} {
		if err := writeDecimal(w, price); err != nil {
			return ierrors.Wrap(err, "failed to write cost model")
		}
	}
	if p.HistoryDepth < 0 || uint64(p.HistoryDepth) > math.MaxUint32 {
		return ierrors.Wrapf(ErrInvalidParams, "history depth %d", p.HistoryDepth)
	}
	if err := stream.Write(w, uint32(p.HistoryDepth)); err != nil {
		return err
	}
	if err := stream.Write(w, uint64(p.RootRetention/time.Second)); err != nil {
		return err
	}

	return stream.Write(w, uint64(p.MaxTTL/time.Second))
}

func readParams(r io.ReadSeeker) (Params, error) {
	var p Params
	var err error
	if p.Dust, err = dust.ReadParams(r); err != nil {
		return p, err
	}
	for _, dst := range []*decimal.Decimal{&p.Cost.ComputePrice, &p.Cost.ReadPrice, &p.Cost.WritePrice, &p.Cost.BlockUsagePrice} {
		if *dst, err = readDecimal(r); err != nil {
			return p, ierrors.Wrap(err, "failed to read cost model")
		}
	}
	depth, err := stream.Read[uint32](r)
	if err != nil {
		return p, err
	}
	p.HistoryDepth = int(depth)
	retention, err := stream.Read[uint64](r)
	if err != nil {
		return p, err
	}
	p.RootRetention = time.Duration(retention) * time.Second
	maxTTL, err := stream.Read[uint64](r)
	if err != nil {
		return p, err
	}
	p.MaxTTL = time.Duration(maxTTL) * time.Second

	return p, nil
}

type contractEntry struct {
	Address crypto.ContractAddress
	State   ContractState
}

type utxoEntry struct {
	ID   crypto.UtxoID
	Utxo Utxo
}

func (s State) Tag() string {
	return StateTag
}

func (s State) Serialize(w io.WriteSeeker) error {
	if err := stream.Write(w, uint8(s.Network)); err != nil {
		return err
	}
	if err := s.Zswap.Serialize(w); err != nil {
		return ierrors.Wrap(err, "failed to write zswap state")
	}

	contracts := make([]contractEntry, 0, s.Contracts.Len())
	for itr := s.Contracts.Iterator(); !itr.Done(); {
		address, state, _ := itr.Next()
		contracts = append(contracts, contractEntry{Address: address, State: state})
	}
	if err := serialize.WriteSet(w, contracts, func(a, b contractEntry) int { return addressComparer{}.Compare(a.Address, b.Address) },
		func(e contractEntry) error {
			if err := stream.Write(w, e.Address); err != nil {
				return err
			}

			return writeContractState(w, e.State)
		}); err != nil {
		return ierrors.Wrap(err, "failed to write contracts")
	}

	utxos := make([]utxoEntry, 0, s.Utxo.Len())
	for itr := s.Utxo.utxos.Iterator(); !itr.Done(); {
		id, utxo, _ := itr.Next()
		utxos = append(utxos, utxoEntry{ID: id, Utxo: utxo})
	}
	if err := serialize.WriteSet(w, utxos, func(a, b utxoEntry) int { return utxoComparer{}.Compare(a.ID, b.ID) },
		func(e utxoEntry) error {
			if err := stream.Write(w, e.ID); err != nil {
				return err
			}
			if err := stream.Write(w, e.Utxo.Owner); err != nil {
				return err
			}
			if err := stream.Write(w, e.Utxo.Type); err != nil {
				return err
			}
			if err := stream.Write(w, e.Utxo.Value); err != nil {
				return err
			}

			return serialize.WriteTime(w, e.Utxo.Ctime)
		}); err != nil {
		return ierrors.Wrap(err, "failed to write unshielded outputs")
	}

	if err := s.Dust.Serialize(w); err != nil {
		return ierrors.Wrap(err, "failed to write dust state")
	}
	if err := writeParams(w, s.Params); err != nil {
		return ierrors.Wrap(err, "failed to write params")
	}

	return serialize.WriteTime(w, s.BlockTime)
}

func ReadState(r io.ReadSeeker) (State, error) {
	var s State
	network, err := stream.Read[uint8](r)
	if err != nil {
		return s, err
	}
	s.Network = serialize.NetworkID(network)
	if !s.Network.Valid() {
		return s, serialize.ErrUnknownNetwork
	}
	if s.Zswap, err = zswap.ReadChainState(r); err != nil {
		return s, ierrors.Wrap(err, "failed to read zswap state")
	}

	contracts, err := serialize.ReadSet(r, func(a, b contractEntry) int { return addressComparer{}.Compare(a.Address, b.Address) },
		func() (contractEntry, error) {
			var e contractEntry
			var err error
			if e.Address, err = stream.Read[crypto.ContractAddress](r); err != nil {
				return e, err
			}
			e.State, err = readContractState(r)

			return e, err
		})
	if err != nil {
		return s, ierrors.Wrap(err, "failed to read contracts")
	}
	s.Contracts = newContractMap()
	for _, e := range contracts {
		s.Contracts = s.Contracts.Set(e.Address, e.State)
	}

	utxos, err := serialize.ReadSet(r, func(a, b utxoEntry) int { return utxoComparer{}.Compare(a.ID, b.ID) },
		func() (utxoEntry, error) {
			var e utxoEntry
			var err error
			if e.ID, err = stream.Read[crypto.UtxoID](r); err != nil {
				return e, err
			}
			if e.Utxo.Owner, err = stream.Read[crypto.UserAddress](r); err != nil {
				return e, err
			}
			if e.Utxo.Type, err = stream.Read[crypto.TokenType](r); err != nil {
				return e, err
			}
			if e.Utxo.Value, err = stream.Read[uint64](r); err != nil {
				return e, err
			}
			e.Utxo.Ctime, err = serialize.ReadTime(r)

			return e, err
		})
	if err != nil {
		return s, ierrors.Wrap(err, "failed to read unshielded outputs")
	}
	s.Utxo = UnshieldedState{utxos: immutable.NewSortedMap[crypto.UtxoID, Utxo](utxoComparer{})}
	for _, e := range utxos {
		s.Utxo.utxos = s.Utxo.utxos.Set(e.ID, e.Utxo)
	}

	if s.Dust, err = dust.ReadState(r); err != nil {
		return s, ierrors.Wrap(err, "failed to read dust state")
	}
	if s.Params, err = readParams(r); err != nil {
		return s, ierrors.Wrap(err, "failed to read params")
	}
	s.BlockTime, err = serialize.ReadTime(r)

	return s, err
}
