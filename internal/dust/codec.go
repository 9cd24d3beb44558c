// codec.go - Binary encoding of Dust spends, events and state.

package dust

import (
	"bytes"
	"io"

	"github.com/benbjohnson/immutable"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/stream"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/merkle"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
)

const (
	OutputTag         = "dust-output"
	GenerationInfoTag = "dust-generation-info"
	EventTag          = "dust-event"
	StateTag          = "dust-state"
)

func init() {
	for _, stage := range []string{"preimage", "proof", "erased"} {
		proof := "proof-" + stage
		if stage == "proof" {
			proof = "proof"
		}
		serialize.Register(serialize.Decomposition{Tag: "dust-spend/" + stage, Version: 1,
			Children: []string{"u64", "nullifier", "commitment", "merkle-root", "time", proof}})
	}
	serialize.Register(serialize.Decomposition{Tag: OutputTag, Version: 1,
		Children: []string{"u64", "dust-public-key", "nonce", "u32", "time", "utxo-id"}})
	serialize.Register(serialize.Decomposition{Tag: GenerationInfoTag, Version: 1,
		Children: []string{"u64", "dust-public-key", "nonce", "time"}})
	serialize.Register(serialize.Decomposition{Tag: EventTag, Version: 1,
		Children: []string{"u8", "variant<initial-utxo,generation-dtime-update,spend-processed>", "time"}})
	serialize.Register(serialize.Decomposition{Tag: StateTag, Version: 1,
		Children: []string{"dust-params", "merkle-tree", "set<nullifier>", "root-history",
			"map<user-address,dust-public-key>", "merkle-tree", "map<utxo-id,u64,dust-generation-info>", "root-history"}})
}

func (s Spend[P]) Tag() string {
	return "dust-spend/" + proofs.StageName[P]()
}

func (s Spend[P]) Serialize(w io.WriteSeeker) error {
	if err := stream.Write(w, s.VFee); err != nil {
		return ierrors.Wrap(err, "failed to write fee")
	}
	if err := serialize.WriteElement(w, s.OldNullifier.Element()); err != nil {
		return ierrors.Wrap(err, "failed to write nullifier")
	}
	if err := serialize.WriteElement(w, s.NewCommitment.Element()); err != nil {
		return ierrors.Wrap(err, "failed to write commitment")
	}
	if err := serialize.WriteElement(w, s.MerkleRoot); err != nil {
		return ierrors.Wrap(err, "failed to write merkle root")
	}
	if err := serialize.WriteTime(w, s.Time); err != nil {
		return err
	}

	return proofs.WriteStage(w, s.Proof)
}

func ReadSpend[P proofs.Stage](r io.ReadSeeker) (Spend[P], error) {
	var s Spend[P]
	var err error
	if s.VFee, err = stream.Read[uint64](r); err != nil {
		return s, ierrors.Wrap(err, "failed to read fee")
	}
	nf, err := serialize.ReadElement(r)
	if err != nil {
		return s, ierrors.Wrap(err, "failed to read nullifier")
	}
	s.OldNullifier = Nullifier(nf)
	cm, err := serialize.ReadElement(r)
	if err != nil {
		return s, ierrors.Wrap(err, "failed to read commitment")
	}
	s.NewCommitment = Commitment(cm)
	if s.MerkleRoot, err = serialize.ReadElement(r); err != nil {
		return s, ierrors.Wrap(err, "failed to read merkle root")
	}
	if s.Time, err = serialize.ReadTime(r); err != nil {
		return s, err
	}
	s.Proof, err = proofs.ReadStage[P](r)

	return s, err
}

func (o Output) Tag() string {
	return OutputTag
}

func (o Output) Serialize(w io.WriteSeeker) error {
	if err := stream.Write(w, o.InitialValue); err != nil {
		return err
	}
	if err := serialize.WriteElement(w, o.Owner.Element()); err != nil {
		return err
	}
	if err := serialize.WriteElement(w, o.Nonce); err != nil {
		return err
	}
	if err := stream.Write(w, o.Seq); err != nil {
		return err
	}
	if err := serialize.WriteTime(w, o.Ctime); err != nil {
		return err
	}

	return stream.Write(w, o.BackingNight)
}

func ReadOutput(r io.ReadSeeker) (Output, error) {
	var o Output
	var err error
	if o.InitialValue, err = stream.Read[uint64](r); err != nil {
		return o, ierrors.Wrap(err, "failed to read initial value")
	}
	owner, err := serialize.ReadElement(r)
	if err != nil {
		return o, ierrors.Wrap(err, "failed to read owner")
	}
	o.Owner = PublicKey(owner)
	if o.Nonce, err = serialize.ReadElement(r); err != nil {
		return o, ierrors.Wrap(err, "failed to read nonce")
	}
	if o.Seq, err = stream.Read[uint32](r); err != nil {
		return o, ierrors.Wrap(err, "failed to read sequence number")
	}
	if o.Ctime, err = serialize.ReadTime(r); err != nil {
		return o, err
	}
	o.BackingNight, err = stream.Read[crypto.UtxoID](r)

	return o, err
}

func (g GenerationInfo) Tag() string {
	return GenerationInfoTag
}

func (g GenerationInfo) Serialize(w io.WriteSeeker) error {
	if err := stream.Write(w, g.Value); err != nil {
		return err
	}
	if err := serialize.WriteElement(w, g.Owner.Element()); err != nil {
		return err
	}
	if err := serialize.WriteElement(w, g.Nonce); err != nil {
		return err
	}

	return serialize.WriteTime(w, g.Dtime)
}

func ReadGenerationInfo(r io.ReadSeeker) (GenerationInfo, error) {
	var g GenerationInfo
	var err error
	if g.Value, err = stream.Read[uint64](r); err != nil {
		return g, ierrors.Wrap(err, "failed to read night value")
	}
	owner, err := serialize.ReadElement(r)
	if err != nil {
		return g, ierrors.Wrap(err, "failed to read owner")
	}
	g.Owner = PublicKey(owner)
	if g.Nonce, err = serialize.ReadElement(r); err != nil {
		return g, ierrors.Wrap(err, "failed to read nonce")
	}
	g.Dtime, err = serialize.ReadTime(r)

	return g, err
}

func (e Event) Tag() string {
	return EventTag
}

func (e Event) Serialize(w io.WriteSeeker) error {
	if err := stream.Write(w, uint8(e.Kind)); err != nil {
		return err
	}

	switch e.Kind {
	case EventInitialUtxo:
		if err := e.Output.Output.Serialize(w); err != nil {
			return err
		}
		if err := stream.Write(w, e.Output.MtIndex); err != nil {
			return err
		}
		if err := e.Generation.Serialize(w); err != nil {
			return err
		}
		if err := stream.Write(w, e.GenerationIndex); err != nil {
			return err
		}
		if err := stream.Write(w, e.BackingNight); err != nil {
			return err
		}

	case EventGenerationDtimeUpdate:
		if err := e.Generation.Serialize(w); err != nil {
			return err
		}
		if err := stream.Write(w, e.GenerationIndex); err != nil {
			return err
		}
		if err := stream.Write(w, e.BackingNight); err != nil {
			return err
		}

	case EventSpendProcessed:
		if err := serialize.WriteElement(w, e.Commitment.Element()); err != nil {
			return err
		}
		if err := stream.Write(w, e.MtIndex); err != nil {
			return err
		}
		if err := serialize.WriteElement(w, e.Nullifier.Element()); err != nil {
			return err
		}
		if err := stream.Write(w, e.Fee); err != nil {
			return err
		}

	default:
		return ierrors.Wrapf(ErrUnknownEventKind, "%s", e.Kind)
	}

	return serialize.WriteTime(w, e.Time)
}

func ReadEvent(r io.ReadSeeker) (Event, error) {
	var e Event
	kind, err := stream.Read[uint8](r)
	if err != nil {
		return e, ierrors.Wrap(err, "failed to read event kind")
	}
	e.Kind = EventKind(kind)

	switch e.Kind {
	case EventInitialUtxo:
		if e.Output.Output, err = ReadOutput(r); err != nil {
			return e, err
		}
		if e.Output.MtIndex, err = stream.Read[uint64](r); err != nil {
			return e, err
		}
		if e.Generation, err = ReadGenerationInfo(r); err != nil {
			return e, err
		}
		if e.GenerationIndex, err = stream.Read[uint64](r); err != nil {
			return e, err
		}
		if e.BackingNight, err = stream.Read[crypto.UtxoID](r); err != nil {
			return e, err
		}

	case EventGenerationDtimeUpdate:
		if e.Generation, err = ReadGenerationInfo(r); err != nil {
			return e, err
		}
		if e.GenerationIndex, err = stream.Read[uint64](r); err != nil {
			return e, err
		}
		if e.BackingNight, err = stream.Read[crypto.UtxoID](r); err != nil {
			return e, err
		}

	case EventSpendProcessed:
		cm, err := serialize.ReadElement(r)
		if err != nil {
			return e, err
		}
		e.Commitment = Commitment(cm)
		if e.MtIndex, err = stream.Read[uint64](r); err != nil {
			return e, err
		}
		nf, err := serialize.ReadElement(r)
		if err != nil {
			return e, err
		}
		e.Nullifier = Nullifier(nf)
		if e.Fee, err = stream.Read[uint64](r); err != nil {
			return e, err
		}

	default:
		return e, ierrors.Wrapf(serialize.ErrUnknownVariant, "dust event kind %d", kind)
	}

	e.Time, err = serialize.ReadTime(r)

	return e, err
}

func (p Params) Serialize(w io.WriteSeeker) error {
	if err := stream.Write(w, p.NightDustRatio); err != nil {
		return err
	}
	if err := stream.Write(w, p.GenerationDecayRate); err != nil {
		return err
	}

	return stream.Write(w, p.DustGracePeriodSeconds)
}

func ReadParams(r io.ReadSeeker) (Params, error) {
	var p Params
	var err error
	if p.NightDustRatio, err = stream.Read[uint64](r); err != nil {
		return p, err
	}
	if p.GenerationDecayRate, err = stream.Read[uint64](r); err != nil {
		return p, err
	}
	p.DustGracePeriodSeconds, err = stream.Read[uint64](r)

	return p, err
}

func (s State) Tag() string {
	return StateTag
}

type delegation struct {
	Owner crypto.UserAddress
	Key   PublicKey
}

type generationEntry struct {
	Night crypto.UtxoID
	Index uint64
	Info  GenerationInfo
}

func compareNullifiers(a, b Nullifier) int {
	return fieldComparer[Nullifier]{}.Compare(a, b)
}

func (s State) Serialize(w io.WriteSeeker) error {
	if err := s.params.Serialize(w); err != nil {
		return ierrors.Wrap(err, "failed to write params")
	}
	if err := s.Utxo.tree.Serialize(w, serialize.WriteElement); err != nil {
		return ierrors.Wrap(err, "failed to write commitment tree")
	}

	nullifiers := make([]Nullifier, 0, s.Utxo.nullifiers.Len())
	for itr := s.Utxo.nullifiers.Iterator(); !itr.Done(); {
		nf, _, _ := itr.Next()
		nullifiers = append(nullifiers, nf)
	}
	if err := serialize.WriteSet(w, nullifiers, compareNullifiers, func(nf Nullifier) error {
		return serialize.WriteElement(w, nf.Element())
	}); err != nil {
		return ierrors.Wrap(err, "failed to write nullifiers")
	}
	if err := s.Utxo.history.Serialize(w, serialize.WriteElement); err != nil {
		return err
	}

	delegations := make([]delegation, 0, s.Generation.delegation.Len())
	for itr := s.Generation.delegation.Iterator(); !itr.Done(); {
		owner, pk, _ := itr.Next()
		delegations = append(delegations, delegation{Owner: owner, Key: pk})
	}
	if err := serialize.WriteSet(w, delegations, func(a, b delegation) int { return bytes.Compare(a.Owner[:], b.Owner[:]) },
		func(d delegation) error {
			if err := stream.Write(w, d.Owner); err != nil {
				return err
			}

			return serialize.WriteElement(w, d.Key.Element())
		}); err != nil {
		return ierrors.Wrap(err, "failed to write delegations")
	}

	if err := s.Generation.tree.Serialize(w, merkle.WriteDigest); err != nil {
		return ierrors.Wrap(err, "failed to write generation tree")
	}

	entries := make([]generationEntry, 0, s.Generation.nightIndices.Len())
	for itr := s.Generation.nightIndices.Iterator(); !itr.Done(); {
		night, index, _ := itr.Next()
		info, _ := s.Generation.infos.Get(index)
		entries = append(entries, generationEntry{Night: night, Index: index, Info: info})
	}
	if err := serialize.WriteSet(w, entries, func(a, b generationEntry) int { return bytes.Compare(a.Night[:], b.Night[:]) },
		func(e generationEntry) error {
			if err := stream.Write(w, e.Night); err != nil {
				return err
			}
			if err := stream.Write(w, e.Index); err != nil {
				return err
			}

			return e.Info.Serialize(w)
		}); err != nil {
		return ierrors.Wrap(err, "failed to write generation infos")
	}

	return s.Generation.history.Serialize(w, merkle.WriteDigest)
}

// ReadState decodes a Dust state and rebuilds the derived indices.
func ReadState(r io.ReadSeeker) (State, error) {
	var s State
	var err error
	if s.params, err = ReadParams(r); err != nil {
		return s, ierrors.Wrap(err, "failed to read params")
	}
	if s.Utxo.tree, err = merkle.ReadTree[fr.Element](r, merkle.MiMCHasher{}, serialize.ReadElement); err != nil {
		return s, err
	}
	nullifiers, err := serialize.ReadSet(r, compareNullifiers, func() (Nullifier, error) {
		e, err := serialize.ReadElement(r)

		return Nullifier(e), err
	})
	if err != nil {
		return s, ierrors.Wrap(err, "failed to read nullifiers")
	}
	s.Utxo.nullifiers = immutable.NewSortedMap[Nullifier, struct{}](fieldComparer[Nullifier]{})
	for _, nf := range nullifiers {
		s.Utxo.nullifiers = s.Utxo.nullifiers.Set(nf, struct{}{})
	}
	if s.Utxo.history, err = merkle.ReadRootHistory[fr.Element](r, serialize.ReadElement); err != nil {
		return s, err
	}

	delegations, err := serialize.ReadSet(r, func(a, b delegation) int { return bytes.Compare(a.Owner[:], b.Owner[:]) },
		func() (delegation, error) {
			var d delegation
			var err error
			if d.Owner, err = stream.Read[crypto.UserAddress](r); err != nil {
				return d, err
			}
			pk, err := serialize.ReadElement(r)
			d.Key = PublicKey(pk)

			return d, err
		})
	if err != nil {
		return s, ierrors.Wrap(err, "failed to read delegations")
	}
	s.Generation.delegation = immutable.NewSortedMap[crypto.UserAddress, PublicKey](bytesComparer[crypto.UserAddress]{})
	for _, d := range delegations {
		s.Generation.delegation = s.Generation.delegation.Set(d.Owner, d.Key)
	}

	if s.Generation.tree, err = merkle.ReadTree[[32]byte](r, merkle.Blake2bHasher{}, merkle.ReadDigest); err != nil {
		return s, err
	}

	entries, err := serialize.ReadSet(r, func(a, b generationEntry) int { return bytes.Compare(a.Night[:], b.Night[:]) },
		func() (generationEntry, error) {
			var e generationEntry
			var err error
			if e.Night, err = stream.Read[crypto.UtxoID](r); err != nil {
				return e, err
			}
			if e.Index, err = stream.Read[uint64](r); err != nil {
				return e, err
			}
			e.Info, err = ReadGenerationInfo(r)

			return e, err
		})
	if err != nil {
		return s, ierrors.Wrap(err, "failed to read generation infos")
	}
	s.Generation.set = immutable.NewSortedMap[[32]byte, struct{}](bytesComparer[[32]byte]{})
	s.Generation.nightIndices = immutable.NewSortedMap[crypto.UtxoID, uint64](bytesComparer[crypto.UtxoID]{})
	s.Generation.infos = immutable.NewSortedMap[uint64, GenerationInfo](uint64Comparer{})
	for _, e := range entries {
		leaf, err := s.Generation.tree.LeafDigest(e.Index)
		if err != nil {
			return s, err
		}
		if leaf != s.Generation.tree.Hasher().Leaf(e.Info.Hash()) {
			return s, ierrors.Wrapf(merkle.ErrRootMismatch, "generation info %d does not match its leaf", e.Index)
		}
		s.Generation.set = s.Generation.set.Set(e.Info.Hash(), struct{}{})
		s.Generation.nightIndices = s.Generation.nightIndices.Set(e.Night, e.Index)
		s.Generation.infos = s.Generation.infos.Set(e.Index, e.Info)
	}
	if s.Generation.history, err = merkle.ReadRootHistory[[32]byte](r, merkle.ReadDigest); err != nil {
		return s, err
	}

	return s, nil
}
