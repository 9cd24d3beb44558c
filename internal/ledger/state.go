// state.go - Ledger state and the application of bound transactions.
//
// Apply runs the guaranteed phase atomically: Dust registrations and spends,
// the guaranteed offer and the guaranteed unshielded parts of every intent.
// If any of it fails the transaction is rejected and the state is unchanged.
// Fallible segments then run in ascending id order; a failing segment leaves
// no trace and does not affect the others.

package ledger

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/dust"
	"ledgerengine/internal/merkle"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
	"ledgerengine/internal/zswap"
)

// Params configures a ledger.
type Params struct {
	Dust          dust.Params   `yaml:"dust"`
	Cost          CostModel     `yaml:"cost"`
	HistoryDepth  int           `yaml:"history_depth"`
	RootRetention time.Duration `yaml:"root_retention"`
	MaxTTL        time.Duration `yaml:"max_ttl"`
}

func DefaultParams() Params {
	return Params{
		Dust:          dust.DefaultParams(),
		Cost:          DefaultCostModel(),
		HistoryDepth:  merkle.DefaultHistoryDepth,
		RootRetention: time.Hour,
		MaxTTL:        24 * time.Hour,
	}
}

func (p Params) Validate() error {
	if err := p.Dust.Validate(); err != nil {
		return err
	}
	if err := p.Cost.Validate(); err != nil {
		return err
	}
	if p.HistoryDepth <= 0 {
		return ierrors.Wrap(ErrInvalidParams, "history depth must be positive")
	}
	if p.MaxTTL <= 0 {
		return ierrors.Wrap(ErrInvalidParams, "max ttl must be positive")
	}

	return nil
}

// State is a ledger snapshot. It is a value; Apply and PostBlockUpdate return a new one.
type State struct {
	Network   serialize.NetworkID
	Zswap     zswap.ChainState
	Contracts *immutable.SortedMap[crypto.ContractAddress, ContractState]
	Utxo      UnshieldedState
	Dust      dust.State
	Params    Params
	BlockTime time.Time
}

func NewState(network serialize.NetworkID, params Params, genesis time.Time) State {
	genesis = genesis.Truncate(time.Second).UTC()

	return State{
		Network:   network,
		Zswap:     zswap.NewChainState(params.HistoryDepth, genesis),
		Contracts: newContractMap(),
		Utxo:      NewUnshieldedState(),
		Dust:      dust.NewState(params.Dust, params.HistoryDepth, genesis),
		Params:    params,
		BlockTime: genesis,
	}
}

// Contract returns the state of a deployed contract.
func (s State) Contract(address crypto.ContractAddress) (ContractState, bool) {
	return s.Contracts.Get(address)
}

// WithGenesisUtxo creates an unshielded output outside any transaction. seed
// must be unique per output.
func (s State) WithGenesisUtxo(seed [32]byte, out UtxoOutput) (State, crypto.UtxoID, []dust.Event, error) {
	id := UtxoIDFor(crypto.Blake2b([]byte("ledger:genesis"), seed[:]), GuaranteedSegment, 0)
	utxo, ds, events, err := s.Utxo.create(id, out, s.BlockTime, s.Dust, nil)
	if err != nil {
		return s, id, nil, err
	}
	s.Utxo, s.Dust = utxo, ds

	return s, id, events, nil
}

// Status is the outcome of Apply.
type Status uint8

const (
	Success Status = iota
	PartialSuccess
	Failure
)

func (st Status) String() string {
	switch st {
	case Success:
		return "success"
	case PartialSuccess:
		return "partial-success"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("Status(%d)", uint8(st))
	}
}

// Result reports what Apply did. SegmentErrors holds the error of every segment
// that failed, keyed by segment id.
type Result struct {
	Status        Status
	SegmentErrors map[uint16]error
	Events        []dust.Event
}

func (r Result) String() string {
	return fmt.Sprintf("Result{status: %s, failed segments: %v, events: %d}", r.Status, slices.Sorted(maps.Keys(r.SegmentErrors)), len(r.Events))
}

// Apply applies a bound, erased transaction at block time t. The returned error
// is set only when the guaranteed phase failed; fallible failures are in the Result.
func (s State) Apply(tx Transaction[proofs.SignatureErased, proofs.Erased, proofs.Bound], t time.Time) (State, Result, error) {
	t = t.Truncate(time.Second).UTC()
	if tx.Network != s.Network {
		err := ierrors.Wrapf(ErrNetworkMismatch, "expected %s, got %s", s.Network, tx.Network)

		return s, Result{Status: Failure, SegmentErrors: map[uint16]error{GuaranteedSegment: err}}, err
	}

	hashes := make(map[uint16][32]byte, len(tx.Intents))
	for segment, intent := range tx.Intents {
		if intent == nil {
			err := ierrors.Wrapf(ErrMalformedTransaction, "nil intent at segment %d", segment)

			return s, Result{Status: Failure, SegmentErrors: map[uint16]error{GuaranteedSegment: err}}, err
		}
		hash, err := intent.Hash(segment)
		if err != nil {
			return s, Result{Status: Failure, SegmentErrors: map[uint16]error{GuaranteedSegment: err}}, err
		}
		hashes[segment] = hash
	}

	next, events, err := s.applyGuaranteed(tx, hashes, t)
	if err != nil {
		err = ierrors.Join(ErrGuaranteedSegment, err)

		return s, Result{Status: Failure, SegmentErrors: map[uint16]error{GuaranteedSegment: err}}, err
	}

	result := Result{Status: Success, SegmentErrors: make(map[uint16]error), Events: events}
	for _, segment := range tx.Segments() {
		applied, segmentEvents, err := next.applyFallible(tx, segment, hashes[segment], t)
		if err != nil {
			result.SegmentErrors[segment] = err
			result.Status = PartialSuccess

			continue
		}
		next = applied
		result.Events = append(result.Events, segmentEvents...)
	}

	return next, result, nil
}

func (s State) applyGuaranteed(tx Transaction[proofs.SignatureErased, proofs.Erased, proofs.Bound], hashes map[uint16][32]byte, t time.Time) (State, []dust.Event, error) {
	next := s
	var events []dust.Event
	segments := slices.Sorted(maps.Keys(tx.Intents))

	for _, segment := range segments {
		actions := tx.Intents[segment].Dust
		if actions == nil {
			continue
		}
		for _, r := range actions.Registrations {
			owner := r.NightKey.Address()
			if r.DustKey == nil {
				next.Dust = next.Dust.DeregisterAddress(owner)
			} else {
				next.Dust = next.Dust.RegisterAddress(owner, *r.DustKey)
			}
		}
		for _, spend := range actions.Spends {
			ds, evs, err := next.Dust.ApplySpend(spend, t)
			if err != nil {
				return s, nil, ierrors.Wrapf(err, "dust spend of segment %d", segment)
			}
			next.Dust = ds
			events = append(events, evs...)
		}
	}

	if tx.Guaranteed != nil {
		zs, _, err := next.Zswap.TryApply(*tx.Guaranteed, nil)
		if err != nil {
			return s, nil, err
		}
		next.Zswap = zs
	}

	for _, segment := range segments {
		utxo, ds, evs, err := next.Utxo.apply(tx.Intents[segment].GuaranteedUnshielded, hashes[segment], GuaranteedSegment, 0, t, next.Dust)
		if err != nil {
			return s, nil, ierrors.Wrapf(err, "guaranteed unshielded offer of segment %d", segment)
		}
		next.Utxo, next.Dust = utxo, ds
		events = append(events, evs...)
	}

	return next, events, nil
}

func (s State) applyFallible(tx Transaction[proofs.SignatureErased, proofs.Erased, proofs.Bound], segment uint16, hash [32]byte, t time.Time) (State, []dust.Event, error) {
	next := s
	var refs []zswap.CoinRef
	if o := tx.Fallible[segment]; o != nil {
		zs, r, err := next.Zswap.TryApply(*o, nil)
		if err != nil {
			return s, nil, err
		}
		next.Zswap, refs = zs, r
	}

	intent := tx.Intents[segment]
	if intent == nil {
		return next, nil, nil
	}
	utxo, ds, events, err := next.Utxo.apply(intent.FallibleUnshielded, hash, segment, 0, t, next.Dust)
	if err != nil {
		return s, nil, err
	}
	next.Utxo, next.Dust = utxo, ds

	for i, a := range intent.Actions {
		if next.Contracts, err = applyAction(next.Contracts, a, refs); err != nil {
			return s, nil, ierrors.Wrapf(err, "action %d", i)
		}
	}

	return next, events, nil
}

// PostBlockUpdate closes a block at t: current roots become part of the
// histories and roots older than the retention period are dropped.
func (s State) PostBlockUpdate(t time.Time) State {
	t = t.Truncate(time.Second).UTC()
	s.Zswap = s.Zswap.PostBlockUpdate(t, s.Params.RootRetention)
	s.Dust = s.Dust.PostBlockUpdate(t, s.Params.RootRetention)
	s.BlockTime = t

	return s
}
