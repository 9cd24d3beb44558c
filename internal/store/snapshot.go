// snapshot.go - Ledger state snapshots keyed by block height.

package store

import (
	"encoding/binary"
	"sync"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/iotaledger/hive.go/lo"
	"go.uber.org/zap"

	"ledgerengine/internal/ledger"
	"ledgerengine/internal/serialize"
)

// Config selects a backend and the retention of a snapshot store.
type Config struct {
	// Backend is "bolt" or "memory".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	// Retain keeps only that many newest snapshots when positive.
	Retain int `yaml:"retain"`
}

// Open builds the store described by cfg.
func Open(cfg Config, network serialize.NetworkID, log *zap.Logger) (*Store, error) {
	var backend Backend
	switch cfg.Backend {
	case "bolt":
		b, err := OpenBoltBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		backend = b
	case "memory", "":
		b, err := NewKVBackend(mapdb.NewMapDB())
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, ierrors.Wrapf(ErrUnknownBackend, "%q", cfg.Backend)
	}

	return New(backend, network, cfg.Retain, log), nil
}

// Store saves serialized ledger states of one network.
type Store struct {
	backend Backend
	network serialize.NetworkID
	retain  int
	log     *zap.Logger
	mu      sync.Mutex
}

func New(backend Backend, network serialize.NetworkID, retain int, log *zap.Logger) *Store {
	return &Store{backend: backend, network: network, retain: retain, log: log}
}

func heightKey(height uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, height)
}

func heightFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

// Save stores state under height, replacing an existing snapshot.
func (s *Store) Save(height uint64, state ledger.State) error {
	if state.Network != s.network {
		return ierrors.Wrapf(serialize.ErrNetworkMismatch, "store holds %s, state is on %s", s.network, state.Network)
	}
	data, err := serialize.Marshal(s.network, state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Put(heightKey(height), data); err != nil {
		return ierrors.Wrapf(err, "failed to save snapshot %d", height)
	}
	s.log.Debug("saved snapshot", zap.Uint64("height", height), zap.Int("size", len(data)))

	if s.retain > 0 {
		if _, err := s.prune(s.retain); err != nil {
			return err
		}
	}

	return nil
}

// Load returns the snapshot at height.
func (s *Store) Load(height uint64) (ledger.State, error) {
	data, err := s.backend.Get(heightKey(height))
	if err != nil {
		return ledger.State{}, ierrors.Wrapf(err, "height %d", height)
	}

	return serialize.Unmarshal(s.network, ledger.StateTag, data, ledger.ReadState)
}

// Heights returns the stored heights in ascending order.
func (s *Store) Heights() ([]uint64, error) {
	keys, err := s.backend.Keys()
	if err != nil {
		return nil, err
	}

	return lo.Map(keys, heightFromKey), nil
}

// Latest returns the snapshot with the greatest height.
func (s *Store) Latest() (uint64, ledger.State, error) {
	heights, err := s.Heights()
	if err != nil {
		return 0, ledger.State{}, err
	}
	if len(heights) == 0 {
		return 0, ledger.State{}, ErrEmpty
	}
	height := heights[len(heights)-1]
	state, err := s.Load(height)

	return height, state, err
}

// Prune deletes all but the keep newest snapshots and returns how many were deleted.
func (s *Store) Prune(keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.prune(keep)
}

func (s *Store) prune(keep int) (int, error) {
	keys, err := s.backend.Keys()
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(keys) <= keep {
		return 0, nil
	}
	stale := keys[:len(keys)-keep]
	if err := s.backend.Delete(stale...); err != nil {
		return 0, ierrors.Wrap(err, "failed to prune snapshots")
	}
	s.log.Debug("pruned snapshots", zap.Int("count", len(stale)))

	return len(stale), nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}
