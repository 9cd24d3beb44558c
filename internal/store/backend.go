// backend.go - Byte stores holding snapshots.
//
// BoltBackend keeps snapshots in a bbolt file; KVBackend wraps any hive.go
// KVStore, which with mapdb gives an in-memory store for tests and demos.

package store

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/kvstore"
	"go.etcd.io/bbolt"
)

// Backend is an ordered byte store.
type Backend interface {
	Put(key, value []byte) error
	// Get fails with ErrNotFound for missing keys.
	Get(key []byte) ([]byte, error)
	Delete(keys ...[]byte) error
	// Keys returns all keys in ascending byte order.
	Keys() ([][]byte, error)
	Close() error
}

var bucketSnapshots = []byte("snapshots")

// BoltBackend persists entries in a single bbolt bucket.
type BoltBackend struct {
	db *bbolt.DB
}

var _ Backend = (*BoltBackend)(nil)

// OpenBoltBackend opens or creates the database at path, creating its directory.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, ierrors.Wrap(err, "failed to create store directory")
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, ierrors.Wrapf(err, "failed to open bolt database %s", path)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)

		return err
	}); err != nil {
		_ = db.Close()

		return nil, ierrors.Wrap(err, "failed to create snapshot bucket")
	}

	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Put(key, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(key, value)
	})
}

func (b *BoltBackend) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSnapshots).Get(key)
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction
		out = bytes.Clone(v)

		return nil
	})

	return out, err
}

func (b *BoltBackend) Delete(keys ...[]byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		for _, key := range keys {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}

		return nil
	})
}

func (b *BoltBackend) Keys() ([][]byte, error) {
	var keys [][]byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, bytes.Clone(k))
		}

		return nil
	})

	return keys, err
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// KVBackend stores entries in a realm of a hive.go KVStore.
type KVBackend struct {
	store kvstore.KVStore
}

var _ Backend = (*KVBackend)(nil)

var snapshotRealm = kvstore.Realm("ledger-snapshots")

func NewKVBackend(store kvstore.KVStore) (*KVBackend, error) {
	realm, err := store.WithRealm(snapshotRealm)
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to open snapshot realm")
	}

	return &KVBackend{store: realm}, nil
}

func (b *KVBackend) Put(key, value []byte) error {
	if err := b.store.Set(key, value); err != nil {
		return err
	}

	return b.store.Flush()
}

func (b *KVBackend) Get(key []byte) ([]byte, error) {
	v, err := b.store.Get(key)
	if ierrors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, ErrNotFound
	}

	return v, err
}

func (b *KVBackend) Delete(keys ...[]byte) error {
	batched, err := b.store.Batched()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := batched.Delete(key); err != nil {
			batched.Cancel()

			return err
		}
	}
	if err := batched.Commit(); err != nil {
		return err
	}

	return b.store.Flush()
}

func (b *KVBackend) Keys() ([][]byte, error) {
	var keys [][]byte
	if err := b.store.IterateKeys(kvstore.EmptyPrefix, func(key kvstore.Key) bool {
		keys = append(keys, bytes.Clone(key))

		return true
	}); err != nil {
		return nil, err
	}
	// not every KVStore iterates in key order
	slices.SortFunc(keys, bytes.Compare)

	return keys, nil
}

func (b *KVBackend) Close() error {
	return b.store.Close()
}
