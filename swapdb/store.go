package swapdb

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	// dbFileName is the file name of the swap index database inside the
	// index directory.
	dbFileName = "swapindex.db"

	// indexBucketKey is the single bucket that holds every index key.
	// The keys themselves carry the family prefix (see keys.go), so one
	// flat bucket keeps the whole index in a single ordered keyspace.
	indexBucketKey = []byte("swap-index")

	// ErrStopIteration is returned from an iteration callback to stop
	// the iteration early without surfacing an error to the caller.
	ErrStopIteration = errors.New("stop iteration")
)

// ReadTx is a consistent snapshot of the store. Reads within one ReadTx do
// not observe concurrent writes.
type ReadTx interface {
	// Get returns the value stored under key, or nil if there is none.
	// The returned slice is only valid for the duration of the
	// transaction.
	Get(key []byte) []byte

	// ForEachFrom calls fn for every key/value pair in ascending key
	// order, starting with the first key >= seek. Iteration ends when fn
	// returns ErrStopIteration (not an error), when fn returns any other
	// error (surfaced to the caller), or when the keys run out.
	ForEachFrom(seek []byte, fn func(key, value []byte) error) error
}

// WriteTx is a writable store transaction. Mutations are staged and only
// become visible when the enclosing Update commits; a failed Update leaves
// the store untouched.
type WriteTx interface {
	ReadTx

	// Put stores value under key, overwriting any previous value.
	Put(key, value []byte) error

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key []byte) error
}

// Store is the ordered key-value store backing the swap index. The swap
// index requires atomic batches, prefix iteration and snapshot reads; both
// the bolt-backed store and the in-memory store used in tests satisfy it.
type Store interface {
	// View runs fn against a read snapshot.
	View(fn func(tx ReadTx) error) error

	// Update runs fn against a writable transaction and atomically
	// commits its mutations when fn returns nil.
	Update(fn func(tx WriteTx) error) error

	// Close releases the store.
	Close() error
}

// fileExists returns false if the file is known not to exist, and true
// otherwise, including when Stat fails for another reason.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// boltStore implements Store on top of a bbolt database.
type boltStore struct {
	db *bbolt.DB
}

// A compile-time check that boltStore implements the Store interface.
var _ Store = (*boltStore)(nil)

// NewBoltStore opens (creating if necessary) the swap index database in the
// given directory.
func NewBoltStore(dbDir string) (*boltStore, error) {
	// If the target path for the index doesn't exist, then we'll create
	// it now before we proceed.
	if !fileExists(dbDir) {
		if err := os.MkdirAll(dbDir, 0700); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(dbDir, dbFileName)
	bdb, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucketKey)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &boltStore{db: bdb}, nil
}

// View runs fn against a read snapshot.
//
// NOTE: Part of the Store interface.
func (s *boltStore) View(fn func(tx ReadTx) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketKey)
		if bucket == nil {
			return errors.New("index bucket does not exist")
		}
		return fn(&boltTx{bucket: bucket})
	})
}

// Update runs fn against a writable transaction.
//
// NOTE: Part of the Store interface.
func (s *boltStore) Update(fn func(tx WriteTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketKey)
		if bucket == nil {
			return errors.New("index bucket does not exist")
		}
		return fn(&boltTx{bucket: bucket})
	})
}

// Close releases the store.
//
// NOTE: Part of the Store interface.
func (s *boltStore) Close() error {
	return s.db.Close()
}

// boltTx adapts a bbolt bucket to the ReadTx/WriteTx interfaces.
type boltTx struct {
	bucket *bbolt.Bucket
}

func (t *boltTx) Get(key []byte) []byte {
	return t.bucket.Get(key)
}

func (t *boltTx) ForEachFrom(seek []byte,
	fn func(key, value []byte) error) error {

	cursor := t.bucket.Cursor()
	for k, v := cursor.Seek(seek); k != nil; k, v = cursor.Next() {
		if err := fn(k, v); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t *boltTx) Put(key, value []byte) error {
	// Copy both slices, bolt requires them to remain valid for the life
	// of the transaction while callers tend to reuse buffers.
	return t.bucket.Put(
		bytes.Clone(key), bytes.Clone(value),
	)
}

func (t *boltTx) Delete(key []byte) error {
	return t.bucket.Delete(key)
}
