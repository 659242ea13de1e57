package swapdb

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

// ErrStoreClosed is returned by store operations after Close.
var ErrStoreClosed = errors.New("store closed")

// memStore implements Store on an in-memory map whose keys are sorted on
// every iteration. It exists so tests
// (and the memory-backed index configuration) can exercise the exact store
// contract without touching disk.
type memStore struct {
	mtx    sync.RWMutex
	items  map[string][]byte
	closed bool
}

// A compile-time check that memStore implements the Store interface.
var _ Store = (*memStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *memStore {
	return &memStore{
		items: make(map[string][]byte),
	}
}

// View runs fn against a read snapshot. Writers are excluded for the
// duration of fn, so the snapshot is trivially consistent.
//
// NOTE: Part of the Store interface.
func (s *memStore) View(fn func(tx ReadTx) error) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return fn(&memTx{store: s})
}

// Update runs fn against a writable transaction. Mutations are staged in an
// overlay and applied only when fn returns nil.
//
// NOTE: Part of the Store interface.
func (s *memStore) Update(fn func(tx WriteTx) error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx := &memTx{
		store:   s,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for key := range tx.deleted {
		delete(s.items, key)
	}
	for key, value := range tx.pending {
		s.items[key] = value
	}
	return nil
}

// Close releases the store.
//
// NOTE: Part of the Store interface.
func (s *memStore) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.closed = true
	s.items = nil
	return nil
}

// memTx is a transaction over a memStore. For read transactions pending and
// deleted are nil and the transaction reads through to the store.
type memTx struct {
	store   *memStore
	pending map[string][]byte
	deleted map[string]struct{}
}

func (t *memTx) Get(key []byte) []byte {
	if t.pending != nil {
		if value, ok := t.pending[string(key)]; ok {
			return value
		}
		if _, ok := t.deleted[string(key)]; ok {
			return nil
		}
	}
	return t.store.items[string(key)]
}

func (t *memTx) ForEachFrom(seek []byte,
	fn func(key, value []byte) error) error {

	keys := make([]string, 0, len(t.store.items)+len(t.pending))
	for key := range t.store.items {
		if t.pending != nil {
			if _, ok := t.deleted[key]; ok {
				continue
			}
			if _, ok := t.pending[key]; ok {
				continue
			}
		}
		keys = append(keys, key)
	}
	for key := range t.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if bytes.Compare([]byte(key), seek) < 0 {
			continue
		}
		if err := fn([]byte(key), t.Get([]byte(key))); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t *memTx) Put(key, value []byte) error {
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	t.pending[string(key)] = valueCopy
	delete(t.deleted, string(key))
	return nil
}

func (t *memTx) Delete(key []byte) error {
	t.deleted[string(key)] = struct{}{}
	delete(t.pending, string(key))
	return nil
}
