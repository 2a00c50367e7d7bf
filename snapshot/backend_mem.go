package snapshot

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

type memEntry struct {
	name  string
	value []byte
}

func lessMemEntry(a, b memEntry) bool {
	return a.name < b.name
}

// memBackend keeps each keyspace in a B-tree. An update works on lazy
// copy-on-write clones of the trees and publishes them only on success, so
// readers never see a partial update.
type memBackend struct {
	mu     sync.RWMutex
	spaces map[keyspace]*btree.BTreeG[memEntry]
	closed bool
}

func newMemBackend() *memBackend {
	b := &memBackend{spaces: make(map[keyspace]*btree.BTreeG[memEntry], len(keyspaces))}
	for _, ks := range keyspaces {
		b.spaces[ks] = btree.NewG(16, lessMemEntry)
	}
	return b
}

func (b *memBackend) View(f func(tx backendTx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	return f(&memTx{spaces: b.spaces})
}

func (b *memBackend) Update(f func(tx backendTx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}
	clones := make(map[keyspace]*btree.BTreeG[memEntry], len(b.spaces))
	for ks, t := range b.spaces {
		clones[ks] = t.Clone()
	}
	if err := f(&memTx{spaces: clones, writable: true}); err != nil {
		return err
	}
	b.spaces = clones
	return nil
}

func (b *memBackend) Size() (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n int64
	for _, t := range b.spaces {
		t.Ascend(func(e memEntry) bool {
			n += int64(len(e.name) + len(e.value))
			return true
		})
	}
	return n, nil
}

func (b *memBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.spaces = nil
	return nil
}

type memTx struct {
	spaces   map[keyspace]*btree.BTreeG[memEntry]
	writable bool
}

func (tx *memTx) Get(ks keyspace, name string) []byte {
	e, found := tx.spaces[ks].Get(memEntry{name: name})
	if !found {
		return nil
	}
	return e.value
}

func (tx *memTx) Put(ks keyspace, name string, value []byte) error {
	if !tx.writable {
		return errReadOnly
	}
	tx.spaces[ks].ReplaceOrInsert(memEntry{name: name, value: bytes.Clone(value)})
	return nil
}

func (tx *memTx) Delete(ks keyspace, name string) error {
	if !tx.writable {
		return errReadOnly
	}
	tx.spaces[ks].Delete(memEntry{name: name})
	return nil
}

func (tx *memTx) Ascend(ks keyspace, from string, f func(name string, value []byte) bool) {
	tx.spaces[ks].AscendGreaterOrEqual(memEntry{name: from}, func(e memEntry) bool {
		return f(e.name, e.value)
	})
}

func (tx *memTx) Len(ks keyspace) int {
	return tx.spaces[ks].Len()
}
