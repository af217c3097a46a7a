package store

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrReadOnly is returned by Put/Delete called on a read-only Txn.
var ErrReadOnly = errors.New("store: transaction is read-only")

// writerMutex is a named wrapper around sync.Mutex enforcing the
// single-writer side of the store's single-writer/many-readers contract.
//
// Named rather than embedded bare so that BeginWrite's blocking-acquire is
// the only call site that can take it: a bare sync.Mutex field invites
// ad hoc locking elsewhere in this file that would silently violate the
// "only one write transaction at a time" invariant. Grounded on the
// teacher's neo4jengine/lock.go graphWRMutex wrapper-mutex idiom, inverted
// here from Neo4j's own locking model to this store's actual
// single-writer/many-readers model.
type writerMutex struct{ mu sync.Mutex }

func (w *writerMutex) Lock(ctx context.Context) error {
	done := make(chan struct{})
	go func() { w.mu.Lock(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		go func() { <-done; w.mu.Unlock() }()
		return ctx.Err()
	}
}

func (w *writerMutex) Unlock() { w.mu.Unlock() }

// Memory is an in-memory Store: one map per Bucket guarded by a
// sync.RWMutex for reads plus a writerMutex serializing writers. This is
// the default backend and what the core's own tests run against.
type Memory struct {
	mu      sync.RWMutex
	writer  writerMutex
	buckets map[Bucket]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{buckets: make(map[Bucket]map[string][]byte)}
}

func (m *Memory) Close() error { return nil }

type memReadTxn struct {
	store *Memory
	snap  map[Bucket]map[string][]byte
}

func (m *Memory) BeginRead(ctx context.Context) (Txn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[Bucket]map[string][]byte, len(m.buckets))
	for b, kv := range m.buckets {
		inner := make(map[string][]byte, len(kv))
		for k, v := range kv {
			inner[k] = append([]byte(nil), v...)
		}
		snap[b] = inner
	}
	return &memReadTxn{store: m, snap: snap}, nil
}

func (t *memReadTxn) Get(bucket Bucket, key []byte) ([]byte, bool, error) {
	kv, ok := t.snap[bucket]
	if !ok {
		return nil, false, nil
	}
	v, ok := kv[string(key)]
	return v, ok, nil
}

func (t *memReadTxn) Put(Bucket, []byte, []byte) error {
	return ErrReadOnly
}

func (t *memReadTxn) Delete(Bucket, []byte) error {
	return ErrReadOnly
}

func (t *memReadTxn) ForEach(bucket Bucket, fn func(key, value []byte) error) error {
	return t.ForEachPrefix(bucket, nil, fn)
}

func (t *memReadTxn) ForEachPrefix(bucket Bucket, prefix []byte, fn func(key, value []byte) error) error {
	kv, ok := t.snap[bucket]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), kv[k]); err != nil {
			return err
		}
	}
	return nil
}

type memWriteTxn struct {
	store     *Memory
	base      map[Bucket]map[string][]byte
	overlay   map[Bucket]map[string][]byte
	tombstone map[Bucket]map[string]struct{}
	done      bool
}

func (m *Memory) BeginWrite(ctx context.Context) (WriteTxn, error) {
	if err := m.writer.Lock(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	base := m.buckets
	m.mu.RUnlock()
	return &memWriteTxn{
		store:     m,
		base:      base,
		overlay:   make(map[Bucket]map[string][]byte),
		tombstone: make(map[Bucket]map[string]struct{}),
	}, nil
}

func (t *memWriteTxn) Get(bucket Bucket, key []byte) ([]byte, bool, error) {
	k := string(key)
	if tomb, ok := t.tombstone[bucket]; ok {
		if _, deleted := tomb[k]; deleted {
			return nil, false, nil
		}
	}
	if ov, ok := t.overlay[bucket]; ok {
		if v, ok := ov[k]; ok {
			return v, true, nil
		}
	}
	if kv, ok := t.base[bucket]; ok {
		v, ok := kv[k]
		return v, ok, nil
	}
	return nil, false, nil
}

func (t *memWriteTxn) Put(bucket Bucket, key, value []byte) error {
	if t.overlay[bucket] == nil {
		t.overlay[bucket] = make(map[string][]byte)
	}
	t.overlay[bucket][string(key)] = append([]byte(nil), value...)
	if tomb, ok := t.tombstone[bucket]; ok {
		delete(tomb, string(key))
	}
	return nil
}

func (t *memWriteTxn) Delete(bucket Bucket, key []byte) error {
	if t.tombstone[bucket] == nil {
		t.tombstone[bucket] = make(map[string]struct{})
	}
	t.tombstone[bucket][string(key)] = struct{}{}
	if ov, ok := t.overlay[bucket]; ok {
		delete(ov, string(key))
	}
	return nil
}

func (t *memWriteTxn) ForEach(bucket Bucket, fn func(key, value []byte) error) error {
	return t.ForEachPrefix(bucket, nil, fn)
}

func (t *memWriteTxn) ForEachPrefix(bucket Bucket, prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	for k, v := range t.base[bucket] {
		merged[k] = v
	}
	for k, v := range t.overlay[bucket] {
		merged[k] = v
	}
	for k := range t.tombstone[bucket] {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

func (t *memWriteTxn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.writer.Unlock()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	next := make(map[Bucket]map[string][]byte, len(t.store.buckets))
	for b, kv := range t.store.buckets {
		inner := make(map[string][]byte, len(kv))
		for k, v := range kv {
			inner[k] = v
		}
		next[b] = inner
	}
	for b, ov := range t.overlay {
		if next[b] == nil {
			next[b] = make(map[string][]byte)
		}
		for k, v := range ov {
			next[b][k] = v
		}
	}
	for b, tomb := range t.tombstone {
		if next[b] == nil {
			continue
		}
		for k := range tomb {
			delete(next[b], k)
		}
	}
	t.store.buckets = next
	return nil
}

func (t *memWriteTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.writer.Unlock()
	return nil
}
