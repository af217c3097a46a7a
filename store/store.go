// Package store defines the transactional key-value interface the Pristine
// facade is built on (spec.md §4.1's "assumed: a transactional key-value
// store is available"), and two concrete implementations: an in-memory one
// used by default and in tests, and a durable one backed by bbolt.
package store

import "context"

// Bucket names the logical tables the Pristine facade stores into one
// Store. A Store implementation need not use these as literal namespaces
// (bbolt maps them onto top-level buckets; Memory onto top-level maps) but
// must keep keys from different Buckets from colliding.
type Bucket string

// Txn is a single transaction over a Store. Reads see a consistent
// snapshot; within a write Txn, Put/Delete take effect immediately for
// subsequent reads in the same Txn and are visible to other transactions
// only after Commit.
type Txn interface {
	Get(bucket Bucket, key []byte) (value []byte, ok bool, err error)
	Put(bucket Bucket, key, value []byte) error
	Delete(bucket Bucket, key []byte) error
	// ForEach iterates bucket in key order, calling fn for each pair. fn
	// returning a non-nil error stops iteration and ForEach returns it.
	ForEach(bucket Bucket, fn func(key, value []byte) error) error
	// ForEachPrefix iterates only keys with the given prefix, in order.
	ForEachPrefix(bucket Bucket, prefix []byte, fn func(key, value []byte) error) error
}

// WriteTxn is a Txn obtained for mutation; Commit or Rollback must be
// called exactly once.
type WriteTxn interface {
	Txn
	Commit() error
	Rollback() error
}

// Store is a transactional key-value store. Only one write transaction may
// be live at a time; any number of read transactions may be live
// concurrently with it (spec.md §5: single-writer, many-readers).
type Store interface {
	// BeginRead returns a read-only snapshot transaction.
	BeginRead(ctx context.Context) (Txn, error)
	// BeginWrite acquires the single writer slot and returns a mutable
	// transaction. It blocks (respecting ctx) until no other writer holds
	// the slot.
	BeginWrite(ctx context.Context) (WriteTxn, error)
	Close() error
}
