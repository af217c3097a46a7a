package store

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Bolt is a durable Store backed by go.etcd.io/bbolt, the concrete
// realization of spec.md's "assumed: a transactional key-value store is
// available" (§4.1). It consumes bbolt's own transactions and page-level
// B+Tree storage rather than reimplementing either, matching the Non-goal
// that excludes on-disk B-tree layout/crash-recovery of the store itself.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) a bbolt database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt %s: %w", path, err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error { return b.db.Close() }

type boltTxn struct{ tx *bolt.Tx }

func (t *boltTxn) bucket(name Bucket, create bool) (*bolt.Bucket, error) {
	if create {
		return t.tx.CreateBucketIfNotExists([]byte(name))
	}
	bk := t.tx.Bucket([]byte(name))
	return bk, nil
}

func (t *boltTxn) Get(bucket Bucket, key []byte) ([]byte, bool, error) {
	bk, err := t.bucket(bucket, false)
	if err != nil {
		return nil, false, err
	}
	if bk == nil {
		return nil, false, nil
	}
	v := bk.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *boltTxn) Put(bucket Bucket, key, value []byte) error {
	bk, err := t.bucket(bucket, true)
	if err != nil {
		return err
	}
	return bk.Put(key, value)
}

func (t *boltTxn) Delete(bucket Bucket, key []byte) error {
	bk, err := t.bucket(bucket, false)
	if err != nil || bk == nil {
		return err
	}
	return bk.Delete(key)
}

func (t *boltTxn) ForEach(bucket Bucket, fn func(key, value []byte) error) error {
	return t.ForEachPrefix(bucket, nil, fn)
}

func (t *boltTxn) ForEachPrefix(bucket Bucket, prefix []byte, fn func(key, value []byte) error) error {
	bk, err := t.bucket(bucket, false)
	if err != nil || bk == nil {
		return err
	}
	c := bk.Cursor()
	var k, v []byte
	if len(prefix) == 0 {
		k, v = c.First()
	} else {
		k, v = c.Seek(prefix)
	}
	for ; k != nil; k, v = c.Next() {
		if len(prefix) > 0 && !hasPrefix(k, prefix) {
			break
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

type boltWriteTxn struct {
	boltTxn
}

func (t *boltWriteTxn) Commit() error   { return t.tx.Commit() }
func (t *boltWriteTxn) Rollback() error { return t.tx.Rollback() }

func (b *Bolt) BeginRead(ctx context.Context) (Txn, error) {
	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &boltTxn{tx: tx}, nil
}

// BeginWrite starts a bbolt read-write transaction. bbolt's Begin takes no
// context, so ctx is not observed: the call blocks until bbolt's own writer
// lock is free.
func (b *Bolt) BeginWrite(ctx context.Context) (WriteTxn, error) {
	tx, err := b.db.Begin(true)
	if err != nil {
		return nil, err
	}
	return &boltWriteTxn{boltTxn{tx: tx}}, nil
}
