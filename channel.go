package graft

import (
	"context"
	"encoding/binary"
	"encoding/gob"

	"github.com/graftvcs/graft/store"
)

// Channel is a named view over a shared Pristine: its own changeset/
// revchangeset log, tags set, Merkle accumulator, and graph edges. Fork
// copies a channel's graph edges to the new channel, after which each
// channel's edges change independently (spec.md §3 "Channels").
type Channel struct {
	Pristine *Pristine
	Name     string
}

// OpenChannel returns a handle to channel on p. Channels need no separate
// creation step: their tables come into existence on first write.
func (p *Pristine) OpenChannel(name string) *Channel {
	return &Channel{Pristine: p, Name: name}
}

type revEntry struct {
	Change ChangeId
	Merkle Merkle
}

// NextOrdinal returns the next monotonic log position for the channel and
// the channel's current Merkle state.
func (c *Channel) NextOrdinal(txn store.Txn) (uint64, Merkle, error) {
	raw, ok, err := txn.Get(tableRevchangeset, channelKey(c.Name, []byte("head")))
	if err != nil {
		return 0, Merkle{}, err
	}
	if !ok {
		return 0, Merkle{}, nil
	}
	ord := binary.BigEndian.Uint64(raw[:8])
	var e revEntry
	if err := gobDecode(raw[8:], &e); err != nil {
		return 0, Merkle{}, err
	}
	return ord + 1, e.Merkle, nil
}

// RecordApplied appends change to the channel's log at the next ordinal,
// folding hash into the Merkle accumulator, and records the new head.
func (c *Channel) RecordApplied(txn store.WriteTxn, id ChangeId, hash Hash) (uint64, Merkle, error) {
	ord, merkle, err := c.NextOrdinal(txn)
	if err != nil {
		return 0, Merkle{}, err
	}
	merkle = merkle.Fold(hash)

	e := revEntry{Change: id, Merkle: merkle}
	val := append(ordinalBytes(ord), gobEncode(e)...)
	if err := txn.Put(tableRevchangeset, channelKey(c.Name, []byte("head")), val); err != nil {
		return 0, Merkle{}, err
	}
	if err := txn.Put(tableRevchangeset, channelKey(c.Name, ordinalKey(ord)), gobEncode(e)); err != nil {
		return 0, Merkle{}, err
	}
	if err := txn.Put(tableChangeset, channelKey(c.Name, changeIdKey(id)), ordinalKey(ord)); err != nil {
		return 0, Merkle{}, err
	}
	return ord, merkle, nil
}

func ordinalBytes(ord uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ord)
	return b
}

// RemoveApplied removes id's log entry, used by Unrecord. It deletes id's
// changeset mapping and its revchangeset slot and unfolds id's hash from the
// head's Merkle state. It does not renumber surviving ordinals and leaves
// the head's ordinal where it was (unrecord is expected to only ever remove
// the most recent entry not depended upon, per spec.md §4.7's precondition).
func (c *Channel) RemoveApplied(txn store.WriteTxn, id ChangeId) error {
	raw, ok, err := txn.Get(tableChangeset, channelKey(c.Name, changeIdKey(id)))
	if err != nil || !ok {
		return err
	}
	ord := binary.BigEndian.Uint64(raw)
	hash, _, err := c.Pristine.HashOf(txn, id)
	if err != nil {
		return err
	}
	next, merkle, err := c.NextOrdinal(txn)
	if err != nil {
		return err
	}
	// Fold is an XOR, so folding id's hash a second time unfolds it.
	head := append(ordinalBytes(next-1), gobEncode(revEntry{Merkle: merkle.Fold(hash)})...)
	if err := txn.Put(tableRevchangeset, channelKey(c.Name, []byte("head")), head); err != nil {
		return err
	}
	if err := txn.Delete(tableChangeset, channelKey(c.Name, changeIdKey(id))); err != nil {
		return err
	}
	return txn.Delete(tableRevchangeset, channelKey(c.Name, ordinalKey(ord)))
}

// Ordinal reports whether id has been applied to the channel and, if so,
// its log position.
func (c *Channel) Ordinal(txn store.Txn, id ChangeId) (uint64, bool, error) {
	raw, ok, err := txn.Get(tableChangeset, channelKey(c.Name, changeIdKey(id)))
	if err != nil || !ok {
		return 0, ok, err
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// Applied lists the ChangeIds applied to the channel in ascending ChangeId
// order (the changeset table's key order), which need not be log order.
func (c *Channel) Applied(txn store.Txn) ([]ChangeId, error) {
	var ids []ChangeId
	prefix := channelKey(c.Name, nil)
	err := txn.ForEachPrefix(tableChangeset, prefix, func(k, v []byte) error {
		rest := k[len(prefix):]
		if string(rest) == "" {
			return nil
		}
		var id ChangeId
		if len(rest) == 8 {
			id = ChangeId(binary.BigEndian.Uint64(rest))
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

// Merkle returns the channel's current accumulator state.
func (c *Channel) Merkle(txn store.Txn) (Merkle, error) {
	_, m, err := c.NextOrdinal(txn)
	return m, err
}

// Fork creates a new, independent Channel named newName. It replays c's
// applied changes into the new channel's changeset/revchangeset log, so the
// new log and Merkle start equal to c's, and copies c's graph edges under
// the new channel's name. Tags are not copied. The tree and inode tables are
// not channel-scoped, so both channels read and write the same entries
// there.
func (c *Channel) Fork(txn store.WriteTxn, newName string) (*Channel, error) {
	dst := &Channel{Pristine: c.Pristine, Name: newName}
	ids, err := c.Applied(txn)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		hash, ok, err := c.Pristine.HashOf(txn, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, _, err := dst.RecordApplied(txn, id, hash); err != nil {
			return nil, err
		}
	}
	// Graph edges are stored under channel-namespaced keys (see vertexKey
	// usage in pristine.go); forking copies them forward explicitly since
	// this Store interface has no native copy-on-write page sharing (that
	// is bbolt/Memory's own internal concern, out of scope here).
	prefix := channelKey(c.Name, []byte("graph:"))
	var keys, vals [][]byte
	if err := txn.ForEachPrefix(tableGraph, prefix, func(k, v []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		vals = append(vals, append([]byte(nil), v...))
		return nil
	}); err != nil {
		return nil, err
	}
	for i, k := range keys {
		rest := k[len(prefix):]
		dstKey := append(channelKey(dst.Name, []byte("graph:")), rest...)
		if err := txn.Put(tableGraph, dstKey, vals[i]); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// ReconcileChannels merges b's applied-but-not-in-a log into a by applying
// each missing ChangeId's stored change in ascending ChangeId order, and
// vice versa, bringing both channels to the symmetric union of their logs
// (spec.md §3: "rejoined by applying the symmetric difference of their
// logs"). The caller supplies an ApplyContext whose ChangeFetcher loads each
// full Change body, since applying needs more than a ChangeId.
func ReconcileChannels(ctx ApplyContext, a, b *Channel) error {
	return reconcile(ctx, a, b)
}

// ApplyContext bundles what ReconcileChannels needs besides the channels: a
// way to fetch a Change body by Hash.
type ApplyContext struct {
	Store ChangeFetcher
}

// ChangeFetcher loads a full Change by Hash, used when reconciling channels
// or replaying dependencies.
type ChangeFetcher interface {
	Get(hash Hash) (*Change, error)
}

func reconcile(actx ApplyContext, a, b *Channel) error {
	missingIn := func(dst, src *Channel) ([]Hash, error) {
		var out []Hash
		err := dst.Pristine.withRead(context.Background(), func(txn store.Txn) error {
			srcIds, err := src.Applied(txn)
			if err != nil {
				return err
			}
			for _, id := range srcIds {
				if _, ok, err := dst.Ordinal(txn, id); err != nil {
					return err
				} else if !ok {
					h, ok, err := src.Pristine.HashOf(txn, id)
					if err != nil || !ok {
						continue
					}
					out = append(out, h)
				}
			}
			return nil
		})
		return out, err
	}

	toB, err := missingIn(b, a)
	if err != nil {
		return err
	}
	toA, err := missingIn(a, b)
	if err != nil {
		return err
	}
	for _, h := range toB {
		ch, err := actx.Store.Get(h)
		if err != nil {
			return err
		}
		if _, err := Apply(b, ch); err != nil {
			return err
		}
	}
	for _, h := range toA {
		ch, err := actx.Store.Get(h)
		if err != nil {
			return err
		}
		if _, err := Apply(a, ch); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	gob.Register(revEntry{})
	gob.Register(treeEntry{})
}
