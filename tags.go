package graft

import "github.com/graftvcs/graft/store"

// Tag records the channel's current Merkle state under name, a named
// snapshot that HasTag reads back; Apply and ReconcileChannels do not
// consult tags (§9 supplemented feature, ported from
// original_source/pijul/src/commands/tag.rs).
func (c *Channel) Tag(txn store.WriteTxn, name string) error {
	_, merkle, err := c.NextOrdinal(txn)
	if err != nil {
		return err
	}
	return txn.Put(tableTags, channelKey(c.Name, []byte(name)), gobEncode(merkle))
}

// HasTag reports whether name was tagged on this channel and, if so, the
// Merkle state it captured.
func (c *Channel) HasTag(txn store.Txn, name string) (Merkle, bool, error) {
	raw, ok, err := txn.Get(tableTags, channelKey(c.Name, []byte(name)))
	if err != nil || !ok {
		return Merkle{}, ok, err
	}
	var m Merkle
	return m, true, gobDecode(raw, &m)
}
