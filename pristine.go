package graft

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"sort"

	"github.com/graftvcs/graft/store"
)

// Table names the logical tables of spec.md §4.1, each backed by one
// store.Bucket. Per-channel tables are namespaced by channel name so one
// underlying store.Store can host many channels (Channel.Fork copies a
// channel's graph edges under the new channel's name).
const (
	tableGraph        store.Bucket = "graph"
	tableChangeset     store.Bucket = "changeset"
	tableRevchangeset  store.Bucket = "revchangeset"
	tableTags          store.Bucket = "tags"
	tableExternal      store.Bucket = "external" // Hash -> ChangeId
	tableInternal      store.Bucket = "internal" // ChangeId -> Hash
	tableDep           store.Bucket = "dep"       // ChangeId -> []ChangeId it depends on
	tableRevdep        store.Bucket = "revdep"    // ChangeId -> []ChangeId depending on it
	tableTouchedFiles  store.Bucket = "touched_files"
	tableRevTouched    store.Bucket = "rev_touched_files"
	tableTree          store.Bucket = "tree"    // (parent inode, basename) -> inode
	tableRevtree       store.Bucket = "revtree" // inode -> (parent inode, basename)
	tableInodes        store.Bucket = "inodes"  // Inode -> Position
	tableRevinodes     store.Bucket = "revinodes"
	tableNextChangeId  store.Bucket = "next_change_id"
	tableNextInode     store.Bucket = "next_inode"
)

// Pristine is the transactional facade over one repository's graph, inode
// tree, per-channel logs, tags, and dependency closure (spec.md §4.1). All
// mutating operations for one apply/unrecord/record are grouped into a
// single store.WriteTxn; readers obtain a store.Txn snapshot.
type Pristine struct {
	Store store.Store
}

// Open wraps an already-constructed store.Store as a Pristine.
func Open(s store.Store) *Pristine { return &Pristine{Store: s} }

// --- channel-scoped key encoding ---

func channelKey(channel string, rest []byte) []byte {
	b := make([]byte, 0, len(channel)+1+len(rest))
	b = append(b, []byte(channel)...)
	b = append(b, 0)
	b = append(b, rest...)
	return b
}

func vertexKey(v Vertex) []byte {
	b := make([]byte, 24)
	binary.BigEndian.PutUint64(b[0:8], uint64(v.Change))
	binary.BigEndian.PutUint64(b[8:16], uint64(v.Start))
	binary.BigEndian.PutUint64(b[16:24], uint64(v.End))
	return b
}

func changeIdKey(c ChangeId) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(c))
	return b
}

func ordinalKey(ord uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ord)
	return b
}

func inodeKey(i Inode) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(i))
	return b
}

// --- gob-encoded value helpers ---

func gobEncode(v any) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic("graft: gob encode: " + err.Error())
	}
	return buf.Bytes()
}

func gobDecode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// --- graph table ---

// EdgesOf returns the edges stored (in both orientations) incident to v.
func (p *Pristine) EdgesOf(txn store.Txn, channel string, v Vertex) ([]Edge, error) {
	key := channelKey(channel, append([]byte("graph:"), vertexKey(v)...))
	raw, ok, err := txn.Get(tableGraph, key)
	if err != nil || !ok {
		return nil, err
	}
	var edges []Edge
	if err := gobDecode(raw, &edges); err != nil {
		return nil, wrap(Integrity, "EdgesOf", err)
	}
	return edges, nil
}

func (p *Pristine) putEdges(txn store.WriteTxn, channel string, v Vertex, edges []Edge) error {
	key := channelKey(channel, append([]byte("graph:"), vertexKey(v)...))
	if len(edges) == 0 {
		return txn.Delete(tableGraph, key)
	}
	return txn.Put(tableGraph, key, gobEncode(edges))
}

// PutEdge inserts (or, if an edge with the same key already exists,
// updates) the edge from u to v, storing both orientations (spec.md §3:
// "every inserted edge is stored twice"). It returns the previous flags of
// the matching edge, if any, for Atom.previous bookkeeping.
func (p *Pristine) PutEdge(txn store.WriteTxn, channel string, u, v Vertex, e Edge) (previous EdgeFlags, hadPrevious bool, err error) {
	fwd, err := p.EdgesOf(txn, channel, u)
	if err != nil {
		return 0, false, err
	}
	fwd, previous, hadPrevious = upsertEdge(fwd, e)
	if err := p.putEdges(txn, channel, u, fwd); err != nil {
		return previous, hadPrevious, err
	}

	rev, err := p.EdgesOf(txn, channel, v)
	if err != nil {
		return previous, hadPrevious, err
	}
	rev, _, _ = upsertEdge(rev, e.flipped(u))
	if err := p.putEdges(txn, channel, v, rev); err != nil {
		return previous, hadPrevious, err
	}
	return previous, hadPrevious, nil
}

func upsertEdge(edges []Edge, e Edge) (updated []Edge, previous EdgeFlags, had bool) {
	k := e.key()
	for i, existing := range edges {
		if existing.key() == k {
			previous = existing.Flags
			edges[i] = e
			return edges, previous, true
		}
	}
	return append(edges, e), 0, false
}

// DeleteEdge removes the matching stored edge (both orientations),
// returning whether one was found.
func (p *Pristine) DeleteEdge(txn store.WriteTxn, channel string, u, v Vertex, flags EdgeFlags, intro ChangeId) (bool, error) {
	fwd, err := p.EdgesOf(txn, channel, u)
	if err != nil {
		return false, err
	}
	fwd, removed := removeEdge(fwd, v, flags, intro)
	if err := p.putEdges(txn, channel, u, fwd); err != nil {
		return false, err
	}
	rev, err := p.EdgesOf(txn, channel, v)
	if err != nil {
		return removed, err
	}
	rev, _ = removeEdge(rev, u, flags, intro)
	if err := p.putEdges(txn, channel, v, rev); err != nil {
		return removed, err
	}
	return removed, nil
}

func removeEdge(edges []Edge, target Vertex, flags EdgeFlags, intro ChangeId) ([]Edge, bool) {
	want := edgeKey{target: target, flags: flags.WithoutParent(), intro: intro}
	out := edges[:0]
	removed := false
	for _, e := range edges {
		if e.key() == want && e.Target == target {
			removed = true
			continue
		}
		out = append(out, e)
	}
	return out, removed
}

// --- external/internal hash<->changeid bijection ---

// InternChange assigns (or returns the existing) ChangeId for hash.
func (p *Pristine) InternChange(txn store.WriteTxn, hash Hash) (ChangeId, error) {
	key := []byte(hash.String())
	if raw, ok, err := txn.Get(tableExternal, key); err != nil {
		return 0, err
	} else if ok {
		return ChangeId(binary.BigEndian.Uint64(raw)), nil
	}
	raw, _, err := txn.Get(tableNextChangeId, []byte("next"))
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if raw != nil {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	id := ChangeId(next)
	if err := txn.Put(tableNextChangeId, []byte("next"), changeIdKey(id)); err != nil {
		return 0, err
	}
	if err := txn.Put(tableExternal, key, changeIdKey(id)); err != nil {
		return 0, err
	}
	if err := txn.Put(tableInternal, changeIdKey(id), []byte(hash.String())); err != nil {
		return 0, err
	}
	return id, nil
}

func (p *Pristine) HashOf(txn store.Txn, id ChangeId) (Hash, bool, error) {
	raw, ok, err := txn.Get(tableInternal, changeIdKey(id))
	if err != nil || !ok {
		return Hash{}, ok, err
	}
	h, err := ParseHash(string(raw))
	return h, true, err
}

func (p *Pristine) ChangeIdOf(txn store.Txn, hash Hash) (ChangeId, bool, error) {
	raw, ok, err := txn.Get(tableExternal, []byte(hash.String()))
	if err != nil || !ok {
		return 0, ok, err
	}
	return ChangeId(binary.BigEndian.Uint64(raw)), true, nil
}

// --- dependency closure ---

func (p *Pristine) AddDependency(txn store.WriteTxn, c, dep ChangeId) error {
	deps, err := p.Dependencies(txn, c)
	if err != nil {
		return err
	}
	for _, d := range deps {
		if d == dep {
			return nil
		}
	}
	deps = append(deps, dep)
	if err := txn.Put(tableDep, changeIdKey(c), gobEncode(deps)); err != nil {
		return err
	}
	revdeps, err := p.dependents(txn, dep)
	if err != nil {
		return err
	}
	revdeps = append(revdeps, c)
	return txn.Put(tableRevdep, changeIdKey(dep), gobEncode(revdeps))
}

func (p *Pristine) Dependencies(txn store.Txn, c ChangeId) ([]ChangeId, error) {
	raw, ok, err := txn.Get(tableDep, changeIdKey(c))
	if err != nil || !ok {
		return nil, err
	}
	var deps []ChangeId
	return deps, gobDecode(raw, &deps)
}

func (p *Pristine) dependents(txn store.Txn, c ChangeId) ([]ChangeId, error) {
	raw, ok, err := txn.Get(tableRevdep, changeIdKey(c))
	if err != nil || !ok {
		return nil, err
	}
	var deps []ChangeId
	return deps, gobDecode(raw, &deps)
}

// Dependents returns the ChangeIds of changes that depend on c, used by
// Unrecord's precondition check (spec.md §4.7).
func (p *Pristine) Dependents(txn store.Txn, c ChangeId) ([]ChangeId, error) {
	return p.dependents(txn, c)
}

// --- touched files ---

func (p *Pristine) TouchFile(txn store.WriteTxn, c ChangeId, inode Inode) error {
	files, err := p.TouchedFiles(txn, c)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f == inode {
			return nil
		}
	}
	files = append(files, inode)
	if err := txn.Put(tableTouchedFiles, changeIdKey(c), gobEncode(files)); err != nil {
		return err
	}
	rev, err := p.revTouched(txn, inode)
	if err != nil {
		return err
	}
	rev = append(rev, c)
	return txn.Put(tableRevTouched, inodeKey(inode), gobEncode(rev))
}

func (p *Pristine) TouchedFiles(txn store.Txn, c ChangeId) ([]Inode, error) {
	raw, ok, err := txn.Get(tableTouchedFiles, changeIdKey(c))
	if err != nil || !ok {
		return nil, err
	}
	var files []Inode
	return files, gobDecode(raw, &files)
}

func (p *Pristine) revTouched(txn store.Txn, inode Inode) ([]ChangeId, error) {
	raw, ok, err := txn.Get(tableRevTouched, inodeKey(inode))
	if err != nil || !ok {
		return nil, err
	}
	var ids []ChangeId
	return ids, gobDecode(raw, &ids)
}

// --- inode tree ---

func treeKey(parent Inode, basename string) []byte {
	b := inodeKey(parent)
	return append(b, []byte(":"+basename)...)
}

func (p *Pristine) SetTreeEntry(txn store.WriteTxn, parent Inode, basename string, child Inode) error {
	if err := txn.Put(tableTree, treeKey(parent, basename), inodeKey(child)); err != nil {
		return err
	}
	return txn.Put(tableRevtree, inodeKey(child), gobEncode(treeEntry{Parent: parent, Basename: basename}))
}

type treeEntry struct {
	Parent   Inode
	Basename string
}

func (p *Pristine) TreeEntry(txn store.Txn, parent Inode, basename string) (Inode, bool, error) {
	raw, ok, err := txn.Get(tableTree, treeKey(parent, basename))
	if err != nil || !ok {
		return 0, ok, err
	}
	return Inode(binary.BigEndian.Uint64(raw)), true, nil
}

func (p *Pristine) RevTreeEntry(txn store.Txn, child Inode) (parent Inode, basename string, ok bool, err error) {
	raw, ok, err := txn.Get(tableRevtree, inodeKey(child))
	if err != nil || !ok {
		return 0, "", ok, err
	}
	var e treeEntry
	if err := gobDecode(raw, &e); err != nil {
		return 0, "", false, err
	}
	return e.Parent, e.Basename, true, nil
}

func (p *Pristine) RemoveTreeEntry(txn store.WriteTxn, parent Inode, basename string, child Inode) error {
	if err := txn.Delete(tableTree, treeKey(parent, basename)); err != nil {
		return err
	}
	return txn.Delete(tableRevtree, inodeKey(child))
}

// --- inode <-> position ---

func (p *Pristine) NewInode(txn store.WriteTxn) (Inode, error) {
	raw, _, err := txn.Get(tableNextInode, []byte("next"))
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if raw != nil {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	id := Inode(next)
	return id, txn.Put(tableNextInode, []byte("next"), inodeKey(id))
}

func (p *Pristine) SetInodePosition(txn store.WriteTxn, inode Inode, pos Position) error {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(pos.Change))
	binary.BigEndian.PutUint64(b[8:16], uint64(pos.Pos))
	if err := txn.Put(tableInodes, inodeKey(inode), b); err != nil {
		return err
	}
	return txn.Put(tableRevinodes, b, inodeKey(inode))
}

func (p *Pristine) InodePosition(txn store.Txn, inode Inode) (Position, bool, error) {
	raw, ok, err := txn.Get(tableInodes, inodeKey(inode))
	if err != nil || !ok {
		return Position{}, ok, err
	}
	return Position{
		Change: ChangeId(binary.BigEndian.Uint64(raw[0:8])),
		Pos:    ChangePosition(binary.BigEndian.Uint64(raw[8:16])),
	}, true, nil
}

// forEachInodePosition calls fn with the marker Vertex of every inode
// recorded in the pristine, in inode order.
func (p *Pristine) forEachInodePosition(txn store.Txn, fn func(Vertex) error) error {
	return txn.ForEach(tableInodes, func(_ []byte, raw []byte) error {
		pos := Position{
			Change: ChangeId(binary.BigEndian.Uint64(raw[0:8])),
			Pos:    ChangePosition(binary.BigEndian.Uint64(raw[8:16])),
		}
		return fn(Vertex{Change: pos.Change, Start: pos.Pos, End: pos.Pos})
	})
}

func (p *Pristine) PositionInode(txn store.Txn, pos Position) (Inode, bool, error) {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(pos.Change))
	binary.BigEndian.PutUint64(b[8:16], uint64(pos.Pos))
	raw, ok, err := txn.Get(tableRevinodes, b)
	if err != nil || !ok {
		return 0, ok, err
	}
	return Inode(binary.BigEndian.Uint64(raw)), true, nil
}

// --- context helper so transactional methods can be called without an
// explicit ctx argument threaded through every call; kept unexported since
// only this file's helpers construct transactions. ---

func (p *Pristine) withWrite(ctx context.Context, fn func(store.WriteTxn) error) error {
	txn, err := p.Store.BeginWrite(ctx)
	if err != nil {
		return wrap(Storage, "withWrite", err)
	}
	if err := fn(txn); err != nil {
		_ = txn.Rollback()
		return err
	}
	return wrap(Storage, "commit", txn.Commit())
}

func (p *Pristine) withRead(ctx context.Context, fn func(store.Txn) error) error {
	txn, err := p.Store.BeginRead(ctx)
	if err != nil {
		return wrap(Storage, "withRead", err)
	}
	return fn(txn)
}

// sortedChangeIds returns a copy of ids sorted ascending. Nothing in the
// package calls it.
func sortedChangeIds(ids []ChangeId) []ChangeId {
	out := append([]ChangeId(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
