package graft

import (
	"context"
	"encoding/gob"
)

// Hunk is the user-facing grouping of atoms: file add/del/move, edit,
// replacement, or conflict-resolution marker (spec.md §4.6). Hunk is a
// tagged sum, not an inheritance hierarchy (spec.md §9): each variant is a
// distinct Go type implementing this interface, registered with
// gob.Register so a Change's hashed_changes can cross a changestore
// boundary, mirroring the teacher's compilation.Step pattern.
type Hunk interface {
	// apply materializes this hunk's atoms into the pristine via w,
	// addressing any vertex this hunk introduces under id (the ChangeId
	// the enclosing Change was just assigned).
	apply(ctx context.Context, w *writer, id ChangeId) error
	// invert returns the deterministic inverse of this hunk, constructible
	// without consulting the pristine (spec.md §4.6), used by Unrecord.
	invert() Hunk
	// targets lists the Positions this hunk references, used for
	// dependency computation (spec.md §4.6).
	targets() []Vertex
}

func init() {
	gob.Register(FileAdd{})
	gob.Register(FileDel{})
	gob.Register(FileUndel{})
	gob.Register(FileMove{})
	gob.Register(Edit{})
	gob.Register(Replacement{})
	gob.Register(SolveNameConflict{})
	gob.Register(UnsolveNameConflict{})
	gob.Register(SolveOrderConflict{})
	gob.Register(UnsolveOrderConflict{})
	gob.Register(ResurrectZombies{})
}

// FileAdd introduces a new file: an inode vertex, a FOLDER name edge under
// its parent, and an optional initial contents vertex.
type FileAdd struct {
	ParentInode Inode
	Basename    string
	Meta        InodeMetadata
	InodeVertex NewVertex
	Contents    *NewVertex
}

func (h FileAdd) apply(ctx context.Context, w *writer, id ChangeId) error {
	inodeV, err := w.assertVertex(ctx, h.InodeVertex, id)
	if err != nil {
		return err
	}
	inode, err := w.p.NewInode(w.txn)
	if err != nil {
		return err
	}
	if err := w.p.SetInodePosition(w.txn, inode, Position{Change: inodeV.Change, Pos: inodeV.Start}); err != nil {
		return err
	}
	if err := w.p.SetTreeEntry(w.txn, h.ParentInode, h.Basename, inode); err != nil {
		return err
	}
	if err := w.p.TouchFile(w.txn, id, inode); err != nil {
		return err
	}
	if h.Contents != nil {
		if _, err := w.assertVertex(ctx, *h.Contents, id); err != nil {
			return err
		}
	}
	return nil
}

func (h FileAdd) invert() Hunk { return FileDel{ParentInode: h.ParentInode, Basename: h.Basename} }

func (h FileAdd) targets() []Vertex {
	return append([]Vertex(nil), h.InodeVertex.UpContext...)
}

// FileDel adds DELETED edges to a file's name edge (and contents).
type FileDel struct {
	ParentInode Inode
	Basename    string
}

func (h FileDel) apply(ctx context.Context, w *writer, id ChangeId) error {
	child, ok, err := w.p.TreeEntry(w.txn, h.ParentInode, h.Basename)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{Kind: Missing, Op: "FileDel", Err: errNotFound(h.Basename)}
	}
	pos, ok, err := w.p.InodePosition(w.txn, child)
	if err != nil {
		return err
	}
	if ok {
		root := Vertex{Change: pos.Change, Start: pos.Pos, End: pos.Pos}
		if err := deleteSubgraph(w.txn, w.p, w.channel.Name, root); err != nil {
			return err
		}
	}
	return w.p.TouchFile(w.txn, id, child)
}

func (h FileDel) invert() Hunk { return FileUndel{ParentInode: h.ParentInode, Basename: h.Basename} }

func (h FileDel) targets() []Vertex { return nil }

// FileUndel removes DELETED edges previously added by a FileDel.
type FileUndel struct {
	ParentInode Inode
	Basename    string
}

func (h FileUndel) apply(ctx context.Context, w *writer, id ChangeId) error {
	child, ok, err := w.p.TreeEntry(w.txn, h.ParentInode, h.Basename)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{Kind: Missing, Op: "FileUndel", Err: errNotFound(h.Basename)}
	}
	pos, ok, err := w.p.InodePosition(w.txn, child)
	if err != nil {
		return err
	}
	if ok {
		root := Vertex{Change: pos.Change, Start: pos.Pos, End: pos.Pos}
		if err := undeleteSubgraph(w.txn, w.p, w.channel.Name, root); err != nil {
			return err
		}
	}
	return w.p.TouchFile(w.txn, id, child)
}

func (h FileUndel) invert() Hunk { return FileDel{ParentInode: h.ParentInode, Basename: h.Basename} }

func (h FileUndel) targets() []Vertex { return nil }

// FileMove moves a file's tree entry from (OldParent, OldName) to
// (NewParent, NewName). It changes only the tree and revtree tables: no name
// edge in the graph is deleted or added.
type FileMove struct {
	OldParent Inode
	OldName   string
	NewParent Inode
	NewName   string
}

func (h FileMove) apply(ctx context.Context, w *writer, id ChangeId) error {
	child, ok, err := w.p.TreeEntry(w.txn, h.OldParent, h.OldName)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{Kind: Missing, Op: "FileMove", Err: errNotFound(h.OldName)}
	}
	if err := w.p.RemoveTreeEntry(w.txn, h.OldParent, h.OldName, child); err != nil {
		return err
	}
	if err := w.p.SetTreeEntry(w.txn, h.NewParent, h.NewName, child); err != nil {
		return err
	}
	return w.p.TouchFile(w.txn, id, child)
}

func (h FileMove) invert() Hunk {
	return FileMove{OldParent: h.NewParent, OldName: h.NewName, NewParent: h.OldParent, NewName: h.OldName}
}

func (h FileMove) targets() []Vertex { return nil }

// Edit is an EdgeMap (inserts/deletes of non-folder edges) plus optionally
// a NewVertex (spec.md §4.6): a pure insert carries only Vertex, a pure
// deletion carries only Map, a replace-without-attaching-contents carries
// both.
type Edit struct {
	Map    EdgeMap
	Vertex *NewVertex
	Inode  Inode
}

func (h Edit) apply(ctx context.Context, w *writer, id ChangeId) error {
	if err := w.applyEdgeMap(ctx, h.Map, id); err != nil {
		return err
	}
	if h.Vertex != nil {
		if _, err := w.assertVertex(ctx, *h.Vertex, id); err != nil {
			return err
		}
	}
	return w.p.TouchFile(w.txn, id, h.Inode)
}

// invert re-asserts Vertex with DELETED toggled in its flag, so the inverse
// of an insertion leaves the inserted vertex a zombie, which Output omits.
func (h Edit) invert() Hunk {
	var nv *NewVertex
	if h.Vertex != nil {
		v := *h.Vertex
		v.Flag ^= EdgeDeleted
		nv = &v
	}
	return Edit{Map: invertEdgeMap(h.Map), Vertex: nv, Inode: h.Inode}
}

func (h Edit) targets() []Vertex {
	var out []Vertex
	for _, e := range h.Map.Edges {
		out = append(out, e.From, e.To)
	}
	if h.Vertex != nil {
		out = append(out, h.Vertex.UpContext...)
		out = append(out, h.Vertex.DownContext...)
	}
	return out
}

// Replacement is an Edit plus an immediately attached NewVertex replacing
// the deleted range.
type Replacement struct {
	Map      EdgeMap
	Vertex   NewVertex
	Inode    Inode
	IsCyclic bool
}

func (h Replacement) apply(ctx context.Context, w *writer, id ChangeId) error {
	if err := w.applyEdgeMap(ctx, h.Map, id); err != nil {
		return err
	}
	if _, err := w.assertVertex(ctx, h.Vertex, id); err != nil {
		return err
	}
	return w.p.TouchFile(w.txn, id, h.Inode)
}

func (h Replacement) invert() Hunk {
	return Replacement{Map: invertEdgeMap(h.Map), Vertex: h.Vertex, Inode: h.Inode, IsCyclic: h.IsCyclic}
}

func (h Replacement) targets() []Vertex {
	var out []Vertex
	for _, e := range h.Map.Edges {
		out = append(out, e.From, e.To)
	}
	return out
}

// SolveNameConflict marks a name-edge as the resolution of a folder
// conflict.
type SolveNameConflict struct {
	Parent Inode
	Name   string
}

func (h SolveNameConflict) apply(ctx context.Context, w *writer, id ChangeId) error { return nil }
func (h SolveNameConflict) invert() Hunk                                            { return UnsolveNameConflict(h) }
func (h SolveNameConflict) targets() []Vertex                                     { return nil }

// UnsolveNameConflict reverts a SolveNameConflict.
type UnsolveNameConflict struct {
	Parent Inode
	Name   string
}

func (h UnsolveNameConflict) apply(ctx context.Context, w *writer, id ChangeId) error { return nil }
func (h UnsolveNameConflict) invert() Hunk                                            { return SolveNameConflict(h) }
func (h UnsolveNameConflict) targets() []Vertex                                     { return nil }

// SolveOrderConflict marks an edit as resolving an order conflict in an
// SCC: the hunk carries the replacement that collapses the conflicting
// sides into one linear sequence.
type SolveOrderConflict struct {
	Map    EdgeMap
	Vertex NewVertex
	Inode  Inode
}

func (h SolveOrderConflict) apply(ctx context.Context, w *writer, id ChangeId) error {
	if err := w.applyEdgeMap(ctx, h.Map, id); err != nil {
		return err
	}
	if _, err := w.assertVertex(ctx, h.Vertex, id); err != nil {
		return err
	}
	return w.p.TouchFile(w.txn, id, h.Inode)
}

func (h SolveOrderConflict) invert() Hunk {
	return UnsolveOrderConflict{Map: invertEdgeMap(h.Map), Vertex: h.Vertex, Inode: h.Inode}
}

func (h SolveOrderConflict) targets() []Vertex {
	var out []Vertex
	for _, e := range h.Map.Edges {
		out = append(out, e.From, e.To)
	}
	return out
}

// UnsolveOrderConflict reintroduces an order conflict previously solved.
type UnsolveOrderConflict struct {
	Map    EdgeMap
	Vertex NewVertex
	Inode  Inode
}

func (h UnsolveOrderConflict) apply(ctx context.Context, w *writer, id ChangeId) error {
	if err := w.applyEdgeMap(ctx, h.Map, id); err != nil {
		return err
	}
	return w.p.TouchFile(w.txn, id, h.Inode)
}

func (h UnsolveOrderConflict) invert() Hunk {
	return SolveOrderConflict{Map: invertEdgeMap(h.Map), Vertex: h.Vertex, Inode: h.Inode}
}

func (h UnsolveOrderConflict) targets() []Vertex {
	var out []Vertex
	for _, e := range h.Map.Edges {
		out = append(out, e.From, e.To)
	}
	return out
}

// ResurrectZombies adds edges re-including zombie vertices into the alive
// set.
type ResurrectZombies struct {
	Map   EdgeMap
	Inode Inode
}

func (h ResurrectZombies) apply(ctx context.Context, w *writer, id ChangeId) error {
	if err := w.applyEdgeMap(ctx, h.Map, id); err != nil {
		return err
	}
	return w.p.TouchFile(w.txn, id, h.Inode)
}

func (h ResurrectZombies) invert() Hunk {
	return Edit{Map: invertEdgeMap(h.Map), Inode: h.Inode}
}

func (h ResurrectZombies) targets() []Vertex {
	var out []Vertex
	for _, e := range h.Map.Edges {
		out = append(out, e.From, e.To)
	}
	return out
}

func invertEdgeMap(m EdgeMap) EdgeMap {
	out := EdgeMap{Edges: make([]EdgeMapEntry, len(m.Edges))}
	for i, e := range m.Edges {
		inv := e
		if e.HadPrevious {
			inv.Flag = e.Previous
		} else {
			// No previous edge existed: the inverse removes what this atom
			// inserted, i.e. toggles the DELETED bit so Unrecord restores
			// the pre-application state rather than leaving a dangling
			// edge with unknown prior flags.
			inv.Flag = e.Flag ^ EdgeDeleted
		}
		inv.Previous = e.Flag
		inv.HadPrevious = true
		out.Edges[i] = inv
	}
	return out
}

func errNotFound(name string) error { return &notFoundError{name: name} }

type notFoundError struct{ name string }

func (e *notFoundError) Error() string { return "not found: " + e.name }
