// Package enginetest provides a shared conformance suite for any
// store.Store backend: it drives a Pristine through a sequence of
// Apply/Record/Output/Fork/Unrecord operations and checks the resulting
// rendered file contents at each step.
//
// Call enginetest.Run in its own test to invoke the suite:
//
//	func TestMemory(t *testing.T) {
//		enginetest.Run(t, func(t *testing.T) store.Store { return store.NewMemory() })
//	}
//
// Both store.Memory and store.Bolt satisfy the same sequence, since the
// suite only exercises the store.Store interface.
package enginetest

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/graftvcs/graft"
	"github.com/graftvcs/graft/changestore"
	"github.com/graftvcs/graft/store"
)

// rootInode is the unallocated Inode(0): NewInode starts counting at 1, so
// 0 is free to stand in for the repository's root directory without ever
// colliding with a real file's inode.
const rootInode graft.Inode = 0

// Run executes a sequence of scenarios against a fresh store.Store produced
// by newStore, in strict order: each scenario's starting state is the
// previous scenario's ending state, mirroring how a single working copy
// evolves over a session.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()

	p := graft.Open(newStore(t))
	cs := changestore.NewMemory()
	main := p.OpenChannel("main")

	t.Run("add-file", func(t *testing.T) {
		initial := []byte("hello\n")
		change := &graft.Change{
			Header: graft.Header{Message: "add hello.txt"},
			Hunks: []graft.Hunk{
				graft.FileAdd{
					ParentInode: rootInode,
					Basename:    "hello.txt",
					Meta:        graft.NewInodeMetadata(0o644, false),
					InodeVertex: graft.NewVertex{
						UpContext: []graft.Vertex{graft.RootVertex},
						Flag:      graft.EdgeFolder,
					},
					// The first change applied to a fresh Pristine is always
					// assigned ChangeId 1 (InternChange starts counting
					// there), so the content vertex can reference its own
					// enclosing change's inode vertex directly.
					Contents: &graft.NewVertex{
						UpContext: []graft.Vertex{{Change: 1}},
						End:       graft.ChangePosition(len(initial)),
						Flag:      graft.EdgeBlock,
					},
				},
			},
			Contents: initial,
		}

		id, err := graft.Apply(main, change)
		if err != nil {
			t.Fatalf("Apply(add-file): %v", err)
		}
		if id != 1 {
			t.Fatalf("Apply(add-file) id = %v, want 1", id)
		}
		if _, err := cs.SaveChange(ctx, change); err != nil {
			t.Fatalf("SaveChange(add-file): %v", err)
		}

		rendered := mustOutput(t, ctx, p, cs, main, "hello.txt")
		if diff := cmp.Diff(string(initial), string(rendered.Bytes)); diff != "" {
			t.Errorf("Output(hello.txt) mismatch (-want +got):\n%v", diff)
		}

		if err := graft.CheckChannelFolderInvariants(ctx, p, main.Name); err != nil {
			t.Errorf("CheckChannelFolderInvariants: %v", err)
		}
	})

	t.Run("edit-file", func(t *testing.T) {
		current := mustOutput(t, ctx, p, cs, main, "hello.txt")
		working := []byte("hello\nworld\n")

		var change *graft.Change
		err := withRead(ctx, p, func(txn store.Txn) error {
			inode, _, err := p.TreeEntry(txn, rootInode, "hello.txt")
			if err != nil {
				return err
			}
			change, err = graft.Record(txn, p, inode, current, working, graft.RecordOptions{
				Header: graft.Header{Message: "append world"},
			})
			return err
		})
		if err != nil {
			t.Fatalf("Record(edit-file): %v", err)
		}

		if _, err := graft.Apply(main, change); err != nil {
			t.Fatalf("Apply(edit-file): %v", err)
		}
		if _, err := cs.SaveChange(ctx, change); err != nil {
			t.Fatalf("SaveChange(edit-file): %v", err)
		}

		rendered := mustOutput(t, ctx, p, cs, main, "hello.txt")
		if diff := cmp.Diff(string(working), string(rendered.Bytes)); diff != "" {
			t.Errorf("Output(hello.txt) after edit mismatch (-want +got):\n%v", diff)
		}
	})

	t.Run("fork-and-unrecord", func(t *testing.T) {
		var fork *graft.Channel
		err := withWrite(ctx, p, func(txn store.WriteTxn) error {
			var err error
			fork, err = main.Fork(txn, "fork")
			return err
		})
		if err != nil {
			t.Fatalf("Fork: %v", err)
		}

		rendered := mustOutput(t, ctx, p, cs, fork, "hello.txt")
		if string(rendered.Bytes) != "hello\nworld\n" {
			t.Fatalf("fork diverged immediately after Fork: got %q", rendered.Bytes)
		}

		// Recover the last-applied change so Unrecord has a body to invert.
		var lastID graft.ChangeId
		if err := withRead(ctx, p, func(txn store.Txn) error {
			ids, err := main.Applied(txn)
			if err != nil {
				return err
			}
			lastID = ids[len(ids)-1]
			return nil
		}); err != nil {
			t.Fatalf("Applied: %v", err)
		}
		var lastHash graft.Hash
		if err := withRead(ctx, p, func(txn store.Txn) error {
			h, _, err := p.HashOf(txn, lastID)
			lastHash = h
			return err
		}); err != nil {
			t.Fatalf("HashOf: %v", err)
		}
		lastChange, err := cs.GetChange(ctx, lastHash)
		if err != nil {
			t.Fatalf("GetChange: %v", err)
		}

		// main still has a dependent (the edit) referencing the same
		// lineage fork shares, but Unrecord only rejects a change that
		// some OTHER applied change in the same channel depends on; the
		// edit change itself has no dependents, so this must succeed.
		if err := graft.Unrecord(fork, lastChange); err != nil {
			t.Fatalf("Unrecord(fork): %v", err)
		}

		rendered = mustOutput(t, ctx, p, cs, fork, "hello.txt")
		if string(rendered.Bytes) != "hello\n" {
			t.Errorf("Output(hello.txt) after Unrecord = %q, want %q", rendered.Bytes, "hello\n")
		}

		// main is untouched by fork's unrecord: Fork copied main's graph
		// edges, so the two channels' graphs, logs and Merkle are independent.
		rendered = mustOutput(t, ctx, p, cs, main, "hello.txt")
		if string(rendered.Bytes) != "hello\nworld\n" {
			t.Errorf("Output(hello.txt) on main after fork's Unrecord = %q, want unchanged %q", rendered.Bytes, "hello\nworld\n")
		}
	})

	t.Run("delete-line", func(t *testing.T) {
		current := mustOutput(t, ctx, p, cs, main, "hello.txt")
		working := []byte("hello\n")

		var change *graft.Change
		err := withRead(ctx, p, func(txn store.Txn) error {
			inode, _, err := p.TreeEntry(txn, rootInode, "hello.txt")
			if err != nil {
				return err
			}
			change, err = graft.Record(txn, p, inode, current, working, graft.RecordOptions{
				Header: graft.Header{Message: "remove world line"},
			})
			return err
		})
		if err != nil {
			t.Fatalf("Record(delete-line): %v", err)
		}

		if _, err := graft.Apply(main, change); err != nil {
			t.Fatalf("Apply(delete-line): %v", err)
		}
		if _, err := cs.SaveChange(ctx, change); err != nil {
			t.Fatalf("SaveChange(delete-line): %v", err)
		}

		rendered := mustOutput(t, ctx, p, cs, main, "hello.txt")
		if diff := cmp.Diff(string(working), string(rendered.Bytes)); diff != "" {
			t.Errorf("Output(hello.txt) after delete-line mismatch (-want +got):\n%v", diff)
		}
	})
}

func withRead(ctx context.Context, p *graft.Pristine, fn func(store.Txn) error) error {
	txn, err := p.Store.BeginRead(ctx)
	if err != nil {
		return err
	}
	return fn(txn)
}

func withWrite(ctx context.Context, p *graft.Pristine, fn func(store.WriteTxn) error) error {
	txn, err := p.Store.BeginWrite(ctx)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}

func mustOutput(t *testing.T, ctx context.Context, p *graft.Pristine, cs *changestore.Memory, ch *graft.Channel, basename string) *graft.Rendered {
	t.Helper()
	var rendered *graft.Rendered
	err := withRead(ctx, p, func(txn store.Txn) error {
		inode, ok, err := p.TreeEntry(txn, rootInode, basename)
		if err != nil {
			return err
		}
		if !ok {
			return &graft.Error{Kind: graft.Missing, Op: "mustOutput", Err: nil}
		}
		pos, ok, err := p.InodePosition(txn, inode)
		if err != nil || !ok {
			return err
		}
		root := graft.Vertex{Change: pos.Change, Start: pos.Pos, End: pos.Pos}
		resolver := changestore.Resolver{Ctx: ctx, Store: cs, Pristine: p, Txn: txn}
		rendered, err = graft.Output(txn, p, ch.Name, root, resolver)
		return err
	})
	if err != nil {
		t.Fatalf("Output(%s): %v", basename, err)
	}
	return rendered
}
