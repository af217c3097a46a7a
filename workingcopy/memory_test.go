package workingcopy_test

import (
	"context"
	"testing"

	"github.com/graftvcs/graft"
	"github.com/graftvcs/graft/changestore"
	"github.com/graftvcs/graft/store"
	"github.com/graftvcs/graft/workingcopy"
)

// TestRecordOutputRoundTrip exercises spec.md §8's "record->output"
// property against a workingcopy.Memory fake standing in for a real
// filesystem: recording a working copy's edit and outputting the result
// must reproduce the working copy's bytes exactly.
func TestRecordOutputRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := graft.Open(store.NewMemory())
	cs := changestore.NewMemory()
	main := p.OpenChannel("main")
	wc := workingcopy.NewMemory()

	const rootInode graft.Inode = 0

	initial := []byte("line one\nline two\n")
	add := &graft.Change{
		Header: graft.Header{Message: "add notes.txt"},
		Hunks: []graft.Hunk{
			graft.FileAdd{
				ParentInode: rootInode,
				Basename:    "notes.txt",
				Meta:        graft.NewInodeMetadata(0o644, false),
				InodeVertex: graft.NewVertex{
					UpContext: []graft.Vertex{graft.RootVertex},
					Flag:      graft.EdgeFolder,
				},
				Contents: &graft.NewVertex{
					UpContext: []graft.Vertex{{Change: 1}},
					End:       graft.ChangePosition(len(initial)),
					Flag:      graft.EdgeBlock,
				},
			},
		},
		Contents: initial,
	}
	if _, err := graft.Apply(main, add); err != nil {
		t.Fatalf("Apply(add): %v", err)
	}
	if _, err := cs.SaveChange(ctx, add); err != nil {
		t.Fatalf("SaveChange(add): %v", err)
	}
	if err := wc.WriteFile("notes.txt", initial); err != nil {
		t.Fatalf("WriteFile(initial): %v", err)
	}

	edited := []byte("line one\nline two\nline three\n")
	if err := wc.WriteFile("notes.txt", edited); err != nil {
		t.Fatalf("WriteFile(edited): %v", err)
	}

	txn, err := p.Store.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	inode, ok, err := p.TreeEntry(txn, rootInode, "notes.txt")
	if err != nil || !ok {
		t.Fatalf("TreeEntry(notes.txt): ok=%v err=%v", ok, err)
	}
	pos, ok, err := p.InodePosition(txn, inode)
	if err != nil || !ok {
		t.Fatalf("InodePosition: ok=%v err=%v", ok, err)
	}
	root := graft.Vertex{Change: pos.Change, Start: pos.Pos, End: pos.Pos}
	resolver := changestore.Resolver{Ctx: ctx, Store: cs, Pristine: p, Txn: txn}
	current, err := graft.Output(txn, p, main.Name, root, resolver)
	if err != nil {
		t.Fatalf("Output(before record): %v", err)
	}

	working, err := wc.ReadFile("notes.txt")
	if err != nil {
		t.Fatalf("ReadFile(notes.txt): %v", err)
	}
	change, err := graft.Record(txn, p, inode, current, working, graft.RecordOptions{
		Header: graft.Header{Message: "add line three"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if _, err := graft.Apply(main, change); err != nil {
		t.Fatalf("Apply(record result): %v", err)
	}
	if _, err := cs.SaveChange(ctx, change); err != nil {
		t.Fatalf("SaveChange(edit): %v", err)
	}

	txn2, err := p.Store.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead(after): %v", err)
	}
	resolver2 := changestore.Resolver{Ctx: ctx, Store: cs, Pristine: p, Txn: txn2}
	rendered, err := graft.Output(txn2, p, main.Name, root, resolver2)
	if err != nil {
		t.Fatalf("Output(after record): %v", err)
	}
	if string(rendered.Bytes) != string(edited) {
		t.Errorf("round trip mismatch: got %q, want %q", rendered.Bytes, edited)
	}
}
