package graft

import (
	"context"
	"fmt"

	"github.com/graftvcs/graft/store"
)

// checkFolderInvariant enforces that a FOLDER-flagged vertex has at most one
// non-deleted incoming PARENT edge: a tree entry names exactly one directory
// parent. Adapted from the one-to-one relationship assertion's
// "retract-then-assert, panic on multi-edge integrity violation" pattern:
// there, a one-to-one GraphWriter relationship panicked if more than one
// edge of the same kind was found between a source and any target of the
// target's type; here the same shape applies to a FOLDER child vertex and
// its incoming PARENT edges.
//
// Pseudo and deleted edges don't count: a deleted name edge means the old
// parent link was retracted, and a later change may yet resolve a dangling
// child left with zero live parents (e.g. mid-Apply, before
// repairMissingContexts runs) without tripping the invariant.
func checkFolderInvariant(txn store.Txn, p *Pristine, channel string, child Vertex) error {
	edges, err := p.EdgesOf(txn, channel, child)
	if err != nil {
		return wrap(Storage, "checkFolderInvariant", err)
	}

	var liveParents int
	for _, e := range edges {
		if !e.Flags.Has(EdgeFolder | EdgeParent) {
			continue
		}
		if e.Flags.Has(EdgeDeleted) {
			continue
		}
		liveParents++
	}
	if liveParents > 1 {
		// A folder child names more than one live directory parent at
		// once.
		panic(newGraphIntegrityError("folder-parent", child, liveParents))
	}
	return nil
}

// CheckChannelFolderInvariants walks every inode position recorded in
// channel's pristine and verifies checkFolderInvariant for each, used by
// tests and by operators auditing a channel after a suspicious merge.
func CheckChannelFolderInvariants(ctx context.Context, p *Pristine, channel string) error {
	return p.withRead(ctx, func(txn store.Txn) error {
		return p.forEachInodePosition(txn, func(v Vertex) error {
			return checkFolderInvariant(txn, p, channel, v)
		})
	})
}

func newGraphIntegrityError(invariant string, v Vertex, affectedEdges int) error {
	return fmt.Errorf("inconsistent graph detected: %s invariant violated at %s with %d live parent edges", invariant, v, affectedEdges)
}
