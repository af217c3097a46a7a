// Package changestore persists Changes by content hash (spec.md §4.8): a
// Hash->Change store plus random-access contents retrieval, so the output
// renderer can read one vertex's bytes without decoding a whole change.
//
// Two backends are provided: Memory (a reader-writer-locked map) and
// Filesystem (gocloud.dev/blob-backed, with zstd-compressed segments).
package changestore

import (
	"context"

	"github.com/graftvcs/graft"
	"github.com/graftvcs/graft/store"
)

// Store is the capability interface spec.md §4.8 specifies. save is
// idempotent: saving an already-present change returns the existing hash
// without re-verifying its integrity.
type Store interface {
	SaveChange(ctx context.Context, c *graft.Change) (graft.Hash, error)
	GetChange(ctx context.Context, h graft.Hash) (*graft.Change, error)
	DeleteChange(ctx context.Context, h graft.Hash) (bool, error)
	HasContents(ctx context.Context, h graft.Hash) bool
	// GetContents returns the end-start bytes starting at start of the
	// named change's contents segment (spec.md §4.8), or nothing if
	// end <= start.
	GetContents(ctx context.Context, h graft.Hash, start, end graft.ChangePosition) ([]byte, error)
}

// Resolver adapts a Store and a Pristine into a graft.ContentsSource,
// resolving the ChangeIds the output renderer sees back to the Hashes a
// Store is keyed by. Resolver is constructed fresh for each Output/Record
// call, so it is safe to carry the call's context alongside its txn.
type Resolver struct {
	Ctx      context.Context
	Store    Store
	Pristine *graft.Pristine
	Txn      store.Txn
}

// Contents implements graft.ContentsSource.
func (r Resolver) Contents(id graft.ChangeId) ([]byte, error) {
	h, ok, err := r.Pristine.HashOf(r.Txn, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &graft.Error{Kind: graft.Missing, Op: "Resolver.Contents", Err: errChangeIdNotInterned(id)}
	}
	c, err := r.Store.GetChange(r.Ctx, h)
	if err != nil {
		return nil, err
	}
	return c.Contents, nil
}

type changeIdNotInternedError graft.ChangeId

func (e changeIdNotInternedError) Error() string { return "change id not interned in pristine" }

func errChangeIdNotInterned(id graft.ChangeId) error { return changeIdNotInternedError(id) }
