package graft

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/graftvcs/graft/store"
)

// writer is what a Change's Hunks mutate the pristine through,
// generalized from the teacher's compiler.go GraphWriter (AssertNode/
// RetractNode/AssertEdge/RetractEdges) to this engine's Vertex/Edge model.
type writer struct {
	p       *Pristine
	channel *Channel
	txn     store.WriteTxn
}

// assertVertex materializes nv as a new Vertex addressed under id, wiring
// it to its up/down context vertices via edges carrying nv.Flag.
func (w *writer) assertVertex(ctx context.Context, nv NewVertex, id ChangeId) (Vertex, error) {
	v := nv.vertex(id)
	for _, up := range nv.UpContext {
		if _, _, err := w.p.PutEdge(w.txn, w.channel.Name, up, v, Edge{Target: v, Flags: nv.Flag, IntroducedBy: id}); err != nil {
			return v, wrap(Storage, "assertVertex", err)
		}
	}
	for _, down := range nv.DownContext {
		if _, _, err := w.p.PutEdge(w.txn, w.channel.Name, v, down, Edge{Target: down, Flags: nv.Flag, IntroducedBy: id}); err != nil {
			return v, wrap(Storage, "assertVertex", err)
		}
	}
	return v, nil
}

// applyEdgeMap inserts or updates each entry's edge, keyed by
// (from, to, flags-without-parent, introduced_by) as spec.md §3 requires,
// recording the edge's previous flags for exact inversion.
func (w *writer) applyEdgeMap(ctx context.Context, m EdgeMap, id ChangeId) error {
	for i, e := range m.Edges {
		prev, had, err := w.p.PutEdge(w.txn, w.channel.Name, e.From, e.To, Edge{Target: e.To, Flags: e.Flag, IntroducedBy: e.IntroducedBy})
		if err != nil {
			return wrap(Storage, "applyEdgeMap", err)
		}
		m.Edges[i].Previous = prev
		m.Edges[i].HadPrevious = had
	}
	return nil
}

// Apply mutates channel's pristine from change, following spec.md §4.7:
//  1. register hash<->ChangeId if new,
//  2. require every dependency is already present in the channel,
//  3. apply each Hunk in order,
//  4. record the application (changeset/revchangeset, Merkle),
//  5. recompute touched_files,
//  6. garbage-collect forward pseudo-edges and repair missing contexts
//     around every inode the change touched.
//
// It returns the ChangeId assigned to change within this pristine.
func Apply(channel *Channel, change *Change) (id ChangeId, err error) {
	p := channel.Pristine
	ctx := context.Background()
	ctx, span := startSpan(ctx, "Apply", channel.Name)
	start := time.Now()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		measureOperation(ctx, "Apply", channel.Name, err == nil, time.Since(start))
	}()
	err = p.withWrite(ctx, func(txn store.WriteTxn) error {
		hash := change.Hash()
		assigned, err := p.InternChange(txn, hash)
		if err != nil {
			return wrap(Storage, "Apply", err)
		}
		id = assigned

		for _, depHash := range change.Dependencies {
			depId, ok, err := p.ChangeIdOf(txn, depHash)
			if err != nil {
				return wrap(Storage, "Apply", err)
			}
			if !ok {
				return dependencyMissing("Apply", depHash)
			}
			if _, ok, err := channel.Ordinal(txn, depId); err != nil {
				return wrap(Storage, "Apply", err)
			} else if !ok {
				return dependencyMissing("Apply", depHash)
			}
			if err := p.AddDependency(txn, id, depId); err != nil {
				return wrap(Storage, "Apply", err)
			}
		}

		w := &writer{p: p, channel: channel, txn: txn}
		for _, h := range change.Hunks {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := h.apply(ctx, w, id); err != nil {
				return err
			}
		}

		if _, _, err := channel.RecordApplied(txn, id, hash); err != nil {
			return wrap(Storage, "Apply", err)
		}

		touched, err := p.TouchedFiles(txn, id)
		if err != nil {
			return wrap(Storage, "Apply", err)
		}
		for _, inode := range touched {
			pos, ok, err := p.InodePosition(txn, inode)
			if err != nil {
				return wrap(Storage, "Apply", err)
			}
			if !ok {
				continue
			}
			v := Vertex{Change: pos.Change, Start: pos.Pos, End: pos.Pos}
			if err := removeForwardEdges(p, txn, channel.Name, v); err != nil {
				return err
			}
			if err := repairMissingContexts(p, txn, channel.Name, v, id); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

// Unrecord removes change from channel, per spec.md §4.7:
//  1. require no other applied change depends on it,
//  2. apply the inverse hunk stream,
//  3. remove it from changeset/revchangeset and unfold it from the Merkle.
func Unrecord(channel *Channel, change *Change) (err error) {
	p := channel.Pristine
	ctx := context.Background()
	ctx, span := startSpan(ctx, "Unrecord", channel.Name)
	start := time.Now()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		measureOperation(ctx, "Unrecord", channel.Name, err == nil, time.Since(start))
	}()
	err = p.withWrite(ctx, func(txn store.WriteTxn) error {
		hash := change.Hash()
		id, ok, err := p.ChangeIdOf(txn, hash)
		if err != nil {
			return wrap(Storage, "Unrecord", err)
		}
		if !ok {
			return &Error{Kind: Missing, Op: "Unrecord", Err: errNotFound(hash.String())}
		}
		if _, ok, err := channel.Ordinal(txn, id); err != nil {
			return wrap(Storage, "Unrecord", err)
		} else if !ok {
			return &Error{Kind: Missing, Op: "Unrecord", Err: errNotFound(hash.String())}
		}

		dependents, err := p.Dependents(txn, id)
		if err != nil {
			return wrap(Storage, "Unrecord", err)
		}
		for _, dep := range dependents {
			if _, ok, err := channel.Ordinal(txn, dep); err != nil {
				return wrap(Storage, "Unrecord", err)
			} else if ok {
				depHash, _, err := p.HashOf(txn, dep)
				if err != nil {
					return wrap(Storage, "Unrecord", err)
				}
				return dependencyMissing("Unrecord", depHash)
			}
		}

		inverse := change.Invert()
		w := &writer{p: p, channel: channel, txn: txn}
		for _, h := range inverse.Hunks {
			if err := h.apply(ctx, w, id); err != nil {
				return err
			}
		}

		if err := channel.RemoveApplied(txn, id); err != nil {
			return wrap(Storage, "Unrecord", err)
		}
		return nil
	})
	return err
}
