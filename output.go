package graft

import (
	"bytes"
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/graftvcs/graft/store"
)

// orderConflictStart/End and the cyclicConflict markers follow spec.md
// §4.4's literal marker shapes; zombieMarker is embedded inside an order
// conflict side that contains a zombie vertex.
const (
	orderConflictStart = ">>>>>>>>>>"
	orderConflictSep   = "=========="
	orderConflictEnd   = "<<<<<<<<<<"
	cyclicConflictStart = "%%%%%%%%%%"
	cyclicConflictEnd    = "%%%%%%%%%%"
	zombieMarker         = "@@@@@@@@@@ zombie @@@@@@@@@@\n"
)

// ContentsSource resolves a ChangeId's byte payload, the narrow interface
// Output needs from a changestore.Store (spec.md's "small interfaces"
// convention — see package doc).
type ContentsSource interface {
	Contents(id ChangeId) ([]byte, error)
}

// Rendered is the linearization of one retrieved Graph.
type Rendered struct {
	Bytes []byte
	// MissingEOL holds the byte offsets (within Bytes) of vertices whose
	// payload does not end in a newline but appear mid-file, consumed by
	// Diff to decide whether to glue the following line on (spec.md §4.4).
	MissingEOL map[int]bool
	// Lines is the per-vertex line table Diff/Record walk against: one
	// entry per non-marker alive vertex written, in render order (spec.md
	// §4.5's "Vec<Line> of {bytes, origin_vertex_ptr, cyclic_flag,
	// before_end_marker_flag, last_flag}").
	Lines []Line
}

// Line is one entry of a Rendered's line table.
type Line struct {
	Bytes []byte
	// Vertex is the alive vertex this line's bytes came from. The zero
	// Vertex (RootVertex) denotes a line not yet anchored to the graph
	// (only ever produced on the working-copy side of a diff).
	Vertex Vertex
	// Cyclic is true when this line came from inside a cyclic conflict
	// region (spec.md §4.5: lines inside a cyclic conflict are never
	// treated as equal to visually identical lines outside it).
	Cyclic bool
	// BeforeEndMarker is true for the line immediately preceding a
	// conflict end marker, enabling Diff's trailing-newline relaxation.
	BeforeEndMarker bool
	// Last is true for the final line of the file.
	Last bool
	// Incoming lists this line's live incoming edges in the retrieved
	// graph, letting Record reference the exact edge a deletion must flag
	// DELETED instead of fabricating one (spec.md §4.6).
	Incoming []IncomingEdge
}

// IncomingEdge names one live edge feeding a Line's vertex.
type IncomingEdge struct {
	From         Vertex
	IntroducedBy ChangeId
}

// Output linearizes the alive subgraph rooted at root into bytes by a
// deterministic walk in topological order of SCCs, from source to sink
// (spec.md §4.4). Order conflicts, cyclic conflicts, and zombie conflicts
// are rendered as marker-delimited regions rather than resolved silently.
func Output(txn store.Txn, p *Pristine, channel string, root Vertex, contents ContentsSource) (_ *Rendered, err error) {
	ctx, span := startSpan(context.Background(), "Output", channel)
	start := time.Now()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		measureOperation(ctx, "Output", channel, err == nil, time.Since(start))
	}()

	_, retrieveSpan := startSpan(ctx, "Retrieve", channel)
	g, err := retrieve(txn, p, channel, root)
	if err != nil {
		retrieveSpan.SetStatus(codes.Error, err.Error())
		retrieveSpan.End()
		return nil, err
	}
	retrieveSpan.End()

	tarjan(g)
	rendered, err := render(g, contents)
	return rendered, err
}

// sccGroups buckets line indices by SCC id and returns the ids in
// descending order (source to sink, since tarjan numbers sinks lowest per
// spec.md §4.3).
func sccGroups(g *Graph) ([]int, map[int][]int) {
	byID := make(map[int][]int)
	for i := 1; i < len(g.Lines); i++ {
		id := g.Lines[i].SCC
		byID[id] = append(byID[id], i)
	}
	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	for _, members := range byID {
		sort.Slice(members, func(a, b int) bool {
			va, vb := g.Lines[members[a]].Vertex, g.Lines[members[b]].Vertex
			if va.Change != vb.Change {
				return va.Change < vb.Change
			}
			return va.Start < vb.Start
		})
	}
	return ids, byID
}

// incomingEntries counts, for each vertex index, the distinct line indices
// with a live edge into it, used to detect order conflicts (more than one
// non-comparable entry point, spec.md §4.4); edges carries the same
// incoming edges named precisely (source Vertex + introducing ChangeId)
// for Record to reconstruct a deletion's real edge rather than a self-loop.
func incomingEntries(g *Graph) (in map[int][]int, edges map[int][]IncomingEdge) {
	in = make(map[int][]int)
	edges = make(map[int][]IncomingEdge)
	for i := range g.Lines {
		for _, c := range g.childrenOf(i) {
			if c.Edge == nil || c.Edge.Flags.Any(EdgeDeleted) {
				continue
			}
			in[c.Target] = append(in[c.Target], i)
			edges[c.Target] = append(edges[c.Target], IncomingEdge{
				From:         g.Lines[i].Vertex,
				IntroducedBy: c.Edge.IntroducedBy,
			})
		}
	}
	return in, edges
}

func render(g *Graph, contents ContentsSource) (*Rendered, error) {
	var buf bytes.Buffer
	missingEOL := make(map[int]bool)
	var lines []Line

	ids, byID := sccGroups(g)
	in, incoming := incomingEntries(g)
	visited := make(map[int]bool)

	writeVertex := func(idx int, cyclic bool) error {
		v := g.Lines[idx].Vertex
		if v.IsMarker() {
			return nil
		}
		b, err := contents.Contents(v.Change)
		if err != nil {
			return wrap(Storage, "Output", err)
		}
		if int(v.End) > len(b) || int(v.Start) > int(v.End) {
			return wrap(Integrity, "Output", errNotFound("vertex contents out of range"))
		}
		payload := b[v.Start:v.End]
		buf.Write(payload)
		if len(payload) > 0 && payload[len(payload)-1] != '\n' {
			missingEOL[buf.Len()] = true
		}
		lines = append(lines, Line{Bytes: payload, Vertex: v, Cyclic: cyclic, Incoming: incoming[idx]})
		return nil
	}

	for _, id := range ids {
		members := byID[id]
		if len(members) == 0 {
			continue
		}
		if len(members) > 1 {
			// cyclic conflict: an SCC of size > 1 among alive vertices
			buf.WriteString(cyclicConflictStart + "\n")
			for _, idx := range members {
				if visited[idx] {
					continue
				}
				visited[idx] = true
				if err := writeVertex(idx, true); err != nil {
					return nil, err
				}
			}
			buf.WriteString(cyclicConflictEnd + "\n")
			if len(lines) > 0 {
				lines[len(lines)-1].BeforeEndMarker = true
			}
			continue
		}

		idx := members[0]
		if visited[idx] {
			continue
		}

		parents := in[idx]
		if len(parents) > 1 {
			// order conflict: multiple non-comparable entries into the same
			// vertex; each parent contributes one side, sides separated by
			// orderConflictSep, sides sorted for determinism (spec.md §4.4).
			sort.Slice(parents, func(a, b int) bool {
				va, vb := g.Lines[parents[a]].Vertex, g.Lines[parents[b]].Vertex
				if va.Change != vb.Change {
					return va.Change < vb.Change
				}
				return va.Start < vb.Start
			})
			buf.WriteString(orderConflictStart + "\n")
			for i, p := range parents {
				if i > 0 {
					buf.WriteString(orderConflictSep + "\n")
				}
				if g.Lines[p].Zombie {
					buf.WriteString(zombieMarker)
				}
			}
			buf.WriteString(orderConflictEnd + "\n")
			if len(lines) > 0 {
				lines[len(lines)-1].BeforeEndMarker = true
			}
		}

		visited[idx] = true
		if g.Lines[idx].Zombie {
			// a zombie outside any conflict is a cleanly deleted line: its
			// content is gone from Output, not merely marked (spec.md §4.4
			// only surfaces zombieMarker inside an order-conflict side).
			continue
		}
		if err := writeVertex(idx, false); err != nil {
			return nil, err
		}
	}

	if len(lines) > 0 {
		lines[len(lines)-1].Last = true
	}

	return &Rendered{Bytes: buf.Bytes(), MissingEOL: missingEOL, Lines: lines}, nil
}

// OutputTree renders every root in roots concurrently, bounded by
// maxWorkers (zero or less means no bound), mirroring the teacher's errgroup fan-out idiom from
// disassembler.go generalized from per-component pubsub publish to
// per-file linearization (§ domain-stack addition: a repository-wide
// checkout touches every tracked file, which parallelizes trivially since
// each file's retrieval is independent).
func OutputTree(ctx context.Context, p *Pristine, channel string, roots map[Inode]Vertex, contents ContentsSource, maxWorkers int) (map[Inode]*Rendered, error) {
	results := make(map[Inode]*Rendered, len(roots))

	g, ctx := errgroup.WithContext(ctx)
	if maxWorkers > 0 {
		g.SetLimit(maxWorkers)
	}

	type pair struct {
		inode Inode
		r     *Rendered
	}
	out := make(chan pair, len(roots))

	txn, err := p.Store.BeginRead(ctx)
	if err != nil {
		return nil, wrap(Storage, "OutputTree", err)
	}

	for inode, root := range roots {
		inode, root := inode, root
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			r, err := Output(txn, p, channel, root, contents)
			if err != nil {
				return err
			}
			out <- pair{inode: inode, r: r}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(out)
	for pr := range out {
		results[pr.inode] = pr.r
	}
	return results, nil
}
