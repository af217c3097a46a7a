package graft

import (
	"github.com/graftvcs/graft/store"
)

// childEntry is one of an AliveVertex's materialized outgoing edges, or the
// (nil, dummyIndex) sentinel terminating its child list (spec.md §4.2).
type childEntry struct {
	Edge   *Edge
	Target int // index into Graph.Lines
}

// dummyIndex is the sentinel index 0 reserved for the DUMMY root of a
// retrieved Graph (spec.md §4.2: "Index 0 is a sentinel DUMMY").
const dummyIndex = 0

// AliveVertex is one vertex of a retrieved Graph, either alive or zombie
// (spec.md §4.2).
type AliveVertex struct {
	Vertex        Vertex
	Zombie        bool
	ChildrenStart int
	NChildren     int
	// SCC, Index, Lowlink are filled in by tarjan (scc.go); zero until then.
	SCC     int
	Index   int
	Lowlink int
	// Extra holds children appended after initial retrieval (used during
	// conflict resolution).
	Extra []childEntry
}

// Graph is the explicit, indexed alive-subgraph reachable from a root
// vertex, materialized for SCC/output/diff (spec.md §4.2, §9 "arena
// storage Vec<AliveVertex> with integer indices").
type Graph struct {
	Lines      []AliveVertex
	Children   []childEntry
	TotalBytes int
}

func (g *Graph) childrenOf(i int) []childEntry {
	n := g.Lines[i]
	return g.Children[n.ChildrenStart : n.ChildrenStart+n.NChildren]
}

// retrieve builds an alive sub-graph rooted at root by walking its outgoing
// edges with an explicit stack (ported from
// original_source/libpijul/src/alive/retrieve.rs; must be iterative per
// spec.md §9, graphs can be 10^5+ vertices deep).
//
// Pseudo, block, and deleted edges are all followed (a deleted edge still
// leads to a zombie that must be indexed, e.g. for order-conflict display
// or context repair); only PARENT (reverse orientation) and FOLDER (name
// structure, not file contents) edges are not (spec.md §4.2). A vertex is
// inserted as zombie if any incoming PARENT|DELETED|BLOCK edge exists at
// load time.
func retrieve(txn store.Txn, p *Pristine, channel string, root Vertex) (*Graph, error) {
	g := &Graph{Lines: []AliveVertex{{Vertex: RootVertex}}} // index 0: DUMMY

	index := map[Vertex]int{root: 1}
	g.Lines = append(g.Lines, AliveVertex{Vertex: root})

	type frame struct{ idx int }
	stack := []frame{{idx: 1}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		v := g.Lines[top.idx].Vertex
		edges, err := p.EdgesOf(txn, channel, v)
		if err != nil {
			return nil, wrap(Storage, "retrieve", err)
		}

		zombie := false
		for _, e := range edges {
			if isZombieIncoming(e.Flags) {
				zombie = true
			}
		}
		g.Lines[top.idx].Zombie = zombie

		start := len(g.Children)
		n := 0
		for _, e := range edges {
			if e.Flags.Any(EdgeParent) || e.Flags.Any(EdgeFolder) {
				continue // not followed: reverse orientation or folder structure
			}
			childIdx, seen := index[e.Target]
			if !seen {
				childIdx = len(g.Lines)
				index[e.Target] = childIdx
				g.Lines = append(g.Lines, AliveVertex{Vertex: e.Target})
				stack = append(stack, frame{idx: childIdx})
			}
			edgeCopy := e
			g.Children = append(g.Children, childEntry{Edge: &edgeCopy, Target: childIdx})
			n++
		}
		// terminate the child list with the (None, DUMMY) sentinel
		g.Children = append(g.Children, childEntry{Edge: nil, Target: dummyIndex})
		n++
		g.Lines[top.idx].ChildrenStart = start
		g.Lines[top.idx].NChildren = n
		g.TotalBytes += v.Len()
	}

	return g, nil
}

// deleteSubgraph flags DELETED every live edge keeping root's name entry
// and file contents alive: root's own live incoming (name) edge(s), plus
// every live edge of root's alive subgraph (spec.md §4.6: FileDel "adds
// DELETED edges to a file's name edges (and contents)"). Each new entry
// preserves the flagged edge's original IntroducedBy, matching the
// convention Edit deletions use (record.go's hunkForReplacement), so
// FileUndel can find and retract exactly these entries again.
func deleteSubgraph(txn store.WriteTxn, p *Pristine, channel string, root Vertex) error {
	edges, err := p.EdgesOf(txn, channel, root)
	if err != nil {
		return wrap(Storage, "deleteSubgraph", err)
	}
	for _, e := range edges {
		if !e.Flags.Has(EdgeParent) || e.Flags.Any(EdgeDeleted) {
			continue
		}
		parent := e.Target
		if _, _, err := p.PutEdge(txn, channel, parent, root, Edge{
			Target: root, Flags: e.Flags.WithoutParent() | EdgeDeleted, IntroducedBy: e.IntroducedBy,
		}); err != nil {
			return wrap(Storage, "deleteSubgraph", err)
		}
	}

	g, err := retrieve(txn, p, channel, root)
	if err != nil {
		return wrap(Storage, "deleteSubgraph", err)
	}
	for i := 1; i < len(g.Lines); i++ {
		u := g.Lines[i].Vertex
		for _, c := range g.childrenOf(i) {
			if c.Edge == nil || c.Edge.Flags.Any(EdgeDeleted) {
				continue
			}
			v := g.Lines[c.Target].Vertex
			if _, _, err := p.PutEdge(txn, channel, u, v, Edge{
				Target: v, Flags: c.Edge.Flags | EdgeDeleted, IntroducedBy: c.Edge.IntroducedBy,
			}); err != nil {
				return wrap(Storage, "deleteSubgraph", err)
			}
		}
	}
	return nil
}

// undeleteSubgraph is deleteSubgraph's inverse, retracting the DELETED
// copies it added so root's name entry and contents become reachable
// again (FileUndel).
func undeleteSubgraph(txn store.WriteTxn, p *Pristine, channel string, root Vertex) error {
	edges, err := p.EdgesOf(txn, channel, root)
	if err != nil {
		return wrap(Storage, "undeleteSubgraph", err)
	}
	for _, e := range edges {
		if !e.Flags.Has(EdgeParent) || !e.Flags.Any(EdgeDeleted) {
			continue
		}
		parent := e.Target
		if _, err := p.DeleteEdge(txn, channel, parent, root, e.Flags.WithoutParent(), e.IntroducedBy); err != nil {
			return wrap(Storage, "undeleteSubgraph", err)
		}
	}

	g, err := retrieve(txn, p, channel, root)
	if err != nil {
		return wrap(Storage, "undeleteSubgraph", err)
	}
	for i := 1; i < len(g.Lines); i++ {
		u := g.Lines[i].Vertex
		for _, c := range g.childrenOf(i) {
			if c.Edge == nil || !c.Edge.Flags.Any(EdgeDeleted) {
				continue
			}
			v := g.Lines[c.Target].Vertex
			if _, err := p.DeleteEdge(txn, channel, u, v, c.Edge.Flags, c.Edge.IntroducedBy); err != nil {
				return wrap(Storage, "undeleteSubgraph", err)
			}
		}
	}
	return nil
}

// removeForwardEdges is the composition retrieve → tarjan → dfs → persist
// deletions (spec.md §4.3), invoked after any apply that changed edge
// structure around pos. It garbage-collects pseudo-edges that have become
// transitively redundant.
func removeForwardEdges(p *Pristine, txn store.WriteTxn, channel string, root Vertex) error {
	g, err := retrieve(txn, p, channel, root)
	if err != nil {
		return err
	}
	tarjan(g)
	forward := forwardSCCEdges(g)

	for _, fe := range forward {
		u := g.Lines[fe.from].Vertex
		v := g.Lines[fe.to].Vertex
		if fe.edge.Flags.Any(EdgePseudo) {
			if _, err := p.DeleteEdge(txn, channel, u, v, fe.edge.Flags, fe.edge.IntroducedBy); err != nil {
				return wrap(Storage, "removeForwardEdges", err)
			}
			pseudoEdgesRemoved.Add(bgCtx, 1)
		}
	}
	return nil
}

// repairMissingContexts inserts PSEUDO edges re-connecting surviving
// ancestors and descendants around vertices deleted by id's hunks, so
// Output remains well-formed and Diff's context search remains bounded
// (spec.md §4.7). The walk is bounded: it stops at the first alive vertex
// reached outward from each endpoint of a deleted edge, never traversing
// the full graph (spec.md §4.7, §8 "forward-edge bound").
func repairMissingContexts(p *Pristine, txn store.WriteTxn, channel string, root Vertex, introducedBy ChangeId) error {
	g, err := retrieve(txn, p, channel, root)
	if err != nil {
		return err
	}

	for i := range g.Lines {
		line := &g.Lines[i]
		if line.Zombie {
			continue
		}
		for _, c := range g.childrenOf(i) {
			if c.Edge == nil || !c.Edge.Flags.Any(EdgeDeleted) {
				continue
			}
			u, ok := nearestAlive(txn, p, channel, g, i, false)
			if !ok {
				continue
			}
			v, ok := nearestAlive(txn, p, channel, g, c.Target, true)
			if !ok {
				continue
			}
			if u == v {
				continue
			}
			if _, _, err := p.PutEdge(txn, channel, u, v, Edge{Target: v, Flags: EdgePseudo, IntroducedBy: introducedBy}); err != nil {
				return wrap(Storage, "repairMissingContexts", err)
			}
			pseudoEdgesInserted.Add(bgCtx, 1)
		}
	}
	return nil
}

// nearestAlive walks outward from g.Lines[i] until it finds an alive
// vertex, bounded to a single hop chain per deleted edge so the overall
// repair pass stays O(k) in the number of deleted edges, not O(|graph|)
// (spec.md §4.7, §8). The descendant walk follows the already-materialized
// Graph (cheap index hops, since retrieve's forward-only walk is
// guaranteed to have indexed every descendant already). The ancestor walk
// instead queries the pristine's own PARENT-oriented edges directly via
// p.EdgesOf: an ancestor need not have been visited by that forward-only
// walk, so scanning g for it would mean rescanning every line and every
// child on every hop.
func nearestAlive(txn store.Txn, p *Pristine, channel string, g *Graph, i int, descendant bool) (Vertex, bool) {
	if descendant {
		return nearestAliveDescendant(g, i)
	}
	return nearestAliveAncestor(txn, p, channel, g.Lines[i].Vertex)
}

func nearestAliveDescendant(g *Graph, i int) (Vertex, bool) {
	visited := map[int]bool{}
	cur := i
	for depth := 0; depth < len(g.Lines); depth++ {
		if visited[cur] {
			return Vertex{}, false
		}
		visited[cur] = true
		if !g.Lines[cur].Zombie {
			return g.Lines[cur].Vertex, true
		}
		next := -1
		for _, c := range g.childrenOf(cur) {
			if c.Edge != nil {
				next = c.Target
				break
			}
		}
		if next < 0 {
			return Vertex{}, false
		}
		cur = next
	}
	return Vertex{}, false
}

func nearestAliveAncestor(txn store.Txn, p *Pristine, channel string, start Vertex) (Vertex, bool) {
	visited := map[Vertex]bool{}
	cur := start
	for {
		if visited[cur] {
			return Vertex{}, false
		}
		visited[cur] = true

		edges, err := p.EdgesOf(txn, channel, cur)
		if err != nil {
			return Vertex{}, false
		}
		zombie := false
		for _, e := range edges {
			if isZombieIncoming(e.Flags) {
				zombie = true
				break
			}
		}
		if !zombie {
			return cur, true
		}

		next, found := Vertex{}, false
		for _, e := range edges {
			if e.Flags.Any(EdgeParent) {
				next, found = e.Target, true
				break
			}
		}
		if !found {
			return Vertex{}, false
		}
		cur = next
	}
}
