package graft

// forwardEdge names one (u, v) edge found redundant by tarjan: v is already
// fully explored via some other path by the time u's DFS visits it, so the
// direct edge contributes no additional reachability.
type forwardEdge struct {
	from, to int
	edge     Edge
}

// tarjan computes strongly connected components of g using an explicit
// stack (ported from original_source/libpijul/src/alive/tarjan.rs; must be
// iterative, spec.md §9: graphs can exceed Go's default goroutine stack
// depth for a recursive walk). It fills each AliveVertex's Index, Lowlink,
// and SCC fields; SCC ids are assigned in completion order, so an edge
// crossing components always points from a larger SCC id to a smaller one.
func tarjan(g *Graph) {
	n := len(g.Lines)
	onStack := make([]bool, n)
	var dfsStack []int
	var componentStack []int
	nextIndex := 0
	nextSCC := 0

	type childCursor struct {
		v   int
		pos int
	}
	var callStack []childCursor

	for start := 1; start < n; start++ {
		if g.Lines[start].Index != 0 || start == 0 {
			continue
		}
		callStack = append(callStack, childCursor{v: start, pos: 0})
		g.Lines[start].Index = nextIndex + 1
		g.Lines[start].Lowlink = nextIndex + 1
		nextIndex++
		componentStack = append(componentStack, start)
		onStack[start] = true
		dfsStack = append(dfsStack, start)

		for len(callStack) > 0 {
			top := &callStack[len(callStack)-1]
			children := g.childrenOf(top.v)
			advanced := false
			for top.pos < len(children) {
				c := children[top.pos]
				top.pos++
				if c.Edge == nil {
					continue
				}
				w := c.Target
				if g.Lines[w].Index == 0 {
					g.Lines[w].Index = nextIndex + 1
					g.Lines[w].Lowlink = nextIndex + 1
					nextIndex++
					componentStack = append(componentStack, w)
					onStack[w] = true
					dfsStack = append(dfsStack, w)
					callStack = append(callStack, childCursor{v: w, pos: 0})
					advanced = true
					break
				} else if onStack[w] {
					if g.Lines[w].Index < g.Lines[top.v].Lowlink {
						g.Lines[top.v].Lowlink = g.Lines[w].Index
					}
				}
			}
			if advanced {
				continue
			}
			// top.v fully explored: pop it, propagate lowlink to its caller.
			callStack = callStack[:len(callStack)-1]
			v := top.v
			if len(callStack) > 0 {
				caller := &callStack[len(callStack)-1]
				if g.Lines[v].Lowlink < g.Lines[caller.v].Lowlink {
					g.Lines[caller.v].Lowlink = g.Lines[v].Lowlink
				}
			}
			if g.Lines[v].Lowlink == g.Lines[v].Index {
				multi := false
				for {
					w := dfsStack[len(dfsStack)-1]
					dfsStack = dfsStack[:len(dfsStack)-1]
					onStack[w] = false
					g.Lines[w].SCC = nextSCC
					if w != v {
						multi = true
					}
					if w == v {
						break
					}
				}
				if multi {
					conflictRegions.Add(bgCtx, 1)
				}
				nextSCC++
			}
		}
		componentStack = componentStack[:0]
	}
}

// forwardSCCEdges returns every PSEUDO edge (u, v) that crosses strongly
// connected components and whose removal leaves v still reachable from u by
// another path, i.e. it contributes nothing to connectivity beyond what the
// surviving block/pseudo structure already provides (spec.md §4.3).
//
// A cross-component edge where the source vertex has more than one outgoing
// edge into v's component is redundant: the remaining edge(s) already carry
// reachability, so this one is safe to drop.
func forwardSCCEdges(g *Graph) []forwardEdge {
	// count, per (source SCC, target SCC) pair, how many edges connect them
	counts := make(map[[2]int]int)
	for i := range g.Lines {
		for _, c := range g.childrenOf(i) {
			if c.Edge == nil {
				continue
			}
			su, sv := g.Lines[i].SCC, g.Lines[c.Target].SCC
			if su == sv {
				continue
			}
			counts[[2]int{su, sv}]++
		}
	}

	var out []forwardEdge
	for i := range g.Lines {
		for _, c := range g.childrenOf(i) {
			if c.Edge == nil || !c.Edge.Flags.Any(EdgePseudo) {
				continue
			}
			su, sv := g.Lines[i].SCC, g.Lines[c.Target].SCC
			if su == sv {
				continue
			}
			if counts[[2]int{su, sv}] > 1 {
				out = append(out, forwardEdge{from: i, to: c.Target, edge: *c.Edge})
			}
		}
	}
	return out
}
