package graft

// EdgeFlags is the bitfield carried by every Edge. The graph is stored
// symmetrically: every inserted edge is stored twice, once in each
// direction, with the PARENT bit flipped on the reverse copy. See
// original_source/libpijul/src/pristine/edge.rs.
type EdgeFlags uint8

const (
	// EdgeBlock marks a structural edge that participates in ordering.
	EdgeBlock EdgeFlags = 1 << iota
	// EdgePseudo marks a synthetic connectivity edge inserted during apply
	// to preserve reachability after a deletion. Recomputable; never
	// recorded into a Change.
	EdgePseudo
	// EdgeFolder marks edges that encode file-tree structure (name/inode
	// vertices).
	EdgeFolder
	// EdgeDeleted marks an edge logically removed by some change but
	// retained because other changes depend on its endpoints.
	EdgeDeleted
	// EdgeParent marks the reverse orientation of a stored directed edge.
	EdgeParent
)

// Has reports whether all bits in want are set in f.
func (f EdgeFlags) Has(want EdgeFlags) bool { return f&want == want }

// Any reports whether any bit in want is set in f.
func (f EdgeFlags) Any(want EdgeFlags) bool { return f&want != 0 }

// WithoutParent returns f with the PARENT bit cleared. (flags-without-PARENT,
// introduced_by) uniquely identifies an edge between a given (u, v).
func (f EdgeFlags) WithoutParent() EdgeFlags { return f &^ EdgeParent }

func (f EdgeFlags) String() string {
	var parts []byte
	add := func(bit EdgeFlags, c byte) {
		if f.Any(bit) {
			parts = append(parts, c)
		}
	}
	add(EdgeBlock, 'B')
	add(EdgePseudo, 'P')
	add(EdgeFolder, 'F')
	add(EdgeDeleted, 'D')
	add(EdgeParent, 'R')
	if len(parts) == 0 {
		return "-"
	}
	return string(parts)
}

// Edge is a directed edge from one Vertex to another (or to the position it
// targets), carrying EdgeFlags and the ChangeId that introduced it.
type Edge struct {
	Target      Vertex
	Flags       EdgeFlags
	IntroducedBy ChangeId
}

// key is the identity of an edge between a given (u, v) pair: flags without
// PARENT plus the introducing change. Two inserts with the same key to the
// same (u, v) collapse into one stored edge (insert-or-update).
type edgeKey struct {
	target Vertex
	flags  EdgeFlags // already WithoutParent
	intro  ChangeId
}

func (e Edge) key() edgeKey {
	return edgeKey{target: e.Target, flags: e.Flags.WithoutParent(), intro: e.IntroducedBy}
}

// flipped returns the PARENT-oriented counterpart of e as stored from the
// perspective of e.Target, pointing back at from.
func (e Edge) flipped(from Vertex) Edge {
	return Edge{Target: from, Flags: e.Flags ^ EdgeParent, IntroducedBy: e.IntroducedBy}
}

// isZombieIncoming reports whether an incoming edge with these flags is one
// of the PARENT|DELETED|BLOCK combinations that denote a zombie-only
// reference (i.e. it does not keep the edge's target alive on its own).
func isZombieIncoming(f EdgeFlags) bool {
	return f.Has(EdgeParent|EdgeDeleted|EdgeBlock)
}
