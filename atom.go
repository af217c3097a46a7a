package graft

// NewVertex introduces a fresh Vertex spanning [Start, End) of the
// enclosing Change's contents buffer, linked into the graph via up/down
// context edges to existing vertices (spec.md §4.6: Atom = NewVertex |
// EdgeMap).
type NewVertex struct {
	UpContext   []Vertex
	DownContext []Vertex
	Start       ChangePosition
	End         ChangePosition
	// Flag is the flag carried by the edges connecting this vertex to its
	// contexts (e.g. EdgeFolder for a name edge, EdgeBlock for a content
	// line).
	Flag EdgeFlags
}

// vertex returns the Vertex this atom introduces, addressed within change
// id (the ChangeId the enclosing Change is assigned once applied).
func (n NewVertex) vertex(id ChangeId) Vertex {
	return Vertex{Change: id, Start: n.Start, End: n.End}
}

// EdgeMapEntry is one edge insertion, update, or deletion recorded by an
// EdgeMap atom. Previous records the flags the matching stored edge had
// before this atom touched it, enabling exact deterministic inversion
// without consulting the pristine (spec.md §4.6).
type EdgeMapEntry struct {
	From         Vertex
	To           Vertex
	Flag         EdgeFlags
	Previous     EdgeFlags
	HadPrevious  bool
	IntroducedBy ChangeId
}

// EdgeMap is a batch of edge insertions/updates/deletions touching vertices
// that already exist (spec.md §4.6).
type EdgeMap struct {
	Edges []EdgeMapEntry
}
