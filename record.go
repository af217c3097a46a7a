package graft

import (
	"bytes"
	"context"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/graftvcs/graft/store"
)

// defaultSeparator splits working-copy bytes into lines, each keeping its
// trailing separator attached (spec.md §4.5). The renderer's Lines hold one
// entry per vertex instead, and one vertex may span several such lines.
var defaultSeparator = regexp.MustCompile(`\n`)

// splitWorkingCopy splits data on sep, attaching the match to the end of
// the preceding line, mirroring how Output glues vertex payloads (which
// include their own trailing newline).
func splitWorkingCopy(data []byte, sep *regexp.Regexp) []Line {
	if sep == nil {
		sep = defaultSeparator
	}
	var lines []Line
	locs := sep.FindAllIndex(data, -1)
	start := 0
	for _, loc := range locs {
		lines = append(lines, Line{Bytes: data[start:loc[1]]})
		start = loc[1]
	}
	if start < len(data) {
		lines = append(lines, Line{Bytes: data[start:]})
	}
	if len(lines) > 0 {
		lines[len(lines)-1].Last = true
	}
	return lines
}

// RecordOptions configures Record's diff pass.
type RecordOptions struct {
	// Algorithm selects Myers (default, nil) or Patience.
	Algorithm diffAlgorithm
	// Separator overrides the default newline line-splitter.
	Separator *regexp.Regexp
	// Binary forces the Adler32-chunk fallback instead of line-splitting,
	// for files with no known text encoding (spec.md §4.5).
	Binary bool
	Header Header
}

// Record computes the Hunks turning current (the Output of inode's current
// graph state) into working, producing a new unapplied Change (spec.md
// §4.5). Dependencies are resolved against p: the minimal set of Hashes
// any emitted Atom references (spec.md §4.6).
func Record(txn store.Txn, p *Pristine, inode Inode, current *Rendered, working []byte, opts RecordOptions) (_ *Change, err error) {
	ctx, span := startSpan(context.Background(), "Record", "")
	start := time.Now()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		measureOperation(ctx, "Record", "", err == nil, time.Since(start))
	}()

	algo := opts.Algorithm
	if algo == nil {
		algo = myersDiff{}
	}

	var oldLines, newLines []Line
	if opts.Binary {
		oldLines = chunkLines(current.Bytes)
		newLines = chunkLines(working)
	} else {
		oldLines = current.Lines
		newLines = splitWorkingCopy(working, opts.Separator)
	}

	reps := markCyclic(algo.Diff(oldLines, newLines), oldLines)

	var buf bytes.Buffer
	var hunks []Hunk
	for _, r := range reps {
		h, err := hunkForReplacement(inode, oldLines, newLines, r, &buf)
		if err != nil {
			return nil, err
		}
		if h != nil {
			hunks = append(hunks, h)
		}
	}

	deps, err := resolveDependencies(txn, p, hunks)
	if err != nil {
		return nil, err
	}

	header := opts.Header
	if header.Timestamp.IsZero() {
		header.Timestamp = time.Now()
	}

	c := &Change{
		Header:       header,
		Dependencies: deps,
		Hunks:        hunks,
		Contents:     buf.Bytes(),
	}
	return c, nil
}

// resolveDependencies maps the ChangeIds hunks reference to Hashes,
// restricted to the minimal antichain: a dependency already implied by
// another (i.e. one of the pristine's recorded dependencies of another
// referenced change) is dropped (spec.md §4.6).
func resolveDependencies(txn store.Txn, p *Pristine, hunks []Hunk) ([]Hash, error) {
	ids := dependencyTargets(hunks)
	implied := make(map[ChangeId]bool)
	for _, id := range ids {
		deps, err := p.Dependencies(txn, id)
		if err != nil {
			return nil, wrap(Storage, "resolveDependencies", err)
		}
		for _, d := range deps {
			implied[d] = true
		}
	}
	var out []Hash
	for _, id := range ids {
		if implied[id] {
			continue
		}
		h, ok, err := p.HashOf(txn, id)
		if err != nil {
			return nil, wrap(Storage, "resolveDependencies", err)
		}
		if ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// hunkForReplacement builds one Hunk per Replacement (spec.md §4.5's
// emission rules): a pure delete becomes an Edit marking DELETED edges; a
// pure insert becomes an Edit carrying a NewVertex; a replace coalesces
// both, wrapped in SolveOrderConflict when the old range was cyclic.
func hunkForReplacement(inode Inode, old, new []Line, r lineReplacement, buf *bytes.Buffer) (Hunk, error) {
	var m EdgeMap
	for i := r.OldStart; i < r.OldStart+r.OldLen; i++ {
		v := old[i].Vertex
		for _, in := range old[i].Incoming {
			m.Edges = append(m.Edges, EdgeMapEntry{
				From:         in.From,
				To:           v,
				Flag:         EdgeBlock | EdgeDeleted,
				IntroducedBy: in.IntroducedBy,
			})
		}
	}

	if r.NewLen == 0 {
		if len(m.Edges) == 0 {
			return nil, nil
		}
		return Edit{Map: m, Inode: inode}, nil
	}

	start := buf.Len()
	for i := r.NewStart; i < r.NewStart+r.NewLen; i++ {
		buf.Write(new[i].Bytes)
	}
	end := buf.Len()

	nv := NewVertex{
		Start: ChangePosition(start),
		End:   ChangePosition(end),
		Flag:  EdgeBlock,
	}
	up := lineVertexBefore(old, r.OldStart)
	if up.IsRoot() && r.OldStart < len(old) && len(old[r.OldStart].Incoming) > 0 {
		// No line precedes the range: anchor to what feeds its first old
		// line (the file's inode vertex when the range starts the file).
		up = old[r.OldStart].Incoming[0].From
	}
	if !up.IsRoot() {
		nv.UpContext = append(nv.UpContext, up)
	}
	if down := lineVertexAfter(old, r.OldStart+r.OldLen); !down.IsRoot() {
		nv.DownContext = append(nv.DownContext, down)
	}

	if r.OldLen == 0 {
		return Edit{Map: m, Vertex: &nv, Inode: inode}, nil
	}
	if r.Cyclic {
		return SolveOrderConflict{Map: m, Vertex: nv, Inode: inode}, nil
	}
	return Replacement{Map: m, Vertex: nv, Inode: inode, IsCyclic: false}, nil
}

func lineVertexBefore(lines []Line, i int) Vertex {
	for j := i - 1; j >= 0; j-- {
		if !lines[j].Vertex.IsRoot() {
			return lines[j].Vertex
		}
	}
	return RootVertex
}

func lineVertexAfter(lines []Line, i int) Vertex {
	for j := i; j < len(lines); j++ {
		if !lines[j].Vertex.IsRoot() {
			return lines[j].Vertex
		}
	}
	return RootVertex
}
