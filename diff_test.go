package graft

import "testing"

func linesOf(strs ...string) []Line {
	lines := make([]Line, len(strs))
	for i, s := range strs {
		lines[i] = Line{Bytes: []byte(s)}
	}
	if len(lines) > 0 {
		lines[len(lines)-1].Last = true
	}
	return lines
}

func TestMyersDiffIdentical(t *testing.T) {
	lines := linesOf("a\n", "b\n", "c\n")
	reps := myersDiff{}.Diff(lines, lines)
	if len(reps) != 0 {
		t.Errorf("Diff(identical) = %v, want no replacements", reps)
	}
}

func TestMyersDiffAppend(t *testing.T) {
	old := linesOf("a\n", "b\n")
	new := linesOf("a\n", "b\n", "c\n")
	reps := myersDiff{}.Diff(old, new)
	if len(reps) != 1 {
		t.Fatalf("Diff(append) = %v, want 1 replacement", reps)
	}
	r := reps[0]
	if r.OldLen != 0 || r.NewStart != 2 || r.NewLen != 1 {
		t.Errorf("Diff(append) = %+v, want pure insert at new[2:3]", r)
	}
}

func TestMyersDiffReplaceMiddle(t *testing.T) {
	old := linesOf("a\n", "b\n", "c\n")
	new := linesOf("a\n", "x\n", "c\n")
	reps := myersDiff{}.Diff(old, new)
	if len(reps) != 1 {
		t.Fatalf("Diff(replace) = %v, want 1 replacement", reps)
	}
	r := reps[0]
	if r.OldStart != 1 || r.OldLen != 1 || r.NewStart != 1 || r.NewLen != 1 {
		t.Errorf("Diff(replace) = %+v, want old[1:2] -> new[1:2]", r)
	}
}

func TestPatienceDiffReordersAroundUniqueAnchors(t *testing.T) {
	old := linesOf("import-a\n", "common\n", "import-b\n")
	new := linesOf("import-b\n", "common\n", "import-a\n")
	reps := patienceDiff{}.Diff(old, new)
	if len(reps) == 0 {
		t.Fatal("Diff(reordered) reported no changes for a genuine reorder")
	}
	// All three lines are unique on both sides, but their new indices
	// (2, 1, 0) fall as the old indices rise, so every increasing run has
	// length 1 and the pile walk keeps the last candidate: "import-b"
	// anchors, and no replacement's old range may include its index (2).
	for _, r := range reps {
		if r.OldStart <= 2 && 2 < r.OldStart+r.OldLen {
			t.Errorf("replacement %+v covers the shared anchor line", r)
		}
	}
}

func TestChunkLinesMarksLast(t *testing.T) {
	data := make([]byte, binaryChunkSize+10)
	lines := chunkLines(data)
	if len(lines) != 2 {
		t.Fatalf("chunkLines produced %d chunks, want 2", len(lines))
	}
	if !lines[1].Last {
		t.Error("final chunk not marked Last")
	}
	if lines[0].Last {
		t.Error("non-final chunk marked Last")
	}
}
