package graft

import (
	"bytes"
	"encoding/binary"
	"hash/adler32"
)

// lineReplacement is one contiguous old-range/new-range pair a diff
// algorithm emits (spec.md §4.5): delete old[OldStart:OldStart+OldLen),
// insert new[NewStart:NewStart+NewLen) in its place. Either length may be
// zero (pure insert or pure delete).
type lineReplacement struct {
	OldStart, OldLen int
	NewStart, NewLen int
	// Cyclic is set when OldLen > 0 and the old range overlaps a cyclic
	// conflict region, so Record must emit a SolveOrderConflict rather than
	// a plain Edit (spec.md §4.5).
	Cyclic bool
}

// diffAlgorithm computes the minimal replacement sequence turning old into
// new at line granularity (spec.md §4.5: "Algorithms offered: Myers
// (default) and Patience").
type diffAlgorithm interface {
	Diff(old, new []Line) []lineReplacement
}

// Myers returns the default diff algorithm, suitable for RecordOptions.Algorithm.
func Myers() diffAlgorithm { return myersDiff{} }

// Patience returns the patience-diff algorithm, which avoids matching
// common short lines out of order at the cost of falling back to Myers
// within ambiguous regions.
func Patience() diffAlgorithm { return patienceDiff{} }

// lineEqual is the equivalence spec.md §4.5 requires: equal bytes and
// equal cyclic flag, with a relaxation at conflict boundaries (a line
// immediately before an end marker is compared ignoring a missing
// trailing newline, since the marker itself supplies the line break).
func lineEqual(a, b Line) bool {
	if a.Cyclic != b.Cyclic {
		return false
	}
	if bytes.Equal(a.Bytes, b.Bytes) {
		return true
	}
	if a.BeforeEndMarker || b.BeforeEndMarker {
		return bytes.Equal(bytes.TrimRight(a.Bytes, "\n"), bytes.TrimRight(b.Bytes, "\n"))
	}
	return false
}

// --- Myers ---

type myersDiff struct{}

// Diff implements the classic Myers O(ND) greedy algorithm (Myers 1986),
// grounded on original_source/libpijul/src/diff/diff.rs's Algorithm::Myers
// variant. It operates on the caller-supplied line table directly; no
// recursion beyond Go's call stack for the edit-graph backtrack, which is
// bounded by the number of edits, not file size.
func (myersDiff) Diff(old, new []Line) []lineReplacement {
	ops := myersOps(old, new)
	return opsToReplacements(ops)
}

type opKind int

const (
	opKeep opKind = iota
	opDelete
	opInsert
)

type op struct {
	kind opKind
	oldI int
	newI int
}

func myersOps(old, new []Line) []op {
	n, m := len(old), len(new)
	if n == 0 && m == 0 {
		return nil
	}
	max := n + m
	if max == 0 {
		max = 1
	}
	offset := max
	size := 2*max + 1
	vs := make([][]int, 0, max+1)

	v := make([]int, size)
	trace := func() (int, []int) {
		for d := 0; d <= max; d++ {
			vCopy := append([]int(nil), v...)
			for k := -d; k <= d; k += 2 {
				var x int
				if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
					x = v[offset+k+1]
				} else {
					x = v[offset+k-1] + 1
				}
				y := x - k
				for x < n && y < m && lineEqual(old[x], new[y]) {
					x++
					y++
				}
				v[offset+k] = x
				if x >= n && y >= m {
					vs = append(vs, vCopy)
					return d, v
				}
			}
			vs = append(vs, vCopy)
		}
		return max, v
	}

	d, _ := trace()

	// backtrack
	var ops []op
	x, y := n, m
	for depth := d; depth > 0; depth-- {
		vPrev := vs[depth]
		k := x - y
		var prevK int
		if k == -depth || (k != depth && vPrev[offset+k-1] < vPrev[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := vPrev[offset+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			ops = append(ops, op{kind: opKeep, oldI: x - 1, newI: y - 1})
			x--
			y--
		}
		if x == prevX {
			ops = append(ops, op{kind: opInsert, newI: y - 1})
			y--
		} else {
			ops = append(ops, op{kind: opDelete, oldI: x - 1})
			x--
		}
		x, y = prevX, prevY
	}
	for x > 0 && y > 0 {
		ops = append(ops, op{kind: opKeep, oldI: x - 1, newI: y - 1})
		x--
		y--
	}

	// reverse
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}

func opsToReplacements(ops []op) []lineReplacement {
	var reps []lineReplacement
	i := 0
	for i < len(ops) {
		if ops[i].kind == opKeep {
			i++
			continue
		}
		start := i
		oldStart, newStart := -1, -1
		oldLen, newLen := 0, 0
		for i < len(ops) && ops[i].kind != opKeep {
			if ops[i].kind == opDelete {
				if oldStart < 0 {
					oldStart = ops[i].oldI
				}
				oldLen++
			} else {
				if newStart < 0 {
					newStart = ops[i].newI
				}
				newLen++
			}
			i++
		}
		if oldStart < 0 {
			oldStart = adjacentOldIndex(ops, start)
		}
		if newStart < 0 {
			newStart = adjacentNewIndex(ops, start)
		}
		reps = append(reps, lineReplacement{OldStart: oldStart, OldLen: oldLen, NewStart: newStart, NewLen: newLen})
	}
	return reps
}

func adjacentOldIndex(ops []op, i int) int {
	for j := i - 1; j >= 0; j-- {
		if ops[j].kind != opInsert {
			return ops[j].oldI + 1
		}
	}
	return 0
}

func adjacentNewIndex(ops []op, i int) int {
	for j := i - 1; j >= 0; j-- {
		if ops[j].kind != opDelete {
			return ops[j].newI + 1
		}
	}
	return 0
}

// --- Patience ---

type patienceDiff struct{}

// Diff implements patience diff: match lines unique to both sides in their
// relative order (the longest increasing subsequence of new-indices over
// old-index order), then Myers-diff each unmatched stretch between
// anchors. Grounded on the same Algorithm enum as Myers
// (original_source/libpijul/src/diff/diff.rs); useful when large
// reordered blocks would otherwise confuse Myers's minimal-edit-distance
// bias.
func (patienceDiff) Diff(old, new []Line) []lineReplacement {
	anchors := patienceAnchors(old, new)
	if len(anchors) == 0 {
		return myersDiff{}.Diff(old, new)
	}

	var reps []lineReplacement
	prevOld, prevNew := 0, 0
	for _, a := range anchors {
		if a.oldI > prevOld || a.newI > prevNew {
			sub := myersDiff{}.Diff(old[prevOld:a.oldI], new[prevNew:a.newI])
			for _, r := range sub {
				r.OldStart += prevOld
				r.NewStart += prevNew
				reps = append(reps, r)
			}
		}
		prevOld, prevNew = a.oldI+1, a.newI+1
	}
	if prevOld < len(old) || prevNew < len(new) {
		sub := myersDiff{}.Diff(old[prevOld:], new[prevNew:])
		for _, r := range sub {
			r.OldStart += prevOld
			r.NewStart += prevNew
			reps = append(reps, r)
		}
	}
	return reps
}

type anchor struct{ oldI, newI int }

func patienceAnchors(old, new []Line) []anchor {
	oldCount := map[string]int{}
	oldIdx := map[string]int{}
	for i, l := range old {
		k := lineKey(l)
		oldCount[k]++
		oldIdx[k] = i
	}
	newCount := map[string]int{}
	newIdx := map[string]int{}
	for i, l := range new {
		k := lineKey(l)
		newCount[k]++
		newIdx[k] = i
	}

	var candidates []anchor
	for k, oc := range oldCount {
		if oc != 1 {
			continue
		}
		if nc := newCount[k]; nc == 1 {
			candidates = append(candidates, anchor{oldI: oldIdx[k], newI: newIdx[k]})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sortAnchors(candidates)
	return longestIncreasingByNewIndex(candidates)
}

// lineKey is the candidate-anchor key patienceAnchors groups lines by: an
// Adler32 checksum plus length (spec.md §4.5's rolling-Adler32 chunk
// idiom, reused here as a cheap equality key so large binary chunks don't
// need a full byte compare just to find unique matches), combined with
// the cyclic flag since a cyclic and non-cyclic line are never equal.
func lineKey(l Line) string {
	var buf [9]byte
	binary.BigEndian.PutUint32(buf[0:4], adler32.Checksum(l.Bytes))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(l.Bytes)))
	if l.Cyclic {
		buf[8] = 1
	}
	return string(buf[:])
}

func sortAnchors(a []anchor) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j-1].oldI > a[j].oldI; j-- {
			a[j-1], a[j] = a[j], a[j-1]
		}
	}
}

// longestIncreasingByNewIndex returns the longest subsequence of anchors
// (already sorted by oldI) whose newI is strictly increasing, via
// patience-sort piles (hence the algorithm's name).
func longestIncreasingByNewIndex(a []anchor) []anchor {
	piles := []int{} // indices into a, one per pile top
	prev := make([]int, len(a))
	for i := range prev {
		prev[i] = -1
	}
	for i, x := range a {
		lo, hi := 0, len(piles)
		for lo < hi {
			mid := (lo + hi) / 2
			if a[piles[mid]].newI < x.newI {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			prev[i] = piles[lo-1]
		}
		if lo == len(piles) {
			piles = append(piles, i)
		} else {
			piles[lo] = i
		}
	}
	if len(piles) == 0 {
		return nil
	}
	var out []anchor
	for i := piles[len(piles)-1]; i >= 0; i = prev[i] {
		out = append(out, a[i])
		if prev[i] < 0 {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// --- binary fallback ---

const binaryChunkSize = 8192

// chunkLines partitions data into consecutive binaryChunkSize chunks at
// fixed offsets, each becoming a pseudo-Line. Chunk boundaries are not
// chosen by a rolling checksum, so an insertion shifts every later
// boundary. Myers compares chunks byte for byte; only Patience keys them,
// by lineKey's Adler32 checksum plus length.
func chunkLines(data []byte) []Line {
	var lines []Line
	for i := 0; i < len(data); i += binaryChunkSize {
		end := i + binaryChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]
		lines = append(lines, Line{Bytes: chunk})
	}
	if len(lines) > 0 {
		lines[len(lines)-1].Last = true
	}
	return lines
}

// markCyclic sets Cyclic=true on every line of reps whose old range
// overlaps any line already flagged cyclic in old, so Record can decide
// per-replacement whether to emit a SolveOrderConflict (spec.md §4.5).
func markCyclic(reps []lineReplacement, old []Line) []lineReplacement {
	for i, r := range reps {
		for j := r.OldStart; j < r.OldStart+r.OldLen && j < len(old); j++ {
			if old[j].Cyclic {
				reps[i].Cyclic = true
				break
			}
		}
	}
	return reps
}
