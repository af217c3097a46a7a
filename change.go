package graft

import (
	"encoding/gob"
	"sort"
	"time"
)

// Header carries the human-facing metadata of a Change (spec.md §3).
type Header struct {
	Message     string
	Description string
	Authors     []string
	Timestamp   time.Time
}

// Change is an immutable, content-addressed bundle of typed graph
// operations (spec.md §3). It is never mutated after creation; Record
// produces one, Apply consumes one, Unrecord removes one from a channel's
// log (but need not remove it from a ChangeStore).
type Change struct {
	Header       Header
	Dependencies []Hash
	ExtraKnown   []Hash
	Hunks        []Hunk
	Contents     []byte
	ContentsHash Hash
}

// hashedPart is the subset of fields the external Hash is computed over:
// header + deps + extra + hashed_changes + contents_hash, explicitly not
// the raw contents themselves (spec.md §3).
type hashedPart struct {
	Header       Header
	Dependencies []Hash
	ExtraKnown   []Hash
	Hunks        []Hunk
	ContentsHash Hash
}

// Hash computes the Change's external content-address over its hashed
// part's exported fields, via the reflective field walk in
// contentaddress.go. Byte-identical hashed parts always hash identically;
// any single-byte change anywhere in header, dependencies, hunks, or
// contents_hash changes the result (spec.md §8 "Hash stability"). Panics
// only if a Hunk variant's field types fall outside what hashValue
// supports, which would be a programming error caught long before a
// Change reaches this call.
func (c *Change) Hash() Hash {
	c.ContentsHash = HashBytes(c.Contents)
	h, err := contentAddress(hashedPart{
		Header:       c.Header,
		Dependencies: c.Dependencies,
		ExtraKnown:   c.ExtraKnown,
		Hunks:        c.Hunks,
		ContentsHash: c.ContentsHash,
	})
	if err != nil {
		panic("graft: hash hashed part: " + err.Error())
	}
	return h
}

// Encode serializes the full Change (including contents) for storage.
func (c *Change) Encode() []byte { return gobEncode(*c) }

// DecodeChange deserializes a Change previously produced by Encode.
func DecodeChange(data []byte) (*Change, error) {
	var c Change
	if err := gobDecode(data, &c); err != nil {
		return nil, wrap(Integrity, "DecodeChange", err)
	}
	return &c, nil
}

// Invert returns a Change whose Hunks are the deterministic inverse of c's,
// applied in reverse order (so the resulting stream undoes c's effects
// atom-by-atom from the last hunk backward), used by Unrecord (spec.md
// §4.6, §4.7).
func (c *Change) Invert() *Change {
	inv := &Change{
		Header: Header{
			Message:   "revert: " + c.Header.Message,
			Timestamp: c.Header.Timestamp,
		},
		Contents: c.Contents,
	}
	inv.Hunks = make([]Hunk, len(c.Hunks))
	for i, h := range c.Hunks {
		inv.Hunks[len(c.Hunks)-1-i] = h.invert()
	}
	return inv
}

// dependencyTargets returns the distinct ChangeIds that the Positions of
// all hunks reference, sorted ascending, excluding RootChangeId.
func dependencyTargets(hunks []Hunk) []ChangeId {
	seen := make(map[ChangeId]struct{})
	var out []ChangeId
	for _, h := range hunks {
		for _, v := range h.targets() {
			if v.Change == RootChangeId {
				continue
			}
			if _, ok := seen[v.Change]; !ok {
				seen[v.Change] = struct{}{}
				out = append(out, v.Change)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func init() {
	gob.Register(Header{})
}
