// Package graft implements a content-addressed, graph-based version control
// engine: an in-memory pristine graph, the algorithms that linearize it into
// a file (output), the algorithms that turn a working-copy edit back into
// graph operations (diff/record), and the apply/unrecord semantics that
// mutate the pristine from a change.
//
// Network transport, on-disk B-tree layout, change-file wire serialization
// beyond what the engine must see, working-copy I/O, and Git import are
// out of scope; those are treated as external collaborators behind small
// interfaces (WorkingCopy, store.Store, changestore.Store).
package graft

import (
	"crypto/sha256"
	"crypto/sha3"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// ChangeId is a compact internal identifier for a change within one
// repository's pristine. It is dense (assigned on first apply) and is
// distinct from the change's external Hash.
type ChangeId uint64

// RootChangeId is the ChangeId reserved for the repository root; no real
// change is ever assigned it.
const RootChangeId ChangeId = 0

// ChangePosition is an offset within the byte payload of one change.
type ChangePosition uint64

// Position is a byte-granular location in the repository: an offset within
// the payload of a specific change.
type Position struct {
	Change ChangeId
	Pos    ChangePosition
}

// Vertex is a contiguous byte range within one change. start == end denotes
// a marker vertex (carries no bytes, e.g. a file/inode node).
type Vertex struct {
	Change ChangeId
	Start  ChangePosition
	End    ChangePosition
}

// RootVertex is the all-zero sentinel vertex representing the repository
// root.
var RootVertex = Vertex{}

// IsRoot reports whether v is the root sentinel.
func (v Vertex) IsRoot() bool { return v == RootVertex }

// IsMarker reports whether v carries no bytes (start == end).
func (v Vertex) IsMarker() bool { return v.Start == v.End }

// Len returns the number of bytes the vertex spans.
func (v Vertex) Len() int { return int(v.End - v.Start) }

func (v Vertex) String() string {
	return fmt.Sprintf("%d[%d:%d]", v.Change, v.Start, v.End)
}

// hashAlgorithm tags the algorithm a Hash was computed with. Only one
// non-null algorithm is defined: the corpus this engine was grounded on has
// no BLAKE3 implementation, so SHA3-256 stands in for the "256-bit
// cryptographic digest, one null value" contract (see DESIGN.md).
type hashAlgorithm byte

const (
	hashNull  hashAlgorithm = 0
	hashSHA3  hashAlgorithm = 1
	hashBytes               = 32
	hashEncodedLen          = 53 // 1 + 32 bytes, base32-nopad
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Hash is the external, content-addressed digest of a Change: a one-byte
// algorithm tag followed by a 256-bit digest. The zero value is the "null"
// hash reserved for the synthetic root change.
type Hash struct {
	algo   hashAlgorithm
	digest [hashBytes]byte
}

// IsNull reports whether h is the reserved null hash.
func (h Hash) IsNull() bool { return h.algo == hashNull }

// HashBytes computes the Hash of b using the engine's default algorithm.
func HashBytes(b []byte) Hash {
	d := sha3.Sum256(b)
	return Hash{algo: hashSHA3, digest: d}
}

// String renders h as a 1-byte-tag + 32-byte digest, base32-nopad encoded.
func (h Hash) String() string {
	var buf [1 + hashBytes]byte
	buf[0] = byte(h.algo)
	copy(buf[1:], h.digest[:])
	return b32.EncodeToString(buf[:])
}

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// MarshalBinary gives Hash a canonical fixed-width representation, picked
// up by contentAddress's BinaryMarshaler fast path so a Hash embedded in a
// hashed struct (e.g. Change.ContentsHash) contributes its digest rather
// than being walked field-by-field (its fields are unexported).
func (h Hash) MarshalBinary() ([]byte, error) {
	var buf [1 + hashBytes]byte
	buf[0] = byte(h.algo)
	copy(buf[1:], h.digest[:])
	return buf[:], nil
}

// GobEncode/GobDecode let Hash cross a gob boundary (Change.Encode,
// changestore's on-disk segments): Hash's fields are unexported, so
// without these gob would see zero exported fields and refuse to encode it.
func (h Hash) GobEncode() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) GobDecode(data []byte) error {
	parsed, err := ParseHash(string(data))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a full or truncated-prefix base32 Hash string. Any
// prefix of at most hashEncodedLen characters is accepted; it is padded
// with 'A' (the zero symbol in base32-nopad) to the full length before
// decoding, matching the original engine's truncated-prefix convention.
func ParseHash(s string) (Hash, error) {
	if len(s) > hashEncodedLen {
		return Hash{}, &Error{Kind: Integrity, Op: "ParseHash", Err: fmt.Errorf("hash %q too long", s)}
	}
	if len(s) < hashEncodedLen {
		s = s + strings.Repeat("A", hashEncodedLen-len(s))
	}
	raw, err := b32.DecodeString(s)
	if err != nil {
		return Hash{}, &Error{Kind: Integrity, Op: "ParseHash", Err: err}
	}
	if len(raw) != 1+hashBytes {
		return Hash{}, &Error{Kind: Integrity, Op: "ParseHash", Err: fmt.Errorf("decoded length %d", len(raw))}
	}
	var h Hash
	h.algo = hashAlgorithm(raw[0])
	copy(h.digest[:], raw[1:])
	if h.algo != hashNull && h.algo != hashSHA3 {
		return Hash{}, &Error{Kind: Integrity, Op: "ParseHash", Err: fmt.Errorf("unknown hash algorithm tag %d", h.algo)}
	}
	return h, nil
}

// Merkle is a commutative, associative accumulator over the multiset of
// ChangeIds (identified by Hash) applied to a channel: equal states denote
// equal applied sets, independent of application order.
//
// Open Question resolution (see DESIGN.md): the original engine accumulates
// an elliptic-curve point; no EC point-addition library exists anywhere in
// the reference corpus, so a SHA-256 XOR-fold stands in. XOR-folding
// per-hash digests is commutative and associative by construction, which is
// the only property spec.md's testable Merkle invariant actually requires.
type Merkle [sha256.Size]byte

// Fold accumulates h's digest into m and returns the new state. m is left
// unmodified; the folded state is returned.
func (m Merkle) Fold(h Hash) Merkle {
	sum := sha256.Sum256([]byte(h.String()))
	var out Merkle
	for i := range out {
		out[i] = m[i] ^ sum[i]
	}
	return out
}

func (m Merkle) String() string { return b32.EncodeToString(m[:]) }

// foldAll sorts Hashes into a deterministic accumulation order so a Merkle state
// recomputed from a persisted changeset always matches the incrementally
// folded one, independent of map iteration order.
func foldAll(hashes []Hash) Merkle {
	sorted := append([]Hash(nil), hashes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	var m Merkle
	for _, h := range sorted {
		m = m.Fold(h)
	}
	return m
}

// Inode is an opaque handle mapping a working-copy path to the Position of
// its inode vertex.
type Inode uint64

// InodeMetadata packs unix permission bits and a directory flag into 16
// bits: bit 0 (lowest) is the directory flag; bits 1..9 are permission bits.
type InodeMetadata uint16

const inodeDirFlag InodeMetadata = 1

func NewInodeMetadata(perm uint16, isDir bool) InodeMetadata {
	m := InodeMetadata(perm) << 1
	if isDir {
		m |= inodeDirFlag
	}
	return m
}

func (m InodeMetadata) IsDir() bool  { return m&inodeDirFlag != 0 }
func (m InodeMetadata) Perm() uint16 { return uint16(m >> 1) }

// positionBytes little-endian-encodes a ChangePosition, matching the
// original engine's 64-bit LE payload offset encoding.
func positionBytes(p ChangePosition) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(p))
	return b
}
