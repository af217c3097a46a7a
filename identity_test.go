package graft

import (
	"bytes"
	"encoding/gob"
	"testing"
)

func TestHashRoundTrip(t *testing.T) {
	h := HashBytes([]byte("hello world"))

	got, err := ParseHash(h.String())
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if got != h {
		t.Errorf("ParseHash(h.String()) = %v, want %v", got, h)
	}
}

func TestHashTruncatedPrefix(t *testing.T) {
	h := HashBytes([]byte("hello world"))
	prefix := h.String()[:8]

	got, err := ParseHash(prefix)
	if err != nil {
		t.Fatalf("ParseHash(prefix): %v", err)
	}
	if got.String()[:8] != prefix {
		t.Errorf("round-tripped prefix %q, want %q", got.String()[:8], prefix)
	}
}

func TestHashGobRoundTrip(t *testing.T) {
	h := HashBytes([]byte("payload"))

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h); err != nil {
		t.Fatalf("gob encode: %v", err)
	}

	var got Hash
	if err := gob.NewDecoder(&buf).Decode(&got); err != nil {
		t.Fatalf("gob decode: %v", err)
	}
	if got != h {
		t.Errorf("gob round trip = %v, want %v", got, h)
	}
}

func TestMerkleFoldCommutative(t *testing.T) {
	a := HashBytes([]byte("a"))
	b := HashBytes([]byte("b"))

	var m1, m2 Merkle
	m1 = m1.Fold(a).Fold(b)
	m2 = m2.Fold(b).Fold(a)

	if m1 != m2 {
		t.Errorf("Merkle.Fold not commutative: %v != %v", m1, m2)
	}
}

func TestNewInodeMetadata(t *testing.T) {
	m := NewInodeMetadata(0o644, false)
	if m.IsDir() {
		t.Error("file metadata reports IsDir")
	}
	if m.Perm() != 0o644 {
		t.Errorf("Perm() = %o, want %o", m.Perm(), 0o644)
	}

	dir := NewInodeMetadata(0o755, true)
	if !dir.IsDir() {
		t.Error("directory metadata does not report IsDir")
	}
	if dir.Perm() != 0o755 {
		t.Errorf("Perm() = %o, want %o", dir.Perm(), 0o755)
	}
}
