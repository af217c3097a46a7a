package graft

import "testing"

type addressed struct {
	A int
	B string
}

func TestContentAddressStableUnderFieldReorder(t *testing.T) {
	h1, err := contentAddress(addressed{A: 1, B: "x"})
	if err != nil {
		t.Fatalf("contentAddress: %v", err)
	}

	type reordered struct {
		B string
		A int
	}
	h2, err := contentAddress(reordered{A: 1, B: "x"})
	if err != nil {
		t.Fatalf("contentAddress: %v", err)
	}
	if h1 != h2 {
		t.Errorf("field reorder changed the hash: %v != %v", h1, h2)
	}
}

func TestContentAddressChangesOnTamper(t *testing.T) {
	h1, err := contentAddress(addressed{A: 1, B: "x"})
	if err != nil {
		t.Fatalf("contentAddress: %v", err)
	}
	h2, err := contentAddress(addressed{A: 1, B: "y"})
	if err != nil {
		t.Fatalf("contentAddress: %v", err)
	}
	if h1 == h2 {
		t.Error("tampering a field byte did not change the hash")
	}
}

func TestContentAddressNilPointerMatchesZeroValue(t *testing.T) {
	type withPtr struct{ P *int }
	zero := 0

	h1, err := contentAddress(withPtr{P: nil})
	if err != nil {
		t.Fatalf("contentAddress: %v", err)
	}
	h2, err := contentAddress(withPtr{P: &zero})
	if err != nil {
		t.Fatalf("contentAddress: %v", err)
	}
	if h1 != h2 {
		t.Errorf("nil pointer hashed differently from pointer-to-zero-value: %v != %v", h1, h2)
	}
}

func TestContentAddressHashUsesFieldTypedMarshaler(t *testing.T) {
	type withHash struct{ H Hash }

	a := withHash{H: HashBytes([]byte("a"))}
	b := withHash{H: HashBytes([]byte("b"))}

	ha, err := contentAddress(a)
	if err != nil {
		t.Fatalf("contentAddress: %v", err)
	}
	hb, err := contentAddress(b)
	if err != nil {
		t.Fatalf("contentAddress: %v", err)
	}
	if ha == hb {
		t.Error("distinct embedded Hash values produced the same content address")
	}
}

func TestChangeHashRoundTripsThroughGob(t *testing.T) {
	c := &Change{
		Header:   Header{Message: "m"},
		Contents: []byte("payload"),
	}
	h1 := c.Hash()

	encoded := gobEncode(c)
	var decoded Change
	if err := gobDecode(encoded, &decoded); err != nil {
		t.Fatalf("gobDecode: %v", err)
	}

	h2 := decoded.Hash()
	if h1 != h2 {
		t.Errorf("Hash not stable across gob round trip: %v != %v", h1, h2)
	}
}
