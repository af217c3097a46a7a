package graft

import (
	"crypto/sha3"
	"encoding"
	"encoding/binary"
	"fmt"
	"hash"
	"reflect"
	"sort"
)

// ContentAddresser lets a type supply its own representation for hashing,
// bypassing the reflective field walk below. Adapted from the teacher's
// reflection-based node hasher (contentaddress.go): there it hashed a
// typed graph node's exported fields to produce a NodeHash; here the same
// walk hashes a Change's hashed part (spec.md §3) to produce a Hash,
// generalized to recurse through slices of structs/interfaces/pointers
// (hunks, dependencies) which the teacher's node-property model never
// needed since graph node fields were always flat scalars.
//
// A content-address changes if the Go type adds, removes, or renames an
// exported field; it does not change if fields are reordered, matching
// the teacher's stability contract.
type ContentAddresser interface {
	ContentAddress(h hash.Hash) error
}

// contentAddress computes a Hash over v's exported fields (spec.md §8
// "Hash stability": recomputing the hash after round-tripping through
// serialize+deserialize yields the original hash; tampering any byte
// changes the result).
func contentAddress(v any) (Hash, error) {
	h := sha3.New256()
	if err := hashValue(h, reflect.ValueOf(v)); err != nil {
		return Hash{}, err
	}
	var digest [hashBytes]byte
	copy(digest[:], h.Sum(nil))
	return Hash{algo: hashSHA3, digest: digest}, nil
}

// hashValue writes value's canonical representation into digest. Types
// implementing ContentAddresser or encoding.BinaryMarshaler (Hash,
// time.Time) supply their own bytes; everything else is walked by kind,
// recursing into structs, slices/arrays, pointers, and interfaces.
func hashValue(digest hash.Hash, value reflect.Value) error {
	if x, ok := value.Interface().(ContentAddresser); ok {
		return x.ContentAddress(digest)
	}
	if x, ok := value.Interface().(encoding.BinaryMarshaler); ok {
		b, err := x.MarshalBinary()
		if err != nil {
			return err
		}
		digest.Write(b)
		return nil
	}

	if value.Kind() == reflect.Interface {
		if value.IsNil() {
			// Nil interfaces carry no type, so there is nothing principled to
			// hash beyond "absent"; the enclosing field name already went
			// into the digest.
			return nil
		}
		return hashValue(digest, value.Elem())
	}
	if value.Kind() == reflect.Ptr {
		if value.IsNil() {
			// Treat a nil pointer as the zero value of its pointee, same as
			// the teacher's reasoning: every non-nil pointer value hashes as
			// its pointee, so a nil pointer must hash as *some* pointee
			// value, and the zero value is the only principled choice.
			return hashValue(digest, reflect.New(value.Type().Elem()).Elem())
		}
		return hashValue(digest, value.Elem())
	}

	switch value.Kind() {
	case reflect.Struct:
		return hashStructFields(digest, value)
	case reflect.String:
		digest.Write([]byte(value.String()))
		return nil
	case reflect.Int:
		buf := make([]byte, binary.MaxVarintLen64)
		n := binary.PutVarint(buf, value.Int())
		digest.Write(buf[:n])
		return nil
	case reflect.Uint:
		buf := make([]byte, binary.MaxVarintLen64)
		n := binary.PutUvarint(buf, value.Uint())
		digest.Write(buf[:n])
		return nil
	case reflect.Bool, reflect.Float32, reflect.Float64,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return binary.Write(digest, binary.BigEndian, value.Interface())
	case reflect.Array, reflect.Slice:
		// The length is written first so that e.g. a 1-element slice and a
		// 0-element slice followed by extra field bytes can never collide.
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(value.Len()))
		digest.Write(lenBuf[:])
		for i := 0; i < value.Len(); i++ {
			if err := hashValue(digest, value.Index(i)); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported %s %v", value.Kind(), value.Type())
	}
}

// hashStructFields hashes node's exported fields in field-name order
// (irrespective of declaration order), the teacher's stability rule.
func hashStructFields(digest hash.Hash, node reflect.Value) error {
	fields := reflect.VisibleFields(node.Type())
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	for _, field := range fields {
		if !field.IsExported() {
			continue
		}
		digest.Write([]byte(field.Name))
		if err := hashValue(digest, node.FieldByIndex(field.Index)); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}
