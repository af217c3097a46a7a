package graft

import (
	"errors"
	"fmt"
)

// Kind classifies a graft error into one of the categories spec.md §7
// defines. These are kinds, not distinct Go types, so callers switch on
// Kind rather than type-asserting concrete error types.
type Kind int

const (
	// Storage is a backend I/O failure during a transaction.
	Storage Kind = iota
	// Integrity is a hash mismatch, version mismatch, corrupt frame, or
	// unknown algorithm tag.
	Integrity
	// Missing is a change, block, or inode not found.
	Missing
	// Invariant means an expected pristine invariant does not hold. Always
	// fatal: indicates a bug or corruption, never automatically recovered.
	Invariant
	// DependencyMissing means a change's dependencies are not present in
	// the target channel.
	DependencyMissing
	// LocalConflict means apply cannot proceed because a working-copy
	// precondition is not met; recoverable by user action.
	LocalConflict
)

func (k Kind) String() string {
	switch k {
	case Storage:
		return "storage"
	case Integrity:
		return "integrity"
	case Missing:
		return "missing"
	case Invariant:
		return "invariant"
	case DependencyMissing:
		return "dependency-missing"
	case LocalConflict:
		return "local-conflict"
	default:
		return "unknown"
	}
}

// Error is the error type returned throughout this package. It carries a
// Kind so callers can branch on error category without parsing messages,
// and wraps an underlying cause the way the teacher's own code does
// (plain fmt.Errorf("...: %w", err); see DESIGN.md for why no third-party
// error library is used here).
type Error struct {
	Kind Kind
	Op   string
	// Hash, when set, names the offending dependency for DependencyMissing
	// errors (spec.md §7: "return with the offending dependency hash").
	Hash Hash
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("graft: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("graft: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, enabling
// errors.Is(err, &Error{Kind: Missing}) style checks.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// dependencyMissing builds a DependencyMissing error naming the offending
// hash, matching the diagnostic contract in spec.md §7 and the Unrecord
// precondition failure in §4.7.
func dependencyMissing(op string, h Hash) error {
	return &Error{Kind: DependencyMissing, Op: op, Hash: h, Err: fmt.Errorf("dependency %s not present", h)}
}
