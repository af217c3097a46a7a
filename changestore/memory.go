package changestore

import (
	"context"
	"sync"

	"github.com/graftvcs/graft"
)

// Memory is a shared associative container guarded by a reader-writer lock
// (spec.md §4.8), grounded on original_source/libpijul/src/changestore/
// memory.rs's RwLock<HashMap<Hash, Change>> and the teacher's nodeRegistry
// locking idiom.
type Memory struct {
	mu      sync.RWMutex
	changes map[graft.Hash]*graft.Change
	tags    map[graft.Merkle]graft.Header
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		changes: make(map[graft.Hash]*graft.Change),
		tags:    make(map[graft.Merkle]graft.Header),
	}
}

// SaveChange is idempotent: a change already present under its hash is left
// untouched and its existing hash is returned.
func (m *Memory) SaveChange(_ context.Context, c *graft.Change) (graft.Hash, error) {
	h := c.Hash()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.changes[h]; ok {
		return h, nil
	}
	cp := *c
	m.changes[h] = &cp
	return h, nil
}

// GetChange returns a shallow copy of the stored change: replacing a field
// of the result leaves the store's copy alone, but its slices (Hunks,
// Dependencies, Contents, ...) share backing arrays with the stored one.
func (m *Memory) GetChange(_ context.Context, h graft.Hash) (*graft.Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.changes[h]
	if !ok {
		return nil, &graft.Error{Kind: graft.Missing, Op: "Memory.GetChange", Hash: h, Err: errChangeNotFound}
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) DeleteChange(_ context.Context, h graft.Hash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.changes[h]; !ok {
		return false, nil
	}
	delete(m.changes, h)
	return true, nil
}

func (m *Memory) HasContents(_ context.Context, h graft.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.changes[h]
	return ok && len(c.Contents) > 0
}

// GetContents implements Store.
func (m *Memory) GetContents(_ context.Context, h graft.Hash, start, end graft.ChangePosition) ([]byte, error) {
	if end <= start {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.changes[h]
	if !ok {
		return nil, &graft.Error{Kind: graft.Missing, Op: "Memory.GetContents", Hash: h, Err: errChangeNotFound}
	}
	if int(end) > len(c.Contents) {
		return nil, &graft.Error{Kind: graft.Integrity, Op: "Memory.GetContents", Hash: h, Err: errRangeOutOfBounds}
	}
	out := make([]byte, end-start)
	copy(out, c.Contents[start:end])
	return out, nil
}

// SaveTagHeader records the header a tag's Merkle state was taken at.
func (m *Memory) SaveTagHeader(merkle graft.Merkle, h graft.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[merkle] = h
}

// TagHeader returns the header previously saved under merkle, if any.
func (m *Memory) TagHeader(merkle graft.Merkle) (graft.Header, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.tags[merkle]
	return h, ok
}

var errChangeNotFound = simpleError("change not found")
var errRangeOutOfBounds = simpleError("requested range exceeds contents length")

type simpleError string

func (e simpleError) Error() string { return string(e) }
