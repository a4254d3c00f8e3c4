package kv

import (
	"bytes"
	"slices"
)

// OpKind tags a pending scratch entry.
type OpKind uint8

const (
	// OpPut records a pending upsert.
	OpPut OpKind = iota + 1
	// OpDelete records a pending tombstone.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one pending change. Value holds the encoded value for OpPut.
type Op struct {
	Kind  OpKind
	Value []byte
}

// Scratch is the in-memory overlay of pending changes for one buffer.
// Keys are copied on write, so callers may reuse their slices.
type Scratch struct {
	ops map[string]Op
}

// NewScratch returns an empty scratch overlay.
func NewScratch() *Scratch {
	return &Scratch{ops: make(map[string]Op)}
}

// Put records an upsert, replacing any earlier entry for key. A nil value
// is stored as empty.
func (s *Scratch) Put(key, value []byte) {
	if value == nil {
		value = []byte{}
	}
	s.ops[string(key)] = Op{Kind: OpPut, Value: bytes.Clone(value)}
}

// Delete records a tombstone, replacing any earlier entry for key.
func (s *Scratch) Delete(key []byte) {
	s.ops[string(key)] = Op{Kind: OpDelete}
}

// Get returns the pending entry for key.
func (s *Scratch) Get(key []byte) (Op, bool) {
	op, ok := s.ops[string(key)]
	return op, ok
}

// Remove forgets any pending entry for key, so reads fall through to the
// persisted value again.
func (s *Scratch) Remove(key []byte) {
	delete(s.ops, string(key))
}

// Len returns the number of pending entries.
func (s *Scratch) Len() int {
	return len(s.ops)
}

// Keys returns the pending keys that start with prefix, sorted in dir order.
func (s *Scratch) Keys(prefix []byte, dir Direction) [][]byte {
	keys := make([][]byte, 0, len(s.ops))
	for k := range s.ops {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, []byte(k))
		}
	}
	slices.SortFunc(keys, func(a, b []byte) int {
		return compareKeys(a, b, dir)
	})
	return keys
}

// compareKeys orders keys for the given direction.
func compareKeys(a, b []byte, dir Direction) int {
	if dir == Reverse {
		return bytes.Compare(b, a)
	}
	return bytes.Compare(a, b)
}
