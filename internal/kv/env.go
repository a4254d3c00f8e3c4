package kv

import (
	"context"
	"fmt"
	"iter"
)

// Partition names one ordered key space inside an Env.
type Partition string

// Validate checks that the partition name is usable as a table suffix:
// lowercase ASCII letters, digits and underscores, starting with a letter.
func (p Partition) Validate() error {
	if len(p) == 0 || len(p) > 48 {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, string(p))
	}
	for i, c := range []byte(p) {
		switch {
		case c >= 'a' && c <= 'z':
		case i > 0 && (c == '_' || (c >= '0' && c <= '9')):
		default:
			return fmt.Errorf("%w: %q", ErrInvalidPartition, string(p))
		}
	}
	return nil
}

// Direction selects the iteration order of a scan.
type Direction int

const (
	// Forward iterates keys in ascending byte order.
	Forward Direction = iota
	// Reverse iterates keys in descending byte order.
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Pair is one persisted key/value.
type Pair struct {
	Key   []byte
	Value []byte
}

// Reader reads committed state.
type Reader interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, p Partition, key []byte) ([]byte, error)

	// Scan lazily yields every pair whose key starts with prefix (all pairs
	// for an empty prefix) in the given direction. A storage failure is
	// yielded once as a non-nil error, after which the sequence ends.
	Scan(ctx context.Context, p Partition, prefix []byte, dir Direction) iter.Seq2[Pair, error]
}

// Writer is a Reader scoped to an open write transaction. Reads through a
// Writer observe the transaction's own uncommitted writes.
type Writer interface {
	Reader

	// Put inserts or replaces the value under key.
	Put(ctx context.Context, p Partition, key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, p Partition, key []byte) error
}

// Env is a persistent store of partitions.
type Env interface {
	Reader

	// WithWriter runs fn inside one exclusive write transaction. The
	// transaction commits if fn returns nil and rolls back otherwise; the
	// Writer must not be retained after fn returns.
	WithWriter(ctx context.Context, fn func(w Writer) error) error

	// Close releases the underlying connections.
	Close() error
}
