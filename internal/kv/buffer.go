package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// Item is one entry yielded by Buffer iteration.
type Item[V any] struct {
	Key   []byte
	Value V
}

// Buffer is a typed scratch overlay over one persistent partition.
//
// Reads see the buffer's own pending writes first and fall through to the
// Reader otherwise. Nothing reaches the partition until FlushToTxn runs
// inside a write transaction; a Buffer flushes at most once.
//
// The Buffer owns its Scratch. The Reader is borrowed and must outlive it.
type Buffer[V any] struct {
	reader  Reader
	part    Partition
	codec   Codec[V]
	scratch *Scratch
	flushed bool
}

// NewBuffer creates an empty buffer over partition p.
func NewBuffer[V any](r Reader, p Partition, codec Codec[V]) *Buffer[V] {
	return &Buffer[V]{
		reader:  r,
		part:    p,
		codec:   codec,
		scratch: NewScratch(),
	}
}

// NewJSONBuffer creates an empty buffer storing values as JSON.
func NewJSONBuffer[V any](r Reader, p Partition) *Buffer[V] {
	return NewBuffer[V](r, p, JSONCodec[V]{})
}

// Partition returns the partition this buffer writes to.
func (b *Buffer[V]) Partition() Partition {
	return b.part
}

// Scratch exposes the pending entries.
func (b *Buffer[V]) Scratch() *Scratch {
	return b.scratch
}

// IsClean reports whether the buffer has no pending entries.
func (b *Buffer[V]) IsClean() bool {
	return b.scratch.Len() == 0
}

// Get returns the value visible under key: a pending put wins, a pending
// delete hides the persisted value, otherwise the persisted value is read.
func (b *Buffer[V]) Get(ctx context.Context, key []byte) (V, bool, error) {
	var zero V
	raw, ok, err := b.getRaw(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := b.codec.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("get %s: %w", b.part, err)
	}
	return v, true, nil
}

// Contains reports whether key is visible, without decoding its value.
func (b *Buffer[V]) Contains(ctx context.Context, key []byte) (bool, error) {
	_, ok, err := b.getRaw(ctx, key)
	return ok, err
}

// Persisted reads the value stored under key through r, ignoring pending
// entries. Passing the Writer of an open transaction reads that
// transaction's view.
func (b *Buffer[V]) Persisted(ctx context.Context, r Reader, key []byte) (V, bool, error) {
	var zero V
	raw, err := r.Get(ctx, b.part, key)
	if errors.Is(err, ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	v, err := b.codec.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("get %s: %w", b.part, err)
	}
	return v, true, nil
}

func (b *Buffer[V]) getRaw(ctx context.Context, key []byte) ([]byte, bool, error) {
	if op, ok := b.scratch.Get(key); ok {
		if op.Kind == OpDelete {
			return nil, false, nil
		}
		return op.Value, true, nil
	}
	raw, err := b.reader.Get(ctx, b.part, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Put records v under key. The value is encoded immediately.
func (b *Buffer[V]) Put(key []byte, v V) error {
	raw, err := b.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("put %s: %w", b.part, err)
	}
	b.scratch.Put(key, raw)
	return nil
}

// Delete records a tombstone for key.
func (b *Buffer[V]) Delete(key []byte) {
	b.scratch.Delete(key)
}

// Discard drops any pending entry for key. The persisted value, if any, is
// left untouched.
func (b *Buffer[V]) Discard(key []byte) {
	b.scratch.Remove(key)
}

// Iterate yields every visible entry of the partition in dir order.
func (b *Buffer[V]) Iterate(ctx context.Context, dir Direction) iter.Seq2[Item[V], error] {
	return b.IteratePrefix(ctx, nil, dir)
}

// IteratePrefix yields the visible entries whose keys start with prefix,
// merging pending and persisted entries in dir order. Tombstoned keys are
// skipped and a pending entry shadows a persisted one with the same key.
//
// The sequence is lazy and may be ranged over any number of times; each
// pass reflects the state at the moment it starts.
func (b *Buffer[V]) IteratePrefix(ctx context.Context, prefix []byte, dir Direction) iter.Seq2[Item[V], error] {
	return func(yield func(Item[V], error) bool) {
		pending := b.scratch.Keys(prefix, dir)
		next, stop := iter.Pull2(b.reader.Scan(ctx, b.part, prefix, dir))
		defer stop()

		persisted, perr, more := next()
		i := 0
		for more || i < len(pending) {
			if more && perr != nil {
				yield(Item[V]{}, perr)
				return
			}

			var key, raw []byte
			if i < len(pending) && (!more || compareKeys(pending[i], persisted.Key, dir) <= 0) {
				key = pending[i]
				i++
				if more && compareKeys(key, persisted.Key, dir) == 0 {
					persisted, perr, more = next()
				}
				op, ok := b.scratch.Get(key)
				if !ok || op.Kind == OpDelete {
					continue
				}
				raw = op.Value
			} else {
				key, raw = persisted.Key, persisted.Value
				persisted, perr, more = next()
			}

			v, err := b.codec.Decode(raw)
			if err != nil {
				yield(Item[V]{}, fmt.Errorf("iterate %s: %w", b.part, err))
				return
			}
			if !yield(Item[V]{Key: key, Value: v}, nil) {
				return
			}
		}
	}
}

// FlushToTxn applies every pending entry to the partition through w, in
// ascending key order. On error the caller must roll the transaction back;
// none of the buffer's entries count as applied. A buffer flushes once:
// later calls return ErrFlushed. Flushing an empty buffer is a no-op.
func (b *Buffer[V]) FlushToTxn(ctx context.Context, w Writer) error {
	if b.flushed {
		return fmt.Errorf("flush %s: %w", b.part, ErrFlushed)
	}
	b.flushed = true

	for _, key := range b.scratch.Keys(nil, Forward) {
		op, _ := b.scratch.Get(key)
		var err error
		switch op.Kind {
		case OpPut:
			err = w.Put(ctx, b.part, key, op.Value)
		case OpDelete:
			err = w.Delete(ctx, b.part, key)
		}
		if err != nil {
			return fmt.Errorf("flush %s: %w", b.part, err)
		}
	}
	return nil
}
