package state

import (
	"context"
	"iter"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/kv"
)

// OpStore is a buffer of per-op records keyed by op hash.
type OpStore[V any] struct {
	buf *kv.Buffer[V]
}

// ValidationLimboStore holds ops awaiting validation.
type ValidationLimboStore = OpStore[ValidationLimboValue]

// IntegrationLimboStore holds validated ops awaiting integration.
type IntegrationLimboStore = OpStore[IntegrationLimboValue]

// IntegratedDhtOpsStore holds integrated ops.
type IntegratedDhtOpsStore = OpStore[IntegratedDhtOpsValue]

// NewOpStore creates a store over partition p.
func NewOpStore[V any](r kv.Reader, p kv.Partition) *OpStore[V] {
	return &OpStore[V]{buf: kv.NewJSONBuffer[V](r, p)}
}

func NewValidationLimboStore(r kv.Reader) *ValidationLimboStore {
	return NewOpStore[ValidationLimboValue](r, PartValidationLimbo)
}

func NewIntegrationLimboStore(r kv.Reader) *IntegrationLimboStore {
	return NewOpStore[IntegrationLimboValue](r, PartIntegrationLimbo)
}

func NewIntegratedDhtOpsStore(r kv.Reader) *IntegratedDhtOpsStore {
	return NewOpStore[IntegratedDhtOpsValue](r, PartIntegratedDhtOps)
}

// Partition returns the backing partition.
func (s *OpStore[V]) Partition() kv.Partition {
	return s.buf.Partition()
}

func (s *OpStore[V]) Get(ctx context.Context, hash dhtop.Hash) (V, bool, error) {
	return s.buf.Get(ctx, hash[:])
}

func (s *OpStore[V]) Contains(ctx context.Context, hash dhtop.Hash) (bool, error) {
	return s.buf.Contains(ctx, hash[:])
}

func (s *OpStore[V]) Put(hash dhtop.Hash, v V) error {
	return s.buf.Put(hash.Bytes(), v)
}

func (s *OpStore[V]) Delete(hash dhtop.Hash) {
	s.buf.Delete(hash.Bytes())
}

// Discard drops whatever is staged for hash.
func (s *OpStore[V]) Discard(hash dhtop.Hash) {
	s.buf.Discard(hash[:])
}

// Staged returns the hashes with pending puts or deletes, in key order.
func (s *OpStore[V]) Staged() []dhtop.Hash {
	keys := s.buf.Scratch().Keys(nil, kv.Forward)
	out := make([]dhtop.Hash, 0, len(keys))
	for _, k := range keys {
		var h dhtop.Hash
		copy(h[:], k)
		out = append(out, h)
	}
	return out
}

// OpRecord is one record yielded by OpStore.Iterate.
type OpRecord[V any] struct {
	Hash  dhtop.Hash
	Value V
}

// Iterate yields every visible record in hash order.
func (s *OpStore[V]) Iterate(ctx context.Context) iter.Seq2[OpRecord[V], error] {
	return func(yield func(OpRecord[V], error) bool) {
		for item, err := range s.buf.Iterate(ctx, kv.Forward) {
			if err != nil {
				yield(OpRecord[V]{}, err)
				return
			}
			rec := OpRecord[V]{Value: item.Value}
			copy(rec.Hash[:], item.Key)
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *OpStore[V]) FlushToTxn(ctx context.Context, w kv.Writer) error {
	return s.buf.FlushToTxn(ctx, w)
}
