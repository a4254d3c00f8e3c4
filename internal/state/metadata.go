package state

import (
	"context"
	"iter"
	"slices"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/kv"
)

// HighestObserved is the per-author high-water mark of observed header
// sequence numbers. Hashes holds every distinct header seen at HeaderSeq;
// more than one is evidence of a fork.
type HighestObserved struct {
	HeaderSeq uint32       `json:"header_seq"`
	Hashes    []dhtop.Hash `json:"hashes"`
}

// IsZero reports whether nothing has been observed.
func (h HighestObserved) IsZero() bool {
	return len(h.Hashes) == 0
}

// Merge returns the record after observing (seq, hash). A higher seq
// replaces the record, an equal seq adds a new hash, a lower seq is
// ignored. HeaderSeq never decreases.
func (h HighestObserved) Merge(seq uint32, hash dhtop.Hash) HighestObserved {
	switch {
	case h.IsZero() || seq > h.HeaderSeq:
		return HighestObserved{HeaderSeq: seq, Hashes: []dhtop.Hash{hash}}
	case seq == h.HeaderSeq && !slices.Contains(h.Hashes, hash):
		return HighestObserved{HeaderSeq: seq, Hashes: append(slices.Clone(h.Hashes), hash)}
	default:
		return h
	}
}

// MergeAll folds other into h.
func (h HighestObserved) MergeAll(other HighestObserved) HighestObserved {
	for _, hash := range other.Hashes {
		h = h.Merge(other.HeaderSeq, hash)
	}
	return h
}

// MetaPartitions names the partitions behind a MetadataBuf.
type MetaPartitions struct {
	Ops      kv.Partition
	Activity kv.Partition
}

var (
	// MetaVault holds metadata of integrated ops and observed activity.
	MetaVault = MetaPartitions{Ops: PartMetaVaultOps, Activity: PartMetaVaultActivity}

	// MetaPending holds metadata of ops awaiting validation.
	MetaPending = MetaPartitions{Ops: PartMetaPendingOps, Activity: PartMetaPendingActivity}
)

// MetadataBuf indexes light ops by basis and tracks agent activity.
//
// Op keys are basis || kind || header hash, so every op for one basis is a
// single prefix scan. Activity keys are the author's agent key.
type MetadataBuf struct {
	ops      *kv.Buffer[dhtop.OpLight]
	activity *kv.Buffer[HighestObserved]
}

// NewMetadataBuf creates a buffer over the given partitions.
func NewMetadataBuf(r kv.Reader, parts MetaPartitions) *MetadataBuf {
	return &MetadataBuf{
		ops:      kv.NewJSONBuffer[dhtop.OpLight](r, parts.Ops),
		activity: kv.NewJSONBuffer[HighestObserved](r, parts.Activity),
	}
}

func opKey(op dhtop.OpLight) []byte {
	key := make([]byte, 0, 2*dhtop.HashSize+len(op.Kind))
	key = append(key, op.Basis[:]...)
	key = append(key, op.Kind...)
	return append(key, op.HeaderHash[:]...)
}

// RegisterOp indexes a light op under its basis.
func (m *MetadataBuf) RegisterOp(op dhtop.OpLight) error {
	return m.ops.Put(opKey(op), op)
}

// OpsForBasis yields every op indexed under basis, ordered by kind and
// header hash.
func (m *MetadataBuf) OpsForBasis(ctx context.Context, basis dhtop.Hash) iter.Seq2[dhtop.OpLight, error] {
	return func(yield func(dhtop.OpLight, error) bool) {
		for item, err := range m.ops.IteratePrefix(ctx, basis[:], kv.Forward) {
			if !yield(item.Value, err) || err != nil {
				return
			}
		}
	}
}

// HighestObserved returns the author's activity record.
func (m *MetadataBuf) HighestObserved(ctx context.Context, author dhtop.AgentKey) (HighestObserved, bool, error) {
	return m.activity.Get(ctx, author[:])
}

// RegisterActivityObserved merges (seq, headerHash) into the author's
// activity record and returns the result.
func (m *MetadataBuf) RegisterActivityObserved(ctx context.Context, author dhtop.AgentKey, seq uint32, headerHash dhtop.Hash) (HighestObserved, error) {
	current, _, err := m.activity.Get(ctx, author[:])
	if err != nil {
		return HighestObserved{}, err
	}
	next := current.Merge(seq, headerHash)
	if err := m.activity.Put(author[:], next); err != nil {
		return HighestObserved{}, err
	}
	return next, nil
}

// ReconcileActivity re-merges every staged activity record with the value
// r currently holds, so a concurrent commit that observed a higher seq is
// never overwritten by a lower one. Call it with the transaction's Writer
// immediately before flushing.
func (m *MetadataBuf) ReconcileActivity(ctx context.Context, r kv.Reader) error {
	for _, key := range m.activity.Scratch().Keys(nil, kv.Forward) {
		staged, ok, err := m.activity.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		persisted, found, err := m.activity.Persisted(ctx, r, key)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		merged := persisted.MergeAll(staged)
		if merged.HeaderSeq != staged.HeaderSeq || !slices.Equal(merged.Hashes, staged.Hashes) {
			if err := m.activity.Put(key, merged); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlushToTxn writes ops, then activity.
func (m *MetadataBuf) FlushToTxn(ctx context.Context, w kv.Writer) error {
	return FlushInOrder(ctx, w, m.ops, m.activity)
}
