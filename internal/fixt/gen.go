package fixt

import (
	"reflect"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/roach88/dhtstate/internal/dhtop"
)

// OpSpec describes an op compactly so generated cases shrink and print
// well. Build turns it into a signed op.
type OpSpec struct {
	Author      uint8
	Seq         uint32
	Kind        dhtop.OpKind
	Counterfeit bool
}

// Build constructs the op.
func (s OpSpec) Build() dhtop.DhtOp {
	a := NewAuthor(s.Author)
	var op dhtop.DhtOp
	switch s.Kind {
	case dhtop.OpStoreEntry:
		op = StoreEntryOp(a, s.Seq)
	case dhtop.OpStoreElement:
		op = StoreElementOp(a, s.Seq)
	case dhtop.OpRegisterAddLink:
		op = AddLinkOp(a, s.Seq, Hash("base"))
	default:
		op = ActivityOp(a, s.Seq)
	}
	if s.Counterfeit {
		op = Counterfeit(op)
	}
	return op
}

// GenKind generates one of the op kinds OpSpec can build.
func GenKind() gopter.Gen {
	return gen.OneConstOf(
		dhtop.OpRegisterAgentActivity,
		dhtop.OpStoreEntry,
		dhtop.OpStoreElement,
		dhtop.OpRegisterAddLink,
	)
}

// GenOpSpec generates ops over a small space of authors and sequence
// numbers so that duplicates are common. About one in eight is
// counterfeit.
func GenOpSpec() gopter.Gen {
	return gopter.CombineGens(
		gen.UInt8Range(0, 2),
		gen.UInt32Range(1, 8),
		GenKind(),
		gen.IntRange(0, 7),
	).Map(func(v []interface{}) OpSpec {
		return OpSpec{
			Author:      v[0].(uint8),
			Seq:         v[1].(uint32),
			Kind:        v[2].(dhtop.OpKind),
			Counterfeit: v[3].(int) == 0,
		}
	})
}

// GenBatch generates up to maxLen op specs.
func GenBatch(maxLen int) gopter.Gen {
	return gen.IntRange(0, maxLen).FlatMap(func(n interface{}) gopter.Gen {
		return gen.SliceOfN(n.(int), GenOpSpec())
	}, reflect.TypeOf([]OpSpec{}))
}

// GenBatches generates up to maxBatches batches of up to maxLen specs.
func GenBatches(maxBatches, maxLen int) gopter.Gen {
	return gen.IntRange(1, maxBatches).FlatMap(func(n interface{}) gopter.Gen {
		return gen.SliceOfN(n.(int), GenBatch(maxLen))
	}, reflect.TypeOf([][]OpSpec{}))
}

// GenSeqs generates a delivery order of header sequence numbers.
func GenSeqs(maxLen int) gopter.Gen {
	return gen.IntRange(1, maxLen).FlatMap(func(n interface{}) gopter.Gen {
		return gen.SliceOfN(n.(int), gen.UInt32Range(0, 50))
	}, reflect.TypeOf([]uint32{}))
}
