package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/prop"
	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/fixt"
	"github.com/roach88/dhtstate/internal/kv"
	"github.com/roach88/dhtstate/internal/queue"
	"github.com/roach88/dhtstate/internal/state"
	"github.com/roach88/dhtstate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncomingDhtOps_StagesOp(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	tx, rx := queue.NewTrigger()
	clock := testutil.NewStepClock(testEpoch, time.Second)
	a, peer := fixt.NewAuthor(0), fixt.NewAuthor(1)

	ops := incoming(t, fixt.StoreEntryOp(a, 1))
	report, err := NewIngestor(env, tx, testOptions(clock)...).Ingest(ctx, ops, &peer.Key)
	require.NoError(t, err)
	assert.Equal(t, Report{BatchID: "batch-1", Staged: 1}, report)
	assert.True(t, drained(rx), "validation trigger fired")

	in := ops[0]
	light, err := in.Op.Light()
	require.NoError(t, err)

	v, ok, err := state.NewValidationLimboStore(env).Get(ctx, in.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.LimboPending, v.Status)
	assert.Equal(t, light, v.Op)
	assert.Equal(t, light.Basis, v.Basis)
	assert.True(t, v.TimeAdded.Equal(testEpoch))
	assert.Nil(t, v.LastTry)
	assert.Zero(t, v.NumTries)
	require.NotNil(t, v.FromAgent)
	assert.Equal(t, peer.Key, *v.FromAgent)

	el, ok, err := state.NewElementPending(env).GetElement(ctx, light.HeaderHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in.Op.Signature, el.Signature)
	require.NotNil(t, el.Entry)
	assert.Equal(t, *in.Op.Entry, *el.Entry)

	var indexed []dhtop.OpLight
	for op, err := range state.NewMetadataBuf(env, state.MetaPending).OpsForBasis(ctx, light.Basis) {
		require.NoError(t, err)
		indexed = append(indexed, op)
	}
	assert.Equal(t, []dhtop.OpLight{light}, indexed)

	// Nothing went to the vault
	counts := countRecords(t, ctx, env)
	assert.Zero(t, counts[state.PartElementVaultHeaders])
	assert.Zero(t, counts[state.PartMetaVaultOps])
}

func TestIncomingDhtOps_NoProvenance(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	ops := incoming(t, fixt.StoreElementOp(fixt.NewAuthor(0), 1))

	require.NoError(t, IncomingDhtOps(ctx, env, queue.TriggerSender{}, ops, nil, WithLogger(discardLogger())))

	v, ok, err := state.NewValidationLimboStore(env).Get(ctx, ops[0].Hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, v.FromAgent)
}

func TestIncomingDhtOps_DedupIdempotent(t *testing.T) {
	ctx := context.Background()
	env := &observedEnv{Env: createTestEnv(t)}
	tx, rx := queue.NewTrigger()
	a := fixt.NewAuthor(0)
	g := NewIngestor(env, tx, testOptions(testutil.NewStepClock(testEpoch, time.Second))...)

	ops := incoming(t, fixt.StoreEntryOp(a, 1), fixt.ActivityOp(a, 1))
	_, err := g.Ingest(ctx, ops, nil)
	require.NoError(t, err)
	require.True(t, drained(rx))
	before := countRecords(t, ctx, env)
	writes := env.writes.Load()

	report, err := g.Ingest(ctx, ops, nil)
	require.NoError(t, err)
	assert.Equal(t, Report{BatchID: "batch-2", Duplicate: 2}, report)

	assert.Equal(t, writes, env.writes.Load(), "second call opened no write transaction")
	assert.False(t, drained(rx), "second call did not trigger validation")
	assert.Equal(t, before, countRecords(t, ctx, env))
	assert.Equal(t, 2, before[state.PartValidationLimbo])
}

func TestIncomingDhtOps_DuplicateWithinBatch(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	op := fixt.StoreEntryOp(fixt.NewAuthor(0), 1)

	report, err := NewIngestor(env, queue.TriggerSender{}, WithLogger(discardLogger())).
		Ingest(ctx, incoming(t, op, op), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Staged)
	assert.Equal(t, 1, report.Duplicate)
	assert.Equal(t, 1, countRecords(t, ctx, env)[state.PartValidationLimbo])
}

func TestIncomingDhtOps_DuplicateOfDownstreamOp(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	a := fixt.NewAuthor(0)
	ops := incoming(t, fixt.StoreEntryOp(a, 1), fixt.StoreEntryOp(a, 2))
	opts := []Option{WithLogger(discardLogger())}

	require.NoError(t, IncomingDhtOps(ctx, env, queue.TriggerSender{}, ops, nil, opts...))
	promoteFirst(t, ctx, env)
	promoteFirst(t, ctx, env)
	integrateFirst(t, ctx, env)

	report, err := NewIngestor(env, queue.TriggerSender{}, opts...).Ingest(ctx, ops, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Duplicate, "ops in integration limbo and integrated store are known")

	counts := countRecords(t, ctx, env)
	assert.Zero(t, counts[state.PartValidationLimbo])
	assert.Equal(t, 1, counts[state.PartIntegrationLimbo])
	assert.Equal(t, 1, counts[state.PartIntegratedDhtOps])
}

func TestIncomingDhtOps_RejectsCounterfeits(t *testing.T) {
	ctx := context.Background()
	a, b := fixt.NewAuthor(0), fixt.NewAuthor(1)

	malformed := fixt.StoreEntryOp(a, 4)
	malformed.Entry = nil
	genuine := fixt.StoreEntryOp(a, 3)

	ops := incoming(t,
		fixt.Counterfeit(fixt.StoreEntryOp(a, 1)),
		fixt.Impersonate(fixt.ActivityOp(a, 2), b),
		malformed,
	)
	ops = append(ops, IncomingOp{Hash: fixt.Hash("not the op"), Op: genuine})

	env := &observedEnv{Env: createTestEnv(t)}
	tx, rx := queue.NewTrigger()
	report, err := NewIngestor(env, tx, WithLogger(discardLogger())).Ingest(ctx, ops, &b.Key)
	require.NoError(t, err, "rejections are not errors")
	assert.Equal(t, 4, report.Rejected)
	assert.Zero(t, report.Staged)

	assert.Zero(t, env.writes.Load())
	assert.False(t, drained(rx))
	for p, n := range countRecords(t, ctx, env) {
		assert.Zero(t, n, "partition %s", p)
	}
}

func TestIncomingDhtOps_VerifierErrorRejects(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	broken := VerifierFunc(func(context.Context, dhtop.AgentKey, []byte, dhtop.Signature) (bool, error) {
		return false, errors.New("keystore unavailable")
	})

	report, err := NewIngestor(env, queue.TriggerSender{}, WithVerifier(broken), WithLogger(discardLogger())).
		Ingest(ctx, incoming(t, fixt.StoreEntryOp(fixt.NewAuthor(0), 1)), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rejected)
	assert.Zero(t, countRecords(t, ctx, env)[state.PartValidationLimbo])
}

func TestIncomingDhtOps_MixedBatchKeepsGenuineOps(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	a := fixt.NewAuthor(0)
	good := fixt.StoreEntryOp(a, 1)

	ops := incoming(t, fixt.Counterfeit(fixt.StoreEntryOp(a, 2)), good)
	report, err := NewIngestor(env, queue.TriggerSender{}, WithLogger(discardLogger())).Ingest(ctx, ops, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Staged)
	assert.Equal(t, 1, report.Rejected)

	ok, err := state.NewValidationLimboStore(env).Contains(ctx, ops[1].Hash)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = state.NewValidationLimboStore(env).Contains(ctx, ops[0].Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncomingDhtOps_HighestObservedIsMonotonic(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	a := fixt.NewAuthor(0)
	g := NewIngestor(env, queue.TriggerSender{}, WithLogger(discardLogger()))

	var got []uint32
	for _, seq := range []uint32{5, 2, 9, 3} {
		_, err := g.Ingest(ctx, incoming(t, fixt.ActivityOp(a, seq)), nil)
		require.NoError(t, err)

		ho, ok, err := state.NewMetadataBuf(env, state.MetaVault).HighestObserved(ctx, a.Key)
		require.NoError(t, err)
		require.True(t, ok)
		got = append(got, ho.HeaderSeq)
	}
	assert.Equal(t, []uint32{5, 5, 9, 9}, got)
}

func TestIncomingDhtOps_HighestObservedRecordsForks(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	a := fixt.NewAuthor(0)

	ops := incoming(t, fixt.ForkedActivityOp(a, 7, 0), fixt.ForkedActivityOp(a, 7, 1), fixt.ActivityOp(a, 6))
	require.NoError(t, IncomingDhtOps(ctx, env, queue.TriggerSender{}, ops, nil, WithLogger(discardLogger())))

	ho, ok, err := state.NewMetadataBuf(env, state.MetaVault).HighestObserved(ctx, a.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(7), ho.HeaderSeq)
	assert.ElementsMatch(t, []dhtop.Hash{
		ops[0].Op.Header.MustHash(),
		ops[1].Op.Header.MustHash(),
	}, ho.Hashes)
}

func TestIncomingDhtOps_StorageFailureAbortsBatch(t *testing.T) {
	ctx := context.Background()
	env := &observedEnv{Env: createTestEnv(t), failOn: state.PartMetaPendingOps}
	tx, rx := queue.NewTrigger()
	a := fixt.NewAuthor(0)

	err := IncomingDhtOps(ctx, env, tx, incoming(t, fixt.StoreEntryOp(a, 1), fixt.ActivityOp(a, 1)), nil,
		WithLogger(discardLogger()))
	require.Error(t, err)
	assert.True(t, kv.IsStorageError(err))
	assert.ErrorIs(t, err, errInjected)

	assert.False(t, drained(rx), "no trigger after a failed commit")
	for p, n := range countRecords(t, ctx, env) {
		assert.Zero(t, n, "partition %s", p)
	}
}

func TestIncomingDhtOps_TriggersOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	tx, rx := queue.NewTrigger()
	var pendingDuringCommit bool
	env := &observedEnv{Env: createTestEnv(t)}
	env.inWrite = func() { pendingDuringCommit = rx.Pending() }
	a := fixt.NewAuthor(0)
	g := NewIngestor(env, tx, WithLogger(discardLogger()))

	_, err := g.Ingest(ctx, incoming(t, fixt.StoreEntryOp(a, 1)), nil)
	require.NoError(t, err)
	assert.False(t, pendingDuringCommit)

	// A second batch before the consumer wakes coalesces into one wake-up
	_, err = g.Ingest(ctx, incoming(t, fixt.StoreEntryOp(a, 2)), nil)
	require.NoError(t, err)
	assert.True(t, drained(rx))
	assert.False(t, drained(rx))
}

func TestIncomingDhtOps_EmptyBatch(t *testing.T) {
	ctx := context.Background()
	env := &observedEnv{Env: createTestEnv(t)}
	tx, rx := queue.NewTrigger()

	require.NoError(t, IncomingDhtOps(ctx, env, tx, nil, nil, WithLogger(discardLogger())))
	assert.Zero(t, env.writes.Load())
	assert.False(t, drained(rx))
}

func TestIncomingDhtOpsWorkspace_RecheckDropsCommittedOps(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	a := fixt.NewAuthor(0)
	in := incoming(t, fixt.StoreEntryOp(a, 1))[0]
	light, err := in.Op.Light()
	require.NoError(t, err)

	ws := NewIncomingDhtOpsWorkspace(env)
	exists, err := ws.OpExists(ctx, in.Hash)
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, ws.AddToPending(ctx, in, nil, testEpoch))

	// Another batch integrates the op before this one commits
	done := state.NewIntegratedDhtOpsStore(env)
	require.NoError(t, done.Put(in.Hash, state.IntegratedDhtOpsValue{
		ValidationStatus: state.IntegrationValid,
		Op:               light,
		WhenIntegrated:   testEpoch,
	}))
	require.NoError(t, state.Commit(ctx, env, done))

	require.NoError(t, state.Commit(ctx, env, ws))
	counts := residency(t, ctx, env)
	assert.Equal(t, map[dhtop.Hash]int{in.Hash: 1}, counts)
}

func TestIncomingDhtOpsWorkspace_ConcurrentActivityNeverRegresses(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	a := fixt.NewAuthor(0)

	// Both workspaces read an empty activity record
	high := NewIncomingDhtOpsWorkspace(env)
	low := NewIncomingDhtOpsWorkspace(env)
	require.NoError(t, high.AddToPending(ctx, incoming(t, fixt.ActivityOp(a, 9))[0], nil, testEpoch))
	require.NoError(t, low.AddToPending(ctx, incoming(t, fixt.ActivityOp(a, 5))[0], nil, testEpoch))

	require.NoError(t, state.Commit(ctx, env, high))
	require.NoError(t, state.Commit(ctx, env, low))

	ho, ok, err := state.NewMetadataBuf(env, state.MetaVault).HighestObserved(ctx, a.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(9), ho.HeaderSeq)
}

func TestShouldKeep(t *testing.T) {
	ctx := context.Background()
	a, b := fixt.NewAuthor(0), fixt.NewAuthor(1)
	malformed := fixt.StoreEntryOp(a, 1)
	malformed.Entry = nil

	tests := []struct {
		name   string
		in     IncomingOp
		reason RejectReason
	}{
		{"genuine", incoming(t, fixt.StoreEntryOp(a, 1))[0], ""},
		{"bad signature", incoming(t, fixt.Counterfeit(fixt.ActivityOp(a, 1)))[0], RejectBadSignature},
		{"impersonated", incoming(t, fixt.Impersonate(fixt.ActivityOp(a, 1), b))[0], RejectBadSignature},
		{"hash mismatch", IncomingOp{Hash: fixt.Hash("other"), Op: fixt.ActivityOp(a, 1)}, RejectHashMismatch},
		{"malformed", IncomingOp{Hash: fixt.Hash("x"), Op: malformed}, RejectMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ShouldKeep(ctx, Ed25519Verifier{}, tt.in)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.reason, RejectReasonOf(err))
			assert.Equal(t, tt.reason != RejectMalformed, IsCounterfeit(err))
		})
	}
}

func TestShouldKeep_MalformedWrapsCause(t *testing.T) {
	op := fixt.StoreEntryOp(fixt.NewAuthor(0), 1)
	op.Entry = nil
	err := ShouldKeep(context.Background(), Ed25519Verifier{}, IncomingOp{Op: op})
	assert.ErrorIs(t, err, dhtop.ErrMalformed)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "staged", OutcomeStaged.String())
	assert.Equal(t, "duplicate", OutcomeDuplicate.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}

func TestIncomingDhtOps_SingleResidency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	run := 0
	properties.Property("every op hash lives in at most one op store", prop.ForAll(
		func(batches [][]fixt.OpSpec) bool {
			ctx := context.Background()
			run++
			env := openEnv(t, fmt.Sprintf("residency-%d.db", run))
			g := NewIngestor(env, queue.TriggerSender{}, WithLogger(discardLogger()))

			genuine := make(map[dhtop.Hash]bool)
			for _, batch := range batches {
				ops := make([]IncomingOp, 0, len(batch))
				for _, spec := range batch {
					in, err := NewIncomingOp(spec.Build())
					if err != nil {
						return false
					}
					if !spec.Counterfeit {
						genuine[in.Hash] = true
					}
					ops = append(ops, in)
				}
				if _, err := g.Ingest(ctx, ops, nil); err != nil {
					return false
				}
				promoteFirst(t, ctx, env)
				integrateFirst(t, ctx, env)
			}

			counts := residency(t, ctx, env)
			for hash, n := range counts {
				if n != 1 || !genuine[hash] {
					return false
				}
			}
			return len(counts) == len(genuine)
		},
		fixt.GenBatches(4, 6),
	))

	properties.TestingRun(t)
}
