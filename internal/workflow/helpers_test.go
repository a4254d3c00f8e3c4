package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/fixt"
	"github.com/roach88/dhtstate/internal/kv"
	"github.com/roach88/dhtstate/internal/queue"
	"github.com/roach88/dhtstate/internal/state"
	"github.com/roach88/dhtstate/internal/testutil"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openEnv(t *testing.T, name string) *kv.SQLEnv {
	t.Helper()
	env, err := kv.Open(kv.Config{Path: filepath.Join(t.TempDir(), name)}, state.Partitions())
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func createTestEnv(t *testing.T) *kv.SQLEnv {
	t.Helper()
	return openEnv(t, "workflow.db")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(clock *testutil.StepClock) []Option {
	return []Option{
		WithClock(clock.Now),
		WithLogger(discardLogger()),
		WithIDGenerator(queue.NewFixedGenerator("batch-1", "batch-2", "batch-3", "batch-4", "batch-5", "batch-6")),
	}
}

func incoming(t *testing.T, ops ...dhtop.DhtOp) []IncomingOp {
	t.Helper()
	out := make([]IncomingOp, 0, len(ops))
	for _, op := range ops {
		in, err := NewIncomingOp(op)
		require.NoError(t, err)
		out = append(out, in)
	}
	return out
}

// drained reports whether a trigger was pending, consuming it.
func drained(rx queue.TriggerReceiver) bool {
	select {
	case <-rx.Wait():
		return true
	default:
		return false
	}
}

var errInjected = errors.New("injected write failure")

// failingWriter fails every write to one partition.
type failingWriter struct {
	kv.Writer
	failOn kv.Partition
}

func (w failingWriter) Put(ctx context.Context, p kv.Partition, key, value []byte) error {
	if p == w.failOn {
		return &kv.StorageError{Op: "put", Partition: p, Err: errInjected}
	}
	return w.Writer.Put(ctx, p, key, value)
}

func (w failingWriter) Delete(ctx context.Context, p kv.Partition, key []byte) error {
	if p == w.failOn {
		return &kv.StorageError{Op: "delete", Partition: p, Err: errInjected}
	}
	return w.Writer.Delete(ctx, p, key)
}

// observedEnv counts write transactions, optionally fails writes to one
// partition, and runs a hook inside every transaction.
type observedEnv struct {
	kv.Env
	failOn  kv.Partition
	writes  atomic.Int32
	inWrite func()
}

func (e *observedEnv) WithWriter(ctx context.Context, fn func(w kv.Writer) error) error {
	e.writes.Add(1)
	return e.Env.WithWriter(ctx, func(w kv.Writer) error {
		if e.inWrite != nil {
			e.inWrite()
		}
		if e.failOn != "" {
			w = failingWriter{Writer: w, failOn: e.failOn}
		}
		return fn(w)
	})
}

// flushers commits several stores as one workspace.
type flushers []state.Flusher

func (f flushers) FlushToTxn(ctx context.Context, w kv.Writer) error {
	return state.FlushInOrder(ctx, w, f...)
}

// promoteFirst plays the validation consumer: it marks the first limbo
// record valid and moves it to integration limbo.
func promoteFirst(t *testing.T, ctx context.Context, env kv.Env) {
	t.Helper()
	vl := state.NewValidationLimboStore(env)
	il := state.NewIntegrationLimboStore(env)
	for rec, err := range vl.Iterate(ctx) {
		require.NoError(t, err)
		v := rec.Value
		require.NoError(t, v.Transition(state.LimboValid))
		require.NoError(t, vl.Put(rec.Hash, v))
		require.NoError(t, state.PromoteToIntegrationLimbo(ctx, vl, il, rec.Hash))
		break
	}
	require.NoError(t, state.Commit(ctx, env, flushers{vl, il}))
}

// integrateFirst plays the integration consumer: it moves the first
// integration limbo record to the integrated store.
func integrateFirst(t *testing.T, ctx context.Context, env kv.Env) {
	t.Helper()
	il := state.NewIntegrationLimboStore(env)
	done := state.NewIntegratedDhtOpsStore(env)
	for rec, err := range il.Iterate(ctx) {
		require.NoError(t, err)
		require.NoError(t, done.Put(rec.Hash, state.IntegratedDhtOpsValue{
			ValidationStatus: rec.Value.ValidationStatus,
			Op:               rec.Value.Op,
			WhenIntegrated:   testEpoch,
		}))
		il.Delete(rec.Hash)
		break
	}
	require.NoError(t, state.Commit(ctx, env, flushers{il, done}))
}

// residency counts, per op hash, how many of the three op stores hold it.
func residency(t *testing.T, ctx context.Context, env kv.Env) map[dhtop.Hash]int {
	t.Helper()
	counts := make(map[dhtop.Hash]int)
	for rec, err := range state.NewValidationLimboStore(env).Iterate(ctx) {
		require.NoError(t, err)
		counts[rec.Hash]++
	}
	for rec, err := range state.NewIntegrationLimboStore(env).Iterate(ctx) {
		require.NoError(t, err)
		counts[rec.Hash]++
	}
	for rec, err := range state.NewIntegratedDhtOpsStore(env).Iterate(ctx) {
		require.NoError(t, err)
		counts[rec.Hash]++
	}
	return counts
}

// countRecords returns the number of persisted records per partition.
func countRecords(t *testing.T, ctx context.Context, env kv.Reader) map[kv.Partition]int {
	t.Helper()
	counts := make(map[kv.Partition]int)
	for _, p := range state.Partitions() {
		for _, err := range env.Scan(ctx, p, nil, kv.Forward) {
			require.NoError(t, err)
			counts[p]++
		}
	}
	return counts
}

func genesisChain(t *testing.T, ctx context.Context, env kv.Env, a fixt.Author) {
	t.Helper()
	require.NoError(t, Genesis(ctx, env, a.Priv, fixt.Hash("dna"),
		WithClock(func() time.Time { return testEpoch }),
		WithLogger(discardLogger()),
	))
}
