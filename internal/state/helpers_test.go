package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/roach88/dhtstate/internal/kv"
	"github.com/stretchr/testify/require"
)

func createTestEnv(t *testing.T) *kv.SQLEnv {
	t.Helper()
	env, err := kv.Open(kv.Config{Path: filepath.Join(t.TempDir(), "state.db")}, Partitions())
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
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

// failingEnv hands every WithWriter callback a failingWriter.
type failingEnv struct {
	kv.Env
	failOn kv.Partition
}

func (e failingEnv) WithWriter(ctx context.Context, fn func(w kv.Writer) error) error {
	return e.Env.WithWriter(ctx, func(w kv.Writer) error {
		return fn(failingWriter{Writer: w, failOn: e.failOn})
	})
}

// wsFunc adapts a function to Workspace.
type wsFunc func(ctx context.Context, w kv.Writer) error

func (f wsFunc) FlushToTxn(ctx context.Context, w kv.Writer) error {
	return f(ctx, w)
}
