package state

import (
	"context"

	"github.com/roach88/dhtstate/internal/kv"
)

// Flusher is anything that applies staged writes inside a transaction.
type Flusher interface {
	FlushToTxn(ctx context.Context, w kv.Writer) error
}

// Workspace owns the buffers of one workflow invocation. FlushToTxn
// flushes all of them, in a fixed order, into the given transaction.
type Workspace interface {
	Flusher
}

// Commit flushes ws inside one exclusive write transaction. Either every
// buffer's writes become visible or, on any error, none do. Workspaces are
// single-use; committing twice fails with kv.ErrFlushed.
func Commit(ctx context.Context, env kv.Env, ws Workspace) error {
	return env.WithWriter(ctx, func(w kv.Writer) error {
		return ws.FlushToTxn(ctx, w)
	})
}

// FlushInOrder flushes each store in turn and stops at the first error.
func FlushInOrder(ctx context.Context, w kv.Writer, stores ...Flusher) error {
	for _, s := range stores {
		if err := s.FlushToTxn(ctx, w); err != nil {
			return err
		}
	}
	return nil
}
