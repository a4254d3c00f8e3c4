package kv

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"testing"
)

const (
	testPartA Partition = "alpha"
	testPartB Partition = "beta"
)

// createTestEnv opens a fresh SQLite env in a temp dir.
func createTestEnv(t *testing.T, driver string) *SQLEnv {
	t.Helper()
	env, err := Open(Config{
		Driver: driver,
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}, []Partition{testPartA, testPartB})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { env.Close() })
	return env
}

// seed commits key/value pairs straight into a partition.
func seed(t *testing.T, env Env, p Partition, kvs ...string) {
	t.Helper()
	err := env.WithWriter(context.Background(), func(w Writer) error {
		for i := 0; i+1 < len(kvs); i += 2 {
			if err := w.Put(context.Background(), p, []byte(kvs[i]), []byte(kvs[i+1])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

var errInjected = errors.New("injected write failure")

// failingWriter fails every write to one partition.
type failingWriter struct {
	Writer
	failOn Partition
}

func (f failingWriter) Put(ctx context.Context, p Partition, key, value []byte) error {
	if p == f.failOn {
		return &StorageError{Op: "put", Partition: p, Err: errInjected}
	}
	return f.Writer.Put(ctx, p, key, value)
}

func (f failingWriter) Delete(ctx context.Context, p Partition, key []byte) error {
	if p == f.failOn {
		return &StorageError{Op: "delete", Partition: p, Err: errInjected}
	}
	return f.Writer.Delete(ctx, p, key)
}

func collectKeys[V any](t *testing.T, seq iter.Seq2[Item[V], error]) []string {
	t.Helper()
	var keys []string
	for item, err := range seq {
		if err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		keys = append(keys, string(item.Key))
	}
	return keys
}
