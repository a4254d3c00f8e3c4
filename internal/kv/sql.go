package kv

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// queryer is the subset of *sql.DB and *sql.Tx used for reads and writes.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect captures the SQL differences between backends.
type dialect struct {
	name      string
	blobType  string
	tableOpts string

	// lockWriter serializes write transactions when the database itself
	// does not (nil for SQLite, which takes the lock on BEGIN IMMEDIATE).
	lockWriter func(ctx context.Context, tx *sql.Tx) error
}

// bind rewrites ? placeholders for the dialect.
func (d dialect) bind(query string) string {
	if d.name != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLEnv is an Env backed by database/sql. Each partition is one table
// named kv_<partition> with a BLOB primary key.
type SQLEnv struct {
	reader *sql.DB
	writer *sql.DB
	d      dialect
	tables map[Partition]string
}

func newSQLEnv(reader, writer *sql.DB, d dialect, partitions []Partition) (*SQLEnv, error) {
	tables := make(map[Partition]string, len(partitions))
	for _, p := range partitions {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		tables[p] = quoteIdentifier("kv_" + string(p))
	}
	return &SQLEnv{reader: reader, writer: writer, d: d, tables: tables}, nil
}

// ensurePartitions creates the partition tables. Safe to call repeatedly.
func (e *SQLEnv) ensurePartitions(ctx context.Context) error {
	for p, table := range e.tables {
		ddl := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (key %s PRIMARY KEY, value %s NOT NULL)%s",
			table, e.d.blobType, e.d.blobType, e.d.tableOpts,
		)
		if _, err := e.writer.ExecContext(ctx, ddl); err != nil {
			return &StorageError{Op: "create", Partition: p, Err: err}
		}
	}
	return nil
}

// Partitions returns the partitions this Env was opened with.
func (e *SQLEnv) Partitions() []Partition {
	out := make([]Partition, 0, len(e.tables))
	for p := range e.tables {
		out = append(out, p)
	}
	return out
}

// DB returns the reader pool for diagnostics.
// Use with caution - prefer the Env methods.
func (e *SQLEnv) DB() *sql.DB {
	return e.reader
}

func (e *SQLEnv) table(p Partition) (string, error) {
	t, ok := e.tables[p]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPartition, p)
	}
	return t, nil
}

// Get reads a committed value.
func (e *SQLEnv) Get(ctx context.Context, p Partition, key []byte) ([]byte, error) {
	return e.get(ctx, e.reader, p, key)
}

// Scan iterates committed values.
func (e *SQLEnv) Scan(ctx context.Context, p Partition, prefix []byte, dir Direction) iter.Seq2[Pair, error] {
	return e.scan(ctx, e.reader, p, prefix, dir)
}

// WithWriter runs fn in one write transaction.
func (e *SQLEnv) WithWriter(ctx context.Context, fn func(w Writer) error) error {
	tx, err := e.writer.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback() // No-op if committed

	if e.d.lockWriter != nil {
		if err := e.d.lockWriter(ctx, tx); err != nil {
			return &StorageError{Op: "lock", Err: err}
		}
	}

	if err := fn(&sqlWriter{env: e, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit", Err: err}
	}
	return nil
}

// Close closes both connection pools.
func (e *SQLEnv) Close() error {
	if e.writer == nil {
		return nil
	}
	err := e.writer.Close()
	if e.reader != e.writer {
		err = errors.Join(err, e.reader.Close())
	}
	return err
}

func (e *SQLEnv) get(ctx context.Context, q queryer, p Partition, key []byte) ([]byte, error) {
	table, err := e.table(p)
	if err != nil {
		return nil, err
	}
	var value []byte
	query := e.d.bind(fmt.Sprintf("SELECT value FROM %s WHERE key = ?", table))
	err = q.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Partition: p, Err: err}
	}
	return value, nil
}

func (e *SQLEnv) scan(ctx context.Context, q queryer, p Partition, prefix []byte, dir Direction) iter.Seq2[Pair, error] {
	return func(yield func(Pair, error) bool) {
		table, err := e.table(p)
		if err != nil {
			yield(Pair{}, err)
			return
		}

		var where []string
		var args []any
		if len(prefix) > 0 {
			where = append(where, "key >= ?")
			args = append(args, prefix)
			if end := prefixEnd(prefix); end != nil {
				where = append(where, "key < ?")
				args = append(args, end)
			}
		}
		query := "SELECT key, value FROM " + table
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		if dir == Reverse {
			query += " ORDER BY key DESC"
		} else {
			query += " ORDER BY key ASC"
		}

		rows, err := q.QueryContext(ctx, e.d.bind(query), args...)
		if err != nil {
			yield(Pair{}, &StorageError{Op: "scan", Partition: p, Err: err})
			return
		}
		defer rows.Close()

		for rows.Next() {
			var pair Pair
			if err := rows.Scan(&pair.Key, &pair.Value); err != nil {
				yield(Pair{}, &StorageError{Op: "scan", Partition: p, Err: err})
				return
			}
			if !yield(pair, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Pair{}, &StorageError{Op: "scan", Partition: p, Err: err})
		}
	}
}

// sqlWriter is the Writer handed to WithWriter callbacks.
type sqlWriter struct {
	env *SQLEnv
	tx  *sql.Tx
}

func (w *sqlWriter) Get(ctx context.Context, p Partition, key []byte) ([]byte, error) {
	return w.env.get(ctx, w.tx, p, key)
}

func (w *sqlWriter) Scan(ctx context.Context, p Partition, prefix []byte, dir Direction) iter.Seq2[Pair, error] {
	return w.env.scan(ctx, w.tx, p, prefix, dir)
}

func (w *sqlWriter) Put(ctx context.Context, p Partition, key, value []byte) error {
	table, err := w.env.table(p)
	if err != nil {
		return err
	}
	query := w.env.d.bind(fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, table))
	// A nil slice binds as NULL, which the value column refuses.
	if value == nil {
		value = []byte{}
	}
	if _, err := w.tx.ExecContext(ctx, query, key, value); err != nil {
		return &StorageError{Op: "put", Partition: p, Err: err}
	}
	return nil
}

func (w *sqlWriter) Delete(ctx context.Context, p Partition, key []byte) error {
	table, err := w.env.table(p)
	if err != nil {
		return err
	}
	query := w.env.d.bind(fmt.Sprintf("DELETE FROM %s WHERE key = ?", table))
	if _, err := w.tx.ExecContext(ctx, query, key); err != nil {
		return &StorageError{Op: "delete", Partition: p, Err: err}
	}
	return nil
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists (prefix is all 0xff).
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func quoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
