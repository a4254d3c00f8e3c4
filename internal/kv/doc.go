// Package kv provides ordered, byte-keyed storage partitions and the buffered
// stores layered on top of them.
//
// The package has two halves:
//   - Env: a persistent store made of named partitions (one SQL table each).
//     Supports point reads, ordered prefix scans in either direction and
//     serialized write transactions (WithWriter).
//   - Buffer: a typed scratch overlay over one partition. Writes stay in memory
//     until FlushToTxn applies them inside a caller-supplied write transaction.
//
// # Concurrency
//
// Env is single-writer / multi-reader. SQLite runs in WAL mode with a dedicated
// one-connection writer pool (BEGIN IMMEDIATE) and a separate reader pool, so
// readers keep seeing the last committed snapshot while a write is in flight.
// Postgres serializes writers with a transaction-scoped advisory lock.
//
// Buffers are not safe for concurrent use. Each unit of work owns its buffers
// and discards them after flushing.
//
// # Ordering
//
// Keys compare as raw bytes (memcmp). BLOB/BYTEA primary keys give the same
// order in both SQL backends, and Buffer iteration merges its scratch entries
// into that order.
package kv
