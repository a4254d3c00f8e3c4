package kv

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by point reads when the key is absent.
	ErrNotFound = errors.New("kv: not found")

	// ErrFlushed is returned when a buffer or workspace is flushed twice.
	ErrFlushed = errors.New("kv: already flushed")

	// ErrUnknownPartition is returned for partitions the Env was not opened with.
	ErrUnknownPartition = errors.New("kv: unknown partition")

	// ErrInvalidPartition is returned for partition names that are not valid identifiers.
	ErrInvalidPartition = errors.New("kv: invalid partition name")
)

// StorageError wraps a failure reported by the underlying database.
// Storage errors are fatal to the current transaction.
type StorageError struct {
	// Op is the storage operation that failed ("get", "put", "begin", ...).
	Op string

	// Partition is the partition involved, empty for transaction-level failures.
	Partition Partition

	// Err is the driver error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Partition != "" {
		return fmt.Sprintf("kv %s %s: %v", e.Op, e.Partition, e.Err)
	}
	return fmt.Sprintf("kv %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
