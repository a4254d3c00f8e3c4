package kv

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	// DriverSQLite3 is the cgo SQLite driver (github.com/mattn/go-sqlite3).
	DriverSQLite3 = "sqlite3"
	// DriverSQLite is the pure-Go SQLite driver (modernc.org/sqlite).
	DriverSQLite = "sqlite"
	// DriverPostgres is github.com/lib/pq.
	DriverPostgres = "postgres"
)

// Defaults applied by Open when the Config leaves a field zero.
const (
	DefaultBusyTimeout = 5 * time.Second
	DefaultMaxReaders  = 4
)

var _ Env = (*SQLEnv)(nil)

// Config selects and tunes the backend.
type Config struct {
	// Driver is one of DriverSQLite3 (default), DriverSQLite or DriverPostgres.
	Driver string

	// Path is the SQLite database file.
	Path string

	// DSN is the Postgres connection string.
	DSN string

	// BusyTimeout bounds how long SQLite waits on a locked database.
	BusyTimeout time.Duration

	// MaxReaders caps the SQLite reader pool.
	MaxReaders int
}

// Open creates or opens the database described by cfg and ensures a table
// exists for every partition. Opening the same database repeatedly is safe.
//
// SQLite databases are configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - a busy timeout for lock contention
//   - a single-connection writer pool whose transactions BEGIN IMMEDIATE
func Open(cfg Config, partitions []Partition) (*SQLEnv, error) {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = DefaultBusyTimeout
	}
	if cfg.MaxReaders <= 0 {
		cfg.MaxReaders = DefaultMaxReaders
	}

	switch cfg.Driver {
	case "", DriverSQLite3, DriverSQLite:
		if cfg.Driver == "" {
			cfg.Driver = DriverSQLite3
		}
		return openSQLite(cfg, partitions)
	case DriverPostgres:
		return openPostgres(cfg, partitions)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func openSQLite(cfg Config, partitions []Partition) (*SQLEnv, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	writer, err := openPool(cfg.Driver, sqliteDSN(cfg, true))
	if err != nil {
		return nil, err
	}
	// SQLite only supports one writer at a time
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	reader, err := openPool(cfg.Driver, sqliteDSN(cfg, false))
	if err != nil {
		writer.Close()
		return nil, err
	}
	reader.SetMaxOpenConns(cfg.MaxReaders)

	env, err := newSQLEnv(reader, writer, sqliteDialect(cfg.Driver), partitions)
	if err != nil {
		reader.Close()
		writer.Close()
		return nil, err
	}
	if err := env.ensurePartitions(context.Background()); err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to create partitions: %w", err)
	}
	return env, nil
}

func openPostgres(cfg Config, partitions []Partition) (*SQLEnv, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := openPool(DriverPostgres, cfg.DSN)
	if err != nil {
		return nil, err
	}
	env, err := newSQLEnv(db, db, postgresDialect(), partitions)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := env.ensurePartitions(context.Background()); err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to create partitions: %w", err)
	}
	return env, nil
}

func openPool(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// sqliteDSN builds the connection string. The two drivers spell the same
// pragmas differently.
func sqliteDSN(cfg Config, writer bool) string {
	ms := cfg.BusyTimeout.Milliseconds()
	q := url.Values{}
	if cfg.Driver == DriverSQLite {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", ms))
	} else {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
		q.Set("_busy_timeout", fmt.Sprintf("%d", ms))
	}
	if writer {
		q.Set("_txlock", "immediate")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

func sqliteDialect(driver string) dialect {
	return dialect{
		name:      driver,
		blobType:  "BLOB",
		tableOpts: " WITHOUT ROWID",
	}
}

func postgresDialect() dialect {
	return dialect{
		name:     DriverPostgres,
		blobType: "BYTEA",
		lockWriter: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", writerLockKey)
			return err
		},
	}
}

// writerLockKey is the advisory lock shared by every dhtstate writer.
var writerLockKey = func() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("dhtstate/kv/writer"))
	return int64(h.Sum64())
}()
