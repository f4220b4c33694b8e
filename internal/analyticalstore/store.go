// Package analyticalstore wraps the embedded columnar database (spec §4.2):
// a single-writer-per-process DuckDB file holding the bronze fact tables,
// the progress ledger, and the gold aggregate tables.
//
// Grounded on silver-cold-flusher/go/duckdb.go's NewDuckDBClient/initialize
// pattern: open via database/sql with an empty DSN, then run idempotent
// CREATE-IF-NOT-EXISTS statements. Unlike the teacher, this store does not
// attach a remote DuckLake catalog — bronze lives directly in the local
// DuckDB file, and the Postgres side is reached exclusively through
// internal/remoteledger.
package analyticalstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/withObsrvr/exchange-ingest/internal/logging"
)

// Store is the single-writer-per-process handle onto the Analytical Store
// file. Construct one per Job Runner process (spec §4.2/§5).
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
	log      *logging.ComponentLogger
}

// Open opens (creating if absent) the DuckDB file at path. When readOnly is
// true the store is suitable only for the Monitoring Service's concurrent
// reads (spec §4.8): Begin refuses to start a transaction, and write
// statements issued through Exec fail at the driver level.
func Open(path string, readOnly bool, log *logging.ComponentLogger) (*Store, error) {
	dsn := path
	if readOnly {
		dsn = fmt.Sprintf("%s?access_mode=READ_ONLY", path)
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("analyticalstore: open %q: %w", path, err)
	}

	// The analytical store is single-writer-per-process; one physical
	// connection avoids DuckDB's single-process-writer lock ever being
	// contended from within our own process.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, readOnly: readOnly, log: log}
	return s, nil
}

// Close releases the DuckDB file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping forces the lazily-opened database/sql connection to actually acquire
// the DuckDB file, surfacing a read-only open's conflict with another
// process's exclusive writer lock (spec §4.8) instead of deferring it to
// the first query.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InitSchema idempotently creates the bronze and gold schemas and the
// progress/statistics tables. Bronze per-exchange fact tables are created
// lazily on first successful ingestion of that exchange (schema.go), since
// their column set is discovered from the source file.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS bronze`,
		`CREATE SCHEMA IF NOT EXISTS gold`,
		`CREATE TABLE IF NOT EXISTS gold.progress_records (
			exchange        TEXT NOT NULL,
			data_date       DATE NOT NULL,
			file_path       TEXT NOT NULL,
			file_size_bytes BIGINT,
			start_time      TIMESTAMP NOT NULL,
			end_time        TIMESTAMP,
			status          TEXT NOT NULL,
			records_loaded  BIGINT,
			error_message   TEXT,
			PRIMARY KEY (exchange, data_date)
		)`,
		`CREATE TABLE IF NOT EXISTS gold.daily_statistics (
			stats_date                   DATE NOT NULL,
			exchange                     TEXT NOT NULL,
			total_files                  BIGINT NOT NULL,
			successful_files             BIGINT NOT NULL,
			failed_files                 BIGINT NOT NULL,
			total_records                BIGINT NOT NULL,
			avg_records_per_file         DECIMAL(24,2) NOT NULL,
			total_processing_time_secs   DECIMAL(24,2) NOT NULL,
			total_file_size_bytes        BIGINT NOT NULL,
			avg_file_size_bytes          DECIMAL(24,2) NOT NULL,
			PRIMARY KEY (stats_date, exchange)
		)`,
		`CREATE TABLE IF NOT EXISTS gold.weekly_statistics (
			week_ending        DATE NOT NULL,
			exchange           TEXT NOT NULL,
			total_files        BIGINT NOT NULL,
			successful_files   BIGINT NOT NULL,
			failed_files       BIGINT NOT NULL,
			total_records      BIGINT NOT NULL,
			avg_daily_records  DECIMAL(24,2) NOT NULL,
			avg_daily_files    DECIMAL(24,2) NOT NULL,
			PRIMARY KEY (week_ending, exchange)
		)`,
		`CREATE TABLE IF NOT EXISTS bronze._schema_registry (
			exchange     TEXT PRIMARY KEY,
			columns_json TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("analyticalstore: init schema: %w", err)
		}
	}
	return nil
}

// Tx is a first-class transaction value (spec §9's design note: make the
// transaction explicit rather than smuggling rollback into destructors).
type Tx struct {
	tx *sql.Tx
}

// Begin starts a transaction. Not valid on a read-only Store.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	if s.readOnly {
		return nil, fmt.Errorf("analyticalstore: store opened read-only")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("analyticalstore: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("analyticalstore: commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after a failed Commit.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("analyticalstore: rollback: %w", err)
	}
	return nil
}

// Exec runs a statement within the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// Query runs a query within the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// Exec runs a statement outside any worker transaction (used by the ledger
// for progress/stats maintenance, which is its own short-lived unit of work
// per spec §4.3's "one transaction" ordering rule).
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("analyticalstore: exec: %w", err)
	}
	return res, nil
}

// Query runs a read query against the store.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("analyticalstore: query: %w", err)
	}
	return rows, nil
}

// QueryRow runs a single-row read query.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// WithTx runs fn inside a fresh transaction, committing on success and
// rolling back on any error fn returns.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn().Err(rbErr).Msg("rollback failed after transaction error")
		}
		return err
	}
	return tx.Commit()
}
