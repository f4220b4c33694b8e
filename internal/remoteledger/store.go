// Package remoteledger mirrors the Progress Ledger and its aggregates to a
// remote relational store (spec §4.4) for dashboarding. It is never the
// authority: every method degrades to a logged no-op rather than failing
// its caller once the remote side is judged unhealthy.
//
// Grounded on postgres-ducklake-flusher/go/flusher.go's pgxpool
// construction (ParseConfig + NewWithConfig + Ping) and its
// log-and-continue treatment of per-table failures.
package remoteledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/exchange-ingest/internal/domain"
	"github.com/withObsrvr/exchange-ingest/internal/logging"
)

// Config configures the connection to the Remote Ledger Store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 6543
	}
	if c.Database == "" {
		c.Database = "postgres"
	}
}

func (c Config) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=require",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Store is the best-effort dual-write mirror. A Store whose connect attempt
// failed at startup is still safe to use: every method becomes a logged
// no-op, per spec §4.4's "fails silently, degrades gracefully" rule.
type Store struct {
	pool    *pgxpool.Pool
	log     *logging.ComponentLogger
	enabled atomic.Bool
}

// Open attempts to connect to the Remote Ledger Store. It never returns an
// error: a connect failure is logged once and yields a Store with
// remote writes disabled, since the ingestion pipeline must proceed
// without the remote mirror (spec §4.4).
func Open(ctx context.Context, cfg Config, log *logging.ComponentLogger) *Store {
	cfg.applyDefaults()
	s := &Store{log: log}

	pgCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		log.Warn().Err(err).Msg("remote ledger store: invalid DSN, remote mirroring disabled")
		return s
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		log.Warn().Err(err).Msg("remote ledger store: connection pool setup failed, remote mirroring disabled")
		return s
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("remote ledger store: unreachable at startup, remote mirroring disabled")
		pool.Close()
		return s
	}

	s.pool = pool
	s.enabled.Store(true)
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("remote ledger store: connected")
	return s
}

// Enabled reports whether the remote mirror is currently being written to.
func (s *Store) Enabled() bool {
	return s.enabled.Load()
}

// Close releases the connection pool, if any.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// degrade permanently disables the mirror after a failure mid-run and logs
// once. Per spec §4.4 there is no automatic reconnection or out-of-band
// reconciliation: a degraded Store stays degraded for the process lifetime.
func (s *Store) degrade(op string, err error) {
	if s.enabled.CompareAndSwap(true, false) {
		s.log.Warn().Err(err).Str("op", op).Msg("remote ledger store: degrading to disabled after failure")
	}
}

// EnsureSchema creates the mirror tables if the remote store is reachable.
// Failure here is treated the same as a connect failure: disable and
// continue.
func (s *Store) EnsureSchema(ctx context.Context) {
	if !s.enabled.Load() {
		return
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS progress_records (
			exchange        TEXT NOT NULL,
			data_date       DATE NOT NULL,
			file_path       TEXT NOT NULL,
			file_size_bytes BIGINT,
			start_time      TIMESTAMPTZ NOT NULL,
			end_time        TIMESTAMPTZ,
			status          TEXT NOT NULL,
			records_loaded  BIGINT,
			error_message   TEXT,
			PRIMARY KEY (exchange, data_date)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_statistics (
			stats_date                 DATE NOT NULL,
			exchange                   TEXT NOT NULL,
			total_files                BIGINT NOT NULL,
			successful_files           BIGINT NOT NULL,
			failed_files               BIGINT NOT NULL,
			total_records              BIGINT NOT NULL,
			avg_records_per_file       NUMERIC(24,2) NOT NULL,
			total_processing_time_secs NUMERIC(24,2) NOT NULL,
			total_file_size_bytes      BIGINT NOT NULL,
			avg_file_size_bytes        NUMERIC(24,2) NOT NULL,
			PRIMARY KEY (stats_date, exchange)
		)`,
		`CREATE TABLE IF NOT EXISTS weekly_statistics (
			week_ending       DATE NOT NULL,
			exchange          TEXT NOT NULL,
			total_files       BIGINT NOT NULL,
			successful_files  BIGINT NOT NULL,
			failed_files      BIGINT NOT NULL,
			total_records     BIGINT NOT NULL,
			avg_daily_records NUMERIC(24,2) NOT NULL,
			avg_daily_files   NUMERIC(24,2) NOT NULL,
			PRIMARY KEY (week_ending, exchange)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			s.degrade("ensure_schema", err)
			return
		}
	}
}

// UpsertProgress mirrors one Progress Record. A failure degrades the mirror
// but never propagates to the caller.
func (s *Store) UpsertProgress(ctx context.Context, r domain.ProgressRecord) {
	if !s.enabled.Load() {
		return
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO progress_records
			(exchange, data_date, file_path, file_size_bytes, start_time, end_time, status, records_loaded, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (exchange, data_date) DO UPDATE SET
			file_path       = excluded.file_path,
			file_size_bytes = excluded.file_size_bytes,
			start_time      = excluded.start_time,
			end_time        = excluded.end_time,
			status          = excluded.status,
			records_loaded  = excluded.records_loaded,
			error_message   = excluded.error_message
	`, string(r.Exchange), r.DataDate, r.FilePath, r.FileSizeBytes, r.StartTime, r.EndTime, string(r.Status), r.RecordsLoaded, r.ErrorMessage)
	if err != nil {
		s.degrade("upsert_progress", err)
	}
}

// UpsertDailyStats mirrors one Daily Statistics row.
func (s *Store) UpsertDailyStats(ctx context.Context, d domain.DailyStats) {
	if !s.enabled.Load() {
		return
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_statistics
			(stats_date, exchange, total_files, successful_files, failed_files, total_records,
			 avg_records_per_file, total_processing_time_secs, total_file_size_bytes, avg_file_size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (stats_date, exchange) DO UPDATE SET
			total_files                = excluded.total_files,
			successful_files           = excluded.successful_files,
			failed_files               = excluded.failed_files,
			total_records              = excluded.total_records,
			avg_records_per_file       = excluded.avg_records_per_file,
			total_processing_time_secs = excluded.total_processing_time_secs,
			total_file_size_bytes      = excluded.total_file_size_bytes,
			avg_file_size_bytes        = excluded.avg_file_size_bytes
	`, d.StatsDate, string(d.Exchange), d.TotalFiles, d.SuccessfulFiles, d.FailedFiles, d.TotalRecords,
		d.AvgRecordsPerFile, d.TotalProcessingTimeSecs, d.TotalFileSizeBytes, d.AvgFileSizeBytes)
	if err != nil {
		s.degrade("upsert_daily_stats", err)
	}
}

// UpsertWeeklyStats mirrors one Weekly Rolling Statistics row.
func (s *Store) UpsertWeeklyStats(ctx context.Context, w domain.WeeklyStats) {
	if !s.enabled.Load() {
		return
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO weekly_statistics
			(week_ending, exchange, total_files, successful_files, failed_files, total_records,
			 avg_daily_records, avg_daily_files)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (week_ending, exchange) DO UPDATE SET
			total_files       = excluded.total_files,
			successful_files  = excluded.successful_files,
			failed_files      = excluded.failed_files,
			total_records     = excluded.total_records,
			avg_daily_records = excluded.avg_daily_records,
			avg_daily_files   = excluded.avg_daily_files
	`, w.WeekEnding, string(w.Exchange), w.TotalFiles, w.SuccessfulFiles, w.FailedFiles, w.TotalRecords,
		w.AvgDailyRecords, w.AvgDailyFiles)
	if err != nil {
		s.degrade("upsert_weekly_stats", err)
	}
}

// Query runs a read-only query against the mirror. The Monitoring Service
// uses this as its fallback read path when the local DuckDB file is
// exclusively locked by a running Job Runner (spec §4.8).
func (s *Store) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	if !s.enabled.Load() {
		return nil, fmt.Errorf("remoteledger: store disabled, no fallback read path available")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("remoteledger: query: %w", err)
	}
	return rows, nil
}

// QueryRow is the single-row counterpart to Query.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) (pgx.Row, error) {
	if !s.enabled.Load() {
		return nil, fmt.Errorf("remoteledger: store disabled, no fallback read path available")
	}
	return s.pool.QueryRow(ctx, query, args...), nil
}
