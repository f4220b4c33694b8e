package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/withObsrvr/exchange-ingest/internal/analyticalstore"
	"github.com/withObsrvr/exchange-ingest/internal/domain"
	"github.com/withObsrvr/exchange-ingest/internal/ingesterr"
	"github.com/withObsrvr/exchange-ingest/internal/logging"
	"github.com/withObsrvr/exchange-ingest/internal/remoteledger"
)

// DefaultStaleThreshold is how long a "started" Progress Record is trusted
// to represent a still-running worker before a new claim is allowed to
// reclaim it (spec §4.3's staleness rule).
const DefaultStaleThreshold = 2 * time.Hour

// Ledger is the single writer of Progress Records and their derived
// aggregates. It owns both the Analytical Store (authoritative) and the
// Remote Ledger Store (best-effort mirror), per spec §9's design note that
// the degradation policy belongs to one abstraction rather than being
// scattered across callers.
type Ledger struct {
	store          *analyticalstore.Store
	remote         *remoteledger.Store
	log            *logging.ComponentLogger
	staleThreshold time.Duration
}

// New builds a Ledger. remote may be nil, which is equivalent to a
// permanently-disabled remote mirror.
func New(store *analyticalstore.Store, remote *remoteledger.Store, log *logging.ComponentLogger) *Ledger {
	return &Ledger{store: store, remote: remote, log: log, staleThreshold: DefaultStaleThreshold}
}

// WithStaleThreshold overrides the default staleness window, mainly for tests.
func (l *Ledger) WithStaleThreshold(d time.Duration) *Ledger {
	l.staleThreshold = d
	return l
}

// Claim attempts to start work on (exchange, date). A completed record
// always yields ClaimAlreadyDone; idempotent controls whether a failed or
// skipped record is eligible for retry. The caller must treat ClaimProceed
// as the only outcome under which it should open a transaction and run the
// Ingestion Worker steps.
func (l *Ledger) Claim(ctx context.Context, exchange domain.Exchange, date time.Time, filePath string, fileSize *int64, idempotent bool) (domain.ClaimOutcome, error) {
	date = date.UTC().Truncate(24 * time.Hour)

	existing, err := l.loadProgress(ctx, exchange, date)
	if err != nil {
		return domain.ClaimConflict, err
	}

	now := time.Now().UTC()

	if existing == nil {
		if err := l.insertStarted(ctx, exchange, date, filePath, fileSize, now); err != nil {
			return domain.ClaimConflict, err
		}
		return domain.ClaimProceed, nil
	}

	if existing.Status.IsTerminal() {
		if existing.Status == domain.StatusCompleted || !idempotent {
			return domain.ClaimAlreadyDone, nil
		}
		if err := l.reclaimStarted(ctx, exchange, date, filePath, fileSize, now); err != nil {
			return domain.ClaimConflict, err
		}
		return domain.ClaimProceed, nil
	}

	// status == started: another worker may still be running, unless its
	// claim is stale.
	if now.Sub(existing.StartTime) <= l.staleThreshold {
		return domain.ClaimConflict, nil
	}

	l.log.Warn().
		Str("exchange", string(exchange)).
		Time("data_date", date).
		Time("stale_since", existing.StartTime).
		Msg("reclaiming stale started progress record")

	if err := l.reclaimStarted(ctx, exchange, date, filePath, fileSize, now); err != nil {
		return domain.ClaimConflict, err
	}
	return domain.ClaimProceed, nil
}

// Complete transitions (exchange, date) to completed, records the loaded
// row count, and recomputes the daily/weekly aggregates that cover it.
func (l *Ledger) Complete(ctx context.Context, exchange domain.Exchange, date time.Time, recordsLoaded int64) error {
	return l.finish(ctx, exchange, date, domain.StatusCompleted, "", nil, &recordsLoaded, nil)
}

// Fail transitions (exchange, date) to failed with an abbreviated error
// message. filePath is used only when no Progress Record exists yet for
// (exchange, date) — e.g. a failure while resolving the source file, before
// Claim ever ran (spec §4.5 steps 2/3) — so that a failure is never lost for
// want of a prior claim.
func (l *Ledger) Fail(ctx context.Context, exchange domain.Exchange, date time.Time, filePath string, cause error) error {
	msg := ingesterr.Abbreviate(cause, 2000)
	return l.finish(ctx, exchange, date, domain.StatusFailed, filePath, nil, nil, &msg)
}

// Skip transitions (exchange, date) to skipped (e.g. source file absent)
// with an explanatory message. filePath is used only when no Progress
// Record exists yet, same as Fail.
func (l *Ledger) Skip(ctx context.Context, exchange domain.Exchange, date time.Time, filePath string, reason string) error {
	return l.finish(ctx, exchange, date, domain.StatusSkipped, filePath, nil, nil, &reason)
}

// finish records a terminal transition for (exchange, date). It upserts
// rather than merely updating: steps 1-3 of the Ingestion Worker (spec
// §4.5) can fail or skip before Claim ever inserted a "started" row (no
// source file found, a transient head() failure, a claim error itself), and
// the spec's data model (§3) requires a Progress Record to exist for every
// terminal outcome so the dashboard can surface it with its error_message.
func (l *Ledger) finish(ctx context.Context, exchange domain.Exchange, date time.Time, status domain.Status, filePath string, fileSize *int64, recordsLoaded *int64, errMsg *string) error {
	date = date.UTC().Truncate(24 * time.Hour)
	start := time.Now().UTC()
	end := start

	_, err := l.store.Exec(ctx, `
		INSERT INTO gold.progress_records
			(exchange, data_date, file_path, file_size_bytes, start_time, end_time, status, records_loaded, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (exchange, data_date) DO UPDATE SET
			end_time       = excluded.end_time,
			status         = excluded.status,
			records_loaded = excluded.records_loaded,
			error_message  = excluded.error_message
	`, string(exchange), date, filePath, fileSize, start, end, string(status), recordsLoaded, errMsg)
	if err != nil {
		return fmt.Errorf("ledger: finish(%s): %w", status, err)
	}

	rec, err := l.loadProgress(ctx, exchange, date)
	if err != nil {
		return err
	}
	if rec != nil && l.remote != nil {
		l.remote.UpsertProgress(ctx, *rec)
	}

	if err := l.refreshDaily(ctx, exchange, date); err != nil {
		return err
	}
	if err := l.refreshWeekly(ctx, exchange, domain.WeekEndingFor(date)); err != nil {
		return err
	}
	return nil
}

func (l *Ledger) insertStarted(ctx context.Context, exchange domain.Exchange, date time.Time, filePath string, fileSize *int64, start time.Time) error {
	_, err := l.store.Exec(ctx, `
		INSERT INTO gold.progress_records
			(exchange, data_date, file_path, file_size_bytes, start_time, end_time, status, records_loaded, error_message)
		VALUES (?, ?, ?, ?, ?, NULL, ?, NULL, NULL)
	`, string(exchange), date, filePath, fileSize, start, string(domain.StatusStarted))
	if err != nil {
		return fmt.Errorf("ledger: insert started: %w", err)
	}
	if l.remote != nil {
		l.remote.UpsertProgress(ctx, domain.ProgressRecord{
			Exchange: exchange, DataDate: date, FilePath: filePath, FileSizeBytes: fileSize,
			StartTime: start, Status: domain.StatusStarted,
		})
	}
	return nil
}

func (l *Ledger) reclaimStarted(ctx context.Context, exchange domain.Exchange, date time.Time, filePath string, fileSize *int64, start time.Time) error {
	_, err := l.store.Exec(ctx, `
		UPDATE gold.progress_records
		SET file_path = ?, file_size_bytes = ?, start_time = ?, end_time = NULL, status = ?, records_loaded = NULL, error_message = NULL
		WHERE exchange = ? AND data_date = ?
	`, filePath, fileSize, start, string(domain.StatusStarted), string(exchange), date)
	if err != nil {
		return fmt.Errorf("ledger: reclaim started: %w", err)
	}
	if l.remote != nil {
		l.remote.UpsertProgress(ctx, domain.ProgressRecord{
			Exchange: exchange, DataDate: date, FilePath: filePath, FileSizeBytes: fileSize,
			StartTime: start, Status: domain.StatusStarted,
		})
	}
	return nil
}

func (l *Ledger) loadProgress(ctx context.Context, exchange domain.Exchange, date time.Time) (*domain.ProgressRecord, error) {
	row := l.store.QueryRow(ctx, `
		SELECT exchange, data_date, file_path, file_size_bytes, start_time, end_time, status, records_loaded, error_message
		FROM gold.progress_records WHERE exchange = ? AND data_date = ?
	`, string(exchange), date)

	var (
		exchStr  string
		dataDate time.Time
		filePath string
		status   string
	)
	rec := &domain.ProgressRecord{}
	err := row.Scan(&exchStr, &dataDate, &filePath, &rec.FileSizeBytes, &rec.StartTime, &rec.EndTime, &status, &rec.RecordsLoaded, &rec.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load progress: %w", err)
	}
	rec.Exchange = domain.Exchange(exchStr)
	rec.DataDate = dataDate
	rec.FilePath = filePath
	rec.Status = domain.Status(status)
	return rec, nil
}

// refreshDaily fully recomputes gold.daily_statistics for (date, exchange)
// from the progress records, per spec §4.3's "derived, never
// incrementally patched" rule. total_file_size_bytes and
// total_processing_time_secs are sums over completed files only — a failed
// or started row still carries the file_size_bytes stamped at claim time
// (and, once terminal, an end_time), but spec §4.3 defines both sums as
// "for completed", so non-completed rows must not contribute.
func (l *Ledger) refreshDaily(ctx context.Context, exchange domain.Exchange, date time.Time) error {
	rows, err := l.store.Query(ctx, `
		SELECT status, records_loaded, file_size_bytes,
		       EXTRACT(EPOCH FROM (end_time - start_time))
		FROM gold.progress_records
		WHERE exchange = ? AND data_date = ?
	`, string(exchange), date)
	if err != nil {
		return fmt.Errorf("ledger: refresh daily query: %w", err)
	}
	defer rows.Close()

	stats := domain.DailyStats{StatsDate: date, Exchange: exchange}
	var totalSeconds decimal.Decimal

	for rows.Next() {
		var (
			status      string
			records     *int64
			sizeBytes   *int64
			elapsedSecs *float64
		)
		if err := rows.Scan(&status, &records, &sizeBytes, &elapsedSecs); err != nil {
			return fmt.Errorf("ledger: refresh daily scan: %w", err)
		}
		stats.TotalFiles++
		switch domain.Status(status) {
		case domain.StatusCompleted:
			stats.SuccessfulFiles++
			if records != nil {
				stats.TotalRecords += *records
			}
			if sizeBytes != nil {
				stats.TotalFileSizeBytes += *sizeBytes
			}
			if elapsedSecs != nil {
				totalSeconds = totalSeconds.Add(decimal.NewFromFloat(*elapsedSecs))
			}
		case domain.StatusFailed:
			stats.FailedFiles++
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: refresh daily rows: %w", err)
	}

	stats.TotalProcessingTimeSecs = totalSeconds
	successfulOrOne := decimal.NewFromInt(maxInt64(stats.SuccessfulFiles, 1))
	stats.AvgRecordsPerFile = decimal.NewFromInt(stats.TotalRecords).Div(successfulOrOne)
	stats.AvgFileSizeBytes = decimal.NewFromInt(stats.TotalFileSizeBytes).Div(successfulOrOne)

	_, err = l.store.Exec(ctx, `
		INSERT INTO gold.daily_statistics
			(stats_date, exchange, total_files, successful_files, failed_files, total_records,
			 avg_records_per_file, total_processing_time_secs, total_file_size_bytes, avg_file_size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stats_date, exchange) DO UPDATE SET
			total_files = excluded.total_files,
			successful_files = excluded.successful_files,
			failed_files = excluded.failed_files,
			total_records = excluded.total_records,
			avg_records_per_file = excluded.avg_records_per_file,
			total_processing_time_secs = excluded.total_processing_time_secs,
			total_file_size_bytes = excluded.total_file_size_bytes,
			avg_file_size_bytes = excluded.avg_file_size_bytes
	`, stats.StatsDate, string(stats.Exchange), stats.TotalFiles, stats.SuccessfulFiles, stats.FailedFiles,
		stats.TotalRecords, stats.AvgRecordsPerFile, stats.TotalProcessingTimeSecs, stats.TotalFileSizeBytes, stats.AvgFileSizeBytes)
	if err != nil {
		return fmt.Errorf("ledger: refresh daily upsert: %w", err)
	}

	if l.remote != nil {
		l.remote.UpsertDailyStats(ctx, stats)
	}
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// refreshWeekly fully recomputes gold.weekly_statistics for (weekEnding,
// exchange) from the seven covered daily_statistics rows.
func (l *Ledger) refreshWeekly(ctx context.Context, exchange domain.Exchange, weekEnding time.Time) error {
	weekStart := weekEnding.AddDate(0, 0, -6)

	rows, err := l.store.Query(ctx, `
		SELECT total_files, successful_files, failed_files, total_records
		FROM gold.daily_statistics
		WHERE exchange = ? AND stats_date BETWEEN ? AND ?
	`, string(exchange), weekStart, weekEnding)
	if err != nil {
		return fmt.Errorf("ledger: refresh weekly query: %w", err)
	}
	defer rows.Close()

	stats := domain.WeeklyStats{WeekEnding: weekEnding, Exchange: exchange}
	var daysCovered int64

	for rows.Next() {
		var totalFiles, successFiles, failedFiles, totalRecords int64
		if err := rows.Scan(&totalFiles, &successFiles, &failedFiles, &totalRecords); err != nil {
			return fmt.Errorf("ledger: refresh weekly scan: %w", err)
		}
		stats.TotalFiles += totalFiles
		stats.SuccessfulFiles += successFiles
		stats.FailedFiles += failedFiles
		stats.TotalRecords += totalRecords
		daysCovered++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: refresh weekly rows: %w", err)
	}

	if daysCovered > 0 {
		stats.AvgDailyRecords = decimal.NewFromInt(stats.TotalRecords).Div(decimal.NewFromInt(daysCovered))
		stats.AvgDailyFiles = decimal.NewFromInt(stats.TotalFiles).Div(decimal.NewFromInt(daysCovered))
	}

	_, err = l.store.Exec(ctx, `
		INSERT INTO gold.weekly_statistics
			(week_ending, exchange, total_files, successful_files, failed_files, total_records, avg_daily_records, avg_daily_files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (week_ending, exchange) DO UPDATE SET
			total_files = excluded.total_files,
			successful_files = excluded.successful_files,
			failed_files = excluded.failed_files,
			total_records = excluded.total_records,
			avg_daily_records = excluded.avg_daily_records,
			avg_daily_files = excluded.avg_daily_files
	`, stats.WeekEnding, string(stats.Exchange), stats.TotalFiles, stats.SuccessfulFiles, stats.FailedFiles,
		stats.TotalRecords, stats.AvgDailyRecords, stats.AvgDailyFiles)
	if err != nil {
		return fmt.Errorf("ledger: refresh weekly upsert: %w", err)
	}

	if l.remote != nil {
		l.remote.UpsertWeeklyStats(ctx, stats)
	}
	return nil
}

// DailyStats returns the current Daily Statistics row for (date, exchange),
// or nil if none exists yet.
func (l *Ledger) DailyStats(ctx context.Context, exchange domain.Exchange, date time.Time) (*domain.DailyStats, error) {
	row := l.store.QueryRow(ctx, `
		SELECT total_files, successful_files, failed_files, total_records,
		       avg_records_per_file, total_processing_time_secs, total_file_size_bytes, avg_file_size_bytes
		FROM gold.daily_statistics WHERE exchange = ? AND stats_date = ?
	`, string(exchange), date.UTC().Truncate(24*time.Hour))

	s := &domain.DailyStats{StatsDate: date, Exchange: exchange}
	err := row.Scan(&s.TotalFiles, &s.SuccessfulFiles, &s.FailedFiles, &s.TotalRecords,
		&s.AvgRecordsPerFile, &s.TotalProcessingTimeSecs, &s.TotalFileSizeBytes, &s.AvgFileSizeBytes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: daily stats: %w", err)
	}
	return s, nil
}

// WeeklyStats returns the current Weekly Rolling Statistics row for
// (weekEnding, exchange), or nil if none exists yet.
func (l *Ledger) WeeklyStats(ctx context.Context, exchange domain.Exchange, weekEnding time.Time) (*domain.WeeklyStats, error) {
	row := l.store.QueryRow(ctx, `
		SELECT total_files, successful_files, failed_files, total_records, avg_daily_records, avg_daily_files
		FROM gold.weekly_statistics WHERE exchange = ? AND week_ending = ?
	`, string(exchange), weekEnding.UTC().Truncate(24*time.Hour))

	s := &domain.WeeklyStats{WeekEnding: weekEnding, Exchange: exchange}
	err := row.Scan(&s.TotalFiles, &s.SuccessfulFiles, &s.FailedFiles, &s.TotalRecords, &s.AvgDailyRecords, &s.AvgDailyFiles)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: weekly stats: %w", err)
	}
	return s, nil
}
