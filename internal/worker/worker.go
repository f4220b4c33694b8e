// Package worker implements the Ingestion Worker (spec §4.5): the
// eight-step algorithm that loads one (exchange, date) source file into the
// Analytical Store and records the outcome in the Progress Ledger.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/withObsrvr/exchange-ingest/internal/analyticalstore"
	"github.com/withObsrvr/exchange-ingest/internal/domain"
	"github.com/withObsrvr/exchange-ingest/internal/ingesterr"
	"github.com/withObsrvr/exchange-ingest/internal/ledger"
	"github.com/withObsrvr/exchange-ingest/internal/logging"
	"github.com/withObsrvr/exchange-ingest/internal/objectstore"
)

// Worker executes Ingestion Worker jobs against one Analytical Store /
// Ledger pair. Construct one per Job Runner process.
type Worker struct {
	objects *objectstore.Client
	store   *analyticalstore.Store
	ledger  *ledger.Ledger
	log     *logging.ComponentLogger
}

// New builds a Worker.
func New(objects *objectstore.Client, store *analyticalstore.Store, l *ledger.Ledger, log *logging.ComponentLogger) *Worker {
	return &Worker{objects: objects, store: store, ledger: l, log: log}
}

// Result is the outcome of one (exchange, date) job.
type Result struct {
	Exchange      domain.Exchange
	Date          time.Time
	Status        domain.Status
	RecordsLoaded int64
	Reason        string
	Err           error
	Duration      time.Duration
}

// Run executes the full eight-step algorithm for (exchange, date).
// cancelled reports whether the shutdown cancellation event has already
// fired; per spec §5 it is consulted only before step 3 and after step 6,
// never mid-transaction.
func (w *Worker) Run(ctx context.Context, exchange domain.Exchange, date time.Time, idempotent bool, cancelled func() bool) Result {
	start := time.Now()
	date = date.UTC().Truncate(24 * time.Hour)
	logf := w.log.With().Str("exchange", string(exchange)).Time("data_date", date).Logger()

	result := func(status domain.Status, records int64, reason string, err error) Result {
		return Result{
			Exchange: exchange, Date: date, Status: status,
			RecordsLoaded: records, Reason: reason, Err: err, Duration: time.Since(start),
		}
	}

	// Step 1.
	if cancelled() {
		logf.Info().Msg("skipped: shutdown requested before claim")
		return result(domain.StatusSkipped, 0, "shutdown", nil)
	}

	// Step 2.
	info, err := w.objects.Head(ctx, exchange, date)
	if err != nil {
		if ingesterr.Is(err, ingesterr.KindNotFound) {
			logf.Info().Msg("skipped: no source file")
			if skipErr := w.ledger.Skip(ctx, exchange, date, w.objects.ExpectedPath(exchange, date), "no source file"); skipErr != nil {
				logf.Error().Err(skipErr).Msg("failed to record skip in ledger")
			}
			return result(domain.StatusSkipped, 0, "no source file", nil)
		}
		logf.Error().Err(err).Msg("head failed")
		if failErr := w.ledger.Fail(ctx, exchange, date, w.objects.ExpectedPath(exchange, date), err); failErr != nil {
			logf.Error().Err(failErr).Msg("failed to record failure in ledger")
		}
		return result(domain.StatusFailed, 0, "", err)
	}

	// Step 3.
	size := info.SizeBytes
	outcome, err := w.ledger.Claim(ctx, exchange, date, info.Path, &size, idempotent)
	if err != nil {
		logf.Error().Err(err).Msg("claim failed")
		if failErr := w.ledger.Fail(ctx, exchange, date, info.Path, err); failErr != nil {
			logf.Error().Err(failErr).Msg("failed to record failure in ledger")
		}
		return result(domain.StatusFailed, 0, "", err)
	}
	switch outcome {
	case domain.ClaimAlreadyDone:
		logf.Info().Msg("skipped: idempotent, already completed")
		return result(domain.StatusSkipped, 0, "idempotent: already completed", nil)
	case domain.ClaimConflict:
		conflictErr := ingesterr.LedgerConflict("already in progress elsewhere")
		logf.Warn().Msg("failed: claim conflict")
		if failErr := w.ledger.Fail(ctx, exchange, date, info.Path, conflictErr); failErr != nil {
			logf.Error().Err(failErr).Msg("failed to record failure in ledger")
		}
		return result(domain.StatusFailed, 0, "", conflictErr)
	}

	// Step 4.
	tx, err := w.store.Begin(ctx)
	if err != nil {
		logf.Error().Err(err).Msg("begin transaction failed")
		if failErr := w.ledger.Fail(ctx, exchange, date, info.Path, err); failErr != nil {
			logf.Error().Err(failErr).Msg("failed to record failure in ledger")
		}
		return result(domain.StatusFailed, 0, "", err)
	}

	// Step 5.
	stream, err := w.objects.Open(ctx, exchange, date)
	if err != nil {
		_ = tx.Rollback()
		logf.Error().Err(err).Msg("bulk load aborted: open failed")
		if failErr := w.ledger.Fail(ctx, exchange, date, info.Path, err); failErr != nil {
			logf.Error().Err(failErr).Msg("failed to record failure in ledger")
		}
		return result(domain.StatusFailed, 0, "", err)
	}

	ingestionTime := time.Now().UTC()
	_, bulkErr := w.store.BulkLoad(ctx, tx, exchange, date, info.Path, stream, ingestionTime)
	closeErr := stream.Close()

	if bulkErr != nil {
		_ = tx.Rollback()
		logf.Error().Err(bulkErr).Msg("bulk load aborted")
		if failErr := w.ledger.Fail(ctx, exchange, date, info.Path, bulkErr); failErr != nil {
			logf.Error().Err(failErr).Msg("failed to record failure in ledger")
		}
		return result(domain.StatusFailed, 0, "", bulkErr)
	}
	if closeErr != nil {
		logf.Warn().Err(closeErr).Msg("record stream close reported an error after a successful load")
	}

	// Step 6.
	if err := tx.Commit(); err != nil {
		logf.Error().Err(err).Msg("commit failed")
		if failErr := w.ledger.Fail(ctx, exchange, date, info.Path, err); failErr != nil {
			logf.Error().Err(failErr).Msg("failed to record failure in ledger")
		}
		return result(domain.StatusFailed, 0, "", err)
	}

	if cancelled() {
		logf.Info().Msg("shutdown observed immediately after commit; exchange completed before stopping")
	}

	// Step 7.
	records, err := w.countLoadedRecords(ctx, exchange, date, info.Path)
	if err != nil {
		logf.Error().Err(err).Msg("post-commit record count failed")
		if failErr := w.ledger.Fail(ctx, exchange, date, info.Path, err); failErr != nil {
			logf.Error().Err(failErr).Msg("failed to record failure in ledger")
		}
		return result(domain.StatusFailed, 0, "", err)
	}
	if err := w.ledger.Complete(ctx, exchange, date, records); err != nil {
		logf.Error().Err(err).Msg("failed to record completion in ledger")
		return result(domain.StatusFailed, records, "", err)
	}

	// Step 8.
	logf.Info().Int64("records_loaded", records).Dur("duration", time.Since(start)).Msg("completed")
	return result(domain.StatusCompleted, records, "", nil)
}

func (w *Worker) countLoadedRecords(ctx context.Context, exchange domain.Exchange, date time.Time, sourceFile string) (int64, error) {
	table := analyticalstore.BronzeTableName(exchange)
	var count int64
	row := w.store.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE data_date = ? AND exchange = ? AND source_file = ?`, table),
		date.UTC().Format("2006-01-02"), string(exchange), sourceFile)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("worker: count loaded records: %w", err)
	}
	return count, nil
}
