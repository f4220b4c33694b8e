package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/exchange-ingest/internal/analyticalstore"
	"github.com/withObsrvr/exchange-ingest/internal/domain"
	"github.com/withObsrvr/exchange-ingest/internal/logging"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.duckdb")
	log := logging.New("test", true)
	store, err := analyticalstore.Open(path, false, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema(context.Background()))
	return New(store, nil, log)
}

func TestClaimProceedsOnAbsentRecord(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	date := mustDate(t, "2026-01-15")

	outcome, err := l.Claim(ctx, domain.LSE, date, "path/to/file.csv.gz", nil, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimProceed, outcome)
}

func TestClaimConflictsOnActiveStartedRecord(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	date := mustDate(t, "2026-01-15")

	outcome, err := l.Claim(ctx, domain.LSE, date, "f", nil, false)
	require.NoError(t, err)
	require.Equal(t, domain.ClaimProceed, outcome)

	outcome, err = l.Claim(ctx, domain.LSE, date, "f", nil, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimConflict, outcome)
}

func TestClaimAlreadyDoneWithoutIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	date := mustDate(t, "2026-01-15")

	_, err := l.Claim(ctx, domain.LSE, date, "f", nil, false)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, domain.LSE, date, 100))

	outcome, err := l.Claim(ctx, domain.LSE, date, "f", nil, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAlreadyDone, outcome)
}

func TestClaimAlreadyDoneOnCompletedRecordWhenIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	date := mustDate(t, "2026-01-15")

	_, err := l.Claim(ctx, domain.LSE, date, "f", nil, false)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, domain.LSE, date, 100))

	outcome, err := l.Claim(ctx, domain.LSE, date, "f", nil, true)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAlreadyDone, outcome)
}

func TestClaimReclaimsStaleStartedRecord(t *testing.T) {
	l := newTestLedger(t).WithStaleThreshold(0)
	ctx := context.Background()
	date := mustDate(t, "2026-01-15")

	outcome, err := l.Claim(ctx, domain.LSE, date, "f", nil, false)
	require.NoError(t, err)
	require.Equal(t, domain.ClaimProceed, outcome)

	// with a zero stale threshold, the record is immediately considered stale
	time.Sleep(time.Millisecond)
	outcome, err = l.Claim(ctx, domain.LSE, date, "f", nil, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimProceed, outcome)
}

func TestCompleteRecomputesDailyAndWeeklyAggregates(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	date := mustDate(t, "2026-01-15") // a Thursday

	_, err := l.Claim(ctx, domain.LSE, date, "f", nil, false)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, domain.LSE, date, 1000))

	daily, err := l.DailyStats(ctx, domain.LSE, date)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, int64(1), daily.TotalFiles)
	assert.Equal(t, int64(1), daily.SuccessfulFiles)
	assert.Equal(t, int64(0), daily.FailedFiles)
	assert.Equal(t, int64(1000), daily.TotalRecords)
	assert.True(t, daily.AvgRecordsPerFile.Equal(daily.AvgRecordsPerFile)) // computed, no panic

	weekly, err := l.WeeklyStats(ctx, domain.LSE, domain.WeekEndingFor(date))
	require.NoError(t, err)
	require.NotNil(t, weekly)
	assert.Equal(t, int64(1000), weekly.TotalRecords)
}

func TestFailRecordsAbbreviatedErrorMessage(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	date := mustDate(t, "2026-01-15")

	_, err := l.Claim(ctx, domain.LSE, date, "f", nil, false)
	require.NoError(t, err)
	require.NoError(t, l.Fail(ctx, domain.LSE, date, "f", assertErr{}))

	rec, err := l.loadProgress(ctx, domain.LSE, date)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "synthetic failure", *rec.ErrorMessage)

	daily, err := l.DailyStats(ctx, domain.LSE, date)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, int64(1), daily.FailedFiles)
	assert.Equal(t, int64(0), daily.SuccessfulFiles)
}

func TestFailWithoutPriorClaimStillCreatesRecord(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	date := mustDate(t, "2026-01-15")

	// no Claim call precedes this Fail, e.g. a head failure resolving the
	// source file before a claim was ever attempted.
	require.NoError(t, l.Fail(ctx, domain.LSE, date, "expected/path.csv.gz", assertErr{}))

	daily, err := l.DailyStats(ctx, domain.LSE, date)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, int64(1), daily.TotalFiles)
	assert.Equal(t, int64(1), daily.FailedFiles)
}

func TestSkipWithoutPriorClaimStillCreatesRecord(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	date := mustDate(t, "2026-01-15")

	require.NoError(t, l.Skip(ctx, domain.LSE, date, "expected/path.csv.gz", "no source file"))

	daily, err := l.DailyStats(ctx, domain.LSE, date)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, int64(1), daily.TotalFiles)
}

type assertErr struct{}

func (assertErr) Error() string { return "synthetic failure" }

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}
