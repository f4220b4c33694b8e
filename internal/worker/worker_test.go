package worker

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
	"github.com/withObsrvr/exchange-ingest/internal/objectstore"
)

func TestCountLoadedRecordsMatchesBulkLoadedRows(t *testing.T) {
	log := logging.New("test", true)
	store, err := analyticalstore.Open(filepath.Join(t.TempDir(), "test.duckdb"), false, log)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.InitSchema(ctx))

	stream, err := objectstore.NewTestRecordStream(
		[]string{"symbol", "price"},
		[][]string{{"AAPL", "150.25"}, {"MSFT", "310.10"}, {"GOOG", "140.00"}},
	)
	require.NoError(t, err)

	date, err := time.Parse("2006-01-02", "2026-01-15")
	require.NoError(t, err)
	sourceFile := "LSE-2026-01-15-NORMALIZEDMP-Data-1-of-1.csv.gz"

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = store.BulkLoad(ctx, tx, domain.LSE, date, sourceFile, stream, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	w := New(nil, store, nil, log)
	count, err := w.countLoadedRecords(ctx, domain.LSE, date, sourceFile)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestRunSkipsImmediatelyWhenAlreadyCancelled(t *testing.T) {
	log := logging.New("test", true)
	w := New(nil, nil, nil, log)

	res := w.Run(context.Background(), domain.LSE, time.Now(), false, func() bool { return true })

	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Equal(t, "shutdown", res.Reason)
	assert.NoError(t, res.Err)
}
