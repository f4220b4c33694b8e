package analyticalstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/exchange-ingest/internal/domain"
	"github.com/withObsrvr/exchange-ingest/internal/objectstore"
)

func TestBulkLoadInsertsAllRowsWithMetadataColumns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stream, err := objectstore.NewTestRecordStream(
		[]string{"symbol", "price"},
		[][]string{
			{"AAPL", "150.25"},
			{"MSFT", "310.10"},
		},
	)
	require.NoError(t, err)

	dataDate, err := time.Parse("2006-01-02", "2026-01-15")
	require.NoError(t, err)
	ingestedAt := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	n, err := store.BulkLoad(ctx, tx, domain.LSE, dataDate, "LSE-2026-01-15.csv.gz", stream, ingestedAt)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(2), n)

	var count int
	require.NoError(t, store.QueryRow(ctx, `SELECT COUNT(*) FROM bronze.lse_market_data_raw`).Scan(&count))
	assert.Equal(t, 2, count)

	var symbol, exchange, sourceFile string
	require.NoError(t, store.QueryRow(ctx,
		`SELECT symbol, exchange, source_file FROM bronze.lse_market_data_raw WHERE symbol = 'AAPL'`,
	).Scan(&symbol, &exchange, &sourceFile))
	assert.Equal(t, "AAPL", symbol)
	assert.Equal(t, "LSE", exchange)
	assert.Equal(t, "LSE-2026-01-15.csv.gz", sourceFile)
}

func TestBulkLoadAcrossBatchBoundary(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rowCount := bulkLoadBatchSize + 5
	rows := make([][]string, rowCount)
	for i := range rows {
		rows[i] = []string{"SYM", "1.00"}
	}
	stream, err := objectstore.NewTestRecordStream([]string{"symbol", "price"}, rows)
	require.NoError(t, err)

	dataDate, _ := time.Parse("2006-01-02", "2026-02-01")

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	n, err := store.BulkLoad(ctx, tx, domain.CME, dataDate, "src.csv.gz", stream, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(rowCount), n)

	var count int
	require.NoError(t, store.QueryRow(ctx, `SELECT COUNT(*) FROM bronze.cme_market_data_raw`).Scan(&count))
	assert.Equal(t, rowCount, count)
}

func TestBuildInsertSQLQuotesColumns(t *testing.T) {
	sql := buildInsertSQL("bronze.lse_market_data_raw", []ColumnDescriptor{
		{Name: "symbol", Type: "TEXT"},
		{Name: "price", Type: "TEXT"},
	})
	assert.Equal(t, `INSERT INTO bronze.lse_market_data_raw ("symbol", "price") VALUES (?, ?)`, sql)
}
