package analyticalstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/exchange-ingest/internal/domain"
)

func TestEnsureBronzeSchemaPinsOnFirstIngestion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	cols, err := store.EnsureBronzeSchema(ctx, tx, domain.LSE, []string{"symbol", "price"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"symbol", "price", "data_date", "exchange", "source_file", "ingestion_timestamp"}, names)

	var count int
	require.NoError(t, store.QueryRow(ctx, `SELECT COUNT(*) FROM bronze._schema_registry WHERE exchange = 'LSE'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestEnsureBronzeSchemaWidensForNewColumns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx1, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = store.EnsureBronzeSchema(ctx, tx1, domain.CME, []string{"symbol", "price"})
	require.NoError(t, err)
	require.NoError(t, tx1.Commit())

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	cols, err := store.EnsureBronzeSchema(ctx, tx2, domain.CME, []string{"symbol", "price", "venue_code"})
	require.NoError(t, err)
	require.NoError(t, tx2.Commit())

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	// metadata columns must remain last even after widening
	assert.Equal(t, []string{"symbol", "price", "venue_code", "data_date", "exchange", "source_file", "ingestion_timestamp"}, names)
}

func TestEnsureBronzeSchemaNoOpWhenNoNewColumns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx1, err := store.Begin(ctx)
	require.NoError(t, err)
	first, err := store.EnsureBronzeSchema(ctx, tx1, domain.NYQ, []string{"symbol", "price"})
	require.NoError(t, err)
	require.NoError(t, tx1.Commit())

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	second, err := store.EnsureBronzeSchema(ctx, tx2, domain.NYQ, []string{"symbol", "price"})
	require.NoError(t, err)
	require.NoError(t, tx2.Commit())

	assert.Equal(t, first, second)
}

func TestQuoteIdentEscapesQuotes(t *testing.T) {
	assert.Equal(t, `"plain"`, quoteIdent("plain"))
	assert.Equal(t, `"with ""quote"""`, quoteIdent(`with "quote"`))
}

func TestBronzeTableNameIsLowercased(t *testing.T) {
	assert.Equal(t, "bronze.lse_market_data_raw", BronzeTableName(domain.LSE))
}
