package objectstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/exchange-ingest/internal/domain"
)

func TestPathIsBitExact(t *testing.T) {
	date, err := time.Parse("2006-01-02", "2026-01-15")
	require.NoError(t, err)

	got := Path("datalake", "vendorco", "marketdata", domain.LSE, date)
	want := "datalake/vendorco/marketdata/LSE/ingestion/2026-01-15/data/merged/LSE-2026-01-15-NORMALIZEDMP-Data-1-of-1.csv.gz"
	assert.Equal(t, want, got)
}

func TestPathUsesUTCDate(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 2026-01-15 23:30 in New York is already 2026-01-16 UTC.
	date := time.Date(2026, 1, 15, 23, 30, 0, 0, loc)

	got := Path("datalake", "vendorco", "marketdata", domain.CME, date)
	assert.Contains(t, got, "2026-01-16")
}
