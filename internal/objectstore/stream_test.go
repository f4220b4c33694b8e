package objectstore

import (
	"bytes"
	"encoding/csv"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/exchange-ingest/internal/ingesterr"
)

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func gzipBlob(t *testing.T, csvBody string) io.ReadCloser {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(csvBody))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return nopCloser{bytes.NewReader(buf.Bytes())}
}

// openFromBody mirrors Client.Open's decode setup without an S3 round trip,
// so the record-decoding logic can be exercised directly.
func openFromBody(t *testing.T, body io.ReadCloser) (*RecordStream, error) {
	t.Helper()
	gz, err := gzip.NewReader(body)
	if err != nil {
		body.Close()
		return nil, dataMalformedErr("test", err)
	}
	r := csv.NewReader(gz)
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		gz.Close()
		body.Close()
		return nil, dataMalformedErr("test", err)
	}
	headerCopy := append([]string(nil), header...)
	return &RecordStream{header: headerCopy, csvR: r, gz: gz, body: body, key: "test"}, nil
}

func TestRecordStreamDecodesRows(t *testing.T) {
	body := gzipBlob(t, "symbol,price,quantity\nAAPL,150.25,100\nMSFT,310.10,50\n")
	s, err := openFromBody(t, body)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"symbol", "price", "quantity"}, s.Header())

	rec, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "AAPL", rec["symbol"])
	assert.Equal(t, "150.25", rec["price"])

	rec, ok, err = s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "MSFT", rec["symbol"])

	_, ok, err = s.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordStreamRejectsRaggedRow(t *testing.T) {
	body := gzipBlob(t, "symbol,price\nAAPL,150.25,100\n")
	s, err := openFromBody(t, body)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Next()
	require.Error(t, err)
	assert.True(t, ingesterr.Is(err, ingesterr.KindDataMalformed))
}

func TestRecordStreamRejectsNonGzipBody(t *testing.T) {
	body := nopCloser{bytes.NewReader([]byte("not gzip data"))}
	_, err := openFromBody(t, body)
	require.Error(t, err)
	assert.True(t, ingesterr.Is(err, ingesterr.KindDataMalformed))
}
