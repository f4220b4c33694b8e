package objectstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"

	"github.com/withObsrvr/exchange-ingest/internal/domain"
)

// RecordStream is a lazy, header-keyed decoding of one gzipped CSV blob. It
// holds open exactly one GetObject body and one gzip.Reader at a time,
// giving the streaming, constant-memory read the spec requires for
// multi-GB uncompressed files.
type RecordStream struct {
	header []string
	csvR   *csv.Reader
	gz     *gzip.Reader
	body   io.ReadCloser
	key    string
}

// Open streams the blob for (exchange, date), yielding a RecordStream whose
// Next method decodes one CSV row at a time. The returned stream must be
// closed by the caller.
func (c *Client) Open(ctx context.Context, exchange domain.Exchange, date time.Time) (*RecordStream, error) {
	key := c.key(exchange, date)

	// The response body stays bound to the request's context, so the timeout
	// is a timer that cancels only while GetObject is still waiting; once the
	// response is established the context is left live for the body reads.
	getCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(c.cfg.RequestTimeout, cancel)
	out, err := c.s3.GetObject(getCtx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	timerFired := !timer.Stop()
	if err != nil {
		cancel()
		if isNotFound(err) {
			return nil, notFoundErr(key, err)
		}
		return nil, transientErr(key, err)
	}
	if timerFired {
		out.Body.Close()
		return nil, transientErr(key, context.DeadlineExceeded)
	}

	// The timeout above only bounds establishing the response; the body is
	// read under the caller's own context during Next(), matching the
	// "streaming reads are suspension points checked at transaction
	// boundaries, not torn down mid-flight" rule from §5.

	gz, err := gzip.NewReader(out.Body)
	if err != nil {
		out.Body.Close()
		return nil, dataMalformedErr(key, fmt.Errorf("not a valid gzip stream: %w", err))
	}

	r := csv.NewReader(gz)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			gz.Close()
			out.Body.Close()
			return nil, dataMalformedErr(key, fmt.Errorf("empty file, missing header row"))
		}
		gz.Close()
		out.Body.Close()
		return nil, dataMalformedErr(key, fmt.Errorf("reading header row: %w", err))
	}

	headerCopy := make([]string, len(header))
	copy(headerCopy, header)

	return &RecordStream{
		header: headerCopy,
		csvR:   r,
		gz:     gz,
		body:   out.Body,
		key:    key,
	}, nil
}

// Header returns the discovered column order (not including the metadata
// augmentation columns added by the Analytical Store at load time).
func (s *RecordStream) Header() []string {
	return s.header
}

// Next decodes the next CSV row into a header-keyed map. It returns
// (nil, false, nil) at clean end of stream.
func (s *RecordStream) Next() (map[string]string, bool, error) {
	row, err := s.csvR.Read()
	if err == io.EOF {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, dataMalformedErr(s.key, fmt.Errorf("reading row: %w", err))
	}
	if len(row) != len(s.header) {
		return nil, false, dataMalformedErr(s.key, fmt.Errorf(
			"row has %d columns, header has %d", len(row), len(s.header)))
	}

	rec := make(map[string]string, len(s.header))
	for i, col := range s.header {
		rec[col] = row[i]
	}
	return rec, true, nil
}

// Close releases the gzip reader and the underlying HTTP body.
func (s *RecordStream) Close() error {
	var gzErr, bodyErr error
	if s.gz != nil {
		gzErr = s.gz.Close()
	}
	if s.body != nil {
		bodyErr = s.body.Close()
	}
	if gzErr != nil {
		return gzErr
	}
	return bodyErr
}
