package objectstore

import (
	"bytes"
	"encoding/csv"
)

// NewTestRecordStream builds a RecordStream over in-memory rows, bypassing
// the object store and gzip layers entirely. It exists so downstream
// consumers of RecordStream (bulk loading, schema discovery) can be tested
// without a live bucket.
func NewTestRecordStream(header []string, rows [][]string) (*RecordStream, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}

	cr := csv.NewReader(&buf)
	cr.ReuseRecord = true
	gotHeader, err := cr.Read()
	if err != nil {
		return nil, err
	}
	headerCopy := append([]string(nil), gotHeader...)

	return &RecordStream{header: headerCopy, csvR: cr, key: "test"}, nil
}
