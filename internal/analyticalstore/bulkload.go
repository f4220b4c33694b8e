package analyticalstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/withObsrvr/exchange-ingest/internal/domain"
	"github.com/withObsrvr/exchange-ingest/internal/objectstore"
)

// bulkLoadBatchSize bounds how many decoded rows are buffered before they
// are flushed, each row as its own parameterized single-row INSERT inside
// the caller's transaction. Bounding the buffer keeps memory constant for
// very large files, matching the streaming-constant-memory requirement
// (spec §4.2).
const bulkLoadBatchSize = 2000

// BulkLoad reads every record out of stream and appends it, batch by batch,
// to the pinned bronze table for exchange within tx. It is all-or-nothing:
// any read or write failure aborts the whole call, leaving row insertion to
// the caller's surrounding transaction rollback (spec §4.5 step 5, spec
// §5's "no partial loads" invariant). It returns the total row count
// loaded.
func (s *Store) BulkLoad(ctx context.Context, tx *Tx, exchange domain.Exchange, dataDate time.Time, sourceFile string, stream *objectstore.RecordStream, ingestionTimestamp time.Time) (int64, error) {
	cols, err := s.EnsureBronzeSchema(ctx, tx, exchange, stream.Header())
	if err != nil {
		return 0, err
	}
	table := BronzeTableName(exchange)

	insertSQL := buildInsertSQL(table, cols)

	var total int64
	batch := make([][]any, 0, bulkLoadBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		for _, row := range batch {
			if _, err := tx.Exec(ctx, insertSQL, row...); err != nil {
				return fmt.Errorf("analyticalstore: bulk load %s: %w", table, err)
			}
		}
		total += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	dataDateStr := dataDate.UTC().Format("2006-01-02")

	for {
		// Cancellation is checked only at transaction boundaries, never
		// mid-load (spec §5) — ctx.Err() is therefore deliberately not
		// consulted in this loop.
		rec, ok, err := stream.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}

		row := make([]any, 0, len(cols))
		for _, c := range cols {
			switch c.Name {
			case "data_date":
				row = append(row, dataDateStr)
			case "exchange":
				row = append(row, string(exchange))
			case "source_file":
				row = append(row, sourceFile)
			case "ingestion_timestamp":
				row = append(row, ingestionTimestamp.UTC())
			default:
				row = append(row, rec[c.Name])
			}
		}
		batch = append(batch, row)

		if len(batch) >= bulkLoadBatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}

	if err := flush(); err != nil {
		return 0, err
	}
	return total, nil
}

func buildInsertSQL(table string, cols []ColumnDescriptor) string {
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.Name)
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
}
