package analyticalstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/withObsrvr/exchange-ingest/internal/domain"
)

// ColumnDescriptor names one bronze column and the DuckDB type it was
// pinned with. Source columns are always pinned as TEXT: the source CSV is
// dynamically typed, and typed coercion is explicitly out of scope (spec
// §1's Non-goals, "schema transformation beyond what the bronze→silver→gold
// projection needs").
type ColumnDescriptor struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// metadataColumns are appended to every bronze table in addition to the
// source's own columns, per spec §6.
var metadataColumns = []ColumnDescriptor{
	{Name: "data_date", Type: "DATE"},
	{Name: "exchange", Type: "TEXT"},
	{Name: "source_file", Type: "TEXT"},
	{Name: "ingestion_timestamp", Type: "TIMESTAMP"},
}

// BronzeTableName returns the pinned table name for an exchange.
func BronzeTableName(exchange domain.Exchange) string {
	return fmt.Sprintf("bronze.%s_market_data_raw", strings.ToLower(string(exchange)))
}

// EnsureBronzeSchema pins the bronze table's column set the first time an
// exchange is ingested, and widens it (nullable ADD COLUMN) on subsequent
// ingestions that introduce previously-unseen columns, per spec §6's
// union-by-name rule. It returns the full pinned column set (source columns
// in their original discovery order, followed by the metadata columns).
func (s *Store) EnsureBronzeSchema(ctx context.Context, tx *Tx, exchange domain.Exchange, sourceHeader []string) ([]ColumnDescriptor, error) {
	existing, err := s.loadRegisteredColumns(ctx, tx, exchange)
	if err != nil {
		return nil, err
	}

	table := BronzeTableName(exchange)

	if existing == nil {
		// First successful ingestion of this exchange: pin the schema.
		cols := make([]ColumnDescriptor, 0, len(sourceHeader)+len(metadataColumns))
		for _, name := range sourceHeader {
			cols = append(cols, ColumnDescriptor{Name: name, Type: "TEXT"})
		}
		cols = append(cols, metadataColumns...)

		if err := s.createBronzeTable(ctx, tx, table, cols); err != nil {
			return nil, err
		}
		if err := s.registerColumns(ctx, tx, exchange, cols); err != nil {
			return nil, err
		}
		return cols, nil
	}

	// Subsequent ingestion: widen for any new source columns, all of them
	// nullable so existing rows remain valid.
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c.Name] = true
	}

	newCols := make([]ColumnDescriptor, 0)
	for _, name := range sourceHeader {
		if !known[name] {
			newCols = append(newCols, ColumnDescriptor{Name: name, Type: "TEXT"})
		}
	}

	if len(newCols) == 0 {
		return existing, nil
	}

	for _, c := range newCols {
		alterSQL := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`, table, quoteIdent(c.Name), c.Type)
		if _, err := tx.Exec(ctx, alterSQL); err != nil {
			return nil, fmt.Errorf("analyticalstore: widen %s: %w", table, err)
		}
	}

	// New source columns must sort before the metadata columns to keep the
	// metadata columns last, matching how the table was originally created.
	merged := make([]ColumnDescriptor, 0, len(existing)+len(newCols))
	merged = append(merged, existing[:len(existing)-len(metadataColumns)]...)
	merged = append(merged, newCols...)
	merged = append(merged, metadataColumns...)

	if err := s.registerColumns(ctx, tx, exchange, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *Store) createBronzeTable(ctx context.Context, tx *Tx, table string, cols []ColumnDescriptor) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "  %s %s", quoteIdent(c.Name), c.Type)
	}
	b.WriteString("\n)")

	if _, err := tx.Exec(ctx, b.String()); err != nil {
		return fmt.Errorf("analyticalstore: create bronze table %s: %w", table, err)
	}
	return nil
}

func (s *Store) loadRegisteredColumns(ctx context.Context, tx *Tx, exchange domain.Exchange) ([]ColumnDescriptor, error) {
	row := tx.tx.QueryRowContext(ctx, `SELECT columns_json FROM bronze._schema_registry WHERE exchange = ?`, string(exchange))

	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("analyticalstore: load registered columns: %w", err)
	}

	var cols []ColumnDescriptor
	if err := json.Unmarshal([]byte(raw), &cols); err != nil {
		return nil, fmt.Errorf("analyticalstore: decode registered columns: %w", err)
	}
	return cols, nil
}

func (s *Store) registerColumns(ctx context.Context, tx *Tx, exchange domain.Exchange, cols []ColumnDescriptor) error {
	raw, err := json.Marshal(cols)
	if err != nil {
		return fmt.Errorf("analyticalstore: encode columns: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bronze._schema_registry (exchange, columns_json) VALUES (?, ?)
		ON CONFLICT (exchange) DO UPDATE SET columns_json = excluded.columns_json
	`, string(exchange), string(raw))
	if err != nil {
		return fmt.Errorf("analyticalstore: register columns: %w", err)
	}
	return nil
}

// quoteIdent double-quotes a DuckDB identifier, escaping embedded quotes.
// Source CSV headers are untrusted data, so every column name that becomes
// part of a SQL statement must be quoted this way rather than interpolated
// raw.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
