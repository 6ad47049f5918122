package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/fleet-import/internal/domain"
)

// ErrFKMissing is returned by ResolveFK when the lookup finds no row and
// the mapping says on_missing=error.
var ErrFKMissing = errors.New("foreign key value not found")

// TargetRepo reads and writes the dynamic destination tables rows are
// materialized into. Every identifier that reaches SQL here has passed
// MappingConfig.Validate, and is still quoted defensively.
type TargetRepo struct{ db *sql.DB }

// NewTargetRepo creates a Postgres-backed target table repository.
func NewTargetRepo(db *sql.DB) *TargetRepo { return &TargetRepo{db: db} }

func columnSQLType(t domain.FieldType) string {
	switch t {
	case domain.FieldInt:
		return "BIGINT"
	case domain.FieldFloat:
		return "DOUBLE PRECISION"
	case domain.FieldDecimal:
		return "NUMERIC(14,2)"
	case domain.FieldDate:
		return "DATE"
	case domain.FieldDatetime:
		return "TIMESTAMPTZ"
	case domain.FieldBoolean:
		return "BOOLEAN"
	case domain.FieldFK:
		return "UUID"
	default:
		return "TEXT"
	}
}

// EnsureTable provisions the mapping's target table when create_table is
// set. Unique columns get a unique constraint so cross-job duplicate
// rejection holds under concurrent workers, not just within one chunk.
func (r *TargetRepo) EnsureTable(ctx context.Context, m *domain.MappingConfig) error {
	if !m.CreateTable {
		return nil
	}

	var defs []string
	defs = append(defs, "id UUID PRIMARY KEY")
	defs = append(defs, "job_id UUID")
	for _, c := range m.Columns {
		def := fmt.Sprintf("%s %s", pq.QuoteIdentifier(c.DBColumn), columnSQLType(c.Type))
		if c.Unique {
			def += " UNIQUE"
		}
		defs = append(defs, def)
	}
	defs = append(defs, "created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()")

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pq.QuoteIdentifier(m.TableName()), strings.Join(defs, ", "))
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure table %s: %w", m.TableName(), err)
	}
	return nil
}

// Existing returns which of the given values are already present in
// table.column. One round trip per chunk, not per row.
func (r *TargetRepo) Existing(ctx context.Context, table, column string, values []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(values) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s = ANY($1)`,
		pq.QuoteIdentifier(column), pq.QuoteIdentifier(table), pq.QuoteIdentifier(column),
	), pq.Array(values))
	if err != nil {
		return nil, fmt.Errorf("probe existing %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan existing value: %w", err)
		}
		out[v] = true
	}
	return out, rows.Err()
}

// RowError reports one row that the bulk insert could not place.
type RowError struct {
	Index int // position within the rows slice passed to InsertRows
	Err   error
}

// InsertRows bulk-inserts one chunk in a single transaction, stamping
// every row with the creating job's id. It first tries one multi-row
// INSERT; if that statement fails, it falls back to per-row inserts
// guarded by savepoints, so one bad row costs itself and nothing else.
// Returns the number inserted and the failed rows.
func (r *TargetRepo) InsertRows(ctx context.Context, table, jobID string, columns []string, rows [][]any) (int, []RowError, error) {
	if len(rows) == 0 {
		return 0, nil, nil
	}

	quoted := make([]string, 0, len(columns)+2)
	quoted = append(quoted, "id", "job_id")
	for _, c := range columns {
		quoted = append(quoted, pq.QuoteIdentifier(c))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("insert rows: %w", err)
	}
	defer tx.Rollback()

	width := len(columns) + 2
	var (
		placeholders []string
		args         []any
	)
	for i, row := range rows {
		ph := make([]string, width)
		for j := 0; j < width; j++ {
			ph[j] = fmt.Sprintf("$%d", i*width+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")
		args = append(args, uuid.New().String(), jobID)
		args = append(args, row...)
	}

	// The bulk attempt runs inside its own savepoint: a failed statement
	// aborts a Postgres transaction, and the per-row fallback still needs
	// this one alive.
	bulk := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, "SAVEPOINT bulk_insert"); err != nil {
		return 0, nil, fmt.Errorf("savepoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bulk, args...); err == nil {
		if err := tx.Commit(); err != nil {
			return 0, nil, fmt.Errorf("insert rows: %w", err)
		}
		return len(rows), nil, nil
	}
	if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT bulk_insert"); err != nil {
		return 0, nil, fmt.Errorf("rollback savepoint: %w", err)
	}

	// Fallback: isolate the offending rows with savepoints
	single := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "),
		strings.Join(numberedPlaceholders(width), ", "))

	inserted := 0
	var failed []RowError
	for i, row := range rows {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT row_insert"); err != nil {
			return 0, nil, fmt.Errorf("savepoint: %w", err)
		}
		args := append([]any{uuid.New().String(), jobID}, row...)
		if _, err := tx.ExecContext(ctx, single, args...); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT row_insert"); rbErr != nil {
				return 0, nil, fmt.Errorf("rollback savepoint: %w", rbErr)
			}
			failed = append(failed, RowError{Index: i, Err: err})
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT row_insert"); err != nil {
			return 0, nil, fmt.Errorf("release savepoint: %w", err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("insert rows: %w", err)
	}
	return inserted, failed, nil
}

func numberedPlaceholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("$%d", i+1)
	}
	return out
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, the expected failure for duplicate keys that raced past the
// batched existence probe.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ResolveFK maps a spreadsheet value to a referenced row id. The zero
// return (nil, nil) means "store NULL", used by on_missing=ignore.
func (r *TargetRepo) ResolveFK(ctx context.Context, fk *domain.ForeignKey, value string) (*string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id FROM %s WHERE %s = $1`,
		pq.QuoteIdentifier(fk.Table), pq.QuoteIdentifier(fk.LookupColumn),
	), value).Scan(&id)
	if err == nil {
		return &id, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("fk lookup %s.%s: %w", fk.Table, fk.LookupColumn, err)
	}

	switch fk.OnMissing {
	case domain.FKIgnore:
		return nil, nil
	case domain.FKCreate:
		newID := uuid.New().String()
		err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, %s, created_at) VALUES ($1, $2, NOW())
			ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s
			RETURNING id
		`, pq.QuoteIdentifier(fk.Table), pq.QuoteIdentifier(fk.LookupColumn),
			pq.QuoteIdentifier(fk.LookupColumn), pq.QuoteIdentifier(fk.LookupColumn), pq.QuoteIdentifier(fk.LookupColumn)),
			newID, value).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("fk create %s: %w", fk.Table, err)
		}
		return &id, nil
	default:
		return nil, fmt.Errorf("%w: %s.%s = %q", ErrFKMissing, fk.Table, fk.LookupColumn, value)
	}
}
