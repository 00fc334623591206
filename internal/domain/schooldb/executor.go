package schooldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/matiasleandrokruk/cpsdata/internal/infra/sqlite"
)

// ErrDatabase wraps every failure at the store layer (bad SQL, missing
// table, I/O fault). Deterministic for a given query and database state, so
// never retried.
var ErrDatabase = errors.New("database error")

// Record is one result row: an ordered column→value mapping. Immutable once
// built; lives only for the duration of one tool response.
type Record struct {
	Columns []string       // column order as returned by the store
	Values  map[string]any // keyed by column name
}

// MarshalJSON renders the record as a JSON object preserving column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[col])
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// Executor runs read queries against the school database. Each Execute call
// opens its own connection and releases it before returning — there is no
// pooling and no state carried between invocations.
type Executor struct {
	path string
}

// NewExecutor creates an Executor for the SQLite file at path.
func NewExecutor(path string) *Executor {
	return &Executor{path: path}
}

// Execute runs the query verbatim and returns every row as a Record.
// Precondition: Classify(query) == ClassificationRead — the caller guards
// before invoking. A query matching zero rows returns an empty slice, not an
// error. All store failures wrap ErrDatabase.
func (e *Executor) Execute(ctx context.Context, query string) ([]Record, error) {
	db, err := sqlite.OpenReadOnly(e.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer db.Close() //nolint:errcheck

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	records := make([]Record, 0)
	for rows.Next() {
		rec, scanErr := scanRecord(rows, cols)
		if scanErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, scanErr)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return records, nil
}

// scanRecord reads the current row into a Record, keeping column order.
func scanRecord(rows *sql.Rows, cols []string) (Record, error) {
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return Record{}, err
	}

	values := make(map[string]any, len(cols))
	for i, col := range cols {
		values[col] = normalizeValue(raw[i])
	}
	return Record{Columns: cols, Values: values}, nil
}

// normalizeValue converts driver-specific scan types to plain scalars.
// []byte column data becomes string so records render as text, not base64.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
