package cache

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cast"
)

// Row is the current row of a forward-only cursor. Columns are addressed by
// case-insensitive name; a name that is absent from the result reads as the
// zero value, and duplicated names resolve to their first occurrence.
type Row struct {
	index  map[string]int
	values []any
}

// NewRow builds a row from explicit columns and values. It is used by tests
// and by callers that synthesize rows.
func NewRow(columns []string, values []any) *Row {
	r := &Row{index: columnIndex(columns), values: values}
	return r
}

func columnIndex(columns []string) map[string]int {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		key := strings.ToLower(c)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	return index
}

// ForEach scans every row of rows and calls fn with it. The context is polled
// before each row is fetched.
func ForEach(ctx context.Context, rows *sql.Rows, fn func(*Row) error) error {
	columns, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, "read result columns")
	}
	row := &Row{index: columnIndex(columns), values: make([]any, len(columns))}
	ptrs := make([]any, len(columns))
	for i := range row.values {
		ptrs[i] = &row.values[i]
	}
	for {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}
		if !rows.Next() {
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errors.Wrap(err, "scan row")
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "fetch rows")
	}
	return nil
}

// Has reports whether the result carries the named column.
func (r *Row) Has(column string) bool {
	_, ok := r.index[strings.ToLower(column)]
	return ok
}

// Value returns the raw driver value of a column.
func (r *Row) Value(column string) any {
	i, ok := r.index[strings.ToLower(column)]
	if !ok {
		return nil
	}
	if b, ok := r.values[i].([]byte); ok {
		return string(b)
	}
	return r.values[i]
}

// IsNull reports whether the column is absent or SQL NULL.
func (r *Row) IsNull(column string) bool {
	return r.Value(column) == nil
}

func (r *Row) String(column string) string {
	return cast.ToString(r.Value(column))
}

// Trimmed returns the column as a string without surrounding blanks, for
// fixed-width CHAR columns such as sys.objects.type.
func (r *Row) Trimmed(column string) string {
	return strings.TrimSpace(r.String(column))
}

func (r *Row) Int64(column string) int64 {
	v, err := cast.ToInt64E(r.Value(column))
	if err != nil {
		if s, ok := r.Value(column).(string); ok {
			f, ferr := cast.ToFloat64E(strings.TrimSpace(s))
			if ferr == nil {
				return int64(f)
			}
		}
		return 0
	}
	return v
}

func (r *Row) Int(column string) int {
	return int(r.Int64(column))
}

func (r *Row) Float64(column string) float64 {
	return cast.ToFloat64(r.Value(column))
}

// Bool accepts bit and boolean columns, integers, and the YES/NO and Y/N
// flags used by information_schema and Oracle dictionary views.
func (r *Row) Bool(column string) bool {
	switch v := r.Value(column).(type) {
	case nil:
		return false
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "YES", "Y":
			return true
		case "NO", "N", "":
			return false
		}
		return cast.ToBool(v)
	default:
		return cast.ToBool(v)
	}
}

func (r *Row) Time(column string) time.Time {
	v := r.Value(column)
	if v == nil {
		return time.Time{}
	}
	return cast.ToTime(v)
}
