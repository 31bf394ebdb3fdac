// Package dataset holds the immutable tabular structure an analysis run works on.
package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Type is the inferred type of a column.
type Type int

const (
	String Type = iota
	Integer
	Float
	Bool
	Time
)

func (t Type) String() string {
	switch t {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Time:
		return "time"
	default:
		return "string"
	}
}

// Column describes one dataset column.
type Column struct {
	Name string
	Type Type
}

// InvalidDatasetError reports input the pipeline cannot analyse. It is fatal to a run.
type InvalidDatasetError struct {
	Dataset string
	Reason  string
}

func (e *InvalidDatasetError) Error() string {
	if e.Dataset == "" {
		return "invalid dataset: " + e.Reason
	}
	return fmt.Sprintf("invalid dataset %q: %s", e.Dataset, e.Reason)
}

func invalid(name, format string, args ...any) error {
	return &InvalidDatasetError{Dataset: name, Reason: fmt.Sprintf(format, args...)}
}

// Dataset is an ordered collection of rows over typed columns.
// A Dataset never changes after New returns, so it can be shared between
// goroutines without locking. Cells are int64, float64, bool, time.Time,
// string or nil for a missing value.
type Dataset struct {
	name    string
	columns []Column
	rows    [][]any
}

// New validates rows against the column names and infers column types.
// The input slices are copied.
func New(name string, columns []string, rows [][]any) (*Dataset, error) {
	if len(columns) == 0 {
		return nil, invalid(name, "no columns")
	}
	if len(rows) == 0 {
		return nil, invalid(name, "no rows")
	}

	seen := make(map[string]struct{}, len(columns))
	for i, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, invalid(name, "column %d has an empty name", i+1)
		}
		if _, dup := seen[c]; dup {
			return nil, invalid(name, "duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}

	normalized := make([][]any, len(rows))
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, invalid(name, "row %d has %d cells, expected %d", r+1, len(row), len(columns))
		}
		out := make([]any, len(row))
		for c, cell := range row {
			v, err := normalize(cell)
			if err != nil {
				return nil, invalid(name, "row %d column %q: %v", r+1, columns[c], err)
			}
			out[c] = v
		}
		normalized[r] = out
	}

	cols := make([]Column, len(columns))
	for c, colName := range columns {
		typ := inferType(normalized, c)
		cols[c] = Column{Name: strings.TrimSpace(colName), Type: typ}
		coerce(normalized, c, typ)
	}

	return &Dataset{name: name, columns: cols, rows: normalized}, nil
}

// normalize maps supported Go values onto the canonical cell types.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case bool:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", x)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case time.Time:
		return x, nil
	}
	return nil, fmt.Errorf("unsupported cell type %T", v)
}

func kindOf(v any) Type {
	switch v.(type) {
	case int64:
		return Integer
	case float64:
		return Float
	case bool:
		return Bool
	case time.Time:
		return Time
	}
	return String
}

func inferType(rows [][]any, col int) Type {
	typ := Type(-1)
	for _, row := range rows {
		v := row[col]
		if v == nil {
			continue
		}
		k := kindOf(v)
		switch {
		case typ == -1:
			typ = k
		case typ == k:
		case (typ == Integer && k == Float) || (typ == Float && k == Integer):
			typ = Float
		default:
			return String
		}
	}
	if typ == -1 {
		return String
	}
	return typ
}

func coerce(rows [][]any, col int, typ Type) {
	for _, row := range rows {
		v := row[col]
		if v == nil {
			continue
		}
		switch typ {
		case Float:
			if i, ok := v.(int64); ok {
				row[col] = float64(i)
			}
		case String:
			if _, ok := v.(string); !ok {
				row[col] = FormatValue(v)
			}
		}
	}
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.rows) }

// Columns returns a copy of the column descriptions.
func (d *Dataset) Columns() []Column {
	out := make([]Column, len(d.columns))
	copy(out, d.columns)
	return out
}

// Header returns the column names in order.
func (d *Dataset) Header() []string {
	out := make([]string, len(d.columns))
	for i, c := range d.columns {
		out[i] = c.Name
	}
	return out
}

// Row returns a copy of row i.
func (d *Dataset) Row(i int) []any {
	out := make([]any, len(d.rows[i]))
	copy(out, d.rows[i])
	return out
}

// Rows returns copies of rows in [start, end).
func (d *Dataset) Rows(start, end int) [][]any {
	out := make([][]any, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, d.Row(i))
	}
	return out
}

// FormatValue renders a cell the way prompts and exports show it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
