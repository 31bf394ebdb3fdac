package dataset

import "math"

// ColumnProfile is the per-column part of a dataset summary.
type ColumnProfile struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	NonNull int      `json:"non_null"`
	Missing int      `json:"missing"`
	Unique  int      `json:"unique"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Mean    *float64 `json:"mean,omitempty"`
}

// Summary describes a dataset for prompts and report metadata.
type Summary struct {
	Name    string          `json:"name"`
	Rows    int             `json:"rows"`
	Columns []ColumnProfile `json:"columns"`
}

// Profile computes counts per column and min/max/mean for numeric columns.
// Non-finite values count as present but are left out of min/max/mean.
func (d *Dataset) Profile() Summary {
	s := Summary{Name: d.name, Rows: len(d.rows), Columns: make([]ColumnProfile, len(d.columns))}
	for c, col := range d.columns {
		p := ColumnProfile{Name: col.Name, Type: col.Type.String()}
		distinct := make(map[string]struct{})
		var sum float64
		var numeric int
		for _, row := range d.rows {
			v := row[c]
			if v == nil {
				p.Missing++
				continue
			}
			p.NonNull++
			distinct[FormatValue(v)] = struct{}{}

			var f float64
			switch x := v.(type) {
			case int64:
				f = float64(x)
			case float64:
				f = x
			default:
				continue
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				continue
			}
			if numeric == 0 || f < *p.Min {
				p.Min = &f
			}
			if numeric == 0 || f > *p.Max {
				g := f
				p.Max = &g
			}
			sum += f
			numeric++
		}
		p.Unique = len(distinct)
		if numeric > 0 {
			mean := sum / float64(numeric)
			if !math.IsInf(mean, 0) {
				p.Mean = &mean
			}
		}
		s.Columns[c] = p
	}
	return s
}

// Schema returns "name (type)" pairs, the only cross-chunk context handed to personas.
func (s Summary) Schema() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name + " (" + c.Type + ")"
	}
	return out
}
