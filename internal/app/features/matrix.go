package features

// Matrix is a column-oriented feature matrix: one named, equal-length
// float64 slice per feature, plus the binary label aligned to the same
// row order. Column orientation makes the per-column statistics the
// selection pipeline computes (variance, correlation, MI) cheap to express.
type Matrix struct {
	Columns []string
	Data    map[string][]float64
	Labels  []float64 // 0/1, aligned to the same row order as Data
}

// Rows reports the row count, derived from Labels.
func (m Matrix) Rows() int { return len(m.Labels) }

// Column returns the named column, or nil if absent.
func (m Matrix) Column(name string) []float64 { return m.Data[name] }

// Select returns a new Matrix containing only the named columns, preserving order.
func (m Matrix) Select(names []string) Matrix {
	out := Matrix{
		Columns: append([]string(nil), names...),
		Data:    make(map[string][]float64, len(names)),
		Labels:  m.Labels,
	}
	for _, name := range names {
		out.Data[name] = m.Data[name]
	}
	return out
}

// Drop returns a new Matrix with the named columns removed.
func (m Matrix) Drop(names map[string]bool) Matrix {
	kept := make([]string, 0, len(m.Columns))
	for _, c := range m.Columns {
		if !names[c] {
			kept = append(kept, c)
		}
	}
	return m.Select(kept)
}
