package features

import (
	"math"
	"sort"
)

// Imputation describes how one column's missing values were resolved.
type Imputation struct {
	Column string
	Filled int
	Value  float64
	// Fallback is set when the column had no median (every value missing)
	// and zero was used instead.
	Fallback bool
}

// Resolve fills every remaining missing value in the frame. Each column's
// median over the whole batch is computed once, after all features exist,
// and used first; zero is the fallback for columns with no present values.
// Medians come from the batch being scored, so they can differ between
// batches. Resolve returns one entry per column that had missing values.
func Resolve(f *Frame) []Imputation {
	var out []Imputation
	for _, name := range f.names {
		col := f.cols[name]
		missing := 0
		for _, v := range col {
			if math.IsNaN(v) {
				missing++
			}
		}
		if missing == 0 {
			continue
		}

		fill, ok := Median(col)
		imp := Imputation{Column: name, Filled: missing, Value: fill}
		if !ok {
			imp.Value = 0
			imp.Fallback = true
		}
		for i, v := range col {
			if math.IsNaN(v) {
				col[i] = imp.Value
			}
		}
		out = append(out, imp)
	}
	return out
}

// Median returns the median of the non-missing values. With an even count it
// is the mean of the two middle values. ok is false when no value is present.
func Median(values []float64) (float64, bool) {
	vals := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN(), false
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid], true
	}
	return (vals[mid-1] + vals[mid]) / 2, true
}
