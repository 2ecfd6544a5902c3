// Package features derives the per-row diagnostic signals that feed the
// anomaly scorer: calendar fields, physics-consistency deviations, grouped
// rolling statistics and differences, and batch-level imputation.
package features

import (
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

// ErrDuplicateColumn is returned when a derived column name is added twice.
var ErrDuplicateColumn = errors.New("duplicate feature column")

// Frame is an append-only set of named numeric columns aligned with the
// canonical (station, session, timestamp) order of a batch.
type Frame struct {
	// Records holds the batch records in canonical order; Records[i].Row is
	// the input position of canonical row i.
	Records []telemetry.Record
	// Times holds the parsed timestamps, aligned with Records.
	Times []time.Time

	names []string
	cols  map[string][]float64
}

func newFrame(records []telemetry.Record, times []time.Time) *Frame {
	return &Frame{
		Records: records,
		Times:   times,
		cols:    make(map[string][]float64),
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Records) }

// Names returns the column names in the order they were added.
func (f *Frame) Names() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Column returns the values of a column.
func (f *Frame) Column(name string) ([]float64, bool) {
	c, ok := f.cols[name]
	return c, ok
}

// Has reports whether the frame carries a column.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Add appends a new column. Existing columns are never replaced.
func (f *Frame) Add(name string, values []float64) error {
	if _, ok := f.cols[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, name)
	}
	if len(values) != f.Len() {
		return fmt.Errorf("column %s has %d values, frame has %d rows", name, len(values), f.Len())
	}
	f.names = append(f.names, name)
	f.cols[name] = values
	return nil
}

// mustColumn returns a column the pipeline itself added earlier.
func (f *Frame) mustColumn(name string) []float64 {
	c, ok := f.cols[name]
	if !ok {
		panic("features: missing column " + name)
	}
	return c
}

// extract builds a column from the canonical records.
func (f *Frame) extract(get func(r *telemetry.Record) float64) []float64 {
	out := make([]float64, f.Len())
	for i := range f.Records {
		out[i] = get(&f.Records[i])
	}
	return out
}
