package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RollingWindow holds the most recent values of a series in a ring buffer.
// Missing values (NaN) occupy a slot but are skipped by the statistics.
type RollingWindow struct {
	windowSize int
	values     []float64
	index      int
	count      int
	present    []float64
}

// NewRollingWindow creates a window holding at most size values.
func NewRollingWindow(size int) *RollingWindow {
	if size < 1 {
		size = 1
	}
	return &RollingWindow{
		windowSize: size,
		values:     make([]float64, size),
		present:    make([]float64, 0, size),
	}
}

// Add pushes a value, evicting the oldest once the window is full.
func (rw *RollingWindow) Add(value float64) {
	rw.values[rw.index] = value
	rw.index = (rw.index + 1) % rw.windowSize
	if rw.count < rw.windowSize {
		rw.count++
	}
}

// Present returns the non-missing values currently in the window. The slice
// is reused by the next call.
func (rw *RollingWindow) Present() []float64 {
	rw.present = rw.present[:0]
	for i := 0; i < rw.count; i++ {
		if v := rw.values[i]; !math.IsNaN(v) {
			rw.present = append(rw.present, v)
		}
	}
	return rw.present
}

// Mean returns the mean of the present values, or NaN when there are none.
func (rw *RollingWindow) Mean() float64 {
	p := rw.Present()
	if len(p) == 0 {
		return math.NaN()
	}
	return stat.Mean(p, nil)
}

// StdDev returns the sample (n-1) standard deviation of the present values.
// Fewer than two present values give 0.
func (rw *RollingWindow) StdDev() float64 {
	p := rw.Present()
	if len(p) < 2 {
		return 0
	}
	return stat.StdDev(p, nil)
}
