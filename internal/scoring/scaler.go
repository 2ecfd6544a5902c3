package scoring

import (
	"encoding/json"
	"fmt"
	"io"
)

// AffineScaler computes (x - center) / scale per column. It covers both
// standard (mean-centered) and robust (median-centered) scalers. A zero
// scale only centers the value.
type AffineScaler struct {
	Center []float64
	Scale  []float64
}

type scalerFile struct {
	Center []float64 `json:"center"`
	Mean   []float64 `json:"mean"`
	Scale  []float64 `json:"scale"`
}

// DecodeScaler reads a scaler artifact. The center may be given as "center"
// or "mean"; an absent scale means 1 for every column.
func DecodeScaler(r io.Reader) (*AffineScaler, error) {
	var sf scalerFile
	if err := json.NewDecoder(r).Decode(&sf); err != nil {
		return nil, fmt.Errorf("%w: decode scaler: %w", ErrArtifact, err)
	}
	center := sf.Center
	if center == nil {
		center = sf.Mean
	}
	if center == nil && sf.Scale == nil {
		return nil, fmt.Errorf("%w: scaler has neither center nor scale", ErrArtifact)
	}
	if center == nil {
		center = make([]float64, len(sf.Scale))
	}
	scale := sf.Scale
	if scale == nil {
		scale = make([]float64, len(center))
		for i := range scale {
			scale[i] = 1
		}
	}
	if len(center) != len(scale) {
		return nil, fmt.Errorf("%w: scaler center has %d values, scale has %d", ErrArtifact, len(center), len(scale))
	}
	return &AffineScaler{Center: center, Scale: scale}, nil
}

// Width returns the number of columns the scaler was fitted on.
func (s *AffineScaler) Width() int { return len(s.Center) }

// Transform scales every row. A row of the wrong width is an error.
func (s *AffineScaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != s.Width() {
			return nil, fmt.Errorf("%w: row %d has %d features, scaler expects %d", ErrFeatureMismatch, i, len(row), s.Width())
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			if s.Scale[j] != 0 {
				scaled[j] = (v - s.Center[j]) / s.Scale[j]
			} else {
				scaled[j] = v - s.Center[j]
			}
		}
		out[i] = scaled
	}
	return out, nil
}
