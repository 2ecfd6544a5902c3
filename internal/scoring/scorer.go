// Package scoring turns the derived feature set into per-row model labels
// using a fitted scaler and an anomaly model loaded from JSON artifacts.
package scoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/HerbHall/chargewatch/internal/features"
	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

var (
	// ErrFeatureMismatch is returned when the frame lacks a feature the model
	// was trained on, or when matrix widths disagree.
	ErrFeatureMismatch = errors.New("feature mismatch")
	// ErrArtifact is returned when a model artifact cannot be loaded or is
	// internally inconsistent.
	ErrArtifact = errors.New("invalid model artifact")
)

// Prediction is the raw model output for one row.
type Prediction int

const (
	Outlier Prediction = -1
	Inlier  Prediction = 1
)

// Scaler applies the fitted feature transform.
type Scaler interface {
	Transform(x [][]float64) ([][]float64, error)
}

// Model classifies scaled feature rows.
type Model interface {
	Predict(x [][]float64) ([]Prediction, error)
}

// Scorer produces model labels from a fully resolved frame.
type Scorer struct {
	// Features is the ordered list of columns the model expects.
	Features []string
	Scaler   Scaler
	Model    Model
}

// Matrix builds the row-major feature matrix in Features order. Every
// missing feature is reported in a single ErrFeatureMismatch.
func (s *Scorer) Matrix(f *features.Frame) ([][]float64, error) {
	cols := make([][]float64, len(s.Features))
	var missing []string
	for j, name := range s.Features {
		c, ok := f.Column(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		cols[j] = c
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: frame has no column %s", ErrFeatureMismatch, strings.Join(missing, ", "))
	}

	x := make([][]float64, f.Len())
	for i := range x {
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = c[i]
		}
		x[i] = row
	}
	return x, nil
}

// Score returns one decision per canonical row: Anomalous with ReasonModel
// for outliers, Normal otherwise.
func (s *Scorer) Score(f *features.Frame) ([]telemetry.Decision, error) {
	x, err := s.Matrix(f)
	if err != nil {
		return nil, err
	}
	scaled, err := s.Scaler.Transform(x)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}
	preds, err := s.Model.Predict(scaled)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(preds) != len(x) {
		return nil, fmt.Errorf("model returned %d predictions for %d rows", len(preds), len(x))
	}

	out := make([]telemetry.Decision, len(preds))
	for i, p := range preds {
		if p == Outlier {
			out[i].Escalate(telemetry.ReasonModel)
		}
	}
	return out, nil
}
