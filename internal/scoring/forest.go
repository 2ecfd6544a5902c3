package scoring

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// eulerGamma is the Euler–Mascheroni constant.
const eulerGamma = 0.5772156649015329

// Tree is one isolation tree in flat array form. Node i is a leaf when
// ChildrenLeft[i] == -1; otherwise rows with x[Feature[i]] <= Threshold[i]
// go left. Feature indexes refer to Features when that subset is present
// and to the full row otherwise.
type Tree struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	NodeSamples   []int     `json:"n_node_samples"`
	Features      []int     `json:"features,omitempty"`
}

// IsolationForest evaluates an exported isolation forest. A row's score is
// -2^(-E[h(x)]/c(MaxSamples)) and it is an outlier when score - Offset < 0.
type IsolationForest struct {
	Trees      []Tree  `json:"trees"`
	Offset     float64 `json:"offset"`
	MaxSamples int     `json:"max_samples"`
	NFeatures  int     `json:"n_features,omitempty"`
}

// DecodeForest reads and validates a forest artifact.
func DecodeForest(r io.Reader) (*IsolationForest, error) {
	var f IsolationForest
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode model: %w", ErrArtifact, err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *IsolationForest) validate() error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("%w: forest has no trees", ErrArtifact)
	}
	if f.MaxSamples < 1 {
		return fmt.Errorf("%w: max_samples must be positive, got %d", ErrArtifact, f.MaxSamples)
	}
	for ti := range f.Trees {
		t := &f.Trees[ti]
		for k, idx := range t.Features {
			if idx < 0 {
				return fmt.Errorf("%w: tree %d maps feature %d to column %d", ErrArtifact, ti, k, idx)
			}
		}
		n := len(t.ChildrenLeft)
		if n == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrArtifact, ti)
		}
		if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.NodeSamples) != n {
			return fmt.Errorf("%w: tree %d has arrays of different lengths", ErrArtifact, ti)
		}
		for i := 0; i < n; i++ {
			l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
			if l == -1 {
				continue
			}
			// Children always follow their parent in exported trees.
			if l <= i || l >= n || r <= i || r >= n {
				return fmt.Errorf("%w: tree %d node %d has invalid children %d/%d", ErrArtifact, ti, i, l, r)
			}
			idx := t.Feature[i]
			if idx < 0 || (t.Features != nil && idx >= len(t.Features)) {
				return fmt.Errorf("%w: tree %d node %d splits on feature %d", ErrArtifact, ti, i, idx)
			}
		}
	}
	return nil
}

// MaxFeature returns the highest row column index any split reads, or -1.
func (f *IsolationForest) MaxFeature() int {
	hi := -1
	for _, t := range f.Trees {
		for i, l := range t.ChildrenLeft {
			if l == -1 {
				continue
			}
			idx := t.Feature[i]
			if t.Features != nil {
				idx = t.Features[idx]
			}
			if idx > hi {
				hi = idx
			}
		}
	}
	return hi
}

// averagePathLength is c(n), the mean path length of an unsuccessful
// search in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// pathLength returns the depth of the leaf x falls into plus the expected
// remaining depth of the points isolated together in that leaf.
func (t *Tree) pathLength(x []float64) (float64, error) {
	node, depth := 0, 0
	for t.ChildrenLeft[node] != -1 {
		idx := t.Feature[node]
		if t.Features != nil {
			idx = t.Features[idx]
		}
		if idx < 0 || idx >= len(x) {
			return 0, fmt.Errorf("%w: split on feature %d, row has %d", ErrFeatureMismatch, idx, len(x))
		}
		// Trees were fitted on float32 inputs; thresholds sit between float32 values.
		if float64(float32(x[idx])) <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
		depth++
	}
	return float64(depth) + averagePathLength(t.NodeSamples[node]), nil
}

// ScoreSamples returns the anomaly score of every row. Lower is more
// anomalous.
func (f *IsolationForest) ScoreSamples(x [][]float64) ([]float64, error) {
	norm := averagePathLength(f.MaxSamples)
	out := make([]float64, len(x))
	for i, row := range x {
		if f.NFeatures > 0 && len(row) != f.NFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, model expects %d", ErrFeatureMismatch, i, len(row), f.NFeatures)
		}
		var sum float64
		for ti := range f.Trees {
			h, err := f.Trees[ti].pathLength(row)
			if err != nil {
				return nil, fmt.Errorf("row %d tree %d: %w", i, ti, err)
			}
			sum += h
		}
		mean := sum / float64(len(f.Trees))
		if norm == 0 {
			// A forest fitted on one sample isolates nothing.
			out[i] = -1
			continue
		}
		out[i] = -math.Pow(2, -mean/norm)
	}
	return out, nil
}

// DecisionFunction returns score - Offset; negative values are outliers.
func (f *IsolationForest) DecisionFunction(x [][]float64) ([]float64, error) {
	scores, err := f.ScoreSamples(x)
	if err != nil {
		return nil, err
	}
	for i := range scores {
		scores[i] -= f.Offset
	}
	return scores, nil
}

// Predict labels each row Outlier or Inlier.
func (f *IsolationForest) Predict(x [][]float64) ([]Prediction, error) {
	d, err := f.DecisionFunction(x)
	if err != nil {
		return nil, err
	}
	out := make([]Prediction, len(d))
	for i, v := range d {
		if v < 0 {
			out[i] = Outlier
		} else {
			out[i] = Inlier
		}
	}
	return out, nil
}
