package scoring

import (
	"errors"
	"math"
	"strings"
	"testing"
)

// stumpForest splits on column 0 at 0.5: one training point went left and
// three went right.
func stumpForest() *IsolationForest {
	return &IsolationForest{
		Trees: []Tree{{
			ChildrenLeft:  []int{1, -1, -1},
			ChildrenRight: []int{2, -1, -1},
			Feature:       []int{0, -2, -2},
			Threshold:     []float64{0.5, -2, -2},
			NodeSamples:   []int{4, 1, 3},
		}},
		Offset:     -0.5,
		MaxSamples: 4,
	}
}

func TestAveragePathLength(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 2*(math.Log(2)+eulerGamma) - 4.0/3},
		{256, 2*(math.Log(255)+eulerGamma) - 2*255.0/256},
	}
	for _, tt := range tests {
		if got := averagePathLength(tt.n); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("averagePathLength(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestIsolationForest_ScoreSamples(t *testing.T) {
	f := stumpForest()
	scores, err := f.ScoreSamples([][]float64{{0}, {1}})
	if err != nil {
		t.Fatalf("ScoreSamples: %v", err)
	}
	norm := averagePathLength(4)
	want := []float64{
		-math.Pow(2, -1/norm),
		-math.Pow(2, -(1+averagePathLength(3))/norm),
	}
	for i := range want {
		if math.Abs(scores[i]-want[i]) > 1e-12 {
			t.Errorf("score[%d] = %v, want %v", i, scores[i], want[i])
		}
	}
	if scores[0] >= scores[1] {
		t.Error("isolated point should score lower than the dense side")
	}
}

func TestIsolationForest_Predict(t *testing.T) {
	preds, err := stumpForest().Predict([][]float64{{0.2}, {0.5}, {3}})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	want := []Prediction{Outlier, Outlier, Inlier}
	for i := range want {
		if preds[i] != want[i] {
			t.Errorf("pred[%d] = %d, want %d", i, preds[i], want[i])
		}
	}
}

func TestIsolationForest_FeatureSubset(t *testing.T) {
	f := stumpForest()
	f.Trees[0].Features = []int{2}

	preds, err := f.Predict([][]float64{{9, 9, 0}, {0, 0, 9}})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if preds[0] != Outlier || preds[1] != Inlier {
		t.Errorf("preds = %v, want [Outlier Inlier]", preds)
	}
	if got := f.MaxFeature(); got != 2 {
		t.Errorf("MaxFeature() = %d, want 2", got)
	}

	if _, err := f.Predict([][]float64{{1, 1}}); !errors.Is(err, ErrFeatureMismatch) {
		t.Errorf("short row error = %v, want ErrFeatureMismatch", err)
	}
}

func TestDecodeForest(t *testing.T) {
	good := `{"offset": -0.5, "max_samples": 4, "trees": [{
		"children_left": [1, -1, -1], "children_right": [2, -1, -1],
		"feature": [0, -2, -2], "threshold": [0.5, -2, -2],
		"n_node_samples": [4, 1, 3]}]}`
	f, err := DecodeForest(strings.NewReader(good))
	if err != nil {
		t.Fatalf("DecodeForest: %v", err)
	}
	if len(f.Trees) != 1 || f.MaxSamples != 4 || f.Offset != -0.5 {
		t.Errorf("decoded forest = %+v", f)
	}

	bad := map[string]string{
		"not json":                `{`,
		"no trees":                `{"offset": 0, "max_samples": 4, "trees": []}`,
		"zero samples":            `{"offset": 0, "max_samples": 0, "trees": [{"children_left":[-1],"children_right":[-1],"feature":[-2],"threshold":[0],"n_node_samples":[1]}]}`,
		"ragged arrays":           `{"offset": 0, "max_samples": 4, "trees": [{"children_left":[-1],"children_right":[-1,-1],"feature":[-2],"threshold":[0],"n_node_samples":[1]}]}`,
		"cycle":                   `{"offset": 0, "max_samples": 4, "trees": [{"children_left":[0,-1],"children_right":[1,-1],"feature":[0,-2],"threshold":[0,0],"n_node_samples":[2,1]}]}`,
		"negative feature subset": `{"offset": 0, "max_samples": 4, "trees": [{"features":[-1],"children_left":[1,-1,-1],"children_right":[2,-1,-1],"feature":[0,-2,-2],"threshold":[0.5,-2,-2],"n_node_samples":[4,1,3]}]}`,
	}
	for name, doc := range bad {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeForest(strings.NewReader(doc)); !errors.Is(err, ErrArtifact) {
				t.Errorf("DecodeForest() error = %v, want ErrArtifact", err)
			}
		})
	}
}

func TestTreePathLength_Float32Threshold(t *testing.T) {
	tree := Tree{
		ChildrenLeft:  []int{1, -1, -1},
		ChildrenRight: []int{2, -1, -1},
		Feature:       []int{0, -2, -2},
		Threshold:     []float64{0.1, -2, -2},
		NodeSamples:   []int{4, 1, 3},
	}
	// float32(0.1) rounds up past the float64 threshold, so the row goes right.
	got, err := tree.pathLength([]float64{0.1})
	if err != nil {
		t.Fatalf("pathLength: %v", err)
	}
	if want := 1 + averagePathLength(3); got != want {
		t.Errorf("pathLength(0.1) = %v, want %v (right leaf)", got, want)
	}
}

func TestTreePathLength_NegativeColumn(t *testing.T) {
	tree := Tree{
		Features:      []int{-1},
		ChildrenLeft:  []int{1, -1, -1},
		ChildrenRight: []int{2, -1, -1},
		Feature:       []int{0, -2, -2},
		Threshold:     []float64{0.5, -2, -2},
		NodeSamples:   []int{4, 1, 3},
	}
	if _, err := tree.pathLength([]float64{1, 2}); !errors.Is(err, ErrFeatureMismatch) {
		t.Errorf("pathLength() error = %v, want ErrFeatureMismatch", err)
	}
}
