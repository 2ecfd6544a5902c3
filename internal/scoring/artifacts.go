package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Opener returns a reader for an artifact location.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Paths locates the three artifacts of a trained model.
type Paths struct {
	Features string
	Scaler   string
	Model    string
}

// DecodeFeatures reads the ordered feature-name list.
func DecodeFeatures(r io.Reader) ([]string, error) {
	var names []string
	if err := json.NewDecoder(r).Decode(&names); err != nil {
		return nil, fmt.Errorf("%w: decode feature list: %w", ErrArtifact, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: feature list is empty", ErrArtifact)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return nil, fmt.Errorf("%w: feature %q listed twice", ErrArtifact, n)
		}
		seen[n] = true
	}
	return names, nil
}

// LoadArtifacts opens the feature list, scaler and forest, checks that their
// widths agree, and returns a ready Scorer.
func LoadArtifacts(ctx context.Context, o Opener, p Paths) (*Scorer, error) {
	var (
		names  []string
		scaler *AffineScaler
		forest *IsolationForest
	)
	steps := []struct {
		uri    string
		decode func(io.Reader) error
	}{
		{p.Features, func(r io.Reader) (err error) { names, err = DecodeFeatures(r); return }},
		{p.Scaler, func(r io.Reader) (err error) { scaler, err = DecodeScaler(r); return }},
		{p.Model, func(r io.Reader) (err error) { forest, err = DecodeForest(r); return }},
	}
	for _, s := range steps {
		if err := load(ctx, o, s.uri, s.decode); err != nil {
			return nil, err
		}
	}

	if scaler.Width() != len(names) {
		return nil, fmt.Errorf("%w: scaler has %d columns, feature list has %d", ErrArtifact, scaler.Width(), len(names))
	}
	if forest.NFeatures > 0 && forest.NFeatures != len(names) {
		return nil, fmt.Errorf("%w: model expects %d features, feature list has %d", ErrArtifact, forest.NFeatures, len(names))
	}
	if m := forest.MaxFeature(); m >= len(names) {
		return nil, fmt.Errorf("%w: model splits on feature %d, feature list has %d", ErrArtifact, m, len(names))
	}
	return &Scorer{Features: names, Scaler: scaler, Model: forest}, nil
}

func load(ctx context.Context, o Opener, uri string, decode func(io.Reader) error) error {
	rc, err := o.Open(ctx, uri)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArtifact, err)
	}
	defer rc.Close()
	if err := decode(rc); err != nil {
		return fmt.Errorf("%s: %w", uri, err)
	}
	return nil
}
