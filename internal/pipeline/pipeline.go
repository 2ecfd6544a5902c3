// Package pipeline runs one telemetry batch through feature engineering,
// scoring and the override rules, and assembles the labelled output.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/chargewatch/internal/features"
	"github.com/HerbHall/chargewatch/internal/metrics"
	"github.com/HerbHall/chargewatch/internal/override"
	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

// Scorer assigns model labels to a resolved frame.
type Scorer interface {
	Score(f *features.Frame) ([]telemetry.Decision, error)
}

// Result is the labelled batch.
type Result struct {
	// Header is the input header plus is_anomaly.
	Header []string
	// Rows holds the raw input cells of each row followed by its label.
	Rows [][]string
	// Records and Decisions are aligned with Rows.
	Records   []telemetry.Record
	Decisions []telemetry.Decision

	Total   int
	Flagged int
	// ByReason counts flagged rows per reason; a row can count under
	// several reasons.
	ByReason    map[telemetry.Reason]int
	Imputations []features.Imputation
}

// Pipeline is safe for sequential reuse across batches.
type Pipeline struct {
	scorer        Scorer
	arbiter       *override.Arbiter
	grouper       features.Grouper
	preserveOrder bool
	recorder      *metrics.Recorder
	logger        *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds concurrent group computations; 0 means unbounded.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.grouper.Workers = n }
}

// WithInputOrder emits rows in input order instead of canonical
// (station_id, session_id, timestamp) order.
func WithInputOrder(preserve bool) Option {
	return func(p *Pipeline) { p.preserveOrder = preserve }
}

// WithArbiter replaces the default override rules.
func WithArbiter(a *override.Arbiter) Option {
	return func(p *Pipeline) { p.arbiter = a }
}

// WithMetrics records stage timings and counts on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// New creates a Pipeline around a scorer.
func New(scorer Scorer, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		scorer:  scorer,
		arbiter: override.Default(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run scores one batch. Any error aborts the whole batch.
func (p *Pipeline) Run(ctx context.Context, batch *telemetry.Batch) (*Result, error) {
	var (
		frame       *features.Frame
		imputations []features.Imputation
		decisions   []telemetry.Decision
		arbitration override.Result
	)
	stages := []struct {
		name string
		run  func() error
	}{
		{"normalize", func() (err error) {
			frame, err = features.Normalize(batch)
			return err
		}},
		{"physics", func() error { return features.AddPhysics(frame) }},
		{"grouped", func() error { return p.grouper.AddGrouped(ctx, frame) }},
		{"resolve", func() error {
			imputations = features.Resolve(frame)
			return nil
		}},
		{"score", func() (err error) {
			decisions, err = p.scorer.Score(frame)
			return err
		}},
		{"override", func() (err error) {
			arbitration, err = p.arbiter.Apply(frame, decisions)
			return err
		}},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		if err := s.run(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		p.observe(s.name, time.Since(start))
	}

	for _, imp := range imputations {
		p.logger.Debug("imputed missing values",
			zap.String("column", imp.Column),
			zap.Int("filled", imp.Filled),
			zap.Float64("value", imp.Value),
			zap.Bool("fallback", imp.Fallback),
		)
	}

	start := time.Now()
	res := p.assemble(batch, frame, decisions)
	res.Imputations = imputations
	p.observe("assemble", time.Since(start))

	p.logger.Info("batch scored",
		zap.Int("rows", res.Total),
		zap.Int("anomalies", res.Flagged),
		zap.Int("model", res.ByReason[telemetry.ReasonModel]),
		zap.Int("hardware_fault", res.ByReason[telemetry.ReasonHardwareFault]),
		zap.Int("physics_violation", res.ByReason[telemetry.ReasonPhysicsViolation]),
		zap.Int("promoted_by_rules", arbitration.Promoted),
	)
	if p.recorder != nil {
		p.recorder.AddRows(res.Total)
		for reason, n := range res.ByReason {
			p.recorder.AddAnomalies(strings.Join(reason.Names(), "+"), n)
		}
		for _, imp := range imputations {
			p.recorder.AddImputed(imp.Column, imp.Filled)
		}
	}
	return res, nil
}

func (p *Pipeline) observe(stage string, d time.Duration) {
	if p.recorder != nil {
		p.recorder.ObserveStage(stage, d)
	}
}

// assemble emits the raw input cells of every row plus its label. An input
// that already has an is_anomaly column gets it overwritten in place.
func (p *Pipeline) assemble(batch *telemetry.Batch, frame *features.Frame, decisions []telemetry.Decision) *Result {
	labelCol := -1
	for i, h := range batch.Header {
		if strings.TrimSpace(h) == telemetry.ColIsAnomaly {
			labelCol = i
			break
		}
	}
	header := append([]string(nil), batch.Header...)
	if labelCol < 0 {
		header = append(header, telemetry.ColIsAnomaly)
	}

	n := frame.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if p.preserveOrder {
		sort.Slice(order, func(a, b int) bool {
			return frame.Records[order[a]].Row < frame.Records[order[b]].Row
		})
	}

	res := &Result{
		Header:    header,
		Rows:      make([][]string, n),
		Records:   make([]telemetry.Record, n),
		Decisions: make([]telemetry.Decision, n),
		Total:     n,
		ByReason:  make(map[telemetry.Reason]int),
	}
	for out, i := range order {
		rec := frame.Records[i]
		d := decisions[i]

		row := append(make([]string, 0, len(header)), batch.Cells[rec.Row]...)
		if labelCol >= 0 {
			row[labelCol] = d.Label.String()
		} else {
			row = append(row, d.Label.String())
		}

		res.Rows[out] = row
		res.Records[out] = rec
		res.Decisions[out] = d
		if d.Label == telemetry.Anomalous {
			res.Flagged++
			for _, r := range []telemetry.Reason{telemetry.ReasonModel, telemetry.ReasonHardwareFault, telemetry.ReasonPhysicsViolation} {
				if d.Reasons.Has(r) {
					res.ByReason[r]++
				}
			}
		}
	}
	return res
}
