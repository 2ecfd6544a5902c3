package runner

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/HerbHall/chargewatch/internal/blob"
	"github.com/HerbHall/chargewatch/internal/config"
	"github.com/HerbHall/chargewatch/internal/ledger"
	"github.com/HerbHall/chargewatch/internal/metrics"
	"github.com/HerbHall/chargewatch/internal/pipeline"
	"github.com/HerbHall/chargewatch/internal/scoring"
	"github.com/HerbHall/chargewatch/internal/store"
	"github.com/HerbHall/chargewatch/internal/version"
)

// Build loads the model artifacts once and assembles a Runner from the
// settings. The returned close function releases the ledger database.
func Build(ctx context.Context, s config.Settings, logger *zap.Logger) (*Runner, func() error, error) {
	blobs := blob.New(s.AWS.Region)

	scorer, err := scoring.LoadArtifacts(ctx, blobs, scoring.Paths{
		Features: s.Artifacts.Features,
		Scaler:   s.Artifacts.Scaler,
		Model:    s.Artifacts.Model,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load artifacts: %w", err)
	}
	logger.Info("model artifacts loaded",
		zap.String("component", "scoring"),
		zap.String("model", s.Artifacts.Model),
		zap.Int("features", len(scorer.Features)),
	)

	workers := s.Pipeline.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	rec := metrics.NewRecorder()
	r := &Runner{
		Blobs: blobs,
		Pipeline: pipeline.New(scorer, logger.Named("pipeline"),
			pipeline.WithWorkers(workers),
			pipeline.WithInputOrder(s.Output.PreserveInputOrder),
			pipeline.WithMetrics(rec),
		),
		Suffix:   s.Output.Suffix,
		Metrics:  rec,
		Textfile: s.Metrics.Textfile,
		Logger:   logger,
	}

	closeFn := func() error { return nil }
	if s.Ledger.Path != "" {
		db, err := store.New(s.Ledger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open ledger: %w", err)
		}
		if err := db.CheckVersion(ctx, version.Short()); err != nil {
			db.Close()
			return nil, nil, err
		}
		l, err := ledger.Open(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		r.Ledger = l
		closeFn = db.Close
		logger.Info("ledger opened", zap.String("component", "ledger"), zap.String("path", s.Ledger.Path))
	}
	return r, closeFn, nil
}
