// Command chargewatch-lambda scores telemetry batches as they land in S3.
// Each created .csv object is labelled and written back beside the input.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/HerbHall/chargewatch/internal/config"
	"github.com/HerbHall/chargewatch/internal/runner"
)

// scorer is the part of runner.Runner the handler needs.
type scorer interface {
	Score(ctx context.Context, input string) (runner.Summary, error)
}

type handler struct {
	scorer scorer
	suffix string
	logger *zap.Logger
}

// objectURI builds the s3:// location of an event record. Keys in S3 event
// notifications are URL-encoded.
func objectURI(rec events.S3EventRecord) (string, error) {
	key, err := url.QueryUnescape(rec.S3.Object.Key)
	if err != nil {
		return "", fmt.Errorf("decode key %q: %w", rec.S3.Object.Key, err)
	}
	return "s3://" + rec.S3.Bucket.Name + "/" + key, nil
}

func (h *handler) handle(ctx context.Context, event events.S3Event) error {
	var errs []error
	for _, rec := range event.Records {
		if !strings.HasPrefix(rec.EventName, "ObjectCreated:") {
			continue
		}
		uri, err := objectURI(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !strings.EqualFold(path.Ext(uri), ".csv") || runner.IsOutput(uri, h.suffix) {
			h.logger.Debug("skipping object", zap.String("uri", uri))
			continue
		}

		sum, err := h.scorer.Score(ctx, uri)
		if err != nil {
			h.logger.Error("scoring failed", zap.String("input", uri), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", uri, err))
			continue
		}
		h.logger.Info("prediction complete",
			zap.String("input", uri),
			zap.String("output", sum.Output),
			zap.Int("rows", sum.Total),
			zap.Int("anomalies", sum.Anomalies),
		)
	}
	return errors.Join(errs...)
}

func main() {
	v, err := config.Load(os.Getenv("CHARGEWATCH_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	settings, err := config.Decode(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(settings.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Artifacts load once per cold start and serve every invocation.
	r, closeLedger, err := runner.Build(context.Background(), settings, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer closeLedger()

	h := &handler{scorer: r, suffix: settings.Output.Suffix, logger: logger}
	lambda.Start(h.handle)
}
