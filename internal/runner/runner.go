// Package runner scores one stored telemetry file end to end: read, run the
// pipeline, write the labelled copy next to the input, then record the run.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/chargewatch/internal/blob"
	"github.com/HerbHall/chargewatch/internal/ingest"
	"github.com/HerbHall/chargewatch/internal/ledger"
	"github.com/HerbHall/chargewatch/internal/metrics"
	"github.com/HerbHall/chargewatch/internal/pipeline"
	"github.com/HerbHall/chargewatch/internal/version"
	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

// Summary reports a completed run.
type Summary struct {
	RunID     string
	Input     string
	Output    string
	Total     int
	Anomalies int
}

// Runner wires the pipeline to storage. Ledger, Metrics and Textfile are
// optional.
type Runner struct {
	Blobs    *blob.Store
	Pipeline *pipeline.Pipeline
	Suffix   string
	Ledger   *ledger.Ledger
	Metrics  *metrics.Recorder
	Textfile string
	Logger   *zap.Logger
}

// OutputPath derives the output location from the input: a trailing .csv
// extension becomes <suffix>.csv, any other name gets <suffix>.csv appended.
// Works for local paths and s3:// URIs alike.
func OutputPath(input, suffix string) string {
	ext := path.Ext(input)
	if strings.EqualFold(ext, ".csv") {
		return strings.TrimSuffix(input, ext) + suffix + ext
	}
	return input + suffix + ".csv"
}

// IsOutput reports whether name looks like a file this runner produced.
func IsOutput(name, suffix string) bool {
	stem := strings.TrimSuffix(name, path.Ext(name))
	return suffix != "" && strings.HasSuffix(stem, suffix)
}

// Score processes the file at input. Nothing is written unless the whole
// batch succeeds.
func (r *Runner) Score(ctx context.Context, input string) (Summary, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	started := time.Now()

	rc, err := r.Blobs.Open(ctx, input)
	if err != nil {
		return Summary{}, fmt.Errorf("open input: %w", err)
	}
	batch, err := ingest.ReadCSV(rc)
	rc.Close()
	if err != nil {
		return Summary{}, fmt.Errorf("read %s: %w", input, err)
	}
	logger.Info("batch loaded", zap.String("input", input), zap.Int("rows", batch.Len()))

	res, err := r.Pipeline.Run(ctx, batch)
	if err != nil {
		return Summary{}, err
	}

	var buf bytes.Buffer
	if err := ingest.WriteCSV(&buf, res.Header, res.Rows); err != nil {
		return Summary{}, fmt.Errorf("encode output: %w", err)
	}
	output := OutputPath(input, r.Suffix)
	if err := r.Blobs.Put(ctx, output, buf.Bytes()); err != nil {
		return Summary{}, fmt.Errorf("write output: %w", err)
	}

	sum := Summary{Input: input, Output: output, Total: res.Total, Anomalies: res.Flagged}

	if r.Ledger != nil {
		id, err := r.Ledger.Record(ctx, ledger.Run{
			Input:      input,
			Output:     output,
			AppVersion: version.Short(),
			TotalRows:  res.Total,
			Anomalies:  res.Flagged,
			Flags:      res.ByReason,
			StartedAt:  started,
			FinishedAt: time.Now(),
		}, flagged(res))
		if err != nil {
			return Summary{}, fmt.Errorf("record run: %w", err)
		}
		sum.RunID = id
		logger.Info("run recorded", zap.String("component", "ledger"), zap.String("run_id", id))
	}

	if r.Metrics != nil {
		r.Metrics.MarkSuccess(time.Now())
		if r.Textfile != "" {
			if err := r.Metrics.WriteTextfile(r.Textfile); err != nil {
				// The output is already in place; a stale textfile is not fatal.
				logger.Warn("metrics textfile not written", zap.Error(err))
			}
		}
	}
	return sum, nil
}

func flagged(res *pipeline.Result) []ledger.Flagged {
	var out []ledger.Flagged
	for i, d := range res.Decisions {
		if d.Label != telemetry.Anomalous {
			continue
		}
		rec := res.Records[i]
		out = append(out, ledger.Flagged{
			InputRow:  rec.Row,
			StationID: rec.StationID.Text,
			SessionID: rec.SessionID.Text,
			Timestamp: rec.Timestamp,
			Reasons:   d.Reasons,
		})
	}
	return out
}
