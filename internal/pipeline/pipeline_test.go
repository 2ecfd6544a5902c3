package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/HerbHall/chargewatch/internal/features"
	"github.com/HerbHall/chargewatch/internal/metrics"
	"github.com/HerbHall/chargewatch/internal/scoring"
	"github.com/HerbHall/chargewatch/internal/testutil"
	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

type identityScaler struct{}

func (identityScaler) Transform(x [][]float64) ([][]float64, error) { return x, nil }

// constModel predicts the same outcome for every row.
type constModel scoring.Prediction

func (m constModel) Predict(x [][]float64) ([]scoring.Prediction, error) {
	out := make([]scoring.Prediction, len(x))
	for i := range out {
		out[i] = scoring.Prediction(m)
	}
	return out, nil
}

var modelFeatures = []string{
	telemetry.ColPowerKW,
	features.ColPowerDeviation,
	features.ColRollingPowerMean,
	features.ColSessionTotalEnergy,
	features.ColHour,
}

func newPipeline(t *testing.T, pred scoring.Prediction, opts ...Option) *Pipeline {
	t.Helper()
	s := &scoring.Scorer{Features: modelFeatures, Scaler: identityScaler{}, Model: constModel(pred)}
	return New(s, zaptest.NewLogger(t), opts...)
}

func threeRowSession() *telemetry.Batch {
	return testutil.NewBatch(
		testutil.NewRecord(testutil.WithTimestamp("2024-03-04 10:00:00")),
		testutil.NewRecord(testutil.WithTimestamp("2024-03-04 10:01:00")),
		testutil.NewRecord(testutil.WithTimestamp("2024-03-04 10:02:00")),
	)
}

func labels(res *Result) []string {
	out := make([]string, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = row[len(row)-1]
	}
	return out
}

func TestRun_AllInlierSession(t *testing.T) {
	res, err := newPipeline(t, scoring.Inlier).Run(context.Background(), threeRowSession())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := labels(res); !reflect.DeepEqual(got, []string{"0", "0", "0"}) {
		t.Errorf("is_anomaly = %v, want [0 0 0]", got)
	}
	if res.Total != 3 || res.Flagged != 0 {
		t.Errorf("Total/Flagged = %d/%d, want 3/0", res.Total, res.Flagged)
	}
}

func TestRun_ColumnPreservation(t *testing.T) {
	batch := threeRowSession()
	res, err := newPipeline(t, scoring.Inlier).Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantHeader := append(append([]string(nil), batch.Header...), telemetry.ColIsAnomaly)
	if !reflect.DeepEqual(res.Header, wantHeader) {
		t.Errorf("Header = %v, want %v", res.Header, wantHeader)
	}
	for i, row := range res.Rows {
		in := batch.Cells[res.Records[i].Row]
		if !reflect.DeepEqual(row[:len(row)-1], in) {
			t.Errorf("row %d cells = %v, want input %v", i, row[:len(row)-1], in)
		}
	}
}

func TestRun_VoltageBoundaryOverridesInlier(t *testing.T) {
	batch := testutil.NewBatch(
		testutil.NewRecord(testutil.WithTimestamp("2024-03-04 10:00:00")),
		testutil.NewRecord(testutil.WithTimestamp("2024-03-04 10:01:00"), testutil.WithVoltage(-1)),
		testutil.NewRecord(testutil.WithTimestamp("2024-03-04 10:02:00")),
	)
	res, err := newPipeline(t, scoring.Inlier).Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := labels(res); !reflect.DeepEqual(got, []string{"0", "1", "0"}) {
		t.Errorf("is_anomaly = %v, want [0 1 0]", got)
	}
	if res.Flagged != 1 || res.ByReason[telemetry.ReasonPhysicsViolation] != 1 || res.ByReason[telemetry.ReasonModel] != 0 {
		t.Errorf("Flagged = %d, ByReason = %v", res.Flagged, res.ByReason)
	}
}

func TestRun_HardwareFaultAndModel(t *testing.T) {
	batch := testutil.NewBatch(
		testutil.NewRecord(testutil.WithErrorCode(0)),
		testutil.NewRecord(testutil.WithSession("SES-002"), testutil.WithErrorCode(4)),
	)
	res, err := newPipeline(t, scoring.Outlier).Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Flagged != 2 || res.ByReason[telemetry.ReasonModel] != 2 || res.ByReason[telemetry.ReasonHardwareFault] != 1 {
		t.Errorf("Flagged = %d, ByReason = %v", res.Flagged, res.ByReason)
	}
}

func TestRun_OrderOptions(t *testing.T) {
	batch := testutil.NewBatch(
		testutil.NewRecord(testutil.WithStation("B")),
		testutil.NewRecord(testutil.WithStation("A")),
		testutil.NewRecord(testutil.WithStation("C")),
	)

	canonical, err := newPipeline(t, scoring.Inlier).Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := rowsOf(canonical); !reflect.DeepEqual(got, []int{1, 0, 2}) {
		t.Errorf("canonical order = %v, want [1 0 2]", got)
	}

	input, err := newPipeline(t, scoring.Inlier, WithInputOrder(true)).Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := rowsOf(input); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("input order = %v, want [0 1 2]", got)
	}
}

func rowsOf(res *Result) []int {
	out := make([]int, len(res.Records))
	for i, r := range res.Records {
		out[i] = r.Row
	}
	return out
}

func TestRun_Deterministic(t *testing.T) {
	var recs []telemetry.Record
	for i := 0; i < 40; i++ {
		recs = append(recs, testutil.NewRecord(
			testutil.WithStation([]string{"ST-1", "ST-2", "ST-3"}[i%3]),
			testutil.WithSession([]string{"a", "b", "c", "d"}[i%4]),
			testutil.WithPower(float64(i%7)),
		))
	}
	batch := testutil.NewBatch(recs...)

	first, err := newPipeline(t, scoring.Inlier, WithWorkers(1)).Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := newPipeline(t, scoring.Inlier, WithWorkers(8)).Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(first.Rows, second.Rows) {
		t.Error("output differs between runs")
	}
}

func TestRun_ExistingLabelColumnIsOverwritten(t *testing.T) {
	batch := threeRowSession()
	batch.Header = append(batch.Header, telemetry.ColIsAnomaly)
	for i := range batch.Cells {
		batch.Cells[i] = append(batch.Cells[i], "1")
	}
	res, err := newPipeline(t, scoring.Inlier).Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Header) != len(batch.Header) {
		t.Errorf("header grew to %v", res.Header)
	}
	if got := labels(res); !reflect.DeepEqual(got, []string{"0", "0", "0"}) {
		t.Errorf("is_anomaly = %v, want [0 0 0]", got)
	}
}

func TestRun_FeatureMismatch(t *testing.T) {
	s := &scoring.Scorer{Features: []string{"not_a_feature"}, Scaler: identityScaler{}, Model: constModel(scoring.Inlier)}
	_, err := New(s, nil).Run(context.Background(), threeRowSession())
	if !errors.Is(err, scoring.ErrFeatureMismatch) {
		t.Errorf("Run() error = %v, want ErrFeatureMismatch", err)
	}
}

func TestRun_MalformedTimestamp(t *testing.T) {
	batch := testutil.NewBatch(testutil.NewRecord(testutil.WithTimestamp("not a time")))
	_, err := newPipeline(t, scoring.Inlier).Run(context.Background(), batch)
	if !errors.Is(err, features.ErrMalformedTimestamp) {
		t.Errorf("Run() error = %v, want ErrMalformedTimestamp", err)
	}
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newPipeline(t, scoring.Inlier).Run(ctx, threeRowSession()); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRun_RecordsMetrics(t *testing.T) {
	rec := metrics.NewRecorder()
	batch := testutil.NewBatch(
		testutil.NewRecord(testutil.WithTemperature(20)),
		testutil.NewRecord(testutil.WithSession("x"), testutil.WithVoltage(0)),
	)
	if _, err := newPipeline(t, scoring.Inlier, WithMetrics(rec)).Run(context.Background(), batch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	n, err := promtestutil.GatherAndCount(rec.Registry(), "chargewatch_stage_duration_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 7 {
		t.Errorf("stage series = %d, want 7", n)
	}
	n, err = promtestutil.GatherAndCount(rec.Registry(), "chargewatch_anomalies_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("anomaly series = %d, want 1 (physics_violation)", n)
	}
}
