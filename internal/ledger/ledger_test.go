package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/chargewatch/internal/store"
	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	l, err := Open(context.Background(), db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestRecord_AssignsUUID(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	id, err := l.Record(ctx, Run{
		Input:      "batch.csv",
		Output:     "batch_output.csv",
		AppVersion: "v0.1.0",
		TotalRows:  10,
		Anomalies:  2,
		Flags: map[telemetry.Reason]int{
			telemetry.ReasonModel:            1,
			telemetry.ReasonPhysicsViolation: 2,
		},
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}, []Flagged{
		{InputRow: 7, StationID: "ST-1", SessionID: "S-2", Timestamp: "2024-03-04 10:05:00", Reasons: telemetry.ReasonPhysicsViolation},
		{InputRow: 3, StationID: "ST-1", SessionID: "S-1", Timestamp: "2024-03-04 10:01:00", Reasons: telemetry.ReasonModel | telemetry.ReasonPhysicsViolation},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("run id %q is not a UUID: %v", id, err)
	}

	run, err := l.Run(ctx, id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.TotalRows != 10 || run.Anomalies != 2 || run.Output != "batch_output.csv" {
		t.Errorf("run = %+v", run)
	}
	if run.Flags[telemetry.ReasonPhysicsViolation] != 2 || run.Flags[telemetry.ReasonHardwareFault] != 0 {
		t.Errorf("flags = %v", run.Flags)
	}
	if !run.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, start)
	}

	all, err := l.FlaggedReadings(ctx, id, 0)
	if err != nil {
		t.Fatalf("FlaggedReadings: %v", err)
	}
	if len(all) != 2 || all[0].InputRow != 3 || all[1].InputRow != 7 {
		t.Fatalf("flagged = %+v, want rows 3 and 7 in input order", all)
	}
	if ReasonLabel(all[0].Reasons) != "model+physics_violation" {
		t.Errorf("ReasonLabel = %q", ReasonLabel(all[0].Reasons))
	}

	modelOnly, err := l.FlaggedReadings(ctx, id, telemetry.ReasonModel)
	if err != nil {
		t.Fatalf("FlaggedReadings(model): %v", err)
	}
	if len(modelOnly) != 1 || modelOnly[0].InputRow != 3 {
		t.Errorf("model-flagged = %+v, want row 3", modelOnly)
	}
}

func TestRun_NotFound(t *testing.T) {
	l := testLedger(t)
	if _, err := l.Run(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Run() error = %v, want ErrNotFound", err)
	}
}

func TestRecord_DuplicateRowRollsBack(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	now := time.Now()

	_, err := l.Record(ctx, Run{ID: "r1", Input: "x.csv", StartedAt: now, FinishedAt: now},
		[]Flagged{{InputRow: 1}, {InputRow: 1}})
	if err == nil {
		t.Fatal("expected error for duplicate flagged row")
	}
	if _, err := l.Run(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("run persisted despite failed transaction: %v", err)
	}
}

func TestRecentRuns(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.csv", "b.csv", "c.csv"} {
		at := base.Add(time.Duration(i) * time.Hour)
		if _, err := l.Record(ctx, Run{Input: name, StartedAt: at, FinishedAt: at}, nil); err != nil {
			t.Fatalf("Record %s: %v", name, err)
		}
	}

	runs, err := l.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Input != "c.csv" || runs[1].Input != "b.csv" {
		t.Errorf("RecentRuns = %+v", runs)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	for i := 0; i < 2; i++ {
		if _, err := Open(context.Background(), db); err != nil {
			t.Fatalf("Open pass %d: %v", i, err)
		}
	}
}
