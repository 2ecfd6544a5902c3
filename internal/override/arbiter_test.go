package override

import (
	"math"
	"testing"

	"github.com/HerbHall/chargewatch/internal/features"
	"github.com/HerbHall/chargewatch/internal/testutil"
	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

func resolved(t *testing.T, records ...telemetry.Record) *features.Frame {
	t.Helper()
	f, err := features.Normalize(testutil.NewBatch(records...))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	features.Resolve(f)
	return f
}

func TestPhysicsViolation(t *testing.T) {
	tests := []struct {
		name string
		opt  func(*telemetry.Record)
		want bool
	}{
		{"consistent reading", func(*telemetry.Record) {}, false},
		{"negative power", testutil.WithPower(-0.1), true},
		{"zero power", testutil.WithPower(0), false},
		{"negative energy", testutil.WithEnergy(-1), true},
		{"zero voltage", testutil.WithVoltage(0), true},
		{"voltage -1", testutil.WithVoltage(-1), true},
		{"negative current", testutil.WithCurrent(-2), true},
		{"zero current", testutil.WithCurrent(0), false},
		{"zero duration", testutil.WithDuration(0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := resolved(t, testutil.NewRecord(tt.opt))
			decisions := make([]telemetry.Decision, 1)
			res, err := New(PhysicsViolation()).Apply(f, decisions)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			got := decisions[0].Label == telemetry.Anomalous
			if got != tt.want {
				t.Errorf("flagged = %v, want %v", got, tt.want)
			}
			if tt.want && res.Matched[telemetry.ReasonPhysicsViolation] != 1 {
				t.Errorf("Matched = %v", res.Matched)
			}
		})
	}
}

func TestHardwareFault(t *testing.T) {
	f := resolved(t,
		testutil.NewRecord(testutil.WithSession("a"), testutil.WithErrorCode(0)),
		testutil.NewRecord(testutil.WithSession("b"), testutil.WithErrorCode(17)),
		testutil.NewRecord(testutil.WithSession("c"), func(r *telemetry.Record) { r.ErrorText = true }),
	)
	decisions := make([]telemetry.Decision, 3)
	res, err := New(HardwareFault()).Apply(f, decisions)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := []telemetry.Label{telemetry.Normal, telemetry.Anomalous, telemetry.Anomalous}
	for i := range want {
		if decisions[i].Label != want[i] {
			t.Errorf("row %d label = %v, want %v", i, decisions[i].Label, want[i])
		}
	}
	if res.Matched[telemetry.ReasonHardwareFault] != 2 || res.Promoted != 2 {
		t.Errorf("Result = %+v", res)
	}
}

func TestHardwareFault_MissingCodeIsResolvedFirst(t *testing.T) {
	// The missing code takes the column median, here 0.
	f := resolved(t,
		testutil.NewRecord(testutil.WithSession("a"), testutil.WithErrorCode(0)),
		testutil.NewRecord(testutil.WithSession("b"), testutil.WithErrorCode(math.NaN())),
		testutil.NewRecord(testutil.WithSession("c"), testutil.WithErrorCode(0)),
	)
	decisions := make([]telemetry.Decision, 3)
	if _, err := Default().Apply(f, decisions); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for i, d := range decisions {
		if d.Label != telemetry.Normal {
			t.Errorf("row %d flagged: %+v", i, d)
		}
	}
}

func TestHardwareFault_InertWithoutColumn(t *testing.T) {
	f := resolved(t, testutil.NewRecord())
	decisions := make([]telemetry.Decision, 1)
	res, err := New(HardwareFault()).Apply(f, decisions)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if decisions[0].Label != telemetry.Normal || len(res.Matched) != 0 {
		t.Errorf("rule fired without an error_code column: %+v %+v", decisions[0], res)
	}
}

func TestApply_NeverDemotes(t *testing.T) {
	f := resolved(t, testutil.NewRecord(), testutil.NewRecord(testutil.WithSession("x"), testutil.WithVoltage(-1)))
	decisions := []telemetry.Decision{
		{Label: telemetry.Anomalous, Reasons: telemetry.ReasonModel},
		{Label: telemetry.Anomalous, Reasons: telemetry.ReasonModel},
	}
	res, err := Default().Apply(f, decisions)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for i, d := range decisions {
		if d.Label != telemetry.Anomalous {
			t.Errorf("row %d demoted to %v", i, d.Label)
		}
	}
	if !decisions[1].Reasons.Has(telemetry.ReasonModel) || !decisions[1].Reasons.Has(telemetry.ReasonPhysicsViolation) {
		t.Errorf("row 1 reasons = %v, want model and physics", decisions[1].Reasons.Names())
	}
	if res.Promoted != 0 {
		t.Errorf("Promoted = %d, want 0", res.Promoted)
	}
}

func TestApply_LengthMismatch(t *testing.T) {
	f := resolved(t, testutil.NewRecord())
	if _, err := Default().Apply(f, nil); err == nil {
		t.Error("expected error for misaligned decisions")
	}
}
