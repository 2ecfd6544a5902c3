// Package override applies deterministic domain rules on top of the model
// labels. Rules can only raise a label to anomalous, never clear one.
package override

import (
	"fmt"

	"github.com/HerbHall/chargewatch/internal/features"
	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

// Rule flags a canonical row of a resolved frame.
type Rule struct {
	Name   string
	Reason telemetry.Reason
	// Applies reports whether the rule can fire on this frame at all.
	Applies func(f *features.Frame) bool
	Match   func(f *features.Frame, i int) bool
}

// Result summarizes one Apply call.
type Result struct {
	// Matched counts rows each reason fired on, whether or not the row was
	// already anomalous.
	Matched map[telemetry.Reason]int
	// Promoted counts rows that the rules moved from normal to anomalous.
	Promoted int
}

// Arbiter evaluates an ordered set of independent rules.
type Arbiter struct {
	rules []Rule
}

// New returns an Arbiter with the given rules.
func New(rules ...Rule) *Arbiter {
	return &Arbiter{rules: rules}
}

// Default returns the hardware-fault and physics-violation rules.
func Default() *Arbiter {
	return New(HardwareFault(), PhysicsViolation())
}

// Apply escalates decisions in place. decisions must be aligned with the
// frame's canonical rows.
func (a *Arbiter) Apply(f *features.Frame, decisions []telemetry.Decision) (Result, error) {
	if len(decisions) != f.Len() {
		return Result{}, fmt.Errorf("override: %d decisions for %d rows", len(decisions), f.Len())
	}
	res := Result{Matched: make(map[telemetry.Reason]int)}
	for _, r := range a.rules {
		if r.Applies != nil && !r.Applies(f) {
			continue
		}
		for i := range decisions {
			if !r.Match(f, i) {
				continue
			}
			res.Matched[r.Reason]++
			if decisions[i].Label == telemetry.Normal {
				res.Promoted++
			}
			decisions[i].Escalate(r.Reason)
		}
	}
	return res, nil
}

// HardwareFault flags rows whose error code is non-zero. Codes that were not
// numbers at all count as faults. The rule is inert when the batch carried
// no error_code column.
func HardwareFault() Rule {
	return Rule{
		Name:   "hardware_fault",
		Reason: telemetry.ReasonHardwareFault,
		Applies: func(f *features.Frame) bool {
			return f.Has(telemetry.ColErrorCode)
		},
		Match: func(f *features.Frame, i int) bool {
			if f.Records[i].ErrorText {
				return true
			}
			codes, _ := f.Column(telemetry.ColErrorCode)
			return codes[i] != 0
		},
	}
}

// PhysicsViolation flags physically impossible readings: negative power,
// energy or current, and non-positive voltage or duration.
func PhysicsViolation() Rule {
	return Rule{
		Name:   "physics_violation",
		Reason: telemetry.ReasonPhysicsViolation,
		Match: func(f *features.Frame, i int) bool {
			v := func(name string) float64 {
				c, _ := f.Column(name)
				return c[i]
			}
			return v(telemetry.ColPowerKW) < 0 ||
				v(telemetry.ColEnergyKWh) < 0 ||
				v(telemetry.ColVoltage) <= 0 ||
				v(telemetry.ColCurrent) < 0 ||
				v(telemetry.ColDurationSec) <= 0
		},
	}
}
