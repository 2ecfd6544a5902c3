// Package telemetry provides the public data types for charging-session
// telemetry scored by chargewatch.
package telemetry

import (
	"strconv"
	"strings"
)

// Input column names.
const (
	ColStationID    = "station_id"
	ColSessionID    = "session_id"
	ColTimestamp    = "timestamp"
	ColVoltage      = "voltage"
	ColCurrent      = "current"
	ColPowerKW      = "power_kw"
	ColEnergyKWh    = "energy_kwh"
	ColDurationSec  = "duration_sec"
	ColTemperatureC = "temperature_c"
	ColErrorCode    = "error_code"

	// ColIsAnomaly is the only column appended to the output.
	ColIsAnomaly = "is_anomaly"
)

// RequiredColumns lists the columns every input batch must carry.
var RequiredColumns = []string{
	ColStationID, ColSessionID, ColTimestamp,
	ColVoltage, ColCurrent, ColPowerKW, ColEnergyKWh, ColDurationSec, ColTemperatureC,
}

// Key is a group identifier (station or session). Keys from a column whose
// values are all numeric compare numerically; otherwise they compare as text.
type Key struct {
	Text    string
	Num     float64
	Numeric bool
}

// String returns the canonical form used for grouping.
func (k Key) String() string {
	if k.Numeric {
		return strconv.FormatFloat(k.Num, 'g', -1, 64)
	}
	return k.Text
}

// Compare orders two keys of the same column: -1, 0 or +1.
func (k Key) Compare(o Key) int {
	if k.Numeric && o.Numeric {
		switch {
		case k.Num < o.Num:
			return -1
		case k.Num > o.Num:
			return 1
		}
		return 0
	}
	return strings.Compare(k.Text, o.Text)
}

// Record is one telemetry reading. Missing measurements are NaN.
type Record struct {
	Row       int // position in the input file, 0-based
	StationID Key
	SessionID Key
	Timestamp string

	Voltage      float64
	Current      float64
	PowerKW      float64
	EnergyKWh    float64
	DurationSec  float64
	TemperatureC float64

	// ErrorCode is NaN when the column is absent or the cell is empty.
	ErrorCode float64
	// ErrorText is set when the error code cell holds non-numeric text.
	ErrorText bool
}

// Batch is one input file held in memory. Cells keeps the raw text of every
// row so the output can reproduce the input columns verbatim.
type Batch struct {
	Header       []string
	Cells        [][]string
	Records      []Record
	HasErrorCode bool
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int { return len(b.Records) }

// Label is the per-row anomaly decision.
type Label uint8

const (
	Normal    Label = 0
	Anomalous Label = 1
)

// String returns the output cell text for the label.
func (l Label) String() string {
	if l == Anomalous {
		return "1"
	}
	return "0"
}

// Reason records which decision raised a label. Reasons accumulate.
type Reason uint8

const (
	ReasonModel Reason = 1 << iota
	ReasonHardwareFault
	ReasonPhysicsViolation
)

// Has reports whether r includes flag.
func (r Reason) Has(flag Reason) bool { return r&flag != 0 }

// Names returns the reason names in a fixed order.
func (r Reason) Names() []string {
	var names []string
	if r.Has(ReasonModel) {
		names = append(names, "model")
	}
	if r.Has(ReasonHardwareFault) {
		names = append(names, "hardware_fault")
	}
	if r.Has(ReasonPhysicsViolation) {
		names = append(names, "physics_violation")
	}
	return names
}

// Decision is the label of one row together with the reasons behind it.
type Decision struct {
	Label   Label
	Reasons Reason
}

// Escalate raises the label to anomalous and records the reason. It never
// lowers a label.
func (d *Decision) Escalate(r Reason) {
	d.Label = Anomalous
	d.Reasons |= r
}
