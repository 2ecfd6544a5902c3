package testutil

import (
	"math"
	"strconv"

	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

// NewRecord returns a physically consistent reading suitable for test
// fixtures: 400 V at 25 A gives 10 kW, which over 60 s is 1/6 kWh.
// Override individual fields after creation as needed.
func NewRecord(opts ...func(*telemetry.Record)) telemetry.Record {
	r := telemetry.Record{
		StationID:    telemetry.Key{Text: "ST-01"},
		SessionID:    telemetry.Key{Text: "SES-001"},
		Timestamp:    "2024-03-04 10:00:00",
		Voltage:      400,
		Current:      25,
		PowerKW:      10,
		EnergyKWh:    10.0 * 60 / 3600,
		DurationSec:  60,
		TemperatureC: 30,
		ErrorCode:    math.NaN(),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithStation sets the station id.
func WithStation(id string) func(*telemetry.Record) {
	return func(r *telemetry.Record) { r.StationID = telemetry.Key{Text: id} }
}

// WithSession sets the session id.
func WithSession(id string) func(*telemetry.Record) {
	return func(r *telemetry.Record) { r.SessionID = telemetry.Key{Text: id} }
}

// WithTimestamp sets the raw timestamp text.
func WithTimestamp(ts string) func(*telemetry.Record) {
	return func(r *telemetry.Record) { r.Timestamp = ts }
}

// WithPower sets power_kw.
func WithPower(kw float64) func(*telemetry.Record) {
	return func(r *telemetry.Record) { r.PowerKW = kw }
}

// WithVoltage sets voltage.
func WithVoltage(v float64) func(*telemetry.Record) {
	return func(r *telemetry.Record) { r.Voltage = v }
}

// WithCurrent sets current.
func WithCurrent(a float64) func(*telemetry.Record) {
	return func(r *telemetry.Record) { r.Current = a }
}

// WithEnergy sets energy_kwh.
func WithEnergy(kwh float64) func(*telemetry.Record) {
	return func(r *telemetry.Record) { r.EnergyKWh = kwh }
}

// WithDuration sets duration_sec.
func WithDuration(sec float64) func(*telemetry.Record) {
	return func(r *telemetry.Record) { r.DurationSec = sec }
}

// WithTemperature sets temperature_c.
func WithTemperature(c float64) func(*telemetry.Record) {
	return func(r *telemetry.Record) { r.TemperatureC = c }
}

// WithErrorCode sets a numeric error code.
func WithErrorCode(code float64) func(*telemetry.Record) {
	return func(r *telemetry.Record) { r.ErrorCode = code }
}

// NewBatch assembles records into a batch whose raw cells mirror the record
// values. The error_code column is included when any record carries a code.
func NewBatch(records ...telemetry.Record) *telemetry.Batch {
	b := &telemetry.Batch{
		Header: append([]string(nil), telemetry.RequiredColumns...),
	}
	for _, r := range records {
		if !math.IsNaN(r.ErrorCode) || r.ErrorText {
			b.HasErrorCode = true
		}
	}
	if b.HasErrorCode {
		b.Header = append(b.Header, telemetry.ColErrorCode)
	}

	for i, r := range records {
		r.Row = i
		b.Records = append(b.Records, r)
		row := []string{
			r.StationID.Text, r.SessionID.Text, r.Timestamp,
			formatFloat(r.Voltage), formatFloat(r.Current), formatFloat(r.PowerKW),
			formatFloat(r.EnergyKWh), formatFloat(r.DurationSec), formatFloat(r.TemperatureC),
		}
		if b.HasErrorCode {
			row = append(row, formatFloat(r.ErrorCode))
		}
		b.Cells = append(b.Cells, row)
	}
	return b
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
