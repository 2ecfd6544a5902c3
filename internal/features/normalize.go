package features

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

// Calendar feature columns.
const (
	ColHour      = "hour"
	ColDayOfWeek = "day_of_week"
	ColIsWeekend = "is_weekend"
)

// ErrMalformedTimestamp is returned when a timestamp cannot be parsed.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// timestampLayouts are tried in order. Layouts without a zone parse as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a telemetry timestamp.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, raw)
}

// Normalize parses every timestamp, orders the batch by
// (station_id, session_id, timestamp) ascending, and returns a frame seeded
// with the numeric input columns and the calendar features. The sort is
// stable, so duplicate readings keep their input order.
func Normalize(batch *telemetry.Batch) (*Frame, error) {
	n := batch.Len()
	parsed := make([]time.Time, n)
	for i, rec := range batch.Records {
		t, err := ParseTimestamp(rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", rec.Row+2, err)
		}
		parsed[i] = t
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := &batch.Records[order[a]], &batch.Records[order[b]]
		if c := ra.StationID.Compare(rb.StationID); c != 0 {
			return c < 0
		}
		if c := ra.SessionID.Compare(rb.SessionID); c != 0 {
			return c < 0
		}
		return parsed[order[a]].Before(parsed[order[b]])
	})

	records := make([]telemetry.Record, n)
	times := make([]time.Time, n)
	for i, idx := range order {
		records[i] = batch.Records[idx]
		times[i] = parsed[idx]
	}
	f := newFrame(records, times)

	if err := addInputColumns(f, batch.HasErrorCode); err != nil {
		return nil, err
	}

	hour := make([]float64, n)
	dow := make([]float64, n)
	weekend := make([]float64, n)
	for i, t := range times {
		hour[i] = float64(t.Hour())
		// time.Weekday starts at Sunday; day_of_week starts at Monday.
		d := (int(t.Weekday()) + 6) % 7
		dow[i] = float64(d)
		if d >= 5 {
			weekend[i] = 1
		}
	}
	for _, c := range []struct {
		name string
		vals []float64
	}{{ColHour, hour}, {ColDayOfWeek, dow}, {ColIsWeekend, weekend}} {
		if err := f.Add(c.name, c.vals); err != nil {
			return nil, err
		}
	}
	return f, nil
}

type inputColumn struct {
	name string
	get  func(r *telemetry.Record) float64
}

var inputColumns = []inputColumn{
	{telemetry.ColVoltage, func(r *telemetry.Record) float64 { return r.Voltage }},
	{telemetry.ColCurrent, func(r *telemetry.Record) float64 { return r.Current }},
	{telemetry.ColPowerKW, func(r *telemetry.Record) float64 { return r.PowerKW }},
	{telemetry.ColEnergyKWh, func(r *telemetry.Record) float64 { return r.EnergyKWh }},
	{telemetry.ColDurationSec, func(r *telemetry.Record) float64 { return r.DurationSec }},
	{telemetry.ColTemperatureC, func(r *telemetry.Record) float64 { return r.TemperatureC }},
}

func addInputColumns(f *Frame, hasErrorCode bool) error {
	cols := append([]inputColumn(nil), inputColumns...)
	// Numeric id columns are usable as features, like any other numeric input.
	if f.Len() > 0 && f.Records[0].StationID.Numeric {
		cols = append([]inputColumn{{telemetry.ColStationID, func(r *telemetry.Record) float64 { return r.StationID.Num }}}, cols...)
	}
	if f.Len() > 0 && f.Records[0].SessionID.Numeric {
		cols = append(cols, inputColumn{telemetry.ColSessionID, func(r *telemetry.Record) float64 { return r.SessionID.Num }})
	}
	if hasErrorCode {
		cols = append(cols, inputColumn{telemetry.ColErrorCode, func(r *telemetry.Record) float64 { return r.ErrorCode }})
	}
	for _, c := range cols {
		if err := f.Add(c.name, f.extract(c.get)); err != nil {
			return err
		}
	}
	return nil
}
