package features

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

// WindowSize is the trailing window length for rolling statistics, counted in
// records and including the current one.
const WindowSize = 5

// Grouped feature columns.
const (
	ColRollingPowerMean     = "rolling_power_mean"
	ColRollingPowerStd      = "rolling_power_std"
	ColRollingTempMean      = "rolling_temp_mean"
	ColRollingTempStd       = "rolling_temp_std"
	ColPowerDelta           = "power_delta"
	ColTempDelta            = "temp_delta"
	ColVoltageDelta         = "voltage_delta"
	ColStationPowerDev      = "station_power_deviation"
	ColStationTempDev       = "station_temp_deviation"
	ColSessionTotalEnergy   = "session_total_energy"
	ColSessionTotalDuration = "session_total_duration"
)

var groupedColumns = []string{
	ColRollingPowerMean, ColRollingPowerStd, ColRollingTempMean, ColRollingTempStd,
	ColPowerDelta, ColTempDelta, ColVoltageDelta,
	ColStationPowerDev, ColStationTempDev,
	ColSessionTotalEnergy, ColSessionTotalDuration,
}

// group is one partition of the frame: canonical row positions in order.
type group struct {
	key  string
	rows []int
}

// partition splits rows 0..n-1 by key, keeping rows in ascending order and
// groups in order of first appearance.
func partition(n int, key func(i int) string) []group {
	index := make(map[string]int)
	var groups []group
	for i := 0; i < n; i++ {
		k := key(i)
		gi, ok := index[k]
		if !ok {
			gi = len(groups)
			index[k] = gi
			groups = append(groups, group{key: k})
		}
		groups[gi].rows = append(groups[gi].rows, i)
	}
	return groups
}

// Grouper computes the grouped temporal features. Independent groups are
// processed concurrently, at most Workers at a time (0 means unbounded).
type Grouper struct {
	Workers int
}

// AddGrouped adds rolling statistics and first differences per
// (station_id, session_id), deviations from the station mean per station_id,
// and totals per session_id.
func (g Grouper) AddGrouped(ctx context.Context, f *Frame) error {
	n := f.Len()
	power := f.mustColumn(telemetry.ColPowerKW)
	temp := f.mustColumn(telemetry.ColTemperatureC)
	voltage := f.mustColumn(telemetry.ColVoltage)
	energy := f.mustColumn(telemetry.ColEnergyKWh)
	duration := f.mustColumn(telemetry.ColDurationSec)

	out := make(map[string][]float64, len(groupedColumns))
	for _, name := range groupedColumns {
		out[name] = make([]float64, n)
	}

	sessions := partition(n, func(i int) string {
		r := &f.Records[i]
		return r.StationID.String() + "\x1f" + r.SessionID.String()
	})
	stations := partition(n, func(i int) string { return f.Records[i].StationID.String() })
	sessionIDs := partition(n, func(i int) string { return f.Records[i].SessionID.String() })

	eg, ctx := errgroup.WithContext(ctx)
	if g.Workers > 0 {
		eg.SetLimit(g.Workers)
	}

	// Every task writes only the positions of its own group.
	for _, grp := range sessions {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rolling(grp.rows, power, out[ColRollingPowerMean], out[ColRollingPowerStd])
			rolling(grp.rows, temp, out[ColRollingTempMean], out[ColRollingTempStd])
			delta(grp.rows, power, out[ColPowerDelta])
			delta(grp.rows, temp, out[ColTempDelta])
			delta(grp.rows, voltage, out[ColVoltageDelta])
			return nil
		})
	}
	for _, grp := range stations {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			deviationFromMean(grp.rows, power, out[ColStationPowerDev])
			deviationFromMean(grp.rows, temp, out[ColStationTempDev])
			return nil
		})
	}
	for _, grp := range sessionIDs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			broadcastSum(grp.rows, energy, out[ColSessionTotalEnergy])
			broadcastSum(grp.rows, duration, out[ColSessionTotalDuration])
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, name := range groupedColumns {
		if err := f.Add(name, out[name]); err != nil {
			return err
		}
	}
	return nil
}

func rolling(rows []int, src, mean, std []float64) {
	rw := NewRollingWindow(WindowSize)
	for _, i := range rows {
		rw.Add(src[i])
		mean[i] = rw.Mean()
		std[i] = rw.StdDev()
	}
}

// delta writes first differences. The first row of a group, and any
// difference involving a missing value, is 0.
func delta(rows []int, src, dst []float64) {
	for k, i := range rows {
		if k == 0 {
			dst[i] = 0
			continue
		}
		d := src[i] - src[rows[k-1]]
		if math.IsNaN(d) {
			d = 0
		}
		dst[i] = d
	}
}

// deviationFromMean writes |x - mean(group)|. The mean skips missing values;
// an all-missing group yields missing deviations.
func deviationFromMean(rows []int, src, dst []float64) {
	vals := presentValues(rows, src)
	mean := math.NaN()
	if len(vals) > 0 {
		mean = stat.Mean(vals, nil)
	}
	for _, i := range rows {
		dst[i] = math.Abs(src[i] - mean)
	}
}

// broadcastSum writes the group sum to every row. Missing values are skipped,
// so an all-missing group sums to 0.
func broadcastSum(rows []int, src, dst []float64) {
	sum := floats.Sum(presentValues(rows, src))
	for _, i := range rows {
		dst[i] = sum
	}
}

func presentValues(rows []int, src []float64) []float64 {
	vals := make([]float64, 0, len(rows))
	for _, i := range rows {
		if !math.IsNaN(src[i]) {
			vals = append(vals, src[i])
		}
	}
	return vals
}
