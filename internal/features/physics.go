package features

import (
	"math"

	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

// Physics-consistency feature columns.
const (
	ColPowerExpected   = "power_expected"
	ColPowerDeviation  = "power_deviation"
	ColEnergyExpected  = "energy_expected"
	ColEnergyDeviation = "energy_deviation"
)

// AddPhysics adds expected-versus-observed power and energy columns. Power is
// V*A/1000 in kW; energy is kW over duration_sec seconds in kWh. Missing
// inputs give missing outputs.
func AddPhysics(f *Frame) error {
	n := f.Len()
	voltage := f.mustColumn(telemetry.ColVoltage)
	current := f.mustColumn(telemetry.ColCurrent)
	power := f.mustColumn(telemetry.ColPowerKW)
	energy := f.mustColumn(telemetry.ColEnergyKWh)
	duration := f.mustColumn(telemetry.ColDurationSec)

	powerExpected := make([]float64, n)
	powerDeviation := make([]float64, n)
	energyExpected := make([]float64, n)
	energyDeviation := make([]float64, n)
	for i := 0; i < n; i++ {
		powerExpected[i] = voltage[i] * current[i] / 1000
		powerDeviation[i] = math.Abs(power[i] - powerExpected[i])
		energyExpected[i] = power[i] * duration[i] / 3600
		energyDeviation[i] = math.Abs(energy[i] - energyExpected[i])
	}

	for _, c := range []struct {
		name string
		vals []float64
	}{
		{ColPowerExpected, powerExpected},
		{ColPowerDeviation, powerDeviation},
		{ColEnergyExpected, energyExpected},
		{ColEnergyDeviation, energyDeviation},
	} {
		if err := f.Add(c.name, c.vals); err != nil {
			return err
		}
	}
	return nil
}
