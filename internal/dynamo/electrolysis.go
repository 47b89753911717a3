package dynamo

import "math"

const (
	// FaradayCoefficient converts cell current (A) to water mass (g/s) for
	// 2H2O -> 2H2 + O2 at four electrons per oxygen molecule.
	FaradayCoefficient = 9.328e-5

	// GapCoefficient scales the electrode gap into solution resistance.
	GapCoefficient = 100.0

	// MinEventDuration is the shortest event the engine admits, in seconds.
	MinEventDuration = 0.1
)

// Rate returns the water consumption rate in grams per second.
//
// The safety resistor limits current in series with the solution:
//
//	R_total = R_safety + 100*d/(sigma*A)
//	I       = (V - V_th) / R_total
//	rate    = 9.328e-5 * I
//
// A non-positive or non-finite result is reported as zero.
func Rate(p Params) float64 {
	num := FaradayCoefficient * (p.Voltage - p.ThresholdVoltage) * p.Conductivity * p.ElectrodeArea
	den := p.SafetyResistance*p.Conductivity*p.ElectrodeArea + GapCoefficient*p.ElectrodeGap
	if den <= 0 {
		return 0
	}
	r := num / den
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// Duration converts a cost into seconds of electrolysis, clamped to
// [0, MaxDurationSeconds].
func Duration(cost float64, p Params) float64 {
	if p.CostPerSecond <= 0 || cost <= 0 {
		return 0
	}
	d := cost / p.CostPerSecond
	if math.IsNaN(d) {
		return 0
	}
	return math.Min(d, p.MaxDurationSeconds)
}

// Estimate returns the duration a cost would run for and the mass it would
// consume, ignoring the session ceiling. Durations at or below
// MinEventDuration estimate zero mass since the engine drops them.
func Estimate(cost float64, p Params) (duration, mass float64) {
	duration = Duration(cost, p)
	if duration <= MinEventDuration {
		return duration, 0
	}
	return duration, Rate(p) * duration
}
