package config

import (
	"sort"

	"github.com/san-kum/aiwater/internal/dynamo"
)

// Presets are named electrolysis cells. "firmware" matches the shipped
// defaults.
var Presets = map[string]dynamo.Params{
	"firmware": dynamo.DefaultParams(),
	"bench": {
		Voltage: 12, ThresholdVoltage: 2, Conductivity: 1, ElectrodeArea: 25,
		ElectrodeGap: 1, SafetyResistance: 4.7, CostPerSecond: 0.00005,
		MaxDurationSeconds: 300, MaxWaterPerSession: 100,
	},
	"brine": {
		Voltage: 5, ThresholdVoltage: 2, Conductivity: 8, ElectrodeArea: 10,
		ElectrodeGap: 2, SafetyResistance: 10, CostPerSecond: 0.00005,
		MaxDurationSeconds: 300, MaxWaterPerSession: 100,
	},
	"demo": {
		Voltage: 24, ThresholdVoltage: 2, Conductivity: 5, ElectrodeArea: 50,
		ElectrodeGap: 0.5, SafetyResistance: 1, CostPerSecond: 0.001,
		MaxDurationSeconds: 30, MaxWaterPerSession: 1,
	},
}

func GetPreset(name string) (dynamo.Params, bool) {
	p, ok := Presets[name]
	return p, ok
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
