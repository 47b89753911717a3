package dynamo

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Params are the physical and economic parameters of one electrolysis cell.
type Params struct {
	Voltage            float64 `yaml:"voltage" json:"voltage"`
	ThresholdVoltage   float64 `yaml:"threshold_voltage" json:"thresholdVoltage"`
	Conductivity       float64 `yaml:"conductivity" json:"conductivity"`
	ElectrodeArea      float64 `yaml:"electrode_area" json:"electrodeArea"`
	ElectrodeGap       float64 `yaml:"electrode_gap" json:"electrodeGap"`
	SafetyResistance   float64 `yaml:"safety_resistance" json:"safetyResistance"`
	CostPerSecond      float64 `yaml:"cost_per_second" json:"costPerSecond"`
	MaxDurationSeconds float64 `yaml:"max_duration_seconds" json:"maxDurationSeconds"`
	MaxWaterPerSession float64 `yaml:"max_water_per_session" json:"maxWaterPerSession"`
}

// DefaultParams returns the parameters of the reference cell.
func DefaultParams() Params {
	return Params{
		Voltage:            5.0,
		ThresholdVoltage:   2.0,
		Conductivity:       1.0,
		ElectrodeArea:      10.0,
		ElectrodeGap:       2.0,
		SafetyResistance:   10.0,
		CostPerSecond:      0.00005,
		MaxDurationSeconds: 300.0,
		MaxWaterPerSession: 100.0,
	}
}

// Validate reports the first parameter that is not a positive finite number.
// A voltage at or below the threshold is allowed; it yields an inert cell.
func (p Params) Validate() error {
	for _, name := range ParamNames() {
		v, _ := p.Get(name)
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return &ParamError{Name: name, Value: v}
		}
	}
	return nil
}

var paramFields = map[string]func(p *Params) *float64{
	"voltage":               func(p *Params) *float64 { return &p.Voltage },
	"threshold_voltage":     func(p *Params) *float64 { return &p.ThresholdVoltage },
	"conductivity":          func(p *Params) *float64 { return &p.Conductivity },
	"electrode_area":        func(p *Params) *float64 { return &p.ElectrodeArea },
	"electrode_gap":         func(p *Params) *float64 { return &p.ElectrodeGap },
	"safety_resistance":     func(p *Params) *float64 { return &p.SafetyResistance },
	"cost_per_second":       func(p *Params) *float64 { return &p.CostPerSecond },
	"max_duration_seconds":  func(p *Params) *float64 { return &p.MaxDurationSeconds },
	"max_water_per_session": func(p *Params) *float64 { return &p.MaxWaterPerSession },
}

// ParamNames lists the tunable parameter names in a stable order.
func ParamNames() []string {
	names := make([]string, 0, len(paramFields))
	for k := range paramFields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (p Params) Get(name string) (float64, bool) {
	f, ok := paramFields[name]
	if !ok {
		return 0, false
	}
	return *f(&p), true
}

// Set assigns a parameter by name without validating the new value.
func (p *Params) Set(name string, value float64) error {
	f, ok := paramFields[name]
	if !ok {
		return fmt.Errorf("%w: unknown parameter %q", ErrInvalidConfiguration, name)
	}
	*f(p) = value
	return nil
}

// Status is a read-only snapshot of the engine.
type Status struct {
	CumulativeMass float64 `json:"cumulativeMass"`
	Active         bool    `json:"active"`
	SessionID      string  `json:"sessionId"`
	TotalCost      float64 `json:"totalCost"`
	Events         int     `json:"events"`
}

type EventKind string

const (
	EventAdmitted  EventKind = "admitted"
	EventPreempted EventKind = "preempted"
	EventDropped   EventKind = "dropped"
	EventCompleted EventKind = "completed"
	EventReset     EventKind = "reset"
	EventConfig    EventKind = "config"
)

// Event describes one engine transition. Mass is the cumulative mass at the
// moment of the transition; Baseline, Rate and Duration describe the event
// that was admitted, preempted or completed.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	Time      time.Time `json:"time"`
	Cost      float64   `json:"cost,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	Rate      float64   `json:"rate,omitempty"`
	Baseline  float64   `json:"baseline,omitempty"`
	Mass      float64   `json:"mass"`
}
