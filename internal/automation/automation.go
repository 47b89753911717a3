// Package automation drives engines from scripts and explores parameter
// space offline.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/aiwater/internal/dynamo"
	"github.com/san-kum/aiwater/internal/sim"
)

// Target is anything a scenario can drive: an in-process engine or a
// remote one.
type Target interface {
	SubmitCost(ctx context.Context, cost float64) error
	Reset(ctx context.Context) error
	Params(ctx context.Context) (dynamo.Params, error)
	SetParams(ctx context.Context, p dynamo.Params) error
}

// Scenario is a scripted sequence of cost events.
type Scenario struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Params      map[string]float64 `yaml:"params"`
	Steps       []ScenarioStep     `yaml:"steps"`
}

// ScenarioStep waits, then applies its parameters, resets if asked and
// submits its cost Repeat times.
type ScenarioStep struct {
	Wait   time.Duration      `yaml:"wait"`
	Cost   float64            `yaml:"cost"`
	Repeat int                `yaml:"repeat"`
	Reset  bool               `yaml:"reset"`
	Params map[string]float64 `yaml:"params"`
}

type ScenarioResult struct {
	Submitted int
	Resets    int
	Elapsed   time.Duration
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, step := range scenario.Steps {
		if step.Cost < 0 || step.Wait < 0 || step.Repeat < 0 {
			return nil, fmt.Errorf("%w: step %d has a negative field", dynamo.ErrInvalidInput, i+1)
		}
	}
	return &scenario, nil
}

// RunScenario replays a scenario against target, stopping at the first
// failed step or when ctx is done.
func RunScenario(ctx context.Context, scenario *Scenario, target Target, log *slog.Logger) (ScenarioResult, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	var res ScenarioResult
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	if len(scenario.Params) > 0 {
		if err := applyParams(ctx, target, scenario.Params); err != nil {
			return res, fmt.Errorf("scenario params: %w", err)
		}
	}

	for i, step := range scenario.Steps {
		if err := sleep(ctx, step.Wait); err != nil {
			return res, err
		}
		if len(step.Params) > 0 {
			if err := applyParams(ctx, target, step.Params); err != nil {
				return res, fmt.Errorf("step %d: %w", i+1, err)
			}
		}
		if step.Reset {
			if err := target.Reset(ctx); err != nil {
				return res, fmt.Errorf("step %d reset: %w", i+1, err)
			}
			res.Resets++
		}
		if step.Cost == 0 {
			continue
		}
		n := max(step.Repeat, 1)
		for j := 0; j < n; j++ {
			if err := target.SubmitCost(ctx, step.Cost); err != nil {
				return res, fmt.Errorf("step %d submit: %w", i+1, err)
			}
			res.Submitted++
		}
		log.Debug("scenario step", "step", i+1, "cost", step.Cost, "repeat", n)
	}
	log.Info("scenario finished", "name", scenario.Name, "submitted", res.Submitted, "resets", res.Resets)
	return res, nil
}

func applyParams(ctx context.Context, target Target, values map[string]float64) error {
	p, err := target.Params(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := p.Set(k, values[k]); err != nil {
			return err
		}
	}
	return target.SetParams(ctx, p)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ParameterSweep varies one parameter linearly and estimates a fixed cost
// at each value.
type ParameterSweep struct {
	Base      dynamo.Params
	ParamName string
	ParamMin  float64
	ParamMax  float64
	NumSteps  int
	Cost      float64
}

type SweepResult struct {
	ParamValue float64
	Rate       float64
	Duration   float64
	Mass       float64
}

func RunSweep(sweep *ParameterSweep) ([]SweepResult, error) {
	if sweep.NumSteps < 2 {
		return nil, fmt.Errorf("%w: sweep needs at least 2 steps", dynamo.ErrInvalidInput)
	}
	if sweep.Cost <= 0 {
		return nil, fmt.Errorf("%w: sweep cost must be positive", dynamo.ErrInvalidInput)
	}
	if _, ok := sweep.Base.Get(sweep.ParamName); !ok {
		return nil, fmt.Errorf("%w: unknown parameter %q", dynamo.ErrInvalidConfiguration, sweep.ParamName)
	}

	results := make([]SweepResult, 0, sweep.NumSteps)
	paramStep := (sweep.ParamMax - sweep.ParamMin) / float64(sweep.NumSteps-1)

	for i := 0; i < sweep.NumSteps; i++ {
		val := sweep.ParamMin + float64(i)*paramStep
		p := sweep.Base
		_ = p.Set(sweep.ParamName, val)
		if err := p.Validate(); err != nil {
			return results, err
		}
		d, m := dynamo.Estimate(sweep.Cost, p)
		results = append(results, SweepResult{ParamValue: val, Rate: dynamo.Rate(p), Duration: d, Mass: m})
	}
	return results, nil
}

// MonteCarloConfig describes a random workload replayed on a virtual clock.
// Inter-arrival gaps are exponential with mean MeanGap; costs are uniform in
// [MinCost, MaxCost).
type MonteCarloConfig struct {
	Params    dynamo.Params
	NumTrials int
	Events    int
	MeanGap   time.Duration
	MinCost   float64
	MaxCost   float64
	Tick      time.Duration
	Seed      int64
}

type MonteCarloResult struct {
	TrialID   int
	Mass      float64
	TotalCost float64
	Admitted  int
	Dropped   int
	Preempted int
}

// RunMonteCarlo runs each trial through a real engine on a virtual clock,
// so a day of traffic takes milliseconds.
func RunMonteCarlo(ctx context.Context, cfg *MonteCarloConfig) ([]MonteCarloResult, error) {
	if cfg.NumTrials <= 0 || cfg.Events <= 0 {
		return nil, fmt.Errorf("%w: trials and events must be positive", dynamo.ErrInvalidInput)
	}
	if cfg.MinCost <= 0 || cfg.MaxCost < cfg.MinCost || cfg.MeanGap <= 0 {
		return nil, fmt.Errorf("%w: bad cost range or gap", dynamo.ErrInvalidInput)
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	results := make([]MonteCarloResult, 0, cfg.NumTrials)
	for trial := 0; trial < cfg.NumTrials; trial++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		now := time.Unix(0, 0).UTC()
		res := MonteCarloResult{TrialID: trial}
		counter := sim.ObserverFunc(func(ev dynamo.Event) {
			switch ev.Kind {
			case dynamo.EventAdmitted:
				res.Admitted++
			case dynamo.EventDropped:
				res.Dropped++
			case dynamo.EventPreempted:
				res.Preempted++
			}
		})
		eng, err := sim.New(cfg.Params, sim.WithClock(func() time.Time { return now }), sim.WithObserver(counter))
		if err != nil {
			return nil, err
		}

		for i := 0; i < cfg.Events; i++ {
			gap := time.Duration(rng.ExpFloat64() * float64(cfg.MeanGap))
			for end := now.Add(gap); now.Before(end); {
				now = minTime(now.Add(tick), end)
				eng.Tick(now)
			}
			c := cfg.MinCost + rng.Float64()*(cfg.MaxCost-cfg.MinCost)
			if err := eng.SubmitCost(c); err != nil {
				return nil, err
			}
		}
		// drain the last event
		for eng.Status().Active {
			now = now.Add(tick)
			eng.Tick(now)
		}

		st := eng.Status()
		res.Mass, res.TotalCost = st.CumulativeMass, st.TotalCost
		results = append(results, res)
	}
	return results, nil
}

// MonteCarloStats summarises the final masses.
func MonteCarloStats(results []MonteCarloResult) (mean, minMass, maxMass float64) {
	if len(results) == 0 {
		return 0, 0, 0
	}
	minMass, maxMass = results[0].Mass, results[0].Mass
	for _, r := range results {
		mean += r.Mass
		minMass = min(minMass, r.Mass)
		maxMass = max(maxMass, r.Mass)
	}
	return mean / float64(len(results)), minMass, maxMass
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
