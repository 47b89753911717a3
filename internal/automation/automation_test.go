package automation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-kum/aiwater/internal/dynamo"
)

type fakeTarget struct {
	costs  []float64
	resets int
	params dynamo.Params
}

func (f *fakeTarget) SubmitCost(_ context.Context, cost float64) error {
	f.costs = append(f.costs, cost)
	return nil
}

func (f *fakeTarget) Reset(context.Context) error {
	f.resets++
	return nil
}

func (f *fakeTarget) Params(context.Context) (dynamo.Params, error) { return f.params, nil }

func (f *fakeTarget) SetParams(_ context.Context, p dynamo.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	f.params = p
	return nil
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burst.yaml")
	data := `name: burst
params:
  voltage: 6
steps:
  - cost: 0.0005
    repeat: 2
  - wait: 250ms
    reset: true
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sc.Name != "burst" || len(sc.Steps) != 2 {
		t.Fatalf("unexpected scenario: %+v", sc)
	}
	if sc.Steps[1].Wait != 250*time.Millisecond || !sc.Steps[1].Reset {
		t.Errorf("step 2 = %+v", sc.Steps[1])
	}
	if sc.Params["voltage"] != 6 {
		t.Errorf("params = %v", sc.Params)
	}
}

func TestLoadScenarioRejectsNegativeCost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("steps:\n  - cost: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScenario(path); !errors.Is(err, dynamo.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRunScenario(t *testing.T) {
	target := &fakeTarget{params: dynamo.DefaultParams()}
	sc := &Scenario{
		Name:   "mixed",
		Params: map[string]float64{"voltage": 6},
		Steps: []ScenarioStep{
			{Cost: 0.001, Repeat: 3},
			{Reset: true},
			{Wait: time.Millisecond, Cost: 0.002, Params: map[string]float64{"electrode_gap": 1}},
		},
	}

	res, err := RunScenario(context.Background(), sc, target, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Submitted != 4 || res.Resets != 1 {
		t.Errorf("result = %+v", res)
	}
	want := []float64{0.001, 0.001, 0.001, 0.002}
	if len(target.costs) != len(want) {
		t.Fatalf("costs = %v, want %v", target.costs, want)
	}
	for i := range want {
		if target.costs[i] != want[i] {
			t.Errorf("cost[%d] = %g, want %g", i, target.costs[i], want[i])
		}
	}
	if target.params.Voltage != 6 || target.params.ElectrodeGap != 1 {
		t.Errorf("params = %+v", target.params)
	}
}

func TestRunScenarioErrors(t *testing.T) {
	t.Run("unknown parameter", func(t *testing.T) {
		target := &fakeTarget{params: dynamo.DefaultParams()}
		sc := &Scenario{Steps: []ScenarioStep{{Params: map[string]float64{"flux": 1}}}}
		if _, err := RunScenario(context.Background(), sc, target, nil); !errors.Is(err, dynamo.ErrInvalidConfiguration) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		target := &fakeTarget{params: dynamo.DefaultParams()}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sc := &Scenario{Steps: []ScenarioStep{{Wait: time.Hour, Cost: 0.001}}}
		if _, err := RunScenario(ctx, sc, target, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
		if len(target.costs) != 0 {
			t.Errorf("submitted after cancel: %v", target.costs)
		}
	})
}

func TestRunSweep(t *testing.T) {
	results, err := RunSweep(&ParameterSweep{
		Base:      dynamo.DefaultParams(),
		ParamName: "voltage",
		ParamMin:  2,
		ParamMax:  6,
		NumSteps:  5,
		Cost:      0.00005,
	})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("len = %d", len(results))
	}
	if results[0].Rate != 0 || results[0].Mass != 0 {
		t.Errorf("at threshold: %+v", results[0])
	}
	for i := 1; i < len(results); i++ {
		if results[i].Rate <= results[i-1].Rate {
			t.Errorf("rate not increasing at %d: %+v", i, results)
		}
	}
	if got := results[3].Rate; got < 9.3279e-6 || got > 9.3281e-6 {
		t.Errorf("rate at 5V = %g", got)
	}
}

func TestRunSweepInvalid(t *testing.T) {
	tests := []struct {
		name  string
		sweep ParameterSweep
	}{
		{"one step", ParameterSweep{Base: dynamo.DefaultParams(), ParamName: "voltage", NumSteps: 1, Cost: 1}},
		{"unknown param", ParameterSweep{Base: dynamo.DefaultParams(), ParamName: "flux", NumSteps: 3, Cost: 1}},
		{"non-positive value", ParameterSweep{Base: dynamo.DefaultParams(), ParamName: "electrode_gap", ParamMin: -1, ParamMax: 1, NumSteps: 3, Cost: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RunSweep(&tt.sweep); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRunMonteCarlo(t *testing.T) {
	cfg := &MonteCarloConfig{
		Params:    dynamo.DefaultParams(),
		NumTrials: 3,
		Events:    20,
		MeanGap:   2 * time.Second,
		MinCost:   0.00005,
		MaxCost:   0.0005,
		Seed:      7,
	}
	results, err := RunMonteCarlo(context.Background(), cfg)
	if err != nil {
		t.Fatalf("monte carlo: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len = %d", len(results))
	}

	rate := dynamo.Rate(cfg.Params)
	for _, r := range results {
		if r.Admitted != cfg.Events || r.Dropped != 0 {
			t.Errorf("trial %d: admitted=%d dropped=%d", r.TrialID, r.Admitted, r.Dropped)
		}
		// preemption can only shorten the total run time
		upper := rate * r.TotalCost / cfg.Params.CostPerSecond
		if r.Mass <= 0 || r.Mass > upper*(1+1e-9) {
			t.Errorf("trial %d: mass %g outside (0, %g]", r.TrialID, r.Mass, upper)
		}
	}

	again, err := RunMonteCarlo(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := range results {
		if results[i] != again[i] {
			t.Errorf("trial %d not reproducible: %+v vs %+v", i, results[i], again[i])
		}
	}

	mean, lo, hi := MonteCarloStats(results)
	if lo > mean || mean > hi {
		t.Errorf("stats out of order: %g %g %g", lo, mean, hi)
	}
}
