package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/aiwater/internal/automation"
	"github.com/san-kum/aiwater/internal/client"
	"github.com/san-kum/aiwater/internal/logging"
	"github.com/san-kum/aiwater/internal/observe"
	"github.com/san-kum/aiwater/internal/viz"
)

var (
	sweepSteps int
	trials     int
	mcEvents   int
	meanGap    time.Duration
	minCost    float64
	maxCost    float64
	seed       int64
)

func automationCommands() []*cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay [scenario.yaml]",
		Short: "replay a scripted cost sequence against a running engine",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep [param] [min] [max]",
		Short: "estimate a cost across a parameter range",
		Args:  cobra.ExactArgs(3),
		RunE:  runSweep,
	}
	sweepCmd.Flags().IntVar(&sweepSteps, "steps", 10, "number of values")
	sweepCmd.Flags().Float64Var(&cost, "cost", viz.DefaultCost, "cost to estimate")
	sweepCmd.Flags().StringVar(&preset, "preset", "", "base parameters from a preset")

	mcCmd := &cobra.Command{
		Use:   "montecarlo",
		Short: "replay random workloads on a virtual clock",
		Args:  cobra.NoArgs,
		RunE:  runMonteCarlo,
	}
	mcCmd.Flags().IntVar(&trials, "trials", 20, "number of trials")
	mcCmd.Flags().IntVar(&mcEvents, "events", 100, "cost events per trial")
	mcCmd.Flags().DurationVar(&meanGap, "gap", 5*time.Second, "mean time between events")
	mcCmd.Flags().Float64Var(&minCost, "min-cost", 0.00001, "smallest cost")
	mcCmd.Flags().Float64Var(&maxCost, "max-cost", 0.001, "largest cost")
	mcCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 picks one)")
	mcCmd.Flags().StringVar(&preset, "preset", "", "parameters from a preset")

	return []*cobra.Command{replayCmd, sweepCmd, mcCmd}
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	log := logging.Component(newLogger(cfg), "replay")
	target := viz.RemoteController{Client: client.New(cfg.Observer.URL)}

	res, err := automation.RunScenario(cmd.Context(), sc, target, log)
	fmt.Printf("submitted %d costs, %d resets in %s\n", res.Submitted, res.Resets, res.Elapsed.Round(time.Millisecond))
	return err
}

func runSweep(cmd *cobra.Command, args []string) error {
	lo, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid min %q: %w", args[1], err)
	}
	hi, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid max %q: %w", args[2], err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	results, err := automation.RunSweep(&automation.ParameterSweep{
		Base:      cfg.Electrolysis,
		ParamName: args[0],
		ParamMin:  lo,
		ParamMax:  hi,
		NumSteps:  sweepSteps,
		Cost:      cost,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tRATE (g/s)\tDURATION\tWATER\n", args[0])
	for _, r := range results {
		fmt.Fprintf(w, "%g\t%.4e\t%.3fs\t%s\n", r.ParamValue, r.Rate, r.Duration, observe.FormatMicrograms(r.Mass))
	}
	return w.Flush()
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	results, err := automation.RunMonteCarlo(cmd.Context(), &automation.MonteCarloConfig{
		Params:    cfg.Electrolysis,
		NumTrials: trials,
		Events:    mcEvents,
		MeanGap:   meanGap,
		MinCost:   minCost,
		MaxCost:   maxCost,
		Tick:      cfg.Engine.TickInterval,
		Seed:      seed,
	})
	if err != nil {
		return err
	}

	var admitted, dropped, preempted int
	for _, r := range results {
		admitted += r.Admitted
		dropped += r.Dropped
		preempted += r.Preempted
	}
	mean, lo, hi := automation.MonteCarloStats(results)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "trials\t%d\n", len(results))
	fmt.Fprintf(w, "admitted\t%d\n", admitted)
	fmt.Fprintf(w, "preempted\t%d\n", preempted)
	fmt.Fprintf(w, "dropped\t%d\n", dropped)
	fmt.Fprintf(w, "water mean\t%s\n", observe.FormatMicrograms(mean))
	fmt.Fprintf(w, "water range\t%s .. %s\n", observe.FormatMicrograms(lo), observe.FormatMicrograms(hi))
	return w.Flush()
}
