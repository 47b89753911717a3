package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/aiwater/internal/client"
	"github.com/san-kum/aiwater/internal/config"
	"github.com/san-kum/aiwater/internal/dynamo"
	"github.com/san-kum/aiwater/internal/export"
	"github.com/san-kum/aiwater/internal/logging"
	"github.com/san-kum/aiwater/internal/observe"
	"github.com/san-kum/aiwater/internal/storage"
	"github.com/san-kum/aiwater/internal/viz"
)

var (
	configFile string
	serverURL  string
	logLevel   string
	storeDir   string
	preset     string
	cost       float64
	plain      bool
	frameRate  int
	themeName  string
	svgWidth   int
	svgHeight  int
	outPath    string

	// configFromFile records whether loadConfig found configFile on disk.
	configFromFile bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "aiwater",
		Short:         "electrolysis meter for AI inference cost",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "engine base URL (defaults to observer.url)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&storeDir, "data", "", "ledger directory (defaults to store.path)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the engine behind the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&preset, "preset", "", "start from a named preset")

	submitCmd := &cobra.Command{
		Use:   "submit [cost]",
		Short: "submit a cost event",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "show engine status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "start a new session",
		Args:  cobra.NoArgs,
		RunE:  runReset,
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "watch a running engine",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	watchCmd.Flags().BoolVar(&plain, "plain", false, "print one line per change instead of the full-screen meter")
	watchCmd.Flags().IntVar(&frameRate, "fps", 10, "frame rate of the plain renderer")
	watchCmd.Flags().StringVar(&themeName, "theme", "lab", "color theme")
	watchCmd.Flags().Float64Var(&cost, "cost", viz.DefaultCost, "cost submitted by the c key")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run an engine in-process with the meter",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	liveCmd.Flags().StringVar(&preset, "preset", "", "start from a named preset")
	liveCmd.Flags().StringVar(&themeName, "theme", "lab", "color theme")
	liveCmd.Flags().Float64Var(&cost, "cost", viz.DefaultCost, "cost submitted by the c key")

	estimateCmd := &cobra.Command{
		Use:   "estimate [cost]",
		Short: "show duration and water for a cost",
		Args:  cobra.ExactArgs(1),
		RunE:  runEstimate,
	}
	estimateCmd.Flags().StringVar(&preset, "preset", "", "estimate with a named preset")

	presetsCmd := &cobra.Command{
		Use:   "presets [name]",
		Short: "list presets or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPresets,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "manage the config file",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "write the default config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "print the effective config",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "list recorded sessions",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [session]",
		Short: "plot a session's mass curve",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlot,
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [session]",
		Short: "export session events to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  runExportCSV,
	}
	exportJSONCmd := &cobra.Command{
		Use:   "export-json [session]",
		Short: "export session to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runExportJSON,
	}
	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [session]",
		Short: "export session mass curve to SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  runExportSVG,
	}
	exportSVGCmd.Flags().IntVar(&svgWidth, "width", 800, "image width")
	exportSVGCmd.Flags().IntVar(&svgHeight, "height", 400, "image height")
	for _, c := range []*cobra.Command{exportCSVCmd, exportJSONCmd, exportSVGCmd} {
		c.Flags().StringVarP(&outPath, "out", "o", "", "output file (defaults to <session>.<ext>)")
	}

	rootCmd.AddCommand(serveCmd, submitCmd, statusCmd, resetCmd, watchCmd, liveCmd,
		estimateCmd, presetsCmd, configCmd, historyCmd, plotCmd,
		exportCSVCmd, exportJSONCmd, exportSVGCmd)
	rootCmd.AddCommand(automationCommands()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective config: file, then environment, then
// flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	configFromFile = err == nil
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if preset != "" {
		p, ok := config.GetPreset(preset)
		if !ok {
			return nil, fmt.Errorf("unknown preset %q (have %v)", preset, config.ListPresets())
		}
		cfg.Electrolysis = p
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if storeDir != "" {
		cfg.Store.Path = storeDir
	}
	if serverURL != "" {
		cfg.Observer.URL = serverURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func remote(cfg *config.Config) *client.Client {
	return client.New(cfg.Observer.URL)
}

func parseCost(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cost %q: %w", s, err)
	}
	return v, nil
}

func printStatus(st dynamo.Status) {
	state := "idle"
	if st.Active {
		state = "active"
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "session\t%s\n", st.SessionID)
	fmt.Fprintf(w, "water\t%s\n", observe.FormatMicrograms(st.CumulativeMass))
	fmt.Fprintf(w, "state\t%s\n", state)
	fmt.Fprintf(w, "cost\t%.6f\n", st.TotalCost)
	fmt.Fprintf(w, "events\t%d\n", st.Events)
	w.Flush()
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c, err := parseCost(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl := remote(cfg)
	if err := cl.SubmitCost(cmd.Context(), c); err != nil {
		return err
	}
	st, err := cl.Status(cmd.Context())
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := remote(cfg).Status(cmd.Context())
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := remote(cfg).Reset(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("new session: %s\n", st.SessionID)
	return nil
}

func runEstimate(cmd *cobra.Command, args []string) error {
	c, err := parseCost(args[0])
	if err != nil {
		return err
	}
	if c <= 0 {
		return fmt.Errorf("%w: cost must be positive", dynamo.ErrInvalidInput)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return writeEstimate(os.Stdout, c, cfg.Electrolysis)
}

func writeEstimate(out io.Writer, c float64, p dynamo.Params) error {
	d, m := dynamo.Estimate(c, p)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "cost\t%.6f\n", c)
	fmt.Fprintf(w, "rate\t%.4e g/s\n", dynamo.Rate(p))
	fmt.Fprintf(w, "duration\t%.3fs\n", d)
	fmt.Fprintf(w, "water\t%s\n", observe.FormatMicrograms(m))
	if d <= dynamo.MinEventDuration {
		fmt.Fprintf(w, "note\tat or below %.1fs, the event would be dropped\n", dynamo.MinEventDuration)
	}
	return w.Flush()
}

func runPresets(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		p, ok := config.GetPreset(args[0])
		if !ok {
			return fmt.Errorf("unknown preset %q (have %v)", args[0], config.ListPresets())
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, name := range dynamo.ParamNames() {
			v, _ := p.Get(name)
			fmt.Fprintf(w, "%s\t%g\n", name, v)
		}
		fmt.Fprintf(w, "rate\t%.4e g/s\n", dynamo.Rate(p))
		return w.Flush()
	}

	fmt.Println("presets:")
	for _, name := range config.ListPresets() {
		p, _ := config.GetPreset(name)
		fmt.Printf("  %-10s %.4e g/s\n", name, dynamo.Rate(p))
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists", configFile)
	}
	if err := config.Save(configFile, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", configFile)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return config.Write(os.Stdout, cfg)
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	store := storage.New(cfg.Store.Path)
	if err := store.Init(); err != nil {
		return nil, err
	}
	return store, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTARTED\tEVENTS\tCOST\tWATER")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.6f\t%s\n",
			s.ID, s.StartedAt.Local().Format(time.DateTime), s.Events, s.TotalCost,
			observe.FormatMicrograms(s.Mass))
	}
	return w.Flush()
}

func loadSession(ctx context.Context, cfg *config.Config, id string) (*storage.SessionMetadata, []dynamo.Event, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	meta, err := store.Load(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("session %s: %w", id, err)
	}
	events, err := store.LoadEvents(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return meta, events, nil
}

func runPlot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	meta, events, err := loadSession(cmd.Context(), cfg, args[0])
	if err != nil {
		return err
	}
	_, mass := storage.MassSeries(events)
	if len(mass) < 2 {
		fmt.Println("not enough events to plot")
		return nil
	}
	ug := make([]float64, len(mass))
	for i, m := range mass {
		ug[i] = observe.Micrograms(m)
	}

	fmt.Printf("session %s: %d events, %s\n\n", meta.ID, meta.Events, observe.FormatMicrograms(meta.Mass))
	fmt.Println(asciigraph.Plot(ug,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("cumulative water (µg)"),
	))
	return nil
}

func outputPath(id, ext string) string {
	if outPath != "" {
		return outPath
	}
	return id + "." + ext
}

func runExportCSV(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, events, err := loadSession(cmd.Context(), cfg, args[0])
	if err != nil {
		return err
	}
	path := outputPath(args[0], "csv")
	if err := storage.ExportCSV(path, events); err != nil {
		return err
	}
	fmt.Printf("exported %d events to %s\n", len(events), path)
	return nil
}

func runExportJSON(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	meta, events, err := loadSession(cmd.Context(), cfg, args[0])
	if err != nil {
		return err
	}
	path := outputPath(args[0], "json")
	if err := storage.ExportJSON(path, *meta, events); err != nil {
		return err
	}
	fmt.Printf("exported session to %s\n", path)
	return nil
}

func runExportSVG(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, events, err := loadSession(cmd.Context(), cfg, args[0])
	if err != nil {
		return err
	}
	times, mass := storage.MassSeries(events)
	svg := export.MassCurveSVG(times, mass, svgWidth, svgHeight, "#4fc3f7")
	if svg == "" {
		return fmt.Errorf("session %s has fewer than two samples", args[0])
	}
	path := outputPath(args[0], "svg")
	if err := os.WriteFile(path, []byte(svg), 0644); err != nil {
		return err
	}
	fmt.Printf("exported mass curve to %s\n", path)
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, os.Stderr)
}
