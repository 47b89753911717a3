package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/aiwater/internal/api"
	"github.com/san-kum/aiwater/internal/client"
	"github.com/san-kum/aiwater/internal/config"
	"github.com/san-kum/aiwater/internal/dynamo"
	"github.com/san-kum/aiwater/internal/logging"
	"github.com/san-kum/aiwater/internal/metrics"
	"github.com/san-kum/aiwater/internal/observe"
	"github.com/san-kum/aiwater/internal/sim"
	"github.com/san-kum/aiwater/internal/storage"
	"github.com/san-kum/aiwater/internal/stream"
	"github.com/san-kum/aiwater/internal/tui"
	"github.com/san-kum/aiwater/internal/viz"
)

const observerBuffer = 256

// runtime is an engine together with the ledger recording it.
type runtime struct {
	engine   *sim.Engine
	store    *storage.Store
	recorder *storage.Recorder
}

func newRuntime(cfg *config.Config, log *slog.Logger) (*runtime, error) {
	engine, err := sim.New(cfg.Electrolysis, sim.WithLogger(logging.Component(log, "engine")))
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	rec := storage.NewRecorder(store, observerBuffer, logging.Component(log, "storage"))
	engine.AddObserver(rec)
	return &runtime{engine: engine, store: store, recorder: rec}, nil
}

// start runs the tick loop and the recorder in g.
func (rt *runtime) start(ctx context.Context, g *errgroup.Group, tick time.Duration) {
	g.Go(func() error { return rt.recorder.Run(ctx) })
	g.Go(func() error { return rt.engine.Run(ctx, tick) })
}

func (rt *runtime) close(log *slog.Logger) {
	if n := rt.recorder.Dropped(); n > 0 {
		log.Warn("ledger dropped events", "count", n)
	}
	if err := rt.store.Close(); err != nil {
		log.Error("close ledger", "err", err)
	}
}

// paramsSaver writes updated parameters back to the config file. Only the
// electrolysis section changes; the rest of the file is kept as written,
// without environment overrides.
type paramsSaver struct {
	mu   sync.Mutex
	path string
}

// newParamsSaver returns nil unless the server was started from an existing
// config file; settings changes are then kept in memory only.
func newParamsSaver(path string, fromFile bool) *paramsSaver {
	if !fromFile {
		return nil
	}
	return &paramsSaver{path: path}
}

// save never creates the file: if it has gone away since startup the
// update is reported as a persist failure.
func (s *paramsSaver) save(p dynamo.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := config.Load(s.path)
	if err != nil {
		return err
	}
	cfg.Electrolysis = p
	return config.Save(s.path, cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	rt, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}
	defer rt.close(log)

	m := metrics.New(rt.engine)
	rt.engine.AddObserver(m)

	g, ctx := errgroup.WithContext(cmd.Context())
	rt.start(ctx, g, cfg.Engine.TickInterval)

	if cfg.Kafka.Enabled {
		kafkaLog := logging.Component(log, "kafka")
		if cfg.Kafka.EventTopic != "" {
			pub := stream.NewPublisher(stream.NewWriter(cfg.Kafka), observerBuffer, kafkaLog)
			rt.engine.AddObserver(pub)
			g.Go(func() error { return pub.Run(ctx) })
		}
		if cfg.Kafka.CostTopic != "" {
			consumer := stream.NewConsumer(stream.NewReader(cfg.Kafka), rt.engine, kafkaLog)
			g.Go(func() error { return consumer.Run(ctx) })
		}
		kafkaLog.Info("kafka enabled", "brokers", cfg.Kafka.Brokers,
			"costTopic", cfg.Kafka.CostTopic, "eventTopic", cfg.Kafka.EventTopic)
	}

	opts := []api.Option{
		api.WithHistory(rt.store),
		api.WithMetrics(m),
		api.WithLogger(logging.Component(log, "api")),
	}
	if saver := newParamsSaver(configFile, configFromFile); saver != nil {
		opts = append(opts, api.OnSettingsSaved(saver.save))
	} else {
		log.Info("no config file, settings changes will not be persisted", "path", configFile)
	}
	srv := api.NewServer(rt.engine, opts...)
	g.Go(func() error { return srv.Run(ctx, cfg.Server) })

	log.Info("aiwater serving", "addr", cfg.Server.Addr, "rate", dynamo.Rate(cfg.Electrolysis),
		"ledger", cfg.Store.Path)
	return g.Wait()
}

// runLive runs an engine in-process and drives it from the meter. Logs go
// to a file in the ledger directory so they do not tear the screen.
func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logFile, err := openLogFile(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer logFile.Close()
	log := logging.NewLogger(cfg.Logging.Level, logFile)

	rt, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}
	defer rt.close(log)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	rt.start(ctx, g, cfg.Engine.TickInterval)

	tracker := observe.NewTracker(observe.DefaultHistory, observe.DefaultSmoothing)
	poller := observe.NewPoller(observe.EngineSource{Engine: rt.engine}, tracker, cfg.Observer.PollInterval,
		logging.Component(log, "observe"))
	model := viz.NewModel(ctx, poller, viz.LocalController{Engine: rt.engine}, cfg.Observer.PollInterval).
		WithCost(cost).
		WithTheme(themeName)

	_, uiErr := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return uiErr
	}
	return nil
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "live.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl := client.New(cfg.Observer.URL)
	tracker := observe.NewTracker(observe.DefaultHistory, observe.DefaultSmoothing)

	if plain {
		log := newLogger(cfg)
		poller := observe.NewPoller(cl, tracker, cfg.Observer.PollInterval, logging.Component(log, "observe"))
		return watchPlain(cmd.Context(), poller, cfg)
	}

	poller := observe.NewPoller(cl, tracker, cfg.Observer.PollInterval, nil)
	model := viz.NewModel(cmd.Context(), poller, viz.RemoteController{Client: cl}, cfg.Observer.PollInterval).
		WithCost(cost).
		WithTheme(themeName)
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// watchPlain prints the meter without taking over the terminal. A
// non-terminal stdout gets one line per change.
func watchPlain(ctx context.Context, poller *observe.Poller, cfg *config.Config) error {
	lineMode := true
	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		lineMode = false
	}
	r := tui.NewLiveRenderer(os.Stdout, frameRate, lineMode)
	r.SetCeiling(cfg.Electrolysis.MaxWaterPerSession)
	r.Start()
	defer r.Stop()

	go poller.Run(ctx)

	fps := frameRate
	if fps <= 0 {
		fps = 10
	}
	t := time.NewTicker(time.Second / time.Duration(fps))
	defer t.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			poller.Tracker().Advance(now.Sub(last))
			last = now
			r.Render(poller.Tracker().View(), now)
		}
	}
}
