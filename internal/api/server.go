// Package api serves the engine over HTTP: cost submission, status polling,
// session reset, settings and the session ledger.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/san-kum/aiwater/internal/config"
	"github.com/san-kum/aiwater/internal/dynamo"
	"github.com/san-kum/aiwater/internal/metrics"
	"github.com/san-kum/aiwater/internal/storage"
)

// Engine is the part of sim.Engine the server drives.
type Engine interface {
	SubmitCost(cost float64) error
	Status() dynamo.Status
	Reset()
	Params() dynamo.Params
	SetParams(p dynamo.Params) error
	UpdateParams(fn func(p *dynamo.Params) error) (dynamo.Params, error)
}

// History is the read side of the session ledger.
type History interface {
	List(ctx context.Context) ([]storage.SessionMetadata, error)
	LoadEvents(ctx context.Context, sessionID string) ([]dynamo.Event, error)
}

type Server struct {
	engine          Engine
	history         History
	metrics         *metrics.Metrics
	logger          *slog.Logger
	onSettingsSaved func(dynamo.Params) error
	router          *mux.Router
}

type Option func(*Server)

func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// OnSettingsSaved is called after a successful settings update, typically to
// write the new parameters back to the config file.
func OnSettingsSaved(fn func(dynamo.Params) error) Option {
	return func(s *Server) { s.onSettingsSaved = fn }
}

func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{engine: engine, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/cost-event", s.handleCostEvent).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/reset-session", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/new-session", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	r.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPost)
	r.HandleFunc("/estimate", s.handleEstimate).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/events", s.handleSessionEvents).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

// Handler wraps the router with panic recovery, CORS for browser observers
// and access logging.
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)
	logged := handlers.CustomLoggingHandler(io.Discard, s.router, func(_ io.Writer, p handlers.LogFormatterParams) {
		s.logger.Debug("http request",
			"method", p.Request.Method, "path", p.URL.Path, "status", p.StatusCode, "size", p.Size,
			"elapsed", time.Since(p.TimeStamp).String())
	})
	return recovery(cors(logged))
}

// Run serves on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

type recoveryLogger struct{ l *slog.Logger }

func (r recoveryLogger) Println(v ...interface{}) {
	r.l.Error("panic recovered", "err", fmt.Sprint(v...))
}
