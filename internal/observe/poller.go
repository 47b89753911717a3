package observe

import (
	"context"
	"log/slog"
	"time"

	"github.com/san-kum/aiwater/internal/dynamo"
)

// Source yields the current engine status. *client.Client satisfies it
// over HTTP; EngineSource wraps an in-process engine.
type Source interface {
	Status(ctx context.Context) (dynamo.Status, error)
}

type StatusReader interface {
	Status() dynamo.Status
}

type EngineSource struct{ Engine StatusReader }

func (s EngineSource) Status(context.Context) (dynamo.Status, error) {
	return s.Engine.Status(), nil
}

// Poller samples a Source on its own cadence, independent of the engine
// tick, and feeds a Tracker.
type Poller struct {
	src      Source
	tracker  *Tracker
	interval time.Duration
	log      *slog.Logger
}

func NewPoller(src Source, tracker *Tracker, interval time.Duration, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Poller{src: src, tracker: tracker, interval: interval, log: log}
}

func (p *Poller) Tracker() *Tracker { return p.tracker }

// Poll performs one sample bounded by the poll interval.
func (p *Poller) Poll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	st, err := p.src.Status(ctx)
	if err != nil {
		p.tracker.Fail(err)
		return err
	}
	if p.tracker.Observe(st) {
		p.log.Info("session reset observed", "session", st.SessionID)
	}
	return nil
}

// Run polls immediately and then every interval until ctx is done. Poll
// errors are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.log.Debug("status poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
