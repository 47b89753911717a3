package storage

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/san-kum/aiwater/internal/dynamo"
)

// Recorder is an engine observer that writes events to a Store from its own
// goroutine. OnEvent never blocks: when the buffer is full the event is
// counted as dropped.
type Recorder struct {
	store   *Store
	ch      chan dynamo.Event
	logger  *slog.Logger
	dropped atomic.Int64
}

func NewRecorder(store *Store, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{store: store, ch: make(chan dynamo.Event, buffer), logger: logger}
}

func (r *Recorder) OnEvent(ev dynamo.Event) {
	select {
	case r.ch <- ev:
	default:
		r.dropped.Add(1)
		r.logger.Warn("ledger buffer full, event not recorded", "kind", ev.Kind, "session", ev.SessionID)
	}
}

func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Run writes buffered events until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case ev := <-r.ch:
			r.write(ctx, ev)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case ev := <-r.ch:
			r.write(context.Background(), ev)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, ev dynamo.Event) {
	if err := r.store.Record(ctx, ev); err != nil {
		r.logger.Error("record event", "kind", ev.Kind, "session", ev.SessionID, "err", err)
	}
}
