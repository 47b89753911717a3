package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/san-kum/aiwater/internal/dynamo"
)

const flushTimeout = 5 * time.Second

// Publisher is an engine observer that publishes events as JSON keyed by
// session ID, so one session stays on one partition.
type Publisher struct {
	writer  MessageWriter
	ch      chan dynamo.Event
	log     *slog.Logger
	dropped atomic.Int64
}

func NewPublisher(writer MessageWriter, buffer int, log *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Publisher{
		writer: writer,
		ch:     make(chan dynamo.Event, buffer),
		log:    log.With(slog.String("component", "event-publisher")),
	}
}

func (p *Publisher) OnEvent(ev dynamo.Event) {
	select {
	case p.ch <- ev:
	default:
		p.dropped.Add(1)
		p.log.Warn("publish buffer full, event dropped", "kind", ev.Kind)
	}
}

func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Run publishes until ctx is done, flushes what is buffered and closes the
// writer.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.writer.Close()
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case ev := <-p.ch:
			p.publish(ctx, ev)
		}
	}
}

func (p *Publisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case ev := <-p.ch:
			p.publish(ctx, ev)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev dynamo.Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("encode event", "kind", ev.Kind, "err", err)
		return
	}
	msg := kafka.Message{Key: []byte(ev.SessionID), Value: value, Time: ev.Time}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("publish event", "kind", ev.Kind, "session", ev.SessionID, "err", err)
	}
}
