package sim

import (
	"log/slog"
	"time"

	"github.com/san-kum/aiwater/internal/dynamo"
)

// Observer receives engine transitions in the order they were applied.
// OnEvent is called outside the state lock but must not block or call back
// into the engine.
type Observer interface {
	OnEvent(ev dynamo.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev dynamo.Event)

func (f ObserverFunc) OnEvent(ev dynamo.Event) { f(ev) }

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSessionIDs replaces the session ID generator.
func WithSessionIDs(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// state is the mutable part of the engine. The zero value is a fresh session.
type state struct {
	cumulativeMass float64
	baselineMass   float64
	active         bool
	eventStart     time.Time
	eventDuration  float64
	eventRate      float64
	eventCeiling   float64
	totalCost      float64
	events         int
}
