package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/aiwater/internal/dynamo"
)

// Engine is the electrolysis state machine. It has two states, idle and
// active; SubmitCost admits or preempts an event and Tick advances it.
//
// All state is guarded by one lock. Status and Params take the read side and
// never wait for I/O since none happens under the lock. Observers are called
// under a second lock, taken before the state lock is released, so they see
// transitions in the order they were applied.
type Engine struct {
	mu        sync.RWMutex
	deliver   sync.Mutex
	params    dynamo.Params
	st        state
	sessionID string

	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
	observers []Observer
}

func New(params dynamo.Params, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		params: params,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sessionID = e.newID()
	return e, nil
}

func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// SubmitCost converts cost into an electrolysis event. An event already in
// flight is abandoned and its progress folded into the new baseline.
// Events of MinEventDuration or less are dropped without touching state.
func (e *Engine) SubmitCost(cost float64) error {
	if math.IsNaN(cost) || math.IsInf(cost, 0) || cost <= 0 {
		return fmt.Errorf("%w: cost must be a positive finite number, got %g", dynamo.ErrInvalidInput, cost)
	}

	e.mu.Lock()
	if math.IsInf(e.st.totalCost+cost, 0) {
		total := e.st.totalCost
		e.mu.Unlock()
		return fmt.Errorf("%w: cost %g would overflow the session total %g", dynamo.ErrInvalidInput, cost, total)
	}
	now := e.now()
	p := e.params
	duration := dynamo.Duration(cost, p)
	nowMass := e.massAt(now)

	if duration <= dynamo.MinEventDuration || nowMass >= p.MaxWaterPerSession {
		ev := dynamo.Event{Kind: dynamo.EventDropped, SessionID: e.sessionID, Time: now, Cost: cost, Duration: duration, Mass: e.st.cumulativeMass}
		e.unlockAndNotify(ev)
		e.logger.Debug("cost event dropped", "cost", cost, "duration", duration, "mass", nowMass)
		return nil
	}

	events := make([]dynamo.Event, 0, 2)
	if e.st.active {
		events = append(events, dynamo.Event{
			Kind:      dynamo.EventPreempted,
			SessionID: e.sessionID,
			Time:      now,
			Duration:  e.st.eventDuration,
			Rate:      e.st.eventRate,
			Baseline:  e.st.baselineMass,
			Mass:      nowMass,
		})
	}

	e.st.baselineMass = nowMass
	e.st.eventStart = now
	e.st.eventDuration = duration
	e.st.eventRate = dynamo.Rate(p)
	e.st.eventCeiling = p.MaxWaterPerSession
	e.st.active = true
	e.st.totalCost += cost
	e.st.events++

	events = append(events, dynamo.Event{
		Kind:      dynamo.EventAdmitted,
		SessionID: e.sessionID,
		Time:      now,
		Cost:      cost,
		Duration:  duration,
		Rate:      e.st.eventRate,
		Baseline:  nowMass,
		Mass:      nowMass,
	})
	e.unlockAndNotify(events...)

	e.logger.Info("electrolysis started",
		"cost", cost, "duration", duration, "rate", events[len(events)-1].Rate, "preempted", len(events) > 1)
	return nil
}

// Tick advances the active event to now. On completion the mass is set from
// the event's exact duration, never from an overshooting elapsed time.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	if !e.st.active {
		e.mu.Unlock()
		return
	}

	elapsed := now.Sub(e.st.eventStart).Seconds()
	done := elapsed >= e.st.eventDuration
	var mass float64
	if done {
		mass = e.st.baselineMass + e.st.eventRate*e.st.eventDuration
	} else {
		mass = e.st.baselineMass + e.st.eventRate*math.Max(elapsed, 0)
	}
	if mass >= e.st.eventCeiling {
		mass = e.st.eventCeiling
		done = true
	}
	if mass > e.st.cumulativeMass {
		e.st.cumulativeMass = mass
	}
	if !done {
		e.mu.Unlock()
		return
	}

	e.st.active = false
	ev := dynamo.Event{
		Kind:      dynamo.EventCompleted,
		SessionID: e.sessionID,
		Time:      now,
		Duration:  e.st.eventDuration,
		Rate:      e.st.eventRate,
		Baseline:  e.st.baselineMass,
		Mass:      e.st.cumulativeMass,
	}
	e.unlockAndNotify(ev)

	e.logger.Info("electrolysis stopped", "mass", ev.Mass, "duration", ev.Duration)
}

// Status returns the most recently computed values.
func (e *Engine) Status() dynamo.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return dynamo.Status{
		CumulativeMass: e.st.cumulativeMass,
		Active:         e.st.active,
		SessionID:      e.sessionID,
		TotalCost:      e.st.totalCost,
		Events:         e.st.events,
	}
}

// Reset zeroes the session and starts a new one under a fresh session ID.
// An active event is cancelled, not completed.
func (e *Engine) Reset() {
	e.mu.Lock()
	prev := e.sessionID
	e.st = state{}
	e.sessionID = e.newID()
	ev := dynamo.Event{Kind: dynamo.EventReset, SessionID: e.sessionID, Time: e.now()}
	e.unlockAndNotify(ev)

	e.logger.Info("session reset", "previous", prev, "session", ev.SessionID)
}

func (e *Engine) Params() dynamo.Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

// SetParams replaces the parameters used for the next admitted event. The
// event in flight keeps the rate it was admitted with.
func (e *Engine) SetParams(p dynamo.Params) error {
	_, err := e.UpdateParams(func(cur *dynamo.Params) error {
		*cur = p
		return nil
	})
	return err
}

// UpdateParams applies fn to a copy of the current parameters under the
// engine lock and installs the result if it validates. Concurrent updates
// of different fields therefore all survive. fn must not call the engine.
func (e *Engine) UpdateParams(fn func(p *dynamo.Params) error) (dynamo.Params, error) {
	e.mu.Lock()
	p := e.params
	if err := fn(&p); err != nil {
		e.mu.Unlock()
		return dynamo.Params{}, err
	}
	if err := p.Validate(); err != nil {
		e.mu.Unlock()
		return dynamo.Params{}, err
	}
	e.params = p
	ev := dynamo.Event{Kind: dynamo.EventConfig, SessionID: e.sessionID, Time: e.now(), Rate: dynamo.Rate(p), Mass: e.st.cumulativeMass}
	e.unlockAndNotify(ev)

	e.logger.Info("parameters updated", "rate", ev.Rate)
	return p, nil
}

// Run ticks the engine every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", interval)
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	e.logger.Info("engine started", "tick", interval.String(), "session", e.Status().SessionID)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return nil
		case <-t.C:
			e.Tick(e.now())
		}
	}
}

// massAt is the instantaneous mass at now. Callers hold e.mu.
func (e *Engine) massAt(now time.Time) float64 {
	if !e.st.active {
		return e.st.cumulativeMass
	}
	elapsed := math.Min(math.Max(now.Sub(e.st.eventStart).Seconds(), 0), e.st.eventDuration)
	m := math.Min(e.st.baselineMass+e.st.eventRate*elapsed, e.st.eventCeiling)
	return math.Max(m, e.st.cumulativeMass)
}

// unlockAndNotify releases e.mu and delivers events. The delivery lock is
// taken first, so a later transition cannot overtake this one.
func (e *Engine) unlockAndNotify(events ...dynamo.Event) {
	e.deliver.Lock()
	obs := e.observers
	e.mu.Unlock()
	defer e.deliver.Unlock()
	notify(obs, events...)
}

func notify(obs []Observer, events ...dynamo.Event) {
	for _, ev := range events {
		for _, o := range obs {
			o.OnEvent(ev)
		}
	}
}
