// Package observe follows an engine's status from the outside, either in
// process or over HTTP, and turns it into a display value that never runs
// backwards within a session.
package observe

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/san-kum/aiwater/internal/dynamo"
)

const (
	DefaultHistory   = 120
	DefaultSmoothing = 250 * time.Millisecond
	// snapEpsilon is well below one displayed microgram.
	snapEpsilon = 1e-12
)

// Micrograms converts grams to the display unit.
func Micrograms(grams float64) float64 { return grams * 1e6 }

func FormatMicrograms(grams float64) string {
	return fmt.Sprintf("%.3f µg", Micrograms(grams))
}

// View is a consistent snapshot of a Tracker.
type View struct {
	SessionID string
	Observed  float64
	Displayed float64
	Active    bool
	TotalCost float64
	Events    int
	Resets    int
	Err       error
	History   []float64
}

// Tracker holds the last observed status and the smoothed display value.
//
// Within a session the observed mass only ever increases: a poll reporting
// less than what was already seen is treated as stale. A changed session ID
// is the only reset signal; a failed poll leaves everything as it was.
type Tracker struct {
	mu        sync.Mutex
	smoothing time.Duration
	histCap   int

	sessionID string
	observed  float64
	displayed float64
	last      dynamo.Status
	resets    int
	err       error
	history   []float64
}

func NewTracker(historySize int, smoothing time.Duration) *Tracker {
	if historySize <= 0 {
		historySize = DefaultHistory
	}
	if smoothing < 0 {
		smoothing = 0
	}
	return &Tracker{histCap: historySize, smoothing: smoothing}
}

// Observe folds in a polled status and reports whether it started a new
// session.
func (t *Tracker) Observe(st dynamo.Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.err = nil
	reset := t.sessionID != "" && st.SessionID != t.sessionID
	switch {
	case t.sessionID == "" || reset:
		t.sessionID = st.SessionID
		t.observed = st.CumulativeMass
		t.displayed = st.CumulativeMass
		t.history = t.history[:0]
		if reset {
			t.resets++
		}
	case st.CumulativeMass > t.observed:
		t.observed = st.CumulativeMass
	}
	t.last = st
	t.record(t.observed)
	return reset
}

// Fail records a poll error. The display keeps its last value.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Advance moves the displayed value toward the observed one by an
// exponential step over dt and returns it. It never overshoots.
func (t *Tracker) Advance(dt time.Duration) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	gap := t.observed - t.displayed
	if gap <= 0 {
		return t.displayed
	}
	if t.smoothing == 0 {
		t.displayed = t.observed
		return t.displayed
	}
	if dt <= 0 {
		return t.displayed
	}
	step := gap * (1 - math.Exp(-float64(dt)/float64(t.smoothing)))
	t.displayed = math.Min(t.displayed+step, t.observed)
	if t.observed-t.displayed < snapEpsilon {
		t.displayed = t.observed
	}
	return t.displayed
}

func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return View{
		SessionID: t.sessionID,
		Observed:  t.observed,
		Displayed: t.displayed,
		Active:    t.last.Active,
		TotalCost: t.last.TotalCost,
		Events:    t.last.Events,
		Resets:    t.resets,
		Err:       t.err,
		History:   append([]float64(nil), t.history...),
	}
}

func (t *Tracker) record(v float64) {
	if len(t.history) == t.histCap {
		copy(t.history, t.history[1:])
		t.history = t.history[:t.histCap-1]
	}
	t.history = append(t.history, v)
}
