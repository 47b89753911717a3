// Package tui renders the water meter as plain terminal text, for terminals
// or pipes where the full-screen meter is unwanted.
package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/san-kum/aiwater/internal/observe"
)

const (
	barWidth    = 40
	clearScreen = "\033[2J\033[H"
	hideCursor  = "\033[?25l"
	showCursor  = "\033[?25h"
)

// LiveRenderer redraws a small status panel at most frameRate times a
// second. In line mode it prints one line per change instead, with no
// escape sequences.
type LiveRenderer struct {
	w         io.Writer
	frameRate int
	lineMode  bool
	ceiling   float64
	lastFrame time.Time
	lastLine  string
}

func NewLiveRenderer(w io.Writer, frameRate int, lineMode bool) *LiveRenderer {
	if frameRate <= 0 {
		frameRate = 10
	}
	return &LiveRenderer{w: w, frameRate: frameRate, lineMode: lineMode}
}

// SetCeiling scales the bar; zero hides it.
func (r *LiveRenderer) SetCeiling(grams float64) { r.ceiling = grams }

func (r *LiveRenderer) Render(v observe.View, now time.Time) {
	if r.lineMode {
		line := Line(v)
		if line != r.lastLine {
			fmt.Fprintln(r.w, now.Format("15:04:05.000")+" "+line)
			r.lastLine = line
		}
		return
	}

	if now.Sub(r.lastFrame) < time.Second/time.Duration(r.frameRate) {
		return
	}
	r.lastFrame = now

	var b strings.Builder
	b.WriteString(clearScreen)
	b.WriteString("  aiwater  " + now.Format("15:04:05") + "\n")
	b.WriteString("  " + strings.Repeat("-", barWidth+2) + "\n")
	if r.ceiling > 0 {
		b.WriteString("  [" + bar(v.Displayed/r.ceiling) + "]\n")
	}
	b.WriteString("  " + Line(v) + "\n")
	b.WriteString("  " + strings.Repeat("-", barWidth+2) + "\n")
	fmt.Fprint(r.w, b.String())
}

// Line is the one-line summary of a view.
func Line(v observe.View) string {
	state := "idle"
	if v.Active {
		state = "active"
	}
	line := fmt.Sprintf("session=%s water=%s state=%s cost=%.6f events=%d",
		v.SessionID, observe.FormatMicrograms(v.Displayed), state, v.TotalCost, v.Events)
	if v.Err != nil {
		line += " (stale: " + v.Err.Error() + ")"
	}
	return line
}

func bar(frac float64) string {
	n := int(frac * barWidth)
	if n < 0 {
		n = 0
	}
	if n > barWidth {
		n = barWidth
	}
	return strings.Repeat("#", n) + strings.Repeat(".", barWidth-n)
}

func (r *LiveRenderer) Start() {
	if !r.lineMode {
		fmt.Fprint(r.w, hideCursor)
	}
}

func (r *LiveRenderer) Stop() {
	if !r.lineMode {
		fmt.Fprint(r.w, showCursor)
	}
}
