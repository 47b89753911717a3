package viz

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/aiwater/internal/dynamo"
	"github.com/san-kum/aiwater/internal/observe"
)

const (
	frameInterval = time.Second / 30
	cellWidth     = 22
	cellHeight    = 12
	minCost       = 1e-7

	// DefaultCost is ten seconds of electrolysis at the firmware rate.
	DefaultCost = 0.0005
)

type (
	frameMsg  time.Time
	pollMsg   struct{}
	polledMsg struct{ err error }
	actionMsg struct {
		note string
		err  error
	}
	paramsMsg struct {
		p   dynamo.Params
		err error
	}
)

// Model is the Bubble Tea model of the water meter. Polling and animation
// run on separate timers: polls feed the tracker, frames advance its
// displayed value.
type Model struct {
	ctx      context.Context
	poller   *observe.Poller
	ctrl     Controller
	interval time.Duration

	theme     Theme
	st        styles
	canvas    *Canvas
	frame     int
	lastFrame time.Time

	cost       float64
	params     dynamo.Params
	haveParams bool
	paramKeys  []string
	selected   int
	note       string
	showHelp   bool
}

// NewModel builds a meter. ctrl may be nil for a read-only view.
func NewModel(ctx context.Context, poller *observe.Poller, ctrl Controller, pollInterval time.Duration) Model {
	theme := ThemeLab
	return Model{
		ctx:       ctx,
		poller:    poller,
		ctrl:      ctrl,
		interval:  pollInterval,
		theme:     theme,
		st:        newStyles(theme),
		canvas:    NewCanvas(cellWidth, cellHeight),
		cost:      DefaultCost,
		paramKeys: dynamo.ParamNames(),
	}
}

func (m Model) WithCost(cost float64) Model {
	if cost > 0 {
		m.cost = cost
	}
	return m
}

func (m Model) WithTheme(name string) Model {
	m.theme = GetTheme(name)
	m.st = newStyles(m.theme)
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.pollCmd(), frameTick()}
	if m.ctrl != nil {
		cmds = append(cmds, m.loadParamsCmd())
	}
	return tea.Batch(cmds...)
}

func frameTick() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m Model) pollCmd() tea.Cmd {
	return func() tea.Msg {
		return polledMsg{err: m.poller.Poll(m.ctx)}
	}
}

func (m Model) loadParamsCmd() tea.Cmd {
	return func() tea.Msg {
		p, err := m.ctrl.Params(m.ctx)
		return paramsMsg{p: p, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case frameMsg:
		now := time.Time(msg)
		if !m.lastFrame.IsZero() {
			m.poller.Tracker().Advance(now.Sub(m.lastFrame))
		}
		m.lastFrame = now
		m.frame++
		return m, frameTick()
	case pollMsg:
		return m, m.pollCmd()
	case polledMsg:
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })
	case actionMsg:
		m.note = msg.note
		if msg.err != nil {
			m.note = "error: " + msg.err.Error()
		}
	case paramsMsg:
		if msg.err != nil {
			m.note = "error: " + msg.err.Error()
			return m, nil
		}
		m.params, m.haveParams = msg.p, true
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
	case "t":
		m.theme = NextTheme(m.theme)
		m.st = newStyles(m.theme)
	case "+", "=":
		m.cost *= 2
	case "-", "_":
		if m.cost/2 >= minCost {
			m.cost /= 2
		}
	case "tab":
		m.selected = (m.selected + 1) % len(m.paramKeys)
	}
	if m.ctrl == nil {
		return m, nil
	}

	switch msg.String() {
	case "c":
		cost := m.cost
		return m, func() tea.Msg {
			err := m.ctrl.SubmitCost(m.ctx, cost)
			return actionMsg{note: fmt.Sprintf("submitted cost %g", cost), err: err}
		}
	case "r":
		return m, func() tea.Msg {
			return actionMsg{note: "session reset", err: m.ctrl.Reset(m.ctx)}
		}
	case "up", "k":
		return m, m.tuneCmd(1.05)
	case "down", "j":
		return m, m.tuneCmd(0.95)
	}
	return m, nil
}

// tuneCmd scales the selected parameter. The engine validates the result;
// a rejected value leaves the displayed parameters unchanged.
func (m Model) tuneCmd(factor float64) tea.Cmd {
	if !m.haveParams {
		return nil
	}
	p := m.params
	key := m.paramKeys[m.selected]
	v, _ := p.Get(key)
	if err := p.Set(key, v*factor); err != nil {
		return nil
	}
	return func() tea.Msg {
		if err := m.ctrl.SetParams(m.ctx, p); err != nil {
			return paramsMsg{err: err}
		}
		return paramsMsg{p: p}
	}
}

func (m Model) View() string {
	v := m.poller.Tracker().View()
	st := m.st

	level := 1.0
	if m.haveParams && m.params.MaxWaterPerSession > 0 {
		level = 1 - v.Displayed/m.params.MaxWaterPerSession
	}
	DrawCell(m.canvas, level, v.Active, m.frame)
	cellView := st.water.Render(m.canvas.String())

	var s strings.Builder
	s.WriteString(st.header.Render("AIWATER") + "\n")
	if v.Active {
		s.WriteString(st.active.Render(AnimatedSpinner(m.frame)+" ELECTROLYSING") + "\n\n")
	} else {
		s.WriteString(st.idle.Render("· IDLE") + "\n\n")
	}
	s.WriteString(st.label.Render("Water") + st.big.Render(observe.FormatMicrograms(v.Displayed)) + "\n")
	s.WriteString(st.label.Render("Session") + st.value.Render(shortID(v.SessionID)) + "\n")
	s.WriteString(st.label.Render("Cost") + st.value.Render(fmt.Sprintf("%.6f (%d events)", v.TotalCost, v.Events)) + "\n")
	next := fmt.Sprintf("%g", m.cost)
	if m.haveParams {
		d, mass := dynamo.Estimate(m.cost, m.params)
		next += fmt.Sprintf(" → %.1fs, %s", d, observe.FormatMicrograms(mass))
	}
	s.WriteString(st.label.Render("Next cost") + st.value.Render(next) + "\n")

	if len(v.History) > 1 {
		hist := make([]float64, len(v.History))
		for i, g := range v.History {
			hist[i] = observe.Micrograms(g)
		}
		chart := asciigraph.Plot(hist, asciigraph.Height(4), asciigraph.Width(30), asciigraph.Caption("µg"))
		s.WriteString("\n" + st.value.Render(chart) + "\n")
	}

	if m.haveParams {
		s.WriteString("\nPARAMETERS\n")
		defaults := dynamo.DefaultParams()
		for i, k := range m.paramKeys {
			val, _ := m.params.Get(k)
			ref, _ := defaults.Get(k)
			line := fmt.Sprintf("%-21s %s %g", k, ProgressBar(val/(2*ref), 8), val)
			if i == m.selected {
				s.WriteString(st.param.Render("> "+line) + "\n")
			} else {
				s.WriteString("  " + st.value.Render(line) + "\n")
			}
		}
	}

	if v.Err != nil {
		s.WriteString("\n" + st.warn.Render("connection lost, showing last value") + "\n")
	}
	if m.note != "" {
		s.WriteString("\n" + st.value.Render(m.note) + "\n")
	}
	if m.ctrl != nil {
		s.WriteString(st.help.Render("C:Cost +/-:Amount R:Reset Tab/↑↓:Tune T:Theme ?:Help Q:Quit"))
	} else {
		s.WriteString(st.help.Render("T:Theme ?:Help Q:Quit"))
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, cellView, st.panel.Render(s.String()))
	if m.showHelp {
		return helpText + "\n\n" + main
	}
	return main
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

const helpText = `
╔══════════════════════════════════════╗
║           KEYBOARD SHORTCUTS         ║
╠══════════════════════════════════════╣
║  C        - Submit a cost event      ║
║  + / -    - Double / halve the cost  ║
║  R        - Reset the session        ║
║  Tab      - Cycle parameters         ║
║  Up/K     - Increase parameter (+5%) ║
║  Down/J   - Decrease parameter (-5%) ║
║  T        - Cycle themes             ║
║  ?        - Toggle this help         ║
║  Q        - Quit                     ║
╚══════════════════════════════════════╝`
