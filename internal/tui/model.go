// Package tui provides the Bubble Tea run view of a contrast-sensitivity test.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/dcsf/internal/engine"
	"github.com/verte-zerg/dcsf/internal/model"
)

const frameInterval = 50 * time.Millisecond

// Config wires the view to an engine through a Bridge.
type Config struct {
	Bridge *Bridge
	Run    model.RunConfig
	// Subject is shown in the title, usually the patient name.
	Subject string
	Now     func() time.Time
}

// Model implements the Bubble Tea run view.
type Model struct {
	bridge  *Bridge
	run     model.RunConfig
	subject string
	now     func() time.Time

	keys     keyMap
	help     help.Model
	progress progress.Model
	spinner  spinner.Model

	snap  engine.Snapshot
	last  *model.TrialRecord
	err   error
	phase float64

	width  int
	height int
}

type frameMsg time.Time

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F0F0F0"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
)

// NewModel constructs the run view.
func NewModel(cfg Config) *Model {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle
	return &Model{
		bridge:   cfg.Bridge,
		run:      cfg.Run,
		subject:  cfg.Subject,
		now:      now,
		keys:     defaultKeyMap(),
		help:     help.New(),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(30)),
		spinner:  sp,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.bridge.wait(), m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return frameMsg(t) })
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil
	case eventMsg:
		m.handleEvent(engine.Event(msg))
		return m, m.bridge.wait()
	case startErrMsg:
		m.err = msg.err
		return m, m.bridge.wait()
	case frameMsg:
		if m.snap.StimulusVisible {
			m.phase += m.snap.Module.TemporalFreq * frameInterval.Seconds()
		}
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	default:
		return m, nil
	}
}

func (m *Model) handleEvent(ev engine.Event) {
	m.snap = ev.Snapshot
	switch ev.Kind {
	case engine.EventTrialStarted:
		m.phase = 0
	case engine.EventTrialResolved:
		m.last = ev.Trial
	case engine.EventStateChanged:
		if m.snap.State == engine.StateIdle {
			m.last = nil
		}
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.ToggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return nil
	case key.Matches(msg, m.keys.Begin):
		if m.snap.State != engine.StateIdle && m.snap.State != engine.StateFinished {
			return nil
		}
		m.err = nil
		m.last = nil
		return m.bridge.start(m.run)
	case key.Matches(msg, m.keys.Reset):
		m.err = nil
		return m.bridge.reset()
	}
	if d, ok := m.keys.responseFor(msg); ok {
		return m.bridge.respond(d)
	}
	if d, ok := m.keys.operatorFor(msg); ok {
		return m.bridge.operator(d)
	}
	return nil
}

// View implements tea.Model.
func (m *Model) View() string {
	lines := []string{
		m.styled(titleStyle, m.renderTitle()),
		m.styled(mutedStyle, m.renderStatus()),
	}
	if m.snap.State == engine.StateModuleActive || m.snap.State == engine.StateModuleGap {
		lines = append(lines, m.truncate(m.renderModule()), m.renderReversals())
	}
	lines = append(lines, "", m.renderStimulus(), "")
	lines = append(lines, m.renderMessages()...)
	lines = append(lines, "", footerStyle.Render(m.help.View(m.keys)))
	content := lipgloss.JoinVertical(lipgloss.Center, lines...)
	if m.width == 0 || m.height == 0 {
		return content
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

func (m *Model) renderTitle() string {
	parts := []string{"dcsf"}
	if m.subject != "" {
		parts = append(parts, m.subject)
	} else if m.run.PatientID != "" {
		parts = append(parts, "patient "+m.run.PatientID)
	}
	parts = append(parts, "eye "+string(m.run.Eye), string(m.run.Basic.Mode), m.run.Basic.Name)
	return strings.Join(parts, " · ")
}

func (m *Model) renderStatus() string {
	s := m.snap.State.String()
	if m.snap.Phase != engine.PhaseNone {
		s += " / " + m.snap.Phase.String()
	}
	return s
}

func (m *Model) renderModule() string {
	s := fmt.Sprintf("Module %d/%d", m.snap.ModuleIndex+1, m.snap.ModuleCount)
	if name := m.snap.Module.Name; name != "" {
		s += " " + name
	}
	if m.snap.Trial > 0 {
		s += fmt.Sprintf("  Trial %d", m.snap.Trial)
	}
	if m.run.Basic.ShowParams {
		s += fmt.Sprintf("  %g c/deg  %g Hz  Contrast %.1f%%",
			m.snap.Module.SpatialFreq, m.snap.Module.TemporalFreq, m.snap.Contrast)
	}
	return s
}

func (m *Model) renderReversals() string {
	target := m.snap.Module.ReversalTarget
	frac := 0.0
	if target > 0 {
		frac = float64(m.snap.Reversals) / float64(target)
	}
	if frac > 1 {
		frac = 1
	}
	return m.progress.ViewAs(frac) + mutedStyle.Render(fmt.Sprintf(" %d/%d reversals", m.snap.Reversals, target))
}

func (m *Model) stimulusSize() (int, int) {
	w, h := 32, 8
	if m.width > 0 {
		w = clampInt(m.width*6/10, 16, 64)
	}
	if m.height > 0 {
		h = clampInt(m.height-14, 4, 14)
	}
	return w, h
}

func (m *Model) renderStimulus() string {
	w, h := m.stimulusSize()
	g := grating{
		width:       w,
		height:      h,
		orientation: m.run.Basic.Orientation,
		sizeDeg:     m.run.Basic.GratingSizeDeg,
		gray:        m.run.Basic.GratingGray,
	}
	if m.snap.StimulusVisible {
		g.direction = m.snap.Direction
		g.spatialFreq = m.snap.Module.SpatialFreq
		g.contrast = m.snap.Contrast
		g.phase = m.phase
	}
	return g.render()
}

func (m *Model) renderMessages() []string {
	var out []string
	switch m.snap.State {
	case engine.StateIdle:
		out = append(out, m.styled(accentStyle, "Press enter to begin the test"))
	case engine.StateModuleActive:
		switch m.snap.Phase {
		case engine.PhaseAwaitingOperator:
			out = append(out, m.styled(accentStyle, "Operator: choose the direction with w a s d"))
		case engine.PhaseDisplaying, engine.PhaseResponseEligible:
			out = append(out, m.truncate("Which way is it moving? Answer with the arrow keys"))
		}
		if m.snap.Mode == model.ModeManual && m.snap.OperatorDirection != "" {
			out = append(out, m.styled(mutedStyle, "Operator direction: "+string(m.snap.OperatorDirection)))
		}
	case engine.StateModuleGap:
		left := m.snap.GapEndsAt.Sub(m.now())
		if left < 0 {
			left = 0
		}
		out = append(out, m.styled(accentStyle, fmt.Sprintf("Next module in %.1fs", left.Seconds())))
	case engine.StateFinished:
		out = append(out, m.renderResults()...)
	}
	if m.last != nil && m.snap.State != engine.StateFinished {
		out = append(out, m.styled(mutedStyle, renderTrial(*m.last)))
	}
	if m.err != nil {
		out = append(out, m.styled(errStyle, "Cannot start: "+m.err.Error()))
	}
	return out
}

func (m *Model) renderResults() []string {
	out := []string{m.styled(titleStyle, "Test finished")}
	for _, res := range m.snap.Results {
		line := fmt.Sprintf("Module %d: threshold %.1f%%  %d reversals  %d trials",
			res.ModuleIndex+1, res.Threshold, res.ReversalCount, res.TotalTrials)
		if res.Forced {
			line += "  (trial limit)"
		}
		out = append(out, m.truncate(line))
	}
	sub := m.snap.Submission
	switch {
	case sub.Pending:
		out = append(out, m.spinner.View()+" Saving session...")
	case sub.Err != nil:
		out = append(out, m.styled(errStyle, "Save failed: "+sub.Err.Error()))
	case sub.Skipped:
		out = append(out, m.styled(mutedStyle, "Session not saved"))
	case sub.Done:
		out = append(out, m.styled(okStyle, fmt.Sprintf("Saved as session %d", sub.SessionID)))
		if n := len(m.snap.History); n > 0 {
			out = append(out, m.styled(mutedStyle, fmt.Sprintf("%d sessions on record for this patient", n)))
		}
	}
	out = append(out, m.styled(mutedStyle, "Press enter to test again"))
	return out
}

func renderTrial(tr model.TrialRecord) string {
	mark := "✗"
	if tr.Correct {
		mark = "✓"
	}
	return fmt.Sprintf("Last: shown %s, answered %s %s at %.1f%%", tr.Direction, tr.Response, mark, tr.Contrast)
}

func (m *Model) styled(style lipgloss.Style, s string) string {
	return style.Render(m.truncate(s))
}

// truncate shortens plain text to the window width.
func (m *Model) truncate(s string) string {
	if m.width <= 0 {
		return s
	}
	return runewidth.Truncate(s, m.width, "…")
}
