// Package historyui provides the Bubble Tea session history browser.
package historyui

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/dcsf/internal/model"
	"github.com/verte-zerg/dcsf/internal/report"
)

const (
	tabOverview = iota
	tabSessions
	tabDetail
)

const plotHeight = 10

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Source loads session history. The local store and the remote client
// both implement it.
type Source interface {
	ListSessions(ctx context.Context, patientID string) ([]model.SessionSummary, error)
	GetSession(ctx context.Context, id int64) (model.SessionRecord, error)
}

// Filter narrows the listed sessions.
type Filter struct {
	PatientID string
	Eye       model.Eye
	// Last keeps only the newest sessions; 0 keeps all.
	Last int
}

// Model implements the Bubble Tea history UI.
type Model struct {
	src    Source
	filter Filter

	sessions []model.SessionSummary
	errMsg   string

	tabs      []string
	activeTab int
	overview  viewport.Model
	detail    viewport.Model
	table     table.Model
	detailID  int64

	width  int
	height int

	filterMode   bool
	filterInputs []textinput.Model
	filterIndex  int
	filterError  string
}

// NewModel constructs a history UI model and loads the first page.
func NewModel(src Source, filter Filter) *Model {
	m := &Model{
		src:      src,
		filter:   filter,
		tabs:     []string{"Overview", "Sessions", "Detail"},
		overview: viewport.New(0, 0),
		detail:   viewport.New(0, 0),
		table:    newSessionTable(),
	}
	m.initInputs()
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderContents()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.filterMode {
			return m.updateFilter(msg)
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "left", "h":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "/":
			return m.startFilter()
		case "esc":
			if m.activeTab == tabDetail {
				m.setTab(tabSessions)
			}
			return m, nil
		case "enter":
			if m.activeTab == tabSessions {
				m.openSelected()
			}
			return m, nil
		case "g", "home":
			m.gotoEdge(true)
			return m, nil
		case "G", "end":
			m.gotoEdge(false)
			return m, nil
		}
		var cmd tea.Cmd
		switch m.activeTab {
		case tabSessions:
			m.table, cmd = m.table.Update(msg)
		case tabDetail:
			m.detail, cmd = m.detail.Update(msg)
		default:
			m.overview, cmd = m.overview.Update(msg)
		}
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) initInputs() {
	m.filterInputs = []textinput.Model{
		newFilterInput("Patient: "),
		newFilterInput("Eye (L/R/B): "),
		newFilterInput("Last: "),
	}
	m.setInputsFromFilter()
}

func newFilterInput(prompt string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.CharLimit = 0
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

func (m *Model) setInputsFromFilter() {
	m.filterInputs[0].SetValue(m.filter.PatientID)
	m.filterInputs[1].SetValue(string(m.filter.Eye))
	if m.filter.Last > 0 {
		m.filterInputs[2].SetValue(strconv.Itoa(m.filter.Last))
	} else {
		m.filterInputs[2].SetValue("")
	}
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := lipgloss.Height(activeNavStyle.Render("X"))
	headerHeight = tabsHeight + 1
	footerHeight = 1
	if !m.filterMode && m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = maxInt(1, m.height-headerHeight-footerHeight)
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	m.overview.Width, m.overview.Height = m.width, bodyHeight
	m.detail.Width, m.detail.Height = m.width, bodyHeight
	m.table.SetWidth(m.width)
	m.table.SetHeight(bodyHeight)
	for i := range m.filterInputs {
		promptWidth := lipgloss.Width(m.filterInputs[i].Prompt)
		m.filterInputs[i].Width = maxInt(10, m.width-promptWidth-2)
	}
}

func (m *Model) moveTab(delta int) {
	next := (m.activeTab + delta + len(m.tabs)) % len(m.tabs)
	m.setTab(next)
}

func (m *Model) setTab(tab int) {
	m.activeTab = tab
	if tab == tabSessions {
		m.table.Focus()
	} else {
		m.table.Blur()
	}
}

func (m *Model) gotoEdge(top bool) {
	switch m.activeTab {
	case tabSessions:
		if top {
			m.table.GotoTop()
		} else {
			m.table.GotoBottom()
		}
	case tabDetail:
		if top {
			m.detail.GotoTop()
		} else {
			m.detail.GotoBottom()
		}
	default:
		if top {
			m.overview.GotoTop()
		} else {
			m.overview.GotoBottom()
		}
	}
}

func (m *Model) refresh() {
	sessions, err := m.src.ListSessions(context.Background(), m.filter.PatientID)
	if err != nil {
		m.errMsg = err.Error()
		m.sessions = nil
		m.table.SetRows(nil)
		m.renderContents()
		return
	}
	m.errMsg = ""
	m.sessions = ApplyFilter(sessions, m.filter)
	m.table.SetRows(sessionRows(m.sessions))
	m.table.GotoTop()
	m.renderContents()
}

// ApplyFilter keeps sessions matching f; input is newest first.
func ApplyFilter(sessions []model.SessionSummary, f Filter) []model.SessionSummary {
	out := make([]model.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		if f.Eye != "" && s.Eye != f.Eye {
			continue
		}
		out = append(out, s)
	}
	if f.Last > 0 && len(out) > f.Last {
		out = out[:f.Last]
	}
	return out
}

func (m *Model) openSelected() {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return
	}
	id, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return
	}
	m.detailID = id
	m.renderDetail()
	m.setTab(tabDetail)
}

func (m *Model) renderContents() {
	width := m.width
	if width <= 0 {
		width = 80
	}
	if m.errMsg != "" {
		m.overview.SetContent("Failed to load sessions.")
		return
	}
	m.overview.SetContent(renderOverview(m.sessions, width))
	if m.detailID != 0 {
		m.renderDetail()
	}
}

func (m *Model) renderDetail() {
	width := m.width
	if width <= 0 {
		width = 80
	}
	r, err := report.BuildReport(context.Background(), m.src, m.detailID)
	if err != nil {
		m.detail.SetContent(errorStyle.Render(err.Error()))
		return
	}
	var buf bytes.Buffer
	opts := report.Options{
		Color:      true,
		Plots:      true,
		PlotWidth:  report.PlotWidthFor(width),
		PlotHeight: plotHeight,
	}
	if err := report.WriteSession(&buf, r, opts); err != nil {
		m.detail.SetContent(fmt.Sprintf("Failed to render session: %v", err))
		return
	}
	m.detail.SetContent(strings.TrimRight(buf.String(), "\n"))
	m.detail.GotoTop()
}

func renderOverview(sessions []model.SessionSummary, width int) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}
	summary := renderSummaryCards(sessions, width)
	trend := renderTrend(sessions, width)
	return strings.TrimRight(summary+"\n\n"+trend, "\n")
}

func renderSummaryCards(sessions []model.SessionSummary, width int) string {
	var sum float64
	var n int
	best := 0.0
	for _, s := range sessions {
		if mean, ok := meanThreshold(s.Thresholds); ok {
			sum += mean
			n++
			if best == 0 || mean < best {
				best = mean
			}
		}
	}
	avg, bestLabel := "-", "-"
	if n > 0 {
		avg = fmt.Sprintf("%.1f%%", sum/float64(n))
		bestLabel = fmt.Sprintf("%.1f%%", best)
	}
	latest := sessions[0]
	cards := []string{
		metricCard("Sessions", strconv.Itoa(len(sessions))),
		metricCard("Latest", latest.StartedAt.Local().Format("2006-01-02")),
		metricCard("Avg threshold", avg),
		metricCard("Best threshold", bestLabel),
	}
	if width < 80 {
		return strings.Join(cards, "\n")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

// renderTrend plots the mean threshold per session, oldest first.
func renderTrend(sessions []model.SessionSummary, width int) string {
	track := report.Track{Title: "Mean threshold per session"}
	for i := len(sessions) - 1; i >= 0; i-- {
		if mean, ok := meanThreshold(sessions[i].Thresholds); ok {
			track.Contrasts = append(track.Contrasts, mean)
		}
	}
	if len(track.Contrasts) < 2 {
		return headerStyle.Render("Trend needs at least two sessions with results.")
	}
	var buf bytes.Buffer
	if err := report.PlotTrack(&buf, track, report.PlotWidthFor(width), plotHeight, true); err != nil {
		return fmt.Sprintf("Failed to render trend: %v", err)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func meanThreshold(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

func sessionColumns() []table.Column {
	return []table.Column{
		{Title: "ID", Width: 6},
		{Title: "Started", Width: 16},
		{Title: "Patient", Width: 14},
		{Title: "Eye", Width: 3},
		{Title: "Mode", Width: 6},
		{Title: "Test", Width: 12},
		{Title: "Thresholds", Width: 30},
	}
}

func sessionRows(sessions []model.SessionSummary) []table.Row {
	rows := make([]table.Row, 0, len(sessions))
	for _, s := range sessions {
		thresholds := make([]string, len(s.Thresholds))
		for i, v := range s.Thresholds {
			thresholds[i] = strconv.FormatFloat(v, 'f', 1, 64)
		}
		rows = append(rows, table.Row{
			strconv.FormatInt(s.ID, 10),
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.PatientID,
			string(s.Eye),
			string(s.Mode),
			s.TestName,
			strings.Join(thresholds, " "),
		})
	}
	return rows
}

func newSessionTable() table.Model {
	t := table.New(
		table.WithColumns(sessionColumns()),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	t.SetStyles(styles)
	return t
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderHeader() string {
	return m.renderTabs() + "\n" + m.renderFilterSummary()
}

func (m *Model) renderFilterSummary() string {
	patient := m.filter.PatientID
	if patient == "" {
		patient = "any"
	}
	eye := string(m.filter.Eye)
	if eye == "" {
		eye = "any"
	}
	last := "all"
	if m.filter.Last > 0 {
		last = strconv.Itoa(m.filter.Last)
	}
	summary := fmt.Sprintf("Filter: patient=%s  eye=%s  last=%s  (%d sessions)", patient, eye, last, len(m.sessions))
	return headerStyle.Render(truncateLine(summary, m.width))
}

func (m *Model) renderBody() string {
	if m.filterMode {
		return m.renderFilterForm()
	}
	switch m.activeTab {
	case tabSessions:
		if len(m.sessions) == 0 {
			return "No sessions found."
		}
		return tableMutedStyle.Render(m.table.View())
	case tabDetail:
		if m.detailID == 0 {
			return "Select a session on the Sessions tab and press enter."
		}
		return m.detail.View()
	default:
		return m.overview.View()
	}
}

func (m *Model) renderHelp() string {
	help := "Nav: left/right  Scroll: up/down/pgup/pgdn  Filter: /  Quit: q"
	switch m.activeTab {
	case tabSessions:
		help = "Nav: left/right  Select: up/down  Open: enter  Filter: /  Quit: q"
	case tabDetail:
		help = "Nav: left/right  Scroll: up/down/pgup/pgdn  Back: esc  Quit: q"
	}
	return headerStyle.Render(truncateLine(help, m.width))
}

func (m *Model) renderFooter() string {
	if m.filterMode {
		return headerStyle.Render("tab/shift+tab: next field  enter: apply  esc: cancel")
	}
	if m.errMsg != "" {
		return m.renderHelp() + "\n" + errorStyle.Render(truncateLine(m.errMsg, m.width))
	}
	return m.renderHelp()
}

func (m *Model) renderFilterForm() string {
	lines := []string{"Filter (enter to apply, esc to cancel)"}
	for _, input := range m.filterInputs {
		lines = append(lines, input.View())
	}
	if m.filterError != "" {
		lines = append(lines, errorStyle.Render(m.filterError))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) startFilter() (tea.Model, tea.Cmd) {
	m.filterMode = true
	m.filterError = ""
	m.setInputsFromFilter()
	return m, m.setFilterIndex(0)
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterMode = false
		m.filterError = ""
		return m, nil
	case tea.KeyEnter:
		f, err := m.parseFilter()
		if err != nil {
			m.filterError = err.Error()
			return m, nil
		}
		m.filter = f
		m.filterMode = false
		m.filterError = ""
		m.refresh()
		m.updateLayout()
		return m, nil
	case tea.KeyTab:
		return m, m.setFilterIndex(m.filterIndex + 1)
	case tea.KeyShiftTab:
		return m, m.setFilterIndex(m.filterIndex - 1)
	}
	var cmd tea.Cmd
	m.filterInputs[m.filterIndex], cmd = m.filterInputs[m.filterIndex].Update(msg)
	return m, cmd
}

func (m *Model) setFilterIndex(idx int) tea.Cmd {
	count := len(m.filterInputs)
	m.filterIndex = (idx + count) % count
	var cmd tea.Cmd
	for i := range m.filterInputs {
		if i == m.filterIndex {
			cmd = m.filterInputs[i].Focus()
		} else {
			m.filterInputs[i].Blur()
		}
	}
	return cmd
}

func (m *Model) parseFilter() (Filter, error) {
	f := Filter{PatientID: strings.TrimSpace(m.filterInputs[0].Value())}
	switch eye := model.Eye(strings.ToUpper(strings.TrimSpace(m.filterInputs[1].Value()))); eye {
	case "", model.EyeLeft, model.EyeRight, model.EyeBoth:
		f.Eye = eye
	default:
		return Filter{}, fmt.Errorf("invalid eye (use L, R or B)")
	}
	if last := strings.TrimSpace(m.filterInputs[2].Value()); last != "" {
		n, err := strconv.Atoi(last)
		if err != nil || n < 0 {
			return Filter{}, fmt.Errorf("invalid last value (use 0 or positive integer)")
		}
		f.Last = n
	}
	return f, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
