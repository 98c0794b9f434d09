package historyui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/dcsf/internal/model"
)

type fakeSource struct {
	sessions []model.SessionSummary
	records  map[int64]model.SessionRecord
	err      error
	queried  []string
}

func (f *fakeSource) ListSessions(_ context.Context, patientID string) ([]model.SessionSummary, error) {
	f.queried = append(f.queried, patientID)
	if f.err != nil {
		return nil, f.err
	}
	var out []model.SessionSummary
	for _, s := range f.sessions {
		if patientID == "" || s.PatientID == patientID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSource) GetSession(_ context.Context, id int64) (model.SessionRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return model.SessionRecord{}, errors.New("not found")
	}
	return rec, nil
}

func newSource() *fakeSource {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	summary := func(id int64, patient string, eye model.Eye, hours int, thresholds ...float64) model.SessionSummary {
		return model.SessionSummary{ID: id, PatientID: patient, TestName: "default", Eye: eye,
			Mode: model.ModeAuto, StartedAt: base.Add(time.Duration(hours) * time.Hour), Thresholds: thresholds}
	}
	trials := []model.TrialRecord{
		{Trial: 1, Direction: model.DirLeft, Response: "left", Correct: true, Contrast: 50, SpatialFreq: 4},
		{Trial: 2, Direction: model.DirRight, Response: "left", Contrast: 40, SpatialFreq: 4, Reversal: true},
	}
	return &fakeSource{
		sessions: []model.SessionSummary{
			summary(3, "p-1", model.EyeRight, 2, 30, 50),
			summary(2, "p-1", model.EyeLeft, 1, 44),
			summary(1, "p-2", model.EyeRight, 0, 60),
		},
		records: map[int64]model.SessionRecord{
			3: {ID: 3, RunID: "run-3", PatientID: "p-1", TestName: "default", Eye: model.EyeRight,
				Mode: model.ModeAuto, Modules: []model.ModuleSpec{{ID: 1, Name: "Low", SpatialFreq: 4}},
				ModuleResults: []model.ModuleResult{{ModuleID: 1, Threshold: 44, Trials: trials,
					SpatialFreq: 4, ReversalCount: 1, TotalTrials: 2}},
				Trials: trials},
		},
	}
}

func newTestModel(t *testing.T, src Source, f Filter) *Model {
	t.Helper()
	m := NewModel(src, f)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func typeText(m *Model, s string) {
	for _, r := range s {
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func TestOverviewShowsCards(t *testing.T) {
	m := newTestModel(t, newSource(), Filter{})
	view := m.View()
	assert.Contains(t, view, "Overview")
	assert.Contains(t, view, "(3 sessions)")
	assert.Contains(t, view, "Avg threshold")
	// Means per session: 40, 44, 60.
	assert.Contains(t, view, "48.0%")
	assert.Contains(t, view, "40.0%")
	assert.Contains(t, view, "Mean threshold per session")
}

func TestApplyFilter(t *testing.T) {
	src := newSource()
	got := ApplyFilter(src.sessions, Filter{Eye: model.EyeRight})
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)

	got = ApplyFilter(src.sessions, Filter{Last: 1})
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ID)

	assert.Len(t, ApplyFilter(src.sessions, Filter{}), 3)
}

func TestPatientFilterQueriesSource(t *testing.T) {
	src := newSource()
	m := newTestModel(t, src, Filter{PatientID: "p-1"})
	assert.Equal(t, []string{"p-1"}, src.queried)
	assert.Len(t, m.sessions, 2)
	assert.Contains(t, m.View(), "patient=p-1")
}

func TestSessionsTabOpensDetail(t *testing.T) {
	m := newTestModel(t, newSource(), Filter{})
	m.Update(key("right"))
	require.Equal(t, tabSessions, m.activeTab)
	view := m.View()
	assert.Contains(t, view, "p-2")
	assert.Contains(t, view, "30.0 50.0")

	m.Update(key("enter"))
	require.Equal(t, tabDetail, m.activeTab)
	assert.Equal(t, int64(3), m.detailID)
	view = m.View()
	assert.Contains(t, view, "Session 3")
	assert.Contains(t, view, "Low")

	m.Update(key("esc"))
	assert.Equal(t, tabSessions, m.activeTab)
}

func TestDetailLoadErrorShown(t *testing.T) {
	m := newTestModel(t, newSource(), Filter{})
	m.Update(key("right"))
	m.Update(key("down"))
	m.Update(key("enter"))
	require.Equal(t, int64(2), m.detailID)
	assert.Contains(t, m.View(), "failed to load session 2")
}

func TestFilterForm(t *testing.T) {
	m := newTestModel(t, newSource(), Filter{})
	m.Update(key("/"))
	require.True(t, m.filterMode)
	assert.Contains(t, m.View(), "Patient: ")

	m.Update(key("tab"))
	typeText(m, "x")
	m.Update(key("enter"))
	assert.True(t, m.filterMode)
	assert.Contains(t, m.View(), "invalid eye")

	m.filterInputs[1].SetValue("l")
	m.Update(key("enter"))
	require.False(t, m.filterMode)
	assert.Equal(t, model.EyeLeft, m.filter.Eye)
	require.Len(t, m.sessions, 1)
	assert.Equal(t, int64(2), m.sessions[0].ID)
}

func TestFilterEscKeepsFilter(t *testing.T) {
	m := newTestModel(t, newSource(), Filter{Last: 2})
	m.Update(key("/"))
	m.filterInputs[2].SetValue("abc")
	m.Update(key("esc"))
	assert.False(t, m.filterMode)
	assert.Equal(t, 2, m.filter.Last)
	assert.Len(t, m.sessions, 2)
}

func TestLoadErrorShownInFooter(t *testing.T) {
	src := newSource()
	src.err = errors.New("connection refused")
	m := newTestModel(t, src, Filter{})
	view := m.View()
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "Failed to load sessions.")
}

func TestQuit(t *testing.T) {
	m := newTestModel(t, newSource(), Filter{})
	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestFitLines(t *testing.T) {
	got := fitLines("ab\ncd\nef", 4, 2)
	assert.Equal(t, "ab  \ncd  ", got)
	got = fitLines("ab", 3, 3)
	assert.Equal(t, 3, len(strings.Split(got, "\n")))
}
