package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/dcsf/internal/clock"
	"github.com/verte-zerg/dcsf/internal/engine"
	"github.com/verte-zerg/dcsf/internal/model"
)

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakePersister struct{}

func (fakePersister) SubmitSession(context.Context, model.SessionRecord) (int64, error) {
	return 7, nil
}

func (fakePersister) LoadPriorSessions(context.Context, string) ([]model.SessionSummary, error) {
	return []model.SessionSummary{{ID: 7}, {ID: 3}}, nil
}

type fixture struct {
	t      *testing.T
	loop   *clock.Manual
	bridge *Bridge
	m      *Model
}

func testRun(mode model.Mode, modules int) model.RunConfig {
	run := model.RunConfig{
		PatientID: "p-1",
		Eye:       model.EyeRight,
		Basic: model.BasicConfig{
			Name:            "default",
			Orientation:     model.OrientationVertical,
			GratingGray:     128,
			GratingSizeDeg:  5,
			ModuleGapSec:    1,
			Order:           model.OrderFixed,
			ResultReversalN: 6,
			ShowParams:      true,
			Mode:            mode,
		},
	}
	for i := 0; i < modules; i++ {
		run.Modules = append(run.Modules, model.ModuleSpec{
			ID: int64(i + 1), Name: "Low", SpatialFreq: 4, TemporalFreq: 2, IntervalSec: 1, DurationSec: 1,
			InitialContrast: 50, UpRule: 1, DownRule: 1, ReversalTarget: 2, StepCorrect: 80, StepWrong: 120,
		})
	}
	return run
}

func newFixture(t *testing.T, run model.RunConfig) *fixture {
	t.Helper()
	loop := clock.NewManual(epoch)
	b := NewBridge(func(f func()) bool {
		f()
		return true
	}, 256)
	eng := engine.New(engine.Options{
		Loop:      loop,
		Persister: fakePersister{},
		Listener:  b.Listener(),
		NewRunID:  func() string { return "3f1c2a52-7c1e-4c55-9c1a-6f7e6c0b7d11" },
	})
	b.Attach(eng)
	f := &fixture{t: t, loop: loop, bridge: b}
	f.m = NewModel(Config{Bridge: b, Run: run, Subject: "Li Wei", Now: loop.Now})
	f.m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return f
}

// press sends a key, runs the resulting command and drains engine events.
func (f *fixture) press(msg tea.KeyMsg) tea.Msg {
	_, cmd := f.m.Update(msg)
	var out tea.Msg
	if cmd != nil {
		out = cmd()
	}
	f.drain()
	return out
}

func (f *fixture) drain() {
	for {
		select {
		case msg := <-f.bridge.msgs:
			f.m.Update(msg)
		default:
			return
		}
	}
}

func (f *fixture) advance(d time.Duration) {
	f.loop.Advance(d)
	f.drain()
}

// answer responds to the live trial and waits out the trial slot.
func (f *fixture) answer(correct bool) {
	f.t.Helper()
	d := f.m.snap.Direction
	if !d.Valid() {
		f.t.Fatalf("no live trial, state %s/%s", f.m.snap.State, f.m.snap.Phase)
	}
	if !correct {
		d = opposite(d)
	}
	f.press(arrowKey(d))
	f.advance(2 * time.Second)
}

var (
	enterKey = tea.KeyMsg{Type: tea.KeyEnter}
	quitKey  = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	resetKey = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}
)

func arrowKey(d model.Direction) tea.KeyMsg {
	switch d {
	case model.DirUp:
		return tea.KeyMsg{Type: tea.KeyUp}
	case model.DirDown:
		return tea.KeyMsg{Type: tea.KeyDown}
	case model.DirLeft:
		return tea.KeyMsg{Type: tea.KeyLeft}
	default:
		return tea.KeyMsg{Type: tea.KeyRight}
	}
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func opposite(d model.Direction) model.Direction {
	switch d {
	case model.DirLeft:
		return model.DirRight
	case model.DirRight:
		return model.DirLeft
	case model.DirUp:
		return model.DirDown
	default:
		return model.DirUp
	}
}

func assertView(t *testing.T, m *Model, want ...string) {
	t.Helper()
	view := m.View()
	for _, w := range want {
		if !strings.Contains(view, w) {
			t.Fatalf("view missing %q:\n%s", w, view)
		}
	}
}

func TestIdleView(t *testing.T) {
	f := newFixture(t, testRun(model.ModeAuto, 1))
	assertView(t, f.m, "dcsf · Li Wei · eye R · auto · default", "Press enter to begin the test")
}

func TestBeginStartsTest(t *testing.T) {
	f := newFixture(t, testRun(model.ModeAuto, 1))
	f.press(enterKey)

	if f.m.snap.State != engine.StateModuleActive || f.m.snap.Phase != engine.PhaseDisplaying {
		t.Fatalf("unexpected state %s/%s", f.m.snap.State, f.m.snap.Phase)
	}
	assertView(t, f.m, "Module 1/1 Low", "Trial 1", "Contrast 50.0%", "0/2 reversals", "Which way is it moving?")

	f.press(enterKey)
	if f.m.snap.Trial != 1 || f.m.err != nil {
		t.Fatalf("begin while running should be ignored, trial %d err %v", f.m.snap.Trial, f.m.err)
	}
}

func TestAnswerRecordsTrial(t *testing.T) {
	f := newFixture(t, testRun(model.ModeAuto, 1))
	f.press(enterKey)
	shown := f.m.snap.Direction
	f.press(arrowKey(shown))

	if f.m.last == nil || !f.m.last.Correct {
		t.Fatalf("expected a correct trial, got %+v", f.m.last)
	}
	assertView(t, f.m, "Last: shown "+string(shown)+", answered "+string(shown)+" ✓ at 50.0%")

	f.advance(2 * time.Second)
	assertView(t, f.m, "Trial 2", "Contrast 40.0%")
}

func TestStartErrorShown(t *testing.T) {
	run := testRun(model.ModeAuto, 1)
	run.PatientID = ""
	f := newFixture(t, run)
	f.press(enterKey)

	if f.m.snap.State != engine.StateIdle {
		t.Fatalf("expected idle, got %s", f.m.snap.State)
	}
	assertView(t, f.m, "Cannot start: no patient selected")
}

func TestManualModeOperatorPrompt(t *testing.T) {
	f := newFixture(t, testRun(model.ModeManual, 1))
	f.press(enterKey)
	if f.m.snap.Phase != engine.PhaseAwaitingOperator {
		t.Fatalf("expected awaiting operator, got %s", f.m.snap.Phase)
	}
	assertView(t, f.m, "Operator: choose the direction with w a s d")

	f.press(runeKey('d'))
	if f.m.snap.Phase != engine.PhaseDisplaying || f.m.snap.Direction != model.DirRight {
		t.Fatalf("expected trial shown right, got %s %s", f.m.snap.Phase, f.m.snap.Direction)
	}
	assertView(t, f.m, "Operator direction: right")
}

func TestModuleGapCountdown(t *testing.T) {
	f := newFixture(t, testRun(model.ModeAuto, 2))
	f.press(enterKey)
	f.answer(true)
	f.answer(false)
	d := f.m.snap.Direction
	f.press(arrowKey(d))

	if f.m.snap.State != engine.StateModuleGap {
		t.Fatalf("expected module gap, got %s", f.m.snap.State)
	}
	assertView(t, f.m, "Module 1/2", "Next module in 1.0s")

	f.advance(time.Second)
	assertView(t, f.m, "Module 2/2", "Trial 1")
}

func TestFinishedShowsResults(t *testing.T) {
	f := newFixture(t, testRun(model.ModeAuto, 1))
	f.press(enterKey)
	f.answer(true)
	f.answer(false)
	f.press(arrowKey(f.m.snap.Direction))

	if f.m.snap.State != engine.StateFinished {
		t.Fatalf("expected finished, got %s", f.m.snap.State)
	}
	f.loop.Flush()
	f.drain()
	assertView(t, f.m,
		"Test finished",
		"Module 1: threshold 44.0%  2 reversals  3 trials",
		"Saved as session 7",
		"2 sessions on record for this patient",
		"Press enter to test again",
	)

	f.press(enterKey)
	if f.m.snap.State != engine.StateModuleActive {
		t.Fatalf("expected restart, got %s", f.m.snap.State)
	}
}

func TestResetReturnsToIdle(t *testing.T) {
	f := newFixture(t, testRun(model.ModeAuto, 1))
	f.press(enterKey)
	f.press(arrowKey(f.m.snap.Direction))
	f.press(resetKey)

	if f.m.snap.State != engine.StateIdle {
		t.Fatalf("expected idle, got %s", f.m.snap.State)
	}
	if f.m.last != nil {
		t.Fatalf("expected last trial cleared")
	}
	assertView(t, f.m, "Press enter to begin the test")
}

func TestQuitKey(t *testing.T) {
	f := newFixture(t, testRun(model.ModeAuto, 1))
	if _, ok := f.press(quitKey).(tea.QuitMsg); !ok {
		t.Fatalf("expected quit command")
	}
}

func TestBridgeCloseUnblocksListener(t *testing.T) {
	b := NewBridge(func(f func()) bool {
		f()
		return true
	}, 1)
	listener := b.Listener()
	listener(engine.Event{Kind: engine.EventStateChanged})
	b.Close()
	done := make(chan struct{})
	go func() {
		listener(engine.Event{Kind: engine.EventStateChanged})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("listener blocked after Close")
	}
	if len(b.msgs) != 1 {
		t.Fatalf("expected only the event delivered before close, got %d", len(b.msgs))
	}
}
