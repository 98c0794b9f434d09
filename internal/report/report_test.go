package report

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/dcsf/internal/model"
	"github.com/verte-zerg/dcsf/internal/store"
)

func sampleRecord() model.SessionRecord {
	started := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	trials := []model.TrialRecord{
		{Trial: 1, Direction: model.DirLeft, Response: "left", Correct: true, Contrast: 50, SpatialFreq: 4,
			TemporalFreq: 2, ResponseTimeMs: 400, Timestamp: started},
		{Trial: 2, Direction: model.DirRight, Response: "left", Contrast: 40, SpatialFreq: 4, TemporalFreq: 2,
			Reversal: true, ResponseTimeMs: 600, Timestamp: started.Add(2 * time.Second)},
		{Trial: 3, Direction: model.DirLeft, Response: "left", Correct: true, Contrast: 48, SpatialFreq: 4,
			TemporalFreq: 2, Reversal: true, ResponseTimeMs: 350, Timestamp: started.Add(4 * time.Second)},
	}
	return model.SessionRecord{
		RunID:     "d1e2f3a4-0000-4000-8000-000000000001",
		PatientID: "p-1",
		TestName:  "default",
		Eye:       model.EyeLeft,
		Mode:      model.ModeAuto,
		Basic: model.BasicConfig{Name: "default", BgRGB: "128,128,128", Orientation: model.OrientationVertical,
			Order: model.OrderFixed, ResultReversalN: 0, Mode: model.ModeAuto},
		Modules: []model.ModuleSpec{{ID: 1, Name: "Low SF", SpatialFreq: 4, TemporalFreq: 2, IntervalSec: 1,
			DurationSec: 1, InitialContrast: 50, UpRule: 1, DownRule: 1, ReversalTarget: 2, StepCorrect: 80,
			StepWrong: 120}},
		ModuleResults: []model.ModuleResult{{ModuleID: 1, Threshold: 44, Trials: trials, SpatialFreq: 4,
			TemporalFreq: 2, ReversalCount: 2, TotalTrials: 3, DurationMs: 6000}},
		Trials:          trials,
		StartedAt:       started,
		FinishedAt:      started.Add(6 * time.Second),
		TotalDurationMs: 6000,
	}
}

func TestBuildReport(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "dcsf.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	ctx := context.Background()
	id, err := st.SubmitSession(ctx, sampleRecord())
	if err != nil {
		t.Fatalf("submit session: %v", err)
	}

	r, err := BuildReport(ctx, st, id)
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	if r.Session.ID != id {
		t.Fatalf("expected session %d, got %d", id, r.Session.ID)
	}
	if len(r.Tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(r.Tracks))
	}
	track := r.Tracks[0]
	if got := track.Contrasts; len(got) != 3 || got[0] != 50 || got[1] != 40 || got[2] != 48 {
		t.Fatalf("unexpected contrasts %v", got)
	}
	if len(track.Reversals) != 2 || track.Reversals[0] != 1 || track.Reversals[1] != 2 {
		t.Fatalf("unexpected reversal indices %v", track.Reversals)
	}
	if !strings.HasPrefix(track.Title, "Low SF: 4 c/deg, 2 Hz") {
		t.Fatalf("unexpected title %q", track.Title)
	}

	if _, err := BuildReport(ctx, st, id+100); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWriteSession(t *testing.T) {
	rec := sampleRecord()
	rec.ID = 12
	var buf bytes.Buffer
	if err := WriteSession(&buf, FromSession(rec), Options{Plots: true, PlotWidth: 20, PlotHeight: 4}); err != nil {
		t.Fatalf("write session: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Session 12",
		"Run:      " + rec.RunID,
		"Reversals averaged: all",
		"Low SF",
		"44.0",
		"6s",
		"Legend:",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "forced") {
		t.Fatalf("unexpected forced marker:\n%s", out)
	}
}

func TestWriteModulesMarksForced(t *testing.T) {
	rec := sampleRecord()
	rec.ModuleResults[0].Forced = true
	var buf bytes.Buffer
	if err := WriteModules(&buf, rec, false); err != nil {
		t.Fatalf("write modules: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d", len(lines))
	}
	if !strings.HasSuffix(lines[1], "forced") {
		t.Fatalf("expected forced marker, got %q", lines[1])
	}
}

func TestWriteSessions(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSessions(&buf, nil, false); err != nil {
		t.Fatalf("write sessions: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "No sessions." {
		t.Fatalf("unexpected empty output %q", buf.String())
	}

	buf.Reset()
	sessions := []model.SessionSummary{
		{ID: 2, PatientID: "p-1", TestName: "default", Eye: model.EyeRight, Mode: model.ModeManual,
			TotalDurationMs: 61000, Thresholds: []float64{44, 12.5}},
		{ID: 1, PatientID: "p-1", TestName: "quick", Eye: model.EyeBoth, Mode: model.ModeAuto,
			TotalDurationMs: 1500},
	}
	if err := WriteSessions(&buf, sessions, false); err != nil {
		t.Fatalf("write sessions: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[0], "Thresholds") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "44.0 12.5") || !strings.Contains(lines[1], "1m1s") {
		t.Fatalf("unexpected row %q", lines[1])
	}
	if !strings.Contains(lines[2], "1.5s") {
		t.Fatalf("unexpected row %q", lines[2])
	}
}

func TestWritePatients(t *testing.T) {
	var buf bytes.Buffer
	patients := []model.Patient{
		{ID: "1700000000000", Name: "李伟", Gender: "M", Birthday: "1990-04-12"},
		{ID: "p-2", Name: "Ana", Gender: "F", Birthday: "1985-01-30"},
	}
	if err := WritePatients(&buf, patients, false); err != nil {
		t.Fatalf("write patients: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	// The CJK name is two cells per rune, so birthdays line up.
	if displayWidth(lines[1]) != displayWidth(lines[2]) {
		t.Fatalf("misaligned rows:\n%s\n%s", lines[1], lines[2])
	}
}
