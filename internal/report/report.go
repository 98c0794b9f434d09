// Package report renders test sessions as text tables and plots.
package report

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/verte-zerg/dcsf/internal/model"
)

// SessionLoader loads a full session record. Both the local store and the
// remote client satisfy it.
type SessionLoader interface {
	GetSession(ctx context.Context, id int64) (model.SessionRecord, error)
}

// Report contains precomputed data for session rendering.
type Report struct {
	Session model.SessionRecord
	Tracks  []Track
}

// Options controls WriteSession output.
type Options struct {
	Color      bool
	Plots      bool
	PlotWidth  int
	PlotHeight int
}

// BuildReport loads a session and prepares its contrast tracks.
func BuildReport(ctx context.Context, src SessionLoader, id int64) (Report, error) {
	rec, err := src.GetSession(ctx, id)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load session %d: %w", id, err)
	}
	return FromSession(rec), nil
}

// FromSession builds a report for an in-memory record.
func FromSession(rec model.SessionRecord) Report {
	tracks := make([]Track, 0, len(rec.ModuleResults))
	for _, res := range rec.ModuleResults {
		tracks = append(tracks, trackFor(rec, res))
	}
	return Report{Session: rec, Tracks: tracks}
}

func trackFor(rec model.SessionRecord, res model.ModuleResult) Track {
	t := Track{
		Title: fmt.Sprintf("%s: %s c/deg, %s Hz, %d reversals",
			moduleName(rec, res), formatFloat(res.SpatialFreq), formatFloat(res.TemporalFreq), res.ReversalCount),
		Contrasts: make([]float64, 0, len(res.Trials)),
		Threshold: res.Threshold,
	}
	for i, tr := range res.Trials {
		t.Contrasts = append(t.Contrasts, tr.Contrast)
		if tr.Reversal {
			t.Reversals = append(t.Reversals, i)
		}
	}
	return t
}

func moduleName(rec model.SessionRecord, res model.ModuleResult) string {
	if res.ModuleIndex >= 0 && res.ModuleIndex < len(rec.Modules) {
		if name := rec.Modules[res.ModuleIndex].Name; name != "" {
			return name
		}
	}
	return fmt.Sprintf("Module %d", res.ModuleID)
}

// WriteSessions prints one row per session summary.
func WriteSessions(w io.Writer, sessions []model.SessionSummary, useColor bool) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions.")
		return err
	}
	headers := []string{"ID", "Started", "Patient", "Test", "Eye", "Mode", "Duration", "Thresholds"}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			formatTime(s.StartedAt),
			s.PatientID,
			s.TestName,
			string(s.Eye),
			string(s.Mode),
			formatDuration(s.TotalDurationMs),
			formatThresholds(s.Thresholds),
		})
	}
	return writeTable(w, headers, rows, map[int]bool{0: true, 6: true}, useColor)
}

// WritePatients prints one row per patient.
func WritePatients(w io.Writer, patients []model.Patient, useColor bool) error {
	headers := []string{"ID", "Name", "Gender", "Birthday"}
	rows := make([][]string, 0, len(patients))
	for _, p := range patients {
		rows = append(rows, []string{p.ID, p.Name, p.Gender, p.Birthday})
	}
	return writeTable(w, headers, rows, nil, useColor)
}

// WriteSession prints the session header, the per-module results and,
// when enabled, one contrast plot per module.
func WriteSession(w io.Writer, r Report, opts Options) error {
	rec := r.Session
	title := fmt.Sprintf("Session %d", rec.ID)
	if rec.ID == 0 {
		title = "Session (not saved)"
	}
	if opts.Color {
		title = paint(color.Bold, title)
	}
	header := []string{
		title,
		fmt.Sprintf("Run:      %s", rec.RunID),
		fmt.Sprintf("Patient:  %s  Eye: %s  Mode: %s", rec.PatientID, rec.Eye, rec.Mode),
		fmt.Sprintf("Template: %s  Order: %s  Reversals averaged: %s",
			rec.TestName, rec.Basic.Order, reversalsAveraged(rec.Basic.ResultReversalN)),
		fmt.Sprintf("Started:  %s  Duration: %s", formatTime(rec.StartedAt), formatDuration(rec.TotalDurationMs)),
		"",
	}
	for _, line := range header {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if err := WriteModules(w, rec, opts.Color); err != nil {
		return err
	}
	if !opts.Plots {
		return nil
	}
	for _, track := range r.Tracks {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		if err := PlotTrack(w, track, opts.PlotWidth, opts.PlotHeight, opts.Color); err != nil {
			return err
		}
	}
	return nil
}

// WriteModules prints the module results table of a session.
func WriteModules(w io.Writer, rec model.SessionRecord, useColor bool) error {
	headers := []string{"#", "Module", "Spatial", "Temporal", "Threshold", "Reversals", "Trials", "Duration", ""}
	rows := make([][]string, 0, len(rec.ModuleResults))
	for _, res := range rec.ModuleResults {
		note := ""
		if res.Forced {
			note = "forced"
		}
		rows = append(rows, []string{
			strconv.Itoa(res.ModuleIndex + 1),
			moduleName(rec, res),
			formatFloat(res.SpatialFreq),
			formatFloat(res.TemporalFreq),
			formatContrast(res.Threshold),
			strconv.Itoa(res.ReversalCount),
			strconv.Itoa(res.TotalTrials),
			formatDuration(res.DurationMs),
			note,
		})
	}
	right := map[int]bool{0: true, 2: true, 3: true, 4: true, 5: true, 6: true, 7: true}
	return writeTable(w, headers, rows, right, useColor)
}

func writeTable(w io.Writer, headers []string, rows [][]string, right map[int]bool, useColor bool) error {
	for i, line := range formatTable(headers, rows, right) {
		if i == 0 && useColor {
			line = paint(color.Bold, line)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func reversalsAveraged(n int) string {
	if n <= 0 {
		return "all"
	}
	return strconv.Itoa(n)
}

func formatThresholds(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatContrast(v)
	}
	return strings.Join(parts, " ")
}

func formatContrast(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatDuration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}
