package report

import (
	"bytes"
	"strings"
	"testing"
)

func TestPlotTrack(t *testing.T) {
	var buf bytes.Buffer
	track := Track{
		Title:     "Module 1: 4 c/deg, 2 Hz, 2 reversals",
		Contrasts: []float64{50, 40, 48, 38.4},
		Reversals: []int{1, 2},
		Threshold: 44,
	}
	if err := PlotTrack(&buf, track, 20, 4, false); err != nil {
		t.Fatalf("PlotTrack failed: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("expected no color codes for a buffer")
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 1+4+1 {
		t.Fatalf("expected title, 4 plot rows and legend, got %d lines:\n%s", len(lines), out)
	}
	if lines[0] != track.Title {
		t.Fatalf("unexpected title %q", lines[0])
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[1]), "50.0") {
		t.Fatalf("expected max label on top row, got %q", lines[1])
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[4]), "38.4") {
		t.Fatalf("expected min label on bottom row, got %q", lines[4])
	}
	legend := lines[5]
	for _, want := range []string{"contrast", "threshold 44.0", "reversal (2)"} {
		if !strings.Contains(legend, want) {
			t.Fatalf("legend %q missing %q", legend, want)
		}
	}
}

func TestPlotTrackForcedColor(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	var buf bytes.Buffer
	if err := PlotTrack(&buf, Track{Contrasts: []float64{10, 20}}, 10, 2, true); err != nil {
		t.Fatalf("PlotTrack failed: %v", err)
	}
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected color codes when forced")
	}
}

func TestPlotTrackEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := PlotTrack(&buf, Track{Title: "empty"}, 10, 2, false); err != nil {
		t.Fatalf("PlotTrack failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestPlotWidthFor(t *testing.T) {
	if got, want := PlotWidthFor(80), 80-axisWidth-displayWidth(axisSeparator); got != want {
		t.Fatalf("expected width %d, got %d", want, got)
	}
	if got := PlotWidthFor(0); got != minPlotWidth {
		t.Fatalf("expected min width %d, got %d", minPlotWidth, got)
	}
}

func TestBrailleDots(t *testing.T) {
	cells := makeCells(1, 1)
	for y := 0; y < 4; y++ {
		setBrailleDot(cells, 0, y)
		setBrailleDot(cells, 1, y)
	}
	setBrailleDot(cells, 5, 9)
	if got := brailleFromMask(cells[0][0]); got != '⣿' {
		t.Fatalf("expected full cell, got %q", got)
	}
}
