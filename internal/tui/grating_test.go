package tui

import (
	"strings"
	"testing"

	"github.com/verte-zerg/dcsf/internal/model"
)

func TestShades(t *testing.T) {
	tests := []struct {
		gray     int
		contrast float64
		lo, hi   int
	}{
		{gray: 128, contrast: 0, lo: 128, hi: 128},
		{gray: 128, contrast: 100, lo: 1, hi: 255},
		{gray: 128, contrast: 50, lo: 65, hi: 192},
		{gray: 200, contrast: 50, lo: 173, hi: 228},
		{gray: 128, contrast: 250, lo: 1, hi: 255},
	}
	for _, tt := range tests {
		lo, hi := shades(tt.gray, tt.contrast)
		if lo != tt.lo || hi != tt.hi {
			t.Fatalf("shades(%d, %v) = (%d, %d), want (%d, %d)", tt.gray, tt.contrast, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestGratingPeriod(t *testing.T) {
	g := grating{width: 20, height: 4, sizeDeg: 5, spatialFreq: 1}
	if got := g.periodCells(); got != 4 {
		t.Fatalf("expected 4 cells per cycle, got %v", got)
	}
	g.spatialFreq = 100
	if got := g.periodCells(); got != minPeriodCells {
		t.Fatalf("expected period clamped to %v, got %v", minPeriodCells, got)
	}
}

func TestGratingDriftShiftsPhase(t *testing.T) {
	g := grating{
		width:       20,
		height:      4,
		orientation: model.OrientationVertical,
		direction:   model.DirRight,
		sizeDeg:     5,
		spatialFreq: 1,
		contrast:    100,
		gray:        128,
	}
	if got := g.level(1, 0); got != 255 {
		t.Fatalf("expected peak at quarter cycle, got %d", got)
	}
	g.phase = 0.5
	if got := g.level(1, 0); got != 1 {
		t.Fatalf("expected trough after half-cycle drift, got %d", got)
	}
	g.direction = model.DirLeft
	if got := g.level(1, 0); got != 1 {
		t.Fatalf("expected trough after half-cycle drift left, got %d", got)
	}
	g.phase = 0.25
	if got := g.level(0, 0); got != 255 {
		t.Fatalf("expected left drift to bring the peak to x=0, got %d", got)
	}
}

func TestGratingRenderSize(t *testing.T) {
	g := grating{width: 12, height: 3, orientation: model.OrientationVertical, sizeDeg: 5, spatialFreq: 2, contrast: 50, gray: 128}
	rows := strings.Split(g.render(), "\n")
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0] != rows[2] {
		t.Fatalf("expected vertical bars to repeat on every row")
	}
	if (grating{}).render() != "" {
		t.Fatalf("expected empty render for zero size")
	}
}
