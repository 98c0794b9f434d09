package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/dcsf/internal/model"
)

const (
	defaultGratingDeg = 5.0
	minPeriodCells    = 2.0
	// rowAspect approximates the height of a terminal cell in widths.
	rowAspect = 2.0
)

// grating describes one frame of the stimulus block.
type grating struct {
	width       int
	height      int
	orientation model.Orientation
	direction   model.Direction
	sizeDeg     float64
	spatialFreq float64
	contrast    float64
	gray        int
	// phase is the drift in cycles.
	phase float64
}

// shades returns the darkest and brightest gray of the grating. The
// amplitude is contrast percent of the headroom around the mean gray.
func shades(gray int, contrast float64) (lo, hi int) {
	gray = clampInt(gray, 0, 255)
	headroom := math.Min(float64(gray), float64(255-gray))
	amp := headroom * math.Max(0, math.Min(contrast, 100)) / 100
	return int(math.Round(float64(gray) - amp)), int(math.Round(float64(gray) + amp))
}

// periodCells is the number of cells per grating cycle.
func (g grating) periodCells() float64 {
	size := g.sizeDeg
	if size <= 0 {
		size = defaultGratingDeg
	}
	span := float64(g.width)
	if g.orientation == model.OrientationHorizontal {
		span = float64(g.height) * rowAspect
	}
	if g.spatialFreq <= 0 || span <= 0 {
		return minPeriodCells
	}
	return math.Max(minPeriodCells, span/size/g.spatialFreq)
}

// level is the gray value of the cell at column x, row y.
func (g grating) level(x, y int) int {
	pos := float64(x)
	if g.orientation == model.OrientationHorizontal {
		pos = float64(y) * rowAspect
	}
	cycles := pos / g.periodCells()
	switch g.direction {
	case model.DirRight, model.DirDown:
		cycles -= g.phase
	case model.DirLeft, model.DirUp:
		cycles += g.phase
	}
	lo, hi := shades(g.gray, g.contrast)
	mid := float64(lo+hi) / 2
	return int(math.Round(mid + float64(hi-lo)/2*math.Sin(2*math.Pi*cycles)))
}

// render draws the block as background-colored spaces.
func (g grating) render() string {
	if g.width <= 0 || g.height <= 0 {
		return ""
	}
	styles := map[int]lipgloss.Style{}
	cell := func(v int) string {
		st, ok := styles[v]
		if !ok {
			st = lipgloss.NewStyle().Background(grayColor(v))
			styles[v] = st
		}
		return st.Render(" ")
	}
	rows := make([]string, g.height)
	for y := 0; y < g.height; y++ {
		if y > 0 && g.orientation != model.OrientationHorizontal {
			rows[y] = rows[0]
			continue
		}
		var b strings.Builder
		for x := 0; x < g.width; x++ {
			b.WriteString(cell(g.level(x, y)))
		}
		rows[y] = b.String()
	}
	return strings.Join(rows, "\n")
}

func grayColor(v int) lipgloss.Color {
	v = clampInt(v, 0, 255)
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", v, v, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
