package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Track is the contrast sequence of one module, one value per trial.
type Track struct {
	Title     string
	Contrasts []float64
	// Reversals holds indices into Contrasts of the reversal trials.
	Reversals []int
	Threshold float64
}

const (
	defaultPlotHeight   = 10
	minPlotWidth        = 10
	axisWidth           = 6
	axisSeparator       = " │ "
	terminalWidthBackup = 80
)

const (
	layerTrack = iota
	layerThreshold
	layerReversal
	layerCount
)

var layerColors = [layerCount]color.Attribute{
	layerTrack:     color.FgCyan,
	layerThreshold: color.FgYellow,
	layerReversal:  color.FgMagenta,
}

// PlotTrack renders a braille plot of a module's contrast track with its
// threshold as a dashed line and reversal trials as ticks. A non-positive
// width fits the plot to the terminal.
func PlotTrack(w io.Writer, track Track, width, height int, forceColor bool) error {
	if len(track.Contrasts) == 0 {
		return nil
	}
	if height <= 0 {
		height = defaultPlotHeight
	}
	if width <= 0 {
		width = PlotWidthFor(terminalWidth())
	}
	if width < minPlotWidth {
		width = minPlotWidth
	}

	minVal, maxVal := trackRange(track)
	dotsX, dotsY := width*2, height*4
	layers := make([][][]uint8, layerCount)
	for i := range layers {
		layers[i] = makeCells(height, width)
	}

	xOf := func(i int) int {
		if len(track.Contrasts) == 1 {
			return 0
		}
		return int(math.Round(float64(i) * float64(dotsX-1) / float64(len(track.Contrasts)-1)))
	}
	prevX, prevY := -1, -1
	for i, v := range track.Contrasts {
		px, py := xOf(i), valueToRow(v, minVal, maxVal, dotsY)
		if prevX >= 0 {
			drawLine(prevX, prevY, px, py, func(x, y int) {
				setBrailleDot(layers[layerTrack], x, y)
			})
		} else {
			setBrailleDot(layers[layerTrack], px, py)
		}
		prevX, prevY = px, py
	}
	if track.Threshold > 0 {
		ty := valueToRow(track.Threshold, minVal, maxVal, dotsY)
		for x := 0; x < dotsX; x++ {
			if x%6 < 3 {
				setBrailleDot(layers[layerThreshold], x, ty)
			}
		}
	}
	for _, idx := range track.Reversals {
		if idx < 0 || idx >= len(track.Contrasts) {
			continue
		}
		px, py := xOf(idx), valueToRow(track.Contrasts[idx], minVal, maxVal, dotsY)
		for dy := -2; dy <= 2; dy++ {
			setBrailleDot(layers[layerReversal], px, py+dy)
		}
	}

	useColor := shouldUseColor(w, forceColor)
	if track.Title != "" {
		if _, err := fmt.Fprintln(w, track.Title); err != nil {
			return err
		}
	}
	labels := makeAxisLabels(height, minVal, maxVal)
	for y := 0; y < height; y++ {
		var row strings.Builder
		fmt.Fprintf(&row, "%*s%s", axisWidth, labels[y], axisSeparator)
		for x := 0; x < width; x++ {
			mask, layer := composeCell(layers, x, y)
			ch := string(brailleFromMask(mask))
			if useColor && layer >= 0 {
				ch = paint(layerColors[layer], ch)
			}
			row.WriteString(ch)
		}
		if _, err := fmt.Fprintln(w, row.String()); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, renderLegend(track, useColor))
	return err
}

// PlotWidthFor computes a plot width that fits within the total available width.
func PlotWidthFor(totalWidth int) int {
	if totalWidth <= 0 {
		return minPlotWidth
	}
	plotWidth := totalWidth - axisWidth - displayWidth(axisSeparator)
	if plotWidth < minPlotWidth {
		plotWidth = minPlotWidth
	}
	return plotWidth
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}

// IsColorTerminal reports whether w is a terminal that should get colored
// output. NO_COLOR disables it.
func IsColorTerminal(w io.Writer) bool {
	return shouldUseColor(w, false)
}

func shouldUseColor(w io.Writer, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

// paint colors s regardless of the global color.NoColor setting; callers
// decide with shouldUseColor.
func paint(attr color.Attribute, s string) string {
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}

func trackRange(track Track) (float64, float64) {
	minVal, maxVal := math.Inf(1), math.Inf(-1)
	values := track.Contrasts
	if track.Threshold > 0 {
		values = append(append([]float64(nil), values...), track.Threshold)
	}
	for _, v := range values {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	if maxVal-minVal < 1e-9 {
		minVal--
		maxVal++
	}
	return minVal, maxVal
}

func makeAxisLabels(height int, minVal, maxVal float64) []string {
	labels := make([]string, height)
	if height <= 0 {
		return labels
	}
	labels[0] = formatContrast(maxVal)
	if height > 2 {
		labels[height/2] = formatContrast((minVal + maxVal) / 2)
	}
	if height > 1 {
		labels[height-1] = formatContrast(minVal)
	}
	return labels
}

func renderLegend(track Track, useColor bool) string {
	type item struct {
		layer int
		text  string
	}
	items := []item{{layerTrack, fmt.Sprintf("%c contrast", brailleFromMask(0x01))}}
	if track.Threshold > 0 {
		items = append(items, item{layerThreshold,
			fmt.Sprintf("%c threshold %s", brailleFromMask(0x09), formatContrast(track.Threshold))})
	}
	items = append(items, item{layerReversal,
		fmt.Sprintf("%c reversal (%d)", brailleFromMask(0x47), len(track.Reversals))})

	parts := make([]string, 0, len(items))
	for _, it := range items {
		if useColor {
			parts = append(parts, paint(layerColors[it.layer], it.text))
			continue
		}
		parts = append(parts, it.text)
	}
	return "Legend: " + strings.Join(parts, "  ")
}

func makeCells(height, width int) [][]uint8 {
	cells := make([][]uint8, height)
	for y := range cells {
		cells[y] = make([]uint8, width)
	}
	return cells
}

// composeCell merges the layers of one cell; the returned layer is the
// topmost one with a dot, or -1.
func composeCell(layers [][][]uint8, x, y int) (uint8, int) {
	var mask uint8
	top := -1
	for i, cells := range layers {
		if m := cells[y][x]; m != 0 {
			mask |= m
			top = i
		}
	}
	return mask, top
}

func valueToRow(v, minVal, maxVal float64, height int) int {
	if height <= 1 {
		return 0
	}
	pos := (v - minVal) / (maxVal - minVal)
	row := int(math.Round((1 - pos) * float64(height-1)))
	if row < 0 {
		row = 0
	}
	if row >= height {
		row = height - 1
	}
	return row
}

func drawLine(x0, y0, x1, y1 int, plot func(x, y int)) {
	dx := abs(x1 - x0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -abs(y1 - y0)
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		plot(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func setBrailleDot(cells [][]uint8, x, y int) {
	if y < 0 || x < 0 {
		return
	}
	cellY, cellX := y/4, x/2
	if cellY >= len(cells) || cellX >= len(cells[cellY]) {
		return
	}
	cells[cellY][cellX] |= brailleDotMask(x%2, y%4)
}

// brailleDotMask maps a dot inside a 2x4 cell to its bit in U+2800.
func brailleDotMask(x, y int) uint8 {
	if x == 0 {
		return [4]uint8{0x01, 0x02, 0x04, 0x40}[y]
	}
	return [4]uint8{0x08, 0x10, 0x20, 0x80}[y]
}

func brailleFromMask(mask uint8) rune {
	return rune(0x2800 + int(mask))
}
