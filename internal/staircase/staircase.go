// Package staircase implements the N-down/M-up contrast staircase.
// It is pure logic: no clocks, no I/O.
package staircase

import "github.com/verte-zerg/dcsf/internal/model"

// Contrast bounds in percent.
const (
	MinContrast = 1.0
	MaxContrast = 100.0
)

// Trend is the direction of the last contrast adjustment.
type Trend string

// Trends. A correct-driven step lowers contrast (down), a wrong-driven step raises it (up).
const (
	TrendUnset Trend = ""
	TrendUp    Trend = "up"
	TrendDown  Trend = "down"
)

// State is the mutable staircase state of the active module.
type State struct {
	Contrast      float64
	CorrectStreak int
	WrongStreak   int
	Reversals     int
	LastTrend     Trend
}

// Outcome describes the effect of one registered response.
type Outcome struct {
	// Presented is the contrast the trial was shown at.
	Presented float64
	// Contrast is the contrast for the next trial.
	Contrast float64
	Adjusted bool
	Reversal bool
}

// Controller owns the staircase state for one module.
type Controller struct {
	spec              model.ModuleSpec
	state             State
	reversalContrasts []float64
}

// New returns a controller reset to the module's initial contrast.
func New(spec model.ModuleSpec) *Controller {
	if spec.UpRule < 1 {
		spec.UpRule = 1
	}
	if spec.DownRule < 1 {
		spec.DownRule = 1
	}
	c := &Controller{spec: spec}
	c.Reset()
	return c
}

// Reset restores the initial contrast and clears streaks and reversals.
func (c *Controller) Reset() {
	c.state = State{Contrast: Clamp(c.spec.InitialContrast)}
	c.reversalContrasts = nil
}

// RegisterResponse applies the up/down rule for one response.
//
// Streaks reset on a response of the opposite correctness and whenever an
// adjustment fires. Only an adjustment is checked for a reversal; the first
// adjustment of a module sets the baseline trend.
func (c *Controller) RegisterResponse(correct bool) Outcome {
	out := Outcome{Presented: c.state.Contrast}
	var trend Trend
	if correct {
		c.state.WrongStreak = 0
		c.state.CorrectStreak++
		if c.state.CorrectStreak >= c.spec.DownRule {
			c.state.CorrectStreak = 0
			c.state.Contrast = Clamp(c.state.Contrast * c.spec.StepCorrect / 100)
			trend = TrendDown
		}
	} else {
		c.state.CorrectStreak = 0
		c.state.WrongStreak++
		if c.state.WrongStreak >= c.spec.UpRule {
			c.state.WrongStreak = 0
			c.state.Contrast = Clamp(c.state.Contrast * c.spec.StepWrong / 100)
			trend = TrendUp
		}
	}
	if trend != TrendUnset {
		out.Adjusted = true
		if c.state.LastTrend != TrendUnset && c.state.LastTrend != trend {
			out.Reversal = true
			c.state.Reversals++
			c.reversalContrasts = append(c.reversalContrasts, out.Presented)
		}
		c.state.LastTrend = trend
	}
	out.Contrast = c.state.Contrast
	return out
}

// Complete reports whether the module's reversal target has been reached.
func (c *Controller) Complete() bool {
	return c.state.Reversals >= c.spec.ReversalTarget
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	return c.state
}

// ReversalContrasts returns the presented contrasts of the reversal trials so far.
func (c *Controller) ReversalContrasts() []float64 {
	out := make([]float64, len(c.reversalContrasts))
	copy(out, c.reversalContrasts)
	return out
}

// Threshold averages the last lastN reversal contrasts of the module.
func (c *Controller) Threshold(lastN int) float64 {
	return Threshold(c.reversalContrasts, lastN, c.state.Contrast)
}

// Threshold averages the last lastN values. A non-positive lastN uses every
// value; no values yields the fallback.
func Threshold(reversalContrasts []float64, lastN int, fallback float64) float64 {
	if len(reversalContrasts) == 0 {
		return fallback
	}
	window := reversalContrasts
	if lastN > 0 && len(window) > lastN {
		window = window[len(window)-lastN:]
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

// Clamp bounds a contrast to [MinContrast, MaxContrast].
func Clamp(contrast float64) float64 {
	if contrast < MinContrast {
		return MinContrast
	}
	if contrast > MaxContrast {
		return MaxContrast
	}
	return contrast
}
