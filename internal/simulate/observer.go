// Package simulate runs test templates against a simulated observer on a
// virtual-time loop, so a whole session completes without waiting.
package simulate

import (
	"math"
	"math/rand"
	"time"

	"github.com/verte-zerg/dcsf/internal/model"
)

// Observer is a logistic psychometric observer. The probability of a correct
// answer at contrast c is
//
//	guess + (1 - guess - lapse) * F(c),  F(c) = 1 / (1 + exp(-slope * (log10 c - log10 threshold)))
//
// where guess is one over the number of directions on the stimulus axis.
type Observer struct {
	Threshold float64 `validate:"gt=0,lte=100"`
	Slope     float64 `validate:"gt=0"`
	Lapse     float64 `validate:"gte=0,lt=1"`
	// Latency at or past a module's duration plus interval makes every
	// trial of that module time out.
	Latency time.Duration `validate:"gte=0"`
	// MissRate is the probability of not answering at all.
	MissRate float64 `validate:"gte=0,lte=1"`
}

// DefaultObserver is a plausible adult observer.
func DefaultObserver() Observer {
	return Observer{
		Threshold: 10,
		Slope:     6,
		Lapse:     0.02,
		Latency:   450 * time.Millisecond,
	}
}

const guessRate = 0.5

// PCorrect returns the probability of a correct answer at contrast c.
func (o Observer) PCorrect(c float64) float64 {
	if c <= 0 {
		return guessRate
	}
	f := 1 / (1 + math.Exp(-o.Slope*(math.Log10(c)-math.Log10(o.Threshold))))
	return guessRate + (1-guessRate-o.Lapse)*f
}

// Answer draws the observer's response to a stimulus shown in dir at
// contrast c. ok is false when the observer misses the trial.
func (o Observer) Answer(rnd *rand.Rand, dir model.Direction, c float64) (resp model.Direction, ok bool) {
	if o.MissRate > 0 && rnd.Float64() < o.MissRate {
		return "", false
	}
	if rnd.Float64() < o.PCorrect(c) {
		return dir, true
	}
	return opposite(dir), true
}

func opposite(d model.Direction) model.Direction {
	switch d {
	case model.DirUp:
		return model.DirDown
	case model.DirDown:
		return model.DirUp
	case model.DirLeft:
		return model.DirRight
	default:
		return model.DirLeft
	}
}

// axis returns the directions a grating of the given orientation can drift in.
func axis(o model.Orientation) [2]model.Direction {
	if o == model.OrientationHorizontal {
		return [2]model.Direction{model.DirUp, model.DirDown}
	}
	return [2]model.Direction{model.DirLeft, model.DirRight}
}
