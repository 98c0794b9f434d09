package engine

import (
	"math/rand"

	"github.com/verte-zerg/dcsf/internal/model"
)

// DirectionSource picks the stimulus direction of each trial.
type DirectionSource interface {
	// Next returns the direction for a new trial, or false when the trial
	// must wait for an operator signal.
	Next() (model.Direction, bool)
	// Signal records an operator direction. Auto sources ignore it.
	Signal(d model.Direction)
	// Current returns the persisted operator direction, if any.
	Current() (model.Direction, bool)
	// ResetModule clears per-module state at module start.
	ResetModule()
}

// NewDirectionSource returns the source for mode. Auto directions are drawn
// from the axis perpendicular to the grating bars' motion: left/right for
// vertical bars, up/down for horizontal bars.
func NewDirectionSource(mode model.Mode, orientation model.Orientation, rnd *rand.Rand) DirectionSource {
	if mode == model.ModeManual {
		return &manualSource{}
	}
	axis := [2]model.Direction{model.DirLeft, model.DirRight}
	if orientation == model.OrientationHorizontal {
		axis = [2]model.Direction{model.DirUp, model.DirDown}
	}
	return &autoSource{rnd: rnd, axis: axis}
}

type autoSource struct {
	rnd  *rand.Rand
	axis [2]model.Direction
}

func (s *autoSource) Next() (model.Direction, bool) {
	return s.axis[s.rnd.Intn(len(s.axis))], true
}

func (s *autoSource) Signal(model.Direction) {}

func (s *autoSource) Current() (model.Direction, bool) {
	return "", false
}

func (s *autoSource) ResetModule() {}

// manualSource keeps the operator's last direction until it changes or the
// next module starts.
type manualSource struct {
	current model.Direction
}

func (s *manualSource) Next() (model.Direction, bool) {
	if s.current == "" {
		return "", false
	}
	return s.current, true
}

func (s *manualSource) Signal(d model.Direction) {
	s.current = d
}

func (s *manualSource) Current() (model.Direction, bool) {
	return s.current, s.current != ""
}

func (s *manualSource) ResetModule() {
	s.current = ""
}
