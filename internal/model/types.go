// Package model defines shared data structures.
package model

import "time"

// Direction is one of the four discrete stimulus or response directions.
type Direction string

// Stimulus and response directions.
const (
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// Valid reports whether d is one of the four directions.
func (d Direction) Valid() bool {
	switch d {
	case DirUp, DirDown, DirLeft, DirRight:
		return true
	default:
		return false
	}
}

// Response is the subject's answer for a trial: a direction or a timeout.
type Response string

// ResponseTimeout marks a trial resolved by the absolute response timeout.
const ResponseTimeout Response = "timeout"

// ResponseFor converts a direction key press into a Response.
func ResponseFor(d Direction) Response {
	return Response(d)
}

// Orientation of the grating bars.
type Orientation string

// Grating orientations.
const (
	OrientationVertical   Orientation = "vertical"
	OrientationHorizontal Orientation = "horizontal"
)

// Eye under test.
type Eye string

// Eyes.
const (
	EyeLeft  Eye = "L"
	EyeRight Eye = "R"
	EyeBoth  Eye = "B"
)

// Mode selects how stimulus directions are chosen.
type Mode string

// Direction modes.
const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Order selects the module ordering of a run.
type Order string

// Module orderings.
const (
	OrderFixed  Order = "ordered"
	OrderRandom Order = "random"
)

// ModuleSpec configures one staircase run. Read-only during a run.
type ModuleSpec struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	SpatialFreq     float64 `json:"spatial" validate:"gt=0"`
	TemporalFreq    float64 `json:"temporal" validate:"gte=0"`
	IntervalSec     float64 `json:"interval" validate:"gte=0"`
	DurationSec     float64 `json:"duration" validate:"gt=0"`
	InitialContrast float64 `json:"initialContrast" validate:"gte=1,lte=100"`
	UpRule          int     `json:"up" validate:"gte=1"`
	DownRule        int     `json:"down" validate:"gte=1"`
	ReversalTarget  int     `json:"reversal" validate:"gte=1"`
	StepCorrect     float64 `json:"stepCorrect" validate:"gt=0"`
	StepWrong       float64 `json:"stepWrong" validate:"gt=0"`
}

// Duration is the stimulus display time.
func (m ModuleSpec) Duration() time.Duration {
	return secondsToDuration(m.DurationSec)
}

// Interval is the response-eligible time after the stimulus is removed.
func (m ModuleSpec) Interval() time.Duration {
	return secondsToDuration(m.IntervalSec)
}

// BasicConfig is the session-level part of a test template.
type BasicConfig struct {
	Name            string      `json:"name" validate:"required"`
	BgRGB           string      `json:"bgRgb" validate:"rgb"`
	BgLuminance     float64     `json:"bgLuminance"`
	GratingSizeDeg  float64     `json:"gratingSizeDeg"`
	Orientation     Orientation `json:"orientation" validate:"oneof=vertical horizontal"`
	GratingGray     int         `json:"gratingGray" validate:"gte=0,lte=255"`
	AvgLuminance    float64     `json:"avgLuminance"`
	DistanceCm      float64     `json:"distanceCm"`
	ScreenWCm       float64     `json:"screenW"`
	ScreenHCm       float64     `json:"screenH"`
	ModuleGapSec    float64     `json:"moduleGapSec" validate:"gte=0"`
	Order           Order       `json:"order" validate:"oneof=ordered random"`
	ResultReversalN int         `json:"resultReversalN" validate:"gte=0"`
	ShowParams      bool        `json:"showParams"`
	Mode            Mode        `json:"mode" validate:"oneof=auto manual"`
}

// ModuleGap is the pause between two modules.
func (b BasicConfig) ModuleGap() time.Duration {
	return secondsToDuration(b.ModuleGapSec)
}

// Template is a named test configuration: basic settings plus ordered modules.
type Template struct {
	Basic   BasicConfig  `json:"basic"`
	Modules []ModuleSpec `json:"modules" validate:"required,min=1,dive"`
}

// RunConfig is everything the engine needs before start.
type RunConfig struct {
	PatientID string
	Eye       Eye
	Basic     BasicConfig
	Modules   []ModuleSpec
	Seed      int64
}

// TrialRecord is created once per trial and never mutated.
type TrialRecord struct {
	Trial          int       `json:"trial"`
	ModuleIndex    int       `json:"moduleIndex"`
	Direction      Direction `json:"direction"`
	Response       Response  `json:"response"`
	Correct        bool      `json:"correct"`
	Contrast       float64   `json:"contrast"`
	SpatialFreq    float64   `json:"spatial"`
	TemporalFreq   float64   `json:"temporal"`
	Reversal       bool      `json:"reversal"`
	ResponseTimeMs int64     `json:"responseTime"`
	Timestamp      time.Time `json:"timestamp"`
}

// ModuleResult is recorded once when a module completes.
type ModuleResult struct {
	ModuleIndex   int           `json:"moduleIndex"`
	ModuleID      int64         `json:"moduleId"`
	Threshold     float64       `json:"threshold"`
	Trials        []TrialRecord `json:"trials"`
	SpatialFreq   float64       `json:"spatial"`
	TemporalFreq  float64       `json:"temporal"`
	ReversalCount int           `json:"reversalCount"`
	TotalTrials   int           `json:"totalTrials"`
	DurationMs    int64         `json:"duration"`
	Forced        bool          `json:"forced"`
}

// SessionRecord is the finished-session payload handed to persistence.
type SessionRecord struct {
	ID              int64          `json:"id,omitempty"`
	RunID           string         `json:"runId" validate:"required,uuid"`
	PatientID       string         `json:"patientId" validate:"required"`
	TestName        string         `json:"testName" validate:"required"`
	Eye             Eye            `json:"eye" validate:"oneof=L R B"`
	Mode            Mode           `json:"mode" validate:"oneof=auto manual"`
	Basic           BasicConfig    `json:"basic"`
	Modules         []ModuleSpec   `json:"modules" validate:"required,min=1"`
	ModuleResults   []ModuleResult `json:"moduleResults"`
	Trials          []TrialRecord  `json:"trials"`
	StartedAt       time.Time      `json:"startedAt"`
	FinishedAt      time.Time      `json:"finishedAt"`
	TotalDurationMs int64          `json:"totalDuration"`
}

// SessionSummary is one row of a patient's session history.
type SessionSummary struct {
	ID              int64     `json:"id"`
	RunID           string    `json:"runId"`
	PatientID       string    `json:"patientId"`
	TestName        string    `json:"testName"`
	Eye             Eye       `json:"eye"`
	Mode            Mode      `json:"mode"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	TotalDurationMs int64     `json:"totalDuration"`
	Thresholds      []float64 `json:"thresholds"`
}

// Patient identifies a test subject.
type Patient struct {
	ID       string `json:"id"`
	Name     string `json:"name" validate:"required"`
	Gender   string `json:"gender" validate:"required"`
	Birthday string `json:"birthday" validate:"required,datetime=2006-01-02"`
}

func secondsToDuration(sec float64) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}
