package engine

import (
	"time"

	"github.com/verte-zerg/dcsf/internal/model"
)

// EventKind identifies an engine notification.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventPhaseChanged
	EventOperatorDirection
	EventTrialStarted
	EventTrialResolved
	EventModuleCompleted
	EventSessionFinished
	EventSubmissionSucceeded
	EventSubmissionFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventPhaseChanged:
		return "phase_changed"
	case EventOperatorDirection:
		return "operator_direction"
	case EventTrialStarted:
		return "trial_started"
	case EventTrialResolved:
		return "trial_resolved"
	case EventModuleCompleted:
		return "module_completed"
	case EventSessionFinished:
		return "session_finished"
	case EventSubmissionSucceeded:
		return "submission_succeeded"
	case EventSubmissionFailed:
		return "submission_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to the Listener on the engine loop. Trial and Module are
// set for the kinds that concern them.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Trial    *model.TrialRecord
	Module   *model.ModuleResult
	Err      error
}

// Listener receives engine events. It runs on the engine loop and must not
// block or call back into the engine synchronously.
type Listener func(Event)

// Submission is the persistence status of the finished session.
type Submission struct {
	Pending   bool
	Done      bool
	Skipped   bool
	SessionID int64
	Err       error
}

// Snapshot is an immutable view of the engine state.
type Snapshot struct {
	RunID             string
	State             State
	Phase             Phase
	Mode              model.Mode
	Orientation       model.Orientation
	ModuleIndex       int
	ModuleCount       int
	Module            model.ModuleSpec
	Trial             int
	Contrast          float64
	Reversals         int
	Direction         model.Direction
	OperatorDirection model.Direction
	StimulusVisible   bool
	TrialStartedAt    time.Time
	GapEndsAt         time.Time
	Results           []model.ModuleResult
	Submission        Submission
	History           []model.SessionSummary
}
