// Package engine sequences the trials and modules of a contrast-sensitivity
// test. All methods must be called on the engine's clock.Loop; the engine
// itself holds no locks.
package engine

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verte-zerg/dcsf/internal/clock"
	"github.com/verte-zerg/dcsf/internal/model"
	"github.com/verte-zerg/dcsf/internal/staircase"
)

// DefaultTrialCap is the number of trials after which a module that has not
// reached its reversal target is force-completed.
const DefaultTrialCap = 200

// DefaultSubmitTimeout bounds the persistence round-trip.
const DefaultSubmitTimeout = 30 * time.Second

// Options configures an Engine. Loop is required.
type Options struct {
	Loop          clock.Loop
	Persister     Persister
	Logger        *zap.Logger
	Listener      Listener
	TrialCap      int
	SubmitTimeout time.Duration
	// NewRunID overrides run id generation.
	NewRunID func() string
}

// Engine is the adaptive staircase test engine.
type Engine struct {
	loop          clock.Loop
	clock         *clock.TrialClock
	persister     Persister
	logger        *zap.Logger
	listener      Listener
	trialCap      int
	submitTimeout time.Duration
	newRunID      func() string

	// generation changes on every Start and Reset so async completions of
	// an abandoned run are dropped.
	generation uint64

	run     model.RunConfig
	modules []model.ModuleSpec
	source  DirectionSource
	runID   string
	started time.Time

	state     State
	phase     Phase
	moduleIdx int
	stair     *staircase.Controller

	trial        int
	token        clock.Token
	processed    bool
	shown        model.Direction
	visible      bool
	moduleStart  time.Time
	moduleTrials []model.TrialRecord
	gapEndsAt    time.Time

	results    []model.ModuleResult
	trials     []model.TrialRecord
	submitted  bool
	submission Submission
	record     *model.SessionRecord
	history    []model.SessionSummary
}

// New returns an idle engine.
func New(opts Options) *Engine {
	if opts.Loop == nil {
		panic("engine: Options.Loop is required")
	}
	e := &Engine{
		loop:          opts.Loop,
		persister:     opts.Persister,
		logger:        opts.Logger,
		listener:      opts.Listener,
		trialCap:      opts.TrialCap,
		submitTimeout: opts.SubmitTimeout,
		newRunID:      opts.NewRunID,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.trialCap <= 0 {
		e.trialCap = DefaultTrialCap
	}
	if e.submitTimeout <= 0 {
		e.submitTimeout = DefaultSubmitTimeout
	}
	if e.newRunID == nil {
		e.newRunID = func() string { return uuid.NewString() }
	}
	e.clock = clock.NewTrialClock(opts.Loop, e.logStale)
	return e
}

// Start validates cfg and begins the first module. Configuration errors are
// returned before any state changes.
func (e *Engine) Start(cfg model.RunConfig) error {
	if err := CanStart(e.state); err != nil {
		return err
	}
	if err := ValidateRun(cfg); err != nil {
		return err
	}
	e.clearRun()
	e.run = cfg
	e.modules = OrderModules(cfg.Modules, cfg.Basic.Order, cfg.Seed)
	e.source = NewDirectionSource(cfg.Basic.Mode, cfg.Basic.Orientation, rand.New(rand.NewSource(cfg.Seed+1)))
	e.runID = e.newRunID()
	e.started = e.loop.Now()
	e.logger.Info("test started",
		zap.String("run_id", e.runID),
		zap.String("patient", cfg.PatientID),
		zap.String("eye", string(cfg.Eye)),
		zap.String("mode", string(cfg.Basic.Mode)),
		zap.Int("modules", len(e.modules)),
	)
	e.startModule(0)
	return nil
}

// Reset aborts any run. All pending timers are canceled before it returns
// and an in-flight submission result is discarded.
func (e *Engine) Reset() {
	if e.state != StateIdle {
		e.logger.Info("engine reset", zap.String("run_id", e.runID), zap.Stringer("state", e.state))
	}
	e.clearRun()
	e.emit(Event{Kind: EventStateChanged})
}

func (e *Engine) clearRun() {
	e.clock.Invalidate()
	e.generation++
	e.run = model.RunConfig{}
	e.modules = nil
	e.source = nil
	e.runID = ""
	e.started = time.Time{}
	e.state = StateIdle
	e.phase = PhaseNone
	e.moduleIdx = 0
	e.stair = nil
	e.resetTrial()
	e.trial = 0
	e.moduleTrials = nil
	e.moduleStart = time.Time{}
	e.gapEndsAt = time.Time{}
	e.results = nil
	e.trials = nil
	e.submitted = false
	e.submission = Submission{}
	e.record = nil
	e.history = nil
}

func (e *Engine) resetTrial() {
	e.token = e.clock.Token()
	e.processed = false
	e.shown = ""
	e.visible = false
}

// State returns the session state.
func (e *Engine) State() State {
	return e.state
}

// Phase returns the trial sub-phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

// Record returns the assembled session once the run has finished.
func (e *Engine) Record() (model.SessionRecord, bool) {
	if e.record == nil {
		return model.SessionRecord{}, false
	}
	return *e.record, true
}

// Snapshot returns the current engine view.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		RunID:           e.runID,
		State:           e.state,
		Phase:           e.phase,
		Mode:            e.run.Basic.Mode,
		Orientation:     e.run.Basic.Orientation,
		ModuleIndex:     e.moduleIdx,
		ModuleCount:     len(e.modules),
		Trial:           e.trial,
		Direction:       e.shown,
		StimulusVisible: e.visible,
		GapEndsAt:       e.gapEndsAt,
		Submission:      e.submission,
	}
	if e.moduleIdx < len(e.modules) {
		s.Module = e.modules[e.moduleIdx]
	}
	if e.stair != nil {
		st := e.stair.State()
		s.Contrast = st.Contrast
		s.Reversals = st.Reversals
	}
	if e.source != nil {
		s.OperatorDirection, _ = e.source.Current()
	}
	if e.phase == PhaseDisplaying || e.phase == PhaseResponseEligible || e.phase == PhaseResolving {
		s.TrialStartedAt = e.clock.StartedAt()
	}
	if len(e.results) > 0 {
		s.Results = append([]model.ModuleResult(nil), e.results...)
	}
	if len(e.history) > 0 {
		s.History = append([]model.SessionSummary(nil), e.history...)
	}
	return s
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	e.logger.Debug("state", zap.String("run_id", e.runID), zap.Stringer("from", e.state), zap.Stringer("to", s))
	e.state = s
	e.emit(Event{Kind: EventStateChanged})
}

func (e *Engine) setPhase(p Phase) {
	if e.phase == p {
		return
	}
	e.phase = p
	e.emit(Event{Kind: EventPhaseChanged})
}

func (e *Engine) emit(ev Event) {
	if e.listener == nil {
		return
	}
	ev.Snapshot = e.Snapshot()
	e.listener(ev)
}

func (e *Engine) reject(what, reason string, tok clock.Token) {
	e.logger.Debug(what+" rejected",
		zap.String("run_id", e.runID),
		zap.Int("module", e.moduleIdx+1),
		zap.Int("trial", e.trial),
		zap.Uint64("token", uint64(tok)),
		zap.String("reason", reason),
	)
}

func (e *Engine) logStale(kind string, scheduled, current clock.Token) {
	e.logger.Debug("stale timer ignored",
		zap.String("run_id", e.runID),
		zap.String("kind", kind),
		zap.Uint64("token", uint64(scheduled)),
		zap.Uint64("live", uint64(current)),
	)
}
