package engine

import (
	"errors"
	"fmt"

	"github.com/verte-zerg/dcsf/internal/clock"
	"github.com/verte-zerg/dcsf/internal/model"
)

// Configuration errors returned by Start. The engine stays idle.
var (
	ErrNoPatient      = errors.New("no patient selected")
	ErrNoModules      = errors.New("module list is empty")
	ErrInvalidModule  = errors.New("invalid module")
	ErrInvalidEye     = errors.New("invalid eye")
	ErrAlreadyRunning = errors.New("a test is already running")
)

// GuardResult is the outcome of a transition guard.
type GuardResult struct {
	Allowed bool
	Reason  string
}

func allow() GuardResult {
	return GuardResult{Allowed: true}
}

func deny(format string, args ...any) GuardResult {
	return GuardResult{Reason: fmt.Sprintf(format, args...)}
}

// CanStart checks that a new run may begin from state.
func CanStart(state State) error {
	switch state {
	case StateIdle, StateFinished:
		return nil
	default:
		return fmt.Errorf("%w (state %s)", ErrAlreadyRunning, state)
	}
}

// ValidateRun checks the run configuration before any state is touched.
func ValidateRun(cfg model.RunConfig) error {
	if cfg.PatientID == "" {
		return ErrNoPatient
	}
	if len(cfg.Modules) == 0 {
		return ErrNoModules
	}
	switch cfg.Eye {
	case model.EyeLeft, model.EyeRight, model.EyeBoth:
	default:
		return fmt.Errorf("%w %q", ErrInvalidEye, cfg.Eye)
	}
	for i, m := range cfg.Modules {
		if err := validateModule(m); err != nil {
			return fmt.Errorf("%w %d: %v", ErrInvalidModule, i+1, err)
		}
	}
	return nil
}

func validateModule(m model.ModuleSpec) error {
	switch {
	case m.DurationSec <= 0:
		return fmt.Errorf("duration must be > 0")
	case m.IntervalSec < 0:
		return fmt.Errorf("interval must be >= 0")
	case m.InitialContrast < 1 || m.InitialContrast > 100:
		return fmt.Errorf("initial contrast must be between 1 and 100")
	case m.UpRule < 1 || m.DownRule < 1:
		return fmt.Errorf("up and down rules must be >= 1")
	case m.ReversalTarget < 1:
		return fmt.Errorf("reversal target must be >= 1")
	case m.StepCorrect <= 0 || m.StepWrong <= 0:
		return fmt.Errorf("step percentages must be > 0")
	}
	return nil
}

// ResponseContext is the input to CanAcceptResponse.
type ResponseContext struct {
	State     State
	Phase     Phase
	Live      clock.Token
	Token     clock.Token
	Processed bool
}

// CanAcceptResponse allows exactly one response per live trial while it is
// response-eligible.
func CanAcceptResponse(ctx ResponseContext) GuardResult {
	if ctx.State != StateModuleActive {
		return deny("engine is %s", ctx.State)
	}
	if ctx.Token != ctx.Live {
		return deny("stale trial token %d (live %d)", ctx.Token, ctx.Live)
	}
	if ctx.Processed {
		return deny("trial already resolved")
	}
	if !ctx.Phase.acceptsResponse() {
		return deny("phase %s does not accept responses", ctx.Phase)
	}
	return allow()
}

// CanSignalOperator allows manual direction signals while a module is active.
func CanSignalOperator(mode model.Mode, state State, d model.Direction) GuardResult {
	if mode != model.ModeManual {
		return deny("operator directions are only used in manual mode")
	}
	if !d.Valid() {
		return deny("invalid direction %q", d)
	}
	if state != StateModuleActive {
		return deny("engine is %s", state)
	}
	return allow()
}

// ModuleContext is the input to CanCompleteModule.
type ModuleContext struct {
	State       State
	ModuleIndex int
	Recorded    []model.ModuleResult
}

// CanCompleteModule allows the active-to-gap transition once per module.
func CanCompleteModule(ctx ModuleContext) GuardResult {
	if ctx.State != StateModuleActive {
		return deny("engine is %s", ctx.State)
	}
	for _, r := range ctx.Recorded {
		if r.ModuleIndex == ctx.ModuleIndex {
			return deny("module %d already completed", ctx.ModuleIndex+1)
		}
	}
	return allow()
}

// CanSubmitSession allows the persistence call once per run.
func CanSubmitSession(submitted bool) GuardResult {
	if submitted {
		return deny("session already submitted")
	}
	return allow()
}
