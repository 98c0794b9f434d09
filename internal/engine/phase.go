package engine

// State is the session-level state of the engine.
type State int

const (
	// StateIdle means no run is in progress.
	StateIdle State = iota
	// StateModuleActive means trials of the current module are running.
	StateModuleActive
	// StateModuleGap is the timed pause between two modules.
	StateModuleGap
	// StateFinished means every module completed and the session was handed off.
	StateFinished
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateModuleActive:
		return "module_active"
	case StateModuleGap:
		return "module_gap"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Phase is the trial sub-phase while a module is active.
type Phase int

const (
	// PhaseNone is used outside StateModuleActive.
	PhaseNone Phase = iota
	// PhaseAwaitingOperator blocks trial start until a manual direction arrives.
	PhaseAwaitingOperator
	// PhaseDisplaying means the stimulus is on screen and a response is accepted.
	PhaseDisplaying
	// PhaseResponseEligible means the stimulus is gone but a response is still accepted.
	PhaseResponseEligible
	// PhaseResolving means the trial is answered and the rest of its slot is waited out.
	PhaseResolving
)

// String returns the name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseAwaitingOperator:
		return "awaiting_operator"
	case PhaseDisplaying:
		return "displaying"
	case PhaseResponseEligible:
		return "response_eligible"
	case PhaseResolving:
		return "resolving"
	default:
		return "unknown"
	}
}

// acceptsResponse reports whether a response can resolve the live trial in p.
func (p Phase) acceptsResponse() bool {
	return p == PhaseDisplaying || p == PhaseResponseEligible
}
