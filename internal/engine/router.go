package engine

import (
	"go.uber.org/zap"

	"github.com/verte-zerg/dcsf/internal/clock"
	"github.com/verte-zerg/dcsf/internal/model"
)

// SubmitResponse resolves the live trial with the subject's direction. It
// reports whether the response was accepted; duplicates and responses
// outside the response-eligible phases are dropped.
func (e *Engine) SubmitResponse(d model.Direction) bool {
	if !d.Valid() {
		e.reject("response", "invalid direction "+string(d), e.token)
		return false
	}
	return e.resolve(e.token, model.ResponseFor(d))
}

// SetOperatorDirection records the stimulus direction for manual mode. When
// the engine is waiting for the operator the next trial starts immediately.
func (e *Engine) SetOperatorDirection(d model.Direction) bool {
	if g := CanSignalOperator(e.run.Basic.Mode, e.state, d); !g.Allowed {
		e.reject("operator signal", g.Reason, e.token)
		return false
	}
	e.source.Signal(d)
	e.logger.Debug("operator direction", zap.String("run_id", e.runID), zap.String("direction", string(d)))
	e.emit(Event{Kind: EventOperatorDirection})
	if e.phase == PhaseAwaitingOperator {
		e.beginTrial()
	}
	return true
}

func (e *Engine) onDisplayEnd(tok clock.Token) {
	if tok != e.token {
		return
	}
	e.visible = false
	if e.phase == PhaseDisplaying {
		e.setPhase(PhaseResponseEligible)
		return
	}
	e.emit(Event{Kind: EventPhaseChanged})
}

func (e *Engine) onTimeout(tok clock.Token) {
	e.resolve(tok, model.ResponseTimeout)
}

// resolve accepts exactly one response per trial token.
func (e *Engine) resolve(tok clock.Token, resp model.Response) bool {
	g := CanAcceptResponse(ResponseContext{
		State:     e.state,
		Phase:     e.phase,
		Live:      e.token,
		Token:     tok,
		Processed: e.processed,
	})
	if !g.Allowed {
		e.reject("response", g.Reason, tok)
		return false
	}
	e.processed = true

	latency := e.clock.Elapsed()
	remaining, _ := e.clock.Resolve(tok)
	spec := e.modules[e.moduleIdx]
	correct := resp == model.ResponseFor(e.shown)
	out := e.stair.RegisterResponse(correct)

	rec := model.TrialRecord{
		Trial:        e.trial,
		ModuleIndex:  e.moduleIdx,
		Direction:    e.shown,
		Response:     resp,
		Correct:      correct,
		Contrast:     out.Presented,
		SpatialFreq:  spec.SpatialFreq,
		TemporalFreq: spec.TemporalFreq,
		Reversal:     out.Reversal,
		Timestamp:    e.loop.Now(),
	}
	if resp != model.ResponseTimeout {
		rec.ResponseTimeMs = latency.Milliseconds()
	}
	e.moduleTrials = append(e.moduleTrials, rec)
	e.phase = PhaseResolving
	e.emit(Event{Kind: EventTrialResolved, Trial: &rec})

	e.advance(remaining)
	return true
}
