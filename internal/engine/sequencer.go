package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/verte-zerg/dcsf/internal/model"
	"github.com/verte-zerg/dcsf/internal/staircase"
)

func (e *Engine) startModule(idx int) {
	e.moduleIdx = idx
	e.stair = staircase.New(e.modules[idx])
	e.trial = 0
	e.moduleTrials = nil
	e.moduleStart = e.loop.Now()
	e.gapEndsAt = time.Time{}
	e.source.ResetModule()
	e.phase = PhaseNone
	e.setState(StateModuleActive)
	e.logger.Debug("module started",
		zap.String("run_id", e.runID),
		zap.Int("module", idx+1),
		zap.Float64("spatial", e.modules[idx].SpatialFreq),
		zap.Float64("temporal", e.modules[idx].TemporalFreq),
	)
	e.beginTrial()
}

// beginTrial starts the next trial, or parks in PhaseAwaitingOperator until
// a manual direction is supplied.
func (e *Engine) beginTrial() {
	if e.state != StateModuleActive {
		return
	}
	dir, ok := e.source.Next()
	if !ok {
		e.clock.Invalidate()
		e.resetTrial()
		e.setPhase(PhaseAwaitingOperator)
		return
	}
	spec := e.modules[e.moduleIdx]
	e.trial++
	e.token = e.clock.StartTrial(spec.Duration(), spec.Interval(), e.onDisplayEnd, e.onTimeout)
	e.processed = false
	e.shown = dir
	e.visible = true
	e.phase = PhaseDisplaying
	e.emit(Event{Kind: EventTrialStarted})
}

// advance decides what follows a resolved trial: completion, forced
// completion at the trial cap, or the next trial once the rest of the
// trial slot has elapsed.
func (e *Engine) advance(remaining time.Duration) {
	switch {
	case e.stair.Complete():
		e.completeModule(false)
	case e.trial >= e.trialCap:
		e.logger.Warn("trial cap reached, forcing module completion",
			zap.String("run_id", e.runID),
			zap.Int("module", e.moduleIdx+1),
			zap.Int("trials", e.trial),
			zap.Int("reversals", e.stair.State().Reversals),
		)
		e.completeModule(true)
	default:
		e.clock.After(remaining, e.beginTrial)
	}
}

func (e *Engine) completeModule(forced bool) {
	g := CanCompleteModule(ModuleContext{State: e.state, ModuleIndex: e.moduleIdx, Recorded: e.results})
	if !g.Allowed {
		e.reject("module completion", g.Reason, e.token)
		return
	}
	spec := e.modules[e.moduleIdx]
	st := e.stair.State()
	res := model.ModuleResult{
		ModuleIndex:   e.moduleIdx,
		ModuleID:      spec.ID,
		Threshold:     e.stair.Threshold(e.run.Basic.ResultReversalN),
		Trials:        e.moduleTrials,
		SpatialFreq:   spec.SpatialFreq,
		TemporalFreq:  spec.TemporalFreq,
		ReversalCount: st.Reversals,
		TotalTrials:   len(e.moduleTrials),
		DurationMs:    e.loop.Now().Sub(e.moduleStart).Milliseconds(),
		Forced:        forced,
	}
	e.results = append(e.results, res)
	e.trials = append(e.trials, e.moduleTrials...)
	e.moduleTrials = nil
	e.logger.Info("module completed",
		zap.String("run_id", e.runID),
		zap.Int("module", e.moduleIdx+1),
		zap.Float64("threshold", res.Threshold),
		zap.Int("trials", res.TotalTrials),
		zap.Bool("forced", forced),
	)
	e.emit(Event{Kind: EventModuleCompleted, Module: &res})

	if e.moduleIdx == len(e.modules)-1 {
		e.finish()
		return
	}
	gap := e.run.Basic.ModuleGap()
	next := e.moduleIdx + 1
	e.gapEndsAt = e.loop.Now().Add(gap)
	e.phase = PhaseNone
	e.setState(StateModuleGap)
	e.clock.After(gap, func() {
		if e.state != StateModuleGap {
			e.reject("gap end", "engine is "+e.state.String(), e.token)
			return
		}
		e.startModule(next)
	})
}
