package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/verte-zerg/dcsf/internal/model"
)

// Persister stores finished sessions. Implementations are called off the
// engine loop.
type Persister interface {
	// SubmitSession stores rec and returns its id. Submitting the same
	// RunID twice must return the existing id.
	SubmitSession(ctx context.Context, rec model.SessionRecord) (int64, error)
	// LoadPriorSessions lists a patient's sessions, newest first.
	LoadPriorSessions(ctx context.Context, patientID string) ([]model.SessionSummary, error)
}

// finish assembles the session record and submits it once.
func (e *Engine) finish() {
	if g := CanSubmitSession(e.submitted); !g.Allowed {
		e.reject("session submit", g.Reason, e.token)
		return
	}
	e.submitted = true
	e.clock.Invalidate()
	e.resetTrial()
	e.phase = PhaseNone

	rec := e.buildRecord()
	e.record = &rec
	if e.persister == nil {
		e.submission = Submission{Done: true, Skipped: true}
	} else {
		e.submission = Submission{Pending: true}
	}
	e.setState(StateFinished)
	e.logger.Info("test finished",
		zap.String("run_id", rec.RunID),
		zap.Int("modules", len(rec.ModuleResults)),
		zap.Int("trials", len(rec.Trials)),
		zap.Int64("duration_ms", rec.TotalDurationMs),
	)
	e.emit(Event{Kind: EventSessionFinished})
	if e.persister == nil {
		return
	}
	e.submit(rec)
}

func (e *Engine) buildRecord() model.SessionRecord {
	now := e.loop.Now()
	modules := make([]model.ModuleSpec, len(e.modules))
	copy(modules, e.modules)
	results := make([]model.ModuleResult, len(e.results))
	copy(results, e.results)
	trials := make([]model.TrialRecord, len(e.trials))
	copy(trials, e.trials)
	return model.SessionRecord{
		RunID:           e.runID,
		PatientID:       e.run.PatientID,
		TestName:        e.run.Basic.Name,
		Eye:             e.run.Eye,
		Mode:            e.run.Basic.Mode,
		Basic:           e.run.Basic,
		Modules:         modules,
		ModuleResults:   results,
		Trials:          trials,
		StartedAt:       e.started,
		FinishedAt:      now,
		TotalDurationMs: now.Sub(e.started).Milliseconds(),
	}
}

// submit runs the persistence round-trip off the loop. Failures are not
// retried; the result is applied only if the run was not reset meanwhile.
func (e *Engine) submit(rec model.SessionRecord) {
	gen := e.generation
	persister := e.persister
	timeout := e.submitTimeout
	e.loop.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		id, err := persister.SubmitSession(ctx, rec)
		var history []model.SessionSummary
		var historyErr error
		if err == nil {
			history, historyErr = persister.LoadPriorSessions(ctx, rec.PatientID)
		}
		return func() {
			if gen != e.generation {
				e.logger.Debug("submission result dropped after reset", zap.String("run_id", rec.RunID))
				return
			}
			e.applySubmission(id, err, history, historyErr)
		}
	})
}

func (e *Engine) applySubmission(id int64, err error, history []model.SessionSummary, historyErr error) {
	if err != nil {
		e.submission = Submission{Done: true, Err: err}
		e.logger.Error("session submission failed", zap.String("run_id", e.runID), zap.Error(err))
		e.emit(Event{Kind: EventSubmissionFailed, Err: err})
		return
	}
	e.submission = Submission{Done: true, SessionID: id}
	if e.record != nil {
		e.record.ID = id
	}
	if historyErr != nil {
		e.logger.Warn("failed to load session history", zap.String("run_id", e.runID), zap.Error(historyErr))
	} else {
		e.history = history
	}
	e.logger.Info("session saved", zap.String("run_id", e.runID), zap.Int64("session_id", id))
	e.emit(Event{Kind: EventSubmissionSucceeded})
}
