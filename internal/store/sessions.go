package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/verte-zerg/dcsf/internal/model"
)

// SubmitSession stores a finished session with its module snapshots,
// results and trials in one transaction. A run id that is already stored
// returns the existing id without writing.
func (s *Store) SubmitSession(ctx context.Context, rec model.SessionRecord) (id int64, err error) {
	if rec.RunID == "" {
		return 0, fmt.Errorf("session has no run id")
	}
	existing, err := s.sessionIDForRun(ctx, rec.RunID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	b := rec.Basic
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (run_id, patient_id, test_name, eye, mode, bg_rgb, bg_luminance, grating_size_deg,
			orientation, grating_gray, avg_luminance, distance_cm, screen_w_cm, screen_h_cm, module_gap_sec,
			module_order, result_reversal_n, show_params, started_at, finished_at, total_duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.PatientID, rec.TestName, string(rec.Eye), string(rec.Mode),
		b.BgRGB, b.BgLuminance, b.GratingSizeDeg, string(b.Orientation), b.GratingGray, b.AvgLuminance,
		b.DistanceCm, b.ScreenWCm, b.ScreenHCm, b.ModuleGapSec, string(b.Order), b.ResultReversalN,
		boolInt(b.ShowParams),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		rec.TotalDurationMs,
	)
	if err != nil {
		return 0, err
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err = insertModules(ctx, tx, id, rec.Modules); err != nil {
		return 0, err
	}
	if err = insertResults(ctx, tx, id, rec.ModuleResults); err != nil {
		return 0, err
	}
	if err = insertTrials(ctx, tx, id, rec.Trials); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) sessionIDForRun(ctx context.Context, runID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sessions WHERE run_id = ?`, runID).Scan(&id)
	return id, err
}

func insertModules(ctx context.Context, tx *sql.Tx, sessionID int64, modules []model.ModuleSpec) error {
	if len(modules) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_modules (session_id, module_index, module_id, name, spatial, temporal, interval_sec,
			duration_sec, initial_contrast, up_rule, down_rule, reversal_target, step_correct, step_wrong)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer closeStmt(stmt)
	for i, m := range modules {
		if _, err := stmt.ExecContext(ctx, sessionID, i+1, m.ID, m.Name, m.SpatialFreq, m.TemporalFreq,
			m.IntervalSec, m.DurationSec, m.InitialContrast, m.UpRule, m.DownRule, m.ReversalTarget,
			m.StepCorrect, m.StepWrong); err != nil {
			return err
		}
	}
	return nil
}

func insertResults(ctx context.Context, tx *sql.Tx, sessionID int64, results []model.ModuleResult) error {
	if len(results) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO module_results (session_id, module_index, module_id, threshold, spatial, temporal,
			reversal_count, total_trials, duration_ms, forced)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer closeStmt(stmt)
	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, sessionID, r.ModuleIndex+1, r.ModuleID, r.Threshold, r.SpatialFreq,
			r.TemporalFreq, r.ReversalCount, r.TotalTrials, r.DurationMs, boolInt(r.Forced)); err != nil {
			return err
		}
	}
	return nil
}

func insertTrials(ctx context.Context, tx *sql.Tx, sessionID int64, trials []model.TrialRecord) error {
	if len(trials) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trials (session_id, module_index, trial_index, direction, response, correct, contrast,
			spatial, temporal, is_reversal, response_time_ms, trial_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer closeStmt(stmt)
	for _, t := range trials {
		latency := sql.NullInt64{Int64: t.ResponseTimeMs, Valid: t.Response != model.ResponseTimeout}
		if _, err := stmt.ExecContext(ctx, sessionID, t.ModuleIndex+1, t.Trial, string(t.Direction),
			string(t.Response), boolInt(t.Correct), t.Contrast, t.SpatialFreq, t.TemporalFreq,
			boolInt(t.Reversal), latency, t.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return nil
}

func closeStmt(stmt *sql.Stmt) {
	if cerr := stmt.Close(); cerr != nil {
		// Best-effort statement close.
		_ = cerr
	}
}

// LoadPriorSessions lists a patient's sessions, newest first.
func (s *Store) LoadPriorSessions(ctx context.Context, patientID string) ([]model.SessionSummary, error) {
	return s.ListSessions(ctx, patientID)
}

// ListSessions returns session summaries with their module thresholds,
// newest first. An empty patientID lists every session.
func (s *Store) ListSessions(ctx context.Context, patientID string) ([]model.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, patient_id, test_name, eye, mode, started_at, finished_at, total_duration_ms
		 FROM sessions
		 WHERE (? = '' OR patient_id = ?)
		 ORDER BY started_at DESC, id DESC`, patientID, patientID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var sessions []model.SessionSummary
	index := map[int64]int{}
	for rows.Next() {
		var sum model.SessionSummary
		var eye, mode, startedAt, finishedAt string
		if err := rows.Scan(&sum.ID, &sum.RunID, &sum.PatientID, &sum.TestName, &eye, &mode,
			&startedAt, &finishedAt, &sum.TotalDurationMs); err != nil {
			return nil, err
		}
		sum.Eye = model.Eye(eye)
		sum.Mode = model.Mode(mode)
		if sum.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, err
		}
		if sum.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
			return nil, err
		}
		index[sum.ID] = len(sessions)
		sessions = append(sessions, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	args := make([]any, 0, len(sessions))
	for _, sum := range sessions {
		args = append(args, sum.ID)
	}
	query := fmt.Sprintf(`SELECT session_id, threshold FROM module_results
		WHERE session_id IN (%s)
		ORDER BY session_id, module_index`, placeholders(len(args)))
	trows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeRows(trows)
	for trows.Next() {
		var sessionID int64
		var threshold float64
		if err := trows.Scan(&sessionID, &threshold); err != nil {
			return nil, err
		}
		i := index[sessionID]
		sessions[i].Thresholds = append(sessions[i].Thresholds, threshold)
	}
	if err := trows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession loads a full session record.
func (s *Store) GetSession(ctx context.Context, id int64) (model.SessionRecord, error) {
	var rec model.SessionRecord
	var eye, mode, orientation, order, startedAt, finishedAt string
	var showParams int
	b := &rec.Basic
	err := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, patient_id, test_name, eye, mode, bg_rgb, bg_luminance, grating_size_deg,
			orientation, grating_gray, avg_luminance, distance_cm, screen_w_cm, screen_h_cm, module_gap_sec,
			module_order, result_reversal_n, show_params, started_at, finished_at, total_duration_ms
		 FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.RunID, &rec.PatientID, &rec.TestName, &eye, &mode, &b.BgRGB, &b.BgLuminance,
		&b.GratingSizeDeg, &orientation, &b.GratingGray, &b.AvgLuminance, &b.DistanceCm, &b.ScreenWCm,
		&b.ScreenHCm, &b.ModuleGapSec, &order, &b.ResultReversalN, &showParams, &startedAt, &finishedAt,
		&rec.TotalDurationMs)
	if err != nil {
		return model.SessionRecord{}, wrapNotFound(err, fmt.Sprintf("session %d", id))
	}
	rec.Eye = model.Eye(eye)
	rec.Mode = model.Mode(mode)
	b.Name = rec.TestName
	b.Mode = rec.Mode
	b.Orientation = model.Orientation(orientation)
	b.Order = model.Order(order)
	b.ShowParams = showParams != 0
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return model.SessionRecord{}, err
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return model.SessionRecord{}, err
	}

	if rec.Modules, err = s.sessionModules(ctx, id); err != nil {
		return model.SessionRecord{}, err
	}
	if rec.Trials, err = s.sessionTrials(ctx, id); err != nil {
		return model.SessionRecord{}, err
	}
	if rec.ModuleResults, err = s.sessionResults(ctx, id, rec.Trials); err != nil {
		return model.SessionRecord{}, err
	}
	return rec, nil
}

func (s *Store) sessionModules(ctx context.Context, sessionID int64) ([]model.ModuleSpec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module_id, name, spatial, temporal, interval_sec, duration_sec, initial_contrast, up_rule,
			down_rule, reversal_target, step_correct, step_wrong
		 FROM session_modules WHERE session_id = ? ORDER BY module_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var modules []model.ModuleSpec
	for rows.Next() {
		var m model.ModuleSpec
		if err := rows.Scan(&m.ID, &m.Name, &m.SpatialFreq, &m.TemporalFreq, &m.IntervalSec, &m.DurationSec,
			&m.InitialContrast, &m.UpRule, &m.DownRule, &m.ReversalTarget, &m.StepCorrect, &m.StepWrong); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

func (s *Store) sessionTrials(ctx context.Context, sessionID int64) ([]model.TrialRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module_index, trial_index, direction, response, correct, contrast, spatial, temporal,
			is_reversal, response_time_ms, trial_timestamp
		 FROM trials WHERE session_id = ? ORDER BY module_index, trial_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var trials []model.TrialRecord
	for rows.Next() {
		var t model.TrialRecord
		var direction, response, ts string
		var correct, reversal int
		var latency sql.NullInt64
		if err := rows.Scan(&t.ModuleIndex, &t.Trial, &direction, &response, &correct, &t.Contrast,
			&t.SpatialFreq, &t.TemporalFreq, &reversal, &latency, &ts); err != nil {
			return nil, err
		}
		t.ModuleIndex--
		t.Direction = model.Direction(direction)
		t.Response = model.Response(response)
		t.Correct = correct != 0
		t.Reversal = reversal != 0
		if latency.Valid {
			t.ResponseTimeMs = latency.Int64
		}
		if t.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, err
		}
		trials = append(trials, t)
	}
	return trials, rows.Err()
}

// sessionResults loads module results and attaches each module's trials.
func (s *Store) sessionResults(ctx context.Context, sessionID int64, trials []model.TrialRecord) ([]model.ModuleResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module_index, module_id, threshold, spatial, temporal, reversal_count, total_trials,
			duration_ms, forced
		 FROM module_results WHERE session_id = ? ORDER BY module_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var results []model.ModuleResult
	for rows.Next() {
		var r model.ModuleResult
		var forced int
		if err := rows.Scan(&r.ModuleIndex, &r.ModuleID, &r.Threshold, &r.SpatialFreq, &r.TemporalFreq,
			&r.ReversalCount, &r.TotalTrials, &r.DurationMs, &forced); err != nil {
			return nil, err
		}
		r.ModuleIndex--
		r.Forced = forced != 0
		for _, t := range trials {
			if t.ModuleIndex == r.ModuleIndex {
				r.Trials = append(r.Trials, t)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
