package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/dcsf/internal/model"
	"github.com/verte-zerg/dcsf/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func setupServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "dcsf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewServer(st, nil), st
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(path, "/api/") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func validSession(runID string) model.SessionRecord {
	started := time.Date(2026, 2, 3, 14, 0, 0, 0, time.UTC)
	trials := []model.TrialRecord{
		{Trial: 1, Direction: model.DirLeft, Response: "left", Correct: true, Contrast: 50, SpatialFreq: 4,
			TemporalFreq: 2, ResponseTimeMs: 300, Timestamp: started},
		{Trial: 2, Direction: model.DirRight, Response: "left", Contrast: 40, SpatialFreq: 4,
			TemporalFreq: 2, Reversal: true, ResponseTimeMs: 500, Timestamp: started.Add(2 * time.Second)},
	}
	return model.SessionRecord{
		RunID:     runID,
		PatientID: "p-1",
		TestName:  "default",
		Eye:       model.EyeBoth,
		Mode:      model.ModeAuto,
		Basic: model.BasicConfig{
			Name:            "default",
			BgRGB:           "128,128,128",
			Orientation:     model.OrientationVertical,
			GratingGray:     128,
			ModuleGapSec:    1,
			Order:           model.OrderFixed,
			ResultReversalN: 6,
			Mode:            model.ModeAuto,
		},
		Modules: []model.ModuleSpec{{ID: 1, Name: "Module 1", SpatialFreq: 4, TemporalFreq: 2, IntervalSec: 1,
			DurationSec: 1, InitialContrast: 50, UpRule: 1, DownRule: 1, ReversalTarget: 1, StepCorrect: 80,
			StepWrong: 120}},
		ModuleResults: []model.ModuleResult{{ModuleID: 1, Threshold: 40, Trials: trials, SpatialFreq: 4,
			TemporalFreq: 2, ReversalCount: 1, TotalTrials: 2, DurationMs: 2000}},
		Trials:          trials,
		StartedAt:       started,
		FinishedAt:      started.Add(4 * time.Second),
		TotalDurationMs: 4000,
	}
}

func TestHealth(t *testing.T) {
	s, _ := setupServer(t)
	w, env := do(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.OK)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestSubmitSessionRoundTrip(t *testing.T) {
	s, _ := setupServer(t)
	rec := validSession("8d0f4a55-3a43-4f0e-9d7e-0b8e8c0f6a21")

	w, env := do(t, s, http.MethodPost, "/api/test-sessions", rec)
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	var res SubmitResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.NotZero(t, res.ID)

	w, env = do(t, s, http.MethodPost, "/api/test-sessions", rec)
	require.Equal(t, http.StatusOK, w.Code)
	var again SubmitResult
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, res.ID, again.ID, "resubmitting a run id is idempotent")

	w, env = do(t, s, http.MethodGet, "/api/test-sessions?patientId=p-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []model.SessionSummary
	require.NoError(t, json.Unmarshal(env.Data, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, []float64{40}, sessions[0].Thresholds)

	w, env = do(t, s, http.MethodGet, "/api/test-sessions/"+strconv.FormatInt(res.ID, 10), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.SessionRecord
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, rec.RunID, got.RunID)
	assert.Len(t, got.Trials, 2)
	assert.Equal(t, model.EyeBoth, got.Eye)

	m := s.Metrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsSubmitted.WithLabelValues("ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.trialsRecorded))
}

func TestSubmitSessionRejectsInvalidPayload(t *testing.T) {
	s, _ := setupServer(t)
	rec := validSession("not-a-uuid")
	rec.Eye = "X"

	w, env := do(t, s, http.MethodPost, "/api/test-sessions", rec)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.OK)
	assert.Contains(t, env.Message, "RunID")
	assert.Contains(t, env.Message, "Eye")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().sessionsSubmitted.WithLabelValues("invalid")))

	req := httptest.NewRequest(http.MethodPost, "/api/test-sessions", strings.NewReader("{"))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestGetSessionErrors(t *testing.T) {
	s, _ := setupServer(t)
	w, env := do(t, s, http.MethodGet, "/api/test-sessions/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.OK)

	w, _ = do(t, s, http.MethodGet, "/api/test-sessions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSessionsEmptyIsArray(t *testing.T) {
	s, _ := setupServer(t)
	w, env := do(t, s, http.MethodGet, "/api/test-sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestPatients(t *testing.T) {
	s, _ := setupServer(t)
	p := model.Patient{ID: "p-9", Name: "Chen", Gender: "M", Birthday: "1979-11-02"}

	w, env := do(t, s, http.MethodPost, "/api/patients", p)
	require.Equal(t, http.StatusCreated, w.Code, env.Message)

	w, _ = do(t, s, http.MethodPost, "/api/patients", p)
	assert.Equal(t, http.StatusConflict, w.Code)

	bad := model.Patient{Name: "No Birthday", Gender: "F", Birthday: "02/11/1979"}
	w, env = do(t, s, http.MethodPost, "/api/patients", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Message, "Birthday")

	w, env = do(t, s, http.MethodGet, "/api/patients", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []model.Patient
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, []model.Patient{p}, list)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := setupServer(t)
	do(t, s, http.MethodPost, "/api/test-sessions", validSession("5b1b8c1e-6f0a-4b8e-8c44-2f1f0f3c9d10"))

	w, _ := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `dcsf_sessions_submitted_total{result="ok"} 1`)
	assert.Contains(t, body, "dcsf_module_threshold_count 1")
}
