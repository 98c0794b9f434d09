package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/verte-zerg/dcsf/internal/model"
	"github.com/verte-zerg/dcsf/internal/store"
)

// Response is the envelope of every API reply.
type Response struct {
	OK      bool   `json:"ok"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// SubmitResult is the data of a successful session submission.
type SubmitResult struct {
	ID int64 `json:"id"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Response{OK: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{OK: false, Message: msg})
}

func (s *Server) handleHealth(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSubmitSession(c *gin.Context) {
	var rec model.SessionRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		s.metrics.sessionsSubmitted.WithLabelValues("invalid").Inc()
		fail(c, http.StatusBadRequest, "invalid session payload: "+err.Error())
		return
	}
	if err := model.Validate(rec); err != nil {
		s.metrics.sessionsSubmitted.WithLabelValues("invalid").Inc()
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.backend.SubmitSession(c.Request.Context(), rec)
	if err != nil {
		s.metrics.sessionsSubmitted.WithLabelValues("error").Inc()
		s.logger.Error("session submission failed", zap.String("run_id", rec.RunID), zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.sessionsSubmitted.WithLabelValues("ok").Inc()
	s.metrics.trialsRecorded.Add(float64(len(rec.Trials)))
	for _, r := range rec.ModuleResults {
		s.metrics.moduleThreshold.Observe(r.Threshold)
	}
	s.logger.Info("session stored", zap.String("run_id", rec.RunID), zap.Int64("session_id", id))
	ok(c, http.StatusOK, SubmitResult{ID: id})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.backend.ListSessions(c.Request.Context(), c.Query("patientId"))
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []model.SessionSummary{}
	}
	ok(c, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid session id")
		return
	}
	rec, err := s.backend.GetSession(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, rec)
}

func (s *Server) handleListPatients(c *gin.Context) {
	patients, err := s.backend.ListPatients(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if patients == nil {
		patients = []model.Patient{}
	}
	ok(c, http.StatusOK, patients)
}

func (s *Server) handleCreatePatient(c *gin.Context) {
	var p model.Patient
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, http.StatusBadRequest, "invalid patient payload: "+err.Error())
		return
	}
	if err := model.Validate(p); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.backend.InsertPatient(c.Request.Context(), p)
	if errors.Is(err, store.ErrPatientExists) {
		fail(c, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusCreated, created)
}
