// Package api serves the session persistence collaborator over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/verte-zerg/dcsf/internal/model"
)

// Backend is the storage the collaborator serves. *store.Store implements it.
type Backend interface {
	SubmitSession(ctx context.Context, rec model.SessionRecord) (int64, error)
	ListSessions(ctx context.Context, patientID string) ([]model.SessionSummary, error)
	GetSession(ctx context.Context, id int64) (model.SessionRecord, error)
	ListPatients(ctx context.Context) ([]model.Patient, error)
	InsertPatient(ctx context.Context, p model.Patient) (model.Patient, error)
}

// Server wires handlers, middleware and metrics.
type Server struct {
	backend Backend
	logger  *zap.Logger
	metrics *Metrics
	router  *gin.Engine
}

// NewServer builds the router. logger may be nil.
func NewServer(backend Backend, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		backend: backend,
		logger:  logger,
		metrics: NewMetrics(),
	}
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())
	s.registerRoutes(router)
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// registerRoutes registers:
//
//	GET  /api/health
//	POST /api/test-sessions
//	GET  /api/test-sessions?patientId=
//	GET  /api/test-sessions/:id
//	GET  /api/patients
//	POST /api/patients
//	GET  /metrics
func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/test-sessions", s.handleSubmitSession)
		api.GET("/test-sessions", s.handleListSessions)
		api.GET("/test-sessions/:id", s.handleGetSession)
		api.GET("/patients", s.handleListPatients)
		api.POST("/patients", s.handleCreatePatient)
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
