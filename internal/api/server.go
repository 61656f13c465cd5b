// Package api serves workflow runs, validation and run history over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seanchatmangpt/wrkflo/internal/scheduler"
	"github.com/seanchatmangpt/wrkflo/internal/service"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// Server implements the HTTP API.
type Server struct {
	svc     *service.Service
	sched   *scheduler.Scheduler
	logger  *slog.Logger
	version string
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Status  int            `json:"status"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string               `json:"status"`
	Version   string               `json:"version"`
	History   bool                 `json:"history"`
	Scheduler *scheduler.PoolStats `json:"scheduler,omitempty"`
}

// NewServer creates an API server. sched may be nil, which disables the
// schedule endpoints.
func NewServer(svc *service.Service, sched *scheduler.Scheduler, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, sched: sched, logger: logger, version: version}
}

// SetupRoutes configures and returns the router with every endpoint.
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return s.logger
		}),
	))

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/runs", s.startRun)
		v1.GET("/runs", s.listRuns)
		v1.GET("/runs/:runID", s.getRun)
		v1.GET("/runs/:runID/events", s.getRunEvents)
		v1.GET("/runs/:runID/steps", s.getRunSteps)

		v1.POST("/validate", s.validate)

		v1.GET("/schedules", s.listSchedules)
		v1.POST("/schedules", s.createSchedule)
		v1.DELETE("/schedules/:jobID", s.deleteSchedule)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		History: s.svc.Store() != nil,
	}
	if s.sched != nil {
		stats := s.sched.Stats()
		resp.Scheduler = &stats
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps err to a status code by its error code and writes it.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: schema.CodeOf(err), Status: status}
	var werr *schema.WrkfloError
	if errors.As(err, &werr) {
		resp.Details = werr.Details
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:  msg,
		Code:   schema.ErrCodeValidation,
		Status: http.StatusBadRequest,
	})
}

func statusFor(err error) int {
	switch schema.CodeOf(err) {
	case schema.ErrCodeValidation, schema.ErrCodeQuery:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
