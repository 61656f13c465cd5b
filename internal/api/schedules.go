package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// CreateScheduleRequest is the body of POST /v1/schedules. DocumentPath is
// read by the server when the job fires.
type CreateScheduleRequest struct {
	DocumentPath   string         `json:"documentPath" binding:"required"`
	WorkflowID     string         `json:"workflowId"`
	CronExpression string         `json:"cron" binding:"required"`
	Inputs         map[string]any `json:"inputs"`
	Disabled       bool           `json:"disabled"`
}

func (s *Server) schedulerEnabled(c *gin.Context) bool {
	if s.sched == nil {
		writeError(c, schema.NewError(schema.ErrCodeStore, "scheduler is disabled"))
		return false
	}
	return true
}

func (s *Server) listSchedules(c *gin.Context) {
	if !s.schedulerEnabled(c) {
		return
	}
	jobs, err := s.sched.List(c.Request.Context(), store.ScheduledJobFilter{
		WorkflowID: c.Query("workflowId"),
		Limit:      queryInt(c, "limit", 0),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*store.ScheduledJob{}
	}
	c.JSON(http.StatusOK, gin.H{"schedules": jobs, "count": len(jobs)})
}

func (s *Server) createSchedule(c *gin.Context) {
	if !s.schedulerEnabled(c) {
		return
	}
	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	job := &store.ScheduledJob{
		DocumentPath:   req.DocumentPath,
		WorkflowID:     req.WorkflowID,
		CronExpression: req.CronExpression,
		Enabled:        !req.Disabled,
	}
	if len(req.Inputs) > 0 {
		raw, err := json.Marshal(req.Inputs)
		if err != nil {
			badRequest(c, "invalid inputs: "+err.Error())
			return
		}
		job.Inputs = raw
	}

	if err := s.sched.Add(c.Request.Context(), job); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	if !s.schedulerEnabled(c) {
		return
	}
	if err := s.sched.Remove(c.Request.Context(), c.Param("jobID")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
