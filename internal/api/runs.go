package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

const defaultListLimit = 50

// StartRunRequest is the body of POST /v1/runs. Document holds the workflow
// document as YAML or JSON text. Query is an optional jq program applied to
// the run result; ?query= overrides it.
type StartRunRequest struct {
	Document   string         `json:"document" binding:"required"`
	WorkflowID string         `json:"workflowId"`
	Inputs     map[string]any `json:"inputs"`
	Query      string         `json:"query"`
}

// ValidateRequest is the body of POST /v1/validate.
type ValidateRequest struct {
	Document string `json:"document" binding:"required"`
}

// RunsListResponse is the body of GET /v1/runs.
type RunsListResponse struct {
	Runs  []*store.Run `json:"runs"`
	Count int          `json:"count"`
}

func (s *Server) startRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if q := c.Query("query"); q != "" {
		req.Query = q
	}

	ctx := c.Request.Context()
	result, err := s.svc.RunBytes(ctx, []byte(req.Document), req.WorkflowID, req.Inputs)
	if err != nil {
		writeError(c, err)
		return
	}

	out, err := s.svc.Query(ctx, req.Query, result)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listRuns(c *gin.Context) {
	filter := store.RunFilter{
		WorkflowID: c.Query("workflowId"),
		Limit:      queryInt(c, "limit", defaultListLimit),
		Offset:     queryInt(c, "offset", 0),
	}
	if v := c.Query("status"); v != "" {
		status := schema.RunStatus(v)
		filter.Status = &status
	}

	runs, err := s.svc.ListRuns(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	c.JSON(http.StatusOK, RunsListResponse{Runs: runs, Count: len(runs)})
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.svc.GetRun(c.Request.Context(), c.Param("runID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getRunEvents(c *gin.Context) {
	events, err := s.svc.RunEvents(c.Request.Context(), c.Param("runID"))
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) getRunSteps(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("runID")
	if _, err := s.svc.GetRun(ctx, runID); err != nil {
		writeError(c, err)
		return
	}
	steps, err := s.svc.StepSummaries(ctx, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps})
}

func (s *Server) validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	result, err := s.svc.ValidateBytes([]byte(req.Document))
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !result.Valid() {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"valid": result.Valid(), "errors": result.Errors, "warnings": result.Warnings})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
