package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/seanchatmangpt/wrkflo/internal/engine"
	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

const defaultHistoryLimit = 20

// handleRun loads a document and runs one of its workflows.
func (s *WrkfloServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	document := req.GetString("document", "")
	if path == "" && document == "" {
		return mcp.NewToolResultError("path or document is required"), nil
	}
	workflowID := req.GetString("workflow_id", "")
	inputs := mcp.ParseStringMap(req, "inputs", nil)

	var (
		result *engine.RunResult
		err    error
	)
	if path != "" {
		result, err = s.svc.RunFile(ctx, path, workflowID, inputs)
	} else {
		result, err = s.svc.RunBytes(ctx, []byte(document), workflowID, inputs)
	}
	if err != nil {
		return toolError("run failed", err), nil
	}
	s.notifier.RunFinished(ctx, result)

	out, err := s.svc.Query(ctx, req.GetString("query", ""), result)
	if err != nil {
		return toolError("query failed", err), nil
	}
	return marshalResult(out)
}

// handleValidate checks a document and reports every issue found.
func (s *WrkfloServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	document := req.GetString("document", "")
	if path == "" && document == "" {
		return mcp.NewToolResultError("path or document is required"), nil
	}

	var (
		result *schema.ValidationResult
		err    error
	)
	if path != "" {
		result, err = s.svc.ValidateFile(ctx, path)
	} else {
		result, err = s.svc.ValidateBytes([]byte(document))
	}
	if err != nil {
		return toolError("document could not be read", err), nil
	}

	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleHistory lists runs, or shows one run with its event log.
func (s *WrkfloServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if runID := req.GetString("run_id", ""); runID != "" {
		run, err := s.svc.GetRun(ctx, runID)
		if err != nil {
			return toolError("run lookup failed", err), nil
		}
		events, err := s.svc.RunEvents(ctx, runID)
		if err != nil {
			return toolError("event lookup failed", err), nil
		}
		return marshalResult(map[string]any{"run": run, "events": events})
	}

	filter := store.RunFilter{
		WorkflowID: req.GetString("workflow_id", ""),
		Limit:      req.GetInt("limit", defaultHistoryLimit),
	}
	if status := req.GetString("status", ""); status != "" {
		st := schema.RunStatus(status)
		filter.Status = &st
	}
	runs, err := s.svc.ListRuns(ctx, filter)
	if err != nil {
		return toolError("run listing failed", err), nil
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	return marshalResult(map[string]any{"runs": runs, "count": len(runs)})
}

func toolError(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
