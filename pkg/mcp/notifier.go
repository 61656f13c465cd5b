package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/seanchatmangpt/wrkflo/internal/engine"
)

// RunNotifier tells the calling client when a run finishes.
type RunNotifier struct {
	logger *slog.Logger
}

// NewRunNotifier creates a notifier.
func NewRunNotifier(logger *slog.Logger) *RunNotifier {
	return &RunNotifier{logger: logger}
}

// RunFinished sends a notifications/message to the client session in ctx.
// Best-effort: nothing is sent outside an initialized session.
func (n *RunNotifier) RunFinished(ctx context.Context, result *engine.RunResult) {
	srv := server.ServerFromContext(ctx)
	if srv == nil || result == nil {
		return
	}
	payload := map[string]any{
		"level":  "info",
		"logger": "wrkflo",
		"data": map[string]any{
			"run_id":      result.RunID,
			"workflow_id": result.WorkflowID,
			"status":      result.Status,
		},
	}
	err := srv.SendNotificationToClient(ctx, "notifications/message", payload)
	if err != nil && !errors.Is(err, server.ErrNotificationNotInitialized) {
		n.logger.Debug("run notification not delivered", slog.String("error", err.Error()))
	}
}
