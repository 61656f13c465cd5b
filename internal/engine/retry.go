package engine

import (
	"context"
	"time"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// WaitForBackoff sleeps for delay or returns early if the context is cancelled.
// Returns an error if the context was cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelledError wraps a context error as a CANCELLED WrkfloError.
func CancelledError(stepID string, cause error) *schema.WrkfloError {
	return schema.NewErrorf(schema.ErrCodeCancelled, "run cancelled: %v", cause).
		WithStep(stepID).WithCause(cause)
}
