package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrkfloError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeOperationNotFound, "operation %q not found", "getPet")
	assert.Equal(t, `[OPERATION_NOT_FOUND] operation "getPet" not found`, err.Error())

	err.WithStep("fetch")
	assert.Equal(t, `[OPERATION_NOT_FOUND] step fetch: operation "getPet" not found`, err.Error())
}

func TestWrkfloError_Unwrap(t *testing.T) {
	root := errors.New("connection refused")
	err := NewError(ErrCodeTransport, "call failed").WithCause(root)

	assert.ErrorIs(t, err, root)
	assert.ErrorIs(t, err, NewError(ErrCodeTransport, ""))
	assert.NotErrorIs(t, err, NewError(ErrCodeCancelled, ""))
}

func TestCodeOf(t *testing.T) {
	inner := NewError(ErrCodeUnknownRoot, "bad root")
	wrapped := fmt.Errorf("resolve: %w", inner)

	assert.Equal(t, ErrCodeUnknownRoot, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestHasCode(t *testing.T) {
	inner := NewError(ErrCodePattern, "bad pattern")
	outer := NewError(ErrCodeExecution, "criterion failed").WithCause(inner)

	assert.True(t, HasCode(outer, ErrCodePattern))
	assert.True(t, HasCode(outer, ErrCodeExecution))
	assert.False(t, HasCode(outer, ErrCodeQuery))
}

func TestStep_Targets(t *testing.T) {
	s := Step{StepID: "a", OperationID: "x"}
	assert.Equal(t, []TargetKind{TargetOperationID}, s.Targets())

	s.WorkflowID = "w"
	assert.Len(t, s.Targets(), 2)

	assert.Empty(t, (&Step{}).Targets())
}

func TestRunState_Status(t *testing.T) {
	assert.Equal(t, RunStatusSucceeded, RunStateSucceeded.Status())
	assert.Equal(t, RunStatusFailed, RunStateTerminated.Status())
	assert.Equal(t, RunStatusCancelled, RunStateCancelled.Status())
	assert.Equal(t, RunStatusRunning, RunStateRetrying.Status())
	assert.True(t, RunStateTerminated.Terminal())
	assert.False(t, RunStateRunning.Terminal())
}

func TestCriterion_DialectOrDefault(t *testing.T) {
	assert.Equal(t, DialectSimple, Criterion{Condition: "true"}.DialectOrDefault())
	assert.Equal(t, DialectJSONPath, Criterion{Type: "JSONPath"}.DialectOrDefault())
}
