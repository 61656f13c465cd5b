package engine

import (
	"context"
	"encoding/json"

	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// EventAppender is satisfied by the Store and EventLog; used by the FSM to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// RunFSM validates run state transitions and records each one in the event
// log. It holds no per-run state, so one RunFSM serves every run of an engine.
type RunFSM struct {
	appender EventAppender
}

// NewRunFSM creates a RunFSM that emits events via the given appender.
// A nil appender disables event emission.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{appender: appender}
}

// Transition validates and executes a run state transition and emits the
// corresponding event. payload, when non-nil, is stored with the event.
func (f *RunFSM) Transition(ctx context.Context, runID, stepID string, from, to schema.RunState, payload any) error {
	if !IsValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithStep(stepID).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	if eventType := transitionEventType(from, to); eventType != "" && f.appender != nil {
		event := &store.Event{RunID: runID, StepID: stepID, Type: eventType}
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err == nil {
				event.Payload = raw
			}
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).
				WithStep(stepID).WithCause(err)
		}
	}
	return nil
}

// IsValidTransition reports whether from -> to is in ValidRunTransitions.
func IsValidTransition(from, to schema.RunState) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// transitionEventType maps a transition to its history event. Step-level
// events other than retrying are emitted by the engine itself.
func transitionEventType(from, to schema.RunState) string {
	switch to {
	case schema.RunStateRunning:
		if from == schema.RunStateReady {
			return schema.EventRunStarted
		}
		return ""
	case schema.RunStateRetrying:
		return schema.EventStepRetrying
	case schema.RunStateSucceeded:
		return schema.EventRunSucceeded
	case schema.RunStateFailed:
		return schema.EventRunFailed
	case schema.RunStateTerminated:
		return schema.EventRunTerminated
	case schema.RunStateCancelled:
		return schema.EventRunCancelled
	default:
		return ""
	}
}

// ValidRunTransitions defines the allowed state transitions for a run.
// running -> running covers sequential flow and goto.
var ValidRunTransitions = map[schema.RunState][]schema.RunState{
	schema.RunStateReady:      {schema.RunStateRunning, schema.RunStateFailed, schema.RunStateCancelled},
	schema.RunStateRunning:    {schema.RunStateRunning, schema.RunStateRetrying, schema.RunStateSucceeded, schema.RunStateFailed, schema.RunStateTerminated, schema.RunStateCancelled},
	schema.RunStateRetrying:   {schema.RunStateRunning, schema.RunStateCancelled},
	schema.RunStateSucceeded:  {},
	schema.RunStateFailed:     {},
	schema.RunStateTerminated: {},
	schema.RunStateCancelled:  {},
}
