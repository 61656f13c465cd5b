package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// EventLog provides history operations on top of a Store.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide history replay.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-run sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// GetEvents returns events for a run with sequence > since, ordered by sequence.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// StepSummary is a step's history reconstructed from the event log.
type StepSummary struct {
	StepID     string          `json:"step_id"`
	State      string          `json:"state"`
	Executions int             `json:"executions"`
	Retries    int             `json:"retries"`
	Jumps      int             `json:"jumps"`
	LastError  json.RawMessage `json:"last_error,omitempty"`
	Outputs    json.RawMessage `json:"outputs,omitempty"`
}

// Step summary states.
const (
	StepStateRunning   = "running"
	StepStateSucceeded = "succeeded"
	StepStateFailed    = "failed"
	StepStateRetrying  = "retrying"
)

// ReplayEvents replays all events of a run and returns per-step summaries.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayEvents(ctx context.Context, runID string) (map[string]*StepSummary, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	steps := make(map[string]*StepSummary)
	for _, e := range events {
		if e.StepID == "" {
			continue
		}
		ss, ok := steps[e.StepID]
		if !ok {
			ss = &StepSummary{StepID: e.StepID}
			steps[e.StepID] = ss
		}

		switch e.Type {
		case schema.EventStepStarted:
			ss.State = StepStateRunning
			ss.Executions++
		case schema.EventStepSucceeded:
			ss.State = StepStateSucceeded
			ss.Outputs = e.Payload
		case schema.EventStepFailed:
			ss.State = StepStateFailed
			ss.LastError = e.Payload
		case schema.EventStepRetrying:
			ss.State = StepStateRetrying
			ss.Retries++
		case schema.EventStepJumped:
			ss.Jumps++
		}
	}
	return steps, nil
}
