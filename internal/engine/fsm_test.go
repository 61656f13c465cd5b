package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Events() []*store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*store.Event, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockAppender) Types() []string {
	var out []string
	for _, e := range m.Events() {
		out = append(out, e.Type)
	}
	return out
}

// failAppender always returns an error.
type failAppender struct{}

func (f *failAppender) AppendEvent(_ context.Context, _ *store.Event) error {
	return errors.New("store unavailable")
}

func TestRunFSM_Lifecycle(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)
	ctx := context.Background()

	steps := []struct{ from, to schema.RunState }{
		{schema.RunStateReady, schema.RunStateRunning},
		{schema.RunStateRunning, schema.RunStateRunning},
		{schema.RunStateRunning, schema.RunStateRetrying},
		{schema.RunStateRetrying, schema.RunStateRunning},
		{schema.RunStateRunning, schema.RunStateSucceeded},
	}
	for _, s := range steps {
		require.NoError(t, fsm.Transition(ctx, "run-1", "s1", s.from, s.to, nil))
	}

	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventStepRetrying,
		schema.EventRunSucceeded,
	}, app.Types())
	for _, e := range app.Events() {
		assert.Equal(t, "run-1", e.RunID)
		assert.Equal(t, "s1", e.StepID)
	}
}

func TestRunFSM_TerminalEvents(t *testing.T) {
	tests := []struct {
		to    schema.RunState
		event string
	}{
		{schema.RunStateFailed, schema.EventRunFailed},
		{schema.RunStateTerminated, schema.EventRunTerminated},
		{schema.RunStateCancelled, schema.EventRunCancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			app := &mockAppender{}
			err := NewRunFSM(app).Transition(context.Background(), "r", "", schema.RunStateRunning, tt.to, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.event}, app.Types())
		})
	}
}

func TestRunFSM_InvalidTransitions(t *testing.T) {
	fsm := NewRunFSM(nil)
	invalid := []struct{ from, to schema.RunState }{
		{schema.RunStateReady, schema.RunStateSucceeded},
		{schema.RunStateRetrying, schema.RunStateSucceeded},
		{schema.RunStateRetrying, schema.RunStateFailed},
		{schema.RunStateSucceeded, schema.RunStateRunning},
		{schema.RunStateFailed, schema.RunStateRunning},
		{schema.RunStateTerminated, schema.RunStateRunning},
		{schema.RunStateCancelled, schema.RunStateRunning},
	}
	for _, tt := range invalid {
		err := fsm.Transition(context.Background(), "r", "s", tt.from, tt.to, nil)
		require.Error(t, err, "%s -> %s", tt.from, tt.to)
		var werr *schema.WrkfloError
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, schema.ErrCodeInvalidTransition, werr.Code)
		assert.Equal(t, string(tt.from), werr.Details["from"])
	}
}

func TestRunFSM_TerminalStatesHaveNoExits(t *testing.T) {
	for state, targets := range ValidRunTransitions {
		if state.Terminal() {
			assert.Empty(t, targets, state)
		}
	}
}

func TestRunFSM_Payload(t *testing.T) {
	app := &mockAppender{}
	err := NewRunFSM(app).Transition(context.Background(), "r", "s1",
		schema.RunStateRunning, schema.RunStateRetrying, map[string]any{"attempt": 2})
	require.NoError(t, err)

	events := app.Events()
	require.Len(t, events, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, float64(2), payload["attempt"])
}

func TestRunFSM_AppendFailure(t *testing.T) {
	err := NewRunFSM(&failAppender{}).Transition(context.Background(), "r", "s1",
		schema.RunStateReady, schema.RunStateRunning, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))
}

func TestRunFSM_NilAppender(t *testing.T) {
	err := NewRunFSM(nil).Transition(context.Background(), "r", "",
		schema.RunStateReady, schema.RunStateRunning, nil)
	assert.NoError(t, err)
}

func TestRunFSM_SharedAcrossRuns(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(runID string) {
			defer wg.Done()
			ctx := context.Background()
			assert.NoError(t, fsm.Transition(ctx, runID, "s1", schema.RunStateReady, schema.RunStateRunning, nil))
			assert.NoError(t, fsm.Transition(ctx, runID, "s1", schema.RunStateRunning, schema.RunStateSucceeded, nil))
		}(fmt.Sprintf("run-%d", i))
	}
	wg.Wait()

	perRun := make(map[string][]string)
	for _, e := range app.Events() {
		perRun[e.RunID] = append(perRun[e.RunID], e.Type)
	}
	require.Len(t, perRun, 8)
	for runID, types := range perRun {
		assert.Equal(t, []string{schema.EventRunStarted, schema.EventRunSucceeded}, types, runID)
	}
}
