package engine

import (
	"strings"
	"time"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// RunState is the control state the dispatcher reads and updates between steps.
type RunState struct {
	NextStepID  string
	Terminate   bool
	RetryCounts map[string]int
}

// NewRunState returns an empty control state.
func NewRunState() *RunState {
	return &RunState{RetryCounts: make(map[string]int)}
}

// Outcome is the dispatcher's decision for one action list.
type Outcome struct {
	// Terminate ends the run. It overrides NextStepID.
	Terminate bool
	// NextStepID is the goto target, "" for sequential flow.
	NextStepID string
	// Retry re-invokes the current step after Delay.
	Retry   bool
	Delay   time.Duration
	Attempt int
	// Exhausted reports a retry whose budget ran out; the caller keeps the
	// original failure.
	Exhausted bool
	// Action is the name of the action that decided the outcome, if named.
	Action string
}

// Dispatch processes actions in order for stepID and records the result in
// state. An end action stops processing; a goto is kept unless a later end
// overrides it; a retry either schedules a re-run or reports exhaustion and
// stops processing. Actions whose criteria did not hold must be filtered out
// by the caller.
func Dispatch(actions []schema.Action, state *RunState, stepID string) (Outcome, error) {
	if state.RetryCounts == nil {
		state.RetryCounts = make(map[string]int)
	}
	state.NextStepID = ""
	state.Terminate = false

	var out Outcome
	for _, a := range actions {
		switch schema.ActionKind(strings.ToLower(string(a.Type))) {
		case schema.ActionEnd:
			state.Terminate = true
			state.NextStepID = ""
			return Outcome{Terminate: true, Action: a.Name}, nil

		case schema.ActionGoto:
			state.NextStepID = a.StepID
			out = Outcome{NextStepID: a.StepID, Action: a.Name}

		case schema.ActionRetry:
			state.RetryCounts[stepID]++
			n := state.RetryCounts[stepID]
			if n > a.RetryLimit {
				return Outcome{Exhausted: true, Attempt: n, Action: a.Name}, nil
			}
			return Outcome{
				Retry:   true,
				Delay:   retryDelay(a.RetryAfter),
				Attempt: n,
				Action:  a.Name,
			}, nil

		default:
			return Outcome{}, UnsupportedActionError(a, stepID)
		}
	}
	return out, nil
}

// retryDelay converts retryAfter seconds to a duration. Negative values mean no wait.
func retryDelay(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// UnsupportedActionError reports an action type outside end/goto/retry.
func UnsupportedActionError(a schema.Action, stepID string) *schema.WrkfloError {
	return schema.NewErrorf(schema.ErrCodeUnsupportedAction, "unsupported action type %q", a.Type).
		WithStep(stepID).
		WithDetails(map[string]any{"action": a.Name, "type": string(a.Type)})
}
