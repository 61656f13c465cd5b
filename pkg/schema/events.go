package schema

// Event type constants for the run history log.
const (
	EventRunStarted    = "run_started"
	EventRunSucceeded  = "run_succeeded"
	EventRunFailed     = "run_failed"
	EventRunTerminated = "run_terminated"
	EventRunCancelled  = "run_cancelled"

	EventStepStarted   = "step_started"
	EventStepSucceeded = "step_succeeded"
	EventStepFailed    = "step_failed"
	EventStepRetrying  = "step_retrying"
	EventStepJumped    = "step_jumped"
)

// RunState is a node of the run state machine.
type RunState string

const (
	RunStateReady      RunState = "ready"
	RunStateRunning    RunState = "running"
	RunStateRetrying   RunState = "retrying"
	RunStateSucceeded  RunState = "succeeded"
	RunStateFailed     RunState = "failed"
	RunStateTerminated RunState = "terminated"
	RunStateCancelled  RunState = "cancelled"
)

// Terminal reports whether no transition leaves s.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateSucceeded, RunStateFailed, RunStateTerminated, RunStateCancelled:
		return true
	}
	return false
}

// RunStatus is the externally reported outcome of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Status maps a terminal state to the reported status. A run ended by an end
// action on the failure path reports failed.
func (s RunState) Status() RunStatus {
	switch s {
	case RunStateSucceeded:
		return RunStatusSucceeded
	case RunStateFailed, RunStateTerminated:
		return RunStatusFailed
	case RunStateCancelled:
		return RunStatusCancelled
	default:
		return RunStatusRunning
	}
}
