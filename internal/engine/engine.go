package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/seanchatmangpt/wrkflo/internal/criteria"
	"github.com/seanchatmangpt/wrkflo/internal/expressions"
	"github.com/seanchatmangpt/wrkflo/internal/invoker"
	"github.com/seanchatmangpt/wrkflo/internal/logging"
	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/internal/transport"
	"github.com/seanchatmangpt/wrkflo/internal/validation"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

const (
	// DefaultMaxSteps bounds step executions per run so goto cycles terminate.
	DefaultMaxSteps = 1000

	maxNestingDepth = 16
)

// Engine runs workflows from a document.
type Engine interface {
	Run(ctx context.Context, doc *schema.Document, workflowID string, inputs map[string]any, opts ...RunOption) (*RunResult, error)
}

// RunResult is the terminal outcome of a run.
type RunResult struct {
	RunID       string                    `json:"runId"`
	WorkflowID  string                    `json:"workflowId"`
	Status      schema.RunStatus          `json:"status"`
	State       schema.RunState           `json:"state"`
	Outputs     map[string]any            `json:"outputs"`
	Steps       map[string]map[string]any `json:"steps"`
	Error       *schema.WrkfloError       `json:"error,omitempty"`
	StartedAt   time.Time                 `json:"startedAt"`
	CompletedAt time.Time                 `json:"completedAt"`
}

// RunRecorder persists run rows. Satisfied by store.Store.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *store.Run) error
	UpdateRun(ctx context.Context, id string, update store.RunUpdate) error
}

// InputValidator checks run inputs against a workflow's inputs schema and
// returns them with declared defaults applied.
type InputValidator interface {
	ValidateInputs(wf *schema.Workflow, inputs map[string]any) (map[string]any, error)
}

// Config holds the engine's collaborators. Client is required for documents
// with operation steps; everything else has a default.
type Config struct {
	Client    transport.Client
	Resolver  *expressions.Resolver
	Evaluator *criteria.Evaluator
	Validator InputValidator
	Events    EventAppender
	Recorder  RunRecorder
	MaxSteps  int
	Logger    *slog.Logger
}

// RunOption customizes a single run.
type RunOption func(*runOptions)

type runOptions struct {
	specs        map[string]map[string]any
	catalog      invoker.Catalog
	documentPath string
	parentRunID  string
	depth        int
}

// WithSources supplies parsed OpenAPI documents keyed by source description name.
func WithSources(specs map[string]map[string]any) RunOption {
	return func(o *runOptions) { o.specs = specs }
}

// WithCatalog replaces the document-derived operation catalog.
func WithCatalog(c invoker.Catalog) RunOption {
	return func(o *runOptions) { o.catalog = c }
}

// WithDocumentPath records where the document was loaded from.
func WithDocumentPath(path string) RunOption {
	return func(o *runOptions) { o.documentPath = path }
}

// WorkflowEngine executes workflow steps sequentially, driving the run FSM.
type WorkflowEngine struct {
	client    transport.Client
	resolver  *expressions.Resolver
	evaluator *criteria.Evaluator
	validator InputValidator
	events    EventAppender
	recorder  RunRecorder
	fsm       *RunFSM
	maxSteps  int
	logger    *slog.Logger
}

var _ Engine = (*WorkflowEngine)(nil)

// New creates a WorkflowEngine.
func New(cfg Config) *WorkflowEngine {
	if cfg.Resolver == nil {
		cfg.Resolver = expressions.NewResolver()
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = criteria.NewEvaluator(cfg.Resolver)
	}
	if cfg.Validator == nil {
		cfg.Validator = validation.NewDocumentValidator()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WorkflowEngine{
		client:    cfg.Client,
		resolver:  cfg.Resolver,
		evaluator: cfg.Evaluator,
		validator: cfg.Validator,
		events:    cfg.Events,
		recorder:  cfg.Recorder,
		fsm:       NewRunFSM(cfg.Events),
		maxSteps:  cfg.MaxSteps,
		logger:    cfg.Logger,
	}
}

// workflowRun is the mutable state of one in-flight run. It is owned by a
// single goroutine.
type workflowRun struct {
	id       string
	doc      *schema.Document
	wf       *schema.Workflow
	ec       *expressions.Context
	control  *RunState
	state    schema.RunState
	invoker  *invoker.Invoker
	catalog  invoker.Catalog
	opts     runOptions
	started  time.Time
	executed int
}

// Run executes workflowID from doc. An empty workflowID selects the first
// workflow. The error return is reserved for runs that cannot start (unknown
// workflow, invalid inputs); every started run yields a RunResult.
func (e *WorkflowEngine) Run(ctx context.Context, doc *schema.Document, workflowID string, inputs map[string]any, opts ...RunOption) (*RunResult, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	return e.start(ctx, doc, workflowID, inputs, o)
}

func (e *WorkflowEngine) start(ctx context.Context, doc *schema.Document, workflowID string, inputs map[string]any, o runOptions) (*RunResult, error) {
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "document is nil")
	}
	if workflowID == "" && len(doc.Workflows) > 0 {
		workflowID = doc.Workflows[0].WorkflowID
	}
	wf, ok := doc.Workflow(workflowID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", workflowID)
	}
	if o.depth > maxNestingDepth {
		return nil, schema.NewErrorf(schema.ErrCodeStepLimit,
			"nested workflow depth exceeds %d at %q", maxNestingDepth, workflowID)
	}

	inputs, err := e.validator.ValidateInputs(wf, inputs)
	if err != nil {
		return nil, err
	}

	catalog := o.catalog
	if catalog == nil {
		catalog = invoker.NewCatalog(doc, o.specs)
	}

	run := &workflowRun{
		id:      uuid.New().String(),
		doc:     doc,
		wf:      wf,
		ec:      expressions.NewContext(inputs, doc),
		control: NewRunState(),
		state:   schema.RunStateReady,
		catalog: catalog,
		opts:    o,
		started: time.Now().UTC(),
	}
	run.invoker = invoker.NewInvoker(invoker.Config{
		Catalog:    catalog,
		Client:     e.client,
		Resolver:   e.resolver,
		Components: doc.Components,
		Runner:     &nestedRunner{engine: e, parent: run},
		Logger:     e.logger,
	})

	ctx = logging.WithIDs(ctx, run.id, wf.WorkflowID)
	e.recordStart(ctx, run, inputs)

	result := e.execute(ctx, run)

	e.recordEnd(ctx, run, result)
	recordRun(result.Status, result.CompletedAt.Sub(result.StartedAt))
	return result, nil
}

// execute drives the run from ready to a terminal state.
func (e *WorkflowEngine) execute(ctx context.Context, run *workflowRun) *RunResult {
	e.logger.InfoContext(ctx, "run started", "steps", len(run.wf.Steps))

	if err := ctx.Err(); err != nil {
		return e.finish(ctx, run, schema.RunStateCancelled, "", CancelledError("", err))
	}
	if len(run.wf.Steps) == 0 {
		e.transition(ctx, run, "", schema.RunStateRunning, nil)
		return e.finish(ctx, run, schema.RunStateSucceeded, "", nil)
	}

	idx := 0
	from := ""
	for {
		step := &run.wf.Steps[idx]
		e.transition(ctx, run, step.StepID, schema.RunStateRunning, nil)

		if err := ctx.Err(); err != nil {
			return e.finish(ctx, run, schema.RunStateCancelled, step.StepID, CancelledError(step.StepID, err))
		}

		run.executed++
		if run.executed > e.maxSteps {
			err := schema.NewErrorf(schema.ErrCodeStepLimit,
				"run exceeded %d step executions", e.maxSteps).WithStep(step.StepID)
			return e.finish(ctx, run, schema.RunStateFailed, step.StepID, err)
		}

		d := e.runStep(ctx, run, step, from)
		if d.terminal != "" {
			return e.finish(ctx, run, d.terminal, step.StepID, d.err)
		}

		from = step.StepID
		switch {
		case d.retry:
			// idx unchanged
		case d.next != "":
			next := run.wf.StepIndex(d.next)
			if next < 0 {
				err := schema.NewErrorf(schema.ErrCodeValidation, "goto target %q not found", d.next).WithStep(step.StepID)
				return e.finish(ctx, run, schema.RunStateFailed, step.StepID, err)
			}
			e.emit(ctx, run, step.StepID, schema.EventStepJumped, map[string]any{"to": d.next})
			idx = next
		case idx == len(run.wf.Steps)-1:
			return e.finish(ctx, run, schema.RunStateSucceeded, step.StepID, nil)
		default:
			idx++
		}
	}
}

// decision is what the loop does after one step execution.
type decision struct {
	terminal schema.RunState
	err      error
	next     string
	retry    bool
}

// runStep invokes a step, evaluates its criteria and dispatches the matching
// action list.
func (e *WorkflowEngine) runStep(ctx context.Context, run *workflowRun, step *schema.Step, from string) decision {
	ctx = logging.WithStepID(ctx, step.StepID)
	attempt := run.control.RetryCounts[step.StepID]
	e.logger.InfoContext(ctx, "step started", "attempt", attempt+1)
	e.emit(ctx, run, step.StepID, schema.EventStepStarted, map[string]any{"from": from, "attempt": attempt + 1})

	res, failure := run.invoker.Invoke(ctx, step, run.ec)
	if failure != nil && ctx.Err() != nil {
		return decision{terminal: schema.RunStateCancelled, err: CancelledError(step.StepID, ctx.Err())}
	}

	view := run.ec
	if res != nil && res.Context != nil {
		view = res.Context
	}

	if failure != nil {
		stepExecutions.WithLabelValues(outcomeInvokeError).Inc()
	} else {
		failure = e.checkCriteria(ctx, step, res, view)
		if failure != nil {
			stepExecutions.WithLabelValues(outcomeCriteria).Inc()
		}
	}

	if failure == nil {
		stepExecutions.WithLabelValues(outcomeSucceeded).Inc()
		run.ec.SetStepOutputs(step.StepID, res.Outputs)
		e.logger.InfoContext(ctx, "step succeeded")
		e.emit(ctx, run, step.StepID, schema.EventStepSucceeded, res.Outputs)
		return e.afterSuccess(ctx, run, step, view)
	}

	e.logger.WarnContext(ctx, "step failed", "error", failure.Error())
	e.emit(ctx, run, step.StepID, schema.EventStepFailed, errorPayload(failure))
	return e.afterFailure(ctx, run, step, view, failure)
}

func (e *WorkflowEngine) checkCriteria(ctx context.Context, step *schema.Step, res *invoker.StepResult, view *expressions.Context) error {
	i, err := e.evaluator.FirstUnmet(ctx, step.SuccessCriteria, view, res.XML())
	if err != nil {
		return withStep(err, step.StepID)
	}
	if i < 0 {
		return nil
	}
	c := step.SuccessCriteria[i]
	return schema.NewErrorf(schema.ErrCodeCriteriaNotMet, "success criterion not met: %s", c.Condition).
		WithStep(step.StepID).
		WithDetails(map[string]any{"index": i, "condition": c.Condition, "type": string(c.DialectOrDefault())})
}

func (e *WorkflowEngine) afterSuccess(ctx context.Context, run *workflowRun, step *schema.Step, view *expressions.Context) decision {
	actions, err := e.applicable(ctx, run, step, step.OnSuccess, view, successActionsPrefix)
	if err != nil {
		return decision{terminal: schema.RunStateFailed, err: err}
	}
	out, err := Dispatch(actions, run.control, step.StepID)
	if err != nil {
		return decision{terminal: schema.RunStateFailed, err: err}
	}

	switch {
	case out.Terminate:
		return decision{terminal: schema.RunStateSucceeded}
	case out.Retry:
		return e.retry(ctx, run, step, out)
	case out.Exhausted:
		e.logger.WarnContext(ctx, "retry limit reached", "attempts", out.Attempt-1, "action", out.Action)
		return decision{next: out.NextStepID}
	default:
		return decision{next: out.NextStepID}
	}
}

func (e *WorkflowEngine) afterFailure(ctx context.Context, run *workflowRun, step *schema.Step, view *expressions.Context, failure error) decision {
	actions, err := e.applicable(ctx, run, step, step.OnFailure, view, failureActionsPrefix)
	if err != nil {
		return decision{terminal: schema.RunStateFailed, err: err}
	}
	out, err := Dispatch(actions, run.control, step.StepID)
	if err != nil {
		return decision{terminal: schema.RunStateFailed, err: err}
	}

	switch {
	case out.Terminate:
		return decision{terminal: schema.RunStateTerminated, err: failure}
	case out.Retry:
		return e.retry(ctx, run, step, out)
	case out.Exhausted:
		e.logger.WarnContext(ctx, "retry limit reached", "attempts", out.Attempt-1)
		return decision{terminal: schema.RunStateFailed, err: failure}
	case out.NextStepID != "":
		return decision{next: out.NextStepID}
	default:
		return decision{terminal: schema.RunStateFailed, err: failure}
	}
}

// retry moves the run through retrying and waits out the delay.
func (e *WorkflowEngine) retry(ctx context.Context, run *workflowRun, step *schema.Step, out Outcome) decision {
	stepRetries.Inc()
	e.logger.InfoContext(ctx, "retrying step", "attempt", out.Attempt, "delay", out.Delay.String())
	e.transition(ctx, run, step.StepID, schema.RunStateRetrying,
		map[string]any{"attempt": out.Attempt, "delay_ms": out.Delay.Milliseconds()})

	if err := WaitForBackoff(ctx, out.Delay); err != nil {
		return decision{terminal: schema.RunStateCancelled, err: CancelledError(step.StepID, err)}
	}
	return decision{retry: true}
}

const (
	successActionsPrefix = "$components.successActions."
	failureActionsPrefix = "$components.failureActions."
)

// applicable expands component references and drops actions whose criteria
// do not hold against the step's view. A criteria evaluation error fails the
// step.
func (e *WorkflowEngine) applicable(ctx context.Context, run *workflowRun, step *schema.Step, actions []schema.Action, view *expressions.Context, prefix string) ([]schema.Action, error) {
	out := make([]schema.Action, 0, len(actions))
	for _, a := range actions {
		if a.Reference != "" {
			resolved, err := componentAction(run.doc.Components, a.Reference, prefix)
			if err != nil {
				return nil, err.WithStep(step.StepID)
			}
			a = resolved
		}
		if len(a.Criteria) > 0 {
			ok, err := e.evaluator.Evaluate(ctx, a.Criteria, view, "")
			if err != nil {
				e.logger.WarnContext(ctx, "action criteria failed to evaluate", "action", a.Name, "error", err.Error())
				return nil, withStep(err, step.StepID)
			}
			if !ok {
				continue
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func componentAction(c *schema.Components, ref, prefix string) (schema.Action, *schema.WrkfloError) {
	var table map[string]schema.Action
	if c != nil {
		if prefix == successActionsPrefix {
			table = c.SuccessActions
		} else {
			table = c.FailureActions
		}
	}
	if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
		if a, ok := table[ref[len(prefix):]]; ok {
			return a, nil
		}
	}
	return schema.Action{}, schema.NewErrorf(schema.ErrCodeValidation, "unresolvable action reference %q", ref).
		WithDetails(map[string]any{"reference": ref})
}

// finish moves the run to a terminal state and builds its result.
func (e *WorkflowEngine) finish(ctx context.Context, run *workflowRun, to schema.RunState, stepID string, cause error) *RunResult {
	result := &RunResult{
		RunID:      run.id,
		WorkflowID: run.wf.WorkflowID,
		Outputs:    map[string]any{},
		Steps:      run.ec.Steps(),
		StartedAt:  run.started,
	}

	if to == schema.RunStateSucceeded {
		outputs, err := e.resolver.ResolveMap(ctx, run.wf.Outputs, run.ec)
		if err != nil {
			to, cause = schema.RunStateFailed, err
		} else {
			result.Outputs = outputs
		}
	}

	var payload any
	if cause != nil {
		result.Error = asWrkfloError(cause, stepID)
		payload = errorPayload(result.Error)
	}
	// Transitions out of a cancelled context still need to be recorded.
	e.transition(context.WithoutCancel(ctx), run, stepID, to, payload)

	result.State = to
	result.Status = to.Status()
	result.CompletedAt = time.Now().UTC()

	level := slog.LevelInfo
	if result.Status != schema.RunStatusSucceeded {
		level = slog.LevelWarn
	}
	attrs := []any{"status", string(result.Status), "state", string(to), "step_executions", run.executed}
	if result.Error != nil {
		attrs = append(attrs, "error", result.Error.Error())
	}
	e.logger.Log(ctx, level, "run finished", attrs...)
	return result
}

// transition advances the FSM. Emission failures are logged; the run state
// still advances.
func (e *WorkflowEngine) transition(ctx context.Context, run *workflowRun, stepID string, to schema.RunState, payload any) {
	if err := e.fsm.Transition(ctx, run.id, stepID, run.state, to, payload); err != nil {
		e.logger.ErrorContext(ctx, "run transition failed", "from", string(run.state), "to", string(to), "error", err.Error())
		if schema.CodeOf(err) == schema.ErrCodeInvalidTransition {
			return
		}
	}
	run.state = to
}

// emit appends a step-level event directly, outside the FSM.
func (e *WorkflowEngine) emit(ctx context.Context, run *workflowRun, stepID, eventType string, payload any) {
	if e.events == nil {
		return
	}
	event := &store.Event{RunID: run.id, StepID: stepID, Type: eventType}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			event.Payload = raw
		}
	}
	if err := e.events.AppendEvent(context.WithoutCancel(ctx), event); err != nil {
		e.logger.WarnContext(ctx, "failed to append event", "event_type", eventType, "error", err.Error())
	}
}

func (e *WorkflowEngine) recordStart(ctx context.Context, run *workflowRun, inputs map[string]any) {
	if e.recorder == nil {
		return
	}
	started := run.started
	err := e.recorder.CreateRun(context.WithoutCancel(ctx), &store.Run{
		ID:           run.id,
		WorkflowID:   run.wf.WorkflowID,
		DocumentPath: run.opts.documentPath,
		ParentRunID:  run.opts.parentRunID,
		Status:       schema.RunStatusRunning,
		State:        schema.RunStateReady,
		Inputs:       inputs,
		CreatedAt:    started,
		StartedAt:    &started,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "failed to record run", "error", err.Error())
	}
}

func (e *WorkflowEngine) recordEnd(ctx context.Context, run *workflowRun, result *RunResult) {
	if e.recorder == nil {
		return
	}
	update := store.RunUpdate{
		Status:      &result.Status,
		State:       &result.State,
		CompletedAt: &result.CompletedAt,
	}
	update.Outputs, _ = json.Marshal(result.Outputs)
	update.Steps, _ = json.Marshal(result.Steps)
	if result.Error != nil {
		update.Error, _ = json.Marshal(result.Error)
	}
	if err := e.recorder.UpdateRun(context.WithoutCancel(ctx), run.id, update); err != nil {
		e.logger.WarnContext(ctx, "failed to record run result", "error", err.Error())
	}
}

// nestedRunner runs workflowId steps within the parent run's document.
type nestedRunner struct {
	engine *WorkflowEngine
	parent *workflowRun
}

func (n *nestedRunner) RunWorkflow(ctx context.Context, workflowID string, inputs map[string]any) (map[string]any, error) {
	o := n.parent.opts
	o.catalog = n.parent.catalog
	o.parentRunID = n.parent.id
	o.depth++

	// The child run gets its own correlation IDs.
	result, err := n.engine.start(ctx, n.parent.doc, workflowID, inputs, o)
	if err != nil {
		return nil, err
	}
	if result.Status != schema.RunStatusSucceeded {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "workflow %q ended with status %s", workflowID, result.Status)
	}
	return result.Outputs, nil
}

func asWrkfloError(err error, stepID string) *schema.WrkfloError {
	if werr, ok := err.(*schema.WrkfloError); ok {
		return werr
	}
	return schema.NewError(schema.CodeOrDefault(err, schema.ErrCodeExecution), err.Error()).
		WithCause(err).WithStep(stepID)
}

func withStep(err error, stepID string) error {
	werr := asWrkfloError(err, stepID)
	if werr.StepID == "" {
		werr.StepID = stepID
	}
	return werr
}

func errorPayload(err error) map[string]any {
	werr := asWrkfloError(err, "")
	p := map[string]any{"code": werr.Code, "message": werr.Message}
	if len(werr.Details) > 0 {
		p["details"] = werr.Details
	}
	return p
}
