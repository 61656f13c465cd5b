// Package invoker turns a workflow step into an operation call and maps the
// response into step outputs.
package invoker

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/seanchatmangpt/wrkflo/internal/expressions"
	"github.com/seanchatmangpt/wrkflo/internal/transport"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

const (
	defaultContentType = "application/json"
	defaultAccept      = "application/json"
)

// WorkflowRunner runs a nested workflow for steps that target a workflowId.
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, workflowID string, inputs map[string]any) (map[string]any, error)
}

// StepResult is the outcome of one invocation. Context is the run context
// extended with this call's url, method, statusCode, request and response;
// criteria and action gates are evaluated against it.
type StepResult struct {
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	Outputs    map[string]any    `json:"outputs"`

	Raw     []byte               `json:"-"`
	Context *expressions.Context `json:"-"`
}

// XML returns the response body when it is a non-JSON document, for xpath criteria.
func (r *StepResult) XML() string {
	if r == nil {
		return ""
	}
	if s, ok := r.Body.(string); ok {
		return s
	}
	return ""
}

// Config wires an Invoker.
type Config struct {
	Catalog    Catalog
	Client     transport.Client
	Resolver   *expressions.Resolver
	Components *schema.Components
	Runner     WorkflowRunner
	Logger     *slog.Logger
}

// Invoker executes steps. It keeps no run state; everything a call needs comes
// from the step and the execution context passed in.
type Invoker struct {
	catalog    Catalog
	client     transport.Client
	resolver   *expressions.Resolver
	components *schema.Components
	runner     WorkflowRunner
	logger     *slog.Logger
}

// NewInvoker creates an Invoker.
func NewInvoker(cfg Config) *Invoker {
	if cfg.Resolver == nil {
		cfg.Resolver = expressions.NewResolver()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Invoker{
		catalog:    cfg.Catalog,
		client:     cfg.Client,
		resolver:   cfg.Resolver,
		components: cfg.Components,
		runner:     cfg.Runner,
		logger:     cfg.Logger,
	}
}

// request is an operation call being assembled from step parameters.
type request struct {
	url        string
	headers    map[string]string
	query      map[string]string
	pathParams map[string]any
	cookies    []string
	body       any
}

// Invoke runs the step's operation or nested workflow and resolves its outputs.
// On a protocol-level transport failure the returned StepResult is non-nil and
// describes the error response alongside the TRANSPORT_ERROR.
func (inv *Invoker) Invoke(ctx context.Context, step *schema.Step, ec *expressions.Context) (*StepResult, error) {
	if step.WorkflowID != "" {
		return inv.invokeWorkflow(ctx, step, ec)
	}

	op, err := inv.lookup(ctx, step, ec)
	if err != nil {
		return nil, withStep(err, step.StepID)
	}

	req, err := inv.buildRequest(ctx, step, op, ec)
	if err != nil {
		return nil, withStep(err, step.StepID)
	}

	call := &transport.Request{
		URL:          req.url,
		Method:       op.Method,
		Headers:      req.headers,
		Query:        req.query,
		Body:         req.body,
		TimeoutMs:    op.TimeoutMs,
		RetryCount:   op.RetryCount,
		RetryDelayMs: op.RetryDelayMs,
	}
	if call.Method == "" {
		call.Method = transport.DefaultMethod
	}

	inv.logger.DebugContext(ctx, "invoking operation",
		"step_id", step.StepID, "operation_id", op.OperationID, "method", call.Method, "url", call.URL)

	exchange := expressions.Exchange{
		URL:            call.URL,
		Method:         strings.ToUpper(call.Method),
		RequestHeaders: req.headers,
		Query:          req.query,
		PathParams:     req.pathParams,
		RequestBody:    req.body,
	}

	resp, err := inv.client.Do(ctx, call)
	if err != nil {
		werr := schema.NewError(schema.ErrCodeTransport, err.Error()).WithCause(err).WithStep(step.StepID)
		terr, ok := transport.AsError(err)
		if !ok || terr.Kind != transport.KindProtocol {
			if ok {
				werr.WithDetails(map[string]any{"kind": string(terr.Kind)})
			}
			return nil, werr
		}
		werr.WithDetails(map[string]any{
			"kind":       string(terr.Kind),
			"statusCode": terr.StatusCode,
			"statusText": terr.StatusText,
			"body":       terr.Body,
		})
		exchange.StatusCode = terr.StatusCode
		exchange.ResponseHeaders = terr.Headers
		exchange.ResponseBody = terr.Body
		return &StepResult{
			StatusCode: terr.StatusCode,
			Headers:    terr.Headers,
			Body:       terr.Body,
			Outputs:    map[string]any{},
			Context:    ec.WithExchange(exchange),
		}, werr
	}

	exchange.StatusCode = resp.StatusCode
	exchange.ResponseHeaders = resp.Headers
	exchange.ResponseBody = resp.Body
	view := ec.WithExchange(exchange)

	outputs, err := inv.resolver.ResolveMap(ctx, step.Outputs, view)
	if err != nil {
		return nil, withStep(err, step.StepID)
	}

	return &StepResult{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
		Raw:        resp.Raw,
		Outputs:    outputs,
		Context:    view,
	}, nil
}

func (inv *Invoker) lookup(ctx context.Context, step *schema.Step, ec *expressions.Context) (*schema.Operation, error) {
	if inv.catalog == nil {
		return nil, OperationNotFoundError(step.OperationID + step.OperationPath)
	}
	if step.OperationPath != "" {
		return inv.catalog.LookupPath(ctx, step.OperationPath, ec)
	}
	if step.OperationID != "" {
		return inv.catalog.Lookup(ctx, step.OperationID)
	}
	return nil, schema.NewErrorf(schema.ErrCodeOperationNotFound, "step %q has no operation target", step.StepID)
}

func (inv *Invoker) buildRequest(ctx context.Context, step *schema.Step, op *schema.Operation, ec *expressions.Context) (*request, error) {
	req := &request{
		url:        op.URL,
		headers:    map[string]string{"Accept": defaultAccept},
		query:      make(map[string]string),
		pathParams: make(map[string]any),
	}

	contentType := defaultContentType
	if step.RequestBody != nil && step.RequestBody.ContentType != "" {
		contentType = step.RequestBody.ContentType
	}
	req.headers["Content-Type"] = contentType

	if step.RequestBody != nil && step.RequestBody.Payload != nil {
		body, err := inv.resolver.ResolveValue(ctx, step.RequestBody.Payload, ec)
		if err != nil {
			return nil, err
		}
		req.body = body
	}

	params, err := inv.parameters(step)
	if err != nil {
		return nil, err
	}
	for _, p := range params {
		value, err := inv.resolver.ResolveValue(ctx, p.Value, ec)
		if err != nil {
			return nil, err
		}
		switch p.In {
		case schema.InPath:
			req.pathParams[p.Name] = value
			req.url = strings.ReplaceAll(req.url, "{"+p.Name+"}", url.PathEscape(expressions.Stringify(value)))
		case schema.InQuery, "":
			if unset(value) {
				continue
			}
			req.query[p.Name] = expressions.Stringify(value)
		case schema.InHeader:
			if unset(value) {
				continue
			}
			req.headers[p.Name] = expressions.Stringify(value)
		case schema.InCookie:
			if unset(value) {
				continue
			}
			req.cookies = append(req.cookies, p.Name+"="+expressions.Stringify(value))
		case schema.InBody:
			m, ok := req.body.(map[string]any)
			if !ok {
				m = make(map[string]any)
				req.body = m
			}
			m[p.Name] = value
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "parameter %q has unsupported location %q", p.Name, p.In)
		}
	}
	if len(req.cookies) > 0 {
		sort.Strings(req.cookies)
		req.headers["Cookie"] = strings.Join(req.cookies, "; ")
	}
	return req, nil
}

// unset reports a parameter value that resolved to nothing. Such query,
// header and cookie parameters are left off the request.
func unset(v any) bool {
	return v == nil || expressions.IsUndefined(v)
}

// parameters expands component references. A parameter's own value overrides
// the referenced one.
func (inv *Invoker) parameters(step *schema.Step) ([]schema.Parameter, error) {
	out := make([]schema.Parameter, 0, len(step.Parameters))
	for _, p := range step.Parameters {
		if p.Reference == "" {
			out = append(out, p)
			continue
		}
		name, ok := strings.CutPrefix(p.Reference, "$components.parameters.")
		if !ok || inv.components == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unresolvable parameter reference %q", p.Reference)
		}
		base, ok := inv.components.Parameters[name]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown component parameter %q", name)
		}
		if p.Value != nil {
			base.Value = p.Value
		}
		out = append(out, base)
	}
	return out, nil
}

// invokeWorkflow runs a nested workflow with the step's parameters as inputs.
// Its outputs are visible as $outputs to the step's output mappings and as
// $workflows.<id>.outputs to later steps.
func (inv *Invoker) invokeWorkflow(ctx context.Context, step *schema.Step, ec *expressions.Context) (*StepResult, error) {
	if inv.runner == nil {
		return nil, OperationNotFoundError(step.WorkflowID).WithStep(step.StepID)
	}

	params, err := inv.parameters(step)
	if err != nil {
		return nil, withStep(err, step.StepID)
	}
	inputs := make(map[string]any, len(params))
	for _, p := range params {
		v, err := inv.resolver.ResolveValue(ctx, p.Value, ec)
		if err != nil {
			return nil, withStep(err, step.StepID)
		}
		inputs[p.Name] = v
	}

	inv.logger.DebugContext(ctx, "invoking nested workflow", "step_id", step.StepID, "target_workflow", step.WorkflowID)

	wfOutputs, err := inv.runner.RunWorkflow(ctx, step.WorkflowID, inputs)
	if err != nil {
		return nil, withStep(err, step.StepID)
	}
	ec.SetWorkflowOutputs(step.WorkflowID, wfOutputs)

	view := ec.WithOutputs(wfOutputs)
	outputs, err := inv.resolver.ResolveMap(ctx, step.Outputs, view)
	if err != nil {
		return nil, withStep(err, step.StepID)
	}
	return &StepResult{Outputs: outputs, Body: wfOutputs, Context: view}, nil
}

func withStep(err error, stepID string) error {
	if werr, ok := err.(*schema.WrkfloError); ok {
		if werr.StepID == "" {
			werr.StepID = stepID
		}
		return werr
	}
	return schema.NewError(schema.CodeOrDefault(err, schema.ErrCodeExecution), err.Error()).
		WithCause(err).WithStep(stepID)
}
