package schema

import "strings"

// Document is a parsed workflow document (Arazzo 1.0.x).
type Document struct {
	Arazzo             string              `json:"arazzo" yaml:"arazzo"`
	Info               Info                `json:"info" yaml:"info"`
	SourceDescriptions []SourceDescription `json:"sourceDescriptions" yaml:"sourceDescriptions"`
	Workflows          []Workflow          `json:"workflows" yaml:"workflows"`
	Components         *Components         `json:"components,omitempty" yaml:"components,omitempty"`
}

// Info carries document metadata.
type Info struct {
	Title       string `json:"title" yaml:"title"`
	Summary     string `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version" yaml:"version"`
}

// SourceType is the kind of API description a source points at.
type SourceType string

const (
	SourceTypeOpenAPI SourceType = "openapi"
	SourceTypeArazzo  SourceType = "arazzo"
)

// SourceDescription references an external API whose operations steps can call.
// Operations lists inline operation bindings; when empty, operations are derived
// from the OpenAPI document at URL.
type SourceDescription struct {
	Name       string      `json:"name" yaml:"name"`
	URL        string      `json:"url" yaml:"url"`
	Type       SourceType  `json:"type,omitempty" yaml:"type,omitempty"`
	Operations []Operation `json:"operations,omitempty" yaml:"operations,omitempty"`
}

// Operation is a callable endpoint resolved from a source description.
type Operation struct {
	OperationID  string `json:"operationId,omitempty" yaml:"operationId,omitempty"`
	URL          string `json:"url" yaml:"url"`
	Method       string `json:"method,omitempty" yaml:"method,omitempty"`
	TimeoutMs    int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryCount   int    `json:"retry,omitempty" yaml:"retry,omitempty"`
	RetryDelayMs int    `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty"`
	Source       string `json:"source,omitempty" yaml:"-"`
}

// Workflow is an ordered list of steps with declared inputs and outputs.
type Workflow struct {
	WorkflowID  string         `json:"workflowId" yaml:"workflowId"`
	Summary     string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Steps       []Step         `json:"steps" yaml:"steps"`
	Outputs     map[string]any `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Step is a single operation call with its success criteria and control actions.
// Exactly one of OperationID, OperationPath and WorkflowID is set.
type Step struct {
	StepID          string         `json:"stepId" yaml:"stepId"`
	Description     string         `json:"description,omitempty" yaml:"description,omitempty"`
	OperationID     string         `json:"operationId,omitempty" yaml:"operationId,omitempty"`
	OperationPath   string         `json:"operationPath,omitempty" yaml:"operationPath,omitempty"`
	WorkflowID      string         `json:"workflowId,omitempty" yaml:"workflowId,omitempty"`
	Parameters      []Parameter    `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody     *RequestBody   `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
	SuccessCriteria []Criterion    `json:"successCriteria,omitempty" yaml:"successCriteria,omitempty"`
	OnSuccess       []Action       `json:"onSuccess,omitempty" yaml:"onSuccess,omitempty"`
	OnFailure       []Action       `json:"onFailure,omitempty" yaml:"onFailure,omitempty"`
	Outputs         map[string]any `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// TargetKind names which of the three mutually exclusive step targets is set.
type TargetKind string

const (
	TargetOperationID   TargetKind = "operationId"
	TargetOperationPath TargetKind = "operationPath"
	TargetWorkflowID    TargetKind = "workflowId"
)

// Targets returns the kinds of every target field set on the step.
func (s *Step) Targets() []TargetKind {
	var out []TargetKind
	if s.OperationID != "" {
		out = append(out, TargetOperationID)
	}
	if s.OperationPath != "" {
		out = append(out, TargetOperationPath)
	}
	if s.WorkflowID != "" {
		out = append(out, TargetWorkflowID)
	}
	return out
}

// ParameterLocation is where a resolved parameter is placed in the request.
type ParameterLocation string

const (
	InPath   ParameterLocation = "path"
	InQuery  ParameterLocation = "query"
	InHeader ParameterLocation = "header"
	InCookie ParameterLocation = "cookie"
	InBody   ParameterLocation = "body"
)

// Parameter is a named value passed to an operation. Reference points at a
// reusable parameter under components; Value overrides the referenced value.
type Parameter struct {
	Name      string            `json:"name,omitempty" yaml:"name,omitempty"`
	In        ParameterLocation `json:"in,omitempty" yaml:"in,omitempty"`
	Value     any               `json:"value,omitempty" yaml:"value,omitempty"`
	Reference string            `json:"reference,omitempty" yaml:"reference,omitempty"`
}

// RequestBody is a payload template sent with the operation call.
type RequestBody struct {
	ContentType string `json:"contentType,omitempty" yaml:"contentType,omitempty"`
	Payload     any    `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Dialect is the expression sub-language a criterion is written in.
type Dialect string

const (
	DialectSimple   Dialect = "simple"
	DialectJSONPath Dialect = "jsonpath"
	DialectXPath    Dialect = "xpath"
	DialectRegex    Dialect = "regex"
)

// Criterion is a condition used to judge step success or gate an action.
type Criterion struct {
	Context   string  `json:"context,omitempty" yaml:"context,omitempty"`
	Condition string  `json:"condition" yaml:"condition"`
	Type      Dialect `json:"type,omitempty" yaml:"type,omitempty"`
}

// DialectOrDefault returns the criterion dialect, simple when unset.
func (c Criterion) DialectOrDefault() Dialect {
	if c.Type == "" {
		return DialectSimple
	}
	return Dialect(strings.ToLower(string(c.Type)))
}

// ActionKind tags the Action variant.
type ActionKind string

const (
	ActionEnd   ActionKind = "end"
	ActionGoto  ActionKind = "goto"
	ActionRetry ActionKind = "retry"
)

// Action is a control action run after a step outcome: End, Goto{StepID} or
// Retry{RetryLimit, RetryAfter}. RetryAfter is in seconds. Criteria, when present,
// gate the action. Reference points at a reusable action under components.
type Action struct {
	Name       string      `json:"name,omitempty" yaml:"name,omitempty"`
	Type       ActionKind  `json:"type,omitempty" yaml:"type,omitempty"`
	StepID     string      `json:"stepId,omitempty" yaml:"stepId,omitempty"`
	RetryAfter float64     `json:"retryAfter,omitempty" yaml:"retryAfter,omitempty"`
	RetryLimit int         `json:"retryLimit,omitempty" yaml:"retryLimit,omitempty"`
	Criteria   []Criterion `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	Reference  string      `json:"reference,omitempty" yaml:"reference,omitempty"`
}

// Components holds reusable objects referenced from steps.
type Components struct {
	Inputs         map[string]any       `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Parameters     map[string]Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	SuccessActions map[string]Action    `json:"successActions,omitempty" yaml:"successActions,omitempty"`
	FailureActions map[string]Action    `json:"failureActions,omitempty" yaml:"failureActions,omitempty"`
}

// Workflow returns the workflow with the given ID.
func (d *Document) Workflow(id string) (*Workflow, bool) {
	for i := range d.Workflows {
		if d.Workflows[i].WorkflowID == id {
			return &d.Workflows[i], true
		}
	}
	return nil, false
}

// Source returns the source description with the given name.
func (d *Document) Source(name string) (*SourceDescription, bool) {
	for i := range d.SourceDescriptions {
		if d.SourceDescriptions[i].Name == name {
			return &d.SourceDescriptions[i], true
		}
	}
	return nil, false
}

// StepIndex returns the position of stepID in the workflow, or -1.
func (w *Workflow) StepIndex(stepID string) int {
	for i := range w.Steps {
		if w.Steps[i].StepID == stepID {
			return i
		}
	}
	return -1
}
