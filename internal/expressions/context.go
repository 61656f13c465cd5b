package expressions

import (
	"encoding/json"
	"strings"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// Root names of the execution context, addressed as $url, $steps, ...
const (
	RootURL                = "url"
	RootMethod             = "method"
	RootStatusCode         = "statusCode"
	RootRequest            = "request"
	RootResponse           = "response"
	RootInputs             = "inputs"
	RootOutputs            = "outputs"
	RootSteps              = "steps"
	RootWorkflows          = "workflows"
	RootSourceDescriptions = "sourceDescriptions"
	RootComponents         = "components"
)

var roots = map[string]struct{}{
	RootURL: {}, RootMethod: {}, RootStatusCode: {}, RootRequest: {}, RootResponse: {},
	RootInputs: {}, RootOutputs: {}, RootSteps: {}, RootWorkflows: {},
	RootSourceDescriptions: {}, RootComponents: {},
}

// IsRoot reports whether name is a valid context root.
func IsRoot(name string) bool {
	_, ok := roots[name]
	return ok
}

// Context is the execution context of one workflow run. Step entries are added
// or overwritten as steps complete and never removed; inputs are frozen at
// construction. A Context belongs to a single run and is not safe for
// concurrent use.
type Context struct {
	url        string
	method     string
	statusCode any
	request    map[string]any
	response   map[string]any
	inputs     map[string]any
	outputs    map[string]any
	steps      map[string]any
	workflows  map[string]any
	sources    map[string]any
	components map[string]any
}

// NewContext seeds a context with the run inputs and the document's static roots.
// doc may be nil.
func NewContext(inputs map[string]any, doc *schema.Document) *Context {
	c := &Context{
		inputs:     deepCopyMap(inputs),
		steps:      make(map[string]any),
		workflows:  make(map[string]any),
		sources:    make(map[string]any),
		components: make(map[string]any),
	}
	if c.inputs == nil {
		c.inputs = make(map[string]any)
	}
	if doc == nil {
		return c
	}
	for _, sd := range doc.SourceDescriptions {
		c.sources[sd.Name] = map[string]any{
			"name": sd.Name,
			"url":  sd.URL,
			"type": string(sd.Type),
		}
	}
	if doc.Components != nil {
		if m, ok := toGeneric(doc.Components).(map[string]any); ok {
			c.components = m
		}
	}
	return c
}

// Exchange is one request/response pair produced by an operation call.
type Exchange struct {
	URL             string
	Method          string
	StatusCode      int
	RequestHeaders  map[string]string
	Query           map[string]string
	PathParams      map[string]any
	RequestBody     any
	ResponseHeaders map[string]string
	ResponseBody    any
}

// WithExchange returns a view of c whose url, method, statusCode, request and
// response roots describe ex. The view shares step, workflow and input state
// with c, so outputs recorded through it land in the run context.
func (c *Context) WithExchange(ex Exchange) *Context {
	view := *c
	view.url = ex.URL
	view.method = ex.Method
	view.statusCode = ex.StatusCode
	view.request = map[string]any{
		"headers": stringMap(ex.RequestHeaders),
		"query":   stringMap(ex.Query),
		"path":    deepCopyMap(ex.PathParams),
		"body":    ex.RequestBody,
	}
	view.response = map[string]any{
		"headers": stringMap(ex.ResponseHeaders),
		"body":    ex.ResponseBody,
	}
	return &view
}

// WithOutputs returns a view of c whose $outputs root is outputs.
func (c *Context) WithOutputs(outputs map[string]any) *Context {
	view := *c
	view.outputs = outputs
	return &view
}

// Root returns the value of a root and whether the root name is known.
// A known root that has no value yet returns (nil, true).
func (c *Context) Root(name string) (any, bool) {
	switch name {
	case RootURL:
		return nonEmpty(c.url), true
	case RootMethod:
		return nonEmpty(c.method), true
	case RootStatusCode:
		return c.statusCode, true
	case RootRequest:
		return nilIfEmpty(c.request), true
	case RootResponse:
		return nilIfEmpty(c.response), true
	case RootInputs:
		return c.inputs, true
	case RootOutputs:
		return nilIfEmpty(c.outputs), true
	case RootSteps:
		return c.steps, true
	case RootWorkflows:
		return c.workflows, true
	case RootSourceDescriptions:
		return c.sources, true
	case RootComponents:
		return c.components, true
	default:
		return nil, false
	}
}

// SetStepOutputs records a step's outputs, replacing any earlier entry for stepID.
func (c *Context) SetStepOutputs(stepID string, outputs map[string]any) {
	cp := deepCopyMap(outputs)
	if cp == nil {
		cp = make(map[string]any)
	}
	c.steps[stepID] = map[string]any{"outputs": cp}
}

// StepOutputs returns a copy of the recorded outputs of stepID.
func (c *Context) StepOutputs(stepID string) (map[string]any, bool) {
	entry, ok := c.steps[stepID].(map[string]any)
	if !ok {
		return nil, false
	}
	out, _ := entry["outputs"].(map[string]any)
	return deepCopyMap(out), true
}

// Steps returns a snapshot of every recorded step's outputs keyed by step ID.
func (c *Context) Steps() map[string]map[string]any {
	snap := make(map[string]map[string]any, len(c.steps))
	for id := range c.steps {
		out, _ := c.StepOutputs(id)
		snap[id] = out
	}
	return snap
}

// SetWorkflowOutputs records the outputs of a nested workflow run.
func (c *Context) SetWorkflowOutputs(workflowID string, outputs map[string]any) {
	c.workflows[workflowID] = map[string]any{"outputs": deepCopyMap(outputs)}
}

// Inputs returns a copy of the run inputs.
func (c *Context) Inputs() map[string]any {
	return deepCopyMap(c.inputs)
}

// Tree returns the whole context as a generic document keyed by root name.
// Roots without a value are omitted.
func (c *Context) Tree() map[string]any {
	tree := make(map[string]any, len(roots))
	for name := range roots {
		if v, _ := c.Root(name); v != nil {
			tree[name] = v
		}
	}
	return tree
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfEmpty(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

func stringMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// toGeneric converts a typed value into map[string]any / []any form through JSON.
func toGeneric(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// lookupFold finds key in m ignoring ASCII case.
func lookupFold(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies maps and slices; scalars are returned as is.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case map[string]string:
		cp := make(map[string]string, len(val))
		for k, s := range val {
			cp[k] = s
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
