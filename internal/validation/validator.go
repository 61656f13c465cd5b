// Package validation checks workflow documents before execution and run
// inputs against each workflow's inputs schema.
package validation

import (
	"maps"
	"sync"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// Validator checks documents and run inputs.
type Validator interface {
	Validate(doc *schema.Document) *schema.ValidationResult
	ValidateInputs(wf *schema.Workflow, inputs map[string]any) (map[string]any, error)
}

// loadSchemas compiles the embedded document schema once per process.
var loadSchemas = sync.OnceValues(newSchemaSet)

// DocumentValidator runs the validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (identifiers, step targets, references)
// 3. Flow (nested call cycles, step reachability)
type DocumentValidator struct{}

var _ Validator = (*DocumentValidator)(nil)

// NewDocumentValidator creates a DocumentValidator. It is safe for concurrent use.
func NewDocumentValidator() *DocumentValidator {
	return &DocumentValidator{}
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the later stages.
func (v *DocumentValidator) Validate(doc *schema.Document) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if doc == nil {
		result.AddError("/", schema.ErrCodeValidation, "document is nil")
		return result
	}

	schemas, err := loadSchemas()
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	result.Merge(schemas.validateDocument(doc))
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(doc))

	// Graph checks assume references resolve.
	if result.Valid() {
		result.Merge(validateFlow(doc))
	}
	return result
}

// ValidateInputs applies the defaults declared under the workflow's inputs
// properties and checks the result against its inputs schema. The caller's
// map is not modified.
func (v *DocumentValidator) ValidateInputs(wf *schema.Workflow, inputs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(inputs))
	maps.Copy(out, inputs)
	if wf == nil || len(wf.Inputs) == 0 {
		return out, nil
	}

	applyDefaults(wf.Inputs, out)

	schemas, err := loadSchemas()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	compiled, err := schemas.inputSchema(wf.Inputs)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid inputs schema for workflow %q", wf.WorkflowID).
			WithCause(err)
	}

	doc, err := toJSONValue(out)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to serialize inputs").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		result := &schema.ValidationResult{}
		addViolations(result, err)
		werr := result.ToError().(*schema.WrkfloError)
		werr.Message = "invalid inputs for workflow " + wf.WorkflowID + ": " + werr.Message
		return nil, werr
	}
	return out, nil
}

// applyDefaults fills top-level properties missing from inputs with their
// declared default.
func applyDefaults(inputsSchema map[string]any, inputs map[string]any) {
	props, ok := inputsSchema["properties"].(map[string]any)
	if !ok {
		return
	}
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if _, set := inputs[name]; set {
			continue
		}
		if def, ok := prop["default"]; ok {
			inputs[name] = def
		}
	}
}
